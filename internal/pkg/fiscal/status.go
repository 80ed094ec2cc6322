package fiscal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ManuelReschke/FiscalFox/app/models"
)

// ParseProviderStatus maps a raw provider status onto the local state set.
// Unknown values become provider_defined; the raw value is kept separately.
func ParseProviderStatus(raw string) models.FiscalStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "processando_autorizacao", "processing":
		return models.FiscalStatusProcessing
	case "autorizado", "authorized":
		return models.FiscalStatusAuthorized
	case "erro_autorizacao", "rejected":
		return models.FiscalStatusRejected
	case "denegado", "denied":
		return models.FiscalStatusDenied
	case "error":
		return models.FiscalStatusError
	default:
		return models.FiscalStatusProviderDefined
	}
}

// providerFields are the document attributes read from provider bodies.
type providerFields struct {
	Ref     string
	Status  string
	Numero  *string
	Serie   *string
	Chave   *string
	XMLPath *string
	PDFPath *string
}

// parseProviderFields extracts known attributes from a JSON object. Numbers
// are accepted as well as strings since the provider is not consistent.
func parseProviderFields(body []byte) (*providerFields, error) {
	var raw map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("body is not a JSON object")
	}

	f := &providerFields{
		Ref:     deref(firstString(raw, "ref", "referencia")),
		Status:  deref(firstString(raw, "status")),
		Numero:  firstString(raw, "numero"),
		Serie:   firstString(raw, "serie"),
		Chave:   firstString(raw, "chave_nfe", "chave"),
		XMLPath: firstString(raw, "caminho_xml_nota_fiscal", "caminho_xml"),
		PDFPath: firstString(raw, "caminho_danfe", "caminho_pdf", "url"),
	}
	return f, nil
}

// providerStatusOf returns the status field of a body, or "" when the body is
// not JSON or carries none.
func providerStatusOf(body []byte) string {
	f, err := parseProviderFields(body)
	if err != nil {
		return ""
	}
	return f.Status
}

func firstString(raw map[string]interface{}, keys ...string) *string {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case json.Number:
			s = t.String()
		default:
			continue
		}
		s = strings.TrimSpace(s)
		if s != "" {
			return &s
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
