package fiscal

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/ManuelReschke/FiscalFox/app/models"
)

const maxProviderBody = 4 << 20

// ProviderResponse is the raw answer of the provider.
type ProviderResponse struct {
	HTTPStatus int
	Body       []byte
}

// OK reports a 2xx answer.
func (r *ProviderResponse) OK() bool {
	return r != nil && r.HTTPStatus >= 200 && r.HTTPStatus < 300
}

// Provider is the outbound contract with the document authorization service.
// A returned error always means the request did not complete (transport
// failure, timeout); non-2xx answers are returned as responses.
type Provider interface {
	Submit(ctx context.Context, integ *models.FiscalIntegration, docType, ref string, payload []byte) (*ProviderResponse, error)
	Status(ctx context.Context, integ *models.FiscalIntegration, docType, ref string, complete bool) (*ProviderResponse, error)
}

// HTTPProvider talks to a Focus NFe compatible REST API.
type HTTPProvider struct {
	cfg        *Config
	HTTPClient *http.Client
}

func NewHTTPProvider(cfg *Config) *HTTPProvider {
	return &HTTPProvider{
		cfg: cfg,
		HTTPClient: &http.Client{
			Timeout: cfg.ProviderTimeout,
		},
	}
}

// Submit posts payload to {base}/{doc_type}?ref={ref}.
func (p *HTTPProvider) Submit(ctx context.Context, integ *models.FiscalIntegration, docType, ref string, payload []byte) (*ProviderResponse, error) {
	u, err := url.Parse(fmt.Sprintf("%s/%s", p.cfg.BaseURL(integ.Environment), docType))
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("ref", ref)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return p.do(req, integ.APIToken)
}

// Status fetches {base}/{doc_type}/{ref}?completa=1|0.
func (p *HTTPProvider) Status(ctx context.Context, integ *models.FiscalIntegration, docType, ref string, complete bool) (*ProviderResponse, error) {
	u, err := url.Parse(fmt.Sprintf("%s/%s/%s", p.cfg.BaseURL(integ.Environment), docType, url.PathEscape(ref)))
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if complete {
		q.Set("completa", "1")
	} else {
		q.Set("completa", "0")
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return p.do(req, integ.APIToken)
}

func (p *HTTPProvider) do(req *http.Request, token string) (*ProviderResponse, error) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(token+":")))

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderBody))
	if err != nil {
		return nil, err
	}
	return &ProviderResponse{HTTPStatus: resp.StatusCode, Body: body}, nil
}
