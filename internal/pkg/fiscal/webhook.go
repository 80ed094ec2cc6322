package fiscal

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/FiscalFox/app/models"
)

// WebhookResult is the answer sent back to the provider.
type WebhookResult struct {
	HTTPStatus int
	Body       map[string]interface{}
}

func webhookOK() *WebhookResult {
	return &WebhookResult{HTTPStatus: http.StatusOK, Body: map[string]interface{}{"success": true}}
}

func webhookFail(status int, category, msg string) *WebhookResult {
	return &WebhookResult{HTTPStatus: status, Body: map[string]interface{}{"error": category, "message": msg}}
}

// VerifyWebhookSignature checks a hex HMAC-SHA256 of payload. A "sha256="
// prefix on the header is accepted.
func VerifyWebhookSignature(payload []byte, signatureHeader, secret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	secret = strings.TrimSpace(secret)
	if sig == "" || secret == "" {
		return false
	}
	sig = strings.TrimPrefix(strings.ToLower(sig), "sha256=")

	expected, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expected)
}

// HandleWebhook applies a provider notification. Notifications for unknown
// refs are acknowledged without creating anything; every notification for a
// known ref is recorded as an event. The returned error is only set for
// storage failures.
func (s *Service) HandleWebhook(ctx context.Context, rawBody []byte, signature string) (*WebhookResult, error) {
	const op = "fiscal.HandleWebhook"

	if s.cfg != nil && s.cfg.WebhookSecret != "" {
		if !VerifyWebhookSignature(rawBody, signature, s.cfg.WebhookSecret) {
			log.Warn("[Fiscal] Webhook rejected: invalid signature")
			return webhookFail(http.StatusUnauthorized, "unauthorized", "invalid webhook signature"), nil
		}
	}

	// The raw body is stored as event data, so it has to be one JSON value.
	if !json.Valid(rawBody) {
		return webhookFail(http.StatusBadRequest, "validation_error", "invalid JSON payload"), nil
	}
	fields, err := parseProviderFields(rawBody)
	if err != nil {
		return webhookFail(http.StatusBadRequest, "validation_error", "invalid JSON payload"), nil
	}
	if fields.Ref == "" {
		return webhookFail(http.StatusBadRequest, "validation_error", "ref is required"), nil
	}

	doc, err := s.documents.GetByRef(ctx, models.FiscalProviderFocusNFe, fields.Ref)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Infof("[Fiscal] Webhook for unknown ref %q acknowledged", fields.Ref)
		return webhookOK(), nil
	}
	if err != nil {
		return nil, PersistenceError(op, err)
	}

	observedAt := s.now()
	applied := false
	note := NoteNoStatus
	if fields.Status != "" {
		next := ParseProviderStatus(fields.Status)
		changed := next != doc.Status || (next == models.FiscalStatusProviderDefined && fields.Status != doc.ProviderStatus)
		if changed {
			applied, note, err = s.reconcile(ctx, doc.ID, fields, nil, nil, observedAt)
			if err != nil {
				pe := PersistenceError(op, err)
				pe.DocumentID = doc.ID
				return nil, pe
			}
		} else {
			note = NoteUnchanged
		}
	}

	if err := s.appendEvent(ctx, doc, models.FiscalEventWebhook, fields.Status, 0, rawBody, "", applied, note); err != nil {
		pe := PersistenceError(op, err)
		pe.DocumentID = doc.ID
		return nil, pe
	}

	log.Infof("[Fiscal] Webhook for document %d (%s): status=%q applied=%t", doc.ID, doc.Ref, fields.Status, applied)
	return webhookOK(), nil
}
