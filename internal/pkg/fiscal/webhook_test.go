package fiscal

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/FiscalFox/app/models"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"ref":"x"}`)
	valid := sign("whsec", body)

	tests := []struct {
		name   string
		header string
		secret string
		want   bool
	}{
		{"valid", valid, "whsec", true},
		{"valid with prefix", "sha256=" + valid, "whsec", true},
		{"uppercase hex", "SHA256=" + hexUpper(valid), "whsec", true},
		{"wrong secret", valid, "other", false},
		{"missing header", "", "whsec", false},
		{"not hex", "zz", "whsec", false},
		{"no secret", valid, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifyWebhookSignature(body, tt.header, tt.secret))
		})
	}
}

func hexUpper(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'a' && c <= 'f' {
			out[i] = c - 32
		}
	}
	return string(out)
}

func TestHandleWebhook_UnknownRefIsAcknowledged(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.svc.HandleWebhook(context.Background(), []byte(`{"ref":"never-issued","status":"autorizado"}`), "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.HTTPStatus)
	assert.Equal(t, true, res.Body["success"])
	assert.Equal(t, int64(0), env.countDocuments(t))

	var events int64
	require.NoError(t, env.db.Model(&models.FiscalDocumentEvent{}).Count(&events).Error)
	assert.Equal(t, int64(0), events)
}

func TestHandleWebhook_AuthorizesDocument(t *testing.T) {
	env := newTestEnv(t)
	doc := env.insertDocument(t, "x", models.FiscalStatusProcessing)

	res, err := env.svc.HandleWebhook(context.Background(), []byte(`{"ref":"x","status":"authorized","chave":"123"}`), "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.HTTPStatus)

	stored := env.reload(t, doc.ID)
	assert.Equal(t, models.FiscalStatusAuthorized, stored.Status)
	require.NotNil(t, stored.Chave)
	assert.Equal(t, "123", *stored.Chave)

	events := env.events(t, doc.ID)
	require.Len(t, events, 1)
	assert.Equal(t, models.FiscalEventWebhook, events[0].EventType)
	assert.True(t, events[0].Applied)
	assert.JSONEq(t, `{"ref":"x","status":"authorized","chave":"123"}`, string(events[0].EventData))
}

func TestHandleWebhook_RedeliveryAppendsEventOnly(t *testing.T) {
	env := newTestEnv(t)
	doc := env.insertDocument(t, "redeliver", models.FiscalStatusProcessing)
	body := []byte(`{"ref":"redeliver","status":"autorizado","numero":"77"}`)

	for i := 0; i < 2; i++ {
		res, err := env.svc.HandleWebhook(context.Background(), body, "")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, res.HTTPStatus)
	}

	stored := env.reload(t, doc.ID)
	assert.Equal(t, models.FiscalStatusAuthorized, stored.Status)

	events := env.events(t, doc.ID)
	require.Len(t, events, 2)
	assert.True(t, events[0].Applied)
	assert.False(t, events[1].Applied)
	assert.Equal(t, NoteUnchanged, events[1].Note)
}

func TestHandleWebhook_Signature(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.WebhookSecret = "whsec"
	doc := env.insertDocument(t, "signed", models.FiscalStatusProcessing)
	body := []byte(`{"ref":"signed","status":"autorizado"}`)

	res, err := env.svc.HandleWebhook(context.Background(), body, sign("wrong", body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, res.HTTPStatus)

	res, err = env.svc.HandleWebhook(context.Background(), body, "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, res.HTTPStatus)
	assert.Equal(t, models.FiscalStatusProcessing, env.reload(t, doc.ID).Status)
	assert.Empty(t, env.events(t, doc.ID))

	res, err = env.svc.HandleWebhook(context.Background(), body, "sha256="+sign("whsec", body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.HTTPStatus)
	assert.Equal(t, models.FiscalStatusAuthorized, env.reload(t, doc.ID).Status)
}

func TestHandleWebhook_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.svc.HandleWebhook(context.Background(), []byte(`{not json`), "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.HTTPStatus)

	res, err = env.svc.HandleWebhook(context.Background(), []byte(`{"status":"autorizado"}`), "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.HTTPStatus)
	assert.Equal(t, "validation_error", res.Body["error"])
}

func TestHandleWebhook_TrailingDataIsRejected(t *testing.T) {
	env := newTestEnv(t)
	doc := env.insertDocument(t, "g-1", models.FiscalStatusProcessing)

	for _, body := range []string{
		`{"ref":"g-1","status":"autorizado"}}}garbage not json`,
		`{"ref":"g-1","status":"autorizado"} {"ref":"g-1"}`,
	} {
		res, err := env.svc.HandleWebhook(context.Background(), []byte(body), "")
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, res.HTTPStatus, body)
		assert.Equal(t, "validation_error", res.Body["error"])
	}

	assert.Equal(t, models.FiscalStatusProcessing, env.reload(t, doc.ID).Status)
	assert.Empty(t, env.events(t, doc.ID))
}

func TestHandleWebhook_WithoutStatusRecordsEvent(t *testing.T) {
	env := newTestEnv(t)
	doc := env.insertDocument(t, "nostatus", models.FiscalStatusProcessing)

	_, err := env.svc.HandleWebhook(context.Background(), []byte(`{"ref":"nostatus","numero":"5"}`), "")
	require.NoError(t, err)

	stored := env.reload(t, doc.ID)
	assert.Equal(t, models.FiscalStatusProcessing, stored.Status)
	assert.Nil(t, stored.Numero)

	events := env.events(t, doc.ID)
	require.Len(t, events, 1)
	assert.Equal(t, NoteNoStatus, events[0].Note)
}

func TestHandleWebhook_StaleObservationIgnored(t *testing.T) {
	env := newTestEnv(t)
	doc := env.insertDocument(t, "stale", models.FiscalStatusProcessing)

	future := time.Now().UTC().Add(time.Hour)
	require.NoError(t, env.db.Model(&models.FiscalDocument{}).
		Where("id = ?", doc.ID).
		Update("status_observed_at", future).Error)

	_, err := env.svc.HandleWebhook(context.Background(), []byte(`{"ref":"stale","status":"autorizado"}`), "")
	require.NoError(t, err)

	assert.Equal(t, models.FiscalStatusProcessing, env.reload(t, doc.ID).Status)
	events := env.events(t, doc.ID)
	require.Len(t, events, 1)
	assert.Equal(t, NoteStaleObservation, events[0].Note)
}

func TestHandleWebhook_DeniedIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	doc := env.insertDocument(t, "denied", models.FiscalStatusDenied)

	_, err := env.svc.HandleWebhook(context.Background(), []byte(`{"ref":"denied","status":"autorizado"}`), "")
	require.NoError(t, err)

	assert.Equal(t, models.FiscalStatusDenied, env.reload(t, doc.ID).Status)
	events := env.events(t, doc.ID)
	require.Len(t, events, 1)
	assert.Equal(t, NoteTransitionNotAllowed, events[0].Note)
}

func TestHandleWebhook_ProviderDefinedStatusKeepsRawValue(t *testing.T) {
	env := newTestEnv(t)
	doc := env.insertDocument(t, "cancel", models.FiscalStatusAuthorized)

	_, err := env.svc.HandleWebhook(context.Background(), []byte(`{"ref":"cancel","status":"cancelado"}`), "")
	require.NoError(t, err)

	stored := env.reload(t, doc.ID)
	assert.Equal(t, models.FiscalStatusProviderDefined, stored.Status)
	assert.Equal(t, "cancelado", stored.ProviderStatus)
}
