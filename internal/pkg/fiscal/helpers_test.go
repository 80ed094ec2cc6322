package fiscal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/FiscalFox/app/models"
	"github.com/ManuelReschke/FiscalFox/app/repository"
	"github.com/ManuelReschke/FiscalFox/internal/pkg/testutil"
)

const testTenant = "3d6f8a1e-2b4c-4e5f-9a0b-1c2d3e4f5a6b"

type providerCall struct {
	Method   string
	DocType  string
	Ref      string
	Payload  []byte
	Complete bool
	Token    string
}

// fakeProvider returns canned answers and records calls.
type fakeProvider struct {
	mu        sync.Mutex
	calls     []providerCall
	submit    *ProviderResponse
	submitErr error
	status    *ProviderResponse
	statusErr error
}

func (f *fakeProvider) Submit(_ context.Context, integ *models.FiscalIntegration, docType, ref string, payload []byte) (*ProviderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, providerCall{Method: "POST", DocType: docType, Ref: ref, Payload: payload, Token: integ.APIToken})
	return f.submit, f.submitErr
}

func (f *fakeProvider) Status(_ context.Context, integ *models.FiscalIntegration, docType, ref string, complete bool) (*ProviderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, providerCall{Method: "GET", DocType: docType, Ref: ref, Complete: complete, Token: integ.APIToken})
	return f.status, f.statusErr
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakePoller struct {
	mu  sync.Mutex
	ids []uint
}

func (p *fakePoller) EnqueueStatusCheck(_ context.Context, id uint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, id)
	return nil
}

type testEnv struct {
	db       *gorm.DB
	repos    *repository.Repositories
	provider *fakeProvider
	cfg      *Config
	svc      *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.NewTestDB(t)
	repos := repository.NewRepositories(db)
	provider := &fakeProvider{
		submit: &ProviderResponse{HTTPStatus: 202, Body: []byte(`{"status":"processando_autorizacao"}`)},
		status: &ProviderResponse{HTTPStatus: 200, Body: []byte(`{"status":"processando_autorizacao"}`)},
	}
	cfg := &Config{
		SandboxURL:      "http://sandbox.invalid/v2",
		ProductionURL:   "http://production.invalid/v2",
		ProviderTimeout: 5 * time.Second,
	}
	return &testEnv{
		db:       db,
		repos:    repos,
		provider: provider,
		cfg:      cfg,
		svc:      NewService(cfg, repos, provider),
	}
}

func (e *testEnv) configure(t *testing.T, mutate func(*models.FiscalIntegration)) *models.FiscalIntegration {
	t.Helper()
	integ := &models.FiscalIntegration{
		TenantID:    testTenant,
		Provider:    models.FiscalProviderFocusNFe,
		Environment: models.FiscalEnvironmentSandbox,
		APIToken:    "focus-token",
		Enabled:     true,
	}
	if mutate != nil {
		mutate(integ)
	}
	require.NoError(t, e.repos.Integration.Upsert(context.Background(), integ))
	return integ
}

func (e *testEnv) insertDocument(t *testing.T, ref string, status models.FiscalStatus) *models.FiscalDocument {
	t.Helper()
	doc := &models.FiscalDocument{
		TenantID: testTenant,
		Provider: models.FiscalProviderFocusNFe,
		DocType:  models.FiscalDocTypeNFCe,
		Ref:      ref,
		Status:   status,
		Payload:  []byte(`{"valor":"1.00"}`),
	}
	require.NoError(t, e.repos.Document.Create(context.Background(), doc))
	return doc
}

func (e *testEnv) countDocuments(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&models.FiscalDocument{}).Count(&n).Error)
	return n
}

func (e *testEnv) events(t *testing.T, id uint) []models.FiscalDocumentEvent {
	t.Helper()
	events, err := e.repos.Event.ListByDocument(context.Background(), id)
	require.NoError(t, err)
	return events
}

func (e *testEnv) reload(t *testing.T, id uint) *models.FiscalDocument {
	t.Helper()
	doc, err := e.repos.Document.GetByID(context.Background(), id)
	require.NoError(t, err)
	return doc
}

func issuePayload() json.RawMessage {
	return json.RawMessage(`{"natureza_operacao":"Venda","valor_total":"10.00"}`)
}

var errConnRefused = errors.New("dial tcp 127.0.0.1:1: connect: connection refused")
