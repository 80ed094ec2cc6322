package fiscal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/FiscalFox/app/models"
	"github.com/ManuelReschke/FiscalFox/app/repository"
	"github.com/ManuelReschke/FiscalFox/internal/pkg/cache"
)

// Notes recorded on events whose observation did not change the document.
const (
	NoteTransitionNotAllowed = "transition_not_allowed"
	NoteStaleObservation     = "stale_observation"
	NoteUnchanged            = "unchanged"
	NoteNoStatus             = "no_status"
	NoteProviderError        = "provider_error"
	NoteTransportError       = "transport_error"
)

// StatusPoller schedules a later status check of a document.
type StatusPoller interface {
	EnqueueStatusCheck(ctx context.Context, documentID uint) error
}

// IssueRequest is one document submission.
type IssueRequest struct {
	TenantID string          `json:"tenant_id"`
	DocType  string          `json:"doc_type"`
	Payload  json.RawMessage `json:"payload"`
	Ref      string          `json:"ref,omitempty"`
}

// IssueResult is returned by Issue, also alongside provider and transport errors.
type IssueResult struct {
	FiscalDocumentID uint                `json:"fiscal_document_id"`
	Ref              string              `json:"ref"`
	Status           models.FiscalStatus `json:"status"`
	HTTPStatus       int                 `json:"http_status"`
	ProviderResponse json.RawMessage     `json:"provider_response"`
}

// CheckResult is returned by CheckStatus.
type CheckResult struct {
	Document         *models.FiscalDocument `json:"document"`
	HTTPStatus       int                    `json:"http_status"`
	ProviderResponse json.RawMessage        `json:"provider_response"`
	Applied          bool                   `json:"applied"`
}

// Service runs document submission and reconciliation.
type Service struct {
	cfg          *Config
	integrations repository.IntegrationRepository
	documents    repository.FiscalDocumentRepository
	events       repository.FiscalEventRepository
	provider     Provider
	locker       cache.Locker
	poller       StatusPoller
	now          func() time.Time
}

// NewService wires the pipeline. Locking is disabled until SetLocker is called.
func NewService(cfg *Config, repos *repository.Repositories, provider Provider) *Service {
	return &Service{
		cfg:          cfg,
		integrations: repos.Integration,
		documents:    repos.Document,
		events:       repos.Event,
		provider:     provider,
		locker:       cache.NoopLocker{},
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetLocker sets the per-document lock used during reconciliation.
func (s *Service) SetLocker(l cache.Locker) {
	if l == nil {
		l = cache.NoopLocker{}
	}
	s.locker = l
}

// SetPoller enables follow-up status checks for documents left in processing.
func (s *Service) SetPoller(p StatusPoller) {
	s.poller = p
}

// Issue validates and stores a document, then submits it to the provider. The
// local row is written before the provider is called, so every outcome leaves
// a document behind.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	const op = "fiscal.Issue"

	tenantID := strings.TrimSpace(req.TenantID)
	docType := strings.ToLower(strings.TrimSpace(req.DocType))
	if !isUUID(tenantID) {
		return nil, ValidationError(op, "tenant_id must be a UUID")
	}
	if !models.IsFiscalDocType(docType) {
		return nil, ValidationError(op, "doc_type must be one of nfe, nfce, nfse")
	}
	if !isJSONObject(req.Payload) {
		return nil, ValidationError(op, "payload must be a non-empty JSON object")
	}
	ref := strings.TrimSpace(req.Ref)
	if len(ref) > models.MaxFiscalRefLength {
		return nil, ValidationError(op, fmt.Sprintf("ref must not exceed %d characters", models.MaxFiscalRefLength))
	}

	integ, err := s.usableIntegration(ctx, op, tenantID)
	if err != nil {
		return nil, err
	}
	if docType == models.FiscalDocTypeNFSe && !integ.HasCompany() {
		return nil, ConfigurationError(op, "nfse requires a provisioned provider company")
	}

	if ref == "" {
		ref = newRef(docType)
	}

	doc := &models.FiscalDocument{
		TenantID: tenantID,
		Provider: integ.Provider,
		DocType:  docType,
		Ref:      ref,
		Status:   models.FiscalStatusSubmitted,
		Payload:  datatypes.JSON(req.Payload),
	}
	if err := s.documents.Create(ctx, doc); err != nil {
		if errors.Is(err, repository.ErrDuplicateRef) {
			return nil, &Error{Kind: KindConflict, Op: op, Message: fmt.Sprintf("ref %q already exists", ref), Err: err}
		}
		return nil, PersistenceError(op, err)
	}

	result := &IssueResult{FiscalDocumentID: doc.ID, Ref: ref, Status: doc.Status}

	sentAt := s.now()
	resp, callErr := s.provider.Submit(ctx, integ, docType, ref, req.Payload)

	var body []byte
	status := models.FiscalStatusError
	if callErr != nil {
		log.Warnf("[Fiscal] Submission of document %d (%s) failed: %v", doc.ID, ref, callErr)
		body = transportErrorBody(callErr)
	} else {
		result.HTTPStatus = resp.HTTPStatus
		body = resp.Body
		if resp.OK() {
			status = models.FiscalStatusProcessing
		}
	}
	result.ProviderResponse = asRawJSON(body)

	bodyStr := string(body)
	httpStatus := result.HTTPStatus
	applied, err := s.documents.ApplyPatch(ctx, doc.ID, repository.DocumentPatch{
		Status:           status,
		ProviderStatus:   providerStatusOf(body),
		HTTPStatus:       &httpStatus,
		ProviderResponse: &bodyStr,
		ObservedAt:       sentAt,
	})
	if err != nil {
		log.Errorf("[Fiscal] Failed to store submission result of document %d: %v", doc.ID, err)
		pe := PersistenceError(op, err)
		pe.DocumentID = doc.ID
		return result, pe
	}

	note := ""
	if applied {
		result.Status = status
	} else {
		// A webhook or poll recorded a newer state while the request was in flight.
		note = NoteStaleObservation
		if err := s.documents.RecordProviderResponse(ctx, doc.ID, httpStatus, bodyStr); err != nil {
			log.Errorf("[Fiscal] Failed to store provider response of document %d: %v", doc.ID, err)
		}
		if current, err := s.documents.GetByID(ctx, doc.ID); err == nil {
			result.Status = current.Status
		}
	}

	if err := s.appendEvent(ctx, doc, models.FiscalEventSubmission, string(status), httpStatus, req.Payload, bodyStr, applied, note); err != nil {
		pe := PersistenceError(op, err)
		pe.DocumentID = doc.ID
		return result, pe
	}

	log.Infof("[Fiscal] Document %d (%s %s) submitted: http=%d status=%s", doc.ID, docType, ref, httpStatus, result.Status)

	if result.Status == models.FiscalStatusProcessing {
		s.schedulePoll(ctx, doc.ID)
	}

	switch {
	case callErr != nil:
		return result, &Error{Kind: KindTransport, Op: op, Message: "provider unreachable", DocumentID: doc.ID, Err: callErr}
	case !resp.OK():
		return result, &Error{Kind: KindProvider, Op: op, Message: fmt.Sprintf("provider rejected submission with HTTP %d", resp.HTTPStatus), DocumentID: doc.ID, HTTPStatus: resp.HTTPStatus}
	}
	return result, nil
}

// CheckStatus polls the provider for the current state of a document. When
// tenantID is non-empty the document must belong to it.
func (s *Service) CheckStatus(ctx context.Context, tenantID string, documentID uint, complete bool) (*CheckResult, error) {
	const op = "fiscal.CheckStatus"

	doc, err := s.loadDocument(ctx, op, documentID)
	if err != nil {
		return nil, err
	}
	if t := strings.TrimSpace(tenantID); t != "" && t != doc.TenantID {
		return nil, NotFoundError(op, "fiscal document not found")
	}

	integ, err := s.usableIntegration(ctx, op, doc.TenantID)
	if err != nil {
		var fe *Error
		if errors.As(err, &fe) {
			fe.DocumentID = doc.ID
		}
		return nil, err
	}

	observedAt := s.now()
	resp, callErr := s.provider.Status(ctx, integ, doc.DocType, doc.Ref, complete)
	if callErr != nil {
		log.Warnf("[Fiscal] Status check of document %d failed: %v", doc.ID, callErr)
		body := transportErrorBody(callErr)
		if err := s.appendEvent(ctx, doc, models.FiscalEventStatusCheck, "", 0, nil, string(body), false, NoteTransportError); err != nil {
			log.Errorf("[Fiscal] Failed to record status check of document %d: %v", doc.ID, err)
		}
		return nil, &Error{Kind: KindTransport, Op: op, Message: "provider unreachable", DocumentID: doc.ID, Err: callErr}
	}

	result := &CheckResult{HTTPStatus: resp.HTTPStatus, ProviderResponse: asRawJSON(resp.Body)}
	bodyStr := string(resp.Body)

	var (
		applied   bool
		note      string
		rawStatus string
	)
	if !resp.OK() {
		note = NoteProviderError
		if err := s.documents.RecordProviderResponse(ctx, doc.ID, resp.HTTPStatus, bodyStr); err != nil {
			pe := PersistenceError(op, err)
			pe.DocumentID = doc.ID
			return nil, pe
		}
	} else {
		fields, perr := parseProviderFields(resp.Body)
		if perr != nil {
			fields = &providerFields{}
		}
		rawStatus = fields.Status
		httpStatus := resp.HTTPStatus
		applied, note, err = s.reconcile(ctx, doc.ID, fields, &httpStatus, &bodyStr, observedAt)
		if err != nil {
			pe := PersistenceError(op, err)
			pe.DocumentID = doc.ID
			return nil, pe
		}
		if !applied {
			if err := s.documents.RecordProviderResponse(ctx, doc.ID, resp.HTTPStatus, bodyStr); err != nil {
				log.Errorf("[Fiscal] Failed to store provider response of document %d: %v", doc.ID, err)
			}
		}
	}

	if err := s.appendEvent(ctx, doc, models.FiscalEventStatusCheck, rawStatus, resp.HTTPStatus, nil, bodyStr, applied, note); err != nil {
		pe := PersistenceError(op, err)
		pe.DocumentID = doc.ID
		return nil, pe
	}

	fresh, err := s.documents.GetByID(ctx, doc.ID)
	if err != nil {
		pe := PersistenceError(op, err)
		pe.DocumentID = doc.ID
		return nil, pe
	}
	result.Document = fresh
	result.Applied = applied

	return result, nil
}

// Document returns a stored document.
func (s *Service) Document(ctx context.Context, documentID uint) (*models.FiscalDocument, error) {
	return s.loadDocument(ctx, "fiscal.Document", documentID)
}

// Events lists the audit trail of a document, oldest first.
func (s *Service) Events(ctx context.Context, documentID uint) ([]models.FiscalDocumentEvent, error) {
	const op = "fiscal.Events"
	if _, err := s.loadDocument(ctx, op, documentID); err != nil {
		return nil, err
	}
	events, err := s.events.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, PersistenceError(op, err)
	}
	return events, nil
}

// PendingDocuments returns documents still waiting for an outcome that were
// not touched for at least olderThan.
func (s *Service) PendingDocuments(ctx context.Context, olderThan time.Duration, limit int) ([]models.FiscalDocument, error) {
	docs, err := s.documents.ListPending(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return nil, PersistenceError("fiscal.PendingDocuments", err)
	}
	return docs, nil
}

// reconcile applies a provider observation to a document under the document
// lock. It returns whether the document changed and otherwise why not.
func (s *Service) reconcile(ctx context.Context, documentID uint, fields *providerFields, httpStatus *int, body *string, observedAt time.Time) (bool, string, error) {
	release := s.lock(ctx, documentID)
	defer release()

	current, err := s.documents.GetByID(ctx, documentID)
	if err != nil {
		return false, "", err
	}

	patch := repository.DocumentPatch{
		HTTPStatus:       httpStatus,
		ProviderResponse: body,
		Numero:           fields.Numero,
		Serie:            fields.Serie,
		Chave:            fields.Chave,
		XMLPath:          fields.XMLPath,
		PDFPath:          fields.PDFPath,
		ObservedAt:       observedAt,
	}

	if fields.Status != "" {
		next := ParseProviderStatus(fields.Status)
		if !models.CanTransition(current.Status, next) {
			log.Warnf("[Fiscal] Ignoring transition %s -> %s for document %d", current.Status, next, documentID)
			return false, NoteTransitionNotAllowed, nil
		}
		patch.Status = next
		patch.ProviderStatus = fields.Status
	}

	applied, err := s.documents.ApplyPatch(ctx, documentID, patch)
	if err != nil {
		return false, "", err
	}
	if !applied {
		log.Infof("[Fiscal] Stale observation for document %d ignored", documentID)
		return false, NoteStaleObservation, nil
	}
	if fields.Status == "" {
		return true, NoteNoStatus, nil
	}
	return true, "", nil
}

// lock takes the per-document lock. Failing to get it is not fatal: the
// observation guard in the repository still orders concurrent writers.
func (s *Service) lock(ctx context.Context, documentID uint) cache.ReleaseFunc {
	key := fmt.Sprintf("fiscal:doc:%d", documentID)
	release, err := s.locker.Lock(ctx, key)
	if err != nil {
		if errors.Is(err, cache.ErrLockBusy) {
			log.Infof("[Fiscal] Lock %s busy, proceeding without lock", key)
		} else {
			log.Warnf("[Fiscal] Lock %s unavailable, proceeding without lock: %v", key, err)
		}
		return func() {}
	}
	return release
}

func (s *Service) schedulePoll(ctx context.Context, documentID uint) {
	if s.poller == nil || s.cfg == nil || !s.cfg.AutoPoll {
		return
	}
	if err := s.poller.EnqueueStatusCheck(ctx, documentID); err != nil {
		log.Warnf("[Fiscal] Failed to schedule status check for document %d: %v", documentID, err)
	}
}

func (s *Service) usableIntegration(ctx context.Context, op, tenantID string) (*models.FiscalIntegration, error) {
	integ, err := s.integrations.GetByTenant(ctx, tenantID, models.FiscalProviderFocusNFe)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ConfigurationError(op, "fiscal integration not configured")
	}
	if err != nil {
		return nil, PersistenceError(op, err)
	}
	if !integ.Usable() {
		return nil, ConfigurationError(op, "fiscal integration is disabled or has no api token")
	}
	return integ, nil
}

func (s *Service) loadDocument(ctx context.Context, op string, documentID uint) (*models.FiscalDocument, error) {
	if documentID == 0 {
		return nil, ValidationError(op, "fiscal_document_id is required")
	}
	doc, err := s.documents.GetByID(ctx, documentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFoundError(op, "fiscal document not found")
	}
	if err != nil {
		return nil, PersistenceError(op, err)
	}
	return doc, nil
}

func (s *Service) appendEvent(ctx context.Context, doc *models.FiscalDocument, eventType, eventStatus string, httpStatus int, data []byte, providerResponse string, applied bool, note string) error {
	event := &models.FiscalDocumentEvent{
		FiscalDocumentID: doc.ID,
		TenantID:         doc.TenantID,
		EventType:        eventType,
		EventStatus:      eventStatus,
		HTTPStatus:       httpStatus,
		ProviderResponse: providerResponse,
		Applied:          applied,
		Note:             note,
	}
	if len(data) > 0 && json.Valid(data) {
		event.EventData = datatypes.JSON(data)
	}
	if err := s.events.Append(ctx, event); err != nil {
		log.Errorf("[Fiscal] Failed to append %s event for document %d: %v", eventType, doc.ID, err)
		return err
	}
	return nil
}

func newRef(docType string) string {
	return docType + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}

func isJSONObject(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) < 2 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return false
	}
	return len(obj) > 0
}

func transportErrorBody(err error) []byte {
	body, _ := json.Marshal(map[string]string{
		"erro":     "transport_error",
		"mensagem": err.Error(),
	})
	return body
}

// asRawJSON returns body unchanged when it is JSON, otherwise as a JSON string.
func asRawJSON(body []byte) json.RawMessage {
	if len(bytes.TrimSpace(body)) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}
