package controllers

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/FiscalFox/app/models"
	"github.com/ManuelReschke/FiscalFox/internal/pkg/fiscal"
	"github.com/ManuelReschke/FiscalFox/internal/pkg/statistics"
	"github.com/ManuelReschke/FiscalFox/internal/pkg/vault"
)

// ============================================================================
// FISCAL CONTROLLER
// ============================================================================

// FiscalController exposes issuance, reconciliation and credential endpoints.
type FiscalController struct {
	documents    *fiscal.Service
	integrations *fiscal.Registry
	vault        *vault.Service
	stats        *statistics.Service
}

// NewFiscalController creates a new fiscal controller
func NewFiscalController(documents *fiscal.Service, integrations *fiscal.Registry, v *vault.Service, stats *statistics.Service) *FiscalController {
	return &FiscalController{
		documents:    documents,
		integrations: integrations,
		vault:        v,
		stats:        stats,
	}
}

// HandleIssue accepts a document, stores it and submits it to the provider.
func (fc *FiscalController) HandleIssue(c *fiber.Ctx) error {
	var req fiscal.IssueRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Request body must be a JSON object")
	}

	result, err := fc.documents.Issue(c.UserContext(), req)
	if err != nil {
		status, body := errorResponse(err)
		if result != nil && result.FiscalDocumentID != 0 {
			body["ref"] = result.Ref
			body["status"] = result.Status
			body["http_status"] = result.HTTPStatus
			body["provider_response"] = result.ProviderResponse
		}
		return c.Status(status).JSON(body)
	}

	if fc.stats != nil {
		tenantID := strings.TrimSpace(req.TenantID)
		if err := fc.stats.Invalidate(c.UserContext(), tenantID); err != nil {
			log.Warnf("[FiscalController] Failed to invalidate statistics for tenant %s: %v", tenantID, err)
		}
	}

	return c.Status(fiber.StatusOK).JSON(result)
}

// HandleStatus polls the provider and reconciles the local record.
func (fc *FiscalController) HandleStatus(c *fiber.Ctx) error {
	id, ok := documentIDParam(c)
	if !ok {
		return badRequest(c, "fiscal_document_id must be a positive integer")
	}

	result, err := fc.documents.CheckStatus(c.UserContext(), c.Query("tenant_id"), id, queryFlag(c.Query("completa")))
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

// HandleDocument returns the stored record without contacting the provider.
func (fc *FiscalController) HandleDocument(c *fiber.Ctx) error {
	id, ok := documentIDParam(c)
	if !ok {
		return badRequest(c, "fiscal_document_id must be a positive integer")
	}

	doc, err := fc.documents.Document(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	if tenant := strings.TrimSpace(c.Query("tenant_id")); tenant != "" && tenant != doc.TenantID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Fiscal document not found"})
	}
	return c.JSON(doc)
}

// HandleStats returns the per-tenant document counters.
func (fc *FiscalController) HandleStats(c *fiber.Ctx) error {
	tenantID := strings.TrimSpace(c.Query("tenant_id"))
	if tenantID == "" {
		return badRequest(c, "tenant_id is required")
	}
	summary, err := fc.stats.TenantSummary(c.UserContext(), tenantID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(summary)
}

// HandleEvents lists the audit trail of a document, oldest first.
func (fc *FiscalController) HandleEvents(c *fiber.Ctx) error {
	id, ok := documentIDParam(c)
	if !ok {
		return badRequest(c, "fiscal_document_id must be a positive integer")
	}

	events, err := fc.documents.Events(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	if events == nil {
		events = []models.FiscalDocumentEvent{}
	}
	return c.JSON(fiber.Map{"events": events})
}

// HandleWebhook ingests a provider callback. The raw body is needed for the
// signature check, so it is never parsed by fiber first.
func (fc *FiscalController) HandleWebhook(c *fiber.Ctx) error {
	body := append([]byte(nil), c.Body()...)

	result, err := fc.documents.HandleWebhook(c.UserContext(), body, c.Get("X-Signature"))
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(result.HTTPStatus).JSON(result.Body)
}

// HandleUpsertIntegration creates or replaces the provider settings of a tenant.
func (fc *FiscalController) HandleUpsertIntegration(c *fiber.Ctx) error {
	var in fiscal.IntegrationInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "Request body must be a JSON object")
	}

	cfg, err := fc.integrations.Upsert(c.UserContext(), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(cfg)
}

// HandleGetIntegration returns the provider settings of a tenant.
func (fc *FiscalController) HandleGetIntegration(c *fiber.Ctx) error {
	cfg, err := fc.integrations.Get(c.UserContext(), c.Query("tenant_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(cfg)
}

// HandleUploadCertificate stores a PKCS#12 container uploaded as multipart form.
func (fc *FiscalController) HandleUploadCertificate(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "file is required")
	}
	if fileHeader.Size > vault.MaxCertificateSize {
		return badRequest(c, "certificate file is too large")
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Errorf("[FiscalController] Failed to open uploaded certificate: %v", err)
		return badRequest(c, "certificate file could not be read")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, vault.MaxCertificateSize+1))
	if err != nil {
		log.Errorf("[FiscalController] Failed to read uploaded certificate: %v", err)
		return badRequest(c, "certificate file could not be read")
	}

	cert, err := fc.vault.StoreCertificate(c.UserContext(), vault.CertificateUpload{
		TenantID:    c.FormValue("tenant_id"),
		FileName:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Data:        data,
		Password:    c.FormValue("password"),
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(cert)
}

// HandleGetCertificate returns metadata of the newest certificate of a tenant.
func (fc *FiscalController) HandleGetCertificate(c *fiber.Ctx) error {
	cert, err := fc.vault.GetCertificate(c.UserContext(), c.Query("tenant_id"))
	if err != nil {
		return writeError(c, err)
	}
	// A nil pointer encodes as null.
	return c.JSON(fiber.Map{"certificate": cert})
}

// errorResponse maps a pipeline error onto an HTTP status and error body.
func errorResponse(err error) (int, fiber.Map) {
	kind := fiscal.KindOf(err)

	status := fiber.StatusInternalServerError
	switch kind {
	case fiscal.KindValidation, fiscal.KindConfiguration:
		status = fiber.StatusBadRequest
	case fiscal.KindConflict:
		status = fiber.StatusConflict
	case fiscal.KindNotFound:
		status = fiber.StatusNotFound
	case fiscal.KindProvider:
		status = fiber.StatusBadRequest
		if fiscal.ProviderStatusOf(err) >= 500 {
			status = fiber.StatusBadGateway
		}
	case fiscal.KindTransport:
		status = fiber.StatusBadGateway
	}

	message := "Internal server error"
	var fe *fiscal.Error
	if errors.As(err, &fe) && fe.Message != "" && kind != fiscal.KindPersistence {
		message = fe.Message
	}
	if kind == fiscal.KindPersistence || kind == fiscal.KindUnknown {
		log.Errorf("[FiscalController] Request failed: %v", err)
	}

	body := fiber.Map{"error": kind.String(), "message": message}
	if id := fiscal.DocumentIDOf(err); id != 0 {
		body["fiscal_document_id"] = id
	}
	return status, body
}

func writeError(c *fiber.Ctx, err error) error {
	status, body := errorResponse(err)
	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": message})
}

func documentIDParam(c *fiber.Ctx) (uint, bool) {
	raw := strings.TrimSpace(c.Query("fiscal_document_id"))
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func queryFlag(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// ============================================================================
// GLOBAL FISCAL CONTROLLER INSTANCE - Singleton Pattern
// ============================================================================

var fiscalController *FiscalController

// InitializeFiscalController initializes the global fiscal controller
func InitializeFiscalController(documents *fiscal.Service, integrations *fiscal.Registry, v *vault.Service, stats *statistics.Service) {
	fiscalController = NewFiscalController(documents, integrations, v, stats)
}

// GetFiscalController returns the global fiscal controller instance
func GetFiscalController() *FiscalController {
	return fiscalController
}
