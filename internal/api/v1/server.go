package apiv1

import (
	"github.com/gofiber/fiber/v2"
)

// ServerInterface represents all server handlers of the fiscal API.
type ServerInterface interface {
	// (POST /fiscal/issue)
	PostFiscalIssue(c *fiber.Ctx) error
	// (GET /fiscal/document)
	GetFiscalDocument(c *fiber.Ctx) error
	// (GET /fiscal/status)
	GetFiscalStatus(c *fiber.Ctx) error
	// (GET /fiscal/events)
	GetFiscalEvents(c *fiber.Ctx) error
	// (GET /fiscal/stats)
	GetFiscalStats(c *fiber.Ctx) error
	// (POST /fiscal/webhook)
	PostFiscalWebhook(c *fiber.Ctx) error
	// (POST /fiscal/integration)
	PostFiscalIntegration(c *fiber.Ctx) error
	// (GET /fiscal/integration)
	GetFiscalIntegration(c *fiber.Ctx) error
	// (POST /fiscal/certificate)
	PostFiscalCertificate(c *fiber.Ctx) error
	// (GET /fiscal/certificate)
	GetFiscalCertificate(c *fiber.Ctx) error
}

// WebhookPath is the provider callback route. It is never behind the
// internal middleware chain.
const WebhookPath = "/fiscal/webhook"

// ServerOptions configures handler registration.
type ServerOptions struct {
	// Internal runs in front of every operation except the provider webhook.
	Internal []fiber.Handler
}

// RegisterHandlers creates http.Handler with routing matching the API document.
func RegisterHandlers(router fiber.Router, si ServerInterface) {
	RegisterHandlersWithOptions(router, si, ServerOptions{})
}

// RegisterHandlersWithOptions mounts the fiscal operations on router.
func RegisterHandlersWithOptions(router fiber.Router, si ServerInterface, options ServerOptions) {
	internal := func(h fiber.Handler) []fiber.Handler {
		return append(append([]fiber.Handler{}, options.Internal...), h)
	}

	router.Post("/fiscal/issue", internal(si.PostFiscalIssue)...)
	router.Get("/fiscal/document", internal(si.GetFiscalDocument)...)
	router.Get("/fiscal/status", internal(si.GetFiscalStatus)...)
	router.Get("/fiscal/events", internal(si.GetFiscalEvents)...)
	router.Get("/fiscal/stats", internal(si.GetFiscalStats)...)
	router.Post("/fiscal/integration", internal(si.PostFiscalIntegration)...)
	router.Get("/fiscal/integration", internal(si.GetFiscalIntegration)...)
	router.Post("/fiscal/certificate", internal(si.PostFiscalCertificate)...)
	router.Get("/fiscal/certificate", internal(si.GetFiscalCertificate)...)

	// Called by the provider, authenticated by signature instead.
	router.Post(WebhookPath, si.PostFiscalWebhook)
}
