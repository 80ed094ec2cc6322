package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to the fiscal controller to keep behavior consistent
	"github.com/ManuelReschke/FiscalFox/app/controllers"
)

// APIServer implements the ServerInterface
type APIServer struct {
	fiscal *controllers.FiscalController
}

// NewAPIServer creates a new API server instance
func NewAPIServer(fiscal *controllers.FiscalController) *APIServer {
	return &APIServer{fiscal: fiscal}
}

func (s *APIServer) PostFiscalIssue(c *fiber.Ctx) error {
	return s.fiscal.HandleIssue(c)
}

func (s *APIServer) GetFiscalDocument(c *fiber.Ctx) error {
	return s.fiscal.HandleDocument(c)
}

// GetFiscalStatus polls the provider; `completa=1` asks for the full record.
func (s *APIServer) GetFiscalStatus(c *fiber.Ctx) error {
	return s.fiscal.HandleStatus(c)
}

func (s *APIServer) GetFiscalEvents(c *fiber.Ctx) error {
	return s.fiscal.HandleEvents(c)
}

func (s *APIServer) GetFiscalStats(c *fiber.Ctx) error {
	return s.fiscal.HandleStats(c)
}

// PostFiscalWebhook is public; the signature header is checked by the service.
func (s *APIServer) PostFiscalWebhook(c *fiber.Ctx) error {
	return s.fiscal.HandleWebhook(c)
}

func (s *APIServer) PostFiscalIntegration(c *fiber.Ctx) error {
	return s.fiscal.HandleUpsertIntegration(c)
}

func (s *APIServer) GetFiscalIntegration(c *fiber.Ctx) error {
	return s.fiscal.HandleGetIntegration(c)
}

func (s *APIServer) PostFiscalCertificate(c *fiber.Ctx) error {
	return s.fiscal.HandleUploadCertificate(c)
}

func (s *APIServer) GetFiscalCertificate(c *fiber.Ctx) error {
	return s.fiscal.HandleGetCertificate(c)
}
