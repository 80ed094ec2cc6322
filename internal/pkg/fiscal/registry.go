package fiscal

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/FiscalFox/app/models"
	"github.com/ManuelReschke/FiscalFox/app/repository"
)

// IntegrationInput is the caller supplied provider configuration of a tenant.
type IntegrationInput struct {
	TenantID    string  `json:"tenant_id"`
	Environment string  `json:"environment"`
	APIToken    string  `json:"api_token"`
	CompanyID   *string `json:"company_id"`
	Enabled     *bool   `json:"enabled"`
}

// Registry manages per-tenant integration configs.
type Registry struct {
	repo repository.IntegrationRepository
}

func NewRegistry(repo repository.IntegrationRepository) *Registry {
	return &Registry{repo: repo}
}

// Upsert creates or replaces the integration of a tenant.
func (r *Registry) Upsert(ctx context.Context, in IntegrationInput) (*models.FiscalIntegration, error) {
	const op = "fiscal.Registry.Upsert"

	environment := models.NormalizeFiscalEnvironment(in.Environment)
	if strings.TrimSpace(in.Environment) == "" {
		environment = models.FiscalEnvironmentSandbox
	}
	if environment == "" {
		return nil, ValidationError(op, "environment must be sandbox or production")
	}

	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}

	integ := &models.FiscalIntegration{
		TenantID:    strings.TrimSpace(in.TenantID),
		Provider:    models.FiscalProviderFocusNFe,
		Environment: environment,
		APIToken:    strings.TrimSpace(in.APIToken),
		Enabled:     enabled,
	}
	if in.CompanyID != nil {
		if c := strings.TrimSpace(*in.CompanyID); c != "" {
			integ.ProviderCompanyID = &c
		}
	}

	if err := integ.Validate(); err != nil {
		return nil, ValidationError(op, describeIntegrationError(err))
	}

	if err := r.repo.Upsert(ctx, integ); err != nil {
		return nil, PersistenceError(op, err)
	}

	log.Infof("[Fiscal] Integration saved for tenant %s (env=%s enabled=%t)", integ.TenantID, integ.Environment, integ.Enabled)
	return integ, nil
}

// Get returns the integration of a tenant or a KindNotFound error.
func (r *Registry) Get(ctx context.Context, tenantID string) (*models.FiscalIntegration, error) {
	const op = "fiscal.Registry.Get"

	tenantID = strings.TrimSpace(tenantID)
	if !isUUID(tenantID) {
		return nil, ValidationError(op, "tenant_id must be a UUID")
	}

	integ, err := r.repo.GetByTenant(ctx, tenantID, models.FiscalProviderFocusNFe)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFoundError(op, "fiscal integration not configured")
	}
	if err != nil {
		return nil, PersistenceError(op, err)
	}
	return integ, nil
}

func describeIntegrationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	switch verrs[0].Field() {
	case "TenantID":
		return "tenant_id must be a UUID"
	case "APIToken":
		return "api_token is required"
	case "Environment":
		return "environment must be sandbox or production"
	}
	return err.Error()
}
