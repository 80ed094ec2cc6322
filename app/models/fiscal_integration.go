package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	FiscalProviderFocusNFe = "focus_nfe"

	FiscalEnvironmentSandbox    = "sandbox"
	FiscalEnvironmentProduction = "production"
)

// FiscalIntegration is the per-tenant provider configuration. There is at most
// one row per (tenant_id, provider).
type FiscalIntegration struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	TenantID          string    `gorm:"type:varchar(36);not null;index:ux_fiscal_integrations_tenant_provider,unique,priority:1" json:"tenant_id" validate:"required,uuid"`
	Provider          string    `gorm:"type:varchar(32);not null;index:ux_fiscal_integrations_tenant_provider,unique,priority:2" json:"provider" validate:"required"`
	Environment       string    `gorm:"type:varchar(16);not null;default:'sandbox'" json:"environment" validate:"required,oneof=sandbox production"`
	APIToken          string    `gorm:"type:varchar(255);not null" json:"api_token" validate:"required,max=255"`
	Enabled           bool      `gorm:"not null" json:"enabled"`
	ProviderCompanyID *string   `gorm:"type:varchar(64);default:null" json:"provider_company_id"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (FiscalIntegration) TableName() string {
	return "fiscal_integrations"
}

// Validate checks the struct tags of the integration.
func (i *FiscalIntegration) Validate() error {
	return validator.New().Struct(i)
}

// Usable reports whether submissions may be attempted with this configuration.
func (i *FiscalIntegration) Usable() bool {
	return i != nil && i.Enabled && strings.TrimSpace(i.APIToken) != ""
}

// HasCompany reports whether provider-side company provisioning finished.
func (i *FiscalIntegration) HasCompany() bool {
	return i != nil && i.ProviderCompanyID != nil && strings.TrimSpace(*i.ProviderCompanyID) != ""
}

// NormalizeFiscalEnvironment maps accepted aliases onto the canonical
// environment names. It returns "" for unknown values.
func NormalizeFiscalEnvironment(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case FiscalEnvironmentSandbox, "homologacao", "homologação", "staging":
		return FiscalEnvironmentSandbox
	case FiscalEnvironmentProduction, "producao", "produção", "prod":
		return FiscalEnvironmentProduction
	default:
		return ""
	}
}
