package repository

import (
	"context"

	"github.com/ManuelReschke/FiscalFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type integrationRepository struct {
	db *gorm.DB
}

// NewIntegrationRepository creates an integration repository backed by GORM.
func NewIntegrationRepository(db *gorm.DB) IntegrationRepository {
	return &integrationRepository{db: db}
}

func (r *integrationRepository) Upsert(ctx context.Context, cfg *models.FiscalIntegration) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"},
			{Name: "provider"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"environment",
			"api_token",
			"enabled",
			"provider_company_id",
			"updated_at",
		}),
	}).Create(cfg).Error; err != nil {
		return err
	}

	// Reload so ID and created_at reflect the stored row after an update.
	var stored models.FiscalIntegration
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND provider = ?", cfg.TenantID, cfg.Provider).
		First(&stored).Error; err != nil {
		return err
	}
	*cfg = stored
	return nil
}

func (r *integrationRepository) GetByTenant(ctx context.Context, tenantID, provider string) (*models.FiscalIntegration, error) {
	var cfg models.FiscalIntegration
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND provider = ?", tenantID, provider).
		First(&cfg).Error
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
