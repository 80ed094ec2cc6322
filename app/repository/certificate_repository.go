package repository

import (
	"context"

	"github.com/ManuelReschke/FiscalFox/app/models"
	"gorm.io/gorm"
)

type certificateRepository struct {
	db *gorm.DB
}

// NewCertificateRepository creates a certificate repository backed by GORM.
// Certificates are append-only: there is no update or delete.
func NewCertificateRepository(db *gorm.DB) CertificateRepository {
	return &certificateRepository{db: db}
}

func (r *certificateRepository) Create(ctx context.Context, cert *models.FiscalCertificate) error {
	return r.db.WithContext(ctx).Create(cert).Error
}

func (r *certificateRepository) GetLatestByTenant(ctx context.Context, tenantID, provider string) (*models.FiscalCertificate, error) {
	var cert models.FiscalCertificate
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND provider = ?", tenantID, provider).
		Order("created_at DESC").
		Order("id DESC").
		First(&cert).Error
	if err != nil {
		return nil, err
	}
	return &cert, nil
}
