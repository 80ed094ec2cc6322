package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ManuelReschke/FiscalFox/app/models"
	"gorm.io/gorm"
)

type fiscalDocumentRepository struct {
	db *gorm.DB
}

// NewFiscalDocumentRepository creates a fiscal document repository backed by GORM.
func NewFiscalDocumentRepository(db *gorm.DB) FiscalDocumentRepository {
	return &fiscalDocumentRepository{db: db}
}

func (r *fiscalDocumentRepository) Create(ctx context.Context, doc *models.FiscalDocument) error {
	err := r.db.WithContext(ctx).Create(doc).Error
	if err != nil && isDuplicateKey(err) {
		return ErrDuplicateRef
	}
	return err
}

func (r *fiscalDocumentRepository) GetByID(ctx context.Context, id uint) (*models.FiscalDocument, error) {
	var doc models.FiscalDocument
	if err := r.db.WithContext(ctx).First(&doc, id).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *fiscalDocumentRepository) GetByRef(ctx context.Context, provider, ref string) (*models.FiscalDocument, error) {
	var doc models.FiscalDocument
	err := r.db.WithContext(ctx).
		Where("provider = ? AND ref = ?", provider, ref).
		First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ApplyPatch writes the patch only if no newer observation was stored in the
// meantime. It reports whether a row was updated.
func (r *fiscalDocumentRepository) ApplyPatch(ctx context.Context, id uint, patch DocumentPatch) (bool, error) {
	observedAt := patch.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	updates := map[string]interface{}{
		"status_observed_at": observedAt,
		"updated_at":         time.Now().UTC(),
	}
	if patch.Status != "" {
		updates["status"] = patch.Status
	}
	if patch.ProviderStatus != "" {
		updates["provider_status"] = patch.ProviderStatus
	}
	if patch.HTTPStatus != nil {
		updates["provider_http_status"] = *patch.HTTPStatus
	}
	if patch.ProviderResponse != nil {
		updates["provider_response"] = *patch.ProviderResponse
	}
	setIfPresent(updates, "numero", patch.Numero)
	setIfPresent(updates, "serie", patch.Serie)
	setIfPresent(updates, "chave", patch.Chave)
	setIfPresent(updates, "xml_path", patch.XMLPath)
	setIfPresent(updates, "pdf_path", patch.PDFPath)

	tx := r.db.WithContext(ctx).
		Model(&models.FiscalDocument{}).
		Where("id = ? AND (status_observed_at IS NULL OR status_observed_at <= ?)", id, observedAt).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// RecordProviderResponse stores the last raw provider answer without touching
// the status or the observation timestamp.
func (r *fiscalDocumentRepository) RecordProviderResponse(ctx context.Context, id uint, httpStatus int, body string) error {
	return r.db.WithContext(ctx).
		Model(&models.FiscalDocument{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"provider_http_status": httpStatus,
			"provider_response":    body,
			"updated_at":           time.Now().UTC(),
		}).Error
}

// ListPending returns documents still waiting for a provider outcome that
// were last touched before updatedBefore, oldest first.
func (r *fiscalDocumentRepository) ListPending(ctx context.Context, updatedBefore time.Time, limit int) ([]models.FiscalDocument, error) {
	if limit <= 0 {
		limit = 100
	}
	var docs []models.FiscalDocument
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []models.FiscalStatus{models.FiscalStatusSubmitted, models.FiscalStatusProcessing}, updatedBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&docs).Error
	return docs, err
}

func setIfPresent(updates map[string]interface{}, column string, value *string) {
	if value == nil {
		return
	}
	if v := strings.TrimSpace(*value); v != "" {
		updates[column] = v
	}
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	// Fallback for drivers without error translation.
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint failed")
}

type statusCount struct {
	Status models.FiscalStatus
	Total  int64
}

// CountByStatus groups the tenant's documents by local status.
func (r *fiscalDocumentRepository) CountByStatus(ctx context.Context, tenantID string) (map[models.FiscalStatus]int64, error) {
	var rows []statusCount
	err := r.db.WithContext(ctx).
		Model(&models.FiscalDocument{}).
		Select("status, COUNT(*) AS total").
		Where("tenant_id = ?", tenantID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[models.FiscalStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

func (r *fiscalDocumentRepository) CountCreatedSince(ctx context.Context, tenantID string, since time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.FiscalDocument{}).
		Where("tenant_id = ? AND created_at >= ?", tenantID, since).
		Count(&total).Error
	return total, err
}
