package repository

import (
	"context"

	"github.com/ManuelReschke/FiscalFox/app/models"
	"gorm.io/gorm"
)

type fiscalEventRepository struct {
	db *gorm.DB
}

// NewFiscalEventRepository creates the event log repository. It only ever
// inserts and reads.
func NewFiscalEventRepository(db *gorm.DB) FiscalEventRepository {
	return &fiscalEventRepository{db: db}
}

func (r *fiscalEventRepository) Append(ctx context.Context, event *models.FiscalDocumentEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *fiscalEventRepository) ListByDocument(ctx context.Context, documentID uint) ([]models.FiscalDocumentEvent, error) {
	var events []models.FiscalDocumentEvent
	err := r.db.WithContext(ctx).
		Where("fiscal_document_id = ?", documentID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&events).Error
	return events, err
}
