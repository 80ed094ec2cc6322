package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/FiscalFox/app/models"
	"gorm.io/gorm"
)

// ErrDuplicateRef is returned when a document with the same (provider, ref)
// already exists. The unique index is the only serialization point for
// concurrent submissions that share a caller-supplied ref.
var ErrDuplicateRef = errors.New("fiscal document ref already exists")

// IntegrationRepository defines persistence for per-tenant provider configuration
type IntegrationRepository interface {
	Upsert(ctx context.Context, cfg *models.FiscalIntegration) error
	GetByTenant(ctx context.Context, tenantID, provider string) (*models.FiscalIntegration, error)
}

// CertificateRepository defines persistence for uploaded signing certificates
type CertificateRepository interface {
	Create(ctx context.Context, cert *models.FiscalCertificate) error
	GetLatestByTenant(ctx context.Context, tenantID, provider string) (*models.FiscalCertificate, error)
}

// FiscalDocumentRepository defines persistence for fiscal documents
type FiscalDocumentRepository interface {
	Create(ctx context.Context, doc *models.FiscalDocument) error
	GetByID(ctx context.Context, id uint) (*models.FiscalDocument, error)
	GetByRef(ctx context.Context, provider, ref string) (*models.FiscalDocument, error)
	ApplyPatch(ctx context.Context, id uint, patch DocumentPatch) (bool, error)
	RecordProviderResponse(ctx context.Context, id uint, httpStatus int, body string) error
	ListPending(ctx context.Context, updatedBefore time.Time, limit int) ([]models.FiscalDocument, error)
	CountByStatus(ctx context.Context, tenantID string) (map[models.FiscalStatus]int64, error)
	CountCreatedSince(ctx context.Context, tenantID string, since time.Time) (int64, error)
}

// FiscalEventRepository defines the append-only event log
type FiscalEventRepository interface {
	Append(ctx context.Context, event *models.FiscalDocumentEvent) error
	ListByDocument(ctx context.Context, documentID uint) ([]models.FiscalDocumentEvent, error)
}

// DocumentPatch carries a status observation onto a document. Nil pointers
// leave the corresponding column untouched. The patch is only applied when
// ObservedAt is not older than the stored observation.
type DocumentPatch struct {
	Status           models.FiscalStatus
	ProviderStatus   string
	HTTPStatus       *int
	ProviderResponse *string
	Numero           *string
	Serie            *string
	Chave            *string
	XMLPath          *string
	PDFPath          *string
	ObservedAt       time.Time
}

// Repositories holds all repository instances
type Repositories struct {
	Integration IntegrationRepository
	Certificate CertificateRepository
	Document    FiscalDocumentRepository
	Event       FiscalEventRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Integration: NewIntegrationRepository(db),
		Certificate: NewCertificateRepository(db),
		Document:    NewFiscalDocumentRepository(db),
		Event:       NewFiscalEventRepository(db),
	}
}
