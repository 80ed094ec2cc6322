package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	FiscalDocTypeNFe  = "nfe"
	FiscalDocTypeNFCe = "nfce"
	FiscalDocTypeNFSe = "nfse"

	// MaxFiscalRefLength matches the width of the ref column.
	MaxFiscalRefLength = 100
)

// IsFiscalDocType reports whether docType is a supported document variant.
func IsFiscalDocType(docType string) bool {
	switch docType {
	case FiscalDocTypeNFe, FiscalDocTypeNFCe, FiscalDocTypeNFSe:
		return true
	}
	return false
}

// FiscalDocument is the authoritative local record of a submitted document.
// Ref is immutable once stored and is the join key used by webhooks.
type FiscalDocument struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	TenantID           string         `gorm:"type:varchar(36);not null;index" json:"tenant_id"`
	Provider           string         `gorm:"type:varchar(32);not null;index:ux_fiscal_documents_provider_ref,unique,priority:1" json:"provider"`
	DocType            string         `gorm:"type:varchar(16);not null" json:"doc_type"`
	Ref                string         `gorm:"type:varchar(100);not null;index:ux_fiscal_documents_provider_ref,unique,priority:2" json:"ref"`
	Status             FiscalStatus   `gorm:"type:varchar(32);not null;default:'submitted';index" json:"status"`
	ProviderStatus     string         `gorm:"type:varchar(64)" json:"provider_status,omitempty"`
	Payload            datatypes.JSON `gorm:"type:json" json:"payload"`
	ProviderHTTPStatus int            `json:"provider_http_status"`
	ProviderResponse   string         `gorm:"type:longtext" json:"provider_response"`
	Numero             *string        `gorm:"type:varchar(32);default:null" json:"numero"`
	Serie              *string        `gorm:"type:varchar(16);default:null" json:"serie"`
	Chave              *string        `gorm:"type:varchar(64);default:null" json:"chave"`
	XMLPath            *string        `gorm:"type:varchar(512);default:null" json:"xml_path"`
	PDFPath            *string        `gorm:"type:varchar(512);default:null" json:"pdf_path"`
	StatusObservedAt   *time.Time     `gorm:"precision:6;default:null" json:"status_observed_at,omitempty"`
	CreatedAt          time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (FiscalDocument) TableName() string {
	return "fiscal_documents"
}
