package models

import "time"

const (
	CertificateStatusValid      = "valid"
	CertificateStatusExpired    = "expired"
	CertificateStatusUnverified = "unverified"
)

// FiscalCertificate is one uploaded signing certificate. Rows are never
// updated; the newest row per tenant is the active one.
type FiscalCertificate struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	TenantID           string     `gorm:"type:varchar(36);not null;index:idx_fiscal_certificates_tenant_created,priority:1" json:"tenant_id"`
	Provider           string     `gorm:"type:varchar(32);not null" json:"provider"`
	Bucket             string     `gorm:"type:varchar(255);not null" json:"bucket"`
	ObjectKey          string     `gorm:"type:varchar(512);not null" json:"object_key"`
	OriginalFilename   string     `gorm:"type:varchar(255);not null" json:"original_filename"`
	ContentType        string     `gorm:"type:varchar(100)" json:"content_type"`
	SizeBytes          int64      `gorm:"not null" json:"size_bytes"`
	PasswordCiphertext string     `gorm:"type:text;not null" json:"-"`
	PasswordIV         string     `gorm:"type:varchar(32);not null" json:"-"`
	PasswordTag        string     `gorm:"type:varchar(32);not null" json:"-"`
	KeyVersion         int        `gorm:"not null;default:1" json:"key_version"`
	Status             string     `gorm:"type:varchar(16);not null;default:'unverified'" json:"status"`
	ValidFrom          *time.Time `gorm:"default:null" json:"valid_from"`
	ValidTo            *time.Time `gorm:"default:null" json:"valid_to"`
	CNPJ               *string    `gorm:"type:varchar(14);default:null" json:"cnpj"`
	Subject            *string    `gorm:"type:varchar(255);default:null" json:"subject"`
	CreatedAt          time.Time  `gorm:"autoCreateTime;index:idx_fiscal_certificates_tenant_created,priority:2" json:"created_at"`
}

func (FiscalCertificate) TableName() string {
	return "fiscal_certificates"
}
