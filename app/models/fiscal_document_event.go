package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	FiscalEventSubmission  = "submission"
	FiscalEventStatusCheck = "status_check"
	FiscalEventWebhook     = "webhook"
)

// FiscalDocumentEvent is one entry of the append-only audit trail of a
// document: every submission, poll and webhook delivery gets a row whether or
// not it changed the document.
type FiscalDocumentEvent struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	FiscalDocumentID uint           `gorm:"not null;index:idx_fiscal_document_events_doc_created,priority:1" json:"fiscal_document_id"`
	TenantID         string         `gorm:"type:varchar(36);not null;index" json:"tenant_id"`
	EventType        string         `gorm:"type:varchar(32);not null;index" json:"event_type"`
	EventStatus      string         `gorm:"type:varchar(64)" json:"event_status"`
	HTTPStatus       int            `json:"http_status"`
	EventData        datatypes.JSON `gorm:"type:json" json:"event_data,omitempty"`
	ProviderResponse string         `gorm:"type:longtext" json:"provider_response,omitempty"`
	Applied          bool           `gorm:"default:false" json:"applied"`
	Note             string         `gorm:"type:varchar(64)" json:"note,omitempty"`
	CreatedAt        time.Time      `gorm:"autoCreateTime;index:idx_fiscal_document_events_doc_created,priority:2" json:"created_at"`
}

func (FiscalDocumentEvent) TableName() string {
	return "fiscal_document_events"
}
