package models

import "time"

// Webhook event processing statuses.
const (
	WebhookStatusReceived  = "received"
	WebhookStatusProcessed = "processed"
	WebhookStatusFailed    = "failed"
)

// WebhookEvent stores inbound payment-provider notifications verbatim. The
// unique index on provider_event_id gives at-most-once admission no matter how
// often the provider redelivers. Rows are never deleted (audit requirement).
type WebhookEvent struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	ProviderEventID  string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"provider_event_id"`
	EventType        string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PaymentReference string     `gorm:"type:varchar(191);not null;default:'';index" json:"payment_reference"`
	RawPayload       string     `gorm:"type:longtext;not null" json:"raw_payload"`
	SignatureValid   bool       `gorm:"default:false" json:"signature_valid"`
	ProcessingStatus string     `gorm:"type:varchar(20);not null;default:'received';index" json:"processing_status"`
	RetryCount       int        `gorm:"not null;default:0" json:"retry_count"`
	LastError        string     `gorm:"type:text" json:"last_error,omitempty"`
	ProcessedAt      *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
