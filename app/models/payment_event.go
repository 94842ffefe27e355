package models

import "time"

// PaymentEvent is the domain-level audit trail of payment state changes tied
// to an application, distinct from the raw webhook_events transport log.
// Append-only: rows are never updated or deleted.
type PaymentEvent struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	ApplicationID     uint      `gorm:"not null;index" json:"application_id"`
	EventType         string    `gorm:"type:varchar(100);not null" json:"event_type"`
	PreviousStatus    string    `gorm:"type:varchar(40);not null" json:"previous_status"`
	NewStatus         string    `gorm:"type:varchar(40);not null" json:"new_status"`
	ProviderReference string    `gorm:"type:varchar(191);not null;default:'';index" json:"provider_reference"`
	EventData         string    `gorm:"type:longtext" json:"event_data,omitempty"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
