package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Application lifecycle statuses. The payments transition engine is the only
// component allowed to move an application between payment-driven statuses.
const (
	StatusAwaitingPayment     = "AWAITING_PAYMENT"
	StatusAwaitingOxxoPayment = "AWAITING_OXXO_PAYMENT"
	StatusPaymentProcessing   = "PAYMENT_PROCESSING"
	StatusPaymentReceived     = "PAYMENT_RECEIVED"
	StatusGeneratingPermit    = "GENERATING_PERMIT"
	StatusPermitReady         = "PERMIT_READY"
	StatusPaymentFailed       = "PAYMENT_FAILED"
	StatusCancelled           = "CANCELLED"
	StatusExpired             = "EXPIRED"
)

// Application is a vehicle circulation permit application. Amount and currency
// are fixed at creation; status writes go through the transition engine.
type Application struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	PublicID         string     `gorm:"type:varchar(36);not null;uniqueIndex" json:"public_id"`
	ApplicantName    string     `gorm:"type:varchar(150);not null" json:"applicant_name" validate:"required,min=3,max=150"`
	ApplicantEmail   string     `gorm:"type:varchar(200);not null;index" json:"applicant_email" validate:"required,email,max=200"`
	VehiclePlate     string     `gorm:"type:varchar(20);not null;index" json:"vehicle_plate" validate:"required,min=5,max=20"`
	VehicleMake      string     `gorm:"type:varchar(80);not null" json:"vehicle_make" validate:"required,max=80"`
	VehicleModel     string     `gorm:"type:varchar(80);not null" json:"vehicle_model" validate:"required,max=80"`
	Status           string     `gorm:"type:varchar(40);not null;default:'AWAITING_PAYMENT';index" json:"status"`
	PaymentReference string     `gorm:"type:varchar(191);default:null;index" json:"payment_reference,omitempty"`
	AmountCents      int64      `gorm:"not null" json:"amount_cents" validate:"required,gt=0"`
	Currency         string     `gorm:"type:char(3);not null;default:'MXN'" json:"currency" validate:"required,len=3"`
	PermitSerial     string     `gorm:"type:varchar(40);default:null" json:"permit_serial,omitempty"`
	RenewedFromID    *uint      `gorm:"default:null;index" json:"renewed_from_id,omitempty"`
	PermitIssuedAt   *time.Time `gorm:"type:timestamp;default:null" json:"permit_issued_at,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (a *Application) Validate() error {
	v := validator.New()

	return v.Struct(a)
}

// NewApplication builds an application in the initial awaiting-payment state.
func NewApplication(name, email, plate, make, model string, amountCents int64, currency string) *Application {
	if currency == "" {
		currency = "MXN"
	}
	return &Application{
		PublicID:       uuid.New().String(),
		ApplicantName:  name,
		ApplicantEmail: email,
		VehiclePlate:   plate,
		VehicleMake:    make,
		VehicleModel:   model,
		Status:         StatusAwaitingPayment,
		AmountCents:    amountCents,
		Currency:       currency,
	}
}

// IsPaymentSettled reports whether the application has reached a status at or
// beyond successful payment. Payment-outcome events arriving in these states
// are treated as already handled, never as errors.
func IsPaymentSettled(status string) bool {
	switch status {
	case StatusPaymentReceived, StatusGeneratingPermit, StatusPermitReady:
		return true
	default:
		return false
	}
}

// IsAbsorbing reports whether the status rejects all further payment-driven
// transitions.
func IsAbsorbing(status string) bool {
	return status == StatusCancelled || status == StatusExpired
}
