package payments

import (
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/tramitex/permisos/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MySQL error numbers surfaced by SELECT ... FOR UPDATE NOWAIT.
const (
	mysqlErrLockNoWait  = 3572 // statement aborted because NOWAIT is set
	mysqlErrLockTimeout = 1205 // lock wait timeout exceeded
)

// Repository provides the DB operations of the reconciliation engine.
type Repository interface {
	// Transact runs fn against a repository bound to a single transaction.
	// Returning an error rolls everything back.
	Transact(fn func(Repository) error) error

	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	GetWebhookEventByID(id uint) (*models.WebhookEvent, error)
	MarkWebhookEventProcessed(id uint) error
	MarkWebhookEventFailed(id uint, lastError string) error
	IncrementWebhookRetry(id uint, lastError string) (int, error)
	ListStuckWebhookEvents(olderThan time.Time, limit int) ([]models.WebhookEvent, error)
	ListFailedWebhookEvents(limit int) ([]models.WebhookEvent, error)
	ResetWebhookEventForReplay(id uint) error

	CreateApplication(app *models.Application) error
	GetApplicationByID(id uint) (*models.Application, error)
	GetApplicationByPublicID(publicID string) (*models.Application, error)
	GetApplicationByPaymentReference(reference string) (*models.Application, error)
	// LockApplicationByID acquires the row lock without waiting. A held lock
	// yields a KindLockContention error instead of blocking.
	LockApplicationByID(id uint) (*models.Application, error)
	UpdateApplicationStatus(id uint, newStatus string) error
	SetPaymentReference(id uint, reference string) error
	SetPermitIssued(id uint, serial string, issuedAt time.Time) error

	AppendPaymentEvent(event *models.PaymentEvent) error
	ListPaymentEventsByApplication(applicationID uint) ([]models.PaymentEvent, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a payments repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transact(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider_event_id = ?", event.ProviderEventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) GetWebhookEventByID(id uint) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.First(&event, id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *gormRepository) MarkWebhookEventProcessed(id uint) error {
	now := time.Now()
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"processing_status": models.WebhookStatusProcessed,
		"processed_at":      &now,
		"last_error":        "",
	}).Error
}

func (r *gormRepository) MarkWebhookEventFailed(id uint, lastError string) error {
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"processing_status": models.WebhookStatusFailed,
		"last_error":        lastError,
	}).Error
}

func (r *gormRepository) IncrementWebhookRetry(id uint, lastError string) (int, error) {
	err := r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"retry_count": gorm.Expr("retry_count + 1"),
		"last_error":  lastError,
	}).Error
	if err != nil {
		return 0, err
	}
	var event models.WebhookEvent
	if err := r.db.Select("retry_count").First(&event, id).Error; err != nil {
		return 0, err
	}
	return event.RetryCount, nil
}

func (r *gormRepository) ListStuckWebhookEvents(olderThan time.Time, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.
		Where("processing_status = ? AND signature_valid = ? AND updated_at < ?", models.WebhookStatusReceived, true, olderThan).
		Order("id ASC").Limit(limit).Find(&events).Error
	return events, err
}

func (r *gormRepository) ListFailedWebhookEvents(limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.
		Where("processing_status = ?", models.WebhookStatusFailed).
		Order("updated_at DESC").Limit(limit).Find(&events).Error
	return events, err
}

func (r *gormRepository) ResetWebhookEventForReplay(id uint) error {
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"processing_status": models.WebhookStatusReceived,
		"retry_count":       0,
		"last_error":        "",
		"processed_at":      nil,
	}).Error
}

func (r *gormRepository) CreateApplication(app *models.Application) error {
	return r.db.Create(app).Error
}

func (r *gormRepository) GetApplicationByID(id uint) (*models.Application, error) {
	var app models.Application
	if err := r.db.First(&app, id).Error; err != nil {
		return nil, err
	}
	return &app, nil
}

func (r *gormRepository) GetApplicationByPublicID(publicID string) (*models.Application, error) {
	var app models.Application
	if err := r.db.Where("public_id = ?", publicID).First(&app).Error; err != nil {
		return nil, err
	}
	return &app, nil
}

func (r *gormRepository) GetApplicationByPaymentReference(reference string) (*models.Application, error) {
	var app models.Application
	if err := r.db.Where("payment_reference = ?", reference).First(&app).Error; err != nil {
		return nil, err
	}
	return &app, nil
}

func (r *gormRepository) LockApplicationByID(id uint) (*models.Application, error) {
	var app models.Application
	err := r.db.
		Clauses(clause.Locking{Strength: "UPDATE", Options: "NOWAIT"}).
		First(&app, id).Error
	if err != nil {
		if isLockContention(err) {
			return nil, NewError(KindLockContention, "lock_application", err)
		}
		return nil, err
	}
	return &app, nil
}

func (r *gormRepository) UpdateApplicationStatus(id uint, newStatus string) error {
	return r.db.Model(&models.Application{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     newStatus,
		"updated_at": time.Now(),
	}).Error
}

func (r *gormRepository) SetPaymentReference(id uint, reference string) error {
	res := r.db.Model(&models.Application{}).
		Where("id = ? AND (payment_reference IS NULL OR payment_reference = '')", id).
		Update("payment_reference", reference)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return NewError(KindIllegalTransition, "set_payment_reference",
			errors.New("application already has a payment reference"))
	}
	return nil
}

func (r *gormRepository) SetPermitIssued(id uint, serial string, issuedAt time.Time) error {
	return r.db.Model(&models.Application{}).Where("id = ?", id).Updates(map[string]interface{}{
		"permit_serial":    serial,
		"permit_issued_at": &issuedAt,
	}).Error
}

func (r *gormRepository) AppendPaymentEvent(event *models.PaymentEvent) error {
	return r.db.Create(event).Error
}

func (r *gormRepository) ListPaymentEventsByApplication(applicationID uint) ([]models.PaymentEvent, error) {
	var events []models.PaymentEvent
	err := r.db.Where("application_id = ?", applicationID).Order("id ASC").Find(&events).Error
	return events, err
}

func isLockContention(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlErrLockNoWait || mysqlErr.Number == mysqlErrLockTimeout
	}
	return false
}
