package payments

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tramitex/permisos/app/models"
)

// memRepository is an in-memory Repository for tests. Transact snapshots the
// stores and restores them when fn fails, mirroring a rollback.
type memRepository struct {
	events       map[uint]*models.WebhookEvent
	applications map[uint]*models.Application
	audit        []models.PaymentEvent

	nextEventID uint
	nextAppID   uint
	nextAuditID uint

	// lockErr, when set, is returned by the next LockApplicationByID call
	// and then cleared. Simulates a lost NOWAIT race.
	lockErr error
}

func newMemRepository() *memRepository {
	return &memRepository{
		events:       make(map[uint]*models.WebhookEvent),
		applications: make(map[uint]*models.Application),
		nextEventID:  1,
		nextAppID:    1,
		nextAuditID:  1,
	}
}

func (r *memRepository) addApplication(status string) *models.Application {
	app := models.NewApplication("Maria Lopez", "maria@example.com", "ABC-1234", "Nissan", "Versa", 150000, "MXN")
	app.ID = r.nextAppID
	app.Status = status
	app.PaymentReference = "pi_test_" + string(rune('0'+app.ID))
	r.nextAppID++
	r.applications[app.ID] = app
	return app
}

func (r *memRepository) addEvent(eventType, reference string) *models.WebhookEvent {
	ev := &models.WebhookEvent{
		ID:               r.nextEventID,
		ProviderEventID:  "evt_" + string(rune('0'+r.nextEventID)),
		EventType:        eventType,
		PaymentReference: reference,
		RawPayload:       `{"id":"evt"}`,
		SignatureValid:   true,
		ProcessingStatus: models.WebhookStatusReceived,
	}
	r.nextEventID++
	r.events[ev.ID] = ev
	return ev
}

func (r *memRepository) snapshot() *memRepository {
	cp := newMemRepository()
	cp.nextEventID = r.nextEventID
	cp.nextAppID = r.nextAppID
	cp.nextAuditID = r.nextAuditID
	for id, ev := range r.events {
		e := *ev
		cp.events[id] = &e
	}
	for id, app := range r.applications {
		a := *app
		cp.applications[id] = &a
	}
	cp.audit = append([]models.PaymentEvent(nil), r.audit...)
	return cp
}

func (r *memRepository) restore(from *memRepository) {
	r.events = from.events
	r.applications = from.applications
	r.audit = from.audit
	r.nextEventID = from.nextEventID
	r.nextAppID = from.nextAppID
	r.nextAuditID = from.nextAuditID
}

func (r *memRepository) Transact(fn func(Repository) error) error {
	before := r.snapshot()
	if err := fn(r); err != nil {
		r.restore(before)
		return err
	}
	return nil
}

func (r *memRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	for _, ev := range r.events {
		if ev.ProviderEventID == event.ProviderEventID {
			return false, ev, nil
		}
	}
	event.ID = r.nextEventID
	r.nextEventID++
	event.CreatedAt = time.Now()
	r.events[event.ID] = event
	return true, event, nil
}

func (r *memRepository) GetWebhookEventByID(id uint) (*models.WebhookEvent, error) {
	ev, ok := r.events[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *ev
	return &cp, nil
}

func (r *memRepository) MarkWebhookEventProcessed(id uint) error {
	ev, ok := r.events[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	now := time.Now()
	ev.ProcessingStatus = models.WebhookStatusProcessed
	ev.ProcessedAt = &now
	ev.LastError = ""
	return nil
}

func (r *memRepository) MarkWebhookEventFailed(id uint, lastError string) error {
	ev, ok := r.events[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	ev.ProcessingStatus = models.WebhookStatusFailed
	ev.LastError = lastError
	return nil
}

func (r *memRepository) IncrementWebhookRetry(id uint, lastError string) (int, error) {
	ev, ok := r.events[id]
	if !ok {
		return 0, gorm.ErrRecordNotFound
	}
	ev.RetryCount++
	ev.LastError = lastError
	return ev.RetryCount, nil
}

func (r *memRepository) ListStuckWebhookEvents(olderThan time.Time, limit int) ([]models.WebhookEvent, error) {
	var out []models.WebhookEvent
	for _, ev := range r.events {
		if ev.ProcessingStatus == models.WebhookStatusReceived && ev.UpdatedAt.Before(olderThan) {
			out = append(out, *ev)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memRepository) ListFailedWebhookEvents(limit int) ([]models.WebhookEvent, error) {
	var out []models.WebhookEvent
	for _, ev := range r.events {
		if ev.ProcessingStatus == models.WebhookStatusFailed {
			out = append(out, *ev)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memRepository) ResetWebhookEventForReplay(id uint) error {
	ev, ok := r.events[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	ev.ProcessingStatus = models.WebhookStatusReceived
	ev.RetryCount = 0
	ev.LastError = ""
	ev.ProcessedAt = nil
	return nil
}

func (r *memRepository) CreateApplication(app *models.Application) error {
	app.ID = r.nextAppID
	r.nextAppID++
	app.CreatedAt = time.Now()
	r.applications[app.ID] = app
	return nil
}

func (r *memRepository) GetApplicationByID(id uint) (*models.Application, error) {
	app, ok := r.applications[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *app
	return &cp, nil
}

func (r *memRepository) GetApplicationByPublicID(publicID string) (*models.Application, error) {
	for _, app := range r.applications {
		if app.PublicID == publicID {
			cp := *app
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepository) GetApplicationByPaymentReference(reference string) (*models.Application, error) {
	for _, app := range r.applications {
		if app.PaymentReference == reference {
			cp := *app
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepository) LockApplicationByID(id uint) (*models.Application, error) {
	if r.lockErr != nil {
		err := r.lockErr
		r.lockErr = nil
		return nil, err
	}
	return r.GetApplicationByID(id)
}

func (r *memRepository) UpdateApplicationStatus(id uint, newStatus string) error {
	app, ok := r.applications[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	app.Status = newStatus
	app.UpdatedAt = time.Now()
	return nil
}

func (r *memRepository) SetPaymentReference(id uint, reference string) error {
	app, ok := r.applications[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if app.PaymentReference != "" {
		return NewError(KindIllegalTransition, "set_payment_reference",
			errors.New("application already has a payment reference"))
	}
	app.PaymentReference = reference
	return nil
}

func (r *memRepository) SetPermitIssued(id uint, serial string, issuedAt time.Time) error {
	app, ok := r.applications[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	app.PermitSerial = serial
	app.PermitIssuedAt = &issuedAt
	return nil
}

func (r *memRepository) AppendPaymentEvent(event *models.PaymentEvent) error {
	event.ID = r.nextAuditID
	r.nextAuditID++
	event.CreatedAt = time.Now()
	r.audit = append(r.audit, *event)
	return nil
}

func (r *memRepository) ListPaymentEventsByApplication(applicationID uint) ([]models.PaymentEvent, error) {
	var out []models.PaymentEvent
	for _, ev := range r.audit {
		if ev.ApplicationID == applicationID {
			out = append(out, ev)
		}
	}
	return out, nil
}
