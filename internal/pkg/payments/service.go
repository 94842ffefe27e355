package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tramitex/permisos/app/models"
	"gorm.io/gorm"
)

// Service covers the synchronous half of the engine: webhook admission,
// application lifecycle operations driven by the API, payment initiation.
type Service struct {
	repo      Repository
	processor Processor
}

// NewService creates a payments service from injected collaborators.
func NewService(repo Repository, processor Processor) *Service {
	return &Service{repo: repo, processor: processor}
}

// NewServiceFromDB creates a payments service from a GORM DB handle and the
// env-configured provider client.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db), NewProcessorFromEnv())
}

// Repo exposes the underlying repository for wiring the async processor.
func (s *Service) Repo() Repository {
	return s.repo
}

// ParseWebhook verifies a raw provider notification against the configured
// webhook secret and returns the parsed envelope. Nothing is persisted here:
// deliveries that fail verification must leave no trace.
func (s *Service) ParseWebhook(payload []byte, signatureHeader string) (*ProviderEvent, error) {
	return s.processor.ParseEvent(payload, signatureHeader)
}

// RecordWebhookEvent persists a provider notification exactly once. The bool
// result reports whether this delivery was the first admission; redeliveries
// return the stored row untouched.
func (s *Service) RecordWebhookEvent(ctx context.Context, ev *ProviderEvent) (bool, *models.WebhookEvent, error) {
	_ = ctx
	if ev == nil || strings.TrimSpace(ev.ID) == "" {
		return false, nil, errors.New("provider event id is required")
	}

	event := &models.WebhookEvent{
		ProviderEventID:  ev.ID,
		EventType:        ev.Type,
		PaymentReference: ev.PaymentReference,
		RawPayload:       string(ev.Raw),
		SignatureValid:   true,
		ProcessingStatus: models.WebhookStatusReceived,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// CreateApplication registers a new permit application in the initial
// awaiting-payment state.
func (s *Service) CreateApplication(ctx context.Context, app *models.Application) error {
	_ = ctx
	if err := app.Validate(); err != nil {
		return err
	}
	return s.repo.CreateApplication(app)
}

// GetApplication resolves an application by its public id.
func (s *Service) GetApplication(ctx context.Context, publicID string) (*models.Application, error) {
	_ = ctx
	if strings.TrimSpace(publicID) == "" {
		return nil, errors.New("public id is required")
	}
	return s.repo.GetApplicationByPublicID(publicID)
}

// StartPayment creates a provider payment intent for the application and
// associates the returned reference. The reference is set at most once; the
// amount and currency come from the application, never from the request.
func (s *Service) StartPayment(ctx context.Context, publicID, method string) (*Intent, error) {
	app, err := s.repo.GetApplicationByPublicID(publicID)
	if err != nil {
		return nil, err
	}
	if app.Status != models.StatusAwaitingPayment {
		return nil, NewError(KindIllegalTransition, "start_payment",
			errors.New("application is not awaiting payment"))
	}
	if strings.TrimSpace(app.PaymentReference) != "" {
		// A reference already exists; report the provider's current view
		// instead of creating a second intent.
		return s.processor.GetIntent(ctx, app.PaymentReference)
	}

	intent, err := s.processor.CreateIntent(ctx, CreateIntentInput{
		AmountCents: app.AmountCents,
		Currency:    app.Currency,
		Method:      method,
		Description: "Vehicle circulation permit " + app.PublicID,
		ReferenceID: app.PublicID,
		Email:       app.ApplicantEmail,
	})
	if err != nil {
		return nil, err
	}

	if err := s.repo.SetPaymentReference(app.ID, intent.Reference); err != nil {
		return nil, err
	}
	return intent, nil
}

// RetryPayment moves a failed application back to awaiting payment and clears
// nothing else; the next StartPayment call creates a fresh intent only if no
// non-terminal reference is attached.
func (s *Service) RetryPayment(ctx context.Context, publicID string) (*models.Application, error) {
	_ = ctx
	app, err := s.repo.GetApplicationByPublicID(publicID)
	if err != nil {
		return nil, err
	}
	next, err := RetryAfterFailure(app.Status)
	if err != nil {
		if KindOf(err) == KindAlreadySatisfied {
			return app, nil
		}
		return nil, err
	}

	err = s.repo.Transact(func(tx Repository) error {
		if err := tx.UpdateApplicationStatus(app.ID, next); err != nil {
			return err
		}
		return tx.AppendPaymentEvent(&models.PaymentEvent{
			ApplicationID:     app.ID,
			EventType:         "payment.retry_requested",
			PreviousStatus:    app.Status,
			NewStatus:         next,
			ProviderReference: app.PaymentReference,
		})
	})
	if err != nil {
		return nil, err
	}
	app.Status = next
	return app, nil
}

// RenewApplication creates a fresh application pointing back at the original.
// The original record is never mutated.
func (s *Service) RenewApplication(ctx context.Context, publicID string) (*models.Application, error) {
	original, err := s.repo.GetApplicationByPublicID(publicID)
	if err != nil {
		return nil, err
	}
	if original.Status != models.StatusPermitReady {
		return nil, NewError(KindIllegalTransition, "renew",
			errors.New("only issued permits can be renewed"))
	}

	renewal := models.NewApplication(
		original.ApplicantName,
		original.ApplicantEmail,
		original.VehiclePlate,
		original.VehicleMake,
		original.VehicleModel,
		original.AmountCents,
		original.Currency,
	)
	renewal.RenewedFromID = &original.ID
	if err := s.CreateApplication(ctx, renewal); err != nil {
		return nil, err
	}
	return renewal, nil
}

// FailedWebhookEvents lists permanently failed notifications for the ops
// surface. Raw payloads stay available for manual replay.
func (s *Service) FailedWebhookEvents(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	_ = ctx
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListFailedWebhookEvents(limit)
}

// ReplayWebhookEvent rewinds a stored notification to received so the
// processor picks it up again. Operator-driven recovery for exhausted or
// misclassified events.
func (s *Service) ReplayWebhookEvent(ctx context.Context, id uint) (*models.WebhookEvent, error) {
	_ = ctx
	event, err := s.repo.GetWebhookEventByID(id)
	if err != nil {
		return nil, err
	}
	if event.ProcessingStatus == models.WebhookStatusProcessed {
		return nil, NewError(KindAlreadySatisfied, "replay", nil)
	}
	if err := s.repo.ResetWebhookEventForReplay(event.ID); err != nil {
		return nil, err
	}
	return s.repo.GetWebhookEventByID(event.ID)
}

// PaymentHistory returns the append-only domain audit trail of an application.
func (s *Service) PaymentHistory(ctx context.Context, publicID string) ([]models.PaymentEvent, error) {
	_ = ctx
	app, err := s.repo.GetApplicationByPublicID(publicID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListPaymentEventsByApplication(app.ID)
}

// StuckEventThreshold is how long a received event may sit unprocessed before
// the reaper re-enqueues it (crash recovery).
const StuckEventThreshold = 10 * time.Minute
