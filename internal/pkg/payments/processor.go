package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/tramitex/permisos/app/models"
	"github.com/tramitex/permisos/internal/pkg/metrics"
	"gorm.io/gorm"
)

// DefaultMaxProcessAttempts bounds how often a notification is re-attempted
// before it is parked as failed and an operator alert goes out.
const DefaultMaxProcessAttempts = 5

// EventProcessor drains stored webhook events and evolves application state.
// Every attempt runs inside a single database transaction; a crash mid-way
// leaves the event in received status and a later attempt replays it to the
// identical effect.
type EventProcessor struct {
	repo        Repository
	permits     PermitEnqueuer
	notifier    Notifier
	alerter     Alerter
	maxAttempts int
}

// NewEventProcessor wires the processor with its collaborators. permits,
// notifier and alerter may be nil; the corresponding side effect is skipped.
func NewEventProcessor(repo Repository, permits PermitEnqueuer, notifier Notifier, alerter Alerter, maxAttempts int) *EventProcessor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxProcessAttempts
	}
	return &EventProcessor{
		repo:        repo,
		permits:     permits,
		notifier:    notifier,
		alerter:     alerter,
		maxAttempts: maxAttempts,
	}
}

// ProcessEvent runs one processing attempt for a stored webhook event.
// A nil return means the event is settled: transition applied, already
// satisfied, or not actionable. Kinded errors report retryable failures;
// retry bookkeeping is RecordAttemptFailure's job, not this method's.
func (p *EventProcessor) ProcessEvent(ctx context.Context, eventID uint) error {
	_ = ctx
	event, err := p.repo.GetWebhookEventByID(eventID)
	if err != nil {
		return NewError(KindTransient, "load_event", err)
	}
	if event.ProcessingStatus == models.WebhookStatusProcessed {
		return nil
	}

	outcome, actionable := OutcomeForEventType(event.EventType)
	if !actionable {
		log.Infof("[Payments] Event %d has non-actionable type %s, marking processed", event.ID, event.EventType)
		if err := p.repo.MarkWebhookEventProcessed(event.ID); err != nil {
			return NewError(KindTransient, "mark_processed", err)
		}
		return nil
	}

	if strings.TrimSpace(event.PaymentReference) == "" {
		return NewError(KindNotFound, "resolve_application",
			fmt.Errorf("event %s carries no payment reference", event.ProviderEventID))
	}

	app, err := p.repo.GetApplicationByPaymentReference(event.PaymentReference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NewError(KindNotFound, "resolve_application",
				fmt.Errorf("no application for payment reference %s", event.PaymentReference))
		}
		return NewError(KindTransient, "resolve_application", err)
	}

	// Cheap already-handled detection before taking any lock. Commits no
	// application state; only the event bookkeeping is written.
	if _, err := NextStatus(app.Status, outcome); KindOf(err) == KindAlreadySatisfied {
		log.Infof("[Payments] Event %s already satisfied for application %d (status %s)",
			event.ProviderEventID, app.ID, app.Status)
		if err := p.repo.MarkWebhookEventProcessed(event.ID); err != nil {
			return NewError(KindTransient, "mark_processed", err)
		}
		metrics.PaymentEventsProcessed.WithLabelValues(metrics.ResultAlreadySatisfied).Inc()
		return nil
	}

	var applied string
	err = p.repo.Transact(func(tx Repository) error {
		locked, err := tx.LockApplicationByID(app.ID)
		if err != nil {
			return err
		}

		next, terr := NextStatus(locked.Status, outcome)
		if terr != nil {
			if KindOf(terr) == KindAlreadySatisfied {
				// A concurrent processor finished the transition between
				// the unlocked pre-check and the lock.
				return tx.MarkWebhookEventProcessed(event.ID)
			}
			return terr
		}

		if err := tx.UpdateApplicationStatus(locked.ID, next); err != nil {
			return NewError(KindTransient, "update_status", err)
		}
		if err := tx.AppendPaymentEvent(&models.PaymentEvent{
			ApplicationID:     locked.ID,
			EventType:         event.EventType,
			PreviousStatus:    locked.Status,
			NewStatus:         next,
			ProviderReference: event.PaymentReference,
			EventData:         event.RawPayload,
		}); err != nil {
			return NewError(KindTransient, "append_event", err)
		}
		if err := tx.MarkWebhookEventProcessed(event.ID); err != nil {
			return NewError(KindTransient, "mark_processed", err)
		}
		applied = next
		return nil
	})
	if err != nil {
		metrics.PaymentEventsProcessed.WithLabelValues(metrics.ResultError).Inc()
		return err
	}
	if applied == "" {
		metrics.PaymentEventsProcessed.WithLabelValues(metrics.ResultAlreadySatisfied).Inc()
		return nil
	}

	metrics.PaymentEventsProcessed.WithLabelValues(metrics.ResultApplied).Inc()
	log.Infof("[Payments] Application %d: %s via event %s", app.ID, applied, event.ProviderEventID)

	// Downstream side effects run strictly after commit, best effort. A
	// failure here never rolls back the payment-state commit.
	if applied == models.StatusPaymentReceived && p.permits != nil {
		if err := p.permits.EnqueuePermitGeneration(app.ID); err != nil {
			log.Errorf("[Payments] Failed to enqueue permit generation for application %d: %v", app.ID, err)
		}
	}
	if p.notifier != nil {
		if err := p.notifier.NotifyPaymentOutcome(app.ID, applied); err != nil {
			log.Errorf("[Payments] Failed to notify applicant for application %d: %v", app.ID, err)
		}
	}
	return nil
}

// RecordAttemptFailure updates retry bookkeeping after a failed ProcessEvent
// attempt. It returns true when the scheduler should re-attempt; false means
// the event is parked as failed (budget exhausted or non-recoverable rules
// apply) and an operator alert has been raised.
func (p *EventProcessor) RecordAttemptFailure(ctx context.Context, eventID uint, attemptErr error) (bool, error) {
	_ = ctx
	kind := KindOf(attemptErr)
	if kind == KindIllegalTransition {
		// Could be a race a retry resolves; logged every attempt so the
		// contradiction stays visible to operators.
		log.Warnf("[Payments] Event %d hit an illegal transition: %v", eventID, attemptErr)
	}

	count, err := p.repo.IncrementWebhookRetry(eventID, attemptErr.Error())
	if err != nil {
		return false, NewError(KindTransient, "increment_retry", err)
	}
	metrics.ProcessingRetries.Inc()

	if count < p.maxAttempts {
		return true, nil
	}

	if err := p.repo.MarkWebhookEventFailed(eventID, attemptErr.Error()); err != nil {
		return false, NewError(KindTransient, "mark_failed", err)
	}
	metrics.OperatorAlerts.Inc()
	log.Errorf("[Payments] Event %d exhausted %d attempts, parking as failed: %v", eventID, count, attemptErr)
	if p.alerter != nil {
		p.alerter.Alert(
			fmt.Sprintf("Webhook event %d exhausted retries", eventID),
			fmt.Sprintf("last error (%s): %v\nThe raw payload is retained for manual replay.", kind, attemptErr),
		)
	}
	return false, nil
}

// GeneratePermit issues the permit for a paid application. Idempotent per
// application id: re-delivered jobs observe the already-issued permit and do
// nothing. Invoked by the downstream permit worker, never by the webhook path.
func (p *EventProcessor) GeneratePermit(ctx context.Context, applicationID uint) error {
	_ = ctx

	// Move into GENERATING_PERMIT.
	err := p.repo.Transact(func(tx Repository) error {
		locked, err := tx.LockApplicationByID(applicationID)
		if err != nil {
			return err
		}
		next, terr := BeginPermitGeneration(locked.Status)
		if terr != nil {
			if KindOf(terr) == KindAlreadySatisfied {
				return nil
			}
			return terr
		}
		if err := tx.UpdateApplicationStatus(locked.ID, next); err != nil {
			return NewError(KindTransient, "update_status", err)
		}
		return tx.AppendPaymentEvent(&models.PaymentEvent{
			ApplicationID:     locked.ID,
			EventType:         "permit.generation_started",
			PreviousStatus:    locked.Status,
			NewStatus:         next,
			ProviderReference: locked.PaymentReference,
		})
	})
	if err != nil {
		return err
	}

	// Assign the serial and finish. Split from the first transaction so a
	// crash between the two leaves a resumable GENERATING_PERMIT state.
	issued := false
	err = p.repo.Transact(func(tx Repository) error {
		locked, err := tx.LockApplicationByID(applicationID)
		if err != nil {
			return err
		}
		next, terr := CompletePermitGeneration(locked.Status)
		if terr != nil {
			if KindOf(terr) == KindAlreadySatisfied {
				return nil
			}
			return terr
		}
		if locked.PermitSerial == "" {
			serial := newPermitSerial()
			if err := tx.SetPermitIssued(locked.ID, serial, time.Now()); err != nil {
				return NewError(KindTransient, "issue_permit", err)
			}
		}
		if err := tx.UpdateApplicationStatus(locked.ID, next); err != nil {
			return NewError(KindTransient, "update_status", err)
		}
		issued = true
		return tx.AppendPaymentEvent(&models.PaymentEvent{
			ApplicationID:     locked.ID,
			EventType:         "permit.issued",
			PreviousStatus:    locked.Status,
			NewStatus:         next,
			ProviderReference: locked.PaymentReference,
		})
	})
	if err != nil {
		return err
	}

	if issued {
		metrics.PermitsIssued.Inc()
		log.Infof("[Payments] Permit issued for application %d", applicationID)
		if p.notifier != nil {
			if nerr := p.notifier.NotifyPaymentOutcome(applicationID, models.StatusPermitReady); nerr != nil {
				log.Errorf("[Payments] Failed to schedule permit-ready notification for application %d: %v", applicationID, nerr)
			}
		}
	}
	return nil
}

func newPermitSerial() string {
	return "PCV-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String()[:13], "-", ""))
}
