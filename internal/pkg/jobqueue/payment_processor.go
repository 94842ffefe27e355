package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/tramitex/permisos/internal/pkg/payments"
)

// processPaymentEventJob runs one reconciliation attempt for a stored webhook
// event. Retry bookkeeping lives on the webhook event row, not on the job:
// the processor decides whether another attempt is worthwhile, and a declined
// retry completes the job even though the event is parked as failed.
func (q *Queue) processPaymentEventJob(ctx context.Context, job *Job) error {
	if q.events == nil {
		return errors.New("payment event processor is not wired")
	}

	payload, err := ProcessPaymentEventPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if payload.WebhookEventID == 0 {
		return errors.New("payload missing webhook_event_id")
	}

	procErr := q.events.ProcessEvent(ctx, payload.WebhookEventID)
	if procErr == nil {
		return nil
	}

	retryAgain, err := q.events.RecordAttemptFailure(ctx, payload.WebhookEventID, procErr)
	if err != nil {
		// Bookkeeping itself failed; let the job retry drive another pass.
		return err
	}
	if retryAgain {
		return fmt.Errorf("event %d attempt failed (%s): %w",
			payload.WebhookEventID, payments.KindOf(procErr), procErr)
	}

	// Budget exhausted; the event is parked and alerted. The job is done.
	log.Warnf("[JobQueue] Event %d parked as failed after exhausting retries", payload.WebhookEventID)
	return nil
}

// processGeneratePermitJob issues a permit for a paid application. Safe under
// at-least-once delivery: replays observe the issued permit and do nothing.
func (q *Queue) processGeneratePermitJob(ctx context.Context, job *Job) error {
	if q.events == nil {
		return errors.New("payment event processor is not wired")
	}

	payload, err := GeneratePermitPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if payload.ApplicationID == 0 {
		return errors.New("payload missing application_id")
	}

	if err := q.events.GeneratePermit(ctx, payload.ApplicationID); err != nil {
		if payments.IsRetryable(err) {
			return err
		}
		// A permit job for an application that never reached paid state is a
		// wiring bug, not something a retry fixes.
		log.Errorf("[JobQueue] Dropping permit job for application %d: %v", payload.ApplicationID, err)
		return nil
	}
	return nil
}

// processNotifyApplicantJob delivers a best-effort applicant notification.
// Failures retry within the job budget and never touch payment state.
func (q *Queue) processNotifyApplicantJob(_ context.Context, job *Job) error {
	if q.notifier == nil {
		return errors.New("notifier is not wired")
	}

	payload, err := NotifyApplicantPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if payload.ApplicationID == 0 {
		return errors.New("payload missing application_id")
	}

	return q.notifier.NotifyPaymentOutcome(payload.ApplicationID, payload.NewStatus)
}
