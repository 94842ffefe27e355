package payments

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/tramitex/permisos/app/models"
)

type fakeEnqueuer struct {
	enqueued []uint
}

func (f *fakeEnqueuer) EnqueuePermitGeneration(applicationID uint) error {
	f.enqueued = append(f.enqueued, applicationID)
	return nil
}

type fakeNotifier struct {
	notified []string
}

func (f *fakeNotifier) NotifyPaymentOutcome(applicationID uint, newStatus string) error {
	f.notified = append(f.notified, fmt.Sprintf("%d:%s", applicationID, newStatus))
	return nil
}

type fakeAlerter struct {
	alerts []string
}

func (f *fakeAlerter) Alert(subject, detail string) {
	f.alerts = append(f.alerts, subject)
}

func newTestProcessor(repo Repository) (*EventProcessor, *fakeEnqueuer, *fakeNotifier, *fakeAlerter) {
	permits := &fakeEnqueuer{}
	notifier := &fakeNotifier{}
	alerter := &fakeAlerter{}
	return NewEventProcessor(repo, permits, notifier, alerter, 3), permits, notifier, alerter
}

func TestProcessEventAppliesTransitionOnce(t *testing.T) {
	repo := newMemRepository()
	app := repo.addApplication(models.StatusAwaitingPayment)
	event := repo.addEvent("payment_intent.succeeded", app.PaymentReference)

	proc, permits, notifier, _ := newTestProcessor(repo)

	// Process the same stored event several times; redeliveries and replays
	// must collapse to exactly one transition and one audit row.
	for i := 0; i < 4; i++ {
		if err := proc.ProcessEvent(context.Background(), event.ID); err != nil {
			t.Fatalf("attempt %d: ProcessEvent returned error: %v", i, err)
		}
	}

	got, _ := repo.GetApplicationByID(app.ID)
	if got.Status != models.StatusPaymentReceived {
		t.Errorf("application status = %s, want %s", got.Status, models.StatusPaymentReceived)
	}

	audit, _ := repo.ListPaymentEventsByApplication(app.ID)
	if len(audit) != 1 {
		t.Fatalf("audit rows = %d, want exactly 1", len(audit))
	}
	if audit[0].PreviousStatus != models.StatusAwaitingPayment || audit[0].NewStatus != models.StatusPaymentReceived {
		t.Errorf("audit row records %s -> %s", audit[0].PreviousStatus, audit[0].NewStatus)
	}

	stored, _ := repo.GetWebhookEventByID(event.ID)
	if stored.ProcessingStatus != models.WebhookStatusProcessed {
		t.Errorf("event status = %s, want processed", stored.ProcessingStatus)
	}
	if stored.ProcessedAt == nil {
		t.Error("processed_at not set")
	}

	if len(permits.enqueued) != 1 || permits.enqueued[0] != app.ID {
		t.Errorf("permit generation enqueued %v, want exactly one for application %d", permits.enqueued, app.ID)
	}
	if len(notifier.notified) != 1 {
		t.Errorf("notifications sent = %d, want 1", len(notifier.notified))
	}
}

func TestProcessEventLateFailureAfterSuccessIsNoOp(t *testing.T) {
	repo := newMemRepository()
	app := repo.addApplication(models.StatusPaymentReceived)
	event := repo.addEvent("payment_intent.payment_failed", app.PaymentReference)

	proc, _, notifier, _ := newTestProcessor(repo)

	if err := proc.ProcessEvent(context.Background(), event.ID); err != nil {
		t.Fatalf("ProcessEvent returned error: %v", err)
	}

	got, _ := repo.GetApplicationByID(app.ID)
	if got.Status != models.StatusPaymentReceived {
		t.Errorf("late failure changed status to %s", got.Status)
	}

	audit, _ := repo.ListPaymentEventsByApplication(app.ID)
	if len(audit) != 0 {
		t.Errorf("late failure wrote %d audit rows", len(audit))
	}

	stored, _ := repo.GetWebhookEventByID(event.ID)
	if stored.ProcessingStatus != models.WebhookStatusProcessed {
		t.Errorf("event status = %s, want processed", stored.ProcessingStatus)
	}
	if len(notifier.notified) != 0 {
		t.Errorf("no-op event produced %d notifications", len(notifier.notified))
	}
}

func TestProcessEventNonActionableTypeIsAcknowledged(t *testing.T) {
	repo := newMemRepository()
	event := repo.addEvent("customer.created", "")

	proc, _, _, _ := newTestProcessor(repo)

	if err := proc.ProcessEvent(context.Background(), event.ID); err != nil {
		t.Fatalf("ProcessEvent returned error: %v", err)
	}
	stored, _ := repo.GetWebhookEventByID(event.ID)
	if stored.ProcessingStatus != models.WebhookStatusProcessed {
		t.Errorf("event status = %s, want processed", stored.ProcessingStatus)
	}
}

func TestProcessEventUnknownReferenceIsRetryable(t *testing.T) {
	repo := newMemRepository()
	event := repo.addEvent("payment_intent.succeeded", "pi_unknown")

	proc, _, _, _ := newTestProcessor(repo)

	err := proc.ProcessEvent(context.Background(), event.ID)
	if err == nil {
		t.Fatal("expected error for unknown payment reference")
	}
	if KindOf(err) != KindNotFound {
		t.Errorf("kind = %s, want %s", KindOf(err), KindNotFound)
	}
	if !IsRetryable(err) {
		t.Error("unknown reference must stay retryable, the reference may still be written")
	}
}

func TestProcessEventLockContentionIsRetryable(t *testing.T) {
	repo := newMemRepository()
	app := repo.addApplication(models.StatusAwaitingPayment)
	event := repo.addEvent("payment_intent.succeeded", app.PaymentReference)
	repo.lockErr = NewError(KindLockContention, "lock_application", errors.New("row is locked"))

	proc, _, _, _ := newTestProcessor(repo)

	err := proc.ProcessEvent(context.Background(), event.ID)
	if err == nil {
		t.Fatal("expected lock contention error")
	}
	if KindOf(err) != KindLockContention {
		t.Fatalf("kind = %s, want %s", KindOf(err), KindLockContention)
	}
	if !IsRetryable(err) {
		t.Fatal("lock contention must be retryable")
	}

	// Nothing committed by the failed attempt.
	got, _ := repo.GetApplicationByID(app.ID)
	if got.Status != models.StatusAwaitingPayment {
		t.Errorf("failed attempt changed status to %s", got.Status)
	}

	// The retry wins the lock and settles the event.
	if err := proc.ProcessEvent(context.Background(), event.ID); err != nil {
		t.Fatalf("retry attempt returned error: %v", err)
	}
	got, _ = repo.GetApplicationByID(app.ID)
	if got.Status != models.StatusPaymentReceived {
		t.Errorf("retry left status %s, want %s", got.Status, models.StatusPaymentReceived)
	}
}

func TestProcessEventConcurrentWinnerObservedUnderLock(t *testing.T) {
	repo := newMemRepository()
	app := repo.addApplication(models.StatusAwaitingPayment)
	event := repo.addEvent("payment_intent.succeeded", app.PaymentReference)

	// Another processor applies the same outcome between this attempt's
	// unlocked pre-check and its lock acquisition.
	repo.applications[app.ID].Status = models.StatusPaymentReceived

	proc, permits, _, _ := newTestProcessor(repo)
	if err := proc.ProcessEvent(context.Background(), event.ID); err != nil {
		t.Fatalf("ProcessEvent returned error: %v", err)
	}

	audit, _ := repo.ListPaymentEventsByApplication(app.ID)
	if len(audit) != 0 {
		t.Errorf("already-satisfied path wrote %d audit rows", len(audit))
	}
	if len(permits.enqueued) != 0 {
		t.Errorf("already-satisfied path enqueued permit generation %v", permits.enqueued)
	}
	stored, _ := repo.GetWebhookEventByID(event.ID)
	if stored.ProcessingStatus != models.WebhookStatusProcessed {
		t.Errorf("event status = %s, want processed", stored.ProcessingStatus)
	}
}

func TestIllegalTransitionExhaustsBudgetAndAlerts(t *testing.T) {
	repo := newMemRepository()
	app := repo.addApplication(models.StatusCancelled)
	event := repo.addEvent("payment_intent.succeeded", app.PaymentReference)

	proc, _, _, alerter := newTestProcessor(repo)
	ctx := context.Background()

	var retries []bool
	for i := 0; i < 3; i++ {
		err := proc.ProcessEvent(ctx, event.ID)
		if err == nil {
			t.Fatalf("attempt %d: expected illegal transition error", i)
		}
		if KindOf(err) != KindIllegalTransition {
			t.Fatalf("attempt %d: kind = %s, want %s", i, KindOf(err), KindIllegalTransition)
		}
		again, rerr := proc.RecordAttemptFailure(ctx, event.ID, err)
		if rerr != nil {
			t.Fatalf("attempt %d: RecordAttemptFailure error: %v", i, rerr)
		}
		retries = append(retries, again)
	}

	if !retries[0] || !retries[1] {
		t.Errorf("early attempts should request a retry, got %v", retries)
	}
	if retries[2] {
		t.Error("final attempt should park the event, not request another retry")
	}

	stored, _ := repo.GetWebhookEventByID(event.ID)
	if stored.ProcessingStatus != models.WebhookStatusFailed {
		t.Errorf("event status = %s, want failed", stored.ProcessingStatus)
	}
	if stored.RetryCount != 3 {
		t.Errorf("retry count = %d, want 3", stored.RetryCount)
	}
	if stored.RawPayload == "" {
		t.Error("raw payload must be retained for manual replay")
	}
	if len(alerter.alerts) != 1 {
		t.Fatalf("alerts raised = %d, want exactly 1", len(alerter.alerts))
	}

	// The cancelled application never moved.
	got, _ := repo.GetApplicationByID(app.ID)
	if got.Status != models.StatusCancelled {
		t.Errorf("application status = %s, want CANCELLED", got.Status)
	}
}

func TestGeneratePermitIsIdempotent(t *testing.T) {
	repo := newMemRepository()
	app := repo.addApplication(models.StatusPaymentReceived)

	proc, _, notifier, _ := newTestProcessor(repo)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := proc.GeneratePermit(ctx, app.ID); err != nil {
			t.Fatalf("attempt %d: GeneratePermit error: %v", i, err)
		}
	}

	got, _ := repo.GetApplicationByID(app.ID)
	if got.Status != models.StatusPermitReady {
		t.Errorf("status = %s, want %s", got.Status, models.StatusPermitReady)
	}
	if got.PermitSerial == "" {
		t.Error("permit serial not assigned")
	}
	if got.PermitIssuedAt == nil {
		t.Error("permit issue timestamp not set")
	}

	audit, _ := repo.ListPaymentEventsByApplication(app.ID)
	if len(audit) != 2 {
		t.Fatalf("audit rows = %d, want 2 (generation started + issued)", len(audit))
	}
	if audit[0].EventType != "permit.generation_started" || audit[1].EventType != "permit.issued" {
		t.Errorf("audit trail = [%s, %s]", audit[0].EventType, audit[1].EventType)
	}
	if len(notifier.notified) != 1 {
		t.Errorf("permit-ready notifications = %d, want 1", len(notifier.notified))
	}
}

func TestGeneratePermitRejectsUnpaidApplication(t *testing.T) {
	repo := newMemRepository()
	app := repo.addApplication(models.StatusAwaitingPayment)

	proc, _, _, _ := newTestProcessor(repo)

	err := proc.GeneratePermit(context.Background(), app.ID)
	if err == nil {
		t.Fatal("expected error for unpaid application")
	}
	if KindOf(err) != KindIllegalTransition {
		t.Errorf("kind = %s, want %s", KindOf(err), KindIllegalTransition)
	}
}
