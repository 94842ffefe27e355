package payments

import (
	"context"
	"testing"

	"github.com/tramitex/permisos/app/models"
)

type fakeProcessor struct {
	createCalls int
	getCalls    int
	intent      Intent
}

func (f *fakeProcessor) CreateIntent(_ context.Context, in CreateIntentInput) (*Intent, error) {
	f.createCalls++
	out := f.intent
	out.Method = in.Method
	return &out, nil
}

func (f *fakeProcessor) GetIntent(_ context.Context, reference string) (*Intent, error) {
	f.getCalls++
	out := f.intent
	out.Reference = reference
	return &out, nil
}

func (f *fakeProcessor) ParseEvent(payload []byte, _ string) (*ProviderEvent, error) {
	return ParseProviderEvent(payload)
}

func TestRecordWebhookEventIsIdempotent(t *testing.T) {
	repo := newMemRepository()
	svc := NewService(repo, &fakeProcessor{})
	ctx := context.Background()

	ev := &ProviderEvent{
		ID:               "evt_once",
		Type:             "payment_intent.succeeded",
		PaymentReference: "pi_1",
		Raw:              []byte(`{"id":"evt_once"}`),
	}

	created, first, err := svc.RecordWebhookEvent(ctx, ev)
	if err != nil {
		t.Fatalf("first admission error: %v", err)
	}
	if !created {
		t.Fatal("first delivery should create the event")
	}

	for i := 0; i < 3; i++ {
		createdAgain, stored, err := svc.RecordWebhookEvent(ctx, ev)
		if err != nil {
			t.Fatalf("redelivery %d error: %v", i, err)
		}
		if createdAgain {
			t.Fatalf("redelivery %d created a second row", i)
		}
		if stored.ID != first.ID {
			t.Fatalf("redelivery %d returned row %d, want %d", i, stored.ID, first.ID)
		}
	}

	if len(repo.events) != 1 {
		t.Errorf("stored events = %d, want 1", len(repo.events))
	}
}

func TestRecordWebhookEventRequiresProviderEventID(t *testing.T) {
	svc := NewService(newMemRepository(), &fakeProcessor{})
	if _, _, err := svc.RecordWebhookEvent(context.Background(), &ProviderEvent{Type: "x"}); err == nil {
		t.Fatal("expected error for missing provider event id")
	}
}

func TestStartPaymentCreatesIntentOnce(t *testing.T) {
	repo := newMemRepository()
	proc := &fakeProcessor{intent: Intent{Reference: "pi_new", Status: "requires_payment_method"}}
	svc := NewService(repo, proc)
	ctx := context.Background()

	app := models.NewApplication("Juan Perez", "juan@example.com", "XYZ-9876", "VW", "Jetta", 180000, "MXN")
	if err := svc.CreateApplication(ctx, app); err != nil {
		t.Fatalf("CreateApplication error: %v", err)
	}

	intent, err := svc.StartPayment(ctx, app.PublicID, MethodCard)
	if err != nil {
		t.Fatalf("StartPayment error: %v", err)
	}
	if intent.Reference != "pi_new" {
		t.Errorf("intent reference = %s", intent.Reference)
	}
	if proc.createCalls != 1 {
		t.Errorf("CreateIntent calls = %d, want 1", proc.createCalls)
	}

	stored, _ := repo.GetApplicationByID(app.ID)
	if stored.PaymentReference != "pi_new" {
		t.Errorf("payment reference = %s, want pi_new", stored.PaymentReference)
	}

	// Second start returns the provider's view of the existing intent
	// instead of creating another one.
	if _, err := svc.StartPayment(ctx, app.PublicID, MethodCard); err != nil {
		t.Fatalf("second StartPayment error: %v", err)
	}
	if proc.createCalls != 1 {
		t.Errorf("CreateIntent calls after second start = %d, want still 1", proc.createCalls)
	}
	if proc.getCalls != 1 {
		t.Errorf("GetIntent calls = %d, want 1", proc.getCalls)
	}
}

func TestStartPaymentRejectsSettledApplication(t *testing.T) {
	repo := newMemRepository()
	app := repo.addApplication(models.StatusPaymentReceived)
	svc := NewService(repo, &fakeProcessor{})

	_, err := svc.StartPayment(context.Background(), app.PublicID, MethodCard)
	if err == nil {
		t.Fatal("expected error for settled application")
	}
	if KindOf(err) != KindIllegalTransition {
		t.Errorf("kind = %s, want %s", KindOf(err), KindIllegalTransition)
	}
}

func TestRetryPaymentFromFailedState(t *testing.T) {
	repo := newMemRepository()
	app := repo.addApplication(models.StatusPaymentFailed)
	svc := NewService(repo, &fakeProcessor{})

	updated, err := svc.RetryPayment(context.Background(), app.PublicID)
	if err != nil {
		t.Fatalf("RetryPayment error: %v", err)
	}
	if updated.Status != models.StatusAwaitingPayment {
		t.Errorf("status = %s, want %s", updated.Status, models.StatusAwaitingPayment)
	}

	audit, _ := repo.ListPaymentEventsByApplication(app.ID)
	if len(audit) != 1 || audit[0].EventType != "payment.retry_requested" {
		t.Errorf("audit trail = %+v, want one payment.retry_requested row", audit)
	}
}

func TestRetryPaymentRejectsNonFailedStates(t *testing.T) {
	repo := newMemRepository()
	app := repo.addApplication(models.StatusPermitReady)
	svc := NewService(repo, &fakeProcessor{})

	if _, err := svc.RetryPayment(context.Background(), app.PublicID); KindOf(err) != KindIllegalTransition {
		t.Errorf("kind = %s, want %s", KindOf(err), KindIllegalTransition)
	}
}

func TestRenewApplication(t *testing.T) {
	repo := newMemRepository()
	original := repo.addApplication(models.StatusPermitReady)
	svc := NewService(repo, &fakeProcessor{})

	renewal, err := svc.RenewApplication(context.Background(), original.PublicID)
	if err != nil {
		t.Fatalf("RenewApplication error: %v", err)
	}
	if renewal.ID == original.ID {
		t.Error("renewal reused the original row")
	}
	if renewal.Status != models.StatusAwaitingPayment {
		t.Errorf("renewal status = %s, want %s", renewal.Status, models.StatusAwaitingPayment)
	}
	if renewal.RenewedFromID == nil || *renewal.RenewedFromID != original.ID {
		t.Error("renewal does not reference the original application")
	}
	if renewal.PaymentReference != "" {
		t.Errorf("renewal inherited payment reference %s", renewal.PaymentReference)
	}
	if renewal.VehiclePlate != original.VehiclePlate {
		t.Errorf("renewal plate = %s, want %s", renewal.VehiclePlate, original.VehiclePlate)
	}

	// Original stays untouched.
	stored, _ := repo.GetApplicationByID(original.ID)
	if stored.Status != models.StatusPermitReady {
		t.Errorf("original status changed to %s", stored.Status)
	}

	if _, err := svc.RenewApplication(context.Background(), repo.addApplication(models.StatusAwaitingPayment).PublicID); KindOf(err) != KindIllegalTransition {
		t.Errorf("renewing an unissued application: kind = %s, want %s", KindOf(err), KindIllegalTransition)
	}
}

func TestReplayWebhookEvent(t *testing.T) {
	repo := newMemRepository()
	event := repo.addEvent("payment_intent.succeeded", "pi_1")
	event.ProcessingStatus = models.WebhookStatusFailed
	event.RetryCount = 5
	event.LastError = "parked"
	svc := NewService(repo, &fakeProcessor{})
	ctx := context.Background()

	replayed, err := svc.ReplayWebhookEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("ReplayWebhookEvent error: %v", err)
	}
	if replayed.ProcessingStatus != models.WebhookStatusReceived {
		t.Errorf("status = %s, want received", replayed.ProcessingStatus)
	}
	if replayed.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", replayed.RetryCount)
	}
	if replayed.LastError != "" {
		t.Errorf("last error = %q, want cleared", replayed.LastError)
	}

	// Processed events are refused.
	processed := repo.addEvent("payment_intent.succeeded", "pi_2")
	processed.ProcessingStatus = models.WebhookStatusProcessed
	if _, err := svc.ReplayWebhookEvent(ctx, processed.ID); KindOf(err) != KindAlreadySatisfied {
		t.Errorf("replaying a processed event: kind = %s, want %s", KindOf(err), KindAlreadySatisfied)
	}
}
