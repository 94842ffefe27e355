package jobqueue

import (
	"context"
	"testing"
)

func TestEnqueueProcessPaymentEventRoundTrip(t *testing.T) {
	host, port, password := resolveTestRedis(t)
	configureTestCache(host, port, password)
	resetJobQueueRedis(t)
	t.Cleanup(func() { resetJobQueueRedis(t) })

	q := NewQueue(1)

	if err := q.EnqueueProcessPaymentEvent(42); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	ctx := context.Background()
	size, err := q.GetQueueSize(ctx)
	if err != nil {
		t.Fatalf("queue size: %v", err)
	}
	if size != 1 {
		t.Fatalf("expected 1 pending job, got %d", size)
	}

	job, err := q.dequeueJob(ctx)
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if job.Type != JobTypeProcessPaymentEvent {
		t.Errorf("expected job type %s, got %s", JobTypeProcessPaymentEvent, job.Type)
	}

	payload, err := ProcessPaymentEventPayloadFromMap(job.Payload)
	if err != nil {
		t.Fatalf("payload decode: %v", err)
	}
	if payload.WebhookEventID != 42 {
		t.Errorf("expected webhook event ID 42, got %d", payload.WebhookEventID)
	}
}

func TestDequeueMovesJobToProcessing(t *testing.T) {
	host, port, password := resolveTestRedis(t)
	configureTestCache(host, port, password)
	resetJobQueueRedis(t)
	t.Cleanup(func() { resetJobQueueRedis(t) })

	q := NewQueue(1)

	if err := q.EnqueuePermitGeneration(7); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	ctx := context.Background()
	if _, err := q.dequeueJob(ctx); err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}

	processing, err := q.GetProcessingSize(ctx)
	if err != nil {
		t.Fatalf("processing size: %v", err)
	}
	if processing != 1 {
		t.Fatalf("expected 1 job in processing, got %d", processing)
	}

	pending, err := q.GetQueueSize(ctx)
	if err != nil {
		t.Fatalf("queue size: %v", err)
	}
	if pending != 0 {
		t.Fatalf("expected empty pending queue, got %d", pending)
	}
}
