package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/tramitex/permisos/internal/pkg/database"
	"github.com/tramitex/permisos/internal/pkg/jobqueue"
	"github.com/tramitex/permisos/internal/pkg/metrics"
	"github.com/tramitex/permisos/internal/pkg/payments"
)

// PaymentSignatureHeader carries the provider's HMAC of the request body.
const PaymentSignatureHeader = "X-Payment-Signature"

// Test seams: production wiring resolves the service and the queue lazily so
// handlers can run against fakes without Redis or MySQL.
var (
	paymentServiceFn = func() *payments.Service {
		return payments.NewServiceFromDB(database.GetDB())
	}
	enqueueWebhookEventFn = func(eventID uint) error {
		return jobqueue.GetManager().GetQueue().EnqueueProcessPaymentEvent(eventID)
	}
)

// HandlePaymentWebhook ingests a provider payment notification. The contract
// with the provider is: verify first, persist exactly once, acknowledge, and
// do all state reconciliation asynchronously. A delivery that fails signature
// verification is rejected without leaving any trace.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get(PaymentSignatureHeader))

	svc := paymentServiceFn()

	ev, err := svc.ParseWebhook(rawBody, signature)
	if err != nil {
		if payments.KindOf(err) == payments.KindAuth {
			metrics.WebhookEventsReceived.WithLabelValues(metrics.ResultRejected).Inc()
			log.Warnf("[Webhook] Rejected delivery with invalid signature from %s", c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
		}
		metrics.WebhookEventsReceived.WithLabelValues(metrics.ResultRejected).Inc()
		log.Warnf("[Webhook] Rejected malformed delivery: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	created, stored, err := svc.RecordWebhookEvent(c.Context(), ev)
	if err != nil {
		log.Errorf("[Webhook] Failed to persist event %s: %v", ev.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created {
		metrics.WebhookEventsReceived.WithLabelValues(metrics.ResultDuplicate).Inc()
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	// The event is durable; acknowledge regardless of queue health. A failed
	// enqueue is recovered by the stuck-event reaper.
	if err := enqueueWebhookEventFn(stored.ID); err != nil {
		log.Errorf("[Webhook] Failed to enqueue event %d, reaper will recover it: %v", stored.ID, err)
	}

	metrics.WebhookEventsReceived.WithLabelValues(metrics.ResultAccepted).Inc()
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

// statusForServiceError maps service-layer errors onto HTTP statuses by
// error kind.
func statusForServiceError(err error) int {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fiber.StatusNotFound
	}
	switch payments.KindOf(err) {
	case payments.KindNotFound:
		return fiber.StatusNotFound
	case payments.KindIllegalTransition, payments.KindAlreadySatisfied, payments.KindDuplicate:
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}
