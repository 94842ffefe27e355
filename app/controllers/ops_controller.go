package controllers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/tramitex/permisos/internal/pkg/jobqueue"
)

// HandleListFailedEvents returns webhook events that exhausted their retry
// budget and wait for operator attention.
func HandleListFailedEvents(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	events, err := paymentServiceFn().FailedWebhookEvents(c.Context(), limit)
	if err != nil {
		log.Errorf("[Ops] Failed event listing error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.JSON(fiber.Map{"events": events, "count": len(events)})
}

// HandleReplayEvent resets a parked webhook event and re-enqueues it with a
// fresh retry budget. Events that already processed are refused.
func HandleReplayEvent(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || id == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid event id"})
	}

	event, err := paymentServiceFn().ReplayWebhookEvent(c.Context(), uint(id))
	if err != nil {
		status := statusForServiceError(err)
		switch status {
		case fiber.StatusNotFound:
			return c.Status(status).JSON(fiber.Map{"error": "not_found", "message": "Webhook event not found"})
		case fiber.StatusConflict:
			return c.Status(status).JSON(fiber.Map{"error": "already_processed", "message": "Event already processed"})
		default:
			log.Errorf("[Ops] Replay reset failed for event %d: %v", id, err)
			return c.Status(status).JSON(fiber.Map{"error": "internal_server_error"})
		}
	}

	if err := enqueueWebhookEventFn(event.ID); err != nil {
		log.Errorf("[Ops] Replay enqueue failed for event %d, reaper will recover it: %v", event.ID, err)
	}

	log.Infof("[Ops] Replaying webhook event %d (%s)", event.ID, event.ProviderEventID)
	return c.JSON(fiber.Map{"ok": true, "event": event})
}

// HandleReapStuckEvents triggers one manual reaper pass over events that were
// acknowledged but never finished processing.
func HandleReapStuckEvents(c *fiber.Ctx) error {
	if err := jobqueue.GetManager().ReapStuckEventsOnce(); err != nil {
		log.Errorf("[Ops] Manual reap failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.JSON(fiber.Map{"ok": true})
}

// HandleQueueStats reports job queue depth and status counters.
func HandleQueueStats(c *fiber.Ctx) error {
	queue := jobqueue.GetManager().GetQueue()

	stats, err := queue.GetJobStats(c.Context())
	if err != nil {
		log.Errorf("[Ops] Queue stats error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	pending, _ := queue.GetQueueSize(c.Context())
	processing, _ := queue.GetProcessingSize(c.Context())

	counts := make(map[string]int64, len(stats))
	for status, n := range stats {
		counts[string(status)] = n
	}

	return c.JSON(fiber.Map{
		"pending":    pending,
		"processing": processing,
		"totals":     counts,
	})
}
