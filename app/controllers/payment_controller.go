package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/tramitex/permisos/internal/pkg/payments"
)

// StartPaymentRequest selects the payment method for an application. The
// amount is never part of this request; it lives on the application.
type StartPaymentRequest struct {
	Method string `json:"method"`
}

// HandleStartPayment creates a payment intent at the provider for an
// awaiting-payment application and returns the checkout details. Calling it
// again while an intent exists returns the provider's current view of that
// intent instead of creating a second one.
func HandleStartPayment(c *fiber.Ctx) error {
	var req StartPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed JSON body"})
	}

	method := strings.ToLower(strings.TrimSpace(req.Method))
	if method == "" {
		method = payments.MethodCard
	}
	if method != payments.MethodCard && method != payments.MethodOxxo {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Unsupported payment method"})
	}

	intent, err := paymentServiceFn().StartPayment(c.Context(), c.Params("id"), method)
	if err != nil {
		status := statusForServiceError(err)
		switch status {
		case fiber.StatusNotFound:
			return c.Status(status).JSON(fiber.Map{"error": "not_found", "message": "Application not found"})
		case fiber.StatusConflict:
			return c.Status(status).JSON(fiber.Map{"error": "payment_not_allowed", "message": "Application is not awaiting payment"})
		default:
			log.Errorf("[Payment] Start failed for %s: %v", c.Params("id"), err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_error", "message": "Payment provider request failed"})
		}
	}

	return c.JSON(intent)
}
