package controllers

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/tramitex/permisos/app/models"
)

// CreateApplicationRequest is the payload for registering a new permit
// application. Amount and currency are fixed here and never taken from any
// later payment request.
type CreateApplicationRequest struct {
	ApplicantName  string `json:"applicant_name"`
	ApplicantEmail string `json:"applicant_email"`
	VehiclePlate   string `json:"vehicle_plate"`
	VehicleMake    string `json:"vehicle_make"`
	VehicleModel   string `json:"vehicle_model"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
}

// HandleCreateApplication registers a permit application in the initial
// awaiting-payment state.
func HandleCreateApplication(c *fiber.Ctx) error {
	var req CreateApplicationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed JSON body"})
	}

	app := models.NewApplication(
		strings.TrimSpace(req.ApplicantName),
		strings.TrimSpace(req.ApplicantEmail),
		strings.ToUpper(strings.TrimSpace(req.VehiclePlate)),
		strings.TrimSpace(req.VehicleMake),
		strings.TrimSpace(req.VehicleModel),
		req.AmountCents,
		strings.ToUpper(strings.TrimSpace(req.Currency)),
	)

	if err := paymentServiceFn().CreateApplication(c.Context(), app); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error":   "validation_failed",
				"message": validationMessage(verrs),
			})
		}
		log.Errorf("[Application] Create failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to create application"})
	}

	return c.Status(fiber.StatusCreated).JSON(app)
}

// HandleGetApplication returns an application by its public id.
func HandleGetApplication(c *fiber.Ctx) error {
	app, err := paymentServiceFn().GetApplication(c.Context(), c.Params("id"))
	if err != nil {
		if status := statusForServiceError(err); status == fiber.StatusNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Application not found"})
		}
		log.Errorf("[Application] Lookup failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load application"})
	}
	return c.JSON(app)
}

// HandleApplicationEvents returns the append-only payment history of an
// application, oldest first.
func HandleApplicationEvents(c *fiber.Ctx) error {
	events, err := paymentServiceFn().PaymentHistory(c.Context(), c.Params("id"))
	if err != nil {
		if status := statusForServiceError(err); status == fiber.StatusNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Application not found"})
		}
		log.Errorf("[Application] History lookup failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load payment history"})
	}
	return c.JSON(fiber.Map{"events": events})
}

// HandleRetryPayment moves a failed application back to awaiting payment so
// the applicant can start a fresh attempt.
func HandleRetryPayment(c *fiber.Ctx) error {
	app, err := paymentServiceFn().RetryPayment(c.Context(), c.Params("id"))
	if err != nil {
		status := statusForServiceError(err)
		switch status {
		case fiber.StatusNotFound:
			return c.Status(status).JSON(fiber.Map{"error": "not_found", "message": "Application not found"})
		case fiber.StatusConflict:
			return c.Status(status).JSON(fiber.Map{"error": "retry_not_allowed", "message": "Application is not in a failed state"})
		default:
			log.Errorf("[Application] Payment retry failed: %v", err)
			return c.Status(status).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to retry payment"})
		}
	}
	return c.JSON(app)
}

// HandleRenewApplication creates a follow-up application for a permit holder.
// Only applications with an issued permit can be renewed.
func HandleRenewApplication(c *fiber.Ctx) error {
	renewal, err := paymentServiceFn().RenewApplication(c.Context(), c.Params("id"))
	if err != nil {
		status := statusForServiceError(err)
		switch status {
		case fiber.StatusNotFound:
			return c.Status(status).JSON(fiber.Map{"error": "not_found", "message": "Application not found"})
		case fiber.StatusConflict:
			return c.Status(status).JSON(fiber.Map{"error": "renewal_not_allowed", "message": "Only applications with an issued permit can be renewed"})
		default:
			log.Errorf("[Application] Renewal failed: %v", err)
			return c.Status(status).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to renew application"})
		}
	}
	return c.Status(fiber.StatusCreated).JSON(renewal)
}

func validationMessage(verrs validator.ValidationErrors) string {
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return "Invalid fields: " + strings.Join(fields, ", ")
}
