package notify

import (
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/tramitex/permisos/app/models"
	"github.com/tramitex/permisos/internal/pkg/env"
	"github.com/tramitex/permisos/internal/pkg/mail"
	"github.com/tramitex/permisos/internal/pkg/payments"
)

// MailNotifier tells applicants about payment outcomes by email. Best effort:
// callers log failures and move on.
type MailNotifier struct {
	repo payments.Repository
}

func NewMailNotifier(repo payments.Repository) *MailNotifier {
	return &MailNotifier{repo: repo}
}

func (n *MailNotifier) NotifyPaymentOutcome(applicationID uint, newStatus string) error {
	app, err := n.repo.GetApplicationByID(applicationID)
	if err != nil {
		return err
	}

	subject, body := messageForStatus(app, newStatus)
	if subject == "" {
		// Intermediate statuses produce no applicant-facing mail.
		return nil
	}
	return mail.SendMail(app.ApplicantEmail, subject, body)
}

func messageForStatus(app *models.Application, status string) (string, string) {
	switch status {
	case models.StatusPaymentReceived:
		return "Payment received for permit application " + app.PublicID,
			fmt.Sprintf("<p>We received your payment for plate <b>%s</b>. Your permit is being generated.</p>", app.VehiclePlate)
	case models.StatusPermitReady:
		return "Your circulation permit is ready",
			fmt.Sprintf("<p>Permit <b>%s</b> for plate <b>%s</b> has been issued.</p>", app.PermitSerial, app.VehiclePlate)
	case models.StatusPaymentFailed:
		return "Payment failed for permit application " + app.PublicID,
			"<p>Your payment could not be completed. You can retry the payment from your application page.</p>"
	case models.StatusAwaitingOxxoPayment:
		return "Your OXXO payment voucher is ready",
			"<p>Complete your payment at any OXXO store using the voucher from your application page.</p>"
	default:
		return "", ""
	}
}

// MailAlerter raises operator alerts by email, falling back to the error log
// when no recipient is configured.
type MailAlerter struct {
	Recipient string
}

func NewMailAlerterFromEnv() *MailAlerter {
	return &MailAlerter{Recipient: env.GetEnv("OPS_ALERT_EMAIL", "")}
}

func (a *MailAlerter) Alert(subject, detail string) {
	log.Errorf("[Alert] %s: %s", subject, detail)
	if a.Recipient == "" {
		return
	}
	if err := mail.SendMail(a.Recipient, "[permisos] "+subject, "<pre>"+detail+"</pre>"); err != nil {
		log.Errorf("[Alert] Failed to deliver operator alert mail: %v", err)
	}
}
