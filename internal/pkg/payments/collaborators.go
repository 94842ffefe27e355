package payments

// PermitEnqueuer enqueues permit generation for a paid application.
// Fire-and-forget, at-least-once: the permit worker is idempotent per
// application id.
type PermitEnqueuer interface {
	EnqueuePermitGeneration(applicationID uint) error
}

// Notifier requests an applicant-facing notification of a payment outcome.
// Best effort: failures are logged and must never block or roll back the
// payment-state commit.
type Notifier interface {
	NotifyPaymentOutcome(applicationID uint, newStatus string) error
}

// Alerter raises operator-facing alerts, e.g. when an event exhausts its
// retry budget or an illegal transition needs manual inspection.
type Alerter interface {
	Alert(subject, detail string)
}
