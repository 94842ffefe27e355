package payments

import (
	"fmt"
	"strings"

	"github.com/tramitex/permisos/app/models"
)

// Outcome is the normalized payment result carried by a provider event.
type Outcome string

const (
	OutcomeSucceeded      Outcome = "succeeded"
	OutcomeFailed         Outcome = "failed"
	OutcomeProcessing     Outcome = "processing"
	OutcomeRequiresAction Outcome = "requires_action"
	OutcomeCanceled       Outcome = "canceled"
	OutcomeExpired        Outcome = "expired"
)

// OutcomeForEventType maps raw provider event types to normalized outcomes.
// Unknown event types return false; the caller acknowledges and ignores them.
func OutcomeForEventType(eventType string) (Outcome, bool) {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "payment_intent.succeeded", "charge.succeeded":
		return OutcomeSucceeded, true
	case "payment_intent.payment_failed", "charge.failed":
		return OutcomeFailed, true
	case "payment_intent.processing":
		return OutcomeProcessing, true
	case "payment_intent.requires_action":
		return OutcomeRequiresAction, true
	case "payment_intent.canceled":
		return OutcomeCanceled, true
	case "payment_intent.expired", "charge.expired":
		return OutcomeExpired, true
	default:
		return "", false
	}
}

// destination is the status each outcome drives toward.
var destination = map[Outcome]string{
	OutcomeSucceeded:      models.StatusPaymentReceived,
	OutcomeFailed:         models.StatusPaymentFailed,
	OutcomeProcessing:     models.StatusPaymentProcessing,
	OutcomeRequiresAction: models.StatusAwaitingOxxoPayment,
	OutcomeCanceled:       models.StatusCancelled,
	OutcomeExpired:        models.StatusExpired,
}

// legalSources whitelists, per outcome, the statuses a transition may start
// from. Events arrive in arbitrary order; legality depends only on the current
// status, never on delivery sequence.
var legalSources = map[Outcome][]string{
	OutcomeSucceeded: {
		models.StatusAwaitingPayment,
		models.StatusAwaitingOxxoPayment,
		models.StatusPaymentProcessing,
		models.StatusPaymentFailed,
	},
	OutcomeFailed: {
		models.StatusAwaitingPayment,
		models.StatusAwaitingOxxoPayment,
		models.StatusPaymentProcessing,
	},
	OutcomeProcessing: {
		models.StatusAwaitingPayment,
	},
	OutcomeRequiresAction: {
		models.StatusAwaitingPayment,
		models.StatusPaymentProcessing,
	},
	OutcomeCanceled: {
		models.StatusAwaitingPayment,
		models.StatusAwaitingOxxoPayment,
		models.StatusPaymentProcessing,
		models.StatusPaymentFailed,
	},
	OutcomeExpired: {
		models.StatusAwaitingPayment,
		models.StatusAwaitingOxxoPayment,
		models.StatusPaymentFailed,
	},
}

// NextStatus decides the status an application moves to when outcome arrives
// while in current. The error, when non-nil, is kinded: KindAlreadySatisfied
// for idempotent replays, KindIllegalTransition for logical contradictions.
func NextStatus(current string, outcome Outcome) (string, error) {
	dest, ok := destination[outcome]
	if !ok {
		return "", NewError(KindIllegalTransition, "transition", fmt.Errorf("unknown outcome %q", outcome))
	}

	if current == dest {
		return "", NewError(KindAlreadySatisfied, "transition", nil)
	}

	// Settled applications treat every late payment outcome as already
	// handled, never as an error.
	if models.IsPaymentSettled(current) {
		return "", NewError(KindAlreadySatisfied, "transition", nil)
	}

	// The method-specific cash voucher status wins over the generic
	// processing status; a late "processing" event must not downgrade it.
	if current == models.StatusAwaitingOxxoPayment && outcome == OutcomeProcessing {
		return "", NewError(KindAlreadySatisfied, "transition", nil)
	}

	if models.IsAbsorbing(current) {
		return "", NewError(KindIllegalTransition, "transition",
			fmt.Errorf("application is %s and accepts no payment transitions", current))
	}

	for _, src := range legalSources[outcome] {
		if src == current {
			return dest, nil
		}
	}
	return "", NewError(KindIllegalTransition, "transition",
		fmt.Errorf("outcome %q is not legal from status %s", outcome, current))
}

// BeginPermitGeneration moves a paid application into permit generation.
// Idempotent: already generating (or done) is already satisfied.
func BeginPermitGeneration(current string) (string, error) {
	switch current {
	case models.StatusPaymentReceived:
		return models.StatusGeneratingPermit, nil
	case models.StatusGeneratingPermit, models.StatusPermitReady:
		return "", NewError(KindAlreadySatisfied, "permit", nil)
	default:
		return "", NewError(KindIllegalTransition, "permit",
			fmt.Errorf("cannot generate permit from status %s", current))
	}
}

// CompletePermitGeneration finishes permit generation.
func CompletePermitGeneration(current string) (string, error) {
	switch current {
	case models.StatusGeneratingPermit:
		return models.StatusPermitReady, nil
	case models.StatusPermitReady:
		return "", NewError(KindAlreadySatisfied, "permit", nil)
	default:
		return "", NewError(KindIllegalTransition, "permit",
			fmt.Errorf("cannot complete permit generation from status %s", current))
	}
}

// RetryAfterFailure moves a failed application back to awaiting payment so a
// new payment attempt can be started. Driven by an explicit applicant action,
// never by provider events.
func RetryAfterFailure(current string) (string, error) {
	switch current {
	case models.StatusPaymentFailed:
		return models.StatusAwaitingPayment, nil
	case models.StatusAwaitingPayment:
		return "", NewError(KindAlreadySatisfied, "retry", nil)
	default:
		return "", NewError(KindIllegalTransition, "retry",
			fmt.Errorf("cannot restart payment from status %s", current))
	}
}
