package payments

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure classes the reconciliation engine
// distinguishes. Dispatch happens on the kind, never on message contents.
type ErrorKind string

const (
	// KindAuth marks a bad webhook signature. Permanent, rejected at the
	// boundary, no state is created.
	KindAuth ErrorKind = "auth"
	// KindDuplicate marks a redelivered provider event. Not a failure;
	// callers acknowledge and move on.
	KindDuplicate ErrorKind = "duplicate"
	// KindLockContention marks a lost race for the application row lock.
	// Recoverable via the retry scheduler.
	KindLockContention ErrorKind = "lock_contention"
	// KindAlreadySatisfied marks a transition whose destination status is
	// already in effect. Idempotent no-op, not a failure.
	KindAlreadySatisfied ErrorKind = "already_satisfied"
	// KindIllegalTransition marks a logically impossible transition. The
	// event scheduler still re-attempts it (a concurrent transition may
	// resolve it), but the alert fires once the budget runs out.
	KindIllegalTransition ErrorKind = "illegal_transition"
	// KindNotFound marks an event whose payment reference resolves to no
	// application yet. Retryable: the reference may be written by an
	// in-flight payment initiation.
	KindNotFound ErrorKind = "not_found"
	// KindTransient marks infrastructure failures (DB, network). Retryable.
	KindTransient ErrorKind = "transient"
	// KindRetriesExhausted marks an event that burned its full retry budget.
	// Terminal; raises an operator alert.
	KindRetriesExhausted ErrorKind = "retries_exhausted"
)

// Error carries an ErrorKind alongside the underlying cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("payments: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("payments: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind. A nil err is allowed for kinds that are
// states rather than causes (duplicate, already satisfied).
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the kind from err, or KindTransient when err carries none.
// Unknown errors default to retryable: misclassifying a transient failure as
// permanent loses events, the reverse only costs retries.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

// IsRetryable reports whether the retry scheduler should re-attempt after err.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindLockContention, KindNotFound, KindTransient:
		return true
	default:
		return false
	}
}
