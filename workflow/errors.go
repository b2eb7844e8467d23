package workflow

import (
	"errors"
	"fmt"

	"bitbucket.org/openscholar/ujmp_backend/models"
)

// Every failure below is a recoverable, typed condition surfaced to the
// caller; none is a crash. Only a storage failure inside a transition's
// transaction is fatal to the operation, and the transaction boundary
// guarantees no half-applied transition is ever visible.
var (
	ErrIllegalTransition   = errors.New("illegal transition")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrPaymentRequired     = errors.New("payment required")
	ErrAlreadyIssued       = errors.New("certificate already issued")
	ErrAlreadyRevoked      = errors.New("certificate already revoked")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrMalformedPayload    = errors.New("malformed payload")
	ErrInvoiceNotFound     = errors.New("invoice not found")
	ErrInvoiceNotPayable   = errors.New("invoice is not payable")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrNotFound            = errors.New("not found")
)

// IllegalTransitionError carries the blocking reason so the calling interface
// can render an actionable message. errors.Is(err, ErrIllegalTransition) holds.
type IllegalTransitionError struct {
	From   models.ArticleStatus
	Action Action
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("no transition %q from state %s", e.Action, e.From)
}

func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// PaymentRequiredError reports a denied payment gate together with the
// article's current payment status for a precise user-facing message.
type PaymentRequiredError struct {
	PaymentStatus models.PaymentStatus
}

func (e *PaymentRequiredError) Error() string {
	return fmt.Sprintf("payment required before publication (payment status: %s)", e.PaymentStatus)
}

func (e *PaymentRequiredError) Is(target error) bool {
	return target == ErrPaymentRequired
}
