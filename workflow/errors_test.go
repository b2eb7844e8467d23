package workflow

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"bitbucket.org/openscholar/ujmp_backend/models"
)

func TestIllegalTransitionErrorCarriesBlockingReason(t *testing.T) {
	err := error(&IllegalTransitionError{From: models.StatusPublished, Action: ActionSubmit})
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatal("IllegalTransitionError does not match ErrIllegalTransition")
	}
	msg := err.Error()
	if !strings.Contains(msg, "PUBLISHED") || !strings.Contains(msg, "submit") {
		t.Errorf("message %q does not name state and action", msg)
	}

	wrapped := fmt.Errorf("apply: %w", err)
	if !errors.Is(wrapped, ErrIllegalTransition) {
		t.Error("wrapped error no longer matches ErrIllegalTransition")
	}
	var ite *IllegalTransitionError
	if !errors.As(wrapped, &ite) || ite.From != models.StatusPublished {
		t.Error("errors.As lost the transition detail")
	}
}

func TestPaymentRequiredErrorCarriesPaymentStatus(t *testing.T) {
	err := error(&PaymentRequiredError{PaymentStatus: models.PaymentStatusPending})
	if !errors.Is(err, ErrPaymentRequired) {
		t.Fatal("PaymentRequiredError does not match ErrPaymentRequired")
	}
	if !strings.Contains(err.Error(), "PENDING") {
		t.Errorf("message %q does not name the payment status", err.Error())
	}
}

func TestSentinelErrorsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrIllegalTransition,
		ErrUnauthorized,
		ErrPaymentRequired,
		ErrAlreadyIssued,
		ErrAlreadyRevoked,
		ErrInvalidSignature,
		ErrMalformedPayload,
		ErrInvoiceNotFound,
		ErrInvoiceNotPayable,
		ErrProviderUnavailable,
		ErrNotFound,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Errorf("sentinel %v matches %v", a, b)
			}
		}
	}
}
