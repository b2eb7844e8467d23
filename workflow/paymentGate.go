package workflow

import (
	"bitbucket.org/openscholar/ujmp_backend/models"
)

// PaymentGateSatisfied is the single predicate consulted by gated
// transitions. It reads only the payment axis and never mutates anything.
// PENDING deliberately fails the gate even when a completed payment row
// exists but reconciliation has not yet flipped the status: the gate trusts
// the article's payment_status alone.
func PaymentGateSatisfied(ps models.PaymentStatus) bool {
	return ps == models.PaymentStatusPaid || ps == models.PaymentStatusNotRequired
}
