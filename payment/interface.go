package payment

import (
	"context"

	"github.com/shopspring/decimal"

	"bitbucket.org/openscholar/ujmp_backend/models"
)

// Event is the provider-neutral settlement notification after signature
// verification and parsing. Providers map their own payload shape onto it.
type Event struct {
	TransactionId string          `json:"transaction_id" validate:"required"`
	InvoiceNumber string          `json:"invoice_number" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status" validate:"required,oneof=paid failed cancelled"`
}

const (
	EventStatusPaid      = "paid"
	EventStatusFailed    = "failed"
	EventStatusCancelled = "cancelled"
)

// Channel is one payment provider integration. VerifySignature and
// ParseEvent are pure; only InitiatePayment talks to the provider.
type Channel interface {
	Name() models.PaymentProvider
	InitiatePayment(ctx context.Context, invoice *models.Invoice, returnURL string) (string, error)
	VerifySignature(rawBody []byte, signature string) bool
	ParseEvent(rawBody []byte) (*Event, error)
}
