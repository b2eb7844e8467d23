package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/openscholar/ujmp_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Payment records a single provider transaction. The unique index on
// ProviderTransactionId is the webhook idempotency key: it is enforced by the
// storage layer, so two concurrent deliveries of the same event cannot both
// insert (spec for at-most-once application lives here, not in memory).
type Payment struct {
	ID        int             `gorm:"primary_key" json:"id"`
	InvoiceId int             `gorm:"not null;index" json:"invoice_id"`
	Provider  PaymentProvider `gorm:"size:20;not null" json:"provider"`

	ProviderTransactionId string `gorm:"size:255;uniqueIndex;not null" json:"provider_transaction_id"`

	Amount   decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency string          `gorm:"size:3;not null" json:"currency"`

	Status PaymentRecordStatus `gorm:"size:20;not null;index" json:"status"`

	// WebhookData retains the raw provider payload for dispute handling.
	WebhookData []byte `gorm:"type:json" json:"webhook_data"`

	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// GetPaymentByProviderTransactionIdTx looks up an existing payment inside the
// caller's transaction.
func GetPaymentByProviderTransactionIdTx(tx *gorm.DB, providerTxnId string) (*Payment, bool, error) {
	var payment Payment
	if err := tx.Where("provider_transaction_id = ?", providerTxnId).
		First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &payment, true, nil
}

func ListPaymentsForInvoice(ctx context.Context, invoiceId int) ([]*Payment, error) {
	var payments []*Payment
	db := config.GetDB()
	if err := db.WithContext(ctx).
		Where("invoice_id = ?", invoiceId).
		Order("created_at DESC").
		Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}
