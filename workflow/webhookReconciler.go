package workflow

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"bitbucket.org/openscholar/ujmp_backend/config"
	"bitbucket.org/openscholar/ujmp_backend/models"
	"bitbucket.org/openscholar/ujmp_backend/payment"
	"bitbucket.org/openscholar/ujmp_backend/utils"
)

// WebhookOutcome is the acknowledgement returned to the provider. Providers
// retry on anything but success, so duplicates acknowledge positively.
type WebhookOutcome struct {
	Status           string `json:"status"`
	AlreadyProcessed bool   `json:"already_processed,omitempty"`
	PaymentId        int    `json:"payment_id,omitempty"`
}

// recordStatusForEvent maps the provider's event status onto the ledger
// record. Anything unrecognized lands as FAILED rather than being dropped,
// so the transaction stays visible for dispute handling.
func recordStatusForEvent(eventStatus string) models.PaymentRecordStatus {
	switch eventStatus {
	case payment.EventStatusPaid:
		return models.PaymentRecordStatusCompleted
	case payment.EventStatusCancelled:
		return models.PaymentRecordStatusCancelled
	default:
		return models.PaymentRecordStatusFailed
	}
}

// auditActionForRecord picks the audit action for a recorded settlement
// event. Cancellations audit as failures; the distinction lives on the
// payment row itself.
func auditActionForRecord(status models.PaymentRecordStatus) string {
	if status == models.PaymentRecordStatusCompleted {
		return models.AuditActionPaymentConfirmed
	}
	return models.AuditActionPaymentFailed
}

// HandleProviderEvent reconciles one provider notification: verify the
// signature over the exact raw bytes, parse and validate the payload, then
// record the transaction exactly once under the invoice's lock. The unique
// constraint on provider_transaction_id is the idempotency backstop for
// duplicates that race past the pre-check. A replayed event acknowledges
// success without reapplying any side effect.
func HandleProviderEvent(ctx context.Context, providerName string, rawBody []byte, signature string) (*WebhookOutcome, error) {
	channel := payment.Get(providerName)
	if channel == nil {
		return nil, ErrNotFound
	}
	if !channel.VerifySignature(rawBody, signature) {
		return nil, ErrInvalidSignature
	}
	evt, err := channel.ParseEvent(rawBody)
	if err != nil {
		config.LogError(config.GetLogger(), "workflow", "HandleProviderEvent", "payload rejected", map[string]interface{}{
			"provider": providerName,
		}, err)
		return nil, ErrMalformedPayload
	}

	var outcome WebhookOutcome
	db := config.GetDB()
	err = db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := AcquireInvoiceLock(conn, evt.InvoiceNumber); err != nil {
			return err
		}
		defer ReleaseInvoiceLock(conn, evt.InvoiceNumber)

		return conn.Transaction(func(tx *gorm.DB) error {
			if existing, found, err := models.GetPaymentByProviderTransactionIdTx(tx, evt.TransactionId); err != nil {
				return err
			} else if found {
				outcome = WebhookOutcome{Status: "success", AlreadyProcessed: true, PaymentId: existing.ID}
				return nil
			}

			invoice, err := models.GetInvoiceByNumberTx(tx, evt.InvoiceNumber)
			if err != nil {
				if errors.Is(err, utils.ErrorRecordNotFound) {
					return ErrInvoiceNotFound
				}
				return err
			}

			amount := evt.Amount
			if amount.IsZero() {
				amount = invoice.Amount
			}
			recordStatus := recordStatusForEvent(evt.Status)
			var completedAt *time.Time
			if recordStatus == models.PaymentRecordStatusCompleted {
				now := time.Now().UTC()
				completedAt = &now
			}

			record := models.Payment{
				InvoiceId:             invoice.ID,
				Provider:              channel.Name(),
				ProviderTransactionId: evt.TransactionId,
				Amount:                amount,
				Currency:              invoice.Currency,
				Status:                recordStatus,
				WebhookData:           rawBody,
				CompletedAt:           completedAt,
			}
			if err := tx.Create(&record).Error; err != nil {
				if models.IsDuplicateKeyErr(err) {
					outcome = WebhookOutcome{Status: "success", AlreadyProcessed: true}
					return nil
				}
				return err
			}

			// The ledger entry is audited here for every event, not from
			// markInvoicePaidTx: a completed event for an invoice that is
			// already PAID still happened and still leaves a trail.
			if err := models.AppendAuditEntry(tx, auditActionForRecord(recordStatus), models.EntityTypePayment, record.ID, map[string]interface{}{
				"invoice_number":          invoice.InvoiceNumber,
				"provider":                string(channel.Name()),
				"provider_transaction_id": evt.TransactionId,
				"event_status":            evt.Status,
			}); err != nil {
				return err
			}

			if recordStatus == models.PaymentRecordStatusCompleted {
				if _, err := markInvoicePaidTx(tx, invoice.InvoiceNumber, channel.Name(), evt.TransactionId); err != nil {
					return err
				}
			}

			outcome = WebhookOutcome{Status: "success", PaymentId: record.ID}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}
