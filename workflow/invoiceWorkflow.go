package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"bitbucket.org/openscholar/ujmp_backend/config"
	"bitbucket.org/openscholar/ujmp_backend/models"
	"bitbucket.org/openscholar/ujmp_backend/payment"
	"bitbucket.org/openscholar/ujmp_backend/utils"
)

// ChargeRequired decides at acceptance time whether an APC invoice is owed.
// Charging disabled or a non-positive amount means NOT_REQUIRED.
func ChargeRequired(apc *models.APCConfig) bool {
	return apc.Enabled && apc.Amount.IsPositive()
}

// createInvoiceOnAcceptanceTx runs inside the acceptance transition's
// transaction. It snapshots the journal's APC configuration at this moment:
// charging enabled with a positive amount creates the PENDING invoice and
// moves the payment axis to PENDING, anything else moves it straight to
// NOT_REQUIRED. Later APC changes never touch existing invoices.
func createInvoiceOnAcceptanceTx(tx *gorm.DB, article *models.Article) error {
	apc, err := models.GetJournalAPCTx(tx, article.JournalId)
	if err != nil {
		return err
	}
	if !ChargeRequired(apc) {
		return setArticlePaymentStatusTx(tx, article, models.PaymentStatusNotRequired)
	}

	invoice := models.Invoice{
		InvoiceNumber: models.GenerateInvoiceNumber(),
		ArticleId:     article.ID,
		Amount:        apc.Amount,
		Currency:      apc.Currency,
		Status:        models.InvoiceStatusPending,
	}
	if err := tx.Create(&invoice).Error; err != nil {
		if models.IsDuplicateKeyErr(err) {
			// One invoice per article is storage-enforced.
			return errors.New("invoice already exists for article")
		}
		return err
	}
	if err := setArticlePaymentStatusTx(tx, article, models.PaymentStatusPending); err != nil {
		return err
	}

	return models.AppendAuditEntry(tx, models.AuditActionInvoiceCreated, models.EntityTypeInvoice, invoice.ID, map[string]interface{}{
		"invoice_number": invoice.InvoiceNumber,
		"article_id":     article.ID,
		"amount":         invoice.Amount.String(),
		"currency":       invoice.Currency,
	})
}

// setArticlePaymentStatusTx is the only way the payment axis is persisted.
// It writes the single column so it can never clobber Article.Status, which
// the transition engine commits under the article lock.
func setArticlePaymentStatusTx(tx *gorm.DB, article *models.Article, status models.PaymentStatus) error {
	article.PaymentStatus = status
	return tx.Model(&models.Article{}).
		Where("id = ?", article.ID).
		Update("payment_status", status).Error
}

// MarkInvoicePaid is the manual settlement path for bank transfers and admin
// overrides. It is idempotent: confirming an already-paid invoice is a no-op.
func MarkInvoicePaid(ctx context.Context, invoiceNumber string, provider models.PaymentProvider, providerTxnId string) (*models.Invoice, error) {
	role, ok := actorRole(ctx)
	if !ok || role != models.RoleAdmin {
		return nil, ErrUnauthorized
	}

	var invoice *models.Invoice
	db := config.GetDB()
	err := db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := AcquireInvoiceLock(conn, invoiceNumber); err != nil {
			return err
		}
		defer ReleaseInvoiceLock(conn, invoiceNumber)

		return conn.Transaction(func(tx *gorm.DB) error {
			inv, err := markInvoicePaidTx(tx, invoiceNumber, provider, providerTxnId)
			if err != nil {
				return err
			}
			if err := models.AppendAuditEntry(tx, models.AuditActionAdminOverride, models.EntityTypeInvoice, inv.ID, map[string]interface{}{
				"invoice_number": invoiceNumber,
				"provider":       string(provider),
			}); err != nil {
				return err
			}
			invoice = inv
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

// markInvoicePaidTx flips the ledger to PAID and propagates the payment axis
// to the article. It writes payment_status only; Article.Status is owned by
// the transition engine and is never touched here. Callers hold the invoice
// lock and an open transaction.
func markInvoicePaidTx(tx *gorm.DB, invoiceNumber string, provider models.PaymentProvider, providerTxnId string) (*models.Invoice, error) {
	invoice, err := models.GetInvoiceByNumberTx(tx, invoiceNumber)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	if invoice.Status == models.InvoiceStatusPaid {
		return invoice, nil
	}

	now := time.Now().UTC()
	invoice.Status = models.InvoiceStatusPaid
	invoice.PaymentProvider = &provider
	if providerTxnId != "" {
		invoice.ProviderTransactionId = &providerTxnId
	}
	invoice.PaidAt = &now
	if err := tx.Save(invoice).Error; err != nil {
		return nil, err
	}

	if err := tx.Model(&models.Article{}).
		Where("id = ?", invoice.ArticleId).
		Update("payment_status", models.PaymentStatusPaid).Error; err != nil {
		return nil, err
	}

	if err := models.AppendAuditEntry(tx, models.AuditActionPaymentConfirmed, models.EntityTypeInvoice, invoice.ID, map[string]interface{}{
		"invoice_number":          invoice.InvoiceNumber,
		"provider":                string(provider),
		"provider_transaction_id": providerTxnId,
	}); err != nil {
		return nil, err
	}
	return invoice, nil
}

// PaymentInitResult is what the paying author is redirected with.
type PaymentInitResult struct {
	InvoiceNumber string          `json:"invoice_number"`
	Provider      string          `json:"provider"`
	PaymentUrl    string          `json:"payment_url"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
}

const providerCallTimeout = 10 * time.Second

// InitiatePayment asks the provider for a checkout URL. It mutates nothing
// locally, so no entity lock is taken; settlement arrives later through the
// webhook reconciler. Provider failures surface as ErrProviderUnavailable
// and leave all records untouched.
func InitiatePayment(ctx context.Context, invoiceNumber string, providerName string, returnURL string) (*PaymentInitResult, error) {
	invoice, err := models.GetInvoiceByNumber(ctx, invoiceNumber)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	if invoice.Status != models.InvoiceStatusPending {
		return nil, ErrInvoiceNotPayable
	}

	channel := payment.Get(providerName)
	if channel == nil {
		return nil, ErrProviderUnavailable
	}

	callCtx, cancel := context.WithTimeout(ctx, providerCallTimeout)
	defer cancel()
	paymentUrl, err := channel.InitiatePayment(callCtx, invoice, returnURL)
	if err != nil {
		config.LogError(config.GetLogger(), "workflow", "InitiatePayment", "provider call failed", map[string]interface{}{
			"invoice_number": invoiceNumber,
			"provider":       providerName,
		}, err)
		return nil, ErrProviderUnavailable
	}

	return &PaymentInitResult{
		InvoiceNumber: invoice.InvoiceNumber,
		Provider:      string(channel.Name()),
		PaymentUrl:    paymentUrl,
		Amount:        invoice.Amount,
		Currency:      invoice.Currency,
	}, nil
}
