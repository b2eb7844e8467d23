package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"bitbucket.org/openscholar/ujmp_backend/config"
	"bitbucket.org/openscholar/ujmp_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Invoice snapshots the journal's APC at acceptance time. At most one per
// article, created exactly once by the acceptance transition.
type Invoice struct {
	ID            int    `gorm:"primary_key" json:"id"`
	InvoiceNumber string `gorm:"size:50;uniqueIndex;not null" json:"invoice_number"`
	ArticleId     int    `gorm:"not null;uniqueIndex" json:"article_id"`

	Amount   decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency string          `gorm:"size:3;not null" json:"currency"`

	Status InvoiceStatus `gorm:"size:20;not null;index" json:"status"`

	PaymentProvider       *PaymentProvider `gorm:"size:20" json:"payment_provider"`
	ProviderTransactionId *string          `gorm:"size:255" json:"provider_transaction_id"`

	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	PaidAt    *time.Time `json:"paid_at"`
}

// GenerateInvoiceNumber returns an identifier of the form INV-<12 hex upper>.
func GenerateInvoiceNumber() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "INV-" + strings.ToUpper(hex[:12])
}

func GetInvoiceByNumber(ctx context.Context, invoiceNumber string) (*Invoice, error) {
	return getInvoiceByNumber(config.GetDB().WithContext(ctx), invoiceNumber)
}

func GetInvoiceByNumberTx(tx *gorm.DB, invoiceNumber string) (*Invoice, error) {
	return getInvoiceByNumber(tx, invoiceNumber)
}

func getInvoiceByNumber(tx *gorm.DB, invoiceNumber string) (*Invoice, error) {
	var invoice Invoice
	if err := tx.Where("invoice_number = ?", invoiceNumber).First(&invoice).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

func GetInvoiceByArticleId(ctx context.Context, articleId int) (*Invoice, error) {
	var invoice Invoice
	db := config.GetDB()
	if err := db.WithContext(ctx).Where("article_id = ?", articleId).
		First(&invoice).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

// ListInvoicesForActor scopes by role: authors see invoices on their own
// articles, reviewers and admins see all.
func ListInvoicesForActor(ctx context.Context, userId int, role Role) ([]*Invoice, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Invoice{}).Order("invoices.created_at DESC")
	if role == RoleAuthor {
		dbCtx = dbCtx.
			Joins("JOIN articles ON articles.id = invoices.article_id").
			Where("articles.corresponding_author_id = ?", userId)
	}
	var invoices []*Invoice
	if err := dbCtx.Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}
