package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/openscholar/ujmp_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Journal struct {
	ID    int    `gorm:"primary_key" json:"id"`
	Name  string `gorm:"size:255;uniqueIndex;not null" json:"name"`
	Issn  string `gorm:"size:20" json:"issn"`
	Scope string `gorm:"type:text" json:"scope"`

	ApcEnabled bool            `gorm:"not null" json:"apc_enabled"`
	ApcAmount  decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"apc_amount"`
	Currency   string          `gorm:"size:3;not null;default:USD" json:"currency"`

	// LogoObjectKey references the external storage collaborator.
	LogoObjectKey      string `gorm:"size:500" json:"logo_object_key"`
	PublicationBaseUrl string `gorm:"size:500" json:"publication_base_url"`

	IsActive  bool      `gorm:"not null;default:1" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// APCConfig is the snapshot read at acceptance time. Invoices copy these
// values; later journal edits never affect an existing invoice.
type APCConfig struct {
	Enabled  bool            `json:"enabled"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// GetJournalAPCTx reads the journal's APC configuration inside the caller's
// transaction (the acceptance transition reads it within its atomic unit).
func GetJournalAPCTx(tx *gorm.DB, journalId int) (*APCConfig, error) {
	var journal Journal
	if err := tx.Where("id = ?", journalId).First(&journal).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("journal not found")
		}
		return nil, err
	}
	return &APCConfig{
		Enabled:  journal.ApcEnabled,
		Amount:   journal.ApcAmount,
		Currency: journal.Currency,
	}, nil
}

// GetJournalAPC is the cached read path for display purposes (redis, journal
// edits invalidate). Transitions use GetJournalAPCTx instead.
func GetJournalAPC(ctx context.Context, journalId int) (*APCConfig, error) {
	redisKey := fmt.Sprintf("apcConfig:%d", journalId)
	var cached APCConfig
	exists, err := config.GetRedisObject(redisKey, &cached)
	if err != nil {
		return nil, err
	}
	if exists {
		return &cached, nil
	}

	apc, err := GetJournalAPCTx(config.GetDB().WithContext(ctx), journalId)
	if err != nil {
		return nil, err
	}
	if err := config.SetRedisObject(redisKey, apc, time.Hour); err != nil {
		return nil, err
	}
	return apc, nil
}

func GetJournalById(ctx context.Context, id int) (*Journal, error) {
	var journal Journal
	db := config.GetDB()
	if err := db.WithContext(ctx).Where("id = ?", id).First(&journal).Error; err != nil {
		return nil, err
	}
	return &journal, nil
}

type JournalInput struct {
	Name               string          `json:"name" binding:"required"`
	Issn               string          `json:"issn"`
	Scope              string          `json:"scope"`
	ApcEnabled         bool            `json:"apc_enabled"`
	ApcAmount          decimal.Decimal `json:"apc_amount"`
	Currency           string          `json:"currency"`
	PublicationBaseUrl string          `json:"publication_base_url"`
}

func CreateJournal(ctx context.Context, input *JournalInput) (*Journal, error) {
	currency := input.Currency
	if currency == "" {
		currency = "USD"
	}
	journal := Journal{
		Name:               input.Name,
		Issn:               input.Issn,
		Scope:              input.Scope,
		ApcEnabled:         input.ApcEnabled,
		ApcAmount:          input.ApcAmount,
		Currency:           currency,
		PublicationBaseUrl: input.PublicationBaseUrl,
		IsActive:           true,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&journal).Error; err != nil {
		return nil, err
	}
	return &journal, nil
}

func UpdateJournalAPC(ctx context.Context, journalId int, apcEnabled bool, apcAmount decimal.Decimal, currency string) error {
	db := config.GetDB()
	err := db.WithContext(ctx).Model(&Journal{}).Where("id = ?", journalId).
		Updates(map[string]interface{}{
			"apc_enabled": apcEnabled,
			"apc_amount":  apcAmount,
			"currency":    currency,
		}).Error
	if err != nil {
		return err
	}
	return config.RemoveRedisKey(fmt.Sprintf("apcConfig:%d", journalId))
}
