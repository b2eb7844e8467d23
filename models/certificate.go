package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/openscholar/ujmp_backend/config"
	"bitbucket.org/openscholar/ujmp_backend/utils"
	"gorm.io/gorm"
)

// Certificate is issued when an article reaches PUBLISHED. Revocation is
// one-way; regeneration creates a new row with a fresh public identifier and
// the revoked one remains as history. At most one ACTIVE per article.
type Certificate struct {
	ID            int    `gorm:"primary_key" json:"id"`
	CertificateId string `gorm:"size:36;uniqueIndex;not null" json:"certificate_id"`
	ArticleId     int    `gorm:"not null;index" json:"article_id"`

	Status CertificateStatus `gorm:"size:20;not null;index" json:"status"`

	// PdfObjectKey is filled by the rendering worker once the PDF exists.
	PdfObjectKey string `gorm:"size:500" json:"pdf_object_key"`

	IssuedAt         time.Time  `gorm:"autoCreateTime" json:"issued_at"`
	RevokedAt        *time.Time `json:"revoked_at"`
	RevokedById      *int       `json:"revoked_by_id"`
	RevocationReason string     `gorm:"type:text" json:"revocation_reason"`
}

// GetActiveCertificateTx returns the ACTIVE certificate for an article inside
// the caller's transaction, or (nil, false) when none exists.
func GetActiveCertificateTx(tx *gorm.DB, articleId int) (*Certificate, bool, error) {
	var cert Certificate
	if err := tx.Where("article_id = ? AND status = ?", articleId, CertificateStatusActive).
		First(&cert).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &cert, true, nil
}

func GetCertificateByPublicId(ctx context.Context, certificateId string) (*Certificate, error) {
	return getCertificateByPublicId(config.GetDB().WithContext(ctx), certificateId)
}

func GetCertificateByPublicIdTx(tx *gorm.DB, certificateId string) (*Certificate, error) {
	return getCertificateByPublicId(tx, certificateId)
}

func getCertificateByPublicId(tx *gorm.DB, certificateId string) (*Certificate, error) {
	var cert Certificate
	if err := tx.Where("certificate_id = ?", certificateId).First(&cert).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &cert, nil
}

func ListCertificatesForArticle(ctx context.Context, articleId int) ([]*Certificate, error) {
	var certs []*Certificate
	db := config.GetDB()
	if err := db.WithContext(ctx).
		Where("article_id = ?", articleId).
		Order("issued_at DESC").
		Find(&certs).Error; err != nil {
		return nil, err
	}
	return certs, nil
}
