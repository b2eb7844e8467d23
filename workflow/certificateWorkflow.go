package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bitbucket.org/openscholar/ujmp_backend/config"
	"bitbucket.org/openscholar/ujmp_backend/models"
	"bitbucket.org/openscholar/ujmp_backend/utils"
)

// issueCertificateTx creates the certificate row and enqueues its render
// job. At most one ACTIVE certificate exists per article; a live one makes
// issuance fail rather than silently duplicate. Callers hold the article
// lock and an open transaction.
func issueCertificateTx(tx *gorm.DB, article *models.Article) (*models.Certificate, error) {
	if _, found, err := models.GetActiveCertificateTx(tx, article.ID); err != nil {
		return nil, err
	} else if found {
		return nil, ErrAlreadyIssued
	}

	cert := models.Certificate{
		CertificateId: uuid.NewString(),
		ArticleId:     article.ID,
		Status:        models.CertificateStatusActive,
	}
	if err := tx.Create(&cert).Error; err != nil {
		return nil, err
	}
	if err := models.EnqueueRenderJobTx(tx, &cert, article.SubmissionId); err != nil {
		return nil, err
	}
	if err := models.AppendAuditEntry(tx, models.AuditActionCertificateIssued, models.EntityTypeCertificate, cert.ID, map[string]interface{}{
		"certificate_id": cert.CertificateId,
		"submission_id":  article.SubmissionId,
	}); err != nil {
		return nil, err
	}
	return &cert, nil
}

// RevokeCertificate permanently invalidates a certificate. Revocation is one
// way; a revoked certificate never returns to ACTIVE, and replacing it goes
// through RegenerateCertificate.
func RevokeCertificate(ctx context.Context, certificateId string, reason string) (*models.Certificate, error) {
	role, ok := actorRole(ctx)
	if !ok || role != models.RoleAdmin {
		return nil, ErrUnauthorized
	}

	var cert *models.Certificate
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := models.GetCertificateByPublicIdTx(tx, certificateId)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if c.Status == models.CertificateStatusRevoked {
			return ErrAlreadyRevoked
		}

		now := time.Now().UTC()
		actorId, _ := models.ActorFromContext(ctx)
		c.Status = models.CertificateStatusRevoked
		c.RevokedAt = &now
		c.RevokedById = actorId
		c.RevocationReason = reason
		if err := tx.Save(c).Error; err != nil {
			return err
		}
		if err := models.AppendAuditEntry(tx, models.AuditActionCertificateRevoked, models.EntityTypeCertificate, c.ID, map[string]interface{}{
			"certificate_id": c.CertificateId,
			"reason":         reason,
		}); err != nil {
			return err
		}
		cert = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cert, nil
}

// RegenerateCertificate issues a fresh certificate for a published article
// whose previous one was revoked. It serializes on the article lock so the
// single-ACTIVE invariant holds against concurrent issuance.
func RegenerateCertificate(ctx context.Context, submissionId string) (*models.Certificate, error) {
	role, ok := actorRole(ctx)
	if !ok || role != models.RoleAdmin {
		return nil, ErrUnauthorized
	}

	var cert *models.Certificate
	db := config.GetDB()
	err := db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := AcquireArticleLock(conn, submissionId); err != nil {
			return err
		}
		defer ReleaseArticleLock(conn, submissionId)

		return conn.Transaction(func(tx *gorm.DB) error {
			article, err := models.GetArticleBySubmissionIdTx(tx, submissionId)
			if err != nil {
				if errors.Is(err, utils.ErrorRecordNotFound) {
					return ErrNotFound
				}
				return err
			}
			if article.Status != models.StatusPublished {
				return &IllegalTransitionError{From: article.Status, Action: "regenerate_certificate"}
			}
			c, err := issueCertificateTx(tx, article)
			if err != nil {
				return err
			}
			cert = c
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return cert, nil
}

// VerificationResult is the public view behind certificate QR codes. It
// denormalizes the publication metadata so verification needs no further
// lookups, and it exposes nothing about articles that were never published.
type VerificationResult struct {
	CertificateId   string     `json:"certificate_id"`
	Status          string     `json:"status"`
	SubmissionId    string     `json:"submission_id"`
	Title           string     `json:"title"`
	Authors         string     `json:"authors"`
	JournalName     string     `json:"journal_name"`
	Issn            string     `json:"issn,omitempty"`
	PublicationUrl  string     `json:"publication_url,omitempty"`
	PublicationDate *time.Time `json:"publication_date,omitempty"`
	IssuedAt        time.Time  `json:"issued_at"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
	PdfUrl          string     `json:"pdf_url,omitempty"`
}

// VerifyCertificate resolves a public certificate id without requiring
// authentication. Unknown ids return the same generic ErrNotFound regardless
// of why nothing matched.
func VerifyCertificate(ctx context.Context, certificateId string) (*VerificationResult, error) {
	cert, err := models.GetCertificateByPublicId(ctx, certificateId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	article, err := models.GetArticleById(ctx, cert.ArticleId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	journal, err := models.GetJournalById(ctx, article.JournalId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	result := &VerificationResult{
		CertificateId:   cert.CertificateId,
		Status:          string(cert.Status),
		SubmissionId:    article.SubmissionId,
		Title:           article.Title,
		Authors:         article.Authors,
		JournalName:     journal.Name,
		Issn:            journal.Issn,
		PublicationUrl:  article.PublicationUrl,
		PublicationDate: article.PublicationDate,
		IssuedAt:        cert.IssuedAt,
		RevokedAt:       cert.RevokedAt,
	}
	if cert.PdfObjectKey != "" {
		result.PdfUrl = utils.BuildObjectAccessURL(cert.PdfObjectKey)
	}
	return result, nil
}
