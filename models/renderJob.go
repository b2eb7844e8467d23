package models

import (
	"time"

	"gorm.io/gorm"
)

// Certificate rendering uses a transactional outbox: the job row is written in
// the same transaction as the certificate, and a background dispatcher hands
// it to the rendering worker via Pub/Sub. Rendering is fire-and-forget;
// issuance is complete once the certificate row exists.
const (
	RenderJobStatusPending    = "PENDING"
	RenderJobStatusProcessing = "PROCESSING"
	RenderJobStatusSent       = "SENT"
	RenderJobStatusFailed     = "FAILED"
	RenderJobStatusDead       = "DEAD"
)

type CertificateRenderJob struct {
	ID            int    `gorm:"primary_key" json:"id"`
	CertificateId int    `gorm:"not null;index" json:"certificate_id"`
	PublicId      string `gorm:"size:36;not null" json:"public_id"`
	SubmissionId  string `gorm:"size:50;not null" json:"submission_id"`

	Status   string `gorm:"size:20;not null;index" json:"status"`
	Attempts int    `gorm:"not null;default:0" json:"attempts"`

	LockedAt      *time.Time `json:"locked_at"`
	LockedBy      *string    `gorm:"size:64" json:"locked_by"`
	NextAttemptAt *time.Time `json:"next_attempt_at"`
	LastError     *string    `gorm:"type:text" json:"last_error"`

	CorrelationId string `gorm:"size:64" json:"correlation_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// EnqueueRenderJobTx writes the job row inside the caller's transaction.
func EnqueueRenderJobTx(tx *gorm.DB, cert *Certificate, submissionId string) error {
	job := CertificateRenderJob{
		CertificateId: cert.ID,
		PublicId:      cert.CertificateId,
		SubmissionId:  submissionId,
		Status:        RenderJobStatusPending,
		CorrelationId: CorrelationIdFromContextOrNew(tx.Statement.Context),
	}
	return tx.Create(&job).Error
}
