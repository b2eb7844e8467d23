package workflow

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/bsm/redislock"
	"gorm.io/gorm"

	"bitbucket.org/openscholar/ujmp_backend/config"
	"bitbucket.org/openscholar/ujmp_backend/models"
)

// RenderDispatcher drains pending certificate render jobs to Pub/Sub. Jobs
// are claimed with FOR UPDATE SKIP LOCKED so multiple instances never fight
// over a row, and a best-effort redis lock keeps extra instances from even
// polling. Publish failures back off exponentially and park the job as DEAD
// after maxAttempts; DEAD jobs wait for an operator, they are never retried
// automatically.
type RenderDispatcher struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	WorkerId     string
}

func NewRenderDispatcher() *RenderDispatcher {
	host, _ := os.Hostname()
	if host == "" {
		host = "dispatcher"
	}
	return &RenderDispatcher{
		PollInterval: 5 * time.Second,
		BatchSize:    20,
		MaxAttempts:  8,
		WorkerId:     fmt.Sprintf("%s-%d", host, os.Getpid()),
	}
}

// Run polls until the context is cancelled.
func (d *RenderDispatcher) Run(ctx context.Context) {
	logger := config.GetLogger()
	logger.WithField("worker_id", d.WorkerId).Info("render dispatcher started")

	ticker := time.NewTicker(d.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("render dispatcher stopped")
			return
		case <-ticker.C:
			d.DispatchOnce(ctx)
		}
	}
}

// DispatchOnce claims one batch and publishes it. Returns how many jobs were
// successfully sent.
func (d *RenderDispatcher) DispatchOnce(ctx context.Context) int {
	locker := config.GetRedisLock()
	if locker != nil {
		lock, err := locker.Obtain(ctx, "ujmp:render-dispatch", d.PollInterval, nil)
		if err == redislock.ErrNotObtained {
			return 0
		}
		if err == nil {
			defer lock.Release(context.Background())
		}
		// A redis error falls through: the SKIP LOCKED claim stays correct
		// without the lock, just less efficient.
	}

	jobs, err := d.claimBatch(ctx)
	if err != nil {
		config.LogError(config.GetLogger(), "workflow", "DispatchOnce", "claim batch failed", nil, err)
		return 0
	}

	sent := 0
	for _, job := range jobs {
		if err := d.publish(ctx, job); err != nil {
			d.markFailed(ctx, job, err)
			continue
		}
		d.markSent(ctx, job)
		sent++
	}
	return sent
}

func (d *RenderDispatcher) claimBatch(ctx context.Context) ([]*models.CertificateRenderJob, error) {
	var jobs []*models.CertificateRenderJob
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Raw(`SELECT * FROM certificate_render_jobs
			     WHERE status IN (?, ?)
			       AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
			     ORDER BY id
			     LIMIT ?
			     FOR UPDATE SKIP LOCKED`,
				models.RenderJobStatusPending, models.RenderJobStatusFailed,
				time.Now().UTC(), d.BatchSize).
			Scan(&jobs).Error; err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}
		now := time.Now().UTC()
		ids := make([]int, 0, len(jobs))
		for _, job := range jobs {
			ids = append(ids, job.ID)
		}
		return tx.Model(&models.CertificateRenderJob{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":    models.RenderJobStatusProcessing,
				"locked_at": now,
				"locked_by": d.WorkerId,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (d *RenderDispatcher) publish(ctx context.Context, job *models.CertificateRenderJob) error {
	_, err := config.PublishRenderJob(ctx, config.RenderJobMessage{
		JobId:         job.ID,
		CertificateId: job.PublicId,
		SubmissionId:  job.SubmissionId,
		CorrelationId: job.CorrelationId,
	})
	return err
}

func (d *RenderDispatcher) markSent(ctx context.Context, job *models.CertificateRenderJob) {
	db := config.GetDB()
	err := db.WithContext(ctx).Model(&models.CertificateRenderJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":     models.RenderJobStatusSent,
			"attempts":   gorm.Expr("attempts + 1"),
			"locked_at":  nil,
			"locked_by":  nil,
			"last_error": nil,
		}).Error
	if err != nil {
		config.LogError(config.GetLogger(), "workflow", "markSent", "update failed", map[string]interface{}{"job_id": job.ID}, err)
	}
}

func (d *RenderDispatcher) markFailed(ctx context.Context, job *models.CertificateRenderJob, cause error) {
	attempts := job.Attempts + 1
	status := models.RenderJobStatusFailed
	if attempts >= d.MaxAttempts {
		status = models.RenderJobStatusDead
	}
	backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
	nextAttempt := time.Now().UTC().Add(backoff)
	msg := cause.Error()

	db := config.GetDB()
	err := db.WithContext(ctx).Model(&models.CertificateRenderJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":          status,
			"attempts":        attempts,
			"locked_at":       nil,
			"locked_by":       nil,
			"next_attempt_at": nextAttempt,
			"last_error":      msg,
		}).Error
	if err != nil {
		config.LogError(config.GetLogger(), "workflow", "markFailed", "update failed", map[string]interface{}{"job_id": job.ID}, err)
	}
	if status == models.RenderJobStatusDead {
		config.GetLogger().WithField("job_id", job.ID).Warn("render job parked as DEAD")
	}
}
