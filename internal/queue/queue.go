package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"catalog-sync-service/internal/models"
)

// HandlerFunc processes one claimed job. Returning an error retries or
// dead-letters the job depending on the error's classification and the
// queue's attempt budget.
type HandlerFunc func(ctx context.Context, job *Job) error

// Config declares one named queue.
type Config struct {
	Name        string
	Concurrency int
	// Rate, when non-zero, spaces job starts (e.g. one per 60s for the
	// push queue).
	Rate         time.Duration
	MaxAttempts  int
	JobTimeout   time.Duration
	StallTimeout time.Duration
}

// Job is one claimed unit of work handed to a handler.
type Job struct {
	Model *models.SyncQueueJob

	db  *gorm.DB
	log *zap.Logger
}

// ID returns the job id.
func (j *Job) ID() uuid.UUID {
	return j.Model.ID
}

// Payload returns the job's payload map.
func (j *Job) Payload() models.JSONB {
	return j.Model.Payload
}

// ReportProgress persists percent/description on the job row. Best-effort:
// a failed progress write never fails the job.
func (j *Job) ReportProgress(ctx context.Context, percent int, description string) {
	err := j.db.WithContext(ctx).Model(&models.SyncQueueJob{}).
		Where("id = ?", j.Model.ID).
		Updates(map[string]interface{}{
			"progress_percent":     percent,
			"progress_description": description,
			"updated_at":           time.Now(),
		}).Error
	if err != nil {
		j.log.Warn("failed to persist job progress",
			zap.String("job_id", j.Model.ID.String()),
			zap.Error(err))
	}
	j.Model.ProgressPercent = percent
	j.Model.ProgressDescription = description
}

// NewJob wraps a claimed job row. The manager builds jobs during processing;
// handler tests build them directly.
func NewJob(model *models.SyncQueueJob, db *gorm.DB, log *zap.Logger) *Job {
	return &Job{Model: model, db: db, log: log}
}

// queueRuntime pairs a queue's declaration with its handler and limiter.
type queueRuntime struct {
	cfg     Config
	handler HandlerFunc
	limiter *rate.Limiter
}

// DefaultConfigs returns the core queue set with the concurrency and rate
// limits the pipeline relies on.
func DefaultConfigs(pushMinInterval time.Duration) []Config {
	if pushMinInterval == 0 {
		pushMinInterval = 60 * time.Second
	}
	return []Config{
		{Name: models.QueueInitialScan, Concurrency: 1, MaxAttempts: 3, JobTimeout: 10 * time.Minute, StallTimeout: 15 * time.Minute},
		{Name: models.QueueReconciliation, Concurrency: 1, MaxAttempts: 3, JobTimeout: 10 * time.Minute, StallTimeout: 15 * time.Minute},
		{Name: models.QueuePushOperations, Concurrency: 1, Rate: pushMinInterval, MaxAttempts: 5, JobTimeout: 2 * time.Minute, StallTimeout: 5 * time.Minute},
		{Name: models.QueueWebhooks, Concurrency: 4, MaxAttempts: 5, JobTimeout: 2 * time.Minute, StallTimeout: 5 * time.Minute},
	}
}
