package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a queued job
type JobStatus string

const (
	JobWaiting   JobStatus = "WAITING" // claimable once RunAt passes; also used between retries
	JobActive    JobStatus = "ACTIVE"
	JobCompleted JobStatus = "COMPLETED"
	JobDead      JobStatus = "DEAD" // attempts exhausted or non-retryable failure
)

// Queue names
const (
	QueueInitialScan    = "initial-scan"
	QueueReconciliation = "reconciliation"
	QueuePushOperations = "push-operations"
	QueueWebhooks       = "webhook-processing"
)

// SyncQueueJob is one durable unit of work. Jobs survive restarts; claiming
// is an optimistic conditional update on Status, so concurrent workers never
// double-run a job.
type SyncQueueJob struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	QueueName string    `gorm:"type:varchar(100);not null;index:idx_queue_jobs_queue_status" json:"queueName"`
	JobType   string    `gorm:"type:varchar(100);not null" json:"jobType"`
	UserID    string    `gorm:"type:varchar(255);not null;index:idx_queue_jobs_user" json:"userId"`

	// Optional dedup key; at most one WAITING/ACTIVE job per key per queue.
	DedupKey *string `gorm:"type:varchar(500);index:idx_queue_jobs_dedup" json:"dedupKey,omitempty"`

	Payload JSONB `gorm:"type:jsonb;default:'{}'" json:"payload"`

	Status      JobStatus `gorm:"type:varchar(20);not null;default:'WAITING';index:idx_queue_jobs_queue_status" json:"status"`
	Attempts    int       `gorm:"default:0" json:"attempts"`
	MaxAttempts int       `gorm:"default:3" json:"maxAttempts"`

	// RunAt gates retries; a job is claimable when WAITING and RunAt <= now.
	RunAt       time.Time  `gorm:"not null;index:idx_queue_jobs_run_at" json:"runAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	// HeartbeatAt lets the stall reaper reclaim ACTIVE jobs whose worker died.
	HeartbeatAt *time.Time `json:"heartbeatAt,omitempty"`

	ProgressPercent     int    `gorm:"default:0" json:"progressPercent"`
	ProgressDescription string `gorm:"type:varchar(500)" json:"progressDescription,omitempty"`

	LastError *string `gorm:"type:text" json:"lastError,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name for SyncQueueJob
func (SyncQueueJob) TableName() string {
	return "sync_queue_jobs"
}
