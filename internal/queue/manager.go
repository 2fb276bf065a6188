package queue

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/syncerr"
)

// Manager owns the durable queues: enqueueing, worker pools, retry backoff,
// dead-lettering, and the stalled-job sweep.
type Manager struct {
	db           *gorm.DB
	log          *zap.Logger
	metrics      *Metrics
	pollInterval time.Duration

	mu     sync.RWMutex
	queues map[string]*queueRuntime

	cron   *cron.Cron
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewManager creates a queue manager. Metrics may be nil in tests.
func NewManager(db *gorm.DB, log *zap.Logger, metrics *Metrics, pollInterval time.Duration) *Manager {
	if pollInterval == 0 {
		pollInterval = 2 * time.Second
	}
	return &Manager{
		db:           db,
		log:          log.Named("queue"),
		metrics:      metrics,
		pollInterval: pollInterval,
		queues:       make(map[string]*queueRuntime),
	}
}

// Register declares a queue and its handler. Must be called before Start.
func (m *Manager) Register(cfg Config, handler HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rt := &queueRuntime{cfg: cfg, handler: handler}
	if cfg.Rate > 0 {
		rt.limiter = rate.NewLimiter(rate.Every(cfg.Rate), 1)
	}
	m.queues[cfg.Name] = rt
}

// Enqueue creates a WAITING job. When dedupKey is set and a WAITING or ACTIVE
// job with the same key exists on the queue, that job is returned instead of
// creating a duplicate.
func (m *Manager) Enqueue(ctx context.Context, queueName, jobType, userID string, payload models.JSONB, dedupKey *string) (*models.SyncQueueJob, error) {
	m.mu.RLock()
	rt, ok := m.queues[queueName]
	m.mu.RUnlock()
	if !ok {
		return nil, syncerr.New(syncerr.KindConfig, "unknown queue %q", queueName)
	}

	if dedupKey != nil {
		var existing models.SyncQueueJob
		err := m.db.WithContext(ctx).
			Where("queue_name = ? AND dedup_key = ? AND status IN ?",
				queueName, *dedupKey, []models.JobStatus{models.JobWaiting, models.JobActive}).
			First(&existing).Error
		if err == nil {
			return &existing, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, err
		}
	}

	if payload == nil {
		payload = models.JSONB{}
	}
	job := &models.SyncQueueJob{
		ID:          uuid.New(),
		QueueName:   queueName,
		JobType:     jobType,
		UserID:      userID,
		DedupKey:    dedupKey,
		Payload:     payload,
		Status:      models.JobWaiting,
		MaxAttempts: rt.cfg.MaxAttempts,
		RunAt:       time.Now(),
	}
	if err := m.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	m.log.Debug("job enqueued",
		zap.String("queue", queueName),
		zap.String("job_type", jobType),
		zap.String("job_id", job.ID.String()))
	return job, nil
}

// Start launches the worker pools and the stall sweep. Blocks until ctx is
// cancelled via Stop.
func (m *Manager) Start(ctx context.Context, stallSweepCron string) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.group, runCtx = errgroup.WithContext(runCtx)

	m.mu.RLock()
	for _, rt := range m.queues {
		rt := rt
		for i := 0; i < rt.cfg.Concurrency; i++ {
			m.group.Go(func() error {
				m.workerLoop(runCtx, rt)
				return nil
			})
		}
	}
	m.mu.RUnlock()

	m.cron = cron.New()
	if _, err := m.cron.AddFunc(stallSweepCron, func() { m.sweepStalled(context.Background()) }); err != nil {
		cancel()
		return syncerr.Wrap(syncerr.KindConfig, err, "invalid stall sweep schedule %q", stallSweepCron)
	}
	if m.metrics != nil {
		if _, err := m.cron.AddFunc("* * * * *", func() { m.recordDepths(context.Background()) }); err != nil {
			cancel()
			return err
		}
	}
	m.cron.Start()

	m.log.Info("queue manager started", zap.Int("queues", len(m.queues)))
	return nil
}

// Stop cancels workers and waits for in-flight jobs to finish.
func (m *Manager) Stop() {
	if m.cron != nil {
		m.cron.Stop()
	}
	if m.cancel != nil {
		m.cancel()
	}
	if m.group != nil {
		_ = m.group.Wait()
	}
	m.log.Info("queue manager stopped")
}

func (m *Manager) workerLoop(ctx context.Context, rt *queueRuntime) {
	for {
		if ctx.Err() != nil {
			return
		}
		if rt.limiter != nil {
			if err := rt.limiter.Wait(ctx); err != nil {
				return
			}
		}

		job, err := m.claim(ctx, rt.cfg.Name)
		if err != nil {
			m.log.Error("job claim failed", zap.String("queue", rt.cfg.Name), zap.Error(err))
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.pollInterval):
			}
			continue
		}

		m.process(ctx, rt, job)
	}
}

// claim picks the oldest due WAITING job and flips it ACTIVE with a
// conditional update, so concurrent workers cannot double-claim.
func (m *Manager) claim(ctx context.Context, queueName string) (*models.SyncQueueJob, error) {
	var candidate models.SyncQueueJob
	err := m.db.WithContext(ctx).
		Where("queue_name = ? AND status = ? AND run_at <= ?", queueName, models.JobWaiting, time.Now()).
		Order("run_at asc").
		First(&candidate).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	res := m.db.WithContext(ctx).Model(&models.SyncQueueJob{}).
		Where("id = ? AND status = ?", candidate.ID, models.JobWaiting).
		Updates(map[string]interface{}{
			"status":       models.JobActive,
			"attempts":     gorm.Expr("attempts + 1"),
			"started_at":   now,
			"heartbeat_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Lost the race; let the loop try again.
		return nil, nil
	}

	candidate.Status = models.JobActive
	candidate.Attempts++
	candidate.StartedAt = &now
	candidate.HeartbeatAt = &now
	return &candidate, nil
}

func (m *Manager) process(ctx context.Context, rt *queueRuntime, model *models.SyncQueueJob) {
	job := NewJob(model, m.db, m.log)
	log := m.log.With(
		zap.String("queue", rt.cfg.Name),
		zap.String("job_type", model.JobType),
		zap.String("job_id", model.ID.String()),
		zap.Int("attempt", model.Attempts))

	jobCtx := ctx
	var cancel context.CancelFunc
	if rt.cfg.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, rt.cfg.JobTimeout)
		defer cancel()
	}

	stopHeartbeat := m.startHeartbeat(jobCtx, model.ID)
	start := time.Now()
	err := rt.handler(jobCtx, job)
	stopHeartbeat()
	duration := time.Since(start)

	if m.metrics != nil {
		m.metrics.JobDuration.WithLabelValues(rt.cfg.Name).Observe(duration.Seconds())
	}

	switch {
	case err == nil:
		m.complete(model)
		if m.metrics != nil {
			m.metrics.JobsTotal.WithLabelValues(rt.cfg.Name, "completed").Inc()
		}
		log.Info("job completed", zap.Duration("duration", duration))

	case syncerr.Retryable(err) && model.Attempts < model.MaxAttempts:
		delay := retryBackoff(model.Attempts)
		m.retry(model, err, delay)
		if m.metrics != nil {
			m.metrics.JobsTotal.WithLabelValues(rt.cfg.Name, "retried").Inc()
		}
		log.Warn("job failed, will retry",
			zap.Duration("retry_in", delay),
			zap.Error(err))

	default:
		m.deadLetter(model, err)
		if m.metrics != nil {
			m.metrics.JobsTotal.WithLabelValues(rt.cfg.Name, "dead").Inc()
		}
		log.Error("job dead-lettered",
			zap.String("kind", string(syncerr.KindOf(err))),
			zap.Error(err))
	}
}

// startHeartbeat stamps heartbeat_at every 30s so the stall sweep can tell a
// slow job from a dead worker.
func (m *Manager) startHeartbeat(ctx context.Context, jobID uuid.UUID) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				m.db.Model(&models.SyncQueueJob{}).
					Where("id = ?", jobID).
					Update("heartbeat_at", time.Now())
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (m *Manager) complete(model *models.SyncQueueJob) {
	now := time.Now()
	m.db.Model(&models.SyncQueueJob{}).
		Where("id = ?", model.ID).
		Updates(map[string]interface{}{
			"status":               models.JobCompleted,
			"completed_at":         now,
			"progress_percent":     100,
			"last_error":           nil,
			"updated_at":           now,
		})
}

func (m *Manager) retry(model *models.SyncQueueJob, jobErr error, delay time.Duration) {
	msg := jobErr.Error()
	m.db.Model(&models.SyncQueueJob{}).
		Where("id = ?", model.ID).
		Updates(map[string]interface{}{
			"status":     models.JobWaiting,
			"run_at":     time.Now().Add(delay),
			"last_error": msg,
			"updated_at": time.Now(),
		})
}

func (m *Manager) deadLetter(model *models.SyncQueueJob, jobErr error) {
	msg := jobErr.Error()
	now := time.Now()
	m.db.Model(&models.SyncQueueJob{}).
		Where("id = ?", model.ID).
		Updates(map[string]interface{}{
			"status":       models.JobDead,
			"completed_at": now,
			"last_error":   msg,
			"updated_at":   now,
		})
}

// retryBackoff is exponential with jitter: 30s, 60s, 120s... capped at 10m.
func retryBackoff(attempt int) time.Duration {
	base := 30 * time.Second
	backoff := float64(base) * math.Pow(2, float64(attempt-1))
	backoff += backoff * 0.1 * (rand.Float64()*2 - 1)
	if max := float64(10 * time.Minute); backoff > max {
		backoff = max
	}
	return time.Duration(backoff)
}

// sweepStalled re-queues ACTIVE jobs whose heartbeat is older than the
// queue's stall timeout; their worker is presumed dead.
func (m *Manager) sweepStalled(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rt := range m.queues {
		cutoff := time.Now().Add(-rt.cfg.StallTimeout)

		// Stalled jobs with no attempts left dead-letter instead of cycling.
		dead := m.db.WithContext(ctx).Model(&models.SyncQueueJob{}).
			Where("queue_name = ? AND status = ? AND heartbeat_at < ? AND attempts >= max_attempts",
				rt.cfg.Name, models.JobActive, cutoff).
			Updates(map[string]interface{}{
				"status":       models.JobDead,
				"last_error":   "stalled with no attempts remaining",
				"completed_at": time.Now(),
				"updated_at":   time.Now(),
			})
		if dead.Error != nil {
			m.log.Error("stall sweep failed", zap.String("queue", rt.cfg.Name), zap.Error(dead.Error))
			continue
		}
		if dead.RowsAffected > 0 {
			m.log.Warn("dead-lettered stalled jobs",
				zap.String("queue", rt.cfg.Name),
				zap.Int64("count", dead.RowsAffected))
		}

		res := m.db.WithContext(ctx).Model(&models.SyncQueueJob{}).
			Where("queue_name = ? AND status = ? AND heartbeat_at < ? AND attempts < max_attempts",
				rt.cfg.Name, models.JobActive, cutoff).
			Updates(map[string]interface{}{
				"status":     models.JobWaiting,
				"run_at":     time.Now(),
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			m.log.Error("stall sweep failed", zap.String("queue", rt.cfg.Name), zap.Error(res.Error))
			continue
		}
		if res.RowsAffected > 0 {
			m.log.Warn("re-queued stalled jobs",
				zap.String("queue", rt.cfg.Name),
				zap.Int64("count", res.RowsAffected))
		}
	}
}

func (m *Manager) recordDepths(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name := range m.queues {
		var count int64
		if err := m.db.WithContext(ctx).Model(&models.SyncQueueJob{}).
			Where("queue_name = ? AND status = ?", name, models.JobWaiting).
			Count(&count).Error; err == nil {
			m.metrics.QueueDepth.WithLabelValues(name).Set(float64(count))
		}
	}
}

// Sweep exposes the stall sweep for tests and manual runs.
func (m *Manager) Sweep(ctx context.Context) {
	m.sweepStalled(ctx)
}

// GetJob loads a job row by id.
func (m *Manager) GetJob(ctx context.Context, id uuid.UUID) (*models.SyncQueueJob, error) {
	var job models.SyncQueueJob
	if err := m.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, syncerr.New(syncerr.KindNotFound, "job %s not found", id)
		}
		return nil, err
	}
	return &job, nil
}
