package scrapejob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/chirp/internal/models"
	"github.com/your-org/chirp/internal/observability"
)

const (
	restartedMessage = "Server restarted — use Retry to resume"
	allFailedMessage = "All images failed to process"
	maxJobError      = 500
)

// Orchestrator drives scrape jobs from submission to a terminal state. At
// most one job runs at a time; a job that cannot start stays queued and is
// picked up when the running job releases the lock.
type Orchestrator struct {
	store     Store
	scraper   Scraper
	guard     URLValidator
	images    ImageProcessor
	events    EventPublisher
	pool      *Pool
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger

	// runCtx bounds background runs started by Trigger.
	runCtx context.Context

	mu   sync.Mutex
	runs sync.WaitGroup
}

type Option func(*Orchestrator)

// WithEvents publishes job lifecycle events to p.
func WithEvents(p EventPublisher) Option {
	return func(o *Orchestrator) { o.events = p }
}

// WithRetention sets how long terminal jobs are kept. Default 7 days.
func WithRetention(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.retention = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithRunContext(ctx context.Context) Option {
	return func(o *Orchestrator) { o.runCtx = ctx }
}

func NewOrchestrator(store Store, scraper Scraper, guard URLValidator, images ImageProcessor, workers int, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		scraper:   scraper,
		guard:     guard,
		images:    images,
		pool:      NewPool(workers),
		retention: 7 * 24 * time.Hour,
		now:       time.Now,
		logger:    slog.With("component", "scrapejob"),
		runCtx:    context.Background(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit validates url and stores a pending job. It does not start the job.
func (o *Orchestrator) Submit(ctx context.Context, url string) (*models.ScrapeJob, error) {
	safe, err := o.guard.Validate(ctx, url)
	if err != nil {
		return nil, err
	}
	job, err := o.store.CreateJob(ctx, safe)
	if err != nil {
		return nil, err
	}
	o.logger.Info("job submitted", "job_id", job.ID, "url", safe)
	return job, nil
}

// Trigger runs the job in the background.
func (o *Orchestrator) Trigger(jobID uuid.UUID, isRetry bool) {
	o.runs.Add(1)
	go func() {
		defer o.runs.Done()
		o.Run(o.runCtx, jobID, isRetry)
	}()
}

// Wait blocks until every triggered run, including drained ones, has returned.
func (o *Orchestrator) Wait() {
	o.runs.Wait()
}

// Run executes the job if no other job is running. Otherwise it returns at
// once and the job stays queued. After a run the oldest queued job is
// triggered.
func (o *Orchestrator) Run(ctx context.Context, jobID uuid.UUID, isRetry bool) {
	if !o.mu.TryLock() {
		o.logger.Info("another job is running, job stays queued", "job_id", jobID)
		return
	}
	o.runLocked(ctx, jobID, isRetry)
	o.drain(ctx, jobID)
}

func (o *Orchestrator) runLocked(ctx context.Context, jobID uuid.UUID, isRetry bool) {
	defer o.mu.Unlock()

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		o.logger.Error("load job", "job_id", jobID, "error", err)
		return
	}
	if job == nil || !job.Status.Queued() {
		o.logger.Info("job is not queued, skipping", "job_id", jobID)
		return
	}
	if persisted := job.Status == models.JobStatusRetryPending; persisted != isRetry {
		o.logger.Warn("retry flag does not match job status, using status",
			"job_id", jobID, "status", job.Status)
		isRetry = persisted
	}

	o.execute(ctx, job, isRetry)
}

// execute runs one job to a terminal state. Errors and panics are recorded
// on the job.
func (o *Orchestrator) execute(ctx context.Context, job *models.ScrapeJob, isRetry bool) {
	start := o.now()
	final := models.JobStatusFailed

	observability.ActiveJobs.Inc()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("job panic", "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			o.fail(ctx, job.ID, fmt.Errorf("panic: %v", r))
			final = models.JobStatusFailed
		}
		observability.ActiveJobs.Dec()
		observability.JobDuration.WithLabelValues(string(final)).Observe(o.now().Sub(start).Seconds())
	}()

	status, err := o.runJob(ctx, job, isRetry)
	if err != nil {
		o.fail(ctx, job.ID, err)
		return
	}
	final = status
}

func (o *Orchestrator) runJob(ctx context.Context, job *models.ScrapeJob, isRetry bool) (models.JobStatus, error) {
	log := o.logger.With("job_id", job.ID)

	var items []models.ScrapeJobItem
	if isRetry {
		if err := o.setStatus(ctx, job.ID, models.JobStatusProcessing); err != nil {
			return "", err
		}
		o.publish(ctx, models.JobEvent{Type: models.JobEventStarted, JobID: job.ID, Status: models.JobStatusProcessing})

		var err error
		items, err = o.store.QueuedItems(ctx, job.ID)
		if err != nil {
			return "", err
		}
		log.Info("retrying job", "items", len(items))
	} else {
		if err := o.setStatus(ctx, job.ID, models.JobStatusScraping); err != nil {
			return "", err
		}
		o.publish(ctx, models.JobEvent{Type: models.JobEventStarted, JobID: job.ID, Status: models.JobStatusScraping})

		urls, err := o.scraper.ScrapeImages(ctx, job.URL)
		if err != nil {
			return "", fmt.Errorf("scrape page: %w", err)
		}
		total := len(urls)
		if total == 0 {
			completed := models.JobStatusCompleted
			if err := o.store.UpdateJob(ctx, job.ID, models.JobUpdate{Status: &completed, TotalImages: &total}); err != nil {
				return "", err
			}
			log.Info("no images found")
			o.publish(ctx, models.JobEvent{Type: models.JobEventCompleted, JobID: job.ID, Status: completed})
			return completed, nil
		}

		items, err = o.store.BulkInsertItems(ctx, job.ID, urls)
		if err != nil {
			return "", err
		}
		processing := models.JobStatusProcessing
		if err := o.store.UpdateJob(ctx, job.ID, models.JobUpdate{
			Status:      &processing,
			TotalImages: &total,
			PreviewURL:  &urls[0],
		}); err != nil {
			return "", err
		}
		log.Info("scraped page", "images", total)
	}

	results := o.pool.Run(ctx, items, o.processItem, func(res ItemResult) {
		o.recordResult(ctx, res)
	})
	log.Info("items finished", "items", len(results))

	return o.finish(ctx, job.ID)
}

// finish decides the terminal status from the persisted counters.
func (o *Orchestrator) finish(ctx context.Context, jobID uuid.UUID) (models.JobStatus, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job == nil {
		return "", ErrJobNotFound
	}

	if job.ProcessedCount == 0 && job.SkippedCount == 0 {
		return models.JobStatusFailed, o.fail(ctx, jobID, errors.New(allFailedMessage))
	}

	completed := models.JobStatusCompleted
	if err := o.store.UpdateJob(ctx, jobID, models.JobUpdate{Status: &completed, ClearError: true}); err != nil {
		return "", err
	}
	o.logger.Info("job completed", "job_id", jobID,
		"processed", job.ProcessedCount, "skipped", job.SkippedCount,
		"failed", job.FailedCount, "faces", job.TotalFaces)
	o.publish(ctx, models.JobEvent{Type: models.JobEventCompleted, JobID: jobID, Status: completed})
	return completed, nil
}

// fail marks the job failed with cause as its error. The returned error is
// non-nil only when the job could not be updated.
func (o *Orchestrator) fail(ctx context.Context, jobID uuid.UUID, cause error) error {
	msg := models.Truncate(cause.Error(), maxJobError)
	failed := models.JobStatusFailed
	o.logger.Error("job failed", "job_id", jobID, "error", msg)

	if err := o.store.UpdateJob(ctx, jobID, models.JobUpdate{Status: &failed, Error: &msg}); err != nil {
		o.logger.Error("mark job failed", "job_id", jobID, "error", err)
		return err
	}
	o.publish(ctx, models.JobEvent{Type: models.JobEventFailed, JobID: jobID, Status: failed, Error: msg})
	return nil
}

func (o *Orchestrator) setStatus(ctx context.Context, jobID uuid.UUID, status models.JobStatus) error {
	return o.store.UpdateJob(ctx, jobID, models.JobUpdate{Status: &status})
}

// drain triggers the oldest queued job. The job that just ran is never
// re-triggered, so a job stuck in a queued status cannot spin.
func (o *Orchestrator) drain(ctx context.Context, justRan uuid.UUID) {
	next, err := o.store.NextQueuedJob(ctx)
	if err != nil {
		o.logger.Error("find next queued job", "error", err)
		return
	}
	if next == nil {
		return
	}
	if next.ID == justRan {
		o.logger.Warn("job is still queued after its run", "job_id", justRan)
		return
	}
	o.logger.Info("draining queued job", "job_id", next.ID, "status", next.Status)
	o.Trigger(next.ID, next.Status == models.JobStatusRetryPending)
}

// Retry requeues the failed items of a finished job and moves it to
// retry_pending in one store write. The caller triggers the run.
func (o *Orchestrator) Retry(ctx context.Context, jobID uuid.UUID) (*models.ScrapeJob, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %w", ErrNotRetryable, ErrJobNotFound)
	}
	if !job.Status.Terminal() {
		return nil, fmt.Errorf("%w: status is %s", ErrNotRetryable, job.Status)
	}

	failedItems, err := o.store.CountItemsByStatus(ctx, jobID, models.ItemStatusFailed)
	if err != nil {
		return nil, err
	}
	if failedItems == 0 {
		return nil, fmt.Errorf("%w: no failed items", ErrNotRetryable)
	}

	reset, err := o.store.RequeueFailedItems(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if reset == 0 {
		return nil, fmt.Errorf("%w: no failed items", ErrNotRetryable)
	}
	o.logger.Info("job queued for retry", "job_id", jobID, "items", reset)

	return o.store.GetJob(ctx, jobID)
}

// RecoverOnStartup fails jobs left running by a previous process, along
// with their unfinished items so Retry picks them up, and removes expired
// jobs. Call it before triggering any run.
func (o *Orchestrator) RecoverOnStartup(ctx context.Context) error {
	n, err := o.store.FailStaleJobs(ctx, restartedMessage)
	if err != nil {
		return err
	}
	if n > 0 {
		o.logger.Warn("failed jobs interrupted by restart", "count", n)
	}
	_, err = o.Sweep(ctx)
	return err
}

// Sweep deletes terminal jobs older than the retention window.
func (o *Orchestrator) Sweep(ctx context.Context) (int64, error) {
	cutoff := o.now().Add(-o.retention)
	n, err := o.store.DeleteJobsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		o.logger.Info("deleted expired jobs", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// DrainQueued starts the oldest queued job, if any. Used at startup to pick
// up jobs submitted before a restart.
func (o *Orchestrator) DrainQueued(ctx context.Context) {
	o.drain(ctx, uuid.Nil)
}

func (o *Orchestrator) List(ctx context.Context) ([]models.ScrapeJob, error) {
	return o.store.ListJobs(ctx)
}

func (o *Orchestrator) Detail(ctx context.Context, jobID uuid.UUID) (*models.ScrapeJobDetail, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	items, err := o.store.ItemsByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &models.ScrapeJobDetail{ScrapeJob: *job, Items: items}, nil
}

// Delete removes a job and its items. Running jobs cannot be deleted.
func (o *Orchestrator) Delete(ctx context.Context, jobID uuid.UUID) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrJobNotFound
	}
	if job.Status.Running() {
		return ErrJobRunning
	}
	return o.store.DeleteJob(ctx, jobID)
}

func (o *Orchestrator) publish(ctx context.Context, ev models.JobEvent) {
	if o.events == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = o.now().UTC()
	}
	if err := o.events.PublishJobEvent(ctx, ev); err != nil {
		o.logger.Warn("publish job event", "type", ev.Type, "job_id", ev.JobID, "error", err)
	}
}
