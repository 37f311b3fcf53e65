package scrapejob

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/chirp/internal/faces"
	"github.com/your-org/chirp/internal/models"
)

var (
	// ErrNotRetryable is returned by Retry for a job that is missing, still
	// queued or running, or has no failed items.
	ErrNotRetryable = errors.New("scrape job is not retryable")
	ErrJobNotFound  = errors.New("scrape job not found")
	ErrJobRunning   = errors.New("scrape job is running")
)

// Store is the persistence the orchestrator and its workers need.
type Store interface {
	CreateJob(ctx context.Context, url string) (*models.ScrapeJob, error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.ScrapeJob, error)
	ListJobs(ctx context.Context) ([]models.ScrapeJob, error)
	UpdateJob(ctx context.Context, id uuid.UUID, u models.JobUpdate) error
	IncrementJobCounter(ctx context.Context, id uuid.UUID, column models.CounterColumn, amount int) error
	NextQueuedJob(ctx context.Context) (*models.ScrapeJob, error)
	DeleteJob(ctx context.Context, id uuid.UUID) error
	FailStaleJobs(ctx context.Context, msg string) (int64, error)
	DeleteJobsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	BulkInsertItems(ctx context.Context, jobID uuid.UUID, urls []string) ([]models.ScrapeJobItem, error)
	UpdateItem(ctx context.Context, id uuid.UUID, u models.ItemUpdate) error
	ItemsByJob(ctx context.Context, jobID uuid.UUID) ([]models.ScrapeJobItem, error)
	QueuedItems(ctx context.Context, jobID uuid.UUID) ([]models.ScrapeJobItem, error)
	CompletedItemBySourceURL(ctx context.Context, url string, exclude uuid.UUID) (*models.ScrapeJobItem, error)
	RequeueFailedItems(ctx context.Context, jobID uuid.UUID) (int, error)
	CountItemsByStatus(ctx context.Context, jobID uuid.UUID, status models.ItemStatus) (int, error)

	ImageBySourceURL(ctx context.Context, url string) (*models.Image, error)
}

type Scraper interface {
	ScrapeImages(ctx context.Context, pageURL string) ([]string, error)
}

// URLValidator rejects URLs that must not be fetched and returns the
// normalized form of the rest.
type URLValidator interface {
	Validate(ctx context.Context, raw string) (string, error)
}

// ImageProcessor runs face detection for one image URL.
type ImageProcessor interface {
	DetectAndSave(ctx context.Context, sourceURL, filename string) (*faces.Saved, error)
	DetectAndLink(ctx context.Context, img *models.Image) (int, error)
}

type EventPublisher interface {
	PublishJobEvent(ctx context.Context, ev models.JobEvent) error
}
