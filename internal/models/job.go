package models

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending      JobStatus = "pending"
	JobStatusRetryPending JobStatus = "retry_pending"
	JobStatusScraping     JobStatus = "scraping"
	JobStatusProcessing   JobStatus = "processing"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
)

// Valid reports whether s is one of the persisted job statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRetryPending, JobStatusScraping,
		JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Queued reports whether the job is waiting for the orchestrator.
func (s JobStatus) Queued() bool {
	return s == JobStatusPending || s == JobStatusRetryPending
}

// Running reports whether the job holds the orchestrator lock.
func (s JobStatus) Running() bool {
	return s == JobStatusScraping || s == JobStatusProcessing
}

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type ItemStatus string

const (
	ItemStatusQueued     ItemStatus = "queued"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusSkipped    ItemStatus = "skipped"
	ItemStatusFailed     ItemStatus = "failed"
)

func (s ItemStatus) Valid() bool {
	switch s {
	case ItemStatusQueued, ItemStatusProcessing, ItemStatusCompleted,
		ItemStatusSkipped, ItemStatusFailed:
		return true
	}
	return false
}

// CounterColumn names one of the scrape_jobs counters that workers increment.
type CounterColumn string

const (
	CounterProcessed  CounterColumn = "processed_count"
	CounterSkipped    CounterColumn = "skipped_count"
	CounterFailed     CounterColumn = "failed_count"
	CounterTotalFaces CounterColumn = "total_faces"
)

func (c CounterColumn) Valid() bool {
	switch c {
	case CounterProcessed, CounterSkipped, CounterFailed, CounterTotalFaces:
		return true
	}
	return false
}

type ScrapeJob struct {
	ID             uuid.UUID `json:"id" db:"id"`
	URL            string    `json:"url" db:"url"`
	Status         JobStatus `json:"status" db:"status"`
	TotalImages    *int      `json:"total_images,omitempty" db:"total_images"`
	ProcessedCount int       `json:"processed_count" db:"processed_count"`
	SkippedCount   int       `json:"skipped_count" db:"skipped_count"`
	FailedCount    int       `json:"failed_count" db:"failed_count"`
	TotalFaces     int       `json:"total_faces" db:"total_faces"`
	PreviewURL     *string   `json:"preview_url,omitempty" db:"preview_url"`
	Error          *string   `json:"error,omitempty" db:"error"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

type ScrapeJobItem struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	JobID     uuid.UUID  `json:"job_id" db:"job_id"`
	SourceURL string     `json:"source_url" db:"source_url"`
	Status    ItemStatus `json:"status" db:"status"`
	ImageID   *uuid.UUID `json:"image_id,omitempty" db:"image_id"`
	Error     *string    `json:"error,omitempty" db:"error"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

type ScrapeJobDetail struct {
	ScrapeJob
	Items []ScrapeJobItem `json:"items"`
}

// JobUpdate carries the fields an orchestrator step changes on a job.
// Nil fields are left untouched. Counters are never set here except
// FailedCount, which a retry resets to zero.
type JobUpdate struct {
	Status      *JobStatus
	TotalImages *int
	PreviewURL  *string
	Error       *string
	ClearError  bool
	FailedCount *int
}

// ItemUpdate carries the fields a worker changes on an item.
type ItemUpdate struct {
	Status  ItemStatus
	ImageID *uuid.UUID
	Error   *string
}
