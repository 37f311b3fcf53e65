package models

import (
	"time"

	"github.com/google/uuid"
)

type JobEventType string

const (
	JobEventStarted      JobEventType = "job.started"
	JobEventCompleted    JobEventType = "job.completed"
	JobEventFailed       JobEventType = "job.failed"
	JobEventItemFinished JobEventType = "item.finished"
)

// JobEvent is published to NATS on every orchestrator transition and
// forwarded to WebSocket clients by the API.
type JobEvent struct {
	Type       JobEventType `json:"type"`
	JobID      uuid.UUID    `json:"job_id"`
	Status     JobStatus    `json:"status,omitempty"`
	ItemID     *uuid.UUID   `json:"item_id,omitempty"`
	ItemStatus ItemStatus   `json:"item_status,omitempty"`
	FaceCount  int          `json:"face_count,omitempty"`
	Error      string       `json:"error,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
}
