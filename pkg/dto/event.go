package dto

import "github.com/google/uuid"

// WSEvent is a WebSocket message for real-time job progress.
type WSEvent struct {
	Type       string     `json:"type"` // job.started, job.completed, job.failed, item.finished
	JobID      uuid.UUID  `json:"job_id"`
	Status     string     `json:"status,omitempty"`
	ItemID     *uuid.UUID `json:"item_id,omitempty"`
	ItemStatus string     `json:"item_status,omitempty"`
	FaceCount  int        `json:"face_count,omitempty"`
	Error      string     `json:"error,omitempty"`
	Timestamp  string     `json:"timestamp"`
}
