package dto

import "github.com/google/uuid"

type CreateScrapeJobRequest struct {
	URL string `json:"url" binding:"required,url,max=2048"`
}

type ScrapeJobResponse struct {
	ID             uuid.UUID `json:"id"`
	URL            string    `json:"url"`
	Status         string    `json:"status"`
	TotalImages    *int      `json:"total_images"`
	ProcessedCount int       `json:"processed_count"`
	SkippedCount   int       `json:"skipped_count"`
	FailedCount    int       `json:"failed_count"`
	TotalFaces     int       `json:"total_faces"`
	PreviewURL     *string   `json:"preview_url,omitempty"`
	Error          *string   `json:"error,omitempty"`
	CreatedAt      string    `json:"created_at"`
	UpdatedAt      string    `json:"updated_at"`
}

type ScrapeJobItemResponse struct {
	ID        uuid.UUID  `json:"id"`
	SourceURL string     `json:"source_url"`
	Status    string     `json:"status"`
	ImageID   *uuid.UUID `json:"image_id,omitempty"`
	Error     *string    `json:"error,omitempty"`
	CreatedAt string     `json:"created_at"`
}

type ScrapeJobDetailResponse struct {
	ScrapeJobResponse
	Items []ScrapeJobItemResponse `json:"items"`
}

type ScrapeJobListResponse struct {
	Jobs  []ScrapeJobResponse `json:"jobs"`
	Total int                 `json:"total"`
}
