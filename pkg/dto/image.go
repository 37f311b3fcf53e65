package dto

import "github.com/google/uuid"

type ListImagesQuery struct {
	Limit        int    `form:"limit" binding:"omitempty,min=1"`
	Cursor       string `form:"cursor"`
	SortPersonID string `form:"sort_person_id" binding:"omitempty,uuid"`
	Search       string `form:"search" binding:"max=200"`
}

type PersonMatchResponse struct {
	PersonID   uuid.UUID `json:"person_id"`
	PersonName string    `json:"person_name"`
	Distance   float64   `json:"distance"`
}

type FaceResponse struct {
	ID             uuid.UUID             `json:"id"`
	LocationTop    int                   `json:"location_top"`
	LocationRight  int                   `json:"location_right"`
	LocationBottom int                   `json:"location_bottom"`
	LocationLeft   int                   `json:"location_left"`
	PersonID       *uuid.UUID            `json:"person_id"`
	MatchedPersons []PersonMatchResponse `json:"matched_persons"`
}

type ImageResponse struct {
	ID            uuid.UUID      `json:"id"`
	Filename      string         `json:"filename"`
	SourceURL     *string        `json:"source_url"`
	Width         *int           `json:"width"`
	Height        *int           `json:"height"`
	CreatedAt     string         `json:"created_at"`
	DetectedFaces []FaceResponse `json:"detected_faces"`
}

type ImagePageResponse struct {
	Images     []ImageResponse `json:"images"`
	NextCursor *string         `json:"next_cursor"`
}

type ProcessImageRequest struct {
	Filename  string `json:"filename" binding:"max=255"`
	SourceURL string `json:"source_url" binding:"required,url,max=2048"`
}

type ProcessImageResponse struct {
	ImageID       uuid.UUID `json:"image_id"`
	Filename      string    `json:"filename"`
	FacesDetected int       `json:"faces_detected"`
}
