package models

import (
	"time"

	"github.com/google/uuid"
)

// FaceLocation is a bounding box in original image pixel coordinates.
type FaceLocation struct {
	Top    int `json:"location_top" db:"location_top"`
	Right  int `json:"location_right" db:"location_right"`
	Bottom int `json:"location_bottom" db:"location_bottom"`
	Left   int `json:"location_left" db:"location_left"`
}

type Image struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Filename  string    `json:"filename" db:"filename"`
	SourceURL *string   `json:"source_url,omitempty" db:"source_url"`
	Width     *int      `json:"width,omitempty" db:"width"`
	Height    *int      `json:"height,omitempty" db:"height"`
	ObjectKey *string   `json:"-" db:"object_key"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type DetectedFace struct {
	ID        uuid.UUID    `json:"id" db:"id"`
	ImageID   uuid.UUID    `json:"image_id" db:"image_id"`
	Location  FaceLocation `json:"location"`
	Encoding  []float32    `json:"-" db:"encoding"`
	PersonID  *uuid.UUID   `json:"person_id,omitempty" db:"person_id"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// PersonMatch is a candidate person for a face, computed at read time by
// nearest-embedding search. It is never persisted.
type PersonMatch struct {
	PersonID   uuid.UUID `json:"person_id"`
	PersonName string    `json:"person_name"`
	Distance   float64   `json:"distance"`
}

// Face is a detected face as served by the read path.
type Face struct {
	ID             uuid.UUID     `json:"id"`
	Location       FaceLocation  `json:"location"`
	PersonID       *uuid.UUID    `json:"person_id,omitempty"`
	MatchedPersons []PersonMatch `json:"matched_persons"`
}

type ImageWithFaces struct {
	ID            uuid.UUID `json:"id"`
	Filename      string    `json:"filename"`
	SourceURL     *string   `json:"source_url,omitempty"`
	Width         *int      `json:"width,omitempty"`
	Height        *int      `json:"height,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	DetectedFaces []Face    `json:"detected_faces"`
}

// ImageMatchRow is one denormalized row of the image/face/match join.
// Image fields repeat on every row; face fields are nil for an image
// without faces; match fields are nil for a face without candidates.
type ImageMatchRow struct {
	ImageID   uuid.UUID
	Filename  string
	SourceURL *string
	Width     *int
	Height    *int
	CreatedAt time.Time

	SortIsTagged    *int
	SortMinDistance *float64

	FaceID           *uuid.UUID
	LocationTop      *int
	LocationRight    *int
	LocationBottom   *int
	LocationLeft     *int
	AssignedPersonID *uuid.UUID

	MatchedPersonID   *uuid.UUID
	MatchedPersonName *string
	MatchDistance     *float64
}
