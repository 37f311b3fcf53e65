package dto

import "github.com/google/uuid"

type CreatePersonRequest struct {
	Name string `json:"name" binding:"required,max=200"`
}

type PersonResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt string    `json:"created_at"`
}

type PersonListResponse struct {
	People []PersonResponse `json:"people"`
	Total  int              `json:"total"`
}

// AssignFaceRequest sets the person on a face. A null person_id clears it.
type AssignFaceRequest struct {
	PersonID *uuid.UUID `json:"person_id"`
}
