package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/chirp/internal/models"
	"github.com/your-org/chirp/pkg/dto"
)

type PeopleStore interface {
	CreatePerson(ctx context.Context, name string) (*models.Person, error)
	ListPeople(ctx context.Context) ([]models.Person, error)
	GetPerson(ctx context.Context, id uuid.UUID) (*models.Person, error)
	DeletePerson(ctx context.Context, id uuid.UUID) error
	AssignFacePerson(ctx context.Context, faceID uuid.UUID, personID *uuid.UUID) error
}

type PersonHandler struct {
	db PeopleStore
}

func NewPersonHandler(db PeopleStore) *PersonHandler {
	return &PersonHandler{db: db}
}

func (h *PersonHandler) Create(c *gin.Context) {
	var req dto.CreatePersonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	person, err := h.db.CreatePerson(c.Request.Context(), req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, personToResponse(person))
}

func (h *PersonHandler) List(c *gin.Context) {
	people, err := h.db.ListPeople(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]dto.PersonResponse, 0, len(people))
	for i := range people {
		resp = append(resp, personToResponse(&people[i]))
	}
	c.JSON(http.StatusOK, dto.PersonListResponse{People: resp, Total: len(resp)})
}

func (h *PersonHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "person")
	if !ok {
		return
	}

	if err := h.db.DeletePerson(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AssignFace sets or clears the person on a detected face.
func (h *PersonHandler) AssignFace(c *gin.Context) {
	faceID, ok := parseID(c, "face")
	if !ok {
		return
	}

	var req dto.AssignFaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if req.PersonID != nil {
		person, err := h.db.GetPerson(ctx, *req.PersonID)
		if err != nil {
			respondError(c, err)
			return
		}
		if person == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
			return
		}
	}

	if err := h.db.AssignFacePerson(ctx, faceID, req.PersonID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "face not found"})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"face_id": faceID, "person_id": req.PersonID})
}

func personToResponse(p *models.Person) dto.PersonResponse {
	return dto.PersonResponse{
		ID:        p.ID,
		Name:      p.Name,
		CreatedAt: formatTime(p.CreatedAt),
	}
}
