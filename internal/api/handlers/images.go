package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/chirp/internal/faces"
	"github.com/your-org/chirp/internal/gallery"
	"github.com/your-org/chirp/internal/models"
	"github.com/your-org/chirp/pkg/dto"
)

type Gallery interface {
	ListImages(ctx context.Context, p gallery.ListParams) (*gallery.Page, error)
	GetImage(ctx context.Context, id uuid.UUID) (*models.ImageWithFaces, error)
}

type FaceService interface {
	DetectAndSave(ctx context.Context, sourceURL, filename string) (*faces.Saved, error)
	DeleteImage(ctx context.Context, id uuid.UUID) error
}

type ImageHandler struct {
	gallery Gallery
	faces   FaceService
}

func NewImageHandler(g Gallery, f FaceService) *ImageHandler {
	return &ImageHandler{gallery: g, faces: f}
}

func (h *ImageHandler) List(c *gin.Context) {
	var q dto.ListImagesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := gallery.ListParams{Limit: q.Limit, Cursor: q.Cursor, Search: q.Search}
	if q.SortPersonID != "" {
		id, err := uuid.Parse(q.SortPersonID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sort_person_id"})
			return
		}
		params.SortPersonID = &id
	}

	page, err := h.gallery.ListImages(c.Request.Context(), params)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := dto.ImagePageResponse{
		Images:     make([]dto.ImageResponse, 0, len(page.Images)),
		NextCursor: page.NextCursor,
	}
	for i := range page.Images {
		resp.Images = append(resp.Images, imageToResponse(&page.Images[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ImageHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "image")
	if !ok {
		return
	}

	img, err := h.gallery.GetImage(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if img == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
		return
	}
	c.JSON(http.StatusOK, imageToResponse(img))
}

func (h *ImageHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "image")
	if !ok {
		return
	}

	if err := h.faces.DeleteImage(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Process downloads one image, detects its faces and stores both. An image
// that already exists for the URL yields 409.
func (h *ImageHandler) Process(c *gin.Context) {
	var req dto.ProcessImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	saved, err := h.faces.DetectAndSave(c.Request.Context(), req.SourceURL, req.Filename)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.ProcessImageResponse{
		ImageID:       saved.Image.ID,
		Filename:      saved.Image.Filename,
		FacesDetected: len(saved.Faces),
	})
}

func imageToResponse(img *models.ImageWithFaces) dto.ImageResponse {
	detected := make([]dto.FaceResponse, 0, len(img.DetectedFaces))
	for _, f := range img.DetectedFaces {
		matches := make([]dto.PersonMatchResponse, 0, len(f.MatchedPersons))
		for _, m := range f.MatchedPersons {
			matches = append(matches, dto.PersonMatchResponse{
				PersonID:   m.PersonID,
				PersonName: m.PersonName,
				Distance:   m.Distance,
			})
		}
		detected = append(detected, dto.FaceResponse{
			ID:             f.ID,
			LocationTop:    f.Location.Top,
			LocationRight:  f.Location.Right,
			LocationBottom: f.Location.Bottom,
			LocationLeft:   f.Location.Left,
			PersonID:       f.PersonID,
			MatchedPersons: matches,
		})
	}
	return dto.ImageResponse{
		ID:            img.ID,
		Filename:      img.Filename,
		SourceURL:     img.SourceURL,
		Width:         img.Width,
		Height:        img.Height,
		CreatedAt:     formatTime(img.CreatedAt),
		DetectedFaces: detected,
	}
}
