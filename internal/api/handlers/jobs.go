package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/chirp/internal/models"
	"github.com/your-org/chirp/pkg/dto"
)

type JobOrchestrator interface {
	Submit(ctx context.Context, url string) (*models.ScrapeJob, error)
	Trigger(jobID uuid.UUID, isRetry bool)
	Retry(ctx context.Context, jobID uuid.UUID) (*models.ScrapeJob, error)
	List(ctx context.Context) ([]models.ScrapeJob, error)
	Detail(ctx context.Context, jobID uuid.UUID) (*models.ScrapeJobDetail, error)
	Delete(ctx context.Context, jobID uuid.UUID) error
}

type JobHandler struct {
	jobs JobOrchestrator
}

func NewJobHandler(jobs JobOrchestrator) *JobHandler {
	return &JobHandler{jobs: jobs}
}

func (h *JobHandler) Create(c *gin.Context) {
	var req dto.CreateScrapeJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.jobs.Submit(c.Request.Context(), req.URL)
	if err != nil {
		respondError(c, err)
		return
	}
	h.jobs.Trigger(job.ID, false)

	c.JSON(http.StatusAccepted, jobToResponse(job))
}

func (h *JobHandler) List(c *gin.Context) {
	jobs, err := h.jobs.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]dto.ScrapeJobResponse, 0, len(jobs))
	for i := range jobs {
		resp = append(resp, jobToResponse(&jobs[i]))
	}
	c.JSON(http.StatusOK, dto.ScrapeJobListResponse{Jobs: resp, Total: len(resp)})
}

func (h *JobHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "job")
	if !ok {
		return
	}

	d, err := h.jobs.Detail(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	items := make([]dto.ScrapeJobItemResponse, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, dto.ScrapeJobItemResponse{
			ID:        it.ID,
			SourceURL: it.SourceURL,
			Status:    string(it.Status),
			ImageID:   it.ImageID,
			Error:     it.Error,
			CreatedAt: formatTime(it.CreatedAt),
		})
	}
	c.JSON(http.StatusOK, dto.ScrapeJobDetailResponse{
		ScrapeJobResponse: jobToResponse(&d.ScrapeJob),
		Items:             items,
	})
}

func (h *JobHandler) Retry(c *gin.Context) {
	id, ok := parseID(c, "job")
	if !ok {
		return
	}

	job, err := h.jobs.Retry(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	h.jobs.Trigger(job.ID, true)

	c.JSON(http.StatusAccepted, jobToResponse(job))
}

func (h *JobHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "job")
	if !ok {
		return
	}

	if err := h.jobs.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func parseID(c *gin.Context, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + what + " id"})
		return uuid.Nil, false
	}
	return id, true
}

func jobToResponse(j *models.ScrapeJob) dto.ScrapeJobResponse {
	return dto.ScrapeJobResponse{
		ID:             j.ID,
		URL:            j.URL,
		Status:         string(j.Status),
		TotalImages:    j.TotalImages,
		ProcessedCount: j.ProcessedCount,
		SkippedCount:   j.SkippedCount,
		FailedCount:    j.FailedCount,
		TotalFaces:     j.TotalFaces,
		PreviewURL:     j.PreviewURL,
		Error:          j.Error,
		CreatedAt:      formatTime(j.CreatedAt),
		UpdatedAt:      formatTime(j.UpdatedAt),
	}
}
