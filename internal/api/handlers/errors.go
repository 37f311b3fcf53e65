package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/chirp/internal/models"
	"github.com/your-org/chirp/internal/scrapejob"
)

// respondError maps domain errors to status codes. Anything unrecognized is
// logged and reported as 500.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case models.IsValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound), errors.Is(err, scrapejob.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, scrapejob.ErrNotRetryable),
		errors.Is(err, scrapejob.ErrJobRunning),
		errors.Is(err, models.ErrImageExists):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
