package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/chirp/internal/api/handlers"
	"github.com/your-org/chirp/internal/api/ws"
	"github.com/your-org/chirp/internal/auth"
)

type RouterConfig struct {
	Auth    *auth.Authenticator
	Jobs    handlers.JobOrchestrator
	Gallery handlers.Gallery
	Faces   handlers.FaceService
	People  handlers.PeopleStore
	Checks  map[string]handlers.Check
	Hub     *ws.Hub
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.Auth))

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	// Scrape jobs
	jobH := handlers.NewJobHandler(cfg.Jobs)
	v1.POST("/scrape-jobs", jobH.Create)
	v1.GET("/scrape-jobs", jobH.List)
	v1.GET("/scrape-jobs/:id", jobH.Get)
	v1.POST("/scrape-jobs/:id/retry", jobH.Retry)
	v1.DELETE("/scrape-jobs/:id", jobH.Delete)

	// Images
	imageH := handlers.NewImageHandler(cfg.Gallery, cfg.Faces)
	v1.GET("/images", imageH.List)
	v1.GET("/images/:id", imageH.Get)
	v1.DELETE("/images/:id", imageH.Delete)
	v1.POST("/process-image", imageH.Process)

	// People & faces
	personH := handlers.NewPersonHandler(cfg.People)
	v1.POST("/people", personH.Create)
	v1.GET("/people", personH.List)
	v1.DELETE("/people/:id", personH.Delete)
	v1.PATCH("/faces/:id/person", personH.AssignFace)

	return r
}
