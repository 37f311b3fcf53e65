package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/your-org/chirp/internal/api"
	"github.com/your-org/chirp/internal/api/handlers"
	"github.com/your-org/chirp/internal/api/ws"
	"github.com/your-org/chirp/internal/auth"
	"github.com/your-org/chirp/internal/config"
	"github.com/your-org/chirp/internal/faces"
	"github.com/your-org/chirp/internal/gallery"
	"github.com/your-org/chirp/internal/ingest"
	"github.com/your-org/chirp/internal/observability"
	"github.com/your-org/chirp/internal/queue"
	"github.com/your-org/chirp/internal/scrapejob"
	"github.com/your-org/chirp/internal/storage"
	"github.com/your-org/chirp/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting chirp API service", "port", cfg.Server.Port, "workers", cfg.Scrape.Workers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		slog.Error("migrate database", "error", err)
		os.Exit(1)
	}

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	publisher, err := queue.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	if err := publisher.EnsureStream(ctx); err != nil {
		slog.Warn("ensure nats stream", "error", err)
	}

	// WebSocket hub fed from the job event stream
	hub := ws.NewHub()
	go hub.Run(ctx)

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create event consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	if err := consumer.ConsumeJobEvents(ctx, "api-ws", hub.HandleJobEvent); err != nil {
		slog.Warn("start job event consumer", "error", err)
	}

	// Face detection models
	if err := vision.InitRuntime(); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer vision.DestroyRuntime()

	recognizer, err := vision.NewRecognizer(cfg.Vision)
	if err != nil {
		slog.Error("init recognizer", "error", err)
		os.Exit(1)
	}
	defer recognizer.Close()

	// Outbound fetching
	guard := ingest.NewURLGuard()
	client := guard.HTTPClient(cfg.Scrape.HTTPTimeout)
	scraper := ingest.NewScraper(guard, client, cfg.Scrape.UserAgent)
	downloader := ingest.NewDownloader(guard, client, cfg.Scrape)

	faceSvc := faces.NewService(db, minioStore, recognizer, downloader)
	gallerySvc := gallery.NewService(db, cfg.Gallery)

	orch := scrapejob.NewOrchestrator(db, scraper, guard, faceSvc, cfg.Scrape.Workers,
		scrapejob.WithEvents(publisher),
		scrapejob.WithRetention(cfg.Scrape.Retention),
		scrapejob.WithRunContext(ctx),
	)
	if err := orch.RecoverOnStartup(ctx); err != nil {
		slog.Error("recover scrape jobs", "error", err)
	}
	orch.DrainQueued(ctx)

	housekeeper := scrapejob.NewHousekeeper(orch, cfg.Scrape.CleanupSchedule)
	if err := housekeeper.Start(); err != nil {
		slog.Error("start housekeeping", "error", err)
		os.Exit(1)
	}

	router := api.NewRouter(api.RouterConfig{
		Auth:    auth.NewAuthenticator(cfg.Server.APIKey, db),
		Jobs:    orch,
		Gallery: gallerySvc,
		Faces:   faceSvc,
		People:  db,
		Hub:     hub,
		Checks: map[string]handlers.Check{
			"postgres": db.Ping,
			"minio":    minioStore.Ping,
			"nats":     func(context.Context) error { return publisher.Ping() },
		},
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	housekeeper.Stop()
	cancel()
	orch.Wait()

	slog.Info("API server stopped")
}
