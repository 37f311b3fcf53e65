package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/your-org/chirp/internal/config"
	"github.com/your-org/chirp/internal/faces"
	"github.com/your-org/chirp/internal/ingest"
	"github.com/your-org/chirp/internal/observability"
	"github.com/your-org/chirp/internal/storage"
	"github.com/your-org/chirp/internal/vision"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
		c.config = cfg
	})
	return c.config, c.configErr
}

// withStore opens the database, applies migrations and closes it after fn.
func (c *commandContext) withStore(ctx context.Context, fn func(*storage.PostgresStore) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}
	return fn(db)
}

// faceTools is what the image commands need besides the database.
type faceTools struct {
	scraper *ingest.Scraper
	service *faces.Service
	close   func()
}

// newFaceTools wires the face service. Detection models are loaded only
// when withVision is set.
func (c *commandContext) newFaceTools(ctx context.Context, db *storage.PostgresStore, withVision bool) (*faceTools, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}

	objects, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		return nil, fmt.Errorf("connect to minio: %w", err)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		return nil, err
	}

	guard := ingest.NewURLGuard()
	client := guard.HTTPClient(cfg.Scrape.HTTPTimeout)
	tools := &faceTools{
		scraper: ingest.NewScraper(guard, client, cfg.Scrape.UserAgent),
		close:   func() {},
	}
	downloader := ingest.NewDownloader(guard, client, cfg.Scrape)

	var recognizer faces.Recognizer
	if withVision {
		if err := vision.InitRuntime(); err != nil {
			return nil, err
		}
		r, err := vision.NewRecognizer(cfg.Vision)
		if err != nil {
			vision.DestroyRuntime()
			return nil, err
		}
		recognizer = r
		tools.close = func() {
			r.Close()
			vision.DestroyRuntime()
		}
	}

	tools.service = faces.NewService(db, objects, recognizer, downloader)
	return tools, nil
}
