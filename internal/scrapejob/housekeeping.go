package scrapejob

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const sweepTimeout = time.Minute

// Sweeper deletes expired jobs.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// Housekeeper runs the retention sweep on a cron schedule.
type Housekeeper struct {
	sweeper  Sweeper
	cron     *cron.Cron
	schedule string
	logger   *slog.Logger
}

func NewHousekeeper(sweeper Sweeper, schedule string) *Housekeeper {
	if schedule == "" {
		schedule = "@every 6h"
	}
	return &Housekeeper{
		sweeper:  sweeper,
		cron:     cron.New(),
		schedule: schedule,
		logger:   slog.With("component", "housekeeping"),
	}
}

func (h *Housekeeper) Start() error {
	if _, err := h.cron.AddFunc(h.schedule, h.RunNow); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", h.schedule, err)
	}
	h.cron.Start()
	h.logger.Info("housekeeping started", "schedule", h.schedule)
	return nil
}

// Stop stops scheduling and waits for a running sweep to finish.
func (h *Housekeeper) Stop() {
	<-h.cron.Stop().Done()
	h.logger.Info("housekeeping stopped")
}

// RunNow sweeps once, synchronously.
func (h *Housekeeper) RunNow() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	n, err := h.sweeper.Sweep(ctx)
	if err != nil {
		h.logger.Error("sweep expired jobs", "error", err)
		return
	}
	h.logger.Debug("sweep finished", "deleted", n)
}
