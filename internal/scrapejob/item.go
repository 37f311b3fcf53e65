package scrapejob

import (
	"context"
	"errors"
	"fmt"

	"github.com/your-org/chirp/internal/models"
	"github.com/your-org/chirp/internal/observability"
)

const maxItemError = 500

// processItem resolves one item to an outcome. It writes only the
// processing status; recordResult writes the final state.
func (o *Orchestrator) processItem(ctx context.Context, item models.ScrapeJobItem) ItemResult {
	if err := o.store.UpdateItem(ctx, item.ID, models.ItemUpdate{Status: models.ItemStatusProcessing}); err != nil {
		return failedResult(item, fmt.Errorf("mark item processing: %w", err))
	}

	prior, err := o.store.CompletedItemBySourceURL(ctx, item.SourceURL, item.ID)
	if err != nil {
		return failedResult(item, err)
	}
	if prior != nil {
		return ItemResult{Item: item, Outcome: OutcomeSkipped, ImageID: prior.ImageID}
	}

	// An image row without a completed item means an earlier attempt saved
	// the image and stopped before finishing.
	existing, err := o.store.ImageBySourceURL(ctx, item.SourceURL)
	if err != nil {
		return failedResult(item, err)
	}
	if existing != nil {
		n, err := o.images.DetectAndLink(ctx, existing)
		if err != nil {
			return failedResult(item, err)
		}
		return ItemResult{Item: item, Outcome: OutcomeProcessed, ImageID: &existing.ID, FaceCount: n}
	}

	saved, err := o.images.DetectAndSave(ctx, item.SourceURL, "")
	if err != nil {
		if errors.Is(err, models.ErrImageExists) {
			if img, lerr := o.store.ImageBySourceURL(ctx, item.SourceURL); lerr == nil && img != nil {
				return ItemResult{Item: item, Outcome: OutcomeSkipped, ImageID: &img.ID}
			}
		}
		return failedResult(item, err)
	}
	return ItemResult{Item: item, Outcome: OutcomeProcessed, ImageID: &saved.Image.ID, FaceCount: len(saved.Faces)}
}

// recordResult writes the item's final status and bumps the job counters.
// Store errors are logged; the item result itself is never lost.
func (o *Orchestrator) recordResult(ctx context.Context, res ItemResult) {
	item := res.Item
	log := o.logger.With("job_id", item.JobID, "item_id", item.ID)

	var (
		update  models.ItemUpdate
		counter models.CounterColumn
	)
	switch res.Outcome {
	case OutcomeProcessed:
		update = models.ItemUpdate{Status: models.ItemStatusCompleted, ImageID: res.ImageID}
		counter = models.CounterProcessed
	case OutcomeSkipped:
		update = models.ItemUpdate{Status: models.ItemStatusSkipped, ImageID: res.ImageID}
		counter = models.CounterSkipped
	default:
		msg := "unknown error"
		if res.Err != nil {
			msg = models.Truncate(res.Err.Error(), maxItemError)
		}
		update = models.ItemUpdate{Status: models.ItemStatusFailed, Error: &msg}
		counter = models.CounterFailed
		log.Warn("item failed", "source_url", item.SourceURL, "error", msg)
	}

	if err := o.store.UpdateItem(ctx, item.ID, update); err != nil {
		log.Error("update item", "status", update.Status, "error", err)
	}
	if err := o.store.IncrementJobCounter(ctx, item.JobID, counter, 1); err != nil {
		log.Error("increment job counter", "counter", counter, "error", err)
	}
	if res.Outcome == OutcomeProcessed && res.FaceCount > 0 {
		if err := o.store.IncrementJobCounter(ctx, item.JobID, models.CounterTotalFaces, res.FaceCount); err != nil {
			log.Error("increment job counter", "counter", models.CounterTotalFaces, "error", err)
		}
	}

	observability.ItemsProcessed.WithLabelValues(string(res.Outcome)).Inc()

	itemID := item.ID
	ev := models.JobEvent{
		Type:       models.JobEventItemFinished,
		JobID:      item.JobID,
		ItemID:     &itemID,
		ItemStatus: update.Status,
		FaceCount:  res.FaceCount,
	}
	if update.Error != nil {
		ev.Error = *update.Error
	}
	o.publish(ctx, ev)
}
