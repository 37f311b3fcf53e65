package scrapejob

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"

	"github.com/your-org/chirp/internal/models"
)

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// ItemResult is what processing one item produced. Err is set only for
// OutcomeFailed.
type ItemResult struct {
	Item      models.ScrapeJobItem
	Outcome   Outcome
	ImageID   *uuid.UUID
	FaceCount int
	Err       error
}

func failedResult(item models.ScrapeJobItem, err error) ItemResult {
	return ItemResult{Item: item, Outcome: OutcomeFailed, Err: err}
}

// ItemFunc processes one item. Failures are reported in the result.
type ItemFunc func(ctx context.Context, item models.ScrapeJobItem) ItemResult

// Pool runs ItemFuncs on a fixed number of goroutines.
type Pool struct {
	workers int
}

func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{workers: workers}
}

func (p *Pool) Workers() int { return p.workers }

// Run processes every item and returns one result per item, in input order.
// done, if non-nil, is called from the worker goroutine as each result is
// ready. A panic in fn becomes an OutcomeFailed result; a panic in done is
// logged and the result kept.
func (p *Pool) Run(ctx context.Context, items []models.ScrapeJobItem, fn ItemFunc, done func(ItemResult)) []ItemResult {
	results := make([]ItemResult, len(items))
	if len(items) == 0 {
		return results
	}

	idx := make(chan int)
	var wg sync.WaitGroup

	workers := p.workers
	if workers > len(items) {
		workers = len(items)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idx {
				res := runItem(ctx, items[i], fn)
				if done != nil {
					notify(done, res)
				}
				results[i] = res
			}
		}()
	}

	for i := range items {
		idx <- i
	}
	close(idx)
	wg.Wait()
	return results
}

func runItem(ctx context.Context, item models.ScrapeJobItem, fn ItemFunc) (res ItemResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("item worker panic", "item_id", item.ID, "panic", r, "stack", string(debug.Stack()))
			res = failedResult(item, fmt.Errorf("panic: %v", r))
		}
	}()
	return fn(ctx, item)
}

func notify(done func(ItemResult), res ItemResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("item result callback panic", "item_id", res.Item.ID, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	done(res)
}
