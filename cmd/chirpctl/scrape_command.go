package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/your-org/chirp/internal/faces"
	"github.com/your-org/chirp/internal/ingest"
	"github.com/your-org/chirp/internal/models"
	"github.com/your-org/chirp/internal/scrapejob"
	"github.com/your-org/chirp/internal/storage"
)

type imageSaver interface {
	DetectAndSave(ctx context.Context, sourceURL, filename string) (*faces.Saved, error)
}

type scrapeSummary struct {
	Processed int
	Skipped   int
	Failed    int
}

func newScrapeCommand(ctx *commandContext) *cobra.Command {
	var (
		start   int
		end     int
		workers int
	)

	cmd := &cobra.Command{
		Use:   "scrape <url>",
		Short: "Scrape a page and detect faces in its images without creating a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if start < 0 {
				return fmt.Errorf("--start must be non-negative")
			}
			return ctx.withStore(cmd.Context(), func(db *storage.PostgresStore) error {
				tools, err := ctx.newFaceTools(cmd.Context(), db, true)
				if err != nil {
					return err
				}
				defer tools.close()

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Scraping images from: %s\n", args[0])
				urls, err := tools.scraper.ScrapeImages(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Found %d total images\n", len(urls))

				selected := selectRange(urls, start, end)
				fmt.Fprintf(out, "Processing %d images with %d worker(s)\n\n", len(selected), workers)

				sum := processURLs(cmd.Context(), out, tools.service, selected, start, workers)
				fmt.Fprintf(out, "\nDone: %d processed, %d skipped, %d failed\n", sum.Processed, sum.Skipped, sum.Failed)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&start, "start", 0, "Index of the first image to process")
	cmd.Flags().IntVar(&end, "end", -1, "Index after the last image to process (-1 for all)")
	cmd.Flags().IntVar(&workers, "workers", 1, "Number of images processed in parallel")
	return cmd
}

// selectRange returns urls[start:end], clamped to the slice. A negative end
// means the rest of the slice.
func selectRange(urls []string, start, end int) []string {
	if end < 0 || end > len(urls) {
		end = len(urls)
	}
	if start > end {
		return nil
	}
	return urls[start:end]
}

// processURLs saves each image through the pool and prints one line per
// image as it finishes. offset is added to printed indexes.
func processURLs(ctx context.Context, out io.Writer, saver imageSaver, urls []string, offset, workers int) scrapeSummary {
	items := make([]models.ScrapeJobItem, len(urls))
	index := make(map[string]int, len(urls))
	for i, u := range urls {
		items[i] = models.ScrapeJobItem{SourceURL: u, Status: models.ItemStatusQueued}
		index[u] = offset + i
	}

	var (
		mu  sync.Mutex
		sum scrapeSummary
	)
	done := func(res scrapejob.ItemResult) {
		mu.Lock()
		defer mu.Unlock()
		name := ingest.FilenameFromURL(res.Item.SourceURL)
		i := index[res.Item.SourceURL]
		switch res.Outcome {
		case scrapejob.OutcomeProcessed:
			sum.Processed++
			fmt.Fprintf(out, "  [%d] %s: %d face(s)\n", i, name, res.FaceCount)
		case scrapejob.OutcomeSkipped:
			sum.Skipped++
			fmt.Fprintf(out, "  [%d] %s: already exists, skipping\n", i, name)
		default:
			sum.Failed++
			fmt.Fprintf(out, "  [%d] %s: failed: %v\n", i, name, res.Err)
		}
	}

	scrapejob.NewPool(workers).Run(ctx, items, func(ctx context.Context, item models.ScrapeJobItem) scrapejob.ItemResult {
		saved, err := saver.DetectAndSave(ctx, item.SourceURL, "")
		switch {
		case faces.IsConflict(err):
			return scrapejob.ItemResult{Item: item, Outcome: scrapejob.OutcomeSkipped}
		case err != nil:
			return scrapejob.ItemResult{Item: item, Outcome: scrapejob.OutcomeFailed, Err: err}
		}
		return scrapejob.ItemResult{
			Item:      item,
			Outcome:   scrapejob.OutcomeProcessed,
			ImageID:   &saved.Image.ID,
			FaceCount: len(saved.Faces),
		}
	}, done)

	return sum
}
