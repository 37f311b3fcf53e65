package gallery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/your-org/chirp/internal/config"
	"github.com/your-org/chirp/internal/models"
	"github.com/your-org/chirp/internal/storage"
)

// Store is the read side of the image repository.
type Store interface {
	QueryImagesPage(ctx context.Context, q storage.ImagesPageQuery) ([]models.ImageMatchRow, error)
	QueryImageDetail(ctx context.Context, id uuid.UUID, threshold float64, topN int) ([]models.ImageMatchRow, error)
}

type Service struct {
	store  Store
	cfg    config.GalleryConfig
	logger *slog.Logger
}

func NewService(store Store, cfg config.GalleryConfig) *Service {
	return &Service{
		store:  store,
		cfg:    cfg,
		logger: slog.With("component", "gallery"),
	}
}

type ListParams struct {
	Limit        int
	Cursor       string
	SortPersonID *uuid.UUID
	Search       string
}

type Page struct {
	Images     []models.ImageWithFaces
	NextCursor *string
}

func (s *Service) limit(requested int) int {
	switch {
	case requested <= 0:
		return s.cfg.DefaultLimit
	case requested > s.cfg.MaxLimit:
		return s.cfg.MaxLimit
	default:
		return requested
	}
}

// ListImages returns one page of images. A malformed cursor, or one issued
// for a different ordering, yields an error wrapping ErrInvalidCursor.
func (s *Service) ListImages(ctx context.Context, p ListParams) (*Page, error) {
	limit := s.limit(p.Limit)
	mode := ModeChrono
	if p.SortPersonID != nil {
		mode = ModePerson
	}

	q := storage.ImagesPageQuery{
		Threshold:    s.cfg.MatchThreshold,
		TopN:         s.cfg.MatchTopN,
		Limit:        limit,
		SortPersonID: p.SortPersonID,
		Search:       p.Search,
	}
	if p.Cursor != "" {
		c, err := DecodeCursorFor(p.Cursor, mode)
		if err != nil {
			return nil, err
		}
		if mode == ModePerson {
			q.AfterPerson = &storage.PersonPosition{ID: c.ID, IsTagged: c.IsTagged, MinDistance: c.MinDistance}
		} else {
			q.After = &storage.ChronoPosition{CreatedAt: c.CreatedAt, ID: c.ID}
		}
	}

	rows, err := s.store.QueryImagesPage(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}

	assembled := assembleRows(rows)
	page := &Page{Images: make([]models.ImageWithFaces, 0, min(len(assembled), limit))}

	if len(assembled) > limit {
		extra := assembled[limit]
		next, err := EncodeCursor(Cursor{
			Mode:        mode,
			ID:          extra.image.ID,
			CreatedAt:   extra.createdAt,
			IsTagged:    extra.isTagged,
			MinDistance: extra.minDistance,
		})
		if err != nil {
			return nil, fmt.Errorf("list images: %w", err)
		}
		page.NextCursor = &next
		assembled = assembled[:limit]
	}
	for _, a := range assembled {
		page.Images = append(page.Images, finish(a))
	}

	s.logger.Debug("listed images",
		"rows", len(rows),
		"images", len(page.Images),
		"has_next", page.NextCursor != nil,
	)
	return page, nil
}

// GetImage returns a single image with faces and matches, or nil if absent.
func (s *Service) GetImage(ctx context.Context, id uuid.UUID) (*models.ImageWithFaces, error) {
	rows, err := s.store.QueryImageDetail(ctx, id, s.cfg.MatchThreshold, s.cfg.MatchTopN)
	if err != nil {
		return nil, fmt.Errorf("get image: %w", err)
	}
	images := Assemble(rows)
	if len(images) == 0 {
		return nil, nil
	}
	return &images[0], nil
}
