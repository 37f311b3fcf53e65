package faces

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/your-org/chirp/internal/ingest"
	"github.com/your-org/chirp/internal/models"
	"github.com/your-org/chirp/internal/observability"
	"github.com/your-org/chirp/internal/storage"
	"github.com/your-org/chirp/internal/vision"
)

type Store interface {
	ImageBySourceURL(ctx context.Context, url string) (*models.Image, error)
	CreateImageWithFaces(ctx context.Context, img *models.Image, faces []models.DetectedFace) error
	CreateFaces(ctx context.Context, imageID uuid.UUID, faces []models.DetectedFace) error
	CountFaces(ctx context.Context, imageID uuid.UUID) (int, error)
	DeleteImage(ctx context.Context, id uuid.UUID) (*models.Image, error)
	ImagesMissingDimensions(ctx context.Context, limit int) ([]models.Image, error)
	UpdateImageDimensions(ctx context.Context, id uuid.UUID, width, height int) error
}

type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
}

type Recognizer interface {
	Recognize(ctx context.Context, data []byte) ([]vision.Face, error)
}

type Downloader interface {
	Download(ctx context.Context, url string) (*ingest.Downloaded, error)
}

// Service turns image URLs into stored images with detected faces.
type Service struct {
	store      Store
	objects    ObjectStore
	recognizer Recognizer
	downloader Downloader
	logger     *slog.Logger
}

func NewService(store Store, objects ObjectStore, recognizer Recognizer, downloader Downloader) *Service {
	return &Service{
		store:      store,
		objects:    objects,
		recognizer: recognizer,
		downloader: downloader,
		logger:     slog.With("component", "faces"),
	}
}

// Saved is an image stored by DetectAndSave.
type Saved struct {
	Image models.Image
	Faces []models.DetectedFace
}

// DetectAndSave downloads sourceURL, detects faces and stores the image
// with its faces. An empty filename is derived from the URL. If an image
// with the same source URL exists, a *models.ConflictError is returned and
// nothing is written.
func (s *Service) DetectAndSave(ctx context.Context, sourceURL, filename string) (*Saved, error) {
	existing, err := s.store.ImageBySourceURL(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &models.ConflictError{Resource: "image", ID: existing.ID.String()}
	}

	dl, err := s.downloader.Download(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	found, err := s.recognizer.Recognize(ctx, dl.Data)
	if err != nil {
		return nil, fmt.Errorf("recognize faces: %w", err)
	}

	if filename == "" {
		filename = ingest.FilenameFromURL(sourceURL)
	}
	img := models.Image{
		ID:        uuid.New(),
		Filename:  filename,
		SourceURL: &sourceURL,
		Width:     &dl.Width,
		Height:    &dl.Height,
	}

	key := storage.ImageKey(img.ID)
	if err := s.objects.PutObject(ctx, key, dl.Data, dl.ContentType); err != nil {
		// The image is still usable without its bytes; re-detection falls
		// back to downloading again.
		s.logger.Warn("store image bytes", "error", err, "source_url", sourceURL)
	} else {
		img.ObjectKey = &key
	}

	detected := toDetectedFaces(found)
	if err := s.store.CreateImageWithFaces(ctx, &img, detected); err != nil {
		if img.ObjectKey != nil {
			s.deleteObject(ctx, key)
		}
		return nil, err
	}

	observability.FacesDetected.Add(float64(len(detected)))
	s.logger.Info("saved image", "image_id", img.ID, "faces", len(detected), "source_url", sourceURL)
	return &Saved{Image: img, Faces: detected}, nil
}

// DetectAndLink runs detection for an image that is already stored and
// attaches the faces to it, all or none. An image that already has faces is
// left as is and its face count returned.
func (s *Service) DetectAndLink(ctx context.Context, img *models.Image) (int, error) {
	n, err := s.store.CountFaces(ctx, img.ID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return n, nil
	}

	data, err := s.imageBytes(ctx, img)
	if err != nil {
		return 0, err
	}

	found, err := s.recognizer.Recognize(ctx, data)
	if err != nil {
		return 0, fmt.Errorf("recognize faces: %w", err)
	}

	if err := s.store.CreateFaces(ctx, img.ID, toDetectedFaces(found)); err != nil {
		return 0, err
	}
	observability.FacesDetected.Add(float64(len(found)))
	s.logger.Info("linked faces", "image_id", img.ID, "faces", len(found))
	return len(found), nil
}

func (s *Service) imageBytes(ctx context.Context, img *models.Image) ([]byte, error) {
	if img.ObjectKey != nil {
		data, err := s.objects.GetObject(ctx, *img.ObjectKey)
		switch {
		case err == nil:
			return data, nil
		case errors.Is(err, models.ErrNotFound):
			s.logger.Info("stored image missing, downloading instead", "image_id", img.ID)
		default:
			s.logger.Warn("load stored image, downloading instead", "error", err, "image_id", img.ID)
		}
	}
	if img.SourceURL == nil {
		return nil, fmt.Errorf("image %s has neither stored bytes nor a source url", img.ID)
	}
	dl, err := s.downloader.Download(ctx, *img.SourceURL)
	if err != nil {
		return nil, err
	}
	return dl.Data, nil
}

// DeleteImage removes the image, its faces and its stored bytes.
func (s *Service) DeleteImage(ctx context.Context, id uuid.UUID) error {
	img, err := s.store.DeleteImage(ctx, id)
	if err != nil {
		return err
	}
	if img.ObjectKey != nil {
		s.deleteObject(ctx, *img.ObjectKey)
	}
	return nil
}

func (s *Service) deleteObject(ctx context.Context, key string) {
	if err := s.objects.DeleteObject(ctx, key); err != nil {
		s.logger.Warn("delete image bytes", "error", err, "key", key)
	}
}

// BackfillDimensions fills width and height for up to limit images that
// lack them. Images that cannot be read are counted and skipped.
func (s *Service) BackfillDimensions(ctx context.Context, limit int) (updated, failed int, err error) {
	images, err := s.store.ImagesMissingDimensions(ctx, limit)
	if err != nil {
		return 0, 0, err
	}

	for i := range images {
		img := &images[i]
		if err := ctx.Err(); err != nil {
			return updated, failed, err
		}

		data, err := s.imageBytes(ctx, img)
		if err != nil {
			s.logger.Warn("backfill: load image", "image_id", img.ID, "error", err)
			failed++
			continue
		}
		w, h, _, err := ingest.DecodeDimensions(data)
		if err != nil {
			s.logger.Warn("backfill: decode image", "image_id", img.ID, "error", err)
			failed++
			continue
		}
		if err := s.store.UpdateImageDimensions(ctx, img.ID, w, h); err != nil {
			return updated, failed, err
		}
		updated++
	}
	return updated, failed, nil
}

func toDetectedFaces(found []vision.Face) []models.DetectedFace {
	out := make([]models.DetectedFace, 0, len(found))
	for _, f := range found {
		out = append(out, models.DetectedFace{
			ID:       uuid.New(),
			Location: f.Location,
			Encoding: f.Embedding,
		})
	}
	return out
}

// IsConflict reports whether err means the image already exists.
func IsConflict(err error) bool {
	return errors.Is(err, models.ErrImageExists)
}
