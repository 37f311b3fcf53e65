package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/chirp/internal/models"
)

const imageColumns = `id, filename, source_url, width, height, object_key, created_at`

func scanImage(row pgx.Row) (*models.Image, error) {
	img := &models.Image{}
	if err := row.Scan(&img.ID, &img.Filename, &img.SourceURL, &img.Width, &img.Height, &img.ObjectKey, &img.CreatedAt); err != nil {
		return nil, err
	}
	return img, nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func insertImage(ctx context.Context, q rowQuerier, img *models.Image) error {
	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}
	err := q.QueryRow(ctx,
		`INSERT INTO images (id, filename, source_url, width, height, object_key)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		img.ID, img.Filename, img.SourceURL, img.Width, img.Height, img.ObjectKey,
	).Scan(&img.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			src := ""
			if img.SourceURL != nil {
				src = *img.SourceURL
			}
			return &models.ConflictError{Resource: "image", ID: src}
		}
		return fmt.Errorf("create image: %w", err)
	}
	return nil
}

func insertFace(ctx context.Context, q rowQuerier, f *models.DetectedFace) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	err := q.QueryRow(ctx,
		`INSERT INTO detected_faces (id, image_id, location_top, location_right, location_bottom, location_left, encoding, person_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at`,
		f.ID, f.ImageID, f.Location.Top, f.Location.Right, f.Location.Bottom, f.Location.Left,
		pgvector.NewVector(f.Encoding), f.PersonID,
	).Scan(&f.CreatedAt)
	if err != nil {
		return fmt.Errorf("create detected face: %w", err)
	}
	return nil
}

// CreateImage inserts img. A zero ID is replaced with a new one. A duplicate
// source URL yields a *models.ConflictError.
func (s *PostgresStore) CreateImage(ctx context.Context, img *models.Image) error {
	return insertImage(ctx, s.pool, img)
}

func (s *PostgresStore) GetImage(ctx context.Context, id uuid.UUID) (*models.Image, error) {
	img, err := scanImage(s.pool.QueryRow(ctx,
		`SELECT `+imageColumns+` FROM images WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get image: %w", err)
	}
	return img, nil
}

func (s *PostgresStore) ImageBySourceURL(ctx context.Context, url string) (*models.Image, error) {
	img, err := scanImage(s.pool.QueryRow(ctx,
		`SELECT `+imageColumns+` FROM images WHERE source_url = $1`, url))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get image by source url: %w", err)
	}
	return img, nil
}

// DeleteImage removes the image and its faces. The deleted row is returned
// so the caller can clean up the stored object.
func (s *PostgresStore) DeleteImage(ctx context.Context, id uuid.UUID) (*models.Image, error) {
	img, err := scanImage(s.pool.QueryRow(ctx,
		`DELETE FROM images WHERE id = $1 RETURNING `+imageColumns, id))
	if err != nil {
		if isNoRows(err) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("delete image: %w", err)
	}
	return img, nil
}

func (s *PostgresStore) UpdateImageDimensions(ctx context.Context, id uuid.UUID, width, height int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE images SET width = $2, height = $3 WHERE id = $1`, id, width, height)
	if err != nil {
		return fmt.Errorf("update image dimensions: %w", err)
	}
	return nil
}

// ImagesMissingDimensions returns up to limit images with no width or height.
func (s *PostgresStore) ImagesMissingDimensions(ctx context.Context, limit int) ([]models.Image, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+imageColumns+` FROM images WHERE width IS NULL OR height IS NULL
		 ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list images missing dimensions: %w", err)
	}
	defer rows.Close()

	var images []models.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, *img)
	}
	return images, rows.Err()
}

// CreateImageWithFaces inserts img and its faces in one transaction, so an
// image row never exists with only some of its faces.
func (s *PostgresStore) CreateImageWithFaces(ctx context.Context, img *models.Image, faces []models.DetectedFace) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin image tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertImage(ctx, tx, img); err != nil {
		return err
	}
	for i := range faces {
		faces[i].ImageID = img.ID
		if err := insertFace(ctx, tx, &faces[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit image: %w", err)
	}
	return nil
}

// --- Detected faces ---

// CreateFaces attaches faces to an existing image in one transaction.
func (s *PostgresStore) CreateFaces(ctx context.Context, imageID uuid.UUID, faces []models.DetectedFace) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin faces tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i := range faces {
		faces[i].ImageID = imageID
		if err := insertFace(ctx, tx, &faces[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit faces: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountFaces(ctx context.Context, imageID uuid.UUID) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM detected_faces WHERE image_id = $1`, imageID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count faces: %w", err)
	}
	return n, nil
}

// AssignFacePerson sets or clears (personID == nil) the person on a face.
func (s *PostgresStore) AssignFacePerson(ctx context.Context, faceID uuid.UUID, personID *uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE detected_faces SET person_id = $2 WHERE id = $1`, faceID, personID)
	if err != nil {
		return fmt.Errorf("assign face person: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
