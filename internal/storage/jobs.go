package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/your-org/chirp/internal/models"
)

const jobColumns = `id, url, status, total_images, processed_count, skipped_count, failed_count,
	total_faces, preview_url, error, created_at, updated_at`

func scanJob(row pgx.Row) (*models.ScrapeJob, error) {
	j := &models.ScrapeJob{}
	err := row.Scan(&j.ID, &j.URL, &j.Status, &j.TotalImages, &j.ProcessedCount, &j.SkippedCount,
		&j.FailedCount, &j.TotalFaces, &j.PreviewURL, &j.Error, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return j, nil
}

// --- Scrape jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, url string) (*models.ScrapeJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`INSERT INTO scrape_jobs (id, url, status) VALUES ($1, $2, $3) RETURNING `+jobColumns,
		uuid.New(), url, models.JobStatusPending))
	if err != nil {
		return nil, fmt.Errorf("create scrape job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.ScrapeJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM scrape_jobs WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get scrape job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context) ([]models.ScrapeJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM scrape_jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list scrape jobs: %w", err)
	}
	defer rows.Close()

	jobs := []models.ScrapeJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scrape job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// UpdateJob writes the non-nil fields of u and bumps updated_at.
func (s *PostgresStore) UpdateJob(ctx context.Context, id uuid.UUID, u models.JobUpdate) error {
	sets := []string{"updated_at = now()"}
	args := []interface{}{id}
	argIdx := 2

	if u.Status != nil {
		if !u.Status.Valid() {
			return models.NewValidationError("status", string(*u.Status))
		}
		sets = append(sets, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *u.Status)
		argIdx++
	}
	if u.TotalImages != nil {
		sets = append(sets, fmt.Sprintf("total_images = $%d", argIdx))
		args = append(args, *u.TotalImages)
		argIdx++
	}
	if u.PreviewURL != nil {
		sets = append(sets, fmt.Sprintf("preview_url = $%d", argIdx))
		args = append(args, *u.PreviewURL)
		argIdx++
	}
	if u.Error != nil {
		sets = append(sets, fmt.Sprintf("error = $%d", argIdx))
		args = append(args, *u.Error)
		argIdx++
	} else if u.ClearError {
		sets = append(sets, "error = NULL")
	}
	if u.FailedCount != nil {
		sets = append(sets, fmt.Sprintf("failed_count = $%d", argIdx))
		args = append(args, *u.FailedCount)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE scrape_jobs SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("update scrape job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// IncrementJobCounter adds amount to one counter column in a single
// statement so concurrent workers never lose updates.
func (s *PostgresStore) IncrementJobCounter(ctx context.Context, id uuid.UUID, column models.CounterColumn, amount int) error {
	return incrementCounter(ctx, s.pool, id, column, amount)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func incrementCounter(ctx context.Context, q execer, id uuid.UUID, column models.CounterColumn, amount int) error {
	if !column.Valid() {
		return models.NewValidationError("counter column", string(column))
	}
	_, err := q.Exec(ctx,
		fmt.Sprintf(`UPDATE scrape_jobs SET %[1]s = %[1]s + $2, updated_at = now() WHERE id = $1`, column),
		id, amount)
	if err != nil {
		return fmt.Errorf("increment %s: %w", column, err)
	}
	return nil
}

// NextQueuedJob returns the oldest pending or retry_pending job.
func (s *PostgresStore) NextQueuedJob(ctx context.Context) (*models.ScrapeJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM scrape_jobs WHERE status = ANY($1) ORDER BY created_at LIMIT 1`,
		[]string{string(models.JobStatusPending), string(models.JobStatusRetryPending)}))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("next queued job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scrape_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete scrape job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// FailStaleJobs marks every scraping or processing job failed with msg. In
// the same transaction the items those runs left queued or processing are
// failed with msg and counted into failed_count, so Retry requeues them.
func (s *PostgresStore) FailStaleJobs(ctx context.Context, msg string) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin stale jobs tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`SELECT id FROM scrape_jobs WHERE status = ANY($1) FOR UPDATE`,
		[]string{string(models.JobStatusScraping), string(models.JobStatusProcessing)})
	if err != nil {
		return 0, fmt.Errorf("select stale jobs: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return 0, fmt.Errorf("scan stale jobs: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	for _, id := range ids {
		tag, err := tx.Exec(ctx,
			`UPDATE scrape_job_items SET status = $2, error = $3 WHERE job_id = $1 AND status = ANY($4)`,
			id, models.ItemStatusFailed, msg,
			[]string{string(models.ItemStatusQueued), string(models.ItemStatusProcessing)})
		if err != nil {
			return 0, fmt.Errorf("fail interrupted items: %w", err)
		}
		if n := int(tag.RowsAffected()); n > 0 {
			if err := incrementCounter(ctx, tx, id, models.CounterFailed, n); err != nil {
				return 0, err
			}
		}
		if _, err := tx.Exec(ctx,
			`UPDATE scrape_jobs SET status = $2, error = $3, updated_at = now() WHERE id = $1`,
			id, models.JobStatusFailed, msg); err != nil {
			return 0, fmt.Errorf("fail stale job: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit stale jobs: %w", err)
	}
	return int64(len(ids)), nil
}

// DeleteJobsOlderThan removes completed and failed jobs created before cutoff.
func (s *PostgresStore) DeleteJobsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM scrape_jobs WHERE status = ANY($1) AND created_at < $2`,
		[]string{string(models.JobStatusCompleted), string(models.JobStatusFailed)}, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Scrape job items ---

const itemColumns = `id, job_id, source_url, status, image_id, error, created_at`

func scanItem(row pgx.Row) (*models.ScrapeJobItem, error) {
	it := &models.ScrapeJobItem{}
	if err := row.Scan(&it.ID, &it.JobID, &it.SourceURL, &it.Status, &it.ImageID, &it.Error, &it.CreatedAt); err != nil {
		return nil, err
	}
	return it, nil
}

func collectItems(rows pgx.Rows) ([]models.ScrapeJobItem, error) {
	defer rows.Close()
	items := []models.ScrapeJobItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scrape job item: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// BulkInsertItems creates one queued item per URL, in order, in one batch.
func (s *PostgresStore) BulkInsertItems(ctx context.Context, jobID uuid.UUID, urls []string) ([]models.ScrapeJobItem, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	base := time.Now().UTC()
	batch := &pgx.Batch{}
	for i, u := range urls {
		// created_at is staggered so the original order survives ORDER BY created_at.
		batch.Queue(`INSERT INTO scrape_job_items (id, job_id, source_url, status, created_at)
			VALUES ($1, $2, $3, $4, $5) RETURNING `+itemColumns,
			uuid.New(), jobID, u, models.ItemStatusQueued, base.Add(time.Duration(i)*time.Microsecond))
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	items := make([]models.ScrapeJobItem, 0, len(urls))
	for range urls {
		it, err := scanItem(br.QueryRow())
		if err != nil {
			return nil, fmt.Errorf("bulk insert scrape job items: %w", err)
		}
		items = append(items, *it)
	}
	return items, nil
}

func (s *PostgresStore) UpdateItem(ctx context.Context, id uuid.UUID, u models.ItemUpdate) error {
	if !u.Status.Valid() {
		return models.NewValidationError("item status", string(u.Status))
	}
	var errText *string
	if u.Error != nil {
		t := models.Truncate(*u.Error, 500)
		errText = &t
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE scrape_job_items SET status = $2, image_id = COALESCE($3, image_id), error = $4 WHERE id = $1`,
		id, u.Status, u.ImageID, errText)
	if err != nil {
		return fmt.Errorf("update scrape job item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ItemsByJob(ctx context.Context, jobID uuid.UUID) ([]models.ScrapeJobItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM scrape_job_items WHERE job_id = $1 ORDER BY created_at`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list scrape job items: %w", err)
	}
	return collectItems(rows)
}

func (s *PostgresStore) QueuedItems(ctx context.Context, jobID uuid.UUID) ([]models.ScrapeJobItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM scrape_job_items WHERE job_id = $1 AND status = $2 ORDER BY created_at`,
		jobID, models.ItemStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("list queued items: %w", err)
	}
	return collectItems(rows)
}

// CompletedItemBySourceURL finds an earlier completed item with an image for
// url, ignoring the item identified by exclude.
func (s *PostgresStore) CompletedItemBySourceURL(ctx context.Context, url string, exclude uuid.UUID) (*models.ScrapeJobItem, error) {
	it, err := scanItem(s.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM scrape_job_items
		 WHERE source_url = $1 AND status = $2 AND image_id IS NOT NULL AND id <> $3
		 ORDER BY created_at LIMIT 1`,
		url, models.ItemStatusCompleted, exclude))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("completed item by source url: %w", err)
	}
	return it, nil
}

// RequeueFailedItems moves the failed items of a finished job back to
// queued and puts the job in retry_pending with failed_count zeroed and its
// error cleared, all in one transaction. It returns the number of items
// requeued; zero means nothing changed.
func (s *PostgresStore) RequeueFailedItems(ctx context.Context, jobID uuid.UUID) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin requeue tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE scrape_jobs SET status = $2, failed_count = 0, error = NULL, updated_at = now()
		 WHERE id = $1 AND status = ANY($3)`,
		jobID, models.JobStatusRetryPending,
		[]string{string(models.JobStatusCompleted), string(models.JobStatusFailed)})
	if err != nil {
		return 0, fmt.Errorf("requeue scrape job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, nil
	}

	tag, err = tx.Exec(ctx,
		`UPDATE scrape_job_items SET status = $2, error = NULL WHERE job_id = $1 AND status = $3`,
		jobID, models.ItemStatusQueued, models.ItemStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("requeue failed items: %w", err)
	}
	n := int(tag.RowsAffected())
	if n == 0 {
		return 0, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit requeue: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountItemsByStatus(ctx context.Context, jobID uuid.UUID, status models.ItemStatus) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM scrape_job_items WHERE job_id = $1 AND status = $2`, jobID, status,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}
