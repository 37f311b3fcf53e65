package storage

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/chirp/internal/models"
)

// ChronoPosition is the inclusive start of a chronological page.
type ChronoPosition struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// PersonPosition is the inclusive start of a person-sorted page. A nil
// MinDistance sorts after every finite distance.
type PersonPosition struct {
	ID          uuid.UUID
	IsTagged    int
	MinDistance *float64
}

type ImagesPageQuery struct {
	Threshold float64
	TopN      int
	// Limit is the page size; rows for up to Limit+1 images are returned so
	// the caller can tell whether another page exists.
	Limit        int
	SortPersonID *uuid.UUID
	Search       string
	After        *ChronoPosition
	AfterPerson  *PersonPosition
}

const chronoOrder = `p.created_at DESC, p.id DESC`
const personOrder = `p.is_tagged DESC, COALESCE(p.min_distance, 'Infinity'::float8) ASC, p.id ASC`

// buildImagesPageSQL renders the page query and its arguments. Image columns
// repeat per face, face columns repeat per candidate match.
func buildImagesPageSQL(q ImagesPageQuery) (string, []interface{}) {
	args := []interface{}{q.Threshold, q.TopN}
	argIdx := 3

	where := []string{"TRUE"}
	if q.Search != "" {
		where = append(where, fmt.Sprintf("(i.filename ILIKE $%d OR i.source_url ILIKE $%d)", argIdx, argIdx))
		args = append(args, "%"+escapeLike(q.Search)+"%")
		argIdx++
	}

	var page, order string
	if q.SortPersonID != nil {
		personArg := argIdx
		args = append(args, *q.SortPersonID)
		argIdx++

		cursorWhere := "TRUE"
		if q.AfterPerson != nil {
			dist := math.Inf(1)
			if q.AfterPerson.MinDistance != nil {
				dist = *q.AfterPerson.MinDistance
			}
			cursorWhere = fmt.Sprintf(`(s.is_tagged < $%[1]d OR (s.is_tagged = $%[1]d AND (
				COALESCE(s.min_distance, 'Infinity'::float8) > $%[2]d::float8 OR
				(COALESCE(s.min_distance, 'Infinity'::float8) = $%[2]d::float8 AND s.id >= $%[3]d))))`,
				argIdx, argIdx+1, argIdx+2)
			args = append(args, q.AfterPerson.IsTagged, dist, q.AfterPerson.ID)
			argIdx += 3
		}

		page = fmt.Sprintf(`tagged AS (
			SELECT id, encoding FROM detected_faces WHERE person_id = $%[1]d
		),
		scored AS (
			SELECT i.id, i.filename, i.source_url, i.width, i.height, i.created_at,
				CASE WHEN EXISTS (
					SELECT 1 FROM detected_faces tf WHERE tf.image_id = i.id AND tf.person_id = $%[1]d
				) THEN 1 ELSE 0 END AS is_tagged,
				(SELECT MIN(df.encoding <=> t.encoding)
				   FROM detected_faces df JOIN tagged t ON t.id <> df.id
				  WHERE df.image_id = i.id) AS min_distance
			FROM images i
			WHERE %[2]s
		),
		page AS (
			SELECT s.* FROM scored s
			WHERE %[3]s
			ORDER BY %[4]s
			LIMIT $%[5]d
		)`, personArg, strings.Join(where, " AND "), cursorWhere,
			strings.ReplaceAll(personOrder, "p.", "s."), argIdx)
		order = personOrder
	} else {
		if q.After != nil {
			where = append(where, fmt.Sprintf("(i.created_at, i.id) <= ($%d, $%d)", argIdx, argIdx+1))
			args = append(args, q.After.CreatedAt, q.After.ID)
			argIdx += 2
		}
		page = fmt.Sprintf(`page AS (
			SELECT i.id, i.filename, i.source_url, i.width, i.height, i.created_at,
				NULL::int AS is_tagged, NULL::float8 AS min_distance
			FROM images i
			WHERE %s
			ORDER BY i.created_at DESC, i.id DESC
			LIMIT $%d
		)`, strings.Join(where, " AND "), argIdx)
		order = chronoOrder
	}
	args = append(args, q.Limit+1)

	return `WITH ` + page + `
		SELECT ` + matchSelect + `
		FROM page p` + matchJoins + `
		ORDER BY ` + order + `, f.created_at ASC, f.id ASC, m.distance ASC`, args
}

const matchSelect = `p.id, p.filename, p.source_url, p.width, p.height, p.created_at,
	p.is_tagged, p.min_distance,
	f.id, f.location_top, f.location_right, f.location_bottom, f.location_left, f.person_id,
	m.person_id, m.person_name, m.distance`

// matchJoins attaches each face and its closest persons within $1, at most
// $2 per face. A person's distance is the minimum over their tagged faces.
const matchJoins = `
	LEFT JOIN detected_faces f ON f.image_id = p.id
	LEFT JOIN LATERAL (
		SELECT pe.id AS person_id, pe.name AS person_name, MIN(o.encoding <=> f.encoding) AS distance
		FROM detected_faces o
		JOIN persons pe ON pe.id = o.person_id
		WHERE o.id <> f.id
		GROUP BY pe.id, pe.name
		HAVING MIN(o.encoding <=> f.encoding) <= $1
		ORDER BY distance ASC, pe.id ASC
		LIMIT $2
	) m ON TRUE`

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// QueryImagesPage returns the denormalized rows for one gallery page.
func (s *PostgresStore) QueryImagesPage(ctx context.Context, q ImagesPageQuery) ([]models.ImageMatchRow, error) {
	query, args := buildImagesPageSQL(q)
	return s.queryMatchRows(ctx, "query images page", query, args...)
}

// QueryImageDetail returns the denormalized rows for a single image, or no
// rows if the image does not exist.
func (s *PostgresStore) QueryImageDetail(ctx context.Context, id uuid.UUID, threshold float64, topN int) ([]models.ImageMatchRow, error) {
	query := `WITH page AS (
			SELECT i.id, i.filename, i.source_url, i.width, i.height, i.created_at,
				NULL::int AS is_tagged, NULL::float8 AS min_distance
			FROM images i WHERE i.id = $3
		)
		SELECT ` + matchSelect + `
		FROM page p` + matchJoins + `
		ORDER BY f.created_at ASC, f.id ASC, m.distance ASC`
	return s.queryMatchRows(ctx, "query image detail", query, threshold, topN, id)
}

func (s *PostgresStore) queryMatchRows(ctx context.Context, op, query string, args ...interface{}) ([]models.ImageMatchRow, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []models.ImageMatchRow
	for rows.Next() {
		var r models.ImageMatchRow
		if err := rows.Scan(
			&r.ImageID, &r.Filename, &r.SourceURL, &r.Width, &r.Height, &r.CreatedAt,
			&r.SortIsTagged, &r.SortMinDistance,
			&r.FaceID, &r.LocationTop, &r.LocationRight, &r.LocationBottom, &r.LocationLeft, &r.AssignedPersonID,
			&r.MatchedPersonID, &r.MatchedPersonName, &r.MatchDistance,
		); err != nil {
			return nil, fmt.Errorf("scan image row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}
