package storage

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildImagesPageSQL_Chronological(t *testing.T) {
	id := uuid.New()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	query, args := buildImagesPageSQL(ImagesPageQuery{
		Threshold: 0.5,
		TopN:      3,
		Limit:     40,
		Search:    "cat_50%",
		After:     &ChronoPosition{CreatedAt: at, ID: id},
	})

	require.Len(t, args, 6)
	assert.Equal(t, 0.5, args[0])
	assert.Equal(t, 3, args[1])
	assert.Equal(t, `%cat\_50\%%`, args[2])
	assert.Equal(t, at, args[3])
	assert.Equal(t, id, args[4])
	assert.Equal(t, 41, args[5])

	assert.Contains(t, query, "(i.created_at, i.id) <= ($4, $5)")
	assert.Contains(t, query, "LIMIT $6")
	assert.Contains(t, query, "ORDER BY "+chronoOrder)
	assert.NotContains(t, query, "tagged AS")
}

func TestBuildImagesPageSQL_PersonNullDistance(t *testing.T) {
	person := uuid.New()
	id := uuid.New()

	query, args := buildImagesPageSQL(ImagesPageQuery{
		Threshold:    0.5,
		TopN:         3,
		Limit:        2,
		SortPersonID: &person,
		AfterPerson:  &PersonPosition{ID: id, IsTagged: 0},
	})

	require.Len(t, args, 7)
	assert.Equal(t, person, args[2])
	assert.Equal(t, 0, args[3])
	assert.True(t, math.IsInf(args[4].(float64), 1))
	assert.Equal(t, id, args[5])
	assert.Equal(t, 3, args[6])

	assert.Contains(t, query, "person_id = $3")
	assert.Contains(t, query, "s.id >= $6")
	assert.Contains(t, query, "LIMIT $7")
	assert.Contains(t, query, "ORDER BY "+personOrder)
}

func TestBuildImagesPageSQL_FirstPage(t *testing.T) {
	_, args := buildImagesPageSQL(ImagesPageQuery{Threshold: 0.4, TopN: 1, Limit: 10})
	assert.Equal(t, []interface{}{0.4, 1, 11}, args)
}
