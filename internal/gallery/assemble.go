package gallery

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/chirp/internal/models"
)

// orderedMap keeps values in first-insertion order.
type orderedMap[K comparable, V any] struct {
	index map[K]int
	vals  []V
}

func newOrderedMap[K comparable, V any]() *orderedMap[K, V] {
	return &orderedMap[K, V]{index: make(map[K]int)}
}

// getOrAdd returns the value for k, inserting mk() at the end if absent.
func (m *orderedMap[K, V]) getOrAdd(k K, mk func() V) V {
	if i, ok := m.index[k]; ok {
		return m.vals[i]
	}
	v := mk()
	m.index[k] = len(m.vals)
	m.vals = append(m.vals, v)
	return v
}

func (m *orderedMap[K, V]) values() []V {
	return m.vals
}

type assembledImage struct {
	image       *models.ImageWithFaces
	faces       *orderedMap[uuid.UUID, *models.Face]
	createdAt   time.Time
	isTagged    int
	minDistance *float64
}

// Assemble groups denormalized rows into images with their faces and
// candidate matches. Images and faces keep the order in which they first
// appear; matches keep row order.
func Assemble(rows []models.ImageMatchRow) []models.ImageWithFaces {
	assembled := assembleRows(rows)
	out := make([]models.ImageWithFaces, 0, len(assembled))
	for _, a := range assembled {
		out = append(out, finish(a))
	}
	return out
}

func assembleRows(rows []models.ImageMatchRow) []*assembledImage {
	images := newOrderedMap[uuid.UUID, *assembledImage]()

	for i := range rows {
		r := &rows[i]
		img := images.getOrAdd(r.ImageID, func() *assembledImage {
			a := &assembledImage{
				image: &models.ImageWithFaces{
					ID:            r.ImageID,
					Filename:      r.Filename,
					SourceURL:     r.SourceURL,
					Width:         r.Width,
					Height:        r.Height,
					CreatedAt:     r.CreatedAt,
					DetectedFaces: []models.Face{},
				},
				faces:       newOrderedMap[uuid.UUID, *models.Face](),
				createdAt:   r.CreatedAt,
				minDistance: r.SortMinDistance,
			}
			if r.SortIsTagged != nil {
				a.isTagged = *r.SortIsTagged
			}
			return a
		})

		if r.FaceID == nil {
			continue
		}
		face := img.faces.getOrAdd(*r.FaceID, func() *models.Face {
			return &models.Face{
				ID: *r.FaceID,
				Location: models.FaceLocation{
					Top:    deref(r.LocationTop),
					Right:  deref(r.LocationRight),
					Bottom: deref(r.LocationBottom),
					Left:   deref(r.LocationLeft),
				},
				PersonID:       r.AssignedPersonID,
				MatchedPersons: []models.PersonMatch{},
			}
		})

		if r.MatchedPersonID == nil {
			continue
		}
		m := models.PersonMatch{PersonID: *r.MatchedPersonID}
		if r.MatchedPersonName != nil {
			m.PersonName = *r.MatchedPersonName
		}
		if r.MatchDistance != nil {
			m.Distance = *r.MatchDistance
		}
		face.MatchedPersons = append(face.MatchedPersons, m)
	}

	return images.values()
}

func finish(a *assembledImage) models.ImageWithFaces {
	img := *a.image
	for _, f := range a.faces.values() {
		img.DetectedFaces = append(img.DetectedFaces, *f)
	}
	return img
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
