package faces

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/chirp/internal/ingest"
	"github.com/your-org/chirp/internal/models"
	"github.com/your-org/chirp/internal/vision"
)

type fakeStore struct {
	mu       sync.Mutex
	images   map[uuid.UUID]*models.Image
	faces    map[uuid.UUID][]models.DetectedFace
	facesErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{images: map[uuid.UUID]*models.Image{}, faces: map[uuid.UUID][]models.DetectedFace{}}
}

func (s *fakeStore) ImageBySourceURL(_ context.Context, url string) (*models.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, img := range s.images {
		if img.SourceURL != nil && *img.SourceURL == url {
			cp := *img
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) CreateImageWithFaces(_ context.Context, img *models.Image, faces []models.DetectedFace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.images {
		if existing.SourceURL != nil && img.SourceURL != nil && *existing.SourceURL == *img.SourceURL {
			return &models.ConflictError{Resource: "image", ID: *img.SourceURL}
		}
	}
	cp := *img
	s.images[img.ID] = &cp
	for i := range faces {
		faces[i].ImageID = img.ID
	}
	s.faces[img.ID] = append(s.faces[img.ID], faces...)
	return nil
}

// CreateFaces stores all faces or, when facesErr is set, none.
func (s *fakeStore) CreateFaces(_ context.Context, imageID uuid.UUID, faces []models.DetectedFace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.facesErr != nil {
		return s.facesErr
	}
	for i := range faces {
		faces[i].ImageID = imageID
	}
	s.faces[imageID] = append(s.faces[imageID], faces...)
	return nil
}

func (s *fakeStore) CountFaces(_ context.Context, id uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.faces[id]), nil
}

func (s *fakeStore) DeleteImage(_ context.Context, id uuid.UUID) (*models.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	delete(s.images, id)
	delete(s.faces, id)
	return img, nil
}

func (s *fakeStore) ImagesMissingDimensions(_ context.Context, limit int) ([]models.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Image
	for _, img := range s.images {
		if img.Width == nil && len(out) < limit {
			out = append(out, *img)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateImageDimensions(_ context.Context, id uuid.UUID, w, h int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[id].Width, s.images[id].Height = &w, &h
	return nil
}

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func (o *fakeObjects) PutObject(_ context.Context, key string, data []byte, _ string) error {
	if o.putErr != nil {
		return o.putErr
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = data
	return nil
}

func (o *fakeObjects) GetObject(_ context.Context, key string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func (o *fakeObjects) DeleteObject(_ context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.objects, key)
	return nil
}

type fakeRecognizer struct{ faces int }

func (r fakeRecognizer) Recognize(context.Context, []byte) ([]vision.Face, error) {
	out := make([]vision.Face, r.faces)
	for i := range out {
		out[i] = vision.Face{
			Location:  models.FaceLocation{Top: i, Right: i + 10, Bottom: i + 10, Left: i},
			Embedding: make([]float32, vision.EmbeddingDim),
		}
	}
	return out, nil
}

type fakeDownloader struct {
	data  []byte
	calls int
	err   error
}

func (d *fakeDownloader) Download(context.Context, string) (*ingest.Downloaded, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return &ingest.Downloaded{Data: d.data, ContentType: "image/png", Format: "png", Width: 4, Height: 3}, nil
}

func newTestService(faces int) (*Service, *fakeStore, *fakeObjects, *fakeDownloader) {
	st := newFakeStore()
	obj := &fakeObjects{objects: map[string][]byte{}}
	dl := &fakeDownloader{data: []byte("img")}
	return NewService(st, obj, fakeRecognizer{faces: faces}, dl), st, obj, dl
}

func TestDetectAndSave(t *testing.T) {
	svc, st, obj, _ := newTestService(2)

	saved, err := svc.DetectAndSave(context.Background(), "https://example.com/a/cat.png", "")
	require.NoError(t, err)
	assert.Equal(t, "cat.png", saved.Image.Filename)
	assert.Len(t, saved.Faces, 2)
	assert.Equal(t, 4, *saved.Image.Width)
	require.NotNil(t, saved.Image.ObjectKey)
	assert.Contains(t, obj.objects, *saved.Image.ObjectKey)

	n, _ := st.CountFaces(context.Background(), saved.Image.ID)
	assert.Equal(t, 2, n)
}

func TestDetectAndSave_ConflictOnExistingURL(t *testing.T) {
	svc, _, _, dl := newTestService(1)
	ctx := context.Background()

	_, err := svc.DetectAndSave(ctx, "https://example.com/x.jpg", "x.jpg")
	require.NoError(t, err)

	_, err = svc.DetectAndSave(ctx, "https://example.com/x.jpg", "x.jpg")
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.Equal(t, 1, dl.calls)
}

func TestDetectAndSave_StoresWithoutObjectOnPutFailure(t *testing.T) {
	svc, _, obj, _ := newTestService(0)
	obj.putErr = errors.New("minio down")

	saved, err := svc.DetectAndSave(context.Background(), "https://example.com/y.jpg", "y.jpg")
	require.NoError(t, err)
	assert.Nil(t, saved.Image.ObjectKey)
	assert.Empty(t, saved.Faces)
}

func TestDetectAndLink_UsesStoredBytes(t *testing.T) {
	svc, st, obj, dl := newTestService(3)
	ctx := context.Background()

	key := "images/partial"
	obj.objects[key] = []byte("stored")
	img := &models.Image{ID: uuid.New(), Filename: "p.jpg", ObjectKey: &key}
	st.images[img.ID] = img

	n, err := svc.DetectAndLink(ctx, img)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, dl.calls)

	for _, f := range st.faces[img.ID] {
		assert.Equal(t, img.ID, f.ImageID)
	}
}

func TestDetectAndLink_KeepsExistingFaces(t *testing.T) {
	svc, st, _, dl := newTestService(5)
	src := "https://example.com/z.jpg"
	img := &models.Image{ID: uuid.New(), Filename: "z.jpg", SourceURL: &src}
	st.images[img.ID] = img
	st.faces[img.ID] = []models.DetectedFace{{ID: uuid.New(), ImageID: img.ID}}

	n, err := svc.DetectAndLink(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, st.faces[img.ID], 1)
	assert.Equal(t, 0, dl.calls)
}

func TestDetectAndLink_FallsBackToDownload(t *testing.T) {
	svc, st, _, dl := newTestService(1)
	src := "https://example.com/w.jpg"
	missing := "images/gone"
	img := &models.Image{ID: uuid.New(), Filename: "w.jpg", SourceURL: &src, ObjectKey: &missing}
	st.images[img.ID] = img

	n, err := svc.DetectAndLink(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, dl.calls)
}

func TestDetectAndLink_FailedInsertLeavesNoFaces(t *testing.T) {
	svc, st, _, _ := newTestService(3)
	ctx := context.Background()
	src := "https://example.com/partial.jpg"
	img := &models.Image{ID: uuid.New(), Filename: "partial.jpg", SourceURL: &src}
	st.images[img.ID] = img

	st.facesErr = errors.New("insert detected face: connection reset")
	_, err := svc.DetectAndLink(ctx, img)
	require.Error(t, err)
	n, _ := st.CountFaces(ctx, img.ID)
	assert.Zero(t, n)

	st.facesErr = nil
	n, err = svc.DetectAndLink(ctx, img)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for _, f := range st.faces[img.ID] {
		assert.Equal(t, img.ID, f.ImageID)
	}
}

func TestDeleteImage(t *testing.T) {
	svc, st, obj, _ := newTestService(1)
	ctx := context.Background()

	saved, err := svc.DetectAndSave(ctx, "https://example.com/d.jpg", "d.jpg")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteImage(ctx, saved.Image.ID))
	assert.Empty(t, obj.objects)
	assert.Empty(t, st.images)

	assert.ErrorIs(t, svc.DeleteImage(ctx, saved.Image.ID), models.ErrNotFound)
}
