package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/chirp/internal/api/handlers"
	"github.com/your-org/chirp/internal/auth"
	"github.com/your-org/chirp/internal/faces"
	"github.com/your-org/chirp/internal/gallery"
	"github.com/your-org/chirp/internal/models"
	"github.com/your-org/chirp/internal/scrapejob"
	"github.com/your-org/chirp/pkg/dto"
)

const testKey = "test-key"

type fakeJobs struct {
	jobs      map[uuid.UUID]*models.ScrapeJob
	triggered []uuid.UUID
	retried   []bool
	retryErr  error
}

func (f *fakeJobs) Submit(_ context.Context, url string) (*models.ScrapeJob, error) {
	if url == "http://10.0.0.1/" {
		return nil, models.NewValidationError("url", "address is not public")
	}
	j := &models.ScrapeJob{ID: uuid.New(), URL: url, Status: models.JobStatusPending, CreatedAt: time.Now()}
	f.jobs[j.ID] = j
	return j, nil
}

func (f *fakeJobs) Trigger(id uuid.UUID, isRetry bool) {
	f.triggered = append(f.triggered, id)
	f.retried = append(f.retried, isRetry)
}

func (f *fakeJobs) Retry(_ context.Context, id uuid.UUID) (*models.ScrapeJob, error) {
	if f.retryErr != nil {
		return nil, f.retryErr
	}
	j, ok := f.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %w", scrapejob.ErrNotRetryable, scrapejob.ErrJobNotFound)
	}
	j.Status = models.JobStatusRetryPending
	return j, nil
}

func (f *fakeJobs) List(context.Context) ([]models.ScrapeJob, error) {
	out := []models.ScrapeJob{}
	for _, j := range f.jobs {
		out = append(out, *j)
	}
	return out, nil
}

func (f *fakeJobs) Detail(_ context.Context, id uuid.UUID) (*models.ScrapeJobDetail, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, scrapejob.ErrJobNotFound
	}
	return &models.ScrapeJobDetail{ScrapeJob: *j, Items: []models.ScrapeJobItem{
		{ID: uuid.New(), JobID: id, SourceURL: "https://cdn.example.com/a.jpg", Status: models.ItemStatusQueued},
	}}, nil
}

func (f *fakeJobs) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := f.jobs[id]; !ok {
		return scrapejob.ErrJobNotFound
	}
	delete(f.jobs, id)
	return nil
}

type fakeGallery struct {
	page *gallery.Page
	got  gallery.ListParams
}

func (g *fakeGallery) ListImages(_ context.Context, p gallery.ListParams) (*gallery.Page, error) {
	g.got = p
	if p.Cursor == "garbage" {
		return nil, fmt.Errorf("%w: bad base64", gallery.ErrInvalidCursor)
	}
	return g.page, nil
}

func (g *fakeGallery) GetImage(_ context.Context, id uuid.UUID) (*models.ImageWithFaces, error) {
	for i := range g.page.Images {
		if g.page.Images[i].ID == id {
			return &g.page.Images[i], nil
		}
	}
	return nil, nil
}

type fakeFaces struct{ existing string }

func (f *fakeFaces) DetectAndSave(_ context.Context, url, filename string) (*faces.Saved, error) {
	if url == f.existing {
		return nil, &models.ConflictError{Resource: "image", ID: url}
	}
	return &faces.Saved{
		Image: models.Image{ID: uuid.New(), Filename: filename},
		Faces: make([]models.DetectedFace, 2),
	}, nil
}

func (f *fakeFaces) DeleteImage(context.Context, uuid.UUID) error { return models.ErrNotFound }

type fakePeople struct {
	people map[uuid.UUID]models.Person
	faces  map[uuid.UUID]*uuid.UUID
}

func (p *fakePeople) CreatePerson(_ context.Context, name string) (*models.Person, error) {
	person := models.Person{ID: uuid.New(), Name: name, CreatedAt: time.Now()}
	p.people[person.ID] = person
	return &person, nil
}

func (p *fakePeople) ListPeople(context.Context) ([]models.Person, error) {
	out := []models.Person{}
	for _, person := range p.people {
		out = append(out, person)
	}
	return out, nil
}

func (p *fakePeople) GetPerson(_ context.Context, id uuid.UUID) (*models.Person, error) {
	person, ok := p.people[id]
	if !ok {
		return nil, nil
	}
	return &person, nil
}

func (p *fakePeople) DeletePerson(_ context.Context, id uuid.UUID) error {
	if _, ok := p.people[id]; !ok {
		return models.ErrNotFound
	}
	delete(p.people, id)
	return nil
}

func (p *fakePeople) AssignFacePerson(_ context.Context, faceID uuid.UUID, personID *uuid.UUID) error {
	if _, ok := p.faces[faceID]; !ok {
		return models.ErrNotFound
	}
	p.faces[faceID] = personID
	return nil
}

type testServer struct {
	handler http.Handler
	jobs    *fakeJobs
	gallery *fakeGallery
	people  *fakePeople
	faceID  uuid.UUID
}

func newTestServer(readyErr error) *testServer {
	faceID := uuid.New()
	ts := &testServer{
		jobs:    &fakeJobs{jobs: map[uuid.UUID]*models.ScrapeJob{}},
		gallery: &fakeGallery{page: &gallery.Page{Images: []models.ImageWithFaces{}}},
		people:  &fakePeople{people: map[uuid.UUID]models.Person{}, faces: map[uuid.UUID]*uuid.UUID{faceID: nil}},
		faceID:  faceID,
	}
	ts.handler = NewRouter(RouterConfig{
		Auth:    auth.NewAuthenticator(testKey, nil),
		Jobs:    ts.jobs,
		Gallery: ts.gallery,
		Faces:   &fakeFaces{existing: "https://example.com/dup.jpg"},
		People:  ts.people,
		Checks: map[string]handlers.Check{
			"postgres": func(context.Context) error { return readyErr },
		},
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testKey)
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestSystemEndpoints(t *testing.T) {
	ok := newTestServer(nil)
	w := httptest.NewRecorder()
	ok.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	ok.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	down := newTestServer(errors.New("connection refused"))
	w = httptest.NewRecorder()
	down.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestV1RequiresAPIKey(t *testing.T) {
	ts := newTestServer(nil)
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/scrape-jobs", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestScrapeJobs(t *testing.T) {
	ts := newTestServer(nil)

	w := ts.do(t, http.MethodPost, "/v1/scrape-jobs", dto.CreateScrapeJobRequest{URL: "https://example.com/page"})
	require.Equal(t, http.StatusAccepted, w.Code)
	created := decode[dto.ScrapeJobResponse](t, w)
	assert.Equal(t, "pending", created.Status)
	assert.Equal(t, []uuid.UUID{created.ID}, ts.jobs.triggered)
	assert.Equal(t, []bool{false}, ts.jobs.retried)

	w = ts.do(t, http.MethodPost, "/v1/scrape-jobs", map[string]string{"url": "not a url"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/v1/scrape-jobs", dto.CreateScrapeJobRequest{URL: "http://10.0.0.1/"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/v1/scrape-jobs/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[dto.ScrapeJobDetailResponse](t, w)
	assert.Equal(t, created.ID, detail.ID)
	assert.Len(t, detail.Items, 1)

	w = ts.do(t, http.MethodGet, "/v1/scrape-jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[dto.ScrapeJobListResponse](t, w).Total)

	w = ts.do(t, http.MethodGet, "/v1/scrape-jobs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodDelete, "/v1/scrape-jobs/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = ts.do(t, http.MethodDelete, "/v1/scrape-jobs/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRetryScrapeJob(t *testing.T) {
	ts := newTestServer(nil)
	job, _ := ts.jobs.Submit(context.Background(), "https://example.com/page")

	w := ts.do(t, http.MethodPost, "/v1/scrape-jobs/"+job.ID.String()+"/retry", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []bool{true}, ts.jobs.retried)

	w = ts.do(t, http.MethodPost, "/v1/scrape-jobs/"+uuid.NewString()+"/retry", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	ts.jobs.retryErr = fmt.Errorf("%w: no failed items", scrapejob.ErrNotRetryable)
	w = ts.do(t, http.MethodPost, "/v1/scrape-jobs/"+job.ID.String()+"/retry", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Len(t, ts.jobs.triggered, 1)
}

func TestListImages(t *testing.T) {
	ts := newTestServer(nil)
	next := "abc"
	person := uuid.New()
	src := "https://cdn.example.com/1.jpg"
	ts.gallery.page = &gallery.Page{
		Images: []models.ImageWithFaces{{
			ID:        uuid.New(),
			Filename:  "1.jpg",
			SourceURL: &src,
			CreatedAt: time.Now(),
			DetectedFaces: []models.Face{{
				ID:             uuid.New(),
				Location:       models.FaceLocation{Top: 1, Right: 2, Bottom: 3, Left: 4},
				MatchedPersons: []models.PersonMatch{{PersonID: person, PersonName: "Ada", Distance: 0.2}},
			}},
		}},
		NextCursor: &next,
	}

	w := ts.do(t, http.MethodGet, "/v1/images?limit=2&search=cat&sort_person_id="+person.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[dto.ImagePageResponse](t, w)
	require.Len(t, page.Images, 1)
	require.NotNil(t, page.NextCursor)
	assert.Equal(t, "abc", *page.NextCursor)
	assert.Equal(t, 3, page.Images[0].DetectedFaces[0].LocationBottom)
	assert.Equal(t, "Ada", page.Images[0].DetectedFaces[0].MatchedPersons[0].PersonName)

	assert.Equal(t, 2, ts.gallery.got.Limit)
	assert.Equal(t, "cat", ts.gallery.got.Search)
	require.NotNil(t, ts.gallery.got.SortPersonID)
	assert.Equal(t, person, *ts.gallery.got.SortPersonID)

	w = ts.do(t, http.MethodGet, "/v1/images/"+page.Images[0].ID.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodGet, "/v1/images/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListImages_BadInput(t *testing.T) {
	ts := newTestServer(nil)

	w := ts.do(t, http.MethodGet, "/v1/images?cursor=garbage", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/v1/images?sort_person_id=nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/v1/images?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcessImage(t *testing.T) {
	ts := newTestServer(nil)

	w := ts.do(t, http.MethodPost, "/v1/process-image", dto.ProcessImageRequest{Filename: "a.jpg", SourceURL: "https://example.com/a.jpg"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 2, decode[dto.ProcessImageResponse](t, w).FacesDetected)

	w = ts.do(t, http.MethodPost, "/v1/process-image", dto.ProcessImageRequest{SourceURL: "https://example.com/dup.jpg"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodDelete, "/v1/images/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPeopleAndFaceAssignment(t *testing.T) {
	ts := newTestServer(nil)

	w := ts.do(t, http.MethodPost, "/v1/people", dto.CreatePersonRequest{Name: "Ada"})
	require.Equal(t, http.StatusCreated, w.Code)
	person := decode[dto.PersonResponse](t, w)

	w = ts.do(t, http.MethodPost, "/v1/people", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/v1/people", nil)
	assert.Equal(t, 1, decode[dto.PersonListResponse](t, w).Total)

	path := "/v1/faces/" + ts.faceID.String() + "/person"
	w = ts.do(t, http.MethodPatch, path, dto.AssignFaceRequest{PersonID: &person.ID})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, person.ID, *ts.people.faces[ts.faceID])

	unknown := uuid.New()
	w = ts.do(t, http.MethodPatch, path, dto.AssignFaceRequest{PersonID: &unknown})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPatch, path, dto.AssignFaceRequest{})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, ts.people.faces[ts.faceID])

	w = ts.do(t, http.MethodPatch, "/v1/faces/"+uuid.NewString()+"/person", dto.AssignFaceRequest{})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodDelete, "/v1/people/"+person.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = ts.do(t, http.MethodDelete, "/v1/people/"+person.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
