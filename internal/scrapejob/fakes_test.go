package scrapejob

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/chirp/internal/faces"
	"github.com/your-org/chirp/internal/models"
)

type memStore struct {
	mu     sync.Mutex
	seq    int
	base   time.Time
	jobs   map[uuid.UUID]*models.ScrapeJob
	items  []*models.ScrapeJobItem
	images map[string]*models.Image

	requeueErr error
}

func newMemStore() *memStore {
	return &memStore{
		base:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		jobs:   map[uuid.UUID]*models.ScrapeJob{},
		images: map[string]*models.Image{},
	}
}

func (s *memStore) tick() time.Time {
	s.seq++
	return s.base.Add(time.Duration(s.seq) * time.Second)
}

func (s *memStore) CreateJob(_ context.Context, url string) (*models.ScrapeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.tick()
	j := &models.ScrapeJob{ID: uuid.New(), URL: url, Status: models.JobStatusPending, CreatedAt: now, UpdatedAt: now}
	s.jobs[j.ID] = j
	cp := *j
	return &cp, nil
}

func (s *memStore) GetJob(_ context.Context, id uuid.UUID) (*models.ScrapeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (s *memStore) ListJobs(context.Context) ([]models.ScrapeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.ScrapeJob{}
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out, nil
}

func (s *memStore) UpdateJob(_ context.Context, id uuid.UUID, u models.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return models.ErrNotFound
	}
	if u.Status != nil {
		if !u.Status.Valid() {
			return models.NewValidationError("status", string(*u.Status))
		}
		j.Status = *u.Status
	}
	if u.TotalImages != nil {
		v := *u.TotalImages
		j.TotalImages = &v
	}
	if u.PreviewURL != nil {
		v := *u.PreviewURL
		j.PreviewURL = &v
	}
	if u.Error != nil {
		v := *u.Error
		j.Error = &v
	} else if u.ClearError {
		j.Error = nil
	}
	if u.FailedCount != nil {
		j.FailedCount = *u.FailedCount
	}
	return nil
}

func (s *memStore) IncrementJobCounter(_ context.Context, id uuid.UUID, column models.CounterColumn, amount int) error {
	if !column.Valid() {
		return models.NewValidationError("counter column", string(column))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	switch column {
	case models.CounterProcessed:
		j.ProcessedCount += amount
	case models.CounterSkipped:
		j.SkippedCount += amount
	case models.CounterFailed:
		j.FailedCount += amount
	case models.CounterTotalFaces:
		j.TotalFaces += amount
	}
	return nil
}

func (s *memStore) NextQueuedJob(context.Context) (*models.ScrapeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next *models.ScrapeJob
	for _, j := range s.jobs {
		if j.Status.Queued() && (next == nil || j.CreatedAt.Before(next.CreatedAt)) {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}
	cp := *next
	return &cp, nil
}

func (s *memStore) DeleteJob(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return models.ErrNotFound
	}
	delete(s.jobs, id)
	kept := s.items[:0]
	for _, it := range s.items {
		if it.JobID != id {
			kept = append(kept, it)
		}
	}
	s.items = kept
	return nil
}

func (s *memStore) FailStaleJobs(_ context.Context, msg string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, j := range s.jobs {
		if !j.Status.Running() {
			continue
		}
		for _, it := range s.items {
			if it.JobID == j.ID && (it.Status == models.ItemStatusQueued || it.Status == models.ItemStatusProcessing) {
				it.Status = models.ItemStatusFailed
				m := msg
				it.Error = &m
				j.FailedCount++
			}
		}
		j.Status = models.JobStatusFailed
		m := msg
		j.Error = &m
		n++
	}
	return n, nil
}

func (s *memStore) DeleteJobsOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, j := range s.jobs {
		if j.Status.Terminal() && j.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) BulkInsertItems(_ context.Context, jobID uuid.UUID, urls []string) ([]models.ScrapeJobItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ScrapeJobItem, 0, len(urls))
	for _, u := range urls {
		it := &models.ScrapeJobItem{ID: uuid.New(), JobID: jobID, SourceURL: u, Status: models.ItemStatusQueued, CreatedAt: s.tick()}
		s.items = append(s.items, it)
		out = append(out, *it)
	}
	return out, nil
}

func (s *memStore) UpdateItem(_ context.Context, id uuid.UUID, u models.ItemUpdate) error {
	if !u.Status.Valid() {
		return models.NewValidationError("item status", string(u.Status))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.ID == id {
			it.Status = u.Status
			if u.ImageID != nil {
				v := *u.ImageID
				it.ImageID = &v
			}
			if u.Error != nil {
				v := models.Truncate(*u.Error, 500)
				it.Error = &v
			} else {
				it.Error = nil
			}
			return nil
		}
	}
	return models.ErrNotFound
}

func (s *memStore) itemsWhere(match func(*models.ScrapeJobItem) bool) []models.ScrapeJobItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.ScrapeJobItem{}
	for _, it := range s.items {
		if match(it) {
			out = append(out, *it)
		}
	}
	return out
}

func (s *memStore) ItemsByJob(_ context.Context, jobID uuid.UUID) ([]models.ScrapeJobItem, error) {
	return s.itemsWhere(func(it *models.ScrapeJobItem) bool { return it.JobID == jobID }), nil
}

func (s *memStore) QueuedItems(_ context.Context, jobID uuid.UUID) ([]models.ScrapeJobItem, error) {
	return s.itemsWhere(func(it *models.ScrapeJobItem) bool {
		return it.JobID == jobID && it.Status == models.ItemStatusQueued
	}), nil
}

func (s *memStore) CompletedItemBySourceURL(_ context.Context, url string, exclude uuid.UUID) (*models.ScrapeJobItem, error) {
	found := s.itemsWhere(func(it *models.ScrapeJobItem) bool {
		return it.SourceURL == url && it.Status == models.ItemStatusCompleted && it.ImageID != nil && it.ID != exclude
	})
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

func (s *memStore) RequeueFailedItems(_ context.Context, jobID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.requeueErr != nil {
		return 0, s.requeueErr
	}
	j, ok := s.jobs[jobID]
	if !ok || !j.Status.Terminal() {
		return 0, nil
	}
	n := 0
	for _, it := range s.items {
		if it.JobID == jobID && it.Status == models.ItemStatusFailed {
			it.Status = models.ItemStatusQueued
			it.Error = nil
			n++
		}
	}
	if n > 0 {
		j.Status = models.JobStatusRetryPending
		j.FailedCount = 0
		j.Error = nil
		j.UpdatedAt = s.tick()
	}
	return n, nil
}

func (s *memStore) CountItemsByStatus(_ context.Context, jobID uuid.UUID, status models.ItemStatus) (int, error) {
	return len(s.itemsWhere(func(it *models.ScrapeJobItem) bool {
		return it.JobID == jobID && it.Status == status
	})), nil
}

func (s *memStore) ImageBySourceURL(_ context.Context, url string) (*models.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[url]
	if !ok {
		return nil, nil
	}
	cp := *img
	return &cp, nil
}

func (s *memStore) putImage(url string) *models.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := url
	img := &models.Image{ID: uuid.New(), Filename: "f", SourceURL: &u}
	s.images[url] = img
	return img
}

func (s *memStore) job(id uuid.UUID) models.ScrapeJob {
	j, _ := s.GetJob(context.Background(), id)
	return *j
}

func (s *memStore) setJob(id uuid.UUID, fn func(*models.ScrapeJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.jobs[id])
}

// pageScraper returns a fixed list of image URLs per page.
type pageScraper struct {
	pages map[string][]string
	err   error
	// block, when set, holds every scrape until closed. entered receives
	// one value per scrape that reached the block.
	block   chan struct{}
	entered chan struct{}
}

func (p *pageScraper) ScrapeImages(ctx context.Context, pageURL string) ([]string, error) {
	if p.block != nil {
		if p.entered != nil {
			p.entered <- struct{}{}
		}
		<-p.block
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.pages[pageURL], nil
}

type allowAll struct{}

func (allowAll) Validate(_ context.Context, raw string) (string, error) {
	if raw == "" {
		return "", models.NewValidationError("url", "empty")
	}
	return raw, nil
}

// fakeProcessor saves images in the memStore. URLs in failOnce fail on the
// first attempt only; URLs in failAlways never succeed.
type fakeProcessor struct {
	store *memStore
	faces map[string]int

	mu         sync.Mutex
	failOnce   map[string]bool
	failAlways map[string]bool
	panicOn    map[string]bool
	saves      int
	links      int
}

func newFakeProcessor(store *memStore) *fakeProcessor {
	return &fakeProcessor{
		store:      store,
		faces:      map[string]int{},
		failOnce:   map[string]bool{},
		failAlways: map[string]bool{},
		panicOn:    map[string]bool{},
	}
}

func (p *fakeProcessor) DetectAndSave(_ context.Context, url, _ string) (*faces.Saved, error) {
	p.mu.Lock()
	if p.panicOn[url] {
		p.mu.Unlock()
		panic("detector crashed")
	}
	if p.failAlways[url] {
		p.mu.Unlock()
		return nil, errors.New("download image: unexpected status 404")
	}
	if p.failOnce[url] {
		delete(p.failOnce, url)
		p.mu.Unlock()
		return nil, errors.New("download image: connection reset")
	}
	p.saves++
	p.mu.Unlock()

	if existing, _ := p.store.ImageBySourceURL(context.Background(), url); existing != nil {
		return nil, &models.ConflictError{Resource: "image", ID: url}
	}
	img := p.store.putImage(url)
	return &faces.Saved{Image: *img, Faces: make([]models.DetectedFace, p.faces[url])}, nil
}

func (p *fakeProcessor) DetectAndLink(_ context.Context, img *models.Image) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.links++
	return p.faces[*img.SourceURL], nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.JobEvent
}

func (r *recordingPublisher) PublishJobEvent(_ context.Context, ev models.JobEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) types() []models.JobEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.JobEventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}
