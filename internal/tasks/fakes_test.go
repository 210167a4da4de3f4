package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"storefront/worker/internal/enhance"
	"storefront/worker/internal/models"
	"storefront/worker/internal/repository"
	"storefront/worker/internal/transfer"
)

type memoryJobs struct {
	mu      sync.Mutex
	jobs    map[string]*models.Job
	history map[string][]models.JobStatus

	getErr        error
	processingErr error
	completedErr  error
}

func newMemoryJobs(jobs ...models.Job) *memoryJobs {
	store := &memoryJobs{
		jobs:    make(map[string]*models.Job),
		history: make(map[string][]models.JobStatus),
	}
	for _, job := range jobs {
		job := job
		store.jobs[job.ID] = &job
	}
	return store
}

func (m *memoryJobs) GetByID(_ context.Context, id string) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return models.Job{}, m.getErr
	}
	job, ok := m.jobs[id]
	if !ok {
		return models.Job{}, repository.ErrJobNotFound
	}
	return *job, nil
}

func (m *memoryJobs) MarkProcessing(_ context.Context, id string) error {
	if m.processingErr != nil {
		return m.processingErr
	}
	return m.transition(id, models.JobStatusProcessing, func(*models.Job) {})
}

func (m *memoryJobs) MarkCompleted(_ context.Context, id, url, publicID string) error {
	if m.completedErr != nil {
		return m.completedErr
	}
	return m.transition(id, models.JobStatusCompleted, func(job *models.Job) {
		job.EnhancedImageURL = &url
		job.EnhancedPublicID = &publicID
	})
}

func (m *memoryJobs) MarkFailed(_ context.Context, id, message string) error {
	return m.transition(id, models.JobStatusFailed, func(job *models.Job) {
		job.Error = &message
	})
}

func (m *memoryJobs) transition(id string, next models.JobStatus, apply func(*models.Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return repository.ErrJobNotFound
	}
	if job.Status == next && next == models.JobStatusProcessing {
		return nil
	}
	if !job.Status.CanTransitionTo(next) {
		return repository.ErrJobTerminal
	}
	job.Status = next
	apply(job)
	m.history[id] = append(m.history[id], next)
	return nil
}

func (m *memoryJobs) job(t *testing.T, id string) models.Job {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	require.True(t, ok, "job %s missing", id)
	return *job
}

type appendCall struct {
	storeID   string
	productID string
	entry     models.MediaEntry
}

type memoryCatalog struct {
	mu    sync.Mutex
	calls []appendCall
	err   error
}

func (c *memoryCatalog) AppendMedia(_ context.Context, storeID, productID string, entry models.MediaEntry) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	c.calls = append(c.calls, appendCall{storeID: storeID, productID: productID, entry: entry})
	return int64(len(c.calls) + 1), nil
}

type uploadCall struct {
	encoded  string
	folder   string
	fileName string
	mimeType string
}

type fakeTransfer struct {
	mu          sync.Mutex
	baseURL     string
	downloaded  []string
	uploads     []uploadCall
	downloadErr error
	uploadErr   error
	payload     string
	panicOn     string
}

func (f *fakeTransfer) DownloadAsEncodedBytes(_ context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOn == stepDownload {
		panic("download exploded")
	}
	f.downloaded = append(f.downloaded, url)
	if f.downloadErr != nil {
		return "", f.downloadErr
	}
	return f.payload, nil
}

func (f *fakeTransfer) UploadEncodedImage(_ context.Context, encoded, folder, fileName, mimeType string) (transfer.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, uploadCall{encoded: encoded, folder: folder, fileName: fileName, mimeType: mimeType})
	if f.uploadErr != nil {
		return transfer.UploadResult{}, f.uploadErr
	}
	id := folder + "/" + fileName
	return transfer.UploadResult{URL: f.baseURL + "/" + id + ".png", ID: id}, nil
}

type fakeEnhancer struct {
	mu     sync.Mutex
	inputs []string
	result enhance.Result
	err    error
}

func (f *fakeEnhancer) Enhance(_ context.Context, encoded string) (enhance.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, encoded)
	if f.err != nil {
		return enhance.Result{}, f.err
	}
	return f.result, nil
}

func outcomeCount(t *testing.T, reg *prometheus.Registry, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "storefront_enhancement_jobs_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "outcome" && label.GetValue() == outcome {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

var errBoom = errors.New("boom")
