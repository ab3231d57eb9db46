package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/simrec/internal/messaging"
	"github.com/temcen/simrec/internal/vectorizer"
	"github.com/temcen/simrec/internal/vocab"
	"github.com/temcen/simrec/pkg/models"
)

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]models.StoredVector
	failOn  map[int]bool // batch index -> fail
}

func (w *fakeWriter) UpsertVectors(ctx context.Context, vectors []models.StoredVector) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	idx := len(w.batches)
	w.batches = append(w.batches, vectors)
	if w.failOn[idx] {
		return errors.New("deadlock detected")
	}
	return nil
}

func (w *fakeWriter) written() map[int]models.StoredVector {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[int]models.StoredVector)
	for i, batch := range w.batches {
		if w.failOn[i] {
			continue
		}
		for _, v := range batch {
			out[v.MovieID] = v
		}
	}
	return out
}

type fakeEvictor struct {
	forgotten []int
	err       error
}

func (e *fakeEvictor) Forget(ctx context.Context, ids []int, version string) error {
	e.forgotten = append(e.forgotten, ids...)
	return e.err
}

type countingInvalidator struct {
	calls int
}

func (c *countingInvalidator) InvalidateCache() int {
	c.calls++
	return 0
}

type mockJobTracker struct {
	mock.Mock
}

func (m *mockJobTracker) CreateJob(ctx context.Context, totalItems int, jobType string) (*JobProgress, error) {
	args := m.Called(ctx, totalItems, jobType)
	job, _ := args.Get(0).(*JobProgress)
	return job, args.Error(1)
}

func (m *mockJobTracker) UpdateJobProgress(ctx context.Context, jobID uuid.UUID, processedItems, failedItems int, status string, errorMessage *string) error {
	return m.Called(ctx, jobID, processedItems, failedItems, status, errorMessage).Error(0)
}

func (m *mockJobTracker) CompleteJob(ctx context.Context, jobID uuid.UUID, successCount, failureCount int) error {
	return m.Called(ctx, jobID, successCount, failureCount).Error(0)
}

func (m *mockJobTracker) FailJob(ctx context.Context, jobID uuid.UUID, processedItems, failedItems int, errorMessage string) error {
	return m.Called(ctx, jobID, processedItems, failedItems, errorMessage).Error(0)
}

func newTestVectorization(catalog *fakeCatalog, writer *fakeWriter, jobs JobTracker) (*VectorizationService, *fakeEvictor, *countingInvalidator) {
	evictor := &fakeEvictor{}
	results := &countingInvalidator{}
	svc := NewVectorizationService(catalog, writer, catalog, jobs, evictor, results, nil, quietLogger())
	return svc, evictor, results
}

func TestVectorization_RunWritesEveryMovie(t *testing.T) {
	catalog := sampleCatalog()
	writer := &fakeWriter{}
	svc, evictor, results := newTestVectorization(catalog, writer, nil)

	report, err := svc.Run(context.Background(), VectorizeOptions{BatchSize: 3})
	require.NoError(t, err)

	assert.Equal(t, 7, report.Processed)
	assert.Equal(t, 7, report.Written)
	assert.Zero(t, report.FailedBatches)
	assert.Len(t, writer.batches, 3)
	assert.Len(t, evictor.forgotten, 7)
	assert.Equal(t, 1, results.calls)

	for id, stored := range writer.written() {
		assert.Equal(t, vocab.Version, stored.VocabVersion)
		assert.Equal(t, vectorizer.Build(catalog.movies[id].ItemFeatures, vectorizer.DefaultWeights()), stored.Vector)
	}
}

func TestVectorization_RunIsIdempotent(t *testing.T) {
	catalog := sampleCatalog()
	first, second := &fakeWriter{}, &fakeWriter{}

	svc, _, _ := newTestVectorization(catalog, first, nil)
	_, err := svc.Run(context.Background(), VectorizeOptions{BatchSize: 4})
	require.NoError(t, err)

	svc, _, _ = newTestVectorization(catalog, second, nil)
	_, err = svc.Run(context.Background(), VectorizeOptions{BatchSize: 4})
	require.NoError(t, err)

	a, b := first.written(), second.written()
	require.Len(t, a, len(b))
	for id := range a {
		assert.Equal(t, a[id].Vector, b[id].Vector)
	}
}

func TestVectorization_FailedBatchIsSkipped(t *testing.T) {
	writer := &fakeWriter{failOn: map[int]bool{1: true}}
	svc, _, _ := newTestVectorization(sampleCatalog(), writer, nil)

	report, err := svc.Run(context.Background(), VectorizeOptions{BatchSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 7, report.Processed)
	assert.Equal(t, 4, report.Written)
	assert.Equal(t, 3, report.Failed)
	assert.Equal(t, 1, report.FailedBatches)
}

func TestVectorization_DryRunWritesNothing(t *testing.T) {
	writer := &fakeWriter{}
	svc, evictor, results := newTestVectorization(sampleCatalog(), writer, nil)

	report, err := svc.Run(context.Background(), VectorizeOptions{BatchSize: 2, DryRun: true})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 7, report.Written)
	assert.Empty(t, writer.batches)
	assert.Empty(t, evictor.forgotten)
	assert.Zero(t, results.calls)
}

func TestVectorization_CatalogReadErrorFailsJob(t *testing.T) {
	catalog := sampleCatalog()
	catalog.movieErr = errors.New("relation movies does not exist")
	jobs := &mockJobTracker{}
	job := &JobProgress{JobID: uuid.New()}

	jobs.On("CreateJob", mock.Anything, 7, "vectorize_catalog").Return(job, nil)
	jobs.On("UpdateJobProgress", mock.Anything, job.JobID, 0, 0, JobStatusProcessing, (*string)(nil)).Return(nil)
	jobs.On("FailJob", mock.Anything, job.JobID, 0, 0, mock.AnythingOfType("string")).Return(nil)

	svc, _, _ := newTestVectorization(catalog, &fakeWriter{}, jobs)
	report, err := svc.Run(context.Background(), VectorizeOptions{BatchSize: 10})
	require.Error(t, err)
	assert.Equal(t, job.JobID, report.JobID)
	jobs.AssertExpectations(t)
}

func TestVectorization_StartTracksJob(t *testing.T) {
	jobs := &mockJobTracker{}
	job := &JobProgress{JobID: uuid.New()}
	done := make(chan struct{})

	jobs.On("CreateJob", mock.Anything, 7, "vectorize_catalog").Return(job, nil)
	jobs.On("UpdateJobProgress", mock.Anything, job.JobID, mock.Anything, 0, JobStatusProcessing, (*string)(nil)).Return(nil)
	jobs.On("CompleteJob", mock.Anything, job.JobID, 7, 0).Return(nil).Run(func(mock.Arguments) { close(done) })

	svc, _, _ := newTestVectorization(sampleCatalog(), &fakeWriter{}, jobs)
	started, err := svc.Start(context.Background(), VectorizeOptions{BatchSize: 5})
	require.NoError(t, err)
	assert.Equal(t, job.JobID, started.JobID)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("background job did not complete")
	}
	svc.Close()
	jobs.AssertExpectations(t)
}

func TestVectorization_RejectsConcurrentRuns(t *testing.T) {
	svc, _, _ := newTestVectorization(sampleCatalog(), &fakeWriter{}, nil)
	svc.running.Store(true)

	_, err := svc.Run(context.Background(), VectorizeOptions{})
	assert.ErrorIs(t, err, ErrJobRunning)
}

func TestVectorization_VectorizeIDs(t *testing.T) {
	writer := &fakeWriter{}
	svc, evictor, results := newTestVectorization(sampleCatalog(), writer, nil)

	written, err := svc.VectorizeIDs(context.Background(), []int{3, 3, 404, 5})
	require.NoError(t, err)
	assert.Equal(t, 2, written)
	assert.ElementsMatch(t, []int{3, 5}, evictor.forgotten)
	assert.Equal(t, 1, results.calls)

	written, err = svc.VectorizeIDs(context.Background(), []int{404})
	require.NoError(t, err)
	assert.Zero(t, written)
	assert.Equal(t, 1, results.calls)
}

func TestMetadataUpdateConsumer_Handle(t *testing.T) {
	writer := &fakeWriter{failOn: map[int]bool{1: true}}
	svc, _, _ := newTestVectorization(sampleCatalog(), writer, nil)
	consumer := NewMetadataUpdateConsumer(nil, svc, nil, quietLogger())

	require.NoError(t, consumer.Handle(context.Background(), messaging.MetadataUpdatedEvent{}))
	require.NoError(t, consumer.Handle(context.Background(), messaging.MetadataUpdatedEvent{MovieIDs: []int{1, 2}}))
	assert.Error(t, consumer.Handle(context.Background(), messaging.MetadataUpdatedEvent{MovieIDs: []int{4}}))
}
