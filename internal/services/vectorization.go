package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/simrec/internal/vectorizer"
	"github.com/temcen/simrec/internal/vocab"
	"github.com/temcen/simrec/pkg/models"
)

var ErrJobRunning = errors.New("a vectorization job is already running")

// JobTracker records job progress. *JobManager implements it.
type JobTracker interface {
	CreateJob(ctx context.Context, totalItems int, jobType string) (*JobProgress, error)
	UpdateJobProgress(ctx context.Context, jobID uuid.UUID, processedItems, failedItems int, status string, errorMessage *string) error
	CompleteJob(ctx context.Context, jobID uuid.UUID, successCount, failureCount int) error
	FailJob(ctx context.Context, jobID uuid.UUID, processedItems, failedItems int, errorMessage string) error
}

type cacheInvalidator interface {
	InvalidateCache() int
}

type VectorizeOptions struct {
	BatchSize int
	DryRun    bool
}

// VectorizationReport summarizes one pass over the catalog.
type VectorizationReport struct {
	JobID         uuid.UUID     `json:"jobId"`
	Processed     int           `json:"processed"`
	Written       int           `json:"written"`
	Failed        int           `json:"failed"`
	FailedBatches int           `json:"failedBatches"`
	DryRun        bool          `json:"dryRun"`
	Duration      time.Duration `json:"duration"`
}

// VectorizationService builds catalog vectors with the default weights and
// persists them tagged with the current vocabulary version.
type VectorizationService struct {
	movies  MovieReader
	writer  VectorWriter
	stats   CatalogStats
	jobs    JobTracker
	evictor VectorEvictor
	results cacheInvalidator
	metrics *Metrics
	logger  *logrus.Logger

	running atomic.Bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewVectorizationService(
	movies MovieReader,
	writer VectorWriter,
	stats CatalogStats,
	jobs JobTracker,
	evictor VectorEvictor,
	results cacheInvalidator,
	metrics *Metrics,
	logger *logrus.Logger,
) *VectorizationService {
	ctx, cancel := context.WithCancel(context.Background())
	return &VectorizationService{
		movies:  movies,
		writer:  writer,
		stats:   stats,
		jobs:    jobs,
		evictor: evictor,
		results: results,
		metrics: metrics,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Run vectorizes the whole catalog in keyset-ordered batches. Each batch is
// written in its own transaction; a failed batch is counted and skipped.
// Running it twice over unchanged metadata writes identical rows.
func (s *VectorizationService) Run(ctx context.Context, opts VectorizeOptions) (*VectorizationReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrJobRunning
	}
	defer s.running.Store(false)

	job, err := s.createJob(ctx)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, job, opts)
}

// Start launches Run in the background and returns the tracked job.
func (s *VectorizationService) Start(ctx context.Context, opts VectorizeOptions) (*JobProgress, error) {
	if s.jobs == nil {
		return nil, errors.New("job tracking is not configured")
	}
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrJobRunning
	}

	job, err := s.createJob(ctx)
	if err != nil {
		s.running.Store(false)
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		if _, err := s.run(s.ctx, job, opts); err != nil {
			s.logger.WithError(err).WithField("job_id", job.JobID).Error("Background vectorization failed")
		}
	}()
	return job, nil
}

// Close cancels a background run and waits for it to stop.
func (s *VectorizationService) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *VectorizationService) createJob(ctx context.Context) (*JobProgress, error) {
	if s.jobs == nil {
		return nil, nil
	}
	total, err := s.stats.CountMovies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count catalog: %w", err)
	}
	job, err := s.jobs.CreateJob(ctx, int(total), "vectorize_catalog")
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

func (s *VectorizationService) run(ctx context.Context, job *JobProgress, opts VectorizeOptions) (*VectorizationReport, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}

	start := time.Now()
	report := &VectorizationReport{DryRun: opts.DryRun}
	if job != nil {
		report.JobID = job.JobID
	}
	log := s.logger.WithFields(logrus.Fields{
		"job_id":     report.JobID,
		"batch_size": opts.BatchSize,
		"dry_run":    opts.DryRun,
		"version":    vocab.Version,
	})
	log.Info("Vectorization started")

	s.progress(ctx, job, report, JobStatusProcessing)

	afterID := 0
	for {
		if err := ctx.Err(); err != nil {
			return s.abort(job, report, fmt.Errorf("vectorization cancelled: %w", err))
		}

		movies, err := s.movies.MoviesAfter(ctx, afterID, opts.BatchSize)
		if err != nil {
			return s.abort(job, report, fmt.Errorf("failed to read catalog after id %d: %w", afterID, err))
		}
		if len(movies) == 0 {
			break
		}
		afterID = movies[len(movies)-1].ID

		written, err := s.writeBatch(ctx, movies, opts.DryRun)
		report.Processed += len(movies)
		if err != nil {
			report.Failed += len(movies)
			report.FailedBatches++
			log.WithError(err).WithField("after_id", afterID).Error("Vectorization batch failed")
		} else {
			report.Written += written
		}

		s.progress(ctx, job, report, JobStatusProcessing)
	}

	report.Duration = time.Since(start)
	s.metrics.observeVectors(report.Written, report.Failed)

	if !opts.DryRun && report.Written > 0 && s.results != nil {
		s.results.InvalidateCache()
	}
	if job != nil {
		if err := s.jobs.CompleteJob(ctx, job.JobID, report.Written, report.Failed); err != nil {
			log.WithError(err).Warn("Failed to complete job")
		}
	}

	log.WithFields(logrus.Fields{
		"processed":      report.Processed,
		"written":        report.Written,
		"failed":         report.Failed,
		"failed_batches": report.FailedBatches,
		"duration":       report.Duration,
	}).Info("Vectorization finished")
	return report, nil
}

func (s *VectorizationService) abort(job *JobProgress, report *VectorizationReport, err error) (*VectorizationReport, error) {
	if job != nil {
		// the run context may be gone; record the failure regardless
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if ferr := s.jobs.FailJob(ctx, job.JobID, report.Written, report.Failed, err.Error()); ferr != nil {
			s.logger.WithError(ferr).WithField("job_id", job.JobID).Warn("Failed to mark job failed")
		}
	}
	return report, err
}

func (s *VectorizationService) progress(ctx context.Context, job *JobProgress, report *VectorizationReport, status string) {
	if job == nil {
		return
	}
	if err := s.jobs.UpdateJobProgress(ctx, job.JobID, report.Written, report.Failed, status, nil); err != nil {
		s.logger.WithError(err).WithField("job_id", job.JobID).Warn("Failed to record job progress")
	}
}

func (s *VectorizationService) writeBatch(ctx context.Context, movies []models.Movie, dryRun bool) (int, error) {
	weights := vectorizer.DefaultWeights()
	batch := make([]models.StoredVector, len(movies))
	ids := make([]int, len(movies))
	now := time.Now().UTC()
	for i, m := range movies {
		batch[i] = models.StoredVector{
			MovieID:      m.ID,
			Vector:       vectorizer.Build(m.ItemFeatures, weights),
			VocabVersion: vocab.Version,
			UpdatedAt:    now,
		}
		ids[i] = m.ID
	}

	if dryRun {
		return len(batch), nil
	}
	if err := s.writer.UpsertVectors(ctx, batch); err != nil {
		return 0, err
	}

	if s.evictor != nil {
		if err := s.evictor.Forget(ctx, ids, vocab.Version); err != nil {
			s.logger.WithError(err).Warn("Failed to evict cached vectors")
		}
	}
	return len(batch), nil
}

// VectorizeIDs rebuilds the vectors of specific movies after their metadata
// changed. Ids missing from the catalog are skipped.
func (s *VectorizationService) VectorizeIDs(ctx context.Context, ids []int) (int, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return 0, nil
	}

	movies, err := s.movies.MoviesByIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to load movies: %w", err)
	}

	batch := make([]models.Movie, 0, len(movies))
	var unknown []int
	for _, id := range ids {
		if m, ok := movies[id]; ok {
			batch = append(batch, m)
		} else {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		s.logger.WithField("movie_ids", unknown).Warn("Cannot vectorize unknown movies")
	}
	if len(batch) == 0 {
		return 0, nil
	}

	written, err := s.writeBatch(ctx, batch, false)
	if err != nil {
		s.metrics.observeVectors(0, len(batch))
		return 0, fmt.Errorf("failed to write vectors: %w", err)
	}
	s.metrics.observeVectors(written, 0)

	if s.results != nil {
		s.results.InvalidateCache()
	}
	return written, nil
}
