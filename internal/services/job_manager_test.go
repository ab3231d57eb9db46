package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreachableRedis points at a port nothing listens on, so every job read
// falls through to Postgres.
func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:1",
		DialTimeout:  50 * time.Millisecond,
		ReadTimeout:  50 * time.Millisecond,
		WriteTimeout: 50 * time.Millisecond,
		MaxRetries:   -1,
	})
}

var jobColumns = []string{
	"id", "status", "progress", "total_items", "processed_items", "failed_items",
	"estimated_time", "error_message", "created_at", "updated_at", "details",
}

func newTestJobManager(t *testing.T) (*JobManager, pgxmock.PgxPoolIface, time.Time) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	client := unreachableRedis()
	t.Cleanup(func() {
		mock.Close()
		client.Close()
	})

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	jm := NewJobManager(mock, client, quietLogger())
	jm.now = func() time.Time { return now }
	return jm, mock, now
}

func TestJobManager_CreateJob(t *testing.T) {
	jm, mock, now := newTestJobManager(t)

	mock.ExpectExec("INSERT INTO vectorization_jobs").
		WithArgs(pgxmock.AnyArg(), JobStatusQueued, 0, 120, 0, 0, pgxmock.AnyArg(), pgxmock.AnyArg(), now, now, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job, err := jm.CreateJob(context.Background(), 120, "vectorize_catalog")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, job.JobID)
	assert.Equal(t, JobStatusQueued, job.Status)
	assert.Equal(t, "vectorize_catalog", job.Details["job_type"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobManager_CreateJobFailsWithoutPostgres(t *testing.T) {
	jm, mock, _ := newTestJobManager(t)

	mock.ExpectExec("INSERT INTO vectorization_jobs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(assert.AnError)

	_, err := jm.CreateJob(context.Background(), 1, "vectorize_catalog")
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobManager_GetJobFallsBackToPostgres(t *testing.T) {
	jm, mock, now := newTestJobManager(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM vectorization_jobs WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(jobColumns).AddRow(
			id, JobStatusProcessing, 40, 100, 40, 0, (*int)(nil), (*string)(nil), now, now,
			[]byte(`{"job_type":"vectorize_catalog"}`),
		))

	job, err := jm.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, job.JobID)
	assert.Equal(t, 40, job.Progress)
	assert.Equal(t, "vectorize_catalog", job.Details["job_type"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobManager_GetJobNotFound(t *testing.T) {
	jm, mock, _ := newTestJobManager(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM vectorization_jobs WHERE id").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err := jm.GetJob(context.Background(), id)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobManager_UpdateJobProgress(t *testing.T) {
	tests := []struct {
		name             string
		status           string
		processed        int
		failed           int
		expectedProgress int
		expectETA        bool
	}{
		{name: "no progress", status: JobStatusProcessing, expectedProgress: 0},
		{name: "half complete", status: JobStatusProcessing, processed: 30, failed: 20, expectedProgress: 50, expectETA: true},
		{name: "completed", status: JobStatusCompleted, processed: 100, expectedProgress: 100},
		{name: "completed with failures", status: JobStatusCompleted, processed: 90, failed: 10, expectedProgress: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jm, mock, now := newTestJobManager(t)
			id := uuid.New()
			created := now.Add(-time.Minute)

			mock.ExpectQuery("SELECT (.+) FROM vectorization_jobs WHERE id").
				WithArgs(id).
				WillReturnRows(pgxmock.NewRows(jobColumns).AddRow(
					id, JobStatusQueued, 0, 100, 0, 0, (*int)(nil), (*string)(nil), created, created, []byte(`{}`),
				))
			mock.ExpectExec("UPDATE vectorization_jobs SET").
				WithArgs(id, tt.status, tt.expectedProgress, tt.processed, tt.failed,
					pgxmock.AnyArg(), pgxmock.AnyArg(), now, pgxmock.AnyArg()).
				WillReturnResult(pgxmock.NewResult("UPDATE", 1))

			err := jm.UpdateJobProgress(context.Background(), id, tt.processed, tt.failed, tt.status, nil)
			require.NoError(t, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestJobManager_CompleteJobWithoutSuccessFails(t *testing.T) {
	jm, mock, now := newTestJobManager(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM vectorization_jobs WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(jobColumns).AddRow(
			id, JobStatusProcessing, 0, 10, 0, 0, (*int)(nil), (*string)(nil), now, now, []byte(`{}`),
		))
	mock.ExpectExec("UPDATE vectorization_jobs SET").
		WithArgs(id, JobStatusFailed, 100, 0, 10, pgxmock.AnyArg(), pgxmock.AnyArg(), now, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, jm.CompleteJob(context.Background(), id, 0, 10))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobManager_ListActiveJobsNeedsRedis(t *testing.T) {
	jm, _, _ := newTestJobManager(t)

	_, err := jm.ListActiveJobs(context.Background(), 10)
	assert.Error(t, err)
}

func TestJobProgress_Finished(t *testing.T) {
	for status, finished := range map[string]bool{
		JobStatusQueued:     false,
		JobStatusProcessing: false,
		JobStatusCompleted:  true,
		JobStatusFailed:     true,
		JobStatusCancelled:  true,
	} {
		assert.Equal(t, finished, (&JobProgress{Status: status}).finished(), status)
	}
}
