package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/simrec/internal/store"
)

const finishedJobTTL = 24 * time.Hour

// JobManager tracks long-running vectorization jobs. Redis holds the live
// copy; Postgres keeps the history and backs reads once Redis has expired it.
type JobManager struct {
	db     store.Querier
	redis  *redis.Client
	now    func() time.Time
	logger *logrus.Logger
}

type JobProgress struct {
	JobID          uuid.UUID              `json:"job_id"`
	Status         string                 `json:"status"`
	Progress       int                    `json:"progress"`
	TotalItems     int                    `json:"total_items"`
	ProcessedItems int                    `json:"processed_items"`
	FailedItems    int                    `json:"failed_items"`
	EstimatedTime  *int                   `json:"estimated_time,omitempty"`
	ErrorMessage   *string                `json:"error_message,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	Details        map[string]interface{} `json:"details,omitempty"`
}

const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

func (j *JobProgress) finished() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed || j.Status == JobStatusCancelled
}

func NewJobManager(db store.Querier, client *redis.Client, logger *logrus.Logger) *JobManager {
	return &JobManager{
		db:     db,
		redis:  client,
		now:    time.Now,
		logger: logger,
	}
}

func jobKey(id uuid.UUID) string {
	return "job:" + id.String()
}

func (jm *JobManager) CreateJob(ctx context.Context, totalItems int, jobType string) (*JobProgress, error) {
	now := jm.now()
	job := &JobProgress{
		JobID:      uuid.New(),
		Status:     JobStatusQueued,
		TotalItems: totalItems,
		CreatedAt:  now,
		UpdatedAt:  now,
		Details: map[string]interface{}{
			"job_type": jobType,
		},
	}

	if err := jm.insertJob(ctx, job); err != nil {
		return nil, err
	}

	if err := jm.cacheJob(ctx, job); err != nil {
		jm.logger.WithError(err).WithField("job_id", job.JobID).Warn("Failed to cache job in Redis")
	}

	jm.logger.WithFields(logrus.Fields{
		"job_id":      job.JobID,
		"total_items": totalItems,
		"job_type":    jobType,
	}).Info("Job created")

	return job, nil
}

// GetJob returns ErrJobNotFound when neither Redis nor Postgres knows the id.
func (jm *JobManager) GetJob(ctx context.Context, jobID uuid.UUID) (*JobProgress, error) {
	job, err := jm.cachedJob(ctx, jobID)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, redis.Nil) {
		jm.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to read job from Redis")
	}

	job, err = jm.selectJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if err := jm.cacheJob(ctx, job); err != nil {
		jm.logger.WithError(err).WithField("job_id", jobID).Debug("Failed to restore job to Redis")
	}
	return job, nil
}

func (jm *JobManager) UpdateJobProgress(ctx context.Context, jobID uuid.UUID, processedItems, failedItems int, status string, errorMessage *string) error {
	job, err := jm.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}

	job.ProcessedItems = processedItems
	job.FailedItems = failedItems
	job.Status = status
	job.UpdatedAt = jm.now()
	if errorMessage != nil {
		job.ErrorMessage = errorMessage
	}

	if job.TotalItems > 0 {
		job.Progress = min(100, (processedItems+failedItems)*100/job.TotalItems)
	}
	if job.Status == JobStatusCompleted {
		job.Progress = 100
	}

	job.EstimatedTime = nil
	if status == JobStatusProcessing && processedItems > 0 {
		elapsed := job.UpdatedAt.Sub(job.CreatedAt).Seconds()
		remaining := max(0, job.TotalItems-processedItems-failedItems)
		eta := int(elapsed / float64(processedItems) * float64(remaining))
		job.EstimatedTime = &eta
	}

	if err := jm.updateJob(ctx, job); err != nil {
		jm.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to update job in PostgreSQL")
	}
	if err := jm.cacheJob(ctx, job); err != nil {
		jm.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to update job in Redis")
	}

	jm.logger.WithFields(logrus.Fields{
		"job_id":          jobID,
		"status":          status,
		"progress":        job.Progress,
		"processed_items": processedItems,
		"failed_items":    failedItems,
	}).Debug("Job progress updated")

	return nil
}

// CompleteJob marks the job failed when nothing succeeded, completed otherwise.
func (jm *JobManager) CompleteJob(ctx context.Context, jobID uuid.UUID, successCount, failureCount int) error {
	status := JobStatusCompleted
	if failureCount > 0 && successCount == 0 {
		status = JobStatusFailed
	}
	return jm.UpdateJobProgress(ctx, jobID, successCount, failureCount, status, nil)
}

func (jm *JobManager) FailJob(ctx context.Context, jobID uuid.UUID, processedItems, failedItems int, errorMessage string) error {
	return jm.UpdateJobProgress(ctx, jobID, processedItems, failedItems, JobStatusFailed, &errorMessage)
}

// ListActiveJobs returns up to limit queued or running jobs known to Redis.
func (jm *JobManager) ListActiveJobs(ctx context.Context, limit int) ([]*JobProgress, error) {
	jobs := []*JobProgress{}
	err := jm.scanJobs(ctx, func(key string, job *JobProgress) bool {
		if !job.finished() {
			jobs = append(jobs, job)
		}
		return len(jobs) < limit
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// CleanupCompletedJobs removes finished jobs older than olderThan from Redis.
// Postgres rows are kept.
func (jm *JobManager) CleanupCompletedJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := jm.now().Add(-olderThan)
	cleaned := 0
	err := jm.scanJobs(ctx, func(key string, job *JobProgress) bool {
		if job.finished() && job.UpdatedAt.Before(cutoff) {
			if err := jm.redis.Del(ctx, key).Err(); err != nil {
				jm.logger.WithError(err).WithField("job_id", job.JobID).Warn("Failed to delete job from Redis")
			} else {
				cleaned++
			}
		}
		return true
	})
	if err != nil {
		return cleaned, err
	}

	jm.logger.WithFields(logrus.Fields{
		"cleaned_count": cleaned,
		"cutoff":        cutoff,
	}).Info("Completed job cleanup")
	return cleaned, nil
}

func (jm *JobManager) scanJobs(ctx context.Context, visit func(key string, job *JobProgress) bool) error {
	iter := jm.redis.Scan(ctx, 0, "job:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := jm.redis.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var job JobProgress
		if err := json.Unmarshal(data, &job); err != nil {
			continue
		}
		if !visit(key, &job) {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan job keys: %w", err)
	}
	return nil
}

// Redis operations

func (jm *JobManager) cacheJob(ctx context.Context, job *JobProgress) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	// running jobs never expire; finished ones linger for a day
	var ttl time.Duration
	if job.finished() {
		ttl = finishedJobTTL
	}
	return jm.redis.Set(ctx, jobKey(job.JobID), data, ttl).Err()
}

func (jm *JobManager) cachedJob(ctx context.Context, jobID uuid.UUID) (*JobProgress, error) {
	data, err := jm.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		return nil, err
	}

	var job JobProgress
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// PostgreSQL operations

func (jm *JobManager) insertJob(ctx context.Context, job *JobProgress) error {
	details, err := json.Marshal(job.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal job details: %w", err)
	}

	_, err = jm.db.Exec(ctx, `
		INSERT INTO vectorization_jobs (
			id, status, progress, total_items, processed_items, failed_items,
			estimated_time, error_message, created_at, updated_at, details
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.JobID, job.Status, job.Progress, job.TotalItems, job.ProcessedItems,
		job.FailedItems, job.EstimatedTime, job.ErrorMessage, job.CreatedAt,
		job.UpdatedAt, details,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (jm *JobManager) selectJob(ctx context.Context, jobID uuid.UUID) (*JobProgress, error) {
	var job JobProgress
	var details []byte

	err := jm.db.QueryRow(ctx, `
		SELECT id, status, progress, total_items, processed_items, failed_items,
		       estimated_time, error_message, created_at, updated_at, details
		FROM vectorization_jobs WHERE id = $1`, jobID).Scan(
		&job.JobID, &job.Status, &job.Progress, &job.TotalItems, &job.ProcessedItems,
		&job.FailedItems, &job.EstimatedTime, &job.ErrorMessage, &job.CreatedAt,
		&job.UpdatedAt, &details,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	if len(details) > 0 {
		if err := json.Unmarshal(details, &job.Details); err != nil {
			jm.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to unmarshal job details")
		}
	}
	return &job, nil
}

func (jm *JobManager) updateJob(ctx context.Context, job *JobProgress) error {
	details, err := json.Marshal(job.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal job details: %w", err)
	}

	_, err = jm.db.Exec(ctx, `
		UPDATE vectorization_jobs SET
			status = $2, progress = $3, processed_items = $4, failed_items = $5,
			estimated_time = $6, error_message = $7, updated_at = $8, details = $9
		WHERE id = $1`,
		job.JobID, job.Status, job.Progress, job.ProcessedItems, job.FailedItems,
		job.EstimatedTime, job.ErrorMessage, job.UpdatedAt, details,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}
