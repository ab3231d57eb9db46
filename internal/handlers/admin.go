package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/simrec/internal/services"
	"github.com/temcen/simrec/pkg/models"
)

type vectorizationStarter interface {
	Start(ctx context.Context, opts services.VectorizeOptions) (*services.JobProgress, error)
}

type jobReader interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (*services.JobProgress, error)
}

type idVectorizer interface {
	VectorizeIDs(ctx context.Context, ids []int) (int, error)
}

type metadataPublisher interface {
	PublishMetadataUpdated(ctx context.Context, movieIDs []int) (uuid.UUID, error)
}

type cacheInvalidator interface {
	InvalidateCache() int
}

// AdminHandler serves the operator endpoints under /api/v1/admin.
type AdminHandler struct {
	vectorizer  vectorizationStarter
	jobs        jobReader
	revectorize idVectorizer
	publisher   metadataPublisher
	results     cacheInvalidator
	logger      *logrus.Logger
}

// NewAdminHandler builds the handler without a publisher; revectorize
// requests are then applied inline.
func NewAdminHandler(vectorizer vectorizationStarter, jobs jobReader, revectorize idVectorizer, results cacheInvalidator, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		vectorizer:  vectorizer,
		jobs:        jobs,
		revectorize: revectorize,
		results:     results,
		logger:      logger,
	}
}

// WithPublisher routes revectorize requests through the event bus.
func (h *AdminHandler) WithPublisher(p metadataPublisher) *AdminHandler {
	h.publisher = p
	return h
}

type vectorizeQuery struct {
	BatchSize int  `form:"batch_size" binding:"omitempty,min=1,max=10000"`
	DryRun    bool `form:"dry_run"`
}

type JobResponse struct {
	JobID   uuid.UUID `json:"job_id"`
	Status  string    `json:"status"`
	Message string    `json:"message"`
}

// Vectorize handles POST /api/v1/admin/vectorize.
func (h *AdminHandler) Vectorize(c *gin.Context) {
	var q vectorizeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "batch_size must be between 1 and 10000")
		return
	}

	job, err := h.vectorizer.Start(c.Request.Context(), services.VectorizeOptions{BatchSize: q.BatchSize, DryRun: q.DryRun})
	if errors.Is(err, services.ErrJobRunning) {
		respondError(c, http.StatusConflict, "JOB_RUNNING", "A vectorization job is already running")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to start vectorization")
		internalError(c)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"job_id":     job.JobID,
		"total":      job.TotalItems,
		"batch_size": q.BatchSize,
		"dry_run":    q.DryRun,
	}).Info("Vectorization job started")

	c.JSON(http.StatusAccepted, JobResponse{
		JobID:   job.JobID,
		Status:  job.Status,
		Message: "Vectorization started",
	})
}

// GetJob handles GET /api/v1/admin/jobs/:jobId.
func (h *AdminHandler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("jobId"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_JOB_ID", "Invalid job ID format")
		return
	}

	job, err := h.jobs.GetJob(c.Request.Context(), jobID)
	if errors.Is(err, services.ErrJobNotFound) {
		respondError(c, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("job_id", jobID).Error("Failed to load job")
		internalError(c)
		return
	}

	c.JSON(http.StatusOK, job)
}

// Revectorize handles POST /api/v1/admin/movies/revectorize.
func (h *AdminHandler) Revectorize(c *gin.Context) {
	var req models.RevectorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "movieIds must list between 1 and 1000 positive ids")
		return
	}

	if h.publisher != nil {
		eventID, err := h.publisher.PublishMetadataUpdated(c.Request.Context(), req.MovieIDs)
		if err != nil {
			h.logger.WithError(err).WithField("movie_ids", req.MovieIDs).Error("Failed to publish metadata update")
			respondError(c, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", "Failed to queue revectorization")
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"event_id":  eventID,
			"movie_ids": req.MovieIDs,
			"status":    "queued",
		})
		return
	}

	written, err := h.revectorize.VectorizeIDs(c.Request.Context(), req.MovieIDs)
	if err != nil {
		h.logger.WithError(err).WithField("movie_ids", req.MovieIDs).Error("Revectorization failed")
		internalError(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"movie_ids": req.MovieIDs,
		"written":   written,
		"status":    "completed",
	})
}

// ClearCache handles DELETE /api/v1/admin/cache.
func (h *AdminHandler) ClearCache(c *gin.Context) {
	cleared := h.results.InvalidateCache()
	h.logger.WithField("entries", cleared).Info("Result cache cleared")
	c.JSON(http.StatusOK, gin.H{"cleared": cleared})
}
