package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/simrec/internal/services"
	"github.com/temcen/simrec/pkg/models"
)

type statusReporter interface {
	Status(ctx context.Context) (*models.CatalogStatus, error)
}

type RecommendationHandler struct {
	recommender services.Recommender
	status      statusReporter
	logger      *logrus.Logger
}

func NewRecommendationHandler(recommender services.Recommender, status statusReporter, logger *logrus.Logger) *RecommendationHandler {
	return &RecommendationHandler{
		recommender: recommender,
		status:      status,
		logger:      logger,
	}
}

// Recommend handles POST /api/v1/recommendations.
func (h *RecommendationHandler) Recommend(c *gin.Context) {
	var req models.RecommendationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	result, err := h.recommender.Recommend(c.Request.Context(), req)
	if err != nil {
		status, code := recommendationErrorStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.WithError(err).WithFields(logrus.Fields{
				"request_id":   c.GetString("request_id"),
				"selected_ids": req.SelectedIDs,
			}).Error("Recommendation failed")
			internalError(c)
			return
		}
		respondError(c, status, code, err.Error())
		return
	}

	c.JSON(http.StatusOK, result)
}

func recommendationErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, services.ErrNoVectors):
		return http.StatusNotFound, "NO_VECTORS"
	case errors.Is(err, services.ErrDegenerateCentroid):
		return http.StatusNotFound, "DEGENERATE_SELECTION"
	case errors.Is(err, services.ErrNoCandidates):
		return http.StatusNotFound, "NO_CANDIDATES"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// Status handles GET /api/v1/recommendations/status.
func (h *RecommendationHandler) Status(c *gin.Context) {
	status, err := h.status.Status(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to collect catalog status")
		internalError(c)
		return
	}
	c.JSON(http.StatusOK, status)
}
