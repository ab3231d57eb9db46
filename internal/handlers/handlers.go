package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/simrec/internal/services"
	"github.com/temcen/simrec/pkg/models"
)

type Handlers struct {
	Health         *HealthHandler
	Recommendation *RecommendationHandler
	Admin          *AdminHandler
}

func New(logger *logrus.Logger, svc *services.Services) *Handlers {
	admin := NewAdminHandler(svc.Vectorization, svc.JobManager, svc.Vectorization, svc.Recommendation, logger)
	// MessageBus is nil when Kafka is disabled.
	if svc.MessageBus != nil {
		admin.WithPublisher(svc.MessageBus)
	}

	return &Handlers{
		Health:         NewHealthHandler(logger, svc.Health),
		Recommendation: NewRecommendationHandler(svc.Recommendation, svc.Status, logger),
		Admin:          admin,
	}
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, models.ErrorResponse{Error: message, Code: code})
}

func internalError(c *gin.Context) {
	respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
}
