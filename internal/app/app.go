package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/temcen/simrec/internal/config"
	"github.com/temcen/simrec/internal/database"
	"github.com/temcen/simrec/internal/handlers"
	"github.com/temcen/simrec/internal/middleware"
	"github.com/temcen/simrec/internal/services"
	"github.com/temcen/simrec/internal/store"
	"github.com/temcen/simrec/internal/validation"
)

type App struct {
	config     *config.Config
	logger     *logrus.Logger
	db         *database.Database
	services   *services.Services
	handlers   *handlers.Handlers
	validation *middleware.ValidationMiddleware
	router     *gin.Engine
	cancel     context.CancelFunc
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config: cfg,
		logger: SetupLogger(cfg),
	}

	db, err := database.New(cfg, app.logger, database.AllBackends)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	err = store.EnsureSchema(ctx, db.PG)
	cancel()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare schema: %w", err)
	}

	svc, err := services.New(cfg, app.logger, db, prometheus.DefaultRegisterer)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.services = svc

	schemas, err := validation.NewSchemaValidator()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load request schemas: %w", err)
	}
	app.validation = middleware.NewValidationMiddleware(schemas)
	app.handlers = handlers.New(app.logger, svc)

	app.setupRouter()

	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

// Start launches the background workers: the result cache janitor and,
// when Kafka is enabled, the metadata update consumer.
func (a *App) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.services.Start(ctx)
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	if a.cancel != nil {
		a.cancel()
	}

	var errs []error
	if err := a.services.Close(); err != nil {
		a.logger.WithError(err).Error("Error stopping services")
		errs = append(errs, err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing database connections")
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// SetupLogger builds the process logger from the logging section.
func SetupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func (a *App) setupRouter() {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(a.config.Security.CORS))
	router.Use(middleware.HTTPMetrics(prometheus.DefaultRegisterer))

	router.GET("/health", a.handlers.Health.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	if a.config.RateLimit.Enabled {
		api.Use(middleware.RateLimit(a.services.RateLimit, a.logger))
	}
	{
		recommendations := api.Group("/recommendations")
		{
			recommendations.POST("", a.validation.ValidateRecommendationRequest(), a.handlers.Recommendation.Recommend)
			recommendations.GET("/status", a.handlers.Recommendation.Status)
		}

		admin := api.Group("/admin")
		{
			admin.POST("/vectorize", a.handlers.Admin.Vectorize)
			admin.GET("/jobs/:jobId", a.handlers.Admin.GetJob)
			admin.POST("/movies/revectorize", a.validation.ValidateRevectorizeRequest(), a.handlers.Admin.Revectorize)
			admin.DELETE("/cache", a.handlers.Admin.ClearCache)
		}
	}

	a.router = router
}
