package services

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/temcen/simrec/internal/cache"
	"github.com/temcen/simrec/internal/config"
	"github.com/temcen/simrec/internal/database"
	"github.com/temcen/simrec/internal/messaging"
	"github.com/temcen/simrec/internal/store"
	"github.com/temcen/simrec/pkg/models"
)

type Services struct {
	Metrics          *Metrics
	Health           *HealthService
	RateLimit        *RateLimitService
	MessageBus       *messaging.MessageBus
	JobManager       *JobManager
	Recommendation   *RecommendationService
	Status           *StatusService
	Vectorization    *VectorizationService
	MetadataConsumer *MetadataUpdateConsumer

	resultCache *cache.Cache[*models.RecommendationResult]
	cfg         *config.Config
	logger      *logrus.Logger
}

func New(cfg *config.Config, logger *logrus.Logger, db *database.Database, reg prometheus.Registerer) (*Services, error) {
	metrics := NewMetrics(reg, logger)
	breaker := store.BreakerConfig(cfg.Breaker)

	pg := store.NewPostgresStore(db.PG, logger)
	vectors := store.NewCachedVectorReader(
		store.NewBreakingVectorStore(pg, breaker, logger),
		db.Redis.Cold, cfg.Recommendation.VectorCacheTTL, logger,
	)
	cf := store.NewBreakingCFStore(store.NewNeo4jCFStore(db.Neo4j, cfg.Neo4j.Database, logger), breaker, logger)

	resultCache := cache.New[*models.RecommendationResult](cfg.Recommendation.CacheTTL)
	metrics.WatchCache(resultCache.Stats)

	recommendation := NewRecommendationService(vectors, pg, cf, resultCache, metrics, cfg.Recommendation, logger)
	jobManager := NewJobManager(db.PG, db.Redis.Warm, logger)
	vectorization := NewVectorizationService(pg, pg, pg, jobManager, vectors, recommendation, metrics, logger)

	s := &Services{
		Metrics:        metrics,
		RateLimit:      NewRateLimitService(cfg.RateLimit, logger, db.Redis.Hot),
		JobManager:     jobManager,
		Recommendation: recommendation,
		Status:         NewStatusService(pg, cf, resultCache, logger),
		Vectorization:  vectorization,
		resultCache:    resultCache,
		cfg:            cfg,
		logger:         logger,
	}

	s.Health = NewHealthService(
		map[string]HealthCheck{
			"postgresql": pg.Ping,
			"redis_hot":  func(ctx context.Context) error { return db.Redis.Hot.Ping(ctx).Err() },
		},
		map[string]HealthCheck{
			"neo4j":      db.Neo4j.VerifyConnectivity,
			"redis_warm": func(ctx context.Context) error { return db.Redis.Warm.Ping(ctx).Err() },
			"redis_cold": func(ctx context.Context) error { return db.Redis.Cold.Ping(ctx).Err() },
		},
		reg, logger,
	)

	if cfg.Kafka.Enabled {
		bus, err := messaging.NewMessageBus(cfg.Kafka, logger)
		if err != nil {
			return nil, err
		}
		s.MessageBus = bus
		s.MetadataConsumer = NewMetadataUpdateConsumer(bus, vectorization, metrics, logger)
	}

	return s, nil
}

// Start runs the background workers until ctx is cancelled.
func (s *Services) Start(ctx context.Context) {
	go s.resultCache.Start(ctx, s.cfg.Recommendation.CacheSweepInterval)

	if s.MetadataConsumer != nil {
		go func() {
			if err := s.MetadataConsumer.Run(ctx); err != nil {
				s.logger.WithError(err).Error("Metadata update consumer stopped")
			}
		}()
	}
}

func (s *Services) Close() error {
	s.Vectorization.Close()

	var errs []error
	if s.MessageBus != nil {
		errs = append(errs, s.MessageBus.Close())
	}
	return errors.Join(errs...)
}
