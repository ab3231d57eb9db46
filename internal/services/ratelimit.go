package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/simrec/internal/config"
	"github.com/temcen/simrec/pkg/models"
)

// RateLimitService is a Redis sliding-window limiter keyed by client. When
// Redis is unavailable every request is allowed.
type RateLimitService struct {
	cfg         config.RateLimitConfig
	logger      *logrus.Logger
	redisClient *redis.Client
	now         func() time.Time
}

func NewRateLimitService(cfg config.RateLimitConfig, logger *logrus.Logger, redisClient *redis.Client) *RateLimitService {
	return &RateLimitService{
		cfg:         cfg,
		logger:      logger,
		redisClient: redisClient,
		now:         time.Now,
	}
}

func (s *RateLimitService) CheckLimit(ctx context.Context, clientID string) *models.RateLimitInfo {
	limit := s.cfg.Requests
	window := s.cfg.Window
	key := fmt.Sprintf("rate_limit:client:%s", clientID)

	now := s.now()
	windowStart := now.Add(-window)

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	pipe := s.redisClient.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.WithError(err).Warn("Rate limit check failed, allowing request")
		return &models.RateLimitInfo{
			Limit:     limit,
			Remaining: limit,
			ResetTime: now.Add(window).Unix(),
		}
	}

	return &models.RateLimitInfo{
		Limit:     limit,
		Remaining: max(0, limit-int(countCmd.Val())),
		ResetTime: now.Add(window).Unix(),
	}
}

// IsAllowed records the request and reports whether it fits in the window.
func (s *RateLimitService) IsAllowed(ctx context.Context, clientID string) (bool, *models.RateLimitInfo) {
	info := s.CheckLimit(ctx, clientID)
	return info.Remaining > 0, info
}
