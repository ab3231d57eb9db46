package store

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/simrec/internal/vocab"
	"github.com/temcen/simrec/pkg/models"
)

// VectorSource looks up vectors by movie id.
type VectorSource interface {
	VectorsByIDs(ctx context.Context, ids []int, version string) (map[int]models.Vector, error)
}

// CachedVectorReader keeps selected-item vectors in Redis. Redis errors are
// logged and treated as misses so the request still reaches the store.
// Candidate scans are not cached and go straight to the source.
type CachedVectorReader struct {
	source VectorStore
	redis  *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewCachedVectorReader(source VectorStore, client *redis.Client, ttl time.Duration, logger *logrus.Logger) *CachedVectorReader {
	return &CachedVectorReader{
		source: source,
		redis:  client,
		ttl:    ttl,
		logger: logger,
	}
}

func vectorKey(version string, id int) string {
	return fmt.Sprintf("vec:%s:%d", version, id)
}

func (r *CachedVectorReader) VectorsByIDs(ctx context.Context, ids []int, version string) (map[int]models.Vector, error) {
	vectors := make(map[int]models.Vector, len(ids))
	missing := r.readCached(ctx, ids, version, vectors)
	if len(missing) == 0 {
		return vectors, nil
	}

	loaded, err := r.source.VectorsByIDs(ctx, missing, version)
	if err != nil {
		return nil, err
	}
	for id, v := range loaded {
		vectors[id] = v
	}

	r.writeCached(ctx, loaded, version)
	return vectors, nil
}

func (r *CachedVectorReader) CandidateVectors(ctx context.Context, version string, limit int) ([]models.StoredVector, error) {
	return r.source.CandidateVectors(ctx, version, limit)
}

// readCached fills out with cached vectors and returns the ids it could not serve.
func (r *CachedVectorReader) readCached(ctx context.Context, ids []int, version string, out map[int]models.Vector) []int {
	if len(ids) == 0 {
		return nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = vectorKey(version, id)
	}

	values, err := r.redis.MGet(ctx, keys...).Result()
	if err != nil {
		r.logger.WithError(err).Warn("Vector cache read failed, falling back to store")
		return ids
	}

	var missing []int
	for i, raw := range values {
		s, ok := raw.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		var v models.Vector
		if err := json.Unmarshal([]byte(s), &v); err != nil || len(v) != vocab.Dimension() {
			missing = append(missing, ids[i])
			continue
		}
		out[ids[i]] = v
	}
	return missing
}

func (r *CachedVectorReader) writeCached(ctx context.Context, vectors map[int]models.Vector, version string) {
	if len(vectors) == 0 {
		return
	}

	pipe := r.redis.Pipeline()
	for id, v := range vectors {
		data, err := json.Marshal(v)
		if err != nil {
			continue
		}
		pipe.Set(ctx, vectorKey(version, id), data, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.WithError(err).Warn("Vector cache write failed")
	}
}

// Forget drops cached vectors for ids, used after they are re-vectorized.
func (r *CachedVectorReader) Forget(ctx context.Context, ids []int, version string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = vectorKey(version, id)
	}
	if err := r.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to evict cached vectors: %w", err)
	}
	return nil
}
