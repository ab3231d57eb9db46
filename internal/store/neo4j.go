package store

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"
)

// Neo4jCFStore reads collaborative-filtering scores precomputed by an external
// job as (:Movie)-[:CF_SIMILAR {score}]->(:Movie) edges.
type Neo4jCFStore struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *logrus.Logger
}

func NewNeo4jCFStore(driver neo4j.DriverWithContext, database string, logger *logrus.Logger) *Neo4jCFStore {
	return &Neo4jCFStore{
		driver:   driver,
		database: database,
		logger:   logger,
	}
}

// ScoresForAnchor returns the CF scores from anchor to each of candidates,
// keeping at most limit of the highest-scoring edges. Candidates without an
// edge are absent from the result.
func (s *Neo4jCFStore) ScoresForAnchor(ctx context.Context, anchor int, candidates []int, limit int) (map[int]float64, error) {
	if len(candidates) == 0 {
		return map[int]float64{}, nil
	}

	query := `
		MATCH (a:Movie {movie_id: $anchor})-[r:CF_SIMILAR]->(m:Movie)
		WHERE m.movie_id IN $candidates
		RETURN m.movie_id AS movie_id, r.score AS score
		ORDER BY r.score DESC
		LIMIT $limit`

	ids := make([]int64, len(candidates))
	for i, id := range candidates {
		ids[i] = int64(id)
	}

	result, err := neo4j.ExecuteQuery(ctx, s.driver, query,
		map[string]interface{}{
			"anchor":     int64(anchor),
			"candidates": ids,
			"limit":      int64(limit),
		},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("failed to query CF scores: %w", err)
	}

	scores := make(map[int]float64, len(result.Records))
	for _, record := range result.Records {
		rawID, _ := record.Get("movie_id")
		rawScore, _ := record.Get("score")

		id, okID := toInt(rawID)
		score, okScore := toFloat(rawScore)
		if !okID || !okScore {
			s.logger.WithFields(logrus.Fields{
				"anchor":   anchor,
				"movie_id": rawID,
				"score":    rawScore,
			}).Warn("Skipping malformed CF edge")
			continue
		}
		scores[id] = score
	}

	return scores, nil
}

// HasScores reports whether any CF edge exists.
func (s *Neo4jCFStore) HasScores(ctx context.Context) (bool, error) {
	result, err := neo4j.ExecuteQuery(ctx, s.driver,
		`MATCH ()-[r:CF_SIMILAR]->() RETURN 1 AS found LIMIT 1`,
		nil,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return false, fmt.Errorf("failed to check CF availability: %w", err)
	}
	return len(result.Records) > 0, nil
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case int:
		return n, true
	case float64:
		return int(n), n == float64(int(n))
	default:
		return 0, false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
