package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/temcen/simrec/internal/vocab"
	"github.com/temcen/simrec/pkg/models"
)

const movieColumns = `
	id, COALESCE(title, ''), COALESCE(poster_path, ''), COALESCE(overview, ''),
	COALESCE(genres, '{}'), COALESCE(cast_names, '{}'), COALESCE(directors, '{}'),
	COALESCE(cinematographers, '{}'), COALESCE(keywords, '{}'),
	COALESCE(vote_average, 0), COALESCE(vote_count, 0), release_year, runtime_minutes`

// PostgresStore reads catalog metadata and reads/writes catalog vectors.
type PostgresStore struct {
	db     Querier
	logger *logrus.Logger
}

func NewPostgresStore(db Querier, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// VectorsByIDs returns the stored vectors for ids built with the given
// vocabulary version. Missing ids are simply absent from the map.
func (s *PostgresStore) VectorsByIDs(ctx context.Context, ids []int, version string) (map[int]models.Vector, error) {
	query := `
		SELECT movie_id, vector
		FROM movie_vectors
		WHERE movie_id = ANY($1) AND vocab_version = $2`

	rows, err := s.db.Query(ctx, query, ids, version)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer rows.Close()

	vectors := make(map[int]models.Vector, len(ids))
	for rows.Next() {
		var id int
		var vec []float64
		if err := rows.Scan(&id, &vec); err != nil {
			return nil, fmt.Errorf("failed to scan vector: %w", err)
		}
		if !s.validDimension(id, vec) {
			continue
		}
		vectors[id] = vec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vectors: %w", err)
	}

	return vectors, nil
}

// CandidateVectors returns up to limit vectors of the given version, most
// voted titles first.
func (s *PostgresStore) CandidateVectors(ctx context.Context, version string, limit int) ([]models.StoredVector, error) {
	query := `
		SELECT v.movie_id, v.vector, v.vocab_version, v.updated_at
		FROM movie_vectors v
		JOIN movies m ON m.id = v.movie_id
		WHERE v.vocab_version = $1
		ORDER BY m.vote_count DESC NULLS LAST, v.movie_id
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, version, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate vectors: %w", err)
	}
	defer rows.Close()

	candidates := make([]models.StoredVector, 0, limit)
	for rows.Next() {
		var sv models.StoredVector
		var vec []float64
		if err := rows.Scan(&sv.MovieID, &vec, &sv.VocabVersion, &sv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan candidate vector: %w", err)
		}
		if !s.validDimension(sv.MovieID, vec) {
			continue
		}
		sv.Vector = vec
		candidates = append(candidates, sv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read candidate vectors: %w", err)
	}

	return candidates, nil
}

func (s *PostgresStore) validDimension(id int, vec []float64) bool {
	if len(vec) == vocab.Dimension() {
		return true
	}
	s.logger.WithFields(logrus.Fields{
		"movie_id":  id,
		"dimension": len(vec),
		"expected":  vocab.Dimension(),
	}).Warn("Skipping stored vector with unexpected dimension")
	return false
}

// UpsertVectors writes a batch of vectors in one transaction. Re-running with
// the same input leaves the table unchanged apart from updated_at.
func (s *PostgresStore) UpsertVectors(ctx context.Context, vectors []models.StoredVector) error {
	if len(vectors) == 0 {
		return nil
	}

	query := `
		INSERT INTO movie_vectors (movie_id, vector, vocab_version, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (movie_id) DO UPDATE SET
			vector = EXCLUDED.vector,
			vocab_version = EXCLUDED.vocab_version,
			updated_at = EXCLUDED.updated_at`

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, v := range vectors {
		if _, err := tx.Exec(ctx, query, v.MovieID, []float64(v.Vector), v.VocabVersion); err != nil {
			return fmt.Errorf("failed to upsert vector for movie %d: %w", v.MovieID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit vectors: %w", err)
	}
	return nil
}

// MoviesByIDs returns catalog rows keyed by id.
func (s *PostgresStore) MoviesByIDs(ctx context.Context, ids []int) (map[int]models.Movie, error) {
	query := `SELECT` + movieColumns + `
		FROM movies
		WHERE id = ANY($1)`

	rows, err := s.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query movies: %w", err)
	}
	defer rows.Close()

	movies := make(map[int]models.Movie, len(ids))
	for rows.Next() {
		m, err := scanMovie(rows)
		if err != nil {
			return nil, err
		}
		movies[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read movies: %w", err)
	}

	return movies, nil
}

// MoviesAfter pages through the catalog by id.
func (s *PostgresStore) MoviesAfter(ctx context.Context, afterID, limit int) ([]models.Movie, error) {
	query := `SELECT` + movieColumns + `
		FROM movies
		WHERE id > $1
		ORDER BY id
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query movie page: %w", err)
	}
	defer rows.Close()

	movies := make([]models.Movie, 0, limit)
	for rows.Next() {
		m, err := scanMovie(rows)
		if err != nil {
			return nil, err
		}
		movies = append(movies, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read movie page: %w", err)
	}

	return movies, nil
}

func scanMovie(row pgx.Row) (models.Movie, error) {
	var m models.Movie
	err := row.Scan(
		&m.ID, &m.Title, &m.PosterPath, &m.Overview,
		&m.Genres, &m.Cast, &m.Directors, &m.Cinematographers, &m.Keywords,
		&m.VoteAverage, &m.VoteCount, &m.ReleaseYear, &m.RuntimeMinutes,
	)
	if err != nil {
		return models.Movie{}, fmt.Errorf("failed to scan movie: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) CountMovies(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM movies`)
}

// CountVectors counts vectors built with version.
func (s *PostgresStore) CountVectors(ctx context.Context, version string) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM movie_vectors WHERE vocab_version = $1`, version)
}

// CountStaleVectors counts vectors built with any other version.
func (s *PostgresStore) CountStaleVectors(ctx context.Context, version string) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM movie_vectors WHERE vocab_version <> $1`, version)
}

func (s *PostgresStore) count(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return n, nil
}

// Ping checks the connection with a trivial query.
func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRow(ctx, "SELECT 1").Scan(&one)
}
