package memory

import (
	"context"
	"fmt"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/nadia/mnemo/internal/observability"
	"github.com/nadia/mnemo/pkg/encoder"
	"github.com/rs/zerolog"
)

// knnOversample widens the vector pre-filter so that owner and
// source-type predicates applied after the KNN scan still leave
// enough rows to fill the requested limit.
const knnOversample = 8

// SimilarResult is one row from a vector similarity search. Distance
// is cosine distance, lower is closer.
type SimilarResult struct {
	EmbeddingID int64
	SourceType  string
	SourceID    int64
	Content     string
	Distance    float64
}

// EmbeddingStore encodes text and persists vectors alongside their
// provenance rows. Vector writes degrade silently when the vec0 table
// is unavailable; the provenance row is kept either way.
type EmbeddingStore struct {
	db     *DB
	enc    encoder.Encoder
	logger zerolog.Logger
}

// NewEmbeddingStore creates an embedding store bound to db and enc.
// The encoder dimension must match the dimension the vector table was
// created with.
func NewEmbeddingStore(db *DB, enc encoder.Encoder, logger zerolog.Logger) (*EmbeddingStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if enc == nil {
		return nil, fmt.Errorf("encoder is required")
	}
	if db.Dimension() > 0 && enc.Dimension() != db.Dimension() {
		return nil, fmt.Errorf("encoder dimension %d does not match store dimension %d",
			enc.Dimension(), db.Dimension())
	}
	return &EmbeddingStore{db: db, enc: enc, logger: logger}, nil
}

// Encoder returns the encoder the store was built with.
func (s *EmbeddingStore) Encoder() encoder.Encoder {
	return s.enc
}

// UpsertEmbedding encodes text and stores a new embedding row. The
// provenance row is the source of truth; if the vector write fails the
// row is kept and the failure is logged, leaving the item reachable
// through keyword search.
func (s *EmbeddingStore) UpsertEmbedding(ctx context.Context, ownerID int64, sourceType string, sourceID int64, text string) (int64, error) {
	if text == "" {
		return 0, encoder.ErrEmptyText
	}

	vector, err := s.enc.Embed(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("failed to encode text: %w", err)
	}
	if len(vector) != s.enc.Dimension() {
		return 0, fmt.Errorf("encoder returned %d values, want %d", len(vector), s.enc.Dimension())
	}

	result, err := s.db.Handle().ExecContext(ctx,
		`INSERT INTO embeddings (owner_id, source_type, source_id, content_text, model_name)
		 VALUES (?, ?, ?, ?, ?)`,
		ownerID, sourceType, sourceID, text, s.enc.ModelName(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert embedding row: %w", err)
	}
	embeddingID, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	if s.db.VecAvailable() {
		blob, err := sqlite_vec.SerializeFloat32(vector)
		if err != nil {
			s.logger.Warn().Err(err).Int64("embedding_id", embeddingID).
				Msg("Failed to serialize vector, row kept without vector")
			return embeddingID, nil
		}
		if _, err := s.db.Handle().ExecContext(ctx,
			"INSERT INTO embeddings_vec (rowid, embedding) VALUES (?, ?)",
			embeddingID, blob,
		); err != nil {
			s.logger.Warn().Err(err).Int64("embedding_id", embeddingID).
				Msg("Failed to store vector, row kept without vector")
		}
	}

	return embeddingID, nil
}

// SearchSimilar runs a KNN scan over all embeddings for an owner.
func (s *EmbeddingStore) SearchSimilar(ctx context.Context, ownerID int64, query string, limit int) ([]SimilarResult, error) {
	return s.search(ctx, ownerID, query, "", limit, false)
}

// SearchSimilarForType runs a KNN scan restricted to one source type.
// When boostRecency is set, distances of knowledge-backed rows are
// scaled by how recently the item was referenced: under 30 days x0.8,
// 30 to 90 days x1.0, older (or never) x1.2.
func (s *EmbeddingStore) SearchSimilarForType(ctx context.Context, ownerID int64, query, sourceType string, limit int, boostRecency bool) ([]SimilarResult, error) {
	return s.search(ctx, ownerID, query, sourceType, limit, boostRecency)
}

func (s *EmbeddingStore) search(ctx context.Context, ownerID int64, query, sourceType string, limit int, boostRecency bool) ([]SimilarResult, error) {
	// A missing vector index is a mode, not an error; callers fall
	// through to the lexical path on an empty result.
	if !s.db.VecAvailable() {
		return nil, nil
	}
	if query == "" {
		return []SimilarResult{}, nil
	}
	if limit <= 0 {
		limit = 5
	}

	start := time.Now()
	defer func() { observability.RecordMemorySearch("vector", time.Since(start)) }()

	vector, err := s.enc.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}
	blob, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query vector: %w", err)
	}

	distanceExpr := "v.distance"
	if boostRecency {
		distanceExpr = `
			CASE
				WHEN k.last_referenced_at >= datetime('now', '-30 days') THEN v.distance * 0.8
				WHEN k.last_referenced_at >= datetime('now', '-90 days') THEN v.distance
				ELSE v.distance * 1.2
			END`
	}

	querySQL := fmt.Sprintf(`
		SELECT e.id, e.source_type, COALESCE(e.source_id, 0), e.content_text, %s AS adjusted
		FROM (
			SELECT rowid, distance
			FROM embeddings_vec
			WHERE embedding MATCH ? AND k = ?
		) v
		JOIN embeddings e ON e.id = v.rowid
		LEFT JOIN knowledge k ON k.id = e.source_id AND e.source_type LIKE 'knowledge_%%'
		WHERE e.owner_id = ?`, distanceExpr)

	args := []interface{}{blob, limit * knnOversample, ownerID}
	if sourceType != "" {
		querySQL += " AND e.source_type = ?"
		args = append(args, sourceType)
	}
	querySQL += " ORDER BY adjusted ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Handle().QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	var results []SimilarResult
	for rows.Next() {
		var r SimilarResult
		if err := rows.Scan(&r.EmbeddingID, &r.SourceType, &r.SourceID, &r.Content, &r.Distance); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// DeleteForSource removes all embedding rows (and their vectors) tied
// to one source row.
func (s *EmbeddingStore) DeleteForSource(ctx context.Context, sourceType string, sourceID int64) error {
	if s.db.VecAvailable() {
		if _, err := s.db.Handle().ExecContext(ctx,
			`DELETE FROM embeddings_vec WHERE rowid IN (
				SELECT id FROM embeddings WHERE source_type = ? AND source_id = ?
			)`, sourceType, sourceID); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to delete vectors for source")
		}
	}
	_, err := s.db.Handle().ExecContext(ctx,
		"DELETE FROM embeddings WHERE source_type = ? AND source_id = ?",
		sourceType, sourceID)
	return err
}
