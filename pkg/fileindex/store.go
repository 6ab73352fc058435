package fileindex

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nadia/mnemo/internal/observability"
	"github.com/nadia/mnemo/pkg/memory"
	"github.com/rs/zerolog"
)

// embedPrefixBytes caps how much chunk text is encoded. The full text
// is still stored and keyword-searchable.
const embedPrefixBytes = 500

// Result is one search hit against the file index.
type Result struct {
	Path       string  `json:"path"`
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

// Stats summarizes the index contents.
type Stats struct {
	Files  int `json:"files"`
	Chunks int `json:"chunks"`
}

// ChunkStore persists file chunks and their embeddings. File chunks
// belong to no user, so all embedding rows carry owner id 0.
type ChunkStore struct {
	db         *memory.DB
	embeddings *memory.EmbeddingStore
	logger     zerolog.Logger
}

// NewChunkStore creates a chunk store. embeddings may be nil; chunks
// are then stored for keyword search only.
func NewChunkStore(db *memory.DB, embeddings *memory.EmbeddingStore, logger zerolog.Logger) *ChunkStore {
	return &ChunkStore{db: db, embeddings: embeddings, logger: logger}
}

// SaveChunk upserts one chunk of a file. Embedding is best-effort: a
// failed encode stores the chunk with a NULL embedding id.
func (s *ChunkStore) SaveChunk(ctx context.Context, path string, index int, content string, mtime float64) error {
	var embeddingID interface{}
	if s.embeddings != nil {
		prefix := content
		if len(prefix) > embedPrefixBytes {
			prefix = prefix[:embedPrefixBytes]
		}
		id, err := s.embeddings.UpsertEmbedding(ctx, 0, memory.SourceTypeFileChunk, 0, prefix)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Int("chunk", index).
				Msg("Failed to embed chunk, stored without vector")
		} else {
			embeddingID = id
		}
	}

	_, err := s.db.Handle().ExecContext(ctx,
		`INSERT INTO file_chunks (path, chunk_index, content_text, embedding_id, file_mtime)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(path, chunk_index) DO UPDATE SET
			content_text = excluded.content_text,
			embedding_id = excluded.embedding_id,
			file_mtime = excluded.file_mtime,
			indexed_at = datetime('now')`,
		path, index, content, embeddingID, mtime,
	)
	if err != nil {
		return fmt.Errorf("failed to save chunk %s#%d: %w", path, index, err)
	}
	return nil
}

// DeleteChunksForFile removes all chunks of a file along with their
// embeddings.
func (s *ChunkStore) DeleteChunksForFile(ctx context.Context, path string) error {
	return s.deleteChunksWhere(ctx, "path = ?", path)
}

// DeleteChunksAboveIndex removes trailing chunks left behind when a
// file shrank from N to M chunks.
func (s *ChunkStore) DeleteChunksAboveIndex(ctx context.Context, path string, maxIndex int) error {
	return s.deleteChunksWhere(ctx, "path = ? AND chunk_index > ?", path, maxIndex)
}

func (s *ChunkStore) deleteChunksWhere(ctx context.Context, where string, args ...interface{}) error {
	embeddingSubquery := "SELECT embedding_id FROM file_chunks WHERE " + where + " AND embedding_id IS NOT NULL"

	if s.db.VecAvailable() {
		if _, err := s.db.Handle().ExecContext(ctx,
			"DELETE FROM embeddings_vec WHERE rowid IN ("+embeddingSubquery+")", args...); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to delete chunk vectors")
		}
	}
	if _, err := s.db.Handle().ExecContext(ctx,
		"DELETE FROM embeddings WHERE id IN ("+embeddingSubquery+")", args...); err != nil {
		return err
	}
	_, err := s.db.Handle().ExecContext(ctx, "DELETE FROM file_chunks WHERE "+where, args...)
	return err
}

// AllIndexedPaths returns every indexed path with the mtime recorded
// at index time.
func (s *ChunkStore) AllIndexedPaths(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.Handle().QueryContext(ctx,
		"SELECT path, MAX(file_mtime) FROM file_chunks GROUP BY path")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := make(map[string]float64)
	for rows.Next() {
		var path string
		var mtime float64
		if err := rows.Scan(&path, &mtime); err != nil {
			return nil, err
		}
		paths[path] = mtime
	}
	return paths, rows.Err()
}

// Search looks chunks up by vector similarity and falls back to
// keyword matching when vectors are unavailable or return nothing.
// pathFilter, when non-empty, restricts hits to paths with that prefix.
func (s *ChunkStore) Search(ctx context.Context, query string, limit int, pathFilter string) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	if s.embeddings != nil && s.db.VecAvailable() {
		results, err := s.vectorSearch(ctx, query, limit, pathFilter)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Vector chunk search failed, falling back to keyword")
		} else if len(results) > 0 {
			return results, nil
		}
	}

	return s.keywordSearch(ctx, query, limit, pathFilter)
}

func (s *ChunkStore) vectorSearch(ctx context.Context, query string, limit int, pathFilter string) ([]Result, error) {
	// KNN happens before the path filter can apply, so over-fetch when
	// a filter will discard hits.
	fetch := limit
	if pathFilter != "" {
		fetch = limit * 4
	}
	hits, err := s.embeddings.SearchSimilarForType(ctx, 0, query, memory.SourceTypeFileChunk, fetch, false)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, limit)
	for _, hit := range hits {
		var r Result
		err := s.db.Handle().QueryRowContext(ctx,
			"SELECT path, chunk_index, content_text FROM file_chunks WHERE embedding_id = ?",
			hit.EmbeddingID,
		).Scan(&r.Path, &r.ChunkIndex, &r.Content)
		if err != nil {
			continue
		}
		if pathFilter != "" && !strings.HasPrefix(r.Path, pathFilter) {
			continue
		}
		// Cosine distance inverted so higher is better, like BM25 below.
		r.Score = 1.0 - hit.Distance
		results = append(results, r)
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

func (s *ChunkStore) keywordSearch(ctx context.Context, query string, limit int, pathFilter string) ([]Result, error) {
	start := time.Now()
	defer func() { observability.RecordMemorySearch("lexical", time.Since(start)) }()

	match := sanitizeMatch(query)
	if match == "" {
		return nil, nil
	}

	args := []interface{}{match}
	filterClause := ""
	if pathFilter != "" {
		filterClause = "AND c.path LIKE ? || '%'"
		args = append(args, pathFilter)
	}
	args = append(args, limit)

	rows, err := s.db.Handle().QueryContext(ctx, `
		SELECT c.path, c.chunk_index, c.content_text, -bm25(file_chunks_fts)
		FROM file_chunks_fts
		JOIN file_chunks c ON c.id = file_chunks_fts.rowid
		WHERE file_chunks_fts MATCH ? `+filterClause+`
		ORDER BY bm25(file_chunks_fts)
		LIMIT ?`, args...)
	if err != nil {
		s.logger.Debug().Err(err).Str("query", query).Msg("Keyword chunk search failed")
		return nil, nil
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Path, &r.ChunkIndex, &r.Content, &r.Score); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// sanitizeMatch mirrors the knowledge-side FTS sanitizer: quoted
// tokens, OR-joined, negations dropped.
func sanitizeMatch(query string) string {
	var quoted []string
	for _, token := range strings.Fields(query) {
		if strings.HasPrefix(token, "-") {
			continue
		}
		token = strings.ReplaceAll(token, `"`, "")
		if token == "" {
			continue
		}
		quoted = append(quoted, `"`+token+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// Stats counts indexed files and chunks and refreshes the chunk gauge.
func (s *ChunkStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.Handle().QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT path), COUNT(*) FROM file_chunks").Scan(&st.Files, &st.Chunks); err != nil {
		return Stats{}, err
	}
	observability.SetIndexChunks(st.Chunks)
	return st, nil
}
