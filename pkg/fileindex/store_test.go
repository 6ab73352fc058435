package fileindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveChunkUpserts(t *testing.T) {
	db, store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveChunk(ctx, "/notes/a.md", 0, "first version of the chunk text", 100.0))
	require.NoError(t, store.SaveChunk(ctx, "/notes/a.md", 0, "second version of the chunk text", 200.0))

	assert.Equal(t, 1, chunkCount(t, db, "/notes/a.md"))

	var content string
	var mtime float64
	require.NoError(t, db.Handle().QueryRow(
		"SELECT content_text, file_mtime FROM file_chunks WHERE path = ? AND chunk_index = 0",
		"/notes/a.md").Scan(&content, &mtime))
	assert.Equal(t, "second version of the chunk text", content)
	assert.InDelta(t, 200.0, mtime, 1e-9)
}

func TestSaveChunkLinksEmbedding(t *testing.T) {
	db, store := newTestStore(t)
	require.NoError(t, store.SaveChunk(context.Background(), "/notes/a.md", 0, "embedded chunk body", 1.0))

	var embeddingID int64
	require.NoError(t, db.Handle().QueryRow(
		"SELECT embedding_id FROM file_chunks WHERE path = ?", "/notes/a.md").Scan(&embeddingID))
	assert.Greater(t, embeddingID, int64(0))

	var sourceType string
	require.NoError(t, db.Handle().QueryRow(
		"SELECT source_type FROM embeddings WHERE id = ?", embeddingID).Scan(&sourceType))
	assert.Equal(t, "file_chunk", sourceType)
}

func TestDeleteChunksForFile(t *testing.T) {
	db, store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveChunk(ctx, "/notes/a.md", 0, "chunk zero of file a", 1.0))
	require.NoError(t, store.SaveChunk(ctx, "/notes/a.md", 1, "chunk one of file a", 1.0))
	require.NoError(t, store.SaveChunk(ctx, "/notes/b.md", 0, "chunk zero of file b", 1.0))

	require.NoError(t, store.DeleteChunksForFile(ctx, "/notes/a.md"))

	assert.Equal(t, 0, chunkCount(t, db, "/notes/a.md"))
	assert.Equal(t, 1, chunkCount(t, db, "/notes/b.md"))

	// Embeddings for the deleted file are gone too.
	var orphans int
	require.NoError(t, db.Handle().QueryRow(
		`SELECT COUNT(*) FROM embeddings WHERE source_type = 'file_chunk'
		 AND id NOT IN (SELECT embedding_id FROM file_chunks WHERE embedding_id IS NOT NULL)`,
	).Scan(&orphans))
	assert.Equal(t, 0, orphans)
}

func TestDeleteChunksAboveIndex(t *testing.T) {
	db, store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, store.SaveChunk(ctx, "/notes/a.md", i, "chunk body with some length", 1.0))
	}
	require.NoError(t, store.DeleteChunksAboveIndex(ctx, "/notes/a.md", 1))

	assert.Equal(t, 2, chunkCount(t, db, "/notes/a.md"))

	var maxIndex int
	require.NoError(t, db.Handle().QueryRow(
		"SELECT MAX(chunk_index) FROM file_chunks WHERE path = ?", "/notes/a.md").Scan(&maxIndex))
	assert.Equal(t, 1, maxIndex)
}

func TestAllIndexedPaths(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveChunk(ctx, "/notes/a.md", 0, "chunk body with some length", 123.0))
	require.NoError(t, store.SaveChunk(ctx, "/notes/b.md", 0, "another chunk body entirely", 456.0))

	paths, err := store.AllIndexedPaths(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 123.0, paths["/notes/a.md"], 1e-9)
	assert.InDelta(t, 456.0, paths["/notes/b.md"], 1e-9)
}

func TestSearchVector(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveChunk(ctx, "/notes/recipes.md", 0, "sourdough hydration ratios and timing", 1.0))
	require.NoError(t, store.SaveChunk(ctx, "/notes/infra.md", 0, "kubernetes ingress configuration notes", 1.0))

	results, err := store.Search(ctx, "sourdough hydration ratios and timing", 5, "")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "/notes/recipes.md", results[0].Path)
}

func TestSearchPathFilter(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveChunk(ctx, "/notes/recipes.md", 0, "sourdough hydration ratios and timing", 1.0))
	require.NoError(t, store.SaveChunk(ctx, "/work/recipes.md", 0, "sourdough hydration ratios and timing", 1.0))

	results, err := store.Search(ctx, "sourdough hydration ratios and timing", 5, "/work/")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "/work/recipes.md", r.Path)
	}
}

func TestSearchKeywordFallback(t *testing.T) {
	// No embedding store wired, so keyword search serves the query.
	db, full := newTestStore(t)
	store := NewChunkStore(db, nil, full.logger)
	ctx := context.Background()

	require.NoError(t, store.SaveChunk(ctx, "/notes/recipes.md", 0, "sourdough hydration ratios and timing", 1.0))

	results, err := store.Search(ctx, "sourdough", 5, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "/notes/recipes.md", results[0].Path)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestSearchEmptyQuery(t *testing.T) {
	_, store := newTestStore(t)
	results, err := store.Search(context.Background(), "   ", 5, "")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStats(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveChunk(ctx, "/notes/a.md", 0, "chunk body with some length", 1.0))
	require.NoError(t, store.SaveChunk(ctx, "/notes/a.md", 1, "second chunk body with length", 1.0))
	require.NoError(t, store.SaveChunk(ctx, "/notes/b.md", 0, "another chunk body entirely", 1.0))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 3, stats.Chunks)
}
