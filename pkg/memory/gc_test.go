package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepOrphansRemovesSupersededEmbeddings(t *testing.T) {
	db, embeddings, knowledge := newTestStores(t, &stubEncoder{})
	ctx := context.Background()

	id, err := knowledge.AddItem(ctx, 1, EntityFact, "original wording", Metadata{}, 1.0)
	require.NoError(t, err)
	knowledge.WaitEmbeds()

	updated := "revised wording"
	ok, err := knowledge.Update(ctx, 1, id, &updated, nil)
	require.NoError(t, err)
	require.True(t, ok)
	knowledge.WaitEmbeds()

	var total int
	require.NoError(t, db.Handle().QueryRow("SELECT COUNT(*) FROM embeddings").Scan(&total))
	require.Equal(t, 2, total)

	removed, err := embeddings.SweepOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	require.NoError(t, db.Handle().QueryRow("SELECT COUNT(*) FROM embeddings").Scan(&total))
	assert.Equal(t, 1, total)

	// The live embedding is the one the item still points at.
	items, err := knowledge.GetByIDs(ctx, 1, []int64{id}, 0)
	require.NoError(t, err)
	require.NotNil(t, items[0].EmbeddingID)
	var count int
	require.NoError(t, db.Handle().QueryRow(
		"SELECT COUNT(*) FROM embeddings WHERE id = ?", *items[0].EmbeddingID).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSweepOrphansKeepsLinkedFileChunks(t *testing.T) {
	db, embeddings, _ := newTestStores(t, &stubEncoder{})
	ctx := context.Background()

	linked, err := embeddings.UpsertEmbedding(ctx, 0, SourceTypeFileChunk, 0, "linked chunk text")
	require.NoError(t, err)
	_, err = db.Handle().Exec(
		"INSERT INTO file_chunks (path, chunk_index, content_text, embedding_id, file_mtime) VALUES (?, 0, ?, ?, 1.0)",
		"/notes/a.md", "linked chunk text", linked)
	require.NoError(t, err)

	orphan, err := embeddings.UpsertEmbedding(ctx, 0, SourceTypeFileChunk, 0, "orphaned chunk text")
	require.NoError(t, err)

	removed, err := embeddings.SweepOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	var count int
	require.NoError(t, db.Handle().QueryRow(
		"SELECT COUNT(*) FROM embeddings WHERE id = ?", linked).Scan(&count))
	assert.Equal(t, 1, count)
	require.NoError(t, db.Handle().QueryRow(
		"SELECT COUNT(*) FROM embeddings WHERE id = ?", orphan).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestSweepOrphansEmptyDatabase(t *testing.T) {
	_, embeddings, _ := newTestStores(t, &stubEncoder{})

	removed, err := embeddings.SweepOrphans(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
}
