package memory

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddItemPersistsAndEmbeds(t *testing.T) {
	db, _, store := newTestStores(t, &stubEncoder{})
	ctx := context.Background()

	id, err := store.AddItem(ctx, 1, EntityFact, "works from home on fridays", Metadata{Category: "schedule"}, 0.9)
	require.NoError(t, err)
	store.WaitEmbeds()

	items, err := store.GetByType(ctx, 1, EntityFact, 10, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].ID)
	assert.Equal(t, "schedule", items[0].Metadata.Category)
	assert.InDelta(t, 0.9, items[0].Confidence, 1e-9)
	require.NotNil(t, items[0].EmbeddingID)

	var count int
	require.NoError(t, db.Handle().QueryRow(
		"SELECT COUNT(*) FROM embeddings WHERE id = ?", *items[0].EmbeddingID).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestAddItemRejectsDuplicateContent(t *testing.T) {
	_, _, store := newTestStores(t, &stubEncoder{})
	ctx := context.Background()

	_, err := store.AddItem(ctx, 1, EntityFact, "Prefers Dark Mode", Metadata{}, 1.0)
	require.NoError(t, err)

	_, err = store.AddItem(ctx, 1, EntityFact, "prefers dark mode", Metadata{}, 1.0)
	assert.ErrorIs(t, err, ErrDuplicate)

	// Same content under a different owner is not a duplicate.
	_, err = store.AddItem(ctx, 2, EntityFact, "prefers dark mode", Metadata{}, 1.0)
	assert.NoError(t, err)
}

func TestAddItemRejectsOverlappingGoalTitles(t *testing.T) {
	_, _, store := newTestStores(t, &stubEncoder{})
	ctx := context.Background()

	_, err := store.AddItem(ctx, 1, EntityGoal, "run a marathon", Metadata{}, 1.0)
	require.NoError(t, err)

	_, err = store.AddItem(ctx, 1, EntityGoal, "run a marathon this year", Metadata{}, 1.0)
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = store.AddItem(ctx, 1, EntityGoal, "marathon", Metadata{}, 1.0)
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = store.AddItem(ctx, 1, EntityGoal, "learn woodworking", Metadata{}, 1.0)
	assert.NoError(t, err)
}

func TestAddItemGoalDefaultsToActive(t *testing.T) {
	_, _, store := newTestStores(t, &stubEncoder{})
	ctx := context.Background()

	_, err := store.AddItem(ctx, 1, EntityGoal, "read twelve books", Metadata{}, 1.0)
	require.NoError(t, err)

	items, err := store.GetByType(ctx, 1, EntityGoal, 10, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "active", items[0].Metadata.Status)
}

func TestAddItemValidation(t *testing.T) {
	_, _, store := newTestStores(t, &stubEncoder{})
	ctx := context.Background()

	_, err := store.AddItem(ctx, 1, EntityFact, "   ", Metadata{}, 1.0)
	assert.Error(t, err)

	_, err = store.AddItem(ctx, 1, EntityType("reminder"), "content", Metadata{}, 1.0)
	assert.Error(t, err)
}

func TestAddItemSurvivesEncoderFailure(t *testing.T) {
	_, _, store := newTestStores(t, &stubEncoder{failAll: true})
	ctx := context.Background()

	id, err := store.AddItem(ctx, 1, EntityFact, "stored despite encoder outage", Metadata{}, 1.0)
	require.NoError(t, err)
	store.WaitEmbeds()

	items, err := store.GetByIDs(ctx, 1, []int64{id}, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Nil(t, items[0].EmbeddingID)
}

func TestUpsertSkipsDuplicates(t *testing.T) {
	_, _, store := newTestStores(t, &stubEncoder{})
	ctx := context.Background()

	added, err := store.Upsert(ctx, 1, []KnowledgeItem{
		{EntityType: EntityFact, Content: "lives in lisbon", Confidence: 1.0},
		{EntityType: EntityFact, Content: "lives in lisbon", Confidence: 1.0},
		{EntityType: EntityListItem, Content: "olive oil", Metadata: Metadata{Category: "groceries"}, Confidence: 1.0},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, added)
}

func TestUpdateSupersedesEmbedding(t *testing.T) {
	db, _, store := newTestStores(t, &stubEncoder{})
	ctx := context.Background()

	id, err := store.AddItem(ctx, 1, EntityFact, "works at initech", Metadata{}, 1.0)
	require.NoError(t, err)
	store.WaitEmbeds()

	items, err := store.GetByIDs(ctx, 1, []int64{id}, 0)
	require.NoError(t, err)
	require.NotNil(t, items[0].EmbeddingID)
	oldEmbeddingID := *items[0].EmbeddingID

	newContent := "works at initrode"
	ok, err := store.Update(ctx, 1, id, &newContent, nil)
	require.NoError(t, err)
	require.True(t, ok)
	store.WaitEmbeds()

	items, err = store.GetByIDs(ctx, 1, []int64{id}, 0)
	require.NoError(t, err)
	assert.Equal(t, "works at initrode", items[0].Content)
	require.NotNil(t, items[0].EmbeddingID)
	assert.NotEqual(t, oldEmbeddingID, *items[0].EmbeddingID)

	// The superseded embedding row stays behind until a sweep runs.
	var count int
	require.NoError(t, db.Handle().QueryRow(
		"SELECT COUNT(*) FROM embeddings WHERE id = ?", oldEmbeddingID).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestUpdateWrongOwner(t *testing.T) {
	_, _, store := newTestStores(t, &stubEncoder{})
	ctx := context.Background()

	id, err := store.AddItem(ctx, 1, EntityFact, "owner one fact", Metadata{}, 1.0)
	require.NoError(t, err)

	content := "hijacked"
	ok, err := store.Update(ctx, 2, id, &content, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteRemovesItemAndEmbeddings(t *testing.T) {
	db, _, store := newTestStores(t, &stubEncoder{})
	ctx := context.Background()

	id, err := store.AddItem(ctx, 1, EntityListItem, "buy batteries", Metadata{}, 1.0)
	require.NoError(t, err)
	store.WaitEmbeds()

	ok, err := store.Delete(ctx, 1, id)
	require.NoError(t, err)
	assert.True(t, ok)

	items, err := store.GetByType(ctx, 1, EntityListItem, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, items)

	var count int
	require.NoError(t, db.Handle().QueryRow(
		"SELECT COUNT(*) FROM embeddings WHERE source_type = ? AND source_id = ?",
		EntityListItem.SourceType(), id).Scan(&count))
	assert.Equal(t, 0, count)

	ok, err = store.Delete(ctx, 1, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetByTypeConfidenceFloor(t *testing.T) {
	_, _, store := newTestStores(t, &stubEncoder{})
	ctx := context.Background()

	_, err := store.AddItem(ctx, 1, EntityFact, "high confidence fact", Metadata{}, 0.9)
	require.NoError(t, err)
	_, err = store.AddItem(ctx, 1, EntityFact, "shaky guess", Metadata{}, 0.3)
	require.NoError(t, err)

	items, err := store.GetByType(ctx, 1, EntityFact, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "high confidence fact", items[0].Content)
}

func TestGetByIDsPreservesOrder(t *testing.T) {
	_, _, store := newTestStores(t, &stubEncoder{})
	ctx := context.Background()

	first, err := store.AddItem(ctx, 1, EntityFact, "first", Metadata{}, 1.0)
	require.NoError(t, err)
	second, err := store.AddItem(ctx, 1, EntityFact, "second", Metadata{}, 1.0)
	require.NoError(t, err)

	items, err := store.GetByIDs(ctx, 1, []int64{second, first, 9999}, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "second", items[0].Content)
	assert.Equal(t, "first", items[1].Content)
}

func TestUpdateLastReferenced(t *testing.T) {
	_, _, store := newTestStores(t, &stubEncoder{})
	ctx := context.Background()

	id, err := store.AddItem(ctx, 1, EntityFact, "gets stamped", Metadata{}, 1.0)
	require.NoError(t, err)

	require.NoError(t, store.UpdateLastReferenced(ctx, 1, []int64{id}))

	items, err := store.GetByIDs(ctx, 1, []int64{id}, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, items[0].LastReferencedAt)
}

func TestCountByType(t *testing.T) {
	_, _, store := newTestStores(t, &stubEncoder{})
	ctx := context.Background()

	for _, content := range []string{"a", "bb", "ccc"} {
		_, err := store.AddItem(ctx, 1, EntityFact, content, Metadata{}, 1.0)
		require.NoError(t, err)
	}
	_, err := store.AddItem(ctx, 1, EntityGoal, "ship the release", Metadata{}, 1.0)
	require.NoError(t, err)

	counts, err := store.CountByType(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[EntityFact])
	assert.Equal(t, 1, counts[EntityGoal])
}

func TestKnowledgeStoreWithoutEmbeddings(t *testing.T) {
	db := newTestDB(t)
	store := NewKnowledgeStore(db, nil, zerolog.Nop())

	id, err := store.AddItem(context.Background(), 1, EntityFact, "no encoder configured", Metadata{}, 1.0)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))
}

func TestGetByTypeCarriesEmbeddingReference(t *testing.T) {
	_, _, store := newTestStores(t, &stubEncoder{})
	ctx := context.Background()

	_, err := store.AddItem(ctx, 1, EntityFact, "prefers window seats", Metadata{}, 1.0)
	require.NoError(t, err)
	store.WaitEmbeds()

	items, err := store.GetByType(ctx, 1, EntityFact, 5, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.NotNil(t, items[0].EmbeddingID)
}
