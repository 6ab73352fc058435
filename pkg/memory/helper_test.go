package memory

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testDimension = 4

// stubEncoder returns canned vectors per text so tests can control
// distances exactly. Unknown texts hash to a stable unit vector.
type stubEncoder struct {
	vectors map[string][]float32
	failAll bool
}

func (s *stubEncoder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.failAll {
		return nil, context.DeadlineExceeded
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	var sum float64
	for _, r := range text {
		sum += float64(r)
	}
	angle := math.Mod(sum, 90) * math.Pi / 180
	return []float32{float32(math.Cos(angle)), float32(math.Sin(angle)), 0, 0}, nil
}

func (s *stubEncoder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEncoder) Dimension() int    { return testDimension }
func (s *stubEncoder) ModelName() string { return "stub" }

// unitVector builds [x, sqrt(1-x*x), 0, 0] so the cosine distance to
// [1, 0, 0, 0] is exactly 1-x.
func unitVector(x float64) []float32 {
	return []float32{float32(x), float32(math.Sqrt(1 - x*x)), 0, 0}
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Options{
		Path:      filepath.Join(t.TempDir(), "mnemo.db"),
		Dimension: testDimension,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestStores(t *testing.T, enc *stubEncoder) (*DB, *EmbeddingStore, *KnowledgeStore) {
	t.Helper()
	db := newTestDB(t)
	embeddings, err := NewEmbeddingStore(db, enc, zerolog.Nop())
	require.NoError(t, err)
	knowledge := NewKnowledgeStore(db, embeddings, zerolog.Nop())
	t.Cleanup(knowledge.WaitEmbeds)
	return db, embeddings, knowledge
}

// insertKnowledgeRow bypasses the store for tests that need full
// control over row state.
func insertKnowledgeRow(t *testing.T, db *DB, ownerID int64, entityType EntityType, content string) int64 {
	t.Helper()
	res, err := db.Handle().Exec(
		"INSERT INTO knowledge (owner_id, entity_type, content, metadata) VALUES (?, ?, ?, '{}')",
		ownerID, string(entityType), content,
	)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}
