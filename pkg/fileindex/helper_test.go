package fileindex

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/nadia/mnemo/pkg/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testDimension = 4

// fixedEncoder hashes text onto the unit circle so distances are
// deterministic across runs.
type fixedEncoder struct{}

func (fixedEncoder) Embed(ctx context.Context, text string) ([]float32, error) {
	var sum float64
	for _, r := range text {
		sum += float64(r)
	}
	angle := math.Mod(sum, 90) * math.Pi / 180
	return []float32{float32(math.Cos(angle)), float32(math.Sin(angle)), 0, 0}, nil
}

func (e fixedEncoder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (fixedEncoder) Dimension() int    { return testDimension }
func (fixedEncoder) ModelName() string { return "fixed" }

func newTestStore(t *testing.T) (*memory.DB, *ChunkStore) {
	t.Helper()
	db, err := memory.Open(memory.Options{
		Path:      filepath.Join(t.TempDir(), "mnemo.db"),
		Dimension: testDimension,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	embeddings, err := memory.NewEmbeddingStore(db, fixedEncoder{}, zerolog.Nop())
	require.NoError(t, err)

	return db, NewChunkStore(db, embeddings, zerolog.Nop())
}

func chunkCount(t *testing.T, db *memory.DB, path string) int {
	t.Helper()
	var n int
	require.NoError(t, db.Handle().QueryRow(
		"SELECT COUNT(*) FROM file_chunks WHERE path = ?", path).Scan(&n))
	return n
}
