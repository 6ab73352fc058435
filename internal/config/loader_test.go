package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_MissingFileReturnsDefaults(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "nope.json"))

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "onnx", cfg.Embedding.Provider)
}

func TestLoader_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemo.json")
	content := `{
		"data_dir": "/tmp/mnemo-test",
		"embedding": {"provider": "onnx", "dimension": 128},
		"index": {"enabled": true, "roots": ["/tmp/notes"], "extensions": [".md"]}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/mnemo-test", cfg.DataDir)
	assert.Equal(t, 128, cfg.Embedding.Dimension)
	assert.Equal(t, []string{"/tmp/notes"}, cfg.Index.Roots)
	// Unset fields keep defaults
	assert.Equal(t, "0 3 * * *", cfg.Index.Schedule)
}

func TestLoader_RejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemo.json")
	content := `{"data_dir": "/tmp/x", "embedding": {"provider": "quantum"}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := NewLoader(path).Load()
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "mnemo.json")

	cfg := DefaultConfig()
	cfg.DataDir = "/tmp/mnemo-save"
	require.NoError(t, Save(cfg, path))

	loaded, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/mnemo-save", loaded.DataDir)
}
