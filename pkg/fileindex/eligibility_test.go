package fileindex

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statFile(t *testing.T, path string, content []byte) os.FileInfo {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info
}

func TestCheckEligible(t *testing.T) {
	dir := t.TempDir()
	exts := extensionSet(nil)

	t.Run("plain markdown passes", func(t *testing.T) {
		path := filepath.Join(dir, "notes.md")
		info := statFile(t, path, []byte("# Notes\nsome text\n"))
		assert.Equal(t, skipNone, checkEligible(path, info, exts))
	})

	t.Run("unknown extension", func(t *testing.T) {
		path := filepath.Join(dir, "image.png")
		info := statFile(t, path, []byte("not really an image"))
		assert.Equal(t, skipExtension, checkEligible(path, info, exts))
	})

	t.Run("dotenv under matching extension", func(t *testing.T) {
		// ".env" has no listed extension, so the allow-list rejects it
		// before the sensitive check even runs.
		path := filepath.Join(dir, ".env")
		info := statFile(t, path, []byte("API_KEY=xyz"))
		assert.Equal(t, skipExtension, checkEligible(path, info, exts))
	})

	t.Run("sensitive path segment", func(t *testing.T) {
		path := filepath.Join(dir, ".ssh", "known_hosts.txt")
		info := statFile(t, path, []byte("host data"))
		assert.Equal(t, skipSensitive, checkEligible(path, info, exts))
	})

	t.Run("secrets in filename", func(t *testing.T) {
		path := filepath.Join(dir, "secrets.md")
		info := statFile(t, path, []byte("# do not index"))
		assert.Equal(t, skipSensitive, checkEligible(path, info, exts))
	})

	t.Run("oversize file", func(t *testing.T) {
		path := filepath.Join(dir, "huge.txt")
		info := statFile(t, path, []byte(strings.Repeat("a", maxFileSize+1)))
		assert.Equal(t, skipOversize, checkEligible(path, info, exts))
	})

	t.Run("binary content", func(t *testing.T) {
		path := filepath.Join(dir, "blob.txt")
		info := statFile(t, path, []byte{'a', 'b', 0x00, 'c'})
		assert.Equal(t, skipBinary, checkEligible(path, info, exts))
	})
}

func TestExtensionSet(t *testing.T) {
	set := extensionSet([]string{".md", "txt", " .GO "})
	assert.True(t, set[".md"])
	assert.True(t, set[".txt"])
	assert.True(t, set[".go"])
	assert.False(t, set[".py"])

	defaults := extensionSet(nil)
	assert.True(t, defaults[".md"])
	assert.True(t, defaults[".py"])
}

func TestIsSensitivePath(t *testing.T) {
	assert.True(t, isSensitivePath("/home/n/.aws/config.txt"))
	assert.True(t, isSensitivePath("/srv/app/CREDENTIALS.md"))
	assert.False(t, isSensitivePath("/home/n/notes/journal.md"))
}
