package fileindex

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	// maxFileSize is the ceiling above which files are skipped.
	maxFileSize = 500 * 1024

	// binaryProbeBytes is how much of a file is sniffed for NUL bytes.
	binaryProbeBytes = 8 * 1024
)

// DefaultExtensions lists the file types indexed when the config does
// not override them.
var DefaultExtensions = []string{
	".md", ".txt", ".rst", ".org",
	".py", ".go", ".js", ".ts", ".rb", ".rs", ".java", ".c", ".h", ".sh",
	".json", ".yaml", ".yml", ".toml", ".ini", ".cfg",
	".html", ".css", ".sql", ".csv",
}

// skipDirs are pruned from the walk entirely.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	".tox":         true,
	"dist":         true,
	"build":        true,
	"target":       true,
	".cache":       true,
	".idea":        true,
	".vscode":      true,
}

// shouldSkipDir reports whether a directory is pruned from the walk.
// Hidden directories are pruned wholesale along with the named caches.
func shouldSkipDir(name string) bool {
	return skipDirs[name] || strings.HasPrefix(name, ".")
}

// sensitivePatterns exclude credential material by path substring,
// matched case-insensitively against the full path.
var sensitivePatterns = []string{
	".env",
	".ssh",
	".aws",
	".gnupg",
	"credential",
	"secret",
	"id_rsa",
	"id_ed25519",
	".netrc",
	"token",
	".pem",
	".key",
}

// skipReason says why a file was excluded from indexing.
type skipReason string

const (
	skipNone       skipReason = ""
	skipExtension  skipReason = "extension"
	skipSensitive  skipReason = "sensitive"
	skipOversize   skipReason = "oversize"
	skipBinary     skipReason = "binary"
	skipUnreadable skipReason = "unreadable"
)

// checkEligible applies the exclusion rules in order: extension
// allow-list, sensitive patterns, size ceiling, binary sniff. The
// sensitive check runs before size so that a credential file is never
// opened at all.
func checkEligible(path string, info fs.FileInfo, extensions map[string]bool) skipReason {
	ext := strings.ToLower(filepath.Ext(path))
	if !extensions[ext] {
		return skipExtension
	}

	if isSensitivePath(path) {
		return skipSensitive
	}

	if info.Size() > maxFileSize {
		return skipOversize
	}

	binary, err := looksBinary(path)
	if err != nil {
		return skipUnreadable
	}
	if binary {
		return skipBinary
	}

	return skipNone
}

func isSensitivePath(path string) bool {
	lowered := strings.ToLower(path)
	for _, pattern := range sensitivePatterns {
		if strings.Contains(lowered, pattern) {
			return true
		}
	}
	return false
}

// looksBinary reports whether the file's first bytes contain a NUL.
func looksBinary(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, binaryProbeBytes)
	n, err := f.Read(buf)
	if n == 0 && err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return bytes.IndexByte(buf[:n], 0) >= 0, nil
}

// extensionSet normalizes a configured extension list into a lookup set.
func extensionSet(extensions []string) map[string]bool {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	set := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = true
	}
	return set
}
