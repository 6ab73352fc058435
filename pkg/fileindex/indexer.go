package fileindex

import (
	"context"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nadia/mnemo/internal/observability"
	"github.com/nadia/mnemo/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// mtimeTolerance absorbs filesystem timestamp granularity; a file is
// considered unchanged when its mtime moved by less than this.
const mtimeTolerance = 1.0 // seconds

func mtimeUnchanged(current, previous float64) bool {
	return math.Abs(current-previous) < mtimeTolerance
}

// RunStats reports what an index run did.
type RunStats struct {
	RunID         string        `json:"run_id"`
	FilesScanned  int           `json:"files_scanned"`
	FilesIndexed  int           `json:"files_indexed"`
	FilesSkipped  int           `json:"files_skipped"`
	FilesRemoved  int           `json:"files_removed"`
	ChunksWritten int           `json:"chunks_written"`
	Errors        int           `json:"errors"`
	Duration      time.Duration `json:"duration"`
}

// Config holds indexer configuration.
type Config struct {
	Roots      []string
	Extensions []string
	Logger     zerolog.Logger
}

// Indexer walks configured roots and keeps the chunk store current.
type Indexer struct {
	store      *ChunkStore
	roots      []string
	extensions map[string]bool
	logger     zerolog.Logger
}

// NewIndexer creates an indexer over store.
func NewIndexer(store *ChunkStore, cfg Config) *Indexer {
	return &Indexer{
		store:      store,
		roots:      cfg.Roots,
		extensions: extensionSet(cfg.Extensions),
		logger:     cfg.Logger,
	}
}

// RunIncremental scans all roots and reindexes what changed: new and
// modified files are re-chunked, vanished files are removed. Per-file
// failures are counted and skipped. Cancelling the context stops new
// files from being scheduled; the file being processed is finished.
func (ix *Indexer) RunIncremental(ctx context.Context) (RunStats, error) {
	runID, err := gonanoid.New()
	if err != nil {
		return RunStats{}, err
	}

	ctx, span := tracing.StartSpan(ctx, "mnemo.fileindex", "fileindex.run",
		attribute.String("run_id", runID))
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, ix.logger).With().Str("run_id", runID).Logger()
	start := time.Now()
	stats := RunStats{RunID: runID}

	logger.Info().Strs("roots", ix.roots).Msg("Starting index run")

	seen := make(map[string]float64)
	for _, root := range ix.roots {
		if ctx.Err() != nil {
			break
		}
		if err := ix.walkRoot(ctx, root, seen, &stats, logger); err != nil {
			logger.Warn().Err(err).Str("root", root).Msg("Failed to walk root")
			stats.Errors++
			observability.RecordIndexError()
		}
	}

	indexed, err := ix.store.AllIndexedPaths(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return stats, err
	}

	for path, mtime := range seen {
		if ctx.Err() != nil {
			break
		}
		previous, known := indexed[path]
		if known && mtimeUnchanged(mtime, previous) {
			stats.FilesSkipped++
			observability.RecordIndexFile("unchanged")
			continue
		}
		if err := ix.indexFile(ctx, path, mtime, &stats); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Failed to index file")
			stats.Errors++
			observability.RecordIndexError()
			observability.RecordIndexFile("failed")
			continue
		}
		stats.FilesIndexed++
		observability.RecordIndexFile("indexed")
	}

	// Drop files that disappeared from disk. Skipped when the run was
	// cancelled, a partial scan must not be mistaken for deletions.
	if ctx.Err() == nil {
		for path := range indexed {
			if _, stillThere := seen[path]; stillThere {
				continue
			}
			if err := ix.store.DeleteChunksForFile(ctx, path); err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("Failed to remove vanished file")
				stats.Errors++
				observability.RecordIndexError()
				continue
			}
			stats.FilesRemoved++
			observability.RecordIndexFile("removed")
		}
	}

	stats.Duration = time.Since(start)
	observability.RecordIndexRun(stats.Duration)
	if _, err := ix.store.Stats(ctx); err != nil {
		logger.Debug().Err(err).Msg("Failed to refresh index stats")
	}

	logger.Info().
		Int("scanned", stats.FilesScanned).
		Int("indexed", stats.FilesIndexed).
		Int("skipped", stats.FilesSkipped).
		Int("removed", stats.FilesRemoved).
		Int("chunks", stats.ChunksWritten).
		Int("errors", stats.Errors).
		Dur("duration", stats.Duration).
		Msg("Index run completed")

	return stats, ctx.Err()
}

// IndexStatus reports the indexer configuration and what it holds.
type IndexStatus struct {
	Roots      []string `json:"roots"`
	Extensions []string `json:"extensions"`
	Files      int      `json:"files"`
	Chunks     int      `json:"chunks"`
}

// Status reports configured roots and extensions together with the
// current file and chunk counts.
func (ix *Indexer) Status(ctx context.Context) (IndexStatus, error) {
	st, err := ix.store.Stats(ctx)
	if err != nil {
		return IndexStatus{}, err
	}
	extensions := make([]string, 0, len(ix.extensions))
	for ext := range ix.extensions {
		extensions = append(extensions, ext)
	}
	sort.Strings(extensions)
	return IndexStatus{
		Roots:      ix.roots,
		Extensions: extensions,
		Files:      st.Files,
		Chunks:     st.Chunks,
	}, nil
}

// walkRoot collects eligible files under one root into seen.
func (ix *Indexer) walkRoot(ctx context.Context, root string, seen map[string]float64, stats *RunStats, logger zerolog.Logger) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			logger.Debug().Err(err).Str("path", path).Msg("Walk error")
			stats.Errors++
			observability.RecordIndexError()
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return filepath.SkipAll
		}
		if d.IsDir() {
			// The root itself may be a hidden directory the user
			// configured on purpose; only subdirectories are pruned.
			if path != root && shouldSkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			stats.Errors++
			observability.RecordIndexError()
			return nil
		}

		stats.FilesScanned++
		if reason := checkEligible(path, info, ix.extensions); reason != skipNone {
			if reason == skipUnreadable {
				stats.Errors++
				observability.RecordIndexError()
			}
			observability.RecordIndexFile(string(reason))
			return nil
		}

		seen[path] = float64(info.ModTime().UnixNano()) / float64(time.Second)
		return nil
	})
}

// indexFile re-chunks one file and prunes surplus trailing chunks.
func (ix *Indexer) indexFile(ctx context.Context, path string, mtime float64, stats *RunStats) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	chunks := ChunkText(string(data))
	for i, chunk := range chunks {
		if err := ix.store.SaveChunk(ctx, path, i, chunk, mtime); err != nil {
			return err
		}
		stats.ChunksWritten++
	}

	// Trailing chunks are pruned only after all current chunks are
	// written, so a failed run never leaves a truncated file behind.
	return ix.store.DeleteChunksAboveIndex(ctx, path, len(chunks)-1)
}
