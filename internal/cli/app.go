package cli

import (
	"fmt"
	"os"

	"github.com/nadia/mnemo/internal/config"
	"github.com/nadia/mnemo/internal/logger"
	"github.com/nadia/mnemo/pkg/encoder"
	"github.com/nadia/mnemo/pkg/fileindex"
	"github.com/nadia/mnemo/pkg/memory"
	"github.com/rs/zerolog"
)

// defaultOwnerID identifies the single local user. Knowledge rows are
// owner-scoped so a future multi-user deployment only needs to thread
// a real id through.
const defaultOwnerID int64 = 1

// app bundles the wired subsystems a command needs.
type app struct {
	cfg        *config.Config
	log        *logger.Logger
	db         *memory.DB
	encoder    encoder.Encoder
	embeddings *memory.EmbeddingStore
	knowledge  *memory.KnowledgeStore
	keywords   *memory.KeywordSearch
	assembler  *memory.Assembler
	chunks     *fileindex.ChunkStore
	indexer    *fileindex.Indexer
}

// openApp loads config, sets up logging and opens every store. The
// encoder is optional: when it cannot be built the app runs in
// lexical-only mode.
func openApp() (*app, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zl := log.GetZerolog()

	enc := buildEncoder(cfg, zl)
	dimension := 0
	if enc != nil {
		dimension = enc.Dimension()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := memory.Open(memory.Options{
		Path:      cfg.DatabasePath(),
		Dimension: dimension,
		Logger:    zl,
	})
	if err != nil {
		log.Close()
		return nil, err
	}

	a := &app{cfg: cfg, log: log, db: db, encoder: enc}

	if enc != nil {
		a.embeddings, err = memory.NewEmbeddingStore(db, enc, zl)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	a.knowledge = memory.NewKnowledgeStore(db, a.embeddings, zl)
	a.keywords = memory.NewKeywordSearch(db, zl)
	a.assembler = memory.NewAssembler(a.knowledge, a.embeddings, a.keywords, zl)
	a.chunks = fileindex.NewChunkStore(db, a.embeddings, zl)
	a.indexer = fileindex.NewIndexer(a.chunks, fileindex.Config{
		Roots:      cfg.Index.Roots,
		Extensions: cfg.Index.Extensions,
		Logger:     zl,
	})

	return a, nil
}

// buildEncoder constructs the configured encoder, or nil when the
// configuration cannot produce one.
func buildEncoder(cfg *config.Config, zl zerolog.Logger) encoder.Encoder {
	switch cfg.Embedding.Provider {
	case "openai":
		if cfg.Embedding.OpenAIAPIKey == "" {
			zl.Warn().Msg("OpenAI provider configured without API key, running without vectors")
			return nil
		}
		return encoder.NewOpenAI(cfg.Embedding.OpenAIAPIKey, cfg.Embedding.OpenAIModel)
	case "onnx", "":
		enc, err := encoder.NewLocal(encoder.LocalConfig{
			ModelPath:     cfg.Embedding.ModelPath,
			TokenizerPath: cfg.Embedding.TokenizerPath,
			Dimension:     cfg.Embedding.Dimension,
			Logger:        zl,
		})
		if err != nil {
			zl.Warn().Err(err).Msg("Local encoder unavailable, running without vectors")
			return nil
		}
		return enc
	default:
		zl.Warn().Str("provider", cfg.Embedding.Provider).Msg("Unknown embedding provider, running without vectors")
		return nil
	}
}

// Close flushes background embeds and releases everything.
func (a *app) Close() {
	if a.knowledge != nil {
		a.knowledge.WaitEmbeds()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.log != nil {
		a.log.Close()
	}
}
