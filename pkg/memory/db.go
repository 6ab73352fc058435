package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// DB wraps the sqlite handle shared by the knowledge, embedding and
// file-chunk stores. Vector availability is probed once at open time;
// if the vec0 virtual table cannot be created, the store runs in
// lexical-only mode for its whole lifetime.
type DB struct {
	sql          *sql.DB
	logger       zerolog.Logger
	dimension    int
	vecAvailable bool
}

// Options holds database configuration.
type Options struct {
	Path      string
	Dimension int // embedding width; 0 disables the vector table
	Logger    zerolog.Logger
}

// Open opens (or creates) the database and initializes the schema.
func Open(opts Options) (*DB, error) {
	if opts.Path == "" {
		return nil, errors.New("database path is required")
	}

	// Open database with FTS5 support
	sqlDB, err := sql.Open("sqlite3", opts.Path+"?_fts5=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	db := &DB{
		sql:       sqlDB,
		logger:    opts.Logger,
		dimension: opts.Dimension,
	}

	if err := db.initSchema(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// initSchema creates database tables
func (d *DB) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS knowledge (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id INTEGER NOT NULL,
			entity_type TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			confidence REAL NOT NULL DEFAULT 1.0,
			embedding_id INTEGER,
			last_referenced_at TEXT,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);
		CREATE INDEX IF NOT EXISTS idx_knowledge_owner_type ON knowledge(owner_id, entity_type);

		CREATE TABLE IF NOT EXISTS embeddings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id INTEGER NOT NULL,
			source_type TEXT NOT NULL,
			source_id INTEGER,
			content_text TEXT NOT NULL,
			model_name TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);
		CREATE INDEX IF NOT EXISTS idx_embeddings_owner_type ON embeddings(owner_id, source_type);

		CREATE TABLE IF NOT EXISTS file_chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			path TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content_text TEXT NOT NULL,
			embedding_id INTEGER,
			file_mtime REAL NOT NULL,
			indexed_at TEXT NOT NULL DEFAULT (datetime('now'))
		);
		CREATE UNIQUE INDEX IF NOT EXISTS uidx_file_chunks_path_chunk ON file_chunks(path, chunk_index);
		CREATE INDEX IF NOT EXISTS idx_file_chunks_path ON file_chunks(path);

		CREATE VIRTUAL TABLE IF NOT EXISTS knowledge_fts USING fts5(
			content,
			entity_type UNINDEXED,
			content=knowledge,
			content_rowid=id,
			tokenize='porter unicode61'
		);

		CREATE VIRTUAL TABLE IF NOT EXISTS file_chunks_fts USING fts5(
			content_text,
			content=file_chunks,
			content_rowid=id,
			tokenize='porter unicode61'
		);
	`

	if _, err := d.sql.Exec(schema); err != nil {
		return err
	}

	if err := d.createTriggers(); err != nil {
		return err
	}

	if err := d.applyMigrations(); err != nil {
		return err
	}

	// Probe the vector extension. A failure here (missing extension,
	// incompatible build) is not fatal: searches fall back to keyword
	// matching until the process restarts.
	if d.dimension > 0 {
		vectorSchema := fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS embeddings_vec USING vec0(
				embedding float[%d] distance_metric=cosine
			);
		`, d.dimension)

		if _, err := d.sql.Exec(vectorSchema); err != nil {
			d.logger.Warn().Err(err).Msg("Vector table unavailable, running in lexical-only mode")
			d.vecAvailable = false
		} else {
			d.vecAvailable = true
		}
	}

	return nil
}

// createTriggers keeps the external-content FTS tables in lockstep with
// their source tables.
func (d *DB) createTriggers() error {
	triggers := `
		CREATE TRIGGER IF NOT EXISTS knowledge_fts_ai AFTER INSERT ON knowledge BEGIN
			INSERT INTO knowledge_fts(rowid, content, entity_type)
			VALUES (new.id, new.content, new.entity_type);
		END;
		CREATE TRIGGER IF NOT EXISTS knowledge_fts_ad AFTER DELETE ON knowledge BEGIN
			INSERT INTO knowledge_fts(knowledge_fts, rowid, content, entity_type)
			VALUES ('delete', old.id, old.content, old.entity_type);
		END;
		CREATE TRIGGER IF NOT EXISTS knowledge_fts_au AFTER UPDATE OF content ON knowledge BEGIN
			INSERT INTO knowledge_fts(knowledge_fts, rowid, content, entity_type)
			VALUES ('delete', old.id, old.content, old.entity_type);
			INSERT INTO knowledge_fts(rowid, content, entity_type)
			VALUES (new.id, new.content, new.entity_type);
		END;

		CREATE TRIGGER IF NOT EXISTS file_chunks_fts_ai AFTER INSERT ON file_chunks BEGIN
			INSERT INTO file_chunks_fts(rowid, content_text)
			VALUES (new.id, new.content_text);
		END;
		CREATE TRIGGER IF NOT EXISTS file_chunks_fts_ad AFTER DELETE ON file_chunks BEGIN
			INSERT INTO file_chunks_fts(file_chunks_fts, rowid, content_text)
			VALUES ('delete', old.id, old.content_text);
		END;
		CREATE TRIGGER IF NOT EXISTS file_chunks_fts_au AFTER UPDATE OF content_text ON file_chunks BEGIN
			INSERT INTO file_chunks_fts(file_chunks_fts, rowid, content_text)
			VALUES ('delete', old.id, old.content_text);
			INSERT INTO file_chunks_fts(rowid, content_text)
			VALUES (new.id, new.content_text);
		END;
	`
	_, err := d.sql.Exec(triggers)
	return err
}

// applyMigrations adds columns introduced after the initial schema.
// Duplicate-column errors mean the migration already ran.
func (d *DB) applyMigrations() error {
	migrations := []string{
		"ALTER TABLE knowledge ADD COLUMN last_referenced_at TEXT",
		"ALTER TABLE knowledge ADD COLUMN confidence REAL NOT NULL DEFAULT 1.0",
	}
	for _, m := range migrations {
		if _, err := d.sql.Exec(m); err != nil {
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return err
		}
	}
	return nil
}

// VecAvailable reports whether the vec0 virtual table was created
// successfully at open time.
func (d *DB) VecAvailable() bool {
	return d.vecAvailable
}

// Dimension returns the embedding width the vector table was created with.
func (d *DB) Dimension() int {
	return d.dimension
}

// Handle exposes the underlying sql.DB for sibling stores.
func (d *DB) Handle() *sql.DB {
	return d.sql
}

// Ping verifies the database connection.
func (d *DB) Ping(ctx context.Context) error {
	return d.sql.PingContext(ctx)
}

// Close closes the database.
func (d *DB) Close() error {
	return d.sql.Close()
}
