package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/nadia/mnemo/internal/observability"
	"github.com/rs/zerolog"
)

// KeywordSearch runs BM25-ranked FTS5 queries over knowledge items.
// It is the lexical fallback when vector search is unavailable, so
// every failure path returns an empty result rather than an error.
type KeywordSearch struct {
	db     *DB
	logger zerolog.Logger
}

// NewKeywordSearch creates a keyword searcher over db.
func NewKeywordSearch(db *DB, logger zerolog.Logger) *KeywordSearch {
	return &KeywordSearch{db: db, logger: logger}
}

// sanitizeQuery rewrites free text into a safe FTS5 expression: each
// token is double-quoted and the tokens are OR-joined. Tokens starting
// with "-" are dropped so they cannot act as NOT operators.
func sanitizeQuery(query string) string {
	var quoted []string
	for _, token := range strings.Fields(query) {
		if strings.HasPrefix(token, "-") {
			continue
		}
		token = strings.ReplaceAll(token, `"`, "")
		if token == "" {
			continue
		}
		quoted = append(quoted, `"`+token+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// SearchByType returns knowledge items of one entity type matching the
// query, best BM25 rank first. Goal items are restricted to active
// status. An unparseable query or a query error yields an empty slice.
func (s *KeywordSearch) SearchByType(ctx context.Context, ownerID int64, query string, entityType EntityType, limit int) []KnowledgeItem {
	start := time.Now()
	defer func() { observability.RecordMemorySearch("lexical", time.Since(start)) }()

	match := sanitizeQuery(query)
	if match == "" {
		return nil
	}
	if limit <= 0 {
		limit = 5
	}

	querySQL := `
		SELECT k.id, k.owner_id, k.entity_type, k.content, k.metadata, k.confidence,
		       k.embedding_id, COALESCE(k.last_referenced_at, ''), k.created_at, k.updated_at
		FROM knowledge_fts
		JOIN knowledge k ON k.id = knowledge_fts.rowid
		WHERE knowledge_fts MATCH ? AND k.owner_id = ? AND k.entity_type = ?`
	args := []interface{}{match, ownerID, string(entityType)}

	if entityType == EntityGoal {
		querySQL += " AND json_extract(k.metadata, '$.status') = 'active'"
	}
	querySQL += " ORDER BY bm25(knowledge_fts) LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Handle().QueryContext(ctx, querySQL, args...)
	if err != nil {
		s.logger.Debug().Err(err).Str("query", query).Msg("Keyword search failed")
		return nil
	}
	defer rows.Close()

	var items []KnowledgeItem
	for rows.Next() {
		item, err := scanKnowledgeItem(rows)
		if err != nil {
			s.logger.Debug().Err(err).Msg("Failed to scan keyword search row")
			return nil
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		s.logger.Debug().Err(err).Msg("Keyword search iteration failed")
		return nil
	}
	return items
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanKnowledgeItem scans the canonical knowledge column list.
func scanKnowledgeItem(row rowScanner) (KnowledgeItem, error) {
	var item KnowledgeItem
	var metadataJSON string
	var embeddingID sql.NullInt64
	if err := row.Scan(&item.ID, &item.OwnerID, &item.EntityType, &item.Content,
		&metadataJSON, &item.Confidence, &embeddingID, &item.LastReferencedAt,
		&item.CreatedAt, &item.UpdatedAt); err != nil {
		return KnowledgeItem{}, err
	}
	if embeddingID.Valid {
		item.EmbeddingID = &embeddingID.Int64
	}
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &item.Metadata); err != nil {
			return KnowledgeItem{}, err
		}
	}
	return item, nil
}
