package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nadia/mnemo/internal/observability"
	"github.com/nadia/mnemo/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// ErrDuplicate is returned when an item with identical content (or,
// for goals, a title overlapping an existing goal) already exists for
// the owner.
var ErrDuplicate = errors.New("duplicate knowledge item")

// KnowledgeStore manages fact, goal and list-item rows. Writes commit
// to sqlite first; embedding happens afterwards as a best-effort
// background task so that a slow or failing encoder never blocks or
// fails a write.
type KnowledgeStore struct {
	db         *DB
	embeddings *EmbeddingStore
	logger     zerolog.Logger
	embedWG    sync.WaitGroup
}

// NewKnowledgeStore creates a knowledge store. embeddings may be nil,
// in which case items are stored without vectors.
func NewKnowledgeStore(db *DB, embeddings *EmbeddingStore, logger zerolog.Logger) *KnowledgeStore {
	return &KnowledgeStore{db: db, embeddings: embeddings, logger: logger}
}

// AddItem inserts one knowledge item and schedules its embedding.
// Returns ErrDuplicate when the owner already has an identical item.
func (s *KnowledgeStore) AddItem(ctx context.Context, ownerID int64, entityType EntityType, content string, metadata Metadata, confidence float64) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "mnemo.memory", "knowledge.add",
		attribute.String("entity_type", string(entityType)))
	defer span.End()

	start := time.Now()
	defer func() { observability.RecordMemoryWrite(time.Since(start)) }()

	content = strings.TrimSpace(content)
	if content == "" {
		return 0, errors.New("content is required")
	}
	if !entityType.Valid() {
		return 0, fmt.Errorf("unknown entity type %q", entityType)
	}
	if confidence <= 0 {
		confidence = 1.0
	}

	// Goals default to active so status filters see them.
	if entityType == EntityGoal && metadata.Status == "" {
		metadata.Status = "active"
	}

	dup, err := s.isDuplicate(ctx, ownerID, entityType, content)
	if err != nil {
		return 0, err
	}
	if dup {
		return 0, ErrDuplicate
	}

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	result, err := s.db.Handle().ExecContext(ctx,
		`INSERT INTO knowledge (owner_id, entity_type, content, metadata, confidence)
		 VALUES (?, ?, ?, ?, ?)`,
		ownerID, string(entityType), content, string(metadataJSON), confidence,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert knowledge item: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	s.scheduleEmbed(ownerID, entityType, id, content)

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().
		Int64("id", id).
		Str("entity_type", string(entityType)).
		Msg("Knowledge item added")

	return id, nil
}

// Upsert inserts a batch of items, silently skipping duplicates. It is
// the bulk path used by the extractor.
func (s *KnowledgeStore) Upsert(ctx context.Context, ownerID int64, items []KnowledgeItem) (int, error) {
	added := 0
	for _, item := range items {
		_, err := s.AddItem(ctx, ownerID, item.EntityType, item.Content, item.Metadata, item.Confidence)
		if errors.Is(err, ErrDuplicate) {
			continue
		}
		if err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// isDuplicate checks for case-insensitive content matches. Goals also
// count as duplicates when one title is a substring of the other, so
// restating a goal with different wording does not create a second row.
func (s *KnowledgeStore) isDuplicate(ctx context.Context, ownerID int64, entityType EntityType, content string) (bool, error) {
	lowered := strings.ToLower(content)

	var count int
	err := s.db.Handle().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM knowledge WHERE owner_id = ? AND entity_type = ? AND LOWER(content) = ?",
		ownerID, string(entityType), lowered,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return true, nil
	}

	if entityType != EntityGoal {
		return false, nil
	}

	rows, err := s.db.Handle().QueryContext(ctx,
		"SELECT LOWER(content) FROM knowledge WHERE owner_id = ? AND entity_type = ?",
		ownerID, string(EntityGoal),
	)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var existing string
		if err := rows.Scan(&existing); err != nil {
			return false, err
		}
		if strings.Contains(existing, lowered) || strings.Contains(lowered, existing) {
			return true, nil
		}
	}
	return false, rows.Err()
}

// scheduleEmbed embeds content in the background and links the vector
// back to the item. Failures are logged and swallowed, the item stays
// reachable through keyword search.
func (s *KnowledgeStore) scheduleEmbed(ownerID int64, entityType EntityType, id int64, content string) {
	if s.embeddings == nil {
		return
	}
	s.embedWG.Add(1)
	go func() {
		defer s.embedWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		embeddingID, err := s.embeddings.UpsertEmbedding(ctx, ownerID, entityType.SourceType(), id, content)
		if err != nil {
			s.logger.Warn().Err(err).Int64("id", id).Msg("Failed to embed knowledge item")
			return
		}
		if _, err := s.db.Handle().ExecContext(ctx,
			"UPDATE knowledge SET embedding_id = ? WHERE id = ?", embeddingID, id); err != nil {
			s.logger.Warn().Err(err).Int64("id", id).Msg("Failed to link embedding to knowledge item")
		}
	}()
}

// WaitEmbeds blocks until all scheduled background embeds finish.
// Close calls it; tests use it to make embedding deterministic.
func (s *KnowledgeStore) WaitEmbeds() {
	s.embedWG.Wait()
}

// Update modifies content and/or metadata of an item the owner holds.
// A content change supersedes the old embedding with a fresh one.
// Returns false when the item does not exist or belongs to another
// owner.
func (s *KnowledgeStore) Update(ctx context.Context, ownerID, id int64, content *string, metadata *Metadata) (bool, error) {
	if content == nil && metadata == nil {
		return false, errors.New("nothing to update")
	}

	var entityType EntityType
	err := s.db.Handle().QueryRowContext(ctx,
		"SELECT entity_type FROM knowledge WHERE id = ? AND owner_id = ?", id, ownerID,
	).Scan(&entityType)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	sets := []string{"updated_at = datetime('now')"}
	args := []interface{}{}
	if content != nil {
		trimmed := strings.TrimSpace(*content)
		if trimmed == "" {
			return false, errors.New("content is required")
		}
		sets = append(sets, "content = ?")
		args = append(args, trimmed)
	}
	if metadata != nil {
		metadataJSON, err := json.Marshal(*metadata)
		if err != nil {
			return false, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		sets = append(sets, "metadata = ?")
		args = append(args, string(metadataJSON))
	}
	args = append(args, id, ownerID)

	querySQL := "UPDATE knowledge SET " + strings.Join(sets, ", ") + " WHERE id = ? AND owner_id = ?"
	if _, err := s.db.Handle().ExecContext(ctx, querySQL, args...); err != nil {
		return false, fmt.Errorf("failed to update knowledge item: %w", err)
	}

	if content != nil {
		s.scheduleEmbed(ownerID, entityType, id, strings.TrimSpace(*content))
	}
	return true, nil
}

// Delete removes an item and its embeddings. Returns false when the
// item does not exist or belongs to another owner.
func (s *KnowledgeStore) Delete(ctx context.Context, ownerID, id int64) (bool, error) {
	var entityType EntityType
	err := s.db.Handle().QueryRowContext(ctx,
		"SELECT entity_type FROM knowledge WHERE id = ? AND owner_id = ?", id, ownerID,
	).Scan(&entityType)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if s.embeddings != nil {
		if err := s.embeddings.DeleteForSource(ctx, entityType.SourceType(), id); err != nil {
			s.logger.Warn().Err(err).Int64("id", id).Msg("Failed to delete embeddings for item")
		}
	}

	_, err = s.db.Handle().ExecContext(ctx,
		"DELETE FROM knowledge WHERE id = ? AND owner_id = ?", id, ownerID)
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetByType lists an owner's items of one entity type at or above the
// confidence floor, most recently updated first.
func (s *KnowledgeStore) GetByType(ctx context.Context, ownerID int64, entityType EntityType, limit int, minConfidence float64) ([]KnowledgeItem, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Handle().QueryContext(ctx,
		`SELECT id, owner_id, entity_type, content, metadata, confidence,
		        embedding_id, COALESCE(last_referenced_at, ''), created_at, updated_at
		 FROM knowledge
		 WHERE owner_id = ? AND entity_type = ? AND confidence >= ?
		 ORDER BY updated_at DESC
		 LIMIT ?`,
		ownerID, string(entityType), minConfidence, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

// GetByIDs resolves items by id for one owner, preserving the order of
// ids. Items below the confidence floor are dropped.
func (s *KnowledgeStore) GetByIDs(ctx context.Context, ownerID int64, ids []int64, minConfidence float64) ([]KnowledgeItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, 0, len(ids)+2)
	args = append(args, ownerID)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, minConfidence)

	rows, err := s.db.Handle().QueryContext(ctx,
		`SELECT id, owner_id, entity_type, content, metadata, confidence,
		        embedding_id, COALESCE(last_referenced_at, ''), created_at, updated_at
		 FROM knowledge
		 WHERE owner_id = ? AND id IN (`+placeholders+`) AND confidence >= ?`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := collectItems(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]KnowledgeItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	ordered := make([]KnowledgeItem, 0, len(items))
	for _, id := range ids {
		if item, ok := byID[id]; ok {
			ordered = append(ordered, item)
		}
	}
	return ordered, nil
}

// UpdateLastReferenced stamps items as just used so recency boosting
// favors them in later searches.
func (s *KnowledgeStore) UpdateLastReferenced(ctx context.Context, ownerID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, ownerID)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.Handle().ExecContext(ctx,
		`UPDATE knowledge SET last_referenced_at = datetime('now')
		 WHERE owner_id = ? AND id IN (`+placeholders+`)`,
		args...,
	)
	return err
}

// CountByType reports item counts per entity type for one owner and
// refreshes the corresponding gauge.
func (s *KnowledgeStore) CountByType(ctx context.Context, ownerID int64) (map[EntityType]int, error) {
	rows, err := s.db.Handle().QueryContext(ctx,
		"SELECT entity_type, COUNT(*) FROM knowledge WHERE owner_id = ? GROUP BY entity_type",
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[EntityType]int)
	for rows.Next() {
		var et string
		var n int
		if err := rows.Scan(&et, &n); err != nil {
			return nil, err
		}
		counts[EntityType(et)] = n
		observability.SetKnowledgeItems(et, n)
	}
	return counts, rows.Err()
}

func collectItems(rows *sql.Rows) ([]KnowledgeItem, error) {
	var items []KnowledgeItem
	for rows.Next() {
		item, err := scanKnowledgeItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
