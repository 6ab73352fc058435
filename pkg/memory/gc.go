package memory

import (
	"context"

	"github.com/nadia/mnemo/internal/observability"
)

// SweepOrphans deletes embedding rows whose source row no longer
// points at them. Content updates supersede embeddings rather than
// rewriting them in place, so orphans accumulate between sweeps.
// Returns the number of embedding rows removed.
func (s *EmbeddingStore) SweepOrphans(ctx context.Context) (int64, error) {
	var removed int64

	res, err := s.db.Handle().ExecContext(ctx, `
		DELETE FROM embeddings
		WHERE source_type LIKE 'knowledge_%'
		  AND id NOT IN (
			SELECT embedding_id FROM knowledge WHERE embedding_id IS NOT NULL
		  )`)
	if err != nil {
		return 0, err
	}
	if n, err := res.RowsAffected(); err == nil {
		removed += n
	}

	res, err = s.db.Handle().ExecContext(ctx, `
		DELETE FROM embeddings
		WHERE source_type = ?
		  AND id NOT IN (
			SELECT embedding_id FROM file_chunks WHERE embedding_id IS NOT NULL
		  )`, SourceTypeFileChunk)
	if err != nil {
		return removed, err
	}
	if n, err := res.RowsAffected(); err == nil {
		removed += n
	}

	if s.db.VecAvailable() {
		if _, err := s.db.Handle().ExecContext(ctx,
			"DELETE FROM embeddings_vec WHERE rowid NOT IN (SELECT id FROM embeddings)"); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to sweep orphaned vectors")
		}
	}

	observability.RecordSweepRemoved(int(removed))
	s.logger.Info().Int64("removed", removed).Msg("Orphan embedding sweep completed")
	return removed, nil
}
