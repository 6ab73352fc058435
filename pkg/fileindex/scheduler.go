package fileindex

import (
	"context"
	"fmt"
	"time"

	"github.com/nadia/mnemo/pkg/memory"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs the nightly index pass and the weekly orphan sweep on
// cron schedules.
type Scheduler struct {
	cron       *cron.Cron
	indexer    *Indexer
	embeddings *memory.EmbeddingStore
	logger     zerolog.Logger
}

// NewScheduler creates a scheduler. embeddings may be nil, which
// disables the sweep job.
func NewScheduler(indexer *Indexer, embeddings *memory.EmbeddingStore, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		indexer:    indexer,
		embeddings: embeddings,
		logger:     logger,
	}
}

// Start registers the jobs and starts the cron loop. Schedules use
// standard five-field cron syntax.
func (s *Scheduler) Start(indexSchedule, sweepSchedule string) error {
	if _, err := s.cron.AddFunc(indexSchedule, s.runIndex); err != nil {
		return fmt.Errorf("invalid index schedule %q: %w", indexSchedule, err)
	}

	if s.embeddings != nil && sweepSchedule != "" {
		if _, err := s.cron.AddFunc(sweepSchedule, s.runSweep); err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", sweepSchedule, err)
		}
	}

	s.cron.Start()
	s.logger.Info().
		Str("index_schedule", indexSchedule).
		Str("sweep_schedule", sweepSchedule).
		Msg("Index scheduler started")
	return nil
}

// Stop stops the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Index scheduler stopped")
}

// TriggerIndex runs an index pass immediately, outside the schedule.
func (s *Scheduler) TriggerIndex() {
	go s.runIndex()
}

func (s *Scheduler) runIndex() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if _, err := s.indexer.RunIncremental(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Scheduled index run failed")
	}
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if _, err := s.embeddings.SweepOrphans(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Scheduled orphan sweep failed")
	}
}
