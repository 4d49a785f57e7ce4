package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/elonfeng/openchain/pkg/source"
)

// Sweeper drops expired cache entries and reports how many went.
type Sweeper interface {
	Sweep() int
}

// Warmer fetches a relation so later requests hit the cache.
type Warmer interface {
	Related(ctx context.Context, id string, rel source.Relation) ([]string, error)
}

// warmRelations are the id-less lookups every request for a given pair
// shares, so keeping them warm saves the most upstream calls.
var warmRelations = []source.Relation{source.RelTrendingRepos, source.RelActiveUsers}

// Scheduler runs periodic cache maintenance.
type Scheduler struct {
	cache    Sweeper
	warmer   Warmer
	sweepInt time.Duration
	warmInt  time.Duration
	log      *slog.Logger
}

// New creates a new scheduler. A nil warmer disables warm-up.
func New(cache Sweeper, warmer Warmer, sweepInt, warmInt time.Duration, log *slog.Logger) *Scheduler {
	if sweepInt == 0 {
		sweepInt = 10 * time.Minute
	}
	if warmInt == 0 {
		warmInt = 30 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cache:    cache,
		warmer:   warmer,
		sweepInt: sweepInt,
		warmInt:  warmInt,
		log:      log,
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	sweepTicker := time.NewTicker(s.sweepInt)
	warmTicker := time.NewTicker(s.warmInt)
	defer sweepTicker.Stop()
	defer warmTicker.Stop()

	// Warm immediately on start.
	s.warm(ctx)

	s.log.Info("scheduler running", "sweep_every", s.sweepInt, "warm_every", s.warmInt)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return ctx.Err()
		case <-sweepTicker.C:
			s.sweep()
		case <-warmTicker.C:
			s.warm(ctx)
		}
	}
}

func (s *Scheduler) sweep() {
	if s.cache == nil {
		return
	}
	if n := s.cache.Sweep(); n > 0 {
		s.log.Debug("cache swept", "expired", n)
	}
}

func (s *Scheduler) warm(ctx context.Context) {
	if s.warmer == nil {
		return
	}
	for _, rel := range warmRelations {
		ids, err := s.warmer.Related(ctx, "", rel)
		if err != nil {
			s.log.Warn("warm-up failed", "relation", rel, "error", err)
			continue
		}
		s.log.Debug("warmed", "relation", rel, "ids", len(ids))
	}
}
