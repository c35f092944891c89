// Package sweep deletes temporary knowledge once it has expired.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/workbench/internal/retrieval"
)

// DefaultInterval is how often Run sweeps when no interval is given.
const DefaultInterval = time.Minute

// finishedJobRetention is how long completed and failed jobs are kept.
const finishedJobRetention = 7 * 24 * time.Hour

// Store is the subset of retrieval.VectorStore the sweeper needs.
type Store interface {
	ExpiredSources(ctx context.Context, now time.Time) ([]retrieval.Source, error)
	DeleteSource(ctx context.Context, sourceID string) (int, error)
}

// JobPurger drops old finished jobs. Optional.
type JobPurger interface {
	PurgeFinishedJobs(cutoff time.Time) (int, error)
}

// Report summarises one sweep.
type Report struct {
	// Expired is the number of expired sources found.
	Expired int `json:"expired"`
	// Deleted is the number of chunk records removed.
	Deleted int `json:"deleted"`
	// Failed is the number of sources whose deletion failed.
	Failed int      `json:"failed"`
	Errors []string `json:"errors,omitempty"`
	// PurgedJobs is the number of finished jobs removed.
	PurgedJobs int       `json:"purged_jobs"`
	RanAt      time.Time `json:"ran_at"`
}

// Sweeper removes expired temporary sources. It holds no locks and may run
// concurrently with ingestion, retrieval and other sweeps.
type Sweeper struct {
	store    Store
	jobs     JobPurger
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a Sweeper. jobs may be nil.
func New(store Store, jobs JobPurger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		store:    store,
		jobs:     jobs,
		interval: interval,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// WithClock replaces the sweeper's time source.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// RunOnce deletes every temporary source whose expiry is at or before now.
// A failed deletion is logged and counted and the sweep moves on; only a
// failure to list expired sources is returned.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	now := s.now()
	rep := Report{RanAt: now.UTC()}

	expired, err := s.store.ExpiredSources(ctx, now)
	if err != nil {
		return rep, fmt.Errorf("listing expired sources: %w", err)
	}
	rep.Expired = len(expired)

	for _, src := range expired {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		n, err := s.store.DeleteSource(ctx, src.SourceID)
		if err != nil {
			rep.Failed++
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", src.SourceID, err))
			s.logger.Error("failed to delete expired source", "source_id", src.SourceID, "origin", src.Origin, "error", err)
			continue
		}
		rep.Deleted += n
		s.logger.Info("deleted expired source", "source_id", src.SourceID, "origin", src.Origin, "chunks", n)
	}

	if s.jobs != nil {
		purged, err := s.jobs.PurgeFinishedJobs(now.Add(-finishedJobRetention))
		if err != nil {
			s.logger.Warn("failed to purge finished jobs", "error", err)
		}
		rep.PurgedJobs = purged
	}

	if rep.Expired > 0 || rep.PurgedJobs > 0 {
		s.logger.Info("sweep finished", "expired", rep.Expired, "deleted", rep.Deleted, "failed", rep.Failed, "purged_jobs", rep.PurgedJobs)
	}
	return rep, nil
}

// Run sweeps immediately and then on every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
