package retention

import (
	"context"
	"log/slog"
	"time"

	"unitmon/internal/db"
)

// Service is the janitor: it force-releases locks left behind by crashed
// holders and drops cache entries for units no longer in the watch list.
// Cached blocks for watched units are never aged out here; they only
// reset when the unit restarts.
type Service struct {
	repo  *db.Repository
	units []string
	stale time.Duration
	log   *slog.Logger
}

func NewService(repo *db.Repository, units []string, stale time.Duration, logger *slog.Logger) *Service {
	return &Service{repo: repo, units: units, stale: stale, log: logger}
}

func (s *Service) Run(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.stale)
	locks, err := s.repo.ReleaseStaleLocks(ctx, cutoff)
	if err != nil {
		s.log.Error("release stale locks failed", "err", err)
	} else if locks > 0 {
		s.log.Info("released stale locks", "count", locks)
	}

	entries, err := s.repo.DeleteEntriesNotIn(ctx, s.units)
	if err != nil {
		s.log.Error("prune unwatched cache entries failed", "err", err)
	} else if entries > 0 {
		s.log.Info("pruned unwatched cache entries", "count", entries)
	}
}
