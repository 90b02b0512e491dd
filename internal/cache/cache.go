package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"unitmon/internal/config"
	"unitmon/internal/db"
	"unitmon/internal/journal"
	"unitmon/internal/logs"
	"unitmon/internal/metrics"
	"unitmon/internal/systemd"
)

// ErrBusy reports that the per-service lock could not be acquired within
// the wait bound. The caller may retry; no cache data was touched.
var ErrBusy = errors.New("error cache busy")

// Cache maintains the per-service set of error blocks seen since the
// unit's current activation. Entries live in sqlite so they survive
// restarts and are shared safely between concurrent requests and between
// node processes pointed at the same database file.
type Cache struct {
	repo    *db.Repository
	units   systemd.StatusReader
	journal journal.Reader
	log     *slog.Logger

	lockWait  time.Duration
	lockStale time.Duration
	lockPoll  time.Duration
	holder    string
	now       func() time.Time
}

func New(repo *db.Repository, units systemd.StatusReader, jr journal.Reader, logger *slog.Logger, cfg config.CacheConfig) *Cache {
	hostname, _ := os.Hostname()
	return &Cache{
		repo:      repo,
		units:     units,
		journal:   jr,
		log:       logger,
		lockWait:  cfg.LockWait.Std(),
		lockStale: cfg.LockStale.Std(),
		lockPoll:  cfg.LockPoll.Std(),
		holder:    fmt.Sprintf("%s/%d", hostname, os.Getpid()),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ErrorsSince returns every distinct error block logged by the unit since
// its current activation began, in first-seen order. Repeated calls with
// no new journal activity are no-ops beyond the lock round-trip.
func (c *Cache) ErrorsSince(ctx context.Context, service string) ([]string, error) {
	st, err := c.units.UnitStatus(ctx, service)
	if err != nil {
		return nil, err
	}
	if st.ActiveEnter == nil {
		// Never activated: nothing to count, and no window to scope a fetch to.
		return nil, nil
	}
	start := *st.ActiveEnter

	if err := c.acquire(ctx, service); err != nil {
		return nil, err
	}
	defer func() {
		if err := c.repo.ReleaseLock(context.WithoutCancel(ctx), service, c.holder); err != nil {
			c.log.Error("release cache lock", "service", service, "err", err)
		}
	}()

	watermark, cached, err := c.repo.Watermark(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("load cache entry: %w", err)
	}
	if cached && watermark.Before(start) {
		// The unit restarted since the last sync; the cached blocks belong
		// to a previous activation.
		if err := c.repo.ResetEntry(ctx, service); err != nil {
			return nil, fmt.Errorf("reset cache entry: %w", err)
		}
		cached = false
	}

	since := start
	if cached && watermark.After(start) {
		since = watermark
	}
	now := c.now()

	raw, err := c.journal.Since(ctx, service, since)
	if err != nil {
		return nil, fmt.Errorf("fetch journal: %w", err)
	}
	sc := logs.NewScanner(strings.NewReader(raw), since)
	var fresh []string
	for sc.Scan() {
		fresh = append(fresh, sc.Block())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}

	if err := c.repo.AppendBlocks(ctx, service, fresh, now); err != nil {
		return nil, fmt.Errorf("persist cache entry: %w", err)
	}
	return c.repo.Blocks(ctx, service)
}

func (c *Cache) acquire(ctx context.Context, service string) error {
	started := c.now()
	deadline := started.Add(c.lockWait)
	for {
		ok, err := c.repo.TryAcquireLock(ctx, service, c.holder, c.now(), c.lockStale)
		if err != nil {
			return fmt.Errorf("acquire cache lock: %w", err)
		}
		if ok {
			metrics.ObserveLockWait(c.now().Sub(started))
			return nil
		}
		if !c.now().Add(c.lockPoll).Before(deadline) {
			metrics.ObserveLockWait(c.now().Sub(started))
			return fmt.Errorf("%w: %s", ErrBusy, service)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.lockPoll):
		}
	}
}
