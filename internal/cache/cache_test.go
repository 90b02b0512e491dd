package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"unitmon/internal/config"
	"unitmon/internal/db"
	"unitmon/internal/systemd"
)

type fakeUnits struct {
	status systemd.UnitStatus
	err    error
}

func (f *fakeUnits) UnitStatus(ctx context.Context, unit string) (systemd.UnitStatus, error) {
	if f.err != nil {
		return systemd.UnitStatus{}, f.err
	}
	return f.status, nil
}

type fakeJournal struct {
	raw       string
	lastSince time.Time
	calls     int
}

func (f *fakeJournal) Since(ctx context.Context, unit string, since time.Time) (string, error) {
	f.lastSince = since
	f.calls++
	return f.raw, nil
}

func header(ts time.Time, level, msg string) string {
	return fmt.Sprintf("%s|%s|%s", ts.UTC().Format("2006-01-02 15:04:05"), level, msg)
}

func newTestCache(t *testing.T, units *fakeUnits, jr *fakeJournal) (*Cache, *db.Repository) {
	t.Helper()
	sqldb, err := db.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = sqldb.Close() })
	if err := db.Migrate(sqldb); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	repo := db.NewRepository(sqldb)
	cfg := config.CacheConfig{
		LockWait:  config.Duration(20 * time.Millisecond),
		LockStale: config.Duration(time.Minute),
		LockPoll:  config.Duration(2 * time.Millisecond),
	}
	c := New(repo, units, jr, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
	return c, repo
}

func TestErrorsSinceIdempotentAndDeduplicated(t *testing.T) {
	activation := time.Now().UTC().Add(-time.Hour)
	logTime := activation.Add(30 * time.Minute)
	enter := activation
	units := &fakeUnits{status: systemd.UnitStatus{
		Name: "demo.service", LoadState: "loaded", ActiveState: "active", SubState: "running",
		ActiveEnter: &enter,
	}}
	jr := &fakeJournal{raw: header(logTime, "ERROR", "boom one") + "\ndetail\n" + header(logTime.Add(time.Second), "FATAL", "boom two")}
	c, _ := newTestCache(t, units, jr)
	ctx := context.Background()

	first, err := c.ErrorsSince(ctx, "demo.service")
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("first call blocks = %d, want 2", len(first))
	}
	if !jr.lastSince.Equal(activation) {
		t.Fatalf("first fetch since = %v, want activation %v", jr.lastSince, activation)
	}

	// The journal replays the same raw text (at-least-once contract);
	// dedup and the advanced watermark keep the result identical.
	second, err := c.ErrorsSince(ctx, "demo.service")
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("second call blocks = %d, want 2", len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("block %d changed between calls: %q vs %q", i, first[i], second[i])
		}
	}
	if !jr.lastSince.After(activation) {
		t.Fatalf("second fetch did not start from the watermark")
	}
}

func TestErrorsSinceRestartDiscardsOldBlocks(t *testing.T) {
	activation := time.Now().UTC().Add(-time.Hour)
	enter := activation
	units := &fakeUnits{status: systemd.UnitStatus{
		Name: "demo.service", LoadState: "loaded", ActiveState: "active", SubState: "running",
		ActiveEnter: &enter,
	}}
	jr := &fakeJournal{raw: header(activation.Add(time.Minute), "ERROR", "old failure")}
	c, _ := newTestCache(t, units, jr)
	ctx := context.Background()

	blocks, err := c.ErrorsSince(ctx, "demo.service")
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("first call blocks = %d, want 1", len(blocks))
	}

	// Restart: the activation start moves past the cached watermark.
	restarted := time.Now().UTC().Add(time.Minute)
	units.status.ActiveEnter = &restarted
	jr.raw = header(restarted.Add(10*time.Second), "ERROR", "fresh failure")

	blocks, err = c.ErrorsSince(ctx, "demo.service")
	if err != nil {
		t.Fatalf("post-restart call: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("post-restart blocks = %d, want 1", len(blocks))
	}
	if blocks[0] != header(restarted.Add(10*time.Second), "ERROR", "fresh failure") {
		t.Fatalf("old block survived restart: %q", blocks[0])
	}
}

func TestErrorsSinceNeverActivatedUnit(t *testing.T) {
	units := &fakeUnits{status: systemd.UnitStatus{
		Name: "demo.service", LoadState: "loaded", ActiveState: "inactive", SubState: "dead",
	}}
	jr := &fakeJournal{}
	c, _ := newTestCache(t, units, jr)

	blocks, err := c.ErrorsSince(context.Background(), "demo.service")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(blocks) != 0 {
		t.Fatalf("blocks = %d, want 0", len(blocks))
	}
	if jr.calls != 0 {
		t.Fatalf("journal fetched for a never-activated unit")
	}
}

func TestErrorsSinceBusyWhenLockHeld(t *testing.T) {
	activation := time.Now().UTC().Add(-time.Hour)
	enter := activation
	units := &fakeUnits{status: systemd.UnitStatus{
		Name: "demo.service", LoadState: "loaded", ActiveState: "active", SubState: "running",
		ActiveEnter: &enter,
	}}
	c, repo := newTestCache(t, units, &fakeJournal{})
	ctx := context.Background()

	ok, err := repo.TryAcquireLock(ctx, "demo.service", "someone-else", time.Now().UTC(), time.Minute)
	if err != nil || !ok {
		t.Fatalf("seed lock: ok=%v err=%v", ok, err)
	}

	_, err = c.ErrorsSince(ctx, "demo.service")
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
}

func TestErrorsSinceReclaimsStaleLock(t *testing.T) {
	activation := time.Now().UTC().Add(-time.Hour)
	enter := activation
	units := &fakeUnits{status: systemd.UnitStatus{
		Name: "demo.service", LoadState: "loaded", ActiveState: "active", SubState: "running",
		ActiveEnter: &enter,
	}}
	jr := &fakeJournal{raw: header(activation.Add(time.Minute), "ERROR", "boom")}
	c, repo := newTestCache(t, units, jr)
	ctx := context.Background()

	// A crashed holder left its lock behind two minutes ago; the staleness
	// threshold is one minute.
	ok, err := repo.TryAcquireLock(ctx, "demo.service", "crashed", time.Now().UTC().Add(-2*time.Minute), time.Minute)
	if err != nil || !ok {
		t.Fatalf("seed stale lock: ok=%v err=%v", ok, err)
	}

	blocks, err := c.ErrorsSince(ctx, "demo.service")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(blocks))
	}
}

func TestErrorsSincePropagatesUnitLookupError(t *testing.T) {
	units := &fakeUnits{err: fmt.Errorf("%w: ghost.service", systemd.ErrNotFound)}
	c, _ := newTestCache(t, units, &fakeJournal{})

	_, err := c.ErrorsSince(context.Background(), "ghost.service")
	if !errors.Is(err, systemd.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
