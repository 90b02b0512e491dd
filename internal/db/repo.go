package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() *sql.DB { return r.db }

// TryAcquireLock takes the per-service lock if it is free, or reclaims it
// if the current holder's acquisition time is older than the staleness
// threshold. Returns false when the lock is held and fresh.
func (r *Repository) TryAcquireLock(ctx context.Context, service, holder string, now time.Time, stale time.Duration) (bool, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO cache_locks (service,holder,acquired_at) VALUES (?,?,?)
		ON CONFLICT(service) DO UPDATE SET holder=excluded.holder, acquired_at=excluded.acquired_at
		WHERE cache_locks.acquired_at < ?`,
		service, holder, now.UTC(), now.UTC().Add(-stale))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReleaseLock drops the lock only if this holder still owns it; a waiter
// that reclaimed a stale lock must not be unlocked by the old holder.
func (r *Repository) ReleaseLock(ctx context.Context, service, holder string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cache_locks WHERE service=? AND holder=?`, service, holder)
	return err
}

// ReleaseStaleLocks force-releases locks acquired before the cutoff.
func (r *Repository) ReleaseStaleLocks(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cache_locks WHERE acquired_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Watermark returns the service's cache watermark, if an entry exists.
func (r *Repository) Watermark(ctx context.Context, service string) (time.Time, bool, error) {
	var wm time.Time
	err := r.db.QueryRowContext(ctx, `SELECT watermark FROM cache_entries WHERE service=?`, service).Scan(&wm)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return wm.UTC(), true, nil
}

// Blocks returns the cached error blocks in first-seen order.
func (r *Repository) Blocks(ctx context.Context, service string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT block FROM cache_blocks WHERE service=? ORDER BY position ASC`, service)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ResetEntry discards a service's cached blocks and watermark. Used when
// the unit's activation start moved past the watermark (restart detected).
func (r *Repository) ResetEntry(ctx context.Context, service string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_blocks WHERE service=?`, service); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE service=?`, service); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendBlocks adds newly parsed blocks after the current tail, skipping
// byte-identical duplicates, and advances the watermark. First-seen order
// is preserved by the position column.
func (r *Repository) AppendBlocks(ctx context.Context, service string, blocks []string, watermark time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, b := range blocks {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO cache_blocks (service,position,block)
			VALUES (?, (SELECT COALESCE(MAX(position),0)+1 FROM cache_blocks WHERE service=?), ?)`,
			service, service, b); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO cache_entries (service,watermark) VALUES (?,?)
		ON CONFLICT(service) DO UPDATE SET watermark=excluded.watermark`,
		service, watermark.UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteEntriesNotIn drops cache rows for services outside the watch list.
func (r *Repository) DeleteEntriesNotIn(ctx context.Context, services []string) (int64, error) {
	if len(services) == 0 {
		res, err := r.db.ExecContext(ctx, `DELETE FROM cache_entries`)
		if err != nil {
			return 0, err
		}
		if _, err := r.db.ExecContext(ctx, `DELETE FROM cache_blocks`); err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}
	placeholders := make([]string, len(services))
	args := make([]any, 0, len(services))
	for i, svc := range services {
		placeholders[i] = "?"
		args = append(args, svc)
	}
	in := strings.Join(placeholders, ",")
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM cache_entries WHERE service NOT IN (%s)`, in), args...)
	if err != nil {
		return 0, err
	}
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM cache_blocks WHERE service NOT IN (%s)`, in), args...); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
