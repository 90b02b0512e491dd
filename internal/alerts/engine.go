package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"unitmon/internal/health"
	"unitmon/internal/notifier"
)

// StatusSource computes a fresh health record for one unit.
type StatusSource interface {
	Status(ctx context.Context, unit string) (health.Record, error)
}

// Engine watches the configured units and pushes a notification when one
// transitions into failed or unstable. A per-unit cooldown keeps flapping
// units from spamming the channel.
type Engine struct {
	statuses StatusSource
	notify   *notifier.Telegram
	log      *slog.Logger
	nodeID   string
	units    []string
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	last     map[string]health.Status
	lastSent map[string]time.Time
}

func NewEngine(statuses StatusSource, notify *notifier.Telegram, logger *slog.Logger, nodeID string, units []string, cooldown time.Duration) *Engine {
	return &Engine{
		statuses: statuses,
		notify:   notify,
		log:      logger,
		nodeID:   nodeID,
		units:    units,
		cooldown: cooldown,
		now:      func() time.Time { return time.Now().UTC() },
		last:     map[string]health.Status{},
		lastSent: map[string]time.Time{},
	}
}

func (e *Engine) Evaluate(ctx context.Context) {
	if !e.notify.Enabled() {
		return
	}
	for _, unit := range e.units {
		rec, err := e.statuses.Status(ctx, unit)
		if err != nil {
			e.log.Warn("alert status check", "unit", unit, "err", err)
			continue
		}
		e.consider(ctx, unit, rec)
	}
}

func (e *Engine) consider(ctx context.Context, unit string, rec health.Record) {
	e.mu.Lock()
	prev, seen := e.last[unit]
	e.last[unit] = rec.Status
	bad := rec.Status == health.StatusFailed || rec.Status == health.StatusUnstable
	transition := seen && prev != rec.Status
	throttled := e.now().Sub(e.lastSent[unit]) < e.cooldown
	send := bad && transition && !throttled
	if send {
		e.lastSent[unit] = e.now()
	}
	e.mu.Unlock()

	if !send {
		return
	}
	msg := fmt.Sprintf("[%s] unit %s is %s", e.nodeID, unit, rec.Status)
	if rec.ErrorCount != nil {
		msg = fmt.Sprintf("%s (%d error blocks this activation)", msg, *rec.ErrorCount)
	}
	if err := e.notify.Send(ctx, msg); err != nil {
		e.log.Error("send alert", "unit", unit, "err", err)
	} else {
		e.log.Info("alert sent", "unit", unit, "status", rec.Status)
	}
}
