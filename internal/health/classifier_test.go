package health

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"unitmon/internal/systemd"
)

func TestClassifyAllStates(t *testing.T) {
	enter := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	change := time.Date(2026, 8, 24, 10, 5, 0, 0, time.UTC)

	cases := []struct {
		name        string
		status      systemd.UnitStatus
		errorCount  int
		want        Status
		wantSince   *time.Time
		wantErrCnt  bool
	}{
		{
			name:   "failed unit",
			status: systemd.UnitStatus{ActiveState: "failed", SubState: "failed", ActiveEnter: &enter},
			want:   StatusFailed,
		},
		{
			name:   "stopped unit",
			status: systemd.UnitStatus{ActiveState: "inactive", SubState: "dead"},
			want:   StatusStopped,
		},
		{
			name:      "activating unit",
			status:    systemd.UnitStatus{ActiveState: "activating", SubState: "start", StateChange: &change},
			want:      StatusTransition,
			wantSince: &change,
		},
		{
			name:      "active but not yet running",
			status:    systemd.UnitStatus{ActiveState: "active", SubState: "start-post", ActiveEnter: &enter},
			want:      StatusTransition,
			wantSince: &enter,
		},
		{
			name:      "completed oneshot",
			status:    systemd.UnitStatus{ActiveState: "active", SubState: "exited", ActiveEnter: &enter},
			want:      StatusCompleted,
			wantSince: &enter,
		},
		{
			name:      "running without errors",
			status:    systemd.UnitStatus{ActiveState: "active", SubState: "running", ActiveEnter: &enter},
			want:      StatusStable,
			wantSince: &enter,
		},
		{
			name:       "running with errors",
			status:     systemd.UnitStatus{ActiveState: "active", SubState: "running", ActiveEnter: &enter},
			errorCount: 2,
			want:       StatusUnstable,
			wantSince:  &enter,
			wantErrCnt: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := Classify(tc.status, tc.errorCount)
			if rec.Status != tc.want {
				t.Fatalf("status = %s, want %s", rec.Status, tc.want)
			}
			if (rec.ActiveSince == nil) != (tc.wantSince == nil) {
				t.Fatalf("ActiveSince presence = %v, want %v", rec.ActiveSince != nil, tc.wantSince != nil)
			}
			if tc.wantSince != nil && !rec.ActiveSince.Equal(*tc.wantSince) {
				t.Fatalf("ActiveSince = %v, want %v", rec.ActiveSince, tc.wantSince)
			}
			if tc.wantErrCnt {
				if rec.ErrorCount == nil || *rec.ErrorCount != tc.errorCount {
					t.Fatalf("ErrorCount = %v, want %d", rec.ErrorCount, tc.errorCount)
				}
			} else if rec.ErrorCount != nil {
				t.Fatalf("ErrorCount = %d, want absent", *rec.ErrorCount)
			}

			// Deterministic: identical inputs, identical output.
			again := Classify(tc.status, tc.errorCount)
			if again.Status != rec.Status {
				t.Fatalf("classification not deterministic: %s vs %s", again.Status, rec.Status)
			}
		})
	}
}

type staticUnits struct {
	status systemd.UnitStatus
	err    error
}

func (s *staticUnits) UnitStatus(ctx context.Context, unit string) (systemd.UnitStatus, error) {
	return s.status, s.err
}

type staticErrors struct {
	blocks []string
	calls  int
}

func (s *staticErrors) ErrorsSince(ctx context.Context, service string) ([]string, error) {
	s.calls++
	return s.blocks, nil
}

func TestServiceConsultsCacheOnlyWhenRunning(t *testing.T) {
	enter := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	errs := &staticErrors{blocks: []string{"a", "b"}}
	units := &staticUnits{status: systemd.UnitStatus{ActiveState: "active", SubState: "running", ActiveEnter: &enter}}
	svc := NewService(units, errs)

	rec, err := svc.Status(context.Background(), "demo.service")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if rec.Status != StatusUnstable || rec.ErrorCount == nil || *rec.ErrorCount != 2 {
		t.Fatalf("unexpected record: %+v", rec)
	}

	units.status = systemd.UnitStatus{ActiveState: "inactive", SubState: "dead"}
	errs.calls = 0
	rec, err = svc.Status(context.Background(), "demo.service")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if rec.Status != StatusStopped {
		t.Fatalf("status = %s, want stopped", rec.Status)
	}
	if errs.calls != 0 {
		t.Fatalf("cache consulted for a stopped unit")
	}
}

func TestServicePropagatesNotFound(t *testing.T) {
	svc := NewService(&staticUnits{err: fmt.Errorf("%w: ghost", systemd.ErrNotFound)}, &staticErrors{})
	_, err := svc.Status(context.Background(), "ghost")
	if !errors.Is(err, systemd.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
