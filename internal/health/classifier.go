package health

import (
	"time"

	"unitmon/internal/systemd"
)

// Status is one of the six health verdicts for a unit's current activation.
type Status string

const (
	StatusFailed     Status = "failed"
	StatusStopped    Status = "stopped"
	StatusCompleted  Status = "completed"
	StatusTransition Status = "transition"
	StatusStable     Status = "stable"
	StatusUnstable   Status = "unstable"
)

// Record is a freshly computed health verdict. ActiveSince is set only
// when the unit reports a current-activation (or, for a transition, a
// last-state-change) timestamp; ErrorCount only when the status is
// unstable.
type Record struct {
	Status      Status
	ActiveSince *time.Time
	ErrorCount  *int
}

// Classify maps a unit's reported state plus its error-block count to a
// health verdict. Pure: identical inputs always yield identical output.
// The caller is responsible for supplying errorCount only for units in
// active/running; other states never report one.
func Classify(st systemd.UnitStatus, errorCount int) Record {
	switch st.ActiveState {
	case "failed":
		return Record{Status: StatusFailed}
	case "inactive":
		return Record{Status: StatusStopped}
	case "active":
	default:
		// activating, deactivating, reloading: report the best-known
		// transition timestamp when one exists.
		return Record{Status: StatusTransition, ActiveSince: bestTimestamp(st)}
	}

	switch st.SubState {
	case "exited":
		return Record{Status: StatusCompleted, ActiveSince: st.ActiveEnter}
	case "running":
		if errorCount > 0 {
			n := errorCount
			return Record{Status: StatusUnstable, ActiveSince: st.ActiveEnter, ErrorCount: &n}
		}
		return Record{Status: StatusStable, ActiveSince: st.ActiveEnter}
	default:
		return Record{Status: StatusTransition, ActiveSince: st.ActiveEnter}
	}
}

func bestTimestamp(st systemd.UnitStatus) *time.Time {
	if st.ActiveEnter != nil {
		return st.ActiveEnter
	}
	return st.StateChange
}
