package systemd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

var (
	// ErrNotFound reports that the named unit is not registered with systemd.
	ErrNotFound = errors.New("unit not found")
	// ErrToolUnavailable reports that the systemctl binary cannot be resolved.
	ErrToolUnavailable = errors.New("systemctl unavailable")
)

// UnitStatus is the typed view of `systemctl show` output for one unit.
type UnitStatus struct {
	Name        string
	LoadState   string
	ActiveState string
	SubState    string
	// ActiveEnter is the start of the current activation, when defined.
	ActiveEnter *time.Time
	// StateChange is the last state transition, when defined.
	StateChange *time.Time
}

// StatusReader resolves unit state. Implemented by Client against a live
// systemd and by fakes in tests.
type StatusReader interface {
	UnitStatus(ctx context.Context, unit string) (UnitStatus, error)
}

// Client shells out to systemctl.
type Client struct {
	bin string
}

func NewClient() *Client {
	return &Client{bin: "systemctl"}
}

const showProperties = "LoadState,ActiveState,SubState,ActiveEnterTimestamp,StateChangeTimestamp"

func (c *Client) UnitStatus(ctx context.Context, unit string) (UnitStatus, error) {
	path, err := exec.LookPath(c.bin)
	if err != nil {
		return UnitStatus{}, fmt.Errorf("%w: %s", ErrToolUnavailable, c.bin)
	}
	cmd := exec.CommandContext(ctx, path, "show", unit, "--property="+showProperties)
	// systemd renders timestamps in the process's local zone; force UTC so
	// the parsed instant is correct on any host.
	cmd.Env = append(os.Environ(), "TZ=UTC")
	out, err := cmd.Output()
	if err != nil {
		return UnitStatus{}, fmt.Errorf("systemctl show %s: %w", unit, err)
	}
	st := ParseShow(unit, string(out))
	if st.LoadState == "not-found" || st.LoadState == "" {
		return UnitStatus{}, fmt.Errorf("%w: %s", ErrNotFound, unit)
	}
	return st, nil
}

// showTimeLayout matches systemd's default timestamp rendering,
// e.g. "Mon 2026-08-24 10:15:00 UTC".
const showTimeLayout = "Mon 2006-01-02 15:04:05 MST"

// ParseShow turns `systemctl show` property=value lines into a UnitStatus.
// Unknown properties are ignored; empty or "n/a" timestamps stay absent.
func ParseShow(unit, out string) UnitStatus {
	st := UnitStatus{Name: unit}
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "LoadState":
			st.LoadState = value
		case "ActiveState":
			st.ActiveState = value
		case "SubState":
			st.SubState = value
		case "ActiveEnterTimestamp":
			st.ActiveEnter = parseTimestamp(value)
		case "StateChangeTimestamp":
			st.StateChange = parseTimestamp(value)
		}
	}
	return st
}

func parseTimestamp(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" || value == "n/a" || value == "0" {
		return nil
	}
	t, err := time.Parse(showTimeLayout, value)
	if err != nil {
		return nil
	}
	// time.Parse records unknown zone abbreviations with a zero offset,
	// silently shifting the instant. The client runs systemctl with TZ=UTC,
	// so anything else here is a misrendered timestamp; an absent value is
	// safer than a skewed one.
	if name, offset := t.Zone(); offset == 0 && name != "UTC" && name != "GMT" {
		return nil
	}
	t = t.UTC()
	return &t
}
