package journal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// ErrToolUnavailable reports that the journalctl binary cannot be resolved.
var ErrToolUnavailable = errors.New("journalctl unavailable")

// Reader returns raw log text for a unit since a given timestamp.
// Implemented by Client against a live journal and by fakes in tests.
type Reader interface {
	Since(ctx context.Context, unit string, since time.Time) (string, error)
}

// Client shells out to journalctl. Output is requested in cat format so
// only the messages the service itself wrote reach the block parser.
type Client struct {
	bin string
}

func NewClient() *Client {
	return &Client{bin: "journalctl"}
}

const sinceLayout = "2006-01-02 15:04:05"

func (c *Client) Since(ctx context.Context, unit string, since time.Time) (string, error) {
	path, err := exec.LookPath(c.bin)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrToolUnavailable, c.bin)
	}
	cmd := exec.CommandContext(ctx, path,
		"-u", unit,
		"--since", since.UTC().Format(sinceLayout),
		"--utc",
		"-o", "cat",
		"--no-pager",
		"-q",
	)
	// journalctl interprets --since in the process's local zone; the value
	// above is UTC-formatted, so force the zone to match.
	cmd.Env = append(os.Environ(), "TZ=UTC")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("journalctl -u %s: %w", unit, err)
	}
	return string(out), nil
}
