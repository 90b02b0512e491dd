package logs

import (
	"bufio"
	"io"
	"regexp"
	"strings"
	"time"
)

// headerRe matches the first line of a log entry:
// "YYYY-MM-DD HH:MM:SS[.fraction]|LEVEL|message".
var headerRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})(\.\d+)?\|([A-Z]+)\|`)

// The .999999999 suffix also accepts headers without a fraction.
const headerTimeLayout = "2006-01-02 15:04:05.999999999"

// Scanner walks raw journal text and yields error blocks: a block opens at
// an ERROR or FATAL header line stamped at or after the boundary and runs
// until the next header line of any level or end of input. Lines before
// the first header are discarded. Like bufio.Scanner, it is a forward-only
// single pass.
type Scanner struct {
	sc       *bufio.Scanner
	boundary time.Time
	pending  string
	hasPend  bool
	block    string
}

func NewScanner(r io.Reader, boundary time.Time) *Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &Scanner{sc: sc, boundary: boundary}
}

// Scan advances to the next error block. It returns false at end of input.
func (s *Scanner) Scan() bool {
	for {
		line, ok := s.next()
		if !ok {
			return false
		}
		ts, level, header := parseHeader(line)
		if !header {
			continue
		}
		if (level != "ERROR" && level != "FATAL") || ts.Before(s.boundary) {
			continue
		}
		var b strings.Builder
		b.WriteString(line)
		for {
			cont, ok := s.next()
			if !ok {
				break
			}
			if _, _, h := parseHeader(cont); h {
				s.unread(cont)
				break
			}
			b.WriteByte('\n')
			b.WriteString(cont)
		}
		s.block = b.String()
		return true
	}
}

// Block returns the text of the block found by the last call to Scan.
func (s *Scanner) Block() string { return s.block }

// Err returns the first error encountered by the underlying reader.
func (s *Scanner) Err() error { return s.sc.Err() }

func (s *Scanner) next() (string, bool) {
	if s.hasPend {
		s.hasPend = false
		return s.pending, true
	}
	if !s.sc.Scan() {
		return "", false
	}
	return s.sc.Text(), true
}

func (s *Scanner) unread(line string) {
	s.pending = line
	s.hasPend = true
}

func parseHeader(line string) (time.Time, string, bool) {
	m := headerRe.FindStringSubmatch(line)
	if m == nil {
		return time.Time{}, "", false
	}
	ts, err := time.Parse(headerTimeLayout, m[1]+m[2])
	if err != nil {
		return time.Time{}, "", false
	}
	return ts.UTC(), m[3], true
}
