// Package loginhistory reads recent logins from the login-history command
// (last). It first asks for ISO timestamps and falls back to raw lines on
// hosts whose last does not support the format flag.
package loginhistory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/hostauth-sensor/internal/types"
	"github.com/invisible-tech/hostauth-sensor/pkg/procexec"
)

// DefaultTimeout bounds each invocation stage.
const DefaultTimeout = 3 * time.Second

const (
	failedMessage = "Failed to read login history"
	formatFlag    = "--time-format"
	formatValue   = "iso"
	// unsupportedHint appears in stderr when the format flag is rejected.
	unsupportedHint = "time-format"
	boundaryPrefix  = "wtmp begins"
	separator       = "-"
)

// Mode selects how command output is parsed.
type Mode int

const (
	// ModeStructured parses each line into typed fields.
	ModeStructured Mode = iota
	// ModeRawFallback wraps every line as a raw entry.
	ModeRawFallback
)

func (m Mode) String() string {
	if m == ModeRawFallback {
		return "raw"
	}
	return "structured"
}

var boundaryKeywords = map[string]bool{
	"reboot":   true,
	"shutdown": true,
	"runlevel": true,
}

// Config for the login history query
type Config struct {
	Command string
	Timeout time.Duration
}

// Query runs the login-history command.
type Query struct {
	cfg    Config
	runner procexec.Runner
	log    *logrus.Logger
}

// New creates a Query. Empty fields fall back to "last" and DefaultTimeout.
func New(cfg Config, runner procexec.Runner, log *logrus.Logger) *Query {
	if cfg.Command == "" {
		cfg.Command = "last"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Query{cfg: cfg, runner: runner, log: log}
}

// Recent returns at most limit login records, newest first as the command
// prints them. On failure the list is empty and the error text is suitable
// for the report's errors list.
func (q *Query) Recent(ctx context.Context, limit int) ([]types.LoginHistoryEntry, error) {
	mode, res := q.negotiate(ctx, limit)
	if err := q.resultError(res); err != nil {
		return []types.LoginHistoryEntry{}, err
	}

	entries := ParseOutput(res.Stdout, mode)
	q.log.WithFields(logrus.Fields{
		"mode":    mode.String(),
		"entries": len(entries),
	}).Debug("Read login history")

	if limit <= 0 {
		return entries[:0], nil
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// negotiate probes for ISO timestamp support and re-runs without the format
// flag when the command rejects it.
func (q *Query) negotiate(ctx context.Context, limit int) (Mode, procexec.Result) {
	count := strconv.Itoa(max(limit, 1))

	res := q.runner.Run(ctx, q.cfg.Timeout, q.cfg.Command, "-n", count, formatFlag, formatValue)
	if res.Outcome != procexec.OutcomeCompleted || res.ExitCode == 0 {
		return ModeStructured, res
	}
	if !strings.Contains(res.Stderr, unsupportedHint) {
		return ModeStructured, res
	}

	q.log.WithField("command", q.cfg.Command).Debug("Time format flag unsupported, falling back to raw output")
	return ModeRawFallback, q.runner.Run(ctx, q.cfg.Timeout, q.cfg.Command, "-n", count)
}

func (q *Query) resultError(res procexec.Result) error {
	switch res.Outcome {
	case procexec.OutcomeTimedOut:
		return fmt.Errorf("%s command timed out", q.cfg.Command)
	case procexec.OutcomeSpawnFailed:
		return res.Err
	}
	if res.ExitCode != 0 {
		return errors.New(res.StderrOr(failedMessage))
	}
	return nil
}

// ParseOutput turns command output into entries using the given mode.
func ParseOutput(output string, mode Mode) []types.LoginHistoryEntry {
	entries := []types.LoginHistoryEntry{}
	for _, line := range strings.Split(output, "\n") {
		var (
			entry types.LoginHistoryEntry
			ok    bool
		)
		if mode == ModeRawFallback {
			entry, ok = parseRawLine(line)
		} else {
			entry, ok = ParseLine(line)
		}
		if ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

func parseRawLine(line string) (types.LoginHistoryEntry, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, boundaryPrefix) {
		return types.LoginHistoryEntry{}, false
	}
	return types.RawLoginEntry(line), true
}

// ParseLine parses one line of structured last output. It reports false for
// lines that carry no login record. Lines whose layout cannot be trusted come
// back as raw entries.
func ParseLine(line string) (types.LoginHistoryEntry, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, boundaryPrefix) {
		return types.LoginHistoryEntry{}, false
	}
	tokens := strings.Fields(line)
	if boundaryKeywords[tokens[0]] {
		return types.LoginHistoryEntry{}, false
	}

	sep := indexOf(tokens, separator)
	if sep < 3 {
		return types.RawLoginEntry(line), true
	}

	user, tty := tokens[0], tokens[1]
	login := tokens[sep-2] + " " + tokens[sep-1]
	entry := types.LoginHistoryEntry{
		User:  &user,
		TTY:   &tty,
		Login: &login,
		Raw:   &line,
	}
	// The host sits between the tty and the two login tokens, when present.
	if sep-2 > 2 {
		host := strings.Join(tokens[2:sep-2], " ")
		entry.Host = &host
	}

	rest := tokens[sep+1:]
	still := len(rest) >= 3 && rest[0] == "still" && rest[1] == "logged" && rest[2] == "in"
	entry.StillLoggedIn = &still
	if !still && len(rest) >= 2 {
		logout := rest[0] + " " + rest[1]
		entry.Logout = &logout
	}

	for _, tok := range rest {
		if strings.HasPrefix(tok, "(") && strings.HasSuffix(tok, ")") {
			duration := strings.Trim(tok, "()")
			entry.Duration = &duration
			break
		}
	}
	return entry, true
}

// indexOf returns the first index of want in tokens, or -1.
func indexOf(tokens []string, want string) int {
	for i, tok := range tokens {
		if tok == want {
			return i
		}
	}
	return -1
}
