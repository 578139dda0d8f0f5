// Package sessions lists active logins by running the current-sessions
// command (who) and parsing its columnar output.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/hostauth-sensor/internal/types"
	"github.com/invisible-tech/hostauth-sensor/pkg/procexec"
)

// DefaultTimeout bounds one invocation of the sessions command.
const DefaultTimeout = 2 * time.Second

const failedMessage = "Failed to read sessions"

// Config for the sessions query
type Config struct {
	Command string
	Timeout time.Duration
}

// Query runs the current-sessions command.
type Query struct {
	cfg    Config
	runner procexec.Runner
	log    *logrus.Logger
}

// New creates a Query. Empty fields fall back to "who" and DefaultTimeout.
func New(cfg Config, runner procexec.Runner, log *logrus.Logger) *Query {
	if cfg.Command == "" {
		cfg.Command = "who"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Query{cfg: cfg, runner: runner, log: log}
}

// Current returns the active sessions. On failure the list is empty and the
// error text is suitable for the report's errors list.
func (q *Query) Current(ctx context.Context) ([]types.Session, error) {
	res := q.runner.Run(ctx, q.cfg.Timeout, q.cfg.Command)
	switch res.Outcome {
	case procexec.OutcomeTimedOut:
		return []types.Session{}, fmt.Errorf("%s command timed out", q.cfg.Command)
	case procexec.OutcomeSpawnFailed:
		return []types.Session{}, res.Err
	}
	if res.ExitCode != 0 {
		return []types.Session{}, errors.New(res.StderrOr(failedMessage))
	}
	sessions := ParseSessions(res.Stdout)
	q.log.WithField("sessions", len(sessions)).Debug("Read current sessions")
	return sessions, nil
}

// ParseSessions parses who output. Lines with fewer than four fields are
// skipped. Hosts containing whitespace are joined with single spaces.
func ParseSessions(output string) []types.Session {
	sessions := []types.Session{}
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		parts := strings.Fields(line)
		if len(parts) < 4 {
			continue
		}
		s := types.Session{
			User:      parts[0],
			TTY:       parts[1],
			LoginTime: parts[2] + " " + parts[3],
		}
		if len(parts) > 4 {
			host := strings.Trim(strings.Join(parts[4:], " "), "()")
			if host != "" {
				s.Host = &host
			}
		}
		sessions = append(sessions, s)
	}
	return sessions
}
