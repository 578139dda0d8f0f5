// Package procexec runs external commands with a bounded wait and reports how
// each run ended as a value rather than an error.
package procexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// ErrTimeout marks a command killed because its timeout elapsed.
var ErrTimeout = errors.New("command timed out")

// Outcome is how a command run ended.
type Outcome int

const (
	// OutcomeCompleted means the process ran and exited; check ExitCode.
	OutcomeCompleted Outcome = iota
	// OutcomeTimedOut means the process was killed at the deadline.
	OutcomeTimedOut
	// OutcomeSpawnFailed means the process could not be started.
	OutcomeSpawnFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeSpawnFailed:
		return "spawn_failed"
	default:
		return "unknown"
	}
}

// Result captures a finished command run.
type Result struct {
	Outcome  Outcome
	Stdout   string
	Stderr   string
	ExitCode int
	// Err is set for OutcomeTimedOut and OutcomeSpawnFailed.
	Err      error
	Duration time.Duration
}

// Success reports whether the process exited with status zero.
func (r Result) Success() bool {
	return r.Outcome == OutcomeCompleted && r.ExitCode == 0
}

// StderrOr returns trimmed stderr, or fallback when stderr is empty.
func (r Result) StderrOr(fallback string) string {
	if s := strings.TrimSpace(r.Stderr); s != "" {
		return s
	}
	return fallback
}

// Runner runs a command and waits at most timeout for it. Implementations
// never retry.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) Result
}

var commandRuns = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "hostauth_command_runs_total",
		Help: "External command invocations by outcome",
	},
	[]string{"command", "outcome"},
)

func init() {
	prometheus.MustRegister(commandRuns)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	log *logrus.Logger
}

// NewExecRunner creates an ExecRunner.
func NewExecRunner(log *logrus.Logger) *ExecRunner {
	return &ExecRunner{log: log}
}

// Run starts name with args and blocks until it exits or timeout elapses.
func (r *ExecRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children that inherit the pipes must not hold Wait open past the deadline.
	cmd.WaitDelay = 500 * time.Millisecond

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.Outcome = OutcomeTimedOut
		res.ExitCode = -1
		res.Err = fmt.Errorf("%s: %w after %s", name, ErrTimeout, timeout)
	case err == nil:
		res.Outcome = OutcomeCompleted
	case errors.As(err, &exitErr):
		res.Outcome = OutcomeCompleted
		res.ExitCode = exitErr.ExitCode()
	default:
		res.Outcome = OutcomeSpawnFailed
		res.ExitCode = -1
		res.Err = err
	}

	commandRuns.WithLabelValues(name, res.Outcome.String()).Inc()
	r.log.WithFields(logrus.Fields{
		"command":   name,
		"args":      args,
		"outcome":   res.Outcome.String(),
		"exit_code": res.ExitCode,
		"duration":  res.Duration,
	}).Debug("Command finished")

	return res
}
