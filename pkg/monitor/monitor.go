// Package monitor builds the security report from the auth log, the
// current-sessions command, and the login-history command. Each source fails
// independently; Collect always returns a complete report.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/invisible-tech/hostauth-sensor/internal/types"
	"github.com/invisible-tech/hostauth-sensor/pkg/authlog"
	"github.com/invisible-tech/hostauth-sensor/pkg/loginhistory"
	"github.com/invisible-tech/hostauth-sensor/pkg/procexec"
	"github.com/invisible-tech/hostauth-sensor/pkg/sessions"
)

// Config holds the inputs of a collection
type Config struct {
	HostRoot     string
	AuthLogPaths []string
	MaxLogLines  int

	WhoCommand     string
	LastCommand    string
	SessionTimeout time.Duration
	HistoryTimeout time.Duration

	// Per-category result limits
	LoginLimit  int
	FailedLimit int
	SudoLimit   int
}

// LogReader reads the tail of the first existing auth log candidate.
type LogReader interface {
	ReadTail(paths []string, maxLines int) authlog.Tail
}

// SessionSource lists active sessions.
type SessionSource interface {
	Current(ctx context.Context) ([]types.Session, error)
}

// HistorySource lists recent logins.
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]types.LoginHistoryEntry, error)
}

// Sources are the collaborators a Monitor reads from.
type Sources struct {
	Reader   LogReader
	Sessions SessionSource
	History  HistorySource
}

// Monitor aggregates every source into a SecurityReport
type Monitor struct {
	cfg     *Config
	log     *logrus.Logger
	sources Sources
}

// New creates a Monitor reading the host filesystem and running real commands.
func New(cfg *Config, log *logrus.Logger) *Monitor {
	runner := procexec.NewExecRunner(log)
	return NewWithSources(cfg, Sources{
		Reader: authlog.NewReader(cfg.HostRoot),
		Sessions: sessions.New(sessions.Config{
			Command: cfg.WhoCommand,
			Timeout: cfg.SessionTimeout,
		}, runner, log),
		History: loginhistory.New(loginhistory.Config{
			Command: cfg.LastCommand,
			Timeout: cfg.HistoryTimeout,
		}, runner, log),
	}, log)
}

// NewWithSources creates a Monitor over the given collaborators.
func NewWithSources(cfg *Config, sources Sources, log *logrus.Logger) *Monitor {
	return &Monitor{cfg: cfg, log: log, sources: sources}
}

type logResult struct {
	failed []types.FailedLoginEvent
	topIPs []types.IPFrequency
	sudo   []types.SudoEvent
	path   string
	err    error
}

// Collect builds a fresh report. It never fails: a degraded source leaves its
// sections empty and contributes one message to Errors. Cancelling ctx does
// not abort a collection in flight; only the per-command timeouts bound it.
func (m *Monitor) Collect(ctx context.Context) *types.SecurityReport {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	var (
		logRes     logResult
		current    []types.Session
		sessionErr error
		recent     []types.LoginHistoryEntry
		historyErr error
	)

	var g errgroup.Group
	g.Go(func() error {
		logRes.err = guard(SourceAuthLog, func() error {
			logRes = m.collectAuthLog()
			return logRes.err
		})
		return nil
	})
	g.Go(func() error {
		sessionErr = guard(SourceSessions, func() (err error) {
			current, err = m.sources.Sessions.Current(ctx)
			return err
		})
		return nil
	})
	g.Go(func() error {
		historyErr = guard(SourceHistory, func() (err error) {
			recent, err = m.sources.History.Recent(ctx, m.cfg.LoginLimit)
			return err
		})
		return nil
	})
	_ = g.Wait()

	report := types.NewSecurityReport()
	if current != nil {
		report.CurrentSessions = current
	}
	if recent != nil {
		report.RecentLogins = recent
	}
	if logRes.failed != nil {
		report.FailedLogins = logRes.failed
	}
	if logRes.topIPs != nil {
		report.FailedLoginSummary.TopIPs = logRes.topIPs
	}
	if logRes.sudo != nil {
		report.SudoEvents = logRes.sudo
	}
	report.FailedLoginSummary.Total = len(report.FailedLogins)
	if logRes.path != "" {
		path := logRes.path
		report.AuthLogPath = &path
	}

	for _, se := range []struct {
		source string
		err    error
	}{
		{SourceAuthLog, logRes.err},
		{SourceSessions, sessionErr},
		{SourceHistory, historyErr},
	} {
		if se.err == nil {
			continue
		}
		report.Errors = append(report.Errors, se.err.Error())
		sourceErrors.WithLabelValues(se.source).Inc()
		m.log.WithFields(logrus.Fields{
			"source": se.source,
			"error":  se.err.Error(),
		}).Warn("Security source degraded")
	}

	m.observe(report, time.Since(start))
	return report
}

func (m *Monitor) collectAuthLog() logResult {
	tail := m.sources.Reader.ReadTail(m.cfg.AuthLogPaths, m.cfg.MaxLogLines)
	failed, topIPs := authlog.ExtractFailedLogins(tail.Lines, m.cfg.FailedLimit)
	return logResult{
		failed: failed,
		topIPs: topIPs,
		sudo:   authlog.ExtractSudoEvents(tail.Lines, m.cfg.SudoLimit),
		path:   tail.Path,
		err:    tail.Err,
	}
}

func (m *Monitor) observe(report *types.SecurityReport, elapsed time.Duration) {
	collectionsTotal.Inc()
	collectionDuration.Observe(elapsed.Seconds())
	reportItems.WithLabelValues("current_sessions").Set(float64(len(report.CurrentSessions)))
	reportItems.WithLabelValues("recent_logins").Set(float64(len(report.RecentLogins)))
	reportItems.WithLabelValues("failed_logins").Set(float64(len(report.FailedLogins)))
	reportItems.WithLabelValues("sudo_events").Set(float64(len(report.SudoEvents)))

	fields := logrus.Fields{
		"duration":         elapsed,
		"failed_logins":    len(report.FailedLogins),
		"sudo_events":      len(report.SudoEvents),
		"sessions":         len(report.CurrentSessions),
		"recent_logins":    len(report.RecentLogins),
		"degraded_sources": len(report.Errors),
	}
	if report.AuthLogPath != nil {
		fields["auth_log_path"] = *report.AuthLogPath
	}
	m.log.WithFields(fields).Debug("Security report collected")
}

// guard turns a panic inside one source into that source's error so the
// other sources still reach the report.
func guard(source string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s source failed: %v", source, r)
		}
	}()
	return fn()
}
