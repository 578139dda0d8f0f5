// Package agent collects security reports on a fixed cadence and logs a
// structured summary of each one.
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/hostauth-sensor/internal/types"
)

// DefaultScanInterval is used when Config.ScanInterval is not positive.
const DefaultScanInterval = 60 * time.Second

// Collector builds a fresh report.
type Collector interface {
	Collect(ctx context.Context) *types.SecurityReport
}

// Config for the periodic agent
type Config struct {
	ScanInterval time.Duration
}

// Agent runs collections until shut down.
type Agent struct {
	cfg       Config
	log       *logrus.Logger
	collector Collector

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
	trigger  chan struct{}

	mu   sync.RWMutex
	last *types.SecurityReport
	runs int
}

// New creates a new Agent
func New(cfg Config, collector Collector, log *logrus.Logger) *Agent {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	return &Agent{
		cfg:       cfg,
		log:       log,
		collector: collector,
		stopCh:    make(chan struct{}),
		trigger:   make(chan struct{}, 1),
	}
}

// Start runs the scan loop and blocks until ctx is cancelled or Shutdown is
// called.
func (a *Agent) Start(ctx context.Context) error {
	a.log.WithField("interval", a.cfg.ScanInterval.String()).Info("Starting security agent")

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.loop(ctx)
	}()

	select {
	case <-ctx.Done():
	case <-a.stopCh:
	}
	return nil
}

func (a *Agent) loop(ctx context.Context) {
	a.scan(ctx)

	ticker := time.NewTicker(a.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.log.Info("Security agent stopping")
			return
		case <-a.stopCh:
			a.log.Info("Security agent stopping")
			return
		case <-ticker.C:
			a.scan(ctx)
		case <-a.trigger:
			a.scan(ctx)
		}
	}
}

// Trigger requests an extra collection ahead of the next tick. Requests made
// while one is already pending are merged.
func (a *Agent) Trigger() {
	select {
	case a.trigger <- struct{}{}:
	default:
	}
}

func (a *Agent) scan(ctx context.Context) {
	report := a.collector.Collect(ctx)

	a.mu.Lock()
	a.last = report
	a.runs++
	a.mu.Unlock()

	entry := a.log.WithFields(Summary(report))
	if len(report.Errors) > 0 {
		entry.Warn("Security report collected with degraded sources")
		return
	}
	entry.Info("Security report collected")
}

// Summary flattens a report into log fields.
func Summary(report *types.SecurityReport) logrus.Fields {
	fields := logrus.Fields{
		"current_sessions": len(report.CurrentSessions),
		"recent_logins":    len(report.RecentLogins),
		"failed_logins":    report.FailedLoginSummary.Total,
		"sudo_events":      len(report.SudoEvents),
		"errors":           report.Errors,
	}
	if len(report.FailedLoginSummary.TopIPs) > 0 {
		top := report.FailedLoginSummary.TopIPs[0]
		fields["top_failed_ip"] = top.IP
		fields["top_failed_ip_count"] = top.Count
	}
	if report.AuthLogPath != nil {
		fields["auth_log_path"] = *report.AuthLogPath
	}
	return fields
}

// Last returns the most recent report and the number of collections run.
func (a *Agent) Last() (*types.SecurityReport, int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.last, a.runs
}

// Shutdown stops the scan loop, waiting until ctx expires at most.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.log.Info("Shutting down security agent")

	a.stopOnce.Do(func() { close(a.stopCh) })

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.log.Info("Security agent stopped")
	case <-ctx.Done():
		a.log.Warn("Shutdown timeout, a collection may still be running")
	}
	return nil
}
