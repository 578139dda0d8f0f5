package agent

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/hostauth-sensor/internal/types"
)

type countingCollector struct {
	calls atomic.Int32
}

func (c *countingCollector) Collect(ctx context.Context) *types.SecurityReport {
	c.calls.Add(1)
	r := types.NewSecurityReport()
	r.FailedLoginSummary.Total = 2
	r.FailedLoginSummary.TopIPs = []types.IPFrequency{{IP: "1.2.3.4", Count: 2}}
	return r
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew_DefaultInterval(t *testing.T) {
	a := New(Config{}, &countingCollector{}, logrus.New())
	if a.cfg.ScanInterval != DefaultScanInterval {
		t.Errorf("ScanInterval = %v, want %v", a.cfg.ScanInterval, DefaultScanInterval)
	}
}

func TestAgent_CollectsImmediatelyAndOnTrigger(t *testing.T) {
	col := &countingCollector{}
	a := New(Config{ScanInterval: time.Hour}, col, logrus.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Start(ctx) }()

	waitFor(t, func() bool { return col.calls.Load() == 1 })
	a.Trigger()
	waitFor(t, func() bool { return col.calls.Load() == 2 })

	report, runs := a.Last()
	if report == nil || runs != 2 {
		t.Errorf("Last = %v, %d", report, runs)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Start returned %v", err)
	}
}

func TestAgent_Ticks(t *testing.T) {
	col := &countingCollector{}
	a := New(Config{ScanInterval: 10 * time.Millisecond}, col, logrus.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Start(ctx)

	waitFor(t, func() bool { return col.calls.Load() >= 3 })
}

func TestAgent_Shutdown(t *testing.T) {
	col := &countingCollector{}
	a := New(Config{ScanInterval: time.Hour}, col, logrus.New())

	done := make(chan error, 1)
	go func() { done <- a.Start(context.Background()) }()
	waitFor(t, func() bool { return col.calls.Load() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
	// A second Shutdown must not panic on the closed channel.
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestTrigger_Coalesces(t *testing.T) {
	a := New(Config{}, &countingCollector{}, logrus.New())
	a.Trigger()
	a.Trigger()
	if len(a.trigger) != 1 {
		t.Errorf("pending triggers = %d, want 1", len(a.trigger))
	}
}

func TestSummary(t *testing.T) {
	r := types.NewSecurityReport()
	path := "/var/log/auth.log"
	r.AuthLogPath = &path
	r.FailedLoginSummary.Total = 6
	r.FailedLoginSummary.TopIPs = []types.IPFrequency{{IP: "1.2.3.4", Count: 6}}
	r.Errors = []string{"last command timed out"}

	fields := Summary(r)
	if fields["failed_logins"] != 6 {
		t.Errorf("failed_logins = %v", fields["failed_logins"])
	}
	if fields["top_failed_ip"] != "1.2.3.4" || fields["top_failed_ip_count"] != 6 {
		t.Errorf("top ip fields = %v/%v", fields["top_failed_ip"], fields["top_failed_ip_count"])
	}
	if fields["auth_log_path"] != path {
		t.Errorf("auth_log_path = %v", fields["auth_log_path"])
	}

	empty := Summary(types.NewSecurityReport())
	if _, ok := empty["auth_log_path"]; ok {
		t.Error("auth_log_path should be omitted when no log was read")
	}
	if _, ok := empty["top_failed_ip"]; ok {
		t.Error("top_failed_ip should be omitted without failed logins")
	}
}
