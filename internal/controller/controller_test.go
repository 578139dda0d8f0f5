package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/hostauth-sensor/internal/types"
)

// countingCollector returns a new report per call; when gate is set each
// call blocks until it is closed.
type countingCollector struct {
	calls   atomic.Int32
	gate    chan struct{}
	started chan struct{}
	once    sync.Once
}

func (c *countingCollector) Collect(ctx context.Context) *types.SecurityReport {
	c.calls.Add(1)
	if c.started != nil {
		c.once.Do(func() { close(c.started) })
	}
	if c.gate != nil {
		<-c.gate
	}
	report := types.NewSecurityReport()
	report.FailedLoginSummary.Total = int(c.calls.Load())
	return report
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestController(ttl time.Duration, col Collector) (*Controller, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)}
	c := New(Config{TTL: ttl}, col, logrus.New())
	c.now = clock.Now
	return c, clock
}

func TestNew(t *testing.T) {
	c := New(Config{TTL: time.Second}, &countingCollector{}, logrus.New())
	if c == nil {
		t.Fatal("New() returned nil")
	}
	if st := c.Status(); st.Cached || !st.LastCollected.IsZero() {
		t.Errorf("initial Status = %+v", st)
	}
}

func TestController_Report_ServesFromCacheWithinTTL(t *testing.T) {
	col := &countingCollector{}
	c, clock := newTestController(5*time.Second, col)
	ctx := context.Background()

	hitsBefore := testutil.ToFloat64(cacheRequests.WithLabelValues("hit"))

	first, err := c.Report(ctx)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	clock.Advance(4 * time.Second)
	second, err := c.Report(ctx)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if first != second {
		t.Error("report within TTL should come from cache")
	}
	if got := col.calls.Load(); got != 1 {
		t.Errorf("collections = %d, want 1", got)
	}
	if hits := testutil.ToFloat64(cacheRequests.WithLabelValues("hit")); hits != hitsBefore+1 {
		t.Errorf("hit counter = %v, want %v", hits, hitsBefore+1)
	}
	if !c.Status().Cached {
		t.Error("Status should report a cached report")
	}

	clock.Advance(2 * time.Second)
	third, _ := c.Report(ctx)
	if third == first {
		t.Error("expired report should be replaced")
	}
	if got := col.calls.Load(); got != 2 {
		t.Errorf("collections = %d, want 2", got)
	}
}

func TestController_Report_ZeroTTLAlwaysCollects(t *testing.T) {
	col := &countingCollector{}
	c, _ := newTestController(0, col)
	for i := 0; i < 3; i++ {
		if _, err := c.Report(context.Background()); err != nil {
			t.Fatalf("Report: %v", err)
		}
	}
	if got := col.calls.Load(); got != 3 {
		t.Errorf("collections = %d, want 3", got)
	}
	if c.Status().Cached {
		t.Error("nothing should be cached with zero TTL")
	}
}

func TestController_Report_ConcurrentCallersShareCollection(t *testing.T) {
	col := &countingCollector{gate: make(chan struct{}), started: make(chan struct{})}
	c, _ := newTestController(time.Minute, col)

	const callers = 8
	results := make(chan *types.SecurityReport, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := c.Report(context.Background())
			if err != nil {
				t.Errorf("Report: %v", err)
			}
			results <- r
		}()
	}

	<-col.started
	time.Sleep(20 * time.Millisecond)
	close(col.gate)
	wg.Wait()
	close(results)

	var first *types.SecurityReport
	for r := range results {
		if first == nil {
			first = r
		}
		if r != first {
			t.Error("callers should receive the same report")
		}
	}
	if got := col.calls.Load(); got != 1 {
		t.Errorf("collections = %d, want 1", got)
	}
}

func TestController_Report_CallerGivesUp(t *testing.T) {
	col := &countingCollector{gate: make(chan struct{})}
	c, _ := newTestController(time.Minute, col)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Report(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}

	// The abandoned collection still completes and fills the cache.
	close(col.gate)
	r, err := c.Report(context.Background())
	if err != nil || r == nil {
		t.Fatalf("Report = %v, %v", r, err)
	}
	if got := col.calls.Load(); got != 1 {
		t.Errorf("collections = %d, want 1", got)
	}
}

func TestController_Invalidate(t *testing.T) {
	col := &countingCollector{}
	c, _ := newTestController(time.Minute, col)
	ctx := context.Background()

	first, _ := c.Report(ctx)
	before := testutil.ToFloat64(cacheInvalidations)
	c.Invalidate()
	if after := testutil.ToFloat64(cacheInvalidations); after != before+1 {
		t.Errorf("invalidations = %v, want %v", after, before+1)
	}
	second, _ := c.Report(ctx)
	if first == second {
		t.Error("Invalidate should force a new collection")
	}

	// Invalidating an empty cache is a no-op for the counter.
	c.Invalidate()
	c.Invalidate()
	if after := testutil.ToFloat64(cacheInvalidations); after != before+2 {
		t.Errorf("invalidations = %v, want %v", after, before+2)
	}
}

func TestController_InvalidateDuringCollectionSkipsCaching(t *testing.T) {
	col := &countingCollector{gate: make(chan struct{}), started: make(chan struct{})}
	c, _ := newTestController(time.Minute, col)

	done := make(chan *types.SecurityReport)
	go func() {
		r, _ := c.Report(context.Background())
		done <- r
	}()
	<-col.started
	c.Invalidate()
	close(col.gate)
	stale := <-done

	fresh, _ := c.Report(context.Background())
	if fresh == stale {
		t.Error("report started before Invalidate must not be cached")
	}
	if got := col.calls.Load(); got != 2 {
		t.Errorf("collections = %d, want 2", got)
	}
}

func TestController_StartPrimesCache(t *testing.T) {
	col := &countingCollector{}
	c, _ := newTestController(time.Minute, col)
	c.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for !c.Status().Cached {
		if time.Now().After(deadline) {
			t.Fatal("cache was not primed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := c.Report(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := col.calls.Load(); got != 1 {
		t.Errorf("collections = %d, want 1", got)
	}
}
