// Package controller serves security reports to the API. It caches the most
// recent report for a short TTL and lets concurrent requests share a single
// collection.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/invisible-tech/hostauth-sensor/internal/types"
)

// Prometheus metrics (registered once).
var (
	cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostauth_cache_requests_total",
			Help: "Report requests by cache result",
		},
		[]string{"result"},
	)
	cacheInvalidations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hostauth_cache_invalidations_total",
			Help: "Cached reports dropped before their TTL",
		},
	)
)

func init() {
	prometheus.MustRegister(cacheRequests)
	prometheus.MustRegister(cacheInvalidations)
}

const refreshKey = "security-report"

// Collector builds a fresh report.
type Collector interface {
	Collect(ctx context.Context) *types.SecurityReport
}

// Config for the report cache
type Config struct {
	// TTL is how long a report is served from cache. Zero disables caching;
	// concurrent requests still share one collection.
	TTL time.Duration
}

// Status describes the cached report.
type Status struct {
	LastCollected time.Time
	Cached        bool
}

// Controller caches reports from a Collector. Returned reports are shared
// between callers and must not be modified.
type Controller struct {
	cfg       Config
	log       *logrus.Logger
	collector Collector
	group     singleflight.Group
	now       func() time.Time

	mu            sync.Mutex
	report        *types.SecurityReport
	fetchedAt     time.Time
	lastCollected time.Time
	generation    uint64
}

// New creates a new Controller over collector.
func New(cfg Config, collector Collector, log *logrus.Logger) *Controller {
	return &Controller{
		cfg:       cfg,
		log:       log,
		collector: collector,
		now:       time.Now,
	}
}

// Start primes the cache in the background so the first request is served
// without waiting on a collection.
func (c *Controller) Start(ctx context.Context) {
	go func() {
		if _, err := c.Report(ctx); err != nil {
			c.log.WithError(err).Debug("Initial report collection abandoned")
		}
	}()
}

// Report returns the cached report while it is fresh, otherwise collects a
// new one. Callers arriving while a collection runs wait for that one. The
// only error is ctx's, when the caller gives up waiting.
func (c *Controller) Report(ctx context.Context) (*types.SecurityReport, error) {
	c.mu.Lock()
	if c.report != nil && c.now().Sub(c.fetchedAt) < c.cfg.TTL {
		report := c.report
		c.mu.Unlock()
		cacheRequests.WithLabelValues("hit").Inc()
		return report, nil
	}
	gen := c.generation
	c.mu.Unlock()

	ch := c.group.DoChan(refreshKey, func() (interface{}, error) {
		return c.refresh(gen), nil
	})
	select {
	case res := <-ch:
		if res.Shared {
			cacheRequests.WithLabelValues("shared").Inc()
		} else {
			cacheRequests.WithLabelValues("miss").Inc()
		}
		return res.Val.(*types.SecurityReport), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// refresh collects outside any request context so an abandoned request does
// not cut short a collection other callers are waiting on.
func (c *Controller) refresh(gen uint64) *types.SecurityReport {
	c.mu.Lock()
	if c.report != nil && c.now().Sub(c.fetchedAt) < c.cfg.TTL {
		// Filled by a collection that finished after this caller's check.
		report := c.report
		c.mu.Unlock()
		return report
	}
	c.mu.Unlock()

	report := c.collector.Collect(context.Background())

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.lastCollected = now
	// A report started before an invalidation is returned but not cached.
	if c.cfg.TTL > 0 && c.generation == gen {
		c.report = report
		c.fetchedAt = now
	}
	return report
}

// Invalidate drops the cached report. The next Report collects afresh, even
// if a collection is already running.
func (c *Controller) Invalidate() {
	c.mu.Lock()
	c.generation++
	hadReport := c.report != nil
	c.report = nil
	c.mu.Unlock()
	c.group.Forget(refreshKey)

	if hadReport {
		cacheInvalidations.Inc()
		c.log.Debug("Cached security report invalidated")
	}
}

// Status reports when the last collection finished and whether a fresh
// report is cached.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		LastCollected: c.lastCollected,
		Cached:        c.report != nil && c.now().Sub(c.fetchedAt) < c.cfg.TTL,
	}
}
