package monitor

import "github.com/prometheus/client_golang/prometheus"

// Source labels, also the order errors appear in a report.
const (
	SourceAuthLog  = "auth_log"
	SourceSessions = "sessions"
	SourceHistory  = "login_history"
)

var (
	collectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hostauth_collections_total",
			Help: "Total security report collections",
		},
	)
	sourceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostauth_source_errors_total",
			Help: "Collections where a source degraded",
		},
		[]string{"source"},
	)
	collectionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hostauth_collection_duration_seconds",
			Help:    "Time to build one security report",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 3, 5, 8},
		},
	)
	reportItems = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hostauth_report_items",
			Help: "Entries in the most recent report by section",
		},
		[]string{"section"},
	)
)

func init() {
	prometheus.MustRegister(collectionsTotal)
	prometheus.MustRegister(sourceErrors)
	prometheus.MustRegister(collectionDuration)
	prometheus.MustRegister(reportItems)
}
