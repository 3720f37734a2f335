// Package metrics exposes prometheus gauges and counters for the
// consensus/replication state of spec.md §5/§9: leadership, term,
// commit/applied index, log size, and session count, adapted from the
// teacher's cluster-orchestration gauge set onto resql's own replicated
// state.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	IsLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "resql_is_leader",
		Help: "Whether this node currently believes itself to be leader (1 = leader, 0 = follower/candidate)",
	})

	Term = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "resql_term",
		Help: "Current consensus term",
	})

	CommitIndex = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "resql_commit_index",
		Help: "Highest log index known committed (leader only; 0 on followers)",
	})

	AppliedIndex = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "resql_applied_index",
		Help: "Highest log index applied to local state",
	})

	LogSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "resql_log_size_bytes",
		Help: "Approximate size of the on-disk log store in bytes",
	})

	SessionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "resql_sessions_total",
		Help: "Number of sessions currently tracked (live or soft-disconnected)",
	})

	VotersTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "resql_voters_total",
		Help: "Size of the current voter set",
	})

	ConnectedPeers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "resql_connected_peers",
		Help: "Number of peers this node currently considers connected",
	})

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resql_client_requests_total",
			Help: "Total CLIENT_REQ messages handled, by outcome",
		},
		[]string{"result"},
	)

	ApplyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "resql_apply_duration_seconds",
		Help:    "Time taken to apply one committed log entry",
		Buckets: prometheus.DefBuckets,
	})

	SnapshotDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "resql_snapshot_duration_seconds",
		Help:    "Time taken to compact a sealed page into a snapshot file",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
	})

	ElectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "resql_elections_total",
		Help: "Total number of election rounds started by this node",
	})
)

func init() {
	prometheus.MustRegister(
		IsLeader,
		Term,
		CommitIndex,
		AppliedIndex,
		LogSizeBytes,
		SessionsTotal,
		VotersTotal,
		ConnectedPeers,
		RequestsTotal,
		ApplyDuration,
		SnapshotDuration,
		ElectionsTotal,
	)
}

// Handler returns the Prometheus HTTP handler, exposed on /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an operation for later observation against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time against one label
// combination of a HistogramVec.
func (t *Timer) ObserveDurationVec(vec *prometheus.HistogramVec, labelValues ...string) {
	vec.WithLabelValues(labelValues...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
