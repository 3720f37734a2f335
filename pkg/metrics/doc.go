/*
Package metrics provides Prometheus metrics collection and exposition for
a resql node.

The package defines and registers resql's gauges, counters, and
histograms using the Prometheus client library, exposed over HTTP for
scraping. Unlike a cluster-orchestration node, a resql node has one
dominant axis of observability: where it stands in the replicated log
(term, commit index, applied index) and whether it is making progress
applying it.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Collector                       │          │
	│  │  - Polls *consensus.Node/*applier.State/    │          │
	│  │    *logstore.Store off the event loop        │          │
	│  │    goroutine, on a ticker                    │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Metrics Catalog

resql_is_leader:
  - Type: Gauge
  - Description: Whether this node currently believes itself leader (1/0)

resql_term:
  - Type: Gauge
  - Description: Current consensus term

resql_commit_index:
  - Type: Gauge
  - Description: Highest log index known committed (leader view)

resql_applied_index:
  - Type: Gauge
  - Description: Highest log index applied to local state

resql_log_size_bytes:
  - Type: Gauge
  - Description: Combined mapped capacity of both log pages

resql_sessions_total:
  - Type: Gauge
  - Description: Sessions currently tracked (live or soft-disconnected)

resql_voters_total:
  - Type: Gauge
  - Description: Size of the current voter set

resql_connected_peers:
  - Type: Gauge
  - Description: Peers this node currently considers connected

resql_client_requests_total{result}:
  - Type: Counter
  - Description: CLIENT_REQ messages handled, by outcome
  - Labels: result ("ok", "not_leader", "error")

resql_apply_duration_seconds:
  - Type: Histogram
  - Description: Time to apply one committed log entry

resql_snapshot_duration_seconds:
  - Type: Histogram
  - Description: Time to compact a sealed page into a snapshot file

resql_elections_total:
  - Type: Counter
  - Description: Election rounds started by this node

# Usage

	timer := metrics.NewTimer()
	// ... apply an entry ...
	timer.ObserveDuration(metrics.ApplyDuration)

	metrics.RequestsTotal.WithLabelValues("ok").Inc()

	http.Handle("/metrics", metrics.Handler())

# Integration Points

  - pkg/server: constructs the Collector and starts/stops it around Run()
  - pkg/consensus: Term/CommitIndex/VoterCount/ConnectedPeerCount/IsLeader
    accessors the Collector polls
  - pkg/applier: Index and Sessions.Len() the Collector polls
  - pkg/logstore: SizeBytes() the Collector polls

# Design Patterns

Package Init Registration:
  - All metrics registered in init()
  - MustRegister panics on duplicate registration

Collector, Not Push:
  - The Collector samples gauges off a ticker in its own goroutine,
    reading only values safe to read without the event loop's
    cooperation (counters and plain index accessors) — it never calls
    into consensus.Node methods that mutate state.

# See Also

  - Prometheus client library: https://github.com/prometheus/client_golang
*/
package metrics
