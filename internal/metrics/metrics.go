package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Dashboard sessions currently running
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fieldtrack_sessions_active",
		Help: "Number of operator sessions currently open",
	})

	// Mode transitions, labelled by the mode entered
	ModeTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldtrack_session_mode_transitions_total",
		Help: "Session mode transitions by target mode",
	}, []string{"mode"})

	// Live wait windows that ended in the simulator
	FallbackActivations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldtrack_fallback_activations_total",
		Help: "Times a session fell back to simulated positions, by reason",
	}, []string{"reason"})

	PositionsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldtrack_positions_received_total",
		Help: "Positions appended to session trails, by source",
	}, []string{"source"})

	DecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fieldtrack_feed_decode_failures_total",
		Help: "Inbound feed messages dropped because they could not be decoded",
	})

	FeedConnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldtrack_feed_connects_total",
		Help: "Push feed connection attempts by outcome",
	}, []string{"transport", "outcome"})

	HistoryFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fieldtrack_history_fetch_duration_seconds",
		Help:    "Time taken to fetch and reconstruct a historical route",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
	})

	HistoryResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldtrack_history_results_total",
		Help: "Historical fetch outcomes: empty, raw, reconstructed, error",
	}, []string{"result"})

	ReconstructionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fieldtrack_route_reconstruction_failures_total",
		Help: "Routing service calls that failed and fell back to raw samples",
	})

	RouteCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldtrack_route_cache_lookups_total",
		Help: "Route cache lookups by outcome",
	}, []string{"outcome"})

	RelayClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fieldtrack_relay_clients",
		Help: "Feed clients connected to the embedded relay",
	})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fieldtrack_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	})
)
