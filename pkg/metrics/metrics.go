// Package metrics provides Prometheus metrics for a consensus node.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meta-node-blockchain/ben-or/pkg/benor"
)

const Namespace = "benor"

// Drop reasons for VotesDropped
const (
	ReasonMalformed    = "malformed"
	ReasonUnknownPhase = "unknown_phase"
	ReasonDuplicate    = "duplicate"
	ReasonRejected     = "rejected"
)

// Metrics holds all Prometheus metrics for one node. Each node owns its
// registry, so several nodes can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	// Vote metrics
	VotesReceived *prometheus.CounterVec
	VotesDropped  *prometheus.CounterVec

	// Broadcast metrics
	BroadcastsTotal   *prometheus.CounterVec
	BroadcastFailures prometheus.Counter
	BroadcastLatency  prometheus.Histogram

	// Round metrics
	RoundsStarted prometheus.Counter
	Retries       *prometheus.CounterVec
	Decisions     *prometheus.CounterVec
	Aborts        prometheus.Counter
	CurrentRound  prometheus.Gauge
}

// New creates metrics labelled with the node id.
func New(nodeID int) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{"node": strconv.Itoa(nodeID)}

	return &Metrics{
		registry: reg,
		VotesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "votes_received_total",
			Help:        "Votes accepted into the vote log",
			ConstLabels: labels,
		}, []string{"phase"}),
		VotesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "votes_dropped_total",
			Help:        "Inbound votes that were not counted",
			ConstLabels: labels,
		}, []string{"reason"}),

		BroadcastsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "broadcasts_total",
			Help:        "Votes broadcast to peers",
			ConstLabels: labels,
		}, []string{"phase"}),
		BroadcastFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "broadcast_failures_total",
			Help:        "Per-peer deliveries that failed",
			ConstLabels: labels,
		}),
		BroadcastLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   Namespace,
			Name:        "broadcast_latency_seconds",
			Help:        "Time to fan a vote out to every peer",
			ConstLabels: labels,
			Buckets:     []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),

		RoundsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "rounds_started_total",
			Help:        "Rounds entered by the engine",
			ConstLabels: labels,
		}),
		Retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "retries_total",
			Help:        "Collection retries while the N-F threshold was short",
			ConstLabels: labels,
		}, []string{"phase"}),
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "decisions_total",
			Help:        "Decisions reached",
			ConstLabels: labels,
		}, []string{"value"}),
		Aborts: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "aborts_total",
			Help:        "Runs that hit the round cap",
			ConstLabels: labels,
		}),
		CurrentRound: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        "current_round",
			Help:        "Round the engine is in",
			ConstLabels: labels,
		}),
	}
}

// Registry exposes the node's registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns the /metrics handler for this node.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) VoteReceived(phase benor.Phase) {
	if m == nil {
		return
	}
	m.VotesReceived.WithLabelValues(phaseLabel(phase)).Inc()
}

func (m *Metrics) VoteDropped(reason string) {
	if m == nil {
		return
	}
	m.VotesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Broadcast(phase benor.Phase, failures int, seconds float64) {
	if m == nil {
		return
	}
	m.BroadcastsTotal.WithLabelValues(phaseLabel(phase)).Inc()
	m.BroadcastFailures.Add(float64(failures))
	m.BroadcastLatency.Observe(seconds)
}

// benor.Observer

func (m *Metrics) RoundStarted(round int) {
	if m == nil {
		return
	}
	m.RoundsStarted.Inc()
	m.CurrentRound.Set(float64(round))
}

func (m *Metrics) Retried(phase benor.Phase, _ int) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(phaseLabel(phase)).Inc()
}

func (m *Metrics) Decided(value benor.Bit, round int) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(value.String()).Inc()
	m.CurrentRound.Set(float64(round))
}

func (m *Metrics) Aborted(round int) {
	if m == nil {
		return
	}
	m.Aborts.Inc()
	m.CurrentRound.Set(float64(round))
}

func phaseLabel(p benor.Phase) string {
	return strconv.Itoa(int(p))
}
