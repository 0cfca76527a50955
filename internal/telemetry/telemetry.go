// Package telemetry wires gossip activity into Prometheus metrics,
// kept separate from internal/gossip so that package does not import
// the client library directly.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GossipMetrics implements gossip.Metrics backed by Prometheus
// counters and a histogram for merge latency.
type GossipMetrics struct {
	sendTotal       *prometheus.CounterVec
	sendBytesTotal  *prometheus.CounterVec
	receiveTotal    *prometheus.CounterVec
	mergeTotal      *prometheus.CounterVec
	mergeDuration   prometheus.Histogram
	merkleMismatch  prometheus.Counter
}

// NewGossipMetrics registers gossip series with reg and returns the collector.
func NewGossipMetrics(reg prometheus.Registerer, nodeID string) *GossipMetrics {
	labels := prometheus.Labels{"node_id": nodeID}

	m := &GossipMetrics{
		sendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "meshnode",
			Subsystem:   "gossip",
			Name:        "sent_total",
			Help:        "Gossip datagrams sent, by message type and outcome.",
			ConstLabels: labels,
		}, []string{"type", "outcome"}),
		sendBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "meshnode",
			Subsystem:   "gossip",
			Name:        "sent_bytes_total",
			Help:        "Bytes sent over gossip, by message type.",
			ConstLabels: labels,
		}, []string{"type"}),
		receiveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "meshnode",
			Subsystem:   "gossip",
			Name:        "received_total",
			Help:        "Gossip datagrams received, by message type.",
			ConstLabels: labels,
		}, []string{"type"}),
		mergeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "meshnode",
			Subsystem:   "gossip",
			Name:        "merges_total",
			Help:        "Incoming state merges, by whether the fingerprint changed.",
			ConstLabels: labels,
		}, []string{"changed"}),
		mergeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "meshnode",
			Subsystem:   "gossip",
			Name:        "merge_duration_seconds",
			Help:        "Time spent merging an incoming state_sync payload.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		merkleMismatch: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "meshnode",
			Subsystem:   "gossip",
			Name:        "merkle_mismatches_total",
			Help:        "merkle_only digests that disagreed with local state.",
			ConstLabels: labels,
		}),
	}

	reg.MustRegister(m.sendTotal, m.sendBytesTotal, m.receiveTotal, m.mergeTotal, m.mergeDuration, m.merkleMismatch)
	return m
}

func (m *GossipMetrics) ObserveSend(messageType string, bytes int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.sendTotal.WithLabelValues(messageType, outcome).Inc()
	if err == nil {
		m.sendBytesTotal.WithLabelValues(messageType).Add(float64(bytes))
	}
}

func (m *GossipMetrics) ObserveReceive(messageType string, bytes int) {
	m.receiveTotal.WithLabelValues(messageType).Inc()
}

func (m *GossipMetrics) ObserveMerge(elapsed time.Duration, changed bool) {
	m.mergeDuration.Observe(elapsed.Seconds())
	label := "false"
	if changed {
		label = "true"
	}
	m.mergeTotal.WithLabelValues(label).Inc()
}

func (m *GossipMetrics) ObserveMerkleMismatch() {
	m.merkleMismatch.Inc()
}
