// Package monitoring provides Prometheus metrics for a LanChat node.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue labels used by QueueOverflow.
const (
	QueueOutgoing = "outgoing"
	QueueIncoming = "incoming"
)

// Metrics holds all Prometheus metrics for one node. All methods are safe on
// a nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Transport metrics
	DatagramsReceived prometheus.Counter
	MalformedDropped  prometheus.Counter
	LoopbackDropped   prometheus.Counter
	DuplicatesDropped prometheus.Counter
	QueueOverflow     *prometheus.CounterVec
	SendFailures      prometheus.Counter
	MessagesSent      *prometheus.CounterVec
	MessagesProcessed *prometheus.CounterVec
	HandlerPanics     prometheus.Counter
	DedupSetSize      prometheus.Gauge
	DedupClears       prometheus.Counter

	// Discovery metrics
	PeersOnline prometheus.Gauge
	PeersFound  prometheus.Counter
	PeersLost   prometheus.Counter

	// Group metrics
	Groups        prometheus.Gauge
	GroupFanout   prometheus.Histogram
	UnknownGroups prometheus.Counter
}

// NewMetrics creates metrics registered on a fresh registry under namespace.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		DatagramsReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_received_total",
			Help:      "Total number of datagrams read from the receive socket",
		}),
		MalformedDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_dropped_total",
			Help:      "Datagrams dropped because they failed to decode",
		}),
		LoopbackDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loopback_dropped_total",
			Help:      "Datagrams dropped because they were sent by this node",
		}),
		DuplicatesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_dropped_total",
			Help:      "Messages dropped because their id was already processed",
		}),
		QueueOverflow: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_overflow_total",
			Help:      "Messages dropped because a bounded queue was full",
		}, []string{"queue"}),
		SendFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Datagram writes that failed",
		}),
		MessagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Datagrams written, by message kind",
		}, []string{"kind"}),
		MessagesProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_processed_total",
			Help:      "Messages handed to the inbound handler, by kind",
		}, []string{"kind"}),
		HandlerPanics: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_panics_total",
			Help:      "Panics recovered in the inbound handler",
		}),
		DedupSetSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dedup_set_size",
			Help:      "Number of message ids currently remembered",
		}),
		DedupClears: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_clears_total",
			Help:      "Times the dedup set was cleared after exceeding its threshold",
		}),

		PeersOnline: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers_online",
			Help:      "Peers currently in the registry",
		}),
		PeersFound: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peers_found_total",
			Help:      "Peers discovered for the first time",
		}),
		PeersLost: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peers_lost_total",
			Help:      "Peers evicted by the liveness sweep",
		}),

		Groups: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "groups",
			Help:      "Groups known locally",
		}),
		GroupFanout: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "group_fanout_seconds",
			Help:      "Time spent unicasting one group message to all members",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		UnknownGroups: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_group_total",
			Help:      "Group operations that referenced a group not known locally",
		}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordReceived records one datagram read from the socket.
func (m *Metrics) RecordReceived() {
	if m == nil {
		return
	}
	m.DatagramsReceived.Inc()
}

// RecordMalformed records a datagram that failed to decode.
func (m *Metrics) RecordMalformed() {
	if m == nil {
		return
	}
	m.MalformedDropped.Inc()
}

// RecordLoopback records a datagram sent by this node.
func (m *Metrics) RecordLoopback() {
	if m == nil {
		return
	}
	m.LoopbackDropped.Inc()
}

// RecordDuplicate records a message dropped by the dedup set.
func (m *Metrics) RecordDuplicate() {
	if m == nil {
		return
	}
	m.DuplicatesDropped.Inc()
}

// RecordOverflow records a message dropped because queue was full.
func (m *Metrics) RecordOverflow(queue string) {
	if m == nil {
		return
	}
	m.QueueOverflow.WithLabelValues(queue).Inc()
}

// RecordSend records one datagram write.
func (m *Metrics) RecordSend(kind string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SendFailures.Inc()
		return
	}
	m.MessagesSent.WithLabelValues(kind).Inc()
}

// RecordProcessed records a message handed to the inbound handler.
func (m *Metrics) RecordProcessed(kind string) {
	if m == nil {
		return
	}
	m.MessagesProcessed.WithLabelValues(kind).Inc()
}

// RecordPanic records a recovered handler panic.
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.HandlerPanics.Inc()
}

// UpdateDedupSize sets the dedup gauge; cleared marks a wholesale clear.
func (m *Metrics) UpdateDedupSize(size int, cleared bool) {
	if m == nil {
		return
	}
	m.DedupSetSize.Set(float64(size))
	if cleared {
		m.DedupClears.Inc()
	}
}

// RecordPeerFound records a newly discovered peer.
func (m *Metrics) RecordPeerFound() {
	if m == nil {
		return
	}
	m.PeersFound.Inc()
}

// RecordPeerLost records an evicted peer.
func (m *Metrics) RecordPeerLost() {
	if m == nil {
		return
	}
	m.PeersLost.Inc()
}

// UpdatePeers sets the online peer gauge.
func (m *Metrics) UpdatePeers(n int) {
	if m == nil {
		return
	}
	m.PeersOnline.Set(float64(n))
}

// UpdateGroups sets the group gauge.
func (m *Metrics) UpdateGroups(n int) {
	if m == nil {
		return
	}
	m.Groups.Set(float64(n))
}

// RecordGroupFanout records the duration of one group send.
func (m *Metrics) RecordGroupFanout(d time.Duration) {
	if m == nil {
		return
	}
	m.GroupFanout.Observe(d.Seconds())
}

// RecordUnknownGroup records an operation on an unknown group.
func (m *Metrics) RecordUnknownGroup() {
	if m == nil {
		return
	}
	m.UnknownGroups.Inc()
}
