package monitoring

import (
	"time"

	"hirecall/internal/core/domain"
	"hirecall/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hirecall"

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// CallCollector records client-side call metrics.
type CallCollector struct {
	callsPlaced          prometheus.Counter
	callsAccepted        prometheus.Counter
	callsDeclined        *prometheus.CounterVec
	callDuration         prometheus.Histogram
	negotiationDuration  *prometheus.HistogramVec
	transcriptionRestart *prometheus.CounterVec
	transcriptSegments   prometheus.Counter
	signalingReconnects  *prometheus.CounterVec
}

func NewCallCollector(reg prometheus.Registerer) *CallCollector {
	factory := promauto.With(reg)
	return &CallCollector{
		callsPlaced: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_placed_total",
			Help:      "Calls placed by this client",
		}),
		callsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_accepted_total",
			Help:      "Incoming calls accepted",
		}),
		callsDeclined: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_declined_total",
			Help:      "Calls declined, by reason",
		}, []string{"reason"}),
		callDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Duration of ended calls",
			Buckets:   []float64{10, 30, 60, 300, 600, 1200, 1800, 3600},
		}),
		negotiationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "negotiation_duration_seconds",
			Help:      "Time from call start until the peer connection connected or failed",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"result"}),
		transcriptionRestart: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_restarts_total",
			Help:      "Automatic speech recognition restarts, by call direction",
		}, []string{"direction"}),
		transcriptSegments: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_segments_total",
			Help:      "Final transcript segments sent",
		}),
		signalingReconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_reconnects_total",
			Help:      "Signaling channel reconnect attempts, by result",
		}, []string{"result"}),
	}
}

func (c *CallCollector) RecordCallPlaced()   { c.callsPlaced.Inc() }
func (c *CallCollector) RecordCallAccepted() { c.callsAccepted.Inc() }

func (c *CallCollector) RecordCallDeclined(reason string) {
	if reason == "" {
		reason = "declined"
	}
	c.callsDeclined.WithLabelValues(reason).Inc()
}

func (c *CallCollector) RecordCallEnded(duration time.Duration) {
	c.callDuration.Observe(duration.Seconds())
}

func (c *CallCollector) RecordNegotiation(duration time.Duration, success bool) {
	c.negotiationDuration.WithLabelValues(result(success)).Observe(duration.Seconds())
}

func (c *CallCollector) RecordTranscriptionRestart(direction domain.Direction) {
	c.transcriptionRestart.WithLabelValues(string(direction)).Inc()
}

func (c *CallCollector) RecordTranscriptSegment() { c.transcriptSegments.Inc() }

func (c *CallCollector) RecordSignalingReconnect(success bool) {
	c.signalingReconnects.WithLabelValues(result(success)).Inc()
}

// RelayCollector records relay server metrics.
type RelayCollector struct {
	connectionsActive *prometheus.GaugeVec
	connectionsTotal  *prometheus.CounterVec
	messagesRelayed   *prometheus.CounterVec
	messagesDropped   *prometheus.CounterVec
}

func NewRelayCollector(reg prometheus.Registerer) *RelayCollector {
	factory := promauto.With(reg)
	return &RelayCollector{
		connectionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "connections_active",
			Help:      "Open websocket connections, by channel",
		}, []string{"channel"}),
		connectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "connections_total",
			Help:      "Websocket connections accepted, by channel",
		}, []string{"channel"}),
		messagesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "messages_relayed_total",
			Help:      "Envelopes relayed, by type",
		}, []string{"type"}),
		messagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "messages_dropped_total",
			Help:      "Envelopes dropped, by reason",
		}, []string{"reason"}),
	}
}

func (r *RelayCollector) RecordConnectionOpened(channel string) {
	r.connectionsActive.WithLabelValues(channel).Inc()
	r.connectionsTotal.WithLabelValues(channel).Inc()
}

func (r *RelayCollector) RecordConnectionClosed(channel string) {
	r.connectionsActive.WithLabelValues(channel).Dec()
}

func (r *RelayCollector) RecordMessageRelayed(msgType domain.SignalType) {
	r.messagesRelayed.WithLabelValues(string(msgType)).Inc()
}

func (r *RelayCollector) RecordMessageDropped(reason string) {
	r.messagesDropped.WithLabelValues(reason).Inc()
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

var (
	_ ports.CallMetrics  = (*CallCollector)(nil)
	_ ports.RelayMetrics = (*RelayCollector)(nil)
)
