package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DirectionSend    = "send"
	DirectionReceive = "receive"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framerelay",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "framerelay",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	relayFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framerelay",
			Subsystem: "relay",
			Name:      "frames_total",
			Help:      "Frames moved by relays.",
		},
		[]string{"transport", "direction", "raw", "error_flag"},
	)
	relayBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framerelay",
			Subsystem: "relay",
			Name:      "payload_bytes_total",
			Help:      "Payload bytes moved by relays, headers excluded.",
		},
		[]string{"transport", "direction"},
	)
	relayFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framerelay",
			Subsystem: "relay",
			Name:      "failures_total",
			Help:      "Relay operations that failed at the transport or codec layer.",
		},
		[]string{"transport", "op"},
	)
	relayConnectDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "framerelay",
			Subsystem: "relay",
			Name:      "connect_duration_seconds",
			Help:      "Relay connect duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"transport", "success"},
	)
	peerSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "framerelay",
			Subsystem: "peer",
			Name:      "active_sessions",
			Help:      "Connections currently served by the peer stub.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			relayFrames, relayBytes, relayFailures, relayConnectDuration,
			peerSessions,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrame(transport, direction string, raw, errorFlag bool, payloadBytes int) {
	RegisterMetrics()
	relayFrames.WithLabelValues(transport, direction, strconv.FormatBool(raw), strconv.FormatBool(errorFlag)).Inc()
	if payloadBytes > 0 {
		relayBytes.WithLabelValues(transport, direction).Add(float64(payloadBytes))
	}
}

func RecordFailure(transport, op string) {
	RegisterMetrics()
	relayFailures.WithLabelValues(transport, op).Inc()
}

func RecordConnect(transport string, duration time.Duration, success bool) {
	RegisterMetrics()
	relayConnectDuration.WithLabelValues(transport, strconv.FormatBool(success)).Observe(duration.Seconds())
}

// TrackPeerSession increments the active session gauge and returns the
// matching decrement.
func TrackPeerSession() func() {
	RegisterMetrics()
	peerSessions.Inc()
	return peerSessions.Dec
}
