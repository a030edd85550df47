package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "veltra"

// Guard decisions
const (
	OutcomePublic    = "public"
	OutcomeAllowed   = "allowed"
	OutcomeExpired   = "token_expired"
	OutcomeInvalid   = "token_invalid"
	OutcomeForbidden = "forbidden"
	OutcomeError     = "error"
)

type Metrics struct {
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPInFlight        prometheus.Gauge

	GuardDecisions *prometheus.CounterVec

	SocketConnections prometheus.Gauge
	SocketRejected    prometheus.Counter
	SocketEvents      *prometheus.CounterVec
}

// New metrics registered in reg
// If reg is nil metrics are not registered anywhere, that's handy for tests
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		HTTPInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),

		GuardDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_decisions_total",
			Help:      "Request authorization decisions by outcome.",
		}, []string{"outcome"}),

		SocketConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "socket_connections",
			Help:      "Open WebSocket connections.",
		}),

		SocketRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socket_handshake_rejected_total",
			Help:      "WebSocket handshakes rejected by authentication.",
		}),

		SocketEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socket_events_total",
			Help:      "WebSocket events received by name.",
		}, []string{"event"}),
	}
}

// Handler exposes metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
