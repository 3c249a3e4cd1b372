package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "devproxy"

// Registry holds the proxy's collectors on a private prometheus registry.
// All methods are safe on a nil *Registry.
type Registry struct {
	reg *prometheus.Registry

	requests          *prometheus.CounterVec
	latency           *prometheus.HistogramVec
	rateLimited       *prometheus.CounterVec
	handshakeFailures *prometheus.CounterVec
	activeSessions    *prometheus.GaugeVec
	sessions          *prometheus.CounterVec
	messages          *prometheus.CounterVec
}

func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of proxied requests.",
		}, []string{"service", "route", "method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_latency_seconds",
			Help:      "Time to serve a plain forward, including the upstream round trip.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "route"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by a route rate limit.",
		}, []string{"route"}),
		handshakeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_handshake_failures_total",
			Help:      "Upgrade attempts that did not reach the bridge.",
		}, []string{"service", "stage"}),
		activeSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_sessions_active",
			Help:      "Bridge sessions currently relaying.",
		}, []string{"service"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_sessions_total",
			Help:      "Finished bridge sessions by termination reason.",
		}, []string{"service", "reason"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_messages_total",
			Help:      "Messages relayed by origin side and kind.",
		}, []string{"from", "kind"}),
	}
	r.reg.MustRegister(
		r.requests,
		r.latency,
		r.rateLimited,
		r.handshakeFailures,
		r.activeSessions,
		r.sessions,
		r.messages,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Registry) IncRequest(service, route, method, status string) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(service, route, method, status).Inc()
}

func (r *Registry) ObserveLatency(service, route string, d time.Duration) {
	if r == nil {
		return
	}
	r.latency.WithLabelValues(service, route).Observe(d.Seconds())
}

func (r *Registry) IncRateLimited(route string) {
	if r == nil {
		return
	}
	r.rateLimited.WithLabelValues(route).Inc()
}

// IncHandshakeFailure counts a failed upgrade. stage is "inbound", "dial" or "accept".
func (r *Registry) IncHandshakeFailure(service, stage string) {
	if r == nil {
		return
	}
	r.handshakeFailures.WithLabelValues(service, stage).Inc()
}

func (r *Registry) IncActiveSessions(service string) {
	if r == nil {
		return
	}
	r.activeSessions.WithLabelValues(service).Inc()
}

func (r *Registry) DecActiveSessions(service string) {
	if r == nil {
		return
	}
	r.activeSessions.WithLabelValues(service).Dec()
}

func (r *Registry) IncSession(service, reason string) {
	if r == nil {
		return
	}
	r.sessions.WithLabelValues(service, reason).Inc()
}

func (r *Registry) IncMessage(from, kind string) {
	if r == nil {
		return
	}
	r.messages.WithLabelValues(from, kind).Inc()
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler serves the exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
