package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the relay.
type Metrics struct {
	WebhookRequests   *prometheus.CounterVec
	CacheEvents       *prometheus.CounterVec
	DurableSyncs      *prometheus.CounterVec
	ProviderErrors    *prometheus.CounterVec
	CompletionLatency prometheus.Histogram
	CacheEntries      prometheus.Gauge
	TailClients       prometheus.Gauge
	TailDrops         prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		WebhookRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Inbound webhook requests by outcome.",
		}, []string{"outcome"}),
		CacheEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_cache_events_total",
			Help:      "Conversation cache events by kind.",
		}, []string{"event"}),
		DurableSyncs: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "durable_syncs_total",
			Help:      "Background durable-store writes by outcome.",
		}, []string{"outcome"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Completion provider errors by provider and code.",
		}, []string{"provider", "code"}),
		CompletionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_latency_ms",
			Help:      "Completion provider round-trip latency in milliseconds.",
			Buckets:   []float64{200, 500, 1000, 2000, 3000, 5000, 8000, 15000},
		}),
		CacheEntries: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "context_cache_entries",
			Help:      "Local conversation records currently cached.",
		}),
		TailClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tail_clients",
			Help:      "Connected live-tail websocket clients.",
		}),
		TailDrops: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tail_dropped_events_total",
			Help:      "Live-tail events dropped because a subscriber was slow.",
		}),
	}
}

func (m *Metrics) ObserveCompletionLatency(d time.Duration) {
	m.CompletionLatency.Observe(float64(d.Milliseconds()))
}

// ObserveProviderError records a failed completion call. A zero status means
// the failure never reached the upstream (transport, cancellation).
func (m *Metrics) ObserveProviderError(provider string, status int) {
	code := "transport"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.ProviderErrors.WithLabelValues(provider, code).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
