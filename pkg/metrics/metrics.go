// Package metrics exposes the runtime's Prometheus collectors: message
// throughput, validation failures, middleware rejections, and render
// latency, one counter/histogram family shared across every registered
// bot and labeled by bot id.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors bundles the counters/histograms a BotRuntime reports to.
type Collectors struct {
	MessagesProcessed  *prometheus.CounterVec
	ValidationFailures *prometheus.CounterVec
	MiddlewareRejects  *prometheus.CounterVec
	RenderLatency      *prometheus.HistogramVec
}

// NewCollectors registers the metric families against reg and returns
// the bundle. Callers typically pass prometheus.DefaultRegisterer.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		MessagesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convoflow",
			Name:      "messages_processed_total",
			Help:      "Inbound messages processed by the bot runtime state machine.",
		}, []string{"bot_id"}),
		ValidationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convoflow",
			Name:      "validation_failures_total",
			Help:      "Page submissions rejected by a schema or custom validator.",
		}, []string{"bot_id", "page_id"}),
		MiddlewareRejects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convoflow",
			Name:      "middleware_rejections_total",
			Help:      "Page renders halted by a non-allow middleware result.",
		}, []string{"bot_id", "page_id"}),
		RenderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "convoflow",
			Name:      "render_page_duration_seconds",
			Help:      "Time spent resolving and sending a page's content.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"bot_id", "page_id"}),
	}
}

// Handler returns the /metrics HTTP handler for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
