// Package metrics exposes gateway counters and histograms to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry. A nil *Collector records nothing, so
// callers never need to check whether metrics are enabled.
type Collector struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tokens          *prometheus.CounterVec
	throughput      *prometheus.HistogramVec
	tokenizer       *prometheus.CounterVec
	streamChunks    *prometheus.CounterVec
	auditErrors     *prometheus.CounterVec
}

// NewCollector registers all gateway metrics on registry, or on a fresh
// registry when nil.
func NewCollector(namespace string, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if namespace == "" {
		namespace = "aiswitch"
	}

	c := &Collector{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Completion requests by route, streaming mode and outcome.",
		}, []string{"route", "stream", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Time from dispatch until the upstream response was fully consumed.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"route", "stream"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "tokens_total",
			Help:      "Resolved token counts by route and kind.",
		}, []string{"route", "kind"}),
		throughput: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "tokens_per_second",
			Help:      "Completion throughput per request.",
			Buckets:   []float64{1, 5, 10, 20, 40, 80, 160, 320},
		}, []string{"route"}),
		tokenizer: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tokenizer",
			Name:      "requests_total",
			Help:      "Fallback tokenize calls by outcome.",
		}, []string{"outcome"}),
		streamChunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "chunks_total",
			Help:      "Raw upstream chunks read, by whether the caller received them.",
		}, []string{"delivered"}),
		auditErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "errors_total",
			Help:      "Failed audit store operations.",
		}, []string{"op"}),
	}

	registry.MustRegister(
		c.requests,
		c.requestDuration,
		c.tokens,
		c.throughput,
		c.tokenizer,
		c.streamChunks,
		c.auditErrors,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records a finished gateway request.
func (c *Collector) ObserveRequest(route string, stream bool, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	s := strconv.FormatBool(stream)
	c.requests.WithLabelValues(route, s, outcome).Inc()
	if elapsed > 0 {
		c.requestDuration.WithLabelValues(route, s).Observe(elapsed.Seconds())
	}
}

// ObserveUsage records whichever counts resolved.
func (c *Collector) ObserveUsage(route string, prompt, completion, tps *int64) {
	if c == nil {
		return
	}
	if prompt != nil {
		c.tokens.WithLabelValues(route, "prompt").Add(float64(*prompt))
	}
	if completion != nil {
		c.tokens.WithLabelValues(route, "completion").Add(float64(*completion))
	}
	if tps != nil {
		c.throughput.WithLabelValues(route).Observe(float64(*tps))
	}
}

// ObserveChunk counts one streamed chunk.
func (c *Collector) ObserveChunk(delivered bool) {
	if c == nil {
		return
	}
	c.streamChunks.WithLabelValues(strconv.FormatBool(delivered)).Inc()
}

// ObserveTokenize counts one tokenizer call.
func (c *Collector) ObserveTokenize(ok bool) {
	if c == nil {
		return
	}
	outcome := "miss"
	if ok {
		outcome = "ok"
	}
	c.tokenizer.WithLabelValues(outcome).Inc()
}

// ObserveAuditError counts one failed store operation.
func (c *Collector) ObserveAuditError(op string) {
	if c == nil {
		return
	}
	c.auditErrors.WithLabelValues(op).Inc()
}
