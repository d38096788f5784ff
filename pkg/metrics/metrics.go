// Package metrics provides Prometheus metrics for the relay pipeline and its HTTP surface.
package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	subsystem      = "app"
	relaySubsystem = "relay"
)

var durationBuckets = []float64{0.1, 0.3, 0.5, 0.7, 1.0, 3.0, 5.0, 7.0, 10.0}

// Ignore reasons reported on relay_messages_ignored_total.
const (
	ReasonNoText      = "no_text"
	ReasonNoTrigger   = "no_trigger"
	ReasonEmptyPrompt = "empty_prompt"
)

// Inference outcomes reported on relay_inference_requests_total.
const (
	OutcomeOK         = "ok"
	OutcomeNoResponse = "no_response"
	OutcomeFallback   = "fallback"
)

// Reply results reported on relay_replies_total.
const (
	ReplySent          = "sent"
	ReplyFailed        = "failed"
	ReplyInvalidSender = "invalid_sender"
)

// Metrics holds all collectors registered on a private registry.
// All recording methods are safe on a nil *Metrics.
type Metrics struct {
	reg *prometheus.Registry

	MessagesReceived  prometheus.Counter
	MessagesIgnored   *prometheus.CounterVec
	InferenceRequests *prometheus.CounterVec
	InferenceDuration prometheus.Histogram
	Replies           *prometheus.CounterVec

	TotalHTTPRequestsCounter prometheus.Counter
	HTTPDurationHistogram    prometheus.Histogram

	httpMu               sync.Mutex
	HTTPRequestsCounters map[int]prometheus.Counter
}

// NewMetrics creates the relay collectors and, when httpCounters is set, the HTTP collectors.
func NewMetrics(httpCounters bool) *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}

	m.MessagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: relaySubsystem,
		Name:      "messages_received_total",
		Help:      "Inbound mesh packets delivered to the relay",
	})
	m.MessagesIgnored = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: relaySubsystem,
		Name:      "messages_ignored_total",
		Help:      "Inbound mesh packets dropped before inference",
	}, []string{"reason"})
	m.InferenceRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: relaySubsystem,
		Name:      "inference_requests_total",
		Help:      "Inference calls by outcome",
	}, []string{"outcome"})
	m.InferenceDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Subsystem: relaySubsystem,
		Name:      "inference_duration_seconds",
		Help:      "Inference call duration in seconds",
		Buckets:   durationBuckets,
	})
	m.Replies = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: relaySubsystem,
		Name:      "replies_total",
		Help:      "Replies dispatched over the mesh by result",
	}, []string{"result"})

	m.reg.MustRegister(m.MessagesReceived, m.MessagesIgnored, m.InferenceRequests, m.InferenceDuration, m.Replies)

	if httpCounters {
		m.TotalHTTPRequestsCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "total_http_requests",
			Help:      "Total HTTP requests",
		})
		m.HTTPDurationHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   durationBuckets,
		})
		m.HTTPRequestsCounters = make(map[int]prometheus.Counter)
		m.reg.MustRegister(m.TotalHTTPRequestsCounter, m.HTTPDurationHistogram)
	}

	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// MessageReceived counts one inbound packet.
func (m *Metrics) MessageReceived() {
	if m == nil {
		return
	}
	m.MessagesReceived.Inc()
}

// MessageIgnored counts a packet dropped by the filter.
func (m *Metrics) MessageIgnored(reason string) {
	if m == nil {
		return
	}
	m.MessagesIgnored.WithLabelValues(reason).Inc()
}

// ObserveInference records one inference call.
func (m *Metrics) ObserveInference(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.InferenceRequests.WithLabelValues(outcome).Inc()
	m.InferenceDuration.Observe(d.Seconds())
}

// ReplyResult counts one dispatch attempt.
func (m *Metrics) ReplyResult(result string) {
	if m == nil {
		return
	}
	m.Replies.WithLabelValues(result).Inc()
}

// IncrementHTTPResponseCounter increments the counter for the given HTTP status code.
func (m *Metrics) IncrementHTTPResponseCounter(code int) {
	m.httpMu.Lock()
	defer m.httpMu.Unlock()
	c, ok := m.HTTPRequestsCounters[code]
	if !ok {
		c = prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      fmt.Sprintf("total_%d_http_responses", code),
			Help:      fmt.Sprintf("Total %s HTTP responses returned", http.StatusText(code)),
		})
		m.reg.MustRegister(c)
		m.HTTPRequestsCounters[code] = c
	}
	c.Inc()
}

// HTTPMiddleware returns a chi-compatible middleware that tracks HTTP metrics.
// It is a pass-through when HTTP counters were not enabled.
func (m *Metrics) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil || m.TotalHTTPRequestsCounter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.TotalHTTPRequestsCounter.Inc()

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			m.HTTPDurationHistogram.Observe(time.Since(start).Seconds())
			m.IncrementHTTPResponseCounter(rw.statusCode)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
