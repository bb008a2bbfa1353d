// Package observability exposes the Prometheus collectors the FindIt API
// registers. Registries are lazily initialised so packages can grab their
// collectors without caring about start-up order.
package observability

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPMetrics wraps collectors tracking API request activity.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// EscrowMetrics wraps collectors tracking the bounty money lifecycle.
type EscrowMetrics struct {
	payments *prometheus.CounterVec
	payouts  *prometheus.CounterVec
	webhooks *prometheus.CounterVec
}

// QueueMetrics tracks the in-memory notification delivery queue.
type QueueMetrics struct {
	dropped *prometheus.CounterVec
}

var (
	httpOnce     sync.Once
	httpRegistry *HTTPMetrics

	escrowOnce     sync.Once
	escrowRegistry *EscrowMetrics

	queueOnce     sync.Once
	queueRegistry *QueueMetrics
)

// HTTP returns the lazily-initialised HTTP metrics registry.
func HTTP() *HTTPMetrics {
	httpOnce.Do(func() {
		httpRegistry = &HTTPMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "findit",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route, method, and status class.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "findit",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
		}
		prometheus.MustRegister(httpRegistry.requests, httpRegistry.latency)
	})
	return httpRegistry
}

// Observe records the outcome of one request.
func (m *HTTPMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.requests.WithLabelValues(route, method, fmt.Sprintf("%dxx", status/100)).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// Escrow returns the lazily-initialised escrow metrics registry.
func Escrow() *EscrowMetrics {
	escrowOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			payments: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "findit",
				Subsystem: "escrow",
				Name:      "payments_total",
				Help:      "Payment transitions segmented by outcome.",
			}, []string{"outcome"}),
			payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "findit",
				Subsystem: "escrow",
				Name:      "payouts_total",
				Help:      "Payout transitions segmented by outcome.",
			}, []string{"outcome"}),
			webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "findit",
				Subsystem: "webhooks",
				Name:      "events_total",
				Help:      "Inbound processor webhook events segmented by type and result.",
			}, []string{"type", "result"}),
		}
		prometheus.MustRegister(escrowRegistry.payments, escrowRegistry.payouts, escrowRegistry.webhooks)
	})
	return escrowRegistry
}

// RecordPayment increments the payment outcome counter. Outcomes should be
// stable strings such as "initiated", "completed", "failed", or "duplicate"
// so dashboards stay consistent.
func (m *EscrowMetrics) RecordPayment(outcome string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(outcome).Inc()
}

// RecordPayout increments the payout outcome counter.
func (m *EscrowMetrics) RecordPayout(outcome string) {
	if m == nil {
		return
	}
	m.payouts.WithLabelValues(outcome).Inc()
}

// RecordWebhook increments the webhook event counter.
func (m *EscrowMetrics) RecordWebhook(eventType, result string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.webhooks.WithLabelValues(eventType, result).Inc()
}

// Queue returns the lazily-initialised queue metrics registry.
func Queue() *QueueMetrics {
	queueOnce.Do(func() {
		queueRegistry = &QueueMetrics{
			dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "findit",
				Subsystem: "notify",
				Name:      "dropped_total",
				Help:      "Notifications dropped before delivery segmented by reason.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(queueRegistry.dropped)
	})
	return queueRegistry
}

// RecordDropped counts notifications that never reached the sender.
func (m *QueueMetrics) RecordDropped(reason string, count int) {
	if m == nil || count <= 0 {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.dropped.WithLabelValues(reason).Add(float64(count))
}

// MetricsHandler exposes the default Prometheus registry over HTTP.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
