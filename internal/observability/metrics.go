package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus collectors of the engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	transitions        *prometheus.CounterVec
	lockWait           prometheus.Histogram
	eventsPublished    prometheus.Counter
	subscribersDropped prometheus.Counter
	subscribers        prometheus.Gauge
	billingRuns        *prometheus.CounterVec
	lineItemsBilled    prometheus.Counter
	requestCount       *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	errorCount         *prometheus.CounterVec
}

// NewMetrics registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "request_engine_transitions_total",
			Help: "Lifecycle triggers applied by the ledger, by outcome",
		}, []string{"trigger", "outcome"}),
		lockWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "request_engine_lock_wait_seconds",
			Help:    "Time spent waiting for a per-request lock",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}),
		eventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "request_engine_events_published_total",
			Help: "Lifecycle events appended to the event bus",
		}),
		subscribersDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "request_engine_subscribers_dropped_total",
			Help: "Subscribers dropped for exceeding their buffer",
		}),
		subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "request_engine_subscribers",
			Help: "Live event bus subscriptions",
		}),
		billingRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "request_engine_billing_generations_total",
			Help: "Billing generate calls per client, by outcome",
		}, []string{"outcome"}),
		lineItemsBilled: factory.NewCounter(prometheus.CounterOpts{
			Name: "request_engine_line_items_billed_total",
			Help: "Requests attached to a billing period",
		}),
		requestCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "request_engine_http_requests_total",
			Help: "HTTP requests served",
		}, []string{"method", "route", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "request_engine_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		errorCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "request_engine_http_errors_total",
			Help: "HTTP errors by domain error code",
		}, []string{"method", "route", "code"}),
	}
}

// TransitionApplied counts one ledger Apply call.
func (m *Metrics) TransitionApplied(trigger, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(trigger, outcome).Inc()
}

// ObserveLockWait records how long a caller waited for a request lock.
func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

// EventPublished counts one bus publish.
func (m *Metrics) EventPublished() {
	if m == nil {
		return
	}
	m.eventsPublished.Inc()
}

// SubscriberDropped counts one lagging subscriber drop.
func (m *Metrics) SubscriberDropped() {
	if m == nil {
		return
	}
	m.subscribersDropped.Inc()
}

// SetSubscribers records the number of live subscriptions.
func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

// BillingGenerated counts one per-client generate outcome and its new line items.
func (m *Metrics) BillingGenerated(outcome string, lineItems int) {
	if m == nil {
		return
	}
	m.billingRuns.WithLabelValues(outcome).Inc()
	m.lineItemsBilled.Add(float64(lineItems))
}

// RecordRequest records an HTTP request.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordError records an HTTP error by domain code.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.errorCount.WithLabelValues(method, route, code).Inc()
}
