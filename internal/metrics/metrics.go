// Package metrics exposes Prometheus collectors for the orchestrator service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	unitsTotal          *prometheus.CounterVec
	tasksTotal          *prometheus.CounterVec
	unitDurationSeconds *prometheus.HistogramVec
	activeSlots         prometheus.Gauge
	effectiveSlots      prometheus.Gauge
	throttleLevel       prometheus.Gauge
	breakerOpen         prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		unitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_units_total",
				Help: "Total number of executed work units, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_tasks_total",
				Help: "Total number of tasks reaching a terminal status.",
			},
			[]string{"status"},
		)

		unitDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_unit_duration_seconds",
				Help:    "Histogram of unit execution latencies, labeled by outcome.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		)

		activeSlots = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrator_active_slots",
				Help: "Number of slots currently executing a work unit.",
			},
		)

		effectiveSlots = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrator_effective_slots",
				Help: "Throttle-adjusted slot ceiling for the worker pool.",
			},
		)

		throttleLevel = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrator_throttle_level",
				Help: "Current resource throttle level in [0,1].",
			},
		)

		breakerOpen = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrator_breaker_open",
				Help: "1 while the circuit breaker is OPEN, 0 while CLOSED.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveUnit records one executed unit attempt.
func ObserveUnit(outcome string, duration time.Duration) {
	Init()
	unitsTotal.WithLabelValues(outcome).Inc()
	unitDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveTask increments the terminal task counter for the given status.
func ObserveTask(status string) {
	Init()
	tasksTotal.WithLabelValues(status).Inc()
}

// IncActiveSlots increments the active slots gauge.
func IncActiveSlots() {
	Init()
	activeSlots.Inc()
}

// DecActiveSlots decrements the active slots gauge.
func DecActiveSlots() {
	Init()
	activeSlots.Dec()
}

// SetEffectiveSlots records the throttle-adjusted slot ceiling.
func SetEffectiveSlots(n int) {
	Init()
	effectiveSlots.Set(float64(n))
}

// SetThrottleLevel records the current throttle level.
func SetThrottleLevel(level float64) {
	Init()
	throttleLevel.Set(level)
}

// SetBreakerOpen records the breaker state.
func SetBreakerOpen(open bool) {
	Init()
	if open {
		breakerOpen.Set(1)
		return
	}
	breakerOpen.Set(0)
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
