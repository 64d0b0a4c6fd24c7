package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// PlanRuns counts finished strategy runs by strategy and outcome status
	PlanRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "plan_runs_total", Help: "Planning strategy runs by strategy and status."},
		[]string{"strategy", "status"},
	)
	// Unscheduled counts customers a strategy could not place
	Unscheduled = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "plan_unscheduled_customers_total", Help: "Customers left unscheduled, by strategy."},
		[]string{"strategy"},
	)
	// PlanProfit observes the total profit of each schedule
	PlanProfit = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "plan_profit", Help: "Total schedule profit.", Buckets: []float64{-100, 0, 50, 100, 250, 500, 1000, 2500, 5000}},
		[]string{"strategy"},
	)
	// ReservationConflicts counts reservations refused after a free-looking search
	ReservationConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "calendar_reservation_conflicts_total", Help: "Calendar reservations refused, by strategy."},
		[]string{"strategy"},
	)
	// SolverDuration records solver wall time in seconds
	SolverDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "solver_duration_seconds", Help: "Optimization solver duration in seconds.", Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10, 30}},
		[]string{"status"},
	)
	// SolverFallbacks counts runs that returned the greedy baseline
	SolverFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "solver_fallbacks_total", Help: "Optimization runs that fell back to the greedy schedule."},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(PlanRuns)
		Registry.MustRegister(Unscheduled)
		Registry.MustRegister(PlanProfit)
		Registry.MustRegister(ReservationConflicts)
		Registry.MustRegister(SolverDuration)
		Registry.MustRegister(SolverFallbacks)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// Handler serves the dedicated registry.
func Handler() http.Handler {
	RegisterDefault()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
