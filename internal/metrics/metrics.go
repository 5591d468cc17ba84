// Package metrics declares the prometheus vectors the server and
// orchestrator publish, and a handler to serve them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "octopoid_claims_total",
		Help: "Total number of task claim attempts by result.",
	}, []string{"result"})

	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "octopoid_transitions_total",
		Help: "Total number of task transitions by transition name and result.",
	}, []string{"transition", "result"})

	LeaseExpiriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "octopoid_lease_expiries_total",
		Help: "Total number of leases expired by the coordinator.",
	}, []string{"reason"})

	PoolInstances = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "octopoid_pool_instances",
		Help: "Number of live agent instances per blueprint.",
	}, []string{"blueprint"})

	SchedulerTickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "octopoid_scheduler_tick_duration_seconds",
		Help:    "Duration of one orchestrator scheduler tick.",
		Buckets: prometheus.DefBuckets,
	}, []string{"cluster"})

	ResultCollectionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "octopoid_result_collection_total",
		Help: "Total number of agent result artifacts collected by outcome.",
	}, []string{"outcome"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "octopoid_api_requests_total",
		Help: "Total HTTP requests handled by the server, by route and status.",
	}, []string{"route", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "octopoid_api_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// Handler returns the standard promhttp exposition handler for mounting at
// /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation and records it into an *prometheus.HistogramVec
// on ObserveWithLabels.
type Timer struct {
	start time.Time
	vec   *prometheus.HistogramVec
}

func NewTimer(vec *prometheus.HistogramVec) *Timer {
	return &Timer{start: time.Now(), vec: vec}
}

func (t *Timer) ObserveWithLabels(labels ...string) {
	t.vec.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
