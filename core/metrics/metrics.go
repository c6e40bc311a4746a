// Package metrics holds the prometheus collectors. A nil *Metrics is valid
// and records nothing, so components can take it as an optional dependency.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "acmefront"

type Metrics struct {
	acmeRequests     *prometheus.CounterVec
	acmeProblems     *prometheus.CounterVec
	nonces           *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	vendorCalls      *prometheus.CounterVec
	vendorDuration   *prometheus.HistogramVec
	delegationWrites *prometheus.CounterVec
	tasks            *prometheus.CounterVec
	taskDuration     *prometheus.HistogramVec
}

// New registers every collector with registry.
func New(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		acmeRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acme_requests_total",
			Help:      "ACME requests by route and status code.",
		}, []string{"route", "status"}),
		acmeProblems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acme_problems_total",
			Help:      "ACME problem documents by type.",
		}, []string{"problem"}),
		nonces: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nonces_total",
			Help:      "Nonces issued and consumed.",
		}, []string{"result"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cert_transitions_total",
			Help:      "Certificate status transitions.",
		}, []string{"from", "to"}),
		vendorCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vendor_calls_total",
			Help:      "CA vendor calls by vendor, action and result.",
		}, []string{"vendor", "action", "result"}),
		vendorDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vendor_call_duration_seconds",
			Help:      "CA vendor call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"vendor", "action"}),
		delegationWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegation_txt_writes_total",
			Help:      "Batched TXT writes through delegations.",
		}, []string{"result"}),
		tasks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_tasks_total",
			Help:      "Finished queue tasks by action and result.",
		}, []string{"action", "result"}),
		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_task_duration_seconds",
			Help:      "Queue task handler latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
	}
}

func (m *Metrics) ACMERequest(route string, status int) {
	if m == nil {
		return
	}
	m.acmeRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func (m *Metrics) ACMEProblem(problem string) {
	if m == nil {
		return
	}
	m.acmeProblems.WithLabelValues(problem).Inc()
}

// Nonce records "issued", "accepted" or "rejected".
func (m *Metrics) Nonce(result string) {
	if m == nil {
		return
	}
	m.nonces.WithLabelValues(result).Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) VendorCall(vendor, action string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.vendorCalls.WithLabelValues(vendor, action, result).Inc()
	m.vendorDuration.WithLabelValues(vendor, action).Observe(d.Seconds())
}

func (m *Metrics) DelegationWrite(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.delegationWrites.WithLabelValues(result).Inc()
}

// TaskDone matches the queue worker observer signature.
func (m *Metrics) TaskDone(action, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(action, result).Inc()
	m.taskDuration.WithLabelValues(action).Observe(d.Seconds())
}

// Handler serves the registry in the prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
