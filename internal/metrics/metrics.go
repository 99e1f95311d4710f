// Package metrics holds the Prometheus collectors shared by the consumer, the
// bulk scan and the admin server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "contactsync"

var ChangesSettled = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "consumer",
	Name:      "changes_settled_total",
	Help:      "Change notifications settled, by kind and outcome (ack or reject).",
}, []string{"kind", "outcome"})

var ConsumerState = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "consumer",
	Name:      "state",
	Help:      "0 disconnected, 1 connecting, 2 consuming.",
})

var MinedContacts = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "scan",
	Name:      "mined_contacts_total",
	Help:      "Recipients seen by the bulk scan, by result (indexed, known, failed).",
}, []string{"result"})

var ScannedUsers = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "scan",
	Name:      "users_total",
	Help:      "Accounts processed by batch runs, by result.",
}, []string{"result"})

var TasksFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "tasks",
	Name:      "finished_total",
	Help:      "Background tasks that reached a final state, by type and state.",
}, []string{"type", "state"})

var HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "Admin HTTP requests served, by method and status code.",
}, []string{"method", "code"})

var HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "request_duration_seconds",
	Help:      "Admin HTTP request latency, by method.",
	Buckets:   prometheus.DefBuckets,
}, []string{"method"})

// NewRegistry returns a registry holding every collector above plus the Go
// runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		ChangesSettled,
		ConsumerState,
		MinedContacts,
		ScannedUsers,
		TasksFinished,
		HTTPRequests,
		HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
