// Package metrics exposes Prometheus collectors for the runtime's lifecycle
// and request-handling events, following the dedicated-registry plus
// MustRegister-in-init pattern.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Registry = prometheus.NewRegistry()

var (
	// Deployments and Undeployments carry status=error|success so the two
	// outcomes are distinguishable, per spec.md's lagon_deployments{status,
	// deployment, function} shape.
	Deployments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lagon_deployments",
			Help: "Total number of deploy attempts, labeled by outcome.",
		},
		[]string{"status", "deployment", "function"},
	)

	Undeployments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lagon_undeployments",
			Help: "Total number of undeploy attempts, labeled by outcome.",
		},
		[]string{"status", "deployment", "function"},
	)

	Promotions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lagon_promotion",
			Help: "Total number of deployments promoted to production.",
		},
		[]string{"deployment", "function"},
	)

	// Isolates is incremented when a worker's isolate is created and
	// decremented when it exits, so the gauge always reflects live workers
	// broken down by deployment/function rather than a periodic snapshot.
	Isolates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lagon_isolates",
			Help: "Current number of live isolate workers, labeled by deployment/function.",
		},
		[]string{"deployment", "function"},
	)

	IsolateMemoryUsage = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lagon_isolate_memory_usage",
			Help:    "Memory usage in bytes reported by isolates after each request.",
			Buckets: prometheus.ExponentialBuckets(1<<20, 2, 12),
		},
	)

	IsolateTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lagon_isolate_timeouts",
			Help: "Total number of requests that breached tick/total timeout.",
		},
		[]string{"deployment_id"},
	)

	IsolateMemoryLimits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lagon_isolate_memory_limits",
			Help: "Total number of requests that breached the memory limit.",
		},
		[]string{"deployment_id"},
	)

	IsolateErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lagon_isolate_errors",
			Help: "Total number of requests that ended in an uncaught script error.",
		},
		[]string{"deployment_id"},
	)

	IgnoredRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lagon_ignored_requests",
			Help: "Total number of requests dropped before dispatch (unknown host, cron guard, etc).",
		},
		[]string{"reason"},
	)
)

func init() {
	Registry.MustRegister(
		Deployments,
		Undeployments,
		Promotions,
		Isolates,
		IsolateMemoryUsage,
		IsolateTimeouts,
		IsolateMemoryLimits,
		IsolateErrors,
		IgnoredRequests,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered collectors.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
