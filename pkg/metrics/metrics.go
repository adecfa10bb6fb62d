package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Deployment metrics
	DeploymentsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stride_deployments_active",
			Help: "Number of deployment plans currently in flight",
		},
	)

	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stride_deployments_total",
			Help: "Total number of deployments by outcome",
		},
		[]string{"outcome"},
	)

	DeploymentStepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stride_deployment_steps_total",
			Help: "Total number of deployment steps processed",
		},
	)

	DeploymentStepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stride_deployment_step_duration_seconds",
			Help:    "Time taken to complete a deployment step in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Instance metrics
	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stride_instances_total",
			Help: "Number of tracked instances by condition",
		},
		[]string{"condition"},
	)

	InstanceUpdatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stride_instance_updates_total",
			Help: "Total number of instance state updates applied",
		},
	)

	// Kill service metrics
	KillsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stride_kills_in_flight",
			Help: "Number of kill requests currently in flight",
		},
	)

	KillsIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stride_kills_issued_total",
			Help: "Total number of kill requests issued to the offer layer",
		},
	)

	KillRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stride_kill_retries_total",
			Help: "Total number of kill requests re-issued after the retry timeout",
		},
	)

	// Garbage collection metrics
	GCRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stride_gc_runs_total",
			Help: "Total number of garbage collection runs",
		},
	)

	GCDeletionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stride_gc_deletions_total",
			Help: "Total number of entities deleted by garbage collection, by kind",
		},
		[]string{"kind"},
	)

	GCBlockedStores = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stride_gc_blocked_stores",
			Help: "Number of store requests currently blocked on compaction",
		},
	)

	// Reconciliation metrics
	ReconciliationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stride_reconciliations_total",
			Help: "Total number of task reconciliations",
		},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stride_reconciliation_duration_seconds",
			Help:    "Time taken by one task reconciliation in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Launch queue metrics
	LaunchRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stride_launch_requests_total",
			Help: "Total number of instance launch requests enqueued",
		},
	)
)

func init() {
	prometheus.MustRegister(DeploymentsActive)
	prometheus.MustRegister(DeploymentsTotal)
	prometheus.MustRegister(DeploymentStepsTotal)
	prometheus.MustRegister(DeploymentStepDuration)
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(InstanceUpdatesTotal)
	prometheus.MustRegister(KillsInFlight)
	prometheus.MustRegister(KillsIssuedTotal)
	prometheus.MustRegister(KillRetriesTotal)
	prometheus.MustRegister(GCRunsTotal)
	prometheus.MustRegister(GCDeletionsTotal)
	prometheus.MustRegister(GCBlockedStores)
	prometheus.MustRegister(ReconciliationsTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(LaunchRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
