package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// HTTP surface
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wpc_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"route", "method", "code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wpc_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	ActiveRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wpc_active_requests",
		Help: "Current in-flight requests",
	})

	// Admission
	AdmissionDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wpc_admission_decisions_total",
		Help: "Admission gate outcomes",
	}, []string{"decision"})

	// Provider gateway
	ProviderAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wpc_provider_attempts_total",
		Help: "Provider API attempts by operation and outcome",
	}, []string{"op", "outcome"})

	ProviderCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wpc_provider_call_duration_seconds",
		Help:    "Provider API call latency including retries",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"op"})

	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wpc_breaker_state",
		Help: "Circuit breaker state per dependency (0 closed, 1 half-open, 2 open)",
	}, []string{"dependency"})

	BreakerOpenTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wpc_breaker_open_total",
		Help: "Circuit breaker open transitions",
	}, []string{"dependency"})

	RegionFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wpc_region_fallback_total",
		Help: "Capacity-triggered alternate-region fallbacks",
	})

	// Pool manager
	PoolIdle = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wpc_pool_idle",
		Help: "Idle pre-warmed workspaces per pool",
	}, []string{"blueprint", "os"})

	PoolAcquires = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wpc_pool_acquire_total",
		Help: "Pool acquisition attempts by outcome (hit, miss)",
	}, []string{"blueprint", "os", "outcome"})

	PoolReplenishTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wpc_pool_replenish_total",
		Help: "Pool replenishment provisioning attempts by outcome",
	}, []string{"blueprint", "os", "outcome"})

	// Lifecycle
	StateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wpc_workspace_state_transitions_total",
		Help: "Workspace state transition count",
	}, []string{"from", "to"})

	SweeperActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wpc_sweeper_actions_total",
		Help: "Sweeper actions by sweep and outcome (applied, conflict, skipped)",
	}, []string{"sweep", "outcome"})

	// Customization pipeline
	CustomizeStepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wpc_customize_step_duration_seconds",
		Help:    "Customization step duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"step"})

	CustomizeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wpc_customize_failures_total",
		Help: "Customization failures by step",
	}, []string{"step"})

	// End-to-end provisioning
	ProvisionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wpc_provision_duration_seconds",
		Help:    "Admission to AVAILABLE duration",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	}, []string{"origin"})

	ProvisionDeadlineExceeded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wpc_provision_deadline_exceeded_total",
		Help: "Provisioning attempts that exceeded the end-to-end deadline",
	})
)

func RegisterAll(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, ActiveRequests,
		AdmissionDecisions,
		ProviderAttempts, ProviderCallDuration, BreakerState, BreakerOpenTotal, RegionFallbacks,
		PoolIdle, PoolAcquires, PoolReplenishTotal,
		StateTransitions, SweeperActions,
		CustomizeStepDuration, CustomizeFailures,
		ProvisionDuration, ProvisionDeadlineExceeded,
	)
}
