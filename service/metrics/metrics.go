package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec
	solanaRPCRetries      *prometheus.CounterVec

	// Plan Builder Metrics
	plansBuiltTotal   *prometheus.CounterVec
	planStepsPerPlan  *prometheus.HistogramVec
	planBuildDuration *prometheus.HistogramVec

	// Execution Driver Metrics
	stepsExecutedTotal    *prometheus.CounterVec
	executionsTotal       *prometheus.CounterVec
	confirmationDuration  *prometheus.HistogramVec
	blockhashRefreshTotal *prometheus.CounterVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec

	// Registry Metrics
	registryLookupsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),

		// Plan Builder Metrics
		plansBuiltTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plans_built_total",
				Help: "Total number of transaction plans built by operation and outcome",
			},
			[]string{"operation", "status"},
		),
		planStepsPerPlan: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "plan_steps_per_plan",
				Help:    "Number of transaction steps per built plan",
				Buckets: []float64{0, 1, 2, 3, 4},
			},
			[]string{"operation"},
		),
		planBuildDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "plan_build_duration_seconds",
				Help:    "Duration of plan construction, including existence probes",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"operation"},
		),

		// Execution Driver Metrics
		stepsExecutedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "execution_steps_total",
				Help: "Total number of transaction steps executed by outcome",
			},
			[]string{"operation", "status"},
		),
		executionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "executions_total",
				Help: "Total number of plan executions by terminal status",
			},
			[]string{"operation", "status"},
		),
		confirmationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "confirmation_duration_seconds",
				Help:    "Time from broadcast to on-chain confirmation",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
			},
			[]string{"operation"},
		),
		blockhashRefreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockhash_refresh_total",
				Help: "Total number of blockhash re-fetches after a stale-blockhash rejection",
			},
			[]string{"operation"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"wallet_address"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),

		// Registry Metrics
		registryLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registry_lookups_total",
				Help: "Total number of vault registry lookups by cache outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// Plan builder metric helpers

// RecordPlanBuilt records a plan construction attempt and its shape.
func (m *Metrics) RecordPlanBuilt(operation, status string, steps int, duration float64) {
	m.plansBuiltTotal.WithLabelValues(operation, status).Inc()
	m.planBuildDuration.WithLabelValues(operation).Observe(duration)
	if status == "success" {
		m.planStepsPerPlan.WithLabelValues(operation).Observe(float64(steps))
	}
}

// Execution driver metric helpers

// RecordStepExecuted records the outcome of a single transaction step.
func (m *Metrics) RecordStepExecuted(operation, status string) {
	m.stepsExecutedTotal.WithLabelValues(operation, status).Inc()
}

// RecordExecution records the terminal status of a plan execution.
func (m *Metrics) RecordExecution(operation, status string) {
	m.executionsTotal.WithLabelValues(operation, status).Inc()
}

// RecordConfirmation records the broadcast-to-confirmation latency of a step.
func (m *Metrics) RecordConfirmation(operation string, duration float64) {
	m.confirmationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordBlockhashRefresh records a stale-blockhash retry.
func (m *Metrics) RecordBlockhashRefresh(operation string) {
	m.blockhashRefreshTotal.WithLabelValues(operation).Inc()
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(walletAddress string, delta float64) {
	m.sseActiveConnections.WithLabelValues(walletAddress).Add(delta)
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Registry metric helpers

// RecordRegistryLookup records a vault registry lookup with its cache outcome
// ("hit", "miss", or "error").
func (m *Metrics) RecordRegistryLookup(outcome string) {
	m.registryLookupsTotal.WithLabelValues(outcome).Inc()
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
