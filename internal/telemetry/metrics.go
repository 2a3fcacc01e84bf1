// Package telemetry exposes the Prometheus counters/histograms/gauges the
// control plane's components emit: VM provisioning outcomes, attestation
// verdicts, remediation runs, billing enforcement, and store round trips.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/R3E-Network/runtime-trust-plane/internal/runtimeenv"
)

// Metrics holds every Prometheus collector the control plane registers.
type Metrics struct {
	// VM Executor (§4.D): vm.provision.start/success/failure
	VMProvisionStarted  *prometheus.CounterVec
	VMProvisionSucceeded *prometheus.CounterVec
	VMProvisionFailed   *prometheus.CounterVec

	// Attestation Verifier (§4.B)
	AttestationVerifications *prometheus.CounterVec
	AttestationDuration      *prometheus.HistogramVec

	// Trust Registry / Remediation Orchestrator
	TrustTransitionsTotal  *prometheus.CounterVec
	RemediationRunsTotal   *prometheus.CounterVec
	RemediationRunDuration *prometheus.HistogramVec

	// Billing / Entitlement Ledger (§4.H)
	BillingQuotaChecksTotal *prometheus.CounterVec

	// Job Dispatcher (§4.J)
	DispatcherQueueDepth   prometheus.Gauge
	DispatcherJobsTotal    *prometheus.CounterVec
	DispatcherJobDuration  *prometheus.HistogramVec

	// Store
	StoreQueriesTotal    *prometheus.CounterVec
	StoreQueryDuration   *prometheus.HistogramVec
	StoreConnectionsOpen prometheus.Gauge

	// Errors / service health
	ErrorsTotal   *prometheus.CounterVec
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a Metrics instance registered against the default registry.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against a custom
// registerer, useful for isolated test registries.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		VMProvisionStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "vm_provision_started_total", Help: "VM provisioning attempts started"},
			[]string{"service", "server_id"},
		),
		VMProvisionSucceeded: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "vm_provision_succeeded_total", Help: "VM provisioning attempts that reached running"},
			[]string{"service", "server_id"},
		),
		VMProvisionFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "vm_provision_failed_total", Help: "VM provisioning attempts that failed"},
			[]string{"service", "server_id", "reason"},
		),
		AttestationVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "attestation_verifications_total", Help: "Attestation verification outcomes"},
			[]string{"service", "kind", "status"},
		),
		AttestationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "attestation_verification_duration_seconds",
				Help:    "Attestation verification duration",
				Buckets: []float64{.001, .01, .05, .1, .5, 1, 2, 5},
			},
			[]string{"service", "kind"},
		),
		TrustTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "trust_transitions_total", Help: "Trust Registry lifecycle transitions"},
			[]string{"service", "previous_lifecycle", "current_lifecycle"},
		),
		RemediationRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "remediation_runs_total", Help: "Remediation playbook runs by terminal status"},
			[]string{"service", "playbook_key", "status"},
		),
		RemediationRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "remediation_run_duration_seconds",
				Help:    "Remediation playbook run duration",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900},
			},
			[]string{"service", "playbook_key"},
		),
		BillingQuotaChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "billing_quota_checks_total", Help: "enforce_quota outcomes"},
			[]string{"service", "entitlement_key", "allowed"},
		),
		DispatcherQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "dispatcher_queue_depth", Help: "Pending jobs in the dispatcher queue"},
		),
		DispatcherJobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "dispatcher_jobs_total", Help: "Dispatcher jobs processed"},
			[]string{"service", "job_type", "status"},
		),
		DispatcherJobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatcher_job_duration_seconds",
				Help:    "Dispatcher job processing duration",
				Buckets: []float64{.01, .1, .5, 1, 5, 15, 30},
			},
			[]string{"service", "job_type"},
		),
		StoreQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "store_queries_total", Help: "Store operations"},
			[]string{"service", "operation", "status"},
		),
		StoreQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "store_query_duration_seconds",
				Help:    "Store operation duration",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"service", "operation"},
		),
		StoreConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "store_connections_open", Help: "Open store connections"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "errors_total", Help: "Errors by kind and operation"},
			[]string{"service", "kind", "operation"},
		),
		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "service_uptime_seconds", Help: "Service uptime in seconds"},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "service_info", Help: "Service build information"},
			[]string{"service", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.VMProvisionStarted, m.VMProvisionSucceeded, m.VMProvisionFailed,
			m.AttestationVerifications, m.AttestationDuration,
			m.TrustTransitionsTotal, m.RemediationRunsTotal, m.RemediationRunDuration,
			m.BillingQuotaChecksTotal,
			m.DispatcherQueueDepth, m.DispatcherJobsTotal, m.DispatcherJobDuration,
			m.StoreQueriesTotal, m.StoreQueryDuration, m.StoreConnectionsOpen,
			m.ErrorsTotal, m.ServiceUptime, m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "0.1.0", string(runtimeenv.Env())).Set(1)

	return m
}

func (m *Metrics) RecordVMProvisionStart(service, serverID string) {
	m.VMProvisionStarted.WithLabelValues(service, serverID).Inc()
}

func (m *Metrics) RecordVMProvisionSuccess(service, serverID string) {
	m.VMProvisionSucceeded.WithLabelValues(service, serverID).Inc()
}

func (m *Metrics) RecordVMProvisionFailure(service, serverID, reason string) {
	m.VMProvisionFailed.WithLabelValues(service, serverID, reason).Inc()
}

func (m *Metrics) RecordAttestation(service, kind, status string, duration time.Duration) {
	m.AttestationVerifications.WithLabelValues(service, kind, status).Inc()
	m.AttestationDuration.WithLabelValues(service, kind).Observe(duration.Seconds())
}

func (m *Metrics) RecordTrustTransition(service, previousLifecycle, currentLifecycle string) {
	m.TrustTransitionsTotal.WithLabelValues(service, previousLifecycle, currentLifecycle).Inc()
}

func (m *Metrics) RecordRemediationRun(service, playbookKey, status string, duration time.Duration) {
	m.RemediationRunsTotal.WithLabelValues(service, playbookKey, status).Inc()
	m.RemediationRunDuration.WithLabelValues(service, playbookKey).Observe(duration.Seconds())
}

func (m *Metrics) RecordBillingQuotaCheck(service, entitlementKey string, allowed bool) {
	m.BillingQuotaChecksTotal.WithLabelValues(service, entitlementKey, boolLabel(allowed)).Inc()
}

func (m *Metrics) RecordDispatcherJob(service, jobType, status string, duration time.Duration) {
	m.DispatcherJobsTotal.WithLabelValues(service, jobType, status).Inc()
	m.DispatcherJobDuration.WithLabelValues(service, jobType).Observe(duration.Seconds())
}

func (m *Metrics) SetDispatcherQueueDepth(depth int) {
	m.DispatcherQueueDepth.Set(float64(depth))
}

func (m *Metrics) RecordStoreQuery(service, operation, status string, duration time.Duration) {
	m.StoreQueriesTotal.WithLabelValues(service, operation, status).Inc()
	m.StoreQueryDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

func (m *Metrics) SetStoreConnections(count int) {
	m.StoreConnectionsOpen.Set(float64(count))
}

func (m *Metrics) RecordError(service, kind, operation string) {
	m.ErrorsTotal.WithLabelValues(service, kind, operation).Inc()
}

func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the process-wide metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the process-wide metrics instance.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalMetrics == nil {
		globalMetrics = New("control-plane")
	}
	return globalMetrics
}
