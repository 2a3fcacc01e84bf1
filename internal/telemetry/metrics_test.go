package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewWithRegistry("control-plane-test", reg)
}

func TestRecordVMProvisionLifecycle(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordVMProvisionStart("control-plane-test", "srv-1")
	m.RecordVMProvisionSuccess("control-plane-test", "srv-1")
	m.RecordVMProvisionFailure("control-plane-test", "srv-1", "attestation_rejected")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.VMProvisionStarted.WithLabelValues("control-plane-test", "srv-1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.VMProvisionSucceeded.WithLabelValues("control-plane-test", "srv-1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.VMProvisionFailed.WithLabelValues("control-plane-test", "srv-1", "attestation_rejected")))
}

func TestRecordBillingQuotaCheckLabelsAllowed(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordBillingQuotaCheck("control-plane-test", "tenant-a:compute_minutes", false)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BillingQuotaChecksTotal.WithLabelValues("control-plane-test", "tenant-a:compute_minutes", "false")))
}

func TestSetDispatcherQueueDepth(t *testing.T) {
	m := newTestMetrics(t)
	m.SetDispatcherQueueDepth(7)
	require.NotNil(t, m.DispatcherQueueDepth)
}

func TestUpdateUptimeIsPositive(t *testing.T) {
	m := newTestMetrics(t)
	m.UpdateUptime(time.Now().Add(-time.Minute))
	assert.Greater(t, testutil.ToFloat64(m.ServiceUptime), float64(0))
}
