package trust

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextLifecycleTrustedAlwaysRestores(t *testing.T) {
	assert.Equal(t, LifecycleRestored, NextLifecycle(StatusTrusted, LifecycleQuarantined, ""))
	assert.Equal(t, LifecycleRestored, NextLifecycle(StatusTrusted, "", ""))
}

func TestNextLifecycleUnknownPreservesOrDefaultsToSuspect(t *testing.T) {
	assert.Equal(t, LifecycleSuspect, NextLifecycle(StatusUnknown, "", ""))
	assert.Equal(t, LifecycleRemediating, NextLifecycle(StatusUnknown, LifecycleRemediating, ""))
}

func TestNextLifecycleUntrustedStaysRemediatingElseQuarantines(t *testing.T) {
	assert.Equal(t, LifecycleRemediating, NextLifecycle(StatusUntrusted, LifecycleRemediating, ""))
	assert.Equal(t, LifecycleQuarantined, NextLifecycle(StatusUntrusted, LifecycleSuspect, ""))
	assert.Equal(t, LifecycleQuarantined, NextLifecycle(StatusUntrusted, LifecycleRestored, ""))
}

func TestNextRemediationAttempts(t *testing.T) {
	assert.Equal(t, 0, NextRemediationAttempts(StatusTrusted, 5))
	assert.Equal(t, 6, NextRemediationAttempts(StatusUntrusted, 5))
	assert.Equal(t, 5, NextRemediationAttempts(StatusUnknown, 5))
}
