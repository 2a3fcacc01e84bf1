package trust

// NextLifecycle computes the next lifecycle state from an attestation
// result and the previous lifecycle, per the transition table in §4.A. It
// is a pure function: callers compute it and the Registry validates it via
// the invariant in §3, never re-deriving it.
func NextLifecycle(status AttestationStatus, previous LifecycleState, remediationState string) LifecycleState {
	switch status {
	case StatusTrusted:
		return LifecycleRestored
	case StatusUnknown:
		if previous == "" {
			return LifecycleSuspect
		}
		return previous
	case StatusUntrusted:
		if previous == LifecycleRemediating {
			return LifecycleRemediating
		}
		return LifecycleQuarantined
	default:
		if previous == "" {
			return LifecycleSuspect
		}
		return previous
	}
}

// NextRemediationAttempts implements the VM Executor's counter rule:
// incremented on Untrusted, preserved on Unknown, reset to 0 on Trusted.
func NextRemediationAttempts(status AttestationStatus, previous int) int {
	switch status {
	case StatusTrusted:
		return 0
	case StatusUntrusted:
		return previous + 1
	default:
		return previous
	}
}
