package console

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/R3E-Network/runtime-trust-plane/internal/intelligence"
	"github.com/R3E-Network/runtime-trust-plane/internal/policy"
	"github.com/R3E-Network/runtime-trust-plane/internal/remediation"
	"github.com/R3E-Network/runtime-trust-plane/internal/trust"
	"github.com/R3E-Network/runtime-trust-plane/internal/vminstance"
)

const defaultPageSize = 50

// Aggregator joins per-instance trust, remediation, intelligence, and
// promotion posture into cursor-paginated delta envelopes.
type Aggregator struct {
	instances    vminstance.Store
	trustSvc     *trust.Service
	runs         remediation.Store
	scores       intelligence.Store
	decisions    policy.Store
	pageSize     int
	previous     map[string]WorkspaceSnapshot
}

// New builds an Aggregator with an empty previous-snapshot cache; callers
// hold one Aggregator per subscriber so deltas are computed against that
// subscriber's own last-seen state.
func New(instances vminstance.Store, trustSvc *trust.Service, runs remediation.Store, scores intelligence.Store, decisions policy.Store) *Aggregator {
	return &Aggregator{
		instances: instances,
		trustSvc:  trustSvc,
		runs:      runs,
		scores:    scores,
		decisions: decisions,
		pageSize:  defaultPageSize,
		previous:  make(map[string]WorkspaceSnapshot),
	}
}

// Poll fetches the next page after cursor, joins every data source for
// each instance, and emits a snapshot envelope carrying deltas against
// this Aggregator's previously observed state. An empty page yields a
// heartbeat envelope instead.
func (a *Aggregator) Poll(ctx context.Context, cursor int64) (Envelope, error) {
	page, err := a.instances.ListPage(ctx, cursor, a.pageSize)
	if err != nil {
		return Envelope{Kind: EnvelopeError, Error: err.Error()}, err
	}
	if len(page) == 0 {
		return Envelope{Kind: EnvelopeHeartbeat, Cursor: cursor}, nil
	}

	seenIDs := make(map[string]bool, len(page))
	var snapshots []WorkspaceSnapshot
	var deltas []Delta

	for _, instance := range page {
		snapshot, err := a.joinOne(ctx, instance)
		if err != nil {
			return Envelope{Kind: EnvelopeError, Error: err.Error()}, err
		}
		snapshots = append(snapshots, snapshot)
		seenIDs[snapshot.ServerID] = true

		if prior, ok := a.previous[snapshot.ServerID]; ok {
			if delta := diff(prior, snapshot); len(delta.FieldDiffs) > 0 || len(delta.ArtifactsAdded) > 0 || len(delta.ArtifactsRemoved) > 0 {
				deltas = append(deltas, delta)
			}
		}
		a.previous[snapshot.ServerID] = snapshot
	}

	var removed []string
	for serverID := range a.previous {
		if !seenIDs[serverID] {
			removed = append(removed, serverID)
		}
	}
	sort.Strings(removed)
	for _, serverID := range removed {
		delete(a.previous, serverID)
	}

	nextCursor := page[len(page)-1].ID
	return Envelope{
		Kind:       EnvelopeSnapshot,
		Cursor:     nextCursor,
		Snapshots:  snapshots,
		Deltas:     deltas,
		RemovedIDs: removed,
	}, nil
}

func (a *Aggregator) joinOne(ctx context.Context, instance vminstance.Instance) (WorkspaceSnapshot, error) {
	snapshot := WorkspaceSnapshot{ServerID: instance.ServerID, VMInstanceID: instance.ID}

	entry, err := a.trustSvc.GetState(ctx, instance.ID)
	if err != nil {
		return WorkspaceSnapshot{}, err
	}
	if entry != nil {
		snapshot.TrustLifecycle = string(entry.LifecycleState)
		snapshot.TrustAttestation = string(entry.AttestationStatus)
		snapshot.RemediationState = entry.RemediationState
	}

	activeRun, err := a.runs.ActiveRun(ctx, instance.ID)
	if err != nil {
		return WorkspaceSnapshot{}, err
	}
	if activeRun != nil {
		snapshot.RunStatus = string(activeRun.Status)
	}

	decision, err := a.decisions.LatestByServer(ctx, instance.ServerID)
	if err != nil {
		return WorkspaceSnapshot{}, err
	}
	if decision != nil {
		snapshot.PromotionSatisfied = decision.PromotionSatisfied
		if decision.ManifestDigest != "" {
			snapshot.ArtifactDigests = []string{decision.ManifestDigest}
		}
	}

	capabilityScores, err := a.scores.ByServer(ctx, instance.ServerID)
	if err != nil {
		return WorkspaceSnapshot{}, err
	}
	if len(capabilityScores) > 0 {
		snapshot.IntelligenceStatus = worstStatus(capabilityScores)
	}

	return snapshot, nil
}

func worstStatus(scores []intelligence.Score) string {
	rank := map[string]int{intelligence.StatusHealthy: 0, intelligence.StatusWarning: 1, intelligence.StatusCritical: 2}
	worst := intelligence.StatusHealthy
	for _, score := range scores {
		if rank[score.Status] > rank[worst] {
			worst = score.Status
		}
	}
	return worst
}

func diff(prior, current WorkspaceSnapshot) Delta {
	delta := Delta{ServerID: current.ServerID, FieldDiffs: map[string]string{}}

	compare := func(field, old, next string) {
		if old != next {
			delta.FieldDiffs[field] = fmt.Sprintf("%s -> %s", old, next)
		}
	}
	compare("run_status", prior.RunStatus, current.RunStatus)
	compare("trust_lifecycle", prior.TrustLifecycle, current.TrustLifecycle)
	compare("trust_attestation", prior.TrustAttestation, current.TrustAttestation)
	compare("remediation_state", prior.RemediationState, current.RemediationState)
	compare("intelligence_status", prior.IntelligenceStatus, current.IntelligenceStatus)
	if prior.PromotionSatisfied != current.PromotionSatisfied {
		delta.FieldDiffs["promotion_satisfied"] = fmt.Sprintf("%v -> %v", prior.PromotionSatisfied, current.PromotionSatisfied)
	}

	priorSet := toSet(prior.ArtifactDigests)
	currentSet := toSet(current.ArtifactDigests)
	for digest := range currentSet {
		if !priorSet[digest] {
			delta.ArtifactsAdded = append(delta.ArtifactsAdded, digest)
		}
	}
	for digest := range priorSet {
		if !currentSet[digest] {
			delta.ArtifactsRemoved = append(delta.ArtifactsRemoved, digest)
		}
	}
	sort.Strings(delta.ArtifactsAdded)
	sort.Strings(delta.ArtifactsRemoved)

	return delta
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.TrimSpace(v)] = true
	}
	return set
}
