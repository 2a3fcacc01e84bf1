package intelligence

import (
	"context"
	"strings"

	"github.com/R3E-Network/runtime-trust-plane/internal/buildartifact"
	"github.com/R3E-Network/runtime-trust-plane/internal/corecontext"
	"github.com/R3E-Network/runtime-trust-plane/internal/policy"
)

// thresholds maps capability domain to its base pass threshold.
var thresholds = map[string]int{
	CapabilityRuntime:    65,
	CapabilityGPU:        75,
	CapabilityImageBuild: 70,
}

// Engine recomputes per-server capability scores.
type Engine struct {
	decisions policy.Store
	artifacts buildartifact.Store
	scores    Store
	core      *corecontext.Context
}

// New builds an Engine.
func New(decisions policy.Store, artifacts buildartifact.Store, scores Store, core *corecontext.Context) *Engine {
	return &Engine{decisions: decisions, artifacts: artifacts, scores: scores, core: core}
}

// Recompute derives and upserts every capability score for serverID.
func (e *Engine) Recompute(ctx context.Context, tenantID, serverID string) ([]Score, error) {
	decision, err := e.decisions.LatestByServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if decision == nil {
		return nil, nil
	}

	artifact, err := e.artifacts.LatestByServer(ctx, serverID)
	if err != nil {
		return nil, err
	}

	stale := e.core.Now().Sub(decision.DecidedAt) > StalenessThreshold

	var results []Score
	for _, capability := range decision.CapabilityRequirements {
		domain := capabilityDomain(capability)
		score, notes, evidence := scoreCapability(domain, decision, artifact, stale)
		status := classify(score, domain, decision.Tier)
		confidence := 1.0
		if stale {
			confidence = 0.5
			notes = append(notes, "intelligence:stale-decision")
		}

		upserted, err := e.scores.Upsert(ctx, Score{
			TenantID:   tenantID,
			ServerID:   serverID,
			Capability: capability,
			Backend:    decision.Backend,
			Tier:       decision.Tier,
			Value:      score,
			Status:     status,
			Confidence: confidence,
			Notes:      notes,
			Evidence:   evidence,
		})
		if err != nil {
			return nil, err
		}
		results = append(results, upserted)
	}
	return results, nil
}

func capabilityDomain(capability string) string {
	switch {
	case strings.Contains(capability, "build"):
		return CapabilityImageBuild
	case strings.Contains(capability, "gpu"):
		return CapabilityGPU
	default:
		return CapabilityRuntime
	}
}

// scoreCapability implements the deterministic "start at 85, subtract
// penalties" rule table.
func scoreCapability(domain string, decision *policy.Decision, artifact *buildartifact.Run, stale bool) (int, []string, []string) {
	score := 85
	var notes, evidence []string

	if decision.HealthOverall != "healthy" {
		score -= 25
		notes = append(notes, "intelligence:unhealthy-artifact")
	}
	if !decision.CapabilitiesSatisfied {
		score -= 15
		notes = append(notes, "intelligence:capabilities-unsatisfied")
	}
	if !decision.PromotionSatisfied {
		score -= 10
		notes = append(notes, "intelligence:promotion-unsatisfied")
	}
	if domain == CapabilityImageBuild && decision.RequiresBuild && artifact == nil {
		score -= 20
		notes = append(notes, "intelligence:no-build-history")
	}
	if stale {
		score -= 10
	}

	switch {
	case strings.HasPrefix(decision.Tier, "gold"):
		score += 10
	case strings.HasPrefix(decision.Tier, "silver"):
		score += 5
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	if artifact != nil {
		evidence = append(evidence, "build_artifact_run:"+artifact.ManifestDigest)
	}
	evidence = append(evidence, "policy_decision:"+decision.ServerID)

	return score, notes, evidence
}

func classify(score int, domain, tier string) string {
	threshold := thresholds[domain]
	if strings.HasPrefix(tier, "gold") {
		threshold += 10
	} else if strings.HasPrefix(tier, "silver") {
		threshold += 5
	}

	switch {
	case score < threshold-15:
		return StatusCritical
	case score < threshold:
		return StatusWarning
	default:
		return StatusHealthy
	}
}
