package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/R3E-Network/runtime-trust-plane/internal/apperrors"
	"github.com/R3E-Network/runtime-trust-plane/internal/dispatcher"
	"github.com/R3E-Network/runtime-trust-plane/internal/evaluation"
	"github.com/R3E-Network/runtime-trust-plane/internal/intelligence"
	"github.com/R3E-Network/runtime-trust-plane/internal/logging"
	"github.com/R3E-Network/runtime-trust-plane/internal/placement"
	"github.com/R3E-Network/runtime-trust-plane/internal/policy"
	"github.com/R3E-Network/runtime-trust-plane/internal/provisioner"
	"github.com/R3E-Network/runtime-trust-plane/internal/vminstance"
	"github.com/R3E-Network/runtime-trust-plane/internal/vmexecutor"
)

// jobHandlerDeps carries the components a job's Handler closes over.
type jobHandlerDeps struct {
	policyEngine    *policy.Engine
	placementGate   *placement.Gate
	executor        *vmexecutor.Executor
	instances       vminstance.Store
	provisioners    map[string]provisioner.Provisioner
	intelligence    *intelligence.Engine
	evaluationStore evaluation.Store
	log             *logging.Logger
}

// startPayload is the JobStart job's decoded payload.
type startPayload struct {
	TenantID   string `json:"tenant_id"`
	ServerID   string `json:"server_id"`
	ServerType string `json:"server_type"`
	RepoURL    string `json:"repo_url"`
	Image      string `json:"image"`
	Runtime    string `json:"runtime"`
	UseGPU     bool   `json:"use_gpu"`
}

// instancePayload addresses an already-placed server by ID, used by the
// JobStop and JobDelete job types.
type instancePayload struct {
	TenantID string `json:"tenant_id"`
	ServerID string `json:"server_id"`
}

// evaluationRefreshPayload scopes a JobEvaluationRefresh sweep.
type evaluationRefreshPayload struct {
	TenantID          string `json:"tenant_id"`
	ServerID          string `json:"server_id"`
	ManifestDigest    string `json:"manifest_digest"`
	Tier              string `json:"tier"`
	PolicyRequirement string `json:"policy_requirement"`
}

func buildJobHandlers(deps jobHandlerDeps) map[dispatcher.JobType]dispatcher.Handler {
	return map[dispatcher.JobType]dispatcher.Handler{
		dispatcher.JobStart:               handleStart(deps),
		dispatcher.JobStop:                handleStop(deps),
		dispatcher.JobDelete:              handleDelete(deps),
		dispatcher.JobIntelligenceRefresh: handleIntelligenceRefresh(deps),
		dispatcher.JobEvaluationRefresh:   handleEvaluationRefresh(deps),
	}
}

// handleStart runs the Runtime Policy Engine, consults the Placement
// Gate, and — if the server isn't currently blocked — drives the VM
// Executor's launch sequence.
func handleStart(deps jobHandlerDeps) dispatcher.Handler {
	return func(ctx context.Context, job dispatcher.Job) error {
		var payload startPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return apperrors.BadRequest("invalid start job payload: " + err.Error())
		}

		decision, err := deps.policyEngine.DecideAndRecord(ctx, policy.Request{
			TenantID:   payload.TenantID,
			ServerID:   payload.ServerID,
			ServerType: payload.ServerType,
			Config: policy.WorkloadConfig{
				Runtime: payload.Runtime,
				Image:   payload.Image,
				RepoURL: payload.RepoURL,
			},
			UseGPU: payload.UseGPU,
		})
		if err != nil {
			return err
		}

		gateDecision, err := deps.placementGate.Evaluate(ctx, payload.ServerID, time.Now().UTC())
		if err != nil {
			return err
		}
		if gateDecision.Blocked {
			deps.log.Warn(ctx, "placement blocked", map[string]interface{}{
				"server_id": payload.ServerID,
				"status":    gateDecision.BlockedStatus(),
			})
			return apperrors.Conflict("placement blocked: " + gateDecision.BlockedStatus())
		}

		_, err = deps.executor.Run(ctx, vmexecutor.Launch{
			TenantID: payload.TenantID,
			ServerID: payload.ServerID,
			Decision: provisioner.Decision{
				ServerID:     payload.ServerID,
				Backend:      decision.Backend,
				Image:        decision.Image,
				Tier:         decision.Tier,
				Capabilities: decision.CapabilityRequirements,
			},
		})
		return err
	}
}

// handleStop looks up the server's current hypervisor-assigned instance
// ID and stops it via the adapter registered under
// policy.BackendContainerDaemon.
func handleStop(deps jobHandlerDeps) dispatcher.Handler {
	return func(ctx context.Context, job dispatcher.Job) error {
		var payload instancePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return apperrors.BadRequest("invalid stop job payload: " + err.Error())
		}
		return withInstanceAdapter(ctx, deps, payload.ServerID, func(adapter provisioner.Provisioner, instance *vminstance.Instance) error {
			return adapter.Stop(ctx, instance.InstanceID)
		})
	}
}

// handleDelete tears the instance down at the hypervisor and marks the
// VmInstance row terminated.
func handleDelete(deps jobHandlerDeps) dispatcher.Handler {
	return func(ctx context.Context, job dispatcher.Job) error {
		var payload instancePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return apperrors.BadRequest("invalid delete job payload: " + err.Error())
		}
		return withInstanceAdapter(ctx, deps, payload.ServerID, func(adapter provisioner.Provisioner, instance *vminstance.Instance) error {
			if err := adapter.Teardown(ctx, instance.InstanceID); err != nil {
				return err
			}
			return deps.instances.Terminate(ctx, instance.ID, time.Now().UTC())
		})
	}
}

func withInstanceAdapter(ctx context.Context, deps jobHandlerDeps, serverID string, fn func(provisioner.Provisioner, *vminstance.Instance) error) error {
	instance, err := deps.instances.LatestNonTerminatedByServer(ctx, serverID)
	if err != nil {
		return err
	}
	if instance == nil {
		return apperrors.NotFound("vm_instance", serverID)
	}
	adapter, ok := deps.provisioners[policy.BackendContainerDaemon]
	if !ok {
		return apperrors.Downstream("provisioner.lookup", fmt.Errorf("no adapter registered for instance %s", serverID))
	}
	return fn(adapter, instance)
}

// handleIntelligenceRefresh recomputes capability scores for one server.
func handleIntelligenceRefresh(deps jobHandlerDeps) dispatcher.Handler {
	return func(ctx context.Context, job dispatcher.Job) error {
		var payload instancePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return apperrors.BadRequest("invalid intelligence refresh payload: " + err.Error())
		}
		_, err := deps.intelligence.Recompute(ctx, payload.TenantID, payload.ServerID)
		return err
	}
}

// handleEvaluationRefresh resets a certification row to pending, re-arming
// it for the next governance workflow run.
func handleEvaluationRefresh(deps jobHandlerDeps) dispatcher.Handler {
	return func(ctx context.Context, job dispatcher.Job) error {
		var payload evaluationRefreshPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return apperrors.BadRequest("invalid evaluation refresh payload: " + err.Error())
		}
		_, err := deps.evaluationStore.Upsert(ctx, evaluation.Certification{
			TenantID:          payload.TenantID,
			ManifestDigest:    payload.ManifestDigest,
			Tier:              payload.Tier,
			PolicyRequirement: payload.PolicyRequirement,
			Status:            evaluation.StatusPending,
			ValidFrom:         time.Now().UTC(),
		})
		return err
	}
}
