// Package dispatcher implements the Job Dispatcher: a durable FIFO queue
// over app_jobs, replayed on startup and drained by a bounded worker pool.
package dispatcher

import (
	"context"
	"encoding/json"
)

// JobType enumerates the recognized job kinds.
type JobType string

const (
	JobStart               JobType = "start"
	JobStop                JobType = "stop"
	JobDelete              JobType = "delete"
	JobIntelligenceRefresh JobType = "intelligence_refresh"
	JobEvaluationRefresh   JobType = "evaluation_refresh"
)

// Job status values.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Job is one app_jobs row.
type Job struct {
	ID        int64
	TenantID  string
	JobType   JobType
	Payload   json.RawMessage
	Status    string
	Attempts  int
	LastError string
}

// Handler processes a single job of a given type.
type Handler func(ctx context.Context, job Job) error
