// Package backtest is the gateway's client side of the backtesting
// collaborator: submit a job, poll for status or results. The simulation
// itself runs behind the Runner interface and shares no state with the live
// trading data model.
package backtest

import "context"

type JobStatus string

const (
	StatusQueued   JobStatus = "QUEUED"
	StatusRunning  JobStatus = "RUNNING"
	StatusDone     JobStatus = "DONE"
	StatusFailed   JobStatus = "FAILED"
	StatusCanceled JobStatus = "CANCELED"
)

// Job is the caller-visible projection of one backtest job.
type Job struct {
	ID          string         `json:"job_id"`
	Status      JobStatus      `json:"status"`
	Spec        map[string]any `json:"spec,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	SubmittedAt int64          `json:"submitted_at"`
	UpdatedAt   int64          `json:"updated_at"`
}

// Runner executes one backtest job to completion. Implementations live
// outside the gateway core.
type Runner interface {
	Run(ctx context.Context, spec map[string]any) (map[string]any, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, spec map[string]any) (map[string]any, error)

func (f RunnerFunc) Run(ctx context.Context, spec map[string]any) (map[string]any, error) {
	return f(ctx, spec)
}
