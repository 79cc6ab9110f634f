package workflows

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
	"github.com/fyrsmithlabs/mirroragent/internal/saga"
)

// StepInput is the RunStep activity input.
type StepInput struct {
	Step  saga.StepName `json:"step"`
	State saga.State    `json:"state"`
}

// StepResult carries the outcome and the state after the step.
type StepResult struct {
	Outcome mirror.StepOutcome `json:"outcome"`
	State   saga.State         `json:"state"`
}

// Activities runs saga steps inside a Temporal worker.
type Activities struct {
	Saga *saga.Saga
}

// NewActivities wraps s.
func NewActivities(s *saga.Saga) (*Activities, error) {
	if s == nil {
		return nil, errors.New("saga is required")
	}
	return &Activities{Saga: s}, nil
}

// RunStep executes one step. A failed step is a normal result, not an
// activity error.
func (a *Activities) RunStep(ctx context.Context, in StepInput) (*StepResult, error) {
	start := time.Now()
	st := in.State
	out, stepErr := a.Saga.Execute(ctx, in.Step, &st)
	recordActivity(ctx, string(in.Step), time.Since(start), stepErr != nil)
	return &StepResult{Outcome: out, State: st}, nil
}

// SaveReport persists a finalized report.
func (a *Activities) SaveReport(ctx context.Context, rep *mirror.ProvisioningReport) error {
	start := time.Now()
	a.Saga.SaveReport(ctx, rep)
	recordActivity(ctx, "save_report", time.Since(start), false)
	return nil
}
