// Package workflows provides Temporal workflow definitions for durable,
// multi-host site provisioning.
//
// ProvisioningWorkflow runs the same steps as the in-process saga, one
// activity per step, so a provisioning run survives worker restarts. Step
// failures are carried in the step outcome rather than as activity errors;
// Temporal retries only infrastructure failures (timeouts, lost workers).
package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
	"github.com/fyrsmithlabs/mirroragent/internal/saga"
)

// TaskQueue is the default queue provisioning workers poll.
const TaskQueue = "mirror-provisioning"

// activityGrace is added to the step timeout for the activity's
// StartToCloseTimeout so the step can report its own timeout first.
const activityGrace = 30 * time.Second

// ProvisioningInput configures a ProvisioningWorkflow run.
type ProvisioningInput struct {
	Request          saga.Request  `json:"request"`
	SuccessThreshold float64       `json:"success_threshold"`
	StepTimeout      time.Duration `json:"step_timeout"`
}

// Validate checks the input before any activity is scheduled.
func (in ProvisioningInput) Validate() error {
	if in.SuccessThreshold <= 0 || in.SuccessThreshold > 1 {
		return mirror.NewValidationError("success_threshold", "must lie within (0,1]")
	}
	if in.StepTimeout <= 0 {
		return mirror.NewValidationError("step_timeout", "must be > 0")
	}
	return nil
}

// ProvisioningWorkflow provisions one site.
//
// This workflow:
// 1. Derives the site identity from the requested domain
// 2. Runs each planned step as a RunStep activity, in order
// 3. Stops early when a structural step fails
// 4. Finalizes the report and persists it with SaveReport
func ProvisioningWorkflow(ctx workflow.Context, in ProvisioningInput) (*mirror.ProvisioningReport, error) {
	logger := workflow.GetLogger(ctx)

	if err := in.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidInput, err)
	}
	st, err := saga.NewState(in.Request)
	if err == nil {
		err = st.Thresholds.Validate()
	}
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidInput, err)
	}
	logger.Info("Starting provisioning", "site_id", st.Site.ID, "domain", st.Site.Domain)

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: in.StepTimeout + activityGrace,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var a *Activities
	rep := saga.NewReport(workflow.GetInfo(ctx).WorkflowExecution.RunID, st, workflow.Now(ctx))

	for _, step := range saga.Plan(in.Request) {
		var res StepResult
		err := workflow.ExecuteActivity(ctx, a.RunStep, StepInput{Step: step, State: *st}).Get(ctx, &res)
		if err != nil {
			logger.Warn("Step activity failed", "step", step, "error", err)
			res = StepResult{State: *st, Outcome: failedOutcome(step, err, workflow.Now(ctx))}
		}
		*st = res.State
		rep.Steps = append(rep.Steps, res.Outcome)
		if res.Outcome.Status == mirror.StepError {
			logger.Error("Critical step failed, aborting", "step", step, "detail", res.Outcome.Detail)
			rep.Aborted = true
			break
		}
	}

	saga.Finalize(rep, st, in.SuccessThreshold, workflow.Now(ctx))
	if err := workflow.ExecuteActivity(ctx, a.SaveReport, rep).Get(ctx, nil); err != nil {
		logger.Warn("Failed to save provisioning report", "error", err)
	}

	logger.Info("Provisioning complete",
		"site_id", rep.SiteID,
		"success", rep.Success,
		"success_ratio", rep.SuccessRatio,
		"aborted", rep.Aborted)
	return rep, nil
}

// failedOutcome records a step whose activity never returned a result.
func failedOutcome(step saga.StepName, err error, now time.Time) mirror.StepOutcome {
	status := mirror.StepWarning
	if saga.Critical(step) {
		status = mirror.StepError
	}
	return mirror.StepOutcome{
		Step:      string(step),
		Status:    status,
		Detail:    FormatErrorForResult(fmt.Sprintf("%s activity", step), err),
		StartedAt: now.UTC(),
	}
}
