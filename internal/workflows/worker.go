package workflows

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
)

// Registrar is satisfied by worker.Worker and the test workflow environment.
type Registrar interface {
	RegisterWorkflow(w interface{})
	RegisterActivity(a interface{})
}

// Register adds the provisioning workflow and activities to w.
func Register(w Registrar, acts *Activities) {
	w.RegisterWorkflow(ProvisioningWorkflow)
	w.RegisterActivity(acts)
}

// Provision starts a ProvisioningWorkflow on taskQueue and waits for its
// report. The workflow id is derived from the site so concurrent requests
// for the same site collapse onto one run.
func Provision(ctx context.Context, c client.Client, taskQueue string, in ProvisioningInput) (*mirror.ProvisioningReport, error) {
	site, err := mirror.NewSite(in.Request.Domain)
	if err != nil {
		return nil, err
	}
	opts := client.StartWorkflowOptions{
		ID:        "provision-" + site.ID,
		TaskQueue: taskQueue,
	}
	run, err := c.ExecuteWorkflow(ctx, opts, ProvisioningWorkflow, in)
	if err != nil {
		return nil, fmt.Errorf("start provisioning workflow: %w", err)
	}
	var rep mirror.ProvisioningReport
	if err := run.Get(ctx, &rep); err != nil {
		return nil, fmt.Errorf("provisioning workflow %s: %w", run.GetID(), err)
	}
	return &rep, nil
}
