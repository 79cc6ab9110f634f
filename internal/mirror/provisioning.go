package mirror

import "time"

// StepStatus is the outcome of one provisioning step.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepWarning StepStatus = "warning"
	StepError   StepStatus = "error"
)

// StepOutcome records a single saga step.
type StepOutcome struct {
	Step      string        `json:"step"`
	Status    StepStatus    `json:"status"`
	Detail    string        `json:"detail"`
	Duration  time.Duration `json:"duration"`
	StartedAt time.Time     `json:"started_at"`
}

// ProvisioningReport is the replayable record of a provisioning run.
type ProvisioningReport struct {
	ID               string          `json:"id"`
	SiteID           string          `json:"site_id"`
	Domain           string          `json:"domain"`
	Steps            []StepOutcome   `json:"steps"`
	Verification     map[string]bool `json:"verification"`
	Stores           *StoreIDs       `json:"stores,omitempty"`
	KPI              *KPISnapshot    `json:"kpi,omitempty"`
	SuccessRatio     float64         `json:"success_ratio"`
	SuccessThreshold float64         `json:"success_threshold"`
	Success          bool            `json:"success"`
	Aborted          bool            `json:"aborted,omitempty"`
	StartedAt        time.Time       `json:"started_at"`
	FinishedAt       time.Time       `json:"finished_at"`
}

// ExitCode maps the report to a process exit code.
func (r *ProvisioningReport) ExitCode() int {
	if r.Success {
		return 0
	}
	return 1
}

// Manifest describes a provisioned site for other components.
type Manifest struct {
	SiteID     string           `json:"site_id"`
	Domain     string           `json:"domain"`
	Stores     StoreIDs         `json:"stores"`
	VectorDim  int              `json:"vector_dim"`
	Distance   string           `json:"distance"`
	Thresholds RouterThresholds `json:"thresholds"`
	CreatedAt  time.Time        `json:"created_at"`
}
