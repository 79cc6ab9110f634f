// Package saga provisions a site's Mirror Agent end to end.
//
// Steps run strictly in order. Only the structural steps (health check and
// collection creation) abort the run when they fail; every later failure,
// timeout or panic is recorded as a warning and the next step still runs.
// Overall success is the fraction of recorded steps that succeeded,
// compared with a configurable threshold.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mirroragent/internal/events"
	"github.com/fyrsmithlabs/mirroragent/internal/ingest"
	"github.com/fyrsmithlabs/mirroragent/internal/kpi"
	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
	"github.com/fyrsmithlabs/mirroragent/internal/registry"
	"github.com/fyrsmithlabs/mirroragent/internal/security"
	"github.com/fyrsmithlabs/mirroragent/internal/store"
	"github.com/fyrsmithlabs/mirroragent/internal/vectorstore"
)

// Collections is the collection provisioner.
type Collections interface {
	EnsureCollections(ctx context.Context, siteID string) (mirror.StoreIDs, error)
	Verify(ctx context.Context, siteID string) (map[mirror.StoreKind]bool, error)
	Dimension() int
}

// Security is the part of the gate provisioning configures and probes.
type Security interface {
	ConfigureSite(ctx context.Context, site mirror.Site, strict bool) (*mirror.Whitelist, error)
	CheckDomain(ctx context.Context, siteID, domain string) (*security.Verdict, error)
	Scrub(ctx context.Context, siteID, text string) (*security.ScrubResult, error)
}

// Agents builds and looks up per-site agents.
type Agents interface {
	Register(siteID string, stores mirror.StoreIDs, thresholds mirror.RouterThresholds) (*registry.Agent, error)
	GetOrCreate(ctx context.Context, siteID string) (*registry.Agent, error)
}

// KPIRunner runs the golden set.
type KPIRunner interface {
	Run(ctx context.Context, siteID string, router kpi.Router, set *kpi.GoldenSet) (*kpi.Report, error)
}

// Ingester loads pages for the optional auto-ingest step.
type Ingester interface {
	Ingest(ctx context.Context, siteID, collection string, urls []string) (*ingest.Result, error)
}

// Deps are the subsystems the saga drives. Ingester and Publisher are optional.
type Deps struct {
	Vectors     vectorstore.Store
	Embedder    vectorstore.Embedder
	Store       store.Store
	Collections Collections
	Gate        Security
	Agents      Agents
	KPI         KPIRunner
	Ingester    Ingester
	Publisher   events.Publisher
}

func (d Deps) validate() error {
	if d.Vectors == nil || d.Embedder == nil || d.Store == nil {
		return errors.New("vectors, embedder and store are required")
	}
	if d.Collections == nil || d.Gate == nil || d.Agents == nil || d.KPI == nil {
		return errors.New("collections, gate, agents and kpi runner are required")
	}
	return nil
}

// Config controls a provisioning run.
type Config struct {
	// SuccessThreshold is the fraction of steps that must succeed.
	SuccessThreshold float64
	StepTimeout      time.Duration
	CuratorLookback  time.Duration
	// GoldenSet overrides the embedded golden set when set.
	GoldenSet *kpi.GoldenSet
}

// DefaultConfig returns a 0.3 success threshold and 2 minute step timeout.
func DefaultConfig() Config {
	return Config{SuccessThreshold: 0.3, StepTimeout: 2 * time.Minute, CuratorLookback: 24 * time.Hour}
}

func (c Config) validate() error {
	if c.SuccessThreshold <= 0 || c.SuccessThreshold > 1 {
		return mirror.NewValidationError("saga success_threshold", "must lie within (0,1]")
	}
	if c.StepTimeout <= 0 || c.CuratorLookback <= 0 {
		return mirror.NewValidationError("saga config", "step timeout and curator lookback must be > 0")
	}
	return nil
}

// Request describes the site to provision.
type Request struct {
	Domain     string                  `json:"domain"`
	IngestURLs []string                `json:"ingest_urls,omitempty"`
	Strict     bool                    `json:"strict"`
	Thresholds mirror.RouterThresholds `json:"thresholds"`
}

// State is carried from step to step. It is plain data so a durable
// workflow can pass it between activities.
type State struct {
	Site         mirror.Site             `json:"site"`
	Request      Request                 `json:"request"`
	Stores       *mirror.StoreIDs        `json:"stores,omitempty"`
	Thresholds   mirror.RouterThresholds `json:"thresholds"`
	KPI          *mirror.KPISnapshot     `json:"kpi,omitempty"`
	Verification map[string]bool         `json:"verification,omitempty"`
}

// NewState validates req and derives the site identity.
func NewState(req Request) (*State, error) {
	site, err := mirror.NewSite(req.Domain)
	if err != nil {
		return nil, err
	}
	th := req.Thresholds
	if th == (mirror.RouterThresholds{}) {
		th = mirror.DefaultRouterThresholds()
	}
	return &State{Site: site, Request: req, Thresholds: th}, nil
}

// Saga provisions sites.
type Saga struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Saga.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Saga, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	return &Saga{deps: deps, cfg: cfg, logger: logger, now: time.Now}, nil
}

// SuccessThreshold returns the configured threshold.
func (s *Saga) SuccessThreshold() float64 { return s.cfg.SuccessThreshold }

// Provision runs every step for req and returns the report. The error is
// non-nil only for an invalid request; a failed provisioning is reported
// through the report's Success flag.
func (s *Saga) Provision(ctx context.Context, req Request) (*mirror.ProvisioningReport, error) {
	st, err := NewState(req)
	if err != nil {
		return nil, err
	}
	if err := st.Thresholds.Validate(); err != nil {
		return nil, err
	}

	logger := s.logger.With(zap.String("site_id", st.Site.ID), zap.String("domain", st.Site.Domain))
	logger.Info("provisioning started", zap.Int("steps", len(Plan(req))))

	rep := NewReport(uuid.NewString(), st, s.now())
	for _, name := range Plan(req) {
		out, stepErr := s.Execute(ctx, name, st)
		rep.Steps = append(rep.Steps, out)
		if stepErr != nil && stepErr.Severity == SeverityCritical {
			logger.Error("critical step failed, aborting", zap.String("step", string(name)), zap.Error(stepErr))
			rep.Aborted = true
			break
		}
	}
	Finalize(rep, st, s.cfg.SuccessThreshold, s.now())
	s.SaveReport(ctx, rep)

	logger.Info("provisioning finished",
		zap.Bool("success", rep.Success),
		zap.Float64("success_ratio", rep.SuccessRatio),
		zap.Bool("aborted", rep.Aborted),
		zap.Duration("duration", rep.FinishedAt.Sub(rep.StartedAt)),
	)
	return rep, nil
}

// NewReport starts an empty report for st.
func NewReport(id string, st *State, started time.Time) *mirror.ProvisioningReport {
	return &mirror.ProvisioningReport{
		ID:        id,
		SiteID:    st.Site.ID,
		Domain:    st.Site.Domain,
		StartedAt: started.UTC(),
	}
}

// Finalize fills the derived fields of rep. An aborted run never succeeds.
// It has no side effects so durable workflows can call it.
func Finalize(rep *mirror.ProvisioningReport, st *State, threshold float64, finished time.Time) {
	succeeded := 0
	for _, out := range rep.Steps {
		if out.Status == mirror.StepSuccess {
			succeeded++
		}
	}
	if len(rep.Steps) > 0 {
		rep.SuccessRatio = float64(succeeded) / float64(len(rep.Steps))
	}
	rep.SuccessThreshold = threshold
	rep.Success = !rep.Aborted && rep.SuccessRatio >= threshold
	rep.Stores = st.Stores
	rep.KPI = st.KPI
	rep.Verification = st.Verification
	rep.FinishedAt = finished.UTC()
}

// SaveReport counts and persists a finalized rep. A storage failure is
// logged; the report is still returned to the caller.
func (s *Saga) SaveReport(ctx context.Context, rep *mirror.ProvisioningReport) {
	outcome := "success"
	switch {
	case rep.Aborted:
		outcome = "aborted"
	case !rep.Success:
		outcome = "failure"
	}
	runsTotal.WithLabelValues(outcome).Inc()

	if err := s.deps.Store.PutReport(ctx, rep); err != nil {
		s.logger.Warn("failed to store provisioning report", zap.String("site_id", rep.SiteID), zap.Error(err))
	}
}

// Execute runs one step against st under the step timeout. The returned
// StepError is nil on success; its severity tells the caller whether to
// abort.
func (s *Saga) Execute(ctx context.Context, name StepName, st *State) (out mirror.StepOutcome, stepErr *StepError) {
	started := s.now()
	stepCtx, cancel := context.WithTimeout(ctx, s.cfg.StepTimeout)
	defer cancel()

	detail, err := s.safeRun(stepCtx, name, st)
	if err != nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("timed out after %s: %w", s.cfg.StepTimeout, err)
	}

	out = mirror.StepOutcome{
		Step:      string(name),
		Status:    mirror.StepSuccess,
		Detail:    detail,
		Duration:  s.now().Sub(started),
		StartedAt: started.UTC(),
	}
	if err != nil {
		stepErr = newStepError(name, err)
		out.Status = stepErr.Status()
		out.Detail = stepErr.Error()
	}
	stepsTotal.WithLabelValues(string(name), string(out.Status)).Inc()

	fields := []zap.Field{
		zap.String("site_id", st.Site.ID),
		zap.String("step", string(name)),
		zap.String("status", string(out.Status)),
		zap.Duration("duration", out.Duration),
	}
	if stepErr != nil {
		s.logger.Warn("provisioning step did not succeed", append(fields, zap.Error(stepErr))...)
	} else {
		s.logger.Info("provisioning step succeeded", append(fields, zap.String("detail", detail))...)
	}
	if err := s.deps.Publisher.PublishStep(ctx, st.Site.ID, out); err != nil {
		s.logger.Debug("failed to publish step event", zap.Error(err))
	}
	return out, stepErr
}

func (s *Saga) safeRun(ctx context.Context, name StepName, st *State) (detail string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step panicked: %v", r)
		}
	}()
	fn, ok := s.steps()[name]
	if !ok {
		return "", fmt.Errorf("unknown step %q", name)
	}
	return fn(ctx, st)
}
