package saga

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/mirroragent/internal/collections"
	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
	"github.com/fyrsmithlabs/mirroragent/internal/security"
)

// StepName identifies a provisioning step.
type StepName string

const (
	StepHealthCheck       StepName = "health_check"
	StepCreateCollections StepName = "create_collections"
	StepCreateManifest    StepName = "create_manifest"
	StepConfigureSecurity StepName = "configure_security"
	StepAutoIngest        StepName = "auto_ingest"
	StepConfigureRouter   StepName = "configure_router"
	StepKPITest           StepName = "kpi_test"
	StepActivateCurator   StepName = "activate_curator"
	StepVerify            StepName = "final_verification"
)

// Plan lists the steps for req in execution order. Auto-ingest only runs
// when URLs were supplied.
func Plan(req Request) []StepName {
	steps := []StepName{StepHealthCheck, StepCreateCollections, StepCreateManifest, StepConfigureSecurity}
	if len(req.IngestURLs) > 0 {
		steps = append(steps, StepAutoIngest)
	}
	return append(steps, StepConfigureRouter, StepKPITest, StepActivateCurator, StepVerify)
}

// Critical reports whether a failure of step aborts the run.
func Critical(step StepName) bool {
	return step == StepHealthCheck || step == StepCreateCollections
}

// Severity grades a step failure.
type Severity string

const (
	// SeverityCritical aborts the run.
	SeverityCritical Severity = "critical"
	// SeverityWarning is recorded and the run continues.
	SeverityWarning Severity = "warning"
)

// StepError is a failed step.
type StepError struct {
	Step     StepName
	Severity Severity
	Err      error
}

func newStepError(step StepName, err error) *StepError {
	sev := SeverityWarning
	if Critical(step) {
		sev = SeverityCritical
	}
	return &StepError{Step: step, Severity: sev, Err: err}
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Status maps the severity onto the report's step status.
func (e *StepError) Status() mirror.StepStatus {
	if e.Severity == SeverityCritical {
		return mirror.StepError
	}
	return mirror.StepWarning
}

// probeText carries one PII sample the verification step expects redacted.
const probeText = "verification probe test@example.com"

type stepFunc func(ctx context.Context, st *State) (string, error)

func (s *Saga) steps() map[StepName]stepFunc {
	return map[StepName]stepFunc{
		StepHealthCheck:       s.healthCheck,
		StepCreateCollections: s.createCollections,
		StepCreateManifest:    s.createManifest,
		StepConfigureSecurity: s.configureSecurity,
		StepAutoIngest:        s.autoIngest,
		StepConfigureRouter:   s.configureRouter,
		StepKPITest:           s.runKPI,
		StepActivateCurator:   s.activateCurator,
		StepVerify:            s.verify,
	}
}

func (s *Saga) healthCheck(ctx context.Context, _ *State) (string, error) {
	var errs []error
	if err := s.deps.Vectors.Health(ctx); err != nil {
		errs = append(errs, fmt.Errorf("vector store: %w", err))
	}
	if err := s.deps.Store.Ping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("document store: %w", err))
	}
	vec, err := s.deps.Embedder.EmbedQuery(ctx, "health check")
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("embeddings: %w", err))
	case len(vec) != s.deps.Collections.Dimension():
		errs = append(errs, fmt.Errorf("embeddings: dimension %d, stores expect %d", len(vec), s.deps.Collections.Dimension()))
	}
	if err := errors.Join(errs...); err != nil {
		return "", err
	}
	return "vector store, document store and embeddings reachable", nil
}

func (s *Saga) createCollections(ctx context.Context, st *State) (string, error) {
	ids, err := s.deps.Collections.EnsureCollections(ctx, st.Site.ID)
	if err != nil {
		return "", err
	}
	st.Stores = &ids
	return fmt.Sprintf("pages=%s faq=%s", ids.PagesStoreID, ids.FAQStoreID), nil
}

func (s *Saga) stores(st *State) (mirror.StoreIDs, error) {
	if st.Stores == nil {
		return mirror.StoreIDs{}, errors.New("collections were not created")
	}
	return *st.Stores, nil
}

func (s *Saga) createManifest(ctx context.Context, st *State) (string, error) {
	ids, err := s.stores(st)
	if err != nil {
		return "", err
	}
	m := &mirror.Manifest{
		SiteID:     st.Site.ID,
		Domain:     st.Site.Domain,
		Stores:     ids,
		VectorDim:  s.deps.Collections.Dimension(),
		Distance:   collections.DistanceCosine,
		Thresholds: st.Thresholds,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.deps.Store.PutManifest(ctx, m); err != nil {
		return "", err
	}
	return fmt.Sprintf("dim=%d distance=%s", m.VectorDim, m.Distance), nil
}

func (s *Saga) configureSecurity(ctx context.Context, st *State) (string, error) {
	wl, err := s.deps.Gate.ConfigureSite(ctx, st.Site, st.Request.Strict)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("allowed=%s strict=%t", strings.Join(wl.AllowedDomains, ","), wl.StrictMode), nil
}

func (s *Saga) autoIngest(ctx context.Context, st *State) (string, error) {
	if s.deps.Ingester == nil {
		return "", errors.New("no ingester configured")
	}
	ids, err := s.stores(st)
	if err != nil {
		return "", err
	}
	res, err := s.deps.Ingester.Ingest(ctx, st.Site.ID, ids.PagesStoreID, st.Request.IngestURLs)
	if err != nil {
		return "", err
	}
	detail := fmt.Sprintf("pages=%d chunks=%d redactions=%d", res.Pages, res.Chunks, res.Redactions)
	if len(res.Failed) > 0 {
		return "", fmt.Errorf("%s, %d of %d urls failed", detail, len(res.Failed), len(st.Request.IngestURLs))
	}
	return detail, nil
}

func (s *Saga) configureRouter(_ context.Context, st *State) (string, error) {
	ids, err := s.stores(st)
	if err != nil {
		return "", err
	}
	a, err := s.deps.Agents.Register(st.Site.ID, ids, st.Thresholds)
	if err != nil {
		return "", err
	}
	th := a.Router.Thresholds()
	return fmt.Sprintf("faq=%.2f pages=%.2f escalation=%.2f policy=%s", th.FAQ, th.Pages, th.Escalation, a.Router.Policy().Version), nil
}

func (s *Saga) runKPI(ctx context.Context, st *State) (string, error) {
	a, err := s.deps.Agents.GetOrCreate(ctx, st.Site.ID)
	if err != nil {
		return "", err
	}
	report, err := s.deps.KPI.Run(ctx, st.Site.ID, a.Router, s.cfg.GoldenSet)
	if err != nil {
		return "", err
	}
	st.KPI = report.Snapshot
	detail := fmt.Sprintf("status=%s score=%.3f questions=%d failed=%d",
		report.Snapshot.Status, report.Snapshot.OverallScore, report.Snapshot.TotalQuestions, report.Snapshot.FailedQuestions)
	if !report.Passed() {
		return "", errors.New(detail)
	}
	return detail, nil
}

func (s *Saga) activateCurator(ctx context.Context, st *State) (string, error) {
	a, err := s.deps.Agents.GetOrCreate(ctx, st.Site.ID)
	if err != nil {
		return "", err
	}
	res, err := a.Curator.RunCycle(ctx, s.cfg.CuratorLookback)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("enrolled; first cycle considered=%d promoted=%d faq_size=%d",
		res.Considered, len(res.Promotions), res.FAQSize), nil
}

// verify probes each subsystem and records the matrix on st.
func (s *Saga) verify(ctx context.Context, st *State) (string, error) {
	m := map[string]bool{}

	exists, err := s.deps.Collections.Verify(ctx, st.Site.ID)
	m["pages_store"] = err == nil && exists[mirror.StorePages]
	m["faq_store"] = err == nil && exists[mirror.StoreFAQ]

	_, err = s.deps.Store.GetManifest(ctx, st.Site.ID)
	m["manifest"] = err == nil

	v, err := s.deps.Gate.CheckDomain(ctx, st.Site.ID, st.Site.Domain)
	m["domain_allowed"] = err == nil && v.Allowed

	scrubbed, err := s.deps.Gate.Scrub(ctx, st.Site.ID, probeText)
	m["pii_scrubbing"] = err == nil && strings.Contains(scrubbed.Text, security.Placeholders[security.CategoryEmail])

	m["router"] = false
	m["curator"] = false
	if a, err := s.deps.Agents.GetOrCreate(ctx, st.Site.ID); err == nil {
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err = a.Router.Check(probeCtx, "is the router answering")
		cancel()
		m["router"] = err == nil
		m["curator"] = a.Curator != nil
	}
	m["kpi_snapshot"] = st.KPI != nil

	st.Verification = m
	var failed []string
	for k, ok := range m {
		if !ok {
			failed = append(failed, k)
		}
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		return "", fmt.Errorf("probes failed: %s", strings.Join(failed, ", "))
	}
	return fmt.Sprintf("%d probes passed", len(m)), nil
}
