// Package registry owns the per-site Mirror Agents of a process.
//
// An Agent bundles a site's routing engine and curator. Agents are created
// on first lookup from the collection discovery table and the site
// manifest, and are shared by the HTTP surface and the curator scheduler.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fyrsmithlabs/mirroragent/internal/curator"
	"github.com/fyrsmithlabs/mirroragent/internal/events"
	"github.com/fyrsmithlabs/mirroragent/internal/judge"
	"github.com/fyrsmithlabs/mirroragent/internal/lease"
	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
	"github.com/fyrsmithlabs/mirroragent/internal/routing"
	"github.com/fyrsmithlabs/mirroragent/internal/security"
	"github.com/fyrsmithlabs/mirroragent/internal/store"
	"github.com/fyrsmithlabs/mirroragent/internal/vectorstore"
)

// ErrDenied is matched by every DeniedError.
var ErrDenied = errors.New("request denied")

// DeniedError reports which security check refused a question.
type DeniedError struct {
	Check   string
	Verdict *security.Verdict
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Check, e.Verdict.Reason)
}

// Is lets errors.Is(err, ErrDenied) match.
func (e *DeniedError) Is(target error) bool { return target == ErrDenied }

// Resolver finds a site's stores in the discovery table.
type Resolver interface {
	Resolve(ctx context.Context, siteID string) (mirror.StoreIDs, error)
}

// Deps are the shared backends every agent is built from.
type Deps struct {
	Vectors   vectorstore.Store
	Embedder  vectorstore.Embedder
	Judge     judge.Evaluator
	Store     store.Store
	Locker    lease.Locker
	Gate      *security.Gate
	Resolver  Resolver
	Publisher events.Publisher
}

func (d Deps) validate() error {
	if d.Vectors == nil || d.Embedder == nil || d.Judge == nil {
		return errors.New("vectors, embedder and judge are required")
	}
	if d.Store == nil || d.Locker == nil || d.Gate == nil || d.Resolver == nil {
		return errors.New("store, locker, gate and resolver are required")
	}
	return nil
}

// Config holds the defaults applied to new agents.
type Config struct {
	Thresholds mirror.RouterThresholds
	TopK       int
	Curator    curator.Config
}

// Agent is one site's Mirror Agent.
type Agent struct {
	SiteID  string
	Stores  mirror.StoreIDs
	Router  *routing.Engine
	Curator *curator.Curator
	gate    *security.Gate
}

// Answer is the result of Agent.Ask.
type Answer struct {
	*mirror.RoutingDecision
	// Redactions counts PII spans removed from the question before routing.
	Redactions int `json:"redactions"`
}

// Ask runs a question through the security gate and then the router.
// Every call is domain checked; an empty origin is denied.
func (a *Agent) Ask(ctx context.Context, origin, question string) (*Answer, error) {
	v, err := a.gate.CheckDomain(ctx, a.SiteID, origin)
	if err != nil {
		return nil, err
	}
	if !v.Allowed {
		return nil, &DeniedError{Check: "domain", Verdict: v}
	}
	v, err = a.gate.ValidateQuery(ctx, a.SiteID, question)
	if err != nil {
		return nil, err
	}
	if !v.Allowed {
		return nil, &DeniedError{Check: "cross-domain", Verdict: v}
	}
	scrubbed, err := a.gate.Scrub(ctx, a.SiteID, question)
	if err != nil {
		return nil, err
	}
	d, err := a.Router.Route(ctx, scrubbed.Text)
	if err != nil {
		return nil, err
	}
	return &Answer{RoutingDecision: d, Redactions: len(scrubbed.Detections)}, nil
}

// Registry maps site ids to agents.
type Registry struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	mu     sync.RWMutex
	agents map[string]*Agent
	create singleflight.Group
}

// New creates an empty Registry.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Registry, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	return &Registry{deps: deps, cfg: cfg, logger: logger, agents: make(map[string]*Agent)}, nil
}

// Get returns a loaded agent without creating one.
func (r *Registry) Get(siteID string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[siteID]
	return a, ok
}

// GetOrCreate returns the site's agent, building it from the discovery
// table on first use. Concurrent first lookups share one build.
func (r *Registry) GetOrCreate(ctx context.Context, siteID string) (*Agent, error) {
	if err := mirror.ValidateSiteID(siteID); err != nil {
		return nil, err
	}
	if a, ok := r.Get(siteID); ok {
		return a, nil
	}
	v, err, _ := r.create.Do(siteID, func() (any, error) {
		if a, ok := r.Get(siteID); ok {
			return a, nil
		}
		stores, err := r.deps.Resolver.Resolve(ctx, siteID)
		if err != nil {
			return nil, fmt.Errorf("resolve stores for %s: %w", siteID, err)
		}
		thresholds := r.defaultThresholds()
		m, err := r.deps.Store.GetManifest(ctx, siteID)
		switch {
		case err == nil:
			thresholds = m.Thresholds
		case !errors.Is(err, store.ErrNotFound):
			r.logger.Warn("manifest lookup failed, using default thresholds", zap.String("site_id", siteID), zap.Error(err))
		}
		return r.Register(siteID, stores, thresholds)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Agent), nil
}

func (r *Registry) defaultThresholds() mirror.RouterThresholds {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Thresholds
}

// Register builds and stores an agent for stores, replacing any previous
// one for the site.
func (r *Registry) Register(siteID string, stores mirror.StoreIDs, thresholds mirror.RouterThresholds) (*Agent, error) {
	opts := []routing.Option{
		routing.WithRecorder(r.deps.Store),
		routing.WithPublisher(r.deps.Publisher),
	}
	if r.cfg.TopK > 0 {
		opts = append(opts, routing.WithTopK(r.cfg.TopK))
	}
	router, err := routing.New(siteID, stores, r.deps.Vectors, r.deps.Embedder, thresholds, r.logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}
	cur, err := curator.New(siteID, stores.FAQStoreID, r.deps.Vectors, r.deps.Embedder, r.deps.Judge,
		r.deps.Store, r.deps.Locker, r.cfg.Curator, r.logger, curator.WithPublisher(r.deps.Publisher))
	if err != nil {
		return nil, fmt.Errorf("create curator: %w", err)
	}
	a := &Agent{SiteID: siteID, Stores: stores, Router: router, Curator: cur, gate: r.deps.Gate}

	r.mu.Lock()
	r.agents[siteID] = a
	r.mu.Unlock()
	r.logger.Info("site agent registered",
		zap.String("site_id", siteID),
		zap.String("faq_store", stores.FAQStoreID),
		zap.String("pages_store", stores.PagesStoreID),
	)
	return a, nil
}

// Evict drops a site's agent.
func (r *Registry) Evict(siteID string) {
	r.mu.Lock()
	delete(r.agents, siteID)
	r.mu.Unlock()
}

// Sites lists loaded site ids in order.
func (r *Registry) Sites() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// LoadProvisioned builds an agent for every site in the discovery table
// that is not loaded yet and returns how many it loaded. Sites whose
// stores cannot be resolved are skipped.
func (r *Registry) LoadProvisioned(ctx context.Context) (int, error) {
	sites, err := r.deps.Store.ListSites(ctx)
	if err != nil {
		return 0, fmt.Errorf("list provisioned sites: %w", err)
	}
	loaded := 0
	for _, id := range sites {
		if _, ok := r.Get(id); ok {
			continue
		}
		if _, err := r.GetOrCreate(ctx, id); err != nil {
			r.logger.Warn("skipping provisioned site", zap.String("site_id", id), zap.Error(err))
			continue
		}
		loaded++
	}
	return loaded, nil
}

// Curators loads any newly provisioned sites and lists every loaded
// site's curator. It is the scheduler's source.
func (r *Registry) Curators(ctx context.Context) []curator.Cycler {
	if _, err := r.LoadProvisioned(ctx); err != nil {
		r.logger.Warn("curating loaded sites only", zap.Error(err))
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]curator.Cycler, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a.Curator)
	}
	return out
}

// UpdateThresholds applies new router thresholds to every loaded agent.
// Sites whose manifest pins their own thresholds are overwritten too;
// callers wanting per-site values call Agent.Router.SetThresholds.
func (r *Registry) UpdateThresholds(t mirror.RouterThresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.cfg.Thresholds = t
	agents := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	r.mu.Unlock()
	for _, a := range agents {
		if err := a.Router.SetThresholds(t); err != nil {
			return err
		}
	}
	r.logger.Info("router thresholds updated",
		zap.Float64("faq", t.FAQ), zap.Float64("pages", t.Pages), zap.Float64("escalation", t.Escalation))
	return nil
}
