// Package memory is an in-process implementation of store.Store.
// Records are copied on the way in and on the way out so callers never
// share state with the store.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
	"github.com/fyrsmithlabs/mirroragent/internal/store"
)

// Store keeps every record in maps guarded by a single RWMutex.
type Store struct {
	mu           sync.RWMutex
	whitelists   map[string]*mirror.Whitelist
	violations   []*mirror.SecurityViolation
	violationIDs map[string]struct{}
	interactions map[string]*mirror.Interaction
	candidates   map[string]*mirror.FAQCandidate
	snapshots    []*mirror.KPISnapshot
	reports      map[string]*mirror.ProvisioningReport
	manifests    map[string]*mirror.Manifest
	collections  map[string]*mirror.CollectionRecord
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		whitelists:   make(map[string]*mirror.Whitelist),
		violationIDs: make(map[string]struct{}),
		interactions: make(map[string]*mirror.Interaction),
		candidates:   make(map[string]*mirror.FAQCandidate),
		reports:      make(map[string]*mirror.ProvisioningReport),
		manifests:    make(map[string]*mirror.Manifest),
		collections:  make(map[string]*mirror.CollectionRecord),
	}
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func (s *Store) GetWhitelist(_ context.Context, siteID string) (*mirror.Whitelist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wl, ok := s.whitelists[siteID]
	if !ok {
		return nil, fmt.Errorf("whitelist %s: %w", siteID, store.ErrNotFound)
	}
	return cloneWhitelist(wl), nil
}

func (s *Store) PutWhitelist(_ context.Context, wl *mirror.Whitelist) error {
	if err := mirror.ValidateSiteID(wl.SiteID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.whitelists[wl.SiteID] = cloneWhitelist(wl)
	return nil
}

func (s *Store) AppendViolation(_ context.Context, v *mirror.SecurityViolation) error {
	if v.ID == "" {
		return mirror.NewValidationError("violation id", "must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.violationIDs[v.ID]; ok {
		return nil
	}
	cp := *v
	s.violations = append(s.violations, &cp)
	s.violationIDs[v.ID] = struct{}{}
	return nil
}

func (s *Store) ListViolations(_ context.Context, siteID string, limit int) ([]*mirror.SecurityViolation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*mirror.SecurityViolation
	for i := len(s.violations) - 1; i >= 0; i-- {
		v := s.violations[i]
		if v.SiteID != siteID {
			continue
		}
		cp := *v
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) PutInteraction(_ context.Context, in *mirror.Interaction) error {
	if in.ID == "" {
		return mirror.NewValidationError("interaction id", "must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *in
	cp.Sources = slices.Clone(in.Sources)
	s.interactions[in.ID] = &cp
	return nil
}

func (s *Store) ListInteractions(_ context.Context, siteID string, since time.Time, minConfidence float64) ([]*mirror.Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*mirror.Interaction
	for _, in := range s.interactions {
		if in.SiteID != siteID || in.CreatedAt.Before(since) || in.Confidence < minConfidence {
			continue
		}
		cp := *in
		cp.Sources = slices.Clone(in.Sources)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) PruneInteractions(_ context.Context, siteID string, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, in := range s.interactions {
		if in.SiteID == siteID && in.CreatedAt.Before(cutoff) {
			delete(s.interactions, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) PutCandidate(_ context.Context, c *mirror.FAQCandidate) error {
	if c.ID == "" {
		return mirror.NewValidationError("candidate id", "must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.candidates[c.ID] = &cp
	return nil
}

func (s *Store) GetCandidate(_ context.Context, id string) (*mirror.FAQCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.candidates[id]
	if !ok {
		return nil, fmt.Errorf("candidate %s: %w", id, store.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ListCandidates(_ context.Context, siteID string) ([]*mirror.FAQCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*mirror.FAQCandidate
	for _, c := range s.candidates {
		if c.SiteID == siteID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteCandidate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.candidates[id]; !ok {
		return fmt.Errorf("candidate %s: %w", id, store.ErrNotFound)
	}
	delete(s.candidates, id)
	return nil
}

func (s *Store) PruneCandidates(_ context.Context, siteID string, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, c := range s.candidates {
		if c.SiteID == siteID && c.Status != mirror.CandidatePromoted && c.UpdatedAt.Before(cutoff) {
			delete(s.candidates, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) PutKPISnapshot(_ context.Context, snap *mirror.KPISnapshot) error {
	if snap.ID == "" {
		return mirror.NewValidationError("snapshot id", "must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *snap
	s.snapshots = append(s.snapshots, &cp)
	return nil
}

func (s *Store) LatestKPISnapshot(_ context.Context, siteID string) (*mirror.KPISnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *mirror.KPISnapshot
	for _, snap := range s.snapshots {
		if snap.SiteID != siteID {
			continue
		}
		if latest == nil || !snap.CreatedAt.Before(latest.CreatedAt) {
			latest = snap
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("kpi snapshot for %s: %w", siteID, store.ErrNotFound)
	}
	cp := *latest
	return &cp, nil
}

func (s *Store) PutReport(_ context.Context, r *mirror.ProvisioningReport) error {
	if r.ID == "" {
		return mirror.NewValidationError("report id", "must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[r.ID] = cloneReport(r)
	return nil
}

func (s *Store) GetReport(_ context.Context, id string) (*mirror.ProvisioningReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, fmt.Errorf("report %s: %w", id, store.ErrNotFound)
	}
	return cloneReport(r), nil
}

func (s *Store) LatestReport(_ context.Context, siteID string) (*mirror.ProvisioningReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *mirror.ProvisioningReport
	for _, r := range s.reports {
		if r.SiteID != siteID {
			continue
		}
		if latest == nil || r.StartedAt.After(latest.StartedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("report for %s: %w", siteID, store.ErrNotFound)
	}
	return cloneReport(latest), nil
}

func (s *Store) PutManifest(_ context.Context, m *mirror.Manifest) error {
	if err := mirror.ValidateSiteID(m.SiteID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.manifests[m.SiteID] = &cp
	return nil
}

func (s *Store) GetManifest(_ context.Context, siteID string) (*mirror.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.manifests[siteID]
	if !ok {
		return nil, fmt.Errorf("manifest %s: %w", siteID, store.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (s *Store) PutCollection(_ context.Context, rec *mirror.CollectionRecord) error {
	if err := mirror.ValidateSiteID(rec.SiteID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.collections[rec.SiteID+"/"+string(rec.Kind)] = &cp
	return nil
}

func (s *Store) ListCollections(_ context.Context, siteID string) ([]*mirror.CollectionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*mirror.CollectionRecord
	for _, rec := range s.collections {
		if rec.SiteID == siteID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

func (s *Store) ListSites(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	out := []string{}
	for _, rec := range s.collections {
		if !seen[rec.SiteID] {
			seen[rec.SiteID] = true
			out = append(out, rec.SiteID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func cloneWhitelist(wl *mirror.Whitelist) *mirror.Whitelist {
	cp := *wl
	cp.AllowedDomains = slices.Clone(wl.AllowedDomains)
	cp.BlockedDomains = slices.Clone(wl.BlockedDomains)
	return &cp
}

func cloneReport(r *mirror.ProvisioningReport) *mirror.ProvisioningReport {
	cp := *r
	cp.Steps = slices.Clone(r.Steps)
	cp.Verification = maps.Clone(r.Verification)
	if r.Stores != nil {
		ids := *r.Stores
		cp.Stores = &ids
	}
	if r.KPI != nil {
		k := *r.KPI
		cp.KPI = &k
	}
	return &cp
}
