// Package store defines the document store that persists per-site state:
// whitelists, security violations, logged interactions, FAQ candidates,
// KPI snapshots, provisioning reports, manifests and the collection
// discovery table.
//
// Two implementations exist: store/memory for tests and single-process
// deployments, and store/postgres for shared deployments.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
)

// ErrNotFound is returned by lookups that match no record.
var ErrNotFound = errors.New("record not found")

// WhitelistStore persists per-site whitelists.
type WhitelistStore interface {
	// GetWhitelist returns ErrNotFound when the site has none yet.
	GetWhitelist(ctx context.Context, siteID string) (*mirror.Whitelist, error)
	PutWhitelist(ctx context.Context, wl *mirror.Whitelist) error
}

// ViolationStore is an append-only audit log. Appending an ID that already
// exists leaves the stored record untouched.
type ViolationStore interface {
	AppendViolation(ctx context.Context, v *mirror.SecurityViolation) error
	// ListViolations returns newest first. limit <= 0 means no limit.
	ListViolations(ctx context.Context, siteID string, limit int) ([]*mirror.SecurityViolation, error)
}

// InteractionStore persists routed questions for later curation.
type InteractionStore interface {
	PutInteraction(ctx context.Context, in *mirror.Interaction) error
	// ListInteractions returns interactions created at or after since with
	// confidence >= minConfidence, oldest first.
	ListInteractions(ctx context.Context, siteID string, since time.Time, minConfidence float64) ([]*mirror.Interaction, error)
	// PruneInteractions drops interactions created before cutoff.
	PruneInteractions(ctx context.Context, siteID string, cutoff time.Time) (int, error)
}

// CandidateStore tracks FAQ candidates through curation.
type CandidateStore interface {
	PutCandidate(ctx context.Context, c *mirror.FAQCandidate) error
	GetCandidate(ctx context.Context, id string) (*mirror.FAQCandidate, error)
	ListCandidates(ctx context.Context, siteID string) ([]*mirror.FAQCandidate, error)
	DeleteCandidate(ctx context.Context, id string) error
	// PruneCandidates drops unpromoted candidates last updated before cutoff.
	PruneCandidates(ctx context.Context, siteID string, cutoff time.Time) (int, error)
}

// KPIStore persists KPI snapshots.
type KPIStore interface {
	PutKPISnapshot(ctx context.Context, s *mirror.KPISnapshot) error
	// LatestKPISnapshot returns ErrNotFound when no run exists.
	LatestKPISnapshot(ctx context.Context, siteID string) (*mirror.KPISnapshot, error)
}

// ReportStore persists provisioning reports.
type ReportStore interface {
	PutReport(ctx context.Context, r *mirror.ProvisioningReport) error
	GetReport(ctx context.Context, id string) (*mirror.ProvisioningReport, error)
	LatestReport(ctx context.Context, siteID string) (*mirror.ProvisioningReport, error)
}

// ManifestStore persists site manifests.
type ManifestStore interface {
	PutManifest(ctx context.Context, m *mirror.Manifest) error
	GetManifest(ctx context.Context, siteID string) (*mirror.Manifest, error)
}

// CollectionStore is the discovery table of provisioned vector stores.
type CollectionStore interface {
	// PutCollection is keyed by (site_id, kind).
	PutCollection(ctx context.Context, rec *mirror.CollectionRecord) error
	ListCollections(ctx context.Context, siteID string) ([]*mirror.CollectionRecord, error)
	// ListSites returns every site id with at least one record, sorted.
	ListSites(ctx context.Context) ([]string, error)
}

// Store is the full document store.
type Store interface {
	WhitelistStore
	ViolationStore
	InteractionStore
	CandidateStore
	KPIStore
	ReportStore
	ManifestStore
	CollectionStore

	Ping(ctx context.Context) error
	Close() error
}
