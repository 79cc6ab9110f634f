// Package collections provisions the two isolated vector stores of a site
// and records them in the discovery table.
//
// Store names are derived from the site id ({site_id}_faq, {site_id}_pages),
// so provisioning the same site twice resolves to the same stores and
// creates nothing new.
package collections

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
	"github.com/fyrsmithlabs/mirroragent/internal/store"
	"github.com/fyrsmithlabs/mirroragent/internal/vectorstore"
)

// DistanceCosine is the only distance metric provisioned.
const DistanceCosine = "cosine"

var provisionedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mirror",
	Subsystem: "collections",
	Name:      "ensured_total",
	Help:      "Collections ensured, by store kind and outcome (created, existing, error).",
}, []string{"kind", "outcome"})

// ErrIncomplete is returned by Resolve when a site lacks either store record.
var ErrIncomplete = errors.New("site collections incomplete")

// Name returns the deterministic collection name of a site's store.
func Name(siteID string, kind mirror.StoreKind) string {
	return siteID + "_" + string(kind)
}

// Names returns both store names for siteID.
func Names(siteID string) mirror.StoreIDs {
	return mirror.StoreIDs{
		PagesStoreID: Name(siteID, mirror.StorePages),
		FAQStoreID:   Name(siteID, mirror.StoreFAQ),
	}
}

// Config controls provisioning.
type Config struct {
	Dimension       int
	MaxTries        uint
	InitialInterval time.Duration
}

// Provisioner implements ensure_collections.
type Provisioner struct {
	vectors vectorstore.Store
	records store.CollectionStore
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a Provisioner.
func New(vectors vectorstore.Store, records store.CollectionStore, cfg Config, logger *zap.Logger) (*Provisioner, error) {
	if vectors == nil || records == nil {
		return nil, errors.New("vector store and collection records are required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Dimension <= 0 {
		return nil, mirror.NewValidationError("dimension", "must be > 0")
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	return &Provisioner{vectors: vectors, records: records, cfg: cfg, logger: logger, now: time.Now}, nil
}

// Dimension is the vector size every store is created with.
func (p *Provisioner) Dimension() int { return p.cfg.Dimension }

// EnsureCollections creates whichever of the site's stores are missing and
// returns both identifiers. Existing stores must match the configured
// dimension.
func (p *Provisioner) EnsureCollections(ctx context.Context, siteID string) (mirror.StoreIDs, error) {
	if err := mirror.ValidateSiteID(siteID); err != nil {
		return mirror.StoreIDs{}, err
	}

	existing, err := p.records.ListCollections(ctx, siteID)
	if err != nil {
		return mirror.StoreIDs{}, fmt.Errorf("load collection records: %w", err)
	}
	known := make(map[mirror.StoreKind]*mirror.CollectionRecord, len(existing))
	for _, rec := range existing {
		known[rec.Kind] = rec
	}

	for _, kind := range []mirror.StoreKind{mirror.StorePages, mirror.StoreFAQ} {
		name := Name(siteID, kind)
		outcome, err := p.ensureOne(ctx, name)
		if err != nil {
			provisionedTotal.WithLabelValues(string(kind), "error").Inc()
			return mirror.StoreIDs{}, fmt.Errorf("ensure %s: %w", name, err)
		}
		provisionedTotal.WithLabelValues(string(kind), outcome).Inc()

		rec := known[kind]
		if rec == nil || rec.Name != name || rec.Dimension != p.cfg.Dimension {
			createdAt := p.now().UTC()
			if rec != nil {
				createdAt = rec.CreatedAt
			}
			rec = &mirror.CollectionRecord{
				SiteID:    siteID,
				Kind:      kind,
				Name:      name,
				Dimension: p.cfg.Dimension,
				Distance:  DistanceCosine,
				CreatedAt: createdAt,
			}
			if err := p.records.PutCollection(ctx, rec); err != nil {
				return mirror.StoreIDs{}, fmt.Errorf("record %s: %w", name, err)
			}
		}
		p.logger.Info("collection ensured",
			zap.String("site_id", siteID),
			zap.String("collection", name),
			zap.String("outcome", outcome))
	}
	return Names(siteID), nil
}

// ensureOne returns "created" or "existing".
func (p *Provisioner) ensureOne(ctx context.Context, name string) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.InitialInterval

	return backoff.Retry(ctx, func() (string, error) {
		exists, err := p.vectors.CollectionExists(ctx, name)
		if err != nil {
			return "", classify(err)
		}
		if exists {
			return "existing", p.checkDimension(ctx, name)
		}
		err = p.vectors.CreateCollection(ctx, name, p.cfg.Dimension)
		switch {
		case err == nil:
			return "created", nil
		case errors.Is(err, vectorstore.ErrCollectionExists):
			// Lost a race with a concurrent provisioner.
			return "existing", p.checkDimension(ctx, name)
		default:
			return "", classify(err)
		}
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.cfg.MaxTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			p.logger.Warn("collection provisioning failed, retrying",
				zap.String("collection", name), zap.Duration("backoff", d), zap.Error(err))
		}),
	)
}

func (p *Provisioner) checkDimension(ctx context.Context, name string) error {
	info, err := p.vectors.GetCollectionInfo(ctx, name)
	if err != nil {
		return classify(err)
	}
	if info.VectorSize > 0 && info.VectorSize != p.cfg.Dimension {
		return backoff.Permanent(fmt.Errorf("%w: %s has %d, want %d",
			vectorstore.ErrDimensionMismatch, name, info.VectorSize, p.cfg.Dimension))
	}
	return nil
}

func classify(err error) error {
	if mirror.IsTransient(err) {
		return err
	}
	return backoff.Permanent(err)
}

// Resolve returns a site's stores from the discovery table.
func (p *Provisioner) Resolve(ctx context.Context, siteID string) (mirror.StoreIDs, error) {
	recs, err := p.records.ListCollections(ctx, siteID)
	if err != nil {
		return mirror.StoreIDs{}, err
	}
	var ids mirror.StoreIDs
	for _, rec := range recs {
		switch rec.Kind {
		case mirror.StoreFAQ:
			ids.FAQStoreID = rec.Name
		case mirror.StorePages:
			ids.PagesStoreID = rec.Name
		}
	}
	if ids.FAQStoreID == "" || ids.PagesStoreID == "" {
		return ids, fmt.Errorf("%w: %s", ErrIncomplete, siteID)
	}
	return ids, nil
}

// Verify reports whether each of the site's stores exists in the vector store.
func (p *Provisioner) Verify(ctx context.Context, siteID string) (map[mirror.StoreKind]bool, error) {
	out := make(map[mirror.StoreKind]bool, 2)
	for _, kind := range []mirror.StoreKind{mirror.StorePages, mirror.StoreFAQ} {
		ok, err := p.vectors.CollectionExists(ctx, Name(siteID, kind))
		if err != nil {
			return out, err
		}
		out[kind] = ok
	}
	return out, nil
}
