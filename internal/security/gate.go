// Package security enforces a site's security boundary: domain access,
// PII scrubbing and cross-domain query validation.
//
// Each check returns a verdict and, when something was caught, an
// append-only violation record. Domain and cross-domain checks can deny;
// PII scrubbing never blocks, it only redacts.
package security

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
	"github.com/fyrsmithlabs/mirroragent/internal/store"
)

var violationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mirror",
	Subsystem: "security",
	Name:      "violations_total",
	Help:      "Security violations recorded, by type.",
}, []string{"type"})

// Store is the persistence the gate needs.
type Store interface {
	store.WhitelistStore
	store.ViolationStore
}

// Verdict is the outcome of a domain or cross-domain check.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	// Offending lists the domains that caused a cross-domain denial.
	Offending []string                  `json:"offending,omitempty"`
	Violation *mirror.SecurityViolation `json:"violation,omitempty"`
}

// ScrubResult is the redacted text and what was removed.
type ScrubResult struct {
	Text       string                    `json:"text"`
	Detections []Detection               `json:"detections"`
	Violation  *mirror.SecurityViolation `json:"violation,omitempty"`
}

// Found reports whether anything was redacted.
func (r *ScrubResult) Found() bool { return len(r.Detections) > 0 }

// Option configures a Gate.
type Option func(*Gate)

// WithSecretDetector replaces the gitleaks detector. nil disables secret scanning.
func WithSecretDetector(d SecretDetector) Option {
	return func(g *Gate) { g.secrets = d }
}

// Gate implements the three security checks for every site.
type Gate struct {
	store   Store
	secrets SecretDetector
	logger  *zap.Logger
	now     func() time.Time
	lazy    singleflight.Group
}

// New creates a Gate.
func New(s Store, logger *zap.Logger, opts ...Option) (*Gate, error) {
	if s == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	g := &Gate{store: s, secrets: GitleaksDetector{}, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Whitelist returns the site's whitelist, creating the deny-unless-listed
// default on first access.
func (g *Gate) Whitelist(ctx context.Context, siteID string) (*mirror.Whitelist, error) {
	if err := mirror.ValidateSiteID(siteID); err != nil {
		return nil, err
	}
	wl, err := g.store.GetWhitelist(ctx, siteID)
	if err == nil {
		return wl, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load whitelist: %w", err)
	}

	v, err, _ := g.lazy.Do(siteID, func() (any, error) {
		if wl, err := g.store.GetWhitelist(ctx, siteID); err == nil {
			return wl, nil
		}
		wl := mirror.DefaultWhitelist(siteID)
		wl.UpdatedAt = g.now().UTC()
		if err := g.store.PutWhitelist(ctx, wl); err != nil {
			return nil, fmt.Errorf("create default whitelist: %w", err)
		}
		g.logger.Info("created default whitelist", zap.String("site_id", siteID))
		return wl, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*mirror.Whitelist), nil
}

// Configure normalizes and stores wl.
func (g *Gate) Configure(ctx context.Context, wl *mirror.Whitelist) error {
	if err := mirror.ValidateSiteID(wl.SiteID); err != nil {
		return err
	}
	cp := *wl
	cp.AllowedDomains = normalizeList(wl.AllowedDomains)
	cp.BlockedDomains = normalizeList(wl.BlockedDomains)
	cp.UpdatedAt = g.now().UTC()
	if err := g.store.PutWhitelist(ctx, &cp); err != nil {
		return fmt.Errorf("store whitelist: %w", err)
	}
	g.logger.Info("whitelist configured",
		zap.String("site_id", cp.SiteID),
		zap.Strings("allowed", cp.AllowedDomains),
		zap.Bool("strict_mode", cp.StrictMode))
	return nil
}

// ConfigureSite allows the site's apex and www host with every protection on.
func (g *Gate) ConfigureSite(ctx context.Context, site mirror.Site, strict bool) (*mirror.Whitelist, error) {
	wl := mirror.DefaultWhitelist(site.ID)
	wl.AllowedDomains = mirror.DefaultAllowedDomains(site.Domain)
	wl.StrictMode = strict
	if err := g.Configure(ctx, wl); err != nil {
		return nil, err
	}
	return g.store.GetWhitelist(ctx, site.ID)
}

// CheckDomain decides whether requests from domain may reach the site.
// Blocked entries win over allowed ones; in strict mode anything unlisted
// is denied.
func (g *Gate) CheckDomain(ctx context.Context, siteID, domain string) (*Verdict, error) {
	wl, err := g.Whitelist(ctx, siteID)
	if err != nil {
		return nil, err
	}
	host := mirror.NormalizeDomain(domain)

	switch {
	case host == "":
		v := g.violate(ctx, siteID, mirror.ViolationDomainNotListed, mirror.SeverityMedium, "empty request domain")
		return &Verdict{Reason: "empty domain", Violation: v}, nil
	case matchesAny(host, wl.BlockedDomains):
		v := g.violate(ctx, siteID, mirror.ViolationDomainBlocked, mirror.SeverityHigh, "blocked domain: "+host)
		return &Verdict{Reason: "domain is blocked", Violation: v}, nil
	case matchesAny(host, wl.AllowedDomains):
		return &Verdict{Allowed: true, Reason: "domain is whitelisted"}, nil
	case wl.StrictMode:
		v := g.violate(ctx, siteID, mirror.ViolationDomainNotListed, mirror.SeverityMedium, "domain not whitelisted: "+host)
		return &Verdict{Reason: "domain not whitelisted (strict mode)", Violation: v}, nil
	default:
		return &Verdict{Allowed: true, Reason: "strict mode off"}, nil
	}
}

// ValidateQuery denies text that references domains outside the allow-list
// when cross-domain blocking is on.
func (g *Gate) ValidateQuery(ctx context.Context, siteID, text string) (*Verdict, error) {
	wl, err := g.Whitelist(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if !wl.CrossDomainBlocked {
		return &Verdict{Allowed: true, Reason: "cross-domain blocking disabled"}, nil
	}

	var offending []string
	for _, d := range ExtractDomains(text) {
		if !matchesAny(d, wl.AllowedDomains) {
			offending = append(offending, d)
		}
	}
	if len(offending) == 0 {
		return &Verdict{Allowed: true, Reason: "no foreign domains referenced"}, nil
	}
	v := g.violate(ctx, siteID, mirror.ViolationCrossDomainQuery, mirror.SeverityMedium,
		"query references: "+strings.Join(offending, ", "))
	return &Verdict{Reason: "cross-domain query", Offending: offending, Violation: v}, nil
}

// Scrub redacts secrets and PII from text. It never fails the caller on a
// detection; a violation is logged when anything was found.
func (g *Gate) Scrub(ctx context.Context, siteID, text string) (*ScrubResult, error) {
	wl, err := g.Whitelist(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if !wl.PIIScrubbingEnabled {
		return &ScrubResult{Text: text}, nil
	}

	var held []span
	if g.secrets != nil {
		found, err := g.secrets.Detect(text)
		if err != nil {
			g.logger.Warn("secret detection failed", zap.String("site_id", siteID), zap.Error(err))
		}
		held = secretSpans(text, found)
	}
	for _, d := range piiDetectors {
		held = d.claim(text, held)
	}

	out, detections := redact(text, held)
	res := &ScrubResult{Text: out, Detections: detections}
	if len(detections) == 0 {
		return res, nil
	}

	counts := map[Category]int{}
	for _, d := range detections {
		counts[d.Category]++
	}
	kind, severity := mirror.ViolationPIIDetected, mirror.SeverityLow
	if counts[CategorySecret] > 0 {
		kind, severity = mirror.ViolationSecretDetected, mirror.SeverityHigh
	}
	res.Violation = g.violate(ctx, siteID, kind, severity, summarize(counts))
	return res, nil
}

// Violations lists a site's audit records, newest first.
func (g *Gate) Violations(ctx context.Context, siteID string, limit int) ([]*mirror.SecurityViolation, error) {
	if err := mirror.ValidateSiteID(siteID); err != nil {
		return nil, err
	}
	return g.store.ListViolations(ctx, siteID, limit)
}

// violate appends a violation. Audit write failures are logged; the verdict
// already computed stands.
func (g *Gate) violate(ctx context.Context, siteID string, kind mirror.ViolationType, sev mirror.Severity, detail string) *mirror.SecurityViolation {
	v := &mirror.SecurityViolation{
		ID:        uuid.NewString(),
		SiteID:    siteID,
		Type:      kind,
		Severity:  sev,
		Detail:    detail,
		Timestamp: g.now().UTC(),
	}
	violationsTotal.WithLabelValues(string(kind)).Inc()
	if err := g.store.AppendViolation(ctx, v); err != nil {
		g.logger.Error("failed to record security violation",
			zap.String("site_id", siteID), zap.String("type", string(kind)), zap.Error(err))
	}
	g.logger.Warn("security violation",
		zap.String("site_id", siteID),
		zap.String("type", string(kind)),
		zap.String("severity", string(sev)))
	return v
}

func summarize(counts map[Category]int) string {
	cats := make([]string, 0, len(counts))
	for c := range counts {
		cats = append(cats, string(c))
	}
	slices.Sort(cats)
	parts := make([]string, 0, len(cats))
	for _, c := range cats {
		parts = append(parts, fmt.Sprintf("%s=%d", c, counts[Category(c)]))
	}
	return "redacted " + strings.Join(parts, ", ")
}
