package mirror

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	domainPattern = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}$`)
	siteIDPattern = regexp.MustCompile(`^[a-z0-9_]{1,128}$`)
)

// Site is the tenant identity of a Mirror Agent.
type Site struct {
	ID     string `json:"site_id"`
	Domain string `json:"domain"`
}

// NewSite normalizes domain and derives a stable site id from it.
func NewSite(domain string) (Site, error) {
	normalized := NormalizeDomain(domain)
	if !domainPattern.MatchString(normalized) {
		return Site{}, NewValidationError("domain", "not a valid hostname: "+domain)
	}
	return Site{ID: SiteIDFromDomain(normalized), Domain: normalized}, nil
}

// NormalizeDomain lowercases a host and strips scheme, credentials, port,
// path and trailing dot. "https://WWW.Acme.ro:443/x" becomes "www.acme.ro".
func NormalizeDomain(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil && u.Host != "" {
			s = u.Host
		}
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSuffix(s, ".")
}

// SiteIDFromDomain maps a normalized domain to a site id. Every character
// outside [a-z0-9] becomes an underscore, so "acme.ro" maps to "acme_ro".
func SiteIDFromDomain(domain string) string {
	var b strings.Builder
	b.Grow(len(domain))
	for _, r := range domain {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ValidateSiteID rejects malformed site identifiers.
func ValidateSiteID(id string) error {
	if !siteIDPattern.MatchString(id) {
		return NewValidationError("site_id", "must match [a-z0-9_]{1,128}")
	}
	return nil
}

// DefaultAllowedDomains returns the apex and www host for a site's domain.
func DefaultAllowedDomains(domain string) []string {
	apex := strings.TrimPrefix(domain, "www.")
	return []string{apex, "www." + apex}
}
