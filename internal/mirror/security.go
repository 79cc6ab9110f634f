package mirror

import "time"

// Whitelist governs which domains a site may serve and reference.
type Whitelist struct {
	SiteID              string    `json:"site_id"`
	AllowedDomains      []string  `json:"allowed_domains"`
	BlockedDomains      []string  `json:"blocked_domains"`
	StrictMode          bool      `json:"strict_mode"`
	CrossDomainBlocked  bool      `json:"cross_domain_blocked"`
	PIIScrubbingEnabled bool      `json:"pii_scrubbing_enabled"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// DefaultWhitelist is deny-unless-listed with every protection on.
func DefaultWhitelist(siteID string) *Whitelist {
	return &Whitelist{
		SiteID:              siteID,
		AllowedDomains:      []string{},
		BlockedDomains:      []string{},
		StrictMode:          true,
		CrossDomainBlocked:  true,
		PIIScrubbingEnabled: true,
	}
}

// ViolationType classifies a security violation.
type ViolationType string

const (
	ViolationDomainBlocked    ViolationType = "domain_blocked"
	ViolationDomainNotListed  ViolationType = "domain_not_whitelisted"
	ViolationPIIDetected      ViolationType = "pii_detected"
	ViolationSecretDetected   ViolationType = "secret_detected"
	ViolationCrossDomainQuery ViolationType = "cross_domain_query"
)

// Severity ranks violations and step errors.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SecurityViolation is an immutable audit record.
type SecurityViolation struct {
	ID        string        `json:"id"`
	SiteID    string        `json:"site_id"`
	Type      ViolationType `json:"type"`
	Severity  Severity      `json:"severity"`
	Detail    string        `json:"detail"`
	Timestamp time.Time     `json:"timestamp"`
}
