package routing

import (
	"fmt"
	"math"
)

// ScoringPolicy maps a raw similarity to a reported confidence. Policies
// are versioned and the version is stamped on every decision, so a
// decision can be reproduced from its inputs.
type ScoringPolicy struct {
	Version    string  `json:"version"`
	FAQBoost   float64 `json:"faq_boost"`
	FAQCap     float64 `json:"faq_cap"`
	PagesBoost float64 `json:"pages_boost"`
	PagesCap   float64 `json:"pages_cap"`
}

// DefaultPolicy is v1: FAQ min(0.95, s*1.2), Pages min(0.90, s*1.1).
func DefaultPolicy() ScoringPolicy {
	return ScoringPolicy{Version: "v1", FAQBoost: 1.2, FAQCap: 0.95, PagesBoost: 1.1, PagesCap: 0.90}
}

// Validate rejects unversioned policies and caps outside (0,1].
func (p ScoringPolicy) Validate() error {
	if p.Version == "" {
		return fmt.Errorf("scoring policy: version is required")
	}
	if p.FAQBoost <= 0 || p.PagesBoost <= 0 {
		return fmt.Errorf("scoring policy %s: boosts must be > 0", p.Version)
	}
	if p.FAQCap <= 0 || p.FAQCap > 1 || p.PagesCap <= 0 || p.PagesCap > 1 {
		return fmt.Errorf("scoring policy %s: caps must lie in (0,1]", p.Version)
	}
	return nil
}

// FAQConfidence scores a FAQ match.
func (p ScoringPolicy) FAQConfidence(similarity float64) float64 {
	return math.Min(p.FAQCap, similarity*p.FAQBoost)
}

// PagesConfidence scores a Pages match.
func (p ScoringPolicy) PagesConfidence(similarity float64) float64 {
	return math.Min(p.PagesCap, similarity*p.PagesBoost)
}

// Fallback messages by similarity band.
const (
	MessageNoMatch = "I'm sorry, I couldn't find any information about that on this site. " +
		"Could you rephrase your question or ask about something else?"
	MessageWeakMatch = "I found some loosely related content, but not enough to answer confidently. " +
		"Could you add more detail to your question?"
	MessagePartialMatch = "I found related information, but I'm not confident it answers your question. " +
		"Please check the linked pages or contact us directly."
	MessageEscalate = "I can't answer this one. Your question has been forwarded to a member of our team."
)

// FallbackMessage picks the DONT_KNOW message for the best similarity:
// below 0.3, 0.3 up to 0.5, and 0.5 or more.
func FallbackMessage(similarity float64) string {
	switch {
	case similarity < 0.3:
		return MessageNoMatch
	case similarity < 0.5:
		return MessageWeakMatch
	default:
		return MessagePartialMatch
	}
}

// roundScore drops float32 noise so a stored 0.83 compares equal to 0.83.
func roundScore(s float32) float64 {
	return math.Round(float64(s)*1e6) / 1e6
}
