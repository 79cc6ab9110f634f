package security

import (
	"strings"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// SecretDetector finds credential values in free text.
type SecretDetector interface {
	// Detect returns the secret values found in text.
	Detect(text string) ([]string, error)
}

// GitleaksDetector scans with the default gitleaks rule set.
type GitleaksDetector struct{}

// Detect builds a fresh detector per call; gitleaks detectors accumulate
// state and are not shared between requests.
func (GitleaksDetector) Detect(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, f := range d.DetectString(text) {
		if f.Secret != "" {
			out = append(out, f.Secret)
		}
	}
	return out, nil
}

// secretSpans locates every occurrence of each secret value in text.
func secretSpans(text string, secrets []string) []span {
	var held []span
	for _, s := range secrets {
		from := 0
		for {
			i := strings.Index(text[from:], s)
			if i < 0 {
				break
			}
			start := from + i
			end := start + len(s)
			if !overlaps(held, start, end) {
				held = append(held, span{start: start, end: end, category: CategorySecret})
			}
			from = end
		}
	}
	return held
}
