package security

import (
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
)

var domainToken = regexp.MustCompile(`(?i)(^|[^a-z0-9@._-])((?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63})\b`)

// ExtractDomains returns the distinct domain-like tokens in text, in order
// of appearance. Email hosts and tokens without an ICANN suffix (file
// names, abbreviations) are ignored.
func ExtractDomains(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range domainToken.FindAllStringSubmatch(text, -1) {
		d := mirror.NormalizeDomain(m[2])
		if d == "" || seen[d] {
			continue
		}
		if _, icann := publicsuffix.PublicSuffix(d); !icann {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// matchesAny reports whether host equals an entry or is a subdomain of one.
// Entries may carry a leading "*.".
func matchesAny(host string, entries []string) bool {
	for _, e := range entries {
		e = strings.TrimPrefix(e, "*.")
		if e == "" {
			continue
		}
		if host == e || strings.HasSuffix(host, "."+e) {
			return true
		}
	}
	return false
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, d := range in {
		wildcard := strings.HasPrefix(strings.TrimSpace(d), "*.")
		n := mirror.NormalizeDomain(strings.TrimPrefix(strings.TrimSpace(d), "*."))
		if n == "" {
			continue
		}
		if wildcard {
			n = "*." + n
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
