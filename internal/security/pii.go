package security

import (
	"math/big"
	"regexp"
	"sort"
	"strings"
)

// Category names a kind of sensitive data.
type Category string

const (
	CategorySecret     Category = "secret"
	CategoryEmail      Category = "email"
	CategoryPhone      Category = "phone"
	CategoryNationalID Category = "national_id"
	CategoryIBAN       Category = "iban"
	CategoryCard       Category = "card_number"
	CategoryAddress    Category = "street_address"
	CategoryName       Category = "full_name"
)

// Placeholders replace each detected span.
var Placeholders = map[Category]string{
	CategorySecret:     "[SECRET]",
	CategoryEmail:      "[EMAIL]",
	CategoryPhone:      "[PHONE]",
	CategoryNationalID: "[NATIONAL_ID]",
	CategoryIBAN:       "[IBAN]",
	CategoryCard:       "[CARD]",
	CategoryAddress:    "[ADDRESS]",
	CategoryName:       "[NAME]",
}

// Detection is one redacted span. Offsets refer to the input text; the
// matched value itself is never retained.
type Detection struct {
	Category    Category `json:"category"`
	Start       int      `json:"start"`
	End         int      `json:"end"`
	Placeholder string   `json:"placeholder"`
}

type detector struct {
	category Category
	pattern  *regexp.Regexp
	// group selects the submatch to redact; 0 is the whole match.
	group int
	valid func(match string) bool
}

// piiDetectors run in this order. A span claimed by an earlier detector
// is never re-examined by a later one.
var piiDetectors = []detector{
	{
		category: CategoryEmail,
		pattern:  regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
	},
	{
		category: CategoryPhone,
		pattern:  regexp.MustCompile(`(?:\+\d{1,3}|\b0)(?:[\s.-]?\d){8,11}\b`),
	},
	{
		category: CategoryNationalID,
		pattern:  regexp.MustCompile(`\b[1-9]\d{12}\b`),
		valid:    validCNP,
	},
	{
		category: CategoryIBAN,
		pattern:  regexp.MustCompile(`\b[A-Z]{2}\d{2}(?:[A-Z0-9]{11,30}|(?: [A-Z0-9]{4}){2,7}(?: [A-Z0-9]{1,4})?)\b`),
		valid:    validIBAN,
	},
	{
		category: CategoryCard,
		pattern:  regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`),
		valid:    validLuhn,
	},
	{
		category: CategoryAddress,
		pattern: regexp.MustCompile(`(?i)\b(?:str\.?|strada|bd\.?|bdul\.?|bulevardul|calea|aleea|sos\.?|soseaua)\s+\p{L}[\p{L}\s.-]{1,40}?,?\s*nr\.?\s*\d+[a-z]?\b` +
			`|\b\d{1,5}\s+(?:[A-Z][a-z]+\s){1,3}(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive)\b`),
	},
	{
		category: CategoryName,
		pattern: regexp.MustCompile(`(?:\b(?:Mr|Mrs|Ms|Dr|Dl|Dna|Domnul|Doamna)\.?\s+|(?i:my name is|numele meu este|ma numesc)\s+)` +
			`(\p{Lu}\p{Ll}+(?:[ -]\p{Lu}\p{Ll}+)+)`),
		group: 1,
	},
}

type span struct {
	start, end int
	category   Category
}

// claim adds the detector's matches that do not overlap spans already held.
func (d detector) claim(text string, held []span) []span {
	for _, m := range d.pattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[2*d.group], m[2*d.group+1]
		if start < 0 {
			continue
		}
		if d.valid != nil && !d.valid(text[start:end]) {
			continue
		}
		if overlaps(held, start, end) {
			continue
		}
		held = append(held, span{start: start, end: end, category: d.category})
	}
	return held
}

func overlaps(held []span, start, end int) bool {
	for _, s := range held {
		if start < s.end && s.start < end {
			return true
		}
	}
	return false
}

// redact replaces every held span with its placeholder.
func redact(text string, held []span) (string, []Detection) {
	if len(held) == 0 {
		return text, nil
	}
	sort.Slice(held, func(i, j int) bool { return held[i].start < held[j].start })

	var b strings.Builder
	b.Grow(len(text))
	detections := make([]Detection, 0, len(held))
	last := 0
	for _, s := range held {
		b.WriteString(text[last:s.start])
		b.WriteString(Placeholders[s.category])
		last = s.end
		detections = append(detections, Detection{
			Category:    s.category,
			Start:       s.start,
			End:         s.end,
			Placeholder: Placeholders[s.category],
		})
	}
	b.WriteString(text[last:])
	return b.String(), detections
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// validCNP checks the Romanian personal numeric code control digit.
func validCNP(s string) bool {
	const weights = "279146358279"
	if len(s) != 13 {
		return false
	}
	sum := 0
	for i := 0; i < 12; i++ {
		sum += int(s[i]-'0') * int(weights[i]-'0')
	}
	check := sum % 11
	if check == 10 {
		check = 1
	}
	return int(s[12]-'0') == check
}

// validIBAN applies the ISO 13616 mod-97 check.
func validIBAN(s string) bool {
	s = strings.ReplaceAll(s, " ", "")
	if len(s) < 15 || len(s) > 34 {
		return false
	}
	rearranged := s[4:] + s[:4]
	var digits strings.Builder
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			digits.WriteString(big.NewInt(int64(r-'A') + 10).String())
		default:
			return false
		}
	}
	n, ok := new(big.Int).SetString(digits.String(), 10)
	if !ok {
		return false
	}
	return new(big.Int).Mod(n, big.NewInt(97)).Int64() == 1
}

// validLuhn checks a 13 to 19 digit card number.
func validLuhn(s string) bool {
	d := digitsOnly(s)
	if len(d) < 13 || len(d) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(d) - 1; i >= 0; i-- {
		n := int(d[i] - '0')
		if double {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		double = !double
	}
	return sum%10 == 0
}
