package kpi

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
)

//go:embed golden.toml
var defaultGolden []byte

// MinQuestions is the smallest golden set a run accepts.
const MinQuestions = 10

// Difficulty grades a golden question.
type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// Expectation is the decision type a golden question should produce.
type Expectation string

const (
	ExpectFAQ      Expectation = "faq"
	ExpectPages    Expectation = "pages"
	ExpectFallback Expectation = "fallback"
	ExpectEscalate Expectation = "escalate"
)

// Decision maps the expectation to the routing decision it names.
func (e Expectation) Decision() mirror.Decision {
	switch e {
	case ExpectFAQ:
		return mirror.DecisionFAQ
	case ExpectPages:
		return mirror.DecisionPages
	case ExpectFallback:
		return mirror.DecisionDontKnow
	case ExpectEscalate:
		return mirror.DecisionEscalate
	}
	return ""
}

// GoldenQuestion is one regression question.
type GoldenQuestion struct {
	ID             string      `toml:"id" json:"id"`
	Question       string      `toml:"question" json:"question"`
	Difficulty     Difficulty  `toml:"difficulty" json:"difficulty"`
	Expected       Expectation `toml:"expected" json:"expected"`
	ExpectedAnswer string      `toml:"expected_answer" json:"expected_answer,omitempty"`
}

// GoldenSet is a versioned list of questions.
type GoldenSet struct {
	Version   string           `toml:"version" json:"version"`
	Questions []GoldenQuestion `toml:"questions" json:"questions"`
}

// DefaultGoldenSet returns the embedded set.
func DefaultGoldenSet() *GoldenSet {
	gs, err := ParseGoldenSet(defaultGolden)
	if err != nil {
		panic(fmt.Sprintf("embedded golden set is invalid: %v", err))
	}
	return gs
}

// LoadGoldenSet reads a TOML golden set from path.
func LoadGoldenSet(path string) (*GoldenSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read golden set: %w", err)
	}
	return ParseGoldenSet(data)
}

// ParseGoldenSet decodes and validates a TOML golden set.
func ParseGoldenSet(data []byte) (*GoldenSet, error) {
	var gs GoldenSet
	md, err := toml.Decode(string(data), &gs)
	if err != nil {
		return nil, mirror.NewValidationError("golden set", err.Error())
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, mirror.NewValidationError("golden set", fmt.Sprintf("unknown key %s", undecoded[0]))
	}
	if err := gs.Validate(); err != nil {
		return nil, err
	}
	return &gs, nil
}

// Validate requires a version, at least MinQuestions questions, unique
// IDs and known difficulty and expectation values.
func (gs *GoldenSet) Validate() error {
	if gs.Version == "" {
		return mirror.NewValidationError("golden set", "version is required")
	}
	if len(gs.Questions) < MinQuestions {
		return mirror.NewValidationError("golden set", fmt.Sprintf("need at least %d questions, got %d", MinQuestions, len(gs.Questions)))
	}
	seen := make(map[string]bool, len(gs.Questions))
	for i, q := range gs.Questions {
		if q.ID == "" || q.Question == "" {
			return mirror.NewValidationError("golden set", fmt.Sprintf("question %d needs id and question", i))
		}
		if seen[q.ID] {
			return mirror.NewValidationError("golden set", "duplicate id "+q.ID)
		}
		seen[q.ID] = true
		switch q.Difficulty {
		case Easy, Medium, Hard:
		default:
			return mirror.NewValidationError("golden set", fmt.Sprintf("%s: unknown difficulty %q", q.ID, q.Difficulty))
		}
		if q.Expected.Decision() == "" {
			return mirror.NewValidationError("golden set", fmt.Sprintf("%s: unknown expectation %q", q.ID, q.Expected))
		}
	}
	return nil
}
