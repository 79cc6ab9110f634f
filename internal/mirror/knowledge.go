package mirror

import (
	"fmt"
	"strconv"
	"time"
)

// StoreKind names one of a site's two vector stores.
type StoreKind string

const (
	StoreFAQ   StoreKind = "faq"
	StorePages StoreKind = "pages"
)

// Payload keys written alongside every vector.
const (
	PayloadText            = "text"
	PayloadSourceURL       = "source_url"
	PayloadTitle           = "title"
	PayloadQuestion        = "question"
	PayloadAnswer          = "answer"
	PayloadEvaluationScore = "evaluation_score"
	PayloadFrequencyCount  = "frequency_count"
	PayloadPromotedAt      = "promoted_at"
	PayloadPromotedBy      = "promoted_by"
	PayloadSiteID          = "site_id"
)

// KnowledgeEntry is a single vector stored in a FAQ or Pages store.
// The provenance fields are only set on promoted FAQ entries.
type KnowledgeEntry struct {
	ID        string            `json:"id"`
	Vector    []float32         `json:"-"`
	Text      string            `json:"text"`
	SourceURL string            `json:"source_url,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	Question        string    `json:"question,omitempty"`
	Answer          string    `json:"answer,omitempty"`
	EvaluationScore float64   `json:"evaluation_score,omitempty"`
	FrequencyCount  int       `json:"frequency_count,omitempty"`
	PromotedAt      time.Time `json:"promoted_at,omitempty"`
	PromotedBy      string    `json:"promoted_by,omitempty"`
}

// Payload flattens the entry into scalar payload values.
func (e *KnowledgeEntry) Payload() map[string]any {
	p := make(map[string]any, len(e.Metadata)+8)
	for k, v := range e.Metadata {
		p[k] = v
	}
	p[PayloadText] = e.Text
	if e.SourceURL != "" {
		p[PayloadSourceURL] = e.SourceURL
	}
	if e.Question != "" {
		p[PayloadQuestion] = e.Question
	}
	if e.Answer != "" {
		p[PayloadAnswer] = e.Answer
	}
	if !e.PromotedAt.IsZero() {
		p[PayloadEvaluationScore] = e.EvaluationScore
		p[PayloadFrequencyCount] = int64(e.FrequencyCount)
		p[PayloadPromotedAt] = e.PromotedAt.UTC().Format(time.RFC3339)
		p[PayloadPromotedBy] = e.PromotedBy
	}
	return p
}

// EntryFromPayload rebuilds an entry from a stored payload.
func EntryFromPayload(id string, payload map[string]any) *KnowledgeEntry {
	e := &KnowledgeEntry{ID: id, Metadata: map[string]string{}}
	for k, v := range payload {
		switch k {
		case PayloadText:
			e.Text = asString(v)
		case PayloadSourceURL:
			e.SourceURL = asString(v)
		case PayloadQuestion:
			e.Question = asString(v)
		case PayloadAnswer:
			e.Answer = asString(v)
		case PayloadEvaluationScore:
			e.EvaluationScore = asFloat(v)
		case PayloadFrequencyCount:
			e.FrequencyCount = int(asFloat(v))
		case PayloadPromotedAt:
			if t, err := time.Parse(time.RFC3339, asString(v)); err == nil {
				e.PromotedAt = t
			}
		case PayloadPromotedBy:
			e.PromotedBy = asString(v)
		default:
			e.Metadata[k] = asString(v)
		}
	}
	return e
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

// StoreIDs identifies a site's two vector stores.
type StoreIDs struct {
	PagesStoreID string `json:"pages_store_id"`
	FAQStoreID   string `json:"faq_store_id"`
}

// CollectionRecord is a discovery-table row describing one provisioned store.
type CollectionRecord struct {
	SiteID    string    `json:"site_id"`
	Kind      StoreKind `json:"kind"`
	Name      string    `json:"name"`
	Dimension int       `json:"dimension"`
	Distance  string    `json:"distance"`
	CreatedAt time.Time `json:"created_at"`
}
