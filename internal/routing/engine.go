// Package routing answers a site's questions from its FAQ and Pages
// stores under tiered similarity thresholds.
//
// The decision procedure:
//
//	faq   >= T_faq          FAQ_RESPONSE
//	pages >= T_pages        PAGES_SEARCH
//	max   <  T_escalation   ESCALATE
//	otherwise               DONT_KNOW, message chosen by similarity band
//
// A store that is missing or unreachable scores 0; routing itself never
// fails on a store error.
package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mirroragent/internal/events"
	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
	"github.com/fyrsmithlabs/mirroragent/internal/store"
	"github.com/fyrsmithlabs/mirroragent/internal/vectorstore"
)

var tracer = otel.Tracer("mirroragent.routing")

const (
	defaultTopK     = 3
	maxAnswerRunes  = 800
	maxExcerptRunes = 200
)

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy overrides DefaultPolicy.
func WithPolicy(p ScoringPolicy) Option { return func(e *Engine) { e.policy = p } }

// WithTopK sets how many neighbours are fetched per store.
func WithTopK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

// WithRecorder persists every routed question for curation.
func WithRecorder(r store.InteractionStore) Option { return func(e *Engine) { e.recorder = r } }

// WithPublisher publishes every routed question.
func WithPublisher(p events.Publisher) Option { return func(e *Engine) { e.publisher = p } }

// Engine routes questions for one site. It is safe for concurrent use;
// the only shared mutable state is atomic.
type Engine struct {
	siteID     string
	stores     mirror.StoreIDs
	vectors    vectorstore.Store
	embedder   vectorstore.Embedder
	policy     ScoringPolicy
	topK       int
	thresholds atomic.Pointer[mirror.RouterThresholds]
	recorder   store.InteractionStore
	publisher  events.Publisher
	logger     *zap.Logger
	stats      counters
	now        func() time.Time
}

// New creates an Engine for siteID.
func New(siteID string, stores mirror.StoreIDs, vectors vectorstore.Store, embedder vectorstore.Embedder,
	thresholds mirror.RouterThresholds, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if err := mirror.ValidateSiteID(siteID); err != nil {
		return nil, err
	}
	if vectors == nil || embedder == nil {
		return nil, errors.New("vector store and embedder are required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	e := &Engine{
		siteID:    siteID,
		stores:    stores,
		vectors:   vectors,
		embedder:  embedder,
		policy:    DefaultPolicy(),
		topK:      defaultTopK,
		publisher: events.Nop{},
		logger:    logger.With(zap.String("site_id", siteID)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.policy.Validate(); err != nil {
		return nil, mirror.NewValidationError("scoring policy", err.Error())
	}
	if err := e.SetThresholds(thresholds); err != nil {
		return nil, err
	}
	return e, nil
}

// SiteID returns the site this engine serves.
func (e *Engine) SiteID() string { return e.siteID }

// Policy returns the scoring policy in use.
func (e *Engine) Policy() ScoringPolicy { return e.policy }

// Thresholds returns the active thresholds.
func (e *Engine) Thresholds() mirror.RouterThresholds { return *e.thresholds.Load() }

// SetThresholds validates and swaps the thresholds for subsequent routes.
func (e *Engine) SetThresholds(t mirror.RouterThresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	e.thresholds.Store(&t)
	return nil
}

// Stats returns the engine's counters.
func (e *Engine) Stats() Stats { return e.stats.snapshot() }

// Route answers question. The only error is a validation error for an
// empty question.
func (e *Engine) Route(ctx context.Context, question string) (*mirror.RoutingDecision, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, mirror.NewValidationError("question", "must not be empty")
	}

	ctx, span := tracer.Start(ctx, "Engine.Route")
	defer span.End()
	d := e.decide(ctx, question)

	e.stats.record(d.Decision, d.Latency)
	decisionsTotal.WithLabelValues(e.siteID, string(d.Decision)).Inc()
	routeDuration.WithLabelValues(e.siteID).Observe(d.Latency.Seconds())
	span.SetAttributes(
		attribute.String("site_id", e.siteID),
		attribute.String("decision", string(d.Decision)),
		attribute.Float64("similarity", d.SimilarityScore),
	)

	e.logInteraction(ctx, question, d)
	return d, nil
}

// Check routes question like Route but leaves no trace: the decision is
// not counted, recorded or published. Health checks use it so their
// traffic never reaches curation.
func (e *Engine) Check(ctx context.Context, question string) (*mirror.RoutingDecision, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, mirror.NewValidationError("question", "must not be empty")
	}
	return e.decide(ctx, question), nil
}

func (e *Engine) decide(ctx context.Context, question string) *mirror.RoutingDecision {
	start := e.now()
	th := e.Thresholds()

	vec, err := e.embedder.EmbedQuery(ctx, question)
	if err != nil {
		e.logger.Warn("embedding failed, scoring both stores as 0", zap.Error(err))
		e.stats.storeErrors.Add(1)
		storeErrorsTotal.WithLabelValues(e.siteID, "embedding").Inc()
	}

	var faqHits, pagesHits []vectorstore.SearchResult
	var faqScore, pagesScore float64
	if vec != nil {
		faqHits, faqScore = e.search(ctx, mirror.StoreFAQ, e.stores.FAQStoreID, vec)
	}

	var d *mirror.RoutingDecision
	if faqScore >= th.FAQ {
		d = e.faqDecision(faqHits[0], faqScore, th)
	} else {
		if vec != nil {
			pagesHits, pagesScore = e.search(ctx, mirror.StorePages, e.stores.PagesStoreID, vec)
		}
		switch m := max(faqScore, pagesScore); {
		case pagesScore >= th.Pages:
			d = e.pagesDecision(pagesHits, pagesScore, th)
		case m < th.Escalation:
			d = &mirror.RoutingDecision{
				Decision:        mirror.DecisionEscalate,
				Confidence:      m,
				SimilarityScore: m,
				Reasoning:       fmt.Sprintf("best similarity %.3f below escalation threshold %.2f", m, th.Escalation),
				Answer:          MessageEscalate,
			}
		default:
			d = &mirror.RoutingDecision{
				Decision:        mirror.DecisionDontKnow,
				Confidence:      m,
				SimilarityScore: m,
				Reasoning: fmt.Sprintf("faq %.3f < %.2f and pages %.3f < %.2f",
					faqScore, th.FAQ, pagesScore, th.Pages),
				Answer:  FallbackMessage(m),
				Sources: toSources(pagesHits, th.Escalation, e.topK),
			}
		}
	}

	d.FallbackUsed = d.Decision.IsFallback()
	d.PolicyVersion = e.policy.Version
	if d.Sources == nil {
		d.Sources = []mirror.Source{}
	}
	d.Latency = e.now().Sub(start)
	return d
}

func (e *Engine) faqDecision(top vectorstore.SearchResult, score float64, th mirror.RouterThresholds) *mirror.RoutingDecision {
	entry := mirror.EntryFromPayload(top.ID, top.Metadata)
	answer := entry.Answer
	if answer == "" {
		answer = firstNonEmpty(entry.Text, top.Content)
	}
	return &mirror.RoutingDecision{
		Decision:        mirror.DecisionFAQ,
		Confidence:      e.policy.FAQConfidence(score),
		SimilarityScore: score,
		Reasoning:       fmt.Sprintf("faq match %.3f >= %.2f", score, th.FAQ),
		Answer:          truncate(answer, maxAnswerRunes),
		Sources:         toSources([]vectorstore.SearchResult{top}, 0, 1),
	}
}

func (e *Engine) pagesDecision(hits []vectorstore.SearchResult, score float64, th mirror.RouterThresholds) *mirror.RoutingDecision {
	top := mirror.EntryFromPayload(hits[0].ID, hits[0].Metadata)
	text := firstNonEmpty(top.Text, hits[0].Content)
	answer := truncate(text, maxAnswerRunes)
	if title := top.Metadata[mirror.PayloadTitle]; title != "" {
		answer = title + ": " + answer
	}
	return &mirror.RoutingDecision{
		Decision:        mirror.DecisionPages,
		Confidence:      e.policy.PagesConfidence(score),
		SimilarityScore: score,
		Reasoning:       fmt.Sprintf("pages match %.3f >= %.2f", score, th.Pages),
		Answer:          answer,
		Sources:         toSources(hits, th.Pages, e.topK),
	}
}

// search returns the hits and best score of one store, or 0 when the
// store is missing, unreachable or empty.
func (e *Engine) search(ctx context.Context, kind mirror.StoreKind, collection string, vec []float32) ([]vectorstore.SearchResult, float64) {
	if collection == "" {
		return nil, 0
	}
	hits, err := e.vectors.SearchVector(ctx, collection, vec, e.topK)
	if err != nil {
		e.stats.storeErrors.Add(1)
		storeErrorsTotal.WithLabelValues(e.siteID, string(kind)).Inc()
		level := e.logger.Warn
		if errors.Is(err, vectorstore.ErrCollectionNotFound) {
			level = e.logger.Debug
		}
		level("store lookup failed, scoring as 0", zap.String("store", string(kind)), zap.Error(err))
		return nil, 0
	}
	if len(hits) == 0 {
		return nil, 0
	}
	return hits, roundScore(hits[0].Score)
}

// logInteraction is best effort; routing has already succeeded.
func (e *Engine) logInteraction(ctx context.Context, question string, d *mirror.RoutingDecision) {
	if e.recorder == nil && e.publisher == nil {
		return
	}
	in := &mirror.Interaction{
		ID:         uuid.NewString(),
		SiteID:     e.siteID,
		Question:   question,
		Answer:     d.Answer,
		Decision:   d.Decision,
		Confidence: d.Confidence,
		Similarity: d.SimilarityScore,
		CreatedAt:  e.now().UTC(),
	}
	for _, s := range d.Sources {
		in.Sources = append(in.Sources, firstNonEmpty(s.URL, s.ID))
	}
	if e.recorder != nil {
		if err := e.recorder.PutInteraction(ctx, in); err != nil {
			e.logger.Warn("failed to record interaction", zap.Error(err))
		}
	}
	if e.publisher != nil {
		if err := e.publisher.PublishInteraction(ctx, in); err != nil {
			e.logger.Warn("failed to publish interaction", zap.Error(err))
		}
	}
}

func toSources(hits []vectorstore.SearchResult, minScore float64, limit int) []mirror.Source {
	var out []mirror.Source
	for _, h := range hits {
		if len(out) == limit {
			break
		}
		score := roundScore(h.Score)
		if score < minScore {
			continue
		}
		entry := mirror.EntryFromPayload(h.ID, h.Metadata)
		out = append(out, mirror.Source{
			ID:    h.ID,
			URL:   entry.SourceURL,
			Text:  truncate(firstNonEmpty(entry.Text, h.Content), maxExcerptRunes),
			Score: score,
		})
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n])) + "..."
}
