// Package curator promotes high-confidence answers into a site's FAQ store.
//
// A cycle reads the interactions logged within the lookback window, groups
// near-identical questions to measure how often each was asked, and moves
// each group through four gates in order: FAQ dedup, frequency, judge
// score and FAQ capacity. Groups that pass are upserted into the FAQ store
// with provenance. A site lease makes cycles for the same site exclusive.
package curator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mirroragent/internal/events"
	"github.com/fyrsmithlabs/mirroragent/internal/judge"
	"github.com/fyrsmithlabs/mirroragent/internal/lease"
	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
	"github.com/fyrsmithlabs/mirroragent/internal/store"
	"github.com/fyrsmithlabs/mirroragent/internal/vectorstore"
)

var tracer = otel.Tracer("mirroragent.curator")

// ErrCycleRunning is returned when another cycle holds the site lease.
var ErrCycleRunning = errors.New("curator cycle already running for site")

// PromotedBy is the provenance tag written on promoted FAQ entries.
const PromotedBy = "curator"

// candidateNamespace seeds deterministic candidate IDs.
var candidateNamespace = uuid.MustParse("6f1c2a54-8d0e-4c55-9a3e-2b7f5d9c1e40")

// Config holds the promotion rules.
type Config struct {
	ConfidenceThreshold float64
	DedupThreshold      float64
	EvaluationThreshold float64
	FrequencyThreshold  int
	// SimilarQuestion is the cosine at which two questions count as the same.
	SimilarQuestion float64
	MaxFAQSize      int
	LeaseTTL        time.Duration
}

// DefaultConfig returns 0.9 / 0.9 / 0.8 / 3 / 0.85 / 100.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.9,
		DedupThreshold:      0.9,
		EvaluationThreshold: 0.8,
		FrequencyThreshold:  3,
		SimilarQuestion:     0.85,
		MaxFAQSize:          100,
		LeaseTTL:            15 * time.Minute,
	}
}

// Store is the document store surface a cycle needs.
type Store interface {
	store.InteractionStore
	store.CandidateStore
}

// Promotion describes one candidate moved into the FAQ store.
type Promotion struct {
	CandidateID string  `json:"candidate_id"`
	FAQEntryID  string  `json:"faq_entry_id"`
	Question    string  `json:"question"`
	Score       float64 `json:"score"`
	Frequency   int     `json:"frequency"`
}

// Rejection describes one candidate left out of the FAQ store.
type Rejection struct {
	CandidateID string                 `json:"candidate_id"`
	Question    string                 `json:"question"`
	Reason      mirror.RejectionReason `json:"reason"`
	Detail      string                 `json:"detail,omitempty"`
}

// CycleResult summarises one cycle.
type CycleResult struct {
	SiteID     string      `json:"site_id"`
	Considered int         `json:"considered"`
	Candidates int         `json:"candidates"`
	Promotions []Promotion `json:"promotions"`
	Rejections []Rejection `json:"rejections"`
	Pruned     int         `json:"pruned"`
	// PrunedInteractions counts logged questions dropped for falling
	// outside the lookback window.
	PrunedInteractions int           `json:"pruned_interactions"`
	FAQSize            int           `json:"faq_size"`
	Duration           time.Duration `json:"duration"`
	CompletedAt        time.Time     `json:"completed_at"`
}

// Rejected counts rejections with reason r.
func (r *CycleResult) Rejected(reason mirror.RejectionReason) int {
	n := 0
	for _, rej := range r.Rejections {
		if rej.Reason == reason {
			n++
		}
	}
	return n
}

// Curator runs promotion cycles for one site.
type Curator struct {
	siteID    string
	faqStore  string
	vectors   vectorstore.Store
	embedder  vectorstore.Embedder
	judge     judge.Evaluator
	docs      Store
	locker    lease.Locker
	publisher events.Publisher
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Curator.
type Option func(*Curator)

// WithPublisher publishes every promotion.
func WithPublisher(p events.Publisher) Option {
	return func(c *Curator) {
		if p != nil {
			c.publisher = p
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(c *Curator) { c.now = now } }

// New creates a Curator for siteID writing into faqStore.
func New(siteID, faqStore string, vectors vectorstore.Store, embedder vectorstore.Embedder, j judge.Evaluator,
	docs Store, locker lease.Locker, cfg Config, logger *zap.Logger, opts ...Option) (*Curator, error) {
	if err := mirror.ValidateSiteID(siteID); err != nil {
		return nil, err
	}
	if faqStore == "" {
		return nil, mirror.NewValidationError("faq_store", "must not be empty")
	}
	if vectors == nil || embedder == nil || j == nil || docs == nil || locker == nil {
		return nil, errors.New("vectors, embedder, judge, store and locker are required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := &Curator{
		siteID:    siteID,
		faqStore:  faqStore,
		vectors:   vectors,
		embedder:  embedder,
		judge:     j,
		docs:      docs,
		locker:    locker,
		publisher: events.Nop{},
		cfg:       cfg,
		logger:    logger.With(zap.String("site_id", siteID)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (cfg Config) validate() error {
	for name, v := range map[string]float64{
		"confidence_threshold": cfg.ConfidenceThreshold,
		"dedup_threshold":      cfg.DedupThreshold,
		"evaluation_threshold": cfg.EvaluationThreshold,
		"similar_question":     cfg.SimilarQuestion,
	} {
		if v < 0 || v > 1 {
			return mirror.NewValidationError("curator "+name, "must lie within [0,1]")
		}
	}
	if cfg.FrequencyThreshold <= 0 || cfg.MaxFAQSize <= 0 || cfg.LeaseTTL <= 0 {
		return mirror.NewValidationError("curator config", "frequency threshold, max faq size and lease ttl must be > 0")
	}
	return nil
}

// SiteID returns the site this curator serves.
func (c *Curator) SiteID() string { return c.siteID }

// RunCycle runs one promotion cycle over the last lookback of interactions.
// It returns ErrCycleRunning when another cycle for the site is in progress.
// Per-candidate failures become RejectError entries; only failures that
// make the whole cycle meaningless are returned.
func (c *Curator) RunCycle(ctx context.Context, lookback time.Duration) (*CycleResult, error) {
	if lookback <= 0 {
		return nil, mirror.NewValidationError("lookback", "must be > 0")
	}
	ctx, span := tracer.Start(ctx, "Curator.RunCycle")
	defer span.End()
	span.SetAttributes(attribute.String("site_id", c.siteID))

	l, err := c.locker.Acquire(ctx, lease.CuratorKey(c.siteID), c.cfg.LeaseTTL)
	if err != nil {
		if errors.Is(err, lease.ErrHeld) {
			cyclesTotal.WithLabelValues("skipped").Inc()
			return nil, fmt.Errorf("%w: %s", ErrCycleRunning, c.siteID)
		}
		return nil, fmt.Errorf("acquire curator lease: %w", err)
	}
	defer func() {
		// The cycle may outlive ctx; release on a fresh one.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := l.Release(rctx); err != nil {
			c.logger.Warn("failed to release curator lease", zap.Error(err))
		}
	}()

	start := c.now()
	res, err := c.cycle(ctx, start.Add(-lookback))
	if err != nil {
		cyclesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	res.Duration = c.now().Sub(start)
	res.CompletedAt = c.now().UTC()
	cyclesTotal.WithLabelValues("ok").Inc()

	c.logger.Info("curator cycle completed",
		zap.Int("considered", res.Considered),
		zap.Int("candidates", res.Candidates),
		zap.Int("promoted", len(res.Promotions)),
		zap.Int("rejected", len(res.Rejections)),
		zap.Int("pruned", res.Pruned),
		zap.Int("pruned_interactions", res.PrunedInteractions),
		zap.Int("faq_size", res.FAQSize),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func (c *Curator) cycle(ctx context.Context, since time.Time) (*CycleResult, error) {
	res := &CycleResult{SiteID: c.siteID, Promotions: []Promotion{}, Rejections: []Rejection{}}

	interactions, err := c.docs.ListInteractions(ctx, c.siteID, since, c.cfg.ConfidenceThreshold)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	answered := interactions[:0]
	for _, in := range interactions {
		if !in.Decision.IsFallback() && strings.TrimSpace(in.Answer) != "" {
			answered = append(answered, in)
		}
	}
	res.Considered = len(answered)

	faqSize, err := c.vectors.Count(ctx, c.faqStore)
	if err != nil {
		return nil, fmt.Errorf("count faq store: %w", err)
	}

	if len(answered) > 0 {
		groups, err := c.group(ctx, answered)
		if err != nil {
			return nil, err
		}
		res.Candidates = len(groups)
		for _, g := range groups {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			c.consider(ctx, g, &faqSize, res)
		}
	}
	res.FAQSize = faqSize

	pruned, err := c.docs.PruneCandidates(ctx, c.siteID, since)
	if err != nil {
		c.logger.Warn("failed to prune expired candidates", zap.Error(err))
	}
	res.Pruned = pruned

	// Interactions older than the window can never be considered again.
	expired, err := c.docs.PruneInteractions(ctx, c.siteID, since)
	if err != nil {
		c.logger.Warn("failed to prune expired interactions", zap.Error(err))
	}
	res.PrunedInteractions = expired
	return res, nil
}

// consider runs one group through the promotion gates.
func (c *Curator) consider(ctx context.Context, g *group, faqSize *int, res *CycleResult) {
	best := g.best()
	cand := &mirror.FAQCandidate{
		ID:            CandidateID(c.siteID, best.Question),
		SiteID:        c.siteID,
		InteractionID: best.ID,
		Question:      best.Question,
		Answer:        best.Answer,
		Confidence:    best.Confidence,
		Frequency:     len(g.members),
		Status:        mirror.CandidatePending,
		UpdatedAt:     c.now().UTC(),
	}
	if len(best.Sources) > 0 {
		cand.SourceURL = best.Sources[0]
	}

	reject := func(reason mirror.RejectionReason, detail string) {
		cand.Status = mirror.CandidateRejected
		cand.Reason = reason
		c.saveCandidate(ctx, cand)
		res.Rejections = append(res.Rejections, Rejection{
			CandidateID: cand.ID, Question: cand.Question, Reason: reason, Detail: detail,
		})
		candidatesTotal.WithLabelValues(string(reason)).Inc()
	}

	hits, err := c.vectors.SearchVector(ctx, c.faqStore, g.vector, 1)
	if err != nil {
		reject(mirror.RejectError, "faq lookup: "+err.Error())
		return
	}
	if len(hits) > 0 && roundScore(float64(hits[0].Score)) >= c.cfg.DedupThreshold {
		reject(mirror.RejectDuplicate, fmt.Sprintf("faq entry %s at %.3f", hits[0].ID, hits[0].Score))
		return
	}

	if cand.Frequency < c.cfg.FrequencyThreshold {
		reject(mirror.RejectLowFrequency, fmt.Sprintf("asked %d times, need %d", cand.Frequency, c.cfg.FrequencyThreshold))
		return
	}

	scores, err := c.judge.EvaluateCandidate(ctx, judge.CandidateRequest{
		Question: cand.Question,
		Answer:   cand.Answer,
	})
	if err != nil {
		c.logger.Warn("judge degraded to neutral scores", zap.String("candidate_id", cand.ID), zap.Error(err))
	}
	cand.Scores = scores
	if agg := scores.Aggregate(); agg < c.cfg.EvaluationThreshold {
		reject(mirror.RejectLowScore, fmt.Sprintf("aggregate %.3f < %.2f", agg, c.cfg.EvaluationThreshold))
		return
	}

	if *faqSize >= c.cfg.MaxFAQSize {
		reject(mirror.RejectCapacity, fmt.Sprintf("faq store holds %d of %d", *faqSize, c.cfg.MaxFAQSize))
		return
	}

	entryID, err := c.promote(ctx, cand, g.vector)
	if err != nil {
		reject(mirror.RejectError, "promote: "+err.Error())
		return
	}
	*faqSize++
	cand.Status = mirror.CandidatePromoted
	cand.FAQEntryID = entryID
	res.Promotions = append(res.Promotions, Promotion{
		CandidateID: cand.ID,
		FAQEntryID:  entryID,
		Question:    cand.Question,
		Score:       scores.Aggregate(),
		Frequency:   cand.Frequency,
	})
	candidatesTotal.WithLabelValues("promoted").Inc()

	// A promoted candidate lives on as the FAQ entry.
	if err := c.docs.DeleteCandidate(ctx, cand.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		c.logger.Warn("failed to drop promoted candidate", zap.String("candidate_id", cand.ID), zap.Error(err))
	}
	if err := c.publisher.PublishPromotion(ctx, cand); err != nil {
		c.logger.Warn("failed to publish promotion", zap.String("candidate_id", cand.ID), zap.Error(err))
	}
}

func (c *Curator) promote(ctx context.Context, cand *mirror.FAQCandidate, vec []float32) (string, error) {
	entry := &mirror.KnowledgeEntry{
		ID:              cand.ID,
		Text:            cand.Question,
		SourceURL:       cand.SourceURL,
		Question:        cand.Question,
		Answer:          cand.Answer,
		EvaluationScore: cand.Scores.Aggregate(),
		FrequencyCount:  cand.Frequency,
		PromotedAt:      c.now().UTC(),
		PromotedBy:      PromotedBy,
		Metadata:        map[string]string{mirror.PayloadSiteID: c.siteID},
	}
	ids, err := c.vectors.Upsert(ctx, c.faqStore, []vectorstore.Document{{
		ID:        entry.ID,
		Content:   entry.Text,
		Metadata:  entry.Payload(),
		Embedding: vec,
	}})
	if err != nil {
		return "", err
	}
	if len(ids) == 1 {
		return ids[0], nil
	}
	return entry.ID, nil
}

func (c *Curator) saveCandidate(ctx context.Context, cand *mirror.FAQCandidate) {
	if err := c.docs.PutCandidate(ctx, cand); err != nil {
		c.logger.Warn("failed to save candidate", zap.String("candidate_id", cand.ID), zap.Error(err))
	}
}

// CandidateID derives a stable candidate ID from the site and the
// normalized question, so the same question always maps to the same
// candidate and FAQ entry.
func CandidateID(siteID, question string) string {
	return uuid.NewSHA1(candidateNamespace, []byte(siteID+"\x00"+NormalizeQuestion(question))).String()
}

// NormalizeQuestion lowercases, collapses whitespace and drops trailing
// punctuation.
func NormalizeQuestion(q string) string {
	q = strings.Join(strings.Fields(strings.ToLower(q)), " ")
	return strings.TrimRight(q, " ?!.")
}

// sortGroups orders groups by frequency, then best confidence, then
// question so capacity goes to the most asked questions first.
func sortGroups(groups []*group) {
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if len(a.members) != len(b.members) {
			return len(a.members) > len(b.members)
		}
		if ac, bc := a.best().Confidence, b.best().Confidence; ac != bc {
			return ac > bc
		}
		return a.best().Question < b.best().Question
	})
}
