// Package vectorstoretest provides deterministic vector store and embedder
// doubles for tests in other packages.
package vectorstoretest

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/mirroragent/internal/vectorstore"
)

// Store is a brute-force in-memory vectorstore.Store. Errors can be
// injected per operation name ("create", "exists", "info", "upsert",
// "search", "count", "health").
type Store struct {
	mu          sync.Mutex
	collections map[string]*collection
	failures    map[string]error
	calls       map[string]int
	embedder    vectorstore.Embedder
}

type collection struct {
	size int
	docs map[string]vectorstore.Document
}

var _ vectorstore.Store = (*Store)(nil)

// NewStore creates an empty store. embedder may be nil when callers only
// use SearchVector and pre-embedded documents.
func NewStore(embedder vectorstore.Embedder) *Store {
	return &Store{
		collections: make(map[string]*collection),
		failures:    make(map[string]error),
		calls:       make(map[string]int),
		embedder:    embedder,
	}
}

// Fail makes op return err until cleared with Fail(op, nil).
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Calls reports how many times op was invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Store) enter(op string) error {
	s.calls[op]++
	return s.failures[op]
}

func (s *Store) CreateCollection(_ context.Context, name string, vectorSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("create"); err != nil {
		return err
	}
	if err := vectorstore.ValidateCollectionName(name); err != nil {
		return err
	}
	if _, ok := s.collections[name]; ok {
		return fmt.Errorf("%w: %s", vectorstore.ErrCollectionExists, name)
	}
	s.collections[name] = &collection{size: vectorSize, docs: make(map[string]vectorstore.Document)}
	return nil
}

func (s *Store) CollectionExists(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("exists"); err != nil {
		return false, err
	}
	_, ok := s.collections[name]
	return ok, nil
}

func (s *Store) GetCollectionInfo(_ context.Context, name string) (*vectorstore.CollectionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("info"); err != nil {
		return nil, err
	}
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
	}
	return &vectorstore.CollectionInfo{Name: name, PointCount: len(c.docs), VectorSize: c.size}, nil
}

func (s *Store) Upsert(ctx context.Context, name string, docs []vectorstore.Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, vectorstore.ErrEmptyDocuments
	}
	for i := range docs {
		if docs[i].Embedding != nil {
			continue
		}
		if s.embedder == nil {
			return nil, vectorstore.ErrEmbeddingFailed
		}
		v, err := s.embedder.EmbedQuery(ctx, docs[i].Content)
		if err != nil {
			return nil, err
		}
		docs[i].Embedding = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("upsert"); err != nil {
		return nil, err
	}
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		if c.size > 0 && len(d.Embedding) != c.size {
			return nil, fmt.Errorf("%w: got %d want %d", vectorstore.ErrDimensionMismatch, len(d.Embedding), c.size)
		}
		c.docs[d.ID] = d
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func (s *Store) Search(ctx context.Context, name, query string, k int) ([]vectorstore.SearchResult, error) {
	if s.embedder == nil {
		return nil, vectorstore.ErrEmbeddingFailed
	}
	v, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.SearchVector(ctx, name, v, k)
}

func (s *Store) SearchVector(_ context.Context, name string, vector []float32, k int) ([]vectorstore.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("search"); err != nil {
		return nil, err
	}
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
	}
	out := make([]vectorstore.SearchResult, 0, len(c.docs))
	for _, d := range c.docs {
		out = append(out, vectorstore.SearchResult{
			ID: d.ID, Content: d.Content, Metadata: d.Metadata,
			Score: float32(Cosine(vector, d.Embedding)),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	if k < len(out) {
		out = out[:k]
	}
	return out, nil
}

func (s *Store) Count(_ context.Context, name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("count"); err != nil {
		return 0, err
	}
	c, ok := s.collections[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
	}
	return len(c.docs), nil
}

func (s *Store) Health(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enter("health")
}

func (s *Store) Close() error { return nil }

// Cosine returns the cosine similarity of a and b, 0 for mismatched or zero vectors.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Embedder returns Fixed vectors for known texts and otherwise a
// hashed bag-of-words vector, so texts sharing words score higher.
type Embedder struct {
	Dim   int
	Fixed map[string][]float32
	Err   error
}

// NewEmbedder creates a bag-of-words embedder of dimension dim.
func NewEmbedder(dim int) *Embedder {
	return &Embedder{Dim: dim, Fixed: map[string][]float32{}}
}

func (e *Embedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	if v, ok := e.Fixed[text]; ok {
		return v, nil
	}
	v := make([]float32, e.Dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,?!:;\"'()")
		if w == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[int(h.Sum32())%e.Dim]++
	}
	return v, nil
}

func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimension reports the vector size.
func (e *Embedder) Dimension() int { return e.Dim }

// Axis is the unit vector e0 of length dim.
func Axis(dim int) []float32 {
	v := make([]float32, dim)
	v[0] = 1
	return v
}

// AtSimilarity returns a unit vector whose cosine with Axis(dim) is sim,
// which makes similarity scores in tests exact.
func AtSimilarity(dim int, sim float64) []float32 {
	v := make([]float32, dim)
	v[0] = float32(sim)
	v[1] = float32(math.Sqrt(math.Max(0, 1-sim*sim)))
	return v
}
