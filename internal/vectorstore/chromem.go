package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// payloadKey holds the JSON-encoded payload; chromem metadata is string-only.
const payloadKey = "_payload"

// ChromemConfig configures the embedded store.
type ChromemConfig struct {
	// Path persists collections to disk. Empty keeps them in memory.
	Path     string
	Compress bool
}

// ChromemStore implements Store on embedded chromem-go.
type ChromemStore struct {
	db       *chromem.DB
	embedder Embedder
	logger   *zap.Logger

	mu    sync.RWMutex
	sizes map[string]int
}

// NewChromemStore opens or creates the embedded database.
func NewChromemStore(cfg ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path := cfg.Path
		if strings.HasPrefix(path, "~/") {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("expanding home directory: %w", err)
			}
			path = filepath.Join(home, path[2:])
		}
		var err error
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem database at %s: %w", path, err)
		}
	}

	logger.Info("chromem store opened", zap.String("path", cfg.Path), zap.Bool("persistent", cfg.Path != ""))
	return &ChromemStore{db: db, embedder: embedder, logger: logger, sizes: make(map[string]int)}, nil
}

func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		if s.embedder == nil {
			return nil, ErrEmbeddingFailed
		}
		return s.embedder.EmbedQuery(ctx, text)
	}
}

func (s *ChromemStore) collection(name string) *chromem.Collection {
	return s.db.GetCollection(name, s.embeddingFunc())
}

// CreateCollection creates name, or returns ErrCollectionExists.
func (s *ChromemStore) CreateCollection(ctx context.Context, name string, vectorSize int) (err error) {
	_, span := tracer.Start(ctx, "ChromemStore.CreateCollection")
	defer span.End()
	defer func(start time.Time) { observe(BackendChromem, "create_collection", start, err) }(time.Now())
	span.SetAttributes(attribute.String("collection", name), attribute.Int("vector_size", vectorSize))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if vectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be > 0", ErrInvalidConfig)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// chromem's CreateCollection replaces an existing collection.
	if s.collection(name) != nil {
		return fmt.Errorf("%w: %s", ErrCollectionExists, name)
	}
	if _, err := s.db.CreateCollection(name, map[string]string{"distance": "cosine"}, s.embeddingFunc()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	s.sizes[name] = vectorSize
	return nil
}

// CollectionExists checks if a collection exists.
func (s *ChromemStore) CollectionExists(_ context.Context, name string) (bool, error) {
	if err := ValidateCollectionName(name); err != nil {
		return false, err
	}
	return s.collection(name) != nil, nil
}

// GetCollectionInfo returns point count and the vector size seen at creation.
func (s *ChromemStore) GetCollectionInfo(_ context.Context, name string) (*CollectionInfo, error) {
	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}
	c := s.collection(name)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	s.mu.RLock()
	size := s.sizes[name]
	s.mu.RUnlock()
	return &CollectionInfo{Name: name, PointCount: c.Count(), VectorSize: size}, nil
}

// Upsert adds documents; an existing ID is replaced.
func (s *ChromemStore) Upsert(ctx context.Context, collection string, docs []Document) (ids []string, err error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()
	defer func(start time.Time) { observe(BackendChromem, "upsert", start, err) }(time.Now())
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("documents", len(docs)))

	if len(docs) == 0 {
		return nil, ErrEmptyDocuments
	}
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	c := s.collection(collection)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}

	docs = append([]Document(nil), docs...)
	if err := embedMissing(ctx, s.embedder, docs); err != nil {
		return nil, err
	}

	s.mu.Lock()
	size := s.sizes[collection]
	if size == 0 {
		size = len(docs[0].Embedding)
		s.sizes[collection] = size
	}
	s.mu.Unlock()

	out := make([]chromem.Document, len(docs))
	ids = make([]string, len(docs))
	for i, d := range docs {
		if len(d.Embedding) != size {
			return nil, fmt.Errorf("%w: collection %s expects %d, got %d", ErrDimensionMismatch, collection, size, len(d.Embedding))
		}
		if d.ID == "" {
			return nil, fmt.Errorf("document %d: id is required", i)
		}
		raw, err := json.Marshal(d.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encoding payload for %s: %w", d.ID, err)
		}
		ids[i] = d.ID
		out[i] = chromem.Document{
			ID:        d.ID,
			Content:   d.Content,
			Metadata:  map[string]string{payloadKey: string(raw)},
			Embedding: d.Embedding,
		}
	}

	if err := c.AddDocuments(ctx, out, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("adding documents to %s: %w", collection, err)
	}
	return ids, nil
}

// Search embeds query and searches collection.
func (s *ChromemStore) Search(ctx context.Context, collection, query string, k int) ([]SearchResult, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", ErrEmbeddingFailed)
	}
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	return s.SearchVector(ctx, collection, vec, k)
}

// SearchVector returns up to k neighbours; fewer when the collection is
// smaller than k.
func (s *ChromemStore) SearchVector(ctx context.Context, collection string, vector []float32, k int) (out []SearchResult, err error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.SearchVector")
	defer span.End()
	defer func(start time.Time) { observe(BackendChromem, "search", start, err) }(time.Now())
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("k", k))

	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	c := s.collection(collection)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	n := c.Count()
	if k > n {
		k = n
	}
	if k <= 0 {
		return nil, nil
	}

	results, err := c.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", collection, err)
	}

	out = make([]SearchResult, 0, len(results))
	for _, r := range results {
		sr := SearchResult{ID: r.ID, Content: r.Content, Score: r.Similarity}
		if raw, ok := r.Metadata[payloadKey]; ok && raw != "null" {
			if err := json.Unmarshal([]byte(raw), &sr.Metadata); err != nil {
				s.logger.Warn("dropping undecodable payload", zap.String("id", r.ID), zap.Error(err))
			}
		}
		out = append(out, sr)
	}
	return out, nil
}

// Count returns the number of documents.
func (s *ChromemStore) Count(_ context.Context, collection string) (int, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return 0, err
	}
	c := s.collection(collection)
	if c == nil {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	return c.Count(), nil
}

// Health always succeeds for the embedded store.
func (s *ChromemStore) Health(context.Context) error { return nil }

// Close is a no-op; persistent writes happen on each add.
func (s *ChromemStore) Close() error {
	s.logger.Info("chromem store closed")
	return nil
}
