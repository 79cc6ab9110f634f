package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for vector store operations.
var (
	ErrCollectionNotFound    = errors.New("collection not found")
	ErrCollectionExists      = errors.New("collection already exists")
	ErrInvalidConfig         = errors.New("invalid configuration")
	ErrEmptyDocuments        = errors.New("empty or nil documents")
	ErrEmbeddingFailed       = errors.New("failed to generate embeddings")
	ErrInvalidCollectionName = errors.New("invalid collection name")
	ErrDimensionMismatch     = errors.New("vector dimension mismatch")
)

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,128}$`)

// ValidateCollectionName enforces ^[a-z0-9_]{1,128}$.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,128}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// Document is a vector plus payload to upsert. When Embedding is nil the
// store embeds Content with its Embedder.
type Document struct {
	ID        string
	Content   string
	Metadata  map[string]any
	Embedding []float32
}

// SearchResult is one nearest neighbour, highest Score first.
type SearchResult struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Score    float32        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CollectionInfo describes a collection.
type CollectionInfo struct {
	Name       string `json:"name"`
	PointCount int    `json:"point_count"`
	VectorSize int    `json:"vector_size"`
}

// Embedder generates vector embeddings from text.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Store is the vector storage surface used by routing, curation and
// provisioning.
type Store interface {
	// CreateCollection returns ErrCollectionExists when name is taken.
	CreateCollection(ctx context.Context, name string, vectorSize int) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	GetCollectionInfo(ctx context.Context, name string) (*CollectionInfo, error)

	// Upsert inserts or replaces documents by ID.
	Upsert(ctx context.Context, collection string, docs []Document) ([]string, error)

	// Search embeds query and returns up to k neighbours.
	Search(ctx context.Context, collection, query string, k int) ([]SearchResult, error)
	// SearchVector returns up to k neighbours of vector.
	SearchVector(ctx context.Context, collection string, vector []float32, k int) ([]SearchResult, error)

	Count(ctx context.Context, collection string) (int, error)
	Health(ctx context.Context) error
	Close() error
}

// Backend names for metrics and logs.
const (
	BackendQdrant  = "qdrant"
	BackendChromem = "chromem"
)

// Payload keys the stores reserve.
const (
	payloadContent = "content"
	payloadID      = "id"
)

func embedMissing(ctx context.Context, e Embedder, docs []Document) error {
	var texts []string
	var idx []int
	for i, d := range docs {
		if d.Embedding == nil {
			texts = append(texts, d.Content)
			idx = append(idx, i)
		}
	}
	if len(texts) == 0 {
		return nil
	}
	if e == nil {
		return fmt.Errorf("%w: no embedder configured", ErrEmbeddingFailed)
	}
	vecs, err := e.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	if len(vecs) != len(texts) {
		return fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vecs), len(texts))
	}
	for j, i := range idx {
		docs[i].Embedding = vecs[j]
	}
	return nil
}
