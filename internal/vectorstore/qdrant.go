package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var tracer = otel.Tracer("mirroragent.vectorstore")

// pointNamespace derives stable Qdrant point UUIDs from caller IDs.
var pointNamespace = uuid.MustParse("6f1c7c2e-4b0e-4f57-9a59-4d1f2f6a9e10")

// QdrantConfig configures the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant hostname. Default: localhost
	Host string

	// Port is the gRPC port, not the REST port. Default: 6334
	Port int

	APIKey string
	UseTLS bool

	// MaxMessageSize caps gRPC messages. Default: 50MB
	MaxMessageSize int

	Retry RetryConfig
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.Retry.MaxTries == 0 {
		c.Retry = DefaultRetryConfig()
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// QdrantStore implements Store on Qdrant's native gRPC API. Collections
// are created with cosine distance.
type QdrantStore struct {
	client   *qdrant.Client
	embedder Embedder
	config   QdrantConfig
	logger   *zap.Logger

	// sizes caches vector sizes of known collections.
	sizes sync.Map
}

// NewQdrantStore connects to Qdrant and verifies it with a health check.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.UseTLS {
		logger.Warn("qdrant gRPC using plaintext", zap.String("host", cfg.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	s := &QdrantStore{client: client, embedder: embedder, config: cfg, logger: logger}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Health(hctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	return s, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Health pings Qdrant.
func (s *QdrantStore) Health(ctx context.Context) (err error) {
	defer func(start time.Time) { observe(BackendQdrant, "health", start, err) }(time.Now())
	_, err = withRetry(ctx, s.config.Retry, BackendQdrant, "health", s.logger, func() (struct{}, error) {
		_, err := s.client.HealthCheck(ctx)
		return struct{}{}, err
	})
	return err
}

// CreateCollection creates a cosine collection.
func (s *QdrantStore) CreateCollection(ctx context.Context, name string, vectorSize int) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.CreateCollection")
	defer span.End()
	defer func(start time.Time) { observe(BackendQdrant, "create_collection", start, err) }(time.Now())
	span.SetAttributes(attribute.String("collection", name), attribute.Int("vector_size", vectorSize))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if vectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be > 0", ErrInvalidConfig)
	}
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrCollectionExists, name)
	}

	_, err = withRetry(ctx, s.config.Retry, BackendQdrant, "create_collection", s.logger, func() (struct{}, error) {
		return struct{}{}, s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(vectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.AlreadyExists {
			return fmt.Errorf("%w: %s", ErrCollectionExists, name)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	s.sizes.Store(name, vectorSize)
	return nil
}

// CollectionExists checks if a collection exists.
func (s *QdrantStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	if err := ValidateCollectionName(name); err != nil {
		return false, err
	}
	if _, ok := s.sizes.Load(name); ok {
		return true, nil
	}
	start := time.Now()
	exists, err := withRetry(ctx, s.config.Retry, BackendQdrant, "collection_exists", s.logger, func() (bool, error) {
		return s.client.CollectionExists(ctx, name)
	})
	observe(BackendQdrant, "collection_exists", start, err)
	if err != nil {
		return false, fmt.Errorf("checking collection %s: %w", name, err)
	}
	return exists, nil
}

// GetCollectionInfo returns point count and vector size.
func (s *QdrantStore) GetCollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}
	info, err := withRetry(ctx, s.config.Retry, BackendQdrant, "collection_info", s.logger, func() (*qdrant.CollectionInfo, error) {
		return s.client.GetCollectionInfo(ctx, name)
	})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		}
		return nil, fmt.Errorf("getting collection info for %s: %w", name, err)
	}
	ci := &CollectionInfo{Name: name}
	if info.PointsCount != nil {
		ci.PointCount = int(*info.PointsCount)
	}
	ci.VectorSize = int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
	if ci.VectorSize > 0 {
		s.sizes.Store(name, ci.VectorSize)
	}
	return ci, nil
}

// Upsert writes points. Non-UUID IDs map to a name-based UUID so that
// repeated upserts of the same ID replace the same point; the caller's ID
// is kept in the payload.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, docs []Document) (ids []string, err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()
	defer func(start time.Time) { observe(BackendQdrant, "upsert", start, err) }(time.Now())
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("documents", len(docs)))

	if len(docs) == 0 {
		return nil, ErrEmptyDocuments
	}
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	docs = append([]Document(nil), docs...)
	if err := embedMissing(ctx, s.embedder, docs); err != nil {
		return nil, err
	}

	points := make([]*qdrant.PointStruct, len(docs))
	ids = make([]string, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		ids[i] = doc.ID
		payload := toQdrantPayload(doc.Metadata)
		payload[payloadContent] = qdrantString(doc.Content)
		payload[payloadID] = qdrantString(doc.ID)
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointUUID(doc.ID)),
			Vectors: qdrant.NewVectors(doc.Embedding...),
			Payload: payload,
		}
	}

	_, err = withRetry(ctx, s.config.Retry, BackendQdrant, "upsert", s.logger, func() (*qdrant.UpdateResult, error) {
		return s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("upserting points to collection %s: %w", collection, err)
	}
	return ids, nil
}

// Search embeds query and searches collection.
func (s *QdrantStore) Search(ctx context.Context, collection, query string, k int) ([]SearchResult, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", ErrEmbeddingFailed)
	}
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	return s.SearchVector(ctx, collection, vec, k)
}

// SearchVector returns the k nearest points by cosine similarity.
func (s *QdrantStore) SearchVector(ctx context.Context, collection string, vector []float32, k int) (out []SearchResult, err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.SearchVector")
	defer span.End()
	defer func(start time.Time) { observe(BackendQdrant, "search", start, err) }(time.Now())
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("k", k))

	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	exists, err := s.CollectionExists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}

	points, err := withRetry(ctx, s.config.Retry, BackendQdrant, "search", s.logger, func() ([]*qdrant.ScoredPoint, error) {
		return s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", collection, err)
	}

	out = make([]SearchResult, 0, len(points))
	for _, p := range points {
		out = append(out, fromQdrantPoint(p))
	}
	span.SetAttributes(attribute.Int("results", len(out)))
	return out, nil
}

// Count returns the exact point count.
func (s *QdrantStore) Count(ctx context.Context, collection string) (int, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return 0, err
	}
	start := time.Now()
	n, err := withRetry(ctx, s.config.Retry, BackendQdrant, "count", s.logger, func() (uint64, error) {
		return s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: collection,
			Exact:          qdrant.PtrOf(true),
		})
	})
	observe(BackendQdrant, "count", start, err)
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
		}
		return 0, fmt.Errorf("counting collection %s: %w", collection, err)
	}
	return int(n), nil
}

// PointUUID returns id when it is already a UUID, otherwise a stable
// name-based UUID.
func PointUUID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(pointNamespace, []byte(id)).String()
}

func qdrantString(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func toQdrantPayload(md map[string]any) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(md)+2)
	for k, v := range md {
		switch val := v.(type) {
		case string:
			payload[k] = qdrantString(val)
		case int:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float32:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: float64(val)}}
		case float64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		case bool:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		case nil:
		default:
			payload[k] = qdrantString(fmt.Sprintf("%v", val))
		}
	}
	return payload
}

func fromQdrantPoint(p *qdrant.ScoredPoint) SearchResult {
	r := SearchResult{Score: p.Score, Metadata: make(map[string]any, len(p.Payload))}
	for k, v := range p.Payload {
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			switch k {
			case payloadContent:
				r.Content = val.StringValue
			case payloadID:
				r.ID = val.StringValue
			default:
				r.Metadata[k] = val.StringValue
			}
		case *qdrant.Value_IntegerValue:
			r.Metadata[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			r.Metadata[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			r.Metadata[k] = val.BoolValue
		}
	}
	if r.ID == "" && p.GetId() != nil {
		r.ID = p.GetId().GetUuid()
	}
	return r
}
