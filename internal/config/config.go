// Package config loads mirroragent configuration from YAML and environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
)

// Config is the complete mirroragent configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Judge       JudgeConfig       `koanf:"judge"`
	Store       StoreConfig       `koanf:"store"`
	Lease       LeaseConfig       `koanf:"lease"`
	Events      EventsConfig      `koanf:"events"`
	Router      RouterConfig      `koanf:"router"`
	Curator     CuratorConfig     `koanf:"curator"`
	KPI         KPIConfig         `koanf:"kpi"`
	Saga        SagaConfig        `koanf:"saga"`
	Temporal    TemporalConfig    `koanf:"temporal"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig selects level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// VectorStoreConfig selects the vector search backend.
type VectorStoreConfig struct {
	Provider     string   `koanf:"provider"` // qdrant or chromem
	QdrantHost   string   `koanf:"qdrant_host"`
	QdrantPort   int      `koanf:"qdrant_port"`
	QdrantAPIKey Secret   `koanf:"qdrant_api_key"`
	QdrantTLS    bool     `koanf:"qdrant_tls"`
	ChromemPath  string   `koanf:"chromem_path"` // empty keeps chromem in memory
	Timeout      Duration `koanf:"timeout"`
	RetryMax     int      `koanf:"retry_max"`
}

// EmbeddingsConfig selects the embedding backend.
type EmbeddingsConfig struct {
	Provider  string `koanf:"provider"` // fastembed, tei or openai
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	APIKey    Secret `koanf:"api_key"`
	CacheDir  string `koanf:"cache_dir"`
	Dimension int    `koanf:"dimension"`
}

// JudgeConfig selects the evaluator.
type JudgeConfig struct {
	Provider  string   `koanf:"provider"` // openai or heuristic
	BaseURL   string   `koanf:"base_url"`
	Model     string   `koanf:"model"`
	APIKey    Secret   `koanf:"api_key"`
	Timeout   Duration `koanf:"timeout"`
	RateLimit float64  `koanf:"rate_limit"` // requests per second
}

// StoreConfig selects the document store.
type StoreConfig struct {
	Provider string `koanf:"provider"` // memory or postgres
	DSN      Secret `koanf:"dsn"`
	MaxConns int32  `koanf:"max_conns"`
}

// LeaseConfig selects the curator lease backend.
type LeaseConfig struct {
	Provider      string   `koanf:"provider"` // local or redis
	RedisAddr     string   `koanf:"redis_addr"`
	RedisPassword Secret   `koanf:"redis_password"`
	RedisDB       int      `koanf:"redis_db"`
	TTL           Duration `koanf:"ttl"`
}

// EventsConfig configures interaction event publishing.
type EventsConfig struct {
	Enabled bool   `koanf:"enabled"`
	NATSURL string `koanf:"nats_url"`
}

// RouterConfig holds routing thresholds.
type RouterConfig struct {
	FAQThreshold        float64 `koanf:"faq_threshold"`
	PagesThreshold      float64 `koanf:"pages_threshold"`
	EscalationThreshold float64 `koanf:"escalation_threshold"`
	TopK                int     `koanf:"top_k"`
}

// Thresholds converts to the routing engine's threshold type.
func (r RouterConfig) Thresholds() mirror.RouterThresholds {
	return mirror.RouterThresholds{FAQ: r.FAQThreshold, Pages: r.PagesThreshold, Escalation: r.EscalationThreshold}
}

// CuratorConfig holds promotion rules and scheduling.
type CuratorConfig struct {
	Enabled             bool     `koanf:"enabled"`
	Interval            Duration `koanf:"interval"`
	LookbackHours       int      `koanf:"lookback_hours"`
	ConfidenceThreshold float64  `koanf:"confidence_threshold"`
	DedupThreshold      float64  `koanf:"dedup_threshold"`
	EvaluationThreshold float64  `koanf:"evaluation_threshold"`
	FrequencyThreshold  int      `koanf:"frequency_threshold"`
	SimilarQuestion     float64  `koanf:"similar_question"`
	MaxFAQSize          int      `koanf:"max_faq_size"`
}

// KPIConfig holds golden-set run settings.
type KPIConfig struct {
	QuestionTimeout Duration `koanf:"question_timeout"`
	QuestionDelay   Duration `koanf:"question_delay"`
	GoldenSetPath   string   `koanf:"golden_set_path"` // empty uses the embedded set
}

// SagaConfig holds provisioning settings.
type SagaConfig struct {
	SuccessThreshold float64  `koanf:"success_threshold"`
	StepTimeout      Duration `koanf:"step_timeout"`
	VectorDimension  int      `koanf:"vector_dimension"`
	ReportDir        string   `koanf:"report_dir"`
}

// TemporalConfig enables durable provisioning through a Temporal cluster.
type TemporalConfig struct {
	Enabled   bool   `koanf:"enabled"`
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9190, ShutdownTimeout: Duration(10 * time.Second)},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
			ServiceName: "mirroragent",
			SampleRate:  1.0,
		},
		VectorStore: VectorStoreConfig{
			Provider:   "chromem",
			QdrantHost: "localhost",
			QdrantPort: 6334,
			Timeout:    Duration(30 * time.Second),
			RetryMax:   3,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "fastembed",
			Model:     "BAAI/bge-small-en-v1.5",
			BaseURL:   "http://localhost:8080/v1",
			Dimension: 384,
		},
		Judge: JudgeConfig{
			Provider:  "heuristic",
			BaseURL:   "http://localhost:11434/v1",
			Model:     "llama3.1",
			Timeout:   Duration(30 * time.Second),
			RateLimit: 2,
		},
		Store:  StoreConfig{Provider: "memory", MaxConns: 10},
		Lease:  LeaseConfig{Provider: "local", RedisAddr: "localhost:6379", TTL: Duration(15 * time.Minute)},
		Events: EventsConfig{NATSURL: "nats://localhost:4222"},
		Router: RouterConfig{
			FAQThreshold:        0.83,
			PagesThreshold:      0.70,
			EscalationThreshold: 0.30,
			TopK:                5,
		},
		Curator: CuratorConfig{
			Enabled:             true,
			Interval:            Duration(6 * time.Hour),
			LookbackHours:       24,
			ConfidenceThreshold: 0.9,
			DedupThreshold:      0.9,
			EvaluationThreshold: 0.8,
			FrequencyThreshold:  3,
			SimilarQuestion:     0.85,
			MaxFAQSize:          100,
		},
		KPI: KPIConfig{
			QuestionTimeout: Duration(10 * time.Second),
			QuestionDelay:   Duration(500 * time.Millisecond),
		},
		Saga: SagaConfig{
			SuccessThreshold: 0.3,
			StepTimeout:      Duration(2 * time.Minute),
			VectorDimension:  384,
			ReportDir:        ".",
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "mirror-provisioning",
		},
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port out of range: %d", c.Server.Port))
	}
	switch c.VectorStore.Provider {
	case "qdrant", "chromem":
	default:
		errs = append(errs, fmt.Errorf("vectorstore.provider must be qdrant or chromem, got %q", c.VectorStore.Provider))
	}
	switch c.Embeddings.Provider {
	case "fastembed", "tei", "openai":
	default:
		errs = append(errs, fmt.Errorf("embeddings.provider must be fastembed, tei or openai, got %q", c.Embeddings.Provider))
	}
	switch c.Judge.Provider {
	case "openai", "heuristic":
	default:
		errs = append(errs, fmt.Errorf("judge.provider must be openai or heuristic, got %q", c.Judge.Provider))
	}
	switch c.Store.Provider {
	case "memory":
	case "postgres":
		if !c.Store.DSN.IsSet() {
			errs = append(errs, errors.New("store.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.provider must be memory or postgres, got %q", c.Store.Provider))
	}
	switch c.Lease.Provider {
	case "local", "redis":
	default:
		errs = append(errs, fmt.Errorf("lease.provider must be local or redis, got %q", c.Lease.Provider))
	}

	r := c.Router
	if err := r.Thresholds().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w (got %.2f/%.2f/%.2f)", err, r.FAQThreshold, r.PagesThreshold, r.EscalationThreshold))
	}
	if r.TopK <= 0 {
		errs = append(errs, fmt.Errorf("router.top_k must be > 0"))
	}

	cu := c.Curator
	for name, v := range map[string]float64{
		"confidence_threshold": cu.ConfidenceThreshold,
		"dedup_threshold":      cu.DedupThreshold,
		"evaluation_threshold": cu.EvaluationThreshold,
		"similar_question":     cu.SimilarQuestion,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("curator.%s must be within [0,1], got %v", name, v))
		}
	}
	if cu.MaxFAQSize <= 0 || cu.FrequencyThreshold <= 0 || cu.LookbackHours <= 0 {
		errs = append(errs, errors.New("curator max_faq_size, frequency_threshold and lookback_hours must be > 0"))
	}
	if cu.Enabled && cu.Interval.Duration() <= 0 {
		errs = append(errs, errors.New("curator.interval must be > 0 when enabled"))
	}

	if c.KPI.QuestionTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("kpi.question_timeout must be > 0"))
	}
	if c.Saga.SuccessThreshold <= 0 || c.Saga.SuccessThreshold > 1 {
		errs = append(errs, fmt.Errorf("saga.success_threshold must be within (0,1], got %v", c.Saga.SuccessThreshold))
	}
	if c.Saga.VectorDimension <= 0 {
		errs = append(errs, errors.New("saga.vector_dimension must be > 0"))
	}

	if c.Temporal.Enabled && (c.Temporal.HostPort == "" || c.Temporal.TaskQueue == "") {
		errs = append(errs, errors.New("temporal.host_port and temporal.task_queue are required when enabled"))
	}

	return errors.Join(errs...)
}
