package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mirroragent/internal/collections"
	"github.com/fyrsmithlabs/mirroragent/internal/config"
	"github.com/fyrsmithlabs/mirroragent/internal/curator"
	"github.com/fyrsmithlabs/mirroragent/internal/embeddings"
	"github.com/fyrsmithlabs/mirroragent/internal/events"
	"github.com/fyrsmithlabs/mirroragent/internal/ingest"
	"github.com/fyrsmithlabs/mirroragent/internal/judge"
	"github.com/fyrsmithlabs/mirroragent/internal/kpi"
	"github.com/fyrsmithlabs/mirroragent/internal/lease"
	"github.com/fyrsmithlabs/mirroragent/internal/registry"
	"github.com/fyrsmithlabs/mirroragent/internal/saga"
	"github.com/fyrsmithlabs/mirroragent/internal/security"
	"github.com/fyrsmithlabs/mirroragent/internal/store"
	"github.com/fyrsmithlabs/mirroragent/internal/store/memory"
	"github.com/fyrsmithlabs/mirroragent/internal/store/postgres"
	"github.com/fyrsmithlabs/mirroragent/internal/vectorstore"
)

const fetchTimeout = 30 * time.Second

// Embedder is an embedding backend with a known output size.
type Embedder interface {
	vectorstore.Embedder
	Dimension() int
}

// Registry provides access to the wired services.
type Registry interface {
	VectorStore() vectorstore.Store
	Embedder() Embedder
	Store() store.Store
	Gate() *security.Gate
	Collections() *collections.Provisioner
	Agents() *registry.Registry
	KPI() *kpi.Harness
	GoldenSet() *kpi.GoldenSet
	Saga() *saga.Saga
	Scheduler() *curator.Scheduler
}

// Option overrides a backend New would otherwise build from config.
type Option func(*Services)

// WithEmbedder uses e instead of the configured embedding provider.
func WithEmbedder(e Embedder) Option { return func(s *Services) { s.embedder = e } }

// WithVectorStore uses vs instead of the configured vector store.
func WithVectorStore(vs vectorstore.Store) Option { return func(s *Services) { s.vectors = vs } }

// WithStore uses st instead of the configured document store.
func WithStore(st store.Store) Option { return func(s *Services) { s.docs = st } }

// WithJudge uses j instead of the configured evaluator.
func WithJudge(j judge.Evaluator) Option { return func(s *Services) { s.judge = j } }

// WithFetcher uses f for auto-ingest instead of plain HTTP.
func WithFetcher(f ingest.Fetcher) Option { return func(s *Services) { s.fetcher = f } }

// Services owns every long-lived component.
type Services struct {
	logger *zap.Logger

	vectors   vectorstore.Store
	embedder  Embedder
	docs      store.Store
	judge     judge.Evaluator
	locker    lease.Locker
	publisher events.Publisher
	fetcher   ingest.Fetcher

	gate        *security.Gate
	collections *collections.Provisioner
	agents      *registry.Registry
	kpi         *kpi.Harness
	goldenSet   *kpi.GoldenSet
	ingester    *ingest.Ingester
	saga        *saga.Saga
	scheduler   *curator.Scheduler

	// closers run in reverse order on Close.
	closers []func() error
}

var _ Registry = (*Services)(nil)

// New builds every service described by cfg. On error, anything already
// opened is closed.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (_ *Services, err error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	s := &Services{logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	if err := s.buildBackends(ctx, cfg); err != nil {
		return nil, err
	}
	if err := s.buildDomain(cfg); err != nil {
		return nil, err
	}
	logger.Info("services initialized",
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("store", cfg.Store.Provider),
		zap.String("lease", cfg.Lease.Provider),
		zap.Bool("events", cfg.Events.Enabled),
		zap.Int("dimension", s.embedder.Dimension()),
	)
	return s, nil
}

func (s *Services) buildBackends(ctx context.Context, cfg *config.Config) error {
	if s.docs == nil {
		switch cfg.Store.Provider {
		case "postgres":
			pg, err := postgres.New(ctx, postgres.Config{DSN: cfg.Store.DSN.Value(), MaxConns: cfg.Store.MaxConns}, s.logger)
			if err != nil {
				return fmt.Errorf("document store: %w", err)
			}
			s.docs = pg
			s.closers = append(s.closers, pg.Close)
		case "memory", "":
			s.docs = memory.New()
		default:
			return fmt.Errorf("unknown store provider %q", cfg.Store.Provider)
		}
	}

	switch cfg.Lease.Provider {
	case "redis":
		rl, err := lease.NewRedis(ctx, lease.RedisConfig{
			Addr:     cfg.Lease.RedisAddr,
			Password: cfg.Lease.RedisPassword.Value(),
			DB:       cfg.Lease.RedisDB,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("lease: %w", err)
		}
		s.locker = rl
		s.closers = append(s.closers, rl.Close)
	case "local", "":
		s.locker = lease.NewLocal()
	default:
		return fmt.Errorf("unknown lease provider %q", cfg.Lease.Provider)
	}

	s.publisher = events.Nop{}
	if cfg.Events.Enabled {
		p, err := events.Connect(cfg.Events.NATSURL, s.logger)
		if err != nil {
			// Events are best effort; serving continues without them.
			s.logger.Warn("event publishing disabled", zap.Error(err))
		} else {
			s.publisher = p
			s.closers = append(s.closers, p.Close)
		}
	}

	if s.embedder == nil {
		p, err := embeddings.NewProvider(cfg.Embeddings, embeddings.NewMetrics(s.logger))
		if err != nil {
			return fmt.Errorf("embeddings: %w", err)
		}
		s.embedder = p
		s.closers = append(s.closers, p.Close)
	}

	if s.vectors == nil {
		vs, err := vectorstore.NewFromConfig(ctx, cfg.VectorStore, s.embedder, s.logger)
		if err != nil {
			return fmt.Errorf("vector store: %w", err)
		}
		s.vectors = vs
		s.closers = append(s.closers, vs.Close)
	}

	if s.judge == nil {
		j, err := judge.NewFromConfig(cfg.Judge, s.logger)
		if err != nil {
			return fmt.Errorf("judge: %w", err)
		}
		s.judge = j
	}
	if s.fetcher == nil {
		s.fetcher = ingest.NewHTTPFetcher(fetchTimeout)
	}
	return nil
}

func (s *Services) buildDomain(cfg *config.Config) error {
	var err error
	if s.gate, err = security.New(s.docs, s.logger.Named("security")); err != nil {
		return err
	}
	s.collections, err = collections.New(s.vectors, s.docs, collections.Config{
		Dimension: cfg.Saga.VectorDimension,
		MaxTries:  uint(max(cfg.VectorStore.RetryMax, 1)),
	}, s.logger.Named("collections"))
	if err != nil {
		return err
	}

	s.agents, err = registry.New(registry.Deps{
		Vectors:   s.vectors,
		Embedder:  s.embedder,
		Judge:     s.judge,
		Store:     s.docs,
		Locker:    s.locker,
		Gate:      s.gate,
		Resolver:  s.collections,
		Publisher: s.publisher,
	}, RegistryConfig(cfg), s.logger.Named("registry"))
	if err != nil {
		return err
	}

	s.kpi, err = kpi.New(s.judge, s.docs, kpi.Config{
		QuestionTimeout: cfg.KPI.QuestionTimeout.Duration(),
		QuestionDelay:   cfg.KPI.QuestionDelay.Duration(),
	}, s.logger.Named("kpi"))
	if err != nil {
		return err
	}
	s.goldenSet = kpi.DefaultGoldenSet()
	if cfg.KPI.GoldenSetPath != "" {
		if s.goldenSet, err = kpi.LoadGoldenSet(cfg.KPI.GoldenSetPath); err != nil {
			return err
		}
	}

	s.ingester, err = ingest.New(s.fetcher, s.vectors, s.gate, s.logger.Named("ingest"))
	if err != nil {
		return err
	}

	lookback := time.Duration(cfg.Curator.LookbackHours) * time.Hour
	s.saga, err = saga.New(saga.Deps{
		Vectors:     s.vectors,
		Embedder:    s.embedder,
		Store:       s.docs,
		Collections: s.collections,
		Gate:        s.gate,
		Agents:      s.agents,
		KPI:         s.kpi,
		Ingester:    s.ingester,
		Publisher:   s.publisher,
	}, saga.Config{
		SuccessThreshold: cfg.Saga.SuccessThreshold,
		StepTimeout:      cfg.Saga.StepTimeout.Duration(),
		CuratorLookback:  lookback,
		GoldenSet:        s.goldenSet,
	}, s.logger.Named("saga"))
	if err != nil {
		return err
	}

	if cfg.Curator.Enabled {
		s.scheduler, err = curator.NewScheduler(s.agents.Curators, s.logger.Named("scheduler"),
			curator.WithInterval(cfg.Curator.Interval.Duration()),
			curator.WithLookback(lookback),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// RegistryConfig maps router and curator settings onto the agent registry.
func RegistryConfig(cfg *config.Config) registry.Config {
	return registry.Config{
		Thresholds: cfg.Router.Thresholds(),
		TopK:       cfg.Router.TopK,
		Curator: curator.Config{
			ConfidenceThreshold: cfg.Curator.ConfidenceThreshold,
			DedupThreshold:      cfg.Curator.DedupThreshold,
			EvaluationThreshold: cfg.Curator.EvaluationThreshold,
			FrequencyThreshold:  cfg.Curator.FrequencyThreshold,
			SimilarQuestion:     cfg.Curator.SimilarQuestion,
			MaxFAQSize:          cfg.Curator.MaxFAQSize,
			LeaseTTL:            cfg.Lease.TTL.Duration(),
		},
	}
}

// ApplyConfig pushes hot-reloadable settings into running components. It
// is the config watcher's callback.
func (s *Services) ApplyConfig(cfg *config.Config) {
	th := cfg.Router.Thresholds()
	if err := s.agents.UpdateThresholds(th); err != nil {
		s.logger.Warn("rejected router thresholds from reloaded config", zap.Error(err))
		return
	}
	s.logger.Info("router thresholds reloaded",
		zap.Float64("faq", th.FAQ),
		zap.Float64("pages", th.Pages),
		zap.Float64("escalation", th.Escalation),
	)
}

func (s *Services) VectorStore() vectorstore.Store        { return s.vectors }
func (s *Services) Embedder() Embedder                    { return s.embedder }
func (s *Services) Store() store.Store                    { return s.docs }
func (s *Services) Gate() *security.Gate                  { return s.gate }
func (s *Services) Collections() *collections.Provisioner { return s.collections }
func (s *Services) Agents() *registry.Registry            { return s.agents }
func (s *Services) KPI() *kpi.Harness                     { return s.kpi }
func (s *Services) GoldenSet() *kpi.GoldenSet             { return s.goldenSet }
func (s *Services) Saga() *saga.Saga                      { return s.saga }

// Scheduler is nil when the curator is disabled.
func (s *Services) Scheduler() *curator.Scheduler { return s.scheduler }

// Close stops the scheduler and releases backends in reverse order of
// creation. It is safe to call more than once.
func (s *Services) Close() error {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
