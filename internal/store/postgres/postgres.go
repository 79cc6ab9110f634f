// Package postgres implements store.Store on PostgreSQL. Each record is
// kept as a JSONB document next to the handful of columns that queries
// filter or sort on.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
	"github.com/fyrsmithlabs/mirroragent/internal/store"
)

//go:embed schema.sql
var schema string

// Config configures the connection pool.
type Config struct {
	DSN      string
	MaxConns int32
}

// Store is a pgxpool-backed document store.
type Store struct {
	db     *pgxpool.Pool
	sb     squirrel.StatementBuilderType
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// New connects, pings and applies the schema.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.DSN == "" {
		return nil, mirror.NewValidationError("store.dsn", "required for postgres")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, mirror.Unavailable("postgres", fmt.Errorf("failed to ping database: %w", err))
	}

	s := NewWithPool(pool, logger)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("database connection established",
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.String("database", poolConfig.ConnConfig.Database),
	)
	return s, nil
}

// NewWithPool wraps an existing pool without migrating.
func NewWithPool(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{
		db:     pool,
		sb:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		logger: logger,
	}
}

// Migrate creates the tables if they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return mirror.Unavailable("postgres", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

func (s *Store) exec(ctx context.Context, q squirrel.Sqlizer) (int64, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// getOne scans the single data column of q into a new T.
func getOne[T any](ctx context.Context, s *Store, q squirrel.SelectBuilder, what string) (*T, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var raw []byte
	if err := s.db.QueryRow(ctx, sql, args...).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", what, store.ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", what, err)
	}
	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", what, err)
	}
	return out, nil
}

func list[T any](ctx context.Context, s *Store, q squirrel.SelectBuilder, what string) ([]*T, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", what, err)
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		item := new(T)
		if err := json.Unmarshal(raw, item); err != nil {
			return nil, fmt.Errorf("decode %s: %w", what, err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}
	return string(b), nil
}

func (s *Store) GetWhitelist(ctx context.Context, siteID string) (*mirror.Whitelist, error) {
	q := s.sb.Select("data").From("whitelists").Where(squirrel.Eq{"site_id": siteID})
	return getOne[mirror.Whitelist](ctx, s, q, "whitelist "+siteID)
}

func (s *Store) PutWhitelist(ctx context.Context, wl *mirror.Whitelist) error {
	if err := mirror.ValidateSiteID(wl.SiteID); err != nil {
		return err
	}
	data, err := encode(wl)
	if err != nil {
		return err
	}
	q := s.sb.Insert("whitelists").
		Columns("site_id", "data", "updated_at").
		Values(wl.SiteID, data, time.Now().UTC()).
		Suffix("ON CONFLICT (site_id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at")
	_, err = s.exec(ctx, q)
	return err
}

// AppendViolation never overwrites an existing row.
func (s *Store) AppendViolation(ctx context.Context, v *mirror.SecurityViolation) error {
	if v.ID == "" {
		return mirror.NewValidationError("violation id", "must not be empty")
	}
	data, err := encode(v)
	if err != nil {
		return err
	}
	q := s.sb.Insert("security_violations").
		Columns("id", "site_id", "created_at", "data").
		Values(v.ID, v.SiteID, v.Timestamp, data).
		Suffix("ON CONFLICT (id) DO NOTHING")
	_, err = s.exec(ctx, q)
	return err
}

func (s *Store) ListViolations(ctx context.Context, siteID string, limit int) ([]*mirror.SecurityViolation, error) {
	q := s.sb.Select("data").From("security_violations").
		Where(squirrel.Eq{"site_id": siteID}).
		OrderBy("created_at DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return list[mirror.SecurityViolation](ctx, s, q, "violations")
}

func (s *Store) PutInteraction(ctx context.Context, in *mirror.Interaction) error {
	if in.ID == "" {
		return mirror.NewValidationError("interaction id", "must not be empty")
	}
	data, err := encode(in)
	if err != nil {
		return err
	}
	q := s.sb.Insert("interactions").
		Columns("id", "site_id", "confidence", "created_at", "data").
		Values(in.ID, in.SiteID, in.Confidence, in.CreatedAt, data).
		Suffix("ON CONFLICT (id) DO UPDATE SET confidence = EXCLUDED.confidence, data = EXCLUDED.data")
	_, err = s.exec(ctx, q)
	return err
}

func (s *Store) interactionsQuery(siteID string, since time.Time, minConfidence float64) squirrel.SelectBuilder {
	return s.sb.Select("data").From("interactions").
		Where(squirrel.Eq{"site_id": siteID}).
		Where(squirrel.GtOrEq{"created_at": since}).
		Where(squirrel.GtOrEq{"confidence": minConfidence}).
		OrderBy("created_at ASC", "id ASC")
}

func (s *Store) ListInteractions(ctx context.Context, siteID string, since time.Time, minConfidence float64) ([]*mirror.Interaction, error) {
	return list[mirror.Interaction](ctx, s, s.interactionsQuery(siteID, since, minConfidence), "interactions")
}

func (s *Store) PruneInteractions(ctx context.Context, siteID string, cutoff time.Time) (int, error) {
	q := s.sb.Delete("interactions").
		Where(squirrel.Eq{"site_id": siteID}).
		Where(squirrel.Lt{"created_at": cutoff})
	n, err := s.exec(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("prune interactions: %w", err)
	}
	return int(n), nil
}

func (s *Store) PutCandidate(ctx context.Context, c *mirror.FAQCandidate) error {
	if c.ID == "" {
		return mirror.NewValidationError("candidate id", "must not be empty")
	}
	data, err := encode(c)
	if err != nil {
		return err
	}
	q := s.sb.Insert("faq_candidates").
		Columns("id", "site_id", "status", "updated_at", "data").
		Values(c.ID, c.SiteID, string(c.Status), c.UpdatedAt, data).
		Suffix("ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at, data = EXCLUDED.data")
	_, err = s.exec(ctx, q)
	return err
}

func (s *Store) GetCandidate(ctx context.Context, id string) (*mirror.FAQCandidate, error) {
	q := s.sb.Select("data").From("faq_candidates").Where(squirrel.Eq{"id": id})
	return getOne[mirror.FAQCandidate](ctx, s, q, "candidate "+id)
}

func (s *Store) ListCandidates(ctx context.Context, siteID string) ([]*mirror.FAQCandidate, error) {
	q := s.sb.Select("data").From("faq_candidates").
		Where(squirrel.Eq{"site_id": siteID}).
		OrderBy("id ASC")
	return list[mirror.FAQCandidate](ctx, s, q, "candidates")
}

func (s *Store) DeleteCandidate(ctx context.Context, id string) error {
	n, err := s.exec(ctx, s.sb.Delete("faq_candidates").Where(squirrel.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("delete candidate %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("candidate %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) PruneCandidates(ctx context.Context, siteID string, cutoff time.Time) (int, error) {
	q := s.sb.Delete("faq_candidates").
		Where(squirrel.Eq{"site_id": siteID}).
		Where(squirrel.NotEq{"status": string(mirror.CandidatePromoted)}).
		Where(squirrel.Lt{"updated_at": cutoff})
	n, err := s.exec(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("prune candidates: %w", err)
	}
	return int(n), nil
}

func (s *Store) PutKPISnapshot(ctx context.Context, snap *mirror.KPISnapshot) error {
	if snap.ID == "" {
		return mirror.NewValidationError("snapshot id", "must not be empty")
	}
	data, err := encode(snap)
	if err != nil {
		return err
	}
	q := s.sb.Insert("kpi_snapshots").
		Columns("id", "site_id", "created_at", "data").
		Values(snap.ID, snap.SiteID, snap.CreatedAt, data).
		Suffix("ON CONFLICT (id) DO NOTHING")
	_, err = s.exec(ctx, q)
	return err
}

func (s *Store) LatestKPISnapshot(ctx context.Context, siteID string) (*mirror.KPISnapshot, error) {
	q := s.sb.Select("data").From("kpi_snapshots").
		Where(squirrel.Eq{"site_id": siteID}).
		OrderBy("created_at DESC").
		Limit(1)
	return getOne[mirror.KPISnapshot](ctx, s, q, "kpi snapshot for "+siteID)
}

func (s *Store) PutReport(ctx context.Context, r *mirror.ProvisioningReport) error {
	if r.ID == "" {
		return mirror.NewValidationError("report id", "must not be empty")
	}
	data, err := encode(r)
	if err != nil {
		return err
	}
	q := s.sb.Insert("provisioning_reports").
		Columns("id", "site_id", "started_at", "data").
		Values(r.ID, r.SiteID, r.StartedAt, data).
		Suffix("ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data")
	_, err = s.exec(ctx, q)
	return err
}

func (s *Store) GetReport(ctx context.Context, id string) (*mirror.ProvisioningReport, error) {
	q := s.sb.Select("data").From("provisioning_reports").Where(squirrel.Eq{"id": id})
	return getOne[mirror.ProvisioningReport](ctx, s, q, "report "+id)
}

func (s *Store) LatestReport(ctx context.Context, siteID string) (*mirror.ProvisioningReport, error) {
	q := s.sb.Select("data").From("provisioning_reports").
		Where(squirrel.Eq{"site_id": siteID}).
		OrderBy("started_at DESC").
		Limit(1)
	return getOne[mirror.ProvisioningReport](ctx, s, q, "report for "+siteID)
}

func (s *Store) PutManifest(ctx context.Context, m *mirror.Manifest) error {
	if err := mirror.ValidateSiteID(m.SiteID); err != nil {
		return err
	}
	data, err := encode(m)
	if err != nil {
		return err
	}
	q := s.sb.Insert("manifests").
		Columns("site_id", "data").
		Values(m.SiteID, data).
		Suffix("ON CONFLICT (site_id) DO UPDATE SET data = EXCLUDED.data")
	_, err = s.exec(ctx, q)
	return err
}

func (s *Store) GetManifest(ctx context.Context, siteID string) (*mirror.Manifest, error) {
	q := s.sb.Select("data").From("manifests").Where(squirrel.Eq{"site_id": siteID})
	return getOne[mirror.Manifest](ctx, s, q, "manifest "+siteID)
}

func (s *Store) PutCollection(ctx context.Context, rec *mirror.CollectionRecord) error {
	if err := mirror.ValidateSiteID(rec.SiteID); err != nil {
		return err
	}
	data, err := encode(rec)
	if err != nil {
		return err
	}
	q := s.sb.Insert("collections").
		Columns("site_id", "kind", "name", "data").
		Values(rec.SiteID, string(rec.Kind), rec.Name, data).
		Suffix("ON CONFLICT (site_id, kind) DO UPDATE SET name = EXCLUDED.name, data = EXCLUDED.data")
	_, err = s.exec(ctx, q)
	return err
}

func (s *Store) ListCollections(ctx context.Context, siteID string) ([]*mirror.CollectionRecord, error) {
	q := s.sb.Select("data").From("collections").
		Where(squirrel.Eq{"site_id": siteID}).
		OrderBy("kind ASC")
	return list[mirror.CollectionRecord](ctx, s, q, "collections")
}

func (s *Store) ListSites(ctx context.Context) ([]string, error) {
	sql, args, err := s.sb.Select("DISTINCT site_id").From("collections").OrderBy("site_id ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	sites, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan sites: %w", err)
	}
	if sites == nil {
		sites = []string{}
	}
	return sites, nil
}
