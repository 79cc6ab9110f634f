package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
	"github.com/fyrsmithlabs/mirroragent/internal/store/storetest"
)

// Set MIRROR_TEST_POSTGRES_DSN to run against a live database.
const dsnEnv = "MIRROR_TEST_POSTGRES_DSN"

func TestStore_Conformance(t *testing.T) {
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := New(ctx, Config{DSN: dsn, MaxConns: 4}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	storetest.Run(t, s)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), Config{DSN: "postgres://x"}, nil)
	assert.Error(t, err)

	_, err = New(context.Background(), Config{}, zap.NewNop())
	assert.ErrorIs(t, err, mirror.ErrValidation)
}

func TestInteractionsQuery(t *testing.T) {
	s := NewWithPool(nil, zap.NewNop())
	since := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	sql, args, err := s.interactionsQuery("acme_ro", since, 0.9).ToSql()
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT data FROM interactions WHERE site_id = $1 AND created_at >= $2 AND confidence >= $3 ORDER BY created_at ASC, id ASC",
		sql)
	assert.Equal(t, []any{"acme_ro", since, 0.9}, args)
}

func TestSchemaEmbedded(t *testing.T) {
	for _, table := range []string{
		"whitelists", "security_violations", "interactions", "faq_candidates",
		"kpi_snapshots", "provisioning_reports", "manifests", "collections",
	} {
		assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS "+table)
	}
}
