package collections

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
	"github.com/fyrsmithlabs/mirroragent/internal/store/memory"
	"github.com/fyrsmithlabs/mirroragent/internal/vectorstore"
	"github.com/fyrsmithlabs/mirroragent/internal/vectorstore/vectorstoretest"
)

func newProvisioner(t *testing.T, vs vectorstore.Store) (*Provisioner, *memory.Store) {
	t.Helper()
	records := memory.New()
	p, err := New(vs, records, Config{Dimension: 8, InitialInterval: time.Millisecond}, zap.NewNop())
	require.NoError(t, err)
	return p, records
}

func TestNames(t *testing.T) {
	ids := Names("acme_ro")
	assert.Equal(t, "acme_ro_faq", ids.FAQStoreID)
	assert.Equal(t, "acme_ro_pages", ids.PagesStoreID)
}

func TestEnsureCollections_Idempotent(t *testing.T) {
	ctx := context.Background()
	vs := vectorstoretest.NewStore(nil)
	p, records := newProvisioner(t, vs)

	first, err := p.EnsureCollections(ctx, "acme_ro")
	require.NoError(t, err)
	assert.Equal(t, 2, vs.Calls("create"))

	recs, err := records.ListCollections(ctx, "acme_ro")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	created := recs[0].CreatedAt

	second, err := p.EnsureCollections(ctx, "acme_ro")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, vs.Calls("create"), "second run must not create")

	recs, err = records.ListCollections(ctx, "acme_ro")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, created, recs[0].CreatedAt)
	assert.Equal(t, DistanceCosine, recs[0].Distance)

	n, err := vs.Count(ctx, first.FAQStoreID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEnsureCollections_InvalidSite(t *testing.T) {
	p, _ := newProvisioner(t, vectorstoretest.NewStore(nil))
	_, err := p.EnsureCollections(context.Background(), "Acme.ro")
	assert.ErrorIs(t, err, mirror.ErrValidation)
}

func TestEnsureCollections_RetriesTransient(t *testing.T) {
	ctx := context.Background()
	vs := vectorstoretest.NewStore(nil)
	vs.Fail("exists", mirror.Unavailable("qdrant", errors.New("connection refused")))
	p, _ := newProvisioner(t, vs)

	_, err := p.EnsureCollections(ctx, "acme_ro")
	require.Error(t, err)
	assert.ErrorIs(t, err, mirror.ErrServiceUnavailable)
	assert.Equal(t, 3, vs.Calls("exists"))
}

func TestEnsureCollections_PermanentFailureNotRetried(t *testing.T) {
	vs := vectorstoretest.NewStore(nil)
	vs.Fail("create", vectorstore.ErrInvalidConfig)
	p, _ := newProvisioner(t, vs)

	_, err := p.EnsureCollections(context.Background(), "acme_ro")
	require.ErrorIs(t, err, vectorstore.ErrInvalidConfig)
	assert.Equal(t, 1, vs.Calls("create"))
}

func TestEnsureCollections_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	vs := vectorstoretest.NewStore(nil)
	require.NoError(t, vs.CreateCollection(ctx, "acme_ro_pages", 16))
	p, _ := newProvisioner(t, vs)

	_, err := p.EnsureCollections(ctx, "acme_ro")
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestResolveAndVerify(t *testing.T) {
	ctx := context.Background()
	vs := vectorstoretest.NewStore(nil)
	p, _ := newProvisioner(t, vs)

	_, err := p.Resolve(ctx, "acme_ro")
	assert.ErrorIs(t, err, ErrIncomplete)

	want, err := p.EnsureCollections(ctx, "acme_ro")
	require.NoError(t, err)

	got, err := p.Resolve(ctx, "acme_ro")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	status, err := p.Verify(ctx, "acme_ro")
	require.NoError(t, err)
	assert.True(t, status[mirror.StoreFAQ])
	assert.True(t, status[mirror.StorePages])
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, memory.New(), Config{Dimension: 8}, zap.NewNop())
	assert.Error(t, err)
	_, err = New(vectorstoretest.NewStore(nil), memory.New(), Config{}, zap.NewNop())
	assert.ErrorIs(t, err, mirror.ErrValidation)
}
