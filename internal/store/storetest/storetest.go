// Package storetest holds behaviour tests shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
	"github.com/fyrsmithlabs/mirroragent/internal/store"
)

// Run exercises s. Site ids are randomised so a shared database can be reused.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	site := func() string {
		return "site_" + uuid.NewString()[:8]
	}

	t.Run("whitelist", func(t *testing.T) {
		id := site()
		_, err := s.GetWhitelist(ctx, id)
		require.ErrorIs(t, err, store.ErrNotFound)

		wl := mirror.DefaultWhitelist(id)
		wl.AllowedDomains = []string{"acme.ro", "www.acme.ro"}
		require.NoError(t, s.PutWhitelist(ctx, wl))

		wl.AllowedDomains[0] = "mutated.ro"
		got, err := s.GetWhitelist(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []string{"acme.ro", "www.acme.ro"}, got.AllowedDomains)
		assert.True(t, got.StrictMode)

		got.StrictMode = false
		require.NoError(t, s.PutWhitelist(ctx, got))
		again, err := s.GetWhitelist(ctx, id)
		require.NoError(t, err)
		assert.False(t, again.StrictMode)
	})

	t.Run("violations are append only", func(t *testing.T) {
		id := site()
		base := time.Now().UTC().Truncate(time.Millisecond)
		first := &mirror.SecurityViolation{
			ID: uuid.NewString(), SiteID: id, Type: mirror.ViolationDomainBlocked,
			Severity: mirror.SeverityHigh, Detail: "evil.com", Timestamp: base,
		}
		require.NoError(t, s.AppendViolation(ctx, first))

		rewrite := *first
		rewrite.Detail = "rewritten"
		require.NoError(t, s.AppendViolation(ctx, &rewrite))

		second := &mirror.SecurityViolation{
			ID: uuid.NewString(), SiteID: id, Type: mirror.ViolationPIIDetected,
			Severity: mirror.SeverityLow, Detail: "email", Timestamp: base.Add(time.Second),
		}
		require.NoError(t, s.AppendViolation(ctx, second))

		all, err := s.ListViolations(ctx, id, 0)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, second.ID, all[0].ID)
		assert.Equal(t, "evil.com", all[1].Detail)

		limited, err := s.ListViolations(ctx, id, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("interactions filtered by window and confidence", func(t *testing.T) {
		id := site()
		now := time.Now().UTC().Truncate(time.Millisecond)
		put := func(conf float64, age time.Duration) string {
			in := &mirror.Interaction{
				ID: uuid.NewString(), SiteID: id, Question: "q", Answer: "a",
				Decision: mirror.DecisionFAQ, Confidence: conf, CreatedAt: now.Add(-age),
				Sources: []string{"s1"},
			}
			require.NoError(t, s.PutInteraction(ctx, in))
			return in.ID
		}
		old := put(0.95, 48*time.Hour)
		low := put(0.5, time.Hour)
		a := put(0.92, 2*time.Hour)
		b := put(0.90, time.Minute)

		got, err := s.ListInteractions(ctx, id, now.Add(-24*time.Hour), 0.9)
		require.NoError(t, err)
		var ids []string
		for _, in := range got {
			ids = append(ids, in.ID)
		}
		assert.Equal(t, []string{a, b}, ids)
		assert.NotContains(t, ids, old)
		assert.NotContains(t, ids, low)
		assert.Equal(t, []string{"s1"}, got[0].Sources)

		n, err := s.PruneInteractions(ctx, id, now.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		kept, err := s.ListInteractions(ctx, id, time.Time{}, 0)
		require.NoError(t, err)
		assert.Len(t, kept, 3)
		for _, in := range kept {
			assert.NotEqual(t, old, in.ID)
		}
	})

	t.Run("candidates", func(t *testing.T) {
		id := site()
		now := time.Now().UTC().Truncate(time.Millisecond)
		stale := &mirror.FAQCandidate{ID: uuid.NewString(), SiteID: id, Question: "q1",
			Status: mirror.CandidateRejected, UpdatedAt: now.Add(-72 * time.Hour)}
		fresh := &mirror.FAQCandidate{ID: uuid.NewString(), SiteID: id, Question: "q2",
			Status: mirror.CandidatePending, Frequency: 2, UpdatedAt: now}
		require.NoError(t, s.PutCandidate(ctx, stale))
		require.NoError(t, s.PutCandidate(ctx, fresh))

		got, err := s.GetCandidate(ctx, fresh.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Frequency)

		list, err := s.ListCandidates(ctx, id)
		require.NoError(t, err)
		assert.Len(t, list, 2)

		n, err := s.PruneCandidates(ctx, id, now.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		require.NoError(t, s.DeleteCandidate(ctx, fresh.ID))
		_, err = s.GetCandidate(ctx, fresh.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.ErrorIs(t, s.DeleteCandidate(ctx, fresh.ID), store.ErrNotFound)
	})

	t.Run("kpi snapshots", func(t *testing.T) {
		id := site()
		_, err := s.LatestKPISnapshot(ctx, id)
		require.ErrorIs(t, err, store.ErrNotFound)

		now := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, s.PutKPISnapshot(ctx, &mirror.KPISnapshot{
			ID: uuid.NewString(), SiteID: id, OverallScore: 0.4, CreatedAt: now.Add(-time.Hour)}))
		require.NoError(t, s.PutKPISnapshot(ctx, &mirror.KPISnapshot{
			ID: uuid.NewString(), SiteID: id, OverallScore: 0.7, CreatedAt: now}))

		latest, err := s.LatestKPISnapshot(ctx, id)
		require.NoError(t, err)
		assert.InDelta(t, 0.7, latest.OverallScore, 1e-9)
	})

	t.Run("reports", func(t *testing.T) {
		id := site()
		now := time.Now().UTC().Truncate(time.Millisecond)
		older := &mirror.ProvisioningReport{ID: uuid.NewString(), SiteID: id, StartedAt: now.Add(-time.Hour)}
		newer := &mirror.ProvisioningReport{
			ID: uuid.NewString(), SiteID: id, StartedAt: now, Success: true,
			Steps:        []mirror.StepOutcome{{Step: "health_check", Status: mirror.StepSuccess}},
			Verification: map[string]bool{"router": true},
		}
		require.NoError(t, s.PutReport(ctx, older))
		require.NoError(t, s.PutReport(ctx, newer))

		got, err := s.GetReport(ctx, newer.ID)
		require.NoError(t, err)
		assert.True(t, got.Verification["router"])
		require.Len(t, got.Steps, 1)

		latest, err := s.LatestReport(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, newer.ID, latest.ID)

		_, err = s.GetReport(ctx, uuid.NewString())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("manifest and collections", func(t *testing.T) {
		id := site()
		_, err := s.GetManifest(ctx, id)
		require.ErrorIs(t, err, store.ErrNotFound)

		m := &mirror.Manifest{SiteID: id, Domain: "acme.ro", VectorDim: 384, Distance: "cosine",
			Stores:     mirror.StoreIDs{FAQStoreID: id + "_faq", PagesStoreID: id + "_pages"},
			Thresholds: mirror.DefaultRouterThresholds()}
		require.NoError(t, s.PutManifest(ctx, m))
		got, err := s.GetManifest(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, m.Stores, got.Stores)
		assert.Equal(t, m.Thresholds, got.Thresholds)

		for i := 0; i < 2; i++ {
			require.NoError(t, s.PutCollection(ctx, &mirror.CollectionRecord{
				SiteID: id, Kind: mirror.StoreFAQ, Name: id + "_faq", Dimension: 384, Distance: "cosine"}))
		}
		require.NoError(t, s.PutCollection(ctx, &mirror.CollectionRecord{
			SiteID: id, Kind: mirror.StorePages, Name: id + "_pages", Dimension: 384, Distance: "cosine"}))

		recs, err := s.ListCollections(ctx, id)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, mirror.StoreFAQ, recs[0].Kind)
		assert.Equal(t, mirror.StorePages, recs[1].Kind)

		sites, err := s.ListSites(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, countOf(sites, id), "a site with two records is listed once")
		assert.IsNonDecreasing(t, sites)
	})
}

func countOf(list []string, v string) int {
	n := 0
	for _, s := range list {
		if s == v {
			n++
		}
	}
	return n
}
