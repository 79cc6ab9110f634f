package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mirroragent/internal/collections"
	"github.com/fyrsmithlabs/mirroragent/internal/curator"
	"github.com/fyrsmithlabs/mirroragent/internal/judge"
	"github.com/fyrsmithlabs/mirroragent/internal/kpi"
	"github.com/fyrsmithlabs/mirroragent/internal/lease"
	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
	"github.com/fyrsmithlabs/mirroragent/internal/registry"
	"github.com/fyrsmithlabs/mirroragent/internal/security"
	"github.com/fyrsmithlabs/mirroragent/internal/store"
	"github.com/fyrsmithlabs/mirroragent/internal/store/memory"
	"github.com/fyrsmithlabs/mirroragent/internal/vectorstore/vectorstoretest"
)

const testDim = 8

type testEnv struct {
	server *Server
	gate   *security.Gate
	docs   *memory.Store
}

// setupTestServer creates a server with acme.ro provisioned.
func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	emb := vectorstoretest.NewEmbedder(testDim)
	vs := vectorstoretest.NewStore(emb)
	docs := memory.New()
	gate, err := security.New(docs, zap.NewNop(), security.WithSecretDetector(nil))
	require.NoError(t, err)
	prov, err := collections.New(vs, docs, collections.Config{Dimension: testDim}, zap.NewNop())
	require.NoError(t, err)
	reg, err := registry.New(registry.Deps{
		Vectors:  vs,
		Embedder: emb,
		Judge:    judge.NewHeuristicJudge(),
		Store:    docs,
		Locker:   lease.NewLocal(),
		Gate:     gate,
		Resolver: prov,
	}, registry.Config{Thresholds: mirror.DefaultRouterThresholds(), Curator: curator.DefaultConfig()}, zap.NewNop())
	require.NoError(t, err)
	harness, err := kpi.New(judge.NewHeuristicJudge(), docs, kpi.Config{QuestionTimeout: time.Second}, zap.NewNop())
	require.NoError(t, err)

	site, err := mirror.NewSite("acme.ro")
	require.NoError(t, err)
	_, err = prov.EnsureCollections(ctx, site.ID)
	require.NoError(t, err)
	_, err = gate.ConfigureSite(ctx, site, true)
	require.NoError(t, err)

	server, err := NewServer(reg, gate, harness, zap.NewNop(), &Config{Host: "localhost", Port: 9190})
	require.NoError(t, err)
	return &testEnv{server: server, gate: gate, docs: docs}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.echo.ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		env := setupTestServer(t)
		server, err := NewServer(env.server.agents, env.gate, env.server.kpi, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 9190, server.config.Port)
		assert.Equal(t, 24*time.Hour, server.config.CuratorLookback)
		assert.NotNil(t, server.config.GoldenSet)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		env := setupTestServer(t)
		_, err := NewServer(env.server.agents, env.gate, env.server.kpi, nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("returns error when dependencies are nil", func(t *testing.T) {
		_, err := NewServer(nil, nil, nil, zap.NewNop(), nil)
		assert.ErrorContains(t, err, "cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	env := setupTestServer(t)
	rec := env.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleMetrics(t *testing.T) {
	env := setupTestServer(t)
	rec := env.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHandleSite(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/sites/acme_ro", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SiteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "acme_ro", resp.SiteID)
	assert.Equal(t, "acme_ro_faq", resp.Stores.FAQStoreID)
	assert.Equal(t, mirror.DefaultRouterThresholds(), resp.Thresholds)

	rec = env.do(t, http.MethodGet, "/api/v1/sites/other_ro", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/sites/Not-A-Site", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAsk(t *testing.T) {
	t.Run("routes a question", func(t *testing.T) {
		env := setupTestServer(t)
		rec := env.do(t, http.MethodPost, "/api/v1/sites/acme_ro/ask",
			AskRequest{Question: "what are your opening hours?", Origin: "www.acme.ro"}, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp registry.Answer
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.RoutingDecision)
		assert.Equal(t, mirror.DecisionEscalate, resp.Decision, "an empty site escalates")
		assert.Zero(t, resp.Redactions)
	})

	t.Run("denies a foreign origin header", func(t *testing.T) {
		env := setupTestServer(t)
		rec := env.do(t, http.MethodPost, "/api/v1/sites/acme_ro/ask",
			AskRequest{Question: "hello"}, map[string]string{echo.HeaderOrigin: "https://evil.com"})
		require.Equal(t, http.StatusForbidden, rec.Code)

		var resp DeniedResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "domain", resp.Check)
	})

	t.Run("denies a request without any origin", func(t *testing.T) {
		env := setupTestServer(t)
		rec := env.do(t, http.MethodPost, "/api/v1/sites/acme_ro/ask", AskRequest{Question: "hello"}, nil)
		require.Equal(t, http.StatusForbidden, rec.Code)

		var resp DeniedResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "domain", resp.Check)

		logged, err := env.docs.ListInteractions(context.Background(), "acme_ro", time.Time{}, 0)
		require.NoError(t, err)
		assert.Empty(t, logged)
	})

	t.Run("denies cross-domain questions", func(t *testing.T) {
		env := setupTestServer(t)
		rec := env.do(t, http.MethodPost, "/api/v1/sites/acme_ro/ask",
			AskRequest{Question: "are you cheaper than rival.com?", Origin: "acme.ro"}, nil)
		require.Equal(t, http.StatusForbidden, rec.Code)

		var resp DeniedResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "cross-domain", resp.Check)
		assert.Equal(t, []string{"rival.com"}, resp.Offending)
	})

	t.Run("scrubs pii before routing", func(t *testing.T) {
		env := setupTestServer(t)
		rec := env.do(t, http.MethodPost, "/api/v1/sites/acme_ro/ask",
			AskRequest{Question: "please call me back at jane@example.com"},
			map[string]string{echo.HeaderOrigin: "https://acme.ro"})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp registry.Answer
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Redactions)
	})

	t.Run("rejects bad requests", func(t *testing.T) {
		env := setupTestServer(t)
		rec := env.do(t, http.MethodPost, "/api/v1/sites/acme_ro/ask", AskRequest{}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = env.do(t, http.MethodPost, "/api/v1/sites/acme_ro/ask", "invalid json", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleScrub(t *testing.T) {
	t.Run("scrubs pii from content", func(t *testing.T) {
		env := setupTestServer(t)
		rec := env.do(t, http.MethodPost, "/api/v1/sites/acme_ro/scrub",
			ScrubRequest{Content: "write to office@acme.ro"}, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp ScrubResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "write to "+security.Placeholders[security.CategoryEmail], resp.Content)
		assert.Equal(t, 1, resp.FindingsCount)
	})

	t.Run("handles content with no pii", func(t *testing.T) {
		env := setupTestServer(t)
		content := "This is just regular text."
		rec := env.do(t, http.MethodPost, "/api/v1/sites/acme_ro/scrub", ScrubRequest{Content: content}, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp ScrubResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, content, resp.Content)
		assert.Zero(t, resp.FindingsCount)
	})

	t.Run("unknown site is not found", func(t *testing.T) {
		env := setupTestServer(t)
		rec := env.do(t, http.MethodPost, "/api/v1/sites/ghost_ro/scrub",
			ScrubRequest{Content: "write to office@ghost.ro"}, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		_, err := env.docs.GetWhitelist(context.Background(), "ghost_ro")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("handles empty content field", func(t *testing.T) {
		env := setupTestServer(t)
		rec := env.do(t, http.MethodPost, "/api/v1/sites/acme_ro/scrub", ScrubRequest{}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Contains(t, resp["message"], "content field is required")
	})
}

func TestHandleViolations(t *testing.T) {
	env := setupTestServer(t)
	env.do(t, http.MethodPost, "/api/v1/sites/acme_ro/scrub", ScrubRequest{Content: "mail jane@example.com"}, nil)
	env.do(t, http.MethodPost, "/api/v1/sites/acme_ro/ask", AskRequest{Question: "hello", Origin: "evil.com"}, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/sites/acme_ro/violations", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var vs []mirror.SecurityViolation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vs))
	assert.Len(t, vs, 2)

	rec = env.do(t, http.MethodGet, "/api/v1/sites/acme_ro/violations?limit=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vs))
	assert.Len(t, vs, 1)

	rec = env.do(t, http.MethodGet, "/api/v1/sites/acme_ro/violations?limit=zero", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCuratorRun(t *testing.T) {
	env := setupTestServer(t)
	rec := env.do(t, http.MethodPost, "/api/v1/sites/acme_ro/curator/run", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res curator.CycleResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "acme_ro", res.SiteID)
	assert.Empty(t, res.Promotions)
}

func TestHandleKPIRun(t *testing.T) {
	env := setupTestServer(t)
	rec := env.do(t, http.MethodPost, "/api/v1/sites/acme_ro/kpi/run", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report kpi.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.NotNil(t, report.Snapshot)
	assert.Equal(t, len(kpi.DefaultGoldenSet().Questions), report.Snapshot.TotalQuestions)

	stored, err := env.docs.LatestKPISnapshot(context.Background(), "acme_ro")
	require.NoError(t, err)
	assert.Equal(t, report.Snapshot.ID, stored.ID)
}

func TestServerLifecycle(t *testing.T) {
	t.Run("starts and shuts down gracefully", func(t *testing.T) {
		env := setupTestServer(t)
		env.server.config.Port = 0

		errChan := make(chan error, 1)
		go func() {
			errChan <- env.server.Start()
		}()
		time.Sleep(100 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, env.server.Shutdown(ctx))

		select {
		case err := <-errChan:
			assert.True(t, err == nil || err == http.ErrServerClosed)
		case <-time.After(6 * time.Second):
			t.Fatal("server did not shut down in time")
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("adds request ID to response", func(t *testing.T) {
		env := setupTestServer(t)
		rec := env.do(t, http.MethodGet, "/health", nil, nil)
		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("recovers from panic", func(t *testing.T) {
		env := setupTestServer(t)
		env.server.echo.GET("/panic", func(c echo.Context) error {
			panic("test panic")
		})

		var rec *httptest.ResponseRecorder
		assert.NotPanics(t, func() {
			rec = env.do(t, http.MethodGet, "/panic", nil, nil)
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestOriginHost(t *testing.T) {
	assert.Equal(t, "www.acme.ro", originHost("https://www.acme.ro:8443"))
	assert.Empty(t, originHost("null"))
	assert.Empty(t, originHost(""))
}
