package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/mirroragent/internal/config"
	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
)

func teiServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embed", r.URL.Path)
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte("boom"))
			return
		}
		var req struct {
			Inputs json.RawMessage `json:"inputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		n := 1
		var many []string
		if json.Unmarshal(req.Inputs, &many) == nil {
			n = len(many)
		}
		out := make([][]float32, n)
		for i := range out {
			out[i] = []float32{float32(i + 1), 0, 0}
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTEIProvider_Embeds(t *testing.T) {
	srv := teiServer(t, http.StatusOK)
	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL + "/v1", Model: "BAAI/bge-small-en-v1.5"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 384, p.Dimension())

	vecs, err := p.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, float32(2), vecs[1][0])

	v, err := p.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, v, 3)
}

func TestTEIProvider_EmptyInput(t *testing.T) {
	p, err := NewTEIProvider(TEIConfig{BaseURL: "http://localhost:1"}, nil)
	require.NoError(t, err)
	_, err = p.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = p.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestTEIProvider_ServerErrorsAreUnavailable(t *testing.T) {
	srv := teiServer(t, http.StatusServiceUnavailable)
	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	_, err = p.EmbedQuery(context.Background(), "q")
	assert.ErrorIs(t, err, mirror.ErrServiceUnavailable)
}

func TestTEIProvider_ClientErrorsAreNotUnavailable(t *testing.T) {
	srv := teiServer(t, http.StatusBadRequest)
	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	_, err = p.EmbedQuery(context.Background(), "q")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.NotErrorIs(t, err, mirror.ErrServiceUnavailable)
}

func TestTEIProvider_RequiresBaseURL(t *testing.T) {
	_, err := NewTEIProvider(TEIConfig{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDimensionForModel(t *testing.T) {
	d, ok := DimensionForModel("BAAI/bge-base-en-v1.5")
	assert.True(t, ok)
	assert.Equal(t, 768, d)

	d, ok = DimensionForModel("acme/custom-large")
	assert.False(t, ok)
	assert.Equal(t, 1024, d)
}

func TestNewProvider(t *testing.T) {
	_, err := NewProvider(config.EmbeddingsConfig{Provider: "word2vec"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	p, err := NewProvider(config.EmbeddingsConfig{Provider: "tei", BaseURL: "http://localhost:8080", Model: "m", Dimension: 512}, nil)
	require.NoError(t, err)
	assert.Equal(t, 512, p.Dimension())

	p, err = NewProvider(config.EmbeddingsConfig{Provider: "openai", BaseURL: "http://localhost:8080/v1", Model: "text-embedding-3-small"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1536, p.Dimension())
	require.NoError(t, p.Close())
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordGeneration(context.Background(), "m", "op", 0, 1, nil)
	NewMetrics(nil).RecordGeneration(context.Background(), "m", "op", 0, 1, assert.AnError)
}
