package embedding

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seerlord/internal/domain"
	"seerlord/internal/infra/config"
)

func TestOpenAIProviderEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		// Out of order on purpose; the provider must sort by index.
		_, _ = w.Write([]byte(`{"data": [
			{"index": 1, "embedding": [0.3, 0.4]},
			{"index": 0, "embedding": [0.1, 0.2]}
		]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.EmbeddingConfig{BaseURL: srv.URL, Dimensions: 2})

	vecs, err := p.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{0.1, 0.2}, vecs[0])
	assert.Equal(t, []float32{0.3, 0.4}, vecs[1])
}

func TestOpenAIProviderEmbedAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.EmbeddingConfig{BaseURL: srv.URL})

	_, err := p.EmbedQuery(context.Background(), "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbeddingFailed)
}

func TestHashProviderDeterministic(t *testing.T) {
	p := NewHashProvider(64)

	a1, err := p.EmbedQuery(context.Background(), "deploy the web service")
	require.NoError(t, err)
	a2, err := p.EmbedQuery(context.Background(), "deploy the web service")
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
	assert.Len(t, a1, 64)

	b, err := p.EmbedQuery(context.Background(), "bake a chocolate cake")
	require.NoError(t, err)
	assert.NotEqual(t, a1, b)
}

func TestHashProviderSimilarityOrdering(t *testing.T) {
	p := NewHashProvider(256)
	ctx := context.Background()

	query, err := p.EmbedQuery(ctx, "set up wifi connection")
	require.NoError(t, err)
	near, err := p.EmbedQuery(ctx, "wifi connection troubleshooting")
	require.NoError(t, err)
	far, err := p.EmbedQuery(ctx, "medieval poetry analysis")
	require.NoError(t, err)

	assert.Greater(t, dot(query, near), dot(query, far))
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// countingEmbedder wraps HashProvider and counts EmbedQuery calls.
type countingEmbedder struct {
	*HashProvider
	mu    sync.Mutex
	calls int
}

func (c *countingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.HashProvider.EmbedQuery(ctx, text)
}

func TestCachedEmbedderHitsCache(t *testing.T) {
	inner := &countingEmbedder{HashProvider: NewHashProvider(32)}
	cached := NewCachedEmbedder(inner, 10)

	ctx := context.Background()
	v1, err := cached.EmbedQuery(ctx, "same text")
	require.NoError(t, err)
	v2, err := cached.EmbedQuery(ctx, "same text")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedEmbedderEvictsLRU(t *testing.T) {
	inner := &countingEmbedder{HashProvider: NewHashProvider(32)}
	cached := NewCachedEmbedder(inner, 2)
	ctx := context.Background()

	_, _ = cached.EmbedQuery(ctx, "one")
	_, _ = cached.EmbedQuery(ctx, "two")
	_, _ = cached.EmbedQuery(ctx, "three") // evicts "one"
	_, _ = cached.EmbedQuery(ctx, "one")   // miss again

	assert.Equal(t, 4, inner.calls)
}

func TestCachedEmbedderZeroSizePassthrough(t *testing.T) {
	inner := NewHashProvider(16)
	out := NewCachedEmbedder(inner, 0)
	assert.Same(t, inner, out)
}
