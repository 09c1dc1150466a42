package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"seerlord/internal/domain"
)

// HashProvider is a deterministic, offline embedding provider using token
// feature hashing. Texts sharing tokens land near each other, identical
// texts embed identically. It needs no API key, which makes it the default
// for tests and air-gapped deployments. Not a substitute for a real model
// when semantic quality matters.
type HashProvider struct {
	dims int
}

// NewHashProvider creates a hashing embedder with the given dimensionality.
func NewHashProvider(dims int) *HashProvider {
	if dims <= 0 {
		dims = 256
	}
	return &HashProvider{dims: dims}
}

// Embed implements domain.EmbeddingProvider.
func (p *HashProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.embedOne(t)
	}
	return out, nil
}

// EmbedQuery implements domain.EmbeddingProvider.
func (p *HashProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.embedOne(text), nil
}

func (p *HashProvider) embedOne(text string) []float32 {
	vec := make([]float32, p.dims)

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	for _, tok := range tokens {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(p.dims))
		// Sign from a second hash bit keeps the expectation at zero.
		if sum&(1<<63) != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}

	// L2 normalize so cosine similarity equals the dot product.
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}

	return vec
}

// Dimensions implements domain.EmbeddingProvider.
func (p *HashProvider) Dimensions() int { return p.dims }

// Name implements domain.EmbeddingProvider.
func (p *HashProvider) Name() string { return "hash" }

// Compile-time interface check.
var _ domain.EmbeddingProvider = (*HashProvider)(nil)
