package domain

import "context"

// VectorPoint is one entry in a vector index. The payload carries only
// ids and filterable metadata; full records live in relational storage.
type VectorPoint struct {
	ID      string
	Vector  []float32
	Payload map[string]string
}

// VectorHit is a single similarity-search result in rank order.
type VectorHit struct {
	ID      string
	Score   float32
	Payload map[string]string
}

// VectorFilter restricts a search to points whose payload matches every
// non-empty field. TenantIDs is an OR set so callers can widen a tenant
// scope with the global skill scope in one search.
type VectorFilter struct {
	Type      string
	TenantIDs []string
	UserID    string
	AgentName string
}

// VectorIndex is the retrieval contract over a vector store. Concrete
// implementations (Qdrant, embedded SQLite) live in the adapter layer.
type VectorIndex interface {
	Upsert(ctx context.Context, points []VectorPoint) error
	Search(ctx context.Context, vector []float32, f VectorFilter, limit int, scoreThreshold float32) ([]VectorHit, error)
	Delete(ctx context.Context, ids []string) error
}
