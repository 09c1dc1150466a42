package vector

import (
	"context"
	"slices"
	"sort"
	"sync"

	"seerlord/internal/domain"
)

// MemoryIndex is an in-process domain.VectorIndex used by tests and by
// ephemeral deployments that do not want a database file.
type MemoryIndex struct {
	mu     sync.RWMutex
	points map[string]domain.VectorPoint
}

// NewMemoryIndex creates an empty in-process index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{points: make(map[string]domain.VectorPoint)}
}

// Upsert implements domain.VectorIndex.
func (m *MemoryIndex) Upsert(ctx context.Context, points []domain.VectorPoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		m.points[p.ID] = p
	}
	return nil
}

// Search implements domain.VectorIndex.
func (m *MemoryIndex) Search(ctx context.Context, vector []float32, filter domain.VectorFilter, limit int, scoreThreshold float32) ([]domain.VectorHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []domain.VectorHit
	for _, p := range m.points {
		if !matchesFilter(p.Payload, filter) {
			continue
		}
		score := cosineSimilarity(vector, p.Vector)
		if score < scoreThreshold {
			continue
		}
		hits = append(hits, domain.VectorHit{ID: p.ID, Score: score, Payload: p.Payload})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Delete implements domain.VectorIndex.
func (m *MemoryIndex) Delete(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.points, id)
	}
	return nil
}

// Len returns the number of stored points.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

func matchesFilter(payload map[string]string, filter domain.VectorFilter) bool {
	if filter.Type != "" && payload["type"] != filter.Type {
		return false
	}
	if len(filter.TenantIDs) > 0 && !slices.Contains(filter.TenantIDs, payload["tenant_id"]) {
		return false
	}
	if filter.UserID != "" && payload["user_id"] != filter.UserID {
		return false
	}
	if filter.AgentName != "" && payload["agent_name"] != filter.AgentName {
		return false
	}
	return true
}

// Compile-time interface check.
var _ domain.VectorIndex = (*MemoryIndex)(nil)
