package memory

import (
	"context"

	"seerlord/internal/domain"
)

// Noop is a memory provider that remembers nothing. Used when memory is
// disabled in config; callers need no nil checks.
type Noop struct{}

// NewNoop creates a no-op memory provider.
func NewNoop() *Noop { return &Noop{} }

func (Noop) Store(ctx context.Context, entry domain.MemoryEntry) error { return nil }

func (Noop) Query(ctx context.Context, query, tenantID, userID string, limit int) ([]domain.MemoryEntry, error) {
	return nil, nil
}

func (Noop) Delete(ctx context.Context, id string) error { return nil }

func (Noop) Name() string { return "noop" }

var _ domain.MemoryProvider = (*Noop)(nil)
