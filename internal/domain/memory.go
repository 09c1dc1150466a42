package domain

import (
	"context"
	"time"
)

// MemoryEntry represents a piece of stored experience, always scoped to a
// tenant. Unlike skills there is no shared scope: memories are private.
type MemoryEntry struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	TenantID  string            `json:"tenant_id"`
	UserID    string            `json:"user_id,omitempty"`
	AgentName string            `json:"agent_name,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// MemoryProvider is the interface for long-term memory backends. Every
// operation carries the tenant scope as a mandatory filter.
type MemoryProvider interface {
	Store(ctx context.Context, entry MemoryEntry) error
	// Query returns the most relevant entries for the query within the
	// tenant (and, when set, user) scope. Absence returns an empty slice,
	// never an error.
	Query(ctx context.Context, query, tenantID, userID string, limit int) ([]MemoryEntry, error)
	Delete(ctx context.Context, id string) error
	Name() string
}
