package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"seerlord/internal/domain"
)

// VectorMemory implements domain.MemoryProvider on top of a vector index.
// Entries are embedded on write and retrieved by cosine similarity, always
// filtered by tenant. There is no global scope for memories: unlike skills,
// they are never shared across tenants.
type VectorMemory struct {
	index    domain.VectorIndex
	embedder domain.EmbeddingProvider
	logger   *slog.Logger
	minScore float32
}

// NewVectorMemory creates a vector-backed memory provider. minScore filters
// out weak matches on query; 0 disables the threshold.
func NewVectorMemory(index domain.VectorIndex, embedder domain.EmbeddingProvider, minScore float32, logger *slog.Logger) *VectorMemory {
	return &VectorMemory{
		index:    index,
		embedder: embedder,
		logger:   logger,
		minScore: minScore,
	}
}

const metaPrefix = "meta."

// Store implements domain.MemoryProvider.
func (m *VectorMemory) Store(ctx context.Context, entry domain.MemoryEntry) error {
	if entry.TenantID == "" {
		return domain.NewDomainError("Memory.Store", domain.ErrInvalidInput, "tenant id is required")
	}
	if strings.TrimSpace(entry.Content) == "" {
		return domain.NewDomainError("Memory.Store", domain.ErrInvalidInput, "content is empty")
	}
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	vec, err := m.embedder.EmbedQuery(ctx, entry.Content)
	if err != nil {
		return fmt.Errorf("%w: embed: %v", domain.ErrMemoryStore, err)
	}

	payload := map[string]string{
		"type":       "memory",
		"content":    entry.Content,
		"tenant_id":  entry.TenantID,
		"created_at": entry.CreatedAt.Format(time.RFC3339Nano),
	}
	if entry.UserID != "" {
		payload["user_id"] = entry.UserID
	}
	if entry.AgentName != "" {
		payload["agent_name"] = entry.AgentName
	}
	if entry.SessionID != "" {
		payload["session_id"] = entry.SessionID
	}
	for k, v := range entry.Metadata {
		payload[metaPrefix+k] = v
	}

	if err := m.index.Upsert(ctx, []domain.VectorPoint{{
		ID:      entry.ID,
		Vector:  vec,
		Payload: payload,
	}}); err != nil {
		return fmt.Errorf("%w: upsert: %v", domain.ErrMemoryStore, err)
	}

	m.logger.Debug("memory stored", "id", entry.ID, "tenant_id", entry.TenantID)
	return nil
}

// Query implements domain.MemoryProvider. Absence is an empty slice.
func (m *VectorMemory) Query(ctx context.Context, query, tenantID, userID string, limit int) ([]domain.MemoryEntry, error) {
	if tenantID == "" {
		return nil, domain.NewDomainError("Memory.Query", domain.ErrInvalidInput, "tenant id is required")
	}
	if limit <= 0 {
		limit = 3
	}

	vec, err := m.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed: %v", domain.ErrMemoryStore, err)
	}

	hits, err := m.index.Search(ctx, vec, domain.VectorFilter{
		Type:      "memory",
		TenantIDs: []string{tenantID},
		UserID:    userID,
	}, limit, m.minScore)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", domain.ErrMemoryStore, err)
	}

	entries := make([]domain.MemoryEntry, 0, len(hits))
	for _, hit := range hits {
		entries = append(entries, entryFromPayload(hit.ID, hit.Payload))
	}
	return entries, nil
}

// Delete implements domain.MemoryProvider.
func (m *VectorMemory) Delete(ctx context.Context, id string) error {
	if err := m.index.Delete(ctx, []string{id}); err != nil {
		return fmt.Errorf("%w: delete: %v", domain.ErrMemoryStore, err)
	}
	return nil
}

// Name implements domain.MemoryProvider.
func (m *VectorMemory) Name() string { return "vector" }

func entryFromPayload(id string, payload map[string]string) domain.MemoryEntry {
	entry := domain.MemoryEntry{
		ID:        id,
		Content:   payload["content"],
		TenantID:  payload["tenant_id"],
		UserID:    payload["user_id"],
		AgentName: payload["agent_name"],
		SessionID: payload["session_id"],
	}
	if t, err := time.Parse(time.RFC3339Nano, payload["created_at"]); err == nil {
		entry.CreatedAt = t
	}
	for k, v := range payload {
		if name, ok := strings.CutPrefix(k, metaPrefix); ok {
			if entry.Metadata == nil {
				entry.Metadata = make(map[string]string)
			}
			entry.Metadata[name] = v
		}
	}
	return entry
}

// Compile-time interface check.
var _ domain.MemoryProvider = (*VectorMemory)(nil)
