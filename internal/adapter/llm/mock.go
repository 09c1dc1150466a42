package llm

import (
	"context"
	"sync"

	"seerlord/internal/domain"
)

// MockProvider is a scripted LLM provider for tests and offline development.
// Responses are returned in order; the last one repeats once the script is
// exhausted. An entry with a non-nil error fails the call instead.
type MockProvider struct {
	mu      sync.Mutex
	script  []MockTurn
	cursor  int
	history []domain.ChatRequest
}

// MockTurn is one scripted exchange.
type MockTurn struct {
	Content string
	Err     error
}

// NewMockProvider creates a provider that replays the given turns.
func NewMockProvider(turns ...MockTurn) *MockProvider {
	if len(turns) == 0 {
		turns = []MockTurn{{Content: "ok"}}
	}
	return &MockProvider{script: turns}
}

// Chat implements domain.LLMProvider.
func (m *MockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, req)

	turn := m.script[m.cursor]
	if m.cursor < len(m.script)-1 {
		m.cursor++
	}
	if turn.Err != nil {
		return nil, turn.Err
	}

	return &domain.ChatResponse{
		ID:      "mock",
		Model:   req.Model,
		Message: domain.AssistantMessage(turn.Content),
		Usage:   domain.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
	}, nil
}

// Name implements domain.LLMProvider.
func (m *MockProvider) Name() string { return "mock" }

// Requests returns a copy of every request seen so far.
func (m *MockProvider) Requests() []domain.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ChatRequest, len(m.history))
	copy(out, m.history)
	return out
}

// CallCount returns how many Chat calls were made.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history)
}

var _ domain.LLMProvider = (*MockProvider)(nil)
