package llm

import (
	"context"
	"testing"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seerlord/internal/domain"
	"seerlord/internal/infra/logger"
)

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := NewMockProvider(MockTurn{Err: domain.ErrProviderError})
	cb := NewCircuitBreakerProvider(inner, 3, logger.Discard())

	ctx := context.Background()
	req := domain.ChatRequest{Messages: []domain.Message{domain.UserMessage("hi")}}

	for range 3 {
		_, err := cb.Chat(ctx, req)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	// With the circuit open the inner provider is no longer reached.
	before := inner.CallCount()
	_, err := cb.Chat(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProviderError)
	assert.Equal(t, before, inner.CallCount())
}

func TestCircuitBreakerPassesThroughSuccess(t *testing.T) {
	inner := NewMockProvider(MockTurn{Content: "fine"})
	cb := NewCircuitBreakerProvider(inner, 3, logger.Discard())

	resp, err := cb.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{domain.UserMessage("hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "fine", resp.Message.Content)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreakerIgnoresInvalidInput(t *testing.T) {
	inner := NewMockProvider(MockTurn{Err: domain.ErrInvalidInput})
	cb := NewCircuitBreakerProvider(inner, 2, logger.Discard())

	ctx := context.Background()
	req := domain.ChatRequest{Messages: []domain.Message{domain.UserMessage("hi")}}

	for range 5 {
		_, err := cb.Chat(ctx, req)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestRateLimitedProviderPassesThrough(t *testing.T) {
	inner := NewMockProvider(MockTurn{Content: "hello"})
	rl := NewRateLimitedProvider(inner, 0, 1)

	resp, err := rl.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{domain.UserMessage("hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Message.Content)
}

func TestRateLimitedProviderHonorsCancel(t *testing.T) {
	inner := NewMockProvider(MockTurn{Content: "never"})
	// 1 req/hour with burst 1: the second call must wait, so a cancelled
	// context aborts it.
	rl := NewRateLimitedProvider(inner, 1.0/3600.0, 1)

	ctx := context.Background()
	_, err := rl.Chat(ctx, domain.ChatRequest{Messages: []domain.Message{domain.UserMessage("a")}})
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = rl.Chat(cancelled, domain.ChatRequest{Messages: []domain.Message{domain.UserMessage("b")}})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}
