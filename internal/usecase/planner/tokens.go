package planner

import (
	"github.com/pkoukk/tiktoken-go"

	"seerlord/internal/domain"
)

// TokenCounter estimates prompt size for history trimming.
type TokenCounter interface {
	Count(text string) int
}

// NewTokenCounter returns a BPE counter for the model, falling back to a
// bytes/4 heuristic when no encoding is available (offline environments).
func NewTokenCounter(model string) TokenCounter {
	if enc, err := tiktoken.EncodingForModel(model); err == nil {
		return &bpeCounter{enc: enc}
	}
	if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
		return &bpeCounter{enc: enc}
	}
	return heuristicCounter{}
}

type bpeCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *bpeCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

type heuristicCounter struct{}

func (heuristicCounter) Count(text string) int { return (len(text) + 3) / 4 }

// trimHistory keeps at most maxMessages recent messages, then drops the
// oldest remaining ones until the window fits tokenCap. The newest message
// always survives.
func trimHistory(messages []domain.Message, maxMessages, tokenCap int, counter TokenCounter) []domain.Message {
	if maxMessages > 0 && len(messages) > maxMessages {
		messages = messages[len(messages)-maxMessages:]
	}
	if tokenCap <= 0 || counter == nil {
		return messages
	}

	total := 0
	for _, m := range messages {
		total += counter.Count(m.Content)
	}
	for total > tokenCap && len(messages) > 1 {
		total -= counter.Count(messages[0].Content)
		messages = messages[1:]
	}
	return messages
}
