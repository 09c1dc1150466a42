package llm

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"seerlord/internal/domain"
)

var (
	ssePrefix = []byte("data: ")
	sseDone   = []byte("[DONE]")
)

// parseSSEStream reads SSE-formatted lines from body and converts each data
// payload into a StreamDelta using the provider-specific parseLine function.
// The returned channel is closed when the stream ends, the body is closed, or
// ctx is cancelled.
func parseSSEStream(ctx context.Context, body io.ReadCloser, parseLine func(data []byte) (*domain.StreamDelta, error)) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}

			line := scanner.Bytes()
			if !bytes.HasPrefix(line, ssePrefix) {
				// Empty lines, comments, event names.
				continue
			}
			data := bytes.TrimPrefix(line, ssePrefix)

			if bytes.Equal(data, sseDone) {
				ch <- domain.StreamDelta{Done: true}
				return
			}

			delta, err := parseLine(data)
			if err != nil || delta == nil {
				// Skip unparseable lines.
				continue
			}

			select {
			case ch <- *delta:
			case <-ctx.Done():
				return
			}

			if delta.Done {
				return
			}
		}
		// A scanner error means the stream broke mid-flight. Emit a final
		// Done delta so consumers do not block waiting for more chunks.
		if err := scanner.Err(); err != nil {
			select {
			case ch <- domain.StreamDelta{Done: true}:
			case <-ctx.Done():
			}
		}
	}()
	return ch
}
