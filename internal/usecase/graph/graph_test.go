package graph

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seerlord/internal/domain"
)

func TestGraphLinearRun(t *testing.T) {
	g, err := NewBuilder("linear", Options{}).
		AddNode("first", func(_ context.Context, _ domain.State) (domain.State, error) {
			return domain.State{"a": 1}, nil
		}).
		AddNode("second", func(_ context.Context, s domain.State) (domain.State, error) {
			require.Equal(t, 1, s["a"])
			return domain.State{"b": 2}, nil
		}).
		AddEdge("first", "second").
		AddEdge("second", End).
		SetEntry("first").
		Compile()
	require.NoError(t, err)

	final, err := g.Invoke(context.Background(), domain.State{})
	require.NoError(t, err)
	assert.Equal(t, 1, final["a"])
	assert.Equal(t, 2, final["b"])
}

func TestGraphConditionalLoopTerminates(t *testing.T) {
	g, err := NewBuilder("loop", Options{MaxSteps: 20}).
		AddNode("count", func(_ context.Context, s domain.State) (domain.State, error) {
			n, _ := s["n"].(int)
			return domain.State{"n": n + 1}, nil
		}).
		AddConditionalEdge("count", func(_ context.Context, s domain.State) string {
			if n, _ := s["n"].(int); n >= 3 {
				return End
			}
			return "count"
		}).
		SetEntry("count").
		Compile()
	require.NoError(t, err)

	final, err := g.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, final["n"])
}

func TestGraphStepBoundHalts(t *testing.T) {
	g, err := NewBuilder("runaway", Options{MaxSteps: 5}).
		AddNode("spin", func(_ context.Context, _ domain.State) (domain.State, error) {
			return nil, nil
		}).
		AddEdge("spin", "spin").
		SetEntry("spin").
		Compile()
	require.NoError(t, err)

	_, err = g.Invoke(context.Background(), domain.State{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGraphHalted)
}

func TestGraphMessagesAppendMerge(t *testing.T) {
	g, err := NewBuilder("chat", Options{}).
		AddNode("reply", func(_ context.Context, s domain.State) (domain.State, error) {
			return domain.State{
				domain.StateKeyMessages: []domain.Message{
					{Role: domain.RoleAssistant, Content: "hello"},
				},
			}, nil
		}).
		AddEdge("reply", End).
		SetEntry("reply").
		Compile()
	require.NoError(t, err)

	initial := domain.State{
		domain.StateKeyMessages: []domain.Message{
			{Role: domain.RoleUser, Content: "hi"},
		},
	}
	final, err := g.Invoke(context.Background(), initial)
	require.NoError(t, err)

	msgs := final.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
}

func TestGraphNodeErrorPropagates(t *testing.T) {
	boom := errors.New("node exploded")
	g, err := NewBuilder("failing", Options{}).
		AddNode("ok", func(_ context.Context, _ domain.State) (domain.State, error) {
			return domain.State{"ran": true}, nil
		}).
		AddNode("bad", func(_ context.Context, _ domain.State) (domain.State, error) {
			return nil, boom
		}).
		AddEdge("ok", "bad").
		AddEdge("bad", End).
		SetEntry("ok").
		Compile()
	require.NoError(t, err)

	_, err = g.Invoke(context.Background(), domain.State{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), `node "bad"`)
}

func TestGraphNodeTimeout(t *testing.T) {
	g, err := NewBuilder("slow", Options{NodeTimeout: 20 * time.Millisecond}).
		AddNode("sleep", func(ctx context.Context, _ domain.State) (domain.State, error) {
			select {
			case <-time.After(time.Second):
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}).
		AddEdge("sleep", End).
		SetEntry("sleep").
		Compile()
	require.NoError(t, err)

	_, err = g.Invoke(context.Background(), domain.State{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestGraphStreamEmitsEvents(t *testing.T) {
	g, err := NewBuilder("streamed", Options{}).
		AddNode("only", func(_ context.Context, _ domain.State) (domain.State, error) {
			return domain.State{domain.StateKeyResult: "done"}, nil
		}).
		AddEdge("only", End).
		SetEntry("only").
		Compile()
	require.NoError(t, err)

	events, err := g.Stream(context.Background(), domain.State{})
	require.NoError(t, err)

	var types []domain.GraphEventType
	var final domain.State
	for ev := range events {
		types = append(types, ev.Type)
		if ev.Type == domain.GraphCompleted {
			final = ev.State
		}
	}
	assert.Equal(t, []domain.GraphEventType{
		domain.GraphNodeStarted,
		domain.GraphNodeCompleted,
		domain.GraphCompleted,
	}, types)
	require.NotNil(t, final)
	assert.Equal(t, "done", final.String(domain.StateKeyResult))
}

func TestGraphStreamNodeFailure(t *testing.T) {
	g, err := NewBuilder("stream-fail", Options{}).
		AddNode("bad", func(_ context.Context, _ domain.State) (domain.State, error) {
			return nil, errors.New("nope")
		}).
		AddEdge("bad", End).
		SetEntry("bad").
		Compile()
	require.NoError(t, err)

	events, err := g.Stream(context.Background(), domain.State{})
	require.NoError(t, err)

	var types []domain.GraphEventType
	var last domain.GraphEvent
	for ev := range events {
		types = append(types, ev.Type)
		last = ev
	}
	assert.Equal(t, []domain.GraphEventType{
		domain.GraphNodeStarted,
		domain.GraphNodeFailed,
		domain.GraphFailed,
	}, types)
	assert.Contains(t, last.Err, "nope")
}

func TestGraphStreamStepBoundEndsWithFailureEvent(t *testing.T) {
	g, err := NewBuilder("stream-spin", Options{MaxSteps: 3}).
		AddNode("spin", nopNode).
		AddEdge("spin", "spin").
		SetEntry("spin").
		Compile()
	require.NoError(t, err)

	events, err := g.Stream(context.Background(), domain.State{})
	require.NoError(t, err)

	var last domain.GraphEvent
	for ev := range events {
		last = ev
	}
	// No node failed; the terminal event must still report the halt.
	assert.Equal(t, domain.GraphFailed, last.Type)
	assert.Contains(t, last.Err, domain.ErrGraphHalted.Error())
}

func TestCompileValidation(t *testing.T) {
	tests := []struct {
		name  string
		build func() (*Graph, error)
	}{
		{"no entry", func() (*Graph, error) {
			return NewBuilder("g", Options{}).
				AddNode("a", nopNode).AddEdge("a", End).Compile()
		}},
		{"unknown entry", func() (*Graph, error) {
			return NewBuilder("g", Options{}).
				AddNode("a", nopNode).AddEdge("a", End).SetEntry("missing").Compile()
		}},
		{"edge to unknown node", func() (*Graph, error) {
			return NewBuilder("g", Options{}).
				AddNode("a", nopNode).AddEdge("a", "ghost").SetEntry("a").Compile()
		}},
		{"node without outgoing edge", func() (*Graph, error) {
			return NewBuilder("g", Options{}).
				AddNode("a", nopNode).SetEntry("a").Compile()
		}},
		{"duplicate node", func() (*Graph, error) {
			return NewBuilder("g", Options{}).
				AddNode("a", nopNode).AddNode("a", nopNode).
				AddEdge("a", End).SetEntry("a").Compile()
		}},
		{"both edge kinds on one node", func() (*Graph, error) {
			return NewBuilder("g", Options{}).
				AddNode("a", nopNode).
				AddEdge("a", End).
				AddConditionalEdge("a", func(context.Context, domain.State) string { return End }).
				SetEntry("a").Compile()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build()
			assert.Error(t, err)
		})
	}
}

func nopNode(_ context.Context, _ domain.State) (domain.State, error) {
	return nil, nil
}

func TestForEachKeepsOrder(t *testing.T) {
	inputs := []int{1, 2, 3, 4, 5}
	out, err := ForEach(context.Background(), 2, inputs, func(_ context.Context, n int) (string, error) {
		return fmt.Sprintf("v%d", n), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2", "v3", "v4", "v5"}, out)
}

func TestForEachFirstErrorWins(t *testing.T) {
	boom := errors.New("boom")
	_, err := ForEach(context.Background(), 1, []int{1, 2, 3}, func(_ context.Context, n int) (int, error) {
		if n == 2 {
			return 0, boom
		}
		return n, nil
	})
	assert.ErrorIs(t, err, boom)
}
