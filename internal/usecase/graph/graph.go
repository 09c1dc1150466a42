package graph

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"seerlord/internal/domain"
	"seerlord/internal/infra/tracer"
)

// End is the terminal pseudo-node. Edges and conditions route here to stop.
const End = "__end__"

// NodeFunc executes one node. It receives the current state and returns a
// delta that is merged into it; returning nil means no change.
type NodeFunc func(ctx context.Context, state domain.State) (domain.State, error)

// CondFunc picks the next node after a conditional edge.
type CondFunc func(ctx context.Context, state domain.State) string

// Options bound graph execution.
type Options struct {
	// MaxSteps caps total node executions per invocation. Exceeding it
	// returns domain.ErrGraphHalted; loops must terminate on their own
	// condition well before this backstop triggers.
	MaxSteps int
	// NodeTimeout bounds each node execution. 0 disables the per-node
	// deadline (the caller's context still applies).
	NodeTimeout time.Duration
}

const defaultMaxSteps = 64

// Builder assembles an executable graph node by node.
type Builder struct {
	name  string
	nodes map[string]NodeFunc
	edges map[string]string
	conds map[string]CondFunc
	entry string
	opts  Options
	err   error
}

// NewBuilder starts a graph definition. The name appears in spans and logs.
func NewBuilder(name string, opts Options) *Builder {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = defaultMaxSteps
	}
	return &Builder{
		name:  name,
		nodes: make(map[string]NodeFunc),
		edges: make(map[string]string),
		conds: make(map[string]CondFunc),
		opts:  opts,
	}
}

// AddNode registers a node. Node names must be unique within the graph.
func (b *Builder) AddNode(name string, fn NodeFunc) *Builder {
	if b.err != nil {
		return b
	}
	if name == "" || name == End {
		b.err = fmt.Errorf("graph %s: invalid node name %q", b.name, name)
		return b
	}
	if _, exists := b.nodes[name]; exists {
		b.err = fmt.Errorf("graph %s: duplicate node %q", b.name, name)
		return b
	}
	b.nodes[name] = fn
	return b
}

// AddEdge wires an unconditional transition. to may be End.
func (b *Builder) AddEdge(from, to string) *Builder {
	if b.err != nil {
		return b
	}
	if _, exists := b.conds[from]; exists {
		b.err = fmt.Errorf("graph %s: node %q already has a conditional edge", b.name, from)
		return b
	}
	b.edges[from] = to
	return b
}

// AddConditionalEdge wires a runtime-decided transition. The condition
// returns the next node name, or End.
func (b *Builder) AddConditionalEdge(from string, cond CondFunc) *Builder {
	if b.err != nil {
		return b
	}
	if _, exists := b.edges[from]; exists {
		b.err = fmt.Errorf("graph %s: node %q already has an unconditional edge", b.name, from)
		return b
	}
	b.conds[from] = cond
	return b
}

// SetEntry names the start node.
func (b *Builder) SetEntry(name string) *Builder {
	if b.err == nil {
		b.entry = name
	}
	return b
}

// Compile validates the definition and returns an executable graph.
func (b *Builder) Compile() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.nodes) == 0 {
		return nil, fmt.Errorf("graph %s: no nodes", b.name)
	}
	if b.entry == "" {
		return nil, fmt.Errorf("graph %s: entry node not set", b.name)
	}
	if _, ok := b.nodes[b.entry]; !ok {
		return nil, fmt.Errorf("graph %s: entry node %q not found", b.name, b.entry)
	}
	for from, to := range b.edges {
		if _, ok := b.nodes[from]; !ok {
			return nil, fmt.Errorf("graph %s: edge from unknown node %q", b.name, from)
		}
		if to != End {
			if _, ok := b.nodes[to]; !ok {
				return nil, fmt.Errorf("graph %s: edge to unknown node %q", b.name, to)
			}
		}
	}
	for from := range b.conds {
		if _, ok := b.nodes[from]; !ok {
			return nil, fmt.Errorf("graph %s: conditional edge from unknown node %q", b.name, from)
		}
	}
	// Every node needs an outgoing route; otherwise execution would stall.
	for name := range b.nodes {
		if _, ok := b.edges[name]; ok {
			continue
		}
		if _, ok := b.conds[name]; ok {
			continue
		}
		return nil, fmt.Errorf("graph %s: node %q has no outgoing edge", b.name, name)
	}

	return &Graph{
		name:  b.name,
		nodes: b.nodes,
		edges: b.edges,
		conds: b.conds,
		entry: b.entry,
		opts:  b.opts,
	}, nil
}

// Graph is a compiled execution graph implementing domain.ExecutableGraph.
type Graph struct {
	name  string
	nodes map[string]NodeFunc
	edges map[string]string
	conds map[string]CondFunc
	entry string
	opts  Options
}

// Name returns the graph's name.
func (g *Graph) Name() string { return g.name }

// Invoke implements domain.ExecutableGraph.
func (g *Graph) Invoke(ctx context.Context, initial domain.State) (domain.State, error) {
	return g.run(ctx, initial, nil)
}

// Stream implements domain.ExecutableGraph.
func (g *Graph) Stream(ctx context.Context, initial domain.State) (<-chan domain.GraphEvent, error) {
	ch := make(chan domain.GraphEvent, 16)
	go func() {
		defer close(ch)
		emit := func(ev domain.GraphEvent) {
			ev.Timestamp = time.Now()
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		}
		final, err := g.run(ctx, initial, emit)
		if err != nil {
			// Step-bound and context failures never produced a node
			// event; the terminal event is the only failure signal.
			emit(domain.GraphEvent{Type: domain.GraphFailed, State: final, Err: err.Error()})
			return
		}
		emit(domain.GraphEvent{Type: domain.GraphCompleted, State: final})
	}()
	return ch, nil
}

func (g *Graph) run(ctx context.Context, initial domain.State, emit func(domain.GraphEvent)) (domain.State, error) {
	ctx, span := tracer.StartSpan(ctx, "graph.invoke",
		trace.WithAttributes(tracer.StringAttr("graph.name", g.name)))
	defer span.End()

	state := initial.Clone()
	if state == nil {
		state = domain.State{}
	}

	current := g.entry
	for steps := 0; current != End; steps++ {
		if steps >= g.opts.MaxSteps {
			err := domain.NewDomainError("Graph.Invoke", domain.ErrGraphHalted,
				fmt.Sprintf("%s: %d steps without reaching a terminal node", g.name, steps))
			tracer.RecordError(span, err)
			return state, err
		}
		if err := ctx.Err(); err != nil {
			tracer.RecordError(span, err)
			return state, err
		}

		if emit != nil {
			emit(domain.GraphEvent{Type: domain.GraphNodeStarted, Node: current})
		}

		delta, err := g.runNode(ctx, current, state)
		if err != nil {
			if emit != nil {
				emit(domain.GraphEvent{Type: domain.GraphNodeFailed, Node: current, Err: err.Error()})
			}
			tracer.RecordError(span, err)
			return state, fmt.Errorf("node %q: %w", current, err)
		}
		state = Merge(state, delta)

		if emit != nil {
			emit(domain.GraphEvent{Type: domain.GraphNodeCompleted, Node: current})
		}

		if cond, ok := g.conds[current]; ok {
			next := cond(ctx, state)
			if next != End {
				if _, ok := g.nodes[next]; !ok {
					err := fmt.Errorf("condition after %q routed to unknown node %q", current, next)
					tracer.RecordError(span, err)
					return state, err
				}
			}
			current = next
			continue
		}
		current = g.edges[current]
	}

	tracer.SetOK(span)
	return state, nil
}

func (g *Graph) runNode(ctx context.Context, name string, state domain.State) (domain.State, error) {
	nodeCtx := ctx
	if g.opts.NodeTimeout > 0 {
		var cancel context.CancelFunc
		nodeCtx, cancel = context.WithTimeout(ctx, g.opts.NodeTimeout)
		defer cancel()
	}

	nodeCtx, span := tracer.StartSpan(nodeCtx, "graph.node",
		trace.WithAttributes(
			tracer.StringAttr("graph.name", g.name),
			tracer.StringAttr("node.name", name),
		),
	)
	defer span.End()

	delta, err := g.nodes[name](nodeCtx, state)
	if err != nil {
		tracer.RecordError(span, err)
		if nodeCtx.Err() != nil && ctx.Err() == nil {
			// The per-node deadline fired, not the caller's context.
			return nil, fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		}
		return nil, err
	}
	return delta, nil
}

// Merge folds a node's delta into the state. StateKeyMessages merges by
// append so conversation history accumulates; every other key overwrites.
func Merge(state, delta domain.State) domain.State {
	if delta == nil {
		return state
	}
	for k, v := range delta {
		if k == domain.StateKeyMessages {
			if newMsgs, ok := v.([]domain.Message); ok {
				state[k] = append(state.Messages(), newMsgs...)
				continue
			}
		}
		state[k] = v
	}
	return state
}

// Compile-time interface check.
var _ domain.ExecutableGraph = (*Graph)(nil)
