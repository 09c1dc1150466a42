package domain

import (
	"context"
	"time"
)

// Well-known state keys shared by every plugin graph. Graphs must tolerate
// additional implementation-specific keys without erroring.
const (
	StateKeyMessages     = "messages"     // []Message, append-merged
	StateKeyTenantID     = "tenant_id"    // string
	StateKeyUserID       = "user_id"      // string
	StateKeySessionID    = "session_id"   // string
	StateKeyInstruction  = "instruction"  // string, current task instruction
	StateKeySkill        = "skill"        // *Skill, set by the skill-loading node
	StateKeySkillReason  = "skill_reason" // string
	StateKeyUsedSkillIDs = "used_skills"  // []string
	StateKeyMemory       = "memory"       // []MemoryEntry
	StateKeyResult       = "result"       // string, final answer of the graph
)

// State is the mutable execution state flowing through a graph. Nodes
// return delta states that are merged key-by-key; StateKeyMessages merges
// by append so conversation history accumulates.
type State map[string]any

// Clone returns a shallow copy of the state.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Messages returns the accumulated message window, or nil.
func (s State) Messages() []Message {
	msgs, _ := s[StateKeyMessages].([]Message)
	return msgs
}

// String returns the string stored under key, or empty.
func (s State) String(key string) string {
	v, _ := s[key].(string)
	return v
}

// GraphEventType classifies execution events emitted by a streaming graph
// invocation.
type GraphEventType string

const (
	GraphNodeStarted   GraphEventType = "node.started"
	GraphNodeCompleted GraphEventType = "node.completed"
	GraphNodeFailed    GraphEventType = "node.failed"
	GraphCompleted     GraphEventType = "graph.completed"
	GraphFailed        GraphEventType = "graph.failed"
)

// GraphEvent is one incremental notification from a streaming invocation.
// Every stream ends with exactly one terminal event: GraphCompleted on
// success, GraphFailed otherwise, so consumers can tell failure from
// truncation.
type GraphEvent struct {
	Type      GraphEventType
	Node      string
	State     State  // set on the terminal event; partial on GraphFailed
	Err       string // set on GraphNodeFailed and GraphFailed
	Timestamp time.Time
}

// ExecutableGraph is a compiled, invokable plugin graph. It accepts an
// initial state containing at minimum messages, tenant_id and user_id, and
// must reach a terminal state in bounded steps.
type ExecutableGraph interface {
	// Invoke runs the graph to completion and returns the final state.
	Invoke(ctx context.Context, initial State) (State, error)

	// Stream runs the graph, yielding an event per node transition. The
	// channel closes after the terminal event, GraphCompleted or
	// GraphFailed.
	Stream(ctx context.Context, initial State) (<-chan GraphEvent, error)
}
