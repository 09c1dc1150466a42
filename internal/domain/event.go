package domain

import (
	"context"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	// Skill lifecycle events, surfaced so a caller streaming progress can
	// show "thinking" steps. Advisory only: their absence must not affect
	// retrieval correctness.
	EventSkillRetrieved      EventType = "skill.retrieved"
	EventSkillEvolutionStart EventType = "skill.evolution.start"
	EventSkillEvolved        EventType = "skill.evolved"
	EventSkillRefined        EventType = "skill.refined"

	// Planning and dispatch events.
	EventPlanCreated   EventType = "plan.created"
	EventTaskStarted   EventType = "plan.task.started"
	EventTaskCompleted EventType = "plan.task.completed"
	EventTaskFailed    EventType = "plan.task.failed"

	// Registry events.
	EventPluginRegistered EventType = "plugin.registered"

	// Memory events.
	EventMemoryStored EventType = "memory.stored"
)

// Event is a single published event with a loosely typed payload.
type Event struct {
	Type      EventType         `json:"type"`
	Payload   map[string]string `json:"payload,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(t EventType, payload map[string]string) Event {
	return Event{Type: t, Payload: payload, Timestamp: time.Now()}
}

// EventHandler receives published events.
type EventHandler func(ctx context.Context, event Event)

// EventBus fans events out to subscribers. Publishing never blocks the
// caller on handler execution.
type EventBus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(eventType EventType, handler EventHandler) (unsubscribe func())
	SubscribeAll(handler EventHandler) (unsubscribe func())
}

// NopBus is an EventBus that discards everything. Components accept it when
// the caller has no observability needs.
type NopBus struct{}

func (NopBus) Publish(context.Context, Event)                         {}
func (NopBus) Subscribe(EventType, EventHandler) (unsubscribe func()) { return func() {} }
func (NopBus) SubscribeAll(EventHandler) (unsubscribe func())         { return func() {} }
