package plugins

import (
	"context"
	"fmt"
	"strings"

	"seerlord/internal/adapter/llm"
	"seerlord/internal/domain"
	"seerlord/internal/usecase/graph"
)

const (
	voyagerName        = "voyager"
	voyagerDescription = "General-purpose research and problem-solving agent. Breaks a request into sections, works each one out, and composes a structured answer. Use it for open-ended questions, research, analysis, and how-to requests."
	voyagerPersona     = "You are Voyager, a thorough research agent. Be precise, cite the reasoning behind every claim, and structure your answer."
)

const voyagerOutlinePrompt = `Decompose the request into 1-4 independent
sections that together answer it. Respond with a single JSON object:
{"sections": ["...", "..."]}. Use one section for simple requests. Respond
with the JSON object only.`

// Voyager is the default skills-enabled generalist plugin.
type Voyager struct {
	deps  Deps
	graph *graph.Graph
}

// NewVoyager compiles the voyager graph.
func NewVoyager(deps Deps) (*Voyager, error) {
	v := &Voyager{deps: deps}

	g, err := assembleGraph(v, deps, "research", v.researchNode(), 0)
	if err != nil {
		return nil, err
	}
	v.graph = g
	return v, nil
}

func (v *Voyager) Name() string                  { return voyagerName }
func (v *Voyager) Description() string           { return voyagerDescription }
func (v *Voyager) Graph() domain.ExecutableGraph { return v.graph }
func (v *Voyager) CritiqueInstructions() string  { return "" }

func (v *Voyager) Capabilities() domain.PluginCapabilities {
	return domain.PluginCapabilities{EnableSkills: true, SkillMode: domain.SkillModeContext}
}

type voyagerOutline struct {
	Sections []string `json:"sections"`
}

// researchNode outlines the request, expands each section concurrently under
// the configured fan-out cap, and composes the final answer. An outline that
// fails to parse degrades to a single direct answer.
func (v *Voyager) researchNode() graph.NodeFunc {
	deps := v.deps
	return func(ctx context.Context, state domain.State) (domain.State, error) {
		query := taskQuery(state)
		sections := v.outline(ctx, query)

		if len(sections) <= 1 {
			return generateNode(deps, voyagerPersona)(ctx, state)
		}

		parts, err := graph.ForEach(ctx, deps.concurrency(), sections, func(ctx context.Context, section string) (string, error) {
			return v.expandSection(ctx, state, query, section)
		})
		if err != nil {
			markSkillOutcome(ctx, deps, state, false)
			return nil, err
		}
		markSkillOutcome(ctx, deps, state, true)

		var b strings.Builder
		for i, section := range sections {
			fmt.Fprintf(&b, "## %s\n\n%s\n\n", section, parts[i])
		}
		answer := strings.TrimSpace(b.String())
		return domain.State{
			domain.StateKeyResult:   answer,
			domain.StateKeyMessages: []domain.Message{domain.AssistantMessage(answer)},
		}, nil
	}
}

func (v *Voyager) outline(ctx context.Context, query string) []string {
	resp, err := v.deps.LLM.Chat(ctx, domain.ChatRequest{
		Model: v.deps.Model,
		Messages: []domain.Message{
			domain.SystemMessage(voyagerOutlinePrompt),
			domain.UserMessage(query),
		},
	})
	if err != nil {
		v.deps.logger().Warn("outline failed, answering directly", "error", err)
		return nil
	}
	outline, err := llm.DecodeStructured[voyagerOutline](resp.Message.Content, nil)
	if err != nil {
		v.deps.logger().Warn("outline unparseable, answering directly", "error", err)
		return nil
	}
	if len(outline.Sections) > 4 {
		outline.Sections = outline.Sections[:4]
	}
	return outline.Sections
}

func (v *Voyager) expandSection(ctx context.Context, state domain.State, query, section string) (string, error) {
	messages := make([]domain.Message, 0, len(state.Messages())+2)
	messages = append(messages, domain.SystemMessage(voyagerPersona))
	messages = append(messages, state.Messages()...)
	messages = append(messages, domain.UserMessage(
		fmt.Sprintf("Original request: %s\n\nWrite only the section %q.", query, section)))

	resp, err := v.deps.LLM.Chat(ctx, domain.ChatRequest{Model: v.deps.Model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("section %q: %w", section, err)
	}
	return resp.Message.Content, nil
}

var _ domain.AgentPlugin = (*Voyager)(nil)
