package plugins

import (
	"context"
	"fmt"
	"strings"

	"seerlord/internal/adapter/llm"
	"seerlord/internal/domain"
	"seerlord/internal/usecase/graph"
)

// State keys private to the plugin graphs.
const (
	stateCritiquePassed   = "critique_passed"
	stateCritiqueFeedback = "critique_feedback"
	stateCritiqueRounds   = "critique_rounds"
)

// taskQuery returns the text driving skill and memory retrieval for this
// execution: the task instruction when set, otherwise the latest user turn.
func taskQuery(state domain.State) string {
	if q := state.String(domain.StateKeyInstruction); q != "" {
		return q
	}
	return domain.LastUserContent(state.Messages())
}

func scopeFilter(state domain.State, agentName string) domain.SkillFilter {
	return domain.SkillFilter{
		TenantID:  state.String(domain.StateKeyTenantID),
		UserID:    state.String(domain.StateKeyUserID),
		AgentName: agentName,
	}
}

// loadSkillsNode retrieves or evolves the best skill for the task and, in
// context mode, injects its prompt template and knowledge base as a system
// message visible to every downstream LLM call.
func loadSkillsNode(deps Deps, agentName, agentDescription string, mode domain.SkillMode) graph.NodeFunc {
	return func(ctx context.Context, state domain.State) (domain.State, error) {
		query := taskQuery(state)
		skill, reason, err := deps.Skills.GetOrEvolveSkill(ctx, query, scopeFilter(state, agentName), agentDescription, state.Messages())
		if err != nil {
			return nil, err
		}

		delta := domain.State{
			domain.StateKeySkill:        &skill,
			domain.StateKeySkillReason:  reason,
			domain.StateKeyUsedSkillIDs: []string{skill.ID},
		}
		// Tool mode is reserved; skills currently surface as context only.
		if mode != domain.SkillModeTool {
			delta[domain.StateKeyMessages] = []domain.Message{
				domain.SystemMessage(skillContext(&skill, query)),
			}
		}
		return delta, nil
	}
}

// skillContext renders a retrieved skill as instruction context.
func skillContext(s *domain.Skill, query string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Apply the skill %q: %s\n", s.Name, s.Description)
	b.WriteString(strings.ReplaceAll(s.Content.PromptTemplate, "{task}", query))
	if len(s.Content.KnowledgeBase) > 0 {
		b.WriteString("\nRelevant knowledge:\n")
		for _, k := range s.Content.KnowledgeBase {
			fmt.Fprintf(&b, "- %s\n", k)
		}
	}
	return b.String()
}

// loadMemoryNode injects relevant tenant memory as context. Memory is
// advisory: lookup failures degrade to an empty context, never fail the task.
func loadMemoryNode(deps Deps) graph.NodeFunc {
	return func(ctx context.Context, state domain.State) (domain.State, error) {
		if deps.Memory == nil {
			return nil, nil
		}
		query := taskQuery(state)
		entries, err := deps.Memory.Query(ctx, query,
			state.String(domain.StateKeyTenantID),
			state.String(domain.StateKeyUserID),
			deps.MemoryTopK,
		)
		if err != nil {
			deps.logger().Warn("memory lookup failed, continuing without context", "error", err)
			return nil, nil
		}
		if len(entries) == 0 {
			return nil, nil
		}

		var b strings.Builder
		b.WriteString("Context from earlier interactions:\n")
		for _, e := range entries {
			fmt.Fprintf(&b, "- %s\n", e.Content)
		}
		return domain.State{
			domain.StateKeyMemory:   entries,
			domain.StateKeyMessages: []domain.Message{domain.SystemMessage(b.String())},
		}, nil
	}
}

// generateNode runs the plugin's main LLM call over the accumulated message
// window and records the answer as the result. A successful generation marks
// the loaded skills as used.
func generateNode(deps Deps, persona string) graph.NodeFunc {
	return func(ctx context.Context, state domain.State) (domain.State, error) {
		messages := make([]domain.Message, 0, len(state.Messages())+1)
		messages = append(messages, domain.SystemMessage(persona))
		messages = append(messages, state.Messages()...)

		resp, err := deps.LLM.Chat(ctx, domain.ChatRequest{Model: deps.Model, Messages: messages})
		if err != nil {
			markSkillOutcome(ctx, deps, state, false)
			return nil, err
		}

		markSkillOutcome(ctx, deps, state, true)
		return domain.State{
			domain.StateKeyResult:   resp.Message.Content,
			domain.StateKeyMessages: []domain.Message{resp.Message},
		}, nil
	}
}

// markSkillOutcome feeds execution outcomes back into skill usage stats.
func markSkillOutcome(ctx context.Context, deps Deps, state domain.State, success bool) {
	ids, _ := state[domain.StateKeyUsedSkillIDs].([]string)
	for _, id := range ids {
		if err := deps.Skills.RecordUsage(ctx, id, success); err != nil {
			deps.logger().Warn("skill usage update failed", "skill_id", id, "error", err)
		}
	}
}

type critiqueOutcome struct {
	NeedsRefinement bool   `json:"needs_refinement"`
	Feedback        string `json:"feedback"`
}

const critiqueNodePrompt = `You review an AI agent's answer against the
given criteria. Respond with a single JSON object:
{"needs_refinement": true|false, "feedback": "..."}. Set needs_refinement
only when the answer clearly violates the criteria. Respond with the JSON
object only.`

// critiqueNode evaluates the current result against the plugin's rubric.
// Review is advisory: any failure counts as a pass so a flaky critic can
// never block an answer.
func critiqueNode(deps Deps, instructions string) graph.NodeFunc {
	if instructions == "" {
		instructions = "The answer must address the request completely and accurately."
	}
	return func(ctx context.Context, state domain.State) (domain.State, error) {
		rounds, _ := state[stateCritiqueRounds].(int)
		delta := domain.State{stateCritiqueRounds: rounds + 1}

		prompt := fmt.Sprintf("Criteria:\n%s\n\nRequest:\n%s\n\nAnswer:\n%s",
			instructions, taskQuery(state), state.String(domain.StateKeyResult))
		resp, err := deps.LLM.Chat(ctx, domain.ChatRequest{
			Model: deps.Model,
			Messages: []domain.Message{
				domain.SystemMessage(critiqueNodePrompt),
				domain.UserMessage(prompt),
			},
		})
		if err != nil {
			deps.logger().Warn("critique call failed, accepting answer", "error", err)
			delta[stateCritiquePassed] = true
			return delta, nil
		}

		outcome, err := llm.DecodeStructured[critiqueOutcome](resp.Message.Content, nil)
		if err != nil {
			deps.logger().Warn("critique output unparseable, accepting answer", "error", err)
			delta[stateCritiquePassed] = true
			return delta, nil
		}

		delta[stateCritiquePassed] = !outcome.NeedsRefinement
		delta[stateCritiqueFeedback] = outcome.Feedback
		return delta, nil
	}
}

// refineSkillNode closes the feedback loop: the critique feedback refines
// the skill that produced the rejected answer, so future retrievals benefit.
func refineSkillNode(deps Deps, agentName string) graph.NodeFunc {
	return func(ctx context.Context, state domain.State) (domain.State, error) {
		markSkillOutcome(ctx, deps, state, false)

		skill, _ := state[domain.StateKeySkill].(*domain.Skill)
		feedback := state.String(stateCritiqueFeedback)
		if skill == nil || skill.Level == domain.LevelMeta {
			return nil, nil
		}

		refined := deps.Skills.RefineExistingSkill(ctx, skill, feedback, scopeFilter(state, agentName))
		if refined == nil {
			return nil, nil
		}
		return domain.State{
			domain.StateKeySkill: refined,
			domain.StateKeyMessages: []domain.Message{
				domain.SystemMessage(skillContext(refined, taskQuery(state))),
			},
		}, nil
	}
}

// critiqueExit routes the conditional edge after critique: stop when the
// answer passed or the round bound is reached, otherwise loop into refine.
func critiqueExit(maxRounds int) graph.CondFunc {
	return func(_ context.Context, state domain.State) string {
		passed, _ := state[stateCritiquePassed].(bool)
		rounds, _ := state[stateCritiqueRounds].(int)
		if passed || rounds >= maxRounds {
			return graph.End
		}
		return "refine"
	}
}
