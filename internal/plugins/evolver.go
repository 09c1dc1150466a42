package plugins

import (
	"context"
	"fmt"

	"seerlord/internal/domain"
	"seerlord/internal/usecase/graph"
)

const (
	evolverName        = "_skill_evolver_"
	evolverDescription = "System agent that forces skill evolution for a given task description. Invokable by name only; never offered to the planner."
)

// Evolver is a system plugin exposing the skill manager directly: invoking
// it with a task description retrieves or evolves the matching skill and
// reports what happened. Operators use it to seed skills ahead of demand.
type Evolver struct {
	deps  Deps
	graph *graph.Graph
}

// NewEvolver compiles the evolver graph. The skill-loading node does the
// actual work; the report node only renders its outcome.
func NewEvolver(deps Deps) (*Evolver, error) {
	e := &Evolver{deps: deps}

	g, err := assembleGraph(e, deps, "report", reportNode(), 0)
	if err != nil {
		return nil, err
	}
	e.graph = g
	return e, nil
}

func (e *Evolver) Name() string                  { return evolverName }
func (e *Evolver) Description() string           { return evolverDescription }
func (e *Evolver) Graph() domain.ExecutableGraph { return e.graph }
func (e *Evolver) CritiqueInstructions() string  { return "" }

func (e *Evolver) Capabilities() domain.PluginCapabilities {
	return domain.PluginCapabilities{EnableSkills: true, SkillMode: domain.SkillModeContext}
}

func reportNode() graph.NodeFunc {
	return func(_ context.Context, state domain.State) (domain.State, error) {
		skill, _ := state[domain.StateKeySkill].(*domain.Skill)
		if skill == nil {
			return nil, fmt.Errorf("no skill loaded for %q", taskQuery(state))
		}

		report := fmt.Sprintf("skill %q (%s): %s [%s]",
			skill.Name, skill.Level, skill.Description, state.String(domain.StateKeySkillReason))
		return domain.State{
			domain.StateKeyResult:   report,
			domain.StateKeyMessages: []domain.Message{domain.AssistantMessage(report)},
		}, nil
	}
}

var _ domain.AgentPlugin = (*Evolver)(nil)
