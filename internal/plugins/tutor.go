package plugins

import (
	"seerlord/internal/domain"
	"seerlord/internal/usecase/graph"
)

const (
	tutorName        = "tutor"
	tutorDescription = "Teaching agent that explains concepts step by step, adapts to the learner's level, and checks its own explanations for clarity. Use it when the user wants to learn or understand something."
	tutorPersona     = "You are Tutor, a patient teacher. Explain from first principles, use one concrete example per concept, and end with a short summary."

	tutorRubric = `The explanation must:
- build up from prerequisites the learner plausibly has,
- contain at least one concrete worked example,
- define every term of art when first used,
- end with a summary of at most three sentences.`

	// tutorMaxCritiqueRounds bounds the critique/refine loop.
	tutorMaxCritiqueRounds = 2
)

// Tutor is the skills-enabled teaching plugin with a bounded critique and
// refine loop feeding improvements back into the skill store.
type Tutor struct {
	deps  Deps
	graph *graph.Graph
}

// NewTutor compiles the tutor graph.
func NewTutor(deps Deps) (*Tutor, error) {
	t := &Tutor{deps: deps}

	g, err := assembleGraph(t, deps, "explain", generateNode(deps, tutorPersona), tutorMaxCritiqueRounds)
	if err != nil {
		return nil, err
	}
	t.graph = g
	return t, nil
}

func (t *Tutor) Name() string                  { return tutorName }
func (t *Tutor) Description() string           { return tutorDescription }
func (t *Tutor) Graph() domain.ExecutableGraph { return t.graph }
func (t *Tutor) CritiqueInstructions() string  { return tutorRubric }

func (t *Tutor) Capabilities() domain.PluginCapabilities {
	return domain.PluginCapabilities{EnableSkills: true, SkillMode: domain.SkillModeContext}
}

var _ domain.AgentPlugin = (*Tutor)(nil)
