package plugins

import (
	"seerlord/internal/domain"
	"seerlord/internal/usecase/graph"
)

const (
	mailName        = "_mail_service_"
	mailDescription = "System agent that drafts emails from an instruction. Invokable by name from other graphs; delivery is handled outside the kernel."
	mailPersona     = "You draft emails. Produce a subject line and body matching the requested tone. Output the draft only, no commentary."
)

// Mail is the hidden mail-drafting collaborator other plugins invoke by
// name. It composes; it does not send.
type Mail struct {
	deps  Deps
	graph *graph.Graph
}

// NewMail compiles the mail graph.
func NewMail(deps Deps) (*Mail, error) {
	m := &Mail{deps: deps}

	g, err := assembleGraph(m, deps, "compose", generateNode(deps, mailPersona), 0)
	if err != nil {
		return nil, err
	}
	m.graph = g
	return m, nil
}

func (m *Mail) Name() string                  { return mailName }
func (m *Mail) Description() string           { return mailDescription }
func (m *Mail) Graph() domain.ExecutableGraph { return m.graph }
func (m *Mail) CritiqueInstructions() string  { return "" }

func (m *Mail) Capabilities() domain.PluginCapabilities {
	return domain.PluginCapabilities{}
}

var _ domain.AgentPlugin = (*Mail)(nil)
