package domain

import "strings"

// SkillMode selects how a plugin consumes retrieved skills.
type SkillMode string

const (
	// SkillModeContext injects skill prompts as additional instruction
	// context visible to downstream LLM calls.
	SkillModeContext SkillMode = "context"
	// SkillModeTool exposes skills as callable tools. Reserved; providers
	// currently return no tools in this mode.
	SkillModeTool SkillMode = "tool"
)

// SystemPluginPrefix marks system plugins. They are excluded from
// user-facing listings and planner prompts but remain invokable by name.
const SystemPluginPrefix = "_"

// PluginCapabilities declares optional behaviors of a plugin. Graph
// assembly reads it: EnableSkills decides whether skill loading leads the
// graph, so the declared contract and the wired graph cannot drift apart.
type PluginCapabilities struct {
	// EnableSkills wires the skill-loading node ahead of the plugin's
	// domain logic.
	EnableSkills bool
	// SkillMode defaults to SkillModeContext when empty.
	SkillMode SkillMode
}

// Mode returns the effective skill mode.
func (c PluginCapabilities) Mode() SkillMode {
	if c.SkillMode == "" {
		return SkillModeContext
	}
	return c.SkillMode
}

// AgentPlugin is the capability contract every domain or system plugin
// implements. Plugins are registered explicitly at startup; there is no
// runtime discovery.
type AgentPlugin interface {
	// Name is the unique registry key.
	Name() string
	// Description is used verbatim in planner prompts so the LLM can choose.
	Description() string
	// Graph returns the compiled execution graph. The plugin retains
	// ownership of graph construction; the registry only holds a reference.
	Graph() ExecutableGraph
	// Capabilities declares skill wiring for this plugin.
	Capabilities() PluginCapabilities
	// CritiqueInstructions returns plugin-specific critic criteria, or ""
	// for the generic rubric.
	CritiqueInstructions() string
}

// IsSystemPlugin reports whether the name denotes a system plugin.
func IsSystemPlugin(name string) bool {
	return strings.HasPrefix(name, SystemPluginPrefix)
}
