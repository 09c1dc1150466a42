package plugins

import (
	"seerlord/internal/domain"
	"seerlord/internal/usecase/graph"
)

// assembleGraph compiles the shared plugin graph shape from the plugin's own
// declared contract. Capabilities().EnableSkills decides whether skill and
// memory loading lead into the domain node, and a non-empty
// CritiqueInstructions() wires the bounded critique/refine loop around it.
// Building the graph from the contract keeps the two from drifting apart.
func assembleGraph(p domain.AgentPlugin, deps Deps, nodeName string, node graph.NodeFunc, critiqueRounds int) (*graph.Graph, error) {
	caps := p.Capabilities()
	b := graph.NewBuilder(p.Name(), deps.graphOptions()).
		AddNode(nodeName, node)
	entry := nodeName

	if caps.EnableSkills {
		b.AddNode("load_skills", loadSkillsNode(deps, p.Name(), p.Description(), caps.Mode())).
			AddNode("load_memory", loadMemoryNode(deps)).
			AddEdge("load_skills", "load_memory").
			AddEdge("load_memory", nodeName)
		entry = "load_skills"
	}

	if rubric := p.CritiqueInstructions(); rubric != "" && critiqueRounds > 0 {
		b.AddNode("critique", critiqueNode(deps, rubric)).
			AddNode("refine", refineSkillNode(deps, p.Name())).
			AddEdge(nodeName, "critique").
			AddConditionalEdge("critique", critiqueExit(critiqueRounds)).
			AddEdge("refine", nodeName)
	} else {
		b.AddEdge(nodeName, graph.End)
	}

	return b.SetEntry(entry).Compile()
}
