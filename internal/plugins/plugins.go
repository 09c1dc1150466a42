// Package plugins contains the built-in agent plugins. Every plugin follows
// the shared graph shape: optional skill loading, memory loading, domain
// nodes, and an optional bounded critique/refine loop feeding improvements
// back into the skill store.
package plugins

import (
	"log/slog"

	"seerlord/internal/domain"
	"seerlord/internal/infra/config"
	"seerlord/internal/usecase/graph"
	"seerlord/internal/usecase/skills"
)

// Deps bundles what every built-in plugin needs. Memory may be nil.
type Deps struct {
	LLM        domain.LLMProvider
	Model      string
	Skills     *skills.Manager
	Memory     domain.MemoryProvider
	MemoryTopK int
	Graph      config.GraphConfig
	Logger     *slog.Logger
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d *Deps) graphOptions() graph.Options {
	return graph.Options{
		MaxSteps:    d.Graph.MaxSteps,
		NodeTimeout: d.Graph.NodeTimeout,
	}
}

func (d *Deps) concurrency() int64 {
	if d.Graph.MaxConcurrency <= 0 {
		return 1
	}
	return d.Graph.MaxConcurrency
}

// All constructs every built-in plugin against one dependency set.
func All(deps Deps) ([]domain.AgentPlugin, error) {
	voyager, err := NewVoyager(deps)
	if err != nil {
		return nil, err
	}
	tutor, err := NewTutor(deps)
	if err != nil {
		return nil, err
	}
	evolver, err := NewEvolver(deps)
	if err != nil {
		return nil, err
	}
	mail, err := NewMail(deps)
	if err != nil {
		return nil, err
	}
	return []domain.AgentPlugin{voyager, tutor, evolver, mail}, nil
}
