// Package skills houses the dynamic skill manager, the single orchestration
// point combining skill store retrieval with the evolution engine. When
// retrieval bottoms out at the meta fallback the manager drafts a new skill,
// persists it into the shared global scope, and returns it; when evolution
// fails it degrades back to the meta skill instead of erroring.
package skills

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"seerlord/internal/domain"
	"seerlord/internal/infra/tracer"
	"seerlord/internal/usecase/evolution"
)

// ReasonEvolved is the retrieval reason reported for a freshly drafted skill.
const ReasonEvolved = "evolved new skill"

// EvolutionEngine is the slice of the evolution engine the manager needs.
type EvolutionEngine interface {
	Evolve(ctx context.Context, req evolution.Request) evolution.Result
}

// Manager combines retrieval and evolution behind one call.
type Manager struct {
	store  domain.SkillStore
	engine EvolutionEngine
	bus    domain.EventBus
	logger *slog.Logger
}

// NewManager creates a dynamic skill manager. bus may be nil.
func NewManager(store domain.SkillStore, engine EvolutionEngine, bus domain.EventBus, logger *slog.Logger) *Manager {
	if bus == nil {
		bus = domain.NopBus{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, engine: engine, bus: bus, logger: logger}
}

// GetOrEvolveSkill retrieves the best skill for the query, evolving a new one
// when retrieval bottoms out at the meta fallback. Evolved skills persist
// under the shared global tenant so every tenant benefits. Only
// infrastructure failures surface as errors; a failed evolution degrades to
// the meta skill with its original retrieval reason.
//
// Concurrent calls for the same query may race to evolve near-identical
// skills. The race is benign: upserts are keyed by unique ids, so nothing
// corrupts, and duplicates only dilute retrieval ranking over time.
func (m *Manager) GetOrEvolveSkill(ctx context.Context, query string, f domain.SkillFilter, agentDescription string, history []domain.Message) (domain.Skill, string, error) {
	ctx, span := tracer.StartSpan(ctx, "skills.get_or_evolve",
		trace.WithAttributes(tracer.StringAttr("tenant.id", f.TenantID)))
	defer span.End()

	skill, reason, err := m.store.RetrieveBestSkill(ctx, query, f)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.Skill{}, "", err
	}

	m.bus.Publish(ctx, domain.NewEvent(domain.EventSkillRetrieved, map[string]string{
		"id":          skill.ID,
		"name":        skill.Name,
		"level":       string(skill.Level),
		"description": skill.Description,
		"reason":      reason,
	}))

	if skill.Level != domain.LevelMeta {
		tracer.SetOK(span)
		return skill, reason, nil
	}

	// Retrieval bottomed out: no specific-enough skill exists for this
	// query, so draft one. Near-miss skills below the retrieval threshold
	// still inform the draft; the lookup is best effort.
	m.bus.Publish(ctx, domain.NewEvent(domain.EventSkillEvolutionStart, map[string]string{
		"query": query,
	}))

	related, rerr := m.store.RetrieveRelatedSkills(ctx, query, f, 0)
	if rerr != nil {
		m.logger.Warn("related skill lookup failed, drafting with meta context only",
			"query", query,
			"error", rerr,
		)
		related = nil
	}

	result := m.engine.Evolve(ctx, evolution.Request{
		Task:             query,
		AgentDescription: agentDescription,
		History:          history,
		RelatedSkills:    append(related, skill),
	})
	if result.ProposedSkill == nil {
		m.logger.Info("evolution produced no skill, keeping meta fallback",
			"query", query,
			"report", result.Report,
		)
		tracer.SetOK(span)
		return skill, reason, nil
	}

	evolved := result.ProposedSkill
	if err := m.store.AddSkill(ctx, evolved, domain.GlobalSkillTenant, f.UserID); err != nil {
		tracer.RecordError(span, err)
		return domain.Skill{}, "", err
	}

	m.bus.Publish(ctx, domain.NewEvent(domain.EventSkillEvolved, map[string]string{
		"id":          evolved.ID,
		"name":        evolved.Name,
		"level":       string(evolved.Level),
		"description": evolved.Description,
	}))
	m.logger.Info("evolved new skill",
		"name", evolved.Name,
		"level", evolved.Level,
		"tenant", domain.GlobalSkillTenant,
	)

	tracer.SetOK(span)
	return *evolved, ReasonEvolved, nil
}

// RefineExistingSkill runs the refine branch against execution feedback and
// persists the result into the shared global scope. It returns nil on any
// failure; refinement is best effort and must never break the calling graph.
func (m *Manager) RefineExistingSkill(ctx context.Context, skill *domain.Skill, feedback string, f domain.SkillFilter) *domain.Skill {
	ctx, span := tracer.StartSpan(ctx, "skills.refine",
		trace.WithAttributes(tracer.StringAttr("skill.name", skill.Name)))
	defer span.End()

	result := m.engine.Evolve(ctx, evolution.Request{
		SkillToRefine:     skill,
		ExecutionFeedback: feedback,
	})
	if result.ProposedSkill == nil {
		m.logger.Warn("refinement produced no skill",
			"skill", skill.Name,
			"report", result.Report,
		)
		return nil
	}

	refined := result.ProposedSkill
	if err := m.store.AddSkill(ctx, refined, domain.GlobalSkillTenant, f.UserID); err != nil {
		m.logger.Warn("refined skill persist failed", "skill", refined.Name, "error", err)
		tracer.RecordError(span, err)
		return nil
	}

	m.bus.Publish(ctx, domain.NewEvent(domain.EventSkillRefined, map[string]string{
		"name":        refined.Name,
		"description": refined.Description,
	}))
	tracer.SetOK(span)
	return refined
}

// RecordUsage marks a skill execution outcome against its stats.
func (m *Manager) RecordUsage(ctx context.Context, skillID string, success bool) error {
	return m.store.MarkSkillUsed(ctx, skillID, success)
}
