// Package evolution synthesizes new skills and refines existing ones through
// structured LLM generation. The engine runs exactly one branch per request:
// refine when a skill to refine is supplied, draft otherwise. It never
// returns an error to its caller; a failed generation yields a result with
// no proposed skill and a report describing what went wrong.
package evolution

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"seerlord/internal/adapter/llm"
	"seerlord/internal/domain"
	"seerlord/internal/infra/tracer"
)

// Request carries everything one evolution invocation needs. SkillToRefine
// selects the branch: nil drafts a new skill, non-nil refines the given one.
type Request struct {
	Task              string
	AgentDescription  string
	History           []domain.Message
	RelatedSkills     []domain.Skill
	SkillToRefine     *domain.Skill
	ExecutionFeedback string
}

// Result is the outcome of one invocation. ProposedSkill is nil when
// generation failed; Report always explains what happened.
type Result struct {
	ProposedSkill *domain.Skill
	Report        string
}

// Engine drives skill synthesis against an LLM provider.
type Engine struct {
	llm    domain.LLMProvider
	model  string
	logger *slog.Logger
}

// New creates an evolution engine.
func New(provider domain.LLMProvider, model string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{llm: provider, model: model, logger: logger}
}

// Evolve runs the branch selected by the request. It never returns an error.
func (e *Engine) Evolve(ctx context.Context, req Request) Result {
	ctx, span := tracer.StartSpan(ctx, "evolution.evolve")
	defer span.End()

	if req.SkillToRefine != nil {
		span.SetAttributes(tracer.StringAttr("evolution.branch", "refine"))
		return e.refineSkill(ctx, req)
	}
	span.SetAttributes(tracer.StringAttr("evolution.branch", "draft"))
	return e.draftBranch(ctx, req)
}

// draftBranch runs analyze_gap then draft_skill.
func (e *Engine) draftBranch(ctx context.Context, req Request) Result {
	diagnosis, err := e.analyzeGap(ctx, req)
	if err != nil {
		e.logger.Warn("gap analysis failed", "error", err)
		return Result{Report: fmt.Sprintf("gap analysis failed: %v", err)}
	}

	skill, err := e.draftSkill(ctx, req, diagnosis)
	if err != nil {
		e.logger.Warn("skill draft failed", "error", err)
		return Result{Report: fmt.Sprintf("skill draft failed: %v", err)}
	}

	e.logger.Info("drafted new skill",
		"name", skill.Name,
		"level", skill.Level,
	)
	return Result{
		ProposedSkill: skill,
		Report:        fmt.Sprintf("drafted %s-level skill %q: %s", skill.Level, skill.Name, diagnosis),
	}
}

// analyzeGap produces a free-text diagnosis of the missing capability,
// scoped to the consuming agent's persona.
func (e *Engine) analyzeGap(ctx context.Context, req Request) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "evolution.analyze_gap")
	defer span.End()

	prompt := buildGapPrompt(req)
	resp, err := e.llm.Chat(ctx, domain.ChatRequest{
		Model: e.model,
		Messages: []domain.Message{
			domain.SystemMessage(gapSystemPrompt),
			domain.UserMessage(prompt),
		},
	})
	if err != nil {
		tracer.RecordError(span, err)
		return "", err
	}
	diagnosis := strings.TrimSpace(resp.Message.Content)
	if diagnosis == "" {
		return "", fmt.Errorf("empty diagnosis")
	}
	tracer.SetOK(span)
	return diagnosis, nil
}

// draftSkill turns the diagnosis into a structured skill definition. Drafts
// are only ever specific or domain level; the meta tier is reserved for the
// built-in defaults.
func (e *Engine) draftSkill(ctx context.Context, req Request, diagnosis string) (*domain.Skill, error) {
	ctx, span := tracer.StartSpan(ctx, "evolution.draft_skill")
	defer span.End()

	prompt := buildDraftPrompt(req, diagnosis)
	resp, err := e.llm.Chat(ctx, domain.ChatRequest{
		Model: e.model,
		Messages: []domain.Message{
			domain.SystemMessage(draftSystemPrompt),
			domain.UserMessage(prompt),
		},
	})
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	draft, err := llm.DecodeStructured[skillDraft](resp.Message.Content, skillDraftSchema)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	skill := draft.toSkill()
	if err := skill.Validate(); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)
	return skill, nil
}

// refineSkill produces an improved definition of an existing skill. The name
// and level carry over from the original; the new record points back at it
// through ParentID.
func (e *Engine) refineSkill(ctx context.Context, req Request) Result {
	ctx, span := tracer.StartSpan(ctx, "evolution.refine_skill",
		trace.WithAttributes(tracer.StringAttr("skill.name", req.SkillToRefine.Name)))
	defer span.End()

	original := req.SkillToRefine
	prompt := buildRefinePrompt(original, req.ExecutionFeedback)

	resp, err := e.llm.Chat(ctx, domain.ChatRequest{
		Model: e.model,
		Messages: []domain.Message{
			domain.SystemMessage(refineSystemPrompt),
			domain.UserMessage(prompt),
		},
	})
	if err != nil {
		e.logger.Warn("skill refinement failed", "skill", original.Name, "error", err)
		tracer.RecordError(span, err)
		return Result{Report: fmt.Sprintf("refinement failed: %v", err)}
	}

	draft, err := llm.DecodeStructured[skillDraft](resp.Message.Content, skillDraftSchema)
	if err != nil {
		e.logger.Warn("refinement output unparseable", "skill", original.Name, "error", err)
		tracer.RecordError(span, err)
		return Result{Report: fmt.Sprintf("refinement output unparseable: %v", err)}
	}

	refined := draft.toSkill()
	refined.Name = original.Name
	refined.Level = original.Level
	refined.ParentID = original.ID
	if refined.Description == "" {
		refined.Description = original.Description
	}
	if err := refined.Validate(); err != nil {
		tracer.RecordError(span, err)
		return Result{Report: fmt.Sprintf("refined skill invalid: %v", err)}
	}

	e.logger.Info("refined skill", "name", refined.Name, "parent_id", refined.ParentID)
	tracer.SetOK(span)
	return Result{
		ProposedSkill: refined,
		Report:        fmt.Sprintf("refined skill %q from execution feedback", refined.Name),
	}
}

// skillDraft is the wire shape the LLM must produce for both branches.
type skillDraft struct {
	Name           string   `json:"name"`
	Level          string   `json:"level"`
	Description    string   `json:"description"`
	PromptTemplate string   `json:"prompt_template"`
	KnowledgeBase  []string `json:"knowledge_base,omitempty"`
}

func (d skillDraft) toSkill() *domain.Skill {
	return &domain.Skill{
		ID:          domain.NewSkillID(),
		Name:        d.Name,
		Description: d.Description,
		Level:       domain.SkillLevel(d.Level),
		Content: domain.SkillContent{
			PromptTemplate: d.PromptTemplate,
			KnowledgeBase:  d.KnowledgeBase,
		},
		Stats: domain.UsageStats{CreatedAt: time.Now().UTC()},
	}
}

var skillDraftSchema = []byte(`{
	"type": "object",
	"required": ["name", "level", "description", "prompt_template"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"level": {"type": "string", "enum": ["specific", "domain"]},
		"description": {"type": "string"},
		"prompt_template": {"type": "string", "minLength": 1},
		"knowledge_base": {"type": "array", "items": {"type": "string"}}
	}
}`)
