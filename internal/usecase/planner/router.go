// Package planner decides, per request, which plugins handle it and drives
// the resulting plan to completion. Manual targeting strictly dominates:
// when the request names a registered plugin the router synthesizes a
// single-task plan without consulting the LLM. Automatic mode asks the LLM
// for a structured MasterPlan over the non-system plugin catalog; a failed
// or empty planning pass is a reportable error, never a silent default.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"seerlord/internal/adapter/llm"
	"seerlord/internal/domain"
	"seerlord/internal/infra/config"
	"seerlord/internal/infra/tracer"
)

// PluginDirectory is the slice of the registry the planner needs.
type PluginDirectory interface {
	Get(name string) (domain.AgentPlugin, error)
	List() []domain.AgentPlugin
}

// Router produces a MasterPlan for each request.
type Router struct {
	llm     domain.LLMProvider
	plugins PluginDirectory
	model   string
	cfg     config.PlannerConfig
	counter TokenCounter
	bus     domain.EventBus
	logger  *slog.Logger
}

// NewRouter creates a master planner. bus may be nil.
func NewRouter(provider domain.LLMProvider, plugins PluginDirectory, model string, cfg config.PlannerConfig, bus domain.EventBus, logger *slog.Logger) *Router {
	if bus == nil {
		bus = domain.NopBus{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		llm:     provider,
		plugins: plugins,
		model:   model,
		cfg:     cfg,
		counter: NewTokenCounter(model),
		bus:     bus,
		logger:  logger,
	}
}

// Plan routes the request. Manual mode applies when the request targets a
// registered plugin by name; an unknown target falls through to automatic
// mode instead of erroring.
func (r *Router) Plan(ctx context.Context, req *domain.AgentRequest) (*domain.MasterPlan, error) {
	ctx, span := tracer.StartSpan(ctx, "planner.plan")
	defer span.End()

	request := domain.LastUserContent(req.Messages)

	if !req.Auto() {
		if _, err := r.plugins.Get(req.TargetPlugin); err == nil {
			plan := &domain.MasterPlan{
				OriginalRequest: request,
				Tasks: []domain.Task{{
					ID:          1,
					PluginName:  req.TargetPlugin,
					Instruction: request,
					Description: "manually targeted by the caller",
				}},
			}
			r.logger.Info("manual routing", "plugin", req.TargetPlugin)
			r.publishPlan(ctx, plan, "manual")
			tracer.SetOK(span)
			return plan, nil
		}
		r.logger.Warn("manual target not registered, planning automatically",
			"target", req.TargetPlugin)
	}

	plan, err := r.planWithLLM(ctx, req, "")
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	r.publishPlan(ctx, plan, "auto")
	tracer.SetOK(span)
	return plan, nil
}

// Replan runs a fresh automatic planning pass carrying critique feedback.
func (r *Router) Replan(ctx context.Context, req *domain.AgentRequest, feedback string) (*domain.MasterPlan, error) {
	ctx, span := tracer.StartSpan(ctx, "planner.replan")
	defer span.End()

	plan, err := r.planWithLLM(ctx, req, feedback)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	r.publishPlan(ctx, plan, "replan")
	tracer.SetOK(span)
	return plan, nil
}

func (r *Router) planWithLLM(ctx context.Context, req *domain.AgentRequest, feedback string) (*domain.MasterPlan, error) {
	history := trimHistory(req.Messages, r.cfg.HistoryMessages, r.cfg.PromptTokenCap, r.counter)
	prompt := buildPlanPrompt(r.plugins.List(), history, feedback)

	resp, err := r.llm.Chat(ctx, domain.ChatRequest{
		Model: r.model,
		Messages: []domain.Message{
			domain.SystemMessage(planSystemPrompt),
			domain.UserMessage(prompt),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPlanningFailed, err)
	}

	plan, err := llm.DecodeStructured[domain.MasterPlan](resp.Message.Content, masterPlanSchema)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPlanningFailed, err)
	}
	plan.OriginalRequest = domain.LastUserContent(req.Messages)

	if err := plan.Validate(); err != nil {
		if errors.Is(err, domain.ErrPlanningFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrPlanningFailed, err)
	}

	r.logger.Info("plan created", "tasks", len(plan.Tasks))
	return &plan, nil
}

func (r *Router) publishPlan(ctx context.Context, plan *domain.MasterPlan, mode string) {
	r.bus.Publish(ctx, domain.NewEvent(domain.EventPlanCreated, map[string]string{
		"mode":  mode,
		"tasks": fmt.Sprintf("%d", len(plan.Tasks)),
	}))
}

var masterPlanSchema = []byte(`{
	"type": "object",
	"required": ["tasks"],
	"properties": {
		"tasks": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "plugin_name", "instruction"],
				"properties": {
					"id": {"type": "integer"},
					"plugin_name": {"type": "string", "minLength": 1},
					"instruction": {"type": "string"},
					"description": {"type": "string"},
					"context": {"type": "array", "items": {"type": "integer"}}
				}
			}
		}
	}
}`)
