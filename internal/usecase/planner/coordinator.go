package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"seerlord/internal/adapter/llm"
	"seerlord/internal/domain"
	"seerlord/internal/infra/config"
	"seerlord/internal/infra/tracer"
)

// Coordinator executes master plans: tasks run strictly in planner-emitted
// order, prerequisite failures skip dependents, and a bounded critique loop
// may retry the plan or feed back into a fresh planning pass.
type Coordinator struct {
	router  *Router
	plugins PluginDirectory
	llm     domain.LLMProvider
	model   string
	memory  domain.MemoryProvider
	bus     domain.EventBus
	cfg     config.PlannerConfig
	logger  *slog.Logger
}

// NewCoordinator wires the dispatch loop. memory and bus may be nil.
func NewCoordinator(router *Router, plugins PluginDirectory, provider domain.LLMProvider, model string, memory domain.MemoryProvider, bus domain.EventBus, cfg config.PlannerConfig, logger *slog.Logger) *Coordinator {
	if bus == nil {
		bus = domain.NopBus{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		router:  router,
		plugins: plugins,
		llm:     provider,
		model:   model,
		memory:  memory,
		bus:     bus,
		cfg:     cfg,
		logger:  logger,
	}
}

// Handle routes and executes one request end to end.
func (c *Coordinator) Handle(ctx context.Context, req *domain.AgentRequest) (*domain.AgentResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "coordinator.handle",
		trace.WithAttributes(tracer.StringAttr("tenant.id", req.TenantID)))
	defer span.End()

	if req.TenantID == "" {
		return nil, domain.NewDomainError("Coordinator.Handle", domain.ErrInvalidInput, "tenant_id is required")
	}
	ctx = domain.ContextWithTenantID(ctx, req.TenantID)
	ctx = domain.ContextWithUserID(ctx, req.UserID)
	ctx = domain.ContextWithSessionID(ctx, req.SessionID)

	plan, err := c.router.Plan(ctx, req)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	results, answer := c.executePlan(ctx, req, plan)

	retries, replans := 0, 0
	for c.needsReview(plan) {
		verdict := c.critique(ctx, plan.OriginalRequest, answer, c.planRubric(plan))
		if verdict.Verdict == verdictAccept {
			break
		}
		if verdict.Verdict == verdictRetry && retries < c.cfg.MaxTaskRetries {
			retries++
			c.logger.Info("critique requested retry", "attempt", retries, "feedback", verdict.Feedback)
			results, answer = c.executePlan(ctx, req, plan)
			continue
		}
		if verdict.Verdict == verdictReplan && replans < c.cfg.MaxReplans {
			replans++
			c.logger.Info("critique requested replan", "attempt", replans, "feedback", verdict.Feedback)
			newPlan, err := c.router.Replan(ctx, req, verdict.Feedback)
			if err != nil {
				c.logger.Warn("replan failed, keeping current answer", "error", err)
				break
			}
			plan = newPlan
			results, answer = c.executePlan(ctx, req, plan)
			continue
		}
		break
	}

	c.saveExchange(ctx, req, answer)

	tracer.SetOK(span)
	return &domain.AgentResponse{Content: answer, Results: results}, nil
}

// executePlan runs every task in planner-emitted order and composes the
// final answer from the successful outputs.
func (c *Coordinator) executePlan(ctx context.Context, req *domain.AgentRequest, plan *domain.MasterPlan) (map[int]domain.TaskResult, string) {
	results := make(map[int]domain.TaskResult, len(plan.Tasks))

	for _, task := range plan.Tasks {
		if dep, failed := failedDependency(task, results); failed {
			res := domain.TaskResult{
				TaskID: task.ID,
				Status: domain.TaskSkipped,
				Err:    fmt.Sprintf("%v: task %d", domain.ErrTaskDependency, dep),
			}
			results[task.ID] = res
			c.publishTask(ctx, domain.EventTaskFailed, task, res.Err)
			c.logger.Warn("task skipped", "task", task.ID, "failed_dependency", dep)
			continue
		}

		c.publishTask(ctx, domain.EventTaskStarted, task, "")
		output, err := c.runTask(ctx, req, task, results)
		if err != nil {
			res := domain.TaskResult{TaskID: task.ID, Status: domain.TaskFailed, Err: err.Error()}
			results[task.ID] = res
			c.publishTask(ctx, domain.EventTaskFailed, task, err.Error())
			c.logger.Error("task failed", "task", task.ID, "plugin", task.PluginName, "error", err)
			continue
		}
		results[task.ID] = domain.TaskResult{TaskID: task.ID, Status: domain.TaskSucceeded, Output: output}
		c.publishTask(ctx, domain.EventTaskCompleted, task, "")
	}

	return results, composeAnswer(plan, results)
}

// runTask executes one task, either inline chitchat or a plugin graph.
func (c *Coordinator) runTask(ctx context.Context, req *domain.AgentRequest, task domain.Task, results map[int]domain.TaskResult) (string, error) {
	if task.PluginName == domain.ChitchatPlugin {
		return c.chitchat(ctx, req, task)
	}

	plugin, err := c.plugins.Get(task.PluginName)
	if err != nil {
		return "", err
	}

	messages := c.taskMessages(req, task, results)
	initial := domain.State{
		domain.StateKeyMessages:    messages,
		domain.StateKeyTenantID:    req.TenantID,
		domain.StateKeyUserID:      req.UserID,
		domain.StateKeySessionID:   req.SessionID,
		domain.StateKeyInstruction: task.Instruction,
	}

	final, err := plugin.Graph().Invoke(ctx, initial)
	if err != nil {
		return "", err
	}

	output := final.String(domain.StateKeyResult)
	if output == "" {
		output = domain.LastAssistantContent(final.Messages())
	}
	if output == "" {
		return "", fmt.Errorf("plugin %s produced no output", task.PluginName)
	}
	return output, nil
}

// chitchat answers general conversation inline without a plugin graph.
func (c *Coordinator) chitchat(ctx context.Context, req *domain.AgentRequest, task domain.Task) (string, error) {
	messages := make([]domain.Message, 0, len(req.Messages)+2)
	messages = append(messages, domain.SystemMessage("You are a helpful, concise assistant."))
	if directive := languageDirective(req.Language); directive != "" {
		messages = append(messages, domain.SystemMessage(directive))
	}
	messages = append(messages, req.Messages...)
	if task.Instruction != "" && domain.LastUserContent(req.Messages) != task.Instruction {
		messages = append(messages, domain.UserMessage(task.Instruction))
	}

	resp, err := c.llm.Chat(ctx, domain.ChatRequest{Model: c.model, Messages: messages})
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

// taskMessages assembles the message window handed to a plugin graph:
// language directive, prerequisite results, conversation, and instruction.
func (c *Coordinator) taskMessages(req *domain.AgentRequest, task domain.Task, results map[int]domain.TaskResult) []domain.Message {
	messages := make([]domain.Message, 0, len(req.Messages)+3)
	if directive := languageDirective(req.Language); directive != "" {
		messages = append(messages, domain.SystemMessage(directive))
	}
	if prior := priorResults(task, results); prior != "" {
		messages = append(messages, domain.SystemMessage(prior))
	}
	messages = append(messages, req.Messages...)
	if task.Instruction != "" && domain.LastUserContent(req.Messages) != task.Instruction {
		messages = append(messages, domain.UserMessage(task.Instruction))
	}
	return messages
}

const (
	verdictAccept = "accept"
	verdictRetry  = "retry"
	verdictReplan = "replan"
)

type critiqueVerdict struct {
	Verdict  string `json:"verdict"`
	Feedback string `json:"feedback"`
}

// needsReview reports whether the plan warrants a critique pass. Pure
// chitchat plans are accepted as-is.
func (c *Coordinator) needsReview(plan *domain.MasterPlan) bool {
	for _, t := range plan.Tasks {
		if t.PluginName != domain.ChitchatPlugin {
			return true
		}
	}
	return false
}

// planRubric returns the plugin-specific review criteria for the plan, or ""
// when the plan spans several plugins or the plugin declares none.
func (c *Coordinator) planRubric(plan *domain.MasterPlan) string {
	var name string
	for _, t := range plan.Tasks {
		if t.PluginName == domain.ChitchatPlugin {
			continue
		}
		if name != "" && name != t.PluginName {
			return ""
		}
		name = t.PluginName
	}
	if name == "" {
		return ""
	}
	plugin, err := c.plugins.Get(name)
	if err != nil {
		return ""
	}
	return plugin.CritiqueInstructions()
}

// critique reviews the composed answer. Any failure accepts the answer;
// review is advisory and must never lose a result the user could have had.
func (c *Coordinator) critique(ctx context.Context, request, answer, rubric string) critiqueVerdict {
	if strings.TrimSpace(answer) == "" {
		return critiqueVerdict{Verdict: verdictReplan, Feedback: "the plan produced no usable output"}
	}

	resp, err := c.llm.Chat(ctx, domain.ChatRequest{
		Model: c.model,
		Messages: []domain.Message{
			domain.SystemMessage(critiqueSystemPrompt),
			domain.UserMessage(buildCritiquePrompt(request, answer, rubric)),
		},
	})
	if err != nil {
		c.logger.Warn("critique call failed, accepting answer", "error", err)
		return critiqueVerdict{Verdict: verdictAccept}
	}

	verdict, err := llm.DecodeStructured[critiqueVerdict](resp.Message.Content, nil)
	if err != nil {
		c.logger.Warn("critique output unparseable, accepting answer", "error", err)
		return critiqueVerdict{Verdict: verdictAccept}
	}
	switch verdict.Verdict {
	case verdictAccept, verdictRetry, verdictReplan:
		return verdict
	default:
		return critiqueVerdict{Verdict: verdictAccept}
	}
}

// composeAnswer joins successful task outputs in plan order. With a single
// producing task the output passes through untouched.
func composeAnswer(plan *domain.MasterPlan, results map[int]domain.TaskResult) string {
	var outputs []string
	for _, task := range plan.Tasks {
		if r, ok := results[task.ID]; ok && r.Status == domain.TaskSucceeded && r.Output != "" {
			outputs = append(outputs, r.Output)
		}
	}
	return strings.Join(outputs, "\n\n")
}

// saveExchange persists the final user/assistant exchange to tenant memory.
func (c *Coordinator) saveExchange(ctx context.Context, req *domain.AgentRequest, answer string) {
	if c.memory == nil || answer == "" {
		return
	}
	entry := domain.MemoryEntry{
		Content:   fmt.Sprintf("User: %s\nAssistant: %s", domain.LastUserContent(req.Messages), answer),
		TenantID:  req.TenantID,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		AgentName: "master",
		CreatedAt: time.Now().UTC(),
	}
	if err := c.memory.Store(ctx, entry); err != nil {
		c.logger.Warn("memory save failed", "error", err)
		return
	}
	c.bus.Publish(ctx, domain.NewEvent(domain.EventMemoryStored, map[string]string{
		"tenant_id": req.TenantID,
	}))
}

func failedDependency(task domain.Task, results map[int]domain.TaskResult) (int, bool) {
	for _, dep := range task.Context {
		if r, ok := results[dep]; !ok || r.Status != domain.TaskSucceeded {
			return dep, true
		}
	}
	return 0, false
}

func (c *Coordinator) publishTask(ctx context.Context, t domain.EventType, task domain.Task, errMsg string) {
	payload := map[string]string{
		"task_id": fmt.Sprintf("%d", task.ID),
		"plugin":  task.PluginName,
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	c.bus.Publish(ctx, domain.NewEvent(t, payload))
}
