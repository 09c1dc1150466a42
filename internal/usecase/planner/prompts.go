package planner

import (
	"fmt"
	"strings"

	"seerlord/internal/domain"
)

const planSystemPrompt = `You are the master planner of a multi-agent system.
Decompose the user's request into an ordered list of tasks, each handled by
exactly one of the available plugins. Respond with a single JSON object:
{"tasks": [{"id": 1, "plugin_name": "...", "instruction": "...",
"description": "...", "context": [ids of earlier tasks this one needs]}]}.
Rules:
- Use only the listed plugin names, or "chitchat" for plain conversation.
- Task ids start at 1 and increase; context may only reference earlier ids.
- Prefer a single task unless the request genuinely decomposes into
  sub-goals needing different specialists.
Respond with the JSON object only.`

const critiqueSystemPrompt = `You are a strict quality reviewer of an AI
assistant's answer. Judge whether the answer resolves the user's request.
Respond with a single JSON object:
{"verdict": "accept" | "retry" | "replan", "feedback": "..."}.
Use "retry" when the answer is close but flawed, "replan" when the wrong
approach or plugins were chosen, "accept" otherwise. Respond with the JSON
object only.`

func buildPlanPrompt(plugins []domain.AgentPlugin, history []domain.Message, feedback string) string {
	var b strings.Builder

	b.WriteString("Available plugins:\n")
	for _, p := range plugins {
		fmt.Fprintf(&b, "- %s: %s\n", p.Name(), p.Description())
	}
	fmt.Fprintf(&b, "- %s: plain conversation, greetings, and questions no specialist covers\n\n", domain.ChitchatPlugin)

	if len(history) > 0 {
		b.WriteString("Conversation:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		b.WriteString("\n")
	}

	if feedback != "" {
		fmt.Fprintf(&b, "A previous plan was rejected with this feedback, address it:\n%s\n\n", feedback)
	}

	b.WriteString("Produce the task plan JSON now.")
	return b.String()
}

func buildCritiquePrompt(request, answer, rubric string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User request:\n%s\n\n", request)
	fmt.Fprintf(&b, "Assistant answer:\n%s\n\n", answer)
	if rubric != "" {
		fmt.Fprintf(&b, "Additional criteria for this answer:\n%s\n\n", rubric)
	}
	b.WriteString("Review the answer now.")
	return b.String()
}

// languageDirective builds the system instruction forcing the response
// language, or "" when no language was requested.
func languageDirective(language string) string {
	if strings.TrimSpace(language) == "" {
		return ""
	}
	return fmt.Sprintf("Respond in %s regardless of the language used so far.", language)
}

// priorResults renders completed prerequisite outputs for a task prompt.
func priorResults(task domain.Task, results map[int]domain.TaskResult) string {
	if len(task.Context) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Results from earlier steps:\n")
	for _, dep := range task.Context {
		if r, ok := results[dep]; ok && r.Status == domain.TaskSucceeded {
			fmt.Fprintf(&b, "[task %d] %s\n", dep, r.Output)
		}
	}
	return b.String()
}
