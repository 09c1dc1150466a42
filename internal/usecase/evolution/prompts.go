package evolution

import (
	"encoding/json"
	"fmt"
	"strings"

	"seerlord/internal/domain"
)

const gapSystemPrompt = `You are a capability analyst for an AI agent system.
Given an agent's persona, a task it could not handle well, and the skills it
already has, diagnose precisely what capability is missing. Write the
diagnosis for this specific agent persona, not a generic assistant. Respond
with the diagnosis only, no preamble.`

const draftSystemPrompt = `You are a skill author for an AI agent system.
Given a capability diagnosis, write a reusable skill definition as a single
JSON object with fields: name (short PascalCase identifier), level ("specific"
for a narrow directly-executable skill, "domain" for a broader category),
description, prompt_template (instructions the agent will follow, tailored to
its persona; may reference {task}), and knowledge_base (array of short facts
or guidelines). Respond with the JSON object only.`

const refineSystemPrompt = `You are a skill editor for an AI agent system.
Given an existing skill definition and feedback about how it failed during
execution, produce an improved version of the same skill as a single JSON
object with fields: name, level, description, prompt_template, knowledge_base.
Keep the name unchanged. Focus improvements on the prompt_template and
knowledge_base. Respond with the JSON object only.`

// historyWindow bounds how much conversation context flows into prompts.
const historyWindow = 6

func buildGapPrompt(req Request) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Agent persona: %s\n\n", orDefault(req.AgentDescription, "a general-purpose assistant"))
	fmt.Fprintf(&b, "Task: %s\n\n", req.Task)

	if len(req.RelatedSkills) > 0 {
		b.WriteString("Existing skills (insufficient for this task):\n")
		for _, s := range req.RelatedSkills {
			fmt.Fprintf(&b, "- %s (%s): %s\n", s.Name, s.Level, s.Description)
		}
		b.WriteString("\n")
	}

	if history := renderHistory(req.History); history != "" {
		b.WriteString("Recent conversation:\n")
		b.WriteString(history)
	}

	b.WriteString("\nWhat capability is this agent missing?")
	return b.String()
}

func buildDraftPrompt(req Request, diagnosis string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Agent persona: %s\n\n", orDefault(req.AgentDescription, "a general-purpose assistant"))
	fmt.Fprintf(&b, "Task that exposed the gap: %s\n\n", req.Task)
	fmt.Fprintf(&b, "Capability diagnosis: %s\n\n", diagnosis)
	b.WriteString("Write the skill definition JSON now.")
	return b.String()
}

func buildRefinePrompt(skill *domain.Skill, feedback string) string {
	var b strings.Builder

	b.WriteString("Current skill definition:\n")
	if data, err := json.MarshalIndent(skillDraft{
		Name:           skill.Name,
		Level:          string(skill.Level),
		Description:    skill.Description,
		PromptTemplate: skill.Content.PromptTemplate,
		KnowledgeBase:  skill.Content.KnowledgeBase,
	}, "", "  "); err == nil {
		b.Write(data)
	}
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Execution feedback: %s\n\n", orDefault(feedback, "the skill produced a low-quality result"))
	b.WriteString("Write the improved skill definition JSON now.")
	return b.String()
}

func renderHistory(messages []domain.Message) string {
	if len(messages) == 0 {
		return ""
	}
	if len(messages) > historyWindow {
		messages = messages[len(messages)-historyWindow:]
	}
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
