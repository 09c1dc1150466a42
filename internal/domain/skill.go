package domain

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// SkillLevel is the generality tier of a skill.
type SkillLevel string

const (
	// LevelSpecific (L1) is a narrow, directly executable skill.
	LevelSpecific SkillLevel = "specific"
	// LevelDomain (L2) covers a broader category, used as fallback.
	LevelDomain SkillLevel = "domain"
	// LevelMeta (L3) is the always-available last resort. Meta skills are
	// never synthesized at runtime; only the built-in defaults exist.
	LevelMeta SkillLevel = "meta"
)

// GlobalSkillTenant is the distinguished tenant scope for skills shared
// across all tenants. Skills are collectively improved; memories are not.
const GlobalSkillTenant = "global"

// SkillContent is the executable payload of a skill.
type SkillContent struct {
	PromptTemplate   string         `json:"prompt_template"`
	KnowledgeBase    []string       `json:"knowledge_base,omitempty"`
	CodeLogic        string         `json:"code_logic,omitempty"`
	ParametersSchema map[string]any `json:"parameters_schema,omitempty"`
}

// UsageStats tracks how a skill has performed across executions.
type UsageStats struct {
	SuccessCount int        `json:"success_count"`
	FailureCount int        `json:"failure_count"`
	LastUsed     *time.Time `json:"last_used,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Skill is the reusable unit of agent behavior: a prompt template plus
// supporting knowledge, tagged with a generality level.
type Skill struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Level       SkillLevel   `json:"level"`
	ParentID    string       `json:"parent_id,omitempty"`
	Content     SkillContent `json:"content"`
	Stats       UsageStats   `json:"stats"`
	Tags        []string     `json:"tags,omitempty"`
}

// NewSkillID returns a fresh ULID for a skill.
func NewSkillID() string { return ulid.Make().String() }

// EmbeddingText is the text embedded for semantic retrieval of the skill.
func (s *Skill) EmbeddingText() string { return s.Name + ": " + s.Description }

// Validate reports whether the skill carries the minimum fields the store
// requires.
func (s *Skill) Validate() error {
	if s.Name == "" {
		return NewDomainError("skill.validate", ErrInvalidInput, "name is required")
	}
	switch s.Level {
	case LevelSpecific, LevelDomain, LevelMeta:
	default:
		return NewDomainError("skill.validate", ErrInvalidInput, "unknown level "+string(s.Level))
	}
	if s.Content.PromptTemplate == "" {
		return NewDomainError("skill.validate", ErrInvalidInput, "prompt_template is required")
	}
	return nil
}

// DefaultMetaSkill returns the built-in L3 fallback. It is returned by value
// so callers can mutate stats without racing each other.
func DefaultMetaSkill() Skill {
	return Skill{
		ID:          "meta-general-problem-solver",
		Name:        "GeneralProblemSolver",
		Description: "Decomposes the problem and solves it step-by-step.",
		Level:       LevelMeta,
		Content: SkillContent{
			PromptTemplate: "Solve this: {task}",
			KnowledgeBase:  []string{"Think step by step."},
		},
		Stats: UsageStats{CreatedAt: time.Unix(0, 0).UTC()},
	}
}

// SkillFilter scopes a retrieval. TenantID is mandatory on every call; the
// store widens it with GlobalSkillTenant so shared skills stay visible.
type SkillFilter struct {
	TenantID  string
	UserID    string
	AgentName string
}

// SkillStore is durable storage plus similarity-filtered retrieval of
// skills, partitioned by tenant.
type SkillStore interface {
	// AddSkill upserts the skill relationally and into the vector index.
	// Partial writes surface as errors; they are never swallowed.
	AddSkill(ctx context.Context, skill *Skill, tenantID, userID string) error

	// RetrieveBestSkill returns the best matching skill for the query
	// together with a match reason, or the built-in Meta fallback. Absence
	// is never an error; only infrastructure failures are.
	RetrieveBestSkill(ctx context.Context, query string, f SkillFilter) (Skill, string, error)

	// RetrieveRelatedSkills returns top-k matches without any fallback.
	RetrieveRelatedSkills(ctx context.Context, query string, f SkillFilter, limit int) ([]Skill, error)

	// GetSkill loads one skill by id.
	GetSkill(ctx context.Context, id string) (*Skill, error)

	// MarkSkillUsed records an execution attempt against the skill's stats.
	MarkSkillUsed(ctx context.Context, id string, success bool) error

	// DeleteSkill removes a skill from both stores. Administrative only.
	DeleteSkill(ctx context.Context, id string) error
}
