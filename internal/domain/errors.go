package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Components wrap these with DomainError or WrapOp so
// callers can branch with errors.Is without string matching.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrDuplicate     = fmt.Errorf("duplicate")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Kernel sentinels.
var (
	// ErrPlanningFailed marks an automatic-mode planning failure: the LLM
	// call errored or produced zero valid tasks. Never silently converted
	// into "route nowhere".
	ErrPlanningFailed = fmt.Errorf("planning failed")

	// ErrPluginNotFound marks a lookup miss in the plugin registry.
	ErrPluginNotFound = fmt.Errorf("plugin not found")

	// ErrSkillStore marks a skill store infrastructure failure, including a
	// multi-step persist that partially completed. Must propagate.
	ErrSkillStore = fmt.Errorf("skill store operation failed")

	// ErrVectorStore marks a vector index infrastructure failure.
	ErrVectorStore = fmt.Errorf("vector store operation failed")

	// ErrEmbeddingFailed marks an embedding provider failure.
	ErrEmbeddingFailed = fmt.Errorf("embedding generation failed")

	// ErrMemoryStore marks a memory persistence failure.
	ErrMemoryStore = fmt.Errorf("memory store failed")

	// ErrStructuredOutput marks an LLM response that could not be decoded
	// into the declared schema.
	ErrStructuredOutput = fmt.Errorf("structured output decode failed")

	// ErrGraphHalted marks a graph that hit its step bound before reaching
	// a terminal node.
	ErrGraphHalted = fmt.Errorf("graph exceeded step bound")

	// ErrTaskDependency marks a task skipped because a prerequisite failed.
	ErrTaskDependency = fmt.Errorf("prerequisite task failed")
)

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g., "SkillStore.AddSkill")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error. Returns nil if err is nil,
// enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsInfrastructure reports whether err is an infrastructure-tier failure
// that must propagate up, as opposed to a domain-tier "no good answer"
// condition that components absorb into graceful fallbacks.
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrSkillStore) ||
		errors.Is(err, ErrVectorStore) ||
		errors.Is(err, ErrEmbeddingFailed) ||
		errors.Is(err, ErrMemoryStore)
}
