package domain

import "fmt"

// ChitchatPlugin is the pseudo-plugin name the planner uses for general
// conversation when no specialist plugin is suitable. It is handled inline
// by the dispatcher, not by the registry.
const ChitchatPlugin = "chitchat"

// Task is a single step in a master plan. Context lists prerequisite task
// ids whose results must be available before this task runs.
type Task struct {
	ID          int    `json:"id"`
	PluginName  string `json:"plugin_name"`
	Instruction string `json:"instruction"`
	Description string `json:"description"`
	Context     []int  `json:"context,omitempty"`
}

// MasterPlan is the router's decomposition of one request into plugin-
// targeted units of work with dependency edges. Created fresh per request
// and never persisted standalone.
type MasterPlan struct {
	Tasks           []Task `json:"tasks"`
	OriginalRequest string `json:"original_request"`
}

// Validate checks the plan invariants: at least one task, unique ids, and
// context edges that only reference earlier tasks. Referencing earlier ids
// only keeps the induced graph acyclic and makes list order a valid
// topological sort.
func (p *MasterPlan) Validate() error {
	if len(p.Tasks) == 0 {
		return WrapOp("plan.validate", ErrPlanningFailed)
	}
	seen := make(map[int]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		if t.PluginName == "" {
			return NewDomainError("plan.validate", ErrInvalidInput, fmt.Sprintf("task %d has no plugin", t.ID))
		}
		if seen[t.ID] {
			return NewDomainError("plan.validate", ErrInvalidInput, fmt.Sprintf("duplicate task id %d", t.ID))
		}
		for _, dep := range t.Context {
			if !seen[dep] {
				return NewDomainError("plan.validate", ErrInvalidInput,
					fmt.Sprintf("task %d depends on %d which is not an earlier task", t.ID, dep))
			}
		}
		seen[t.ID] = true
	}
	return nil
}

// TaskStatus is the terminal status of one plan task.
type TaskStatus string

const (
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped" // prerequisite failed
)

// TaskResult is the outcome recorded for one task in the shared results map.
type TaskResult struct {
	TaskID int        `json:"task_id"`
	Status TaskStatus `json:"status"`
	Output string     `json:"output,omitempty"`
	Err    string     `json:"error,omitempty"`
}
