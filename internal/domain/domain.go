package domain

import "encoding/json"

// Task status values.
const (
	StatusTodo       = "TODO"
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
)

// Task priority values.
const (
	PriorityLow    = "LOW"
	PriorityMedium = "MEDIUM"
	PriorityHigh   = "HIGH"
)

// Draft lifecycle states. Applied and discarded are terminal.
const (
	DraftPending   = "pending"
	DraftApplied   = "applied"
	DraftDiscarded = "discarded"
)

// Actor kinds for drafts and audit entries.
const (
	ActorUser   = "user"
	ActorAgent  = "agent"
	ActorSystem = "system"
)

// Entity types referenced by draft actions and audit entries.
const (
	EntityTask    = "task"
	EntityProject = "project"
)

// Draft action verbs.
const (
	ActionCreate   = "create"
	ActionUpdate   = "update"
	ActionDelete   = "delete"
	ActionRollback = "rollback"
)

// All timestamps are epoch milliseconds.

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// Task belongs to a Project by ProjectID. Predecessors holds references to
// other tasks in the same project, each either a task id or a wbs code.
type Task struct {
	ID           string   `json:"id"`
	ProjectID    string   `json:"projectId"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Status       string   `json:"status" enum:"TODO,IN_PROGRESS,DONE"`
	Priority     string   `json:"priority" enum:"LOW,MEDIUM,HIGH"`
	WBS          string   `json:"wbs,omitempty"`
	CreatedAt    int64    `json:"createdAt"`
	StartDate    *int64   `json:"startDate,omitempty"`
	DueDate      *int64   `json:"dueDate,omitempty"`
	Completion   int      `json:"completion"`
	Assignee     string   `json:"assignee,omitempty"`
	IsMilestone  bool     `json:"isMilestone"`
	Predecessors []string `json:"predecessors"`
	UpdatedAt    int64    `json:"updatedAt"`
}

// ProjectPatch is the caller-authored payload for project draft actions.
// Nil fields are left untouched on update and defaulted on create.
type ProjectPatch struct {
	ID          *string `json:"id,omitempty"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Icon        *string `json:"icon,omitempty"`
}

// TaskPatch is the caller-authored payload for task draft actions.
type TaskPatch struct {
	ID           *string  `json:"id,omitempty"`
	ProjectID    *string  `json:"projectId,omitempty"`
	Title        *string  `json:"title,omitempty"`
	Description  *string  `json:"description,omitempty"`
	Status       *string  `json:"status,omitempty" enum:"TODO,IN_PROGRESS,DONE"`
	Priority     *string  `json:"priority,omitempty" enum:"LOW,MEDIUM,HIGH"`
	WBS          *string  `json:"wbs,omitempty"`
	StartDate    *int64   `json:"startDate,omitempty"`
	DueDate      *int64   `json:"dueDate,omitempty"`
	Completion   *int     `json:"completion,omitempty"`
	Assignee     *string  `json:"assignee,omitempty"`
	IsMilestone  *bool    `json:"isMilestone,omitempty"`
	Predecessors []string `json:"predecessors,omitempty"`
}

// DraftAction is one proposed mutation inside a draft. Before, After and
// Warnings are attached by the planner; the caller supplies the patch for
// its entity type.
type DraftAction struct {
	ID         string          `json:"id" required:"false"`
	EntityType string          `json:"entityType" enum:"task,project"`
	Action     string          `json:"action" enum:"create,update,delete"`
	EntityID   string          `json:"entityId,omitempty"`
	Project    *ProjectPatch   `json:"project,omitempty"`
	Task       *TaskPatch      `json:"task,omitempty"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Warnings   []string        `json:"warnings,omitempty"`
}

type Draft struct {
	ID        string        `json:"id"`
	ProjectID string        `json:"projectId,omitempty"`
	Status    string        `json:"status" enum:"pending,applied,discarded"`
	Actions   []DraftAction `json:"actions"`
	CreatedAt int64         `json:"createdAt"`
	CreatedBy string        `json:"createdBy" enum:"user,agent,system"`
	Reason    string        `json:"reason,omitempty"`
}

// AuditRecord is immutable once written. Before and After are value
// snapshots taken at write time, never live references. For a project
// delete, Before nests the project's tasks under {project, tasks}.
type AuditRecord struct {
	ID         string          `json:"id"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Action     string          `json:"action"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Actor      string          `json:"actor"`
	Reason     string          `json:"reason,omitempty"`
	Timestamp  int64           `json:"timestamp"`
	ProjectID  string          `json:"projectId,omitempty"`
	TaskID     string          `json:"taskId,omitempty"`
	DraftID    string          `json:"draftId,omitempty"`
	RollbackOf string          `json:"rollbackOf,omitempty"`
}

// ProjectSnapshot is the Before payload of a project delete audit entry.
type ProjectSnapshot struct {
	Project Project `json:"project"`
	Tasks   []Task  `json:"tasks"`
}

// ClampCompletion bounds v to [0,100].
func ClampCompletion(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
