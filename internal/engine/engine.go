// Package engine implements the draft write path: planning proposed actions
// against an in-memory projection, applying pending drafts one action at a
// time with an audit entry per mutation, and rolling audit entries back.
package engine

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"draftline/internal/audit"
	"draftline/internal/config"
	"draftline/internal/domain"
	"draftline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Audit:  audit.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowMillis() int64 {
	return e.now().UTC().UnixMilli()
}

// ConstraintViolationError aborts planning when a caller-supplied start or
// due date collides with a predecessor's schedule. Implicitly defaulted
// dates are nudged with a warning instead; only explicit requests fail hard.
type ConstraintViolationError struct {
	TaskID         string
	Title          string
	Predecessor    string
	PredecessorEnd int64
	RequestedStart *int64
	RequestedDue   *int64
}

func (e *ConstraintViolationError) Error() string {
	msg := fmt.Sprintf("task %q (%s): requested dates conflict with predecessor %s ending at %d",
		e.Title, e.TaskID, e.Predecessor, e.PredecessorEnd)
	if e.RequestedStart != nil {
		msg += fmt.Sprintf("; requested start %d", *e.RequestedStart)
	}
	if e.RequestedDue != nil {
		msg += fmt.Sprintf("; requested due %d", *e.RequestedDue)
	}
	return msg
}

// StaleDraftError aborts an apply when a live re-read finds an entity the
// plan assumed exists has vanished, or a planned action lost its payload.
// Actions applied before the failing step stay applied; the draft remains
// pending.
type StaleDraftError struct {
	DraftID  string
	ActionID string
	Reason   string
}

func (e *StaleDraftError) Error() string {
	return fmt.Sprintf("draft %s action %s: %s", e.DraftID, e.ActionID, e.Reason)
}

func mergeProject(ex domain.Project, p *domain.ProjectPatch) domain.Project {
	if p == nil {
		return ex
	}
	if p.Name != nil {
		ex.Name = *p.Name
	}
	if p.Description != nil {
		ex.Description = *p.Description
	}
	if p.Icon != nil {
		ex.Icon = *p.Icon
	}
	return ex
}

func mergeTask(ex domain.Task, p *domain.TaskPatch) domain.Task {
	if p == nil {
		return ex
	}
	if p.ProjectID != nil {
		ex.ProjectID = *p.ProjectID
	}
	if p.Title != nil {
		ex.Title = *p.Title
	}
	if p.Description != nil {
		ex.Description = *p.Description
	}
	if p.Status != nil {
		ex.Status = *p.Status
	}
	if p.Priority != nil {
		ex.Priority = *p.Priority
	}
	if p.WBS != nil {
		ex.WBS = *p.WBS
	}
	if p.StartDate != nil {
		v := *p.StartDate
		ex.StartDate = &v
	}
	if p.DueDate != nil {
		v := *p.DueDate
		ex.DueDate = &v
	}
	if p.Completion != nil {
		ex.Completion = domain.ClampCompletion(*p.Completion)
	}
	if p.Assignee != nil {
		ex.Assignee = *p.Assignee
	}
	if p.IsMilestone != nil {
		ex.IsMilestone = *p.IsMilestone
	}
	if p.Predecessors != nil {
		ex.Predecessors = append([]string(nil), p.Predecessors...)
	}
	return ex
}

// snapshot marshals a record into an audit/action snapshot. Marshal failures
// cannot happen for our domain types; a nil result would only hide bugs, so
// errors surface as a null snapshot.
func snapshot(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func valueOr(p *string, def string) string {
	if p != nil {
		return *p
	}
	return def
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
