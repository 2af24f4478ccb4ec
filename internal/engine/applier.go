package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"draftline/internal/domain"
	"draftline/internal/repo"
)

// ApplyDraft commits a pending draft. Each action runs in its own
// transaction with a fresh read of live state, writes the planned outcome,
// and appends an audit entry. A stale action aborts the run with a
// StaleDraftError and leaves the draft pending; earlier actions remain
// committed. Applying a non-pending draft returns it unchanged.
func (e Engine) ApplyDraft(ctx context.Context, draftID, actor string) (domain.Draft, error) {
	d, err := e.Repo.GetDraft(ctx, draftID)
	if err != nil {
		return domain.Draft{}, err
	}
	if d.Status != domain.DraftPending {
		return d, nil
	}
	if actor == "" {
		actor = domain.ActorUser
	}
	for _, action := range d.Actions {
		var err error
		switch action.EntityType {
		case domain.EntityProject:
			err = e.applyProjectAction(ctx, d, action, actor)
		case domain.EntityTask:
			err = e.applyTaskAction(ctx, d, action, actor)
		default:
			err = &StaleDraftError{DraftID: d.ID, ActionID: action.ID, Reason: fmt.Sprintf("unknown entity type %q", action.EntityType)}
		}
		if err != nil {
			return d, err
		}
	}
	if err := e.Repo.UpdateDraftStatus(ctx, d.ID, domain.DraftApplied); err != nil {
		return d, err
	}
	d.Status = domain.DraftApplied
	return d, nil
}

func (e Engine) applyProjectAction(ctx context.Context, d domain.Draft, action domain.DraftAction, actor string) error {
	switch action.Action {
	case domain.ActionCreate:
		var p domain.Project
		if err := decodePlanned(d, action, &p); err != nil {
			return err
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
			return err
		}
		if err := e.auditTx(ctx, tx, d, action, actor, nil, snapshot(p), p.ID, ""); err != nil {
			return err
		}
		return tx.Commit()
	case domain.ActionUpdate:
		var planned domain.Project
		if err := decodePlanned(d, action, &planned); err != nil {
			return err
		}
		live, err := e.Repo.GetProject(ctx, action.EntityID)
		if errors.Is(err, repo.ErrNotFound) {
			return &StaleDraftError{DraftID: d.ID, ActionID: action.ID, Reason: fmt.Sprintf("project %s no longer exists", action.EntityID)}
		}
		if err != nil {
			return err
		}
		planned.ID = live.ID
		planned.CreatedAt = live.CreatedAt
		planned.UpdatedAt = e.nowMillis()
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := e.Repo.UpdateProject(ctx, tx, planned); err != nil {
			return err
		}
		if err := e.auditTx(ctx, tx, d, action, actor, snapshot(live), snapshot(planned), live.ID, ""); err != nil {
			return err
		}
		return tx.Commit()
	case domain.ActionDelete:
		live, err := e.Repo.GetProject(ctx, action.EntityID)
		if errors.Is(err, repo.ErrNotFound) {
			return &StaleDraftError{DraftID: d.ID, ActionID: action.ID, Reason: fmt.Sprintf("project %s no longer exists", action.EntityID)}
		}
		if err != nil {
			return err
		}
		children, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: live.ID})
		if err != nil {
			return err
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := e.Repo.DeleteProjectTasks(ctx, tx, live.ID); err != nil {
			return err
		}
		if err := e.Repo.DeleteProject(ctx, tx, live.ID); err != nil {
			return err
		}
		before := snapshot(domain.ProjectSnapshot{Project: live, Tasks: children})
		if err := e.auditTx(ctx, tx, d, action, actor, before, nil, live.ID, ""); err != nil {
			return err
		}
		return tx.Commit()
	}
	return &StaleDraftError{DraftID: d.ID, ActionID: action.ID, Reason: fmt.Sprintf("unknown action %q", action.Action)}
}

func (e Engine) applyTaskAction(ctx context.Context, d domain.Draft, action domain.DraftAction, actor string) error {
	switch action.Action {
	case domain.ActionCreate:
		var t domain.Task
		if err := decodePlanned(d, action, &t); err != nil {
			return err
		}
		t.Completion = domain.ClampCompletion(t.Completion)
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
			return err
		}
		if err := e.auditTx(ctx, tx, d, action, actor, nil, snapshot(t), t.ProjectID, t.ID); err != nil {
			return err
		}
		return tx.Commit()
	case domain.ActionUpdate:
		var planned domain.Task
		if err := decodePlanned(d, action, &planned); err != nil {
			return err
		}
		live, err := e.Repo.GetTask(ctx, action.EntityID)
		if errors.Is(err, repo.ErrNotFound) {
			return &StaleDraftError{DraftID: d.ID, ActionID: action.ID, Reason: fmt.Sprintf("task %s no longer exists", action.EntityID)}
		}
		if err != nil {
			return err
		}
		planned.ID = live.ID
		planned.CreatedAt = live.CreatedAt
		planned.Completion = domain.ClampCompletion(planned.Completion)
		planned.UpdatedAt = e.nowMillis()
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := e.Repo.UpdateTask(ctx, tx, planned); err != nil {
			return err
		}
		if err := e.auditTx(ctx, tx, d, action, actor, snapshot(live), snapshot(planned), planned.ProjectID, planned.ID); err != nil {
			return err
		}
		return tx.Commit()
	case domain.ActionDelete:
		live, err := e.Repo.GetTask(ctx, action.EntityID)
		if errors.Is(err, repo.ErrNotFound) {
			return &StaleDraftError{DraftID: d.ID, ActionID: action.ID, Reason: fmt.Sprintf("task %s no longer exists", action.EntityID)}
		}
		if err != nil {
			return err
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := e.Repo.DeleteTask(ctx, tx, live.ID); err != nil {
			return err
		}
		if err := e.auditTx(ctx, tx, d, action, actor, snapshot(live), nil, live.ProjectID, live.ID); err != nil {
			return err
		}
		return tx.Commit()
	}
	return &StaleDraftError{DraftID: d.ID, ActionID: action.ID, Reason: fmt.Sprintf("unknown action %q", action.Action)}
}

// decodePlanned unpacks the planned after-state carried by a create or
// update action. A missing or unreadable snapshot means the draft was
// planned against a world that no longer matches.
func decodePlanned(d domain.Draft, action domain.DraftAction, dst any) error {
	if action.After == nil {
		return &StaleDraftError{DraftID: d.ID, ActionID: action.ID, Reason: "action has no planned state; refresh the draft"}
	}
	if err := json.Unmarshal(action.After, dst); err != nil {
		return &StaleDraftError{DraftID: d.ID, ActionID: action.ID, Reason: "planned state is unreadable; refresh the draft"}
	}
	return nil
}

func (e Engine) auditTx(ctx context.Context, tx *sql.Tx, d domain.Draft, action domain.DraftAction, actor string, before, after json.RawMessage, projectID, taskID string) error {
	_, err := e.Audit.Append(ctx, tx, domain.AuditRecord{
		EntityType: action.EntityType,
		EntityID:   action.EntityID,
		Action:     action.Action,
		Before:     before,
		After:      after,
		Actor:      actor,
		Reason:     d.Reason,
		ProjectID:  projectID,
		TaskID:     taskID,
		DraftID:    d.ID,
	})
	return err
}
