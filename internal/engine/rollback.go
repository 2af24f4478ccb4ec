package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"draftline/internal/domain"
	"draftline/internal/repo"
)

// RollbackOptions carries attribution for a corrective entry.
type RollbackOptions struct {
	Actor  string
	Reason string
}

// RollbackAuditLog reverses the change recorded by a single audit entry by
// deriving the corrective action from its before/after snapshots: a create
// is reversed by deleting, a delete by recreating, an update by restoring
// the prior state verbatim. The reversal itself is recorded as a new entry
// linked to the original, so the log stays append-only. Constraint
// resolution is deliberately skipped; the restored state is written as it
// was captured.
func (e Engine) RollbackAuditLog(ctx context.Context, auditID string, opts RollbackOptions) (domain.AuditRecord, error) {
	rec, err := e.Repo.GetAuditLog(ctx, auditID)
	if err != nil {
		return domain.AuditRecord{}, err
	}
	actor := opts.Actor
	if actor == "" {
		actor = domain.ActorUser
	}
	reason := opts.Reason
	if reason == "" {
		reason = fmt.Sprintf("rollback of %s", rec.ID)
	}
	entry := domain.AuditRecord{
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		Action:     domain.ActionRollback,
		Actor:      actor,
		Reason:     reason,
		ProjectID:  rec.ProjectID,
		TaskID:     rec.TaskID,
		RollbackOf: rec.ID,
	}

	switch rec.EntityType {
	case domain.EntityProject:
		return e.rollbackProject(ctx, rec, entry)
	case domain.EntityTask:
		return e.rollbackTask(ctx, rec, entry)
	}
	return domain.AuditRecord{}, fmt.Errorf("audit entry %s has unknown entity type %q", rec.ID, rec.EntityType)
}

func (e Engine) rollbackProject(ctx context.Context, rec, entry domain.AuditRecord) (domain.AuditRecord, error) {
	switch {
	case rec.Before == nil:
		// Reversing a create: delete the project and its tasks, keeping a
		// full snapshot so this rollback is itself reversible.
		live, err := e.Repo.GetProject(ctx, rec.EntityID)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.AuditRecord{}, fmt.Errorf("project %s: %w", rec.EntityID, err)
		}
		if err != nil {
			return domain.AuditRecord{}, err
		}
		children, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: live.ID})
		if err != nil {
			return domain.AuditRecord{}, err
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return domain.AuditRecord{}, err
		}
		defer tx.Rollback()
		if err := e.Repo.DeleteProjectTasks(ctx, tx, live.ID); err != nil {
			return domain.AuditRecord{}, err
		}
		if err := e.Repo.DeleteProject(ctx, tx, live.ID); err != nil {
			return domain.AuditRecord{}, err
		}
		entry.Before = snapshot(domain.ProjectSnapshot{Project: live, Tasks: children})
		written, err := e.Audit.Append(ctx, tx, entry)
		if err != nil {
			return domain.AuditRecord{}, err
		}
		return written, tx.Commit()
	case rec.After == nil:
		// Reversing a delete: recreate the project and every captured task.
		var snap domain.ProjectSnapshot
		if err := json.Unmarshal(rec.Before, &snap); err != nil {
			return domain.AuditRecord{}, fmt.Errorf("audit entry %s: unreadable project snapshot: %w", rec.ID, err)
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return domain.AuditRecord{}, err
		}
		defer tx.Rollback()
		if err := e.Repo.InsertProject(ctx, tx, snap.Project); err != nil {
			return domain.AuditRecord{}, err
		}
		for _, t := range snap.Tasks {
			t.Completion = domain.ClampCompletion(t.Completion)
			if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
				return domain.AuditRecord{}, err
			}
		}
		entry.After = snapshot(snap)
		written, err := e.Audit.Append(ctx, tx, entry)
		if err != nil {
			return domain.AuditRecord{}, err
		}
		return written, tx.Commit()
	default:
		// Reversing an update: write the prior state back verbatim.
		var prior domain.Project
		if err := json.Unmarshal(rec.Before, &prior); err != nil {
			return domain.AuditRecord{}, fmt.Errorf("audit entry %s: unreadable project state: %w", rec.ID, err)
		}
		live, err := e.Repo.GetProject(ctx, rec.EntityID)
		if err != nil {
			return domain.AuditRecord{}, err
		}
		prior.ID = live.ID
		prior.UpdatedAt = e.nowMillis()
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return domain.AuditRecord{}, err
		}
		defer tx.Rollback()
		if err := e.Repo.UpdateProject(ctx, tx, prior); err != nil {
			return domain.AuditRecord{}, err
		}
		entry.Before = snapshot(live)
		entry.After = snapshot(prior)
		written, err := e.Audit.Append(ctx, tx, entry)
		if err != nil {
			return domain.AuditRecord{}, err
		}
		return written, tx.Commit()
	}
}

func (e Engine) rollbackTask(ctx context.Context, rec, entry domain.AuditRecord) (domain.AuditRecord, error) {
	switch {
	case rec.Before == nil:
		live, err := e.Repo.GetTask(ctx, rec.EntityID)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.AuditRecord{}, fmt.Errorf("task %s: %w", rec.EntityID, err)
		}
		if err != nil {
			return domain.AuditRecord{}, err
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return domain.AuditRecord{}, err
		}
		defer tx.Rollback()
		if err := e.Repo.DeleteTask(ctx, tx, live.ID); err != nil {
			return domain.AuditRecord{}, err
		}
		entry.Before = snapshot(live)
		written, err := e.Audit.Append(ctx, tx, entry)
		if err != nil {
			return domain.AuditRecord{}, err
		}
		return written, tx.Commit()
	case rec.After == nil:
		var prior domain.Task
		if err := json.Unmarshal(rec.Before, &prior); err != nil {
			return domain.AuditRecord{}, fmt.Errorf("audit entry %s: unreadable task state: %w", rec.ID, err)
		}
		prior.Completion = domain.ClampCompletion(prior.Completion)
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return domain.AuditRecord{}, err
		}
		defer tx.Rollback()
		if err := e.Repo.InsertTask(ctx, tx, prior); err != nil {
			return domain.AuditRecord{}, err
		}
		entry.After = snapshot(prior)
		written, err := e.Audit.Append(ctx, tx, entry)
		if err != nil {
			return domain.AuditRecord{}, err
		}
		return written, tx.Commit()
	default:
		var prior domain.Task
		if err := json.Unmarshal(rec.Before, &prior); err != nil {
			return domain.AuditRecord{}, fmt.Errorf("audit entry %s: unreadable task state: %w", rec.ID, err)
		}
		live, err := e.Repo.GetTask(ctx, rec.EntityID)
		if err != nil {
			return domain.AuditRecord{}, err
		}
		prior.ID = live.ID
		prior.Completion = domain.ClampCompletion(prior.Completion)
		prior.UpdatedAt = e.nowMillis()
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return domain.AuditRecord{}, err
		}
		defer tx.Rollback()
		if err := e.Repo.UpdateTask(ctx, tx, prior); err != nil {
			return domain.AuditRecord{}, err
		}
		entry.Before = snapshot(live)
		entry.After = snapshot(prior)
		written, err := e.Audit.Append(ctx, tx, entry)
		if err != nil {
			return domain.AuditRecord{}, err
		}
		return written, tx.Commit()
	}
}
