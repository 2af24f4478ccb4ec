package engine

import (
	"context"
	"errors"
	"testing"

	"draftline/internal/domain"
	"draftline/internal/repo"
)

func applyActions(t *testing.T, e Engine, actions []domain.DraftAction) domain.Draft {
	t.Helper()
	ctx := context.Background()
	d, err := e.CreateDraft(ctx, actions, "", "", "")
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	applied, err := e.ApplyDraft(ctx, d.ID, "")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	return applied
}

func latestAudit(t *testing.T, e Engine) domain.AuditRecord {
	t.Helper()
	logs := auditLogs(t, e)
	if len(logs) == 0 {
		t.Fatal("no audit entries")
	}
	return logs[0]
}

func TestRollbackTaskUpdateRestoresPriorState(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	p := seedProject(t, e, domain.Project{ID: "p1", Name: "Alpha"})
	seedTask(t, e, domain.Task{ID: "t1", ProjectID: p.ID, Title: "Original", Assignee: "ana"})

	applyActions(t, e, []domain.DraftAction{{
		EntityType: domain.EntityTask,
		Action:     domain.ActionUpdate,
		EntityID:   "t1",
		Task:       &domain.TaskPatch{Title: strPtr("Changed"), Assignee: strPtr("bo")},
	}})
	updateEntry := latestAudit(t, e)

	entry, err := e.RollbackAuditLog(ctx, updateEntry.ID, RollbackOptions{Actor: domain.ActorUser, Reason: "bad rename"})
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if entry.Action != domain.ActionRollback || entry.RollbackOf != updateEntry.ID {
		t.Fatalf("entry = %+v", entry)
	}
	if entry.Reason != "bad rename" {
		t.Fatalf("reason = %q", entry.Reason)
	}
	task, err := e.Repo.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task.Title != "Original" || task.Assignee != "ana" {
		t.Fatalf("task = %q/%q", task.Title, task.Assignee)
	}
}

func TestRollbackCreateDeletesThenRollbackOfRollbackRestores(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedProject(t, e, domain.Project{ID: "p1", Name: "Alpha"})

	applyActions(t, e, []domain.DraftAction{{
		EntityType: domain.EntityTask,
		Action:     domain.ActionCreate,
		Task:       &domain.TaskPatch{ID: strPtr("t1"), ProjectID: strPtr("p1"), Title: strPtr("Fresh")},
	}})
	createEntry := latestAudit(t, e)

	first, err := e.RollbackAuditLog(ctx, createEntry.ID, RollbackOptions{})
	if err != nil {
		t.Fatalf("rollback create: %v", err)
	}
	if _, err := e.Repo.GetTask(ctx, "t1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatal("rolled-back create must delete the task")
	}
	if first.Before == nil || first.After != nil {
		t.Fatal("reversal of a create must snapshot the deleted state")
	}

	// The rollback entry is itself rollbackable.
	second, err := e.RollbackAuditLog(ctx, first.ID, RollbackOptions{})
	if err != nil {
		t.Fatalf("rollback of rollback: %v", err)
	}
	if second.RollbackOf != first.ID {
		t.Fatalf("rollbackOf = %s", second.RollbackOf)
	}
	task, err := e.Repo.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("task not restored: %v", err)
	}
	if task.Title != "Fresh" {
		t.Fatalf("title = %q", task.Title)
	}
}

func TestRollbackProjectDeleteRestoresProjectAndTasks(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	p := seedProject(t, e, domain.Project{ID: "p1", Name: "Alpha"})
	seedTask(t, e, domain.Task{ID: "t1", ProjectID: p.ID, Title: "One"})
	seedTask(t, e, domain.Task{ID: "t2", ProjectID: p.ID, Title: "Two"})

	applyActions(t, e, []domain.DraftAction{{
		EntityType: domain.EntityProject,
		Action:     domain.ActionDelete,
		EntityID:   "p1",
	}})
	deleteEntry := latestAudit(t, e)
	var snap domain.ProjectSnapshot
	mustUnmarshal(t, deleteEntry.Before, &snap)
	if snap.Project.ID != "p1" || len(snap.Tasks) != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if _, err := e.Repo.GetTask(ctx, "t1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatal("project delete must cascade to tasks")
	}

	if _, err := e.RollbackAuditLog(ctx, deleteEntry.ID, RollbackOptions{}); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if _, err := e.Repo.GetProject(ctx, "p1"); err != nil {
		t.Fatalf("project not restored: %v", err)
	}
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: "p1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("restored tasks = %d, want 2", len(tasks))
	}
}

func TestRollbackBypassesConstraintResolution(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	p := seedProject(t, e, domain.Project{ID: "p1", Name: "Alpha"})
	seedTask(t, e, domain.Task{ID: "a", ProjectID: p.ID, Title: "Pred", StartDate: msPtr(0), DueDate: msPtr(8)})
	seedTask(t, e, domain.Task{ID: "b", ProjectID: p.ID, Title: "Next", StartDate: msPtr(2), DueDate: msPtr(3), Predecessors: []string{"a"}})

	// The update shifts b past its predecessor during planning.
	applyActions(t, e, []domain.DraftAction{{
		EntityType: domain.EntityTask,
		Action:     domain.ActionUpdate,
		EntityID:   "b",
		Task:       &domain.TaskPatch{Title: strPtr("Renamed")},
	}})
	shifted, err := e.Repo.GetTask(ctx, "b")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if *shifted.StartDate != ms(8) {
		t.Fatalf("start = %d, want %d", *shifted.StartDate, ms(8))
	}

	// Rolling back restores the captured dates verbatim even though they sit
	// before the predecessor's end.
	entry := latestAudit(t, e)
	if _, err := e.RollbackAuditLog(ctx, entry.ID, RollbackOptions{}); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	restored, err := e.Repo.GetTask(ctx, "b")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if *restored.StartDate != ms(2) || *restored.DueDate != ms(3) {
		t.Fatalf("restored dates = %d/%d", *restored.StartDate, *restored.DueDate)
	}
	if restored.Title != "Next" {
		t.Fatalf("title = %q", restored.Title)
	}
}

func TestRollbackUnknownAuditEntry(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.RollbackAuditLog(context.Background(), "ghost", RollbackOptions{})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
