package repo

import (
	"context"
	"errors"
	"testing"

	"draftline/internal/db"
	"draftline/internal/domain"
	"draftline/internal/migrate"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Repo{DB: conn}
}

func insertTask(t *testing.T, r Repo, task domain.Task) {
	t.Helper()
	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := r.InsertTask(context.Background(), tx, task); err != nil {
		t.Fatalf("insert task: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	r := newTestRepo(t)
	if _, err := r.GetTask(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTaskPredecessorsRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	insertTask(t, r, domain.Task{
		ID: "t1", ProjectID: "p1", Title: "x", Status: domain.StatusTodo, Priority: domain.PriorityMedium,
		CreatedAt: 1, UpdatedAt: 1, Predecessors: []string{"a", "1.2"},
	})
	got, err := r.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Predecessors) != 2 || got.Predecessors[0] != "a" {
		t.Fatalf("predecessors = %v", got.Predecessors)
	}
}

func TestMalformedPredecessorsDegradeToEmpty(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	insertTask(t, r, domain.Task{
		ID: "t1", ProjectID: "p1", Title: "x", Status: domain.StatusTodo, Priority: domain.PriorityMedium,
		CreatedAt: 1, UpdatedAt: 1, Predecessors: []string{},
	})
	if _, err := r.DB.Exec(`UPDATE tasks SET predecessors_json='{broken' WHERE id='t1'`); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	got, err := r.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get must not fail on malformed predecessors: %v", err)
	}
	if got.Predecessors == nil || len(got.Predecessors) != 0 {
		t.Fatalf("predecessors = %v, want empty list", got.Predecessors)
	}
}

func TestCompletionClampedOnRead(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	insertTask(t, r, domain.Task{
		ID: "t1", ProjectID: "p1", Title: "x", Status: domain.StatusTodo, Priority: domain.PriorityMedium,
		CreatedAt: 1, UpdatedAt: 1, Predecessors: []string{},
	})
	if _, err := r.DB.Exec(`UPDATE tasks SET completion=250 WHERE id='t1'`); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	got, err := r.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Completion != 100 {
		t.Fatalf("completion = %d, want 100", got.Completion)
	}
}

func TestListTasksFilters(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	insertTask(t, r, domain.Task{ID: "t1", ProjectID: "p1", Title: "a", Status: domain.StatusTodo, Priority: domain.PriorityMedium, Assignee: "ana", CreatedAt: 1, UpdatedAt: 1, Predecessors: []string{}})
	insertTask(t, r, domain.Task{ID: "t2", ProjectID: "p1", Title: "b", Status: domain.StatusDone, Priority: domain.PriorityMedium, CreatedAt: 2, UpdatedAt: 2, Predecessors: []string{}})
	insertTask(t, r, domain.Task{ID: "t3", ProjectID: "p2", Title: "c", Status: domain.StatusTodo, Priority: domain.PriorityMedium, CreatedAt: 3, UpdatedAt: 3, Predecessors: []string{}})

	all, err := r.ListTasks(ctx, TaskFilters{ProjectID: "p1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].ID != "t1" {
		t.Fatalf("tasks = %+v", all)
	}
	done, err := r.ListTasks(ctx, TaskFilters{ProjectID: "p1", Status: domain.StatusDone})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(done) != 1 || done[0].ID != "t2" {
		t.Fatalf("tasks = %+v", done)
	}
	mine, err := r.ListTasks(ctx, TaskFilters{Assignee: "ana"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != "t1" {
		t.Fatalf("tasks = %+v", mine)
	}
}

func TestMalformedDraftActionsDegradeToEmpty(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if err := r.InsertDraft(ctx, domain.Draft{
		ID: "d1", Status: domain.DraftPending, Actions: []domain.DraftAction{{EntityType: domain.EntityTask, Action: domain.ActionDelete, EntityID: "x"}},
		CreatedAt: 1, CreatedBy: domain.ActorUser,
	}); err != nil {
		t.Fatalf("insert draft: %v", err)
	}
	if _, err := r.DB.Exec(`UPDATE drafts SET actions_json='not json' WHERE id='d1'`); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	d, err := r.GetDraft(ctx, "d1")
	if err != nil {
		t.Fatalf("get must not fail on malformed actions: %v", err)
	}
	if len(d.Actions) != 0 {
		t.Fatalf("actions = %+v, want empty", d.Actions)
	}
}
