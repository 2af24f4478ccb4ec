package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"draftline/internal/constraint"
	"draftline/internal/domain"
	"draftline/internal/repo"
)

// PlanResult is the annotated outcome of simulating a batch of actions.
type PlanResult struct {
	Actions  []domain.DraftAction
	Warnings []string
}

// projection is the in-memory world the planner mutates while replaying
// actions, so action N sees the effects of actions 1..N-1.
type projection struct {
	projects map[string]domain.Project
	tasks    map[string]domain.Task
}

func (p *projection) projectTasks(projectID string) []domain.Task {
	var out []domain.Task
	for _, t := range p.tasks {
		if t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	return out
}

// PlanActions replays proposed actions in order against a projection of
// current state, enriching each action with before/after snapshots and
// warnings. Nothing is persisted. Individual not-found references warn and
// skip; an explicit date conflict aborts the whole plan.
func (e Engine) PlanActions(ctx context.Context, proposed []domain.DraftAction) (PlanResult, error) {
	projects, err := e.Repo.ListProjects(ctx)
	if err != nil {
		return PlanResult{}, err
	}
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{})
	if err != nil {
		return PlanResult{}, err
	}
	proj := &projection{
		projects: make(map[string]domain.Project, len(projects)),
		tasks:    make(map[string]domain.Task, len(tasks)),
	}
	for _, p := range projects {
		proj.projects[p.ID] = p
	}
	for _, t := range tasks {
		proj.tasks[t.ID] = t
	}

	var out PlanResult
	for _, action := range proposed {
		if action.ID == "" {
			action.ID = uuid.New().String()
		}
		action.Before = nil
		action.After = nil
		action.Warnings = nil
		planned, err := e.planAction(proj, action)
		if err != nil {
			return PlanResult{}, err
		}
		out.Actions = append(out.Actions, planned)
		out.Warnings = append(out.Warnings, planned.Warnings...)
	}
	return out, nil
}

func (e Engine) planAction(proj *projection, action domain.DraftAction) (domain.DraftAction, error) {
	switch action.EntityType {
	case domain.EntityProject:
		return e.planProjectAction(proj, action), nil
	case domain.EntityTask:
		return e.planTaskAction(proj, action)
	default:
		action.Warnings = append(action.Warnings, fmt.Sprintf("Unknown entity type %q; action ignored.", action.EntityType))
		return action, nil
	}
}

func (e Engine) planProjectAction(proj *projection, action domain.DraftAction) domain.DraftAction {
	now := e.nowMillis()
	switch action.Action {
	case domain.ActionCreate:
		p := domain.Project{
			ID:        valueOr(patchProjectID(action.Project), uuid.New().String()),
			Name:      "Untitled Project",
			CreatedAt: now,
			UpdatedAt: now,
		}
		p = mergeProject(p, action.Project)
		if p.Name == "" {
			p.Name = "Untitled Project"
		}
		proj.projects[p.ID] = p
		action.EntityID = p.ID
		action.After = snapshot(p)
	case domain.ActionUpdate:
		ex, ok := proj.projects[action.EntityID]
		if !ok {
			action.Warnings = append(action.Warnings, "Project not found for update.")
			return action
		}
		updated := mergeProject(ex, action.Project)
		updated.UpdatedAt = now
		proj.projects[updated.ID] = updated
		action.Before = snapshot(ex)
		action.After = snapshot(updated)
	case domain.ActionDelete:
		ex, ok := proj.projects[action.EntityID]
		if !ok {
			action.Warnings = append(action.Warnings, "Project not found for delete.")
			return action
		}
		delete(proj.projects, ex.ID)
		for id, t := range proj.tasks {
			if t.ProjectID == ex.ID {
				delete(proj.tasks, id)
			}
		}
		action.Before = snapshot(ex)
	}
	return action
}

func (e Engine) planTaskAction(proj *projection, action domain.DraftAction) (domain.DraftAction, error) {
	now := e.nowMillis()
	switch action.Action {
	case domain.ActionCreate:
		t := domain.Task{
			ID:           valueOr(patchTaskID(action.Task), uuid.New().String()),
			Title:        "Untitled Task",
			Status:       e.Config.Defaults.Status,
			Priority:     e.Config.Defaults.Priority,
			CreatedAt:    now,
			Completion:   0,
			Predecessors: []string{},
			UpdatedAt:    now,
		}
		t = mergeTask(t, action.Task)
		if t.Title == "" {
			t.Title = "Untitled Task"
		}
		if t.StartDate == nil {
			start := t.CreatedAt
			t.StartDate = &start
		}
		if t.ProjectID == "" {
			action.Warnings = append(action.Warnings, "Task has no project; assign a projectId before applying.")
		}
		proj.tasks[t.ID] = t
		res := e.resolve(t, proj.projectTasks(t.ProjectID))
		t = res.Task
		proj.tasks[t.ID] = t
		action.Warnings = append(action.Warnings, res.Warnings...)
		action.EntityID = t.ID
		action.After = snapshot(t)
	case domain.ActionUpdate:
		ex, ok := proj.tasks[action.EntityID]
		if !ok {
			action.Warnings = append(action.Warnings, "Task not found for update.")
			return action, nil
		}
		merged := mergeTask(ex, action.Task)
		merged.UpdatedAt = now

		explicitStart := action.Task != nil && action.Task.StartDate != nil && !int64PtrEqual(action.Task.StartDate, ex.StartDate)
		explicitDue := action.Task != nil && action.Task.DueDate != nil && !int64PtrEqual(action.Task.DueDate, ex.DueDate)

		dep := constraint.ResolveDependencyConflicts(merged, proj.projectTasks(merged.ProjectID))
		if dep.Changed && (explicitStart || explicitDue) {
			startOverridden := explicitStart && !int64PtrEqual(dep.Task.StartDate, action.Task.StartDate)
			dueOverridden := explicitDue && !int64PtrEqual(dep.Task.DueDate, action.Task.DueDate)
			if startOverridden || dueOverridden {
				return action, &ConstraintViolationError{
					TaskID:         merged.ID,
					Title:          merged.Title,
					Predecessor:    dep.Predecessor,
					PredecessorEnd: dep.PredecessorEnd,
					RequestedStart: action.Task.StartDate,
					RequestedDue:   action.Task.DueDate,
				}
			}
		}
		ord := constraint.EnforceDateOrder(dep.Task)
		updated := ord.Task
		proj.tasks[updated.ID] = updated
		action.Warnings = append(action.Warnings, dep.Warnings...)
		action.Warnings = append(action.Warnings, ord.Warnings...)
		action.Before = snapshot(ex)
		action.After = snapshot(updated)
	case domain.ActionDelete:
		ex, ok := proj.tasks[action.EntityID]
		if !ok {
			action.Warnings = append(action.Warnings, "Task not found for delete.")
			return action, nil
		}
		delete(proj.tasks, ex.ID)
		action.Before = snapshot(ex)
	}
	return action, nil
}

// resolve applies the constraint pass configured for the planner: one pass
// by default, fixed-point when opted in.
func (e Engine) resolve(t domain.Task, all []domain.Task) constraint.Result {
	if e.Config != nil && e.Config.Planner.FixedPoint {
		return constraint.ApplyFixedPoint(t, all, e.Config.Planner.MaxPasses)
	}
	return constraint.Apply(t, all)
}

// CreateDraft plans the proposed actions and persists the result as a
// pending draft. A planning error blocks creation entirely.
func (e Engine) CreateDraft(ctx context.Context, actions []domain.DraftAction, createdBy, reason, projectID string) (domain.Draft, error) {
	if createdBy == "" {
		createdBy = domain.ActorUser
	}
	plan, err := e.PlanActions(ctx, actions)
	if err != nil {
		return domain.Draft{}, err
	}
	d := domain.Draft{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Status:    domain.DraftPending,
		Actions:   plan.Actions,
		CreatedAt: e.nowMillis(),
		CreatedBy: createdBy,
		Reason:    reason,
	}
	if err := e.Repo.InsertDraft(ctx, d); err != nil {
		return domain.Draft{}, fmt.Errorf("insert draft: %w", err)
	}
	return d, nil
}

// RefreshDraftActions re-plans a pending draft against current state and
// overwrites its actions in place. Identity and status are untouched.
func (e Engine) RefreshDraftActions(ctx context.Context, draftID string) (domain.Draft, error) {
	d, err := e.Repo.GetDraft(ctx, draftID)
	if err != nil {
		return domain.Draft{}, err
	}
	if d.Status != domain.DraftPending {
		return d, fmt.Errorf("draft %s is %s; only pending drafts can be refreshed", d.ID, d.Status)
	}
	plan, err := e.PlanActions(ctx, d.Actions)
	if err != nil {
		return d, err
	}
	if err := e.Repo.UpdateDraftActions(ctx, d.ID, plan.Actions); err != nil {
		return d, err
	}
	d.Actions = plan.Actions
	return d, nil
}

// DiscardDraft flips a pending draft to discarded with no side effects on
// entities. Discarding twice is a no-op; an applied draft cannot be
// discarded.
func (e Engine) DiscardDraft(ctx context.Context, draftID string) (domain.Draft, error) {
	d, err := e.Repo.GetDraft(ctx, draftID)
	if err != nil {
		return domain.Draft{}, err
	}
	if d.Status == domain.DraftDiscarded {
		return d, nil
	}
	if d.Status != domain.DraftPending {
		return d, fmt.Errorf("draft %s is %s and cannot be discarded", d.ID, d.Status)
	}
	if err := e.Repo.UpdateDraftStatus(ctx, d.ID, domain.DraftDiscarded); err != nil {
		return d, err
	}
	d.Status = domain.DraftDiscarded
	return d, nil
}

func patchProjectID(p *domain.ProjectPatch) *string {
	if p == nil {
		return nil
	}
	return p.ID
}

func patchTaskID(p *domain.TaskPatch) *string {
	if p == nil {
		return nil
	}
	return p.ID
}
