// Package constraint holds the pure scheduling rules applied to tasks during
// draft planning: date-order repair and predecessor conflict resolution. No
// I/O happens here; callers pass the full task population of a project.
package constraint

import (
	"fmt"

	"draftline/internal/domain"
)

// DayMillis is one day in epoch milliseconds, the minimum task duration.
const DayMillis = int64(24 * 60 * 60 * 1000)

// Result carries the possibly adjusted task plus what happened to it.
// PredecessorEnd and Predecessor are set when a dependency shift occurred.
type Result struct {
	Task           domain.Task
	Warnings       []string
	Changed        bool
	Predecessor    string
	PredecessorEnd int64
}

// EffectiveStart is the task's start date, defaulting to its creation time.
func EffectiveStart(t domain.Task) int64 {
	if t.StartDate != nil {
		return *t.StartDate
	}
	return t.CreatedAt
}

// EffectiveEnd is the task's due date when it lies after the effective
// start, else start plus one day.
func EffectiveEnd(t domain.Task) int64 {
	start := EffectiveStart(t)
	if t.DueDate != nil && *t.DueDate > start {
		return *t.DueDate
	}
	return start + DayMillis
}

// EnforceDateOrder repairs tasks whose due date is at or before their
// effective start by pinning the start and pushing the due date one day out.
// Tasks without a due date are left alone; their effective end already
// defaults past the start.
func EnforceDateOrder(t domain.Task) Result {
	start := EffectiveStart(t)
	if t.DueDate == nil || *t.DueDate > start {
		return Result{Task: t}
	}
	due := start + DayMillis
	t.StartDate = &start
	t.DueDate = &due
	return Result{
		Task:     t,
		Warnings: []string{fmt.Sprintf("Task %q: due date was not after start date; due date moved to one day after start.", t.Title)},
		Changed:  true,
	}
}

// ResolveDependencyConflicts shifts a task forward so it starts no earlier
// than the latest effective end among its resolvable predecessors,
// preserving its duration. Predecessors are matched by task id or wbs code
// within the same project; unresolvable references are ignored.
func ResolveDependencyConflicts(t domain.Task, all []domain.Task) Result {
	if len(t.Predecessors) == 0 {
		return Result{Task: t}
	}
	var maxEnd int64
	var governing string
	for _, ref := range t.Predecessors {
		pred, ok := findPredecessor(ref, t, all)
		if !ok {
			continue
		}
		if end := EffectiveEnd(pred); end > maxEnd {
			maxEnd = end
			governing = pred.ID
		}
	}
	start := EffectiveStart(t)
	if governing == "" || maxEnd <= start {
		return Result{Task: t}
	}
	end := EffectiveEnd(t)
	duration := end - start
	if duration < DayMillis {
		duration = DayMillis
	}
	newStart := maxEnd
	newDue := newStart + duration
	if min := newStart + DayMillis; newDue < min {
		newDue = min
	}
	t.StartDate = &newStart
	t.DueDate = &newDue
	return Result{
		Task: t,
		Warnings: []string{fmt.Sprintf("Task %q: start date moved to %d to follow predecessor %s (ends at %d).",
			t.Title, newStart, governing, maxEnd)},
		Changed:        true,
		Predecessor:    governing,
		PredecessorEnd: maxEnd,
	}
}

// Apply runs dependency resolution then date-order enforcement, in that
// order, exactly once. A shift introduced by the date-order repair is not
// re-checked against predecessors; chains may need several planning passes
// to settle (see ApplyFixedPoint).
func Apply(t domain.Task, all []domain.Task) Result {
	dep := ResolveDependencyConflicts(t, all)
	ord := EnforceDateOrder(dep.Task)
	return Result{
		Task:           ord.Task,
		Warnings:       append(dep.Warnings, ord.Warnings...),
		Changed:        dep.Changed || ord.Changed,
		Predecessor:    dep.Predecessor,
		PredecessorEnd: dep.PredecessorEnd,
	}
}

// ApplyFixedPoint repeats Apply until the task stops moving or maxPasses is
// reached. Opt-in alternative to the default single pass; cycles among
// predecessors terminate via the pass limit.
func ApplyFixedPoint(t domain.Task, all []domain.Task, maxPasses int) Result {
	if maxPasses <= 0 {
		maxPasses = 10
	}
	out := Result{Task: t}
	for i := 0; i < maxPasses; i++ {
		step := Apply(out.Task, all)
		out.Task = step.Task
		out.Warnings = append(out.Warnings, step.Warnings...)
		if step.Changed {
			out.Changed = true
			out.Predecessor = step.Predecessor
			out.PredecessorEnd = step.PredecessorEnd
		}
		if !step.Changed {
			break
		}
	}
	return out
}

func findPredecessor(ref string, t domain.Task, all []domain.Task) (domain.Task, bool) {
	for _, cand := range all {
		if cand.ID == t.ID {
			continue
		}
		if cand.ProjectID != t.ProjectID {
			continue
		}
		if cand.ID == ref || (cand.WBS != "" && cand.WBS == ref) {
			return cand, true
		}
	}
	return domain.Task{}, false
}
