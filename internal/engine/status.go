package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"taskmesh/internal/deps"
	"taskmesh/internal/domain"
	"taskmesh/internal/events"
	"taskmesh/internal/lifecycle"
	"taskmesh/internal/repo"
)

// StatusUpdateOptions move a task through its lifecycle. Keeping the current
// status records a progress report instead.
type StatusUpdateOptions struct {
	TaskID      string
	Status      string
	Progress    *int
	HoursWorked float64
	Note        string
	// Blocker describes the reason when Status is blocked; Note is used when empty.
	Blocker       string
	NeedsHelpFrom string
	ActingTeam    string
}

func (e Engine) UpdateTaskStatus(ctx context.Context, opts StatusUpdateOptions) (domain.Task, error) {
	const op = "update_task_status"
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if !lifecycle.ValidTaskStatus(opts.Status) {
		return domain.Task{}, domain.Errorf(domain.ErrValidation, op, "unknown status %q", opts.Status)
	}
	if opts.Progress != nil && (*opts.Progress < 0 || *opts.Progress > 100) {
		return domain.Task{}, domain.Errorf(domain.ErrValidation, op, "progress must be between 0 and 100")
	}
	if opts.HoursWorked < 0 {
		return domain.Task{}, domain.Errorf(domain.ErrValidation, op, "hours worked must not be negative")
	}

	tx, r, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.getTask(ctx, r, op, opts.TaskID)
	if err != nil {
		return t, err
	}
	acting := e.actingTeam(ctx, r, opts.ActingTeam, t)
	from := t.Status
	to := opts.Status

	if from == to {
		if desc := strings.TrimSpace(opts.Blocker); to == domain.TaskBlocked && desc != "" {
			t, err = e.block(ctx, tx, r, op, t, desc, opts.NeedsHelpFrom, acting)
			if err != nil {
				return t, err
			}
			if opts.Progress == nil && opts.HoursWorked == 0 {
				return t, tx.Commit()
			}
		}
		t, err = e.reportProgress(ctx, tx, r, t, opts, acting)
		if err != nil {
			return t, err
		}
		return t, tx.Commit()
	}

	blockedFrom := ""
	if t.BlockedFrom != nil {
		blockedFrom = *t.BlockedFrom
	}
	if !lifecycle.CanTransitionTask(from, to, blockedFrom) {
		return t, domain.Errorf(domain.ErrInvalidTransition, op, "task %s cannot move from %s to %s", t.ID, from, to)
	}
	progress := t.Progress
	if opts.Progress != nil {
		progress = *opts.Progress
	}
	switch to {
	case domain.TaskReady, domain.TaskInProgress, domain.TaskReview, domain.TaskCompleted:
		if t.AssignedTeam == nil {
			return t, domain.Errorf(domain.ErrInvalidTransition, op, "task %s needs an assigned team before it can be %s", t.ID, to)
		}
	}
	if to == domain.TaskCompleted && progress < 100 {
		return t, domain.Errorf(domain.ErrInvalidTransition, op, "task %s needs progress 100 to complete, has %d", t.ID, progress)
	}
	if to != domain.TaskCompleted && progress >= 100 {
		return t, domain.Errorf(domain.ErrValidation, op, "progress 100 is only valid when completing")
	}
	blocker := strings.TrimSpace(opts.Blocker)
	if blocker == "" {
		blocker = strings.TrimSpace(opts.Note)
	}
	if to == domain.TaskBlocked && blocker == "" {
		return t, domain.Errorf(domain.ErrValidation, op, "blocking requires a blocker description")
	}

	if lifecycle.StartsWork(from, to) {
		p, err := e.getProject(ctx, r, op, t.ProjectID)
		if err != nil {
			return t, err
		}
		if !lifecycle.ProjectOpen(p.Status) {
			return t, domain.Errorf(domain.ErrInvalidTransition, op, "project %s is %s", p.ID, p.Status)
		}
	}

	// Dependency gates: starting and finishing are checked against a fresh graph.
	var gate deps.Gate
	gated := false
	switch {
	case lifecycle.StartsWork(from, to):
		gate, gated = deps.GateStart, true
	case to == domain.TaskCompleted:
		gate, gated = deps.GateFinish, true
	}
	if gated {
		g, _, err := e.loadGraph(ctx, r, t.ProjectID)
		if err != nil {
			return t, err
		}
		if pending := g.Unsatisfied(t.ID, gate); len(pending) > 0 {
			return e.blockOnDependencies(ctx, tx, r, t, pending, opts, acting)
		}
	}

	now := e.stamp()
	t.Status = to
	t.Progress = progress
	t.UpdatedAt = now
	if from == domain.TaskBlocked {
		t.BlockerDescription = nil
		t.BlockedFrom = nil
		t.BlockedByDependency = false
		t.NeedsHelpFrom = nil
	}
	switch to {
	case domain.TaskBlocked:
		t.BlockerDescription = &blocker
		t.BlockedFrom = &from
		t.BlockedByDependency = false
		t.NeedsHelpFrom = optionalString(opts.NeedsHelpFrom)
	case domain.TaskInProgress:
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
	case domain.TaskCompleted:
		t.CompletedAt = &now
		t.Progress = 100
	}
	if err := r.UpdateTask(ctx, t, from); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return t, domain.Errorf(domain.ErrInvalidTransition, op, "task %s changed concurrently", t.ID)
		}
		return t, fmt.Errorf("%s: %w", op, err)
	}
	if err := e.appendUpdate(ctx, tx, events.StatusChange(t.ID, acting, from, to, opts.Note, opts.HoursWorked)); err != nil {
		return t, err
	}
	if to == domain.TaskBlocked {
		if err := e.appendUpdate(ctx, tx, events.BlockerReported(t.ID, acting, blocker, helpNote(opts.NeedsHelpFrom))); err != nil {
			return t, err
		}
	}

	// Starting, finishing and cancelling are the events that can satisfy a
	// successor's edge.
	if lifecycle.StartsWork(from, to) || to == domain.TaskCompleted || to == domain.TaskCancelled {
		if _, err := e.unblock(ctx, tx, r, t.ProjectID, func(g *deps.Graph) []string { return successorsOf(g, t.ID) }); err != nil {
			return t, err
		}
	}
	if to == domain.TaskCompleted || to == domain.TaskCancelled {
		if err := e.recomputeProject(ctx, r, t.ProjectID); err != nil {
			return t, err
		}
	}
	t, err = e.getTask(ctx, r, op, t.ID)
	if err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.Log.Debug().Str("task", t.ID).Str("from", from).Str("to", to).Str("team", acting).Msg("task status changed")
	return t, nil
}

// blockOnDependencies commits the task as blocked and reports which edges are
// still open. The caller sees the stored state together with the error.
func (e Engine) blockOnDependencies(ctx context.Context, tx *sql.Tx, r repo.Repo, t domain.Task, pending []domain.Dependency, opts StatusUpdateOptions, acting string) (domain.Task, error) {
	const op = "update_task_status"
	from := t.Status
	parts := make([]string, 0, len(pending))
	for _, d := range pending {
		parts = append(parts, d.DependsOnTaskID+" ("+d.Kind+")")
	}
	desc := "waiting on predecessors: " + strings.Join(parts, ", ")

	t.Status = domain.TaskBlocked
	t.BlockedFrom = &from
	t.BlockedByDependency = true
	t.BlockerDescription = &desc
	t.UpdatedAt = e.stamp()
	if err := r.UpdateTask(ctx, t, from); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return t, domain.Errorf(domain.ErrInvalidTransition, op, "task %s changed concurrently", t.ID)
		}
		return t, fmt.Errorf("%s: %w", op, err)
	}
	if err := e.appendUpdate(ctx, tx, events.StatusChange(t.ID, acting, from, domain.TaskBlocked, opts.Note, opts.HoursWorked)); err != nil {
		return t, err
	}
	if err := e.appendUpdate(ctx, tx, events.BlockerReported(t.ID, domain.SystemTeam, desc, "")); err != nil {
		return t, err
	}
	t, err := e.getTask(ctx, r, op, t.ID)
	if err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.Log.Info().Str("task", t.ID).Str("from", from).Int("open_edges", len(pending)).Msg("task blocked on dependencies")
	return t, domain.Errorf(domain.ErrDependencyNotSatisfied, op, "task %s %s", t.ID, desc)
}

// reportProgress records progress, hours and a note without a status change.
func (e Engine) reportProgress(ctx context.Context, tx *sql.Tx, r repo.Repo, t domain.Task, opts StatusUpdateOptions, acting string) (domain.Task, error) {
	const op = "update_task_status"
	if domain.IsTerminal(t.Status) {
		return t, domain.Errorf(domain.ErrInvalidTransition, op, "task %s is %s", t.ID, t.Status)
	}
	oldProgress := strconv.Itoa(t.Progress)
	if opts.Progress != nil {
		if *opts.Progress >= 100 {
			return t, domain.Errorf(domain.ErrValidation, op, "progress 100 is only valid when completing")
		}
		t.Progress = *opts.Progress
	}
	newProgress := strconv.Itoa(t.Progress)
	t.UpdatedAt = e.stamp()
	if err := r.UpdateTask(ctx, t, t.Status); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return t, domain.Errorf(domain.ErrInvalidTransition, op, "task %s changed concurrently", t.ID)
		}
		return t, fmt.Errorf("%s: %w", op, err)
	}
	if err := e.appendUpdate(ctx, tx, domain.TaskUpdate{
		TaskID:      t.ID,
		TeamID:      acting,
		UpdateType:  domain.UpdateProgressReport,
		OldValue:    &oldProgress,
		NewValue:    &newProgress,
		Note:        opts.Note,
		HoursLogged: opts.HoursWorked,
	}); err != nil {
		return t, err
	}
	return e.getTask(ctx, r, op, t.ID)
}

// BlockerOptions report something that stops a task from progressing.
type BlockerOptions struct {
	TaskID        string
	Description   string
	NeedsHelpFrom string
	ActingTeam    string
}

// ReportBlocker blocks an active task, or replaces the description on a task
// that is already blocked.
func (e Engine) ReportBlocker(ctx context.Context, opts BlockerOptions) (domain.Task, error) {
	const op = "report_blocker"
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	desc := strings.TrimSpace(opts.Description)
	if desc == "" {
		return domain.Task{}, domain.Errorf(domain.ErrValidation, op, "description is required")
	}
	tx, r, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.getTask(ctx, r, op, opts.TaskID)
	if err != nil {
		return t, err
	}
	acting := e.actingTeam(ctx, r, opts.ActingTeam, t)
	t, err = e.block(ctx, tx, r, op, t, desc, opts.NeedsHelpFrom, acting)
	if err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.Log.Info().Str("task", t.ID).Str("team", acting).Msg("blocker reported")
	return t, nil
}

// block moves an active task to blocked, or replaces the reason on a task
// that is already blocked, and logs the blocker.
func (e Engine) block(ctx context.Context, tx *sql.Tx, r repo.Repo, op string, t domain.Task, desc, needsHelpFrom, acting string) (domain.Task, error) {
	from := t.Status
	switch {
	case lifecycle.CanBlockFrom(from):
		t.Status = domain.TaskBlocked
		t.BlockedFrom = &from
	case from == domain.TaskBlocked:
		// a caller-reported reason replaces an automatic dependency block
	default:
		return t, domain.Errorf(domain.ErrInvalidTransition, op, "task %s is %s and cannot be blocked", t.ID, from)
	}
	t.BlockerDescription = &desc
	t.BlockedByDependency = false
	t.NeedsHelpFrom = optionalString(needsHelpFrom)
	t.UpdatedAt = e.stamp()
	if err := r.UpdateTask(ctx, t, from); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return t, domain.Errorf(domain.ErrInvalidTransition, op, "task %s changed concurrently", t.ID)
		}
		return t, fmt.Errorf("%s: %w", op, err)
	}
	if from != domain.TaskBlocked {
		if err := e.appendUpdate(ctx, tx, events.StatusChange(t.ID, acting, from, domain.TaskBlocked, "", 0)); err != nil {
			return t, err
		}
	}
	if err := e.appendUpdate(ctx, tx, events.BlockerReported(t.ID, acting, desc, helpNote(needsHelpFrom))); err != nil {
		return t, err
	}
	return e.getTask(ctx, r, op, t.ID)
}

func helpNote(team string) string {
	team = strings.TrimSpace(team)
	if team == "" {
		return ""
	}
	return "needs help from " + team
}
