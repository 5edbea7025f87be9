package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"taskmesh/internal/deps"
	"taskmesh/internal/domain"
	"taskmesh/internal/events"
	"taskmesh/internal/lifecycle"
	"taskmesh/internal/repo"
)

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ProjectID      string
	Title          string
	Description    string
	Type           string
	Complexity     string
	RequiredSkills []string
	EstimatedHours *float64
	DueDate        string
	// Priority defaults to engine.default_task_priority when nil.
	Priority     *int
	AssignedTeam string
	ActingTeam   string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	const op = "create_task"
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	opts.Title = strings.TrimSpace(opts.Title)
	if opts.Title == "" {
		return domain.Task{}, domain.Errorf(domain.ErrValidation, op, "title is required")
	}
	if !domain.ValidComplexity(opts.Complexity) {
		return domain.Task{}, domain.Errorf(domain.ErrValidation, op, "unknown complexity %q", opts.Complexity)
	}
	if opts.EstimatedHours != nil && *opts.EstimatedHours < 0 {
		return domain.Task{}, domain.Errorf(domain.ErrValidation, op, "estimated hours must not be negative")
	}
	priority := e.config().Engine.DefaultTaskPriority
	if opts.Priority != nil {
		priority = *opts.Priority
	}
	if priority < domain.MinTaskPriority {
		return domain.Task{}, domain.Errorf(domain.ErrValidation, op, "priority must be at least %d", domain.MinTaskPriority)
	}
	due, err := parseOptionalDate(op, "due date", opts.DueDate)
	if err != nil {
		return domain.Task{}, err
	}

	tx, r, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	p, err := e.getProject(ctx, r, op, opts.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	if !lifecycle.ProjectOpen(p.Status) {
		return domain.Task{}, domain.Errorf(domain.ErrValidation, op, "project %s is %s", p.ID, p.Status)
	}
	now := e.stamp()
	t := domain.Task{
		ID:             uuid.NewString(),
		ProjectID:      p.ID,
		Title:          opts.Title,
		Description:    opts.Description,
		Type:           strings.TrimSpace(opts.Type),
		Complexity:     opts.Complexity,
		Status:         domain.TaskPending,
		RequiredSkills: normalizeSkills(opts.RequiredSkills),
		EstimatedHours: opts.EstimatedHours,
		DueDate:        due,
		Priority:       priority,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.InsertTask(ctx, t); err != nil {
		return domain.Task{}, fmt.Errorf("%s: insert task: %w", op, err)
	}
	if team := strings.TrimSpace(opts.AssignedTeam); team != "" {
		acting := strings.TrimSpace(opts.ActingTeam)
		if acting == "" {
			acting = team
		}
		if err := e.assignTx(ctx, tx, r, t, team, acting); err != nil {
			return domain.Task{}, err
		}
	}
	if err := e.recomputeProject(ctx, r, p.ID); err != nil {
		return domain.Task{}, err
	}
	t, err = e.getTask(ctx, r, op, t.ID)
	if err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.Log.Debug().Str("task", t.ID).Str("project", t.ProjectID).Msg("task created")
	return t, nil
}

// DeleteTask removes a task and every edge touching it. Successors that were
// only waiting on it are re-evaluated.
func (e Engine) DeleteTask(ctx context.Context, id string) error {
	const op = "delete_task"
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	tx, r, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.getTask(ctx, r, op, id)
	if err != nil {
		return err
	}
	g, _, err := e.loadGraph(ctx, r, t.ProjectID)
	if err != nil {
		return err
	}
	successors := successorsOf(g, t.ID)
	if err := r.DeleteTask(ctx, t.ID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := e.unblock(ctx, tx, r, t.ProjectID, func(*deps.Graph) []string { return successors }); err != nil {
		return err
	}
	if err := e.recomputeProject(ctx, r, t.ProjectID); err != nil {
		return err
	}
	return tx.Commit()
}

// ListTaskUpdates returns the audit log of a task. The log outlives the task,
// so an unknown id yields an empty list.
func (e Engine) ListTaskUpdates(ctx context.Context, taskID string) ([]domain.TaskUpdate, error) {
	const op = "list_task_updates"
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if strings.TrimSpace(taskID) == "" {
		return nil, domain.Errorf(domain.ErrValidation, op, "task id is required")
	}
	updates, err := e.Repo.ListTaskUpdates(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return updates, nil
}

// TeamTaskFilters select the tasks held by one team.
type TeamTaskFilters struct {
	TeamID           string
	Status           string
	IncludeCompleted bool
}

func (e Engine) ListTeamTasks(ctx context.Context, f TeamTaskFilters) ([]domain.Task, error) {
	const op = "list_team_tasks"
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	team := strings.TrimSpace(f.TeamID)
	if team == "" {
		return []domain.Task{}, nil
	}
	filters := repo.TaskFilters{AssignedTeam: team, Status: f.Status, OrderBy: repo.OrderPriority}
	if f.Status == "" && !f.IncludeCompleted {
		filters.ExcludeStatuses = []string{domain.TaskCompleted, domain.TaskCancelled}
	}
	tasks, err := e.Repo.ListTasks(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return tasks, nil
}

// AssignOptions claim a task for a team.
type AssignOptions struct {
	TaskID     string
	TeamID     string
	ActingTeam string
}

// AssignTask gives an unassigned pending or ready task to a team. The write
// is conditional, so of two concurrent claims exactly one wins.
func (e Engine) AssignTask(ctx context.Context, opts AssignOptions) (domain.Task, error) {
	const op = "assign_task"
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	team := strings.TrimSpace(opts.TeamID)
	if team == "" {
		return domain.Task{}, domain.Errorf(domain.ErrValidation, op, "team id is required")
	}
	acting := strings.TrimSpace(opts.ActingTeam)
	if acting == "" {
		acting = team
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
	if err := e.assignTx(ctx, tx, r, t, team, acting); err != nil {
		return t, err
	}
	t, err = e.getTask(ctx, r, op, t.ID)
	if err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.Log.Info().Str("task", t.ID).Str("team", team).Msg("task assigned")
	return t, nil
}

func (e Engine) assignTx(ctx context.Context, tx *sql.Tx, r repo.Repo, t domain.Task, team, acting string) error {
	const op = "assign_task"
	p, err := e.getProject(ctx, r, op, t.ProjectID)
	if err != nil {
		return err
	}
	if !lifecycle.ProjectOpen(p.Status) {
		return domain.Errorf(domain.ErrInvalidTransition, op, "project %s is %s", p.ID, p.Status)
	}
	err = r.AssignTask(ctx, t.ID, team, e.stamp())
	if errors.Is(err, repo.ErrConflict) {
		cur, gerr := e.getTask(ctx, r, op, t.ID)
		if gerr != nil {
			return gerr
		}
		if cur.AssignedTeam != nil {
			e.Log.Debug().Str("task", t.ID).Str("team", team).Str("holder", *cur.AssignedTeam).Msg("assignment conflict")
			return domain.Errorf(domain.ErrAlreadyAssigned, op, "task %s is already assigned to %s", t.ID, *cur.AssignedTeam)
		}
		return domain.Errorf(domain.ErrInvalidTransition, op, "task %s is %s and cannot be assigned", t.ID, cur.Status)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := e.appendUpdate(ctx, tx, events.AssignmentChange(t.ID, acting, "", team)); err != nil {
		return err
	}
	if t.Status == domain.TaskPending {
		if err := e.appendUpdate(ctx, tx, events.StatusChange(t.ID, acting, domain.TaskPending, domain.TaskReady, "assigned to "+team, 0)); err != nil {
			return err
		}
	}
	return e.activateProject(ctx, r, t.ProjectID)
}

// ReleaseOptions hand a claimed task back.
type ReleaseOptions struct {
	TaskID string
	TeamID string
}

// ReleaseTask returns a ready task held by the team to the shared pool.
func (e Engine) ReleaseTask(ctx context.Context, opts ReleaseOptions) (domain.Task, error) {
	const op = "release_task"
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	team := strings.TrimSpace(opts.TeamID)
	if team == "" {
		return domain.Task{}, domain.Errorf(domain.ErrValidation, op, "team id is required")
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
	err = r.ReleaseTask(ctx, t.ID, team, e.stamp())
	if errors.Is(err, repo.ErrConflict) {
		switch {
		case t.AssignedTeam == nil:
			return t, domain.Errorf(domain.ErrInvalidTransition, op, "task %s is not assigned", t.ID)
		case *t.AssignedTeam != team:
			return t, domain.Errorf(domain.ErrAlreadyAssigned, op, "task %s is held by %s", t.ID, *t.AssignedTeam)
		default:
			return t, domain.Errorf(domain.ErrInvalidTransition, op, "task %s is %s; only ready tasks can be released", t.ID, t.Status)
		}
	}
	if err != nil {
		return t, fmt.Errorf("%s: %w", op, err)
	}
	if err := e.appendUpdate(ctx, tx, events.AssignmentChange(t.ID, team, team, "")); err != nil {
		return t, err
	}
	t, err = e.getTask(ctx, r, op, t.ID)
	if err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.Log.Info().Str("task", t.ID).Str("team", team).Msg("task released")
	return t, nil
}
