package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"taskmesh/internal/analytics"
	"taskmesh/internal/domain"
	"taskmesh/internal/lifecycle"
	"taskmesh/internal/matcher"
	"taskmesh/internal/repo"
)

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	Name          string
	Description   string
	Priority      string
	OwnerTeam     string
	CreatedBy     string
	StartDate     string
	TargetEndDate string
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	const op = "create_project"
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	opts.Name = strings.TrimSpace(opts.Name)
	opts.OwnerTeam = strings.TrimSpace(opts.OwnerTeam)
	if opts.Name == "" {
		return domain.Project{}, domain.Errorf(domain.ErrValidation, op, "name is required")
	}
	if opts.OwnerTeam == "" {
		return domain.Project{}, domain.Errorf(domain.ErrValidation, op, "owner team is required")
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !domain.ValidProjectPriority(opts.Priority) {
		return domain.Project{}, domain.Errorf(domain.ErrValidation, op, "unknown priority %q", opts.Priority)
	}
	start, err := parseOptionalDate(op, "start date", opts.StartDate)
	if err != nil {
		return domain.Project{}, err
	}
	target, err := parseOptionalDate(op, "target end date", opts.TargetEndDate)
	if err != nil {
		return domain.Project{}, err
	}
	if start != nil && target != nil && *target < *start {
		return domain.Project{}, domain.Errorf(domain.ErrValidation, op, "target end date precedes start date")
	}
	createdBy := strings.TrimSpace(opts.CreatedBy)
	if createdBy == "" {
		createdBy = opts.OwnerTeam
	}
	now := e.stamp()
	p := domain.Project{
		ID:            uuid.NewString(),
		Name:          opts.Name,
		Description:   opts.Description,
		Status:        domain.ProjectPlanning,
		Priority:      opts.Priority,
		OwnerTeam:     opts.OwnerTeam,
		CreatedBy:     createdBy,
		StartDate:     start,
		TargetEndDate: target,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.Repo.InsertProject(ctx, p); err != nil {
		return domain.Project{}, fmt.Errorf("%s: insert project: %w", op, err)
	}
	e.Log.Debug().Str("project", p.ID).Str("priority", p.Priority).Msg("project created")
	return p, nil
}

// SetProjectStatusOptions moves a project between caller-controlled statuses.
type SetProjectStatusOptions struct {
	ProjectID string
	Status    string
}

func (e Engine) SetProjectStatus(ctx context.Context, opts SetProjectStatusOptions) (domain.Project, error) {
	const op = "set_project_status"
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	tx, r, err := e.begin(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.getProject(ctx, r, op, opts.ProjectID)
	if err != nil {
		return p, err
	}
	if !lifecycle.CanTransitionProject(p.Status, opts.Status) {
		return p, domain.Errorf(domain.ErrInvalidTransition, op, "project %s cannot move from %s to %s", p.ID, p.Status, opts.Status)
	}
	now := e.stamp()
	if err := r.UpdateProjectStatus(ctx, p.ID, opts.Status, now, p.Status); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return p, domain.Errorf(domain.ErrInvalidTransition, op, "project %s changed concurrently", p.ID)
		}
		return p, fmt.Errorf("%s: %w", op, err)
	}
	if opts.Status == domain.ProjectActive {
		// tasks may have finished while the project was on hold
		if err := e.recomputeProject(ctx, r, p.ID); err != nil {
			return p, err
		}
	}
	p, err = e.getProject(ctx, r, op, p.ID)
	if err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	e.Log.Info().Str("project", p.ID).Str("status", p.Status).Msg("project status changed")
	return p, nil
}

// DeleteProject removes a project with its tasks and dependency edges. The
// audit log of its tasks is kept.
func (e Engine) DeleteProject(ctx context.Context, id string) error {
	const op = "delete_project"
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if strings.TrimSpace(id) == "" {
		return domain.Errorf(domain.ErrValidation, op, "project id is required")
	}
	err := e.Repo.DeleteProject(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Errorf(domain.ErrNotFound, op, "project %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// StatusSummary is derived from a project's tasks at read time.
type StatusSummary struct {
	TotalTasks      int            `json:"total_tasks"`
	CompletedTasks  int            `json:"completed_tasks"`
	BlockedTasks    int            `json:"blocked_tasks"`
	UnassignedTasks int            `json:"unassigned_tasks"`
	StatusCounts    map[string]int `json:"status_counts"`
	Progress        int            `json:"progress"`
	DependencyCount int            `json:"dependency_count"`
}

type ProjectStatus struct {
	Project      domain.Project      `json:"project"`
	Tasks        []domain.Task       `json:"tasks"`
	Dependencies []domain.Dependency `json:"dependencies"`
	Summary      StatusSummary       `json:"summary"`
}

func (e Engine) GetProjectStatus(ctx context.Context, id string) (ProjectStatus, error) {
	const op = "get_project_status"
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	tx, r, err := e.begin(ctx)
	if err != nil {
		return ProjectStatus{}, err
	}
	defer tx.Rollback()

	p, err := e.getProject(ctx, r, op, id)
	if err != nil {
		return ProjectStatus{}, err
	}
	tasks, err := r.ListTasks(ctx, repo.TaskFilters{ProjectID: id})
	if err != nil {
		return ProjectStatus{}, fmt.Errorf("%s: %w", op, err)
	}
	edges, err := r.ListDependencies(ctx, repo.DependencyFilters{ProjectID: id})
	if err != nil {
		return ProjectStatus{}, fmt.Errorf("%s: %w", op, err)
	}
	sum := StatusSummary{
		TotalTasks:      len(tasks),
		StatusCounts:    map[string]int{},
		Progress:        analytics.Progress(tasks),
		DependencyCount: len(edges),
	}
	for _, t := range tasks {
		sum.StatusCounts[t.Status]++
		switch t.Status {
		case domain.TaskCompleted:
			sum.CompletedTasks++
		case domain.TaskBlocked:
			sum.BlockedTasks++
		}
		if t.AssignedTeam == nil && !domain.IsTerminal(t.Status) {
			sum.UnassignedTasks++
		}
	}
	return ProjectStatus{Project: p, Tasks: tasks, Dependencies: edges, Summary: sum}, nil
}

func (e Engine) GetProjectAnalytics(ctx context.Context, id string) (analytics.Report, error) {
	const op = "get_project_analytics"
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	tx, r, err := e.begin(ctx)
	if err != nil {
		return analytics.Report{}, err
	}
	defer tx.Rollback()

	p, err := e.getProject(ctx, r, op, id)
	if err != nil {
		return analytics.Report{}, err
	}
	tasks, err := r.ListTasks(ctx, repo.TaskFilters{ProjectID: id})
	if err != nil {
		return analytics.Report{}, fmt.Errorf("%s: %w", op, err)
	}
	cfg := e.config()
	return analytics.Compute(analytics.Input{Project: p, Tasks: tasks, Now: e.now()}, analytics.Policy{
		DefaultVelocity:      cfg.Analytics.DefaultVelocity,
		DailyThroughputHours: cfg.Analytics.DailyThroughputHours,
	}), nil
}

// parseOptionalDate validates a YYYY-MM-DD or RFC3339 date and returns it
// normalized to YYYY-MM-DD.
func parseOptionalDate(op, field, in string) (*string, error) {
	in = strings.TrimSpace(in)
	if in == "" {
		return nil, nil
	}
	d, err := matcher.ParseDate(in)
	if err != nil {
		return nil, domain.Errorf(domain.ErrValidation, op, "%s %q is not a date", field, in)
	}
	s := d.Format("2006-01-02")
	return &s, nil
}
