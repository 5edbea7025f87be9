package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskmesh/internal/deps"
	"taskmesh/internal/domain"
	"taskmesh/internal/repo"
)

// DependencyOptions describe a new edge: TaskID depends on DependsOnTaskID.
type DependencyOptions struct {
	TaskID          string
	DependsOnTaskID string
	// Kind defaults to finish_to_start.
	Kind string
}

// AddDependency stores an edge after checking, in the same transaction, that
// it would not close a cycle. Existing task statuses are not changed.
func (e Engine) AddDependency(ctx context.Context, opts DependencyOptions) (domain.Dependency, error) {
	const op = "add_dependency"
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	kind := strings.TrimSpace(opts.Kind)
	if kind == "" {
		kind = domain.FinishToStart
	}
	if !domain.ValidDependencyKind(kind) {
		return domain.Dependency{}, domain.Errorf(domain.ErrValidation, op, "unknown dependency kind %q", kind)
	}
	if opts.TaskID != "" && opts.TaskID == opts.DependsOnTaskID {
		return domain.Dependency{}, domain.Errorf(domain.ErrCyclicDependency, op, "task %s cannot depend on itself", opts.TaskID)
	}

	tx, r, err := e.begin(ctx)
	if err != nil {
		return domain.Dependency{}, err
	}
	defer tx.Rollback()

	task, err := e.getTask(ctx, r, op, opts.TaskID)
	if err != nil {
		return domain.Dependency{}, err
	}
	pred, err := e.getTask(ctx, r, op, opts.DependsOnTaskID)
	if err != nil {
		return domain.Dependency{}, err
	}
	if task.ProjectID != pred.ProjectID {
		return domain.Dependency{}, domain.Errorf(domain.ErrValidation, op, "tasks %s and %s belong to different projects", task.ID, pred.ID)
	}
	if _, err := r.GetDependency(ctx, task.ID, pred.ID); err == nil {
		return domain.Dependency{}, domain.Errorf(domain.ErrValidation, op, "task %s already depends on %s", task.ID, pred.ID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Dependency{}, fmt.Errorf("%s: %w", op, err)
	}
	g, _, err := e.loadGraph(ctx, r, task.ProjectID)
	if err != nil {
		return domain.Dependency{}, err
	}
	if path, cyclic := g.CyclePath(task.ID, pred.ID); cyclic {
		return domain.Dependency{}, domain.Errorf(domain.ErrCyclicDependency, op, "edge would close cycle %s", strings.Join(path, " -> "))
	}
	d := domain.Dependency{
		TaskID:          task.ID,
		DependsOnTaskID: pred.ID,
		Kind:            kind,
		CreatedAt:       e.stamp(),
	}
	if err := r.InsertDependency(ctx, d); err != nil {
		return domain.Dependency{}, fmt.Errorf("%s: insert: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Dependency{}, err
	}
	e.Log.Debug().Str("task", d.TaskID).Str("depends_on", d.DependsOnTaskID).Str("kind", d.Kind).Msg("dependency added")
	return d, nil
}

// RemoveDependency deletes an edge and re-evaluates the dependent task when
// it was waiting on its predecessors.
func (e Engine) RemoveDependency(ctx context.Context, taskID, dependsOnTaskID string) error {
	const op = "remove_dependency"
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	tx, r, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	task, err := e.getTask(ctx, r, op, taskID)
	if err != nil {
		return err
	}
	if err := r.DeleteDependency(ctx, task.ID, dependsOnTaskID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Errorf(domain.ErrNotFound, op, "task %s does not depend on %s", task.ID, dependsOnTaskID)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := e.unblock(ctx, tx, r, task.ProjectID, func(*deps.Graph) []string { return []string{task.ID} }); err != nil {
		return err
	}
	return tx.Commit()
}
