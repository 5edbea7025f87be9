package repo

import (
	"context"
	"database/sql"
	"strings"

	"taskmesh/internal/domain"
)

func (r Repo) InsertDependency(ctx context.Context, d domain.Dependency) error {
	_, err := r.q().ExecContext(ctx, `INSERT INTO task_dependencies(task_id,depends_on_task_id,kind,created_at) VALUES (?,?,?,?)`,
		d.TaskID, d.DependsOnTaskID, d.Kind, d.CreatedAt)
	return err
}

func (r Repo) GetDependency(ctx context.Context, taskID, dependsOnTaskID string) (domain.Dependency, error) {
	var d domain.Dependency
	err := r.q().QueryRowContext(ctx, `SELECT task_id,depends_on_task_id,kind,created_at FROM task_dependencies WHERE task_id=? AND depends_on_task_id=?`,
		taskID, dependsOnTaskID).Scan(&d.TaskID, &d.DependsOnTaskID, &d.Kind, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) DeleteDependency(ctx context.Context, taskID, dependsOnTaskID string) error {
	res, err := r.q().ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id=? AND depends_on_task_id=?`, taskID, dependsOnTaskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type DependencyFilters struct {
	// ProjectID selects every edge whose dependent task belongs to the project.
	ProjectID string
}

func (r Repo) ListDependencies(ctx context.Context, f DependencyFilters) ([]domain.Dependency, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "task_id IN (SELECT id FROM tasks WHERE project_id=?)")
		args = append(args, f.ProjectID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.q().QueryContext(ctx, `SELECT task_id,depends_on_task_id,kind,created_at FROM task_dependencies `+where+` ORDER BY created_at ASC, task_id ASC, depends_on_task_id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Dependency{}
	for rows.Next() {
		var d domain.Dependency
		if err := rows.Scan(&d.TaskID, &d.DependsOnTaskID, &d.Kind, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) CountDependencies(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.q().QueryRowContext(ctx, `SELECT count(*) FROM task_dependencies WHERE task_id IN (SELECT id FROM tasks WHERE project_id=?)`, projectID).Scan(&n)
	return n, err
}
