package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"taskmesh/internal/domain"
)

const taskColumns = `t.id,t.project_id,t.title,t.description,t.type,t.complexity,t.status,t.assigned_team,t.required_skills,t.estimated_hours,
(SELECT COALESCE(SUM(u.hours_logged),0) FROM task_updates u WHERE u.task_id=t.id) AS actual_hours,
t.due_date,t.priority,t.progress,t.blocker_description,t.blocked_from,t.blocked_by_dependency,t.needs_help_from,t.created_at,t.updated_at,t.started_at,t.completed_at`

func scanTask(row rowScanner, extra ...any) (domain.Task, error) {
	var t domain.Task
	var description, taskType, complexity, assigned, dueDate, blocker, blockedFrom, needsHelp, startedAt, completedAt sql.NullString
	var skills string
	var estimate sql.NullFloat64
	var blockedByDep int
	dest := []any{&t.ID, &t.ProjectID, &t.Title, &description, &taskType, &complexity, &t.Status, &assigned, &skills, &estimate,
		&t.ActualHours, &dueDate, &t.Priority, &t.Progress, &blocker, &blockedFrom, &blockedByDep, &needsHelp,
		&t.CreatedAt, &t.UpdatedAt, &startedAt, &completedAt}
	dest = append(dest, extra...)
	err := row.Scan(dest...)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if description.Valid {
		t.Description = description.String
	}
	if taskType.Valid {
		t.Type = taskType.String
	}
	if complexity.Valid {
		t.Complexity = complexity.String
	}
	t.AssignedTeam = stringPtr(assigned)
	if estimate.Valid {
		v := estimate.Float64
		t.EstimatedHours = &v
	}
	t.DueDate = stringPtr(dueDate)
	t.BlockerDescription = stringPtr(blocker)
	t.BlockedFrom = stringPtr(blockedFrom)
	t.BlockedByDependency = blockedByDep != 0
	t.NeedsHelpFrom = stringPtr(needsHelp)
	t.StartedAt = stringPtr(startedAt)
	t.CompletedAt = stringPtr(completedAt)
	t.RequiredSkills = []string{}
	if skills != "" {
		if err := json.Unmarshal([]byte(skills), &t.RequiredSkills); err != nil {
			return t, fmt.Errorf("task %s required_skills: %w", t.ID, err)
		}
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, t domain.Task) error {
	skills, err := marshalSkills(t.RequiredSkills)
	if err != nil {
		return err
	}
	_, err = r.q().ExecContext(ctx, `INSERT INTO tasks(id,project_id,title,description,type,complexity,status,assigned_team,required_skills,estimated_hours,due_date,priority,progress,blocker_description,blocked_from,blocked_by_dependency,needs_help_from,created_at,updated_at,started_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.Title, nullable(t.Description), nullable(t.Type), nullable(t.Complexity), t.Status,
		nullableStringPtr(t.AssignedTeam), skills, nullableFloatPtr(t.EstimatedHours), nullableStringPtr(t.DueDate),
		t.Priority, t.Progress, nullableStringPtr(t.BlockerDescription), nullableStringPtr(t.BlockedFrom), boolInt(t.BlockedByDependency),
		nullableStringPtr(t.NeedsHelpFrom), t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.StartedAt), nullableStringPtr(t.CompletedAt))
	return err
}

// UpdateTask writes every mutable column of t. When expectedStatus is set the
// write only applies if the stored status still matches it.
func (r Repo) UpdateTask(ctx context.Context, t domain.Task, expectedStatus string) error {
	query := `UPDATE tasks SET title=?, description=?, type=?, complexity=?, status=?, assigned_team=?, estimated_hours=?, due_date=?, priority=?, progress=?,
blocker_description=?, blocked_from=?, blocked_by_dependency=?, needs_help_from=?, updated_at=?, started_at=?, completed_at=? WHERE id=?`
	args := []any{t.Title, nullable(t.Description), nullable(t.Type), nullable(t.Complexity), t.Status, nullableStringPtr(t.AssignedTeam),
		nullableFloatPtr(t.EstimatedHours), nullableStringPtr(t.DueDate), t.Priority, t.Progress,
		nullableStringPtr(t.BlockerDescription), nullableStringPtr(t.BlockedFrom), boolInt(t.BlockedByDependency), nullableStringPtr(t.NeedsHelpFrom),
		t.UpdatedAt, nullableStringPtr(t.StartedAt), nullableStringPtr(t.CompletedAt), t.ID}
	if expectedStatus != "" {
		query += ` AND status=?`
		args = append(args, expectedStatus)
	}
	res, err := r.q().ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// AssignTask sets the team on an unassigned pending or ready task and moves
// it to ready. It returns ErrConflict when another writer got there first.
func (r Repo) AssignTask(ctx context.Context, id, teamID, updatedAt string) error {
	res, err := r.q().ExecContext(ctx, `UPDATE tasks SET assigned_team=?, status='ready', updated_at=?
WHERE id=? AND assigned_team IS NULL AND status IN ('pending','ready')`, teamID, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// ReleaseTask clears the team on a ready task held by teamID.
func (r Repo) ReleaseTask(ctx context.Context, id, teamID, updatedAt string) error {
	res, err := r.q().ExecContext(ctx, `UPDATE tasks SET assigned_team=NULL, updated_at=?
WHERE id=? AND assigned_team=? AND status='ready'`, updatedAt, id, teamID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.q().QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.id=?`, id))
}

func (r Repo) DeleteTask(ctx context.Context, id string) error {
	res, err := r.q().ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// OrderPriority sorts ListTasks by task priority then due date; the default
// order is creation time.
const OrderPriority = "priority"

type TaskFilters struct {
	ProjectID       string
	Status          string
	ExcludeStatuses []string
	AssignedTeam    string
	OrderBy         string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "t.project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "t.status=?")
		args = append(args, f.Status)
	}
	if len(f.ExcludeStatuses) > 0 {
		clauses = append(clauses, "t.status NOT IN ("+placeholders(len(f.ExcludeStatuses))+")")
		for _, s := range f.ExcludeStatuses {
			args = append(args, s)
		}
	}
	if f.AssignedTeam != "" {
		clauses = append(clauses, "t.assigned_team=?")
		args = append(args, f.AssignedTeam)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	order := ` ORDER BY t.created_at ASC, t.id ASC`
	if f.OrderBy == OrderPriority {
		order = ` ORDER BY t.priority ASC, CASE WHEN t.due_date IS NULL THEN 1 ELSE 0 END, t.due_date ASC, t.created_at ASC, t.id ASC`
	}
	query := `SELECT ` + taskColumns + ` FROM tasks t ` + where + order
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ClaimableTask is an unassigned task together with the project fields the
// matcher ranks on.
type ClaimableTask struct {
	Task            domain.Task
	ProjectPriority string
	ProjectStatus   string
}

// ListClaimable returns unassigned pending and ready tasks of open projects.
func (r Repo) ListClaimable(ctx context.Context) ([]ClaimableTask, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT `+taskColumns+`, p.priority, p.status FROM tasks t
JOIN projects p ON p.id=t.project_id
WHERE t.assigned_team IS NULL AND t.status IN ('pending','ready') AND p.status IN ('planning','active')
ORDER BY t.created_at ASC, t.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ClaimableTask
	for rows.Next() {
		var c ClaimableTask
		t, err := scanTask(rows, &c.ProjectPriority, &c.ProjectStatus)
		if err != nil {
			return nil, err
		}
		c.Task = t
		res = append(res, c)
	}
	return res, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
