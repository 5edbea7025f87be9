package repo

import (
	"context"
	"database/sql"

	"taskmesh/internal/domain"
)

// ListTaskUpdates returns the audit log of a task, oldest first.
func (r Repo) ListTaskUpdates(ctx context.Context, taskID string) ([]domain.TaskUpdate, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT id,task_id,team_id,update_type,old_value,new_value,note,hours_logged,created_at
FROM task_updates WHERE task_id=? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.TaskUpdate{}
	for rows.Next() {
		var u domain.TaskUpdate
		var oldValue, newValue, note sql.NullString
		if err := rows.Scan(&u.ID, &u.TaskID, &u.TeamID, &u.UpdateType, &oldValue, &newValue, &note, &u.HoursLogged, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.OldValue = stringPtr(oldValue)
		u.NewValue = stringPtr(newValue)
		if note.Valid {
			u.Note = note.String
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) CountTaskUpdates(ctx context.Context, taskID, updateType string) (int, error) {
	var n int
	err := r.q().QueryRowContext(ctx, `SELECT count(*) FROM task_updates WHERE task_id=? AND (?='' OR update_type=?)`, taskID, updateType, updateType).Scan(&n)
	return n, err
}
