package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"taskmesh/internal/domain"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Writer appends rows to the task_updates audit log. Rows are never updated
// or deleted once written.
type Writer struct {
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, q Execer, u domain.TaskUpdate) (domain.TaskUpdate, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	if u.TaskID == "" || u.UpdateType == "" {
		return u, fmt.Errorf("task update requires task id and type")
	}
	if u.HoursLogged < 0 {
		return u, fmt.Errorf("hours logged must not be negative")
	}
	if u.TeamID == "" {
		u.TeamID = domain.SystemTeam
	}
	u.CreatedAt = w.Now().UTC().Format(time.RFC3339)
	res, err := q.ExecContext(ctx, `INSERT INTO task_updates(task_id,team_id,update_type,old_value,new_value,note,hours_logged,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		u.TaskID, u.TeamID, u.UpdateType, nullableStringPtr(u.OldValue), nullableStringPtr(u.NewValue), nullable(u.Note), u.HoursLogged, u.CreatedAt)
	if err != nil {
		return u, fmt.Errorf("append %s update: %w", u.UpdateType, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		u.ID = id
	}
	return u, nil
}

// StatusChange builds a status_change update.
func StatusChange(taskID, teamID, from, to, note string, hours float64) domain.TaskUpdate {
	return domain.TaskUpdate{
		TaskID:      taskID,
		TeamID:      teamID,
		UpdateType:  domain.UpdateStatusChange,
		OldValue:    &from,
		NewValue:    &to,
		Note:        note,
		HoursLogged: hours,
	}
}

// AssignmentChange builds an assignment_change update; empty teams are recorded as null.
func AssignmentChange(taskID, teamID, from, to string) domain.TaskUpdate {
	u := domain.TaskUpdate{TaskID: taskID, TeamID: teamID, UpdateType: domain.UpdateAssignmentChange}
	if from != "" {
		u.OldValue = &from
	}
	if to != "" {
		u.NewValue = &to
	}
	return u
}

func BlockerReported(taskID, teamID, description, note string) domain.TaskUpdate {
	return domain.TaskUpdate{
		TaskID:     taskID,
		TeamID:     teamID,
		UpdateType: domain.UpdateBlockerReported,
		NewValue:   &description,
		Note:       note,
	}
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
