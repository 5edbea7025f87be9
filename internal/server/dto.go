package server

import (
	"taskmesh/internal/analytics"
	"taskmesh/internal/domain"
	"taskmesh/internal/engine"
	"taskmesh/internal/matcher"
)

// Request payloads

type CreateProjectRequest struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Priority      string `json:"priority,omitempty" enum:"critical,high,medium,low"`
	OwnerTeam     string `json:"owner_team,omitempty"`
	CreatedBy     string `json:"created_by,omitempty"`
	StartDate     string `json:"start_date,omitempty"`
	TargetEndDate string `json:"target_end_date,omitempty"`
}

type SetProjectStatusRequest struct {
	Status string `json:"status" enum:"planning,active,on_hold,completed,cancelled"`
}

type CreateTaskRequest struct {
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Type           string   `json:"type,omitempty"`
	Complexity     string   `json:"complexity,omitempty" enum:"trivial,easy,medium,hard,expert"`
	RequiredSkills []string `json:"required_skills,omitempty"`
	EstimatedHours *float64 `json:"estimated_hours,omitempty" minimum:"0"`
	DueDate        string   `json:"due_date,omitempty"`
	Priority       *int     `json:"priority,omitempty" minimum:"1"`
	AssignedTeam   string   `json:"assigned_team,omitempty"`
}

type AddDependencyRequest struct {
	DependsOnTaskID string `json:"depends_on_task_id"`
	Kind            string `json:"kind,omitempty" enum:"finish_to_start,start_to_start,finish_to_finish,start_to_finish"`
}

type TeamRequest struct {
	// TeamID defaults to the caller's team.
	TeamID string `json:"team_id,omitempty"`
}

type UpdateStatusRequest struct {
	Status        string   `json:"status" enum:"pending,ready,in_progress,review,completed,blocked,cancelled"`
	Progress      *int     `json:"progress,omitempty" minimum:"0" maximum:"100"`
	HoursWorked   *float64 `json:"hours_worked,omitempty" minimum:"0"`
	Note          string   `json:"note,omitempty"`
	Blocker       string   `json:"blocker,omitempty"`
	NeedsHelpFrom string   `json:"needs_help_from,omitempty"`
}

type ReportBlockerRequest struct {
	Description   string `json:"description"`
	NeedsHelpFrom string `json:"needs_help_from,omitempty"`
}

type WorkSearchRequest struct {
	TeamID        string   `json:"team_id,omitempty"`
	Skills        []string `json:"skills,omitempty"`
	CapacityHours *float64 `json:"capacity_hours,omitempty" minimum:"0"`
}

type DevTokenRequest struct {
	TeamID string `json:"team_id"`
}

// Response payloads

type ProjectStatusResponse = engine.ProjectStatus

type AnalyticsResponse = analytics.Report

type TaskListResponse struct {
	Items []domain.Task `json:"items"`
}

type UpdateListResponse struct {
	Items []domain.TaskUpdate `json:"items"`
}

type MatchListResponse struct {
	Items []matcher.Match `json:"items"`
}

type DevTokenResponse struct {
	Token string `json:"token"`
}

func nonNilTasks(items []domain.Task) []domain.Task {
	if items == nil {
		return []domain.Task{}
	}
	return items
}

func nonNilUpdates(items []domain.TaskUpdate) []domain.TaskUpdate {
	if items == nil {
		return []domain.TaskUpdate{}
	}
	return items
}
