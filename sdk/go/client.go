package taskmeshsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal taskmesh HTTP API client.
type Client struct {
	BaseURL string
	// TeamID is sent as X-Team-Id when no bearer token is set.
	TeamID      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, teamID string) *Client {
	return &Client{
		BaseURL: baseURL,
		TeamID:  teamID,
		Timeout: 10 * time.Second,
	}
}

// Project represents the API project model.
type Project struct {
	ID                   string  `json:"id"`
	Name                 string  `json:"name"`
	Description          string  `json:"description,omitempty"`
	Status               string  `json:"status"`
	Priority             string  `json:"priority"`
	OwnerTeam            string  `json:"owner_team"`
	CreatedBy            string  `json:"created_by"`
	StartDate            *string `json:"start_date,omitempty"`
	TargetEndDate        *string `json:"target_end_date,omitempty"`
	CompletionPercentage int     `json:"completion_percentage"`
	CreatedAt            string  `json:"created_at"`
	UpdatedAt            string  `json:"updated_at"`
}

// Task represents the API task model.
type Task struct {
	ID                  string   `json:"id"`
	ProjectID           string   `json:"project_id"`
	Title               string   `json:"title"`
	Description         string   `json:"description,omitempty"`
	Type                string   `json:"type,omitempty"`
	Complexity          string   `json:"complexity,omitempty"`
	Status              string   `json:"status"`
	AssignedTeam        *string  `json:"assigned_team,omitempty"`
	RequiredSkills      []string `json:"required_skills"`
	EstimatedHours      *float64 `json:"estimated_hours,omitempty"`
	ActualHours         float64  `json:"actual_hours"`
	DueDate             *string  `json:"due_date,omitempty"`
	Priority            int      `json:"priority"`
	Progress            int      `json:"progress"`
	BlockerDescription  *string  `json:"blocker_description,omitempty"`
	BlockedFrom         *string  `json:"blocked_from,omitempty"`
	BlockedByDependency bool     `json:"blocked_by_dependency,omitempty"`
	NeedsHelpFrom       *string  `json:"needs_help_from,omitempty"`
	CreatedAt           string   `json:"created_at"`
	UpdatedAt           string   `json:"updated_at"`
	StartedAt           *string  `json:"started_at,omitempty"`
	CompletedAt         *string  `json:"completed_at,omitempty"`
}

// Dependency is an ordering edge between two tasks.
type Dependency struct {
	TaskID          string `json:"task_id"`
	DependsOnTaskID string `json:"depends_on_task_id"`
	Kind            string `json:"kind"`
	CreatedAt       string `json:"created_at"`
}

// TaskUpdate is an audit log entry.
type TaskUpdate struct {
	ID          int64   `json:"id"`
	TaskID      string  `json:"task_id"`
	TeamID      string  `json:"team_id"`
	UpdateType  string  `json:"update_type"`
	OldValue    *string `json:"old_value,omitempty"`
	NewValue    *string `json:"new_value,omitempty"`
	Note        string  `json:"note,omitempty"`
	HoursLogged float64 `json:"hours_logged"`
	CreatedAt   string  `json:"created_at"`
}

// Match is a ranked work suggestion.
type Match struct {
	Task            Task    `json:"task"`
	ProjectPriority string  `json:"project_priority"`
	DaysUntilDue    *int    `json:"days_until_due,omitempty"`
	Urgency         string  `json:"urgency"`
	SkillMatch      float64 `json:"skill_match"`
}

// StatusSummary aggregates a project's tasks.
type StatusSummary struct {
	TotalTasks      int            `json:"total_tasks"`
	CompletedTasks  int            `json:"completed_tasks"`
	BlockedTasks    int            `json:"blocked_tasks"`
	UnassignedTasks int            `json:"unassigned_tasks"`
	StatusCounts    map[string]int `json:"status_counts"`
	Progress        int            `json:"progress"`
	DependencyCount int            `json:"dependency_count"`
}

// ProjectStatus is the project with its tasks and edges.
type ProjectStatus struct {
	Project      Project       `json:"project"`
	Tasks        []Task        `json:"tasks"`
	Dependencies []Dependency  `json:"dependencies"`
	Summary      StatusSummary `json:"summary"`
}

// Analytics is the project analytics block.
type Analytics struct {
	ProjectID               string         `json:"project_id"`
	Progress                int            `json:"progress"`
	TotalTasks              int            `json:"total_tasks"`
	CompletedTasks          int            `json:"completed_tasks"`
	BlockedTasks            int            `json:"blocked_tasks"`
	StatusCounts            map[string]int `json:"status_counts"`
	VelocityRatio           float64        `json:"velocity_ratio"`
	VelocitySamples         int            `json:"velocity_samples"`
	EstimatedRemainingHours float64        `json:"estimated_remaining_hours"`
	LoggedHours             float64        `json:"logged_hours"`
	DaysRemaining           *int           `json:"days_remaining,omitempty"`
	ProjectedCompletion     *string        `json:"projected_completion,omitempty"`
	Health                  string         `json:"health"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one; Task is set for dependency_not_satisfied.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Task       *Task
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProjectInput are the fields of a new project.
type CreateProjectInput struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Priority      string `json:"priority,omitempty"`
	OwnerTeam     string `json:"owner_team,omitempty"`
	CreatedBy     string `json:"created_by,omitempty"`
	StartDate     string `json:"start_date,omitempty"`
	TargetEndDate string `json:"target_end_date,omitempty"`
}

// CreateTaskInput are the fields of a new task.
type CreateTaskInput struct {
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Type           string   `json:"type,omitempty"`
	Complexity     string   `json:"complexity,omitempty"`
	RequiredSkills []string `json:"required_skills,omitempty"`
	EstimatedHours *float64 `json:"estimated_hours,omitempty"`
	DueDate        string   `json:"due_date,omitempty"`
	Priority       *int     `json:"priority,omitempty"`
	AssignedTeam   string   `json:"assigned_team,omitempty"`
}

// StatusInput moves a task. Keeping the current status logs progress only.
type StatusInput struct {
	Status        string   `json:"status"`
	Progress      *int     `json:"progress,omitempty"`
	HoursWorked   *float64 `json:"hours_worked,omitempty"`
	Note          string   `json:"note,omitempty"`
	Blocker       string   `json:"blocker,omitempty"`
	NeedsHelpFrom string   `json:"needs_help_from,omitempty"`
}

// WorkSearchInput asks for claimable work. Empty fields fall back to the
// server's team registry.
type WorkSearchInput struct {
	TeamID        string   `json:"team_id,omitempty"`
	Skills        []string `json:"skills,omitempty"`
	CapacityHours *float64 `json:"capacity_hours,omitempty"`
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "v1/health", nil, nil)
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, in CreateProjectInput) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "v1/projects", in, &resp)
	return resp, err
}

// ProjectStatus fetches a project with its tasks and summary.
func (c *Client) ProjectStatus(ctx context.Context, projectID string) (ProjectStatus, error) {
	var resp ProjectStatus
	err := c.do(ctx, http.MethodGet, projectPath(projectID, "status"), nil, &resp)
	return resp, err
}

// ProjectAnalytics fetches the analytics block of a project.
func (c *Client) ProjectAnalytics(ctx context.Context, projectID string) (Analytics, error) {
	var resp Analytics
	err := c.do(ctx, http.MethodGet, projectPath(projectID, "analytics"), nil, &resp)
	return resp, err
}

// SetProjectStatus holds, resumes or cancels a project.
func (c *Client) SetProjectStatus(ctx context.Context, projectID, status string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPatch, projectPath(projectID, "status"), map[string]any{"status": status}, &resp)
	return resp, err
}

// DeleteProject removes a project with its tasks.
func (c *Client) DeleteProject(ctx context.Context, projectID string) error {
	return c.do(ctx, http.MethodDelete, projectPath(projectID, ""), nil, nil)
}

// CreateTask creates a task in a project.
func (c *Client) CreateTask(ctx context.Context, projectID string, in CreateTaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, projectPath(projectID, "tasks"), in, &resp)
	return resp, err
}

// AddDependency makes taskID depend on dependsOn. An empty kind means finish_to_start.
func (c *Client) AddDependency(ctx context.Context, taskID, dependsOn, kind string) (Dependency, error) {
	body := map[string]any{"depends_on_task_id": dependsOn}
	if kind != "" {
		body["kind"] = kind
	}
	var resp Dependency
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "dependencies"), body, &resp)
	return resp, err
}

// RemoveDependency deletes an edge.
func (c *Client) RemoveDependency(ctx context.Context, taskID, dependsOn string) error {
	return c.do(ctx, http.MethodDelete, taskPath(taskID, "dependencies/"+url.PathEscape(dependsOn)), nil, nil)
}

// AssignTask claims a task. An empty team means the caller's team.
func (c *Client) AssignTask(ctx context.Context, taskID, teamID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "assign"), teamBody(teamID), &resp)
	return resp, err
}

// ReleaseTask hands a ready task back.
func (c *Client) ReleaseTask(ctx context.Context, taskID, teamID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "release"), teamBody(teamID), &resp)
	return resp, err
}

// UpdateStatus moves a task through its lifecycle.
func (c *Client) UpdateStatus(ctx context.Context, taskID string, in StatusInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, taskPath(taskID, "status"), in, &resp)
	return resp, err
}

// ReportBlocker blocks a task.
func (c *Client) ReportBlocker(ctx context.Context, taskID, description, needsHelpFrom string) (Task, error) {
	body := map[string]any{"description": description}
	if needsHelpFrom != "" {
		body["needs_help_from"] = needsHelpFrom
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "blocker"), body, &resp)
	return resp, err
}

// TaskUpdates lists the audit log of a task.
func (c *Client) TaskUpdates(ctx context.Context, taskID string) ([]TaskUpdate, error) {
	var resp struct {
		Items []TaskUpdate `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, taskPath(taskID, "updates"), nil, &resp)
	return resp.Items, err
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodDelete, taskPath(taskID, ""), nil, nil)
}

// FindWork ranks claimable tasks for a team.
func (c *Client) FindWork(ctx context.Context, in WorkSearchInput) ([]Match, error) {
	var resp struct {
		Items []Match `json:"items"`
	}
	err := c.do(ctx, http.MethodPost, "v1/work/search", in, &resp)
	return resp.Items, err
}

// TeamTasks lists the tasks a team holds.
func (c *Client) TeamTasks(ctx context.Context, teamID, status string, includeCompleted bool) ([]Task, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if includeCompleted {
		q.Set("include_completed", "true")
	}
	endpoint := fmt.Sprintf("v1/teams/%s/tasks", url.PathEscape(teamID))
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Task `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// DevToken asks a server with a configured secret for a team token.
func (c *Client) DevToken(ctx context.Context, teamID string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "v1/auth/dev/token", map[string]any{"team_id": teamID}, &resp)
	return resp.Token, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.TeamID != "":
		req.Header.Set("X-Team-Id", c.TeamID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, b)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Details struct {
				Task *Task `json:"task"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Task = env.Error.Details.Task
	}
	return apiErr
}

func teamBody(teamID string) map[string]any {
	body := map[string]any{}
	if teamID != "" {
		body["team_id"] = teamID
	}
	return body
}

func projectPath(projectID, p string) string {
	endpoint := "v1/projects/" + url.PathEscape(projectID)
	if p != "" {
		endpoint += "/" + strings.TrimLeft(p, "/")
	}
	return endpoint
}

func taskPath(taskID, p string) string {
	endpoint := "v1/tasks/" + url.PathEscape(taskID)
	if p != "" {
		endpoint += "/" + strings.TrimLeft(p, "/")
	}
	return endpoint
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
