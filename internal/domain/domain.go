package domain

// Project statuses.
const (
	ProjectPlanning  = "planning"
	ProjectActive    = "active"
	ProjectOnHold    = "on_hold"
	ProjectCompleted = "completed"
	ProjectCancelled = "cancelled"
)

// Project priorities, most urgent first.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

// MinTaskPriority is the most urgent task priority; larger values run later.
const MinTaskPriority = 1

// Task statuses.
const (
	TaskPending    = "pending"
	TaskReady      = "ready"
	TaskInProgress = "in_progress"
	TaskReview     = "review"
	TaskCompleted  = "completed"
	TaskBlocked    = "blocked"
	TaskCancelled  = "cancelled"
)

// Dependency kinds.
const (
	FinishToStart  = "finish_to_start"
	StartToStart   = "start_to_start"
	FinishToFinish = "finish_to_finish"
	StartToFinish  = "start_to_finish"
)

// TaskUpdate types.
const (
	UpdateStatusChange     = "status_change"
	UpdateAssignmentChange = "assignment_change"
	UpdateBlockerReported  = "blocker_reported"
	UpdateProgressReport   = "progress_report"
)

// SystemTeam is the acting team recorded for engine-initiated changes.
const SystemTeam = "system"

type Project struct {
	ID                   string  `json:"id"`
	Name                 string  `json:"name"`
	Description          string  `json:"description,omitempty"`
	Status               string  `json:"status" enum:"planning,active,on_hold,completed,cancelled"`
	Priority             string  `json:"priority" enum:"critical,high,medium,low"`
	OwnerTeam            string  `json:"owner_team"`
	CreatedBy            string  `json:"created_by"`
	StartDate            *string `json:"start_date,omitempty" format:"date"`
	TargetEndDate        *string `json:"target_end_date,omitempty" format:"date"`
	CompletionPercentage int     `json:"completion_percentage"`
	CreatedAt            string  `json:"created_at" format:"date-time"`
	UpdatedAt            string  `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID                  string   `json:"id"`
	ProjectID           string   `json:"project_id"`
	Title               string   `json:"title"`
	Description         string   `json:"description,omitempty"`
	Type                string   `json:"type,omitempty"`
	Complexity          string   `json:"complexity,omitempty" enum:"trivial,easy,medium,hard,expert"`
	Status              string   `json:"status" enum:"pending,ready,in_progress,review,completed,blocked,cancelled"`
	AssignedTeam        *string  `json:"assigned_team,omitempty"`
	RequiredSkills      []string `json:"required_skills"`
	EstimatedHours      *float64 `json:"estimated_hours,omitempty"`
	ActualHours         float64  `json:"actual_hours"`
	DueDate             *string  `json:"due_date,omitempty" format:"date"`
	Priority            int      `json:"priority"`
	Progress            int      `json:"progress"`
	BlockerDescription  *string  `json:"blocker_description,omitempty"`
	BlockedFrom         *string  `json:"blocked_from,omitempty"`
	BlockedByDependency bool     `json:"blocked_by_dependency,omitempty"`
	NeedsHelpFrom       *string  `json:"needs_help_from,omitempty"`
	CreatedAt           string   `json:"created_at" format:"date-time"`
	UpdatedAt           string   `json:"updated_at" format:"date-time"`
	StartedAt           *string  `json:"started_at,omitempty" format:"date-time"`
	CompletedAt         *string  `json:"completed_at,omitempty" format:"date-time"`
}

// Dependency is an edge: TaskID depends on DependsOnTaskID.
type Dependency struct {
	TaskID          string `json:"task_id"`
	DependsOnTaskID string `json:"depends_on_task_id"`
	Kind            string `json:"kind" enum:"finish_to_start,start_to_start,finish_to_finish,start_to_finish"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

type TaskUpdate struct {
	ID          int64   `json:"id"`
	TaskID      string  `json:"task_id"`
	TeamID      string  `json:"team_id"`
	UpdateType  string  `json:"update_type" enum:"status_change,assignment_change,blocker_reported,progress_report"`
	OldValue    *string `json:"old_value,omitempty"`
	NewValue    *string `json:"new_value,omitempty"`
	Note        string  `json:"note,omitempty"`
	HoursLogged float64 `json:"hours_logged"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

// Team is a registry entry describing what a team can take on.
type Team struct {
	ID            string   `json:"id" yaml:"id"`
	Skills        []string `json:"skills" yaml:"skills"`
	CapacityHours *float64 `json:"capacity_hours,omitempty" yaml:"capacity_hours"`
}

// ValidProjectPriority reports whether p is a known project priority.
func ValidProjectPriority(p string) bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// PriorityRank orders project priorities; unknown values sort last.
func PriorityRank(p string) int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

func ValidDependencyKind(k string) bool {
	switch k {
	case FinishToStart, StartToStart, FinishToFinish, StartToFinish:
		return true
	}
	return false
}

func ValidComplexity(c string) bool {
	switch c {
	case "", "trivial", "easy", "medium", "hard", "expert":
		return true
	}
	return false
}

// IsTerminal reports whether a task status accepts no further transitions.
func IsTerminal(status string) bool {
	return status == TaskCompleted || status == TaskCancelled
}
