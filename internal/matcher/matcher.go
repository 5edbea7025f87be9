// Package matcher selects the unassigned work a team may claim and ranks it
// by urgency. It is read-only and never assigns anything.
package matcher

import (
	"sort"
	"strings"
	"time"

	"taskmesh/internal/domain"
)

// Urgency labels attached to every match.
const (
	UrgencyOverdue = "overdue"
	UrgencyUrgent  = "urgent"
	UrgencySoon    = "soon"
	UrgencyNormal  = "normal"
	UrgencyUndated = "undated"
)

type Request struct {
	TeamID        string
	Skills        []string
	CapacityHours *float64
}

// Candidate is a task plus the facts eligibility depends on that live
// outside the task row.
type Candidate struct {
	Task            domain.Task
	ProjectPriority string
	ProjectStatus   string
	// StartUnblocked reports whether every start-gating predecessor is satisfied.
	StartUnblocked bool
}

type Policy struct {
	UrgentWithinDays  int
	SoonWithinDays    int
	NoDueSentinelDays int
}

type Match struct {
	Task            domain.Task `json:"task"`
	ProjectPriority string      `json:"project_priority"`
	DaysUntilDue    *int        `json:"days_until_due,omitempty"`
	Urgency         string      `json:"urgency" enum:"overdue,urgent,soon,normal,undated"`
	SkillMatch      float64     `json:"skill_match"`

	urgencyKey int
}

// Eligible reports whether a team described by req may claim c.
func Eligible(c Candidate, req Request) bool {
	t := c.Task
	if t.AssignedTeam != nil {
		return false
	}
	if c.ProjectStatus != domain.ProjectPlanning && c.ProjectStatus != domain.ProjectActive {
		return false
	}
	switch t.Status {
	case domain.TaskReady:
		if !c.StartUnblocked {
			return false
		}
	case domain.TaskPending:
		// self-assignable starter work
		if len(t.RequiredSkills) > 0 || !c.StartUnblocked {
			return false
		}
	default:
		return false
	}
	if len(t.RequiredSkills) > 0 && overlap(t.RequiredSkills, req.Skills) == 0 {
		return false
	}
	if req.CapacityHours != nil && t.EstimatedHours != nil && *t.EstimatedHours > *req.CapacityHours {
		return false
	}
	return true
}

// Find filters candidates for req and returns them most urgent first.
func Find(cands []Candidate, req Request, p Policy, now time.Time) []Match {
	out := []Match{}
	for _, c := range cands {
		if !Eligible(c, req) {
			continue
		}
		m := Match{
			Task:            c.Task,
			ProjectPriority: c.ProjectPriority,
			SkillMatch:      skillMatch(c.Task.RequiredSkills, req.Skills),
		}
		days, ok := DaysUntil(c.Task.DueDate, now)
		switch {
		case !ok:
			m.Urgency = UrgencyUndated
			m.urgencyKey = p.NoDueSentinelDays
		case days < 0:
			m.DaysUntilDue = &days
			m.Urgency = UrgencyOverdue
			m.urgencyKey = p.NoDueSentinelDays
		default:
			m.DaysUntilDue = &days
			m.Urgency = label(days, p)
			m.urgencyKey = days
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		left, right := out[i], out[j]
		if left.urgencyKey != right.urgencyKey {
			return left.urgencyKey < right.urgencyKey
		}
		lp, rp := domain.PriorityRank(left.ProjectPriority), domain.PriorityRank(right.ProjectPriority)
		if lp != rp {
			return lp < rp
		}
		if left.Task.Priority != right.Task.Priority {
			return left.Task.Priority < right.Task.Priority
		}
		if left.Task.CreatedAt != right.Task.CreatedAt {
			return left.Task.CreatedAt < right.Task.CreatedAt
		}
		return left.Task.ID < right.Task.ID
	})
	return out
}

func label(days int, p Policy) string {
	switch {
	case days <= p.UrgentWithinDays:
		return UrgencyUrgent
	case days <= p.SoonWithinDays:
		return UrgencySoon
	}
	return UrgencyNormal
}

// DaysUntil returns whole calendar days from now until due. Dates may be
// given as YYYY-MM-DD or RFC3339.
func DaysUntil(due *string, now time.Time) (int, bool) {
	if due == nil || strings.TrimSpace(*due) == "" {
		return 0, false
	}
	d, err := ParseDate(*due)
	if err != nil {
		return 0, false
	}
	today := truncateDay(now)
	return int(d.Sub(today).Hours() / 24), true
}

// ParseDate accepts YYYY-MM-DD or RFC3339 and returns the UTC day.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if d, err := time.Parse("2006-01-02", s); err == nil {
		return d, nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return truncateDay(ts), nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func normalize(skills []string) map[string]bool {
	out := make(map[string]bool, len(skills))
	for _, s := range skills {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out[s] = true
		}
	}
	return out
}

func overlap(required, team []string) int {
	have := normalize(team)
	n := 0
	for s := range normalize(required) {
		if have[s] {
			n++
		}
	}
	return n
}

func skillMatch(required, team []string) float64 {
	req := normalize(required)
	if len(req) == 0 {
		return 1
	}
	return float64(overlap(required, team)) / float64(len(req))
}
