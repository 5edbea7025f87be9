// Package analytics derives progress, velocity and health figures for a
// project from its tasks. Nothing here is cached or persisted.
package analytics

import (
	"math"
	"time"

	"taskmesh/internal/domain"
	"taskmesh/internal/matcher"
)

// Health values.
const (
	HealthOnTrack = "on_track"
	HealthAtRisk  = "at_risk"
	HealthBlocked = "blocked"
)

type Policy struct {
	DefaultVelocity      float64
	DailyThroughputHours float64
}

type Input struct {
	Project domain.Project
	Tasks   []domain.Task
	Now     time.Time
}

type Report struct {
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
	ProjectedCompletion     *string        `json:"projected_completion,omitempty" format:"date"`
	Health                  string         `json:"health" enum:"on_track,at_risk,blocked"`
}

// Compute builds the report for in. It is a pure function of its arguments.
func Compute(in Input, p Policy) Report {
	if p.DefaultVelocity <= 0 {
		p.DefaultVelocity = 1
	}
	rep := Report{
		ProjectID:    in.Project.ID,
		StatusCounts: map[string]int{},
	}

	var ratioSum, remaining float64
	for _, t := range in.Tasks {
		rep.TotalTasks++
		rep.StatusCounts[t.Status]++
		rep.LoggedHours += t.ActualHours
		switch t.Status {
		case domain.TaskCancelled:
			continue
		case domain.TaskCompleted:
			rep.CompletedTasks++
			if t.EstimatedHours != nil && *t.EstimatedHours > 0 && t.ActualHours > 0 {
				ratioSum += *t.EstimatedHours / t.ActualHours
				rep.VelocitySamples++
			}
		default:
			if t.Status == domain.TaskBlocked {
				rep.BlockedTasks++
			}
			if t.EstimatedHours != nil {
				remaining += *t.EstimatedHours
			}
		}
	}

	rep.Progress = Progress(in.Tasks)
	rep.VelocityRatio = p.DefaultVelocity
	if rep.VelocitySamples > 0 {
		rep.VelocityRatio = ratioSum / float64(rep.VelocitySamples)
	}
	rep.EstimatedRemainingHours = round2(remaining / rep.VelocityRatio)
	rep.LoggedHours = round2(rep.LoggedHours)

	var neededDays int
	if p.DailyThroughputHours > 0 {
		neededDays = int(math.Ceil(rep.EstimatedRemainingHours / p.DailyThroughputHours))
		day := truncateDay(in.Now).AddDate(0, 0, neededDays).Format("2006-01-02")
		rep.ProjectedCompletion = &day
	}
	if days, ok := matcher.DaysUntil(in.Project.TargetEndDate, in.Now); ok {
		rep.DaysRemaining = &days
	}

	switch {
	case rep.BlockedTasks > 0:
		rep.Health = HealthBlocked
	case rep.DaysRemaining == nil, rep.EstimatedRemainingHours == 0:
		rep.Health = HealthOnTrack
	case p.DailyThroughputHours > 0 && neededDays <= *rep.DaysRemaining:
		rep.Health = HealthOnTrack
	default:
		rep.Health = HealthAtRisk
	}
	return rep
}

// Progress is the rounded share of completed tasks among non-cancelled ones.
func Progress(tasks []domain.Task) int {
	done, total := 0, 0
	for _, t := range tasks {
		if t.Status == domain.TaskCancelled {
			continue
		}
		total++
		if t.Status == domain.TaskCompleted {
			done++
		}
	}
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
