// Package lifecycle holds the task and project status transition tables.
package lifecycle

import "taskmesh/internal/domain"

// CanTransitionTask reports whether a task may move from one status to
// another. blockedFrom is the status a blocked task left and is only
// consulted when from is blocked.
func CanTransitionTask(from, to, blockedFrom string) bool {
	if from == to {
		return false
	}
	switch from {
	case domain.TaskPending:
		return to == domain.TaskReady || to == domain.TaskCancelled
	case domain.TaskReady:
		return to == domain.TaskInProgress || to == domain.TaskBlocked || to == domain.TaskCancelled
	case domain.TaskInProgress:
		return to == domain.TaskReview || to == domain.TaskBlocked || to == domain.TaskCancelled
	case domain.TaskReview:
		// review can go back to in_progress for rework
		return to == domain.TaskCompleted || to == domain.TaskInProgress || to == domain.TaskBlocked || to == domain.TaskCancelled
	case domain.TaskBlocked:
		if to == domain.TaskCancelled {
			return true
		}
		return CanBlockFrom(blockedFrom) && to == blockedFrom
	}
	return false
}

// CanBlockFrom reports whether a task in status may be moved to blocked.
func CanBlockFrom(status string) bool {
	switch status {
	case domain.TaskReady, domain.TaskInProgress, domain.TaskReview:
		return true
	}
	return false
}

// StartsWork reports whether entering to from from counts as the task starting.
func StartsWork(from, to string) bool {
	return to == domain.TaskInProgress && from == domain.TaskReady
}

// ValidTaskStatus reports whether s is a known task status.
func ValidTaskStatus(s string) bool {
	switch s {
	case domain.TaskPending, domain.TaskReady, domain.TaskInProgress, domain.TaskReview,
		domain.TaskCompleted, domain.TaskBlocked, domain.TaskCancelled:
		return true
	}
	return false
}

// CanTransitionProject reports whether a caller may move a project between
// statuses. Completion is derived from tasks and is not a caller transition.
func CanTransitionProject(from, to string) bool {
	if from == to {
		return false
	}
	switch from {
	case domain.ProjectPlanning:
		return to == domain.ProjectActive || to == domain.ProjectOnHold || to == domain.ProjectCancelled
	case domain.ProjectActive:
		return to == domain.ProjectOnHold || to == domain.ProjectCancelled
	case domain.ProjectOnHold:
		return to == domain.ProjectActive || to == domain.ProjectCancelled
	}
	return false
}

// ProjectOpen reports whether a project still accepts new tasks and work.
func ProjectOpen(status string) bool {
	return status == domain.ProjectPlanning || status == domain.ProjectActive || status == domain.ProjectOnHold
}
