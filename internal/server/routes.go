package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"taskmesh/internal/domain"
	"taskmesh/internal/engine"
)

type idPath struct {
	ID string `path:"id"`
}

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

// teamOrCaller prefers an explicit team and falls back to the caller identity.
func teamOrCaller(ctx context.Context, explicit string) string {
	if team := strings.TrimSpace(explicit); team != "" {
		return team
	}
	return callerTeam(ctx)
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		b := input.Body
		p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			Name:          b.Name,
			Description:   b.Description,
			Priority:      b.Priority,
			OwnerTeam:     teamOrCaller(ctx, b.OwnerTeam),
			CreatedBy:     teamOrCaller(ctx, b.CreatedBy),
			StartDate:     b.StartDate,
			TargetEndDate: b.TargetEndDate,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project-status",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/status",
		Summary:     "Project with tasks, dependencies and summary",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body ProjectStatusResponse `json:"body"`
	}, error) {
		st, err := e.GetProjectStatus(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectStatusResponse `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project-analytics",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/analytics",
		Summary:     "Velocity, remaining effort and health",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body AnalyticsResponse `json:"body"`
	}, error) {
		rep, err := e.GetProjectAnalytics(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AnalyticsResponse `json:"body"`
		}{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-project-status",
		Method:      http.MethodPatch,
		Path:        "/projects/{id}/status",
		Summary:     "Hold, resume or cancel a project",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body SetProjectStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, err := e.SetProjectStatus(ctx, engine.SetProjectStatusOptions{ProjectID: input.ID, Status: input.Body.Status})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{id}",
		Summary:       "Delete a project with its tasks and dependencies",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		if err := e.DeleteProject(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		b := input.Body
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			ProjectID:      input.ID,
			Title:          b.Title,
			Description:    b.Description,
			Type:           b.Type,
			Complexity:     b.Complexity,
			RequiredSkills: b.RequiredSkills,
			EstimatedHours: b.EstimatedHours,
			DueDate:        b.DueDate,
			Priority:       b.Priority,
			AssignedTeam:   b.AssignedTeam,
			ActingTeam:     callerTeam(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "assign-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/assign",
		Summary:     "Claim a task for a team",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string      `path:"id"`
		Body TeamRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.AssignTask(ctx, engine.AssignOptions{
			TaskID:     input.ID,
			TeamID:     teamOrCaller(ctx, input.Body.TeamID),
			ActingTeam: callerTeam(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/release",
		Summary:     "Return a ready task to the shared pool",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string      `path:"id"`
		Body TeamRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.ReleaseTask(ctx, engine.ReleaseOptions{
			TaskID: input.ID,
			TeamID: teamOrCaller(ctx, input.Body.TeamID),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}/status",
		Summary:     "Move a task through its lifecycle or report progress",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body UpdateStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		b := input.Body
		opts := engine.StatusUpdateOptions{
			TaskID:        input.ID,
			Status:        b.Status,
			Progress:      b.Progress,
			Note:          b.Note,
			Blocker:       b.Blocker,
			NeedsHelpFrom: b.NeedsHelpFrom,
			ActingTeam:    callerTeam(ctx),
		}
		if b.HoursWorked != nil {
			opts.HoursWorked = *b.HoursWorked
		}
		t, err := e.UpdateTaskStatus(ctx, opts)
		if err != nil {
			return nil, handleTaskError(err, &t)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-blocker",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/blocker",
		Summary:     "Block a task with a description",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body ReportBlockerRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.ReportBlocker(ctx, engine.BlockerOptions{
			TaskID:        input.ID,
			Description:   input.Body.Description,
			NeedsHelpFrom: input.Body.NeedsHelpFrom,
			ActingTeam:    callerTeam(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-task-updates",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/updates",
		Summary:     "Audit log of a task",
	}, func(ctx context.Context, input *idPath) (*struct {
		Body UpdateListResponse `json:"body"`
	}, error) {
		items, err := e.ListTaskUpdates(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UpdateListResponse `json:"body"`
		}{Body: UpdateListResponse{Items: nonNilUpdates(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{id}",
		Summary:       "Delete a task and its edges",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		if err := e.DeleteTask(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDependencies(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-dependency",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/dependencies",
		Summary:       "Make a task depend on another",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body AddDependencyRequest `json:"body"`
	}) (*struct {
		Body domain.Dependency `json:"body"`
	}, error) {
		d, err := e.AddDependency(ctx, engine.DependencyOptions{
			TaskID:          input.ID,
			DependsOnTaskID: input.Body.DependsOnTaskID,
			Kind:            input.Body.Kind,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Dependency `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-dependency",
		Method:        http.MethodDelete,
		Path:          "/tasks/{id}/dependencies/{depends_on}",
		Summary:       "Remove a dependency edge",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID        string `path:"id"`
		DependsOn string `path:"depends_on"`
	}) (*struct{}, error) {
		if err := e.RemoveDependency(ctx, input.ID, input.DependsOn); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerWork(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "find-available-work",
		Method:      http.MethodPost,
		Path:        "/work/search",
		Summary:     "Rank claimable tasks for a team",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body WorkSearchRequest `json:"body"`
	}) (*struct {
		Body MatchListResponse `json:"body"`
	}, error) {
		matches, err := e.FindAvailableWork(ctx, engine.WorkRequest{
			TeamID:        teamOrCaller(ctx, input.Body.TeamID),
			Skills:        input.Body.Skills,
			CapacityHours: input.Body.CapacityHours,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MatchListResponse `json:"body"`
		}{Body: MatchListResponse{Items: matches}}, nil
	})
}

func registerTeams(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-team-tasks",
		Method:      http.MethodGet,
		Path:        "/teams/{id}/tasks",
		Summary:     "Tasks held by a team",
	}, func(ctx context.Context, input *struct {
		ID               string `path:"id"`
		Status           string `query:"status"`
		IncludeCompleted bool   `query:"include_completed"`
	}) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		tasks, err := e.ListTeamTasks(ctx, engine.TeamTaskFilters{
			TeamID:           input.ID,
			Status:           input.Status,
			IncludeCompleted: input.IncludeCompleted,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: TaskListResponse{Items: nonNilTasks(tasks)}}, nil
	})
}
