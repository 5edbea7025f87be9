package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskmesh/internal/config"
	"taskmesh/internal/db"
	"taskmesh/internal/domain"
	"taskmesh/internal/engine"
	"taskmesh/internal/migrate"
	"taskmesh/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	cfg := config.Default()
	capacity := 6.0
	cfg.Teams = []domain.Team{{ID: "data", Skills: []string{"python", "sql"}, CapacityHours: &capacity}}
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func ptr[T any](v T) *T { return &v }

func (env testEnv) project(t *testing.T, priority string) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Name: "Launch", Priority: priority, OwnerTeam: "owners"})
	require.NoError(t, err)
	return p
}

func (env testEnv) task(t *testing.T, projectID, title string, mutate ...func(*engine.TaskCreateOptions)) domain.Task {
	t.Helper()
	opts := engine.TaskCreateOptions{ProjectID: projectID, Title: title}
	for _, m := range mutate {
		m(&opts)
	}
	task, err := env.Engine.CreateTask(env.Ctx, opts)
	require.NoError(t, err)
	return task
}

func (env testEnv) assigned(t *testing.T, projectID, title, team string) domain.Task {
	t.Helper()
	return env.task(t, projectID, title, func(o *engine.TaskCreateOptions) { o.AssignedTeam = team })
}

func (env testEnv) move(t *testing.T, taskID, status string, progress ...int) domain.Task {
	t.Helper()
	opts := engine.StatusUpdateOptions{TaskID: taskID, Status: status}
	if len(progress) > 0 {
		opts.Progress = &progress[0]
	}
	task, err := env.Engine.UpdateTaskStatus(env.Ctx, opts)
	require.NoError(t, err)
	return task
}

func (env testEnv) complete(t *testing.T, taskID string) domain.Task {
	t.Helper()
	env.move(t, taskID, domain.TaskInProgress)
	env.move(t, taskID, domain.TaskReview)
	return env.move(t, taskID, domain.TaskCompleted, 100)
}

func TestCreateProjectValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Name: "", OwnerTeam: "a"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Name: "x", OwnerTeam: "a", Priority: "urgent"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Name: "x", OwnerTeam: "a", TargetEndDate: "soon"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Name: "x", OwnerTeam: "a", TargetEndDate: "2024-03-01T10:00:00Z"})
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectPlanning, p.Status)
	assert.Equal(t, domain.PriorityMedium, p.Priority)
	assert.Equal(t, "a", p.CreatedBy)
	require.NotNil(t, p.TargetEndDate)
	assert.Equal(t, "2024-03-01", *p.TargetEndDate)
}

func TestCreateTaskRequiresProject(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "missing", Title: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	p := env.project(t, domain.PriorityLow)
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: p.ID, Title: " "})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: p.ID, Title: "x", EstimatedHours: ptr(-1.0)})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: p.ID, Title: "x", Priority: ptr(0)})
	assert.ErrorIs(t, err, domain.ErrValidation)
	top := env.task(t, p.ID, "top", func(o *engine.TaskCreateOptions) { o.Priority = ptr(domain.MinTaskPriority) })
	assert.Equal(t, 1, top.Priority)

	task := env.task(t, p.ID, "x", func(o *engine.TaskCreateOptions) {
		o.RequiredSkills = []string{"Go", "go", " ", "sql"}
	})
	assert.Equal(t, domain.TaskPending, task.Status)
	assert.Equal(t, []string{"Go", "sql"}, task.RequiredSkills)
	assert.Equal(t, 3, task.Priority)
}

func TestCreateTaskWithTeamAssignsAndActivates(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.PriorityHigh)
	task := env.assigned(t, p.ID, "x", "alpha")
	assert.Equal(t, domain.TaskReady, task.Status)
	require.NotNil(t, task.AssignedTeam)
	assert.Equal(t, "alpha", *task.AssignedTeam)

	status, err := env.Engine.GetProjectStatus(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectActive, status.Project.Status)

	updates, err := env.Engine.ListTaskUpdates(env.Ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.Equal(t, domain.UpdateAssignmentChange, updates[0].UpdateType)
	assert.Equal(t, domain.UpdateStatusChange, updates[1].UpdateType)
}

func TestFullLifecycleLogsOneStatusChangePerTransition(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.PriorityHigh)
	task := env.task(t, p.ID, "x")
	_, err := env.Engine.AssignTask(env.Ctx, engine.AssignOptions{TaskID: task.ID, TeamID: "alpha"})
	require.NoError(t, err)

	running := env.move(t, task.ID, domain.TaskInProgress)
	require.NotNil(t, running.StartedAt)
	env.move(t, task.ID, domain.TaskReview)
	done := env.move(t, task.ID, domain.TaskCompleted, 100)
	assert.Equal(t, domain.TaskCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	require.NotNil(t, done.CompletedAt)

	updates, err := env.Engine.ListTaskUpdates(env.Ctx, task.ID)
	require.NoError(t, err)
	var transitions [][2]string
	for _, u := range updates {
		if u.UpdateType == domain.UpdateStatusChange {
			transitions = append(transitions, [2]string{*u.OldValue, *u.NewValue})
		}
	}
	assert.Equal(t, [][2]string{
		{domain.TaskPending, domain.TaskReady},
		{domain.TaskReady, domain.TaskInProgress},
		{domain.TaskInProgress, domain.TaskReview},
		{domain.TaskReview, domain.TaskCompleted},
	}, transitions)

	status, err := env.Engine.GetProjectStatus(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, status.Project.CompletionPercentage)
	assert.Equal(t, domain.ProjectCompleted, status.Project.Status)
}

func TestInvalidTransitionLeavesTaskUnchanged(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.PriorityHigh)
	task := env.assigned(t, p.ID, "x", "alpha")
	pending := env.task(t, p.ID, "pending")
	done := env.complete(t, task.ID)

	cases := []struct {
		name   string
		taskID string
		status string
	}{
		{"completed to in_progress", done.ID, domain.TaskInProgress},
		{"completed to cancelled", done.ID, domain.TaskCancelled},
		{"pending to in_progress", pending.ID, domain.TaskInProgress},
		{"pending to ready without team", pending.ID, domain.TaskReady},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before, err := env.Engine.Repo.GetTask(env.Ctx, tc.taskID)
			require.NoError(t, err)
			_, err = env.Engine.UpdateTaskStatus(env.Ctx, engine.StatusUpdateOptions{TaskID: tc.taskID, Status: tc.status})
			assert.ErrorIs(t, err, domain.ErrInvalidTransition)
			after, err := env.Engine.Repo.GetTask(env.Ctx, tc.taskID)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestCompletionRequiresFullProgress(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.PriorityHigh)
	task := env.assigned(t, p.ID, "x", "alpha")
	env.move(t, task.ID, domain.TaskInProgress)
	env.move(t, task.ID, domain.TaskReview)

	_, err := env.Engine.UpdateTaskStatus(env.Ctx, engine.StatusUpdateOptions{TaskID: task.ID, Status: domain.TaskCompleted, Progress: ptr(90)})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = env.Engine.UpdateTaskStatus(env.Ctx, engine.StatusUpdateOptions{TaskID: task.ID, Status: domain.TaskInProgress, Progress: ptr(100)})
	assert.ErrorIs(t, err, domain.ErrValidation)

	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskReview, got.Status)
}

func TestProgressReportLogsHours(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.PriorityHigh)
	task := env.assigned(t, p.ID, "x", "alpha")
	_, err := env.Engine.UpdateTaskStatus(env.Ctx, engine.StatusUpdateOptions{TaskID: task.ID, Status: domain.TaskInProgress, HoursWorked: 1.5})
	require.NoError(t, err)
	got, err := env.Engine.UpdateTaskStatus(env.Ctx, engine.StatusUpdateOptions{
		TaskID: task.ID, Status: domain.TaskInProgress, Progress: ptr(40), HoursWorked: 2, Note: "halfway",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskInProgress, got.Status)
	assert.Equal(t, 40, got.Progress)
	assert.Equal(t, 3.5, got.ActualHours)

	n, err := env.Engine.Repo.CountTaskUpdates(env.Ctx, task.ID, domain.UpdateProgressReport)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBlockAndResume(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.PriorityHigh)
	task := env.assigned(t, p.ID, "x", "alpha")
	env.move(t, task.ID, domain.TaskInProgress)

	_, err := env.Engine.UpdateTaskStatus(env.Ctx, engine.StatusUpdateOptions{TaskID: task.ID, Status: domain.TaskBlocked})
	assert.ErrorIs(t, err, domain.ErrValidation)

	blocked, err := env.Engine.ReportBlocker(env.Ctx, engine.BlockerOptions{TaskID: task.ID, Description: "waiting for creds", NeedsHelpFrom: "ops"})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskBlocked, blocked.Status)
	require.NotNil(t, blocked.BlockedFrom)
	assert.Equal(t, domain.TaskInProgress, *blocked.BlockedFrom)
	require.NotNil(t, blocked.NeedsHelpFrom)
	assert.Equal(t, "ops", *blocked.NeedsHelpFrom)

	again, err := env.Engine.ReportBlocker(env.Ctx, engine.BlockerOptions{TaskID: task.ID, Description: "still waiting"})
	require.NoError(t, err)
	assert.Equal(t, "still waiting", *again.BlockerDescription)

	relabeled, err := env.Engine.UpdateTaskStatus(env.Ctx, engine.StatusUpdateOptions{
		TaskID: task.ID, Status: domain.TaskBlocked, Blocker: "creds arrive friday", NeedsHelpFrom: "sec",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskBlocked, relabeled.Status)
	assert.Equal(t, "creds arrive friday", *relabeled.BlockerDescription)
	assert.Equal(t, "sec", *relabeled.NeedsHelpFrom)
	assert.Equal(t, domain.TaskInProgress, *relabeled.BlockedFrom)
	n, err := env.Engine.Repo.CountTaskUpdates(env.Ctx, task.ID, domain.UpdateProgressReport)
	require.NoError(t, err)
	assert.Zero(t, n, "a new blocker is not a progress report")

	logged, err := env.Engine.UpdateTaskStatus(env.Ctx, engine.StatusUpdateOptions{
		TaskID: task.ID, Status: domain.TaskBlocked, Blocker: "creds arrive monday", HoursWorked: 1.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "creds arrive monday", *logged.BlockerDescription)
	assert.Equal(t, 1.5, logged.ActualHours)

	_, err = env.Engine.UpdateTaskStatus(env.Ctx, engine.StatusUpdateOptions{TaskID: task.ID, Status: domain.TaskReady})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "blocked tasks only return where they came from")

	resumed := env.move(t, task.ID, domain.TaskInProgress)
	assert.Nil(t, resumed.BlockerDescription)
	assert.Nil(t, resumed.BlockedFrom)

	n, err = env.Engine.Repo.CountTaskUpdates(env.Ctx, task.ID, domain.UpdateBlockerReported)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = env.Engine.ReportBlocker(env.Ctx, engine.BlockerOptions{TaskID: "nope", Description: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = env.Engine.ReportBlocker(env.Ctx, engine.BlockerOptions{TaskID: task.ID})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestStartBlockedByPredecessorThenCascade(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.PriorityHigh)
	t1 := env.assigned(t, p.ID, "T1", "alpha")
	t2 := env.assigned(t, p.ID, "T2", "beta")
	_, err := env.Engine.AddDependency(env.Ctx, engine.DependencyOptions{TaskID: t1.ID, DependsOnTaskID: t2.ID})
	require.NoError(t, err)

	env.move(t, t2.ID, domain.TaskInProgress)
	got, err := env.Engine.UpdateTaskStatus(env.Ctx, engine.StatusUpdateOptions{TaskID: t1.ID, Status: domain.TaskInProgress})
	require.ErrorIs(t, err, domain.ErrDependencyNotSatisfied)
	assert.Equal(t, domain.TaskBlocked, got.Status)
	assert.True(t, got.BlockedByDependency)
	require.NotNil(t, got.BlockerDescription)
	assert.Contains(t, *got.BlockerDescription, t2.ID)

	stored, err := env.Engine.Repo.GetTask(env.Ctx, t1.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskBlocked, stored.Status)

	env.move(t, t2.ID, domain.TaskReview)
	env.move(t, t2.ID, domain.TaskCompleted, 100)

	after, err := env.Engine.Repo.GetTask(env.Ctx, t1.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskReady, after.Status)
	assert.False(t, after.BlockedByDependency)
	assert.Nil(t, after.BlockerDescription)

	updates, err := env.Engine.ListTaskUpdates(env.Ctx, t1.ID)
	require.NoError(t, err)
	last := updates[len(updates)-1]
	assert.Equal(t, domain.SystemTeam, last.TeamID)
	assert.Equal(t, domain.TaskReady, *last.NewValue)

	env.move(t, t1.ID, domain.TaskInProgress)
}

func TestStartToStartUnblocksWhenPredecessorStarts(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.PriorityHigh)
	a := env.assigned(t, p.ID, "A", "alpha")
	b := env.assigned(t, p.ID, "B", "beta")
	_, err := env.Engine.AddDependency(env.Ctx, engine.DependencyOptions{TaskID: b.ID, DependsOnTaskID: a.ID, Kind: domain.StartToStart})
	require.NoError(t, err)

	_, err = env.Engine.UpdateTaskStatus(env.Ctx, engine.StatusUpdateOptions{TaskID: b.ID, Status: domain.TaskInProgress})
	require.ErrorIs(t, err, domain.ErrDependencyNotSatisfied)

	env.move(t, a.ID, domain.TaskInProgress)
	got, err := env.Engine.Repo.GetTask(env.Ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskReady, got.Status)
	env.move(t, b.ID, domain.TaskInProgress)
}

func TestFinishToFinishGatesCompletion(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.PriorityHigh)
	a := env.assigned(t, p.ID, "A", "alpha")
	b := env.assigned(t, p.ID, "B", "beta")
	_, err := env.Engine.AddDependency(env.Ctx, engine.DependencyOptions{TaskID: b.ID, DependsOnTaskID: a.ID, Kind: domain.FinishToFinish})
	require.NoError(t, err)

	env.move(t, b.ID, domain.TaskInProgress)
	env.move(t, b.ID, domain.TaskReview)
	got, err := env.Engine.UpdateTaskStatus(env.Ctx, engine.StatusUpdateOptions{TaskID: b.ID, Status: domain.TaskCompleted, Progress: ptr(100)})
	require.ErrorIs(t, err, domain.ErrDependencyNotSatisfied)
	assert.Equal(t, domain.TaskBlocked, got.Status)
	assert.Equal(t, domain.TaskReview, *got.BlockedFrom)
	assert.Less(t, got.Progress, 100)

	env.complete(t, a.ID)
	back, err := env.Engine.Repo.GetTask(env.Ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskReview, back.Status)
	env.move(t, b.ID, domain.TaskCompleted, 100)
}

func TestCancelledPredecessorReleasesSuccessor(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.PriorityHigh)
	a := env.assigned(t, p.ID, "A", "alpha")
	b := env.assigned(t, p.ID, "B", "beta")
	_, err := env.Engine.AddDependency(env.Ctx, engine.DependencyOptions{TaskID: b.ID, DependsOnTaskID: a.ID})
	require.NoError(t, err)
	_, err = env.Engine.UpdateTaskStatus(env.Ctx, engine.StatusUpdateOptions{TaskID: b.ID, Status: domain.TaskInProgress})
	require.ErrorIs(t, err, domain.ErrDependencyNotSatisfied)

	env.move(t, a.ID, domain.TaskCancelled)
	got, err := env.Engine.Repo.GetTask(env.Ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskReady, got.Status)
}

func TestCyclicDependencyLeavesGraphUnchanged(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.PriorityHigh)
	a := env.task(t, p.ID, "A")
	b := env.task(t, p.ID, "B")
	c := env.task(t, p.ID, "C")
	_, err := env.Engine.AddDependency(env.Ctx, engine.DependencyOptions{TaskID: b.ID, DependsOnTaskID: a.ID})
	require.NoError(t, err)
	_, err = env.Engine.AddDependency(env.Ctx, engine.DependencyOptions{TaskID: c.ID, DependsOnTaskID: b.ID, Kind: domain.StartToStart})
	require.NoError(t, err)

	before, err := env.Engine.Repo.CountDependencies(env.Ctx, p.ID)
	require.NoError(t, err)
	_, err = env.Engine.AddDependency(env.Ctx, engine.DependencyOptions{TaskID: a.ID, DependsOnTaskID: c.ID})
	assert.ErrorIs(t, err, domain.ErrCyclicDependency)
	_, err = env.Engine.AddDependency(env.Ctx, engine.DependencyOptions{TaskID: a.ID, DependsOnTaskID: a.ID})
	assert.ErrorIs(t, err, domain.ErrCyclicDependency)
	after, err := env.Engine.Repo.CountDependencies(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 2, after)
}

func TestAddDependencyValidation(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.PriorityHigh)
	other := env.project(t, domain.PriorityLow)
	a := env.task(t, p.ID, "A")
	b := env.task(t, p.ID, "B")
	x := env.task(t, other.ID, "X")

	_, err := env.Engine.AddDependency(env.Ctx, engine.DependencyOptions{TaskID: a.ID, DependsOnTaskID: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = env.Engine.AddDependency(env.Ctx, engine.DependencyOptions{TaskID: a.ID, DependsOnTaskID: x.ID})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = env.Engine.AddDependency(env.Ctx, engine.DependencyOptions{TaskID: a.ID, DependsOnTaskID: b.ID, Kind: "whenever"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	d, err := env.Engine.AddDependency(env.Ctx, engine.DependencyOptions{TaskID: a.ID, DependsOnTaskID: b.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.FinishToStart, d.Kind)
	_, err = env.Engine.AddDependency(env.Ctx, engine.DependencyOptions{TaskID: a.ID, DependsOnTaskID: b.ID})
	assert.ErrorIs(t, err, domain.ErrValidation)

	require.NoError(t, env.Engine.RemoveDependency(env.Ctx, a.ID, b.ID))
	assert.ErrorIs(t, env.Engine.RemoveDependency(env.Ctx, a.ID, b.ID), domain.ErrNotFound)
}

func TestRemoveDependencyReleasesBlockedTask(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.PriorityHigh)
	a := env.assigned(t, p.ID, "A", "alpha")
	b := env.assigned(t, p.ID, "B", "beta")
	_, err := env.Engine.AddDependency(env.Ctx, engine.DependencyOptions{TaskID: b.ID, DependsOnTaskID: a.ID})
	require.NoError(t, err)
	_, err = env.Engine.UpdateTaskStatus(env.Ctx, engine.StatusUpdateOptions{TaskID: b.ID, Status: domain.TaskInProgress})
	require.ErrorIs(t, err, domain.ErrDependencyNotSatisfied)

	require.NoError(t, env.Engine.RemoveDependency(env.Ctx, b.ID, a.ID))
	got, err := env.Engine.Repo.GetTask(env.Ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskReady, got.Status)
}

func TestConcurrentAssignHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.PriorityHigh)
	task := env.task(t, p.ID, "contested")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, team := range []string{"alpha", "beta"} {
		wg.Add(1)
		go func(i int, team string) {
			defer wg.Done()
			_, errs[i] = env.Engine.AssignTask(env.Ctx, engine.AssignOptions{TaskID: task.ID, TeamID: team})
		}(i, team)
	}
	wg.Wait()

	wins, lost := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case assert.ErrorIs(t, err, domain.ErrAlreadyAssigned):
			lost++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, lost)

	n, err := env.Engine.Repo.CountTaskUpdates(env.Ctx, task.ID, domain.UpdateAssignmentChange)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAssignAndRelease(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.PriorityHigh)
	task := env.task(t, p.ID, "x")

	_, err := env.Engine.AssignTask(env.Ctx, engine.AssignOptions{TaskID: task.ID})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = env.Engine.AssignTask(env.Ctx, engine.AssignOptions{TaskID: "missing", TeamID: "alpha"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.Engine.AssignTask(env.Ctx, engine.AssignOptions{TaskID: task.ID, TeamID: "alpha"})
	require.NoError(t, err)

	_, err = env.Engine.ReleaseTask(env.Ctx, engine.ReleaseOptions{TaskID: task.ID, TeamID: "beta"})
	assert.ErrorIs(t, err, domain.ErrAlreadyAssigned)

	released, err := env.Engine.ReleaseTask(env.Ctx, engine.ReleaseOptions{TaskID: task.ID, TeamID: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskReady, released.Status)
	assert.Nil(t, released.AssignedTeam)

	_, err = env.Engine.ReleaseTask(env.Ctx, engine.ReleaseOptions{TaskID: task.ID, TeamID: "alpha"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	again, err := env.Engine.AssignTask(env.Ctx, engine.AssignOptions{TaskID: task.ID, TeamID: "beta"})
	require.NoError(t, err)
	assert.Equal(t, "beta", *again.AssignedTeam)

	env.move(t, task.ID, domain.TaskInProgress)
	_, err = env.Engine.ReleaseTask(env.Ctx, engine.ReleaseOptions{TaskID: task.ID, TeamID: "beta"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestFindAvailableWorkScenario(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.PriorityHigh)
	t1 := env.task(t, p.ID, "T1", func(o *engine.TaskCreateOptions) { o.EstimatedHours = ptr(5.0) })

	matches, err := env.Engine.FindAvailableWork(env.Ctx, engine.WorkRequest{TeamID: "A"})
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, t1.ID, matches[0].Task.ID)

	_, err = env.Engine.FindAvailableWork(env.Ctx, engine.WorkRequest{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestFindAvailableWorkFilters(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.PriorityMedium)
	pySQL := env.task(t, p.ID, "py", func(o *engine.TaskCreateOptions) { o.RequiredSkills = []string{"python", "sql"} })
	java := env.task(t, p.ID, "java", func(o *engine.TaskCreateOptions) { o.RequiredSkills = []string{"java"} })
	// skilled pending work becomes claimable once it is ready and released
	for _, id := range []string{pySQL.ID, java.ID} {
		_, err := env.Engine.AssignTask(env.Ctx, engine.AssignOptions{TaskID: id, TeamID: "staging"})
		require.NoError(t, err)
		_, err = env.Engine.ReleaseTask(env.Ctx, engine.ReleaseOptions{TaskID: id, TeamID: "staging"})
		require.NoError(t, err)
	}

	matches, err := env.Engine.FindAvailableWork(env.Ctx, engine.WorkRequest{TeamID: "x", Skills: []string{"python"}})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, pySQL.ID, matches[0].Task.ID)
	assert.Equal(t, 0.5, matches[0].SkillMatch)

	// registry fallback: team "data" knows python and sql with 6h capacity
	big := env.task(t, p.ID, "big", func(o *engine.TaskCreateOptions) { o.EstimatedHours = ptr(8.0) })
	matches, err = env.Engine.FindAvailableWork(env.Ctx, engine.WorkRequest{TeamID: "data"})
	require.NoError(t, err)
	for _, m := range matches {
		assert.NotEqual(t, big.ID, m.Task.ID)
		assert.NotEqual(t, java.ID, m.Task.ID)
	}
}

func TestFindAvailableWorkSkipsDependencyBlocked(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.PriorityMedium)
	first := env.task(t, p.ID, "first")
	second := env.task(t, p.ID, "second")
	_, err := env.Engine.AddDependency(env.Ctx, engine.DependencyOptions{TaskID: second.ID, DependsOnTaskID: first.ID})
	require.NoError(t, err)

	matches, err := env.Engine.FindAvailableWork(env.Ctx, engine.WorkRequest{TeamID: "x"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, first.ID, matches[0].Task.ID)
}

func TestListTeamTasks(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.PriorityHigh)
	open := env.assigned(t, p.ID, "open", "alpha")
	done := env.assigned(t, p.ID, "done", "alpha")
	env.assigned(t, p.ID, "other", "beta")
	env.complete(t, done.ID)

	tasks, err := env.Engine.ListTeamTasks(env.Ctx, engine.TeamTaskFilters{TeamID: "alpha"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, open.ID, tasks[0].ID)

	tasks, err = env.Engine.ListTeamTasks(env.Ctx, engine.TeamTaskFilters{TeamID: "alpha", IncludeCompleted: true})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	tasks, err = env.Engine.ListTeamTasks(env.Ctx, engine.TeamTaskFilters{TeamID: "alpha", Status: domain.TaskCompleted})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, done.ID, tasks[0].ID)

	tasks, err = env.Engine.ListTeamTasks(env.Ctx, engine.TeamTaskFilters{TeamID: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestAnalyticsVelocityAndIdempotence(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.PriorityHigh)
	env.assigned(t, p.ID, "left", "beta")
	for _, tc := range []struct{ est, actual float64 }{{10, 8}, {6, 6}} {
		task := env.task(t, p.ID, "work", func(o *engine.TaskCreateOptions) {
			o.AssignedTeam = "alpha"
			o.EstimatedHours = ptr(tc.est)
		})
		env.move(t, task.ID, domain.TaskInProgress)
		_, err := env.Engine.UpdateTaskStatus(env.Ctx, engine.StatusUpdateOptions{TaskID: task.ID, Status: domain.TaskReview, HoursWorked: tc.actual})
		require.NoError(t, err)
		env.move(t, task.ID, domain.TaskCompleted, 100)
	}

	first, err := env.Engine.GetProjectAnalytics(env.Ctx, p.ID)
	require.NoError(t, err)
	second, err := env.Engine.GetProjectAnalytics(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.InDelta(t, 1.125, first.VelocityRatio, 1e-9)
	assert.Equal(t, 67, first.Progress)
	assert.Equal(t, 14.0, first.LoggedHours)

	_, err = env.Engine.GetProjectAnalytics(env.Ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProjectStatusAndDeletes(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.PriorityHigh)
	a := env.assigned(t, p.ID, "A", "alpha")
	b := env.assigned(t, p.ID, "B", "beta")
	_, err := env.Engine.AddDependency(env.Ctx, engine.DependencyOptions{TaskID: b.ID, DependsOnTaskID: a.ID})
	require.NoError(t, err)
	_, err = env.Engine.UpdateTaskStatus(env.Ctx, engine.StatusUpdateOptions{TaskID: b.ID, Status: domain.TaskInProgress})
	require.ErrorIs(t, err, domain.ErrDependencyNotSatisfied)

	status, err := env.Engine.GetProjectStatus(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, status.Tasks, 2)
	assert.Equal(t, 1, status.Summary.BlockedTasks)
	assert.Equal(t, 1, status.Summary.DependencyCount)

	require.NoError(t, env.Engine.DeleteTask(env.Ctx, a.ID))
	got, err := env.Engine.Repo.GetTask(env.Ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskReady, got.Status)
	updates, err := env.Engine.ListTaskUpdates(env.Ctx, a.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, updates, "audit log survives task deletion")

	require.NoError(t, env.Engine.DeleteProject(env.Ctx, p.ID))
	_, err = env.Engine.Repo.GetTask(env.Ctx, b.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Engine.GetProjectStatus(env.Ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, env.Engine.DeleteProject(env.Ctx, p.ID), domain.ErrNotFound)
}

func TestSetProjectStatus(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.PriorityHigh)
	held, err := env.Engine.SetProjectStatus(env.Ctx, engine.SetProjectStatusOptions{ProjectID: p.ID, Status: domain.ProjectOnHold})
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectOnHold, held.Status)

	env.task(t, p.ID, "parked")
	matches, err := env.Engine.FindAvailableWork(env.Ctx, engine.WorkRequest{TeamID: "x"})
	require.NoError(t, err)
	assert.Empty(t, matches, "on-hold projects offer no work")

	_, err = env.Engine.SetProjectStatus(env.Ctx, engine.SetProjectStatusOptions{ProjectID: p.ID, Status: domain.ProjectCompleted})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = env.Engine.SetProjectStatus(env.Ctx, engine.SetProjectStatusOptions{ProjectID: p.ID, Status: domain.ProjectCancelled})
	require.NoError(t, err)
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: p.ID, Title: "late"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestResumingProjectCompletesFinishedWork(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.PriorityHigh)
	task := env.assigned(t, p.ID, "last", "alpha")
	_, err := env.Engine.SetProjectStatus(env.Ctx, engine.SetProjectStatusOptions{ProjectID: p.ID, Status: domain.ProjectOnHold})
	require.NoError(t, err)

	env.complete(t, task.ID)
	held, err := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectOnHold, held.Status)
	assert.Equal(t, 100, held.CompletionPercentage)

	resumed, err := env.Engine.SetProjectStatus(env.Ctx, engine.SetProjectStatusOptions{ProjectID: p.ID, Status: domain.ProjectActive})
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectCompleted, resumed.Status)
	assert.Equal(t, 100, resumed.CompletionPercentage)
}

func TestResumingProjectWithOpenWorkStaysActive(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.PriorityHigh)
	env.assigned(t, p.ID, "open", "alpha")
	_, err := env.Engine.SetProjectStatus(env.Ctx, engine.SetProjectStatusOptions{ProjectID: p.ID, Status: domain.ProjectOnHold})
	require.NoError(t, err)

	resumed, err := env.Engine.SetProjectStatus(env.Ctx, engine.SetProjectStatusOptions{ProjectID: p.ID, Status: domain.ProjectActive})
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectActive, resumed.Status)
	assert.Zero(t, resumed.CompletionPercentage)
}

func TestClosedProjectRejectsClaims(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.PriorityHigh)
	task := env.task(t, p.ID, "orphan")
	claimed := env.assigned(t, p.ID, "claimed", "alpha")
	_, err := env.Engine.SetProjectStatus(env.Ctx, engine.SetProjectStatusOptions{ProjectID: p.ID, Status: domain.ProjectCancelled})
	require.NoError(t, err)

	_, err = env.Engine.UpdateTaskStatus(env.Ctx, engine.StatusUpdateOptions{TaskID: claimed.ID, Status: domain.TaskInProgress})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = env.Engine.UpdateTaskStatus(env.Ctx, engine.StatusUpdateOptions{TaskID: claimed.ID, Status: domain.TaskCancelled})
	require.NoError(t, err, "work in a cancelled project can still be cancelled")

	_, err = env.Engine.AssignTask(env.Ctx, engine.AssignOptions{TaskID: task.ID, TeamID: "alpha"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskPending, got.Status)
	assert.Nil(t, got.AssignedTeam)
	n, err := env.Engine.Repo.CountTaskUpdates(env.Ctx, task.ID, domain.UpdateAssignmentChange)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOperationHonorsCallerDeadline(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(env.Ctx)
	cancel()
	_, err := env.Engine.CreateTask(ctx, engine.TaskCreateOptions{ProjectID: "any", Title: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
