package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskmesh/internal/config"
	"taskmesh/internal/db"
	"taskmesh/internal/domain"
	"taskmesh/internal/engine"
	"taskmesh/internal/logging"
	"taskmesh/internal/migrate"
	taskmeshsdk "taskmesh/sdk/go"
)

type testServer struct {
	URL string
}

func newTestServer(t *testing.T, auth AuthConfig) *testServer {
	t.Helper()
	workspace := t.TempDir()
	_, err := db.EnsureWorkspace(workspace)
	require.NoError(t, err)
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))

	cfg := config.Default()
	capacity := 8.0
	cfg.Teams = []domain.Team{{ID: "data", Skills: []string{"python", "sql"}, CapacityHours: &capacity}}
	handler, err := New(Config{
		Engine:   engine.New(conn, cfg),
		BasePath: "/v1",
		Auth:     auth,
		Log:      logging.New(io.Discard),
	})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
		conn.Close()
	})
	return &testServer{URL: "http://" + ln.Addr().String()}
}

func openServer(t *testing.T) *testServer {
	return newTestServer(t, AuthConfig{AllowTeamHeader: true})
}

func (s *testServer) client(team string) *taskmeshsdk.Client {
	return taskmeshsdk.New(s.URL, team)
}

func asAPIError(t *testing.T, err error) *taskmeshsdk.APIError {
	t.Helper()
	var apiErr *taskmeshsdk.APIError
	require.True(t, errors.As(err, &apiErr), "expected api error, got %v", err)
	return apiErr
}

func ptr[T any](v T) *T { return &v }

func TestHealthAndOpenAPI(t *testing.T) {
	srv := openServer(t)
	require.NoError(t, srv.client("").Health(context.Background()))

	res, err := http.Get(srv.URL + "/v1/openapi.json")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	spec := string(body)
	for _, p := range []string{"/v1/projects", "/v1/tasks/{id}/status", "/v1/work/search", "/v1/teams/{id}/tasks"} {
		assert.Contains(t, spec, p)
	}

	docs, err := http.Get(srv.URL + "/docs")
	require.NoError(t, err)
	docs.Body.Close()
	assert.Equal(t, http.StatusOK, docs.StatusCode)
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv := openServer(t)
	ctx := context.Background()
	c := srv.client("data")

	p, err := c.CreateProject(ctx, taskmeshsdk.CreateProjectInput{Name: "Pipeline", Priority: "high"})
	require.NoError(t, err)
	assert.Equal(t, "data", p.OwnerTeam)
	assert.Equal(t, "planning", p.Status)

	task, err := c.CreateTask(ctx, p.ID, taskmeshsdk.CreateTaskInput{
		Title:          "Load events",
		RequiredSkills: []string{"python"},
		EstimatedHours: ptr(4.0),
	})
	require.NoError(t, err)
	assert.Equal(t, "pending", task.Status)

	task, err = c.AssignTask(ctx, task.ID, "")
	require.NoError(t, err)
	require.NotNil(t, task.AssignedTeam)
	assert.Equal(t, "data", *task.AssignedTeam)
	assert.Equal(t, "ready", task.Status)

	for _, status := range []string{"in_progress", "review"} {
		task, err = c.UpdateStatus(ctx, task.ID, taskmeshsdk.StatusInput{Status: status, HoursWorked: ptr(2.0)})
		require.NoError(t, err)
	}
	task, err = c.UpdateStatus(ctx, task.ID, taskmeshsdk.StatusInput{Status: "completed", Progress: ptr(100)})
	require.NoError(t, err)
	assert.Equal(t, "completed", task.Status)
	assert.InDelta(t, 4.0, task.ActualHours, 0.001)

	st, err := c.ProjectStatus(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", st.Project.Status)
	assert.Equal(t, 100, st.Summary.Progress)
	assert.Len(t, st.Tasks, 1)

	rep, err := c.ProjectAnalytics(ctx, p.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, rep.VelocityRatio, 0.001)

	updates, err := c.TaskUpdates(ctx, task.ID)
	require.NoError(t, err)
	var statusChanges int
	for _, u := range updates {
		if u.UpdateType == "status_change" {
			statusChanges++
		}
	}
	assert.Equal(t, 4, statusChanges)

	mine, err := c.TeamTasks(ctx, "data", "", true)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	open, err := c.TeamTasks(ctx, "data", "", false)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestDependencyNotSatisfiedReturnsBlockedTask(t *testing.T) {
	srv := openServer(t)
	ctx := context.Background()
	c := srv.client("data")

	p, err := c.CreateProject(ctx, taskmeshsdk.CreateProjectInput{Name: "Ordered"})
	require.NoError(t, err)
	first, err := c.CreateTask(ctx, p.ID, taskmeshsdk.CreateTaskInput{Title: "first", AssignedTeam: "data"})
	require.NoError(t, err)
	second, err := c.CreateTask(ctx, p.ID, taskmeshsdk.CreateTaskInput{Title: "second", AssignedTeam: "data"})
	require.NoError(t, err)
	_, err = c.AddDependency(ctx, second.ID, first.ID, "")
	require.NoError(t, err)
	_, err = c.UpdateStatus(ctx, first.ID, taskmeshsdk.StatusInput{Status: "in_progress"})
	require.NoError(t, err)

	_, err = c.UpdateStatus(ctx, second.ID, taskmeshsdk.StatusInput{Status: "in_progress"})
	apiErr := asAPIError(t, err)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "dependency_not_satisfied", apiErr.Code)
	require.NotNil(t, apiErr.Task)
	assert.Equal(t, "blocked", apiErr.Task.Status)
	assert.True(t, apiErr.Task.BlockedByDependency)

	_, err = c.UpdateStatus(ctx, first.ID, taskmeshsdk.StatusInput{Status: "review"})
	require.NoError(t, err)
	_, err = c.UpdateStatus(ctx, first.ID, taskmeshsdk.StatusInput{Status: "completed", Progress: ptr(100)})
	require.NoError(t, err)

	st, err := c.ProjectStatus(ctx, p.ID)
	require.NoError(t, err)
	for _, task := range st.Tasks {
		if task.ID == second.ID {
			assert.Equal(t, "ready", task.Status)
		}
	}
}

func TestErrorKindsMapToStatuses(t *testing.T) {
	srv := openServer(t)
	ctx := context.Background()
	c := srv.client("data")

	_, err := c.CreateProject(ctx, taskmeshsdk.CreateProjectInput{Name: "  "})
	assert.Equal(t, http.StatusBadRequest, asAPIError(t, err).StatusCode)
	assert.Equal(t, "validation_error", asAPIError(t, err).Code)

	_, err = c.ProjectStatus(ctx, "missing")
	assert.Equal(t, http.StatusNotFound, asAPIError(t, err).StatusCode)

	p, err := c.CreateProject(ctx, taskmeshsdk.CreateProjectInput{Name: "Errors"})
	require.NoError(t, err)
	a, err := c.CreateTask(ctx, p.ID, taskmeshsdk.CreateTaskInput{Title: "a"})
	require.NoError(t, err)
	b, err := c.CreateTask(ctx, p.ID, taskmeshsdk.CreateTaskInput{Title: "b"})
	require.NoError(t, err)

	_, err = c.UpdateStatus(ctx, a.ID, taskmeshsdk.StatusInput{Status: "completed", Progress: ptr(100)})
	assert.Equal(t, http.StatusConflict, asAPIError(t, err).StatusCode)
	assert.Equal(t, "invalid_transition", asAPIError(t, err).Code)

	_, err = c.AssignTask(ctx, a.ID, "data")
	require.NoError(t, err)
	_, err = c.AssignTask(ctx, a.ID, "web")
	assert.Equal(t, http.StatusConflict, asAPIError(t, err).StatusCode)
	assert.Equal(t, "already_assigned", asAPIError(t, err).Code)

	_, err = c.AddDependency(ctx, a.ID, b.ID, "")
	require.NoError(t, err)
	_, err = c.AddDependency(ctx, b.ID, a.ID, "")
	assert.Equal(t, http.StatusUnprocessableEntity, asAPIError(t, err).StatusCode)
	assert.Equal(t, "cyclic_dependency", asAPIError(t, err).Code)

	_, err = c.UpdateStatus(ctx, a.ID, taskmeshsdk.StatusInput{Status: "shipped"})
	assert.Equal(t, http.StatusBadRequest, asAPIError(t, err).StatusCode)

	require.NoError(t, c.RemoveDependency(ctx, a.ID, b.ID))
	assert.Equal(t, http.StatusNotFound, asAPIError(t, c.RemoveDependency(ctx, a.ID, b.ID)).StatusCode)
}

func TestFindWorkUsesCallerAndRegistry(t *testing.T) {
	srv := openServer(t)
	ctx := context.Background()
	c := srv.client("data")

	p, err := c.CreateProject(ctx, taskmeshsdk.CreateProjectInput{Name: "Work", Priority: "high"})
	require.NoError(t, err)
	// Skilled work is only offered once it is ready, so each task goes
	// through a claim and release first.
	pooled := func(in taskmeshsdk.CreateTaskInput) taskmeshsdk.Task {
		in.AssignedTeam = "data"
		task, err := c.CreateTask(ctx, p.ID, in)
		require.NoError(t, err)
		task, err = c.ReleaseTask(ctx, task.ID, "")
		require.NoError(t, err)
		require.Nil(t, task.AssignedTeam)
		return task
	}
	fits := pooled(taskmeshsdk.CreateTaskInput{Title: "sql job", RequiredSkills: []string{"sql"}, EstimatedHours: ptr(5.0)})
	pooled(taskmeshsdk.CreateTaskInput{Title: "java job", RequiredSkills: []string{"java"}})
	pooled(taskmeshsdk.CreateTaskInput{Title: "too big", RequiredSkills: []string{"python"}, EstimatedHours: ptr(20.0)})

	matches, err := c.FindWork(ctx, taskmeshsdk.WorkSearchInput{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, fits.ID, matches[0].Task.ID)
	assert.Equal(t, "undated", matches[0].Urgency)
	assert.InDelta(t, 1.0, matches[0].SkillMatch, 0.001)

	anon := srv.client("")
	_, err = anon.FindWork(ctx, taskmeshsdk.WorkSearchInput{})
	assert.Equal(t, http.StatusBadRequest, asAPIError(t, err).StatusCode)
}

func TestBearerTokenIdentifiesTeam(t *testing.T) {
	const secret = "test-secret"
	srv := newTestServer(t, AuthConfig{JWTSecret: secret, RequireIdentity: true})
	ctx := context.Background()

	anon := srv.client("")
	_, err := anon.CreateProject(ctx, taskmeshsdk.CreateProjectInput{Name: "x"})
	assert.Equal(t, http.StatusUnauthorized, asAPIError(t, err).StatusCode)

	headerOnly := srv.client("data")
	_, err = headerOnly.CreateProject(ctx, taskmeshsdk.CreateProjectInput{Name: "x"})
	assert.Equal(t, http.StatusUnauthorized, asAPIError(t, err).StatusCode)

	forged, err := SignToken("other-secret", "data", time.Hour, time.Now())
	require.NoError(t, err)
	bad := srv.client("")
	bad.BearerToken = forged
	_, err = bad.CreateProject(ctx, taskmeshsdk.CreateProjectInput{Name: "x"})
	assert.Equal(t, http.StatusUnauthorized, asAPIError(t, err).StatusCode)

	token, err := anon.DevToken(ctx, "web")
	require.NoError(t, err)
	c := srv.client("")
	c.BearerToken = token
	p, err := c.CreateProject(ctx, taskmeshsdk.CreateProjectInput{Name: "Site"})
	require.NoError(t, err)
	assert.Equal(t, "web", p.OwnerTeam)

	task, err := c.CreateTask(ctx, p.ID, taskmeshsdk.CreateTaskInput{Title: "page"})
	require.NoError(t, err)
	task, err = c.AssignTask(ctx, task.ID, "")
	require.NoError(t, err)
	require.NotNil(t, task.AssignedTeam)
	assert.Equal(t, "web", *task.AssignedTeam)

	updates, err := c.TaskUpdates(ctx, task.ID)
	require.NoError(t, err)
	require.NotEmpty(t, updates)
	for _, u := range updates {
		assert.Equal(t, "web", u.TeamID)
	}
}

func TestSignTokenRequiresSecretAndTeam(t *testing.T) {
	_, err := SignToken("", "data", 0, time.Now())
	assert.Error(t, err)
	_, err = SignToken("s", " ", 0, time.Now())
	assert.Error(t, err)

	token, err := SignToken("s", "data", 0, time.Now())
	require.NoError(t, err)
	p, err := authenticateJWT(token, "s")
	require.NoError(t, err)
	assert.Equal(t, "data", p.TeamID)
	assert.True(t, strings.Count(token, ".") == 2)
}
