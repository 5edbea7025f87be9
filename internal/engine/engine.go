// Package engine is the coordination facade: every public operation validates
// its options, runs inside one transaction and returns either the resulting
// records or a typed *domain.Error.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"taskmesh/internal/config"
	"taskmesh/internal/deps"
	"taskmesh/internal/domain"
	"taskmesh/internal/events"
	"taskmesh/internal/repo"
	"taskmesh/internal/teams"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Teams  teams.Resolver
	Log    zerolog.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		Teams:  teams.NewRegistry(cfg.Teams),
		Log:    zerolog.Nop(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) config() *config.Config {
	if e.Config == nil {
		return config.Default()
	}
	return e.Config
}

// withTimeout bounds ctx by the configured operation timeout unless the
// caller already set a deadline.
func (e Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.config().OperationTimeout())
}

// begin opens a transaction and returns a repo bound to it. The caller must
// defer tx.Rollback().
func (e Engine) begin(ctx context.Context) (*sql.Tx, repo.Repo, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, repo.Repo{}, fmt.Errorf("begin: %w", err)
	}
	return tx, e.Repo.Tx(tx), nil
}

// appendUpdate writes one audit row stamped with the engine clock.
func (e Engine) appendUpdate(ctx context.Context, tx *sql.Tx, u domain.TaskUpdate) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	if _, err := w.Append(ctx, tx, u); err != nil {
		return err
	}
	return nil
}

func (e Engine) getTask(ctx context.Context, r repo.Repo, op, id string) (domain.Task, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Task{}, domain.Errorf(domain.ErrValidation, op, "task id is required")
	}
	t, err := r.GetTask(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return t, domain.Errorf(domain.ErrNotFound, op, "task %s not found", id)
	}
	if err != nil {
		return t, fmt.Errorf("%s: load task %s: %w", op, id, err)
	}
	return t, nil
}

func (e Engine) getProject(ctx context.Context, r repo.Repo, op, id string) (domain.Project, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Project{}, domain.Errorf(domain.ErrValidation, op, "project id is required")
	}
	p, err := r.GetProject(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return p, domain.Errorf(domain.ErrNotFound, op, "project %s not found", id)
	}
	if err != nil {
		return p, fmt.Errorf("%s: load project %s: %w", op, id, err)
	}
	return p, nil
}

// actingTeam picks who a change is attributed to: the caller when known,
// then the task's team, then the owning project's team.
func (e Engine) actingTeam(ctx context.Context, r repo.Repo, explicit string, t domain.Task) string {
	if s := strings.TrimSpace(explicit); s != "" {
		return s
	}
	if t.AssignedTeam != nil && *t.AssignedTeam != "" {
		return *t.AssignedTeam
	}
	if p, err := r.GetProject(ctx, t.ProjectID); err == nil {
		return p.OwnerTeam
	}
	return domain.SystemTeam
}

// loadGraph reads the tasks and edges of a project into a fresh graph.
func (e Engine) loadGraph(ctx context.Context, r repo.Repo, projectID string) (*deps.Graph, map[string]domain.Task, error) {
	tasks, err := r.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID})
	if err != nil {
		return nil, nil, fmt.Errorf("list tasks: %w", err)
	}
	edges, err := r.ListDependencies(ctx, repo.DependencyFilters{ProjectID: projectID})
	if err != nil {
		return nil, nil, fmt.Errorf("list dependencies: %w", err)
	}
	byID := make(map[string]domain.Task, len(tasks))
	nodes := make([]deps.Node, 0, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
		nodes = append(nodes, deps.NodeFromTask(t))
	}
	return deps.New(nodes, edges), byID, nil
}

// successorsOf returns the distinct direct successors of ids, sorted.
func successorsOf(g *deps.Graph, ids ...string) []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range ids {
		for _, s := range g.Successors(id) {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}

// unblock re-evaluates dependency-blocked tasks among candidates and returns
// the ones whose gate is now open to the status they left.
func (e Engine) unblock(ctx context.Context, tx *sql.Tx, r repo.Repo, projectID string, candidates func(*deps.Graph) []string) ([]string, error) {
	g, tasks, err := e.loadGraph(ctx, r, projectID)
	if err != nil {
		return nil, err
	}
	var released []string
	for _, id := range candidates(g) {
		t, ok := tasks[id]
		if !ok || t.Status != domain.TaskBlocked || !t.BlockedByDependency || t.BlockedFrom == nil {
			continue
		}
		if !g.Unblocked(id, deps.GateForBlockedFrom(*t.BlockedFrom)) {
			continue
		}
		to := *t.BlockedFrom
		t.Status = to
		t.BlockerDescription = nil
		t.BlockedFrom = nil
		t.BlockedByDependency = false
		t.NeedsHelpFrom = nil
		t.UpdatedAt = e.stamp()
		if err := r.UpdateTask(ctx, t, domain.TaskBlocked); err != nil {
			return nil, fmt.Errorf("unblock %s: %w", id, err)
		}
		if err := e.appendUpdate(ctx, tx, events.StatusChange(id, domain.SystemTeam, domain.TaskBlocked, to, "predecessors satisfied", 0)); err != nil {
			return nil, err
		}
		e.Log.Info().Str("task", id).Str("status", to).Msg("dependency block cleared")
		released = append(released, id)
	}
	return released, nil
}

// recomputeProject refreshes the derived completion percentage and
// completes an active project once every non-cancelled task is done.
func (e Engine) recomputeProject(ctx context.Context, r repo.Repo, projectID string) error {
	counts, err := r.CountTasksByStatus(ctx, projectID)
	if err != nil {
		return fmt.Errorf("count tasks: %w", err)
	}
	total := 0
	for status, n := range counts {
		if status != domain.TaskCancelled {
			total += n
		}
	}
	done := counts[domain.TaskCompleted]
	pct := 0
	if total > 0 {
		pct = int(math.Round(float64(done) / float64(total) * 100))
	}
	now := e.stamp()
	if err := r.UpdateProjectCompletion(ctx, projectID, pct, now); err != nil {
		return fmt.Errorf("update completion: %w", err)
	}
	if total > 0 && done == total {
		err := r.UpdateProjectStatus(ctx, projectID, domain.ProjectCompleted, now, domain.ProjectActive)
		if err == nil {
			e.Log.Info().Str("project", projectID).Msg("project completed")
		} else if !errors.Is(err, repo.ErrConflict) {
			return fmt.Errorf("complete project: %w", err)
		}
	}
	return nil
}

// activateProject moves a planning project to active; other statuses are
// left alone.
func (e Engine) activateProject(ctx context.Context, r repo.Repo, projectID string) error {
	err := r.UpdateProjectStatus(ctx, projectID, domain.ProjectActive, e.stamp(), domain.ProjectPlanning)
	if err != nil && !errors.Is(err, repo.ErrConflict) {
		return fmt.Errorf("activate project: %w", err)
	}
	return nil
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func normalizeSkills(in []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, s := range in {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
