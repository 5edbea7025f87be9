package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskmesh/internal/deps"
	"taskmesh/internal/domain"
	"taskmesh/internal/matcher"
	"taskmesh/internal/teams"
)

// WorkRequest asks for claimable work. Skills and capacity fall back to the
// team registry when omitted.
type WorkRequest struct {
	TeamID        string
	Skills        []string
	CapacityHours *float64
}

// FindAvailableWork ranks the tasks the team may claim, most urgent first.
// It never assigns anything.
func (e Engine) FindAvailableWork(ctx context.Context, req WorkRequest) ([]matcher.Match, error) {
	const op = "find_available_work"
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	team := strings.TrimSpace(req.TeamID)
	if team == "" {
		return nil, domain.Errorf(domain.ErrValidation, op, "team id is required")
	}
	if req.CapacityHours != nil && *req.CapacityHours < 0 {
		return nil, domain.Errorf(domain.ErrValidation, op, "capacity hours must not be negative")
	}
	mreq := matcher.Request{TeamID: team, Skills: normalizeSkills(req.Skills), CapacityHours: req.CapacityHours}
	if (len(mreq.Skills) == 0 || mreq.CapacityHours == nil) && e.Teams != nil {
		known, err := e.Teams.Resolve(ctx, team)
		switch {
		case err == nil:
			if len(mreq.Skills) == 0 {
				mreq.Skills = normalizeSkills(known.Skills)
			}
			if mreq.CapacityHours == nil {
				mreq.CapacityHours = known.CapacityHours
			}
		case !errors.Is(err, teams.ErrUnknownTeam):
			return nil, fmt.Errorf("%s: resolve team: %w", op, err)
		}
	}

	tx, r, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	claimable, err := r.ListClaimable(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	graphs := map[string]*deps.Graph{}
	cands := make([]matcher.Candidate, 0, len(claimable))
	for _, c := range claimable {
		g, ok := graphs[c.Task.ProjectID]
		if !ok {
			g, _, err = e.loadGraph(ctx, r, c.Task.ProjectID)
			if err != nil {
				return nil, err
			}
			graphs[c.Task.ProjectID] = g
		}
		cands = append(cands, matcher.Candidate{
			Task:            c.Task,
			ProjectPriority: c.ProjectPriority,
			ProjectStatus:   c.ProjectStatus,
			StartUnblocked:  g.Unblocked(c.Task.ID, deps.GateStart),
		})
	}
	cfg := e.config()
	matches := matcher.Find(cands, mreq, matcher.Policy{
		UrgentWithinDays:  cfg.Matcher.UrgentWithinDays,
		SoonWithinDays:    cfg.Matcher.SoonWithinDays,
		NoDueSentinelDays: cfg.Matcher.NoDueSentinelDays,
	}, e.now())
	e.Log.Debug().Str("team", team).Int("candidates", len(cands)).Int("matches", len(matches)).Msg("work search")
	return matches, nil
}
