// Package teams resolves team ids to the skills and capacity the work
// matcher falls back on when a request omits them.
package teams

import (
	"context"
	"errors"
	"strings"

	"taskmesh/internal/domain"
)

var ErrUnknownTeam = errors.New("unknown team")

// Resolver looks up a team by id.
type Resolver interface {
	Resolve(ctx context.Context, id string) (domain.Team, error)
}

// Registry is a fixed, read-only set of teams, usually loaded from config.
type Registry struct {
	teams map[string]domain.Team
}

func NewRegistry(list []domain.Team) *Registry {
	r := &Registry{teams: make(map[string]domain.Team, len(list))}
	for _, t := range list {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			continue
		}
		t.ID = id
		r.teams[id] = t
	}
	return r
}

func (r *Registry) Resolve(_ context.Context, id string) (domain.Team, error) {
	if r == nil {
		return domain.Team{}, ErrUnknownTeam
	}
	t, ok := r.teams[strings.TrimSpace(id)]
	if !ok {
		return domain.Team{}, ErrUnknownTeam
	}
	skills := make([]string, len(t.Skills))
	copy(skills, t.Skills)
	t.Skills = skills
	return t, nil
}

// Len returns the number of registered teams.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.teams)
}
