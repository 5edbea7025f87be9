// Package app opens a taskmesh workspace: database, migrations, config and
// the engine wired to them.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"taskmesh/internal/config"
	"taskmesh/internal/db"
	"taskmesh/internal/engine"
	"taskmesh/internal/migrate"
	"taskmesh/internal/repo"
)

// Options select the workspace and override config values.
type Options struct {
	Workspace string
	// DBPath overrides the workspace database file.
	DBPath string
	// Timeout overrides engine.operation_timeout when positive.
	Timeout time.Duration
	Log     zerolog.Logger
}

// Workspace is an opened workspace. Close releases the database.
type Workspace struct {
	Dir    string
	DBPath string
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

// Open migrates the workspace database and builds an engine from the
// workspace config, falling back to the built-in defaults.
func Open(opts Options) (*Workspace, error) {
	dir := opts.Workspace
	if dir == "" {
		dir = "."
	}
	cfg, err := config.LoadOrDefault(dir)
	if err != nil {
		return nil, err
	}
	if opts.Timeout > 0 {
		cfg.Engine.OperationTimeout = opts.Timeout.String()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = db.Path(dir)
	}
	conn, err := db.Open(db.Config{Workspace: dir, Path: opts.DBPath})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	e := engine.New(conn, cfg)
	e.Log = opts.Log
	opts.Log.Debug().Str("workspace", dir).Str("db", dbPath).Int("teams", len(cfg.Teams)).Msg("workspace opened")
	return &Workspace{Dir: dir, DBPath: dbPath, DB: conn, Config: cfg, Engine: e}, nil
}

func (w *Workspace) Close() error {
	if w == nil || w.DB == nil {
		return nil
	}
	return w.DB.Close()
}

// ResolveProject picks the project a command targets: the explicit id first,
// then the workspace default, then the only project in the store.
func ResolveProject(ctx context.Context, r repo.Repo, explicit, fallback string) (string, error) {
	if id := strings.TrimSpace(explicit); id != "" {
		return id, nil
	}
	if id := strings.TrimSpace(fallback); id != "" {
		return id, nil
	}
	p, err := r.SingleProject(ctx)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", fmt.Errorf("no project yet; create one with tm project create")
		}
		return "", err
	}
	return p.ID, nil
}
