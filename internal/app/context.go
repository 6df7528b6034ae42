package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"rosterline/internal/config"
	"rosterline/internal/db"
	"rosterline/internal/engine"
	"rosterline/internal/migrate"
)

// Workspace is an opened rosterline workspace: a migrated database and the
// flow catalog that goes with it.
type Workspace struct {
	Dir    string
	DB     *sql.DB
	Config *config.Config
}

// OpenWorkspace prepares the workspace directory, opens and migrates the
// database and loads rosterline.yml, falling back to the built-in catalog.
func OpenWorkspace(ctx context.Context, dir string) (*Workspace, error) {
	if _, err := db.EnsureWorkspace(dir); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOrDefault(dir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Workspace{Dir: dir, DB: conn, Config: cfg}, nil
}

// Engine returns a session engine over the workspace.
func (w *Workspace) Engine(logger *zap.Logger) engine.Engine {
	return engine.New(w.DB, w.Config, logger)
}

func (w *Workspace) Close() error {
	if w == nil || w.DB == nil {
		return nil
	}
	return w.DB.Close()
}
