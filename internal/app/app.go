// Package app assembles the pieces a command needs: workspace database,
// migrations, config file, engine.
package app

import (
	"fmt"

	"heartmend/internal/config"
	"heartmend/internal/db"
	"heartmend/internal/engine"
	"heartmend/internal/migrate"
	"heartmend/internal/ratelimit"
)

// Bootstrap opens the workspace database, applies migrations, loads the
// optional config file, and builds the engine. The returned cleanup drains
// background work and closes the database.
func Bootstrap(workspace string) (*engine.Engine, func(), error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	e := engine.New(conn, cfg)
	cleanup := func() {
		e.Close()
		if l, ok := e.Limiter.(*ratelimit.MemoryLimiter); ok {
			l.Stop()
		}
		conn.Close()
	}
	return e, cleanup, nil
}
