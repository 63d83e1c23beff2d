// Package db owns the workspace SQLite database. All application state lives
// in a single file under <workspace>/.heartmend/.
package db

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const dbFile = "heartmend.db"

type Config struct {
	Workspace string
}

// EnsureWorkspace creates the hidden data directory for a workspace and
// returns its path.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	dir := filepath.Join(workspace, ".heartmend")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Open returns a pool for the workspace database, creating the data directory
// as needed. Foreign keys are enforced, and writers wait out short lock
// contention instead of failing immediately.
func Open(cfg Config) (*sql.DB, error) {
	dir, err := EnsureWorkspace(cfg.Workspace)
	if err != nil {
		return nil, err
	}
	dsn := "file:" + filepath.Join(dir, dbFile) +
		"?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	return sql.Open("sqlite", dsn)
}

// Path reports where the workspace database lives on disk.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".heartmend", dbFile)
}
