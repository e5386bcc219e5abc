package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	MigrateUp   = "up"
	MigrateDown = "down"
)

// MigrationFiles lists the embedded migrations for a direction in the order
// they must run: ascending for up, descending for down.
func MigrationFiles(direction string) ([]string, error) {
	if direction != MigrateUp && direction != MigrateDown {
		return nil, fmt.Errorf("direction must be %q or %q, got %q", MigrateUp, MigrateDown, direction)
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migration directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), fmt.Sprintf(".%s.sql", direction)) {
			files = append(files, entry.Name())
		}
	}

	sort.Strings(files)
	if direction == MigrateDown {
		for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
			files[i], files[j] = files[j], files[i]
		}
	}

	return files, nil
}

// Migrate applies every embedded migration for direction. The scripts are
// idempotent, so running up on an existing schema is a no-op.
func Migrate(ctx context.Context, db *sql.DB, direction string) ([]string, error) {
	files, err := MigrationFiles(direction)
	if err != nil {
		return nil, err
	}

	for _, filename := range files {
		content, err := fs.ReadFile(migrationFS, "migrations/"+filename)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", filename, err)
		}

		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return nil, fmt.Errorf("execute migration %s: %w", filename, err)
		}
	}

	return files, nil
}
