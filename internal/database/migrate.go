package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
)

//go:embed migrations
var migrations embed.FS

// MigrationFiles lists the embedded migrations for the db's driver in the
// order they must run for direction ("up" or "down").
func MigrationFiles(driver, direction string) ([]string, error) {
	if direction != "up" && direction != "down" {
		return nil, fmt.Errorf("direction must be 'up' or 'down', got %q", direction)
	}

	dir := path.Join("migrations", driver)
	entries, err := fs.ReadDir(migrations, dir)
	if err != nil {
		return nil, fmt.Errorf("read migration directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), fmt.Sprintf(".%s.sql", direction)) {
			files = append(files, path.Join(dir, e.Name()))
		}
	}

	sort.Strings(files)
	if direction == "down" {
		for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
			files[i], files[j] = files[j], files[i]
		}
	}

	return files, nil
}

// Migrate runs every embedded migration for direction and returns how many
// files ran.
func Migrate(ctx context.Context, db *sqlx.DB, direction string) (int, error) {
	files, err := MigrationFiles(db.DriverName(), direction)
	if err != nil {
		return 0, err
	}

	for _, name := range files {
		content, err := migrations.ReadFile(name)
		if err != nil {
			return 0, fmt.Errorf("read migration file %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return 0, fmt.Errorf("execute migration %s: %w", name, err)
		}
	}

	return len(files), nil
}
