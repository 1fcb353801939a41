package storage

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/schoolhub/schoolhub/internal/core"
	"github.com/schoolhub/schoolhub/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const schemaTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    TEXT PRIMARY KEY,
	applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

type migration struct {
	version string
	sql     string
}

// Migrate applies every embedded migration that has not run yet, in file
// name order, each in its own transaction.
func (db *DB) Migrate() error {
	ctx := context.Background()

	if _, err := db.conn.ExecContext(ctx, schemaTable); err != nil {
		return fmt.Errorf("%w: %v", core.ErrMigrationFailed, err)
	}

	var done []string
	if err := db.conn.SelectContext(ctx, &done, `SELECT version FROM schema_migrations`); err != nil {
		return fmt.Errorf("%w: %v", core.ErrMigrationFailed, err)
	}
	applied := make(map[string]struct{}, len(done))
	for _, v := range done {
		applied[v] = struct{}{}
	}

	pending, err := embeddedMigrations()
	if err != nil {
		return err
	}
	for _, m := range pending {
		if _, ok := applied[m.version]; ok {
			continue
		}
		err := db.Transaction(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, m.sql); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, m.version)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: %s: %v", core.ErrMigrationFailed, m.version, err)
		}
		logging.Debug("Applied migration %s", m.version)
	}
	return nil
}

// embeddedMigrations lists migrations/*.sql sorted by version, the file
// name without its extension.
func embeddedMigrations() ([]migration, error) {
	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMigrationFailed, err)
	}
	sort.Strings(files)

	out := make([]migration, 0, len(files))
	for _, f := range files {
		body, err := migrationsFS.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", core.ErrMigrationFailed, f, err)
		}
		out = append(out, migration{
			version: strings.TrimSuffix(path.Base(f), ".sql"),
			sql:     string(body),
		})
	}
	return out, nil
}
