package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/dots-distro/dots-family-mode-sub003/internal/domain"
)

/**
 * CONTEXT:   Forward-only, checksum-pinned schema migrations
 * INPUT:     The embedded migrations/ directory
 * OUTPUT:    A database brought to the latest schema version inside one
 *            transaction per migration, recorded in schema_migrations
 * BUSINESS:  An applied migration's checksum must never change underneath
 *            an existing deployment; that is a SchemaError, not a silent
 *            re-apply
 * CHANGE:    New package grounded on the teacher's embed+schema_version
 *            pattern (internal/database/sqlite's //go:embed schema.sql),
 *            generalized to an ordered sequence instead of a single file
 * RISK:      Medium - runs at every startup before the daemon can serve
 */

//go:embed migrations/*.sql
var migrationFS embed.FS

type migration struct {
	version  int
	name     string
	checksum string
	sql      string
}

func loadMigrations() ([]migration, error) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return nil, domain.NewInternalError("reading embedded migrations", err)
	}

	migs := make([]migration, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		body, err := migrationFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return nil, domain.NewInternalError("reading migration "+entry.Name(), err)
		}
		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(body)
		migs = append(migs, migration{
			version:  version,
			name:     entry.Name(),
			checksum: hex.EncodeToString(sum[:]),
			sql:      string(body),
		})
	}

	sort.Slice(migs, func(i, j int) bool { return migs[i].version < migs[j].version })
	return migs, nil
}

func parseMigrationVersion(filename string) (int, error) {
	prefix := strings.SplitN(filename, "_", 2)[0]
	var version int
	if _, err := fmt.Sscanf(prefix, "%d", &version); err != nil {
		return 0, domain.NewSchemaError("migration file "+filename+" does not start with a numeric version", err)
	}
	return version, nil
}

// applyMigrations brings db up to the latest embedded schema version,
// recording each applied migration's checksum in schema_migrations. A
// mismatched checksum on an already-applied version is a SchemaError:
// the on-disk migration set must never be edited after release.
func applyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version   INTEGER PRIMARY KEY,
			name      TEXT NOT NULL,
			checksum  TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return domain.NewSchemaError("creating schema_migrations table", err)
	}

	migs, err := loadMigrations()
	if err != nil {
		return err
	}

	applied := map[int]string{}
	rows, err := db.QueryContext(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return domain.NewSchemaError("reading schema_migrations", err)
	}
	for rows.Next() {
		var version int
		var checksum string
		if err := rows.Scan(&version, &checksum); err != nil {
			rows.Close()
			return domain.NewSchemaError("scanning schema_migrations row", err)
		}
		applied[version] = checksum
	}
	rows.Close()

	for _, m := range migs {
		if existing, ok := applied[m.version]; ok {
			if existing != m.checksum {
				return domain.NewSchemaError(
					fmt.Sprintf("migration %s checksum mismatch: already applied as %s, disk copy is %s", m.name, existing, m.checksum), nil)
			}
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return domain.NewSchemaError("beginning migration transaction for "+m.name, err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return domain.NewSchemaError("applying migration "+m.name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name, checksum) VALUES (?, ?, ?)`,
			m.version, m.name, m.checksum); err != nil {
			tx.Rollback()
			return domain.NewSchemaError("recording migration "+m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return domain.NewSchemaError("committing migration "+m.name, err)
		}
	}

	return nil
}
