package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

// migrations[i] brings the schema from user_version i to i+1.
var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS file_record (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    checksum VARCHAR(64) NOT NULL UNIQUE,
    file_name VARCHAR(256) NOT NULL,
    file_path VARCHAR(512) NOT NULL,
    file_size BIGINT NOT NULL,
    file_type VARCHAR(10) NOT NULL,
    date_created TEXT NOT NULL -- RFC3339
);
`,
	// file_type widened to 20; sqlite does not enforce VARCHAR widths so only
	// the declared type changes, via a table rebuild.
	`
CREATE TABLE file_record_new (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    checksum VARCHAR(64) NOT NULL UNIQUE,
    file_name VARCHAR(256) NOT NULL,
    file_path VARCHAR(512) NOT NULL,
    file_size BIGINT NOT NULL,
    file_type VARCHAR(20) NOT NULL,
    date_created TEXT NOT NULL
);
INSERT INTO file_record_new (id, checksum, file_name, file_path, file_size, file_type, date_created)
    SELECT id, checksum, file_name, file_path, file_size, file_type, date_created FROM file_record;
DROP TABLE file_record;
ALTER TABLE file_record_new RENAME TO file_record;
`,
	`
CREATE INDEX IF NOT EXISTS idx_file_record_path ON file_record(file_path);
CREATE INDEX IF NOT EXISTS idx_file_record_created ON file_record(date_created);
`,
}

// SchemaVersion is the user_version after all migrations ran.
var SchemaVersion = len(migrations)

func migrate(ctx context.Context, conn *sqlx.DB) error {
	var current int
	if err := conn.GetContext(ctx, &current, "PRAGMA user_version"); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if current > len(migrations) {
		return fmt.Errorf("catalog schema version %d is newer than supported %d", current, len(migrations))
	}

	for v := current; v < len(migrations); v++ {
		tx, err := conn.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", v+1, err)
		}
		// PRAGMA does not take bind parameters
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("bump schema version to %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", v+1, err)
		}
		slog.Debug("catalog migrated", "version", v+1)
	}

	return nil
}
