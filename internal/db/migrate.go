package db

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

var ErrSchemaTooNew = errors.New("database schema is newer than this build")

// Migrate brings the schema to version len(steps), tracked in PRAGMA
// user_version. steps[i] moves the database from version i to i+1 and runs in
// its own transaction.
func Migrate(conn *sqlx.DB, steps []string) error {
	var current int
	if err := conn.Get(&current, "PRAGMA user_version"); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > len(steps) {
		return fmt.Errorf("%w: at version %d, known %d", ErrSchemaTooNew, current, len(steps))
	}

	for version := current; version < len(steps); version++ {
		if err := migrateStep(conn, version+1, steps[version]); err != nil {
			return err
		}
		slog.Debug("db migrated", "version", version+1)
	}
	return nil
}

func migrateStep(conn *sqlx.DB, version int, stmt string) error {
	tx, err := conn.Beginx()
	if err != nil {
		return fmt.Errorf("migrate to version %d: %w", version, err)
	}
	if _, err := tx.Exec(stmt); err != nil {
		tx.Rollback()
		return fmt.Errorf("migrate to version %d: %w", version, err)
	}
	// pragma arguments cannot be bound
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		tx.Rollback()
		return fmt.Errorf("set schema version %d: %w", version, err)
	}
	return tx.Commit()
}
