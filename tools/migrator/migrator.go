package migrator

import (
	"database/sql"
	"fmt"
	"strings"
)

// AppliedMigration is one row of the schema_migrations bookkeeping table.
type AppliedMigration struct {
	Version  int
	Name     string
	Checksum string
}

// RunMigrations applies all pending migrations from the specified directory.
// The driver name selects placeholder syntax and the locking strategy and
// must match the driver db was opened with.
func RunMigrations(db *sql.DB, driver, migrationsDir string) error {
	// Create schema_migrations table if not exists
	if err := createSchemaTable(db); err != nil {
		return fmt.Errorf("failed to create schema table: %w", err)
	}

	// Acquire lock
	if err := acquireLock(db, driver); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer releaseLock(db, driver)

	// Load all migrations
	migrations, err := LoadMigrations(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	// Get already applied migrations
	applied, err := GetAppliedMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	appliedSet := make(map[int]AppliedMigration)
	maxApplied := 0
	for _, a := range applied {
		appliedSet[a.Version] = a
		if a.Version > maxApplied {
			maxApplied = a.Version
		}
	}

	// An applied migration whose file changed on disk means the directory
	// and the database disagree about history. Refuse to continue. Rows
	// recorded without a checksum are accepted as-is.
	for _, m := range migrations {
		a, ok := appliedSet[m.Version]
		if !ok {
			continue
		}
		if a.Checksum != "" && a.Checksum != m.Checksum {
			return fmt.Errorf("migration %d (%s) was modified after being applied: checksum mismatch", m.Version, m.Name)
		}
	}

	// Filter to pending migrations
	var pending []Migration
	for _, m := range migrations {
		if _, ok := appliedSet[m.Version]; !ok {
			pending = append(pending, m)
		}
	}

	// New versions must sort after everything already applied; migrations
	// cannot be inserted into the middle of the history.
	for _, m := range pending {
		if m.Version < maxApplied {
			return fmt.Errorf("cannot apply migration %d: version %d is already applied (migrations must be applied in order)", m.Version, maxApplied)
		}
	}

	// Apply each pending migration
	for _, migration := range pending {
		if err := applyMigration(db, driver, migration); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// GetCurrentVersion returns the highest applied migration version.
// Returns 0 if no migrations have been applied.
func GetCurrentVersion(db *sql.DB) (int, error) {
	var version int
	query := "SELECT COALESCE(MAX(version), 0) FROM schema_migrations"

	err := db.QueryRow(query).Scan(&version)
	if err != nil {
		if isMissingTable(err) {
			return 0, nil
		}
		return 0, err
	}

	return version, nil
}

// GetAppliedMigrations returns all applied migrations, sorted by version.
func GetAppliedMigrations(db *sql.DB) ([]AppliedMigration, error) {
	query := "SELECT version, name, checksum FROM schema_migrations ORDER BY version"

	rows, err := db.Query(query)
	if err != nil {
		if isMissingTable(err) {
			return []AppliedMigration{}, nil
		}
		return nil, err
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var a AppliedMigration
		if err := rows.Scan(&a.Version, &a.Name, &a.Checksum); err != nil {
			return nil, err
		}
		applied = append(applied, a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return applied, nil
}

// isMissingTable reports whether err is the driver's "table does not exist"
// error. sql.DB gives no structured way to ask.
func isMissingTable(err error) bool {
	return strings.Contains(err.Error(), "no such table") ||
		strings.Contains(err.Error(), "does not exist")
}

// createSchemaTable creates the schema_migrations table if it doesn't exist.
func createSchemaTable(db *sql.DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			checksum TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	_, err := db.Exec(query)
	return err
}

// applyMigration executes a single migration and records it in schema_migrations.
func applyMigration(db *sql.DB, driver string, migration Migration) error {
	recordQuery := fmt.Sprintf(
		"INSERT INTO schema_migrations (version, name, checksum) VALUES (%s, %s, %s)",
		placeholder(driver, 1), placeholder(driver, 2), placeholder(driver, 3),
	)

	if migration.NoTransaction {
		// Execute without transaction
		if _, err := db.Exec(migration.UpSQL); err != nil {
			return fmt.Errorf("failed to execute SQL: %w", err)
		}

		if _, err := db.Exec(recordQuery, migration.Version, migration.Name, migration.Checksum); err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
		return nil
	}

	// Execute in transaction
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.Exec(migration.UpSQL); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to execute SQL: %w", err)
	}

	if _, err := tx.Exec(recordQuery, migration.Version, migration.Name, migration.Checksum); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// placeholder returns the appropriate SQL placeholder for the given driver.
func placeholder(driver string, n int) string {
	switch driver {
	case "postgres", "postgresql":
		return fmt.Sprintf("$%d", n)
	default:
		return "?"
	}
}

// acquireLock acquires a database-specific advisory lock so concurrent
// processes cannot apply migrations at the same time.
func acquireLock(db *sql.DB, driver string) error {
	switch driver {
	case "postgres", "postgresql":
		_, err := db.Exec("SELECT pg_advisory_lock(874520017)")
		return err
	default:
		// SQLite serializes writers through file-level locking
		return nil
	}
}

// releaseLock releases the database-specific advisory lock.
func releaseLock(db *sql.DB, driver string) error {
	switch driver {
	case "postgres", "postgresql":
		_, err := db.Exec("SELECT pg_advisory_unlock(874520017)")
		return err
	default:
		return nil
	}
}
