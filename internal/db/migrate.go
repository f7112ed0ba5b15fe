// Package db provides database schema migration management.
package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// Migration is one versioned, additive schema change. Migrations are
// compiled into the binary so the client never depends on files shipped
// next to it.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered schema history. New fields on the record shape
// are added as a new version with ALTER TABLE; existing local data is never
// destroyed.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial_schema",
		SQL: `
		CREATE TABLE transactions (
			local_id TEXT PRIMARY KEY,
			server_id TEXT NOT NULL DEFAULT '',
			amount TEXT NOT NULL,
			kind TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			note TEXT NOT NULL DEFAULT '',
			occurred INTEGER NOT NULL,
			sync_status TEXT NOT NULL DEFAULT 'pending',
			is_deleted INTEGER NOT NULL DEFAULT 0,
			local_updated_at INTEGER NOT NULL
		);
		CREATE INDEX idx_transactions_server_id ON transactions(server_id);
		CREATE INDEX idx_transactions_sync_status ON transactions(sync_status);
		CREATE INDEX idx_transactions_is_deleted ON transactions(is_deleted);
		CREATE INDEX idx_transactions_occurred ON transactions(occurred);
		CREATE INDEX idx_transactions_category ON transactions(category);

		CREATE TABLE metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
	},
	{
		Version:     2,
		Description: "mutation_queue",
		SQL: `
		CREATE TABLE mutation_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			local_id TEXT NOT NULL,
			server_id TEXT NOT NULL DEFAULT '',
			operation TEXT NOT NULL,
			data TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX idx_mutation_queue_local_id ON mutation_queue(local_id);
		CREATE INDEX idx_mutation_queue_created_at ON mutation_queue(created_at);
		CREATE INDEX idx_mutation_queue_operation ON mutation_queue(operation);`,
	},
	{
		Version:     3,
		Description: "sync_bookkeeping",
		SQL: `
		ALTER TABLE transactions ADD COLUMN last_synced_at INTEGER NOT NULL DEFAULT 0;`,
	},
}

// AppliedMigration records a migration that has been run.
type AppliedMigration struct {
	Version     int
	AppliedAt   time.Time
	Description string
	Checksum    string
}

// Migrator handles database schema migrations.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// GetAppliedMigrations returns all applied migrations in version order.
func (m *Migrator) GetAppliedMigrations() ([]AppliedMigration, error) {
	rows, err := m.db.Query("SELECT version, applied_at, description, checksum FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var a AppliedMigration
		var appliedAt int64
		if err := rows.Scan(&a.Version, &appliedAt, &a.Description, &a.Checksum); err != nil {
			return nil, err
		}
		a.AppliedAt = time.Unix(appliedAt, 0)
		applied = append(applied, a)
	}
	return applied, rows.Err()
}

// Up applies all pending migrations. Already-applied versions are verified
// against their recorded checksum so a silently edited migration fails
// loudly instead of diverging schemas across devices.
func (m *Migrator) Up() error {
	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	appliedByVersion := make(map[int]AppliedMigration)
	for _, a := range applied {
		appliedByVersion[a.Version] = a
	}

	for _, mig := range migrations {
		if prev, ok := appliedByVersion[mig.Version]; ok {
			if prev.Checksum != checksum(mig.SQL) {
				return fmt.Errorf("migration V%d checksum mismatch: schema history was modified", mig.Version)
			}
			continue
		}

		if err := m.applyMigration(mig); err != nil {
			return fmt.Errorf("failed to apply migration V%d: %w", mig.Version, err)
		}
	}

	return nil
}

// applyMigration applies a single migration in its own transaction.
func (m *Migrator) applyMigration(mig Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(mig.SQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	query := `INSERT INTO schema_migrations (version, applied_at, description, checksum)
			  VALUES (?, ?, ?, ?)`
	if _, err := tx.Exec(query, mig.Version, time.Now().Unix(), mig.Description, checksum(mig.SQL)); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

// checksum returns the hex SHA-256 of a migration's SQL.
func checksum(sqlText string) string {
	hash := sha256.Sum256([]byte(sqlText))
	return hex.EncodeToString(hash[:])
}
