// Package db tests for database migration management.
package db

import (
	"testing"
)

// TestMigrator_Up verifies all migrations apply and are recorded.
func TestMigrator_Up(t *testing.T) {
	database, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer database.Close()

	migrator := NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	version, err := migrator.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion() failed: %v", err)
	}
	want := migrations[len(migrations)-1].Version
	if version != want {
		t.Errorf("version = %d, want %d", version, want)
	}

	// All three tables must exist
	for _, table := range []string{"transactions", "mutation_queue", "metadata"} {
		var name string
		err := database.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %q missing: %v", table, err)
		}
	}

	// The additive column from V3 must be present
	var count int
	err = database.QueryRow(
		"SELECT COUNT(*) FROM pragma_table_info('transactions') WHERE name='last_synced_at'").Scan(&count)
	if err != nil {
		t.Fatalf("pragma query failed: %v", err)
	}
	if count != 1 {
		t.Error("last_synced_at column missing after migration")
	}
}

// TestMigrator_UpIdempotent verifies a second Up is a no-op.
func TestMigrator_UpIdempotent(t *testing.T) {
	database, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer database.Close()

	migrator := NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("first Up() failed: %v", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("second Up() failed: %v", err)
	}

	applied, err := migrator.GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations() failed: %v", err)
	}
	if len(applied) != len(migrations) {
		t.Errorf("applied count = %d, want %d", len(applied), len(migrations))
	}
}

// TestMigrator_checksumRecorded verifies each applied migration carries the
// checksum of its SQL.
func TestMigrator_checksumRecorded(t *testing.T) {
	database, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer database.Close()

	migrator := NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	applied, err := migrator.GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations() failed: %v", err)
	}
	for i, a := range applied {
		if a.Checksum != checksum(migrations[i].SQL) {
			t.Errorf("migration V%d checksum mismatch", a.Version)
		}
	}
}
