package db

import (
	"database/sql"
	"fmt"
)

// Well-known metadata keys.
const (
	MetaLastPullAt = "last_pull_at"
	MetaDeviceID   = "device_id"
)

// GetMetadata returns the value stored under key. Returns sql.ErrNoRows if
// the key has never been set.
func (r *Repository) GetMetadata(key string) (string, error) {
	stmt, err := r.PrepareStmt("SELECT value FROM metadata WHERE key = ?")
	if err != nil {
		return "", err
	}
	var value string
	if err := stmt.QueryRow(key).Scan(&value); err != nil {
		return "", err
	}
	return value, nil
}

// SetMetadata stores value under key, replacing any previous value.
func (r *Repository) SetMetadata(key, value string) error {
	_, err := r.db.Exec(
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("failed to set metadata %q: %w", key, err)
	}
	return nil
}

// GetMetadataDefault returns the value for key, or def if unset.
func (r *Repository) GetMetadataDefault(key, def string) (string, error) {
	value, err := r.GetMetadata(key)
	if err == sql.ErrNoRows {
		return def, nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}
