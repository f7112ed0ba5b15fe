package db

import (
	"database/sql"
	"fmt"

	"github.com/linchiayu/moneta/internal/models"
)

const mutationColumns = `id, local_id, server_id, operation, data, created_at, attempts, last_error`

// AppendMutation appends an entry to the mutation queue and fills in its
// auto-assigned ID.
func (r *Repository) AppendMutation(e *models.MutationEntry) error {
	query := `
	INSERT INTO mutation_queue (local_id, server_id, operation, data, created_at, attempts, last_error)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	res, err := r.db.Exec(query, e.LocalID, e.ServerID, e.Operation,
		string(e.Data), e.CreatedAt, e.Attempts, e.LastError)
	if err != nil {
		return fmt.Errorf("failed to append mutation: %w", err)
	}
	e.ID, err = res.LastInsertId()
	return err
}

// ListMutations returns all queue entries in createdAt order, with the
// auto-assigned ID as a tiebreak for entries enqueued in the same second.
func (r *Repository) ListMutations() ([]*models.MutationEntry, error) {
	query := `SELECT ` + mutationColumns + ` FROM mutation_queue ORDER BY created_at, id`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list mutations: %w", err)
	}
	defer rows.Close()

	var entries []*models.MutationEntry
	for rows.Next() {
		e, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListMutationsForRecord returns the queue entries for a single local
// record, oldest first.
func (r *Repository) ListMutationsForRecord(localID string) ([]*models.MutationEntry, error) {
	query := `SELECT ` + mutationColumns + ` FROM mutation_queue WHERE local_id = ? ORDER BY created_at, id`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(localID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mutations for record: %w", err)
	}
	defer rows.Close()

	var entries []*models.MutationEntry
	for rows.Next() {
		e, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteMutation removes one queue entry by ID.
func (r *Repository) DeleteMutation(id int64) error {
	_, err := r.db.Exec("DELETE FROM mutation_queue WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete mutation: %w", err)
	}
	return nil
}

// DeleteMutationIfUnchanged removes an entry only if its payload still
// matches the given snapshot. Returns false, leaving the entry queued, when
// a later edit was merged into it after the snapshot was taken.
func (r *Repository) DeleteMutationIfUnchanged(id int64, data []byte) (bool, error) {
	res, err := r.db.Exec("DELETE FROM mutation_queue WHERE id = ? AND data = ?", id, string(data))
	if err != nil {
		return false, fmt.Errorf("failed to delete mutation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RetargetMutation rewrites an entry's operation and server identity in
// place, keeping its payload and queue position.
func (r *Repository) RetargetMutation(id int64, op models.MutationOp, serverID string) error {
	res, err := r.db.Exec(
		"UPDATE mutation_queue SET operation = ?, server_id = ? WHERE id = ?",
		op, serverID, id)
	if err != nil {
		return fmt.Errorf("failed to retarget mutation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateMutationData replaces the payload snapshot of an existing entry.
// Used by the queue-collapsing rules to fold a later edit into an
// uncommitted create or update.
func (r *Repository) UpdateMutationData(id int64, data []byte) error {
	res, err := r.db.Exec("UPDATE mutation_queue SET data = ? WHERE id = ?", string(data), id)
	if err != nil {
		return fmt.Errorf("failed to update mutation data: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkMutationAttempt increments an entry's attempt counter and records the
// failure reason. The entry stays queued; retry happens on the next drain
// pass.
func (r *Repository) MarkMutationAttempt(id int64, lastError string) error {
	res, err := r.db.Exec(
		"UPDATE mutation_queue SET attempts = attempts + 1, last_error = ? WHERE id = ?",
		lastError, id)
	if err != nil {
		return fmt.Errorf("failed to mark mutation attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountMutations returns the number of pending queue entries.
func (r *Repository) CountMutations() (int, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM mutation_queue").Scan(&n)
	return n, err
}

func scanMutation(rows *sql.Rows) (*models.MutationEntry, error) {
	var e models.MutationEntry
	var data string
	err := rows.Scan(&e.ID, &e.LocalID, &e.ServerID, &e.Operation, &data,
		&e.CreatedAt, &e.Attempts, &e.LastError)
	if err != nil {
		return nil, err
	}
	if data != "" {
		e.Data = []byte(data)
	}
	return &e, nil
}
