package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/linchiayu/moneta/internal/models"
)

const transactionColumns = `local_id, server_id, amount, kind, category, note,
	occurred, sync_status, is_deleted, local_updated_at, last_synced_at`

// allowed column names for partial updates
var transactionFields = map[string]bool{
	"server_id":        true,
	"amount":           true,
	"kind":             true,
	"category":         true,
	"note":             true,
	"occurred":         true,
	"sync_status":      true,
	"is_deleted":       true,
	"local_updated_at": true,
	"last_synced_at":   true,
}

// PutTransaction inserts or fully replaces a transaction keyed by LocalID.
func (r *Repository) PutTransaction(t *models.Transaction) error {
	query := `
	INSERT OR REPLACE INTO transactions (` + transactionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, t.LocalID, t.ServerID, t.Amount.String(), t.Kind,
		t.Category, t.Note, t.Occurred, t.SyncStatus, t.IsDeleted,
		t.LocalUpdatedAt, t.LastSyncedAt)
	if err != nil {
		return fmt.Errorf("failed to put transaction: %w", err)
	}
	r.notifyWatchers()
	return nil
}

// GetTransaction retrieves a transaction by local ID, including soft-deleted
// ones. Returns sql.ErrNoRows if absent.
func (r *Repository) GetTransaction(localID string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE local_id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	return scanTransaction(stmt.QueryRow(localID))
}

// GetTransactionByServerID retrieves a transaction by its server-assigned
// identity. Returns sql.ErrNoRows if absent.
func (r *Repository) GetTransactionByServerID(serverID string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE server_id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	return scanTransaction(stmt.QueryRow(serverID))
}

// UpdateTransactionFields merges partial fields into an existing transaction.
// Returns sql.ErrNoRows if the transaction is absent.
func (r *Repository) UpdateTransactionFields(localID string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}

	setClauses := make([]string, 0, len(fields))
	args := make([]interface{}, 0, len(fields)+1)
	for col, val := range fields {
		if !transactionFields[col] {
			return fmt.Errorf("unknown transaction field: %q", col)
		}
		if d, ok := val.(decimal.Decimal); ok {
			val = d.String()
		}
		setClauses = append(setClauses, col+" = ?")
		args = append(args, val)
	}
	args = append(args, localID)

	query := "UPDATE transactions SET " + strings.Join(setClauses, ", ") + " WHERE local_id = ?"
	res, err := r.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	r.notifyWatchers()
	return nil
}

// DeleteTransaction physically removes a transaction from the store.
func (r *Repository) DeleteTransaction(localID string) error {
	_, err := r.db.Exec("DELETE FROM transactions WHERE local_id = ?", localID)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	r.notifyWatchers()
	return nil
}

// QueryActiveTransactions returns all non-deleted transactions matching the
// predicate, ordered by occurrence date descending. The predicate runs
// client-side; SQLite sees only the is_deleted filter. A nil predicate
// matches everything.
func (r *Repository) QueryActiveTransactions(pred func(*models.Transaction) bool) ([]*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
	FROM transactions WHERE is_deleted = 0 ORDER BY occurred DESC, local_id`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var items []*models.Transaction
	for rows.Next() {
		t, err := scanTransactionRows(rows)
		if err != nil {
			return nil, err
		}
		if pred == nil || pred(t) {
			items = append(items, t)
		}
	}
	return items, rows.Err()
}

// ListAllTransactions returns every transaction, soft-deleted included.
// The sync engine's reconciliation pull needs the full set.
func (r *Repository) ListAllTransactions() ([]*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var items []*models.Transaction
	for rows.Next() {
		t, err := scanTransactionRows(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// CountTransactions returns the number of rows in the transactions table,
// soft-deleted included.
func (r *Repository) CountTransactions() (int, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM transactions").Scan(&n)
	return n, err
}

// scanner abstracts *sql.Row and *sql.Rows for the shared scan path.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row *sql.Row) (*models.Transaction, error) {
	return scanTransactionFrom(row)
}

func scanTransactionRows(rows *sql.Rows) (*models.Transaction, error) {
	return scanTransactionFrom(rows)
}

func scanTransactionFrom(s scanner) (*models.Transaction, error) {
	var t models.Transaction
	var amount string
	err := s.Scan(&t.LocalID, &t.ServerID, &amount, &t.Kind, &t.Category,
		&t.Note, &t.Occurred, &t.SyncStatus, &t.IsDeleted,
		&t.LocalUpdatedAt, &t.LastSyncedAt)
	if err != nil {
		return nil, err
	}
	t.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount %q: %w", amount, err)
	}
	return &t, nil
}
