// Package db tests for transaction store operations.
package db

import (
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/linchiayu/moneta/internal/models"
	"github.com/linchiayu/moneta/internal/uuid"
)

func testTransaction() *models.Transaction {
	return &models.Transaction{
		LocalID:        models.UUID(uuid.New()),
		Amount:         decimal.RequireFromString("42.50"),
		Kind:           models.KindExpense,
		Category:       "groceries",
		Note:           "weekly shop",
		Occurred:       time.Now().Unix(),
		SyncStatus:     models.SyncStatusPending,
		LocalUpdatedAt: time.Now().Unix(),
	}
}

// TestPutGetTransaction verifies a round trip through the store.
func TestPutGetTransaction(t *testing.T) {
	repo := newTestRepo(t)

	want := testTransaction()
	if err := repo.PutTransaction(want); err != nil {
		t.Fatalf("PutTransaction() failed: %v", err)
	}

	got, err := repo.GetTransaction(want.LocalID.String())
	if err != nil {
		t.Fatalf("GetTransaction() failed: %v", err)
	}

	if !got.Amount.Equal(want.Amount) {
		t.Errorf("amount = %s, want %s", got.Amount, want.Amount)
	}
	if got.Category != want.Category {
		t.Errorf("category = %q, want %q", got.Category, want.Category)
	}
	if got.SyncStatus != models.SyncStatusPending {
		t.Errorf("sync status = %q, want pending", got.SyncStatus)
	}
	if got.ServerID != "" {
		t.Errorf("server id = %q, want empty", got.ServerID)
	}
}

// TestGetTransaction_absent verifies missing records return sql.ErrNoRows.
func TestGetTransaction_absent(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetTransaction(uuid.New())
	if err != sql.ErrNoRows {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}
}

// TestUpdateTransactionFields verifies partial merges and the absent case.
func TestUpdateTransactionFields(t *testing.T) {
	repo := newTestRepo(t)

	tx := testTransaction()
	if err := repo.PutTransaction(tx); err != nil {
		t.Fatalf("PutTransaction() failed: %v", err)
	}

	err := repo.UpdateTransactionFields(tx.LocalID.String(), map[string]interface{}{
		"category":    "dining",
		"server_id":   "srv-1",
		"sync_status": string(models.SyncStatusSynced),
	})
	if err != nil {
		t.Fatalf("UpdateTransactionFields() failed: %v", err)
	}

	got, err := repo.GetTransaction(tx.LocalID.String())
	if err != nil {
		t.Fatalf("GetTransaction() failed: %v", err)
	}
	if got.Category != "dining" {
		t.Errorf("category = %q, want dining", got.Category)
	}
	if got.ServerID != "srv-1" {
		t.Errorf("server id = %q, want srv-1", got.ServerID)
	}
	// Untouched fields stay put
	if got.Note != tx.Note {
		t.Errorf("note = %q, want %q", got.Note, tx.Note)
	}

	// Absent record
	err = repo.UpdateTransactionFields(uuid.New(), map[string]interface{}{"category": "x"})
	if err != sql.ErrNoRows {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}

	// Unknown column is rejected
	err = repo.UpdateTransactionFields(tx.LocalID.String(), map[string]interface{}{"nope": 1})
	if err == nil {
		t.Error("unknown field should be rejected")
	}
}

// TestQueryActiveTransactions verifies soft-deleted records are invisible
// and the predicate runs client-side.
func TestQueryActiveTransactions(t *testing.T) {
	repo := newTestRepo(t)

	a := testTransaction()
	a.Category = "groceries"
	b := testTransaction()
	b.Category = "rent"
	deleted := testTransaction()
	deleted.IsDeleted = true

	for _, tx := range []*models.Transaction{a, b, deleted} {
		if err := repo.PutTransaction(tx); err != nil {
			t.Fatalf("PutTransaction() failed: %v", err)
		}
	}

	all, err := repo.QueryActiveTransactions(nil)
	if err != nil {
		t.Fatalf("QueryActiveTransactions() failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("active count = %d, want 2", len(all))
	}

	rent, err := repo.QueryActiveTransactions(func(tx *models.Transaction) bool {
		return tx.Category == "rent"
	})
	if err != nil {
		t.Fatalf("QueryActiveTransactions() with predicate failed: %v", err)
	}
	if len(rent) != 1 || rent[0].LocalID != b.LocalID {
		t.Errorf("predicate returned %d records, want only the rent one", len(rent))
	}

	// CountTransactions counts soft-deleted rows too
	n, err := repo.CountTransactions()
	if err != nil {
		t.Fatalf("CountTransactions() failed: %v", err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
}

// TestDeleteTransaction verifies physical removal.
func TestDeleteTransaction(t *testing.T) {
	repo := newTestRepo(t)

	tx := testTransaction()
	if err := repo.PutTransaction(tx); err != nil {
		t.Fatalf("PutTransaction() failed: %v", err)
	}
	if err := repo.DeleteTransaction(tx.LocalID.String()); err != nil {
		t.Fatalf("DeleteTransaction() failed: %v", err)
	}
	if _, err := repo.GetTransaction(tx.LocalID.String()); err != sql.ErrNoRows {
		t.Errorf("record still present after delete: %v", err)
	}
}

// TestWatch verifies watchers fire after committed writes and that
// unsubscribing twice is safe.
func TestWatch(t *testing.T) {
	repo := newTestRepo(t)

	fired := 0
	unwatch := repo.Watch(func() { fired++ })

	if err := repo.PutTransaction(testTransaction()); err != nil {
		t.Fatalf("PutTransaction() failed: %v", err)
	}
	if fired != 1 {
		t.Errorf("watcher fired %d times, want 1", fired)
	}

	unwatch()
	unwatch() // second call is a no-op

	if err := repo.PutTransaction(testTransaction()); err != nil {
		t.Fatalf("PutTransaction() failed: %v", err)
	}
	if fired != 1 {
		t.Errorf("watcher fired %d times after unsubscribe, want 1", fired)
	}
}

// TestGetTransactionByServerID verifies the secondary lookup.
func TestGetTransactionByServerID(t *testing.T) {
	repo := newTestRepo(t)

	tx := testTransaction()
	tx.ServerID = "srv-42"
	if err := repo.PutTransaction(tx); err != nil {
		t.Fatalf("PutTransaction() failed: %v", err)
	}

	got, err := repo.GetTransactionByServerID("srv-42")
	if err != nil {
		t.Fatalf("GetTransactionByServerID() failed: %v", err)
	}
	if got.LocalID != tx.LocalID {
		t.Errorf("local id = %s, want %s", got.LocalID, tx.LocalID)
	}
}
