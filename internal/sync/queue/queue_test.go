// Package queue tests for the mutation queue collapsing rules.
package queue

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/linchiayu/moneta/internal/db"
	"github.com/linchiayu/moneta/internal/models"
	"github.com/linchiayu/moneta/internal/uuid"
)

func newTestQueue(t *testing.T) *MutationQueue {
	q, _ := newTestQueueRepo(t)
	return q
}

func newTestQueueRepo(t *testing.T) (*MutationQueue, *db.Repository) {
	t.Helper()

	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	repo := db.NewRepository(database.DB)
	t.Cleanup(func() { repo.Close() })
	return NewMutationQueue(repo), repo
}

func amountPatch(s string) models.TransactionPatch {
	d := decimal.RequireFromString(s)
	return models.TransactionPatch{Amount: &d}
}

func categoryPatch(c string) models.TransactionPatch {
	return models.TransactionPatch{Category: &c}
}

// TestEnqueue_createThenUpdate verifies an uncommitted create absorbs a
// later edit: one entry, type create, both writes merged.
func TestEnqueue_createThenUpdate(t *testing.T) {
	q := newTestQueue(t)
	localID := uuid.New()

	if err := q.Enqueue(localID, models.OpCreate, amountPatch("10.00"), ""); err != nil {
		t.Fatalf("Enqueue(create) failed: %v", err)
	}
	if err := q.Enqueue(localID, models.OpUpdate, categoryPatch("rent"), ""); err != nil {
		t.Fatalf("Enqueue(update) failed: %v", err)
	}

	entries, err := q.List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Operation != models.OpCreate {
		t.Errorf("operation = %q, want create", entries[0].Operation)
	}

	patch, err := entries[0].Patch()
	if err != nil {
		t.Fatalf("Patch() failed: %v", err)
	}
	if patch.Amount == nil || !patch.Amount.Equal(decimal.RequireFromString("10.00")) {
		t.Error("merged data lost the create's amount")
	}
	if patch.Category == nil || *patch.Category != "rent" {
		t.Error("merged data lost the update's category")
	}
}

// TestEnqueue_createThenDelete verifies a record created and deleted before
// ever syncing produces no network traffic, and that the soft-deleted row
// is physically purged since no delete entry remains to trigger it later.
func TestEnqueue_createThenDelete(t *testing.T) {
	q, repo := newTestQueueRepo(t)
	localID := uuid.New()

	amount := decimal.RequireFromString("5.00")
	tx := &models.Transaction{
		LocalID:        models.UUID(localID),
		Amount:         amount,
		Kind:           models.KindExpense,
		Category:       "groceries",
		Occurred:       time.Now().Unix(),
		SyncStatus:     models.SyncStatusPending,
		IsDeleted:      true,
		LocalUpdatedAt: time.Now().Unix(),
	}
	if err := repo.PutTransaction(tx); err != nil {
		t.Fatalf("PutTransaction() failed: %v", err)
	}

	if err := q.Enqueue(localID, models.OpCreate, amountPatch("5.00"), ""); err != nil {
		t.Fatalf("Enqueue(create) failed: %v", err)
	}
	if err := q.Enqueue(localID, models.OpDelete, models.TransactionPatch{}, ""); err != nil {
		t.Fatalf("Enqueue(delete) failed: %v", err)
	}

	entries, err := q.List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %d, want 0", len(entries))
	}
	if _, err := repo.GetTransaction(localID); err != sql.ErrNoRows {
		t.Errorf("record not purged after annihilation: %v", err)
	}
}

// TestEnqueue_updateThenDelete verifies the delete replaces the pending
// update but is still sent (the record reached the server at some point).
func TestEnqueue_updateThenDelete(t *testing.T) {
	q := newTestQueue(t)
	localID := uuid.New()

	if err := q.Enqueue(localID, models.OpUpdate, amountPatch("7.00"), "srv-7"); err != nil {
		t.Fatalf("Enqueue(update) failed: %v", err)
	}
	if err := q.Enqueue(localID, models.OpDelete, models.TransactionPatch{}, "srv-7"); err != nil {
		t.Fatalf("Enqueue(delete) failed: %v", err)
	}

	entries, err := q.List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Operation != models.OpDelete {
		t.Errorf("operation = %q, want delete", entries[0].Operation)
	}
	if entries[0].ServerID != "srv-7" {
		t.Errorf("server id = %q, want srv-7", entries[0].ServerID)
	}
}

// TestEnqueue_updateThenUpdate verifies N edits collapse to one patch
// carrying the latest values.
func TestEnqueue_updateThenUpdate(t *testing.T) {
	q := newTestQueue(t)
	localID := uuid.New()

	if err := q.Enqueue(localID, models.OpUpdate, amountPatch("1.00"), "srv-1"); err != nil {
		t.Fatalf("Enqueue(first update) failed: %v", err)
	}
	if err := q.Enqueue(localID, models.OpUpdate, amountPatch("2.00"), "srv-1"); err != nil {
		t.Fatalf("Enqueue(second update) failed: %v", err)
	}

	entries, err := q.List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}

	patch, err := entries[0].Patch()
	if err != nil {
		t.Fatalf("Patch() failed: %v", err)
	}
	if patch.Amount == nil || !patch.Amount.Equal(decimal.RequireFromString("2.00")) {
		t.Error("collapsed update does not carry the second edit's amount")
	}
}

// TestEnqueue_distinctRecordsKeepOrder verifies entries for different
// records do not collapse and come back in enqueue order.
func TestEnqueue_distinctRecordsKeepOrder(t *testing.T) {
	q := newTestQueue(t)
	first := uuid.New()
	second := uuid.New()

	if err := q.Enqueue(first, models.OpCreate, amountPatch("1.00"), ""); err != nil {
		t.Fatalf("Enqueue(first) failed: %v", err)
	}
	if err := q.Enqueue(second, models.OpCreate, amountPatch("2.00"), ""); err != nil {
		t.Fatalf("Enqueue(second) failed: %v", err)
	}

	entries, err := q.List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].LocalID.String() != first || entries[1].LocalID.String() != second {
		t.Error("entries not in enqueue order")
	}
}

// TestMarkAttempt verifies failure bookkeeping leaves the entry queued.
func TestMarkAttempt(t *testing.T) {
	q := newTestQueue(t)
	localID := uuid.New()

	if err := q.Enqueue(localID, models.OpCreate, amountPatch("3.00"), ""); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	entries, _ := q.List()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}

	if err := q.MarkAttempt(entries[0].ID, errors.New("connection refused")); err != nil {
		t.Fatalf("MarkAttempt() failed: %v", err)
	}
	if err := q.MarkAttempt(entries[0].ID, errors.New("connection refused")); err != nil {
		t.Fatalf("second MarkAttempt() failed: %v", err)
	}

	entries, _ = q.List()
	if len(entries) != 1 {
		t.Fatalf("entry was removed by MarkAttempt")
	}
	if entries[0].Attempts != 2 {
		t.Errorf("attempts = %d, want 2", entries[0].Attempts)
	}
	if entries[0].LastError != "connection refused" {
		t.Errorf("last error = %q", entries[0].LastError)
	}
}

// TestRemoveOnSuccess verifies drained entries leave the queue.
func TestRemoveOnSuccess(t *testing.T) {
	q := newTestQueue(t)

	if err := q.Enqueue(uuid.New(), models.OpCreate, amountPatch("9.99"), ""); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	entries, _ := q.List()
	removed, err := q.RemoveOnSuccess(entries[0].ID, entries[0].Data)
	if err != nil {
		t.Fatalf("RemoveOnSuccess() failed: %v", err)
	}
	if !removed {
		t.Fatal("entry with unchanged payload was not removed")
	}

	n, err := q.Len()
	if err != nil {
		t.Fatalf("Len() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("len = %d, want 0", n)
	}
}

// TestRemoveOnSuccess_keepsMergedEntry verifies an entry that absorbed a
// later edit after being dispatched survives the stale removal, and that
// ConvertToUpdate retargets it so it drains against the acked identity.
func TestRemoveOnSuccess_keepsMergedEntry(t *testing.T) {
	q := newTestQueue(t)
	localID := uuid.New()

	if err := q.Enqueue(localID, models.OpCreate, amountPatch("10.00"), ""); err != nil {
		t.Fatalf("Enqueue(create) failed: %v", err)
	}
	entries, _ := q.List()
	dispatched := entries[0].Data

	// Edit merged in after the snapshot was taken.
	if err := q.Enqueue(localID, models.OpUpdate, amountPatch("99.00"), ""); err != nil {
		t.Fatalf("Enqueue(update) failed: %v", err)
	}

	removed, err := q.RemoveOnSuccess(entries[0].ID, dispatched)
	if err != nil {
		t.Fatalf("RemoveOnSuccess() failed: %v", err)
	}
	if removed {
		t.Fatal("entry carrying a merged edit was removed")
	}

	if err := q.ConvertToUpdate(entries[0].ID, "srv-1"); err != nil {
		t.Fatalf("ConvertToUpdate() failed: %v", err)
	}

	entries, _ = q.List()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Operation != models.OpUpdate {
		t.Errorf("operation = %q, want update", entries[0].Operation)
	}
	if entries[0].ServerID != "srv-1" {
		t.Errorf("server id = %q, want srv-1", entries[0].ServerID)
	}
	patch, err := entries[0].Patch()
	if err != nil {
		t.Fatalf("Patch() failed: %v", err)
	}
	if patch.Amount == nil || !patch.Amount.Equal(decimal.RequireFromString("99.00")) {
		t.Error("surviving entry lost the merged edit")
	}
}
