// Package models provides data model definitions for the Moneta client.
package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*u = ""
	case string:
		*u = UUID(v)
	case []byte:
		*u = UUID(v)
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// SyncStatus marks whether a local record matches the last known server copy.
type SyncStatus string

const (
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusConflict SyncStatus = "conflict"
)

// TransactionKind distinguishes money in from money out.
type TransactionKind string

const (
	KindExpense TransactionKind = "expense"
	KindIncome  TransactionKind = "income"
)

// Transaction represents a financial transaction in the local store.
//
// LocalID is assigned once at creation and is the primary key for the life
// of the record on this device. ServerID is empty until the create operation
// has been acknowledged by the remote service, and never changes once set.
type Transaction struct {
	LocalID        UUID            `db:"local_id" json:"local_id"`
	ServerID       string          `db:"server_id" json:"server_id,omitempty"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	Kind           TransactionKind `db:"kind" json:"kind"`
	Category       string          `db:"category" json:"category"`
	Note           string          `db:"note" json:"note,omitempty"`
	Occurred       int64           `db:"occurred" json:"occurred"`
	SyncStatus     SyncStatus      `db:"sync_status" json:"sync_status"`
	IsDeleted      bool            `db:"is_deleted" json:"is_deleted"`
	LocalUpdatedAt int64           `db:"local_updated_at" json:"local_updated_at"`
	LastSyncedAt   int64           `db:"last_synced_at" json:"last_synced_at,omitempty"`
}

// TableName returns the table name for Transaction.
func (Transaction) TableName() string {
	return "transactions"
}

// OccurredTime returns the Occurred field as time.Time.
func (t *Transaction) OccurredTime() time.Time {
	return time.Unix(t.Occurred, 0)
}

// LocalUpdatedAtTime returns the LocalUpdatedAt field as time.Time.
func (t *Transaction) LocalUpdatedAtTime() time.Time {
	return time.Unix(t.LocalUpdatedAt, 0)
}

// TransactionPatch carries the updatable payload fields of a transaction.
// A nil field is left unchanged.
type TransactionPatch struct {
	Amount   *decimal.Decimal `json:"amount,omitempty"`
	Kind     *TransactionKind `json:"kind,omitempty"`
	Category *string          `json:"category,omitempty"`
	Note     *string          `json:"note,omitempty"`
	Occurred *int64           `json:"occurred,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p TransactionPatch) IsEmpty() bool {
	return p.Amount == nil && p.Kind == nil && p.Category == nil &&
		p.Note == nil && p.Occurred == nil
}

// Apply merges the patch into the transaction's payload fields.
func (p TransactionPatch) Apply(t *Transaction) {
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Kind != nil {
		t.Kind = *p.Kind
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.Note != nil {
		t.Note = *p.Note
	}
	if p.Occurred != nil {
		t.Occurred = *p.Occurred
	}
}

// Merge overlays the other patch on top of this one. Fields set in other
// win; fields only set here are kept.
func (p TransactionPatch) Merge(other TransactionPatch) TransactionPatch {
	out := p
	if other.Amount != nil {
		out.Amount = other.Amount
	}
	if other.Kind != nil {
		out.Kind = other.Kind
	}
	if other.Category != nil {
		out.Category = other.Category
	}
	if other.Note != nil {
		out.Note = other.Note
	}
	if other.Occurred != nil {
		out.Occurred = other.Occurred
	}
	return out
}
