// Package models provides data model definitions for the Moneta client.
package models

import (
	"encoding/json"
	"time"
)

// MutationOp is the kind of pending operation a queue entry carries.
type MutationOp string

const (
	OpCreate MutationOp = "create"
	OpUpdate MutationOp = "update"
	OpDelete MutationOp = "delete"
)

// MutationEntry is one pending operation in the mutation queue.
//
// Entries are drained strictly in CreatedAt order. Only Attempts and
// LastError are ever mutated after enqueue; everything else is fixed
// (collapsing replaces entries rather than rewriting them).
type MutationEntry struct {
	ID        int64           `db:"id" json:"id"`
	LocalID   UUID            `db:"local_id" json:"local_id"`
	ServerID  string          `db:"server_id" json:"server_id,omitempty"`
	Operation MutationOp      `db:"operation" json:"operation"`
	Data      json.RawMessage `db:"data" json:"data,omitempty"`
	CreatedAt int64           `db:"created_at" json:"created_at"`
	Attempts  int             `db:"attempts" json:"attempts"`
	LastError string          `db:"last_error" json:"last_error,omitempty"`
}

// TableName returns the table name for MutationEntry.
func (MutationEntry) TableName() string {
	return "mutation_queue"
}

// CreatedAtTime returns the CreatedAt field as time.Time.
func (m *MutationEntry) CreatedAtTime() time.Time {
	return time.Unix(m.CreatedAt, 0)
}

// Patch decodes the entry's Data into a TransactionPatch.
func (m *MutationEntry) Patch() (TransactionPatch, error) {
	var p TransactionPatch
	if len(m.Data) == 0 {
		return p, nil
	}
	err := json.Unmarshal(m.Data, &p)
	return p, err
}
