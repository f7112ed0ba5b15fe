// Package queue provides the durable mutation queue for offline operations.
//
// The queue is an ordered log of pending create/update/delete operations,
// persisted in the local store so it survives restarts. Enqueue applies
// collapsing rules so network calls stay proportional to distinct records
// touched, not to edit count.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/linchiayu/moneta/internal/db"
	"github.com/linchiayu/moneta/internal/models"
)

// MutationQueue manages pending sync operations backed by the local store.
type MutationQueue struct {
	repo *db.Repository
}

// NewMutationQueue creates a MutationQueue over the given repository.
func NewMutationQueue(repo *db.Repository) *MutationQueue {
	return &MutationQueue{repo: repo}
}

// Enqueue records a pending operation for a local record, collapsing it
// into existing entries where safe:
//
//	create + update -> merge into the create (uncommitted create absorbs edits)
//	create + delete -> drop both (never-synced record produces no traffic)
//	update + delete -> replace the update with the delete
//	update + update -> merge into the existing update
//
// Anything else appends a new entry.
func (q *MutationQueue) Enqueue(localID string, op models.MutationOp, patch models.TransactionPatch, serverID string) error {
	existing, err := q.repo.ListMutationsForRecord(localID)
	if err != nil {
		return fmt.Errorf("failed to inspect queue for %s: %w", localID, err)
	}

	if len(existing) > 0 {
		last := existing[len(existing)-1]

		switch {
		case last.Operation == models.OpCreate && op == models.OpUpdate:
			return q.mergeInto(last, patch)

		case last.Operation == models.OpCreate && op == models.OpDelete:
			// The record never reached the server, so no delete entry
			// remains to drain and nothing downstream would ever purge
			// the soft-deleted row. Purge it here.
			if err := q.repo.DeleteMutation(last.ID); err != nil {
				return err
			}
			return q.repo.DeleteTransaction(localID)

		case last.Operation == models.OpUpdate && op == models.OpDelete:
			// The record reached the server at some point, so the delete
			// must still be sent.
			if err := q.repo.DeleteMutation(last.ID); err != nil {
				return err
			}
			return q.append(localID, op, patch, serverID)

		case last.Operation == models.OpUpdate && op == models.OpUpdate:
			return q.mergeInto(last, patch)
		}
	}

	return q.append(localID, op, patch, serverID)
}

// append writes a fresh entry with zero attempts.
func (q *MutationQueue) append(localID string, op models.MutationOp, patch models.TransactionPatch, serverID string) error {
	data, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to encode mutation data: %w", err)
	}

	entry := &models.MutationEntry{
		LocalID:   models.UUID(localID),
		ServerID:  serverID,
		Operation: op,
		Data:      data,
		CreatedAt: time.Now().Unix(),
	}
	return q.repo.AppendMutation(entry)
}

// mergeInto folds a later patch into an existing entry's data in place.
func (q *MutationQueue) mergeInto(entry *models.MutationEntry, patch models.TransactionPatch) error {
	base, err := entry.Patch()
	if err != nil {
		return fmt.Errorf("failed to decode queued mutation data: %w", err)
	}

	merged := base.Merge(patch)
	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to encode merged mutation data: %w", err)
	}
	return q.repo.UpdateMutationData(entry.ID, data)
}

// List returns every queue entry ordered by enqueue time ascending.
func (q *MutationQueue) List() ([]*models.MutationEntry, error) {
	return q.repo.ListMutations()
}

// RemoveOnSuccess deletes an entry whose operation was acknowledged by the
// remote service, unless a later edit was merged into it after the given
// snapshot was dispatched. Returns false when the entry survives to carry
// that newer edit; removing it would lose an unacknowledged mutation.
func (q *MutationQueue) RemoveOnSuccess(entryID int64, dispatched []byte) (bool, error) {
	return q.repo.DeleteMutationIfUnchanged(entryID, dispatched)
}

// ConvertToUpdate rewrites a surviving create entry as an update against
// the server identity its create was acknowledged with. Without this, the
// next drain pass would replay the create and duplicate the record.
func (q *MutationQueue) ConvertToUpdate(entryID int64, serverID string) error {
	return q.repo.RetargetMutation(entryID, models.OpUpdate, serverID)
}

// MarkAttempt increments the entry's attempt count and records the failure
// reason. The entry is retried on the next drain pass.
func (q *MutationQueue) MarkAttempt(entryID int64, opErr error) error {
	msg := ""
	if opErr != nil {
		msg = opErr.Error()
	}
	return q.repo.MarkMutationAttempt(entryID, msg)
}

// Len returns the number of pending entries.
func (q *MutationQueue) Len() (int, error) {
	return q.repo.CountMutations()
}
