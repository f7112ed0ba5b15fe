package sync

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/linchiayu/moneta/internal/db"
	"github.com/linchiayu/moneta/internal/models"
	"github.com/linchiayu/moneta/internal/uuid"
)

// PullFromServer fetches the entire remote collection and reconciles it
// into the local store:
//
//   - a remote record matching a local one by server id overwrites it only
//     if the local copy is synced; a pending local edit is never clobbered
//   - a remote record with no local match is inserted as a new, already
//     synced record
//   - a local synced, non-deleted record whose server id is absent from
//     the fetched set was removed server-side and is purged locally
//
// Unlike Sync, failures propagate: a pull is a deliberate foreground
// refresh. Offline, it is a no-op.
func (e *Engine) PullFromServer(ctx context.Context) error {
	if !e.monitor.IsOnline() {
		return nil
	}

	remote, err := e.remote.List(ctx)
	if err != nil {
		return fmt.Errorf("pull failed: %w", err)
	}

	local, err := e.repo.ListAllTransactions()
	if err != nil {
		return fmt.Errorf("failed to list local records: %w", err)
	}

	localByServerID := make(map[string]*models.Transaction, len(local))
	for _, t := range local {
		if t.ServerID != "" {
			localByServerID[t.ServerID] = t
		}
	}

	now := time.Now().Unix()
	remoteIDs := make(map[string]bool, len(remote))

	for _, rt := range remote {
		remoteIDs[rt.ID] = true

		existing, ok := localByServerID[rt.ID]
		if !ok {
			// Created by another device; adopt it as already synced.
			t := &models.Transaction{
				LocalID:        models.UUID(uuid.New()),
				ServerID:       rt.ID,
				Amount:         rt.Amount,
				Kind:           rt.Kind,
				Category:       rt.Category,
				Note:           rt.Note,
				Occurred:       rt.Occurred,
				SyncStatus:     models.SyncStatusSynced,
				LocalUpdatedAt: now,
				LastSyncedAt:   now,
			}
			if err := e.repo.PutTransaction(t); err != nil {
				return fmt.Errorf("failed to insert pulled record: %w", err)
			}
			continue
		}

		if existing.SyncStatus != models.SyncStatusSynced {
			// Local edits win until they have been pushed.
			continue
		}

		fields := map[string]interface{}{
			"amount":         rt.Amount,
			"kind":           string(rt.Kind),
			"category":       rt.Category,
			"note":           rt.Note,
			"occurred":       rt.Occurred,
			"last_synced_at": now,
		}
		if err := e.repo.UpdateTransactionFields(existing.LocalID.String(), fields); err != nil {
			return fmt.Errorf("failed to overwrite pulled record: %w", err)
		}
	}

	// Propagate server-side deletions for records this device is not
	// holding local edits on.
	for _, t := range local {
		if t.ServerID == "" || remoteIDs[t.ServerID] {
			continue
		}
		if t.SyncStatus != models.SyncStatusSynced || t.IsDeleted {
			continue
		}
		if err := e.repo.DeleteTransaction(t.LocalID.String()); err != nil {
			return fmt.Errorf("failed to purge remotely deleted record: %w", err)
		}
	}

	if err := e.repo.SetMetadata(db.MetaLastPullAt, strconv.FormatInt(now, 10)); err != nil {
		return fmt.Errorf("failed to stamp pull: %w", err)
	}

	e.logger.Info("pull completed", map[string]interface{}{"remote": len(remote)})
	return nil
}
