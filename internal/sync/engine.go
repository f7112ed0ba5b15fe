package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linchiayu/moneta/internal/db"
	"github.com/linchiayu/moneta/internal/logging"
	"github.com/linchiayu/moneta/internal/models"
	"github.com/linchiayu/moneta/internal/netmon"
	"github.com/linchiayu/moneta/internal/sync/queue"
)

// backstopInterval is how often the engine retries a drain pass on its own,
// in case a network-transition notification was missed or dropped.
const backstopInterval = 30 * time.Second

// Status is the externally visible sync state. It is reset to the zero
// value at process start and mutated only by the engine.
type Status struct {
	IsSyncing    bool       `json:"is_syncing"`
	PendingCount int        `json:"pending_count"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// Engine drains the mutation queue against the remote service and performs
// full reconciliation pulls. At most one drain pass runs at a time.
type Engine struct {
	repo    *db.Repository
	queue   *queue.MutationQueue
	remote  RemoteClient
	monitor *netmon.Monitor
	logger  *logging.Logger

	mu     sync.Mutex
	status Status
	subs   map[int]func(Status)
	nextID int

	initOnce    sync.Once
	stopCh      chan struct{}
	unsubscribe func()

	backstop time.Duration
}

// NewEngine creates an Engine. Call Init to start background triggering.
func NewEngine(repo *db.Repository, q *queue.MutationQueue, remote RemoteClient, monitor *netmon.Monitor, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Engine{
		repo:     repo,
		queue:    q,
		remote:   remote,
		monitor:  monitor,
		logger:   logger,
		subs:     make(map[int]func(Status)),
		stopCh:   make(chan struct{}),
		backstop: backstopInterval,
	}
}

// Status returns a copy of the current sync status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Subscribe registers a callback invoked on every status change, starting
// with an immediate call carrying the current status. The returned function
// unsubscribes and is safe to call more than once.
func (e *Engine) Subscribe(fn func(Status)) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = fn
	current := e.status
	e.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
		})
	}
}

// Init performs one-time setup: subscribe to network transitions, start the
// periodic backstop ticker, seed the pending count, and run an immediate
// drain pass if currently online. Calling Init again is a no-op.
func (e *Engine) Init(ctx context.Context) {
	e.initOnce.Do(func() {
		e.RecomputePending()

		// The subscription's immediate callback covers the "already online
		// at init time" sync.
		e.unsubscribe = e.monitor.Subscribe(func(online bool) {
			if online {
				e.Nudge(ctx)
			}
		})

		go e.runBackstop(ctx)
	})
}

// Close stops the backstop ticker and the network subscription.
func (e *Engine) Close() {
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
}

// runBackstop triggers a drain pass every backstop interval. The platform
// flag alone can go stale between transitions, so each tick actively
// verifies connectivity against the health endpoint before nudging.
func (e *Engine) runBackstop(ctx context.Context) {
	ticker := time.NewTicker(e.backstop)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.monitor.CheckConnectivity(ctx) {
				e.Nudge(ctx)
			}
		}
	}
}

// Nudge starts a drain pass in the background without waiting for it.
// Failures are logged, never propagated; an escaped error here would kill
// the timer or transition handler that called it.
func (e *Engine) Nudge(ctx context.Context) {
	go func() {
		if err := e.Sync(ctx); err != nil {
			e.logger.Error("background sync failed", err)
		}
	}()
}

// Sync runs one drain pass: every queue entry, strictly in enqueue order,
// dispatched to the remote service. A failing entry is recorded and
// skipped; independent records behind it are still attempted. Calling Sync
// while a pass is running, or while offline, returns immediately.
//
// The returned error covers local-store failures only; remote failures are
// persisted per entry and surfaced through Status.
func (e *Engine) Sync(ctx context.Context) error {
	if !e.begin() {
		return nil
	}

	passStart := time.Now().Unix()
	entries, err := e.queue.List()
	if err != nil {
		e.finish(fmt.Sprintf("failed to read queue: %v", err))
		return fmt.Errorf("failed to list queue: %w", err)
	}

	for _, entry := range entries {
		serverID, err := e.apply(ctx, entry, passStart)
		if err != nil {
			e.logger.Warn("mutation failed, will retry", map[string]interface{}{
				"entry":     entry.ID,
				"local_id":  entry.LocalID.String(),
				"operation": string(entry.Operation),
				"error":     err.Error(),
			})
			if markErr := e.queue.MarkAttempt(entry.ID, err); markErr != nil {
				e.logger.Error("failed to record attempt", markErr)
			}
			e.setLastError(err.Error())
			continue
		}

		// The entry is removed only if its payload is still the snapshot
		// this pass dispatched. An edit merged into it mid-flight keeps
		// the entry queued for the next pass; a surviving create must be
		// retargeted as an update or the next pass would create a
		// duplicate on the server.
		removed, err := e.queue.RemoveOnSuccess(entry.ID, entry.Data)
		if err != nil {
			e.finish(fmt.Sprintf("failed to remove drained entry: %v", err))
			return fmt.Errorf("failed to remove drained entry %d: %w", entry.ID, err)
		}
		if !removed && entry.Operation == models.OpCreate {
			// sql.ErrNoRows means a delete annihilated the entry while
			// the create was in flight; nothing left to retarget.
			if err := e.queue.ConvertToUpdate(entry.ID, serverID); err != nil && err != sql.ErrNoRows {
				e.finish(fmt.Sprintf("failed to retarget drained entry: %v", err))
				return fmt.Errorf("failed to retarget drained entry %d: %w", entry.ID, err)
			}
		}
	}

	e.finish("")
	return nil
}

// begin atomically claims the syncing flag. Returns false when a pass is
// already running or the monitor reports offline.
func (e *Engine) begin() bool {
	if !e.monitor.IsOnline() {
		return false
	}

	e.mu.Lock()
	if e.status.IsSyncing {
		e.mu.Unlock()
		return false
	}
	e.status.IsSyncing = true
	e.status.LastError = ""
	e.mu.Unlock()

	e.broadcast()
	return true
}

// finish clears the syncing flag, stamps the pass, and recomputes the
// pending count. lastError overrides any per-entry error already recorded
// during the pass when non-empty.
func (e *Engine) finish(lastError string) {
	now := time.Now()
	pending := e.pendingCount()

	e.mu.Lock()
	e.status.IsSyncing = false
	e.status.LastSyncAt = &now
	e.status.PendingCount = pending
	if lastError != "" {
		e.status.LastError = lastError
	}
	e.mu.Unlock()

	e.broadcast()
}

// setLastError records a per-entry failure on the shared status.
func (e *Engine) setLastError(msg string) {
	e.mu.Lock()
	e.status.LastError = msg
	e.mu.Unlock()
	e.broadcast()
}

// RecomputePending refreshes the pending count from the queue and
// broadcasts the result. The facade calls this after every enqueue.
func (e *Engine) RecomputePending() {
	pending := e.pendingCount()
	e.mu.Lock()
	e.status.PendingCount = pending
	e.mu.Unlock()
	e.broadcast()
}

func (e *Engine) pendingCount() int {
	n, err := e.queue.Len()
	if err != nil {
		e.logger.Error("failed to count queue", err)
		return 0
	}
	return n
}

// broadcast delivers the current status to all subscribers.
func (e *Engine) broadcast() {
	e.mu.Lock()
	current := e.status
	subs := make([]func(Status), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	for _, fn := range subs {
		fn(current)
	}
}

// apply dispatches one queue entry to the remote service and applies the
// local bookkeeping its acknowledgment requires. On success it returns the
// record's server identity, which for a create is known only after the ack.
func (e *Engine) apply(ctx context.Context, entry *models.MutationEntry, passStart int64) (string, error) {
	switch entry.Operation {
	case models.OpCreate:
		return e.applyCreate(ctx, entry, passStart)
	case models.OpUpdate:
		return entry.ServerID, e.applyUpdate(ctx, entry, passStart)
	case models.OpDelete:
		return entry.ServerID, e.applyDelete(ctx, entry)
	default:
		return "", fmt.Errorf("unknown operation %q", entry.Operation)
	}
}

// applyCreate sends the create and backfills the server-assigned identity.
func (e *Engine) applyCreate(ctx context.Context, entry *models.MutationEntry, passStart int64) (string, error) {
	patch, err := entry.Patch()
	if err != nil {
		return "", fmt.Errorf("corrupt create data: %w", err)
	}

	payload := CreatePayload{}
	if patch.Amount != nil {
		payload.Amount = *patch.Amount
	}
	if patch.Kind != nil {
		payload.Kind = *patch.Kind
	}
	if patch.Category != nil {
		payload.Category = *patch.Category
	}
	if patch.Note != nil {
		payload.Note = *patch.Note
	}
	if patch.Occurred != nil {
		payload.Occurred = *patch.Occurred
	}

	created, err := e.remote.Create(ctx, payload)
	if err != nil {
		return "", err
	}

	return created.ID, e.acknowledge(entry.LocalID.String(), created.ID, passStart)
}

// applyUpdate sends the patch for a record the server already knows.
func (e *Engine) applyUpdate(ctx context.Context, entry *models.MutationEntry, passStart int64) error {
	if entry.ServerID == "" {
		return errors.New("update entry has no server id")
	}

	patch, err := entry.Patch()
	if err != nil {
		return fmt.Errorf("corrupt update data: %w", err)
	}

	if err := e.remote.Update(ctx, entry.ServerID, patch); err != nil {
		return err
	}

	return e.acknowledge(entry.LocalID.String(), entry.ServerID, passStart)
}

// applyDelete sends the delete and, on acknowledgment, physically purges
// the soft-deleted record.
func (e *Engine) applyDelete(ctx context.Context, entry *models.MutationEntry) error {
	// An entry without a server id means the record never reached the
	// server; the collapse rules normally prevent this, but purging
	// locally is the correct recovery either way.
	if entry.ServerID != "" {
		if err := e.remote.Delete(ctx, entry.ServerID); err != nil {
			return err
		}
	}
	return e.repo.DeleteTransaction(entry.LocalID.String())
}

// acknowledge marks a record synced after a successful create or update.
//
// A record edited after this pass picked up its queue entry must stay
// pending: its newer mutation is still queued (or merged into one), and
// stamping it synced would hide that. LocalUpdatedAt is compared against
// the time the pass fetched the queue to detect the race.
func (e *Engine) acknowledge(localID, serverID string, passStart int64) error {
	record, err := e.repo.GetTransaction(localID)
	if err == sql.ErrNoRows {
		// Record vanished locally mid-flight; nothing to backfill.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load record for ack: %w", err)
	}

	fields := map[string]interface{}{
		"server_id":      serverID,
		"last_synced_at": time.Now().Unix(),
	}
	if record.LocalUpdatedAt <= passStart {
		fields["sync_status"] = string(models.SyncStatusSynced)
	}

	if err := e.repo.UpdateTransactionFields(localID, fields); err != nil {
		return fmt.Errorf("failed to record ack: %w", err)
	}
	return nil
}
