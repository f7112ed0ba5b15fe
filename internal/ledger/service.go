// Package ledger is the transaction CRUD surface the UI consumes. It hides
// the local-store/queue/engine choreography: every write lands locally
// first, is queued for sync, and nudges the engine when online.
package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/linchiayu/moneta/internal/errors"
	"github.com/linchiayu/moneta/internal/db"
	"github.com/linchiayu/moneta/internal/logging"
	"github.com/linchiayu/moneta/internal/models"
	"github.com/linchiayu/moneta/internal/netmon"
	syncpkg "github.com/linchiayu/moneta/internal/sync"
	"github.com/linchiayu/moneta/internal/sync/queue"
	"github.com/linchiayu/moneta/internal/uuid"
)

// Service is the record facade. Construct one per process and share it; it
// owns no state beyond its injected collaborators.
type Service struct {
	repo    *db.Repository
	queue   *queue.MutationQueue
	engine  *syncpkg.Engine
	monitor *netmon.Monitor
	logger  *logging.Logger
}

// NewService creates a Service from its collaborators.
func NewService(repo *db.Repository, q *queue.MutationQueue, engine *syncpkg.Engine, monitor *netmon.Monitor, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		repo:    repo,
		queue:   q,
		engine:  engine,
		monitor: monitor,
		logger:  logger,
	}
}

// AddInput is the payload for a new transaction.
type AddInput struct {
	Amount   decimal.Decimal
	Kind     models.TransactionKind
	Category string
	Note     string
	Occurred int64
}

// validate rejects payloads the remote service would reject anyway.
func (in AddInput) validate() error {
	if in.Kind != models.KindExpense && in.Kind != models.KindIncome {
		return apperrors.New(apperrors.ErrValidation, "kind must be expense or income")
	}
	if in.Occurred == 0 {
		return apperrors.New(apperrors.ErrValidation, "occurred date is required")
	}
	return nil
}

// Add creates a new pending transaction in the local store, queues its
// create mutation, and nudges the engine if online. Returns the new local
// ID. The caller never waits on the network.
func (s *Service) Add(ctx context.Context, in AddInput) (string, error) {
	if err := in.validate(); err != nil {
		return "", err
	}

	now := time.Now().Unix()
	t := &models.Transaction{
		LocalID:        models.UUID(uuid.New()),
		Amount:         in.Amount,
		Kind:           in.Kind,
		Category:       in.Category,
		Note:           in.Note,
		Occurred:       in.Occurred,
		SyncStatus:     models.SyncStatusPending,
		LocalUpdatedAt: now,
	}
	if err := s.repo.PutTransaction(t); err != nil {
		return "", apperrors.Wrap(apperrors.ErrDatabase, "failed to store transaction", err)
	}

	patch := models.TransactionPatch{
		Amount:   &t.Amount,
		Kind:     &t.Kind,
		Category: &t.Category,
		Note:     &t.Note,
		Occurred: &t.Occurred,
	}
	if err := s.queue.Enqueue(t.LocalID.String(), models.OpCreate, patch, ""); err != nil {
		return "", apperrors.Wrap(apperrors.ErrDatabase, "failed to queue create", err)
	}

	s.afterWrite(ctx)
	return t.LocalID.String(), nil
}

// Update merges a patch into an existing transaction, marks it pending,
// and queues the update mutation.
func (s *Service) Update(ctx context.Context, localID string, patch models.TransactionPatch) error {
	if patch.IsEmpty() {
		return apperrors.New(apperrors.ErrValidation, "empty patch")
	}

	existing, err := s.getActive(localID)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	fields := map[string]interface{}{
		"sync_status":      string(models.SyncStatusPending),
		"local_updated_at": now,
	}
	if patch.Amount != nil {
		fields["amount"] = *patch.Amount
	}
	if patch.Kind != nil {
		fields["kind"] = string(*patch.Kind)
	}
	if patch.Category != nil {
		fields["category"] = *patch.Category
	}
	if patch.Note != nil {
		fields["note"] = *patch.Note
	}
	if patch.Occurred != nil {
		fields["occurred"] = *patch.Occurred
	}
	if err := s.repo.UpdateTransactionFields(localID, fields); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to update transaction", err)
	}

	if err := s.queue.Enqueue(localID, models.OpUpdate, patch, existing.ServerID); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to queue update", err)
	}

	s.afterWrite(ctx)
	return nil
}

// Delete soft-deletes a transaction and queues its delete mutation. The
// record stays in the store, hidden from reads, until the remote service
// acknowledges the delete; then the engine purges it physically. This
// two-phase shape is what lets an offline delete survive a restart.
func (s *Service) Delete(ctx context.Context, localID string) error {
	existing, err := s.getActive(localID)
	if err != nil {
		return err
	}

	fields := map[string]interface{}{
		"is_deleted":       true,
		"sync_status":      string(models.SyncStatusPending),
		"local_updated_at": time.Now().Unix(),
	}
	if err := s.repo.UpdateTransactionFields(localID, fields); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to soft-delete transaction", err)
	}

	if err := s.queue.Enqueue(localID, models.OpDelete, models.TransactionPatch{}, existing.ServerID); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to queue delete", err)
	}

	s.afterWrite(ctx)
	return nil
}

// Get returns a single visible transaction.
func (s *Service) Get(localID string) (*models.Transaction, error) {
	return s.getActive(localID)
}

// List returns all visible transactions matching the filter, newest first.
func (s *Service) List(f Filter) ([]*models.Transaction, error) {
	items, err := s.repo.QueryActiveTransactions(f.Match)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list transactions", err)
	}
	return items, nil
}

// ForceSync awaits one full drain pass. Rejected immediately when offline.
func (s *Service) ForceSync(ctx context.Context) error {
	if !s.monitor.IsOnline() {
		return apperrors.New(apperrors.ErrOffline, "cannot sync while offline")
	}
	if err := s.engine.Sync(ctx); err != nil {
		return apperrors.Wrap(apperrors.ErrRemoteOp, "sync pass failed", err)
	}
	return nil
}

// Refresh awaits a full reconciliation pull. Rejected immediately when
// offline; a pull failure propagates because this is a deliberate
// foreground action.
func (s *Service) Refresh(ctx context.Context) error {
	if !s.monitor.IsOnline() {
		return apperrors.New(apperrors.ErrOffline, "cannot refresh while offline")
	}
	if err := s.engine.PullFromServer(ctx); err != nil {
		return apperrors.Wrap(apperrors.ErrPullFailed, "refresh failed", err)
	}
	return nil
}

// SyncStatus returns the engine's current status snapshot.
func (s *Service) SyncStatus() syncpkg.Status {
	return s.engine.Status()
}

// SubscribeSyncStatus forwards to the engine's status subscription.
func (s *Service) SubscribeSyncStatus(fn func(syncpkg.Status)) func() {
	return s.engine.Subscribe(fn)
}

// getActive loads a record and maps absence (or soft-deletion) to NotFound.
func (s *Service) getActive(localID string) (*models.Transaction, error) {
	t, err := s.repo.GetTransaction(localID)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, "transaction not found: "+localID)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to load transaction", err)
	}
	if t.IsDeleted {
		return nil, apperrors.New(apperrors.ErrNotFound, "transaction not found: "+localID)
	}
	return t, nil
}

// afterWrite refreshes the broadcast pending count and fires a detached
// sync nudge when online. The caller's own result depends only on the
// local write; nothing here can fail it.
func (s *Service) afterWrite(ctx context.Context) {
	s.engine.RecomputePending()
	if s.monitor.IsOnline() {
		s.engine.Nudge(context.WithoutCancel(ctx))
	}
}
