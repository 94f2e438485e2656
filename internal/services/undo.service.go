package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wfmiles/miles-ledger/internal/model"
	"github.com/wfmiles/miles-ledger/internal/repository"
)

// DeleteHandle is the preview's receipt. The confirm step accepts nothing
// else, so there is no deletion path that skips the preview.
type DeleteHandle struct {
	Token         string             `json:"token"`
	TransactionID int64              `json:"transaction_id"`
	AccountID     int64              `json:"account_id"`
	ProgramID     int64              `json:"program_id"`
	Snapshot      *model.Transaction `json:"snapshot"`
	IssuedAt      time.Time          `json:"issued_at"`
}

// UndoService implements the two-phase delete of the most recent transaction
// of a pair: a read-only preview that issues a handle, and a confirm that
// re-validates the handle before touching anything.
type UndoService struct {
	transactionRepo TransactionRepository
	checkpointRepo  CheckpointRepository
	tx              TxRunner
	cache           CpmInvalidator
	now             func() time.Time

	mu      sync.Mutex
	handles map[string]*DeleteHandle
	ttl     time.Duration
}

func NewUndoService(
	transactionRepo TransactionRepository,
	checkpointRepo CheckpointRepository,
	tx TxRunner,
	cache CpmInvalidator,
) *UndoService {
	return &UndoService{
		transactionRepo: transactionRepo,
		checkpointRepo:  checkpointRepo,
		tx:              tx,
		cache:           cache,
		now:             time.Now,
		handles:         make(map[string]*DeleteHandle),
		ttl:             15 * time.Minute,
	}
}

// PreviewDeleteLastTransaction finds the pair's most recent transaction and
// issues a single-use handle for it. Read-only; programID zero previews the
// latest transaction across all of the account's programs.
func (s *UndoService) PreviewDeleteLastTransaction(ctx context.Context, accountID, programID int64) (*DeleteHandle, error) {
	if accountID == 0 {
		return nil, validationErr("account_id is required")
	}

	last, err := s.transactionRepo.LastForPair(ctx, accountID, programID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, notFoundErr("no transactions for account %d", accountID)
		}
		return nil, err
	}

	handle := &DeleteHandle{
		Token:         uuid.NewString(),
		TransactionID: last.ID,
		AccountID:     last.AccountID,
		ProgramID:     last.ReferenceProgramID,
		Snapshot:      last,
		IssuedAt:      s.now(),
	}

	s.mu.Lock()
	s.pruneLocked()
	s.handles[handle.Token] = handle
	s.mu.Unlock()

	return handle, nil
}

// ConfirmDeleteTransaction consumes a handle and deletes its transaction,
// cascading batches. The handle goes stale if it expired, was already used,
// or its transaction is no longer the most recent for the pair. A later
// checkpoint covering the transaction is a conflict: checkpoints are
// append-only and never deleted, so removing a row from underneath one
// would silently corrupt every snapshot built on it.
func (s *UndoService) ConfirmDeleteTransaction(ctx context.Context, token string) (*model.Transaction, error) {
	s.mu.Lock()
	handle, ok := s.handles[token]
	if ok {
		delete(s.handles, token)
	}
	s.mu.Unlock()

	if !ok || s.now().Sub(handle.IssuedAt) > s.ttl {
		return nil, ErrStaleHandle
	}

	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		last, err := s.transactionRepo.LastForPair(ctx, handle.AccountID, handle.ProgramID)
		if err != nil {
			if errors.Is(err, repository.ErrTransactionNotFound) {
				return ErrStaleHandle
			}
			return err
		}
		if last.ID != handle.TransactionID {
			return ErrStaleHandle
		}

		covered, err := s.checkpointRepo.AnyRegisteredAfter(ctx, handle.AccountID, handle.ProgramID, last.RegisteredAt)
		if err != nil {
			return err
		}
		if covered {
			return conflictErr("transaction %d is covered by a later checkpoint", last.ID)
		}

		return s.transactionRepo.Delete(ctx, last.ID)
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx, handle.AccountID, handle.ProgramID)
	}
	return handle.Snapshot, nil
}

// pruneLocked drops expired handles. Callers hold mu.
func (s *UndoService) pruneLocked() {
	cutoff := s.now().Add(-s.ttl)
	for token, h := range s.handles {
		if h.IssuedAt.Before(cutoff) {
			delete(s.handles, token)
		}
	}
}
