package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wfmiles/miles-ledger/internal/model"
	"github.com/wfmiles/miles-ledger/internal/repository"
)

type CheckpointRepository interface {
	Create(ctx context.Context, cp *model.CpmCheckpoint) (*model.CpmCheckpoint, error)
	LatestForPair(ctx context.Context, accountID, programID int64) (*model.CpmCheckpoint, error)
	MonthlyExists(ctx context.Context, accountID, programID int64, period string) (bool, error)
	AnyRegisteredAfter(ctx context.Context, accountID, programID int64, instant time.Time) (bool, error)
	ListForPair(ctx context.Context, accountID, programID int64, limit int) ([]*model.CpmCheckpoint, error)
}

// CorrectionResult reports what a contract correction touched.
type CorrectionResult struct {
	Old       *model.Subscription `json:"old"`
	New       *model.Subscription `json:"new"`
	Repointed int64               `json:"repointed_transactions"`
}

// SubscriptionService owns the club contract lifecycle: creation, the
// monthly crediting protocol and corrections.
type SubscriptionService struct {
	accountRepo     AccountRepository
	programRepo     ProgramRepository
	subRepo         SubscriptionRepository
	transactionRepo TransactionRepository
	checkpointRepo  CheckpointRepository
	tx              TxRunner
	cache           CpmInvalidator
	now             func() time.Time
}

func NewSubscriptionService(
	accountRepo AccountRepository,
	programRepo ProgramRepository,
	subRepo SubscriptionRepository,
	transactionRepo TransactionRepository,
	checkpointRepo CheckpointRepository,
	tx TxRunner,
	cache CpmInvalidator,
) *SubscriptionService {
	return &SubscriptionService{
		accountRepo:     accountRepo,
		programRepo:     programRepo,
		subRepo:         subRepo,
		transactionRepo: transactionRepo,
		checkpointRepo:  checkpointRepo,
		tx:              tx,
		cache:           cache,
		now:             time.Now,
	}
}

// CreateSubscription opens a club contract. The store's one-active-per-pair
// constraint is the race-safe guarantee; a concurrent duplicate surfaces as
// a conflict, never a crash.
func (s *SubscriptionService) CreateSubscription(ctx context.Context, p model.SubscriptionCreateRequest) (*model.Subscription, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	if _, err := s.accountRepo.GetByID(ctx, p.AccountID); err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, notFoundErr("account %d", p.AccountID)
		}
		return nil, err
	}
	if _, err := s.programRepo.GetByID(ctx, p.ProgramID); err != nil {
		if errors.Is(err, repository.ErrProgramNotFound) {
			return nil, notFoundErr("program %d", p.ProgramID)
		}
		return nil, err
	}

	sub, err := s.subRepo.Create(ctx, &model.Subscription{
		AccountID:       p.AccountID,
		ProgramID:       p.ProgramID,
		Periodicity:     p.Periodicity,
		CycleValue:      p.CycleValue,
		GuaranteedMiles: p.GuaranteedMiles,
		StartDate:       p.StartDate,
		RenewalDate:     p.RenewalDate,
		Active:          true,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateActiveSubscription) {
			return nil, conflictErr("account %d already has an active subscription for program %d",
				p.AccountID, p.ProgramID)
		}
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return sub, nil
}

// ProcessMonthlyCredit credits one reference period of a contract: exactly
// the guaranteed cycle miles at the total cycle value, cpm taken verbatim
// from the contract terms. The period's MONTHLY checkpoint is written in the
// same atomic unit and doubles as the fencing token, so a caller racing past
// the existence check still lands on the idempotent ErrAlreadyCredited
// outcome instead of double-crediting.
func (s *SubscriptionService) ProcessMonthlyCredit(ctx context.Context, subscriptionID int64, period string) (*model.Transaction, error) {
	year, month, err := model.ParseReferencePeriod(period, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	// Close the period at its last day, except for the current period where
	// that day is still ahead. A ledger entry never carries a future date.
	creditDate := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC)
	if now := s.now(); now.Before(creditDate) {
		creditDate = now
	}

	var created *model.Transaction
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		// Lock the contract row first. Batch callers credit subscriptions in
		// ascending id order, so the lock order is globally consistent.
		sub, err := s.subRepo.GetByIDForUpdate(ctx, subscriptionID)
		if err != nil {
			if errors.Is(err, repository.ErrSubscriptionNotFound) {
				return notFoundErr("subscription %d", subscriptionID)
			}
			return err
		}
		if !sub.Active {
			return conflictErr("subscription %d is not active", subscriptionID)
		}

		exists, err := s.checkpointRepo.MonthlyExists(ctx, sub.AccountID, sub.ProgramID, period)
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyCredited
		}

		txn := &model.Transaction{
			AccountID:          sub.AccountID,
			Mode:               model.ModeClub,
			DestProgramID:      sub.ProgramID,
			ReferenceProgramID: sub.ProgramID,
			BaseMiles:          sub.GuaranteedMiles,
			CreditedMiles:      sub.GuaranteedMiles,
			TotalCost:          sub.CycleValue,
			CpmReal:            sub.FixedCpm(),
			TransactionDate:    creditDate,
			Description:        fmt.Sprintf("Club monthly credit %s: %d miles", period, sub.GuaranteedMiles),
			SubscriptionID:     &sub.ID,
		}
		created, err = s.transactionRepo.Create(ctx, txn)
		if err != nil {
			return err
		}

		position, err := computePosition(ctx, s.checkpointRepo, s.transactionRepo, sub.AccountID, sub.ProgramID)
		if err != nil {
			return err
		}
		refPeriod := period
		_, err = s.checkpointRepo.Create(ctx, &model.CpmCheckpoint{
			AccountID:       sub.AccountID,
			ProgramID:       sub.ProgramID,
			CheckpointDate:  creditDate,
			TotalMiles:      position.TotalMiles,
			TotalCost:       position.TotalCost,
			CpmSnapshot:     position.Cpm,
			Type:            model.CheckpointMonthly,
			ReferencePeriod: &refPeriod,
			DeltaDateFrom:   position.DeltaFrom,
			DeltaDateTo:     position.DeltaTo,
			Description:     fmt.Sprintf("Monthly close %s", period),
		})
		if err != nil {
			if errors.Is(err, repository.ErrDuplicateMonthlyCheckpoint) {
				// Lost the fencing race. The rollback discards our credit.
				return ErrAlreadyCredited
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, created.AccountID, created.ReferenceProgramID)
	return created, nil
}

// CorrectSubscription fixes a mistyped contract without rewriting history:
// it end-dates the current active row, inserts the corrected row and moves
// every credited transaction onto it, all in one atomic unit. Transactions
// keep their original cpm; the fix applies to future credits only.
func (s *SubscriptionService) CorrectSubscription(ctx context.Context, p model.SubscriptionCreateRequest) (*CorrectionResult, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	var result CorrectionResult
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		old, err := s.subRepo.ActiveForPair(ctx, p.AccountID, p.ProgramID)
		if err != nil {
			if errors.Is(err, repository.ErrSubscriptionNotFound) {
				return notFoundErr("no active subscription for account %d, program %d", p.AccountID, p.ProgramID)
			}
			return err
		}
		// The old row closes today regardless of how far back the corrected
		// terms start, so its end date never precedes its own start date.
		closedAt := s.now()
		if err := s.subRepo.EndDate(ctx, old.ID, closedAt); err != nil {
			return err
		}

		corrected, err := s.subRepo.Create(ctx, &model.Subscription{
			AccountID:       p.AccountID,
			ProgramID:       p.ProgramID,
			Periodicity:     p.Periodicity,
			CycleValue:      p.CycleValue,
			GuaranteedMiles: p.GuaranteedMiles,
			StartDate:       p.StartDate,
			RenewalDate:     p.RenewalDate,
			Active:          true,
		})
		if err != nil {
			return err
		}

		moved, err := s.transactionRepo.RepointSubscription(ctx, old.ID, corrected.ID)
		if err != nil {
			return err
		}

		old.EndDate = &closedAt
		old.Active = false
		result = CorrectionResult{Old: old, New: corrected, Repointed: moved}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// CreditDueSubscriptions runs the monthly protocol over every active
// contract. The listing comes back in ascending id order, which keeps the
// row locks globally ordered. Already-credited periods and per-contract
// conflicts do not stop the sweep.
func (s *SubscriptionService) CreditDueSubscriptions(ctx context.Context, period string) (credited, skipped int, err error) {
	subs, err := s.subRepo.ListActive(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, sub := range subs {
		_, err := s.ProcessMonthlyCredit(ctx, sub.ID, period)
		switch {
		case err == nil:
			credited++
		case errors.Is(err, ErrAlreadyCredited), errors.Is(err, ErrConflict):
			skipped++
		default:
			return credited, skipped, err
		}
	}
	return credited, skipped, nil
}

// ListActiveSubscriptions returns every open contract, ascending by id.
func (s *SubscriptionService) ListActiveSubscriptions(ctx context.Context) ([]*model.Subscription, error) {
	return s.subRepo.ListActive(ctx)
}

func (s *SubscriptionService) invalidate(ctx context.Context, accountID, programID int64) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, accountID, programID)
	}
}
