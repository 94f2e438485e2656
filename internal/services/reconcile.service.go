package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wfmiles/miles-ledger/internal/model"
	"github.com/wfmiles/miles-ledger/internal/repository"
)

// AdjustmentKind selects what a manual CPM adjustment changes.
type AdjustmentKind string

const (
	AdjustCost  AdjustmentKind = "COST"
	AdjustMiles AdjustmentKind = "MILES"
)

// CpmCache is a read-through cache over the current-position answer. Writers
// invalidate the touched pair; a miss falls through to the store.
type CpmCache interface {
	Get(ctx context.Context, accountID, programID int64) (*model.CpmPosition, bool)
	Set(ctx context.Context, accountID, programID int64, pos *model.CpmPosition)
	Invalidate(ctx context.Context, accountID, programID int64)
}

// ReconcileService answers balance questions and maintains the checkpoint
// chain that keeps those answers cheap.
type ReconcileService struct {
	accountRepo     AccountRepository
	programRepo     ProgramRepository
	transactionRepo TransactionRepository
	checkpointRepo  CheckpointRepository
	tx              TxRunner
	cache           CpmCache
	now             func() time.Time
}

func NewReconcileService(
	accountRepo AccountRepository,
	programRepo ProgramRepository,
	transactionRepo TransactionRepository,
	checkpointRepo CheckpointRepository,
	tx TxRunner,
	cache CpmCache,
) *ReconcileService {
	return &ReconcileService{
		accountRepo:     accountRepo,
		programRepo:     programRepo,
		transactionRepo: transactionRepo,
		checkpointRepo:  checkpointRepo,
		tx:              tx,
		cache:           cache,
		now:             time.Now,
	}
}

// computePosition is the incremental reconciliation: latest checkpoint as
// the base plus every transaction registered strictly after its cutoff, or
// a full scan when the pair has no checkpoint yet.
func computePosition(ctx context.Context, checkpoints CheckpointRepository, transactions TransactionRepository, accountID, programID int64) (*model.CpmPosition, error) {
	base, err := checkpoints.LatestForPair(ctx, accountID, programID)
	if err != nil {
		return nil, err
	}

	var cutoff *time.Time
	pos := &model.CpmPosition{AccountID: accountID, ProgramID: programID}
	if base != nil {
		pos.Checkpoint = base
		pos.TotalMiles = base.TotalMiles
		pos.TotalCost = base.TotalCost
		registeredAt := base.RegisteredAt
		cutoff = &registeredAt
	}

	delta, err := transactions.SumForPair(ctx, accountID, programID, cutoff)
	if err != nil {
		return nil, err
	}
	pos.DeltaCount = delta.Count
	pos.DeltaMiles = delta.Miles
	pos.DeltaCost = delta.Cost
	pos.DeltaFrom = delta.From
	pos.DeltaTo = delta.To
	pos.TotalMiles += delta.Miles
	pos.TotalCost += delta.Cost
	pos.Cpm = model.CpmOf(pos.TotalCost, pos.TotalMiles)
	return pos, nil
}

// GetCurrentCPM is the sole balance read path for a pair. It never mutates
// and may be slightly stale relative to in-flight writers.
func (s *ReconcileService) GetCurrentCPM(ctx context.Context, accountID, programID int64) (*model.CpmPosition, error) {
	if s.cache != nil {
		if pos, ok := s.cache.Get(ctx, accountID, programID); ok {
			return pos, nil
		}
	}

	if _, err := s.accountRepo.GetByID(ctx, accountID); err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, notFoundErr("account %d", accountID)
		}
		return nil, err
	}
	if _, err := s.programRepo.GetByID(ctx, programID); err != nil {
		if errors.Is(err, repository.ErrProgramNotFound) {
			return nil, notFoundErr("program %d", programID)
		}
		return nil, err
	}

	pos, err := computePosition(ctx, s.checkpointRepo, s.transactionRepo, accountID, programID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, accountID, programID, pos)
	}
	return pos, nil
}

// GetAccountBalance consolidates the account's position per program. Only
// programs with a positive credited balance appear.
func (s *ReconcileService) GetAccountBalance(ctx context.Context, accountID int64) ([]*model.ProgramBalance, error) {
	if _, err := s.accountRepo.GetByID(ctx, accountID); err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, notFoundErr("account %d", accountID)
		}
		return nil, err
	}
	return s.transactionRepo.BalancesByProgram(ctx, accountID)
}

type CheckpointRequest struct {
	AccountID       int64                `json:"account_id"`
	ProgramID       int64                `json:"program_id"`
	Type            model.CheckpointType `json:"type"`
	ReferencePeriod string               `json:"reference_period,omitempty"`
	Note            *string              `json:"note,omitempty"`
}

// CreateCheckpoint materializes the pair's current position as a new
// snapshot. Monthly closes carry a reference period and are unique per
// pair and period, which the store enforces.
func (s *ReconcileService) CreateCheckpoint(ctx context.Context, p CheckpointRequest) (*model.CpmCheckpoint, error) {
	var refPeriod *string
	switch p.Type {
	case model.CheckpointMonthly:
		if _, _, err := model.ParseReferencePeriod(p.ReferencePeriod, s.now()); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrValidation, err)
		}
		refPeriod = &p.ReferencePeriod
	case model.CheckpointManual, model.CheckpointAuto:
		if p.ReferencePeriod != "" {
			return nil, validationErr("reference_period is only valid for MONTHLY checkpoints")
		}
	default:
		return nil, validationErr("unknown checkpoint type %q", p.Type)
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

	var created *model.CpmCheckpoint
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		pos, err := computePosition(ctx, s.checkpointRepo, s.transactionRepo, p.AccountID, p.ProgramID)
		if err != nil {
			return err
		}
		created, err = s.checkpointRepo.Create(ctx, &model.CpmCheckpoint{
			AccountID:       p.AccountID,
			ProgramID:       p.ProgramID,
			CheckpointDate:  s.now(),
			TotalMiles:      pos.TotalMiles,
			TotalCost:       pos.TotalCost,
			CpmSnapshot:     pos.Cpm,
			Type:            p.Type,
			ReferencePeriod: refPeriod,
			DeltaDateFrom:   pos.DeltaFrom,
			DeltaDateTo:     pos.DeltaTo,
			Description:     describeCheckpoint(p.Type, p.ReferencePeriod),
			Note:            p.Note,
		})
		if err != nil {
			if errors.Is(err, repository.ErrDuplicateMonthlyCheckpoint) {
				return conflictErr("period %s is already closed for account %d, program %d",
					p.ReferencePeriod, p.AccountID, p.ProgramID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

type CpmAdjustmentRequest struct {
	AccountID int64          `json:"account_id"`
	ProgramID int64          `json:"program_id"`
	Kind      AdjustmentKind `json:"kind"`
	Value     float64        `json:"value"`
	Note      *string        `json:"note,omitempty"`
}

// ApplyCpmAdjustment corrects a pair's position without touching history:
// a COST delta with zero miles, or free MILES with zero cost. The adjustment
// transaction and an AUTO checkpoint land in one atomic unit, so every later
// reconciliation starts from the adjusted state.
func (s *ReconcileService) ApplyCpmAdjustment(ctx context.Context, p CpmAdjustmentRequest) (*model.CpmCheckpoint, error) {
	if p.Kind != AdjustCost && p.Kind != AdjustMiles {
		return nil, validationErr("kind must be COST or MILES")
	}
	if p.Value == 0 {
		return nil, validationErr("value cannot be zero")
	}
	if p.Kind == AdjustMiles {
		if p.Value != float64(int64(p.Value)) {
			return nil, validationErr("mile adjustments must be whole miles")
		}
		if p.Value < 0 {
			return nil, validationErr("mile adjustments cannot be negative")
		}
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

	var created *model.CpmCheckpoint
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		before, err := computePosition(ctx, s.checkpointRepo, s.transactionRepo, p.AccountID, p.ProgramID)
		if err != nil {
			return err
		}

		txn := &model.Transaction{
			AccountID:          p.AccountID,
			Mode:               model.ModeCpmAdjustment,
			DestProgramID:      p.ProgramID,
			ReferenceProgramID: p.ProgramID,
			TransactionDate:    s.now(),
			Note:               p.Note,
		}
		switch p.Kind {
		case AdjustCost:
			if before.TotalCost+p.Value < 0 {
				return conflictErr("cost adjustment %.2f would drive total cost below zero", p.Value)
			}
			txn.TotalCost = p.Value
			txn.Description = fmt.Sprintf("CPM adjustment: cost delta %.2f", p.Value)
		case AdjustMiles:
			miles := int64(p.Value)
			txn.BaseMiles = miles
			txn.CreditedMiles = miles
			txn.Description = fmt.Sprintf("CPM adjustment: %d free miles", miles)
		}
		if _, err := s.transactionRepo.Create(ctx, txn); err != nil {
			return err
		}

		after, err := computePosition(ctx, s.checkpointRepo, s.transactionRepo, p.AccountID, p.ProgramID)
		if err != nil {
			return err
		}
		created, err = s.checkpointRepo.Create(ctx, &model.CpmCheckpoint{
			AccountID:      p.AccountID,
			ProgramID:      p.ProgramID,
			CheckpointDate: s.now(),
			TotalMiles:     after.TotalMiles,
			TotalCost:      after.TotalCost,
			CpmSnapshot:    after.Cpm,
			Type:           model.CheckpointAuto,
			DeltaDateFrom:  after.DeltaFrom,
			DeltaDateTo:    after.DeltaTo,
			Description:    fmt.Sprintf("Auto checkpoint after %s adjustment", p.Kind),
			Note:           p.Note,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, p.AccountID, p.ProgramID)
	return created, nil
}

func (s *ReconcileService) ListCheckpoints(ctx context.Context, accountID, programID int64, limit int) ([]*model.CpmCheckpoint, error) {
	return s.checkpointRepo.ListForPair(ctx, accountID, programID, limit)
}

func (s *ReconcileService) invalidate(ctx context.Context, accountID, programID int64) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, accountID, programID)
	}
}

func describeCheckpoint(t model.CheckpointType, period string) string {
	switch t {
	case model.CheckpointMonthly:
		return fmt.Sprintf("Monthly close %s", period)
	case model.CheckpointManual:
		return "Manual position confirmation"
	default:
		return "Automatic position snapshot"
	}
}
