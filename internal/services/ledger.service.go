package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wfmiles/miles-ledger/internal/model"
	"github.com/wfmiles/miles-ledger/internal/repository"
)

type AccountRepository interface {
	Create(ctx context.Context, acc *model.Account) (*model.Account, error)
	GetByID(ctx context.Context, id int64) (*model.Account, error)
	GetByTaxID(ctx context.Context, taxID string) (*model.Account, error)
}

type ProgramRepository interface {
	Create(ctx context.Context, p *model.Program) (*model.Program, error)
	GetByID(ctx context.Context, id int64) (*model.Program, error)
	List(ctx context.Context, onlyActive bool) ([]*model.Program, error)
}

type TransactionRepository interface {
	Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	GetByID(ctx context.Context, id int64) (*model.Transaction, error)
	LastForPair(ctx context.Context, accountID, programID int64) (*model.Transaction, error)
	Delete(ctx context.Context, id int64) error
	RepointSubscription(ctx context.Context, oldID, newID int64) (int64, error)
	SumForPair(ctx context.Context, accountID, programID int64, registeredAfter *time.Time) (*repository.PairDelta, error)
	BalancesByProgram(ctx context.Context, accountID int64) ([]*model.ProgramBalance, error)
}

type SubscriptionRepository interface {
	Create(ctx context.Context, sub *model.Subscription) (*model.Subscription, error)
	GetByID(ctx context.Context, id int64) (*model.Subscription, error)
	GetByIDForUpdate(ctx context.Context, id int64) (*model.Subscription, error)
	ActiveForPair(ctx context.Context, accountID, programID int64) (*model.Subscription, error)
	EndDate(ctx context.Context, id int64, endDate time.Time) error
	ListActive(ctx context.Context) ([]*model.Subscription, error)
}

// TxRunner executes fn inside one storage transaction; every repository call
// made with fn's context joins it.
type TxRunner interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// CpmInvalidator drops the cached position of a pair after a write.
type CpmInvalidator interface {
	Invalidate(ctx context.Context, accountID, programID int64)
}

// LedgerService is the only write path into the transactions table.
type LedgerService struct {
	accountRepo     AccountRepository
	programRepo     ProgramRepository
	transactionRepo TransactionRepository
	subRepo         SubscriptionRepository
	tx              TxRunner
	cache           CpmInvalidator
	now             func() time.Time
}

func NewLedgerService(
	accountRepo AccountRepository,
	programRepo ProgramRepository,
	transactionRepo TransactionRepository,
	subRepo SubscriptionRepository,
	tx TxRunner,
	cache CpmInvalidator,
) *LedgerService {
	return &LedgerService{
		accountRepo:     accountRepo,
		programRepo:     programRepo,
		transactionRepo: transactionRepo,
		subRepo:         subRepo,
		tx:              tx,
		cache:           cache,
		now:             time.Now,
	}
}

// RegisterTransaction writes a single-lot accrual: a purchase, an organic
// credit or a plain bank transfer.
func (s *LedgerService) RegisterTransaction(ctx context.Context, p model.TransactionCreateRequest) (*model.Transaction, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	if p.TransactionDate.After(s.now()) {
		return nil, validationErr("transaction_date cannot be in the future")
	}
	if _, err := s.resolvePair(ctx, p.AccountID, p.ProgramID); err != nil {
		return nil, err
	}

	credited := model.CreditedMiles(p.BaseMiles, p.BonusPercent)
	if credited <= 0 {
		return nil, validationErr("credited miles must be positive")
	}

	txn := &model.Transaction{
		AccountID:          p.AccountID,
		Mode:               p.Mode,
		DestProgramID:      p.ProgramID,
		ReferenceProgramID: p.ProgramID,
		BaseMiles:          p.BaseMiles,
		BonusPercent:       p.BonusPercent,
		CreditedMiles:      credited,
		TotalCost:          p.TotalCost,
		CpmReal:            model.CpmOf(p.TotalCost, credited),
		TransactionDate:    p.TransactionDate,
		Description:        describeAccrual(p.Mode, p.BaseMiles, p.BonusPercent),
		Note:               p.Note,
	}
	if p.Mode != model.ModeOrganic {
		programID := p.ProgramID
		txn.SourceProgramID = &programID
	}

	var created *model.Transaction
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.transactionRepo.Create(ctx, txn)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("register transaction: %w", err)
	}
	s.invalidate(ctx, p.AccountID, p.ProgramID)
	return created, nil
}

// RegisterComplexTransfer writes a mixed-lot transfer: one transaction row
// plus its ordered batches, organic lot first, in a single atomic unit.
func (s *LedgerService) RegisterComplexTransfer(ctx context.Context, p model.ComplexTransferRequest) (*model.Transaction, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	if p.TransactionDate.After(s.now()) {
		return nil, validationErr("transaction_date cannot be in the future")
	}
	if _, err := s.accountRepo.GetByID(ctx, p.AccountID); err != nil {
		return nil, s.mapAccountErr(err, p.AccountID)
	}
	for _, id := range []int64{p.SourceProgramID, p.DestProgramID} {
		if _, err := s.programRepo.GetByID(ctx, id); err != nil {
			return nil, s.mapProgramErr(err, id)
		}
	}

	credited := model.CreditedMiles(p.BaseMiles, p.BonusPercent)
	if credited <= 0 {
		return nil, validationErr("credited miles must be positive")
	}
	organicCost := p.OrganicCost()
	paidCost := p.PaidCost()
	totalCost := organicCost + paidCost

	txn := &model.Transaction{
		AccountID:          p.AccountID,
		Mode:               model.ModeBankTransfer,
		SourceProgramID:    &p.SourceProgramID,
		DestProgramID:      p.DestProgramID,
		ReferenceProgramID: p.DestProgramID,
		BaseMiles:          p.BaseMiles,
		BonusPercent:       p.BonusPercent,
		CreditedMiles:      credited,
		TotalCost:          totalCost,
		CpmReal:            model.CpmOf(totalCost, credited),
		TransactionDate:    p.TransactionDate,
		Description: fmt.Sprintf("Mixed transfer: %d organic + %d paid miles, bonus %.0f%%",
			p.OrganicQty, p.PaidQty, p.BonusPercent),
		Note: p.Note,
	}
	seq := 1
	if p.OrganicQty > 0 {
		txn.Batches = append(txn.Batches, &model.Batch{
			Kind: model.BatchOrganic, MilesQty: p.OrganicQty, Cpm: p.OrganicCpm, PartialCost: organicCost, Seq: seq,
		})
		seq++
	}
	if p.PaidQty > 0 {
		txn.Batches = append(txn.Batches, &model.Batch{
			Kind: model.BatchPaid, MilesQty: p.PaidQty, Cpm: p.PaidCpm, PartialCost: paidCost, Seq: seq,
		})
	}

	var created *model.Transaction
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.transactionRepo.Create(ctx, txn)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("register complex transfer: %w", err)
	}
	s.invalidate(ctx, p.AccountID, p.DestProgramID)
	return created, nil
}

// RegisterIntraClubTransaction writes a credit inside an ongoing club
// contract, outside the monthly crediting cycle (status bonuses, promo
// top-ups). The subscription must be active and match the pair.
func (s *LedgerService) RegisterIntraClubTransaction(ctx context.Context, p model.IntraClubRequest) (*model.Transaction, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	sub, err := s.subRepo.GetByID(ctx, p.SubscriptionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubscriptionNotFound) {
			return nil, notFoundErr("subscription %d", p.SubscriptionID)
		}
		return nil, err
	}
	if !sub.Active {
		return nil, conflictErr("subscription %d is not active", p.SubscriptionID)
	}
	if sub.AccountID != p.AccountID || sub.ProgramID != p.ProgramID {
		return nil, validationErr("subscription %d does not belong to account %d / program %d",
			p.SubscriptionID, p.AccountID, p.ProgramID)
	}

	credited := model.CreditedMiles(p.BaseMiles, p.BonusPercent)
	if credited <= 0 {
		return nil, validationErr("credited miles must be positive")
	}

	description := p.Description
	if description == "" {
		description = fmt.Sprintf("Club credit: %d miles on subscription %d", credited, p.SubscriptionID)
	}
	txn := &model.Transaction{
		AccountID:          p.AccountID,
		Mode:               model.ModeClub,
		DestProgramID:      p.ProgramID,
		ReferenceProgramID: p.ProgramID,
		BaseMiles:          p.BaseMiles,
		BonusPercent:       p.BonusPercent,
		CreditedMiles:      credited,
		TotalCost:          p.TotalCost,
		CpmReal:            model.CpmOf(p.TotalCost, credited),
		TransactionDate:    s.now(),
		Description:        description,
		Note:               p.Note,
		SubscriptionID:     &sub.ID,
	}

	var created *model.Transaction
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.transactionRepo.Create(ctx, txn)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("register intra-club transaction: %w", err)
	}
	s.invalidate(ctx, p.AccountID, p.ProgramID)
	return created, nil
}

func (s *LedgerService) resolvePair(ctx context.Context, accountID, programID int64) (*model.Program, error) {
	if _, err := s.accountRepo.GetByID(ctx, accountID); err != nil {
		return nil, s.mapAccountErr(err, accountID)
	}
	program, err := s.programRepo.GetByID(ctx, programID)
	if err != nil {
		return nil, s.mapProgramErr(err, programID)
	}
	return program, nil
}

func (s *LedgerService) mapAccountErr(err error, id int64) error {
	if errors.Is(err, repository.ErrAccountNotFound) {
		return notFoundErr("account %d", id)
	}
	return err
}

func (s *LedgerService) mapProgramErr(err error, id int64) error {
	if errors.Is(err, repository.ErrProgramNotFound) {
		return notFoundErr("program %d", id)
	}
	return err
}

func (s *LedgerService) invalidate(ctx context.Context, accountID, programID int64) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, accountID, programID)
	}
}

func describeAccrual(mode model.AcquisitionMode, base int64, bonus float64) string {
	switch mode {
	case model.ModeOrganic:
		return fmt.Sprintf("Organic accrual: %d miles", base)
	case model.ModeSimplePurchase:
		if bonus > 0 {
			return fmt.Sprintf("Purchase: %d miles, bonus %.0f%%", base, bonus)
		}
		return fmt.Sprintf("Purchase: %d miles", base)
	case model.ModeBankTransfer:
		return fmt.Sprintf("Bank transfer: %d miles, bonus %.0f%%", base, bonus)
	default:
		return fmt.Sprintf("%s: %d miles", mode, base)
	}
}
