package repository

import (
	"context"
	"errors"
	"time"

	"github.com/wfmiles/miles-ledger/internal/model"
	"github.com/wfmiles/miles-ledger/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
)

type TransactionRepository struct {
	*pg.DB
}

func NewTransactionRepository(db *pg.DB) *TransactionRepository {
	return &TransactionRepository{
		db,
	}
}

// Create inserts the transaction together with its batches. Inside a
// WithinTransaction context the whole write shares the caller's unit.
func (r *TransactionRepository) Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	entity := toTransactionEntity(txn)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toTransactionModel(entity), nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id int64) (*model.Transaction, error) {
	var entity TransactionEntity
	err := r.Read(ctx).WithContext(ctx).
		Preload("Batches", func(db *gorm.DB) *gorm.DB { return db.Order("seq") }).
		Where("id = ?", id).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return toTransactionModel(&entity), nil
}

// LastForPair returns the most recent transaction for the account/program,
// ordered by transaction date, then registration time, then id. The id is
// the final tie-break so the answer is deterministic for same-instant rows.
func (r *TransactionRepository) LastForPair(ctx context.Context, accountID, programID int64) (*model.Transaction, error) {
	var entity TransactionEntity
	q := r.Read(ctx).WithContext(ctx).
		Where("account_id = ?", accountID)
	if programID > 0 {
		q = q.Where("reference_program_id = ?", programID)
	}
	err := q.
		Order("transaction_date DESC").
		Order("registered_at DESC").
		Order("id DESC").
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return toTransactionModel(&entity), nil
}

// Delete removes the transaction and its batches. Batches are deleted
// explicitly so the cascade does not depend on the driver's foreign-key
// enforcement.
func (r *TransactionRepository) Delete(ctx context.Context, id int64) error {
	tx := r.Write(ctx).WithContext(ctx)

	if err := tx.Where("transaction_id = ?", id).Delete(&BatchEntity{}).Error; err != nil {
		return err
	}

	result := tx.Where("id = ?", id).Delete(&TransactionEntity{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// RepointSubscription migrates every transaction linked to oldID onto newID.
// Used by the subscription correction protocol; runs in the caller's unit.
func (r *TransactionRepository) RepointSubscription(ctx context.Context, oldID, newID int64) (int64, error) {
	result := r.Write(ctx).WithContext(ctx).
		Model(&TransactionEntity{}).
		Where("subscription_id = ?", oldID).
		Update("subscription_id", newID)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// PairDelta aggregates the transactions of one account/program pair,
// optionally restricted to rows registered after a checkpoint cutoff.
type PairDelta struct {
	Count int64
	Miles int64
	Cost  float64
	From  *time.Time
	To    *time.Time
}

func (r *TransactionRepository) SumForPair(ctx context.Context, accountID, programID int64, registeredAfter *time.Time) (*PairDelta, error) {
	base := func() *gorm.DB {
		q := r.Read(ctx).WithContext(ctx).
			Model(&TransactionEntity{}).
			Where("account_id = ? AND reference_program_id = ?", accountID, programID)
		if registeredAfter != nil {
			q = q.Where("registered_at > ?", *registeredAfter)
		}
		return q
	}

	var agg struct {
		Count int64
		Miles int64
		Cost  float64
	}
	err := base().
		Select("COUNT(*) AS count, COALESCE(SUM(credited_miles), 0) AS miles, COALESCE(SUM(total_cost), 0) AS cost").
		Scan(&agg).
		Error
	if err != nil {
		return nil, err
	}

	delta := &PairDelta{Count: agg.Count, Miles: agg.Miles, Cost: agg.Cost}
	if agg.Count == 0 {
		return delta, nil
	}

	var first, last TransactionEntity
	if err := base().Order("transaction_date ASC").First(&first).Error; err != nil {
		return nil, err
	}
	if err := base().Order("transaction_date DESC").First(&last).Error; err != nil {
		return nil, err
	}
	delta.From = &first.TransactionDate
	delta.To = &last.TransactionDate
	return delta, nil
}

func (r *TransactionRepository) BatchesOf(ctx context.Context, transactionID int64) ([]*model.Batch, error) {
	var entities []*BatchEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("seq").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}
	return toBatchModels(entities), nil
}

// BalancesByProgram lists every program where the account holds a positive
// credited-mile balance, with the accumulated cost.
func (r *TransactionRepository) BalancesByProgram(ctx context.Context, accountID int64) ([]*model.ProgramBalance, error) {
	var rows []*model.ProgramBalance
	err := r.Read(ctx).WithContext(ctx).
		Model(&TransactionEntity{}).
		Select("programs.id AS program_id, programs.name AS program_name, SUM(transactions.credited_miles) AS miles, SUM(transactions.total_cost) AS cost").
		Joins("JOIN programs ON programs.id = transactions.reference_program_id").
		Where("transactions.account_id = ?", accountID).
		Group("programs.id, programs.name").
		Having("SUM(transactions.credited_miles) > 0").
		Order("programs.name").
		Scan(&rows).
		Error
	if err != nil {
		return nil, err
	}
	for _, b := range rows {
		b.Cpm = model.CpmOf(b.Cost, b.Miles)
	}
	return rows, nil
}
