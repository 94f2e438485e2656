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
	ErrCheckpointNotFound         = errors.New("checkpoint not found")
	ErrDuplicateMonthlyCheckpoint = errors.New("monthly checkpoint already exists for period")
)

type CheckpointRepository struct {
	*pg.DB
}

func NewCheckpointRepository(db *pg.DB) *CheckpointRepository {
	return &CheckpointRepository{
		db,
	}
}

// Create appends a checkpoint. The partial unique index over monthly rows is
// the fencing token for the crediting protocol: a racing duplicate surfaces
// as ErrDuplicateMonthlyCheckpoint for the caller to translate.
func (r *CheckpointRepository) Create(ctx context.Context, cp *model.CpmCheckpoint) (*model.CpmCheckpoint, error) {
	entity := toCheckpointEntity(cp)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateMonthlyCheckpoint
		}
		return nil, err
	}

	return toCheckpointModel(entity), nil
}

// LatestForPair returns the newest checkpoint by registration time, the base
// every incremental reconciliation starts from. Nil when none exists.
func (r *CheckpointRepository) LatestForPair(ctx context.Context, accountID, programID int64) (*model.CpmCheckpoint, error) {
	var entity CheckpointEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("account_id = ? AND program_id = ?", accountID, programID).
		Order("registered_at DESC").
		Order("id DESC").
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toCheckpointModel(&entity), nil
}

func (r *CheckpointRepository) MonthlyExists(ctx context.Context, accountID, programID int64, period string) (bool, error) {
	var count int64
	err := r.Read(ctx).WithContext(ctx).
		Model(&CheckpointEntity{}).
		Where("account_id = ? AND program_id = ? AND type = ? AND reference_period = ?",
			accountID, programID, string(model.CheckpointMonthly), period).
		Count(&count).
		Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// AnyRegisteredAfter reports whether a checkpoint for the pair was registered
// after the given instant, i.e. whether that instant is already covered by a
// snapshot base.
func (r *CheckpointRepository) AnyRegisteredAfter(ctx context.Context, accountID, programID int64, instant time.Time) (bool, error) {
	var count int64
	err := r.Read(ctx).WithContext(ctx).
		Model(&CheckpointEntity{}).
		Where("account_id = ? AND program_id = ? AND registered_at > ?", accountID, programID, instant).
		Count(&count).
		Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *CheckpointRepository) ListForPair(ctx context.Context, accountID, programID int64, limit int) ([]*model.CpmCheckpoint, error) {
	if limit <= 0 {
		limit = 50
	}
	var entities []*CheckpointEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("account_id = ? AND program_id = ?", accountID, programID).
		Order("registered_at DESC").
		Limit(limit).
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}
	out := make([]*model.CpmCheckpoint, len(entities))
	for i, e := range entities {
		out[i] = toCheckpointModel(e)
	}
	return out, nil
}
