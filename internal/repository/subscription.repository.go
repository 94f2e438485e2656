package repository

import (
	"context"
	"errors"
	"time"

	"github.com/wfmiles/miles-ledger/internal/model"
	"github.com/wfmiles/miles-ledger/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrSubscriptionNotFound        = errors.New("subscription not found")
	ErrDuplicateActiveSubscription = errors.New("duplicate active subscription")
)

type SubscriptionRepository struct {
	*pg.DB
}

func NewSubscriptionRepository(db *pg.DB) *SubscriptionRepository {
	return &SubscriptionRepository{
		db,
	}
}

// Create inserts a new subscription version. The partial unique index over
// active rows is the race-safe guarantee: a concurrent duplicate comes back
// as ErrDuplicateActiveSubscription, never as a raw driver error.
func (r *SubscriptionRepository) Create(ctx context.Context, sub *model.Subscription) (*model.Subscription, error) {
	entity := toSubscriptionEntity(sub)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateActiveSubscription
		}
		return nil, err
	}

	return toSubscriptionModel(entity), nil
}

func (r *SubscriptionRepository) GetByID(ctx context.Context, id int64) (*model.Subscription, error) {
	var entity SubscriptionEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return toSubscriptionModel(&entity), nil
}

// GetByIDForUpdate takes an exclusive row lock on the subscription. Callers
// locking several subscriptions in one unit must do so in ascending id order.
func (r *SubscriptionRepository) GetByIDForUpdate(ctx context.Context, id int64) (*model.Subscription, error) {
	var entity SubscriptionEntity
	err := r.Write(ctx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return toSubscriptionModel(&entity), nil
}

func (r *SubscriptionRepository) ActiveForPair(ctx context.Context, accountID, programID int64) (*model.Subscription, error) {
	var entity SubscriptionEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("account_id = ? AND program_id = ? AND active = ?", accountID, programID, true).
		Order("created_at DESC").
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return toSubscriptionModel(&entity), nil
}

// EndDate closes the subscription: the end date lands and the active flag
// drops in the same UPDATE, so the pair invariant can never be observed
// half-applied.
func (r *SubscriptionRepository) EndDate(ctx context.Context, id int64, endDate time.Time) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&SubscriptionEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"end_date": endDate,
			"active":   false,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// ListActive returns the active subscriptions in ascending id order, the
// order any batch crediting pass must acquire its locks in.
func (r *SubscriptionRepository) ListActive(ctx context.Context) ([]*model.Subscription, error) {
	var entities []*SubscriptionEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("active = ?", true).
		Order("id ASC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}
	return toSubscriptionModels(entities), nil
}
