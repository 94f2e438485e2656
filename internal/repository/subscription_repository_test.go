package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfmiles/miles-ledger/internal/model"
)

func newTestSubscription(accountID, programID int64) *model.Subscription {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &model.Subscription{
		AccountID:       accountID,
		ProgramID:       programID,
		Periodicity:     model.PeriodicityMonthly,
		CycleValue:      100.00,
		GuaranteedMiles: 100000,
		StartDate:       start,
		RenewalDate:     start.AddDate(1, 0, 0),
		Active:          true,
	}
}

func TestSubscriptionRepository_Create(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewSubscriptionRepository(db)
	ctx := context.Background()

	t.Run("create active subscription", func(t *testing.T) {
		sub, err := repo.Create(ctx, newTestSubscription(1, 1))
		require.NoError(t, err)
		assert.NotZero(t, sub.ID)
		assert.True(t, sub.Active)
	})

	t.Run("second active for same pair conflicts", func(t *testing.T) {
		_, err := repo.Create(ctx, newTestSubscription(1, 1))
		assert.ErrorIs(t, err, ErrDuplicateActiveSubscription)
	})

	t.Run("different program is fine", func(t *testing.T) {
		_, err := repo.Create(ctx, newTestSubscription(1, 2))
		require.NoError(t, err)
	})
}

func TestSubscriptionRepository_EndDate(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewSubscriptionRepository(db)
	ctx := context.Background()

	sub, err := repo.Create(ctx, newTestSubscription(1, 1))
	require.NoError(t, err)

	end := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.EndDate(ctx, sub.ID, end))

	got, err := repo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, got.Active, "end-dating must deactivate")
	require.NotNil(t, got.EndDate)
	assert.Equal(t, end.Format("2006-01-02"), got.EndDate.Format("2006-01-02"))

	t.Run("pair is free again", func(t *testing.T) {
		_, err := repo.Create(ctx, newTestSubscription(1, 1))
		require.NoError(t, err)
	})

	t.Run("unknown id", func(t *testing.T) {
		err := repo.EndDate(ctx, 9999, end)
		assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	})
}

func TestSubscriptionRepository_ActiveForPair(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewSubscriptionRepository(db)
	ctx := context.Background()

	_, err := repo.ActiveForPair(ctx, 1, 1)
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)

	created, err := repo.Create(ctx, newTestSubscription(1, 1))
	require.NoError(t, err)

	got, err := repo.ActiveForPair(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
}

func TestSubscriptionRepository_GetByIDForUpdate(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewSubscriptionRepository(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, newTestSubscription(2, 3))
	require.NoError(t, err)

	err = db.WithinTransaction(ctx, func(ctx context.Context) error {
		locked, err := repo.GetByIDForUpdate(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, locked.ID)
		return nil
	})
	require.NoError(t, err)
}

func TestSubscriptionRepository_ListActive(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewSubscriptionRepository(db)
	ctx := context.Background()

	a, err := repo.Create(ctx, newTestSubscription(1, 1))
	require.NoError(t, err)
	b, err := repo.Create(ctx, newTestSubscription(2, 1))
	require.NoError(t, err)
	require.NoError(t, repo.EndDate(ctx, a.ID, time.Now()))

	subs, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, b.ID, subs[0].ID)
}
