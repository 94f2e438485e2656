package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfmiles/miles-ledger/internal/model"
)

func strPtr(s string) *string {
	return &s
}

func newTestCheckpoint(accountID, programID int64, typ model.CheckpointType) *model.CpmCheckpoint {
	return &model.CpmCheckpoint{
		AccountID:      accountID,
		ProgramID:      programID,
		CheckpointDate: time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
		TotalMiles:     500000,
		TotalCost:      9000.00,
		CpmSnapshot:    18.00,
		Type:           typ,
		Description:    "Position snapshot",
	}
}

func TestCheckpointRepository_Create(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewCheckpointRepository(db)
	ctx := context.Background()

	t.Run("monthly", func(t *testing.T) {
		cp := newTestCheckpoint(1, 1, model.CheckpointMonthly)
		cp.ReferencePeriod = strPtr("2026-02")

		created, err := repo.Create(ctx, cp)
		require.NoError(t, err)
		assert.NotZero(t, created.ID)
		assert.False(t, created.RegisteredAt.IsZero())
	})

	t.Run("duplicate monthly period conflicts", func(t *testing.T) {
		cp := newTestCheckpoint(1, 1, model.CheckpointMonthly)
		cp.ReferencePeriod = strPtr("2026-02")

		_, err := repo.Create(ctx, cp)
		assert.ErrorIs(t, err, ErrDuplicateMonthlyCheckpoint)
	})

	t.Run("same period other pair is fine", func(t *testing.T) {
		cp := newTestCheckpoint(1, 2, model.CheckpointMonthly)
		cp.ReferencePeriod = strPtr("2026-02")

		_, err := repo.Create(ctx, cp)
		assert.NoError(t, err)
	})

	t.Run("manual checkpoints are unconstrained", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			_, err := repo.Create(ctx, newTestCheckpoint(1, 1, model.CheckpointManual))
			require.NoError(t, err)
		}
	})
}

func TestCheckpointRepository_LatestForPair(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewCheckpointRepository(db)
	ctx := context.Background()

	t.Run("empty pair", func(t *testing.T) {
		latest, err := repo.LatestForPair(ctx, 1, 1)
		require.NoError(t, err)
		assert.Nil(t, latest)
	})

	older := newTestCheckpoint(1, 1, model.CheckpointManual)
	older.RegisteredAt = time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)
	_, err := repo.Create(ctx, older)
	require.NoError(t, err)

	newer := newTestCheckpoint(1, 1, model.CheckpointMonthly)
	newer.ReferencePeriod = strPtr("2026-02")
	newer.RegisteredAt = time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC)
	newer.TotalMiles = 620000
	created, err := repo.Create(ctx, newer)
	require.NoError(t, err)

	t.Run("newest by registration time", func(t *testing.T) {
		latest, err := repo.LatestForPair(ctx, 1, 1)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, created.ID, latest.ID)
		assert.Equal(t, int64(620000), latest.TotalMiles)
	})
}

func TestCheckpointRepository_MonthlyExists(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewCheckpointRepository(db)
	ctx := context.Background()

	cp := newTestCheckpoint(1, 1, model.CheckpointMonthly)
	cp.ReferencePeriod = strPtr("2026-02")
	_, err := repo.Create(ctx, cp)
	require.NoError(t, err)

	exists, err := repo.MonthlyExists(ctx, 1, 1, "2026-02")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.MonthlyExists(ctx, 1, 1, "2026-03")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCheckpointRepository_AnyRegisteredAfter(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewCheckpointRepository(db)
	ctx := context.Background()

	cp := newTestCheckpoint(1, 1, model.CheckpointAuto)
	cp.RegisteredAt = time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
	_, err := repo.Create(ctx, cp)
	require.NoError(t, err)

	covered, err := repo.AnyRegisteredAfter(ctx, 1, 1, time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, covered)

	covered, err = repo.AnyRegisteredAfter(ctx, 1, 1, time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, covered)
}

func TestCheckpointRepository_ListForPair(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewCheckpointRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cp := newTestCheckpoint(1, 1, model.CheckpointManual)
		cp.RegisteredAt = time.Date(2026, 2, 10+i, 0, 0, 0, 0, time.UTC)
		_, err := repo.Create(ctx, cp)
		require.NoError(t, err)
	}

	list, err := repo.ListForPair(ctx, 1, 1, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].RegisteredAt.After(list[1].RegisteredAt))
}
