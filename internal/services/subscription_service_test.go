package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfmiles/miles-ledger/internal/model"
)

func clubRequest(accountID, programID int64) model.SubscriptionCreateRequest {
	return model.SubscriptionCreateRequest{
		AccountID:       accountID,
		ProgramID:       programID,
		Periodicity:     model.PeriodicityMonthly,
		CycleValue:      100.00,
		GuaranteedMiles: 100000,
		StartDate:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		RenewalDate:     time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestSubscriptionService_CreateSubscription(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	accountID := env.seedAccount(t)
	programID := env.seedProgram(t, "LATAM Pass")

	sub, err := env.subs.CreateSubscription(ctx, clubRequest(accountID, programID))
	require.NoError(t, err)
	assert.True(t, sub.Active)
	assert.InDelta(t, 1.00, sub.FixedCpm(), 1e-9)

	t.Run("second active for pair conflicts", func(t *testing.T) {
		_, err := env.subs.CreateSubscription(ctx, clubRequest(accountID, programID))
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("unknown program", func(t *testing.T) {
		_, err := env.subs.CreateSubscription(ctx, clubRequest(accountID, 9999))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSubscriptionService_ProcessMonthlyCredit(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	accountID := env.seedAccount(t)
	programID := env.seedProgram(t, "LATAM Pass")
	env.subs.now = fixedClock(time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC))

	sub, err := env.subs.CreateSubscription(ctx, clubRequest(accountID, programID))
	require.NoError(t, err)

	t.Run("credits the contract terms verbatim", func(t *testing.T) {
		txn, err := env.subs.ProcessMonthlyCredit(ctx, sub.ID, "2026-02")
		require.NoError(t, err)

		assert.Equal(t, int64(100000), txn.CreditedMiles)
		assert.InDelta(t, 100.00, txn.TotalCost, 1e-9)
		assert.InDelta(t, 1.00, txn.CpmReal, 1e-9, "cpm comes from the contract, never recomputed")
		require.NotNil(t, txn.SubscriptionID)
		assert.Equal(t, sub.ID, *txn.SubscriptionID)
		assert.True(t, txn.TransactionDate.Equal(time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)),
			"closed periods are dated at their last day")

		exists, err := env.checkpoints.MonthlyExists(ctx, accountID, programID, "2026-02")
		require.NoError(t, err)
		assert.True(t, exists, "the period close lands with the credit")
	})

	t.Run("second call is idempotent", func(t *testing.T) {
		before, err := env.transactions.SumForPair(ctx, accountID, programID, nil)
		require.NoError(t, err)

		_, err = env.subs.ProcessMonthlyCredit(ctx, sub.ID, "2026-02")
		assert.ErrorIs(t, err, ErrAlreadyCredited)

		after, err := env.transactions.SumForPair(ctx, accountID, programID, nil)
		require.NoError(t, err)
		assert.Equal(t, before.Count, after.Count, "no side effects on replay")
	})

	t.Run("existing period close wins regardless of who wrote it", func(t *testing.T) {
		period := "2026-01"
		_, err := env.checkpoints.Create(ctx, &model.CpmCheckpoint{
			AccountID:       accountID,
			ProgramID:       programID,
			CheckpointDate:  time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
			Type:            model.CheckpointMonthly,
			ReferencePeriod: &period,
			Description:     "Monthly close 2026-01",
		})
		require.NoError(t, err)

		_, err = env.subs.ProcessMonthlyCredit(ctx, sub.ID, "2026-01")
		assert.ErrorIs(t, err, ErrAlreadyCredited)
	})

	t.Run("current period is dated today, never ahead", func(t *testing.T) {
		txn, err := env.subs.ProcessMonthlyCredit(ctx, sub.ID, "2026-03")
		require.NoError(t, err)
		assert.True(t, txn.TransactionDate.Equal(time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)))
		assert.False(t, txn.TransactionDate.After(env.subs.now()))
	})

	t.Run("future period rejected", func(t *testing.T) {
		_, err := env.subs.ProcessMonthlyCredit(ctx, sub.ID, "2026-04")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("malformed period rejected", func(t *testing.T) {
		_, err := env.subs.ProcessMonthlyCredit(ctx, sub.ID, "February 2026")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("unknown subscription", func(t *testing.T) {
		_, err := env.subs.ProcessMonthlyCredit(ctx, 9999, "2026-02")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSubscriptionService_CorrectSubscription(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	accountID := env.seedAccount(t)
	programID := env.seedProgram(t, "LATAM Pass")
	env.subs.now = fixedClock(time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC))

	// Mistyped contract: 50.00 for the same guaranteed miles.
	wrong := clubRequest(accountID, programID)
	wrong.CycleValue = 50.00
	sub, err := env.subs.CreateSubscription(ctx, wrong)
	require.NoError(t, err)

	credited, err := env.subs.ProcessMonthlyCredit(ctx, sub.ID, "2026-01")
	require.NoError(t, err)
	assert.InDelta(t, 0.50, credited.CpmReal, 1e-9)

	fixed := clubRequest(accountID, programID)
	fixed.StartDate = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	result, err := env.subs.CorrectSubscription(ctx, fixed)
	require.NoError(t, err)

	t.Run("old row is closed, new is active", func(t *testing.T) {
		old, err := env.subscriptions.GetByID(ctx, result.Old.ID)
		require.NoError(t, err)
		assert.False(t, old.Active)
		require.NotNil(t, old.EndDate)
		assert.True(t, old.EndDate.Equal(time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)),
			"the old row closes today")
		assert.InDelta(t, 0.50, old.FixedCpm(), 1e-9, "old terms stay queryable")

		current, err := env.subscriptions.ActiveForPair(ctx, accountID, programID)
		require.NoError(t, err)
		assert.Equal(t, result.New.ID, current.ID)
		assert.InDelta(t, 1.00, current.FixedCpm(), 1e-9)
	})

	t.Run("history repointed but untouched", func(t *testing.T) {
		assert.Equal(t, int64(1), result.Repointed)

		moved, err := env.transactions.GetByID(ctx, credited.ID)
		require.NoError(t, err)
		require.NotNil(t, moved.SubscriptionID)
		assert.Equal(t, result.New.ID, *moved.SubscriptionID)
		assert.InDelta(t, 0.50, moved.CpmReal, 1e-9, "past credits keep the cpm they were written with")
	})

	t.Run("future credits use the corrected terms", func(t *testing.T) {
		txn, err := env.subs.ProcessMonthlyCredit(ctx, result.New.ID, "2026-02")
		require.NoError(t, err)
		assert.InDelta(t, 1.00, txn.CpmReal, 1e-9)
	})

	t.Run("no active contract", func(t *testing.T) {
		otherProgram := env.seedProgram(t, "Smiles")
		_, err := env.subs.CorrectSubscription(ctx, clubRequest(accountID, otherProgram))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSubscriptionService_CorrectSubscription_BackdatedStart(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	accountID := env.seedAccount(t)
	programID := env.seedProgram(t, "LATAM Pass")
	env.subs.now = fixedClock(time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC))

	_, err := env.subs.CreateSubscription(ctx, clubRequest(accountID, programID))
	require.NoError(t, err)

	// The corrected terms start well before the mistyped row did.
	fixed := clubRequest(accountID, programID)
	fixed.StartDate = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	fixed.RenewalDate = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	result, err := env.subs.CorrectSubscription(ctx, fixed)
	require.NoError(t, err)

	old, err := env.subscriptions.GetByID(ctx, result.Old.ID)
	require.NoError(t, err)
	require.NotNil(t, old.EndDate)
	assert.True(t, old.EndDate.Equal(time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)),
		"the closed row ends today, not at the corrected start")
	assert.False(t, old.EndDate.Before(old.StartDate))

	current, err := env.subscriptions.ActiveForPair(ctx, accountID, programID)
	require.NoError(t, err)
	assert.True(t, current.StartDate.Equal(fixed.StartDate))
}

// contestedCheckpoints slips a competing monthly close in just before the
// service writes its own, the way a second process would between the
// existence check and the insert.
type contestedCheckpoints struct {
	CheckpointRepository
	contested bool
}

func (r *contestedCheckpoints) Create(ctx context.Context, cp *model.CpmCheckpoint) (*model.CpmCheckpoint, error) {
	if cp.Type == model.CheckpointMonthly && !r.contested {
		r.contested = true
		competing := *cp
		if _, err := r.CheckpointRepository.Create(ctx, &competing); err != nil {
			return nil, err
		}
	}
	return r.CheckpointRepository.Create(ctx, cp)
}

func TestSubscriptionService_ProcessMonthlyCredit_FencingRace(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	accountID := env.seedAccount(t)
	programID := env.seedProgram(t, "LATAM Pass")

	svc := NewSubscriptionService(env.accounts, env.programs, env.subscriptions,
		env.transactions, &contestedCheckpoints{CheckpointRepository: env.checkpoints}, env.db, nil)
	svc.now = fixedClock(time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC))

	sub, err := svc.CreateSubscription(ctx, clubRequest(accountID, programID))
	require.NoError(t, err)

	_, err = svc.ProcessMonthlyCredit(ctx, sub.ID, "2026-02")
	assert.ErrorIs(t, err, ErrAlreadyCredited)

	delta, err := env.transactions.SumForPair(ctx, accountID, programID, nil)
	require.NoError(t, err)
	assert.Zero(t, delta.Count, "the rollback discards the losing credit")

	exists, err := env.checkpoints.MonthlyExists(ctx, accountID, programID, "2026-02")
	require.NoError(t, err)
	assert.False(t, exists, "the competing close rolls back with the transaction")
}

func TestSubscriptionService_CreditDueSubscriptions(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	accountID := env.seedAccount(t)
	env.subs.now = fixedClock(time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC))

	for _, name := range []string{"LATAM Pass", "Smiles", "Azul Fidelidade"} {
		programID := env.seedProgram(t, name)
		_, err := env.subs.CreateSubscription(ctx, clubRequest(accountID, programID))
		require.NoError(t, err)
	}

	credited, skipped, err := env.subs.CreditDueSubscriptions(ctx, "2026-02")
	require.NoError(t, err)
	assert.Equal(t, 3, credited)
	assert.Zero(t, skipped)

	t.Run("rerun skips everything", func(t *testing.T) {
		credited, skipped, err := env.subs.CreditDueSubscriptions(ctx, "2026-02")
		require.NoError(t, err)
		assert.Zero(t, credited)
		assert.Equal(t, 3, skipped)
	})
}
