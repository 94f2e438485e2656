package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfmiles/miles-ledger/internal/model"
)

func TestLedgerService_RegisterTransaction(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	accountID := env.seedAccount(t)
	programID := env.seedProgram(t, "LATAM Pass")

	day := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)

	t.Run("purchase with bonus", func(t *testing.T) {
		txn, err := env.ledger.RegisterTransaction(ctx, model.TransactionCreateRequest{
			AccountID:       accountID,
			ProgramID:       programID,
			Mode:            model.ModeSimplePurchase,
			BaseMiles:       100000,
			BonusPercent:    100,
			TotalCost:       3500.00,
			TransactionDate: day,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(200000), txn.CreditedMiles)
		assert.InDelta(t, 17.5, txn.CpmReal, 1e-9)
		assert.InDelta(t, 35.0, txn.CpmWithoutBonus(), 1e-9)
	})

	t.Run("organic has zero cpm", func(t *testing.T) {
		txn, err := env.ledger.RegisterTransaction(ctx, model.TransactionCreateRequest{
			AccountID:       accountID,
			ProgramID:       programID,
			Mode:            model.ModeOrganic,
			BaseMiles:       5000,
			TransactionDate: day,
		})
		require.NoError(t, err)
		assert.Zero(t, txn.CpmReal)
		assert.Nil(t, txn.SourceProgramID)
	})

	t.Run("organic with cost rejected", func(t *testing.T) {
		_, err := env.ledger.RegisterTransaction(ctx, model.TransactionCreateRequest{
			AccountID:       accountID,
			ProgramID:       programID,
			Mode:            model.ModeOrganic,
			BaseMiles:       5000,
			TotalCost:       100,
			TransactionDate: day,
		})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("future date rejected", func(t *testing.T) {
		_, err := env.ledger.RegisterTransaction(ctx, model.TransactionCreateRequest{
			AccountID:       accountID,
			ProgramID:       programID,
			Mode:            model.ModeSimplePurchase,
			BaseMiles:       1000,
			TotalCost:       35,
			TransactionDate: time.Now().Add(48 * time.Hour),
		})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("unknown account", func(t *testing.T) {
		_, err := env.ledger.RegisterTransaction(ctx, model.TransactionCreateRequest{
			AccountID:       9999,
			ProgramID:       programID,
			Mode:            model.ModeSimplePurchase,
			BaseMiles:       1000,
			TotalCost:       35,
			TransactionDate: day,
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestLedgerService_RegisterComplexTransfer(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	accountID := env.seedAccount(t)
	sourceID := env.seedProgram(t, "Livelo")
	destID := env.seedProgram(t, "Smiles")

	day := time.Date(2026, 2, 12, 0, 0, 0, 0, time.UTC)

	t.Run("mixed lots", func(t *testing.T) {
		txn, err := env.ledger.RegisterComplexTransfer(ctx, model.ComplexTransferRequest{
			AccountID:       accountID,
			SourceProgramID: sourceID,
			DestProgramID:   destID,
			BaseMiles:       100000,
			BonusPercent:    80,
			OrganicQty:      60000,
			OrganicCpm:      18.00,
			PaidQty:         40000,
			PaidCpm:         35.00,
			TransactionDate: day,
		})
		require.NoError(t, err)

		// 60000/1000*18 + 40000/1000*35
		assert.InDelta(t, 2480.00, txn.TotalCost, 1e-9)
		assert.Equal(t, int64(180000), txn.CreditedMiles)

		batches, err := env.transactions.BatchesOf(ctx, txn.ID)
		require.NoError(t, err)
		require.Len(t, batches, 2)
		assert.Equal(t, model.BatchOrganic, batches[0].Kind)
		assert.InDelta(t, 1080.00, batches[0].PartialCost, 1e-9)
		assert.Equal(t, model.BatchPaid, batches[1].Kind)
		assert.InDelta(t, 1400.00, batches[1].PartialCost, 1e-9)
	})

	t.Run("lot sum mismatch", func(t *testing.T) {
		_, err := env.ledger.RegisterComplexTransfer(ctx, model.ComplexTransferRequest{
			AccountID:       accountID,
			SourceProgramID: sourceID,
			DestProgramID:   destID,
			BaseMiles:       100000,
			OrganicQty:      60000,
			PaidQty:         30000,
			PaidCpm:         35.00,
			TransactionDate: day,
		})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("single lot skips the empty one", func(t *testing.T) {
		txn, err := env.ledger.RegisterComplexTransfer(ctx, model.ComplexTransferRequest{
			AccountID:       accountID,
			SourceProgramID: sourceID,
			DestProgramID:   destID,
			BaseMiles:       50000,
			PaidQty:         50000,
			PaidCpm:         20.00,
			TransactionDate: day,
		})
		require.NoError(t, err)

		batches, err := env.transactions.BatchesOf(ctx, txn.ID)
		require.NoError(t, err)
		require.Len(t, batches, 1)
		assert.Equal(t, model.BatchPaid, batches[0].Kind)
		assert.Equal(t, 1, batches[0].Seq)
	})
}

func TestLedgerService_RegisterIntraClubTransaction(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	accountID := env.seedAccount(t)
	programID := env.seedProgram(t, "LATAM Pass")

	sub, err := env.subs.CreateSubscription(ctx, model.SubscriptionCreateRequest{
		AccountID:       accountID,
		ProgramID:       programID,
		Periodicity:     model.PeriodicityMonthly,
		CycleValue:      100.00,
		GuaranteedMiles: 100000,
		StartDate:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		RenewalDate:     time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	t.Run("links the subscription", func(t *testing.T) {
		txn, err := env.ledger.RegisterIntraClubTransaction(ctx, model.IntraClubRequest{
			SubscriptionID: sub.ID,
			AccountID:      accountID,
			ProgramID:      programID,
			BaseMiles:      10000,
			TotalCost:      0,
			Description:    "Status bonus",
		})
		require.NoError(t, err)
		require.NotNil(t, txn.SubscriptionID)
		assert.Equal(t, sub.ID, *txn.SubscriptionID)
		assert.Equal(t, model.ModeClub, txn.Mode)
	})

	t.Run("pair mismatch", func(t *testing.T) {
		otherProgram := env.seedProgram(t, "Azul Fidelidade")
		_, err := env.ledger.RegisterIntraClubTransaction(ctx, model.IntraClubRequest{
			SubscriptionID: sub.ID,
			AccountID:      accountID,
			ProgramID:      otherProgram,
			BaseMiles:      10000,
		})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("unknown subscription", func(t *testing.T) {
		_, err := env.ledger.RegisterIntraClubTransaction(ctx, model.IntraClubRequest{
			SubscriptionID: 9999,
			AccountID:      accountID,
			ProgramID:      programID,
			BaseMiles:      10000,
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("inactive subscription", func(t *testing.T) {
		require.NoError(t, env.subscriptions.EndDate(ctx, sub.ID, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))

		_, err := env.ledger.RegisterIntraClubTransaction(ctx, model.IntraClubRequest{
			SubscriptionID: sub.ID,
			AccountID:      accountID,
			ProgramID:      programID,
			BaseMiles:      10000,
		})
		assert.ErrorIs(t, err, ErrConflict)
	})
}
