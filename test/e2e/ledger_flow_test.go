package e2e

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfmiles/miles-ledger/internal/cache"
	"github.com/wfmiles/miles-ledger/internal/model"
	"github.com/wfmiles/miles-ledger/internal/repository"
	"github.com/wfmiles/miles-ledger/internal/services"
	"github.com/wfmiles/miles-ledger/pkg/pg"
	"github.com/wfmiles/miles-ledger/pkg/redis"
	"github.com/wfmiles/miles-ledger/test/helpers"
)

// TestEnvironment assembles the full stack the way cmd/api does, with an
// in-memory store and a real redis-backed position cache.
type TestEnvironment struct {
	DB           *pg.DB
	Redis        *miniredis.Miniredis
	RedisAdapter redis.RedisAdapter
	Cache        *cache.CpmCache

	Registry      *services.RegistryService
	Ledger        *services.LedgerService
	Subscriptions *services.SubscriptionService
	Undo          *services.UndoService
	Reconcile     *services.ReconcileService
}

func setupE2EEnvironment(t *testing.T) *TestEnvironment {
	db := helpers.SetupTestDB(t)

	mr, err := miniredis.Run()
	require.NoError(t, err)

	// Use unique connection name per test to avoid global adapter caching issues
	connName := fmt.Sprintf("e2e-%d", time.Now().UnixNano())
	redisAdapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	cpmCache := cache.NewCpmCache(redisAdapter, time.Minute)

	accountRepo := repository.NewAccountRepository(db)
	programRepo := repository.NewProgramRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	checkpointRepo := repository.NewCheckpointRepository(db)

	return &TestEnvironment{
		DB:            db,
		Redis:         mr,
		RedisAdapter:  redisAdapter,
		Cache:         cpmCache,
		Registry:      services.NewRegistryService(accountRepo, programRepo),
		Ledger:        services.NewLedgerService(accountRepo, programRepo, transactionRepo, subscriptionRepo, db, cpmCache),
		Subscriptions: services.NewSubscriptionService(accountRepo, programRepo, subscriptionRepo, transactionRepo, checkpointRepo, db, cpmCache),
		Undo:          services.NewUndoService(transactionRepo, checkpointRepo, db, cpmCache),
		Reconcile:     services.NewReconcileService(accountRepo, programRepo, transactionRepo, checkpointRepo, db, cpmCache),
	}
}

func (env *TestEnvironment) Cleanup() {
	if env.Redis != nil {
		env.Redis.Close()
	}
}

func (env *TestEnvironment) seedPair(t *testing.T) (accountID, programID int64) {
	ctx := context.Background()
	account, err := env.Registry.CreateAccount(ctx, model.AccountCreateRequest{
		Name:    "Operations Desk",
		TaxID:   "529.982.247-25",
		Managed: model.ManagementOwn,
	})
	require.NoError(t, err)

	programs, err := env.Registry.CreatePrograms(ctx, []services.ProgramCreateRequest{
		{Name: "Smiles", Type: model.ProgramAirline},
	})
	require.NoError(t, err)
	require.Len(t, programs, 1)

	return account.ID, programs[0].ID
}

func TestE2E_PurchaseAndReconcile(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	accountID, programID := env.seedPair(t)

	_, err := env.Ledger.RegisterTransaction(ctx, model.TransactionCreateRequest{
		AccountID:       accountID,
		ProgramID:       programID,
		Mode:            model.ModeSimplePurchase,
		BaseMiles:       100000,
		BonusPercent:    100,
		TotalCost:       3500,
		TransactionDate: time.Now().AddDate(0, 0, -3),
	})
	require.NoError(t, err)

	pos, err := env.Reconcile.GetCurrentCPM(ctx, accountID, programID)
	require.NoError(t, err)
	assert.Equal(t, int64(200000), pos.TotalMiles)
	assert.InDelta(t, 3500.0, pos.TotalCost, 0.001)
	assert.InDelta(t, 17.5, pos.Cpm, 0.001)

	// The first read populated the cache. A second read returns the same
	// position from redis.
	cached, ok := env.Cache.Get(ctx, accountID, programID)
	require.True(t, ok)
	assert.Equal(t, pos.TotalMiles, cached.TotalMiles)

	// A new registration invalidates the cached position.
	_, err = env.Ledger.RegisterTransaction(ctx, model.TransactionCreateRequest{
		AccountID:       accountID,
		ProgramID:       programID,
		Mode:            model.ModeOrganic,
		BaseMiles:       10000,
		TransactionDate: time.Now().AddDate(0, 0, -1),
	})
	require.NoError(t, err)

	_, ok = env.Cache.Get(ctx, accountID, programID)
	assert.False(t, ok)

	pos, err = env.Reconcile.GetCurrentCPM(ctx, accountID, programID)
	require.NoError(t, err)
	assert.Equal(t, int64(210000), pos.TotalMiles)
	assert.InDelta(t, 3500.0/210000*1000, pos.Cpm, 0.001)
}

func TestE2E_ComplexTransferComposition(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	accountID, destID := env.seedPair(t)

	sources, err := env.Registry.CreatePrograms(ctx, []services.ProgramCreateRequest{
		{Name: "Livelo", Type: model.ProgramBank},
	})
	require.NoError(t, err)

	txn, err := env.Ledger.RegisterComplexTransfer(ctx, model.ComplexTransferRequest{
		AccountID:       accountID,
		SourceProgramID: sources[0].ID,
		DestProgramID:   destID,
		BaseMiles:       100000,
		BonusPercent:    80,
		OrganicQty:      60000,
		OrganicCpm:      18,
		PaidQty:         40000,
		PaidCpm:         35,
		TransactionDate: time.Now().AddDate(0, 0, -2),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(180000), txn.CreditedMiles)
	assert.InDelta(t, 60000.0/1000*18+40000.0/1000*35, txn.TotalCost, 0.001)
	require.Len(t, txn.Batches, 2)
	assert.Equal(t, model.BatchOrganic, txn.Batches[0].Kind)
	assert.Equal(t, model.BatchPaid, txn.Batches[1].Kind)

	// Position lands on the destination program.
	pos, err := env.Reconcile.GetCurrentCPM(ctx, accountID, destID)
	require.NoError(t, err)
	assert.Equal(t, int64(180000), pos.TotalMiles)
}

func TestE2E_MonthlyCreditIdempotency(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	accountID, programID := env.seedPair(t)
	period := time.Now().UTC().Format("2006-01")

	sub, err := env.Subscriptions.CreateSubscription(ctx, model.SubscriptionCreateRequest{
		AccountID:       accountID,
		ProgramID:       programID,
		Periodicity:     model.PeriodicityMonthly,
		CycleValue:      100,
		GuaranteedMiles: 100000,
		StartDate:       time.Now().AddDate(0, -2, 0),
		RenewalDate:     time.Now().AddDate(1, 0, 0),
	})
	require.NoError(t, err)

	txn, err := env.Subscriptions.ProcessMonthlyCredit(ctx, sub.ID, period)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), txn.CreditedMiles)
	assert.InDelta(t, 1.0, txn.CpmReal, 0.001)

	// Replaying the same period credits nothing.
	_, err = env.Subscriptions.ProcessMonthlyCredit(ctx, sub.ID, period)
	assert.ErrorIs(t, err, services.ErrAlreadyCredited)

	pos, err := env.Reconcile.GetCurrentCPM(ctx, accountID, programID)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), pos.TotalMiles)

	// The credit wrote a monthly close, so later reads reconcile from it.
	require.NotNil(t, pos.Checkpoint)
	assert.Equal(t, model.CheckpointMonthly, pos.Checkpoint.Type)
}

func TestE2E_SubscriptionCorrection(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	accountID, programID := env.seedPair(t)
	period := time.Now().UTC().Format("2006-01")

	sub, err := env.Subscriptions.CreateSubscription(ctx, model.SubscriptionCreateRequest{
		AccountID:       accountID,
		ProgramID:       programID,
		Periodicity:     model.PeriodicityMonthly,
		CycleValue:      50,
		GuaranteedMiles: 100000,
		StartDate:       time.Now().AddDate(0, -2, 0),
		RenewalDate:     time.Now().AddDate(1, 0, 0),
	})
	require.NoError(t, err)

	credited, err := env.Subscriptions.ProcessMonthlyCredit(ctx, sub.ID, period)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, credited.CpmReal, 0.001)

	result, err := env.Subscriptions.CorrectSubscription(ctx, model.SubscriptionCreateRequest{
		AccountID:       accountID,
		ProgramID:       programID,
		Periodicity:     model.PeriodicityMonthly,
		CycleValue:      100,
		GuaranteedMiles: 100000,
		StartDate:       time.Now(),
		RenewalDate:     time.Now().AddDate(1, 0, 0),
	})
	require.NoError(t, err)

	assert.False(t, result.Old.Active)
	assert.True(t, result.New.Active)
	assert.Equal(t, int64(1), result.Repointed)

	// The past credit keeps the terms it was written under.
	got, err := env.Ledger.RegisterIntraClubTransaction(ctx, model.IntraClubRequest{
		SubscriptionID: result.New.ID,
		AccountID:      accountID,
		ProgramID:      programID,
		BaseMiles:      5000,
		TotalCost:      20,
		Description:    "club bonus lot",
	})
	require.NoError(t, err)
	assert.Equal(t, &result.New.ID, got.SubscriptionID)
}

func TestE2E_TwoPhaseUndo(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	accountID, programID := env.seedPair(t)

	first, err := env.Ledger.RegisterTransaction(ctx, model.TransactionCreateRequest{
		AccountID:       accountID,
		ProgramID:       programID,
		Mode:            model.ModeSimplePurchase,
		BaseMiles:       50000,
		TotalCost:       1750,
		TransactionDate: time.Now().AddDate(0, 0, -5),
	})
	require.NoError(t, err)

	second, err := env.Ledger.RegisterTransaction(ctx, model.TransactionCreateRequest{
		AccountID:       accountID,
		ProgramID:       programID,
		Mode:            model.ModeSimplePurchase,
		BaseMiles:       20000,
		TotalCost:       900,
		TransactionDate: time.Now().AddDate(0, 0, -1),
	})
	require.NoError(t, err)

	handle, err := env.Undo.PreviewDeleteLastTransaction(ctx, accountID, programID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, handle.TransactionID)

	removed, err := env.Undo.ConfirmDeleteTransaction(ctx, handle.Token)
	require.NoError(t, err)
	assert.Equal(t, second.ID, removed.ID)

	// Only the first registration remains.
	pos, err := env.Reconcile.GetCurrentCPM(ctx, accountID, programID)
	require.NoError(t, err)
	assert.Equal(t, first.CreditedMiles, pos.TotalMiles)

	// The handle is single use.
	_, err = env.Undo.ConfirmDeleteTransaction(ctx, handle.Token)
	assert.ErrorIs(t, err, services.ErrStaleHandle)
}

func TestE2E_CheckpointBoundedReconciliation(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	accountID, programID := env.seedPair(t)

	_, err := env.Ledger.RegisterTransaction(ctx, model.TransactionCreateRequest{
		AccountID:       accountID,
		ProgramID:       programID,
		Mode:            model.ModeSimplePurchase,
		BaseMiles:       100000,
		TotalCost:       3500,
		TransactionDate: time.Now().AddDate(0, 0, -10),
	})
	require.NoError(t, err)

	cp, err := env.Reconcile.CreateCheckpoint(ctx, services.CheckpointRequest{
		AccountID: accountID,
		ProgramID: programID,
		Type:      model.CheckpointManual,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100000), cp.TotalMiles)

	_, err = env.Ledger.RegisterTransaction(ctx, model.TransactionCreateRequest{
		AccountID:       accountID,
		ProgramID:       programID,
		Mode:            model.ModeOrganic,
		BaseMiles:       25000,
		TransactionDate: time.Now().AddDate(0, 0, -1),
	})
	require.NoError(t, err)

	pos, err := env.Reconcile.GetCurrentCPM(ctx, accountID, programID)
	require.NoError(t, err)
	require.NotNil(t, pos.Checkpoint)
	assert.Equal(t, cp.ID, pos.Checkpoint.ID)
	assert.Equal(t, int64(1), pos.DeltaCount)
	assert.Equal(t, int64(25000), pos.DeltaMiles)
	assert.Equal(t, int64(125000), pos.TotalMiles)
}
