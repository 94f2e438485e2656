package services

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wfmiles/miles-ledger/internal/model"
	"github.com/wfmiles/miles-ledger/internal/repository"
	"github.com/wfmiles/miles-ledger/pkg/pg"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ledgerEnv wires every service over one in-memory store, the same shape
// cmd/api assembles in production.
type ledgerEnv struct {
	db            *pg.DB
	accounts      *repository.AccountRepository
	programs      *repository.ProgramRepository
	transactions  *repository.TransactionRepository
	subscriptions *repository.SubscriptionRepository
	checkpoints   *repository.CheckpointRepository

	registry *RegistryService
	ledger   *LedgerService
	subs     *SubscriptionService
	undo     *UndoService
	rec      *ReconcileService
}

func setupEnv(t *testing.T) *ledgerEnv {
	t.Helper()

	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	require.NoError(t, gormDB.AutoMigrate(
		&repository.AccountEntity{},
		&repository.ProgramEntity{},
		&repository.SubscriptionEntity{},
		&repository.TransactionEntity{},
		&repository.BatchEntity{},
		&repository.CheckpointEntity{},
	))
	require.NoError(t, gormDB.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_subscriptions_active_pair
		 ON subscriptions (account_id, program_id) WHERE active`).Error)
	require.NoError(t, gormDB.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_checkpoints_monthly_period
		 ON cpm_checkpoints (account_id, program_id, reference_period) WHERE type = 'MONTHLY'`).Error)

	db := &pg.DB{}
	v := reflect.ValueOf(db).Elem()
	for _, name := range []string{"read", "write"} {
		f := v.FieldByName(name)
		f = reflect.NewAt(f.Type(), f.Addr().UnsafePointer()).Elem()
		f.Set(reflect.ValueOf(gormDB))
	}

	env := &ledgerEnv{
		db:            db,
		accounts:      repository.NewAccountRepository(db),
		programs:      repository.NewProgramRepository(db),
		transactions:  repository.NewTransactionRepository(db),
		subscriptions: repository.NewSubscriptionRepository(db),
		checkpoints:   repository.NewCheckpointRepository(db),
	}
	env.registry = NewRegistryService(env.accounts, env.programs)
	env.ledger = NewLedgerService(env.accounts, env.programs, env.transactions, env.subscriptions, db, nil)
	env.subs = NewSubscriptionService(env.accounts, env.programs, env.subscriptions, env.transactions, env.checkpoints, db, nil)
	env.undo = NewUndoService(env.transactions, env.checkpoints, db, nil)
	env.rec = NewReconcileService(env.accounts, env.programs, env.transactions, env.checkpoints, db, nil)
	return env
}

// seedAccount registers an account with a valid tax id and returns its id.
func (e *ledgerEnv) seedAccount(t *testing.T) int64 {
	t.Helper()
	acc, err := e.registry.CreateAccount(context.Background(), model.AccountCreateRequest{
		Name:    "Primary account",
		TaxID:   "529.982.247-25",
		Managed: model.ManagementOwn,
	})
	require.NoError(t, err)
	return acc.ID
}

func (e *ledgerEnv) seedProgram(t *testing.T, name string) int64 {
	t.Helper()
	created, err := e.registry.CreatePrograms(context.Background(), []ProgramCreateRequest{
		{Name: name, Type: model.ProgramAirline},
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	return created[0].ID
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
