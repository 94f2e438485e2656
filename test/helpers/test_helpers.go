package helpers

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/wfmiles/miles-ledger/internal/repository"
	"github.com/wfmiles/miles-ledger/pkg/pg"
	"github.com/wfmiles/miles-ledger/pkg/redis"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func SetupTestDB(t *testing.T) *pg.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&repository.AccountEntity{},
		&repository.ProgramEntity{},
		&repository.SubscriptionEntity{},
		&repository.TransactionEntity{},
		&repository.BatchEntity{},
		&repository.CheckpointEntity{},
	)
	require.NoError(t, err)

	require.NoError(t, db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_subscriptions_active_pair
		 ON subscriptions (account_id, program_id) WHERE active`).Error)
	require.NoError(t, db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_checkpoints_monthly_period
		 ON cpm_checkpoints (account_id, program_id, reference_period) WHERE type = 'MONTHLY'`).Error)

	pgDB := &pg.DB{}
	pgDBValue := reflect.ValueOf(pgDB).Elem()

	readField := pgDBValue.FieldByName("read")
	writeField := pgDBValue.FieldByName("write")

	readField = reflect.NewAt(readField.Type(), readField.Addr().UnsafePointer()).Elem()
	writeField = reflect.NewAt(writeField.Type(), writeField.Addr().UnsafePointer()).Elem()

	readField.Set(reflect.ValueOf(db))
	writeField.Set(reflect.ValueOf(db))

	return pgDB
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	adapter, err := redis.NewRedisAdapter("test", "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func CreateTestAccount(t *testing.T, db *pg.DB, id int64, taxID, name string) *repository.AccountEntity {
	ctx := context.Background()
	account := &repository.AccountEntity{
		ID:             id,
		TaxID:          taxID,
		Name:           name,
		ManagementType: "OWN",
		Active:         true,
	}
	err := db.Write(ctx).Create(account).Error
	require.NoError(t, err)
	return account
}

func CreateTestProgram(t *testing.T, db *pg.DB, id int64, name, programType string) *repository.ProgramEntity {
	ctx := context.Background()
	program := &repository.ProgramEntity{
		ID:     id,
		Name:   name,
		Type:   programType,
		Active: true,
	}
	err := db.Write(ctx).Create(program).Error
	require.NoError(t, err)
	return program
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func Ptr[T any](v T) *T {
	return &v
}
