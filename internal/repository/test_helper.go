package repository

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wfmiles/miles-ledger/pkg/pg"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testDB struct {
	*pg.DB
	rawDB *gorm.DB
}

func setupTestDB(t *testing.T) *testDB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&AccountEntity{},
		&ProgramEntity{},
		&SubscriptionEntity{},
		&TransactionEntity{},
		&BatchEntity{},
		&CheckpointEntity{},
	)
	require.NoError(t, err)

	// AutoMigrate cannot express partial unique indexes; they are the
	// backstop constraints the engine's conflict translation depends on.
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

	return &testDB{
		DB:    pgDB,
		rawDB: db,
	}
}
