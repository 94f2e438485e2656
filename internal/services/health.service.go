package services

import (
	"context"

	"github.com/wfmiles/miles-ledger/pkg/pg"
)

type HealthService struct {
	db *pg.DB
}

func NewHealthService(db *pg.DB) *HealthService {
	return &HealthService{db: db}
}

func (s *HealthService) Get() error {
	return s.db.Read(context.Background()).Exec("SELECT 1").Error
}
