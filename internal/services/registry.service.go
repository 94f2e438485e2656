package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wfmiles/miles-ledger/internal/model"
	"github.com/wfmiles/miles-ledger/internal/repository"
)

// RegistryService is the account and program registration surface.
type RegistryService struct {
	accountRepo AccountRepository
	programRepo ProgramRepository
}

func NewRegistryService(accountRepo AccountRepository, programRepo ProgramRepository) *RegistryService {
	return &RegistryService{
		accountRepo: accountRepo,
		programRepo: programRepo,
	}
}

func (s *RegistryService) CreateAccount(ctx context.Context, p model.AccountCreateRequest) (*model.Account, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	acc, err := s.accountRepo.Create(ctx, &model.Account{
		TaxID:   model.NormalizeTaxID(p.TaxID),
		Name:    strings.TrimSpace(p.Name),
		Managed: p.Managed,
		Active:  true,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateTaxID) {
			return nil, conflictErr("an account with this tax id already exists")
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	return acc, nil
}

func (s *RegistryService) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	acc, err := s.accountRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, notFoundErr("account %d", id)
		}
		return nil, err
	}
	return acc, nil
}

type ProgramCreateRequest struct {
	Name string            `json:"name"`
	Type model.ProgramType `json:"type"`
}

func (p ProgramCreateRequest) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("name is required")
	}
	switch p.Type {
	case model.ProgramAirline, model.ProgramBank, model.ProgramBroker:
		return nil
	default:
		return fmt.Errorf("unknown program type %q", p.Type)
	}
}

// CreatePrograms registers several programs at once, stopping at the first
// failure. Already-registered names are skipped, not errors; the seed lists
// of the CLI call this repeatedly.
func (s *RegistryService) CreatePrograms(ctx context.Context, reqs []ProgramCreateRequest) ([]*model.Program, error) {
	out := make([]*model.Program, 0, len(reqs))
	for _, p := range reqs {
		if err := p.Validate(); err != nil {
			return out, fmt.Errorf("%w: %s", ErrValidation, err)
		}
		created, err := s.programRepo.Create(ctx, &model.Program{
			Name:   strings.TrimSpace(p.Name),
			Type:   p.Type,
			Active: true,
		})
		if err != nil {
			if errors.Is(err, repository.ErrDuplicateProgram) {
				continue
			}
			return out, fmt.Errorf("create program %q: %w", p.Name, err)
		}
		out = append(out, created)
	}
	return out, nil
}

func (s *RegistryService) ListPrograms(ctx context.Context, onlyActive bool) ([]*model.Program, error) {
	return s.programRepo.List(ctx, onlyActive)
}
