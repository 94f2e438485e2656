package repository

import (
	"context"
	"errors"

	"github.com/wfmiles/miles-ledger/internal/model"
	"github.com/wfmiles/miles-ledger/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrProgramNotFound  = errors.New("program not found")
	ErrDuplicateProgram = errors.New("program name already registered")
)

type ProgramRepository struct {
	*pg.DB
}

func NewProgramRepository(db *pg.DB) *ProgramRepository {
	return &ProgramRepository{
		db,
	}
}

func (r *ProgramRepository) Create(ctx context.Context, p *model.Program) (*model.Program, error) {
	entity := toProgramEntity(p)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateProgram
		}
		return nil, err
	}

	return toProgramModel(entity), nil
}

func (r *ProgramRepository) GetByID(ctx context.Context, id int64) (*model.Program, error) {
	var entity ProgramEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProgramNotFound
		}
		return nil, err
	}
	return toProgramModel(&entity), nil
}

func (r *ProgramRepository) List(ctx context.Context, onlyActive bool) ([]*model.Program, error) {
	var entities []*ProgramEntity
	q := r.Read(ctx).WithContext(ctx).Order("name")
	if onlyActive {
		q = q.Where("active = ?", true)
	}
	if err := q.Find(&entities).Error; err != nil {
		return nil, err
	}
	return toProgramModels(entities), nil
}
