package repository

import (
	"github.com/wfmiles/miles-ledger/internal/model"
)

type ProgramEntity struct {
	ID     int64  `db:"id"     gorm:"primaryKey;autoIncrement;column:id"`
	Name   string `db:"name"   gorm:"column:name;not null;uniqueIndex"`
	Type   string `db:"type"   gorm:"column:type;not null"`
	Active bool   `db:"active" gorm:"column:active;not null;default:true"`
}

func (ProgramEntity) TableName() string {
	return "programs"
}

func toProgramEntity(m *model.Program) *ProgramEntity {
	if m == nil {
		return nil
	}
	return &ProgramEntity{
		ID:     m.ID,
		Name:   m.Name,
		Type:   string(m.Type),
		Active: m.Active,
	}
}

func toProgramModel(e *ProgramEntity) *model.Program {
	if e == nil {
		return nil
	}
	return &model.Program{
		ID:     e.ID,
		Name:   e.Name,
		Type:   model.ProgramType(e.Type),
		Active: e.Active,
	}
}

func toProgramModels(entities []*ProgramEntity) []*model.Program {
	if entities == nil {
		return nil
	}
	models := make([]*model.Program, len(entities))
	for i, e := range entities {
		models[i] = toProgramModel(e)
	}
	return models
}
