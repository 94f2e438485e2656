package repository

import (
	"time"

	"github.com/wfmiles/miles-ledger/internal/model"
)

type CheckpointEntity struct {
	ID              int64      `db:"id"               gorm:"primaryKey;autoIncrement;column:id"`
	AccountID       int64      `db:"account_id"       gorm:"column:account_id;not null;index:idx_checkpoints_pair"`
	ProgramID       int64      `db:"program_id"       gorm:"column:program_id;not null;index:idx_checkpoints_pair"`
	CheckpointDate  time.Time  `db:"checkpoint_date"  gorm:"column:checkpoint_date;not null"`
	TotalMiles      int64      `db:"total_miles"      gorm:"column:total_miles;not null"`
	TotalCost       float64    `db:"total_cost"       gorm:"column:total_cost;not null"`
	CpmSnapshot     float64    `db:"cpm_snapshot"     gorm:"column:cpm_snapshot;not null"`
	Type            string     `db:"type"             gorm:"column:type;not null"`
	ReferencePeriod *string    `db:"reference_period" gorm:"column:reference_period"`
	DeltaDateFrom   *time.Time `db:"delta_date_from"  gorm:"column:delta_date_from"`
	DeltaDateTo     *time.Time `db:"delta_date_to"    gorm:"column:delta_date_to"`
	Description     string     `db:"description"      gorm:"column:description;not null"`
	Note            *string    `db:"note"             gorm:"column:note"`
	RegisteredAt    time.Time  `db:"registered_at"    gorm:"column:registered_at;autoCreateTime"`
}

func (CheckpointEntity) TableName() string {
	return "cpm_checkpoints"
}

func toCheckpointEntity(m *model.CpmCheckpoint) *CheckpointEntity {
	if m == nil {
		return nil
	}
	return &CheckpointEntity{
		ID:              m.ID,
		AccountID:       m.AccountID,
		ProgramID:       m.ProgramID,
		CheckpointDate:  m.CheckpointDate,
		TotalMiles:      m.TotalMiles,
		TotalCost:       m.TotalCost,
		CpmSnapshot:     m.CpmSnapshot,
		Type:            string(m.Type),
		ReferencePeriod: m.ReferencePeriod,
		DeltaDateFrom:   m.DeltaDateFrom,
		DeltaDateTo:     m.DeltaDateTo,
		Description:     m.Description,
		Note:            m.Note,
		RegisteredAt:    m.RegisteredAt,
	}
}

func toCheckpointModel(e *CheckpointEntity) *model.CpmCheckpoint {
	if e == nil {
		return nil
	}
	return &model.CpmCheckpoint{
		ID:              e.ID,
		AccountID:       e.AccountID,
		ProgramID:       e.ProgramID,
		CheckpointDate:  e.CheckpointDate,
		TotalMiles:      e.TotalMiles,
		TotalCost:       e.TotalCost,
		CpmSnapshot:     e.CpmSnapshot,
		Type:            model.CheckpointType(e.Type),
		ReferencePeriod: e.ReferencePeriod,
		DeltaDateFrom:   e.DeltaDateFrom,
		DeltaDateTo:     e.DeltaDateTo,
		Description:     e.Description,
		Note:            e.Note,
		RegisteredAt:    e.RegisteredAt,
	}
}
