package repository

import (
	"time"

	"github.com/wfmiles/miles-ledger/internal/model"
)

type TransactionEntity struct {
	ID                 int64          `db:"id"                   gorm:"primaryKey;autoIncrement;column:id"`
	AccountID          int64          `db:"account_id"           gorm:"column:account_id;not null;index"`
	Account            *AccountEntity `gorm:"foreignKey:AccountID;references:ID;constraint:OnDelete:RESTRICT"`
	Mode               string         `db:"mode"                 gorm:"column:mode;not null"`
	SourceProgramID    *int64         `db:"source_program_id"    gorm:"column:source_program_id"` // nullable, organic accrual has no source
	DestProgramID      int64          `db:"dest_program_id"      gorm:"column:dest_program_id;not null"`
	ReferenceProgramID int64          `db:"reference_program_id" gorm:"column:reference_program_id;not null;index"`
	BaseMiles          int64          `db:"base_miles"           gorm:"column:base_miles;not null"`
	BonusPercent       float64        `db:"bonus_percent"        gorm:"column:bonus_percent;not null;default:0"`
	CreditedMiles      int64          `db:"credited_miles"       gorm:"column:credited_miles;not null"`
	TotalCost          float64        `db:"total_cost"           gorm:"column:total_cost;not null"`
	CpmReal            float64        `db:"cpm_real"             gorm:"column:cpm_real;not null"`
	TransactionDate    time.Time      `db:"transaction_date"     gorm:"column:transaction_date;not null;index"`
	RegisteredAt       time.Time      `db:"registered_at"        gorm:"column:registered_at;autoCreateTime"`
	Description        string         `db:"description"          gorm:"column:description;not null"`
	Note               *string        `db:"note"                 gorm:"column:note"`
	SubscriptionID     *int64         `db:"subscription_id"      gorm:"column:subscription_id;index"`
	Batches            []*BatchEntity `gorm:"foreignKey:TransactionID;constraint:OnDelete:CASCADE"`
}

func (TransactionEntity) TableName() string {
	return "transactions"
}

type BatchEntity struct {
	ID            int64   `db:"id"             gorm:"column:id;primaryKey;autoIncrement"`
	TransactionID int64   `db:"transaction_id" gorm:"column:transaction_id;not null;index"`
	Kind          string  `db:"kind"           gorm:"column:kind;not null"`
	MilesQty      int64   `db:"miles_qty"      gorm:"column:miles_qty;not null"`
	Cpm           float64 `db:"cpm"            gorm:"column:cpm;not null"`
	PartialCost   float64 `db:"partial_cost"   gorm:"column:partial_cost;not null"`
	Seq           int     `db:"seq"            gorm:"column:seq;not null"`
}

func (BatchEntity) TableName() string {
	return "transaction_batches"
}

func toTransactionEntity(m *model.Transaction) *TransactionEntity {
	if m == nil {
		return nil
	}
	return &TransactionEntity{
		ID:                 m.ID,
		AccountID:          m.AccountID,
		Mode:               string(m.Mode),
		SourceProgramID:    m.SourceProgramID,
		DestProgramID:      m.DestProgramID,
		ReferenceProgramID: m.ReferenceProgramID,
		BaseMiles:          m.BaseMiles,
		BonusPercent:       m.BonusPercent,
		CreditedMiles:      m.CreditedMiles,
		TotalCost:          m.TotalCost,
		CpmReal:            m.CpmReal,
		TransactionDate:    m.TransactionDate,
		RegisteredAt:       m.RegisteredAt,
		Description:        m.Description,
		Note:               m.Note,
		SubscriptionID:     m.SubscriptionID,
		Batches:            toBatchEntities(m.Batches),
	}
}

func toTransactionModel(e *TransactionEntity) *model.Transaction {
	if e == nil {
		return nil
	}
	return &model.Transaction{
		ID:                 e.ID,
		AccountID:          e.AccountID,
		Mode:               model.AcquisitionMode(e.Mode),
		SourceProgramID:    e.SourceProgramID,
		DestProgramID:      e.DestProgramID,
		ReferenceProgramID: e.ReferenceProgramID,
		BaseMiles:          e.BaseMiles,
		BonusPercent:       e.BonusPercent,
		CreditedMiles:      e.CreditedMiles,
		TotalCost:          e.TotalCost,
		CpmReal:            e.CpmReal,
		TransactionDate:    e.TransactionDate,
		RegisteredAt:       e.RegisteredAt,
		Description:        e.Description,
		Note:               e.Note,
		SubscriptionID:     e.SubscriptionID,
		Batches:            toBatchModels(e.Batches),
	}
}

func toBatchEntities(models []*model.Batch) []*BatchEntity {
	if models == nil {
		return nil
	}
	entities := make([]*BatchEntity, len(models))
	for i, m := range models {
		entities[i] = &BatchEntity{
			ID:            m.ID,
			TransactionID: m.TransactionID,
			Kind:          string(m.Kind),
			MilesQty:      m.MilesQty,
			Cpm:           m.Cpm,
			PartialCost:   m.PartialCost,
			Seq:           m.Seq,
		}
	}
	return entities
}

func toBatchModels(entities []*BatchEntity) []*model.Batch {
	if entities == nil {
		return nil
	}
	models := make([]*model.Batch, len(entities))
	for i, e := range entities {
		models[i] = &model.Batch{
			ID:            e.ID,
			TransactionID: e.TransactionID,
			Kind:          model.BatchKind(e.Kind),
			MilesQty:      e.MilesQty,
			Cpm:           e.Cpm,
			PartialCost:   e.PartialCost,
			Seq:           e.Seq,
		}
	}
	return models
}
