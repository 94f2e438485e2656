package repository

import (
	"time"

	"github.com/wfmiles/miles-ledger/internal/model"
)

type AccountEntity struct {
	ID             int64     `db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	TaxID          string    `db:"tax_id"          gorm:"column:tax_id;not null;uniqueIndex"`
	Name           string    `db:"name"            gorm:"column:name;not null"`
	ManagementType string    `db:"management_type" gorm:"column:management_type;not null"`
	Active         bool      `db:"active"          gorm:"column:active;not null;default:true"`
	CreatedAt      time.Time `db:"created_at"      gorm:"column:created_at;autoCreateTime"`
}

func (AccountEntity) TableName() string {
	return "accounts"
}

func toAccountEntity(m *model.Account) *AccountEntity {
	if m == nil {
		return nil
	}
	return &AccountEntity{
		ID:             m.ID,
		TaxID:          m.TaxID,
		Name:           m.Name,
		ManagementType: string(m.Managed),
		Active:         m.Active,
		CreatedAt:      m.CreatedAt,
	}
}

func toAccountModel(e *AccountEntity) *model.Account {
	if e == nil {
		return nil
	}
	return &model.Account{
		ID:        e.ID,
		TaxID:     e.TaxID,
		Name:      e.Name,
		Managed:   model.ManagementType(e.ManagementType),
		Active:    e.Active,
		CreatedAt: e.CreatedAt,
	}
}
