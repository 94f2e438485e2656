package repository

import (
	"time"

	"github.com/wfmiles/miles-ledger/internal/model"
	"gorm.io/gorm"
)

type SubscriptionEntity struct {
	ID              int64      `db:"id"               gorm:"primaryKey;autoIncrement;column:id"`
	AccountID       int64      `db:"account_id"       gorm:"column:account_id;not null;index"`
	ProgramID       int64      `db:"program_id"       gorm:"column:program_id;not null;index"`
	Periodicity     string     `db:"periodicity"      gorm:"column:periodicity;not null"`
	CycleValue      float64    `db:"cycle_value"      gorm:"column:cycle_value;not null"`
	GuaranteedMiles int64      `db:"guaranteed_miles" gorm:"column:guaranteed_miles;not null"`
	StartDate       time.Time  `db:"start_date"       gorm:"column:start_date;not null"`
	RenewalDate     time.Time  `db:"renewal_date"     gorm:"column:renewal_date;not null"`
	EndDate         *time.Time `db:"end_date"         gorm:"column:end_date"`
	Active          bool       `db:"active"           gorm:"column:active;not null;default:true"`
	CreatedAt       time.Time  `db:"created_at"       gorm:"column:created_at;autoCreateTime"`
}

func (SubscriptionEntity) TableName() string {
	return "subscriptions"
}

// BeforeSave keeps the active flag and end date mutually consistent:
// an end-dated row can never be active, an active row can never carry one.
func (e *SubscriptionEntity) BeforeSave(_ *gorm.DB) error {
	if e.EndDate != nil {
		e.Active = false
	}
	return nil
}

func toSubscriptionEntity(m *model.Subscription) *SubscriptionEntity {
	if m == nil {
		return nil
	}
	return &SubscriptionEntity{
		ID:              m.ID,
		AccountID:       m.AccountID,
		ProgramID:       m.ProgramID,
		Periodicity:     string(m.Periodicity),
		CycleValue:      m.CycleValue,
		GuaranteedMiles: m.GuaranteedMiles,
		StartDate:       m.StartDate,
		RenewalDate:     m.RenewalDate,
		EndDate:         m.EndDate,
		Active:          m.Active,
		CreatedAt:       m.CreatedAt,
	}
}

func toSubscriptionModel(e *SubscriptionEntity) *model.Subscription {
	if e == nil {
		return nil
	}
	return &model.Subscription{
		ID:              e.ID,
		AccountID:       e.AccountID,
		ProgramID:       e.ProgramID,
		Periodicity:     model.Periodicity(e.Periodicity),
		CycleValue:      e.CycleValue,
		GuaranteedMiles: e.GuaranteedMiles,
		StartDate:       e.StartDate,
		RenewalDate:     e.RenewalDate,
		EndDate:         e.EndDate,
		Active:          e.Active,
		CreatedAt:       e.CreatedAt,
	}
}

func toSubscriptionModels(entities []*SubscriptionEntity) []*model.Subscription {
	if entities == nil {
		return nil
	}
	models := make([]*model.Subscription, len(entities))
	for i, e := range entities {
		models[i] = toSubscriptionModel(e)
	}
	return models
}
