package model

import (
	"errors"
	"time"
)

// Periodicity is the club contract's crediting cycle.
type Periodicity string

const (
	PeriodicityMonthly Periodicity = "MONTHLY"
	PeriodicityAnnual  Periodicity = "ANNUAL"
)

// Subscription is one version of a club contract. Rows are append-only:
// a correction end-dates the active row and inserts a replacement, so old
// terms stay queryable forever.
type Subscription struct {
	ID              int64       `json:"id"`
	AccountID       int64       `json:"account_id"`
	ProgramID       int64       `json:"program_id"`
	Periodicity     Periodicity `json:"periodicity"`
	CycleValue      float64     `json:"cycle_value"`
	GuaranteedMiles int64       `json:"guaranteed_miles"`
	StartDate       time.Time   `json:"start_date"`
	RenewalDate     time.Time   `json:"renewal_date"`
	EndDate         *time.Time  `json:"end_date,omitempty"`
	Active          bool        `json:"active"`
	CreatedAt       time.Time   `json:"created_at"`
}

func (Subscription) TableName() string { return "subscriptions" }

// FixedCpm is the contractual cost per thousand, derived once from the cycle
// terms. It is never recomputed from credited transactions.
func (s *Subscription) FixedCpm() float64 {
	return CpmOf(s.CycleValue, s.GuaranteedMiles)
}

type SubscriptionCreateRequest struct {
	AccountID       int64       `json:"account_id"`
	ProgramID       int64       `json:"program_id"`
	Periodicity     Periodicity `json:"periodicity"`
	CycleValue      float64     `json:"cycle_value"`
	GuaranteedMiles int64       `json:"guaranteed_miles"`
	StartDate       time.Time   `json:"start_date"`
	RenewalDate     time.Time   `json:"renewal_date"`
}

func (p SubscriptionCreateRequest) Validate() error {
	if p.AccountID == 0 || p.ProgramID == 0 {
		return errors.New("account_id and program_id are required")
	}
	if p.Periodicity != PeriodicityMonthly && p.Periodicity != PeriodicityAnnual {
		return errors.New("periodicity must be MONTHLY or ANNUAL")
	}
	if p.CycleValue <= 0 {
		return errors.New("cycle_value must be positive")
	}
	if p.GuaranteedMiles <= 0 {
		return errors.New("guaranteed_miles must be positive")
	}
	if p.RenewalDate.Before(p.StartDate) {
		return errors.New("renewal_date must not precede start_date")
	}
	return nil
}
