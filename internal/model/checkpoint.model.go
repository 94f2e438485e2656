package model

import (
	"fmt"
	"time"
)

// CheckpointType distinguishes monthly closes from ad-hoc confirmations.
type CheckpointType string

const (
	CheckpointMonthly CheckpointType = "MONTHLY"
	CheckpointManual  CheckpointType = "MANUAL"
	CheckpointAuto    CheckpointType = "AUTO"
)

// CpmCheckpoint is an append-only cumulative snapshot. Later reconciliations
// start from the newest checkpoint and scan only transactions registered
// after its cutoff.
type CpmCheckpoint struct {
	ID              int64          `json:"id"`
	AccountID       int64          `json:"account_id"`
	ProgramID       int64          `json:"program_id"`
	CheckpointDate  time.Time      `json:"checkpoint_date"`
	TotalMiles      int64          `json:"total_miles"`
	TotalCost       float64        `json:"total_cost"`
	CpmSnapshot     float64        `json:"cpm_snapshot"`
	Type            CheckpointType `json:"type"`
	ReferencePeriod *string        `json:"reference_period,omitempty"` // YYYY-MM, monthly closes only
	DeltaDateFrom   *time.Time     `json:"delta_date_from,omitempty"`
	DeltaDateTo     *time.Time     `json:"delta_date_to,omitempty"`
	Description     string         `json:"description"`
	Note            *string        `json:"note,omitempty"`
	RegisteredAt    time.Time      `json:"registered_at"`
}

func (CpmCheckpoint) TableName() string { return "cpm_checkpoints" }

// ParseReferencePeriod validates a YYYY-MM period and rejects future months.
func ParseReferencePeriod(period string, today time.Time) (year int, month int, err error) {
	t, err := time.Parse("2006-01", period)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid reference period %q, want YYYY-MM", period)
	}
	year, month = t.Year(), int(t.Month())
	if year > today.Year() || (year == today.Year() && month > int(today.Month())) {
		return 0, 0, fmt.Errorf("reference period %q is in the future", period)
	}
	return year, month, nil
}
