package model

import "time"

// ProgramBalance is one line of an account's consolidated position.
type ProgramBalance struct {
	ProgramID   int64   `json:"program_id"`
	ProgramName string  `json:"program_name"`
	Miles       int64   `json:"miles"`
	Cost        float64 `json:"cost"`
	Cpm         float64 `json:"cpm"`
}

// CpmPosition is the current-balance answer for one account/program pair:
// the latest checkpoint base plus everything registered after it.
type CpmPosition struct {
	AccountID  int64          `json:"account_id"`
	ProgramID  int64          `json:"program_id"`
	TotalMiles int64          `json:"total_miles"`
	TotalCost  float64        `json:"total_cost"`
	Cpm        float64        `json:"cpm"`
	Checkpoint *CpmCheckpoint `json:"checkpoint,omitempty"`
	DeltaCount int64          `json:"delta_count"`
	DeltaMiles int64          `json:"delta_miles"`
	DeltaCost  float64        `json:"delta_cost"`
	DeltaFrom  *time.Time     `json:"delta_from,omitempty"`
	DeltaTo    *time.Time     `json:"delta_to,omitempty"`
}
