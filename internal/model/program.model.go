package model

// ProgramType classifies the loyalty program issuer.
type ProgramType string

const (
	ProgramAirline ProgramType = "AIRLINE"
	ProgramBank    ProgramType = "BANK"
	ProgramBroker  ProgramType = "BROKER"
)

type Program struct {
	ID     int64       `json:"id"`
	Name   string      `json:"name"`
	Type   ProgramType `json:"type"`
	Active bool        `json:"active"`
}

func (Program) TableName() string { return "programs" }
