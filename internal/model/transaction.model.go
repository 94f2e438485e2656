package model

import (
	"errors"
	"fmt"
	"time"
)

// AcquisitionMode is how the miles entered the ledger.
type AcquisitionMode string

const (
	ModeSimplePurchase AcquisitionMode = "SIMPLE_PURCHASE"
	ModeOrganic        AcquisitionMode = "ORGANIC"
	ModeBankTransfer   AcquisitionMode = "BANK_TRANSFER"
	ModeClub           AcquisitionMode = "CLUB_SUBSCRIPTION"
	ModeCpmAdjustment  AcquisitionMode = "CPM_ADJUSTMENT"
)

// BatchKind is the composition of one lot inside a mixed-lot transfer.
type BatchKind string

const (
	BatchOrganic BatchKind = "ORGANIC"
	BatchPaid    BatchKind = "PAID"
)

// Transaction is an immutable ledger entry. Rows are never updated in place;
// the only mutations ever applied are the correction protocol's subscription
// repointing and the two-phase undo's delete.
type Transaction struct {
	ID                 int64           `json:"id"`
	AccountID          int64           `json:"account_id"`
	Mode               AcquisitionMode `json:"mode"`
	SourceProgramID    *int64          `json:"source_program_id"` // nil for organic accrual
	DestProgramID      int64           `json:"dest_program_id"`
	ReferenceProgramID int64           `json:"reference_program_id"`
	BaseMiles          int64           `json:"base_miles"`
	BonusPercent       float64         `json:"bonus_percent"`
	CreditedMiles      int64           `json:"credited_miles"`
	TotalCost          float64         `json:"total_cost"`
	CpmReal            float64         `json:"cpm_real"`
	TransactionDate    time.Time       `json:"transaction_date"`
	RegisteredAt       time.Time       `json:"registered_at"`
	Description        string          `json:"description"`
	Note               *string         `json:"note,omitempty"`
	SubscriptionID     *int64          `json:"subscription_id,omitempty"`
	Batches            []*Batch        `json:"batches,omitempty"`
}

func (Transaction) TableName() string { return "transactions" }

// CpmWithoutBonus is a pure derivation, never stored independently.
func (t *Transaction) CpmWithoutBonus() float64 {
	return CpmOf(t.TotalCost, t.BaseMiles)
}

// Batch is one ordered lot composing a mixed-lot transaction.
type Batch struct {
	ID            int64     `json:"id"`
	TransactionID int64     `json:"transaction_id"`
	Kind          BatchKind `json:"kind"`
	MilesQty      int64     `json:"miles_qty"`
	Cpm           float64   `json:"cpm"`
	PartialCost   float64   `json:"partial_cost"`
	Seq           int       `json:"seq"`
}

func (Batch) TableName() string { return "transaction_batches" }

// CpmOf computes cost per thousand miles, zero when miles is zero.
func CpmOf(cost float64, miles int64) float64 {
	if miles <= 0 {
		return 0
	}
	return cost / float64(miles) * 1000
}

// CreditedMiles applies a uniform bonus over the whole base lot.
func CreditedMiles(base int64, bonusPercent float64) int64 {
	return int64(float64(base) * (1 + bonusPercent/100))
}

type TransactionCreateRequest struct {
	AccountID       int64           `json:"account_id"`
	ProgramID       int64           `json:"program_id"`
	Mode            AcquisitionMode `json:"mode"`
	BaseMiles       int64           `json:"base_miles"`
	BonusPercent    float64         `json:"bonus_percent"`
	TotalCost       float64         `json:"total_cost"`
	TransactionDate time.Time       `json:"transaction_date"`
	Note            *string         `json:"note,omitempty"`
}

func (p TransactionCreateRequest) Validate() error {
	if p.AccountID == 0 {
		return errors.New("account_id is required")
	}
	if p.ProgramID == 0 {
		return errors.New("program_id is required")
	}
	if p.BaseMiles <= 0 {
		return errors.New("base_miles must be positive")
	}
	if p.BonusPercent < 0 {
		return errors.New("bonus_percent cannot be negative")
	}
	switch p.Mode {
	case ModeOrganic:
		if p.TotalCost != 0 {
			return errors.New("organic entries carry no cost")
		}
	case ModeSimplePurchase, ModeBankTransfer:
		if p.TotalCost <= 0 {
			return errors.New("total_cost must be positive")
		}
	default:
		return fmt.Errorf("unsupported acquisition mode %q", p.Mode)
	}
	return nil
}

type ComplexTransferRequest struct {
	AccountID       int64     `json:"account_id"`
	SourceProgramID int64     `json:"source_program_id"`
	DestProgramID   int64     `json:"dest_program_id"`
	BaseMiles       int64     `json:"base_miles"`
	BonusPercent    float64   `json:"bonus_percent"`
	OrganicQty      int64     `json:"organic_qty"`
	OrganicCpm      float64   `json:"organic_cpm"`
	PaidQty         int64     `json:"paid_qty"`
	PaidCpm         float64   `json:"paid_cpm"`
	TransactionDate time.Time `json:"transaction_date"`
	Note            *string   `json:"note,omitempty"`
}

func (p ComplexTransferRequest) Validate() error {
	if p.AccountID == 0 {
		return errors.New("account_id is required")
	}
	if p.SourceProgramID == 0 || p.DestProgramID == 0 {
		return errors.New("source and destination programs are required")
	}
	if p.BaseMiles <= 0 {
		return errors.New("base_miles must be positive")
	}
	if p.BonusPercent < 0 {
		return errors.New("bonus_percent cannot be negative")
	}
	if p.OrganicQty < 0 || p.PaidQty < 0 {
		return errors.New("lot quantities cannot be negative")
	}
	if p.OrganicCpm < 0 || p.PaidCpm < 0 {
		return errors.New("lot CPMs cannot be negative")
	}
	if p.OrganicQty+p.PaidQty != p.BaseMiles {
		return fmt.Errorf("lot sum (%d) must equal base_miles (%d)", p.OrganicQty+p.PaidQty, p.BaseMiles)
	}
	return nil
}

// OrganicCost values the organic lot at its declared per-thousand cost.
func (p ComplexTransferRequest) OrganicCost() float64 {
	return float64(p.OrganicQty) / 1000 * p.OrganicCpm
}

func (p ComplexTransferRequest) PaidCost() float64 {
	return float64(p.PaidQty) / 1000 * p.PaidCpm
}

type IntraClubRequest struct {
	SubscriptionID int64   `json:"subscription_id"`
	AccountID      int64   `json:"account_id"`
	ProgramID      int64   `json:"program_id"`
	BaseMiles      int64   `json:"base_miles"`
	BonusPercent   float64 `json:"bonus_percent"`
	TotalCost      float64 `json:"total_cost"`
	Description    string  `json:"description"`
	Note           *string `json:"note,omitempty"`
}

func (p IntraClubRequest) Validate() error {
	if p.SubscriptionID == 0 {
		return errors.New("subscription_id is required")
	}
	if p.AccountID == 0 || p.ProgramID == 0 {
		return errors.New("account_id and program_id are required")
	}
	if p.BaseMiles <= 0 {
		return errors.New("base_miles must be positive")
	}
	if p.BonusPercent < 0 {
		return errors.New("bonus_percent cannot be negative")
	}
	if p.TotalCost < 0 {
		return errors.New("total_cost cannot be negative")
	}
	return nil
}
