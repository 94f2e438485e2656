package fixtures

import (
	"time"

	"github.com/wfmiles/miles-ledger/internal/model"
)

var (
	TestAccount1 = model.Account{
		ID:      1,
		TaxID:   "52998224725",
		Name:    "Main Desk",
		Managed: model.ManagementOwn,
		Active:  true,
	}

	TestAccount2 = model.Account{
		ID:      2,
		TaxID:   "15350946056",
		Name:    "Client Desk",
		Managed: model.ManagementClient,
		Active:  true,
	}
)

var (
	ValidTaxIDs = []string{
		"529.982.247-25",
		"52998224725",
		"153.509.460-56",
	}

	InvalidTaxIDs = []string{
		"",
		"123",
		"111.111.111-11",
		"529.982.247-26",
		"abc12345678",
	}
)

func NewTestProgram(id int64, name string, programType model.ProgramType) *model.Program {
	return &model.Program{
		ID:     id,
		Name:   name,
		Type:   programType,
		Active: true,
	}
}

func NewTestPurchaseRequest(accountID, programID, baseMiles int64, cost float64, date time.Time) model.TransactionCreateRequest {
	return model.TransactionCreateRequest{
		AccountID:       accountID,
		ProgramID:       programID,
		Mode:            model.ModeSimplePurchase,
		BaseMiles:       baseMiles,
		TotalCost:       cost,
		TransactionDate: date,
	}
}

func NewTestOrganicRequest(accountID, programID, baseMiles int64, date time.Time) model.TransactionCreateRequest {
	return model.TransactionCreateRequest{
		AccountID:       accountID,
		ProgramID:       programID,
		Mode:            model.ModeOrganic,
		BaseMiles:       baseMiles,
		TransactionDate: date,
	}
}

func NewTestTransferRequest(accountID, sourceID, destID int64, date time.Time) model.ComplexTransferRequest {
	return model.ComplexTransferRequest{
		AccountID:       accountID,
		SourceProgramID: sourceID,
		DestProgramID:   destID,
		BaseMiles:       100000,
		BonusPercent:    80,
		OrganicQty:      60000,
		OrganicCpm:      18,
		PaidQty:         40000,
		PaidCpm:         35,
		TransactionDate: date,
	}
}

func NewTestSubscriptionRequest(accountID, programID int64, start time.Time) model.SubscriptionCreateRequest {
	return model.SubscriptionCreateRequest{
		AccountID:       accountID,
		ProgramID:       programID,
		Periodicity:     model.PeriodicityMonthly,
		CycleValue:      100,
		GuaranteedMiles: 100000,
		StartDate:       start,
		RenewalDate:     start.AddDate(1, 0, 0),
	}
}
