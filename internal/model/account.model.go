package model

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// ManagementType tags whether the account is operated by us or on behalf of a client.
type ManagementType string

const (
	ManagementOwn    ManagementType = "OWN"
	ManagementClient ManagementType = "CLIENT"
)

type Account struct {
	ID        int64          `json:"id"`
	TaxID     string         `json:"tax_id"`
	Name      string         `json:"name"`
	Managed   ManagementType `json:"management_type"`
	Active    bool           `json:"active"`
	CreatedAt time.Time      `json:"created_at"`
}

func (Account) TableName() string { return "accounts" }

var nonDigits = regexp.MustCompile(`\D`)

// NormalizeTaxID strips punctuation, keeping digits only.
func NormalizeTaxID(s string) string {
	return nonDigits.ReplaceAllString(s, "")
}

// ValidTaxID checks length, repeated-digit degenerate cases and both check digits.
// Expects an already-normalized (digits only) id.
func ValidTaxID(id string) bool {
	if len(id) != 11 {
		return false
	}
	if id == strings.Repeat(id[:1], 11) {
		return false
	}
	calc := func(base string) byte {
		total := 0
		for i, w := 0, len(base)+1; i < len(base); i, w = i+1, w-1 {
			total += int(base[i]-'0') * w
		}
		rest := total % 11
		if rest < 2 {
			return '0'
		}
		return byte('0' + 11 - rest)
	}
	d1 := calc(id[:9])
	d2 := calc(id[:9] + string(d1))
	return id[9] == d1 && id[10] == d2
}

type AccountCreateRequest struct {
	Name    string         `json:"name"`
	TaxID   string         `json:"tax_id"`
	Managed ManagementType `json:"management_type"`
}

func (p AccountCreateRequest) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("name is required")
	}
	if p.Managed != ManagementOwn && p.Managed != ManagementClient {
		return errors.New("management_type must be OWN or CLIENT")
	}
	if !ValidTaxID(NormalizeTaxID(p.TaxID)) {
		return errors.New("invalid tax id")
	}
	return nil
}
