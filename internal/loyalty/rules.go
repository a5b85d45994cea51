package loyalty

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	ActionPurchase = "PURCHASE"
	ActionVisit    = "VISIT"

	KindFixed      = "FIXED"
	KindPercentage = "PERCENTAGE"
)

var hundred = decimal.NewFromInt(100)

// Rule is an active earning rule of a loyalty program.
type Rule struct {
	ID                  string
	Name                string
	ActionType          string
	Kind                *string
	PointsValue         decimal.Decimal
	MinTransactionValue *decimal.Decimal
}

// IsPercentage reports whether the rule awards a percentage of the amount.
// Rules without an explicit kind fall back to the legacy naming convention.
func (r Rule) IsPercentage() bool {
	if r.Kind != nil && *r.Kind != "" {
		return strings.EqualFold(*r.Kind, KindPercentage)
	}
	return strings.Contains(strings.ToLower(r.Name), "percent")
}

// Qualifies reports whether amount meets the rule's minimum transaction value.
func (r Rule) Qualifies(amount decimal.Decimal) bool {
	return r.MinTransactionValue == nil || r.MinTransactionValue.LessThanOrEqual(amount)
}

// PointsFor returns the points the rule awards for amount.
func (r Rule) PointsFor(amount decimal.Decimal) int64 {
	if r.IsPercentage() {
		return amount.Mul(r.PointsValue).Div(hundred).Floor().IntPart()
	}
	return r.PointsValue.Floor().IntPart()
}
