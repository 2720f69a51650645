package risk

import "github.com/shopspring/decimal"

// FallbackBudget applies when neither a profile surplus nor a configured
// budget is available.
var FallbackBudget = decimal.NewFromInt(500)

// Budget sources reported by Resolve.
const (
	BudgetFromProfile  = "profile"
	BudgetFromSettings = "settings"
	BudgetFromDefault  = "default"
)

// Basis is everything needed to classify and contextualise an amount.
type Basis struct {
	Thresholds   Thresholds
	MonthlyNet   *decimal.Decimal
	Budget       decimal.Decimal
	BudgetSource string
}

// Resolve picks the classification inputs in one place. The profile
// surplus wins for both risk and budget when positive; otherwise risk uses
// the configured thresholds and the budget falls back to monthlyBudget,
// then FallbackBudget.
func Resolve(thresholds Thresholds, monthlyBudget decimal.Decimal, profileNet *decimal.Decimal) Basis {
	b := Basis{Thresholds: thresholds}
	switch {
	case profileNet != nil && profileNet.IsPositive():
		n := *profileNet
		b.MonthlyNet = &n
		b.Budget = n
		b.BudgetSource = BudgetFromProfile
	case monthlyBudget.IsPositive():
		b.Budget = monthlyBudget
		b.BudgetSource = BudgetFromSettings
	default:
		b.Budget = FallbackBudget
		b.BudgetSource = BudgetFromDefault
	}
	return b
}

// Classify applies the basis to an amount.
func (b Basis) Classify(amount *decimal.Decimal) Tier {
	return Classify(amount, &b.Thresholds, b.MonthlyNet)
}
