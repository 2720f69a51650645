package risk

import "github.com/shopspring/decimal"

// Status colours a budget figure.
type Status string

const (
	StatusOK     Status = "ok"
	StatusWarn   Status = "warn"
	StatusDanger Status = "danger"
)

var (
	leftDanger = decimal.RequireFromString("0.2")
	leftWarn   = decimal.RequireFromString("0.4")
	afterWarn  = decimal.RequireFromString("0.1")
)

// BudgetContext shows where the month stands before and after a purchase.
type BudgetContext struct {
	Budget      decimal.Decimal `json:"budget"`
	Spent       decimal.Decimal `json:"spent"`
	Left        decimal.Decimal `json:"left"`
	After       decimal.Decimal `json:"after"`
	LeftStatus  Status          `json:"left_status"`
	AfterStatus Status          `json:"after_status"`
}

// NewBudgetContext computes the context for amount (nil counts as zero).
func NewBudgetContext(budget, spent decimal.Decimal, amount *decimal.Decimal) BudgetContext {
	a := decimal.Zero
	if amount != nil {
		a = *amount
	}
	left := decimal.Max(decimal.Zero, budget.Sub(spent))
	after := decimal.Max(decimal.Zero, left.Sub(a))

	bc := BudgetContext{Budget: budget, Spent: spent, Left: left, After: after, LeftStatus: StatusOK, AfterStatus: StatusOK}
	if budget.IsPositive() {
		ratio := left.Div(budget)
		switch {
		case ratio.LessThan(leftDanger):
			bc.LeftStatus = StatusDanger
		case ratio.LessThan(leftWarn):
			bc.LeftStatus = StatusWarn
		}
	} else {
		bc.LeftStatus = StatusDanger
	}
	switch {
	case !after.IsPositive():
		bc.AfterStatus = StatusDanger
	case after.LessThan(budget.Mul(afterWarn)):
		bc.AfterStatus = StatusWarn
	}
	return bc
}
