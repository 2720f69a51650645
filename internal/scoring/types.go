package scoring

import (
	"github.com/shopspring/decimal"

	"github.com/gzhole/spendshield/internal/risk"
)

// SavingsGoal is a goal as the scoring service stores it.
type SavingsGoal struct {
	Name         string          `json:"name"`
	TargetAmount decimal.Decimal `json:"target_amount"`
	// Priority is nil when the service omitted it.
	Priority        *int `json:"priority,omitempty"`
	TimeframeMonths *int `json:"timeframe_months,omitempty"`
}

type Debt struct {
	Category        string           `json:"category"`
	Label           string           `json:"label"`
	TotalAmount     decimal.Decimal  `json:"total_amount"`
	MonthlyPayment  decimal.Decimal  `json:"monthly_payment"`
	APR             decimal.Decimal  `json:"apr"`
	MonthsRemaining *decimal.Decimal `json:"months_remaining,omitempty"`
}

// User is the onboarding record served by GET /user/{name} and accepted by
// POST /onboard/.
type User struct {
	Name                 string           `json:"name"`
	CurrentSavings       decimal.Decimal  `json:"current_savings"`
	AverageIncome        decimal.Decimal  `json:"average_income"`
	AverageExpenses      decimal.Decimal  `json:"average_expenses"`
	VarIncome            *decimal.Decimal `json:"var_income,omitempty"`
	VarExpenses          *decimal.Decimal `json:"var_expenses,omitempty"`
	CreditLimit          decimal.Decimal  `json:"credit_limit"`
	SavingsAllocationPct decimal.Decimal  `json:"savings_allocation_pct"`
	SavingsGoals         []SavingsGoal    `json:"savings_goals"`
	Debts                []Debt           `json:"debts"`
}

type scoreResponse struct {
	Name        string  `json:"name"`
	ShieldScore float64 `json:"shield_score"`
}

type onboardResponse struct {
	Message string `json:"message"`
	Data    *User  `json:"data"`
}

// Goal is a profile goal with its priority resolved.
type Goal struct {
	Name     string          `json:"name"`
	Target   decimal.Decimal `json:"target"`
	Priority int             `json:"priority"`
}

// Profile is the cached financial summary the engine works from.
type Profile struct {
	Score      float64         `json:"score"`
	Income     decimal.Decimal `json:"income"`
	Expenses   decimal.Decimal `json:"expenses"`
	MonthlyNet decimal.Decimal `json:"monthly_net"`
	Savings    decimal.Decimal `json:"savings"`
	Goals      []Goal          `json:"goals"`
	// SyncedAt is Unix milliseconds.
	SyncedAt int64 `json:"synced_at"`
}

// NewProfile derives a profile from a user record and its score. The net
// is clamped at zero and goals without a priority take their 1-based
// position.
func NewProfile(u *User, score float64, syncedAt int64) *Profile {
	net := u.AverageIncome.Sub(u.AverageExpenses)
	if net.IsNegative() {
		net = decimal.Zero
	}
	p := &Profile{
		Score:      score,
		Income:     u.AverageIncome,
		Expenses:   u.AverageExpenses,
		MonthlyNet: net,
		Savings:    u.CurrentSavings,
		Goals:      make([]Goal, 0, len(u.SavingsGoals)),
		SyncedAt:   syncedAt,
	}
	for i, g := range u.SavingsGoals {
		prio := i + 1
		if g.Priority != nil {
			prio = *g.Priority
		}
		p.Goals = append(p.Goals, Goal{Name: g.Name, Target: g.TargetAmount, Priority: prio})
	}
	return p
}

// Risk converts the profile for the risk package.
func (p *Profile) Risk() *risk.Profile {
	if p == nil {
		return nil
	}
	rp := &risk.Profile{Score: p.Score, MonthlyNet: p.MonthlyNet, Savings: p.Savings}
	for _, g := range p.Goals {
		rp.Goals = append(rp.Goals, risk.Goal{Name: g.Name, Target: g.Target, Priority: g.Priority})
	}
	return rp
}
