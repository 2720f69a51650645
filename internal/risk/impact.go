package risk

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Goal is a savings target from the user's profile.
type Goal struct {
	Name     string          `json:"name"`
	Target   decimal.Decimal `json:"target"`
	Priority int             `json:"priority,omitempty"`
}

// Profile is the subset of the synced financial profile the projection
// needs.
type Profile struct {
	Score      float64         `json:"score"`
	MonthlyNet decimal.Decimal `json:"monthly_net"`
	Savings    decimal.Decimal `json:"savings"`
	Goals      []Goal          `json:"goals,omitempty"`
}

// GoalImpact estimates how a purchase pushes back one goal.
type GoalImpact struct {
	Name        string `json:"name"`
	BaseMonths  int64  `json:"base_months"`
	DelayMonths int64  `json:"delay_months"`
}

// Impact is a rough projection of a purchase on the score and goals. It is
// a display aid, not a forecast.
type Impact struct {
	Score     float64      `json:"score"`
	Delta     float64      `json:"score_delta"`
	Projected float64      `json:"projected_score"`
	Goals     []GoalImpact `json:"goals_impact"`
}

const (
	maxImpactGoals     = 3
	unrankedPriority   = 99
	pointsPerSurplus   = 4.0
	minDelta, maxDelta = -30.0, -0.1
)

var minSurplus = decimal.NewFromInt(50)

// ProjectImpact returns nil when there is no profile or no amount.
func ProjectImpact(amount *decimal.Decimal, p *Profile) *Impact {
	if p == nil || amount == nil || !amount.IsPositive() {
		return nil
	}
	mn := decimal.Max(p.MonthlyNet, minSurplus)
	ratio, _ := amount.Div(mn).Float64()
	delta := clamp(-ratio*pointsPerSurplus, minDelta, maxDelta)

	imp := &Impact{
		Score:     p.Score,
		Delta:     delta,
		Projected: clamp(p.Score+delta, 0, 100),
		Goals:     []GoalImpact{},
	}

	goals := make([]Goal, len(p.Goals))
	copy(goals, p.Goals)
	sort.SliceStable(goals, func(i, j int) bool { return priority(goals[i]) < priority(goals[j]) })
	if len(goals) > maxImpactGoals {
		goals = goals[:maxImpactGoals]
	}

	delay := amount.Div(mn).Ceil().IntPart()
	if delay < 0 {
		delay = 0
	}
	for _, g := range goals {
		remaining := decimal.Max(decimal.Zero, g.Target.Sub(p.Savings))
		base := remaining.Div(mn).Ceil().IntPart()
		if base < 1 {
			base = 1
		}
		imp.Goals = append(imp.Goals, GoalImpact{Name: g.Name, BaseMonths: base, DelayMonths: delay})
	}
	return imp
}

func priority(g Goal) int {
	if g.Priority <= 0 {
		return unrankedPriority
	}
	return g.Priority
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
