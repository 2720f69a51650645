// Package risk scores a purchase amount against the user's budget.
package risk

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Tier is an ordered risk class.
type Tier string

const (
	Low      Tier = "low"
	Medium   Tier = "medium"
	High     Tier = "high"
	Critical Tier = "critical"
)

// Rank orders tiers: low 0 through critical 3. Unknown tiers rank -1.
func (t Tier) Rank() int {
	switch t {
	case Low:
		return 0
	case Medium:
		return 1
	case High:
		return 2
	case Critical:
		return 3
	}
	return -1
}

// Label is the short banner shown with a tier.
func (t Tier) Label() string {
	switch t {
	case Critical:
		return "DANGER"
	case High:
		return "WARNING"
	case Medium:
		return "CAUTION"
	}
	return "SAFE"
}

// ParseTier accepts a tier name in any case.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if t.Rank() < 0 {
		return "", fmt.Errorf("unknown risk tier %q", s)
	}
	return t, nil
}

// Thresholds are fixed amounts at or above which a purchase reaches a tier.
type Thresholds struct {
	Critical decimal.Decimal `json:"critical" yaml:"critical"`
	High     decimal.Decimal `json:"high" yaml:"high"`
	Medium   decimal.Decimal `json:"medium" yaml:"medium"`
}

// DefaultThresholds are used when no profile surplus is known.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Critical: decimal.NewFromInt(200),
		High:     decimal.NewFromInt(50),
		Medium:   decimal.NewFromInt(15),
	}
}

// Shares of the monthly surplus used when the surplus is known.
var (
	criticalShare = decimal.RequireFromString("0.4")
	highShare     = decimal.RequireFromString("0.1")
	mediumShare   = decimal.RequireFromString("0.03")
)

// Classify maps an amount to a tier. A positive monthlyNet scales the
// bounds to 40%, 10% and 3% of the surplus; otherwise the fixed
// thresholds apply. A nil amount or nil thresholds is always low.
func Classify(amount *decimal.Decimal, thresholds *Thresholds, monthlyNet *decimal.Decimal) Tier {
	if amount == nil || thresholds == nil || !amount.IsPositive() {
		return Low
	}
	a := *amount

	if monthlyNet != nil && monthlyNet.IsPositive() {
		n := *monthlyNet
		switch {
		case a.GreaterThanOrEqual(n.Mul(criticalShare)):
			return Critical
		case a.GreaterThanOrEqual(n.Mul(highShare)):
			return High
		case a.GreaterThanOrEqual(n.Mul(mediumShare)):
			return Medium
		}
		return Low
	}

	switch {
	case a.GreaterThanOrEqual(thresholds.Critical):
		return Critical
	case a.GreaterThanOrEqual(thresholds.High):
		return High
	case a.GreaterThanOrEqual(thresholds.Medium):
		return Medium
	}
	return Low
}
