package risk

import (
	"math/rand/v2"
	"strings"

	"github.com/shopspring/decimal"
)

var messagePools = map[Tier][]string{
	Critical: {
		"Just a heads up, {f} is a big one.",
		"Worth a quick pause before committing {f}.",
		"{f} detected. No pressure, just checking in.",
	},
	High: {
		"{f} on the way. Was this on your radar?",
		"Quick check: is {f} in the plan today?",
		"Noticed {f} here. Planned or spontaneous?",
	},
	Medium: {
		"{f}: just making sure you saw that.",
		"Small one, but worth a glance: {f}.",
		"{f} spotted. All good if it's intentional!",
	},
	Low: {
		"Tiny purchase, no worries. Just staying aware.",
		"All looks fine here. Carry on!",
	},
}

// Messenger picks a friendly nudge for a tier.
type Messenger struct {
	Currency string
	// Intn defaults to math/rand/v2.IntN.
	Intn func(n int) int
}

// FormatAmount renders an amount with the currency symbol, or
// "This purchase" when it is unknown.
func FormatAmount(currency string, amount *decimal.Decimal) string {
	if amount == nil || !amount.IsPositive() {
		return "This purchase"
	}
	return currency + amount.StringFixed(2)
}

// Message returns one of the tier's messages with the amount filled in.
func (m Messenger) Message(amount *decimal.Decimal, t Tier) string {
	pool, ok := messagePools[t]
	if !ok {
		pool = messagePools[Low]
	}
	intn := m.Intn
	if intn == nil {
		intn = rand.IntN
	}
	cur := m.Currency
	if cur == "" {
		cur = "£"
	}
	return strings.ReplaceAll(pool[intn(len(pool))], "{f}", FormatAmount(cur, amount))
}
