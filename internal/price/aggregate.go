package price

import (
	"sort"

	"github.com/shopspring/decimal"
)

// MaxRanked is how many distinct amounts are offered to the user.
const MaxRanked = 4

// minRankedValue drops shipping fees, quantities and similar noise.
var minRankedValue = decimal.NewFromInt(1)

// Ranked is a distinct amount with the evidence behind it.
type Ranked struct {
	Value      decimal.Decimal `json:"value"`
	Source     Source          `json:"source"`
	Label      string          `json:"label"`
	Confidence Confidence      `json:"confidence"`
	Frequency  int             `json:"frequency"`
	Score      int             `json:"score"`
}

// Aggregate merges raw candidates that agree to the penny. Each amount
// keeps the strongest confidence seen for it and the first source that
// reached that confidence. Amounts are scored confidence*10 + frequency,
// sorted by score (ties keep first-seen order) and cut to MaxRanked.
// The result depends only on the input, so aggregating the same
// candidates twice gives the same list.
func Aggregate(raw []Candidate) []Ranked {
	byKey := map[string]*Ranked{}
	var order []string

	for _, c := range raw {
		v := c.Value.Round(2)
		key := v.StringFixed(2)
		r, ok := byKey[key]
		if !ok {
			r = &Ranked{Value: v, Source: c.Source, Label: c.Label, Confidence: c.Confidence}
			byKey[key] = r
			order = append(order, key)
		}
		r.Frequency++
		if c.Confidence > r.Confidence {
			r.Confidence = c.Confidence
			r.Source = c.Source
			r.Label = c.Label
		}
	}

	ranked := make([]Ranked, 0, len(order))
	for _, k := range order {
		r := byKey[k]
		if r.Value.LessThan(minRankedValue) {
			continue
		}
		r.Score = int(r.Confidence)*10 + r.Frequency
		ranked = append(ranked, *r)
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	if len(ranked) > MaxRanked {
		ranked = ranked[:MaxRanked]
	}
	return ranked
}

// AutoResolve picks the top amount without asking when it is the only
// strong candidate in the list.
func AutoResolve(ranked []Ranked) (decimal.Decimal, bool) {
	if len(ranked) == 0 || ranked[0].Confidence < Strong {
		return decimal.Zero, false
	}
	strong := 0
	for _, r := range ranked {
		if r.Confidence >= Strong {
			strong++
		}
	}
	if strong != 1 {
		return decimal.Zero, false
	}
	return ranked[0].Value, true
}
