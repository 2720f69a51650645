package overlay

import (
	"fmt"
	"html"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/gzhole/spendshield/internal/page"
)

// PanelData is what the stats panel shows.
type PanelData struct {
	Currency     string
	Enabled      bool
	MonthlySpend decimal.Decimal
	Budget       decimal.Decimal
	Intercepts   int
	Proceeded    int
	Saved        decimal.Decimal
	Streak       int
	BestStreak   int
	StreakGoal   int
}

// TogglePanel shows the stats panel, or hides it when it is up. It
// reports whether the panel is now visible.
func (p *Presenter) TogglePanel(d PanelData) bool {
	if p.panel != nil && p.panel.Attached() {
		p.panel.Remove()
		p.panel = nil
		return false
	}
	body := p.doc.Body()
	if body == nil {
		return false
	}
	els, err := body.AppendHTML(panelHTML(d))
	if err != nil || len(els) == 0 {
		return false
	}
	p.panel = els[0]
	return true
}

func panelHTML(d PanelData) string {
	money := func(v decimal.Decimal) string { return html.EscapeString(d.Currency + v.StringFixed(2)) }
	status := "ON"
	if !d.Enabled {
		status = "OFF"
	}
	var b strings.Builder
	fmt.Fprintf(&b, `<div %s="panel" class="ss-panel">`, page.OwnUIAttr)
	fmt.Fprintf(&b, `<div class="ss-panel-status">SpendShield %s</div>`, status)
	fmt.Fprintf(&b, `<div class="ss-panel-row"><span>This month</span><span>%s of %s</span></div>`, money(d.MonthlySpend), money(d.Budget))
	fmt.Fprintf(&b, `<div class="ss-panel-row"><span>Today</span><span>%d intercepted, %d proceeded</span></div>`, d.Intercepts, d.Proceeded)
	fmt.Fprintf(&b, `<div class="ss-panel-row"><span>Saved</span><span>%s</span></div>`, money(d.Saved))
	fmt.Fprintf(&b, `<div class="ss-panel-row"><span>Streak</span><span>%d / %d days (best %d)</span></div>`, d.Streak, d.StreakGoal, d.BestStreak)
	b.WriteString(`</div>`)
	return b.String()
}
