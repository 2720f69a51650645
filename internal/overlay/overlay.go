// Package overlay renders the interception modal into the page itself.
package overlay

import (
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/gzhole/spendshield/internal/decision"
	"github.com/gzhole/spendshield/internal/page"
	"github.com/gzhole/spendshield/internal/risk"
)

// DefaultToastDuration is how long a toast stays up.
const DefaultToastDuration = 3 * time.Second

type Options struct {
	// Currency is read at render time; nil means "£".
	Currency      func() string
	ToastDuration time.Duration
	Logger        *zap.Logger
}

// Presenter draws the modal, toasts and the stats panel as subtrees
// marked with page.OwnUIAttr. User input is posted to the document's
// scheduler and forwarded to the bound controls.
type Presenter struct {
	doc  *page.Document
	ctl  decision.Controls
	opts Options
	log  *zap.Logger

	modal   *page.Element
	panel   *page.Element
	current *decision.Episode
	errText string
}

var _ decision.Presenter = (*Presenter)(nil)

func New(doc *page.Document, opts Options) *Presenter {
	if opts.ToastDuration <= 0 {
		opts.ToastDuration = DefaultToastDuration
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Presenter{doc: doc, opts: opts, log: log}
}

// Bind connects the presenter to the controls that receive user input.
func (p *Presenter) Bind(c decision.Controls) { p.ctl = c }

// Modal is the mounted modal, or nil.
func (p *Presenter) Modal() *page.Element { return p.modal }

func (p *Presenter) ShowPicker(ep *decision.Episode) {
	p.current = ep
	p.errText = ""
	p.mount(p.pickerHTML(ep))
}

func (p *Presenter) ShowDecision(ep *decision.Episode) {
	p.current = ep
	p.errText = ""
	p.mount(p.decisionHTML(ep))
}

func (p *Presenter) Unlock(ep *decision.Episode) {
	if p.current != ep {
		return
	}
	p.mount(p.decisionHTML(ep))
}

func (p *Presenter) Hide(*decision.Episode) {
	p.current = nil
	if p.modal != nil {
		p.modal.Remove()
		p.modal = nil
	}
}

func (p *Presenter) Toast(msg string) {
	body := p.doc.Body()
	if body == nil {
		return
	}
	els, err := body.AppendHTML(`<div ` + page.OwnUIAttr + `="toast" class="ss-toast">` + html.EscapeString(msg) + `</div>`)
	if err != nil || len(els) == 0 {
		p.log.Debug("toast not shown", zap.Error(err))
		return
	}
	toast := els[0]
	p.doc.Scheduler().AfterFunc(p.opts.ToastDuration, toast.Remove)
}

func (p *Presenter) currency() string {
	if p.opts.Currency != nil {
		if c := p.opts.Currency(); c != "" {
			return c
		}
	}
	return "£"
}

// mount replaces the modal's content, creating the modal on first use.
func (p *Presenter) mount(inner string) {
	if p.modal != nil && p.modal.Attached() {
		if _, err := p.modal.SetInnerHTML(inner); err != nil {
			p.log.Warn("modal render failed", zap.Error(err))
		}
		return
	}
	body := p.doc.Body()
	if body == nil {
		p.log.Warn("no body to mount the modal on")
		return
	}
	els, err := body.AppendHTML(`<div ` + page.OwnUIAttr + `="modal" class="ss-backdrop" role="dialog">` + inner + `</div>`)
	if err != nil || len(els) == 0 {
		p.log.Warn("modal render failed", zap.Error(err))
		return
	}
	p.modal = els[0]
	p.modal.AddEventListener(page.EventClick, p.onClick, page.ListenerOptions{})
}

func (p *Presenter) onClick(ev *page.Event) {
	if p.ctl == nil {
		return
	}
	if ev.Target == p.modal {
		p.post(func() error {
			p.ctl.DismissBackdrop()
			return nil
		})
		return
	}
	btn := ev.Target.Closest("button")
	if btn == nil {
		return
	}

	if v := btn.Attr("data-ss-price"); v != "" {
		amount, err := decimal.NewFromString(v)
		if err != nil {
			return
		}
		p.post(func() error { return p.ctl.SelectPrice(amount) })
		return
	}

	if a := btn.Attr("data-ss-answer"); a != "" {
		step, value, ok := strings.Cut(a, ":")
		n, err := strconv.Atoi(step)
		if !ok || err != nil {
			return
		}
		p.post(func() error { return p.ctl.Answer(n, value) }, p.rerender)
		return
	}

	switch btn.Attr("data-ss-action") {
	case "enter":
		raw := ""
		if in := p.modal.Find("input[data-ss-manual]"); len(in) > 0 {
			raw = in[0].Value()
		}
		p.post(func() error { return p.ctl.EnterPrice(raw) })
	case "skip":
		p.post(p.ctl.SkipPrice)
	case "keep":
		p.post(p.ctl.KeepMoney)
	case "proceed":
		p.post(p.ctl.Proceed)
	case "cooldown":
		p.post(p.ctl.StartCooldown, p.rerender)
	}
}

// post runs fn on the scheduler; then runs after a successful fn.
func (p *Presenter) post(fn func() error, then ...func()) {
	page.Post(p.doc.Scheduler(), func() {
		if err := fn(); err != nil {
			p.log.Debug("input rejected", zap.Error(err))
			if errors.Is(err, decision.ErrInvalidAmount) && p.current != nil {
				p.errText = "Enter an amount greater than zero"
				p.mount(p.pickerHTML(p.current))
			}
			return
		}
		for _, f := range then {
			f()
		}
	})
}

func (p *Presenter) rerender() {
	if p.current != nil && p.modal != nil {
		p.mount(p.decisionHTML(p.current))
	}
}

func (p *Presenter) pickerHTML(ep *decision.Episode) string {
	cur := p.currency()
	var b strings.Builder
	b.WriteString(`<div class="ss-modal ss-picker">`)
	b.WriteString(`<div class="ss-title">How much is this purchase?</div>`)
	b.WriteString(`<div class="ss-candidates">`)
	if len(ep.Candidates) == 0 {
		b.WriteString(`<div class="ss-empty">No prices detected on this page</div>`)
	}
	for _, c := range ep.Candidates {
		fmt.Fprintf(&b, `<button data-ss-price="%s"><span class="ss-candidate-value">%s</span><span class="ss-candidate-source">%s</span><span class="ss-conf ss-conf-%d">%s</span></button>`,
			c.Value.StringFixed(2),
			html.EscapeString(cur+c.Value.StringFixed(2)),
			html.EscapeString(c.Label),
			int(c.Confidence),
			strings.Repeat("★", int(c.Confidence)))
	}
	b.WriteString(`</div>`)
	b.WriteString(`<input data-ss-manual type="text" inputmode="decimal" placeholder="Or type the amount">`)
	b.WriteString(`<button data-ss-action="enter">Confirm</button>`)
	if p.errText != "" {
		b.WriteString(`<div class="ss-error">` + html.EscapeString(p.errText) + `</div>`)
	}
	b.WriteString(`<button data-ss-action="skip">Skip, no price to track</button>`)
	b.WriteString(`<button data-ss-action="keep">Keep my money</button>`)
	b.WriteString(`</div>`)
	return b.String()
}

func (p *Presenter) decisionHTML(ep *decision.Episode) string {
	cur := p.currency()
	money := func(d decimal.Decimal) string { return html.EscapeString(cur + d.StringFixed(2)) }

	var b strings.Builder
	fmt.Fprintf(&b, `<div class="ss-modal ss-decision ss-tier-%s">`, ep.Tier)
	fmt.Fprintf(&b, `<div class="ss-label">%s</div>`, html.EscapeString(ep.Label))
	fmt.Fprintf(&b, `<div class="ss-amount">%s</div>`, html.EscapeString(risk.FormatAmount(cur, ep.Amount)))
	fmt.Fprintf(&b, `<div class="ss-message">%s</div>`, html.EscapeString(ep.Message))

	bc := ep.Budget
	b.WriteString(`<div class="ss-context">`)
	fmt.Fprintf(&b, `<div class="ss-ctx-item"><span>Monthly Spent</span><span>%s</span></div>`, money(bc.Spent))
	fmt.Fprintf(&b, `<div class="ss-ctx-item ss-%s"><span>Surplus Left</span><span>%s</span></div>`, bc.LeftStatus, money(bc.Left))
	fmt.Fprintf(&b, `<div class="ss-ctx-item ss-%s"><span>After This</span><span>%s</span></div>`, bc.AfterStatus, money(bc.After))
	b.WriteString(`</div>`)

	if im := ep.Impact; im != nil {
		b.WriteString(`<div class="ss-impact">`)
		fmt.Fprintf(&b, `<div class="ss-score">Score %.0f → %.0f <span class="ss-delta">%.1f</span></div>`, im.Score, im.Projected, im.Delta)
		if len(im.Goals) == 0 {
			b.WriteString(`<div class="ss-goal ss-goal-empty">No goals set</div>`)
		}
		for _, g := range im.Goals {
			fmt.Fprintf(&b, `<div class="ss-goal"><span>%s</span><span>%d mo → %d mo</span></div>`,
				html.EscapeString(g.Name), g.BaseMonths, g.BaseMonths+g.DelayMonths)
		}
		b.WriteString(`</div>`)
	}

	switch {
	case ep.Unlocked:
		b.WriteString(`<div class="ss-reflect-done">Thanks for taking a moment.</div>`)
	case ep.Cooldown:
		b.WriteString(`<div class="ss-cooldown">Take a breath. Proceed unlocks when the cooldown ends.</div>`)
	default:
		step := len(ep.Answers)
		if step < len(decision.Questions) {
			q := decision.Questions[step]
			fmt.Fprintf(&b, `<div class="ss-reflect" data-step="%d"><div class="ss-q">%s</div>`, step, html.EscapeString(q.Prompt))
			for _, o := range q.Options {
				fmt.Fprintf(&b, `<button data-ss-answer="%d:%s">%s</button>`, step, o.Value, html.EscapeString(o.Text))
			}
			b.WriteString(`</div>`)
		}
		b.WriteString(`<button data-ss-action="cooldown">Take a breather instead</button>`)
	}

	b.WriteString(`<div class="ss-actions">`)
	b.WriteString(`<button data-ss-action="keep">Keep my money</button>`)
	if ep.Unlocked {
		b.WriteString(`<button data-ss-action="proceed">Go ahead</button>`)
	} else {
		b.WriteString(`<button data-ss-action="proceed" disabled>Go ahead</button>`)
	}
	b.WriteString(`</div></div>`)
	return b.String()
}
