// Package detector finds checkout controls on a page and captures their
// activation before the page sees it.
package detector

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gzhole/spendshield/internal/normalize"
	"github.com/gzhole/spendshield/internal/page"
	"github.com/gzhole/spendshield/internal/policy"
)

// Sink receives captures. CanIntercept is asked before anything is
// suppressed, so a false answer leaves the page untouched.
type Sink interface {
	CanIntercept(t Trigger) bool
	Capture(c *Capture)
}

const (
	DefaultDebounce = 300 * time.Millisecond
	DefaultNavDelay = 500 * time.Millisecond

	markButton = "spendshield.button"
	markCard   = "spendshield.card"
	markForm   = "spendshield.form-blocked"
)

// fastPathSelector is checked against freshly inserted nodes before the
// debounced full scan runs.
const fastPathSelector = `button, input[type="submit"], [role="button"]`

const submitButtonSelector = `button[type="submit"], input[type="submit"], button:not([type])`

// Options tune a Detector. Zero values use the defaults.
type Options struct {
	Debounce time.Duration
	NavDelay time.Duration
	Logger   *zap.Logger
	// OnNavigate runs right after a client-side navigation is seen.
	OnNavigate func(oldURL, newURL string)
	// OnRescan runs after the delayed post-navigation rescan.
	OnRescan func()
}

// Detector instruments one document.
type Detector struct {
	doc     *page.Document
	matcher *policy.Matcher
	sink    Sink
	opts    Options
	log     *zap.Logger

	stopDebounce func() bool
	stopNav      func() bool
	cleanup      []func()
	started      bool
}

func New(doc *page.Document, m *policy.Matcher, sink Sink, opts Options) *Detector {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.NavDelay <= 0 {
		opts.NavDelay = DefaultNavDelay
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Detector{doc: doc, matcher: m, sink: sink, opts: opts, log: log}
}

// Start scans the page and installs the safety net and observers.
func (d *Detector) Start() {
	if d.started {
		return
	}
	d.started = true
	d.Scan()
	d.cleanup = append(d.cleanup,
		d.doc.AddEventListener(page.EventSubmit, d.onDocumentSubmit, page.ListenerOptions{Capture: true}),
		d.doc.Observe(d.onMutations),
		d.doc.OnLocationChange(d.onLocationChange),
	)
}

// Stop removes the document-level hooks and cancels pending rescans.
// Listeners on individual elements stay, as they do in a browser.
func (d *Detector) Stop() {
	for _, fn := range d.cleanup {
		fn()
	}
	d.cleanup = nil
	d.cancelTimers()
	d.started = false
}

func (d *Detector) cancelTimers() {
	if d.stopDebounce != nil {
		d.stopDebounce()
		d.stopDebounce = nil
	}
	if d.stopNav != nil {
		d.stopNav()
		d.stopNav = nil
	}
}

// Scan instruments every matching button and card input not yet seen and
// returns how many were new.
func (d *Detector) Scan() int {
	return d.scanButtons() + d.scanCardInputs()
}

func (d *Detector) scanButtons() int {
	n := 0
	for _, el := range d.doc.Find(d.matcher.ButtonSelector()) {
		if d.tryButton(el) {
			n++
		}
	}
	return n
}

func (d *Detector) tryButton(el *page.Element) bool {
	if el.InOwnUI() || el.Marked(markButton) {
		return false
	}
	// A checkout-classed wrapper is left to the control inside it, so the
	// replayed click lands on the real button.
	if len(el.Find(fastPathSelector)) > 0 {
		return false
	}
	if !d.matcher.IsCheckoutLabel(ButtonLabel(el)) {
		return false
	}
	d.intercept(el)
	return true
}

func (d *Detector) scanCardInputs() int {
	n := 0
	for _, in := range d.doc.Find("input") {
		if in.InOwnUI() || in.Marked(markCard) {
			continue
		}
		desc := []string{in.ID(), in.Attr("name"), in.Attr("placeholder"), in.Attr("autocomplete"), in.Attr("data-field")}
		if !d.matcher.IsCardField(strings.ToLower(strings.Join(desc, " "))) {
			continue
		}
		in.Mark(markCard)
		d.watchCardInput(in)
		n++
	}
	return n
}

// ButtonLabel joins everything that names a control: accessibility and
// test attributes, the value, and the collapsed visible text. Invisible
// characters and look-alike letters are normalised away.
func ButtonLabel(el *page.Element) string {
	sources := []string{
		el.Attr("aria-label"), el.Attr("data-label"), el.Attr("title"), el.Attr("name"),
		el.Attr("data-testid"), el.Attr("data-track-summary"), el.Value(),
		strings.Join(strings.Fields(el.Text()), " "),
	}
	parts := sources[:0]
	for _, s := range sources {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return normalize.Label(strings.Join(parts, " "))
}

func (d *Detector) intercept(el *page.Element) {
	if !el.Mark(markButton) {
		return
	}
	el.AddEventListener(page.EventClick, func(e *page.Event) {
		if !d.sink.CanIntercept(TriggerClick) {
			return
		}
		e.PreventDefault()
		e.StopImmediatePropagation()
		e.StopPropagation()

		c := &Capture{Trigger: TriggerClick, Element: el, URL: d.doc.URL()}
		if f := el.Form(); f != nil {
			c.Form = f
			d.blockForm(c, f)
		}
		d.log.Debug("checkout click captured", zap.Stringer("element", el))
		d.sink.Capture(c)
	}, page.ListenerOptions{Capture: true})
}

// blockForm suppresses submit events on f until the capture is released.
func (d *Detector) blockForm(c *Capture, f *page.Element) {
	if !f.Mark(markForm) {
		return
	}
	remove := f.AddEventListener(page.EventSubmit, func(e *page.Event) {
		e.PreventDefault()
		e.StopImmediatePropagation()
	}, page.ListenerOptions{Capture: true})
	c.onRelease(func() {
		remove()
		f.Unmark(markForm)
	})
}

func (d *Detector) watchCardInput(in *page.Element) {
	in.AddEventListener(page.EventFocus, func(*page.Event) {
		if !d.sink.CanIntercept(TriggerFocus) {
			return
		}
		d.sink.Capture(&Capture{Trigger: TriggerFocus, Element: in, URL: d.doc.URL()})
	}, page.ListenerOptions{Once: true})
}

// onDocumentSubmit catches forms whose checkout button was never
// instrumented.
func (d *Detector) onDocumentSubmit(e *page.Event) {
	form := e.Target
	if form == nil || form.InOwnUI() {
		return
	}
	btn := e.Submitter
	if btn == nil || !d.matcher.IsCheckoutLabel(ButtonLabel(btn)) {
		btn = nil
		if bs := form.Find(submitButtonSelector); len(bs) > 0 && d.matcher.IsCheckoutLabel(ButtonLabel(bs[0])) {
			btn = bs[0]
		}
	}
	if btn == nil || !d.sink.CanIntercept(TriggerSubmit) {
		return
	}
	e.PreventDefault()
	e.StopImmediatePropagation()

	c := &Capture{Trigger: TriggerSubmit, Element: btn, Form: form, URL: d.doc.URL()}
	d.blockForm(c, form)
	d.log.Debug("checkout submit captured", zap.Stringer("form", form))
	d.sink.Capture(c)
}

func (d *Detector) onMutations(records []page.MutationRecord) {
	for _, r := range records {
		for _, n := range r.Added {
			if n.Matches(fastPathSelector) {
				d.tryButton(n)
			}
			for _, b := range n.Find(fastPathSelector) {
				d.tryButton(b)
			}
		}
	}
	if d.stopDebounce != nil {
		d.stopDebounce()
	}
	d.stopDebounce = d.doc.Scheduler().AfterFunc(d.opts.Debounce, func() {
		d.stopDebounce = nil
		d.Scan()
	})
}

func (d *Detector) onLocationChange(oldURL, newURL string) {
	d.log.Debug("navigation", zap.String("from", oldURL), zap.String("to", newURL))
	if d.opts.OnNavigate != nil {
		d.opts.OnNavigate(oldURL, newURL)
	}
	if d.stopNav != nil {
		d.stopNav()
	}
	d.stopNav = d.doc.Scheduler().AfterFunc(d.opts.NavDelay, func() {
		d.stopNav = nil
		d.Scan()
		if d.opts.OnRescan != nil {
			d.opts.OnRescan()
		}
	})
}
