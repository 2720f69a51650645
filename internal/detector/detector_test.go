package detector

import (
	"testing"
	"time"

	"github.com/gzhole/spendshield/internal/page"
	"github.com/gzhole/spendshield/internal/policy"
)

type fakeSink struct {
	allow bool
	caps  []*Capture
}

// CanIntercept lets one episode through, like the decision machine does.
func (s *fakeSink) CanIntercept(Trigger) bool { return s.allow && len(s.caps) == 0 }
func (s *fakeSink) Capture(c *Capture)        { s.caps = append(s.caps, c) }

type harness struct {
	clock   *page.ManualClock
	doc     *page.Document
	sink    *fakeSink
	det     *Detector
	actions []page.Action
}

func setup(t *testing.T, markup string, opts Options) *harness {
	t.Helper()
	h := &harness{clock: page.NewManualClock(time.Unix(0, 0)), sink: &fakeSink{allow: true}}
	doc, err := page.ParseString(markup, "https://shop.test/checkout", h.clock)
	if err != nil {
		t.Fatal(err)
	}
	h.doc = doc
	doc.OnAction(func(a page.Action) { h.actions = append(h.actions, a) })
	h.det = New(doc, policy.MustCompile(policy.DefaultPolicy()), h.sink, opts)
	h.det.Start()
	t.Cleanup(h.det.Stop)
	return h
}

const checkoutForm = `<form id="f" action="/order"><input name="email">
<button id="go">Place order</button></form>
<button id="other">Show details</button>`

func TestDetector_CapturesCheckoutClick(t *testing.T) {
	h := setup(t, checkoutForm, Options{})
	pageSaw := false
	btn := h.doc.GetByID("go")
	btn.AddEventListener(page.EventClick, func(*page.Event) { pageSaw = true }, page.ListenerOptions{})

	btn.Click()

	if len(h.sink.caps) != 1 {
		t.Fatalf("expected one capture, got %d", len(h.sink.caps))
	}
	c := h.sink.caps[0]
	if c.Trigger != TriggerClick || c.Element != btn || c.Form != h.doc.GetByID("f") {
		t.Errorf("unexpected capture %+v", c)
	}
	if pageSaw {
		t.Error("page listener ran for a captured click")
	}
	if len(h.actions) != 0 {
		t.Errorf("form submitted while captured: %+v", h.actions)
	}

	// Script-driven submission stays blocked until release.
	c.Form.RequestSubmit(nil)
	if len(h.actions) != 0 {
		t.Error("form blocker let a submit through")
	}
	c.Release()
	c.Form.RequestSubmit(nil)
	if len(h.actions) != 1 || h.actions[0].Kind != page.ActionSubmit {
		t.Errorf("expected submit after release, got %+v", h.actions)
	}
}

func TestDetector_RefusedInterceptLeavesPageAlone(t *testing.T) {
	h := setup(t, checkoutForm, Options{})
	h.sink.allow = false

	h.doc.GetByID("go").Click()

	if len(h.sink.caps) != 0 {
		t.Fatal("nothing should be captured")
	}
	if len(h.actions) != 1 || h.actions[0].Kind != page.ActionSubmit {
		t.Errorf("page action should proceed, got %+v", h.actions)
	}
}

func TestDetector_InstrumentsOnce(t *testing.T) {
	h := setup(t, checkoutForm, Options{})
	if n := h.det.Scan(); n != 0 {
		t.Errorf("rescan instrumented %d elements again", n)
	}
	if !h.doc.GetByID("go").Marked(markButton) || h.doc.GetByID("other").Marked(markButton) {
		t.Error("only the checkout button should be instrumented")
	}
	h.sink.allow = false
	h.doc.GetByID("go").Click()
	h.sink.allow = true
	h.doc.GetByID("go").Click()
	if len(h.sink.caps) != 1 {
		t.Errorf("one listener per element: got %d captures", len(h.sink.caps))
	}
}

func TestDetector_SafetyNetCapturesScriptSubmit(t *testing.T) {
	h := setup(t, checkoutForm, Options{})
	form := h.doc.GetByID("f")

	form.RequestSubmit(nil)

	if len(h.sink.caps) != 1 {
		t.Fatalf("expected the safety net to capture, got %d", len(h.sink.caps))
	}
	c := h.sink.caps[0]
	if c.Trigger != TriggerSubmit || c.Form != form || c.Element != h.doc.GetByID("go") {
		t.Errorf("unexpected capture %+v", c)
	}
	if len(h.actions) != 0 {
		t.Error("submission should be suppressed")
	}
	form.RequestSubmit(nil)
	if len(h.actions) != 0 {
		t.Error("safety net capture should install the form blocker")
	}
	c.Release()
	if form.Marked(markForm) {
		t.Error("release should clear the blocked mark")
	}
}

func TestDetector_SafetyNetIgnoresOrdinaryForms(t *testing.T) {
	h := setup(t, `<form id="s"><input name="q"><button>Search</button></form>`, Options{})
	h.doc.GetByID("s").RequestSubmit(nil)
	if len(h.sink.caps) != 0 || len(h.actions) != 1 {
		t.Errorf("search form should submit normally: caps=%d actions=%d", len(h.sink.caps), len(h.actions))
	}
}

func TestDetector_CardFocusIsOneShot(t *testing.T) {
	h := setup(t, `<input id="cc" name="cardnumber" autocomplete="cc-number"><input id="n" name="nickname">`, Options{})
	cc := h.doc.GetByID("cc")

	h.sink.allow = true
	cc.Focus()
	if len(h.sink.caps) != 1 || h.sink.caps[0].Trigger != TriggerFocus {
		t.Fatalf("expected a focus capture, got %+v", h.sink.caps)
	}
	if h.sink.caps[0].Trigger.Replayable() {
		t.Error("focus captures have nothing to replay")
	}

	h.sink.caps = nil
	cc.Blur()
	cc.Focus()
	if len(h.sink.caps) != 0 {
		t.Error("card listener should fire once")
	}
	h.doc.GetByID("n").Focus()
	if len(h.sink.caps) != 0 {
		t.Error("non-card input triggered a capture")
	}
}

func TestDetector_MutationFastPathAndDebounce(t *testing.T) {
	h := setup(t, `<div id="root"></div>`, Options{})
	root := h.doc.GetByID("root")

	added, err := root.AppendHTML(`<div><button id="buy">Buy now</button></div><a id="lnk" class="btn">Checkout</a>`)
	if err != nil || len(added) != 2 {
		t.Fatalf("append: %v %v", added, err)
	}
	h.clock.Flush()

	if !h.doc.GetByID("buy").Marked(markButton) {
		t.Error("fast path should instrument inserted buttons")
	}
	if h.doc.GetByID("lnk").Marked(markButton) {
		t.Error("link buttons wait for the debounced scan")
	}

	h.clock.Advance(299 * time.Millisecond)
	if h.doc.GetByID("lnk").Marked(markButton) {
		t.Error("debounce fired early")
	}
	h.clock.Advance(time.Millisecond)
	if !h.doc.GetByID("lnk").Marked(markButton) {
		t.Error("debounced scan should instrument the link")
	}
}

func TestDetector_NavigationRescans(t *testing.T) {
	var navs []string
	rescans := 0
	h := setup(t, `<div id="root"></div>`, Options{
		OnNavigate: func(_, to string) { navs = append(navs, to) },
		OnRescan:   func() { rescans++ },
	})
	h.det.Stop()
	h.det.Start()

	if err := h.doc.PushState("/checkout/payment"); err != nil {
		t.Fatal(err)
	}
	if len(navs) != 1 || navs[0] != "https://shop.test/checkout/payment" {
		t.Errorf("navs = %v", navs)
	}
	h.clock.Advance(499 * time.Millisecond)
	if rescans != 0 {
		t.Error("rescan ran before the delay")
	}
	h.clock.Advance(time.Millisecond)
	if rescans != 1 {
		t.Errorf("rescans = %d", rescans)
	}
}

func TestDetector_SkipsOwnUIAndWrappers(t *testing.T) {
	h := setup(t, `<div data-spendshield="modal"><button id="own">Place order</button></div>
<div id="wrap" class="checkout-panel"><button id="real">Checkout</button></div>`, Options{})
	if h.doc.GetByID("own").Marked(markButton) {
		t.Error("own UI button instrumented")
	}
	if h.doc.GetByID("wrap").Marked(markButton) {
		t.Error("wrapper instrumented instead of its button")
	}
	if !h.doc.GetByID("real").Marked(markButton) {
		t.Error("real button missed")
	}
}

func TestButtonLabel(t *testing.T) {
	markup := "<button id=\"b\" aria-label=\"Place order\" value=\"x\">  Pay\n\t  now\u200b</button>" +
		"<input id=\"i\" type=\"submit\" value=\"Compl\u0435te purchase\">"
	h := setup(t, markup, Options{})
	if got := ButtonLabel(h.doc.GetByID("b")); got != "Place order x Pay now" {
		t.Errorf("label = %q", got)
	}
	if got := ButtonLabel(h.doc.GetByID("i")); got != "Complete purchase" {
		t.Errorf("homoglyph label = %q", got)
	}
}

func TestCapture_Replay(t *testing.T) {
	h := setup(t, checkoutForm+`<a id="buy" class="btn" href="/buy">Buy now</a>`, Options{})

	h.doc.GetByID("go").Click()
	c := h.sink.caps[0]
	if !c.Replay() {
		t.Fatal("replay should report work done")
	}
	if len(h.actions) != 1 || h.actions[0].Kind != page.ActionSubmit || !c.Released() {
		t.Errorf("form capture should replay as submit, got %+v", h.actions)
	}

	h.actions = nil
	link := &Capture{Trigger: TriggerClick, Element: h.doc.GetByID("buy")}
	h.sink.allow = false
	link.Replay()
	if len(h.actions) != 1 || h.actions[0].Kind != page.ActionActivate {
		t.Errorf("click capture should replay as activation, got %+v", h.actions)
	}

	if NewCapture(TriggerRequest, "https://shop.test/checkout").Replay() {
		t.Error("request captures are replayed by their host")
	}
}
