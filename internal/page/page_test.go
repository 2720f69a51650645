package page

import (
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const shopHTML = `<!doctype html>
<html><head><title> Basket - Test Shop </title>
<script type="application/json" id="__NEXT_DATA__">{"props":{"price":"12.00"}}</script>
<script type="application/json" id="broken">{nope</script>
</head>
<body>
  <div id="wrap" class="checkout">
    <form id="pay" action="/order">
      <input id="card" name="cardnumber">
      <button id="place">Place order</button>
      <button id="plain" type="button">Apply coupon</button>
    </form>
    <button id="outside" form="pay" type="submit">Pay now</button>
    <a id="link" href="/help">Help</a>
    <p id="txt">Total <b>£10</b><script>var x = 1;</script></p>
  </div>
</body></html>`

func newShop(t *testing.T) (*Document, *ManualClock) {
	t.Helper()
	clock := NewManualClock(time.Unix(0, 0))
	d, err := ParseString(shopHTML, "https://www.shop.test/basket", clock)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	return d, clock
}

func TestParse_Basics(t *testing.T) {
	d, _ := newShop(t)
	if d.Title() != "Basket - Test Shop" {
		t.Errorf("Title = %q", d.Title())
	}
	if d.Host() != "www.shop.test" {
		t.Errorf("Host = %q", d.Host())
	}
	if g := d.Global("__NEXT_DATA__"); g == nil || g.Get("props").Get("price") == nil {
		t.Error("JSON island not exposed as global")
	}
	if d.Global("broken") != nil {
		t.Error("invalid JSON island should be skipped")
	}
	if got := strings.TrimSpace(d.GetByID("txt").Text()); got != "Total £10" {
		t.Errorf("Text should skip script bodies, got %q", got)
	}
	if d.First("#place") != d.GetByID("place") {
		t.Error("elements should be memoized per node")
	}
}

func TestDispatch_Order(t *testing.T) {
	d, _ := newShop(t)
	var order []string
	rec := func(name string) Listener { return func(*Event) { order = append(order, name) } }

	d.AddEventListener(EventClick, rec("doc-capture"), ListenerOptions{Capture: true})
	d.AddEventListener(EventClick, rec("doc-bubble"), ListenerOptions{})
	wrap := d.GetByID("wrap")
	wrap.AddEventListener(EventClick, rec("wrap-bubble"), ListenerOptions{})
	wrap.AddEventListener(EventClick, rec("wrap-capture"), ListenerOptions{Capture: true})
	link := d.GetByID("link")
	link.AddEventListener(EventClick, rec("target-bubble"), ListenerOptions{})
	link.AddEventListener(EventClick, rec("target-capture"), ListenerOptions{Capture: true})

	link.Click()

	want := "doc-capture,wrap-capture,target-capture,target-bubble,wrap-bubble,doc-bubble"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("order = %s\nwant   %s", got, want)
	}
}

func TestDispatch_StopImmediateAndPreventDefault(t *testing.T) {
	d, _ := newShop(t)
	var actions []Action
	d.OnAction(func(a Action) { actions = append(actions, a) })

	place := d.GetByID("place")
	later := 0
	place.AddEventListener(EventClick, func(e *Event) {
		e.PreventDefault()
		e.StopImmediatePropagation()
	}, ListenerOptions{Capture: true})
	place.AddEventListener(EventClick, func(*Event) { later++ }, ListenerOptions{Capture: true})
	bubbled := 0
	d.AddEventListener(EventClick, func(*Event) { bubbled++ }, ListenerOptions{})

	place.Click()

	if later != 0 || bubbled != 0 {
		t.Errorf("listeners after stopImmediatePropagation ran: later=%d bubbled=%d", later, bubbled)
	}
	if len(actions) != 0 {
		t.Errorf("default action ran despite preventDefault: %+v", actions)
	}
}

func TestClick_SubmitsFormUnlessSubmitPrevented(t *testing.T) {
	d, _ := newShop(t)
	var actions []Action
	d.OnAction(func(a Action) { actions = append(actions, a) })

	d.GetByID("place").Click()
	if len(actions) != 1 || actions[0].Kind != ActionSubmit || actions[0].Element.ID() != "pay" {
		t.Fatalf("expected form submission, got %+v", actions)
	}
	if actions[0].Submitter.ID() != "place" {
		t.Error("submitter not recorded")
	}

	form := d.GetByID("pay")
	remove := form.AddEventListener(EventSubmit, func(e *Event) { e.PreventDefault() }, ListenerOptions{Capture: true})
	d.GetByID("outside").Click()
	if len(actions) != 1 {
		t.Fatalf("prevented submit still submitted: %+v", actions)
	}

	// form.submit() bypasses submit listeners.
	form.Submit()
	if len(actions) != 2 || actions[1].Kind != ActionSubmit {
		t.Fatalf("programmatic submit did not run: %+v", actions)
	}

	remove()
	d.GetByID("outside").Click()
	if len(actions) != 3 {
		t.Error("form attribute owner should submit once listener removed")
	}

	d.GetByID("plain").Click()
	if last := actions[len(actions)-1]; last.Kind != ActionActivate || last.Element.ID() != "plain" {
		t.Errorf("type=button should activate, got %+v", last)
	}
}

func TestFocus_CaptureOnlyOnAncestors(t *testing.T) {
	d, _ := newShop(t)
	capture, bubble, target := 0, 0, 0
	d.AddEventListener(EventFocus, func(*Event) { capture++ }, ListenerOptions{Capture: true})
	d.AddEventListener(EventFocus, func(*Event) { bubble++ }, ListenerOptions{})
	card := d.GetByID("card")
	card.AddEventListener(EventFocus, func(*Event) { target++ }, ListenerOptions{Once: true})

	card.Focus()
	card.Blur()
	card.Focus()

	if capture != 2 || bubble != 0 || target != 1 {
		t.Errorf("capture=%d bubble=%d target=%d, want 2/0/1", capture, bubble, target)
	}
	if d.ActiveElement() != card {
		t.Error("active element not updated")
	}
}

func TestListenerPanicRecovered(t *testing.T) {
	d, _ := newShop(t)
	var recovered any
	d.OnPanic = func(r any) { recovered = r }
	after := 0
	link := d.GetByID("link")
	link.AddEventListener(EventClick, func(*Event) { panic("boom") }, ListenerOptions{})
	link.AddEventListener(EventClick, func(*Event) { after++ }, ListenerOptions{})

	link.Click()

	if recovered != "boom" || after != 1 {
		t.Errorf("recovered=%v after=%d", recovered, after)
	}
}

func TestMutations_BatchedOnScheduler(t *testing.T) {
	d, clock := newShop(t)
	var batches [][]MutationRecord
	disconnect := d.Observe(func(recs []MutationRecord) { batches = append(batches, recs) })

	wrap := d.GetByID("wrap")
	added, err := wrap.AppendHTML(`<button class="buy-now">Buy now</button><span>x</span>`)
	if err != nil {
		t.Fatal(err)
	}
	if len(added) != 2 {
		t.Fatalf("expected 2 added elements, got %d", len(added))
	}
	d.GetByID("link").Remove()

	if len(batches) != 0 {
		t.Fatal("observer must not run synchronously")
	}
	clock.Flush()
	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("expected one batch of two records, got %+v", batches)
	}
	if !added[0].Matches("button.buy-now") || d.First(".buy-now") != added[0] {
		t.Error("appended element should be queryable")
	}
	if d.GetByID("link") != nil {
		t.Error("removed element still found")
	}

	disconnect()
	wrap.AppendHTML(`<i>y</i>`)
	clock.Flush()
	if len(batches) != 1 {
		t.Error("disconnected observer still called")
	}
}

func TestPushState(t *testing.T) {
	d, _ := newShop(t)
	var seen []string
	d.OnLocationChange(func(old, next string) { seen = append(seen, old+" -> "+next) })

	if err := d.PushState("/checkout?step=2"); err != nil {
		t.Fatal(err)
	}
	_ = d.PushState("/checkout?step=2")

	if len(seen) != 1 || seen[0] != "https://www.shop.test/basket -> https://www.shop.test/checkout?step=2" {
		t.Errorf("location changes = %v", seen)
	}
}

func TestElementHelpers(t *testing.T) {
	d, _ := newShop(t)
	place := d.GetByID("place")
	if place.Form().ID() != "pay" || d.GetByID("outside").Form().ID() != "pay" {
		t.Error("form owner resolution failed")
	}
	if place.Closest(".checkout").ID() != "wrap" {
		t.Error("Closest should find ancestor")
	}
	if !d.GetByID("wrap").Contains(place) || place.Contains(d.GetByID("wrap")) {
		t.Error("Contains wrong")
	}
	if !place.Mark("x") || place.Mark("x") || !place.Marked("x") {
		t.Error("Mark should be set-once")
	}
	if place.InOwnUI() {
		t.Error("page element reported as own UI")
	}
	ui, _ := d.Body().AppendHTML(`<div data-spendshield="modal"><button id="keep">Keep</button></div>`)
	if !ui[0].Find("#keep")[0].InOwnUI() {
		t.Error("own UI descendant not recognized")
	}
	if len(d.Find("::bogus((")) != 0 {
		t.Error("invalid selector should match nothing")
	}
}

func TestManualClock_Order(t *testing.T) {
	c := NewManualClock(time.Unix(100, 0))
	var got []string
	c.AfterFunc(200*time.Millisecond, func() { got = append(got, "b") })
	c.AfterFunc(100*time.Millisecond, func() {
		got = append(got, "a")
		c.AfterFunc(50*time.Millisecond, func() { got = append(got, "a2") })
	})
	stop := c.AfterFunc(150*time.Millisecond, func() { got = append(got, "cancelled") })
	if !stop() || stop() {
		t.Error("stop should report pending exactly once")
	}

	c.Advance(120 * time.Millisecond)
	if strings.Join(got, ",") != "a" {
		t.Errorf("after 120ms got %v", got)
	}
	c.Advance(time.Second)
	if strings.Join(got, ",") != "a,a2,b" {
		t.Errorf("got %v", got)
	}
	if !c.Now().Equal(time.Unix(101, 120*int64(time.Millisecond))) {
		t.Errorf("Now = %v", c.Now())
	}
	if c.Pending() != 0 {
		t.Error("queue should be empty")
	}
}

func TestEventLoop(t *testing.T) {
	l := NewEventLoop()
	defer l.Close()

	var panics atomic.Int32
	l.OnPanic = func(any) { panics.Add(1) }
	l.Post(func() { panic("x") })

	var n atomic.Int32
	done := make(chan struct{})
	release := make(chan struct{})
	l.Post(func() { <-release })
	stop := l.AfterFunc(0, func() { n.Add(100) })
	if !stop() {
		t.Error("stop should cancel a queued task")
	}
	close(release)
	l.AfterFunc(10*time.Millisecond, func() { n.Add(1); close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
	if !l.Do(func() {}) {
		t.Fatal("Do failed on open loop")
	}
	if n.Load() != 1 {
		t.Errorf("n = %d, want 1", n.Load())
	}
	if panics.Load() != 1 {
		t.Errorf("panics = %d", panics.Load())
	}

	l.Close()
	if l.Do(func() {}) {
		t.Error("Do should fail after Close")
	}
}
