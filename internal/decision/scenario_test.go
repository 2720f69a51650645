package decision

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gzhole/spendshield/internal/detector"
	"github.com/gzhole/spendshield/internal/gate"
	"github.com/gzhole/spendshield/internal/page"
	"github.com/gzhole/spendshield/internal/policy"
	"github.com/gzhole/spendshield/internal/price"
	"github.com/gzhole/spendshield/internal/risk"
)

const basketPage = `<!doctype html><html><head><title>Basket</title>
<meta property="product:price:amount" content="275.00">
</head><body>
<div id="basket"><p>Order total £275.00</p><button id="place">Place Order</button></div>
</body></html>`

type countingRT struct{ n atomic.Int32 }

func (c *countingRT) RoundTrip(req *http.Request) (*http.Response, error) {
	c.n.Add(1)
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("{}")), Request: req}, nil
}

// pageEnv adapts a live document to Env the way the shield controller
// does.
type pageEnv struct {
	doc   *page.Document
	ex    *price.Extractor
	basis risk.Basis
}

func (e *pageEnv) Enabled() bool    { return true }
func (e *pageEnv) URL() string      { return e.doc.URL() }
func (e *pageEnv) Domain() string   { return e.doc.Host() }
func (e *pageEnv) Title() string    { return e.doc.Title() }
func (e *pageEnv) Currency() string { return "£" }
func (e *pageEnv) Candidates(*Episode) []price.Ranked {
	return e.ex.Rank(price.InputFromDocument(e.doc))
}
func (e *pageEnv) Basis() risk.Basis      { return e.basis }
func (e *pageEnv) Spent() decimal.Decimal { return decimal.Zero }
func (e *pageEnv) Profile() *risk.Profile { return nil }

func TestScenario_PlaceOrderProceeds(t *testing.T) {
	clock := page.NewManualClock(time.Unix(1700000000, 0))
	doc, err := page.ParseString(basketPage, "https://shop.test/basket", clock)
	if err != nil {
		t.Fatal(err)
	}
	matcher := policy.MustCompile(policy.DefaultPolicy())

	net := decimal.NewFromInt(1500)
	env := &pageEnv{
		doc:   doc,
		ex:    price.NewExtractor(matcher),
		basis: risk.Resolve(risk.DefaultThresholds(), decimal.NewFromInt(500), &net),
	}
	state := gate.NewState()
	reporter := &fakeReporter{}
	pres := &recPresenter{}
	m := New(Config{Scheduler: clock, Gate: state, Env: env, Reporter: reporter, Presenter: pres, Now: clock.Now})

	det := detector.New(doc, matcher, m, detector.Options{})
	det.Start()
	defer det.Stop()

	pageClicks := 0
	place := doc.GetByID("place")
	place.AddEventListener(page.EventClick, func(*page.Event) { pageClicks++ }, page.ListenerOptions{})
	var actions []page.Action
	doc.OnAction(func(a page.Action) { actions = append(actions, a) })

	// 1. The click is captured and the gate starts holding checkout calls.
	place.Click()
	ep := m.Episode()
	if ep == nil {
		t.Fatal("click was not intercepted")
	}
	if pageClicks != 0 || len(actions) != 0 {
		t.Fatal("page saw the captured click")
	}

	rt := &countingRT{}
	g := gate.New(state, matcher)
	client := &http.Client{Transport: &gate.Transport{Gate: g, Base: rt}}
	errc := make(chan error, 1)
	go func() {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, "https://shop.test/api/place-order", nil)
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
		}
		errc <- err
	}()

	// 2. One strong candidate: auto-resolved, and 275 is at least 10% of 1500.
	if !ep.AutoResolved || !ep.Amount.Equal(decimal.NewFromInt(275)) {
		t.Fatalf("amount = %v auto=%v, candidates %+v", ep.Amount, ep.AutoResolved, ep.Candidates)
	}
	if ep.Tier != risk.High {
		t.Fatalf("tier = %s, want high", ep.Tier)
	}

	// 3. Reflection unlocks proceed.
	for i, a := range []string{"need", "planned", "great"} {
		if err := m.Answer(i, a); err != nil {
			t.Fatal(err)
		}
	}
	select {
	case <-errc:
		t.Fatal("held checkout call completed before the decision")
	case <-time.After(20 * time.Millisecond):
	}

	// 4. Proceed: purchase logged, gate released, click replayed once.
	if err := m.Proceed(); err != nil {
		t.Fatal(err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("held call failed after proceed: %v", err)
	}
	if rt.n.Load() != 1 {
		t.Errorf("checkout call dispatched %d times", rt.n.Load())
	}
	if len(reporter.purchases) != 1 {
		t.Fatalf("purchase reports = %d", len(reporter.purchases))
	}
	rep := reporter.purchases[0]
	if !rep.Amount.Equal(decimal.NewFromInt(275)) || rep.RiskLevel != "high" {
		t.Errorf("purchase report %+v", rep)
	}

	if pageClicks != 0 {
		t.Fatal("replay must wait for the replay delay")
	}
	clock.Advance(DefaultReplayDelay)
	if pageClicks != 1 || len(actions) != 1 {
		t.Errorf("expected one replayed click, got clicks=%d actions=%d", pageClicks, len(actions))
	}
	if !state.Proceeding() {
		t.Error("proceeding window should still be open")
	}
	clock.Advance(DefaultProceedWindow)
	if state.Proceeding() {
		t.Error("proceeding should clear after the window")
	}
	if pageClicks != 1 {
		t.Errorf("click replayed %d times", pageClicks)
	}

	// 5. Same page state: further clicks go straight through.
	place.Click()
	if m.Episode() != nil || pageClicks != 2 {
		t.Error("second click on the same page state should not reopen the flow")
	}
}

func TestScenario_DeclineSuppressesFormSubmit(t *testing.T) {
	clock := page.NewManualClock(time.Unix(1700000000, 0))
	doc, err := page.ParseString(`<form id="f"><p>£42.00</p><p>£18.00</p><button id="pay">Pay now</button></form>`,
		"https://shop.test/pay", clock)
	if err != nil {
		t.Fatal(err)
	}
	matcher := policy.MustCompile(policy.DefaultPolicy())
	env := &pageEnv{doc: doc, ex: price.NewExtractor(matcher), basis: risk.Resolve(risk.DefaultThresholds(), decimal.Zero, nil)}
	state := gate.NewState()
	m := New(Config{Scheduler: clock, Gate: state, Env: env, Now: clock.Now})
	det := detector.New(doc, matcher, m, detector.Options{})
	det.Start()
	defer det.Stop()

	var actions []page.Action
	doc.OnAction(func(a page.Action) { actions = append(actions, a) })

	doc.GetByID("pay").Click()
	if m.Phase() != AwaitingPrice {
		t.Fatalf("two medium candidates should prompt, phase %s", m.Phase())
	}
	// The page retries through script while the picker is open.
	doc.GetByID("f").RequestSubmit(nil)
	if len(actions) != 0 {
		t.Fatal("form submitted during the episode")
	}

	g := gate.New(state, matcher)
	if err := m.KeepMoney(); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Wait(context.Background(), "https://shop.test/checkout"); err != nil {
		t.Errorf("gate should be idle after the episode: %v", err)
	}
	clock.Advance(time.Second)
	if len(actions) != 0 {
		t.Errorf("declined action was replayed: %+v", actions)
	}
	if snap := state.Snapshot(); snap.Decision == nil || *snap.Decision {
		t.Error("decline should record a deny decision")
	}
}
