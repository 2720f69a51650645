package shield

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gzhole/spendshield/internal/config"
	"github.com/gzhole/spendshield/internal/decision"
	"github.com/gzhole/spendshield/internal/gate"
	"github.com/gzhole/spendshield/internal/host"
	"github.com/gzhole/spendshield/internal/logger"
	"github.com/gzhole/spendshield/internal/page"
	"github.com/gzhole/spendshield/internal/policy"
	"github.com/gzhole/spendshield/internal/scoring"
	"github.com/gzhole/spendshield/internal/store"
)

const basketPage = `<!doctype html><html><head><title>Basket</title>
<meta property="product:price:amount" content="275.00">
</head><body>
<div id="basket"><p>Order total £275.00</p><button id="place">Place Order</button></div>
</body></html>`

type harness struct {
	clock     *page.ManualClock
	doc       *page.Document
	svc       *host.Service
	shield    *Shield
	auditPath string
	clicks    int
}

func newHarness(t *testing.T, markup, url string) *harness {
	t.Helper()
	h := &harness{clock: page.NewManualClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))}

	doc, err := page.ParseString(markup, url, h.clock)
	if err != nil {
		t.Fatal(err)
	}
	h.doc = doc

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	dir := t.TempDir()
	h.svc = host.NewService(st, config.SettingsFile{Path: filepath.Join(dir, "settings.yaml")}, host.WithClock(h.clock.Now))

	_, err = h.svc.Send(context.Background(), host.Message{
		Type:    host.MsgStoreProfile,
		Profile: &scoring.Profile{Score: 70, MonthlyNet: decimal.NewFromInt(1500)},
	})
	if err != nil {
		t.Fatal(err)
	}

	h.auditPath = filepath.Join(dir, "audit.jsonl")
	audit, err := logger.New(h.auditPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { audit.Close() })

	h.shield = New(Config{
		Doc:     doc,
		Matcher: policy.MustCompile(policy.DefaultPolicy()),
		Channel: h.svc,
		Audit:   audit,
		Intn:    func(int) int { return 0 },
		Now:     h.clock.Now,
	})
	h.shield.Start()
	t.Cleanup(h.shield.Stop)

	if place := doc.GetByID("place"); place != nil {
		place.AddEventListener(page.EventClick, func(*page.Event) { h.clicks++ }, page.ListenerOptions{})
	}
	return h
}

func (h *harness) click(t *testing.T, selector string) {
	t.Helper()
	el := h.doc.First(selector)
	if el == nil {
		t.Fatalf("no element for %s", selector)
	}
	el.Click()
	h.clock.Flush()
}

func (h *harness) state(t *testing.T) *host.State {
	t.Helper()
	resp, err := h.svc.Send(context.Background(), host.Message{Type: host.MsgGetState})
	if err != nil {
		t.Fatal(err)
	}
	return resp.State
}

func TestShield_PlaceOrderReflectAndProceed(t *testing.T) {
	h := newHarness(t, basketPage, "https://shop.test/basket")

	h.click(t, "#place")
	m := h.shield.Machine()
	ep := m.Episode()
	if ep == nil || m.Phase() != decision.AwaitingDecision {
		t.Fatalf("expected an auto-resolved episode, phase %s", m.Phase())
	}
	if !ep.AutoResolved || ep.Amount.StringFixed(2) != "275.00" || ep.Tier != "high" {
		t.Errorf("episode = amount %s tier %s auto %v", ep.Amount, ep.Tier, ep.AutoResolved)
	}
	if !h.shield.Gate().Blocking() {
		t.Error("gate should be blocking while the modal is up")
	}
	if h.clicks != 0 {
		t.Fatal("page handler ran before the decision")
	}

	h.click(t, `button[data-ss-answer="0:want"]`)
	h.click(t, `button[data-ss-answer="1:planned"]`)
	h.click(t, `button[data-ss-answer="2:great"]`)
	if !ep.Unlocked {
		t.Fatal("reflection should unlock proceed")
	}
	h.click(t, `button[data-ss-action="proceed"]`)

	h.clock.Advance(100 * time.Millisecond)
	if h.clicks != 1 {
		t.Errorf("expected one replayed click, got %d", h.clicks)
	}
	h.clock.Advance(500 * time.Millisecond)
	if h.shield.Gate().Proceeding() {
		t.Error("proceeding window should close")
	}

	st := h.state(t)
	if st.Stats.TotalWarnings != 1 || st.Stats.TotalProceeded != 1 {
		t.Errorf("stats = %+v", st.Stats)
	}
	if !st.Session.SessionSpend.Equal(decimal.NewFromInt(275)) {
		t.Errorf("session spend = %s", st.Session.SessionSpend)
	}
	if len(st.History) != 2 || st.History[0].Action != "purchased" || st.History[0].RiskLevel != "high" {
		t.Errorf("history = %+v", st.History)
	}

	events, err := logger.ReadAll(h.auditPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one audit event, got %d", len(events))
	}
	ev := events[0]
	if ev.Verdict != "allow" || ev.Amount != "275.00" || ev.RiskLevel != "high" || ev.Source != SourcePage || len(ev.Answers) != 3 {
		t.Errorf("audit event = %+v", ev)
	}
}

func TestShield_KeepMoneyCountsSaving(t *testing.T) {
	h := newHarness(t, basketPage, "https://shop.test/basket")
	h.click(t, "#place")
	h.click(t, `button[data-ss-action="keep"]`)

	if h.shield.Machine().Episode() != nil || h.shield.Gate().Blocking() {
		t.Fatal("episode should be closed and the gate released")
	}
	h.clock.Advance(time.Second)
	if h.clicks != 0 {
		t.Error("declined click must not reach the page")
	}

	st := h.state(t)
	if st.Stats.TotalBlocked != 1 || !st.Stats.TotalSaved.Equal(decimal.NewFromInt(275)) {
		t.Errorf("stats = %+v", st.Stats)
	}
	events, _ := logger.ReadAll(h.auditPath)
	if len(events) != 1 || events[0].Verdict != "deny" || events[0].Reason != decision.ReasonKeptMoney {
		t.Errorf("audit = %+v", events)
	}
}

func TestShield_SecondEpisodeSeesFirstSpend(t *testing.T) {
	h := newHarness(t, basketPage, "https://shop.test/basket")
	m := h.shield.Machine()

	if err := h.shield.BeginRequest("https://shop.test/api/place-order", nil); err != nil {
		t.Fatal(err)
	}
	for i, a := range []string{"need", "planned", "great"} {
		if err := m.Answer(i, a); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Proceed(); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(time.Second)

	recorded := h.state(t).Session.MonthlySpend
	if !recorded.Equal(decimal.NewFromInt(275)) {
		t.Fatalf("host monthly spend = %s", recorded)
	}

	if err := h.shield.BeginRequest("https://shop.test/api/place-order", nil); err != nil {
		t.Fatal(err)
	}
	bc := m.Episode().Budget
	if !bc.Spent.Equal(recorded) {
		t.Errorf("second episode spent = %s, host has %s", bc.Spent, recorded)
	}
	if !bc.Left.Equal(decimal.NewFromInt(1225)) {
		t.Errorf("second episode left = %s, want 1225", bc.Left)
	}
}

type anyCheckout struct{}

func (anyCheckout) IsCheckoutURL(string) bool { return true }

func TestShield_KeepAfterHoldTimeoutIsNotASaving(t *testing.T) {
	h := newHarness(t, basketPage, "https://shop.test/basket")
	m := h.shield.Machine()

	if err := h.shield.BeginRequest("https://shop.test/api/place-order", nil); err != nil {
		t.Fatal(err)
	}
	g := gate.New(h.shield.Gate(), anyCheckout{}, gate.WithHoldTimeout(10*time.Millisecond))
	out, err := g.Wait(context.Background(), "https://shop.test/api/place-order")
	if out != gate.OutcomeTimeout || err != nil {
		t.Fatalf("Wait = %s, %v; want a timeout release", out, err)
	}

	if err := m.KeepMoney(); err != nil {
		t.Fatal(err)
	}
	if m.Episode() != nil || h.shield.Gate().Blocking() {
		t.Fatal("episode should be closed")
	}

	st := h.state(t)
	if st.Stats.TotalBlocked != 0 || !st.Stats.TotalSaved.IsZero() {
		t.Errorf("released purchase counted as saved: %+v", st.Stats)
	}
	if !st.Session.MonthlySpend.Equal(decimal.NewFromInt(275)) {
		t.Errorf("monthly spend = %s, want 275", st.Session.MonthlySpend)
	}
	events, _ := logger.ReadAll(h.auditPath)
	if len(events) != 1 || events[0].Verdict != "allow" || events[0].Reason != decision.ReasonTimedOut {
		t.Errorf("audit = %+v", events)
	}
}

func TestShield_HostPushes(t *testing.T) {
	h := newHarness(t, basketPage, "https://shop.test/basket")

	h.svc.TogglePanel()
	h.clock.Flush()
	if h.doc.First(`[data-spendshield="panel"]`) == nil {
		t.Error("panel should open on TOGGLE_PANEL")
	}

	h.svc.RequestScan()
	h.clock.Flush()
	ep := h.shield.Machine().Episode()
	if ep == nil || ep.Trigger != "manual" {
		t.Fatalf("MANUAL_SCAN should open an episode, got %+v", ep)
	}
	h.click(t, `button[data-ss-action="keep"]`)

	// Disabling through settings turns interception off.
	_, err := h.svc.Send(context.Background(), host.Message{Type: host.MsgUpdateSettings, Settings: []byte(`{"enabled":false}`)})
	if err != nil {
		t.Fatal(err)
	}
	h.clock.Flush()
	if h.shield.Enabled() {
		t.Fatal("STATE_UPDATED should reload settings")
	}
	h.click(t, "#place")
	if h.shield.Machine().Episode() != nil || h.clicks != 1 {
		t.Errorf("disabled shield must let the click through (clicks=%d)", h.clicks)
	}
}

func TestShield_NavigationAbandons(t *testing.T) {
	h := newHarness(t, basketPage, "https://shop.test/basket")
	h.click(t, "#place")
	if err := h.doc.PushState("/confirm"); err != nil {
		t.Fatal(err)
	}
	h.clock.Flush()
	if h.shield.Machine().Episode() != nil {
		t.Fatal("navigation should abandon the episode")
	}
	events, _ := logger.ReadAll(h.auditPath)
	if len(events) != 1 || events[0].Reason != decision.ReasonNavigated {
		t.Errorf("audit = %+v", events)
	}
	// Not a decline the user chose, so nothing is counted as saved.
	if st := h.state(t); st.Stats.TotalBlocked != 0 {
		t.Errorf("stats = %+v", st.Stats)
	}
}

func TestShield_BeginRequestMinesPayload(t *testing.T) {
	h := newHarness(t, `<html><head><title>api</title></head><body></body></html>`, "https://api.shop.test/")

	err := h.shield.BeginRequest("https://api.shop.test/v1/checkout", []byte(`{"order":{"total":{"amount":"89.00"}}}`))
	if err != nil {
		t.Fatal(err)
	}
	m := h.shield.Machine()
	if m.Phase() != decision.AwaitingPrice {
		t.Fatalf("weak payload price should ask the user, phase %s", m.Phase())
	}
	ep := m.Episode()
	if len(ep.Candidates) != 1 || ep.Candidates[0].Value.StringFixed(2) != "89.00" {
		t.Errorf("candidates = %+v", ep.Candidates)
	}
	if !h.shield.Gate().Blocking() {
		t.Error("gate should block")
	}

	if err := h.shield.BeginRequest("https://api.shop.test/v1/checkout", nil); err == nil {
		t.Error("a second episode must be refused")
	}

	h.click(t, `button[data-ss-price="89.00"]`)
	if m.Phase() != decision.AwaitingDecision || ep.Tier != "medium" {
		t.Errorf("phase %s tier %s", m.Phase(), ep.Tier)
	}
}

func TestAuditEvent(t *testing.T) {
	amount := decimal.RequireFromString("12.5")
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := AuditEvent(&decision.Episode{
		ID:         "ep-1",
		Amount:     &amount,
		Verdict:    decision.VerdictDeny,
		Reason:     decision.ReasonDismissed,
		StartedAt:  start,
		ResolvedAt: start.Add(1500 * time.Millisecond),
	}, SourceCLI, "$")
	if ev.Amount != "12.50" || ev.Currency != "$" || ev.DurationMs != 1500 || ev.RiskLevel != "unknown" {
		t.Errorf("event = %+v", ev)
	}
}
