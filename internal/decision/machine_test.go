package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gzhole/spendshield/internal/detector"
	"github.com/gzhole/spendshield/internal/gate"
	"github.com/gzhole/spendshield/internal/page"
	"github.com/gzhole/spendshield/internal/price"
	"github.com/gzhole/spendshield/internal/risk"
)

type fakeEnv struct {
	enabled bool
	url     string
	cands   []price.Ranked
	basis   risk.Basis
	spent   decimal.Decimal
	profile *risk.Profile
	// rank, when set, replaces cands.
	rank func(ep *Episode) []price.Ranked
}

func (e *fakeEnv) Enabled() bool    { return e.enabled }
func (e *fakeEnv) URL() string      { return e.url }
func (e *fakeEnv) Domain() string   { return "shop.test" }
func (e *fakeEnv) Title() string    { return "Checkout" }
func (e *fakeEnv) Currency() string { return "£" }
func (e *fakeEnv) Candidates(ep *Episode) []price.Ranked {
	if e.rank != nil {
		return e.rank(ep)
	}
	return e.cands
}
func (e *fakeEnv) Basis() risk.Basis      { return e.basis }
func (e *fakeEnv) Spent() decimal.Decimal { return e.spent }
func (e *fakeEnv) Profile() *risk.Profile { return e.profile }

type fakeReporter struct {
	intercepts []Report
	purchases  []Report
}

func (r *fakeReporter) LogIntercept(rep Report) { r.intercepts = append(r.intercepts, rep) }
func (r *fakeReporter) LogPurchase(rep Report)  { r.purchases = append(r.purchases, rep) }

type recPresenter struct {
	calls  []string
	toasts []string
}

func (p *recPresenter) ShowPicker(*Episode)   { p.calls = append(p.calls, "picker") }
func (p *recPresenter) ShowDecision(*Episode) { p.calls = append(p.calls, "decision") }
func (p *recPresenter) Unlock(*Episode)       { p.calls = append(p.calls, "unlock") }
func (p *recPresenter) Hide(*Episode)         { p.calls = append(p.calls, "hide") }
func (p *recPresenter) Toast(msg string)      { p.toasts = append(p.toasts, msg) }

type fixture struct {
	clock    *page.ManualClock
	state    *gate.State
	env      *fakeEnv
	reporter *fakeReporter
	pres     *recPresenter
	resolved []*Episode
	m        *Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock: page.NewManualClock(time.Unix(1700000000, 0)),
		state: gate.NewState(),
		env: &fakeEnv{
			enabled: true,
			url:     "https://shop.test/checkout",
			basis:   risk.Resolve(risk.DefaultThresholds(), decimal.NewFromInt(500), nil),
		},
		reporter: &fakeReporter{},
		pres:     &recPresenter{},
	}
	f.m = New(Config{
		Scheduler:  f.clock,
		Gate:       f.state,
		Env:        f.env,
		Reporter:   f.reporter,
		Presenter:  f.pres,
		Now:        f.clock.Now,
		Intn:       func(int) int { return 0 },
		OnResolved: func(ep *Episode) { f.resolved = append(f.resolved, ep) },
	})
	return f
}

func ranked(vals ...string) []price.Ranked {
	var out []price.Ranked
	for _, v := range vals {
		out = append(out, price.Ranked{Value: decimal.RequireFromString(v), Source: price.SourceGeneric, Confidence: price.Medium})
	}
	return out
}

func strong(v string) price.Ranked {
	return price.Ranked{Value: decimal.RequireFromString(v), Source: price.SourceMetaTag, Confidence: price.Strong}
}

func (f *fixture) begin(t *testing.T, trig detector.Trigger) {
	t.Helper()
	if err := f.m.Begin(detector.NewCapture(trig, f.env.url)); err != nil {
		t.Fatalf("Begin: %v", err)
	}
}

func TestBegin_ReportsAndBlocks(t *testing.T) {
	f := newFixture(t)
	f.env.cands = ranked("49.99", "12")
	f.begin(t, detector.TriggerClick)

	if !f.state.Blocking() {
		t.Error("gate should block as soon as the episode opens")
	}
	if len(f.reporter.intercepts) != 1 {
		t.Fatalf("expected one intercept report, got %d", len(f.reporter.intercepts))
	}
	rep := f.reporter.intercepts[0]
	if rep.Amount != nil || rep.RiskLevel != "unknown" || rep.Domain != "shop.test" || rep.PageTitle != "Checkout" {
		t.Errorf("unexpected intercept report %+v", rep)
	}
	if f.m.Phase() != AwaitingPrice || f.pres.calls[0] != "picker" {
		t.Errorf("phase %s, calls %v", f.m.Phase(), f.pres.calls)
	}
	if f.m.Episode().ID == "" {
		t.Error("episode id missing")
	}
}

func TestBegin_SingleEpisode(t *testing.T) {
	f := newFixture(t)
	f.begin(t, detector.TriggerManual)

	for _, trig := range []detector.Trigger{detector.TriggerClick, detector.TriggerFocus, detector.TriggerRequest} {
		if err := f.m.Begin(detector.NewCapture(trig, f.env.url)); !errors.Is(err, ErrNotAllowed) {
			t.Errorf("%s while open: %v", trig, err)
		}
	}
	if len(f.reporter.intercepts) != 1 {
		t.Errorf("second episode leaked a report")
	}
}

func TestCanIntercept_ShownGuard(t *testing.T) {
	f := newFixture(t)
	f.env.cands = ranked("10")
	f.begin(t, detector.TriggerClick)
	if err := f.m.KeepMoney(); err != nil {
		t.Fatal(err)
	}

	if f.m.CanIntercept(detector.TriggerClick) || f.m.CanIntercept(detector.TriggerSubmit) {
		t.Error("clicks on the same page state must not reopen the flow")
	}
	if !f.m.CanIntercept(detector.TriggerFocus) || !f.m.CanIntercept(detector.TriggerRequest) {
		t.Error("focus and request triggers ignore the shown guard")
	}
	f.env.url = "https://shop.test/checkout/step-2"
	if !f.m.CanIntercept(detector.TriggerClick) {
		t.Error("a new page state allows interception again")
	}
	f.env.url = "https://shop.test/checkout"
	f.m.ResetShown()
	if !f.m.CanIntercept(detector.TriggerClick) {
		t.Error("ResetShown should clear the guard")
	}

	f.env.enabled = false
	if f.m.CanIntercept(detector.TriggerManual) {
		t.Error("disabled shield intercepts nothing")
	}
}

func TestPicker_ManualEntry(t *testing.T) {
	f := newFixture(t)
	f.env.cands = []price.Ranked{strong("120"), strong("125")}
	f.begin(t, detector.TriggerClick)
	if f.m.Phase() != AwaitingPrice {
		t.Fatal("two strong amounts must prompt")
	}

	for _, bad := range []string{"", "abc", "0", "-5"} {
		if err := f.m.EnterPrice(bad); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("EnterPrice(%q) = %v", bad, err)
		}
	}
	if err := f.m.EnterPrice(" £1,049.99 "); err != nil {
		t.Fatal(err)
	}
	ep := f.m.Episode()
	if !ep.Amount.Equal(decimal.RequireFromString("1049.99")) || ep.Tier != risk.Critical || ep.Label != "DANGER" {
		t.Errorf("unexpected episode %+v", ep)
	}
	if ep.Message != "Just a heads up, £1049.99 is a big one." {
		t.Errorf("message = %q", ep.Message)
	}
	if ep.AutoResolved {
		t.Error("manual entry is not auto-resolved")
	}
	if err := f.m.SkipPrice(); !errors.Is(err, ErrWrongPhase) {
		t.Errorf("SkipPrice after choosing = %v", err)
	}
}

func TestPicker_SelectAndSkip(t *testing.T) {
	f := newFixture(t)
	f.env.cands = ranked("20", "30")
	f.begin(t, detector.TriggerClick)
	if err := f.m.SelectPrice(decimal.NewFromInt(20)); err != nil {
		t.Fatal(err)
	}
	if f.m.Episode().Tier != risk.Medium {
		t.Errorf("tier = %s", f.m.Episode().Tier)
	}
	f.m.KeepMoney()

	f.begin(t, detector.TriggerManual)
	if err := f.m.SkipPrice(); err != nil {
		t.Fatal(err)
	}
	ep := f.m.Episode()
	if ep.Amount != nil || ep.Tier != risk.Low {
		t.Errorf("skipped price should be nil/low, got %v/%s", ep.Amount, ep.Tier)
	}
	if !f.m.DismissBackdrop() {
		t.Fatal("backdrop should dismiss a low-risk decision")
	}
	if snap := f.state.Snapshot(); snap.Decision == nil || *snap.Decision {
		t.Error("backdrop dismissal is a decline")
	}
	last := f.resolved[len(f.resolved)-1]
	if last.Verdict != VerdictDeny || last.Reason != ReasonDismissed {
		t.Errorf("unexpected resolution %+v", last)
	}
}

func TestDismissBackdrop_IgnoredAboveLow(t *testing.T) {
	f := newFixture(t)
	f.env.cands = []price.Ranked{strong("80")}
	f.begin(t, detector.TriggerClick)
	if f.m.Episode().Tier != risk.High {
		t.Fatalf("tier = %s", f.m.Episode().Tier)
	}
	if f.m.DismissBackdrop() {
		t.Error("backdrop must not close a high-risk decision")
	}
	if !f.state.Blocking() {
		t.Error("gate released")
	}
}

func TestReflection(t *testing.T) {
	f := newFixture(t)
	f.env.cands = []price.Ranked{strong("80")}
	f.begin(t, detector.TriggerClick)

	if err := f.m.Proceed(); !errors.Is(err, ErrLocked) {
		t.Errorf("Proceed before reflection = %v", err)
	}
	if err := f.m.Answer(1, "planned"); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("skipping a question = %v", err)
	}
	if err := f.m.Answer(0, "maybe"); !errors.Is(err, ErrInvalidAnswer) {
		t.Errorf("bad answer = %v", err)
	}
	for i, a := range []string{"want", "spontaneous", "regret"} {
		if err := f.m.Answer(i, a); err != nil {
			t.Fatalf("Answer(%d): %v", i, err)
		}
	}
	if !f.m.Episode().Unlocked || f.pres.calls[len(f.pres.calls)-1] != "unlock" {
		t.Error("completing reflection should unlock proceed")
	}
	if err := f.m.Answer(3, "great"); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("extra answer = %v", err)
	}
}

func TestCooldown(t *testing.T) {
	f := newFixture(t)
	f.env.cands = []price.Ranked{strong("80")}
	f.begin(t, detector.TriggerClick)

	if err := f.m.StartCooldown(); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(DefaultCooldown - time.Second)
	if f.m.Episode().Unlocked {
		t.Fatal("unlocked before the cooldown ended")
	}
	f.clock.Advance(time.Second)
	if !f.m.Episode().Unlocked || !f.m.Episode().Cooldown {
		t.Fatal("cooldown should unlock proceed")
	}
	if err := f.m.Proceed(); err != nil {
		t.Fatal(err)
	}

}

func TestCooldown_CannotBeCutShort(t *testing.T) {
	f := newFixture(t)
	f.env.cands = []price.Ranked{strong("80")}
	f.begin(t, detector.TriggerClick)

	if err := f.m.StartCooldown(); err != nil {
		t.Fatal(err)
	}
	// Starting it again does not restart or finish it.
	if err := f.m.StartCooldown(); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(DefaultCooldown / 2)
	if err := f.m.Proceed(); !errors.Is(err, ErrLocked) {
		t.Fatalf("Proceed mid-cooldown = %v, want ErrLocked", err)
	}
	if f.m.Episode().Unlocked {
		t.Fatal("unlocked halfway through the cooldown")
	}
	f.clock.Advance(DefaultCooldown / 2)
	if err := f.m.Proceed(); err != nil {
		t.Errorf("Proceed after cooldown: %v", err)
	}
}

func TestCooldown_CancelledOnDecline(t *testing.T) {
	f := newFixture(t)
	f.env.cands = []price.Ranked{strong("80")}
	f.begin(t, detector.TriggerClick)
	f.m.StartCooldown()
	f.m.KeepMoney()
	if n := f.clock.Pending(); n != 0 {
		t.Errorf("%d timers left after decline", n)
	}
}

func TestKeepMoney(t *testing.T) {
	f := newFixture(t)
	f.env.cands = ranked("20", "30")
	f.begin(t, detector.TriggerClick)
	c := f.m.Episode().Capture

	if err := f.m.KeepMoney(); err != nil {
		t.Fatal(err)
	}
	if f.m.Episode() != nil || f.m.Phase() != Resolved {
		t.Error("episode should be closed")
	}
	if !c.Released() {
		t.Error("suppressions must be released on decline")
	}
	if len(f.pres.toasts) != 1 || f.pres.toasts[0] != "Money saved" {
		t.Errorf("toasts = %v", f.pres.toasts)
	}
	if len(f.reporter.purchases) != 0 {
		t.Error("decline must not log a purchase")
	}
	if err := f.m.KeepMoney(); !errors.Is(err, ErrNoEpisode) {
		t.Errorf("second KeepMoney = %v", err)
	}
}

func TestAbandon_FailsHeldCalls(t *testing.T) {
	f := newFixture(t)
	g := gate.New(f.state, checkoutURLs{})
	f.env.cands = ranked("20", "30")
	f.begin(t, detector.TriggerClick)

	errc := make(chan error, 1)
	go func() {
		_, err := g.Wait(t.Context(), "https://shop.test/api/checkout")
		errc <- err
	}()
	// The hold was created by Begin, so the waiter sees it whenever it
	// gets scheduled.
	if !f.m.Abandon(ReasonNavigated) {
		t.Fatal("Abandon should close the episode")
	}
	if err := <-errc; !errors.Is(err, gate.ErrPurchaseBlocked) && err != nil {
		t.Errorf("held call after navigation = %v", err)
	}
	if got := f.resolved[0].Reason; got != ReasonNavigated {
		t.Errorf("reason = %s", got)
	}
	if f.m.Abandon(ReasonNavigated) {
		t.Error("nothing left to abandon")
	}
}

type checkoutURLs struct{}

func (checkoutURLs) IsCheckoutURL(string) bool { return true }

func TestManualScan_Throttled(t *testing.T) {
	f := newFixture(t)
	f.env.cands = ranked("20", "30")
	if err := f.m.ManualScan(); err != nil {
		t.Fatal(err)
	}
	if f.m.Episode().Trigger != detector.TriggerManual {
		t.Error("manual scan opens a manual episode")
	}
	f.m.KeepMoney()

	if err := f.m.ManualScan(); !errors.Is(err, ErrScanInProgress) {
		t.Errorf("ManualScan within throttle = %v", err)
	}
	f.clock.Advance(DefaultScanThrottle)
	if err := f.m.ManualScan(); err != nil {
		t.Errorf("ManualScan after throttle = %v", err)
	}
}

func TestImpactAndBudgetAttached(t *testing.T) {
	f := newFixture(t)
	net := decimal.NewFromInt(1500)
	f.env.basis = risk.Resolve(risk.DefaultThresholds(), decimal.NewFromInt(500), &net)
	f.env.spent = decimal.NewFromInt(1000)
	f.env.profile = &risk.Profile{Score: 70, MonthlyNet: net, Goals: []risk.Goal{{Name: "trip", Target: decimal.NewFromInt(3000)}}}
	f.env.cands = []price.Ranked{strong("275")}
	f.begin(t, detector.TriggerClick)

	ep := f.m.Episode()
	if !ep.Budget.Left.Equal(decimal.NewFromInt(500)) || !ep.Budget.After.Equal(decimal.NewFromInt(225)) {
		t.Errorf("budget = %+v", ep.Budget)
	}
	if ep.Impact == nil || len(ep.Impact.Goals) != 1 || ep.Impact.Goals[0].BaseMonths != 2 {
		t.Errorf("impact = %+v", ep.Impact)
	}
}

type anyCheckout struct{}

func (anyCheckout) IsCheckoutURL(string) bool { return true }

func TestKeepMoney_AfterHoldTimeoutRecordsPurchase(t *testing.T) {
	f := newFixture(t)
	f.env.cands = []price.Ranked{strong("275")}
	f.begin(t, detector.TriggerRequest)

	g := gate.New(f.state, anyCheckout{}, gate.WithHoldTimeout(10*time.Millisecond))
	if out, err := g.Wait(context.Background(), "https://shop.test/api/order"); out != gate.OutcomeTimeout || err != nil {
		t.Fatalf("Wait = %s, %v", out, err)
	}
	if !f.state.TimedOut() {
		t.Fatal("state should remember the timeout release")
	}

	if err := f.m.KeepMoney(); err != nil {
		t.Fatal(err)
	}
	if len(f.resolved) != 1 {
		t.Fatalf("resolved %d episodes", len(f.resolved))
	}
	ep := f.resolved[0]
	if ep.Verdict != VerdictAllow || ep.Reason != ReasonTimedOut {
		t.Errorf("verdict = %s/%s, want allow/timeout", ep.Verdict, ep.Reason)
	}
	if len(f.reporter.purchases) != 1 || !f.reporter.purchases[0].Amount.Equal(decimal.NewFromInt(275)) {
		t.Errorf("purchases = %+v", f.reporter.purchases)
	}
	if f.pres.toasts[len(f.pres.toasts)-1] == "Money saved" {
		t.Error("a released purchase must not be reported as saved")
	}
	if snap := f.state.Snapshot(); snap.Blocking || snap.Decision == nil || !*snap.Decision {
		t.Errorf("gate snapshot = %+v", snap)
	}
	if f.state.TimedOut() {
		t.Error("flag should clear with the hold")
	}
}
