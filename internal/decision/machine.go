package decision

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/gzhole/spendshield/internal/detector"
	"github.com/gzhole/spendshield/internal/gate"
	"github.com/gzhole/spendshield/internal/page"
	"github.com/gzhole/spendshield/internal/price"
	"github.com/gzhole/spendshield/internal/risk"
)

var (
	ErrNotAllowed     = errors.New("interception not allowed now")
	ErrNoEpisode      = errors.New("no open episode")
	ErrWrongPhase     = errors.New("operation not valid in this phase")
	ErrInvalidAmount  = errors.New("amount must be a number greater than zero")
	ErrInvalidAnswer  = errors.New("unknown answer")
	ErrOutOfOrder     = errors.New("questions must be answered in order")
	ErrLocked         = errors.New("proceed is locked until reflection or cooldown completes")
	ErrScanInProgress = errors.New("a scan is already in progress")
	errNilCapture     = errors.New("nil capture")
)

const (
	DefaultCooldown      = 30 * time.Second
	DefaultReplayDelay   = 100 * time.Millisecond
	DefaultProceedWindow = 500 * time.Millisecond
	DefaultScanThrottle  = 900 * time.Millisecond
)

// Config wires a Machine. Scheduler, Gate and Env are required.
type Config struct {
	Scheduler page.Scheduler
	Gate      *gate.State
	Env       Env
	Reporter  Reporter
	Presenter Presenter
	Logger    *zap.Logger

	Cooldown      time.Duration
	ReplayDelay   time.Duration
	ProceedWindow time.Duration
	ScanThrottle  time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
	// Intn picks nudge messages; nil uses math/rand.
	Intn func(n int) int
	// OnResolved runs after every resolved episode.
	OnResolved func(ep *Episode)
}

// Machine owns the GateState and at most one open episode. All methods
// must run on the scheduler's goroutine.
type Machine struct {
	cfg   Config
	log   *zap.Logger
	phase Phase
	ep    *Episode

	shownFor     string
	scanning     bool
	stopCooldown func() bool
}

func New(cfg Config) *Machine {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.ReplayDelay <= 0 {
		cfg.ReplayDelay = DefaultReplayDelay
	}
	if cfg.ProceedWindow <= 0 {
		cfg.ProceedWindow = DefaultProceedWindow
	}
	if cfg.ScanThrottle <= 0 {
		cfg.ScanThrottle = DefaultScanThrottle
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Presenter == nil {
		cfg.Presenter = NopPresenter{}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Machine{cfg: cfg, log: log}
}

func (m *Machine) Phase() Phase { return m.phase }

// Episode returns the open episode, or nil.
func (m *Machine) Episode() *Episode { return m.ep }

// CanIntercept is the single-episode guard. Clicks and submits are
// intercepted once per page state; focus, manual and request triggers
// only need the machine to be free.
func (m *Machine) CanIntercept(t detector.Trigger) bool {
	if !m.cfg.Env.Enabled() || m.ep != nil || m.cfg.Gate.Proceeding() {
		return false
	}
	switch t {
	case detector.TriggerFocus, detector.TriggerManual, detector.TriggerRequest:
		return true
	case detector.TriggerClick, detector.TriggerSubmit:
		return m.shownFor != m.cfg.Env.URL()
	}
	return false
}

// Capture hands a detector capture to Begin. A refused capture has its
// suppressions released straight away.
func (m *Machine) Capture(c *detector.Capture) {
	if err := m.Begin(c); err != nil {
		m.log.Debug("capture refused", zap.String("trigger", string(c.Trigger)), zap.Error(err))
		c.Release()
	}
}

// Begin opens an episode for c and blocks the gate before returning.
func (m *Machine) Begin(c *detector.Capture) error {
	if c == nil {
		return errNilCapture
	}
	if !m.CanIntercept(c.Trigger) {
		return ErrNotAllowed
	}
	if err := m.cfg.Gate.Block(); err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	env := m.cfg.Env
	ep := &Episode{
		ID:        uuid.NewString(),
		URL:       env.URL(),
		Domain:    env.Domain(),
		PageTitle: env.Title(),
		Trigger:   c.Trigger,
		Capture:   c,
		Verdict:   VerdictPending,
		StartedAt: m.cfg.Now(),
	}
	m.ep = ep
	m.shownFor = ep.URL
	m.log.Info("purchase intercepted",
		zap.String("episode", ep.ID),
		zap.String("trigger", string(ep.Trigger)),
		zap.String("domain", ep.Domain))

	if m.cfg.Reporter != nil {
		m.cfg.Reporter.LogIntercept(Report{RiskLevel: "unknown", Domain: ep.Domain, PageTitle: ep.PageTitle})
	}

	ep.Candidates = env.Candidates(ep)
	if v, ok := price.AutoResolve(ep.Candidates); ok {
		m.decide(&v, true)
		return nil
	}
	m.phase = AwaitingPrice
	m.cfg.Presenter.ShowPicker(ep)
	return nil
}

// SelectPrice picks one of the offered amounts.
func (m *Machine) SelectPrice(v decimal.Decimal) error {
	if err := m.expect(AwaitingPrice); err != nil {
		return err
	}
	if !v.IsPositive() {
		return ErrInvalidAmount
	}
	m.decide(&v, false)
	return nil
}

var manualStrip = regexp.MustCompile(`[£$€,\s]`)

// EnterPrice accepts a typed amount such as "£49.99".
func (m *Machine) EnterPrice(raw string) error {
	if err := m.expect(AwaitingPrice); err != nil {
		return err
	}
	v, err := decimal.NewFromString(manualStrip.ReplaceAllString(strings.TrimSpace(raw), ""))
	if err != nil || !v.IsPositive() {
		return ErrInvalidAmount
	}
	m.decide(&v, false)
	return nil
}

// SkipPrice continues without an amount; the tier is low.
func (m *Machine) SkipPrice() error {
	if err := m.expect(AwaitingPrice); err != nil {
		return err
	}
	m.decide(nil, false)
	return nil
}

func (m *Machine) decide(amount *decimal.Decimal, auto bool) {
	ep := m.ep
	env := m.cfg.Env
	basis := env.Basis()

	ep.Amount = amount
	ep.AutoResolved = auto
	ep.Tier = basis.Classify(amount)
	ep.Label = ep.Tier.Label()
	ep.Message = risk.Messenger{Currency: env.Currency(), Intn: m.cfg.Intn}.Message(amount, ep.Tier)
	ep.Budget = risk.NewBudgetContext(basis.Budget, env.Spent(), amount)
	ep.Impact = risk.ProjectImpact(amount, env.Profile())

	m.phase = AwaitingDecision
	m.log.Debug("episode classified",
		zap.String("episode", ep.ID),
		zap.String("tier", string(ep.Tier)),
		zap.Bool("auto", auto))
	m.cfg.Presenter.ShowDecision(ep)
}

// Answer records the answer to question step. Completing the last
// question unlocks proceed.
func (m *Machine) Answer(step int, value string) error {
	if err := m.expect(AwaitingDecision); err != nil {
		return err
	}
	ep := m.ep
	if step != len(ep.Answers) || step >= len(Questions) {
		return ErrOutOfOrder
	}
	if !validAnswer(step, value) {
		return fmt.Errorf("%w %q for question %d", ErrInvalidAnswer, value, step)
	}
	ep.Answers = append(ep.Answers, value)
	if len(ep.Answers) == len(Questions) {
		m.unlock()
	}
	return nil
}

// StartCooldown unlocks proceed once the cooldown has elapsed. There is no
// way to end it early.
func (m *Machine) StartCooldown() error {
	if err := m.expect(AwaitingDecision); err != nil {
		return err
	}
	ep := m.ep
	if ep.Cooldown || ep.Unlocked {
		return nil
	}
	ep.Cooldown = true
	m.stopCooldown = m.cfg.Scheduler.AfterFunc(m.cfg.Cooldown, func() {
		m.stopCooldown = nil
		if m.ep == ep && !ep.Unlocked {
			m.unlock()
		}
	})
	return nil
}

func (m *Machine) unlock() {
	m.ep.Unlocked = true
	m.cancelCooldown()
	m.cfg.Presenter.Unlock(m.ep)
}

// Proceed lets the purchase through: held calls are released and the
// captured action is replayed once.
func (m *Machine) Proceed() error {
	if err := m.expect(AwaitingDecision); err != nil {
		return err
	}
	ep := m.ep
	if !ep.Unlocked {
		return ErrLocked
	}
	if m.cfg.Reporter != nil {
		m.cfg.Reporter.LogPurchase(Report{Amount: ep.Amount, RiskLevel: string(ep.Tier), Domain: ep.Domain, PageTitle: ep.PageTitle})
	}

	g := m.cfg.Gate
	g.SetProceeding(true)
	g.Resolve(true)
	ep.Verdict = VerdictAllow
	ep.Reason = ReasonProceeded

	logged := decimal.Zero
	if ep.Amount != nil {
		logged = *ep.Amount
	}
	cur := m.cfg.Env.Currency()
	m.teardown()
	m.cfg.Presenter.Toast(fmt.Sprintf("%s%s logged", cur, logged.StringFixed(2)))

	c := ep.Capture
	sched := m.cfg.Scheduler
	sched.AfterFunc(m.cfg.ReplayDelay, func() {
		if c.Replay() {
			m.log.Debug("action replayed", zap.String("episode", ep.ID))
		}
		sched.AfterFunc(m.cfg.ProceedWindow, func() { g.SetProceeding(false) })
	})
	return nil
}

// KeepMoney declines the purchase. It is available as soon as an episode
// is open.
func (m *Machine) KeepMoney() error {
	if m.ep == nil {
		return ErrNoEpisode
	}
	if m.deny(ReasonKeptMoney) {
		m.cfg.Presenter.Toast("Money saved")
	} else {
		m.cfg.Presenter.Toast("Too late: the checkout request already went through")
	}
	return nil
}

// DismissBackdrop declines low-risk purchases and is ignored otherwise.
// It reports whether the episode was closed.
func (m *Machine) DismissBackdrop() bool {
	if m.ep == nil || m.phase != AwaitingDecision || m.ep.Tier != risk.Low {
		return false
	}
	m.deny(ReasonDismissed)
	return true
}

// Abandon closes an open episode as declined, for example when the page
// navigates away. Held calls fail as they would on a decline.
func (m *Machine) Abandon(reason string) bool {
	if m.ep == nil {
		return false
	}
	m.deny(reason)
	return true
}

// ResetShown allows clicks on the current page state to be intercepted
// again.
func (m *Machine) ResetShown() { m.shownFor = "" }

// ManualScan opens an episode on request, unless one was requested less
// than the scan throttle ago.
func (m *Machine) ManualScan() error {
	if m.scanning {
		return ErrScanInProgress
	}
	m.scanning = true
	m.shownFor = ""
	m.cfg.Scheduler.AfterFunc(m.cfg.ScanThrottle, func() { m.scanning = false })
	return m.Begin(detector.NewCapture(detector.TriggerManual, m.cfg.Env.URL()))
}

// deny closes the episode as declined and reports true. If the gate has
// already let a held call through on the hold timeout, the purchase is
// recorded as allowed instead and deny reports false.
func (m *Machine) deny(reason string) bool {
	ep := m.ep
	g := m.cfg.Gate
	if g.TimedOut() {
		if m.cfg.Reporter != nil {
			m.cfg.Reporter.LogPurchase(Report{Amount: ep.Amount, RiskLevel: string(ep.Tier), Domain: ep.Domain, PageTitle: ep.PageTitle})
		}
		g.Resolve(true)
		ep.Verdict = VerdictAllow
		ep.Reason = ReasonTimedOut
		m.log.Warn("held checkout call went out on timeout, recording purchase",
			zap.String("episode", ep.ID),
			zap.String("requested", reason))
		m.teardown()
		return false
	}
	g.Resolve(false)
	ep.Verdict = VerdictDeny
	ep.Reason = reason
	m.log.Info("purchase declined", zap.String("episode", ep.ID), zap.String("reason", reason))
	m.teardown()
	return true
}

// teardown always runs, whatever the verdict.
func (m *Machine) teardown() {
	ep := m.ep
	ep.ResolvedAt = m.cfg.Now()
	m.cancelCooldown()
	ep.Capture.Release()
	m.ep = nil
	m.phase = Resolved
	m.cfg.Presenter.Hide(ep)
	if m.cfg.OnResolved != nil {
		m.cfg.OnResolved(ep)
	}
}

func (m *Machine) cancelCooldown() {
	if m.stopCooldown != nil {
		m.stopCooldown()
		m.stopCooldown = nil
	}
}

func (m *Machine) expect(p Phase) error {
	if m.ep == nil {
		return ErrNoEpisode
	}
	if m.phase != p {
		return fmt.Errorf("%w: %s", ErrWrongPhase, m.phase)
	}
	return nil
}
