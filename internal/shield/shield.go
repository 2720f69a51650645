// Package shield runs the purchase interception engine on one page.
package shield

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/gzhole/spendshield/internal/config"
	"github.com/gzhole/spendshield/internal/decision"
	"github.com/gzhole/spendshield/internal/detector"
	"github.com/gzhole/spendshield/internal/gate"
	"github.com/gzhole/spendshield/internal/host"
	"github.com/gzhole/spendshield/internal/jsonv"
	"github.com/gzhole/spendshield/internal/logger"
	"github.com/gzhole/spendshield/internal/normalize"
	"github.com/gzhole/spendshield/internal/overlay"
	"github.com/gzhole/spendshield/internal/page"
	"github.com/gzhole/spendshield/internal/policy"
	"github.com/gzhole/spendshield/internal/price"
	"github.com/gzhole/spendshield/internal/risk"
)

// Audit sources.
const (
	SourcePage    = "page"
	SourceProxy   = "proxy"
	SourceBrowser = "browser"
	SourceCLI     = "cli"
)

const stateTimeout = 5 * time.Second

// AuditSink receives one event per resolved episode.
type AuditSink interface {
	Log(event logger.AuditEvent) error
}

// Binder is implemented by presenters that forward user input.
type Binder interface {
	Bind(c decision.Controls)
}

// PanelToggler is implemented by presenters with a stats panel.
type PanelToggler interface {
	TogglePanel(d overlay.PanelData) bool
}

type subscriber interface {
	Subscribe(fn func(host.Push)) (unsubscribe func())
}

// Config wires a Shield. Doc, Matcher and Channel are required.
type Config struct {
	Doc     *page.Document
	Matcher *policy.Matcher
	Channel host.Channel

	// Gate defaults to a fresh state.
	Gate *gate.State
	// Presenter defaults to the in-page overlay.
	Presenter decision.Presenter
	// Extractor defaults to the standard strategies over Matcher.
	Extractor *price.Extractor
	Audit     AuditSink
	Source    string
	Logger    *zap.Logger

	Cooldown time.Duration
	Detector detector.Options
	Intn     func(n int) int
	Now      func() time.Time
}

// Shield owns the detector, the decision machine and the presenter for a
// document, and keeps a cached copy of the host state. Apart from
// HandlePush and Gate, methods must run on the document's scheduler.
type Shield struct {
	cfg       Config
	doc       *page.Document
	gate      *gate.State
	extractor *price.Extractor
	presenter decision.Presenter
	reporter  *host.Reporter
	machine   *decision.Machine
	detector  *detector.Detector
	log       *zap.Logger

	state host.State
	unsub func()
}

func New(cfg Config) *Shield {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Source == "" {
		cfg.Source = SourcePage
	}
	s := &Shield{
		cfg:       cfg,
		doc:       cfg.Doc,
		gate:      cfg.Gate,
		extractor: cfg.Extractor,
		presenter: cfg.Presenter,
		reporter:  &host.Reporter{Channel: cfg.Channel, Log: log},
		log:       log,
		state:     host.State{Settings: config.DefaultSettings()},
	}
	if s.gate == nil {
		s.gate = gate.NewState()
	}
	if s.extractor == nil {
		s.extractor = price.NewExtractor(cfg.Matcher, price.WithLogger(log))
	}
	if s.presenter == nil {
		s.presenter = overlay.New(cfg.Doc, overlay.Options{Currency: s.Currency, Logger: log})
	}

	s.machine = decision.New(decision.Config{
		Scheduler:  cfg.Doc.Scheduler(),
		Gate:       s.gate,
		Env:        s,
		Reporter:   s.reporter,
		Presenter:  s.presenter,
		Logger:     log,
		Cooldown:   cfg.Cooldown,
		Now:        cfg.Now,
		Intn:       cfg.Intn,
		OnResolved: s.onResolved,
	})
	if b, ok := s.presenter.(Binder); ok {
		b.Bind(s.machine)
	}

	dopts := cfg.Detector
	dopts.Logger = log
	dopts.OnNavigate = s.onNavigate
	dopts.OnRescan = s.Reload
	s.detector = detector.New(cfg.Doc, cfg.Matcher, s.machine, dopts)
	return s
}

// Start loads host state, subscribes to host pushes and starts watching the
// page.
func (s *Shield) Start() {
	s.Reload()
	if sub, ok := s.cfg.Channel.(subscriber); ok {
		s.unsub = sub.Subscribe(s.HandlePush)
	}
	s.detector.Start()
	s.log.Debug("shield started", zap.String("url", s.doc.URL()))
}

// Stop detaches from the page. An open episode is declined.
func (s *Shield) Stop() {
	s.detector.Stop()
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	s.machine.Abandon(decision.ReasonShutdown)
}

func (s *Shield) Machine() *decision.Machine { return s.machine }
func (s *Shield) Gate() *gate.State          { return s.gate }
func (s *Shield) Detector() *detector.Detector {
	return s.detector
}

// State is the cached host state.
func (s *Shield) State() host.State { return s.state }

// Reload refreshes the cached host state. Failures keep the old state.
func (s *Shield) Reload() {
	ctx, cancel := context.WithTimeout(context.Background(), stateTimeout)
	defer cancel()
	resp := host.SafeSend(ctx, s.cfg.Channel, host.Message{Type: host.MsgGetState}, s.log)
	if resp == nil || resp.State == nil {
		return
	}
	s.state = *resp.State
}

// HandlePush is safe to call from any goroutine; the push is handled on
// the page scheduler.
func (s *Shield) HandlePush(p host.Push) {
	page.Post(s.doc.Scheduler(), func() { s.handlePush(p) })
}

func (s *Shield) handlePush(p host.Push) {
	switch p.Type {
	case host.PushManualScan:
		if err := s.machine.ManualScan(); err != nil {
			s.log.Debug("manual scan refused", zap.Error(err))
		}
	case host.PushStateUpdated:
		s.Reload()
	case host.PushTogglePanel:
		if t, ok := s.presenter.(PanelToggler); ok {
			t.TogglePanel(s.panelData())
		}
	}
}

// BeginRequest opens a request-triggered episode for a checkout-shaped
// call. A JSON body is mined for embedded prices.
func (s *Shield) BeginRequest(url string, body []byte) error {
	c := detector.NewCapture(detector.TriggerRequest, url)
	if len(body) > 0 {
		if v, err := jsonv.Parse(body); err == nil {
			c.Payloads = append(c.Payloads, v)
		}
	}
	if err := s.machine.Begin(c); err != nil {
		c.Release()
		return err
	}
	return nil
}

func (s *Shield) onNavigate(oldURL, newURL string) {
	if s.machine.Abandon(decision.ReasonNavigated) {
		s.log.Info("episode abandoned on navigation", zap.String("from", oldURL), zap.String("to", newURL))
	}
	s.machine.ResetShown()
}

// onResolved reports the verdict, then reloads host state so the next
// episode sees this one's spend.
func (s *Shield) onResolved(ep *decision.Episode) {
	if ep.Verdict == decision.VerdictDeny && (ep.Reason == decision.ReasonKeptMoney || ep.Reason == decision.ReasonDismissed) {
		s.reporter.LogDeclined(decision.Report{Amount: ep.Amount, RiskLevel: string(ep.Tier), Domain: ep.Domain, PageTitle: ep.PageTitle})
	}
	if s.cfg.Audit != nil {
		if err := s.cfg.Audit.Log(AuditEvent(ep, s.cfg.Source, s.Currency())); err != nil {
			s.log.Warn("audit log write failed", zap.Error(err))
		}
	}
	s.Reload()
}

// AuditEvent converts a resolved episode to an audit record.
func AuditEvent(ep *decision.Episode, source, currency string) logger.AuditEvent {
	ev := logger.AuditEvent{
		Timestamp:    ep.ResolvedAt.UTC().Format(time.RFC3339),
		EpisodeID:    ep.ID,
		Source:       source,
		URL:          ep.URL,
		Domain:       ep.Domain,
		PageTitle:    ep.PageTitle,
		Trigger:      string(ep.Trigger),
		AutoResolved: ep.AutoResolved,
		Candidates:   len(ep.Candidates),
		RiskLevel:    string(ep.Tier),
		Verdict:      string(ep.Verdict),
		Reason:       ep.Reason,
		Answers:      ep.Answers,
		Cooldown:     ep.Cooldown,
		DurationMs:   ep.ResolvedAt.Sub(ep.StartedAt).Milliseconds(),
	}
	if ep.Amount != nil {
		ev.Amount = ep.Amount.StringFixed(2)
		ev.Currency = currency
	}
	if ev.RiskLevel == "" {
		ev.RiskLevel = "unknown"
	}
	return ev
}

func (s *Shield) panelData() overlay.PanelData {
	st := s.state
	return overlay.PanelData{
		Currency:     st.Settings.Currency,
		Enabled:      st.Settings.Enabled,
		MonthlySpend: st.Session.MonthlySpend,
		Budget:       s.Basis().Budget,
		Intercepts:   st.Session.InterceptCount,
		Proceeded:    st.Session.ProceededCount,
		Saved:        st.Stats.TotalSaved,
		Streak:       st.Streak.Current,
		BestStreak:   st.Streak.Best,
		StreakGoal:   st.Settings.StreakGoalDays,
	}
}

// decision.Env

func (s *Shield) Enabled() bool  { return s.state.Settings.Enabled }
func (s *Shield) URL() string    { return s.doc.URL() }
func (s *Shield) Domain() string { return normalize.Domain(s.doc.Host()) }
func (s *Shield) Title() string  { return s.doc.Title() }

func (s *Shield) Currency() string {
	if c := s.state.Settings.Currency; c != "" {
		return c
	}
	return "£"
}

func (s *Shield) Candidates(ep *decision.Episode) []price.Ranked {
	in := price.InputFromDocument(s.doc)
	if ep.Capture != nil {
		in.Payloads = ep.Capture.Payloads
	}
	return s.extractor.Rank(in)
}

func (s *Shield) Basis() risk.Basis {
	settings := s.state.Settings
	var net *decimal.Decimal
	if p := s.state.Profile; p != nil {
		n := p.MonthlyNet
		net = &n
	}
	return risk.Resolve(settings.RiskThresholds(), settings.Budget(), net)
}

func (s *Shield) Spent() decimal.Decimal { return s.state.Session.MonthlySpend }

func (s *Shield) Profile() *risk.Profile { return s.state.Profile.Risk() }

var _ decision.Env = (*Shield)(nil)
