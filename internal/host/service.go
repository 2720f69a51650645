package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/gzhole/spendshield/internal/config"
	"github.com/gzhole/spendshield/internal/scoring"
	"github.com/gzhole/spendshield/internal/store"
)

const (
	keySession = "session"
	keyStats   = "stats"
	keyProfile = "profile"
)

// ErrUnknownMessage is returned for message types the host does not handle.
var ErrUnknownMessage = errors.New("host: unknown message type")

// Channel carries requests to the host.
type Channel interface {
	Send(ctx context.Context, msg Message) (*Response, error)
}

// SettingsSource loads and persists settings.
type SettingsSource interface {
	Load() (config.Settings, error)
	Save(config.Settings) error
}

// ProfileSyncer pulls a profile from the scoring service.
type ProfileSyncer interface {
	SyncProfile(ctx context.Context, name string) (*scoring.Profile, error)
}

// Service is the host side of the messaging protocol. It owns settings,
// the daily session, lifetime stats, history and the cached profile.
type Service struct {
	store    *store.Store
	settings SettingsSource
	syncer   func(apiBase string) ProfileSyncer
	now      func() time.Time
	log      *zap.Logger

	mu      sync.Mutex
	pending []string

	subMu  sync.Mutex
	subs   map[int]func(Push)
	nextID int
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

// WithSyncer replaces the scoring client factory.
func WithSyncer(f func(apiBase string) ProfileSyncer) Option {
	return func(s *Service) { s.syncer = f }
}

func NewService(st *store.Store, settings SettingsSource, opts ...Option) *Service {
	s := &Service{
		store:    st,
		settings: settings,
		now:      time.Now,
		log:      zap.NewNop(),
		subs:     map[int]func(Push){},
	}
	for _, o := range opts {
		o(s)
	}
	if s.syncer == nil {
		log := s.log
		s.syncer = func(apiBase string) ProfileSyncer {
			return scoring.NewClient(apiBase, scoring.WithLogger(log))
		}
	}
	return s
}

// Send handles one message. It implements Channel.
// Pushes caused by a message are delivered after the message is handled,
// so subscribers may call Send.
func (s *Service) Send(ctx context.Context, msg Message) (*Response, error) {
	s.mu.Lock()
	resp, err := s.handle(ctx, msg)
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, typ := range pending {
		s.broadcast(typ)
	}
	return resp, err
}

func (s *Service) handle(ctx context.Context, msg Message) (*Response, error) {
	switch msg.Type {
	case MsgGetState:
		state, err := s.buildState()
		if err != nil {
			return nil, err
		}
		return &Response{OK: true, State: state}, nil

	case MsgGetProfile:
		p, err := s.profile()
		if err != nil {
			return nil, err
		}
		return &Response{OK: true, Profile: p}, nil

	case MsgStoreProfile:
		if err := s.store.Put(keyProfile, msg.Profile); err != nil {
			return nil, err
		}
		return &Response{OK: true}, nil

	case MsgSyncProfile:
		return s.syncProfile(ctx)

	case MsgUpdateSettings:
		cur, err := s.settings.Load()
		if err != nil {
			return nil, err
		}
		if err := mergeSettings(&cur, msg.Settings); err != nil {
			return &Response{OK: false, Reason: "invalid_settings", Error: err.Error()}, nil
		}
		return s.saveSettings(cur)

	case MsgSaveSettings:
		next := config.DefaultSettings()
		if err := mergeSettings(&next, msg.Settings); err != nil {
			return &Response{OK: false, Reason: "invalid_settings", Error: err.Error()}, nil
		}
		return s.saveSettings(next)

	case MsgLogIntercept:
		return s.logIntercept(msg)

	case MsgLogPurchase:
		return s.logPurchase(msg)

	case MsgLogDeclined:
		return s.logDeclined(msg)

	case MsgResetAll:
		stats, err := s.stats()
		if err != nil {
			return nil, err
		}
		stats.StreakDays = 0
		stats.LastProtectedDay = ""
		if err := s.store.PutAll(map[string]any{keySession: s.freshSession(decimal.Zero), keyStats: stats}); err != nil {
			return nil, err
		}
		s.pending = append(s.pending, PushStateUpdated)
		return &Response{OK: true}, nil

	case MsgClearHistory:
		if err := s.store.ClearHistory(); err != nil {
			return nil, err
		}
		return &Response{OK: true}, nil

	case MsgResetStats:
		if err := s.store.Put(keyStats, newStats()); err != nil {
			return nil, err
		}
		return &Response{OK: true}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
}

func mergeSettings(dst *config.Settings, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	return dst.Validate()
}

func (s *Service) saveSettings(next config.Settings) (*Response, error) {
	if err := s.settings.Save(next); err != nil {
		return nil, err
	}
	s.log.Info("settings saved", zap.Bool("enabled", next.Enabled))
	s.pending = append(s.pending, PushStateUpdated)
	return &Response{OK: true}, nil
}

func (s *Service) syncProfile(ctx context.Context) (*Response, error) {
	settings, err := s.settings.Load()
	if err != nil {
		return nil, err
	}
	if settings.UserName == "" {
		return &Response{OK: false, Reason: scoring.Reason(scoring.ErrNoUser)}, nil
	}

	p, err := s.syncer(settings.APIBase).SyncProfile(ctx, settings.UserName)
	if err != nil {
		s.log.Warn("profile sync failed", zap.String("user", settings.UserName), zap.Error(err))
		return &Response{OK: false, Reason: scoring.Reason(err), Error: err.Error()}, nil
	}
	if err := s.store.Put(keyProfile, p); err != nil {
		return nil, err
	}
	s.pending = append(s.pending, PushStateUpdated)
	return &Response{OK: true, Profile: p}, nil
}

func (s *Service) logIntercept(msg Message) (*Response, error) {
	entry := s.entry(msg, "intercepted")
	if msg.Data != nil {
		entry.PageTitle = msg.Data.PageTitle
	}
	if err := s.store.AppendHistory(entry, HistoryLimit); err != nil {
		return nil, err
	}

	session, err := s.session()
	if err != nil {
		return nil, err
	}
	session.InterceptCount++

	stats, err := s.stats()
	if err != nil {
		return nil, err
	}
	stats.TotalWarnings++
	today := s.dayKey(s.now())
	if stats.LastProtectedDay != today {
		if stats.LastProtectedDay == s.dayKey(s.now().AddDate(0, 0, -1)) {
			stats.StreakDays++
		} else {
			stats.StreakDays = 1
		}
		stats.BestStreak = max(stats.StreakDays, stats.BestStreak)
		stats.LastProtectedDay = today
	}

	if err := s.store.PutAll(map[string]any{keySession: session, keyStats: stats}); err != nil {
		return nil, err
	}
	return &Response{OK: true}, nil
}

func (s *Service) logPurchase(msg Message) (*Response, error) {
	entry := s.entry(msg, "purchased")
	if err := s.store.AppendHistory(entry, HistoryLimit); err != nil {
		return nil, err
	}

	session, err := s.session()
	if err != nil {
		return nil, err
	}
	stats, err := s.stats()
	if err != nil {
		return nil, err
	}
	session.ProceededCount++
	stats.TotalProceeded++
	if amt := entry.Amount; amt != nil && amt.IsPositive() {
		session.SessionSpend = session.SessionSpend.Add(*amt)
		mk := s.monthKey(s.now())
		stats.MonthlySpend[mk] = stats.MonthlySpend[mk].Add(*amt)
		session.MonthlySpend = stats.MonthlySpend[mk]
	}

	if err := s.store.PutAll(map[string]any{keySession: session, keyStats: stats}); err != nil {
		return nil, err
	}
	return &Response{OK: true}, nil
}

// logDeclined counts a purchase the user walked away from. The amount, when
// known, is added to the money saved.
func (s *Service) logDeclined(msg Message) (*Response, error) {
	entry := s.entry(msg, "declined")
	if err := s.store.AppendHistory(entry, HistoryLimit); err != nil {
		return nil, err
	}
	stats, err := s.stats()
	if err != nil {
		return nil, err
	}
	stats.TotalBlocked++
	if amt := entry.Amount; amt != nil && amt.IsPositive() {
		stats.TotalSaved = stats.TotalSaved.Add(*amt)
	}
	if err := s.store.Put(keyStats, stats); err != nil {
		return nil, err
	}
	return &Response{OK: true}, nil
}

func (s *Service) entry(msg Message, action string) HistoryEntry {
	now := s.now()
	e := HistoryEntry{ID: now.UnixNano(), Timestamp: now.UnixMilli(), Domain: "unknown", Action: action}
	if d := msg.Data; d != nil {
		e.Amount = d.Amount
		e.RiskLevel = d.RiskLevel
		if d.Domain != "" {
			e.Domain = d.Domain
		}
	}
	return e
}

func (s *Service) buildState() (*State, error) {
	settings, err := s.settings.Load()
	if err != nil {
		return nil, err
	}
	session, err := s.session()
	if err != nil {
		return nil, err
	}
	stats, err := s.stats()
	if err != nil {
		return nil, err
	}
	history, err := s.history()
	if err != nil {
		return nil, err
	}
	profile, err := s.profile()
	if err != nil {
		return nil, err
	}
	return &State{
		Settings: settings,
		Session:  session,
		History:  history,
		Streak:   Streak{Current: stats.StreakDays, Best: max(stats.StreakDays, stats.BestStreak)},
		Stats:    stats,
		Profile:  profile,
	}, nil
}

// session returns today's session, starting a new one (and persisting it)
// when the stored one is from another day.
func (s *Service) session() (Session, error) {
	var session Session
	if _, err := s.store.Get(keySession, &session); err != nil {
		return Session{}, err
	}
	if session.Date == s.dayKey(s.now()) {
		return session, nil
	}
	stats, err := s.stats()
	if err != nil {
		return Session{}, err
	}
	fresh := s.freshSession(stats.MonthlySpend[s.monthKey(s.now())])
	if err := s.store.Put(keySession, fresh); err != nil {
		return Session{}, err
	}
	return fresh, nil
}

func (s *Service) freshSession(monthly decimal.Decimal) Session {
	return Session{Date: s.dayKey(s.now()), MonthlySpend: monthly}
}

func (s *Service) stats() (Stats, error) {
	stats := newStats()
	if _, err := s.store.Get(keyStats, &stats); err != nil {
		return Stats{}, err
	}
	if stats.MonthlySpend == nil {
		stats.MonthlySpend = map[string]decimal.Decimal{}
	}
	return stats, nil
}

func (s *Service) history() ([]HistoryEntry, error) {
	raw, err := s.store.History(HistoryLimit)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, 0, len(raw))
	for _, r := range raw {
		var e HistoryEntry
		if err := json.Unmarshal(r, &e); err != nil {
			continue // skip malformed entries
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Service) profile() (*scoring.Profile, error) {
	var p *scoring.Profile
	if _, err := s.store.Get(keyProfile, &p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) dayKey(t time.Time) string   { return t.Format("2006-01-02") }
func (s *Service) monthKey(t time.Time) string { return t.Format("2006-01") }

// Subscribe registers fn for pushes and returns a function that removes it.
// fn runs on the goroutine that triggered the push.
func (s *Service) Subscribe(fn func(Push)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// RequestScan asks pages to look for a price now.
func (s *Service) RequestScan() { s.broadcast(PushManualScan) }

// TogglePanel asks pages to show or hide the stats panel.
func (s *Service) TogglePanel() { s.broadcast(PushTogglePanel) }

// SettingsChanged tells pages to reload their state, for example after the
// settings file changed on disk.
func (s *Service) SettingsChanged() { s.broadcast(PushStateUpdated) }

func (s *Service) broadcast(typ string) {
	s.subMu.Lock()
	fns := make([]func(Push), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(Push{Type: typ})
	}
}
