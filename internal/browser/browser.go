// Package browser drives a live Chrome page through the DevTools protocol:
// it snapshots the page into the document model and holds the page's
// checkout traffic on the purchase gate.
package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/gzhole/spendshield/internal/gate"
	"github.com/gzhole/spendshield/internal/page"
)

type Options struct {
	// ControlURL connects to a running Chrome instead of launching one.
	ControlURL string
	// Bin overrides the browser binary used by the launcher.
	Bin      string
	Headless bool
	Logger   *zap.Logger
}

// Session is one browser with one tab.
type Session struct {
	browser *rod.Browser
	page    *rod.Page
	router  *rod.HijackRouter
	log     *zap.Logger
}

// Launch starts (or connects to) Chrome.
func Launch(ctx context.Context, opts Options) (*Session, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	controlURL := opts.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(opts.Headless)
		if opts.Bin != "" {
			l = l.Bin(opts.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	log.Debug("browser connected", zap.String("control_url", controlURL))
	return &Session{browser: b, log: log}, nil
}

// Open navigates the session's tab to url, creating the tab on first use.
func (s *Session) Open(url string) error {
	if s.page == nil {
		p, err := s.browser.Page(proto.TargetCreateTarget{URL: url})
		if err != nil {
			return fmt.Errorf("open page: %w", err)
		}
		s.page = p
	} else if err := s.page.Navigate(url); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	if err := s.page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load: %w", err)
	}
	return nil
}

// Snapshot waits for the tab to load and parses its current DOM into a
// document scheduled on sched.
func (s *Session) Snapshot(sched page.Scheduler) (*page.Document, error) {
	if s.page == nil {
		return nil, errors.New("browser: no page open")
	}
	if err := s.page.WaitLoad(); err != nil {
		s.log.Debug("wait load before snapshot", zap.Error(err))
	}
	info, err := s.page.Info()
	if err != nil {
		return nil, fmt.Errorf("page info: %w", err)
	}
	markup, err := s.page.HTML()
	if err != nil {
		return nil, fmt.Errorf("page html: %w", err)
	}
	return page.ParseString(markup, info.URL, sched)
}

// OnNavigate calls fn with the new URL whenever the tab's main frame
// navigates. It returns once ctx is done.
func (s *Session) OnNavigate(ctx context.Context, fn func(url string)) {
	if s.page == nil {
		return
	}
	wait := s.page.Context(ctx).EachEvent(func(ev *proto.PageFrameNavigated) {
		if ev.Frame.ParentID == "" {
			fn(ev.Frame.URL)
		}
	})
	wait()
}

// Guard routes every request of the tab through g. Call the returned stop
// func to release the router.
func (s *Session) Guard(g *Guard) (stop func() error, err error) {
	if s.page == nil {
		return nil, errors.New("browser: no page open")
	}
	router := s.page.HijackRequests()
	if err := router.Add("*", "", func(h *rod.Hijack) {
		ctx := h.Request.Req().Context()
		if g.Allow(ctx, h.Request.Method(), h.Request.URL().String(), []byte(h.Request.Body())) {
			h.ContinueRequest(&proto.FetchContinueRequest{})
			return
		}
		h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
	}); err != nil {
		return nil, fmt.Errorf("hijack: %w", err)
	}
	go router.Run()
	s.router = router
	return router.Stop, nil
}

func (s *Session) Close() error {
	if s.router != nil {
		_ = s.router.Stop()
	}
	return s.browser.Close()
}

// Guard decides whether one intercepted browser request may continue.
type Guard struct {
	Gate    *gate.Gate
	Matcher gate.URLMatcher
	// Intercept is called for checkout-shaped requests with a non-safe
	// method before the gate is consulted, so it can open an episode.
	Intercept func(url string, body []byte)
	Logger    *zap.Logger
}

// Allow reports whether the request may go out. Everything but a
// declined purchase is allowed.
func (g *Guard) Allow(ctx context.Context, method, url string, body []byte) bool {
	log := g.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if g.Intercept != nil && g.Matcher != nil && !gate.SafeMethod(method) && g.Matcher.IsCheckoutURL(url) {
		g.Intercept(url, body)
	}
	out, err := g.Gate.Wait(ctx, url)
	if errors.Is(err, gate.ErrPurchaseBlocked) {
		log.Info("browser request blocked", zap.String("url", url))
		return false
	}
	if err != nil {
		log.Debug("browser request wait ended", zap.String("url", url), zap.Error(err))
		return false
	}
	if out != gate.OutcomePassthrough {
		log.Info("browser request released", zap.String("url", url), zap.String("outcome", string(out)))
	}
	return true
}
