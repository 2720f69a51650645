package gate

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultHoldTimeout bounds how long a checkout call may be held.
const DefaultHoldTimeout = 60 * time.Second

// Outcome describes what happened to one call.
type Outcome string

const (
	OutcomePassthrough Outcome = "passthrough"
	OutcomeAllowed     Outcome = "allowed"
	OutcomeDenied      Outcome = "denied"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeCancelled   Outcome = "cancelled"
)

// URLMatcher decides which targets are checkout-shaped.
type URLMatcher interface {
	IsCheckoutURL(url string) bool
}

// Gate decides, per outgoing call, whether it may go now, must wait, or
// must fail.
type Gate struct {
	state   *State
	matcher URLMatcher
	timeout time.Duration
	metrics *Metrics
	log     *zap.Logger
}

type Option func(*Gate)

// WithHoldTimeout overrides DefaultHoldTimeout. Non-positive values are
// ignored.
func WithHoldTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.log = l
		}
	}
}

func New(state *State, m URLMatcher, opts ...Option) *Gate {
	g := &Gate{
		state:   state,
		matcher: m,
		timeout: DefaultHoldTimeout,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Gate) State() *State { return g.state }

// Wait blocks a checkout-shaped call while a decision is pending. It
// returns nil when the call may be dispatched, ErrPurchaseBlocked when the
// user declined, or the context error when the caller gave up. A hold
// that outlives the timeout is let through once.
func (g *Gate) Wait(ctx context.Context, url string) (Outcome, error) {
	h := g.state.active()
	if h == nil || g.matcher == nil || !g.matcher.IsCheckoutURL(url) {
		g.metrics.call(string(OutcomePassthrough))
		return OutcomePassthrough, nil
	}
	g.metrics.call("held")
	g.log.Debug("holding checkout call", zap.String("url", url))

	start := time.Now()
	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	var (
		out Outcome
		err error
	)
	select {
	case <-h.done:
		if h.allow {
			out = OutcomeAllowed
		} else {
			out, err = OutcomeDenied, ErrPurchaseBlocked
		}
	case <-timer.C:
		out = OutcomeTimeout
		g.state.markTimedOut(h)
		g.log.Warn("purchase decision timed out, releasing held call",
			zap.String("url", url),
			zap.Duration("timeout", g.timeout))
	case <-ctx.Done():
		out, err = OutcomeCancelled, ctx.Err()
	}
	g.metrics.outcome(out, time.Since(start).Seconds())
	return out, err
}
