// Package proxy is a reverse proxy that treats checkout-shaped requests as
// purchase attempts and holds them until the user decides.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gzhole/spendshield/internal/decision"
	"github.com/gzhole/spendshield/internal/gate"
)

const (
	DefaultListenAddr  = "127.0.0.1:0"
	DefaultMetricsPath = "/metrics"

	maxBodyBytes = 10 << 20
)

// Interceptor opens an episode for a checkout-shaped request.
type Interceptor interface {
	BeginRequest(url string, body []byte) error
}

// Runner runs fn on the page event loop and waits for it.
type Runner interface {
	Do(fn func()) bool
}

// Config holds configuration for the gating proxy.
type Config struct {
	// UpstreamURL is the shop the proxy fronts (e.g. "http://localhost:3000").
	UpstreamURL string

	// ListenAddr defaults to DefaultListenAddr.
	ListenAddr string

	Shield  Interceptor
	Loop    Runner
	Gate    *gate.Gate
	Matcher gate.URLMatcher

	// Gatherer, when set, is served on MetricsPath.
	Gatherer    prometheus.Gatherer
	MetricsPath string

	// Stderr is where listen messages go. Defaults to os.Stderr.
	Stderr io.Writer
	Logger *zap.Logger
	Client *http.Client
}

// Proxy forwards every request to the upstream. Checkout-shaped requests
// first open an episode and then wait on the gate; a declined purchase is
// answered with 403 and never reaches the upstream.
type Proxy struct {
	cfg      Config
	upstream *url.URL
	client   *http.Client
	stderr   io.Writer
	log      *zap.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

func New(cfg Config) (*Proxy, error) {
	u, err := url.Parse(cfg.UpstreamURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q", cfg.UpstreamURL)
	}
	if cfg.Gate == nil {
		return nil, errors.New("proxy: gate is required")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = DefaultMetricsPath
	}
	p := &Proxy{
		cfg:      cfg,
		upstream: u,
		client:   cfg.Client,
		stderr:   cfg.Stderr,
		log:      cfg.Logger,
	}
	if p.client == nil {
		// Held calls wait on the gate before this timeout starts.
		p.client = &http.Client{Timeout: 2 * time.Minute}
	}
	if p.stderr == nil {
		p.stderr = os.Stderr
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	return p, nil
}

// Handler is the proxy's HTTP handler.
func (p *Proxy) Handler() http.Handler {
	mux := http.NewServeMux()
	if p.cfg.Gatherer != nil {
		mux.Handle(p.cfg.MetricsPath, promhttp.HandlerFor(p.cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/", p.handle)
	return mux
}

// ListenAddr returns the actual address the proxy is listening on, or ""
// before ListenAndServe has bound.
func (p *Proxy) ListenAddr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener != nil {
		return p.listener.Addr().String()
	}
	return ""
}

// ListenAndServe blocks until the server is shut down.
func (p *Proxy) ListenAndServe() error {
	ln, err := net.Listen("tcp", p.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.cfg.ListenAddr, err)
	}
	srv := &http.Server{
		Handler:     p.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	p.mu.Lock()
	p.listener = ln
	p.server = srv
	p.mu.Unlock()

	addr := ln.Addr().String()
	_, _ = fmt.Fprintf(p.stderr, "[SpendShield proxy] listening on http://%s\n", addr)
	_, _ = fmt.Fprintf(p.stderr, "[SpendShield proxy] upstream: %s\n", p.upstream)

	err = srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (p *Proxy) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	srv := p.server
	p.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func (p *Proxy) handle(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) > maxBodyBytes {
		http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	target := p.target(r)
	if p.isCheckout(target) && !gate.SafeMethod(r.Method) {
		p.intercept(target, body)
	}

	out, err := p.cfg.Gate.Wait(r.Context(), target)
	switch {
	case errors.Is(err, gate.ErrPurchaseBlocked):
		p.log.Info("checkout request blocked", zap.String("url", target))
		writeBlocked(w)
		return
	case err != nil:
		// The client went away while the call was held.
		p.log.Debug("held request abandoned", zap.String("url", target), zap.Error(err))
		return
	}
	if out != gate.OutcomePassthrough {
		p.log.Info("checkout request released", zap.String("url", target), zap.String("outcome", string(out)))
	}

	p.forward(w, r, target, body)
}

func (p *Proxy) isCheckout(target string) bool {
	return p.cfg.Matcher != nil && p.cfg.Matcher.IsCheckoutURL(target)
}

// intercept opens an episode on the page loop. A refusal is not an error
// here: another episode may already hold the gate, or the shield may be
// disabled, and Wait handles both.
func (p *Proxy) intercept(target string, body []byte) {
	if p.cfg.Shield == nil || p.cfg.Loop == nil {
		return
	}
	var err error
	if !p.cfg.Loop.Do(func() { err = p.cfg.Shield.BeginRequest(target, body) }) {
		p.log.Warn("page loop closed, forwarding checkout request", zap.String("url", target))
		return
	}
	switch {
	case err == nil:
		p.log.Info("checkout request intercepted", zap.String("url", target))
	case errors.Is(err, decision.ErrNotAllowed), errors.Is(err, gate.ErrHoldActive):
		p.log.Debug("checkout request not intercepted", zap.String("url", target), zap.Error(err))
	default:
		p.log.Warn("intercept failed, forwarding", zap.String("url", target), zap.Error(err))
	}
}

// target maps an incoming request onto the upstream.
func (p *Proxy) target(r *http.Request) string {
	u := *p.upstream
	u.Path = strings.TrimSuffix(p.upstream.Path, "/") + r.URL.Path
	u.RawPath = ""
	u.RawQuery = r.URL.RawQuery
	return u.String()
}

func (p *Proxy) forward(w http.ResponseWriter, origReq *http.Request, target string, body []byte) {
	var rd io.Reader
	if len(body) > 0 {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(origReq.Context(), origReq.Method, target, rd)
	if err != nil {
		p.log.Error("creating upstream request", zap.Error(err))
		http.Error(w, "Internal proxy error", http.StatusBadGateway)
		return
	}
	copyHeaders(req.Header, origReq.Header)

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Warn("upstream request failed", zap.String("method", origReq.Method), zap.Error(err))
		http.Error(w, "Upstream server unreachable", http.StatusBadGateway)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

type blockedResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeBlocked(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(blockedResponse{
		Error:   "purchase_blocked",
		Message: "SpendShield: you chose to keep your money.",
	})
}

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Proxy-Connection":    true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Content-Length":      true,
}

// copyHeaders copies end-to-end headers from src to dst.
func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if hopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}
