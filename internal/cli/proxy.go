package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gzhole/spendshield/internal/approval"
	"github.com/gzhole/spendshield/internal/config"
	"github.com/gzhole/spendshield/internal/gate"
	"github.com/gzhole/spendshield/internal/page"
	"github.com/gzhole/spendshield/internal/proxy"
	"github.com/gzhole/spendshield/internal/shield"
)

var proxyCmd = &cobra.Command{
	Use:   "proxy --upstream <url>",
	Short: "Gating reverse proxy - hold checkout requests until you decide",
	Long: `Starts a local reverse proxy in front of a shop. Requests whose URL looks
like a checkout, payment or order call open a purchase decision on this
terminal and are held until you proceed or keep your money. Declined
requests are answered with 403 and never reach the shop.

Prometheus metrics for the gate are served on /metrics.

Usage:
  spendshield proxy --upstream http://localhost:3000
  spendshield proxy --upstream https://shop.example --listen 127.0.0.1:9200`,
	RunE: proxyCommand,
}

var (
	proxyUpstreamURL string
	proxyListenAddr  string
)

// proxyPage stands in for the document when the only trigger is a request.
const proxyPage = `<!doctype html><html><head><title>SpendShield proxy</title></head><body></body></html>`

func init() {
	proxyCmd.Flags().StringVar(&proxyUpstreamURL, "upstream", "", "Upstream shop URL (required)")
	proxyCmd.Flags().StringVar(&proxyListenAddr, "listen", "", "Local address to listen on (default: engine.proxy_listen from settings)")
	_ = proxyCmd.MarkFlagRequired("upstream")
	rootCmd.AddCommand(proxyCmd)
}

func proxyCommand(cmd *cobra.Command, args []string) error {
	if proxyUpstreamURL == "" {
		return fmt.Errorf("--upstream is required")
	}

	r, err := openRuntime()
	if err != nil {
		return err
	}
	defer r.Close()

	loop := page.NewEventLoop()
	defer loop.Close()

	doc, err := page.ParseString(proxyPage, proxyUpstreamURL, loop)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	state := gate.NewState()
	g := r.newGate(state, gate.NewMetrics(reg))

	term := approval.NewTerminal(loop, os.Stdin, os.Stderr, approval.IsInteractive(), r.log)
	term.Currency = r.settings.Currency
	sh := r.newShield(doc, state, term, nil, shield.SourceProxy)
	loop.Do(sh.Start)
	defer loop.Do(sh.Stop)

	listen := proxyListenAddr
	if listen == "" {
		listen = r.settings.Engine.ProxyListen
	}
	p, err := proxy.New(proxy.Config{
		UpstreamURL: proxyUpstreamURL,
		ListenAddr:  listen,
		Shield:      sh,
		Loop:        loop,
		Gate:        g,
		Matcher:     r.matcher,
		Gatherer:    reg,
		Stderr:      os.Stderr,
		Logger:      r.log,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(p.ListenAndServe)
	eg.Go(func() error {
		<-ctx.Done()
		fmt.Fprintf(os.Stderr, "\n[SpendShield proxy] shutting down...\n")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return p.Shutdown(shutdownCtx)
	})
	eg.Go(func() error { return watchSettings(ctx, r) })

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// watchSettings pushes STATE_UPDATED to open pages whenever the settings
// file changes. A watcher that cannot start is logged and skipped.
func watchSettings(ctx context.Context, r *runtime) error {
	w, err := config.NewWatcher(r.cfg.SettingsPath, func(config.Settings) { r.host.SettingsChanged() }, r.log)
	if err != nil {
		r.log.Warn("settings watcher disabled", zap.Error(err))
		return nil
	}
	return w.Run(ctx)
}
