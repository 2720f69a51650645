package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gzhole/spendshield/internal/approval"
	"github.com/gzhole/spendshield/internal/browser"
	"github.com/gzhole/spendshield/internal/gate"
	"github.com/gzhole/spendshield/internal/page"
	"github.com/gzhole/spendshield/internal/shield"
)

var (
	watchControlURL string
	watchBin        string
	watchHeadless   bool
)

var watchCmd = &cobra.Command{
	Use:   "watch <url>",
	Short: "Shop in a live Chrome window with SpendShield watching",
	Long: `Opens the URL in Chrome and holds every checkout-shaped request the page
makes until you decide on this terminal. Each page you navigate to is
snapshotted so prices can be found for the decision.

  spendshield watch https://www.amazon.co.uk
  spendshield watch https://shop.example --control-url ws://127.0.0.1:9222/devtools/browser/...`,
	Args: cobra.ExactArgs(1),
	RunE: watchCommand,
}

func init() {
	watchCmd.Flags().StringVar(&watchControlURL, "control-url", "", "DevTools URL of a running Chrome (default: launch one)")
	watchCmd.Flags().StringVar(&watchBin, "bin", "", "Chrome binary to launch")
	watchCmd.Flags().BoolVar(&watchHeadless, "headless", false, "Run Chrome without a window")
	rootCmd.AddCommand(watchCmd)
}

func watchCommand(cmd *cobra.Command, args []string) error {
	r, err := openRuntime()
	if err != nil {
		return err
	}
	defer r.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := browser.Launch(ctx, browser.Options{
		ControlURL: watchControlURL,
		Bin:        watchBin,
		Headless:   watchHeadless,
		Logger:     r.log,
	})
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	if err := sess.Open(args[0]); err != nil {
		return err
	}

	loop := page.NewEventLoop()
	defer loop.Close()

	state := gate.NewState()
	term := approval.NewTerminal(loop, os.Stdin, os.Stderr, approval.IsInteractive(), r.log)
	term.Currency = r.settings.Currency

	// sh is only touched on the loop.
	var sh *shield.Shield
	attach := func() {
		doc, err := sess.Snapshot(loop)
		if err != nil {
			r.log.Warn("page snapshot failed", zap.Error(err))
			return
		}
		loop.Do(func() {
			if sh != nil {
				sh.Stop()
			}
			sh = r.newShield(doc, state, term, nil, shield.SourceBrowser)
			sh.Start()
		})
		fmt.Fprintf(os.Stderr, "[SpendShield] watching %s\n", doc.URL())
	}
	attach()
	defer loop.Do(func() {
		if sh != nil {
			sh.Stop()
		}
	})

	stopGuard, err := sess.Guard(&browser.Guard{
		Gate:    r.newGate(state, nil),
		Matcher: r.matcher,
		Logger:  r.log,
		Intercept: func(url string, body []byte) {
			loop.Do(func() {
				if sh == nil {
					return
				}
				if err := sh.BeginRequest(url, body); err != nil {
					r.log.Debug("browser request not intercepted", zap.String("url", url), zap.Error(err))
				}
			})
		},
	})
	if err != nil {
		return err
	}
	defer func() { _ = stopGuard() }()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		sess.OnNavigate(ctx, func(string) { go attach() })
		return nil
	})
	eg.Go(func() error { return watchSettings(ctx, r) })

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
