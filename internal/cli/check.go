package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gzhole/spendshield/internal/approval"
	"github.com/gzhole/spendshield/internal/decision"
	"github.com/gzhole/spendshield/internal/gate"
	"github.com/gzhole/spendshield/internal/logger"
	"github.com/gzhole/spendshield/internal/page"
	"github.com/gzhole/spendshield/internal/shield"
)

var (
	checkURL   string
	checkClick string
)

var checkCmd = &cobra.Command{
	Use:   "check <file.html> --click <selector>",
	Short: "Run a full purchase check on a saved page",
	Long: `Load a saved page, click an element on it and walk through the decision
on the terminal: price picker, risk tier, reflection and proceed or keep.

  spendshield check basket.html --url https://shop.example/basket --click "#place-order"`,
	Args: cobra.ExactArgs(1),
	RunE: checkCommand,
}

func init() {
	checkCmd.Flags().StringVar(&checkURL, "url", "https://localhost/checkout", "URL the page was saved from")
	checkCmd.Flags().StringVar(&checkClick, "click", "", "CSS selector of the element to click (required)")
	_ = checkCmd.MarkFlagRequired("click")
	rootCmd.AddCommand(checkCmd)
}

func checkCommand(cmd *cobra.Command, args []string) error {
	r, err := openRuntime()
	if err != nil {
		return err
	}
	defer r.Close()

	loop := page.NewEventLoop()
	defer loop.Close()

	doc, err := parseFile(args[0], checkURL, loop)
	if err != nil {
		return err
	}

	term := approval.NewTerminal(loop, os.Stdin, os.Stdout, approval.IsInteractive(), r.log)
	term.Currency = r.settings.Currency
	sink := &resolvedSink{next: r.audit, done: make(chan logger.AuditEvent, 1)}
	sh := r.newShield(doc, gate.NewState(), term, sink, shield.SourceCLI)

	var (
		clickErr    error
		intercepted bool
		actions     []page.Action
	)
	loop.Do(func() {
		sh.Start()
		doc.OnAction(func(a page.Action) { actions = append(actions, a) })
		el := doc.First(checkClick)
		if el == nil {
			clickErr = fmt.Errorf("no element matches %q", checkClick)
			return
		}
		el.Click()
		intercepted = sh.Machine().Episode() != nil
	})
	defer loop.Do(sh.Stop)
	if clickErr != nil {
		return clickErr
	}
	if !intercepted {
		fmt.Println("⬚  The click was not treated as a purchase.")
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var ev logger.AuditEvent
	select {
	case ev = <-sink.done:
	case <-ctx.Done():
		loop.Do(func() { sh.Machine().Abandon(decision.ReasonShutdown) })
		return nil
	}

	// Let a replayed action reach the page.
	time.Sleep(decision.DefaultReplayDelay + 50*time.Millisecond)

	fmt.Println()
	switch ev.Verdict {
	case string(decision.VerdictAllow):
		fmt.Printf("🛒 Proceeded with %s (%s)\n", formatEventAmount(ev), ev.RiskLevel)
	default:
		fmt.Printf("🛡️  Kept %s (%s)\n", formatEventAmount(ev), ev.Reason)
	}
	loop.Do(func() {
		for _, a := range actions {
			fmt.Printf("   page action: %s %s\n", a.Kind, a.Element)
		}
	})
	return nil
}
