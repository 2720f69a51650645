package approval

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/gzhole/spendshield/internal/decision"
	"github.com/gzhole/spendshield/internal/page"
	"github.com/gzhole/spendshield/internal/risk"
)

func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// Terminal asks about intercepted purchases on a terminal. Prompts run on
// their own goroutine and answers are posted to the page scheduler. When
// the terminal is not interactive every purchase is declined.
//
// A single reader goroutine owns the input. A prompt gives up as soon as
// its episode is hidden, and a line that arrives for a closed episode is
// kept for the next prompt.
type Terminal struct {
	sched       page.Scheduler
	in          *bufio.Reader
	interactive bool
	Currency    string
	log         *zap.Logger

	outMu sync.Mutex
	out   io.Writer

	readOnce sync.Once
	lines    chan string
	readMu   sync.Mutex

	mu      sync.Mutex
	ctl     decision.Controls
	current *decision.Episode
	done    chan struct{}
	pending []string
}

var _ decision.Presenter = (*Terminal)(nil)

func NewTerminal(sched page.Scheduler, in io.Reader, out io.Writer, interactive bool, log *zap.Logger) *Terminal {
	if log == nil {
		log = zap.NewNop()
	}
	return &Terminal{
		sched:       sched,
		in:          bufio.NewReader(in),
		out:         out,
		lines:       make(chan string),
		interactive: interactive,
		Currency:    "£",
		log:         log,
	}
}

func (t *Terminal) Bind(c decision.Controls) {
	t.mu.Lock()
	t.ctl = c
	t.mu.Unlock()
}

func (t *Terminal) printf(format string, args ...any) {
	t.outMu.Lock()
	defer t.outMu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *Terminal) ShowPicker(ep *decision.Episode) {
	done := t.setCurrent(ep)

	t.printf("\n")
	t.printf("╔══════════════════════════════════════════════════════════════╗\n")
	t.printf("║              🛡️  PURCHASE INTERCEPTED                          ║\n")
	t.printf("╚══════════════════════════════════════════════════════════════╝\n")
	t.printf("\n")
	if ep.Domain != "" {
		t.printf("Site: %s\n", ep.Domain)
	}
	t.printf("How much is this purchase?\n")
	if len(ep.Candidates) == 0 {
		t.printf("  No prices detected on this page\n")
	}
	for i, c := range ep.Candidates {
		t.printf("  [%d] %s%s  (%s)\n", i+1, t.Currency, c.Value.StringFixed(2), c.Label)
	}
	t.printf("  [s] Skip, no price to track\n")
	t.printf("  [k] Keep my money\n")
	t.printf("\n")

	if !t.interactive {
		t.printf("Not interactive: keeping your money.\n")
		t.post(ep, func(c decision.Controls) error { return c.KeepMoney() })
		return
	}
	go t.pickPrice(ep, done)
}

func (t *Terminal) pickPrice(ep *decision.Episode, done <-chan struct{}) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	for {
		line, ok := t.prompt("Amount, number, s or k: ", done)
		if !ok {
			t.post(ep, func(c decision.Controls) error { return c.KeepMoney() })
			return
		}
		switch {
		case line == "k":
			t.post(ep, func(c decision.Controls) error { return c.KeepMoney() })
			return
		case line == "s":
			t.post(ep, func(c decision.Controls) error { return c.SkipPrice() })
			return
		}
		if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(ep.Candidates) {
			v := ep.Candidates[n-1].Value
			t.post(ep, func(c decision.Controls) error { return c.SelectPrice(v) })
			return
		}
		if _, err := decimal.NewFromString(strings.Trim(line, "£$€ ")); err == nil {
			raw := line
			t.post(ep, func(c decision.Controls) error { return c.EnterPrice(raw) })
			return
		}
		t.printf("Invalid input. Pick a listed number, type an amount, or s/k.\n")
	}
}

func (t *Terminal) ShowDecision(ep *decision.Episode) {
	done := t.setCurrent(ep)

	t.printf("\n%s  %s\n", ep.Label, risk.FormatAmount(t.Currency, ep.Amount))
	t.printf("%s\n\n", ep.Message)
	bc := ep.Budget
	t.printf("  Monthly spent: %s%s\n", t.Currency, bc.Spent.StringFixed(2))
	t.printf("  Surplus left:  %s%s (%s)\n", t.Currency, bc.Left.StringFixed(2), bc.LeftStatus)
	t.printf("  After this:    %s%s (%s)\n", t.Currency, bc.After.StringFixed(2), bc.AfterStatus)
	if im := ep.Impact; im != nil {
		t.printf("  Shield score:  %.0f → %.0f (%.1f)\n", im.Score, im.Projected, im.Delta)
		for _, g := range im.Goals {
			t.printf("    • %s: %d mo → %d mo\n", g.Name, g.BaseMonths, g.BaseMonths+g.DelayMonths)
		}
	}
	t.printf("\n")

	if !t.interactive {
		t.printf("Not interactive: keeping your money.\n")
		t.post(ep, func(c decision.Controls) error { return c.KeepMoney() })
		return
	}
	go t.reflect(ep, done)
}

// reflect walks the questions, then asks for the verdict.
func (t *Terminal) reflect(ep *decision.Episode, done <-chan struct{}) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	keep := func() { t.post(ep, func(c decision.Controls) error { return c.KeepMoney() }) }

	for step, q := range decision.Questions {
		t.printf("%s\n", q.Prompt)
		for i, o := range q.Options {
			t.printf("  [%d] %s\n", i+1, o.Text)
		}
		for {
			line, ok := t.prompt("Your answer [1-3, k to keep your money]: ", done)
			if !ok || line == "k" {
				keep()
				return
			}
			n, err := strconv.Atoi(line)
			if err != nil || n < 1 || n > len(q.Options) {
				t.printf("Invalid input. Please enter a number from 1 to %d.\n", len(q.Options))
				continue
			}
			value := q.Options[n-1].Value
			s := step
			t.post(ep, func(c decision.Controls) error { return c.Answer(s, value) })
			break
		}
	}

	for {
		line, ok := t.prompt("Your choice [p]roceed / [k]eep my money: ", done)
		if !ok {
			keep()
			return
		}
		switch line {
		case "p", "proceed", "y", "yes":
			t.post(ep, func(c decision.Controls) error { return c.Proceed() })
			return
		case "k", "keep", "n", "no":
			keep()
			return
		default:
			t.printf("Invalid input. Please enter 'p' to proceed or 'k' to keep your money.\n")
		}
	}
}

func (t *Terminal) Unlock(ep *decision.Episode) {
	t.printf("Proceed unlocked.\n")
}

func (t *Terminal) Hide(ep *decision.Episode) {
	t.mu.Lock()
	if t.current == ep {
		t.current = nil
		t.closeDone()
	}
	t.mu.Unlock()
}

func (t *Terminal) Toast(msg string) {
	t.printf("✓ %s\n", msg)
}

// setCurrent makes ep the current episode and returns the channel that is
// closed when it is hidden.
func (t *Terminal) setCurrent(ep *decision.Episode) <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != ep || t.done == nil {
		t.closeDone()
		t.current = ep
		t.done = make(chan struct{})
	}
	return t.done
}

// closeDone must be called with t.mu held.
func (t *Terminal) closeDone() {
	if t.done != nil {
		close(t.done)
		t.done = nil
	}
}

// prompt reads one trimmed, lowercased line. It reports false on EOF, on
// a read error, or once done is closed.
func (t *Terminal) prompt(label string, done <-chan struct{}) (string, bool) {
	select {
	case <-done:
		return "", false
	default:
	}
	t.printf("%s", label)

	t.mu.Lock()
	if len(t.pending) > 0 {
		line := t.pending[0]
		t.pending = t.pending[1:]
		t.mu.Unlock()
		return line, true
	}
	t.mu.Unlock()

	t.readOnce.Do(func() { go t.readLoop() })
	select {
	case line, ok := <-t.lines:
		if !ok {
			return "", false
		}
		select {
		case <-done:
			t.mu.Lock()
			t.pending = append(t.pending, line)
			t.mu.Unlock()
			return "", false
		default:
		}
		return line, true
	case <-done:
		return "", false
	}
}

func (t *Terminal) readLoop() {
	defer close(t.lines)
	for {
		input, err := t.in.ReadString('\n')
		if err != nil && input == "" {
			return
		}
		t.lines <- strings.TrimSpace(strings.ToLower(input))
		if err != nil {
			return
		}
	}
}

// post forwards fn to the controls on the scheduler, unless ep has been
// closed in the meantime.
func (t *Terminal) post(ep *decision.Episode, fn func(decision.Controls) error) {
	page.Post(t.sched, func() {
		t.mu.Lock()
		ctl, cur := t.ctl, t.current
		t.mu.Unlock()
		if ctl == nil || cur != ep {
			return
		}
		if err := fn(ctl); err != nil {
			t.log.Debug("terminal input rejected", zap.Error(err))
		}
	})
}
