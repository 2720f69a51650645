package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gzhole/spendshield/internal/page"
	"github.com/gzhole/spendshield/internal/price"
)

var scanURL string

var scanCmd = &cobra.Command{
	Use:   "scan <file.html>",
	Short: "Show the prices SpendShield finds on a saved page",
	Long: `Run every price strategy against a saved HTML page and print the ranked
candidates, the way the price picker would offer them.

  spendshield scan basket.html --url https://www.amazon.co.uk/gp/cart`,
	Args: cobra.ExactArgs(1),
	RunE: scanCommand,
}

func init() {
	scanCmd.Flags().StringVar(&scanURL, "url", "https://localhost/", "URL the page was saved from (selects site rules)")
	rootCmd.AddCommand(scanCmd)
}

func scanCommand(cmd *cobra.Command, args []string) error {
	cfg, _, log, err := loadBase()
	if err != nil {
		return err
	}
	matcher, err := loadMatcher(cfg, log)
	if err != nil {
		return err
	}

	doc, err := parseFile(args[0], scanURL, page.NewManualClock(time.Now()))
	if err != nil {
		return err
	}

	ex := price.NewExtractor(matcher, price.WithLogger(log))
	ranked := ex.Rank(price.InputFromDocument(doc))

	fmt.Println("═══════════════════════════════════════════════════════")
	fmt.Printf("  Price candidates: %s\n", doc.Title())
	fmt.Println("═══════════════════════════════════════════════════════")
	if len(ranked) == 0 {
		fmt.Println("  No prices detected on this page")
		fmt.Println()
		return nil
	}
	for i, r := range ranked {
		fmt.Printf("  %2d. %10s  %-7s x%d  %s\n", i+1, r.Value.StringFixed(2), r.Confidence, r.Frequency, r.Label)
	}
	fmt.Println()
	if v, ok := price.AutoResolve(ranked); ok {
		fmt.Printf("  ✅ Auto-resolved: %s\n", v.StringFixed(2))
	} else {
		fmt.Println("  ⚠  Ambiguous: the picker would ask")
	}
	fmt.Println()
	return nil
}

func parseFile(path, url string, sched page.Scheduler) (*page.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer f.Close()
	doc, err := page.Parse(f, url, sched)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	return doc, nil
}
