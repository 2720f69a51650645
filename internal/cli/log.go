package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/gzhole/spendshield/internal/config"
	"github.com/gzhole/spendshield/internal/logger"
)

var (
	logFilterVerdict string
	logFilterRisk    string
	logLast          int
	logSummary       bool
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View and filter the audit log",
	Long: `View the SpendShield audit log with filtering and summary options.

Examples:
  spendshield log                        # Show all entries
  spendshield log --last 20              # Show last 20 entries
  spendshield log --verdict deny         # Show only purchases you walked away from
  spendshield log --risk high            # Show only high-risk purchases
  spendshield log --summary              # Show summary stats`,
	RunE: logCommand,
}

func init() {
	logCmd.Flags().StringVar(&logFilterVerdict, "verdict", "", "Filter by verdict (allow, deny)")
	logCmd.Flags().StringVar(&logFilterRisk, "risk", "", "Filter by risk level (low, medium, high, critical, unknown)")
	logCmd.Flags().IntVar(&logLast, "last", 0, "Show last N entries")
	logCmd.Flags().BoolVar(&logSummary, "summary", false, "Show summary statistics")
	rootCmd.AddCommand(logCmd)
}

func logCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(policyPath, logPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	events, err := logger.ReadAll(cfg.LogPath)
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}

	if len(events) == 0 {
		fmt.Println("No audit log entries found.")
		return nil
	}

	filtered := filterEvents(events, logFilterVerdict, logFilterRisk)

	if logLast > 0 && logLast < len(filtered) {
		filtered = filtered[len(filtered)-logLast:]
	}

	if logSummary {
		printSummary(events)
		return nil
	}

	printEvents(filtered)
	return nil
}

func filterEvents(events []logger.AuditEvent, verdict, riskLevel string) []logger.AuditEvent {
	if verdict == "" && riskLevel == "" {
		return events
	}

	var filtered []logger.AuditEvent
	for _, e := range events {
		if verdict != "" && !strings.EqualFold(e.Verdict, verdict) {
			continue
		}
		if riskLevel != "" && !strings.EqualFold(e.RiskLevel, riskLevel) {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

func printEvents(events []logger.AuditEvent) {
	for _, e := range events {
		ts := formatTimestamp(e.Timestamp)
		icon := verdictIcon(e.Verdict)

		fmt.Printf("%s %s %s %s [%s]\n", icon, ts, e.Domain, formatEventAmount(e), e.RiskLevel)

		if e.PageTitle != "" {
			fmt.Printf("     Page: %s\n", e.PageTitle)
		}
		fmt.Printf("     Via: %s (%s)", e.Source, e.Trigger)
		if e.AutoResolved {
			fmt.Print(", price auto-detected")
		}
		fmt.Println()
		if e.Reason != "" {
			fmt.Printf("     Reason: %s\n", e.Reason)
		}
		if len(e.Answers) > 0 {
			fmt.Printf("     Answers: %s\n", strings.Join(e.Answers, ", "))
		}
		if e.Cooldown {
			fmt.Println("     Waited out the cooldown")
		}
		if e.Error != "" {
			fmt.Printf("     Error: %s\n", e.Error)
		}
		fmt.Println()
	}
}

func printSummary(all []logger.AuditEvent) {
	verdicts := map[string]int{}
	risks := map[string]int{}
	saved := decimal.Zero
	spent := decimal.Zero
	currency := ""

	for _, e := range all {
		verdicts[e.Verdict]++
		risks[e.RiskLevel]++
		amount, err := decimal.NewFromString(e.Amount)
		if err != nil {
			continue
		}
		if currency == "" {
			currency = e.Currency
		}
		switch e.Verdict {
		case "deny":
			saved = saved.Add(amount)
		case "allow":
			spent = spent.Add(amount)
		}
	}

	fmt.Println("═══════════════════════════════════════════")
	fmt.Println("  SpendShield Audit Summary")
	fmt.Println("═══════════════════════════════════════════")
	fmt.Printf("  Total episodes:  %d\n", len(all))
	fmt.Printf("  Proceeded:       %d\n", verdicts["allow"])
	fmt.Printf("  Walked away:     %d\n", verdicts["deny"])
	fmt.Printf("  Money kept:      %s%s\n", currency, saved.StringFixed(2))
	fmt.Printf("  Money spent:     %s%s\n", currency, spent.StringFixed(2))
	fmt.Println("───────────────────────────────────────────")
	for _, level := range []string{"critical", "high", "medium", "low", "unknown"} {
		fmt.Printf("  %-16s %d\n", level+":", risks[level])
	}
	fmt.Println("═══════════════════════════════════════════")

	if len(all) > 0 {
		fmt.Printf("  First event:     %s\n", formatTimestamp(all[0].Timestamp))
		fmt.Printf("  Last event:      %s\n", formatTimestamp(all[len(all)-1].Timestamp))
	}

	var kept []logger.AuditEvent
	for _, e := range all {
		if e.Verdict == "deny" && e.Amount != "" {
			kept = append(kept, e)
		}
	}
	if len(kept) > 0 {
		fmt.Println()
		fmt.Println("  Recently kept:")
		limit := len(kept)
		if limit > 10 {
			limit = 10
		}
		for _, e := range kept[len(kept)-limit:] {
			fmt.Printf("    %s %s %s\n", formatTimestamp(e.Timestamp), e.Domain, formatEventAmount(e))
		}
	}

	fmt.Println()
}

func formatEventAmount(e logger.AuditEvent) string {
	if e.Amount == "" {
		return "(no price)"
	}
	return e.Currency + e.Amount
}

func verdictIcon(verdict string) string {
	switch verdict {
	case "deny":
		return "\xf0\x9f\x9b\xa1\xef\xb8\x8f" // shield
	case "allow":
		return "\xf0\x9f\x9b\x92" // shopping trolley
	default:
		return "\xe2\x9d\x93" // question mark
	}
}

func formatTimestamp(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
