package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/gzhole/spendshield/internal/normalize"
	"github.com/gzhole/spendshield/internal/risk"
)

var (
	classifyMonthlyNet string
	classifySpent      string
)

var classifyCmd = &cobra.Command{
	Use:   "classify <amount>",
	Short: "Rate an amount the way the shield would",
	Long: `Classify an amount into a risk tier and show its budget context.

With --monthly-net the tier is relative to that monthly surplus; otherwise
the thresholds from settings are used.

  spendshield classify 275 --monthly-net 1500
  spendshield classify "£49.99" --spent 320`,
	Args: cobra.ExactArgs(1),
	RunE: classifyCommand,
}

func init() {
	classifyCmd.Flags().StringVar(&classifyMonthlyNet, "monthly-net", "", "Monthly surplus to rate against")
	classifyCmd.Flags().StringVar(&classifySpent, "spent", "0", "Amount already spent this month")
	rootCmd.AddCommand(classifyCmd)
}

func classifyCommand(cmd *cobra.Command, args []string) error {
	_, settings, _, err := loadBase()
	if err != nil {
		return err
	}

	amount, ok := normalize.Price(args[0])
	if !ok {
		return fmt.Errorf("not a usable amount: %q", args[0])
	}
	var net *decimal.Decimal
	if classifyMonthlyNet != "" {
		n, err := decimal.NewFromString(classifyMonthlyNet)
		if err != nil {
			return fmt.Errorf("invalid --monthly-net: %w", err)
		}
		net = &n
	}
	spent, err := decimal.NewFromString(classifySpent)
	if err != nil {
		return fmt.Errorf("invalid --spent: %w", err)
	}

	basis := risk.Resolve(settings.RiskThresholds(), settings.Budget(), net)
	tier := basis.Classify(&amount)
	bc := risk.NewBudgetContext(basis.Budget, spent, &amount)
	cur := settings.Currency

	fmt.Println("═══════════════════════════════════════════")
	fmt.Printf("  %s  %s\n", tier.Label(), risk.FormatAmount(cur, &amount))
	fmt.Println("═══════════════════════════════════════════")
	fmt.Printf("  Risk level:    %s\n", tier)
	if basis.MonthlyNet != nil {
		fmt.Printf("  Rated against: monthly surplus %s%s\n", cur, basis.MonthlyNet.StringFixed(2))
	} else {
		t := basis.Thresholds
		fmt.Printf("  Rated against: thresholds %s / %s / %s\n", t.Critical, t.High, t.Medium)
	}
	fmt.Printf("  Budget:        %s%s (%s)\n", cur, bc.Budget.StringFixed(2), basis.BudgetSource)
	fmt.Printf("  Surplus left:  %s%s (%s)\n", cur, bc.Left.StringFixed(2), bc.LeftStatus)
	fmt.Printf("  After this:    %s%s (%s)\n", cur, bc.After.StringFixed(2), bc.AfterStatus)
	fmt.Println()
	fmt.Printf("  %s\n", risk.Messenger{Currency: cur}.Message(&amount, tier))
	fmt.Println()
	return nil
}
