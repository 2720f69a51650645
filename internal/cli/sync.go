package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gzhole/spendshield/internal/host"
	"github.com/gzhole/spendshield/internal/scoring"
)

var syncUser string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull your profile from the scoring service",
	Long: `Fetch your financial profile and shield score from the scoring service
(settings apiBase) and cache it. With a profile, purchases are rated against
your real monthly surplus instead of fixed thresholds.

  spendshield sync --user alex`,
	RunE: syncCommand,
}

func init() {
	syncCmd.Flags().StringVar(&syncUser, "user", "", "Set the user name before syncing")
	rootCmd.AddCommand(syncCmd)
}

func syncCommand(cmd *cobra.Command, args []string) error {
	r, err := openRuntime()
	if err != nil {
		return err
	}
	defer r.Close()
	ctx := cmd.Context()

	if syncUser != "" {
		raw, _ := json.Marshal(map[string]string{"userName": syncUser})
		resp, err := r.host.Send(ctx, host.Message{Type: host.MsgUpdateSettings, Settings: raw})
		if err != nil {
			return fmt.Errorf("failed to save user name: %w", err)
		}
		if !resp.OK {
			return fmt.Errorf("failed to save user name: %s", resp.Error)
		}
	}

	resp, err := r.host.Send(ctx, host.Message{Type: host.MsgSyncProfile})
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	if !resp.OK {
		switch resp.Reason {
		case scoring.ReasonNoUser:
			fmt.Println("⚠  No user name set. Run: spendshield sync --user <name>")
		default:
			fmt.Printf("❌ Sync failed (%s): %s\n", resp.Reason, resp.Error)
		}
		return nil
	}

	printProfile(resp.Profile)
	return nil
}

func printProfile(p *scoring.Profile) {
	if p == nil {
		fmt.Println("  ⬚  No profile synced")
		return
	}
	fmt.Printf("  ✅ Shield score: %.0f\n", p.Score)
	fmt.Printf("     Income:      %s\n", p.Income.StringFixed(2))
	fmt.Printf("     Expenses:    %s\n", p.Expenses.StringFixed(2))
	fmt.Printf("     Monthly net: %s\n", p.MonthlyNet.StringFixed(2))
	fmt.Printf("     Savings:     %s\n", p.Savings.StringFixed(2))
	for _, g := range p.Goals {
		fmt.Printf("     Goal #%d:     %s (%s)\n", g.Priority, g.Name, g.Target.StringFixed(2))
	}
	if p.SyncedAt > 0 {
		fmt.Printf("     Synced:      %s\n", time.UnixMilli(p.SyncedAt).Local().Format("2006-01-02 15:04:05"))
	}
}
