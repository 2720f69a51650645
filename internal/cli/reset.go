package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gzhole/spendshield/internal/host"
)

var (
	resetHistory bool
	resetStats   bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset today's session and streak, or clear history and stats",
	Long: `Without flags, starts a fresh session for today and resets the streak.

  spendshield reset              # fresh session, streak back to zero
  spendshield reset --history    # forget intercepted purchases
  spendshield reset --stats      # zero the lifetime counters`,
	RunE: resetCommand,
}

func init() {
	resetCmd.Flags().BoolVar(&resetHistory, "history", false, "Clear the purchase history")
	resetCmd.Flags().BoolVar(&resetStats, "stats", false, "Reset lifetime stats")
	rootCmd.AddCommand(resetCmd)
}

func resetCommand(cmd *cobra.Command, args []string) error {
	r, err := openRuntime()
	if err != nil {
		return err
	}
	defer r.Close()

	var msgs []string
	if resetHistory {
		msgs = append(msgs, host.MsgClearHistory)
	}
	if resetStats {
		msgs = append(msgs, host.MsgResetStats)
	}
	if len(msgs) == 0 {
		msgs = append(msgs, host.MsgResetAll)
	}

	for _, typ := range msgs {
		if _, err := r.host.Send(cmd.Context(), host.Message{Type: typ}); err != nil {
			return fmt.Errorf("%s failed: %w", typ, err)
		}
		fmt.Printf("✅ %s\n", resetLabel(typ))
	}
	return nil
}

func resetLabel(typ string) string {
	switch typ {
	case host.MsgClearHistory:
		return "History cleared."
	case host.MsgResetStats:
		return "Stats reset."
	default:
		return "Session and streak reset."
	}
}
