package cli

import (
	"github.com/spf13/cobra"
)

var (
	policyPath string
	logPath    string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "spendshield",
	Short: "SpendShield - pause impulse purchases before they happen",
	Long: `SpendShield intercepts purchase actions on shopping pages, works out how
much is about to be spent, rates it against your budget and monthly surplus,
and asks you to reflect before the order goes through.

It can run against a saved page, in front of a shop as a gating reverse
proxy, or alongside a live Chrome session.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&policyPath, "policy", "", "Path to policy YAML file (default: ~/.spendshield/policy.yaml)")
	rootCmd.PersistentFlags().StringVar(&logPath, "log", "", "Path to audit log file (default: ~/.spendshield/audit.jsonl)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Diagnostic log level (default: engine.log_level from settings)")
}

func Execute() error {
	return rootCmd.Execute()
}
