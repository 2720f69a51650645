package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gzhole/spendshield/internal/config"
	"github.com/gzhole/spendshield/internal/policy"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Write default settings and policy files",
	Long: `Create ~/.spendshield with a settings file, an editable copy of the
built-in policy and an empty packs directory. Existing files are kept unless
--force is given.

  spendshield setup
  spendshield setup --budget 750 --currency "$" --user alex`,
	RunE: setupCommand,
}

var (
	setupForce    bool
	setupBudget   float64
	setupCurrency string
	setupUser     string
)

func init() {
	setupCmd.Flags().BoolVar(&setupForce, "force", false, "Overwrite existing settings and policy files")
	setupCmd.Flags().Float64Var(&setupBudget, "budget", 0, "Monthly budget")
	setupCmd.Flags().StringVar(&setupCurrency, "currency", "", "Currency symbol")
	setupCmd.Flags().StringVar(&setupUser, "user", "", "User name on the scoring service")
	rootCmd.AddCommand(setupCmd)
}

func setupCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(policyPath, logPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.PacksDir, 0700); err != nil {
		return fmt.Errorf("failed to create packs dir: %w", err)
	}

	settings, err := config.LoadSettings(cfg.SettingsPath)
	if err != nil {
		if !setupForce {
			return fmt.Errorf("existing settings are invalid (use --force to replace): %w", err)
		}
		settings = config.DefaultSettings()
	}
	if setupBudget > 0 {
		settings.MonthlyBudget = setupBudget
	}
	if setupCurrency != "" {
		settings.Currency = setupCurrency
	}
	if setupUser != "" {
		settings.UserName = setupUser
	}
	if err := writeIfAbsent(cfg.SettingsPath, setupForce || cmd.Flags().NFlag() > 0, func() error {
		return config.SaveSettings(cfg.SettingsPath, settings)
	}); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}

	if err := writeIfAbsent(cfg.PolicyPath, setupForce, func() error {
		data, err := yaml.Marshal(policy.DefaultPolicy())
		if err != nil {
			return err
		}
		return os.WriteFile(cfg.PolicyPath, data, 0600)
	}); err != nil {
		return fmt.Errorf("failed to write policy: %w", err)
	}

	fmt.Println("✅ SpendShield is set up.")
	fmt.Printf("   Settings: %s\n", cfg.SettingsPath)
	fmt.Printf("   Policy:   %s\n", cfg.PolicyPath)
	fmt.Printf("   Packs:    %s\n", cfg.PacksDir)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  spendshield sync --user <name>                  # rate purchases against your surplus")
	fmt.Println("  spendshield proxy --upstream http://localhost:3000")
	fmt.Println("  spendshield watch https://www.amazon.co.uk")
	return nil
}

func writeIfAbsent(path string, overwrite bool, write func() error) error {
	if _, err := os.Stat(path); err == nil && !overwrite {
		fmt.Printf("   kept existing %s\n", path)
		return nil
	}
	return write()
}
