package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gzhole/spendshield/internal/host"
	"github.com/gzhole/spendshield/internal/policy"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show SpendShield status - settings, today's session, policy, audit log",
	Long: `Check whether SpendShield is enabled and show the budget, today's
session, streak, synced profile, policy packs and audit log.

  spendshield status`,
	RunE: statusCommand,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusCommand(cmd *cobra.Command, args []string) error {
	r, err := openRuntime()
	if err != nil {
		return err
	}
	defer r.Close()

	resp, err := r.host.Send(cmd.Context(), host.Message{Type: host.MsgGetState})
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	st := resp.State
	s := st.Settings
	cur := s.Currency

	fmt.Println("═══════════════════════════════════════════════════════")
	fmt.Println("  SpendShield Status")
	fmt.Println("═══════════════════════════════════════════════════════")
	fmt.Println()

	binPath, err := os.Executable()
	if err != nil {
		binPath = "unknown"
	}
	fmt.Printf("  Binary:    %s (%s)\n", binPath, Version)
	fmt.Printf("  Config:    %s\n", r.cfg.ConfigDir)
	fmt.Println()

	fmt.Println("─── Settings ──────────────────────────────────────────")
	if s.Enabled {
		fmt.Println("  ✅ Shield enabled")
	} else {
		fmt.Println("  ⚠  Shield disabled")
	}
	fmt.Printf("  Monthly budget:  %s%.2f\n", cur, s.MonthlyBudget)
	t := s.WarningThresholds
	fmt.Printf("  Thresholds:      critical %s%g, high %s%g, medium %s%g\n", cur, t.Critical, cur, t.High, cur, t.Medium)
	fmt.Printf("  Hold timeout:    %s, cooldown %s\n", s.Engine.HoldTimeout, s.Engine.Cooldown)
	fmt.Println()

	fmt.Println("─── Today ─────────────────────────────────────────────")
	fmt.Printf("  Intercepted:     %d\n", st.Session.InterceptCount)
	fmt.Printf("  Proceeded:       %d\n", st.Session.ProceededCount)
	fmt.Printf("  Spent today:     %s%s\n", cur, st.Session.SessionSpend.StringFixed(2))
	fmt.Printf("  Spent this month %s%s\n", cur, st.Session.MonthlySpend.StringFixed(2))
	fmt.Printf("  Streak:          %d day(s), best %d, goal %d\n", st.Streak.Current, st.Streak.Best, s.StreakGoalDays)
	fmt.Printf("  Kept overall:    %s%s over %d decision(s)\n", cur, st.Stats.TotalSaved.StringFixed(2), st.Stats.TotalBlocked)
	fmt.Println()

	fmt.Println("─── Profile ───────────────────────────────────────────")
	if s.UserName == "" {
		fmt.Println("  ⬚  No user set (spendshield sync --user <name>)")
	} else {
		fmt.Printf("  User: %s via %s\n", s.UserName, s.APIBase)
		printProfile(st.Profile)
	}
	fmt.Println()

	fmt.Println("─── Policy ────────────────────────────────────────────")
	checkPolicyFile("Policy", r.cfg.PolicyPath)
	_, infos, err := policy.LoadPacks(r.cfg.PacksDir, policy.DefaultPolicy())
	if err == nil && len(infos) > 0 {
		enabled := 0
		for _, info := range infos {
			if info.Enabled {
				enabled++
			}
		}
		fmt.Printf("  ✅ Policy packs: %d installed, %d enabled\n", len(infos), enabled)
	} else {
		fmt.Println("  ⬚  No policy packs installed")
	}
	fmt.Println()

	fmt.Println("─── Audit Log ─────────────────────────────────────────")
	checkAuditLog(r.cfg.LogPath)
	fmt.Println()

	return nil
}

func checkPolicyFile(name, path string) {
	if path == "" {
		fmt.Printf("  ⬚  %s: using built-in defaults\n", name)
		return
	}
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  ✅ %s: %s\n", name, path)
	} else {
		fmt.Printf("  ⬚  %s: using built-in defaults (no custom file)\n", name)
	}
}

func checkAuditLog(path string) {
	if path == "" {
		fmt.Println("  ⬚  No audit log path configured")
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		fmt.Printf("  ⬚  %s (not yet created, starts on first decision)\n", path)
		return
	}

	sizeKB := info.Size() / 1024
	if sizeKB == 0 {
		fmt.Printf("  ✅ %s (<1 KB)\n", path)
	} else {
		fmt.Printf("  ✅ %s (%d KB)\n", path, sizeKB)
	}
}
