package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFrom_Defaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", ".spendshield")
	cfg, err := LoadFrom(dir, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("config dir not created: %v", err)
	}
	if cfg.PolicyPath != filepath.Join(dir, "policy.yaml") || cfg.LogPath != filepath.Join(dir, "audit.jsonl") {
		t.Errorf("unexpected paths %+v", cfg)
	}
	if cfg.DBPath != filepath.Join(dir, "spendshield.db") || cfg.PacksDir != filepath.Join(dir, "packs") {
		t.Errorf("unexpected paths %+v", cfg)
	}
}

func TestLoad_HomeOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(HomeEnv, dir)
	cfg, err := Load("/tmp/p.yaml", "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ConfigDir != dir || cfg.PolicyPath != "/tmp/p.yaml" {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestLoadSettings_MissingFile(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "settings.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	def := DefaultSettings()
	if s != def {
		t.Errorf("got %+v, want defaults %+v", s, def)
	}
}

func TestLoadSettings_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := `
monthly_budget: 800
currency: "$"
warning_thresholds:
  critical: 300
  high: 80
  medium: 20
engine:
  hold_timeout: 45s
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SPENDSHIELD_USER_NAME", "alex")
	t.Setenv("SPENDSHIELD_WARNING_THRESHOLDS__HIGH", "90")
	t.Setenv("SPENDSHIELD_ENGINE__COOLDOWN", "5s")

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.MonthlyBudget != 800 || s.Currency != "$" || s.UserName != "alex" {
		t.Errorf("unexpected settings %+v", s)
	}
	if s.WarningThresholds != (Thresholds{Critical: 300, High: 90, Medium: 20}) {
		t.Errorf("thresholds = %+v", s.WarningThresholds)
	}
	if s.Engine.HoldTimeout != 45*time.Second || s.Engine.Cooldown != 5*time.Second {
		t.Errorf("engine = %+v", s.Engine)
	}
	if !s.Enabled || s.StreakGoalDays != 7 {
		t.Errorf("unset keys should keep defaults, got %+v", s)
	}
}

func TestLoadSettings_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "monthly_budget: [1"},
		{"inverted thresholds", "warning_thresholds:\n  critical: 10\n  high: 50\n  medium: 5\n"},
		{"negative budget", "monthly_budget: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadSettings(path); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestSaveSettings_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	s := DefaultSettings()
	s.UserName = "sam"
	s.Enabled = false
	s.Engine.Cooldown = 10 * time.Second
	if err := SaveSettings(path, s); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("permissions = %04o", info.Mode().Perm())
	}
	got, err := LoadSettings(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != s {
		t.Errorf("got %+v, want %+v", got, s)
	}
}

func TestSettings_RiskThresholds(t *testing.T) {
	th := DefaultSettings().RiskThresholds()
	if th.Critical.String() != "200" || th.High.String() != "50" || th.Medium.String() != "15" {
		t.Errorf("thresholds = %+v", th)
	}
	if DefaultSettings().Budget().String() != "500" {
		t.Error("budget should be 500")
	}
}

func TestWatcher_Reloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	if err := SaveSettings(path, DefaultSettings()); err != nil {
		t.Fatal(err)
	}

	changes := make(chan Settings, 4)
	w, err := NewWatcher(path, func(s Settings) { changes <- s }, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Unrelated files in the directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	s := DefaultSettings()
	s.MonthlyBudget = 1200
	if err := SaveSettings(path, s); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-changes:
		if got.MonthlyBudget != 1200 {
			t.Errorf("reloaded budget = %v", got.MonthlyBudget)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("settings change not observed")
	}
}
