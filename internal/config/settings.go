package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/gzhole/spendshield/internal/risk"
)

const (
	maxSettingsFileSize = 1024 * 1024 // 1MB

	// EnvPrefix marks environment overrides. A double underscore separates
	// nested keys: SPENDSHIELD_ENGINE__HOLD_TIMEOUT -> engine.hold_timeout.
	EnvPrefix = "SPENDSHIELD_"
)

// Thresholds are the fixed risk cut-offs in the user's currency.
type Thresholds struct {
	Critical float64 `json:"critical" koanf:"critical" yaml:"critical"`
	High     float64 `json:"high" koanf:"high" yaml:"high"`
	Medium   float64 `json:"medium" koanf:"medium" yaml:"medium"`
}

// Engine holds runtime tunables that have no counterpart in the popup.
type Engine struct {
	HoldTimeout time.Duration `json:"holdTimeout" koanf:"hold_timeout" yaml:"hold_timeout"`
	Cooldown    time.Duration `json:"cooldown" koanf:"cooldown" yaml:"cooldown"`
	LogLevel    string        `json:"logLevel" koanf:"log_level" yaml:"log_level"`
	ProxyListen string        `json:"proxyListen" koanf:"proxy_listen" yaml:"proxy_listen"`
}

// Settings are the user-facing preferences.
type Settings struct {
	Enabled           bool       `json:"enabled" koanf:"enabled" yaml:"enabled"`
	MonthlyBudget     float64    `json:"monthlyBudget" koanf:"monthly_budget" yaml:"monthly_budget"`
	WarningThresholds Thresholds `json:"warningThresholds" koanf:"warning_thresholds" yaml:"warning_thresholds"`
	Currency          string     `json:"currency" koanf:"currency" yaml:"currency"`
	StreakGoalDays    int        `json:"streakGoalDays" koanf:"streak_goal_days" yaml:"streak_goal_days"`
	UserName          string     `json:"userName" koanf:"user_name" yaml:"user_name"`
	APIBase           string     `json:"apiBase" koanf:"api_base" yaml:"api_base"`
	Engine            Engine     `json:"engine" koanf:"engine" yaml:"engine"`
}

func DefaultSettings() Settings {
	return Settings{
		Enabled:           true,
		MonthlyBudget:     500,
		WarningThresholds: Thresholds{Critical: 200, High: 50, Medium: 15},
		Currency:          "£",
		StreakGoalDays:    7,
		APIBase:           "http://localhost:8000",
		Engine: Engine{
			HoldTimeout: 60 * time.Second,
			Cooldown:    30 * time.Second,
			LogLevel:    "info",
			ProxyListen: "127.0.0.1:0",
		},
	}
}

// RiskThresholds converts the cut-offs for the classifier.
func (s Settings) RiskThresholds() risk.Thresholds {
	return risk.Thresholds{
		Critical: decimal.NewFromFloat(s.WarningThresholds.Critical),
		High:     decimal.NewFromFloat(s.WarningThresholds.High),
		Medium:   decimal.NewFromFloat(s.WarningThresholds.Medium),
	}
}

// Budget returns the monthly budget as a decimal.
func (s Settings) Budget() decimal.Decimal {
	return decimal.NewFromFloat(s.MonthlyBudget)
}

// LoadSettings reads path over the defaults, then applies SPENDSHIELD_*
// environment overrides. A missing file is not an error.
//
// Precedence (highest to lowest):
//  1. Environment variables
//  2. The YAML settings file
//  3. DefaultSettings
func LoadSettings(path string) (Settings, error) {
	k := koanf.New(".")

	content, err := readSettingsFile(path)
	if err != nil {
		return Settings{}, err
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return Settings{}, fmt.Errorf("failed to load settings file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Settings{}, fmt.Errorf("failed to load environment variables: %w", err)
	}

	s := DefaultSettings()
	if err := k.Unmarshal("", &s); err != nil {
		return Settings{}, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// envKey maps SPENDSHIELD_WARNING_THRESHOLDS__HIGH to warning_thresholds.high.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func readSettingsFile(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat settings file: %w", err)
	}
	if info.Size() > maxSettingsFileSize {
		return nil, fmt.Errorf("settings file %s exceeds %d bytes", path, maxSettingsFileSize)
	}
	return os.ReadFile(path)
}

// Validate rejects values the classifier cannot work with.
func (s Settings) Validate() error {
	t := s.WarningThresholds
	if s.MonthlyBudget < 0 {
		return fmt.Errorf("monthly_budget must not be negative, got %v", s.MonthlyBudget)
	}
	if t.Medium < 0 || t.High < t.Medium || t.Critical < t.High {
		return fmt.Errorf("warning_thresholds must satisfy 0 <= medium <= high <= critical, got %v/%v/%v",
			t.Medium, t.High, t.Critical)
	}
	if s.Engine.HoldTimeout < 0 || s.Engine.Cooldown < 0 {
		return fmt.Errorf("engine durations must not be negative")
	}
	return nil
}

// SaveSettings writes s to path as YAML with owner-only permissions.
func SaveSettings(path string, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := yamlv3.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// SettingsFile is a settings source backed by a YAML file.
type SettingsFile struct {
	Path string
}

func (f SettingsFile) Load() (Settings, error) { return LoadSettings(f.Path) }

func (f SettingsFile) Save(s Settings) error { return SaveSettings(f.Path, s) }
