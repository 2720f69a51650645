package config

import (
	"os"
	"path/filepath"
)

const (
	DefaultConfigDir    = ".spendshield"
	DefaultSettingsFile = "settings.yaml"
	DefaultPolicyFile   = "policy.yaml"
	DefaultPacksDir     = "packs"
	DefaultLogFile      = "audit.jsonl"
	DefaultDBFile       = "spendshield.db"

	// HomeEnv overrides the configuration directory.
	HomeEnv = "SPENDSHIELD_HOME"
)

// Config holds the on-disk locations the CLI works with.
type Config struct {
	ConfigDir    string
	SettingsPath string
	PolicyPath   string
	PacksDir     string
	LogPath      string
	DBPath       string
}

// Load resolves paths under ~/.spendshield (or $SPENDSHIELD_HOME) and
// creates the directory. Non-empty policyPath and logPath take precedence
// over the defaults.
func Load(policyPath, logPath string) (*Config, error) {
	configDir := os.Getenv(HomeEnv)
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		configDir = filepath.Join(homeDir, DefaultConfigDir)
	}
	return LoadFrom(configDir, policyPath, logPath)
}

// LoadFrom is Load rooted at an explicit directory.
func LoadFrom(configDir, policyPath, logPath string) (*Config, error) {
	if err := ensureDir(configDir); err != nil {
		return nil, err
	}

	cfg := &Config{
		ConfigDir:    configDir,
		SettingsPath: filepath.Join(configDir, DefaultSettingsFile),
		PacksDir:     filepath.Join(configDir, DefaultPacksDir),
		DBPath:       filepath.Join(configDir, DefaultDBFile),
	}

	if policyPath != "" {
		cfg.PolicyPath = policyPath
	} else {
		cfg.PolicyPath = filepath.Join(configDir, DefaultPolicyFile)
	}

	if logPath != "" {
		cfg.LogPath = logPath
	} else {
		cfg.LogPath = filepath.Join(configDir, DefaultLogFile)
	}

	return cfg, nil
}

func ensureDir(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, 0700)
	}
	return nil
}
