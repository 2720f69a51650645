package cli

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/gzhole/spendshield/internal/config"
	"github.com/gzhole/spendshield/internal/decision"
	"github.com/gzhole/spendshield/internal/gate"
	"github.com/gzhole/spendshield/internal/host"
	"github.com/gzhole/spendshield/internal/logger"
	"github.com/gzhole/spendshield/internal/page"
	"github.com/gzhole/spendshield/internal/policy"
	"github.com/gzhole/spendshield/internal/shield"
	"github.com/gzhole/spendshield/internal/store"
)

// runtime is everything a command that talks to the host needs.
type runtime struct {
	cfg      *config.Config
	settings config.Settings
	log      *zap.Logger
	matcher  *policy.Matcher
	store    *store.Store
	host     *host.Service
	audit    *logger.AuditLogger
}

// loadBase resolves paths, settings and the diagnostic logger.
func loadBase() (*config.Config, config.Settings, *zap.Logger, error) {
	cfg, err := config.Load(policyPath, logPath)
	if err != nil {
		return nil, config.Settings{}, nil, fmt.Errorf("failed to load config: %w", err)
	}
	settings, err := config.LoadSettings(cfg.SettingsPath)
	if err != nil {
		return nil, config.Settings{}, nil, fmt.Errorf("failed to load settings: %w", err)
	}
	level := settings.Engine.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	log, err := logger.NewZap(level, os.Stderr)
	if err != nil {
		return nil, config.Settings{}, nil, err
	}
	return cfg, settings, log, nil
}

// loadMatcher compiles the policy file merged with the enabled packs.
func loadMatcher(cfg *config.Config, log *zap.Logger) (*policy.Matcher, error) {
	pol, err := policy.Load(cfg.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}
	merged, infos, err := policy.LoadPacks(cfg.PacksDir, pol)
	if err != nil {
		log.Warn("policy packs not loaded", zap.String("dir", cfg.PacksDir), zap.Error(err))
	} else {
		pol = merged
		for _, info := range infos {
			log.Debug("policy pack", zap.String("name", info.Name), zap.Bool("enabled", info.Enabled))
		}
	}
	m, err := policy.Compile(pol)
	if err != nil {
		return nil, fmt.Errorf("failed to compile policy: %w", err)
	}
	return m, nil
}

func openRuntime() (*runtime, error) {
	cfg, settings, log, err := loadBase()
	if err != nil {
		return nil, err
	}
	matcher, err := loadMatcher(cfg, log)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	audit, err := logger.New(cfg.LogPath)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	return &runtime{
		cfg:      cfg,
		settings: settings,
		log:      log,
		matcher:  matcher,
		store:    st,
		host:     host.NewService(st, config.SettingsFile{Path: cfg.SettingsPath}, host.WithLogger(log)),
		audit:    audit,
	}, nil
}

func (r *runtime) Close() {
	_ = r.audit.Close()
	_ = r.store.Close()
	_ = r.log.Sync()
}

func (r *runtime) newShield(doc *page.Document, state *gate.State, pres decision.Presenter, sink shield.AuditSink, source string) *shield.Shield {
	if sink == nil {
		sink = r.audit
	}
	return shield.New(shield.Config{
		Doc:       doc,
		Matcher:   r.matcher,
		Channel:   r.host,
		Gate:      state,
		Presenter: pres,
		Audit:     sink,
		Source:    source,
		Logger:    r.log,
		Cooldown:  r.settings.Engine.Cooldown,
	})
}

func (r *runtime) newGate(state *gate.State, m *gate.Metrics) *gate.Gate {
	return gate.New(state, r.matcher,
		gate.WithHoldTimeout(r.settings.Engine.HoldTimeout),
		gate.WithMetrics(m),
		gate.WithLogger(r.log))
}

// resolvedSink forwards audit events and reports each one on done.
type resolvedSink struct {
	next shield.AuditSink
	done chan logger.AuditEvent
}

func (s *resolvedSink) Log(ev logger.AuditEvent) error {
	err := s.next.Log(ev)
	select {
	case s.done <- ev:
	default:
	}
	return err
}
