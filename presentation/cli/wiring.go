package cli

import (
	"fmt"

	"shop_automation/application/retry"
	"shop_automation/application/workflow"
	"shop_automation/domain/entities"
	"shop_automation/domain/interfaces"
	"shop_automation/infrastructure/browser"
	"shop_automation/infrastructure/config"
	"shop_automation/infrastructure/security"
	"shop_automation/infrastructure/storage"

	"github.com/sirupsen/logrus"
)

// browserConfig maps the browser and timeout sections onto the per-backend settings
func browserConfig(cfg *config.Config) browser.Config {
	return browser.Config{
		InProcess: browser.InProcessConfig{
			SlowMoMin:         cfg.Browser.SlowMoMin,
			SlowMoMax:         cfg.Browser.SlowMoMax,
			NavigationTimeout: cfg.Timeouts.Navigation,
		},
		Script: browser.ScriptConfig{
			Application: cfg.Browser.Application,
			BinaryPath:  cfg.Browser.BinaryPath,
			Attach:      cfg.Browser.Attach,
			StartupWait: cfg.Browser.StartupWait,
		},
		Remote: browser.RemoteConfig{
			BinaryPath:        cfg.Browser.BinaryPath,
			Host:              cfg.Browser.DebugHost,
			DebugPort:         cfg.Browser.DebugPort,
			Attach:            cfg.Browser.Attach,
			CommandTimeout:    cfg.Timeouts.Command,
			NavigationTimeout: cfg.Timeouts.Navigation,
		},
	}
}

// engineOptions converts the configuration into engine options
func engineOptions(cfg *config.Config) (workflow.Options, error) {
	nav, err := cfg.Retry.Navigation.Policy()
	if err != nil {
		return workflow.Options{}, fmt.Errorf("retry.navigation: %w", err)
	}
	stage, err := cfg.Retry.Stage.Policy()
	if err != nil {
		return workflow.Options{}, fmt.Errorf("retry.stage: %w", err)
	}
	return workflow.Options{
		TargetURL:        cfg.Target.URL,
		Site:             cfg.Site,
		Launch:           cfg.LaunchOptions(),
		NavigationPolicy: nav,
		StagePolicy:      stage,
		ElementTimeout:   cfg.Timeouts.Element,
		AuthTimeout:      cfg.Timeouts.AuthMarker,
		CartTimeout:      cfg.Timeouts.CartMarker,
		SettleDelay:      cfg.Timeouts.Settle,
		ArtifactsDir:     cfg.Artifacts.Dir,
	}, nil
}

func sessionStore(cfg *config.Config, logger *logrus.Logger) interfaces.SessionStore {
	if !cfg.Session.Enabled {
		return nil
	}
	return storage.NewFileSessionStore(cfg.Session.Dir, logger)
}

// buildEngine assembles transport, detector, session store and retrier for kind
func buildEngine(cfg *config.Config, kind entities.BackendKind, logger *logrus.Logger, extra ...workflow.EngineOption) (*workflow.Engine, error) {
	transport, err := browser.NewTransport(kind, logger, browserConfig(cfg))
	if err != nil {
		return nil, err
	}
	opts, err := engineOptions(cfg)
	if err != nil {
		return nil, err
	}
	options := append([]workflow.EngineOption{workflow.WithRetrier(retry.NewRetrier(logger))}, extra...)
	return workflow.NewEngine(
		transport,
		security.NewKeywordDetector(logger),
		sessionStore(cfg, logger),
		logger,
		opts,
		options...,
	), nil
}
