package cli

import (
	"fmt"

	"github.com/embedlink/embedlink/internal/api"
	"github.com/embedlink/embedlink/internal/config"
	"github.com/embedlink/embedlink/internal/events"
	"github.com/embedlink/embedlink/internal/intake"
	"github.com/embedlink/embedlink/internal/logging"
	"github.com/embedlink/embedlink/internal/operation"
)

// app bundles the collaborators every command builds on.
type app struct {
	cfg      *config.Config
	client   *api.Client
	bus      *events.EventBus
	previews *intake.Registry
	logger   *logging.Logger
}

// loadConfig loads the layered configuration and applies flag overrides.
func loadConfig() (*config.Config, error) {
	env := envFile
	if env == "" {
		env = config.DefaultEnvPath()
	}
	cfg, err := config.Load(cfgFile, env)
	if err != nil {
		return nil, err
	}
	if apiBaseURL != "" {
		cfg.APIBaseURL = apiBaseURL
		cfg.Normalize()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// newApp loads configuration and creates the API client, event bus and
// preview registry.
func newApp() (*app, error) {
	log := GetLogger()

	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if !verbose && !debug {
		if level, err := logging.ParseLevel(cfg.LogLevel); err == nil {
			logging.SetGlobalLevel(level)
		}
	}

	client, err := api.NewClient(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}
	if !client.Configured() {
		log.Warn().Msg("No API base URL configured; set api_base_url or use --api-url")
	}

	return &app{
		cfg:      cfg,
		client:   client,
		bus:      events.NewEventBus(256),
		previews: intake.NewRegistry(log),
		logger:   log,
	}, nil
}

func (a *app) options() operation.Options {
	return operation.OptionsFromConfig(a.cfg, a.bus, a.logger)
}

func (a *app) Close() {
	a.bus.Close()
}
