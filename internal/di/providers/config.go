// Package providers contains dependency injection providers for the ezhuthu server.
package providers

import (
	"github.com/samber/do/v2"

	"github.com/ezhuthuapp/ezhuthu-server/internal/config"
	"github.com/ezhuthuapp/ezhuthu-server/internal/logger"
	"github.com/ezhuthuapp/ezhuthu-server/internal/validation"
)

// ProvideConfig returns a provider that loads configuration from args,
// the environment and the .env file.
func ProvideConfig(args []string) do.Provider[*config.Config] {
	return func(do.Injector) (*config.Config, error) {
		return config.Load(args)
	}
}

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*logger.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		AddSource:   cfg.IsDevelopment(),
		Environment: cfg.App.Environment,
	})

	log.Info("Starting ezhuthu server",
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"data_path", cfg.App.DataPath,
	)

	return log, nil
}

// ProvideValidator provides the shared struct validator.
func ProvideValidator(do.Injector) (*validation.Validator, error) {
	return validation.New(), nil
}
