package config

import (
	"log/slog"
	"os"
)

// Environment variable names for overrides.
const (
	EnvConfig = "DUOTREE_CONFIG"
	EnvDevice = "DUOTREE_DEVICE"
)

// EnvOverrides holds values derived from environment variables. These sit
// above the config file and below CLI flags in the four-layer override
// chain (defaults < config file < environment < CLI).
type EnvOverrides struct {
	ConfigPath string // DUOTREE_CONFIG: override config file path
	Device     string // DUOTREE_DEVICE: active device-root selector
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides(logger *slog.Logger) EnvOverrides {
	overrides := EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Device:     os.Getenv(EnvDevice),
	}

	if overrides.ConfigPath != "" {
		logger.Debug("env override", slog.String("var", EnvConfig), slog.String("value", overrides.ConfigPath))
	}

	if overrides.Device != "" {
		logger.Debug("env override", slog.String("var", EnvDevice), slog.String("value", overrides.Device))
	}

	return overrides
}
