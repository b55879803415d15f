package config

import (
	"log/slog"
	"testing"
)

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv(EnvConfig, "/tmp/custom-config.toml")
	t.Setenv(EnvDevice, "laptop")

	logger := slog.Default()
	overrides := ReadEnvOverrides(logger)

	if overrides.ConfigPath != "/tmp/custom-config.toml" {
		t.Errorf("ConfigPath = %q, want /tmp/custom-config.toml", overrides.ConfigPath)
	}

	if overrides.Device != "laptop" {
		t.Errorf("Device = %q, want laptop", overrides.Device)
	}
}

func TestReadEnvOverrides_Unset(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvDevice, "")

	overrides := ReadEnvOverrides(slog.Default())

	if overrides.ConfigPath != "" || overrides.Device != "" {
		t.Errorf("expected empty overrides, got %+v", overrides)
	}
}
