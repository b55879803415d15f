package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}

	return path
}

func TestLoad_GlobalSettingsAndDeviceSection(t *testing.T) {
	path := writeTestConfig(t, `
log_level = "debug"
transfer_workers = 16

["laptop"]
tree_type = "LOCAL"
root_path = "/home/alice/sync"
alias = "mba"
`)

	cfg, err := Load(path, discardLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}

	if cfg.TransferWorkers != 16 {
		t.Errorf("TransferWorkers = %d, want 16", cfg.TransferWorkers)
	}

	dev, ok := cfg.Devices["laptop"]
	if !ok {
		t.Fatal("expected device section \"laptop\" to be decoded")
	}

	if dev.TreeType != "LOCAL" || dev.RootPath != "/home/alice/sync" || dev.Alias != "mba" {
		t.Errorf("unexpected device root: %+v", dev)
	}
}

func TestLoad_RejectsUnknownGlobalKey(t *testing.T) {
	path := writeTestConfig(t, `log_leve = "debug"`)

	if _, err := Load(path, discardLogger()); err == nil {
		t.Fatal("expected error for unknown global key")
	}
}

func TestLoad_RejectsUnknownDeviceKey(t *testing.T) {
	path := writeTestConfig(t, `
["laptop"]
tree_tipe = "LOCAL"
`)

	if _, err := Load(path, discardLogger()); err == nil {
		t.Fatal("expected error for unknown device key")
	}
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	path := writeTestConfig(t, `transfer_workers = 1000`)

	if _, err := Load(path, discardLogger()); err == nil {
		t.Fatal("expected validation error for out-of-range transfer_workers")
	}
}

func TestLoadOrDefault_MissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.toml")

	cfg, err := LoadOrDefault(path, discardLogger())
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}

	if cfg.TransferWorkers != defaultTransferWorkers {
		t.Errorf("expected default config, got TransferWorkers=%d", cfg.TransferWorkers)
	}
}

func TestResolveConfigPath_Precedence(t *testing.T) {
	env := EnvOverrides{ConfigPath: "/env/config.toml"}
	cli := CLIOverrides{}

	if got := ResolveConfigPath(env, cli, discardLogger()); got != "/env/config.toml" {
		t.Errorf("env override not applied, got %q", got)
	}

	cli.ConfigPath = "/cli/config.toml"
	if got := ResolveConfigPath(env, cli, discardLogger()); got != "/cli/config.toml" {
		t.Errorf("cli override should win over env, got %q", got)
	}
}

func TestResolveDeviceRoots_ExcludesPausedByDefault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Devices["active"] = &DeviceRoot{TreeType: "LOCAL", RootPath: "/home/alice/active"}
	cfg.Devices["paused"] = &DeviceRoot{TreeType: "LOCAL", RootPath: "/home/alice/paused", Paused: true}

	resolved, err := ResolveDeviceRoots(cfg, nil, false, discardLogger())
	if err != nil {
		t.Fatalf("ResolveDeviceRoots: %v", err)
	}

	if len(resolved) != 1 || resolved[0].ID != "active" {
		t.Errorf("expected only \"active\" device root, got %+v", resolved)
	}
}

func TestResolveDeviceRoots_IncludePaused(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Devices["active"] = &DeviceRoot{TreeType: "LOCAL", RootPath: "/home/alice/active"}
	cfg.Devices["paused"] = &DeviceRoot{TreeType: "LOCAL", RootPath: "/home/alice/paused", Paused: true}

	resolved, err := ResolveDeviceRoots(cfg, nil, true, discardLogger())
	if err != nil {
		t.Fatalf("ResolveDeviceRoots: %v", err)
	}

	if len(resolved) != 2 {
		t.Errorf("expected 2 device roots when includePaused=true, got %d", len(resolved))
	}
}

func TestResolveDeviceRoots_SortedByID(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Devices["zeta"] = &DeviceRoot{TreeType: "LOCAL", RootPath: "/z"}
	cfg.Devices["alpha"] = &DeviceRoot{TreeType: "LOCAL", RootPath: "/a"}

	resolved, err := ResolveDeviceRoots(cfg, nil, true, discardLogger())
	if err != nil {
		t.Fatalf("ResolveDeviceRoots: %v", err)
	}

	if len(resolved) != 2 || resolved[0].ID != "alpha" || resolved[1].ID != "zeta" {
		t.Errorf("expected sorted [alpha, zeta], got %+v", resolved)
	}
}
