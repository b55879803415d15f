package config

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/BurntSushi/toml"
)

// CLIOverrides holds values set by command-line flags, the topmost layer
// in the four-layer override chain (defaults < config file < environment <
// CLI).
type CLIOverrides struct {
	ConfigPath string
	Device     string
	DryRun     *bool
}

// Load reads and parses a TOML config file using a two-pass decode,
// validates it, and returns the resulting Config. Pass 1 decodes flat
// global settings into embedded structs. Pass 2 extracts device-root
// sections: any top-level table value is treated as one device root.
// Unknown keys are treated as fatal errors with "did you mean?" suggestions.
func Load(path string, logger *slog.Logger) (*Config, error) {
	logger.Debug("loading config file", "path", path)

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := decodeDeviceSections(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md, cfg.Devices); err != nil {
		return nil, err
	}

	var rawMap map[string]any
	if _, decodeErr := toml.Decode(string(data), &rawMap); decodeErr == nil {
		WarnDeprecatedKeys(rawMap, logger)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger.Debug("config file parsed successfully",
		"path", path,
		"device_count", len(cfg.Devices),
	)

	return cfg, nil
}

// decodeDeviceSections performs the second TOML decode pass to extract
// device-root sections. A top-level key is a device-root section when its
// value decodes as a table (every known global setting is a scalar, a
// list, or the bandwidth_schedule array-of-tables, never a bare table).
func decodeDeviceSections(data []byte, cfg *Config) error {
	var rawMap map[string]any
	if _, err := toml.Decode(string(data), &rawMap); err != nil {
		return fmt.Errorf("device sections: %w", err)
	}

	for key, val := range rawMap {
		deviceMap, ok := val.(map[string]any)
		if !ok {
			continue // scalar/array global setting, handled by pass 1
		}

		if err := checkDeviceUnknownKeys(deviceMap, key); err != nil {
			return err
		}

		var dev DeviceRoot
		if err := mapToDeviceRoot(deviceMap, &dev); err != nil {
			return fmt.Errorf("device section [%q]: %w", key, err)
		}

		cfg.Devices[key] = &dev
	}

	return nil
}

// mapToDeviceRoot converts a raw map to a DeviceRoot struct by re-encoding
// as TOML and decoding into the typed struct. This reuses the TOML
// library's type coercion rather than hand-writing map extraction for each
// field.
func mapToDeviceRoot(m map[string]any, d *DeviceRoot) error {
	var buf bytes.Buffer

	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encoding device data: %w", err)
	}

	if _, err := toml.Decode(buf.String(), d); err != nil {
		return fmt.Errorf("decoding device data: %w", err)
	}

	return nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values. This supports the zero-config
// first-run experience: the agent can start without a config file present.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("config file not found, using defaults", "path", path)

		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// ResolveDeviceRoot loads configuration and applies the four-layer override
// chain: defaults -> config file -> environment variables -> CLI flags. It
// returns the fully resolved device root and the raw parsed config (needed
// for shared-root token resolution via TokenAccountRef).
func ResolveDeviceRoot(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*ResolvedDeviceRoot, *Config, error) {
	cfgPath := ResolveConfigPath(env, cli, logger)

	cfg, err := LoadOrDefault(cfgPath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	selector := env.Device
	if cli.Device != "" {
		selector = cli.Device
	}

	logger.Debug("device selector resolved",
		"selector", selector,
		"source_env", env.Device,
		"source_cli", cli.Device,
	)

	id, dev, err := MatchDeviceRoot(cfg, selector, logger)
	if err != nil {
		return nil, nil, err
	}

	resolved, err := buildResolvedDeviceRoot(cfg, id, dev, logger)
	if err != nil {
		return nil, nil, err
	}

	if cli.DryRun != nil {
		resolved.DryRun = *cli.DryRun
		logger.Debug("CLI override applied", "dry_run", resolved.DryRun)
	}

	if err := ValidateResolved(resolved); err != nil {
		return nil, nil, fmt.Errorf("config validation: %w", err)
	}

	return resolved, cfg, nil
}

// ResolveDeviceRoots resolves multiple device roots from the config,
// applying global defaults and per-device overrides. When selectors is
// non-empty, only device roots matching those selectors (via
// MatchDeviceRoot) are included. When includePaused is false, paused
// device roots are excluded. Results are sorted by ID for deterministic
// ordering.
func ResolveDeviceRoots(cfg *Config, selectors []string, includePaused bool, logger *slog.Logger) ([]*ResolvedDeviceRoot, error) {
	if len(cfg.Devices) == 0 {
		return nil, nil
	}

	type candidate struct {
		id  string
		dev *DeviceRoot
	}

	var candidates []candidate

	if len(selectors) > 0 {
		for _, sel := range selectors {
			id, dev, err := MatchDeviceRoot(cfg, sel, logger)
			if err != nil {
				return nil, fmt.Errorf("resolving selector %q: %w", sel, err)
			}

			candidates = append(candidates, candidate{id: id, dev: dev})
		}
	} else {
		for id, dev := range cfg.Devices {
			candidates = append(candidates, candidate{id: id, dev: dev})
		}
	}

	var resolved []*ResolvedDeviceRoot

	for i := range candidates {
		rd, err := buildResolvedDeviceRoot(cfg, candidates[i].id, candidates[i].dev, logger)
		if err != nil {
			return nil, err
		}

		if !includePaused && rd.Paused {
			logger.Debug("skipping paused device root", "id", candidates[i].id)

			continue
		}

		resolved = append(resolved, rd)
	}

	slices.SortFunc(resolved, func(a, b *ResolvedDeviceRoot) int {
		return cmp.Compare(a.ID, b.ID)
	})

	logger.Debug("resolved device roots", "count", len(resolved), "total", len(cfg.Devices))

	return resolved, nil
}

// ResolveConfigPath determines the config file path using the three-layer
// priority: CLI flag > environment variable > platform default. This is
// the single correct implementation of config path resolution — every
// caller (the daemon's runServe, ResolveDeviceRoot) uses it.
func ResolveConfigPath(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) string {
	cfgPath := DefaultConfigPath()
	source := "default"

	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
		source = "env"
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
		source = "cli"
	}

	logger.Debug("config path resolved", "path", cfgPath, "source", source)

	return cfgPath
}
