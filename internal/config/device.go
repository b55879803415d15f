package config

import (
	"cmp"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/duotree/agent/internal/device"
	"github.com/duotree/agent/internal/remoteid"
)

// defaultRemotePath is the remote root used for a GDRIVE device root when
// none is configured.
const defaultRemotePath = "/"

// DeviceRoot is the raw, as-decoded-from-TOML shape of one device-root
// section. Pointer fields distinguish "unset" (nil, inherit the global
// default) from an explicit false/empty override — see
// applyDeviceOverrides.
type DeviceRoot struct {
	TreeType     string   `toml:"tree_type"`
	RootPath     string   `toml:"root_path"`
	Alias        string   `toml:"alias"`
	Enabled      *bool    `toml:"enabled"`
	StateDir     string   `toml:"state_dir"`
	RemotePath   string   `toml:"remote_path"`
	Paused       bool     `toml:"paused"`
	PollInterval string   `toml:"poll_interval"`
	SkipDotfiles *bool    `toml:"skip_dotfiles"`
	SkipDirs     []string `toml:"skip_dirs"`
	SkipFiles    []string `toml:"skip_files"`
}

// ResolvedDeviceRoot contains device fields plus effective config sections
// after merging global defaults with per-device overrides and CLI/env
// flags. This is the final product consumed by the CLI and cache manager.
type ResolvedDeviceRoot struct {
	ID         string // config-file section key this device root was loaded from
	TreeType   device.TreeType
	Account    remoteid.AccountRef // zero for TreeTypeLocal
	Alias      string
	Enabled    bool
	Paused     bool
	RootPath   string // absolute local filesystem root; LOCAL device roots only
	StateDir   string // override for state DB directory (empty = platform default)
	RemotePath string // remote root path, GDRIVE only

	FilterConfig
	TransfersConfig
	SafetyConfig
	SyncConfig
	LoggingConfig
	NetworkConfig
}

// StatePath returns the per-device state DB path (spec.md §6 "one file per
// device", named by a stable identifier since device_uid itself is only
// assigned at runtime by device.Registry). When StateDir is set, the DB is
// placed inside that directory instead of the platform default data
// directory.
func (rd *ResolvedDeviceRoot) StatePath() string {
	sanitized := sanitizeForFilename(rd.ID)

	if rd.StateDir != "" {
		return filepath.Join(rd.StateDir, "state_"+sanitized+".db")
	}

	return DeviceStatePath(rd.ID)
}

func sanitizeForFilename(id string) string {
	return strings.NewReplacer(":", "_", "/", "_").Replace(id)
}

// MatchDeviceRoot selects a device root from the config by selector string.
// Matching precedence: exact section key > alias > partial substring. If
// selector is empty, auto-selects when exactly one device root is
// configured.
func MatchDeviceRoot(cfg *Config, selector string, logger *slog.Logger) (string, *DeviceRoot, error) {
	if len(cfg.Devices) == 0 {
		return "", nil, fmt.Errorf("no device roots configured — add one to the config file")
	}

	if selector == "" {
		return matchSingleDevice(cfg, logger)
	}

	return matchDeviceBySelector(cfg, selector, logger)
}

func matchSingleDevice(cfg *Config, logger *slog.Logger) (string, *DeviceRoot, error) {
	if len(cfg.Devices) == 1 {
		for id, dev := range cfg.Devices {
			logger.Debug("auto-selected single device root", "id", id)

			return id, dev, nil
		}
	}

	return "", nil, fmt.Errorf("multiple device roots configured — specify with --device")
}

func matchDeviceBySelector(cfg *Config, selector string, logger *slog.Logger) (string, *DeviceRoot, error) {
	if dev, ok := cfg.Devices[selector]; ok {
		logger.Debug("device root matched by exact id", "id", selector)

		return selector, dev, nil
	}

	for id, dev := range cfg.Devices {
		if dev.Alias == selector {
			logger.Debug("device root matched by alias", "alias", selector, "id", id)

			return id, dev, nil
		}
	}

	return matchDevicePartial(cfg, selector, logger)
}

func matchDevicePartial(cfg *Config, selector string, logger *slog.Logger) (string, *DeviceRoot, error) {
	var matches []string

	for id := range cfg.Devices {
		if strings.Contains(id, selector) {
			matches = append(matches, id)
		}
	}

	slices.SortFunc(matches, func(a, b string) int { return cmp.Compare(a, b) })

	if len(matches) == 1 {
		logger.Debug("device root matched by partial substring", "selector", selector, "id", matches[0])

		return matches[0], cfg.Devices[matches[0]], nil
	}

	if len(matches) > 1 {
		return "", nil, fmt.Errorf("ambiguous device selector %q matches: %s", selector, strings.Join(matches, ", "))
	}

	return "", nil, fmt.Errorf("no device root matching %q", selector)
}

// buildResolvedDeviceRoot creates a ResolvedDeviceRoot by starting with
// global config values and applying per-device overrides for fields the
// device section explicitly sets.
func buildResolvedDeviceRoot(cfg *Config, id string, dev *DeviceRoot, logger *slog.Logger) (*ResolvedDeviceRoot, error) {
	tt, err := device.ParseTreeType(dev.TreeType)
	if err != nil {
		return nil, fmt.Errorf("device %q: %w", id, err)
	}

	resolved := &ResolvedDeviceRoot{
		ID:              id,
		TreeType:        tt,
		Alias:           dev.Alias,
		Enabled:         dev.Enabled == nil || *dev.Enabled, // default true
		Paused:          dev.Paused,
		RootPath:        expandTilde(dev.RootPath),
		StateDir:        expandTilde(dev.StateDir),
		RemotePath:      dev.RemotePath,
		FilterConfig:    cfg.FilterConfig,
		TransfersConfig: cfg.TransfersConfig,
		SafetyConfig:    cfg.SafetyConfig,
		SyncConfig:      cfg.SyncConfig,
		LoggingConfig:   cfg.LoggingConfig,
		NetworkConfig:   cfg.NetworkConfig,
	}

	if tt == device.TreeTypeCloud {
		ref, err := remoteid.NewAccountRef(id)
		if err != nil {
			return nil, fmt.Errorf("device %q: GDRIVE device root section key must be a valid account ref: %w", id, err)
		}

		resolved.Account = ref

		if resolved.RemotePath == "" {
			resolved.RemotePath = defaultRemotePath
		}
	}

	applyDeviceOverrides(resolved, dev, logger)

	return resolved, nil
}

// applyDeviceOverrides selectively replaces global config values with
// per-device values for fields the device section explicitly sets.
func applyDeviceOverrides(resolved *ResolvedDeviceRoot, dev *DeviceRoot, logger *slog.Logger) {
	if dev.SkipDotfiles != nil {
		resolved.SkipDotfiles = *dev.SkipDotfiles
		logger.Debug("per-device override applied", "field", "skip_dotfiles", "value", *dev.SkipDotfiles)
	}

	if dev.SkipDirs != nil {
		resolved.SkipDirs = dev.SkipDirs
		logger.Debug("per-device override applied", "field", "skip_dirs", "count", len(dev.SkipDirs))
	}

	if dev.SkipFiles != nil {
		resolved.SkipFiles = dev.SkipFiles
		logger.Debug("per-device override applied", "field", "skip_files", "count", len(dev.SkipFiles))
	}

	if dev.PollInterval != "" {
		resolved.PollInterval = dev.PollInterval
		logger.Debug("per-device override applied", "field", "poll_interval", "value", dev.PollInterval)
	}
}

// expandTilde replaces a leading "~/" with the user's home directory. If
// os.UserHomeDir() fails, the path is returned unexpanded and a debug log
// is emitted; ValidateResolved() catches the resulting non-absolute path
// downstream and reports a clear error to the user.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		slog.Debug("expandTilde: could not determine home directory", "error", err)

		return path
	}

	return filepath.Join(home, path[2:])
}

// DeviceTokenPath returns the OAuth token file path for a cloud device's
// account ref, resolved through TokenAccountRef so shared roots reuse the
// token of the account they were shared into.
func DeviceTokenPath(ref remoteid.AccountRef) string {
	dataDir := DefaultDataDir()
	if dataDir == "" || ref.IsZero() {
		return ""
	}

	tokenRef := TokenAccountRef(ref)
	sanitized := sanitizeForFilename(tokenRef.String())

	return filepath.Join(dataDir, "token_"+sanitized+".json")
}

// DiscoverTokens lists token files in the default data directory and
// returns the account refs extracted from filenames. Token files follow
// the naming convention token_{tree_type}_{handle}.json. Used for smart
// error messages when no device roots are configured.
func DiscoverTokens(logger *slog.Logger) []string {
	dir := DefaultDataDir()
	if dir == "" {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Debug("cannot read data directory for token discovery", "dir", dir, "error", err)

		return nil
	}

	var refs []string

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		name := e.Name()
		if !strings.HasPrefix(name, "token_") || !strings.HasSuffix(name, ".json") {
			continue
		}

		inner := strings.TrimSuffix(strings.TrimPrefix(name, "token_"), ".json")
		if inner == "" {
			continue
		}

		refs = append(refs, strings.ReplaceAll(inner, "_", ":"))
	}

	slices.Sort(refs)
	logger.Debug("token discovery complete", "dir", dir, "count", len(refs))

	return refs
}

// DeviceStatePath returns the per-device state DB path for a given device
// id, using the platform default data directory.
func DeviceStatePath(id string) string {
	dataDir := DefaultDataDir()
	if dataDir == "" || id == "" {
		return ""
	}

	return filepath.Join(dataDir, "state_"+sanitizeForFilename(id)+".db")
}
