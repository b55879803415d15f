package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// validateDevices checks all device-root-level constraints: per-device
// setting validity and root_path uniqueness across every configured LOCAL
// device root (only LOCAL roots occupy a local path; GDRIVE roots live in
// the cache store).
func validateDevices(cfg *Config) []error {
	if len(cfg.Devices) == 0 {
		return nil // no devices is valid (agent hasn't been configured yet)
	}

	var errs []error

	rootPaths := make(map[string]string, len(cfg.Devices))

	for id, dev := range cfg.Devices {
		errs = append(errs, validateSingleDevice(id, dev, rootPaths)...)
	}

	errs = append(errs, checkRootPathOverlap(rootPaths)...)

	return errs
}

// validateSingleDevice validates one device root's fields and checks
// root_path uniqueness. Empty root_path is valid for a GDRIVE device —
// runtime defaults are computed in buildResolvedDeviceRoot.
func validateSingleDevice(id string, dev *DeviceRoot, rootPaths map[string]string) []error {
	var errs []error

	if dev.PollInterval != "" {
		if err := validateDuration("poll_interval", dev.PollInterval, minPollInterval); err != nil {
			errs = append(errs, fmt.Errorf("device %q: %w", id, err))
		}
	}

	if dev.TreeType == "LOCAL" {
		errs = append(errs, checkDeviceRootPathUniqueness(id, dev, rootPaths)...)
	}

	return errs
}

// checkDeviceRootPathUniqueness ensures no two LOCAL device roots share the
// same expanded root_path.
func checkDeviceRootPathUniqueness(id string, dev *DeviceRoot, seen map[string]string) []error {
	if dev.RootPath == "" {
		return nil
	}

	expanded := expandTilde(dev.RootPath)

	if other, exists := seen[expanded]; exists {
		return []error{fmt.Errorf(
			"devices %q and %q have the same root_path %q", other, id, dev.RootPath)}
	}

	seen[expanded] = id

	return nil
}

// checkRootPathOverlap detects ancestor/descendant relationships between
// LOCAL device roots' paths. Two device roots whose paths overlap (one is a
// parent of the other) would cause duplicate scanning of the same files.
// The rootPaths map contains expanded paths -> device IDs, populated by
// checkDeviceRootPathUniqueness.
func checkRootPathOverlap(rootPaths map[string]string) []error {
	type entry struct {
		path string
		id   string
	}

	entries := make([]entry, 0, len(rootPaths))
	for path, id := range rootPaths {
		entries = append(entries, entry{path: filepath.Clean(path), id: id})
	}

	var errs []error

	for i := range entries {
		for j := i + 1; j < len(entries); j++ {
			if isAncestorOrDescendant(entries[i].path, entries[j].path) {
				errs = append(errs, fmt.Errorf(
					"root_path overlap: devices %q and %q have nested directories (%s, %s)",
					entries[i].id, entries[j].id, entries[i].path, entries[j].path))
			}
		}
	}

	return errs
}

// isAncestorOrDescendant returns true if a is an ancestor of b or b is an
// ancestor of a. Uses filepath.Separator suffix to avoid false positives
// from path prefixes (e.g. "/sync" vs "/syncBackup").
func isAncestorOrDescendant(a, b string) bool {
	aSlash := a + string(filepath.Separator)
	bSlash := b + string(filepath.Separator)

	return strings.HasPrefix(bSlash, aSlash) || strings.HasPrefix(aSlash, bSlash)
}
