package device

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FilePerms restricts the long-device-id file to owner-only read/write,
// matching tokenfile's convention for small stable identity files.
const FilePerms = 0o600

// DirPerms is used when creating the device's cache directory.
const DirPerms = 0o700

// LoadOrCreateLongDeviceID reads the stable device UUID from
// device_uuid.txt under dir, creating one with a fresh random UUID (spec.md
// §3 Device: "long_device_id (stable UUID persisted in a file under the
// device)") if the file does not already exist.
func LoadOrCreateLongDeviceID(dir string) (string, error) {
	path := filepath.Join(dir, "device_uuid.txt")

	existing, err := readLongDeviceID(path)
	if err != nil {
		return "", err
	}

	if existing != "" {
		return existing, nil
	}

	fresh := uuid.New().String()
	if err := saveLongDeviceID(path, fresh); err != nil {
		return "", err
	}

	return fresh, nil
}

func readLongDeviceID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("device: reading %s: %w", path, err)
	}

	id := strings.TrimSpace(string(data))

	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("device: %s contains invalid UUID %q: %w", path, id, err)
	}

	return id, nil
}

// saveLongDeviceID writes id to path atomically: write to a temp file in the
// same directory, fsync, then rename — so a crash mid-write can never leave
// a truncated device_uuid.txt that a later run would mistake for valid.
func saveLongDeviceID(path, id string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("device: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".device_uuid-*.tmp")
	if err != nil {
		return fmt.Errorf("device: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("device: setting permissions: %w", err)
	}

	if _, err := tmp.WriteString(id + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("device: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("device: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("device: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("device: renaming: %w", err)
	}

	success = true

	return nil
}
