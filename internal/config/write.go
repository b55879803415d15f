package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// configFilePermissions is the standard permission mode for config files.
// Owner read/write, group and others read-only.
const configFilePermissions = 0o644

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// sectionHeaderPrefix is the line prefix that starts a TOML section header
// for device sections. Used to detect section boundaries in line-based edits.
const sectionHeaderPrefix = `["`

// configTemplate is the default config file content written on first run.
// All global settings are present as commented-out defaults so users can
// discover every option without reading docs. This template is written once
// and never regenerated — user modifications are preserved by subsequent
// text-level edits.
const configTemplate = `# duotree agent configuration

# ── Global settings ──
# Uncomment and modify to override defaults.

# Log verbosity: debug, info, warn, error
# log_level = "info"

# Log file path (default: platform standard location)
# log_file = ""

# Poll interval for the cloud remote-change poller
# poll_interval = "5m"

# ── Device roots ──
# One section per device root.
# Each section name is either a bare alias (tree_type = "LOCAL") or an
# account ref of the form "gdrive:<handle>" (tree_type = "GDRIVE").
# Filter settings (skip_dotfiles, skip_dirs, skip_files, etc.) may be set
# globally; a value set inside a device section replaces the global one.
`

// deviceSection generates the TOML text for a new device-root section. The
// blank line before the header is intentional — it visually separates
// device sections from each other and from the global settings.
func deviceSection(id string, dev *DeviceRoot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "\n[%q]\n", id)
	fmt.Fprintf(&b, "tree_type = %q\n", dev.TreeType)

	if dev.RootPath != "" {
		fmt.Fprintf(&b, "root_path = %q\n", dev.RootPath)
	}

	if dev.RemotePath != "" {
		fmt.Fprintf(&b, "remote_path = %q\n", dev.RemotePath)
	}

	if dev.Alias != "" {
		fmt.Fprintf(&b, "alias = %q\n", dev.Alias)
	}

	return b.String()
}

// CreateConfigWithDevice creates a new config file from the default
// template and appends a device-root section. No CLI command calls it.
// The write is atomic (temp file + rename) and parent directories are
// created as needed.
func CreateConfigWithDevice(path, id string, dev *DeviceRoot) error {
	slog.Info("creating config file with device root",
		"path", path,
		"id", id,
		"tree_type", dev.TreeType,
	)

	content := configTemplate + deviceSection(id, dev)

	return atomicWriteFile(path, []byte(content))
}

// AppendDeviceSection appends a new device-root section at the end of an
// existing config file. No CLI command calls it. The write is atomic to
// avoid partial writes on crash.
func AppendDeviceSection(path, id string, dev *DeviceRoot) error {
	slog.Info("appending device section to config", "path", path, "id", id)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	content := string(data)

	// Ensure the file ends with a newline before appending, so the new
	// section header starts on its own line.
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}

	content += deviceSection(id, dev)

	return atomicWriteFile(path, []byte(content))
}

// SetDeviceKey finds a device section by id and sets a key-value pair. If
// the key already exists within the section, its line is replaced. If not
// found, the key is inserted on the line after the section header.
//
// Value formatting: booleans ("true"/"false") are written without quotes;
// all other values are written as quoted strings.
func SetDeviceKey(path, id, key, value string) error {
	slog.Info("setting device key in config", "path", path, "id", id, "key", key, "value", value)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	lines := strings.Split(string(data), "\n")

	headerLine, sectionStart := findSectionHeader(lines, id)
	if sectionStart < 0 {
		return fmt.Errorf("device section %q not found in config", id)
	}

	formattedValue := formatTOMLValue(value)
	newLine := fmt.Sprintf("%s = %s", key, formattedValue)

	lines = setKeyInSection(lines, headerLine, sectionStart, key, newLine)

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
}

// DeleteDeviceKey removes a single key from a device section. Idempotent:
// returns nil if the key does not exist in the section. No CLI command
// calls it.
func DeleteDeviceKey(path, id, key string) error {
	slog.Info("deleting device key from config", "path", path, "id", id, "key", key)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	lines := strings.Split(string(data), "\n")

	headerLine, sectionStart := findSectionHeader(lines, id)
	if sectionStart < 0 {
		return fmt.Errorf("device section %q not found in config", id)
	}

	lines = deleteKeyInSection(lines, headerLine, sectionStart, key)

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
}

// DeleteDeviceSection removes a device-root section (header + all keys)
// from the config file. Also removes blank lines immediately preceding the
// section header for clean formatting. No CLI command calls it.
func DeleteDeviceSection(path, id string) error {
	slog.Info("deleting device section from config", "path", path, "id", id)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	lines := strings.Split(string(data), "\n")

	headerLine, sectionStart := findSectionHeader(lines, id)
	if sectionStart < 0 {
		return fmt.Errorf("device section %q not found in config", id)
	}

	sectionEnd := findSectionEnd(lines, sectionStart)

	// Remove preceding blank lines for clean formatting. Start from the
	// header line itself so the entire section (header + content) is deleted.
	blankStart := headerLine
	for blankStart > 0 && strings.TrimSpace(lines[blankStart-1]) == "" {
		blankStart--
	}

	lines = append(lines[:blankStart], lines[sectionEnd:]...)

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
}

// findSectionHeader locates the line index of a device section header.
// Returns the header line index and the section content start (header + 1).
// Returns -1 for both if the section is not found.
func findSectionHeader(lines []string, id string) (int, int) {
	header := fmt.Sprintf("[%q]", id)

	for i, line := range lines {
		if strings.TrimSpace(line) == header {
			return i, i + 1
		}
	}

	return -1, -1
}

// findSectionEnd returns the index of the first line after the section's
// own content. This excludes blank lines and comments that precede the
// next section header (those belong to the next section's preamble, not
// this section's content).
func findSectionEnd(lines []string, sectionStart int) int {
	nextHeader := len(lines)

	for i := sectionStart; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, sectionHeaderPrefix) {
			nextHeader = i

			break
		}
	}

	// Walk backwards from the next section header to skip blank lines and
	// comment lines that belong to the next section's preamble.
	end := nextHeader
	for end > sectionStart {
		trimmed := strings.TrimSpace(lines[end-1])
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			end--

			continue
		}

		break
	}

	return end
}

// deleteKeyInSection removes a key line from a section if it exists.
// Returns the original slice unchanged if the key is not found.
func deleteKeyInSection(lines []string, headerLine, sectionStart int, key string) []string {
	sectionEnd := findSectionEnd(lines, sectionStart)
	keyPrefix := key + " "
	keyPrefixEq := key + "="

	for i := headerLine + 1; i < sectionEnd; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, keyPrefix) || strings.HasPrefix(trimmed, keyPrefixEq) {
			return append(lines[:i], lines[i+1:]...)
		}
	}

	return lines
}

// setKeyInSection either replaces an existing key line or inserts a new
// one after the section header.
func setKeyInSection(lines []string, headerLine, sectionStart int, key, newLine string) []string {
	sectionEnd := findSectionEnd(lines, sectionStart)
	keyPrefix := key + " "
	keyPrefixEq := key + "="

	// Search for existing key within the section.
	for i := headerLine + 1; i < sectionEnd; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, keyPrefix) || strings.HasPrefix(trimmed, keyPrefixEq) {
			lines[i] = newLine

			return lines
		}
	}

	// Key not found — insert after header.
	inserted := make([]string, 0, len(lines)+1)
	inserted = append(inserted, lines[:headerLine+1]...)
	inserted = append(inserted, newLine)
	inserted = append(inserted, lines[headerLine+1:]...)

	return inserted
}

// formatTOMLValue formats a value for TOML output. Booleans are written
// bare (true/false); all other values are quoted strings.
func formatTOMLValue(value string) string {
	if value == "true" || value == "false" {
		return value
	}

	return fmt.Sprintf("%q", value)
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it to the target path. This prevents partial writes
// from corrupting the config file on crash. Parent directories are created
// as needed. Files are created with configFilePermissions (0644).
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	// Clean up the temp file on any error path.
	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	// Flush data to disk before rename. Without fsync, a power loss after
	// rename could leave the file empty (rename is metadata-only on POSIX).
	if err := f.Sync(); err != nil {
		f.Close()

		return fmt.Errorf("syncing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
