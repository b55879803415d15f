package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCreateConfigWithDevice(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	dev := &DeviceRoot{TreeType: "LOCAL", RootPath: "/home/alice/sync"}

	if err := CreateConfigWithDevice(path, "laptop", dev); err != nil {
		t.Fatalf("CreateConfigWithDevice: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading written config: %v", err)
	}

	content := string(data)
	if !strings.Contains(content, `["laptop"]`) {
		t.Error("expected device section header in written config")
	}

	if !strings.Contains(content, `tree_type = "LOCAL"`) {
		t.Error("expected tree_type key in written device section")
	}
}

func TestAppendDeviceSection(t *testing.T) {
	path := writeTestConfig(t, `log_level = "info"
`)

	dev := &DeviceRoot{TreeType: "GDRIVE", RemotePath: "/"}
	if err := AppendDeviceSection(path, "GDRIVE:alice@example.com", dev); err != nil {
		t.Fatalf("AppendDeviceSection: %v", err)
	}

	cfg, err := Load(path, discardLogger())
	if err != nil {
		t.Fatalf("Load after append: %v", err)
	}

	if _, ok := cfg.Devices["GDRIVE:alice@example.com"]; !ok {
		t.Error("expected appended device section to round-trip through Load")
	}
}

func TestSetDeviceKey_InsertsAndReplaces(t *testing.T) {
	path := writeTestConfig(t, `
["laptop"]
tree_type = "LOCAL"
root_path = "/home/alice/sync"
`)

	if err := SetDeviceKey(path, "laptop", "alias", "mba"); err != nil {
		t.Fatalf("SetDeviceKey (insert): %v", err)
	}

	if err := SetDeviceKey(path, "laptop", "alias", "work-laptop"); err != nil {
		t.Fatalf("SetDeviceKey (replace): %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading config: %v", err)
	}

	content := string(data)
	if strings.Count(content, "alias") != 1 {
		t.Errorf("expected exactly one alias line, got content:\n%s", content)
	}

	if !strings.Contains(content, `alias = "work-laptop"`) {
		t.Errorf("expected replaced alias value, got content:\n%s", content)
	}
}

func TestDeleteDeviceKey_Idempotent(t *testing.T) {
	path := writeTestConfig(t, `
["laptop"]
tree_type = "LOCAL"
root_path = "/home/alice/sync"
paused = true
`)

	if err := DeleteDeviceKey(path, "laptop", "paused"); err != nil {
		t.Fatalf("DeleteDeviceKey: %v", err)
	}

	if err := DeleteDeviceKey(path, "laptop", "paused"); err != nil {
		t.Fatalf("DeleteDeviceKey should be idempotent, got: %v", err)
	}

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "paused") {
		t.Error("expected paused key to be removed")
	}
}

func TestDeleteDeviceSection(t *testing.T) {
	path := writeTestConfig(t, `
log_level = "info"

["laptop"]
tree_type = "LOCAL"
root_path = "/home/alice/sync"

["desktop"]
tree_type = "LOCAL"
root_path = "/home/bob/sync"
`)

	if err := DeleteDeviceSection(path, "laptop"); err != nil {
		t.Fatalf("DeleteDeviceSection: %v", err)
	}

	cfg, err := Load(path, discardLogger())
	if err != nil {
		t.Fatalf("Load after delete: %v", err)
	}

	if _, ok := cfg.Devices["laptop"]; ok {
		t.Error("expected laptop section to be removed")
	}

	if _, ok := cfg.Devices["desktop"]; !ok {
		t.Error("expected desktop section to survive deletion of laptop")
	}
}

func TestFormatTOMLValue(t *testing.T) {
	if got := formatTOMLValue("true"); got != "true" {
		t.Errorf("formatTOMLValue(true) = %q, want true", got)
	}

	if got := formatTOMLValue("hello"); got != `"hello"` {
		t.Errorf("formatTOMLValue(hello) = %q, want quoted", got)
	}
}
