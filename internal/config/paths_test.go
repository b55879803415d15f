package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultConfigDir_LinuxXDG(t *testing.T) {
	if linuxConfigDir("/home/alice") != filepath.Join("/home/alice", ".config", appName) {
		t.Skip("only meaningful without XDG_CONFIG_HOME set")
	}
}

func TestLinuxConfigDir_RespectsXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/xdg")

	got := linuxConfigDir("/home/alice")
	want := filepath.Join("/custom/xdg", appName)

	if got != want {
		t.Errorf("linuxConfigDir = %q, want %q", got, want)
	}
}

func TestLinuxConfigDir_Fallback(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")

	got := linuxConfigDir("/home/alice")
	want := filepath.Join("/home/alice", ".config", appName)

	if got != want {
		t.Errorf("linuxConfigDir = %q, want %q", got, want)
	}
}

func TestDefaultConfigPath_JoinsConfigFileName(t *testing.T) {
	path := DefaultConfigPath()
	if path == "" {
		t.Skip("no home directory available in this environment")
	}

	if filepath.Base(path) != configFileName {
		t.Errorf("DefaultConfigPath() base = %q, want %q", filepath.Base(path), configFileName)
	}
}
