package config

import (
	"log/slog"
	"os"
	"testing"

	"github.com/duotree/agent/internal/device"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestMatchDeviceRoot_NoDevices(t *testing.T) {
	cfg := DefaultConfig()

	if _, _, err := MatchDeviceRoot(cfg, "", discardLogger()); err == nil {
		t.Fatal("expected error when no device roots are configured")
	}
}

func TestMatchDeviceRoot_AutoSelectsSingle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Devices["laptop"] = &DeviceRoot{TreeType: "LOCAL", RootPath: "/home/alice/sync"}

	id, dev, err := MatchDeviceRoot(cfg, "", discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if id != "laptop" || dev.RootPath != "/home/alice/sync" {
		t.Errorf("got id=%q dev=%+v, want laptop with root_path set", id, dev)
	}
}

func TestMatchDeviceRoot_AmbiguousWithoutSelector(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Devices["laptop"] = &DeviceRoot{TreeType: "LOCAL", RootPath: "/home/alice/sync"}
	cfg.Devices["desktop"] = &DeviceRoot{TreeType: "LOCAL", RootPath: "/home/bob/sync"}

	if _, _, err := MatchDeviceRoot(cfg, "", discardLogger()); err == nil {
		t.Fatal("expected ambiguity error when multiple devices and no selector")
	}
}

func TestMatchDeviceRoot_ByAlias(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Devices["laptop"] = &DeviceRoot{TreeType: "LOCAL", RootPath: "/home/alice/sync", Alias: "mba"}

	id, _, err := MatchDeviceRoot(cfg, "mba", discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if id != "laptop" {
		t.Errorf("matched id = %q, want laptop", id)
	}
}

func TestMatchDeviceRoot_PartialAmbiguous(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Devices["laptop-1"] = &DeviceRoot{TreeType: "LOCAL", RootPath: "/a"}
	cfg.Devices["laptop-2"] = &DeviceRoot{TreeType: "LOCAL", RootPath: "/b"}

	if _, _, err := MatchDeviceRoot(cfg, "laptop", discardLogger()); err == nil {
		t.Fatal("expected ambiguous-selector error")
	}
}

func TestBuildResolvedDeviceRoot_Local(t *testing.T) {
	cfg := DefaultConfig()
	dev := &DeviceRoot{TreeType: "LOCAL", RootPath: "/home/alice/sync"}

	rd, err := buildResolvedDeviceRoot(cfg, "laptop", dev, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rd.TreeType != device.TreeTypeLocal {
		t.Errorf("TreeType = %v, want TreeTypeLocal", rd.TreeType)
	}

	if !rd.Account.IsZero() {
		t.Error("LOCAL device root must have a zero Account")
	}

	if !rd.Enabled {
		t.Error("Enabled should default to true when unset")
	}
}

func TestBuildResolvedDeviceRoot_Cloud(t *testing.T) {
	cfg := DefaultConfig()
	dev := &DeviceRoot{TreeType: "GDRIVE"}

	rd, err := buildResolvedDeviceRoot(cfg, "GDRIVE:alice@example.com", dev, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rd.Account.IsZero() {
		t.Error("GDRIVE device root must resolve a non-zero Account")
	}

	if rd.RemotePath != defaultRemotePath {
		t.Errorf("RemotePath = %q, want default %q", rd.RemotePath, defaultRemotePath)
	}
}

func TestBuildResolvedDeviceRoot_CloudInvalidID(t *testing.T) {
	cfg := DefaultConfig()
	dev := &DeviceRoot{TreeType: "GDRIVE"}

	if _, err := buildResolvedDeviceRoot(cfg, "not-an-account-ref", dev, discardLogger()); err == nil {
		t.Fatal("expected error when GDRIVE section key is not a valid account ref")
	}
}

func TestBuildResolvedDeviceRoot_PerDeviceOverrides(t *testing.T) {
	cfg := DefaultConfig()
	skipDotfiles := true
	dev := &DeviceRoot{
		TreeType:     "LOCAL",
		RootPath:     "/home/alice/sync",
		SkipDotfiles: &skipDotfiles,
		SkipDirs:     []string{"node_modules"},
		PollInterval: "10m",
	}

	rd, err := buildResolvedDeviceRoot(cfg, "laptop", dev, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !rd.SkipDotfiles {
		t.Error("SkipDotfiles override not applied")
	}

	if len(rd.SkipDirs) != 1 || rd.SkipDirs[0] != "node_modules" {
		t.Errorf("SkipDirs override not applied, got %v", rd.SkipDirs)
	}

	if rd.PollInterval != "10m" {
		t.Errorf("PollInterval override not applied, got %q", rd.PollInterval)
	}
}

func TestStatePath_UsesStateDirWhenSet(t *testing.T) {
	rd := &ResolvedDeviceRoot{ID: "GDRIVE:alice@example.com", StateDir: "/var/lib/duotree"}

	got := rd.StatePath()
	want := "/var/lib/duotree/state_GDRIVE_alice@example.com.db"

	if got != want {
		t.Errorf("StatePath() = %q, want %q", got, want)
	}
}

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}

	got := expandTilde("~/sync")
	want := home + "/sync"

	if got != want {
		t.Errorf("expandTilde(~/sync) = %q, want %q", got, want)
	}

	if got := expandTilde("/already/absolute"); got != "/already/absolute" {
		t.Errorf("expandTilde should not modify absolute paths, got %q", got)
	}
}
