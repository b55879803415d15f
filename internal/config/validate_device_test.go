package config

import "testing"

func TestValidateDevices_Empty(t *testing.T) {
	cfg := DefaultConfig()

	if errs := validateDevices(cfg); errs != nil {
		t.Errorf("expected no errors for empty device map, got %v", errs)
	}
}

func TestValidateDevices_DuplicateRootPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Devices["laptop"] = &DeviceRoot{TreeType: "LOCAL", RootPath: "/home/alice/sync"}
	cfg.Devices["desktop"] = &DeviceRoot{TreeType: "LOCAL", RootPath: "/home/alice/sync"}

	errs := validateDevices(cfg)
	if len(errs) == 0 {
		t.Fatal("expected duplicate root_path error, got none")
	}
}

func TestValidateDevices_OverlappingRootPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Devices["parent"] = &DeviceRoot{TreeType: "LOCAL", RootPath: "/home/alice/sync"}
	cfg.Devices["child"] = &DeviceRoot{TreeType: "LOCAL", RootPath: "/home/alice/sync/nested"}

	errs := validateDevices(cfg)
	if len(errs) == 0 {
		t.Fatal("expected root_path overlap error, got none")
	}
}

func TestValidateDevices_CloudDeviceSkipsPathChecks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Devices["GDRIVE:alice@example.com"] = &DeviceRoot{TreeType: "GDRIVE"}

	if errs := validateDevices(cfg); errs != nil {
		t.Errorf("expected no errors for a cloud device root with no root_path, got %v", errs)
	}
}

func TestValidateDevices_InvalidPollInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Devices["laptop"] = &DeviceRoot{TreeType: "LOCAL", RootPath: "/home/alice/sync", PollInterval: "1s"}

	errs := validateDevices(cfg)
	if len(errs) == 0 {
		t.Fatal("expected error for poll_interval below minimum, got none")
	}
}

func TestIsAncestorOrDescendant(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"/a/b", "/a/b/c", true},
		{"/a/b/c", "/a/b", true},
		{"/a/sync", "/a/syncBackup", false},
		{"/a/b", "/a/c", false},
	}

	for _, c := range cases {
		if got := isAncestorOrDescendant(c.a, c.b); got != c.want {
			t.Errorf("isAncestorOrDescendant(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}
