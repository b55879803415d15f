package config

import (
	"testing"

	"github.com/duotree/agent/internal/device"
)

func TestValidate_DefaultConfigIsValid(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Errorf("default config should be valid, got: %v", err)
	}
}

func TestValidate_RejectsBadTransferWorkers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TransferWorkers = 1000

	if err := Validate(cfg); err == nil {
		t.Error("expected error for out-of-range transfer_workers")
	}
}

func TestValidateChunkSize_MustBeAligned(t *testing.T) {
	if errs := validateChunkSize("10485761"); len(errs) == 0 {
		t.Error("expected alignment error for unaligned chunk size")
	}

	if errs := validateChunkSize(defaultChunkSize); len(errs) != 0 {
		t.Errorf("default chunk size should validate cleanly, got %v", errs)
	}
}

func TestValidateBandwidthSchedule_MustBeSorted(t *testing.T) {
	entries := []BandwidthScheduleEntry{
		{Time: "09:00", Limit: "1MB"},
		{Time: "08:00", Limit: "2MB"},
	}

	if errs := validateBandwidthSchedule(entries); len(errs) == 0 {
		t.Error("expected error for unsorted bandwidth schedule")
	}
}

func TestValidateResolved_RejectsRelativeLocalRootPath(t *testing.T) {
	rd := &ResolvedDeviceRoot{TreeType: device.TreeTypeLocal, RootPath: "relative/path"}

	if err := ValidateResolved(rd); err == nil {
		t.Error("expected error for non-absolute LOCAL root_path")
	}
}

func TestValidateResolved_CloudSkipsRootPathCheck(t *testing.T) {
	rd := &ResolvedDeviceRoot{TreeType: device.TreeTypeCloud, RootPath: ""}

	if err := ValidateResolved(rd); err != nil {
		t.Errorf("unexpected error for cloud device root: %v", err)
	}
}

func TestWarnDeprecatedKeys_DoesNotPanic(t *testing.T) {
	WarnDeprecatedKeys(map[string]any{"parallel_downloads": 4}, discardLogger())
}

func TestWarnUnimplemented_DoesNotPanic(t *testing.T) {
	rd := &ResolvedDeviceRoot{
		FilterConfig: FilterConfig{SyncPaths: []string{"/docs"}, MaxFileSize: defaultMaxFileSize},
	}

	WarnUnimplemented(rd, discardLogger())
}
