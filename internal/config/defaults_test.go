package config

import "testing"

func TestDefaultConfig_PopulatesAllSections(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.TransferWorkers != defaultTransferWorkers {
		t.Errorf("TransferWorkers = %d, want %d", cfg.TransferWorkers, defaultTransferWorkers)
	}

	if cfg.CheckWorkers != defaultCheckWorkers {
		t.Errorf("CheckWorkers = %d, want %d", cfg.CheckWorkers, defaultCheckWorkers)
	}

	if cfg.IgnoreMarker != defaultIgnoreMarker {
		t.Errorf("IgnoreMarker = %q, want %q", cfg.IgnoreMarker, defaultIgnoreMarker)
	}

	if cfg.Devices == nil {
		t.Error("Devices map must be initialized, not nil")
	}

	if len(cfg.Devices) != 0 {
		t.Errorf("Devices should start empty, got %d entries", len(cfg.Devices))
	}

	if err := Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() should pass Validate(), got: %v", err)
	}
}
