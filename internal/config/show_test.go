package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/duotree/agent/internal/device"
	"github.com/duotree/agent/internal/remoteid"
)

func TestRenderEffective_Local(t *testing.T) {
	rd := &ResolvedDeviceRoot{
		ID:              "laptop",
		TreeType:        device.TreeTypeLocal,
		RootPath:        "/home/alice/sync",
		Enabled:         true,
		FilterConfig:    defaultFilterConfig(),
		TransfersConfig: defaultTransfersConfig(),
		SafetyConfig:    defaultSafetyConfig(),
		SyncConfig:      defaultSyncConfig(),
		LoggingConfig:   defaultLoggingConfig(),
		NetworkConfig:   defaultNetworkConfig(),
	}

	var buf strings.Builder
	if err := RenderEffective(rd, &buf); err != nil {
		t.Fatalf("RenderEffective: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"[device]", "root_path", "[transfers]", "[safety]", "[sync]", "[logging]", "[network]"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestRenderEffective_CloudShowsAccount(t *testing.T) {
	rd := &ResolvedDeviceRoot{
		ID:              "GDRIVE:alice@example.com",
		TreeType:        device.TreeTypeCloud,
		Account:         remoteid.MustAccountRef("GDRIVE:alice@example.com"),
		RemotePath:      "/",
		FilterConfig:    defaultFilterConfig(),
		TransfersConfig: defaultTransfersConfig(),
		SafetyConfig:    defaultSafetyConfig(),
		SyncConfig:      defaultSyncConfig(),
		LoggingConfig:   defaultLoggingConfig(),
		NetworkConfig:   defaultNetworkConfig(),
	}

	var buf strings.Builder
	if err := RenderEffective(rd, &buf); err != nil {
		t.Fatalf("RenderEffective: %v", err)
	}

	if !strings.Contains(buf.String(), "account") {
		t.Error("expected account line for cloud device root")
	}
}

func TestErrWriter_StopsAfterFirstError(t *testing.T) {
	ew := &errWriter{w: failingWriter{}}

	ew.printf("first")
	ew.printf("second")

	if ew.err == nil {
		t.Fatal("expected errWriter to capture the write error")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("write failed")
}
