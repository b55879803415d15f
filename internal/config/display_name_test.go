package config

import (
	"testing"

	"github.com/duotree/agent/internal/remoteid"
)

func TestDefaultDisplayName_Owned(t *testing.T) {
	ref := remoteid.MustAccountRef("GDRIVE:alice@example.com")

	got := DefaultDisplayName(ref)
	if got != "alice@example.com" {
		t.Errorf("DefaultDisplayName = %q, want alice@example.com", got)
	}
}

func TestDefaultDisplayName_Shared(t *testing.T) {
	ref := remoteid.MustAccountRef("GDRIVE:alice@example.com:shared:item123")

	got := DefaultDisplayName(ref)
	want := "Shared (item123)"

	if got != want {
		t.Errorf("DefaultDisplayName = %q, want %q", got, want)
	}
}
