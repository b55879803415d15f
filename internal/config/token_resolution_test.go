package config

import (
	"testing"

	"github.com/duotree/agent/internal/remoteid"
)

func TestTokenAccountRef_Owned(t *testing.T) {
	ref := remoteid.MustAccountRef("GDRIVE:alice@example.com")

	got := TokenAccountRef(ref)
	if !got.Equal(ref) {
		t.Errorf("TokenAccountRef(owned) = %q, want unchanged %q", got.String(), ref.String())
	}
}

func TestTokenAccountRef_Shared(t *testing.T) {
	shared := remoteid.MustAccountRef("GDRIVE:alice@example.com:shared:item123")

	got := TokenAccountRef(shared)
	want := remoteid.MustAccountRef("GDRIVE:alice@example.com")

	if !got.Equal(want) {
		t.Errorf("TokenAccountRef(shared) = %q, want %q", got.String(), want.String())
	}

	if got.IsShared() {
		t.Error("TokenAccountRef(shared) result must not be marked shared")
	}
}
