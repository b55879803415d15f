package config

import (
	"testing"

	"github.com/BurntSushi/toml"
)

func TestCheckUnknownKeys_RejectsTypo(t *testing.T) {
	var cfg Config

	md, err := toml.Decode(`log_leve = "debug"`, &cfg)
	if err != nil {
		t.Fatalf("toml.Decode: %v", err)
	}

	err = checkUnknownKeys(&md, nil)
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
}

func TestCheckUnknownKeys_AllowsKnownKeys(t *testing.T) {
	var cfg Config

	md, err := toml.Decode(`log_level = "debug"
transfer_workers = 8`, &cfg)
	if err != nil {
		t.Fatalf("toml.Decode: %v", err)
	}

	if err := checkUnknownKeys(&md, nil); err != nil {
		t.Errorf("unexpected error for known keys: %v", err)
	}
}

func TestCheckDeviceUnknownKeys(t *testing.T) {
	good := map[string]any{"tree_type": "LOCAL", "root_path": "/home/alice/sync"}
	if err := checkDeviceUnknownKeys(good, "laptop"); err != nil {
		t.Errorf("unexpected error for valid device keys: %v", err)
	}

	bad := map[string]any{"tree_tipe": "LOCAL"}
	if err := checkDeviceUnknownKeys(bad, "laptop"); err == nil {
		t.Fatal("expected error for unknown device key, got nil")
	}
}

func TestClosestMatch(t *testing.T) {
	known := []string{"tree_type", "root_path", "alias"}

	if got := closestMatch("tre_type", known); got != "tree_type" {
		t.Errorf("closestMatch = %q, want tree_type", got)
	}

	if got := closestMatch("completely_unrelated_key", known); got != "" {
		t.Errorf("closestMatch = %q, want empty for distant input", got)
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "abc", 3},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"same", "same", 0},
	}

	for _, c := range cases {
		if got := levenshtein(c.a, c.b); got != c.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
