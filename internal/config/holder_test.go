package config

import (
	"sync"
	"testing"
)

func TestHolder_ConfigAndPath(t *testing.T) {
	cfg := DefaultConfig()
	h := NewHolder(cfg, "/etc/duotree/config.toml")

	if h.Config() != cfg {
		t.Error("Config() did not return the constructed config")
	}

	if h.Path() != "/etc/duotree/config.toml" {
		t.Errorf("Path() = %q, want /etc/duotree/config.toml", h.Path())
	}
}

func TestHolder_Update(t *testing.T) {
	h := NewHolder(DefaultConfig(), "/etc/duotree/config.toml")

	replacement := DefaultConfig()
	replacement.LogLevel = "debug"

	h.Update(replacement)

	if h.Config().LogLevel != "debug" {
		t.Errorf("Config().LogLevel = %q after Update, want debug", h.Config().LogLevel)
	}
}

func TestHolder_ConcurrentAccess(t *testing.T) {
	h := NewHolder(DefaultConfig(), "/etc/duotree/config.toml")

	var wg sync.WaitGroup

	for range 50 {
		wg.Add(2)

		go func() {
			defer wg.Done()

			_ = h.Config()
		}()

		go func() {
			defer wg.Done()

			h.Update(DefaultConfig())
		}()
	}

	wg.Wait()
}
