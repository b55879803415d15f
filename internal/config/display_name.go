package config

import (
	"github.com/duotree/agent/internal/remoteid"
)

// DefaultDisplayName computes a human-readable display name for a device
// root when the user has not configured an explicit alias.
//
//   - owned root: the account handle (e.g. "me@example.com")
//   - shared root: placeholder naming the shared item's remote ID
func DefaultDisplayName(ref remoteid.AccountRef) string {
	if ref.IsShared() {
		return "Shared (" + ref.SourceItem() + ")"
	}

	return ref.Handle()
}
