package config

import "github.com/duotree/agent/internal/remoteid"

// TokenAccountRef resolves which OAuth token an AccountRef's driver session
// should use. Unlike the vendor this package generalizes from — where a
// SharePoint or "shared drive" root required cross-referencing a separate
// canonical ID to find the owning account's token — remoteid.AccountRef's
// shared form ("tree_type:handle:shared:source_item") already carries the
// handle of the local account the item was shared into. There is no
// cross-account lookup left to do: the handle on the ref is always the
// token's handle.
func TokenAccountRef(ref remoteid.AccountRef) remoteid.AccountRef {
	if !ref.IsShared() {
		return ref
	}

	owned, err := remoteid.NewAccountRef(ref.TreeType() + ":" + ref.Handle())
	if err != nil {
		// Handle/tree type were already validated when ref was parsed.
		return ref
	}

	return owned
}
