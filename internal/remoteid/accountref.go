package remoteid

import (
	"encoding"
	"fmt"
	"strings"
)

// accountRefMaxParts is the maximum number of colon-separated segments in an
// AccountRef: tree_type:handle:extra1:extra2 (the shared-root form uses all 4).
const accountRefMaxParts = 4

// AccountRef is a config-level reference to a remote root: which account,
// and (for shared roots) which other account's item it was shared from.
// Device.tree_type plus an AccountRef is enough to open the right RemoteFS
// driver session for a configured device (spec.md §3 Device).
//
// Formats:
//   - "<tree_type>:<handle>"                      — an owned root
//   - "<tree_type>:<handle>:shared:<source_item>"  — a root shared from elsewhere
//
// The zero value (AccountRef{}) represents an absent reference (e.g. a LOCAL
// device, which has no remote account to refer to).
type AccountRef struct {
	treeType   string
	handle     string // account identifier as the driver understands it (e.g. an email or org handle)
	shared     bool
	sourceItem string // remote ID of the shared item, only set when shared
}

// NewAccountRef parses a raw AccountRef string. Returns an error if the
// format is invalid (missing handle, or a malformed shared-root suffix).
func NewAccountRef(raw string) (AccountRef, error) {
	parts := strings.SplitN(raw, ":", accountRefMaxParts)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return AccountRef{}, fmt.Errorf("remoteid: account ref %q must be \"tree_type:handle\" format", raw)
	}

	ref := AccountRef{treeType: parts[0], handle: parts[1]}

	switch len(parts) {
	case 2:
	case 4:
		if parts[2] != "shared" {
			return AccountRef{}, fmt.Errorf("remoteid: account ref %q has unknown third segment %q (want \"shared\")", raw, parts[2])
		}

		if parts[3] == "" {
			return AccountRef{}, fmt.Errorf("remoteid: account ref %q requires a non-empty source item", raw)
		}

		ref.shared = true
		ref.sourceItem = parts[3]
	default:
		return AccountRef{}, fmt.Errorf("remoteid: account ref %q has %d parts, want 2 or 4", raw, len(parts))
	}

	return ref, nil
}

// MustAccountRef is like NewAccountRef but panics on invalid input. Use only
// in tests and initialization code where the value is known-good.
func MustAccountRef(raw string) AccountRef {
	ref, err := NewAccountRef(raw)
	if err != nil {
		panic(err)
	}

	return ref
}

// ConstructShared builds an AccountRef for a root shared from another
// account's item. Returns an error if any required field is empty.
func ConstructShared(treeType, handle, sourceItem string) (AccountRef, error) {
	if treeType == "" || handle == "" {
		return AccountRef{}, fmt.Errorf("remoteid: shared account ref requires non-empty tree type and handle")
	}

	if sourceItem == "" {
		return AccountRef{}, fmt.Errorf("remoteid: shared account ref requires non-empty source item")
	}

	return AccountRef{treeType: treeType, handle: handle, shared: true, sourceItem: sourceItem}, nil
}

// String returns the AccountRef string in the format it was parsed from.
func (r AccountRef) String() string {
	if r.treeType == "" {
		return ""
	}

	if r.shared {
		return r.treeType + ":" + r.handle + ":shared:" + r.sourceItem
	}

	return r.treeType + ":" + r.handle
}

// IsZero reports whether this is the zero-value AccountRef.
func (r AccountRef) IsZero() bool {
	return r.treeType == ""
}

// Equal reports whether two AccountRefs are identical.
func (r AccountRef) Equal(other AccountRef) bool {
	return r.treeType == other.treeType &&
		r.handle == other.handle &&
		r.shared == other.shared &&
		r.sourceItem == other.sourceItem
}

// TreeType returns the device tree type this ref belongs to (e.g. "GDRIVE").
func (r AccountRef) TreeType() string {
	return r.treeType
}

// Handle returns the account handle (e.g. an email address or org ID).
func (r AccountRef) Handle() string {
	return r.handle
}

// IsShared reports whether this root was shared from another account.
func (r AccountRef) IsShared() bool {
	return r.shared
}

// SourceItem returns the remote ID of the shared item. Returns empty string
// for non-shared refs.
func (r AccountRef) SourceItem() string {
	if !r.shared {
		return ""
	}

	return r.sourceItem
}

// MarshalText implements encoding.TextMarshaler.
func (r AccountRef) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. The input is validated
// just like NewAccountRef().
func (r *AccountRef) UnmarshalText(text []byte) error {
	ref, err := NewAccountRef(string(text))
	if err != nil {
		return err
	}

	*r = ref

	return nil
}

// Compile-time interface assertions.
var (
	_ encoding.TextMarshaler   = AccountRef{}
	_ encoding.TextUnmarshaler = (*AccountRef)(nil)
	_ fmt.Stringer             = AccountRef{}
)
