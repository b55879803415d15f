// Package remoteid provides type-safe identity types for remote-drive
// identifiers. It consolidates normalization logic (lowercase, zero-padding
// for backends known to hand out short IDs) and provides compile-time
// safety over raw string usage, the way internal/driveid did for a single
// vendor's API.
//
// remoteid is vendor-neutral: the RemoteFS driver interface (internal/remotefs)
// treats the cloud side as a black box, and this package only normalizes
// whatever opaque item identifier that driver returns — it has no notion of
// a specific backend's ID format beyond "sometimes short, always opaque".
//
// This is a leaf package with zero external dependencies beyond stdlib.
package remoteid

import (
	"database/sql"
	"database/sql/driver"
	"encoding"
	"fmt"
	"strings"
)

// idMinLength is the minimum length a normalized remote ID is padded to.
// Some backends are known to hand out short IDs for certain account tiers;
// padding keeps map keys and database lookups a consistent width regardless
// of which driver produced the ID.
const idMinLength = 16

// ID is a normalized remote item identifier (node.Node's GoogID field holds
// one of these, stringified). Lowercase and zero-padded to at least
// idMinLength characters. The zero value (ID{}) represents an absent or
// unknown remote ID — used by local-only nodes.
type ID struct {
	value string
}

// New creates a normalized ID from a raw driver-supplied item identifier.
// Applies lowercase and left-pads short IDs with zeros. Empty input returns
// the zero ID, the single representation for "absent/unknown" — callers can
// check IsZero() when that matters.
func New(raw string) ID {
	if raw == "" {
		return ID{}
	}

	lower := strings.ToLower(raw)
	if len(lower) >= idMinLength {
		return ID{value: lower}
	}

	return ID{value: strings.Repeat("0", idMinLength-len(lower)) + lower}
}

// String returns the normalized remote ID string.
func (id ID) String() string {
	return id.value
}

// IsZero reports whether this is the zero-value ID (empty or all zeros).
func (id ID) IsZero() bool {
	return id.value == "" || id.value == strings.Repeat("0", idMinLength)
}

// Equal reports whether two IDs are identical. Both zero-value forms are
// considered equal, so IDs created via different paths (New("") vs New("0"))
// never compare unequal by accident.
func (id ID) Equal(other ID) bool {
	if id.value == other.value {
		return true
	}

	return id.IsZero() && other.IsZero()
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.value), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. The input is
// normalized (lowercased + zero-padded) just like New().
func (id *ID) UnmarshalText(text []byte) error {
	*id = New(string(text))
	return nil
}

// Scan implements sql.Scanner for reading remote IDs out of the per-device
// cache store. SQL NULL produces the zero ID.
func (id *ID) Scan(src any) error {
	if src == nil {
		*id = ID{}
		return nil
	}

	switch v := src.(type) {
	case string:
		*id = New(v)
		return nil
	case []byte:
		*id = New(string(v))
		return nil
	default:
		return fmt.Errorf("remoteid.ID.Scan: unsupported type %T", src)
	}
}

// Value implements driver.Valuer for writing remote IDs to the cache store.
// The zero ID writes SQL NULL to match the Scan behavior.
func (id ID) Value() (driver.Value, error) {
	if id.IsZero() {
		return nil, nil
	}

	return id.value, nil
}

// Compile-time interface assertions.
var (
	_ encoding.TextMarshaler   = ID{}
	_ encoding.TextUnmarshaler = (*ID)(nil)
	_ fmt.Stringer             = ID{}
	_ driver.Valuer            = ID{}
	_ sql.Scanner              = (*ID)(nil)
)
