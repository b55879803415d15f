// Package node implements the tagged-variant node model and identifier
// types shared by every component of the agent: the per-device cache
// store, the local scanner, the cloud poller, and the UserOp graph.
//
// Nodes never hold pointers to other nodes. Every cross-node relation
// (parent, child, UserOp source/destination) is a UID lookup against the
// owning device's cache store, so a subtree can be snapshotted and
// reloaded without any pointer fix-up (spec-level design note: "arena +
// UID replaces pointer graphs").
package node

import "fmt"

// DeviceUID identifies a device (a mounted local root or a cloud account)
// within this agent instance. Assigned on first-seen, never reused.
type DeviceUID uint32

// UID identifies a node within a single device. Unique per device, never
// reused, issued by internal/uid.Allocator.
type UID uint32

// PathUID disambiguates multiple equivalent paths to the same node for
// single-path identifiers. Most SPIDs use PathUID 0.
type PathUID uint32

// Identifier is a NodeIdentifier: the tagged union of SPID and MPID from
// spec.md §3. Exactly one of the two path representations is populated,
// selected by Kind.
type Identifier struct {
	DeviceUID DeviceUID
	NodeUID   UID

	Kind IdentifierKind

	// SPID fields.
	PathUID    PathUID
	Path       string
	ParentGUID string // optional, empty if unknown

	// MPID fields: cloud nodes may have more than one parent/path.
	Paths []string
}

// IdentifierKind discriminates SPID from MPID.
type IdentifierKind int

const (
	KindSPID IdentifierKind = iota
	KindMPID
)

// NewSPID builds a single-path identifier.
func NewSPID(deviceUID DeviceUID, nodeUID UID, pathUID PathUID, path string) Identifier {
	return Identifier{
		DeviceUID: deviceUID,
		NodeUID:   nodeUID,
		Kind:      KindSPID,
		PathUID:   pathUID,
		Path:      path,
	}
}

// NewMPID builds a multi-path identifier from the given equivalent paths.
func NewMPID(deviceUID DeviceUID, nodeUID UID, paths []string) Identifier {
	return Identifier{
		DeviceUID: deviceUID,
		NodeUID:   nodeUID,
		Kind:      KindMPID,
		Paths:     append([]string(nil), paths...),
	}
}

// GUID returns the client-visible string handle for this identifier: the
// only globally unique form exposed over the RPC surface (spec.md §3).
func (id Identifier) GUID() string {
	if id.Kind == KindSPID && id.PathUID != 0 {
		return fmt.Sprintf("%d:%d:%d", id.DeviceUID, id.NodeUID, id.PathUID)
	}

	return fmt.Sprintf("%d:%d", id.DeviceUID, id.NodeUID)
}

// PathList returns every path this identifier resolves to: a single entry
// for SPIDs, all equivalent paths for MPIDs.
func (id Identifier) PathList() []string {
	if id.Kind == KindMPID {
		return id.Paths
	}

	if id.Path == "" {
		return nil
	}

	return []string{id.Path}
}

// Equal reports whether two identifiers name the same node. Per spec.md
// §3, identity is exactly (device_uid, node_uid) — path representation is
// not part of identity.
func (id Identifier) Equal(other Identifier) bool {
	return id.DeviceUID == other.DeviceUID && id.NodeUID == other.NodeUID
}

// ParseGUID parses a GUID string of the form "device:node" or
// "device:node:path" back into its components. Returns false if the GUID
// is malformed.
func ParseGUID(guid string) (deviceUID DeviceUID, nodeUID UID, pathUID PathUID, ok bool) {
	var d, n, p uint64

	switch count, err := fmt.Sscanf(guid, "%d:%d:%d", &d, &n, &p); {
	case err == nil && count == 3:
		return DeviceUID(d), UID(n), PathUID(p), true
	default:
		if count2, err2 := fmt.Sscanf(guid, "%d:%d", &d, &n); err2 == nil && count2 == 2 {
			return DeviceUID(d), UID(n), 0, true
		}

		return 0, 0, 0, false
	}
}
