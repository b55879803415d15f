// Package device models the Device identity (spec.md §3 "Device") shared by
// every root tree the agent manages: a local filesystem mount or a cloud
// drive account. A Registry assigns device_uid on first sight and keeps the
// mapping in memory for the process lifetime — per spec.md's "Open
// Questions" resolution, this is an explicit service passed into
// components, not a process-wide singleton.
package device

import (
	"fmt"
	"sync"

	"github.com/duotree/agent/internal/node"
	"github.com/duotree/agent/internal/remoteid"
)

// TreeType discriminates the kind of root tree a Device represents.
type TreeType int

const (
	TreeTypeLocal TreeType = iota
	TreeTypeCloud
)

// String renders the tree_type the way it appears in config and status output.
func (t TreeType) String() string {
	switch t {
	case TreeTypeLocal:
		return "LOCAL"
	case TreeTypeCloud:
		return "GDRIVE"
	default:
		return "UNKNOWN"
	}
}

// ParseTreeType parses a config-file tree_type string. "GDRIVE" is accepted
// as the sole cloud tree type for now (spec.md names it as the example
// value; additional cloud backends would extend this, not replace it).
func ParseTreeType(s string) (TreeType, error) {
	switch s {
	case "LOCAL":
		return TreeTypeLocal, nil
	case "GDRIVE":
		return TreeTypeCloud, nil
	default:
		return 0, fmt.Errorf("device: unknown tree_type %q", s)
	}
}

// Device is the identity record for one root tree (spec.md §3 Device).
// LongDeviceID is a stable UUID persisted alongside the device's cache
// files so the same physical root is recognized across process restarts
// even if DeviceUID (assigned fresh each run from the registry) differs.
type Device struct {
	DeviceUID    node.DeviceUID
	LongDeviceID string // stable UUID string, persisted in device_uuid.txt
	TreeType     TreeType
	FriendlyName string

	// Account is set for TreeTypeCloud devices: which remote account (and,
	// for a shared root, which source item) this device's tree comes from.
	// Zero value for TreeTypeLocal devices.
	Account remoteid.AccountRef

	// RootPath is the local filesystem root for TreeTypeLocal devices.
	// Empty for TreeTypeCloud devices.
	RootPath string
}

// IsCloud reports whether this device represents a cloud drive root.
func (d *Device) IsCloud() bool {
	return d.TreeType == TreeTypeCloud
}

// Registry assigns device_uid values on first sight and holds the set of
// configured devices for the process lifetime. One Registry per running
// agent; never reused as a global singleton (spec.md Open Questions: "UID
// allocator, device registry should be explicit services").
type Registry struct {
	mu      sync.RWMutex
	byUID   map[node.DeviceUID]*Device
	byLong  map[string]*Device
	nextUID node.DeviceUID
}

// NewRegistry creates an empty device registry.
func NewRegistry() *Registry {
	return &Registry{
		byUID:  make(map[node.DeviceUID]*Device),
		byLong: make(map[string]*Device),
	}
}

// Register assigns a fresh DeviceUID to d (overwriting any value already
// set on it) and adds it to the registry. Returns an error if a device with
// the same LongDeviceID is already registered.
func (r *Registry) Register(d *Device) (node.DeviceUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byLong[d.LongDeviceID]; ok {
		return 0, fmt.Errorf("device: long_device_id %q already registered as device_uid %d", d.LongDeviceID, existing.DeviceUID)
	}

	r.nextUID++
	d.DeviceUID = r.nextUID

	r.byUID[d.DeviceUID] = d
	r.byLong[d.LongDeviceID] = d

	return d.DeviceUID, nil
}

// Get returns the device with the given UID, or (nil, false) if absent.
func (r *Registry) Get(uid node.DeviceUID) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.byUID[uid]

	return d, ok
}

// GetByLongID returns the device with the given stable UUID, or (nil, false)
// if absent. Used to re-attach a previously-seen root to the same DeviceUID
// it had before restart is NOT guaranteed (UIDs are reassigned fresh each
// run) — callers that need cross-restart continuity key off LongDeviceID
// directly, not DeviceUID.
func (r *Registry) GetByLongID(longID string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.byLong[longID]

	return d, ok
}

// All returns every registered device, ordered by DeviceUID.
func (r *Registry) All() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Device, 0, len(r.byUID))
	for uid := node.DeviceUID(1); uid <= r.nextUID; uid++ {
		if d, ok := r.byUID[uid]; ok {
			out = append(out, d)
		}
	}

	return out
}
