package node

// Kind discriminates the tagged variants of Node (spec.md §3). Dispatch on
// Kind rather than a type hierarchy, matching the "tagged variants, not a
// class hierarchy" design note.
type Kind int

const (
	KindLocalDir Kind = iota
	KindLocalFile
	KindCloudDir
	KindCloudFile
	KindContainer // synthetic grouping node (category / root-type / placeholder)
	KindNonexistentDir
)

func (k Kind) String() string {
	switch k {
	case KindLocalDir:
		return "local_dir"
	case KindLocalFile:
		return "local_file"
	case KindCloudDir:
		return "cloud_dir"
	case KindCloudFile:
		return "cloud_file"
	case KindContainer:
		return "container"
	case KindNonexistentDir:
		return "nonexistent_dir"
	default:
		return "unknown"
	}
}

// IsDir reports whether this kind represents a directory-shaped node.
func (k Kind) IsDir() bool {
	switch k {
	case KindLocalDir, KindCloudDir, KindContainer, KindNonexistentDir:
		return true
	default:
		return false
	}
}

// TrashedState tracks whether a node is live, implicitly trashed (an
// ancestor was trashed), or explicitly trashed by the user.
type TrashedState int

const (
	NotTrashed TrashedState = iota
	ImplicitlyTrashed
	ExplicitlyTrashed
)

// DirMeta is the aggregate subtree summary carried by directory nodes
// (spec.md §3). It is maintained lazily: a stale meta is permitted but
// must be marked Dirty and refreshed before being served to a client.
type DirMeta struct {
	FileCount    int64
	DirCount     int64
	TrashedFiles int64
	TrashedDirs  int64
	SizeBytes    int64
	TrashedBytes int64
	Dirty        bool
}

// Add folds a child's contribution into this aggregate. Used when a single
// child changes size/count without requiring a full subtree re-walk.
func (m *DirMeta) Add(child DirMeta) {
	m.FileCount += child.FileCount
	m.DirCount += child.DirCount
	m.TrashedFiles += child.TrashedFiles
	m.TrashedDirs += child.TrashedDirs
	m.SizeBytes += child.SizeBytes
	m.TrashedBytes += child.TrashedBytes
}

// Node is the tagged-union node model of spec.md §3. All variants share
// the common fields; variant-specific fields are zero-valued when not
// applicable to Kind. IsLive distinguishes a real, observed node from a
// planning node inserted ahead of a pending UserOp's execution.
type Node struct {
	ID   Identifier
	Kind Kind
	Name string

	ParentUID UID   // single parent for local nodes; first parent for cloud (see ParentUIDs)
	ParentUIDs []UID // all parents for cloud nodes (spec.md: cloud nodes may have >=0 parents)

	Trashed TrashedState
	IsLive  bool // false for planning nodes (spec.md glossary)

	// File-only fields (Kind in {KindLocalFile, KindCloudFile}).
	SizeBytes int64
	SyncTS    int64 // Unix nanoseconds
	ModifyTS  int64
	ChangeTS  int64
	CreateTS  int64
	MD5       string
	SHA256    string

	// Dir-only fields.
	Meta                DirMeta
	AllChildrenFetched  bool

	// Cloud-only fields.
	GoogID           string // vendor-neutral remote item ID; named for spec.md's "goog_id"
	OwnerUID         string
	DriveID          string
	Version          string
	MimeTypeUID      string
	ShortcutTargetGUID string // non-empty if this node is a shortcut/link to another node
}

// NewLocalDir constructs a live local directory node.
func NewLocalDir(id Identifier, name string, parentUID UID) *Node {
	return &Node{ID: id, Kind: KindLocalDir, Name: name, ParentUID: parentUID, IsLive: true}
}

// NewLocalFile constructs a live local file node.
func NewLocalFile(id Identifier, name string, parentUID UID, size, modifyTS int64) *Node {
	return &Node{
		ID: id, Kind: KindLocalFile, Name: name, ParentUID: parentUID,
		IsLive: true, SizeBytes: size, ModifyTS: modifyTS,
	}
}

// NewCloudDir constructs a live cloud directory node with the given parent set.
func NewCloudDir(id Identifier, name string, parentUIDs []UID, googID string) *Node {
	return &Node{
		ID: id, Kind: KindCloudDir, Name: name, ParentUIDs: parentUIDs,
		IsLive: true, GoogID: googID,
	}
}

// NewCloudFile constructs a live cloud file node with the given parent set.
func NewCloudFile(id Identifier, name string, parentUIDs []UID, googID string, size int64) *Node {
	return &Node{
		ID: id, Kind: KindCloudFile, Name: name, ParentUIDs: parentUIDs,
		IsLive: true, GoogID: googID, SizeBytes: size,
	}
}

// NewPlanningDir constructs a not-yet-live directory node representing the
// destination of a pending MKDIR/MV (spec.md glossary: "planning node").
func NewPlanningDir(id Identifier, name string, parentUID UID) *Node {
	n := NewLocalDir(id, name, parentUID)
	n.IsLive = false

	return n
}

// NewContainer constructs a synthetic grouping node (e.g. a root-type or
// category node in the tree view). Container nodes are always live and
// have no backing store row of their own.
func NewContainer(id Identifier, name string, parentUID UID) *Node {
	return &Node{ID: id, Kind: KindContainer, Name: name, ParentUID: parentUID, IsLive: true}
}

// Equal reports node identity equality: (device_uid, node_uid) match, per
// spec.md §3's "Invariants" and §4.B.
func (n *Node) Equal(other *Node) bool {
	if n == nil || other == nil {
		return n == other
	}

	return n.ID.Equal(other.ID)
}

// Paths returns every path this node resolves to, delegating to the
// identifier (spec.md §4.B: "Path resolution is delegated to the
// identifier").
func (n *Node) Paths() []string {
	return n.ID.PathList()
}

// IsFile reports whether this node represents file content (as opposed to
// a directory or synthetic container).
func (n *Node) IsFile() bool {
	return n.Kind == KindLocalFile || n.Kind == KindCloudFile
}

// Visitor dispatches on Node.Kind. Each method receives the node being
// visited; exactly one is called per Visit invocation.
type Visitor interface {
	VisitLocalDir(n *Node)
	VisitLocalFile(n *Node)
	VisitCloudDir(n *Node)
	VisitCloudFile(n *Node)
	VisitContainer(n *Node)
	VisitNonexistentDir(n *Node)
}

// Visit dispatches n to the matching Visitor method.
func Visit(n *Node, v Visitor) {
	switch n.Kind {
	case KindLocalDir:
		v.VisitLocalDir(n)
	case KindLocalFile:
		v.VisitLocalFile(n)
	case KindCloudDir:
		v.VisitCloudDir(n)
	case KindCloudFile:
		v.VisitCloudFile(n)
	case KindContainer:
		v.VisitContainer(n)
	case KindNonexistentDir:
		v.VisitNonexistentDir(n)
	}
}
