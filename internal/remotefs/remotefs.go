// Package remotefs implements the cloud-drive poller (spec.md §4.F): a
// component that normalizes whatever a pluggable RemoteFS driver reports
// into (C)'s Node model, persists the delta cursor, and resolves
// multi-parent entries by inserting once and linking to every parent.
//
// The concrete HTTP-backed driver lives in the httpdriver subpackage;
// remotefs itself only knows the vendor-neutral Driver interface, so a
// different cloud backend can be swapped in without touching the poller.
package remotefs

import (
	"context"
)

// Entry is a single remote item as normalized by a Driver, before it is
// turned into a node.Node. ParentIDs may hold more than one entry for
// items with multiple parents (spec.md §4.F: "resolves multi-parent by
// inserting once + linking to each parent").
type Entry struct {
	ID        string
	Name      string
	ParentIDs []string
	IsDir     bool
	Trashed   bool
	SizeBytes int64
	ModifyTS  int64
	CreateTS  int64
	Version   string
	MD5       string
	SHA256    string
	// VendorHash is an optional content hash in a vendor-specific format
	// (e.g. pkg/xorhash) a driver may report when MD5/SHA256 aren't
	// available from the backend directly.
	VendorHash       string
	MimeTypeUID      string
	ShortcutTargetID string // non-empty if Entry is a shortcut/link
}

// Page is one page of a full listing or a delta/changes feed.
type Page struct {
	Entries  []Entry
	Removed  []string // IDs removed since the last cursor, delta pages only
	NextPage string   // pagination token, empty when this is the last page
	Cursor   string   // new delta cursor once the feed is fully drained
	Done     bool     // true once Cursor is the final, durable value
}

// Driver is the vendor-neutral interface a cloud-drive backend implements.
// httpdriver.Driver is the concrete REST-backed implementation; a test
// fake or a different vendor backend can implement this directly.
type Driver interface {
	// ListRoot performs one page of the initial full listing. Called
	// repeatedly (with the previous page's NextPage) until Page.NextPage
	// is empty.
	ListRoot(ctx context.Context, pageToken string) (Page, error)

	// PollChanges fetches one page of the incremental change feed since
	// cursor. Called repeatedly until Page.Done is true. A cursor-expired
	// condition is reported via httpdriver.ErrCursorExpired, signaling the poller to
	// fall back to ListRoot.
	PollChanges(ctx context.Context, cursor string) (Page, error)

	// Download streams the content of a remote file to w.
	Download(ctx context.Context, id string, w WriterAt) error

	// Upload writes local content to a (possibly new) remote file under
	// parentID with the given name, returning the resulting Entry.
	Upload(ctx context.Context, parentID, name string, r ReaderSeeker, size int64) (Entry, error)

	Mkdir(ctx context.Context, parentID, name string) (Entry, error)
	Move(ctx context.Context, id, newParentID, newName string) (Entry, error)
	Delete(ctx context.Context, id string) error
}

// WriterAt is the subset of io needed for resumable downloads.
type WriterAt interface {
	WriteAt(p []byte, off int64) (int, error)
}

// ReaderSeeker is the subset of io needed for resumable/retryable uploads.
type ReaderSeeker interface {
	Read(p []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
}
