package httpdriver

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/duotree/agent/internal/remotefs"
)

// parseRFC3339Nanos parses a server timestamp, falling back to the zero
// time (not an error) for an empty or malformed value — mirroring the
// teacher's graph.parseTimestamp leniency, since a single bad timestamp
// should not fail an entire listing page.
func parseRFC3339Nanos(s string) int64 {
	if s == "" {
		return 0
	}

	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0
	}

	return t.UnixNano()
}

// apiItem is the generic wire shape for one remote item, analogous to the
// teacher's driveItemResponse but with vendor-specific fields stripped to
// the common denominator a vendor-neutral REST driver can rely on.
type apiItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ParentIDs []string `json:"parent_ids"`
	IsDir     bool   `json:"is_dir"`
	Trashed   bool   `json:"trashed"`
	Size      int64  `json:"size"`
	ModifiedAt string `json:"modified_at"` // RFC3339
	CreatedAt  string `json:"created_at"`  // RFC3339
	Version    string `json:"version"`
	MD5        string `json:"md5,omitempty"`
	SHA256     string `json:"sha256,omitempty"`
	VendorHash string `json:"vendor_hash,omitempty"`
	MimeTypeUID string `json:"mime_type,omitempty"`
	ShortcutTargetID string `json:"shortcut_target_id,omitempty"`
}

func (a apiItem) toEntry() remotefs.Entry {
	return remotefs.Entry{
		ID: a.ID, Name: a.Name, ParentIDs: a.ParentIDs, IsDir: a.IsDir, Trashed: a.Trashed,
		SizeBytes: a.Size, ModifyTS: parseRFC3339Nanos(a.ModifiedAt), CreateTS: parseRFC3339Nanos(a.CreatedAt),
		Version: a.Version, MD5: a.MD5, SHA256: a.SHA256, VendorHash: a.VendorHash,
		MimeTypeUID: a.MimeTypeUID, ShortcutTargetID: a.ShortcutTargetID,
	}
}

// listResponse is the generic paginated-listing wire shape, analogous to
// the teacher's driveItemResponse collection page with @odata.nextLink.
type listResponse struct {
	Items    []apiItem `json:"items"`
	NextPage string    `json:"next_page,omitempty"`
}

// changesResponse is the generic delta-feed wire shape, analogous to the
// teacher's delta.go page with @odata.nextLink/@odata.deltaLink.
type changesResponse struct {
	Items      []apiItem `json:"items"`
	RemovedIDs []string  `json:"removed_ids,omitempty"`
	NextPage   string    `json:"next_page,omitempty"`
	Cursor     string    `json:"cursor,omitempty"`
}

// Driver implements remotefs.Driver against a generic JSON REST API.
type Driver struct {
	client *Client
}

// NewDriver wraps an httpdriver.Client as a remotefs.Driver.
func NewDriver(client *Client) *Driver {
	return &Driver{client: client}
}

// ListRoot fetches one page of the full listing.
func (d *Driver) ListRoot(ctx context.Context, pageToken string) (remotefs.Page, error) {
	path := "/v1/items"
	if pageToken != "" {
		path += "?page=" + pageToken
	}

	var resp listResponse
	if err := d.client.Do(ctx, "GET", path, nil, &resp); err != nil {
		return remotefs.Page{}, fmt.Errorf("httpdriver: listing root: %w", err)
	}

	page := remotefs.Page{NextPage: resp.NextPage}
	for _, item := range resp.Items {
		page.Entries = append(page.Entries, item.toEntry())
	}

	return page, nil
}

// PollChanges fetches one page of the incremental change feed.
// internal/graph/delta.go's HTTP-410-means-expired-cursor convention is
// preserved here: a Gone response maps to ErrCursorExpired so the poller
// knows to fall back to a full ListRoot resync.
func (d *Driver) PollChanges(ctx context.Context, cursor string) (remotefs.Page, error) {
	path := "/v1/changes?cursor=" + cursor

	var resp changesResponse
	if err := d.client.Do(ctx, "GET", path, nil, &resp); err != nil {
		var httpErr *Error
		if isGone(err, &httpErr) {
			return remotefs.Page{}, ErrCursorExpired
		}

		return remotefs.Page{}, fmt.Errorf("httpdriver: polling changes: %w", err)
	}

	page := remotefs.Page{NextPage: resp.NextPage, Removed: resp.RemovedIDs}
	if resp.NextPage == "" {
		page.Cursor = resp.Cursor
		page.Done = true
	}

	for _, item := range resp.Items {
		page.Entries = append(page.Entries, item.toEntry())
	}

	return page, nil
}

func isGone(err error, target **Error) bool {
	httpErr, ok := asError(err)
	if !ok {
		return false
	}

	*target = httpErr

	return httpErr.StatusCode == 410
}

func asError(err error) (*Error, bool) {
	for err != nil {
		if httpErr, ok := err.(*Error); ok { //nolint:errorlint // sentinel unwrap below handles wrapping
			return httpErr, true
		}

		u, ok := err.(interface{ Unwrap() error }) //nolint:errorlint
		if !ok {
			return nil, false
		}

		err = u.Unwrap()
	}

	return nil, false
}

// Download resolves the item's download URL, then fetches the whole content
// in one GET and writes it to w at offset 0. It sends no range requests, so
// an interrupted download starts again from the beginning.
func (d *Driver) Download(ctx context.Context, id string, w remotefs.WriterAt) error {
	var resp struct {
		DownloadURL string `json:"download_url"`
	}

	if err := d.client.Do(ctx, "GET", "/v1/items/"+id+"/download-url", nil, &resp); err != nil {
		return fmt.Errorf("httpdriver: resolving download url for %s: %w", id, err)
	}

	body, err := d.client.doRetry(ctx, "GET", "/v1/items/"+id+"/content", nil)
	if err != nil {
		return fmt.Errorf("httpdriver: downloading %s: %w", id, err)
	}

	if _, err := w.WriteAt(body, 0); err != nil {
		return fmt.Errorf("httpdriver: writing downloaded content for %s: %w", id, err)
	}

	return nil
}

// Upload writes local content as a new or replaced remote file.
func (d *Driver) Upload(ctx context.Context, parentID, name string, r remotefs.ReaderSeeker, size int64) (remotefs.Entry, error) {
	content, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return remotefs.Entry{}, fmt.Errorf("httpdriver: reading upload content: %w", err)
	}

	var item apiItem

	req := map[string]any{"parent_id": parentID, "name": name, "content": content}
	if err := d.client.Do(ctx, "POST", "/v1/items/upload", req, &item); err != nil {
		return remotefs.Entry{}, fmt.Errorf("httpdriver: uploading %s: %w", name, err)
	}

	return item.toEntry(), nil
}

// Mkdir creates a remote directory. Idempotent: a 409 conflict against an
// existing directory of the same name is treated as success, per spec.md
// §4.I's "MKDIR idempotent".
func (d *Driver) Mkdir(ctx context.Context, parentID, name string) (remotefs.Entry, error) {
	var item apiItem

	req := map[string]any{"parent_id": parentID, "name": name, "is_dir": true}
	if err := d.client.Do(ctx, "POST", "/v1/items", req, &item); err != nil {
		var httpErr *Error
		if isConflict(err, &httpErr) {
			return d.findExistingChild(ctx, parentID, name)
		}

		return remotefs.Entry{}, fmt.Errorf("httpdriver: creating directory %s: %w", name, err)
	}

	return item.toEntry(), nil
}

func isConflict(err error, target **Error) bool {
	httpErr, ok := asError(err)
	if !ok {
		return false
	}

	*target = httpErr

	return httpErr.StatusCode == 409
}

func (d *Driver) findExistingChild(ctx context.Context, parentID, name string) (remotefs.Entry, error) {
	var resp listResponse
	if err := d.client.Do(ctx, "GET", "/v1/items?parent_id="+parentID+"&name="+name, nil, &resp); err != nil {
		return remotefs.Entry{}, fmt.Errorf("httpdriver: resolving existing child %s: %w", name, err)
	}

	if len(resp.Items) == 0 {
		return remotefs.Entry{}, fmt.Errorf("httpdriver: mkdir conflict but no existing child %s found", name)
	}

	return resp.Items[0].toEntry(), nil
}

// Move relocates and/or renames a remote item.
func (d *Driver) Move(ctx context.Context, id, newParentID, newName string) (remotefs.Entry, error) {
	var item apiItem

	req := map[string]any{"parent_id": newParentID, "name": newName}
	if err := d.client.Do(ctx, "PATCH", "/v1/items/"+id, req, &item); err != nil {
		return remotefs.Entry{}, fmt.Errorf("httpdriver: moving %s: %w", id, err)
	}

	return item.toEntry(), nil
}

// Delete removes a remote item.
func (d *Driver) Delete(ctx context.Context, id string) error {
	if err := d.client.Do(ctx, "DELETE", "/v1/items/"+id, nil, nil); err != nil {
		return fmt.Errorf("httpdriver: deleting %s: %w", id, err)
	}

	return nil
}
