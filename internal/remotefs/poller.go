package remotefs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/duotree/agent/internal/node"
	"github.com/duotree/agent/internal/remotefs/httpdriver"
	"github.com/duotree/agent/internal/signal"
	"github.com/duotree/agent/internal/store"
	"github.com/duotree/agent/internal/uid"
)

// Poller is the component F worker for one cloud device: an initial
// paginated full listing, then an incremental change-page cursor
// persisted between runs (spec.md §4.F).
type Poller struct {
	driver    Driver
	store     store.Store
	alloc     *uid.Allocator
	bus       *signal.Bus
	treeID    string
	deviceUID node.DeviceUID
	logger    *slog.Logger

	inFlight atomic.Bool
}

// New constructs a Poller for one cloud device.
func New(driver Driver, st store.Store, alloc *uid.Allocator, bus *signal.Bus, treeID string, deviceUID node.DeviceUID, logger *slog.Logger) *Poller {
	return &Poller{driver: driver, store: st, alloc: alloc, bus: bus, treeID: treeID, deviceUID: deviceUID, logger: logger}
}

// Poll runs one poll cycle: a full listing if no cursor is yet persisted,
// otherwise an incremental changes fetch. At most one poll runs at a time
// per device (spec.md §4.F: "at-most-one in-flight poll per device");
// a concurrent call is a no-op.
func (p *Poller) Poll(ctx context.Context) error {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.logger.Debug("remotefs: poll already in flight, skipping", "tree_id", p.treeID)

		return nil
	}
	defer p.inFlight.Store(false)

	cursor, complete, err := p.store.GetDeltaCursor(ctx)
	if err != nil {
		return fmt.Errorf("remotefs: reading delta cursor: %w", err)
	}

	if cursor == "" || !complete {
		return p.fullResync(ctx)
	}

	return p.incrementalPoll(ctx, cursor)
}

// fullResync performs the initial paginated full listing (spec.md §4.F:
// "initial: paginated full listing").
func (p *Poller) fullResync(ctx context.Context) error {
	pageToken := ""

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := p.driver.ListRoot(ctx, pageToken)
		if err != nil {
			return fmt.Errorf("remotefs: full listing: %w", err)
		}

		if err := p.applyEntries(ctx, page.Entries); err != nil {
			return err
		}

		if page.NextPage == "" {
			break
		}

		pageToken = page.NextPage
	}

	if err := p.store.SaveDeltaCursor(ctx, "", true); err != nil {
		return fmt.Errorf("remotefs: marking full resync complete: %w", err)
	}

	p.logger.Info("remotefs: full resync complete", "tree_id", p.treeID)

	return nil
}

// incrementalPoll follows the change-page cursor until drained, falling
// back to a full resync if the cursor has expired (httpdriver.ErrCursorExpired,
// mirroring the teacher's HTTP-410-from-delta.go convention).
func (p *Poller) incrementalPoll(ctx context.Context, cursor string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := p.driver.PollChanges(ctx, cursor)
		if err != nil {
			if errors.Is(err, httpdriver.ErrCursorExpired) {
				p.logger.Warn("remotefs: delta cursor expired, falling back to full resync", "tree_id", p.treeID)

				if err := p.store.SaveDeltaCursor(ctx, "", false); err != nil {
					return fmt.Errorf("remotefs: clearing expired cursor: %w", err)
				}

				return p.fullResync(ctx)
			}

			return fmt.Errorf("remotefs: polling changes: %w", err)
		}

		if err := p.applyEntries(ctx, page.Entries); err != nil {
			return err
		}

		if err := p.applyRemovals(ctx, page.Removed); err != nil {
			return err
		}

		if page.Done {
			if err := p.store.SaveDeltaCursor(ctx, page.Cursor, true); err != nil {
				return fmt.Errorf("remotefs: saving delta cursor: %w", err)
			}

			return nil
		}

		cursor = page.NextPage
	}
}

// applyEntries normalizes driver entries into node.Node, resolving
// multi-parent items by inserting the node once and linking it to every
// parent it can currently resolve (spec.md §4.F).
func (p *Poller) applyEntries(ctx context.Context, entries []Entry) error {
	var upserts []*node.Node

	for _, e := range entries {
		n, err := p.toNode(ctx, e)
		if err != nil {
			p.logger.Warn("remotefs: normalizing entry failed", "id", e.ID, "error", err)

			continue
		}

		upserts = append(upserts, n)
	}

	if len(upserts) == 0 {
		return nil
	}

	if err := p.store.UpsertBatch(ctx, upserts); err != nil {
		return fmt.Errorf("remotefs: upserting batch: %w", err)
	}

	for _, n := range upserts {
		p.bus.Publish(signal.Msg{TreeID: p.treeID, Type: signal.NodeUpserted, Sender: "remotefs", Node: n})
	}

	return nil
}

func (p *Poller) applyRemovals(ctx context.Context, removedIDs []string) error {
	if len(removedIDs) == 0 {
		return nil
	}

	var uids []node.UID

	for _, id := range removedIDs {
		n, err := p.store.GetNodeByGoogID(ctx, id)
		if err != nil {
			return fmt.Errorf("remotefs: resolving removed id %s: %w", id, err)
		}

		if n != nil {
			uids = append(uids, n.ID.NodeUID)
		}
	}

	if len(uids) == 0 {
		return nil
	}

	if err := p.store.RemoveBatch(ctx, uids); err != nil {
		return fmt.Errorf("remotefs: removing batch: %w", err)
	}

	for _, u := range uids {
		p.bus.Publish(signal.Msg{TreeID: p.treeID, Type: signal.NodeRemoved, Sender: "remotefs", RemovedUID: u})
	}

	return nil
}

// toNode normalizes one remote Entry into a node.Node, reusing its
// existing UID if already cached (by goog_id) or allocating a fresh one.
func (p *Poller) toNode(ctx context.Context, e Entry) (*node.Node, error) {
	existing, err := p.store.GetNodeByGoogID(ctx, e.ID)
	if err != nil {
		return nil, fmt.Errorf("looking up cached node for %s: %w", e.ID, err)
	}

	var nodeUID node.UID

	if existing != nil {
		nodeUID = existing.ID.NodeUID
	} else {
		newUID, err := p.alloc.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("allocating uid for %s: %w", e.ID, err)
		}

		nodeUID = node.UID(newUID)
	}

	parentUIDs := p.resolveParents(ctx, e.ParentIDs)
	id := node.NewMPID(p.deviceUID, nodeUID, e.ParentIDs)

	var n *node.Node
	if e.IsDir {
		n = node.NewCloudDir(id, e.Name, parentUIDs, e.ID)
	} else {
		n = node.NewCloudFile(id, e.Name, parentUIDs, e.ID, e.SizeBytes)
		n.ModifyTS = e.ModifyTS
		n.CreateTS = e.CreateTS
		n.MD5 = e.MD5
		n.SHA256 = e.SHA256
	}

	n.Version = e.Version
	n.MimeTypeUID = e.MimeTypeUID
	n.ShortcutTargetGUID = e.ShortcutTargetID

	if e.Trashed {
		n.Trashed = node.ExplicitlyTrashed
	}

	return n, nil
}

// resolveParents looks up the cache UID for every parent goog_id this
// poller already knows about. A parent not yet seen is simply omitted —
// it is linked on the next poll cycle once that parent itself is upserted,
// since a full listing does not guarantee parent-before-child ordering.
func (p *Poller) resolveParents(ctx context.Context, parentGoogIDs []string) []node.UID {
	var uids []node.UID

	for _, gid := range parentGoogIDs {
		parent, err := p.store.GetNodeByGoogID(ctx, gid)
		if err != nil || parent == nil {
			continue
		}

		uids = append(uids, parent.ID.NodeUID)
	}

	return uids
}
