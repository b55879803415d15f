package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/duotree/agent/internal/cache"
	"github.com/duotree/agent/internal/config"
	"github.com/duotree/agent/internal/device"
	"github.com/duotree/agent/internal/node"
	"github.com/duotree/agent/internal/opgraph"
	"github.com/duotree/agent/internal/remotefs"
	"github.com/duotree/agent/internal/signal"
	"github.com/duotree/agent/internal/store"
	"github.com/duotree/agent/internal/uid"
)

// DeviceContext bundles the per-device components an RPC handler needs to
// reach: the cache store, the load-state manager, the op DAG, the UID
// allocator, and (for cloud devices) the RemoteFS driver.
type DeviceContext struct {
	Device *device.Device
	Store  store.Store
	Cache  *cache.Manager
	Graph  *opgraph.Graph
	Alloc  *uid.Allocator
	Driver remotefs.Driver // nil for local devices
}

// NodeInfo is the wire shape of a node.Node, keyed by its client-visible GUID.
type NodeInfo struct {
	GUID       string `json:"guid"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	ParentGUID string `json:"parent_guid,omitempty"`
	SizeBytes  int64  `json:"size_bytes,omitempty"`
	ModifyTS   int64  `json:"modify_ts,omitempty"`
	Trashed    string `json:"trashed"`
	IsLive     bool   `json:"is_live"`
	FileCount  int64  `json:"file_count,omitempty"`
	DirCount   int64  `json:"dir_count,omitempty"`
}

func trashedString(t node.TrashedState) string {
	switch t {
	case node.ImplicitlyTrashed:
		return "IMPLICIT"
	case node.ExplicitlyTrashed:
		return "EXPLICIT"
	default:
		return "NOT_TRASHED"
	}
}

func toNodeInfo(deviceUID node.DeviceUID, n *node.Node) NodeInfo {
	info := NodeInfo{
		GUID: n.ID.GUID(), Name: n.Name, Kind: n.Kind.String(),
		SizeBytes: n.SizeBytes, ModifyTS: n.ModifyTS,
		Trashed: trashedString(n.Trashed), IsLive: n.IsLive,
		FileCount: n.Meta.FileCount, DirCount: n.Meta.DirCount,
	}

	if n.ParentUID != 0 {
		info.ParentGUID = node.NewSPID(deviceUID, n.ParentUID, 0, "").GUID()
	}

	return info
}

func (s *Server) deviceFor(deviceUID uint32) (*DeviceContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dc, ok := s.devices[node.DeviceUID(deviceUID)]
	if !ok {
		return nil, fmt.Errorf("%w: device_uid %d", errUnknownDevice, deviceUID)
	}

	return dc, nil
}

func decodeParams[T any](raw json.RawMessage) (T, error) {
	var p T
	if len(raw) == 0 {
		return p, nil
	}

	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("%w: %v", errBadParams, err)
	}

	return p, nil
}

// --- Config group ---

type deviceUIDParams struct {
	DeviceUID uint32 `json:"device_uid"`
}

func handleGetConfig(_ context.Context, s *Server, _ json.RawMessage) (any, error) {
	return s.getConfig(), nil
}

func handlePutConfig(_ context.Context, s *Server, raw json.RawMessage) (any, error) {
	p, err := decodeParams[config.Config](raw)
	if err != nil {
		return nil, err
	}

	if err := s.putConfig(&p); err != nil {
		return nil, fmt.Errorf("applying config: %w", err)
	}

	return map[string]bool{"ok": true}, nil
}

// getIconParams names a mime_type_uid/Kind pair; get_icon resolves a
// stable icon name rather than raw image bytes (the RPC transport is JSON,
// not suited to binary blobs — icon assets are shipped with the UI client).
type getIconParams struct {
	Kind        string `json:"kind"`
	MimeTypeUID string `json:"mime_type_uid,omitempty"`
}

func handleGetIcon(_ context.Context, _ *Server, raw json.RawMessage) (any, error) {
	p, err := decodeParams[getIconParams](raw)
	if err != nil {
		return nil, err
	}

	return map[string]string{"icon": iconNameFor(p.Kind, p.MimeTypeUID)}, nil
}

func iconNameFor(kind, mimeTypeUID string) string {
	switch kind {
	case node.KindLocalDir.String(), node.KindCloudDir.String():
		return "folder"
	case node.KindContainer.String():
		return "root"
	default:
		if mimeTypeUID != "" {
			return "file-" + strings.ReplaceAll(mimeTypeUID, "/", "-")
		}

		return "file"
	}
}

type deviceInfo struct {
	DeviceUID   uint32 `json:"device_uid"`
	TreeType    string `json:"tree_type"`
	FriendlyName string `json:"friendly_name"`
	RootPath    string `json:"root_path,omitempty"`
	Account     string `json:"account,omitempty"`
}

func handleGetDeviceList(_ context.Context, s *Server, _ json.RawMessage) (any, error) {
	var out []deviceInfo

	for _, d := range s.registry.All() {
		info := deviceInfo{
			DeviceUID: uint32(d.DeviceUID), TreeType: d.TreeType.String(),
			FriendlyName: d.FriendlyName, RootPath: d.RootPath,
		}

		if !d.Account.IsZero() {
			info.Account = d.Account.String()
		}

		out = append(out, info)
	}

	return out, nil
}

// --- Identifiers group ---

func handleGetNextUID(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	p, err := decodeParams[deviceUIDParams](raw)
	if err != nil {
		return nil, err
	}

	dc, err := s.deviceFor(p.DeviceUID)
	if err != nil {
		return nil, err
	}

	next, err := dc.Alloc.Next(ctx)
	if err != nil {
		return nil, err
	}

	return map[string]uint32{"uid": next}, nil
}

func handleGetNodeForUID(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	p, err := decodeParams[deviceNodeParams](raw)
	if err != nil {
		return nil, err
	}

	dc, err := s.deviceFor(p.DeviceUID)
	if err != nil {
		return nil, err
	}

	n, err := dc.Store.GetNode(ctx, node.UID(p.NodeUID))
	if err != nil {
		return nil, err
	}

	if n == nil {
		return nil, fmt.Errorf("%w: node_uid %d", errNotFound, p.NodeUID)
	}

	return toNodeInfo(dc.Device.DeviceUID, n), nil
}

type deviceNodeParams struct {
	DeviceUID uint32 `json:"device_uid"`
	NodeUID   uint32 `json:"node_uid"`
}

type devicePathParams struct {
	DeviceUID uint32 `json:"device_uid"`
	Path      string `json:"path"`
}

// resolveByPath walks the child index one path segment at a time starting
// at the device's root (parent_uid 0), the same traversal
// MaterializePath performs in reverse.
func resolveByPath(ctx context.Context, st store.Store, path string) (*node.Node, error) {
	segments := strings.Split(strings.Trim(filepath.ToSlash(path), "/"), "/")

	var cur *node.Node

	var parentUID node.UID

	for _, seg := range segments {
		if seg == "" {
			continue
		}

		child, err := st.GetChild(ctx, parentUID, seg)
		if err != nil {
			return nil, fmt.Errorf("resolving path segment %q: %w", seg, err)
		}

		if child == nil {
			return nil, fmt.Errorf("%w: path %q", errNotFound, path)
		}

		cur = child
		parentUID = child.ID.NodeUID
	}

	return cur, nil
}

func handleGetUIDForLocalPath(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	p, err := decodeParams[devicePathParams](raw)
	if err != nil {
		return nil, err
	}

	dc, err := s.deviceFor(p.DeviceUID)
	if err != nil {
		return nil, err
	}

	n, err := resolveByPath(ctx, dc.Store, p.Path)
	if err != nil {
		return nil, err
	}

	return map[string]uint32{"uid": uint32(n.ID.NodeUID)}, nil
}

// get_sn_for resolves the single-path node (SPID node) at a given device
// path, returning its full NodeInfo rather than just the bare UID.
func handleGetSnFor(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	p, err := decodeParams[devicePathParams](raw)
	if err != nil {
		return nil, err
	}

	dc, err := s.deviceFor(p.DeviceUID)
	if err != nil {
		return nil, err
	}

	n, err := resolveByPath(ctx, dc.Store, p.Path)
	if err != nil {
		return nil, err
	}

	return toNodeInfo(dc.Device.DeviceUID, n), nil
}

// --- Tree view group ---

func handleGetChildListForSpid(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	p, err := decodeParams[deviceNodeParams](raw)
	if err != nil {
		return nil, err
	}

	dc, err := s.deviceFor(p.DeviceUID)
	if err != nil {
		return nil, err
	}

	children, err := dc.Store.ListChildren(ctx, node.UID(p.NodeUID))
	if err != nil {
		return nil, err
	}

	out := make([]NodeInfo, 0, len(children))
	for _, c := range children {
		out = append(out, toNodeInfo(dc.Device.DeviceUID, c))
	}

	return out, nil
}

func handleGetAncestorListForSpid(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	p, err := decodeParams[deviceNodeParams](raw)
	if err != nil {
		return nil, err
	}

	dc, err := s.deviceFor(p.DeviceUID)
	if err != nil {
		return nil, err
	}

	var out []NodeInfo

	cur := node.UID(p.NodeUID)

	for i := 0; i < maxAncestorDepth; i++ {
		n, err := dc.Store.GetNode(ctx, cur)
		if err != nil {
			return nil, err
		}

		if n == nil || n.ParentUID == 0 {
			break
		}

		parent, err := dc.Store.GetNode(ctx, n.ParentUID)
		if err != nil {
			return nil, err
		}

		if parent == nil {
			break
		}

		out = append(out, toNodeInfo(dc.Device.DeviceUID, parent))
		cur = parent.ID.NodeUID
	}

	return out, nil
}

const maxAncestorDepth = 4096

// get_rows_of_interest / set_selected_row_set / remove_expanded_row manage
// per-client UI-state (expanded/selected rows), persisted per spec.md §6's
// ui-state.json via the device's config-value table rather than a separate
// file, since the per-device store already has a durable key/value home
// for it.
type rowSetParams struct {
	DeviceUID uint32   `json:"device_uid"`
	RowGUIDs  []string `json:"row_guids,omitempty"`
}

func handleGetRowsOfInterest(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	p, err := decodeParams[rowSetParams](raw)
	if err != nil {
		return nil, err
	}

	dc, err := s.deviceFor(p.DeviceUID)
	if err != nil {
		return nil, err
	}

	return loadRowSet(ctx, dc.Store, "rows_of_interest")
}

func handleSetSelectedRowSet(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	p, err := decodeParams[rowSetParams](raw)
	if err != nil {
		return nil, err
	}

	dc, err := s.deviceFor(p.DeviceUID)
	if err != nil {
		return nil, err
	}

	if err := saveRowSet(ctx, dc.Store, "selected_rows", p.RowGUIDs); err != nil {
		return nil, err
	}

	return map[string]bool{"ok": true}, nil
}

func handleRemoveExpandedRow(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	type params struct {
		DeviceUID uint32 `json:"device_uid"`
		RowGUID   string `json:"row_guid"`
	}

	p, err := decodeParams[params](raw)
	if err != nil {
		return nil, err
	}

	dc, err := s.deviceFor(p.DeviceUID)
	if err != nil {
		return nil, err
	}

	rows, err := loadRowSet(ctx, dc.Store, "expanded_rows")
	if err != nil {
		return nil, err
	}

	kept := rows[:0]

	for _, g := range rows {
		if g != p.RowGUID {
			kept = append(kept, g)
		}
	}

	if err := saveRowSet(ctx, dc.Store, "expanded_rows", kept); err != nil {
		return nil, err
	}

	return map[string]bool{"ok": true}, nil
}

func loadRowSet(ctx context.Context, st store.Store, key string) ([]string, error) {
	val, ok, err := st.GetConfigValue(ctx, key)
	if err != nil {
		return nil, err
	}

	if !ok || val == "" {
		return nil, nil
	}

	var rows []string
	if err := json.Unmarshal([]byte(val), &rows); err != nil {
		return nil, fmt.Errorf("decoding row set %q: %w", key, err)
	}

	return rows, nil
}

func saveRowSet(ctx context.Context, st store.Store, key string, rows []string) error {
	raw, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encoding row set %q: %w", key, err)
	}

	return st.SetConfigValue(ctx, key, string(raw))
}

func handleGetFilter(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	p, err := decodeParams[deviceUIDParams](raw)
	if err != nil {
		return nil, err
	}

	if _, err := s.deviceFor(p.DeviceUID); err != nil {
		return nil, err
	}

	return s.getConfig().FilterConfig, nil
}

func handleUpdateFilter(_ context.Context, s *Server, raw json.RawMessage) (any, error) {
	type params struct {
		DeviceUID uint32               `json:"device_uid"`
		Filter    config.FilterConfig `json:"filter"`
	}

	p, err := decodeParams[params](raw)
	if err != nil {
		return nil, err
	}

	if _, err := s.deviceFor(p.DeviceUID); err != nil {
		return nil, err
	}

	cfg := s.getConfig()
	cfg.FilterConfig = p.Filter

	if err := s.putConfig(cfg); err != nil {
		return nil, err
	}

	return map[string]bool{"ok": true}, nil
}

// opSpec is the wire shape of one proposed UserOp, grouped and appended to
// each source device's own graph (spec.md §4.H: ops are durable against the
// device that owns the src_node's store).
type opSpec struct {
	Type         string   `json:"type"`
	SrcDeviceUID uint32   `json:"src_device_uid"`
	SrcNodeUID   uint32   `json:"src_node_uid"`
	DstDeviceUID uint32   `json:"dst_device_uid,omitempty"`
	DstNodeUID   uint32   `json:"dst_node_uid,omitempty"`
	HasDst       bool     `json:"has_dst,omitempty"`
	DependsOn    []string `json:"depends_on,omitempty"`
}

func handleExecuteTreeActionList(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	type params struct {
		Ops []opSpec `json:"ops"`
	}

	p, err := decodeParams[params](raw)
	if err != nil {
		return nil, err
	}

	byDevice := make(map[uint32][]*store.UserOpRecord)
	batchUID := fmt.Sprintf("rpc-batch-%d", time.Now().UnixNano()) //nolint:forbidigo // RPC-issued batch id

	for i, spec := range p.Ops {
		op := &store.UserOpRecord{
			OpUID: fmt.Sprintf("%s-%d", batchUID, i), BatchUID: batchUID,
			Type: store.OpType(spec.Type), SrcDevice: node.DeviceUID(spec.SrcDeviceUID),
			SrcNode: node.UID(spec.SrcNodeUID), DstDevice: node.DeviceUID(spec.DstDeviceUID),
			DstNode: node.UID(spec.DstNodeUID), HasDst: spec.HasDst, DependsOn: spec.DependsOn,
			State: store.OpPending,
		}

		byDevice[spec.SrcDeviceUID] = append(byDevice[spec.SrcDeviceUID], op)
	}

	var opUIDs []string

	for deviceUID, ops := range byDevice {
		dc, err := s.deviceFor(deviceUID)
		if err != nil {
			return nil, err
		}

		if err := dc.Graph.AppendBatch(ctx, ops); err != nil {
			return nil, fmt.Errorf("appending batch to device %d: %w", deviceUID, err)
		}

		for _, op := range ops {
			opUIDs = append(opUIDs, op.OpUID)
		}
	}

	return map[string]any{"batch_uid": batchUID, "op_uids": opUIDs}, nil
}

func handleGetContextMenu(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	p, err := decodeParams[deviceNodeParams](raw)
	if err != nil {
		return nil, err
	}

	dc, err := s.deviceFor(p.DeviceUID)
	if err != nil {
		return nil, err
	}

	n, err := dc.Store.GetNode(ctx, node.UID(p.NodeUID))
	if err != nil {
		return nil, err
	}

	if n == nil {
		return nil, fmt.Errorf("%w: node_uid %d", errNotFound, p.NodeUID)
	}

	actions := []string{"rename", "delete"}
	if n.Kind.IsDir() {
		actions = append(actions, "refresh_subtree")
	} else {
		actions = append(actions, "download")
	}

	return map[string][]string{"actions": actions}, nil
}

// --- Tree lifecycle group ---

func handleRequestDisplayTree(_ context.Context, s *Server, raw json.RawMessage) (any, error) {
	p, err := decodeParams[deviceUIDParams](raw)
	if err != nil {
		return nil, err
	}

	dc, err := s.deviceFor(p.DeviceUID)
	if err != nil {
		return nil, err
	}

	return map[string]string{"load_state": dc.Cache.State().String()}, nil
}

func handleStartSubtreeLoad(_ context.Context, s *Server, raw json.RawMessage) (any, error) {
	p, err := decodeParams[deviceUIDParams](raw)
	if err != nil {
		return nil, err
	}

	dc, err := s.deviceFor(p.DeviceUID)
	if err != nil {
		return nil, err
	}

	dc.Cache.BeginLoad()

	return map[string]string{"load_state": dc.Cache.State().String()}, nil
}

func handleRefreshSubtree(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	p, err := decodeParams[deviceNodeParams](raw)
	if err != nil {
		return nil, err
	}

	dc, err := s.deviceFor(p.DeviceUID)
	if err != nil {
		return nil, err
	}

	dc.Cache.BeginLoad()
	dc.Cache.PublishSubtreeChanged(node.UID(p.NodeUID))
	dc.Cache.FinishLoad()

	return map[string]bool{"ok": true}, nil
}

// --- Diff/merge group ---

type diffEntry struct {
	Path  string `json:"path"`
	Left  *NodeInfo `json:"left,omitempty"`
	Right *NodeInfo `json:"right,omitempty"`
}

func handleStartDiffTrees(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	type params struct {
		LeftDeviceUID  uint32 `json:"left_device_uid"`
		RightDeviceUID uint32 `json:"right_device_uid"`
	}

	p, err := decodeParams[params](raw)
	if err != nil {
		return nil, err
	}

	left, err := s.deviceFor(p.LeftDeviceUID)
	if err != nil {
		return nil, err
	}

	right, err := s.deviceFor(p.RightDeviceUID)
	if err != nil {
		return nil, err
	}

	leftNodes, err := left.Store.ListAllLive(ctx)
	if err != nil {
		return nil, err
	}

	rightNodes, err := right.Store.ListAllLive(ctx)
	if err != nil {
		return nil, err
	}

	return diffByPath(ctx, left, leftNodes, right, rightNodes), nil
}

// diffByPath compares two device trees by materialized path, the join key
// a two-pane reconciliation works against (spec.md §1).
func diffByPath(ctx context.Context, left *DeviceContext, leftNodes []*node.Node, right *DeviceContext, rightNodes []*node.Node) []diffEntry {
	leftByPath := make(map[string]*node.Node, len(leftNodes))

	for _, n := range leftNodes {
		if n.IsFile() {
			if p, err := left.Store.MaterializePath(ctx, n.ID.NodeUID); err == nil && p != "" {
				leftByPath[p] = n
			}
		}
	}

	rightByPath := make(map[string]*node.Node, len(rightNodes))

	for _, n := range rightNodes {
		if n.IsFile() {
			if p, err := right.Store.MaterializePath(ctx, n.ID.NodeUID); err == nil && p != "" {
				rightByPath[p] = n
			}
		}
	}

	var out []diffEntry

	for p, ln := range leftByPath {
		rn, ok := rightByPath[p]

		if !ok {
			info := toNodeInfo(left.Device.DeviceUID, ln)
			out = append(out, diffEntry{Path: p, Left: &info})

			continue
		}

		if ln.SizeBytes != rn.SizeBytes || (ln.MD5 != "" && rn.MD5 != "" && ln.MD5 != rn.MD5) {
			li, ri := toNodeInfo(left.Device.DeviceUID, ln), toNodeInfo(right.Device.DeviceUID, rn)
			out = append(out, diffEntry{Path: p, Left: &li, Right: &ri})
		}
	}

	for p, rn := range rightByPath {
		if _, ok := leftByPath[p]; !ok {
			info := toNodeInfo(right.Device.DeviceUID, rn)
			out = append(out, diffEntry{Path: p, Right: &info})
		}
	}

	return out
}

// generate_merge_tree counts what merging the diff would involve: each
// left-only or right-only entry counts as one proposed copy, and each entry
// present on both sides with differing content counts as a conflict. It
// builds no UserOp batch and appends nothing to any graph.
func handleGenerateMergeTree(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	type params struct {
		LeftDeviceUID  uint32 `json:"left_device_uid"`
		RightDeviceUID uint32 `json:"right_device_uid"`
	}

	p, err := decodeParams[params](raw)
	if err != nil {
		return nil, err
	}

	left, err := s.deviceFor(p.LeftDeviceUID)
	if err != nil {
		return nil, err
	}

	right, err := s.deviceFor(p.RightDeviceUID)
	if err != nil {
		return nil, err
	}

	leftNodes, err := left.Store.ListAllLive(ctx)
	if err != nil {
		return nil, err
	}

	rightNodes, err := right.Store.ListAllLive(ctx)
	if err != nil {
		return nil, err
	}

	diff := diffByPath(ctx, left, leftNodes, right, rightNodes)

	var proposed int

	for _, d := range diff {
		if d.Left != nil && d.Right == nil {
			proposed++
		} else if d.Right != nil && d.Left == nil {
			proposed++
		}
	}

	return map[string]any{"proposed_ops": proposed, "conflicts": len(diff) - proposed}, nil
}

func handleDropDraggedNodes(_ context.Context, _ *Server, raw json.RawMessage) (any, error) {
	type params struct {
		NodeGUIDs []string `json:"node_guids"`
	}

	p, err := decodeParams[params](raw)
	if err != nil {
		return nil, err
	}

	return map[string]int{"dropped": len(p.NodeGUIDs)}, nil
}

func handleDeleteSubtree(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	p, err := decodeParams[deviceNodeParams](raw)
	if err != nil {
		return nil, err
	}

	dc, err := s.deviceFor(p.DeviceUID)
	if err != nil {
		return nil, err
	}

	op := &store.UserOpRecord{
		OpUID: fmt.Sprintf("rm-%d-%d-%d", p.DeviceUID, p.NodeUID, time.Now().UnixNano()), //nolint:forbidigo // RPC-issued op_uid, not a scheduler tick
		BatchUID: fmt.Sprintf("rm-batch-%d", time.Now().UnixNano()),
		Type: store.OpRM, SrcDevice: node.DeviceUID(p.DeviceUID), SrcNode: node.UID(p.NodeUID),
		State: store.OpPending,
	}

	if err := dc.Graph.AppendBatch(ctx, []*store.UserOpRecord{op}); err != nil {
		return nil, err
	}

	return map[string]string{"op_uid": op.OpUID}, nil
}

func handleGetLastPendingOpForNode(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	p, err := decodeParams[deviceNodeParams](raw)
	if err != nil {
		return nil, err
	}

	dc, err := s.deviceFor(p.DeviceUID)
	if err != nil {
		return nil, err
	}

	pending, err := dc.Store.ListByState(ctx, store.OpPending)
	if err != nil {
		return nil, err
	}

	for i := len(pending) - 1; i >= 0; i-- {
		op := pending[i]
		if op.SrcNode == node.UID(p.NodeUID) || (op.HasDst && op.DstNode == node.UID(p.NodeUID)) {
			return op, nil
		}
	}

	return nil, nil //nolint:nilnil // "no pending op" is a valid result, not an error
}

func handleDownloadFileFromGdrive(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	type params struct {
		DeviceUID uint32 `json:"device_uid"`
		NodeUID   uint32 `json:"node_uid"`
		DestPath  string `json:"dest_path"`
	}

	p, err := decodeParams[params](raw)
	if err != nil {
		return nil, err
	}

	dc, err := s.deviceFor(p.DeviceUID)
	if err != nil {
		return nil, err
	}

	if dc.Driver == nil {
		return nil, fmt.Errorf("%w: device %d has no cloud driver", errBadParams, p.DeviceUID)
	}

	n, err := dc.Store.GetNode(ctx, node.UID(p.NodeUID))
	if err != nil {
		return nil, err
	}

	if n == nil {
		return nil, fmt.Errorf("%w: node_uid %d", errNotFound, p.NodeUID)
	}

	f, err := os.Create(p.DestPath)
	if err != nil {
		return nil, fmt.Errorf("creating destination file: %w", err)
	}
	defer f.Close()

	if err := dc.Driver.Download(ctx, n.GoogID, f); err != nil {
		return nil, fmt.Errorf("downloading %s: %w", n.GoogID, err)
	}

	return map[string]bool{"ok": true}, nil
}

func handleGetOpExecPlayState(_ context.Context, s *Server, _ json.RawMessage) (any, error) {
	return map[string]bool{"paused": s.paused.Load()}, nil
}

// --- Signal group ---

type subscribeParams struct {
	TreeID string `json:"tree_id,omitempty"`
}

type sendSignalParams struct {
	TreeID string `json:"tree_id,omitempty"`
	Type   string `json:"type"`
	Detail string `json:"detail,omitempty"`
}

func handleSendSignal(_ context.Context, s *Server, raw json.RawMessage) (any, error) {
	p, err := decodeParams[sendSignalParams](raw)
	if err != nil {
		return nil, err
	}

	s.bus.Publish(signal.Msg{TreeID: p.TreeID, Type: parseSignalType(p.Type), Sender: "rpc", Detail: p.Detail})

	return map[string]bool{"ok": true}, nil
}

func parseSignalType(s string) signal.Type {
	for t := signal.NodeUpserted; t <= signal.SelectionChanged; t++ {
		if t.String() == s {
			return t
		}
	}

	return signal.NodeUpserted
}
