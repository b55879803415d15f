package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/duotree/agent/internal/config"
	"github.com/duotree/agent/internal/device"
	"github.com/duotree/agent/internal/node"
	"github.com/duotree/agent/internal/signal"
)

var (
	errUnknownDevice = errors.New("rpc: unknown device_uid")
	errBadParams     = errors.New("rpc: bad params")
	errNotFound      = errors.New("rpc: not found")
)

// handlerFunc implements one unary RPC method.
type handlerFunc func(ctx context.Context, s *Server, params json.RawMessage) (any, error)

// methods is the dispatch table for every unary call in spec.md §6's
// method groups. subscribe_to_signals is handled separately in serveConn
// since it server-streams rather than returning one result.
var methods = map[string]handlerFunc{
	"get_config":                  handleGetConfig,
	"put_config":                  handlePutConfig,
	"get_icon":                    handleGetIcon,
	"get_device_list":             handleGetDeviceList,
	"get_child_list_for_spid":     handleGetChildListForSpid,
	"get_ancestor_list_for_spid":  handleGetAncestorListForSpid,
	"get_rows_of_interest":        handleGetRowsOfInterest,
	"set_selected_row_set":        handleSetSelectedRowSet,
	"remove_expanded_row":         handleRemoveExpandedRow,
	"get_filter":                  handleGetFilter,
	"update_filter":               handleUpdateFilter,
	"get_context_menu":            handleGetContextMenu,
	"execute_tree_action_list":    handleExecuteTreeActionList,
	"request_display_tree":        handleRequestDisplayTree,
	"start_subtree_load":          handleStartSubtreeLoad,
	"refresh_subtree":             handleRefreshSubtree,
	"get_next_uid":                handleGetNextUID,
	"get_node_for_uid":            handleGetNodeForUID,
	"get_uid_for_local_path":      handleGetUIDForLocalPath,
	"get_sn_for":                  handleGetSnFor,
	"start_diff_trees":            handleStartDiffTrees,
	"generate_merge_tree":         handleGenerateMergeTree,
	"drop_dragged_nodes":          handleDropDraggedNodes,
	"delete_subtree":              handleDeleteSubtree,
	"get_last_pending_op_for_node": handleGetLastPendingOpForNode,
	"download_file_from_gdrive":   handleDownloadFileFromGdrive,
	"get_op_exec_play_state":      handleGetOpExecPlayState,
	"send_signal":                 handleSendSignal,
}

// Server is the component J WebSocket RPC facade: one net/http handler
// upgrading each client connection, multiplexing unary calls and the
// signal subscription stream over it (spec.md §4.J, §6).
type Server struct {
	mu      sync.RWMutex
	devices map[node.DeviceUID]*DeviceContext

	registry *device.Registry
	bus      *signal.Bus

	getConfig func() *config.Config
	putConfig func(*config.Config) error

	connTimeout time.Duration
	logger      *slog.Logger

	paused atomic.Bool
}

// NewServer constructs a Server. getConfig/putConfig mediate the live
// config.Config the daemon holds; connTimeout bounds every unary call via
// context deadline (spec.md §6: "every unary call honors
// connection_timeout_sec").
func NewServer(registry *device.Registry, bus *signal.Bus, getConfig func() *config.Config, putConfig func(*config.Config) error, connTimeout time.Duration, logger *slog.Logger) *Server {
	return &Server{
		devices: make(map[node.DeviceUID]*DeviceContext),
		registry: registry, bus: bus,
		getConfig: getConfig, putConfig: putConfig,
		connTimeout: connTimeout, logger: logger,
	}
}

// RegisterDevice makes dc's components reachable by RPC handlers under its
// device's DeviceUID. Called once per configured device root at startup.
func (s *Server) RegisterDevice(dc *DeviceContext) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.devices[dc.Device.DeviceUID] = dc
}

// SetPaused sets the play/pause flag reported by get_op_exec_play_state
// (spec.md §6). It does not pause or resume the executor, and nothing in
// the daemon calls it.
func (s *Server) SetPaused(paused bool) {
	s.paused.Store(paused)
}

// ServeHTTP upgrades the connection to a WebSocket and serves RPC frames
// until the client disconnects or the request context is cancelled.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("rpc: websocket upgrade failed", "error", err)

		return
	}

	defer conn.CloseNow() //nolint:errcheck // best-effort on an already-failed connection

	s.serveConn(r.Context(), conn)
}

// serveConn drains frames from one connection, dispatching each to either
// the streaming subscribe_to_signals handler or a unary method, and writes
// back one response Envelope per request.
func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn) {
	var subs []*signal.Subscription

	defer func() {
		for _, sub := range subs {
			sub.Close()
		}
	}()

	var writeMu sync.Mutex

	write := func(env Envelope) error {
		writeMu.Lock()
		defer writeMu.Unlock()

		return wsjson.Write(ctx, conn, env)
	}

	for {
		var req Envelope

		if err := wsjson.Read(ctx, conn, &req); err != nil {
			if !errors.Is(err, context.Canceled) {
				closeStatus := websocket.CloseStatus(err)
				if closeStatus == -1 {
					s.logger.Debug("rpc: connection read error", "error", err)
				}
			}

			return
		}

		if req.Method == "subscribe_to_signals" {
			sub, err := s.startSubscription(ctx, req, write)
			if err != nil {
				_ = write(errorEnvelope(req.ID, ErrCodeBadParams, err.Error()))

				continue
			}

			subs = append(subs, sub)

			continue
		}

		handler, ok := methods[req.Method]
		if !ok {
			_ = write(errorEnvelope(req.ID, ErrCodeUnknownMethod, fmt.Sprintf("unknown method %q", req.Method)))

			continue
		}

		s.dispatchUnary(ctx, req, handler, write)
	}
}

// dispatchUnary runs handler under connTimeout and writes the resulting
// Envelope.
func (s *Server) dispatchUnary(ctx context.Context, req Envelope, handler handlerFunc, write func(Envelope) error) {
	callCtx := ctx

	var cancel context.CancelFunc

	if s.connTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, s.connTimeout)
		defer cancel()
	}

	result, err := handler(callCtx, s, req.Params)
	if err != nil {
		_ = write(errorEnvelope(req.ID, classifyHandlerErr(err), err.Error()))

		return
	}

	_ = write(resultEnvelope(req.ID, result))
}

func classifyHandlerErr(err error) string {
	switch {
	case errors.Is(err, errBadParams):
		return ErrCodeBadParams
	case errors.Is(err, errNotFound), errors.Is(err, errUnknownDevice):
		return ErrCodeNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	default:
		return ErrCodeInternal
	}
}

// startSubscription wires a signal.Subscription to stream Msg values back
// over the connection, tagged with the request's id, until the
// subscription is closed (spec.md §6: "server-streaming responses reuse
// the same connection tagged with the subscription's id").
func (s *Server) startSubscription(ctx context.Context, req Envelope, write func(Envelope) error) (*signal.Subscription, error) {
	p, err := decodeParams[subscribeParams](req.Params)
	if err != nil {
		return nil, err
	}

	sub := s.bus.Subscribe(p.TreeID)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.C():
				if !ok {
					return
				}

				if err := write(signalEnvelope(req.ID, msg)); err != nil {
					return
				}
			}
		}
	}()

	return sub, nil
}

func signalEnvelope(id string, msg signal.Msg) Envelope {
	type wireSignal struct {
		TreeID    string `json:"tree_id,omitempty"`
		Type      string `json:"type"`
		SigInt    int64  `json:"sig_int"`
		Sender    string `json:"sender"`
		NodeGUID  string `json:"node_guid,omitempty"`
		RemovedUID uint32 `json:"removed_uid,omitempty"`
		LoadState string `json:"load_state,omitempty"`
		BatchUID  string `json:"batch_uid,omitempty"`
		ErrorCode string `json:"error_code,omitempty"`
		Detail    string `json:"detail,omitempty"`
	}

	w := wireSignal{
		TreeID: msg.TreeID, Type: msg.Type.String(), SigInt: msg.SigInt, Sender: msg.Sender,
		RemovedUID: uint32(msg.RemovedUID), LoadState: msg.LoadState,
		BatchUID: msg.BatchUID, ErrorCode: msg.ErrorCode, Detail: msg.Detail,
	}

	if msg.Node != nil {
		w.NodeGUID = msg.Node.ID.GUID()
	}

	raw, err := json.Marshal(w)
	if err != nil {
		return errorEnvelope(id, ErrCodeInternal, "marshaling signal: "+err.Error())
	}

	return Envelope{ID: id, Method: "signal", Result: raw}
}
