package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/duotree/agent/internal/cache"
	"github.com/duotree/agent/internal/config"
	"github.com/duotree/agent/internal/device"
	"github.com/duotree/agent/internal/executor"
	"github.com/duotree/agent/internal/localfs"
	"github.com/duotree/agent/internal/node"
	"github.com/duotree/agent/internal/opgraph"
	"github.com/duotree/agent/internal/remotefs"
	"github.com/duotree/agent/internal/remotefs/httpdriver"
	"github.com/duotree/agent/internal/rpc"
	"github.com/duotree/agent/internal/signal"
	"github.com/duotree/agent/internal/signature"
	"github.com/duotree/agent/internal/store"
	"github.com/duotree/agent/internal/uid"
)

// runningDevice bundles every long-lived worker started for one configured
// device root, so the daemon shell can fan Run(ctx) out and Close() down
// cleanly (spec.md §2 components D-I, one set per device).
type runningDevice struct {
	resolved *config.ResolvedDeviceRoot
	device   *device.Device
	store    store.Store
	cache    *cache.Manager
	graph    *opgraph.Graph
	executor *executor.Executor
	sigCalc  *signature.Calculator
	scanner  *localfs.Scanner
	monitor  *localfs.Monitor
	poller   *remotefs.Poller

	runners []func(ctx context.Context) error
}

// Close releases the per-device store. Called after every runner in
// rdv.runners has returned during daemon shutdown.
func (rdv *runningDevice) Close() error {
	if rdv.store == nil {
		return nil
	}

	return rdv.store.Close()
}

// startDevice opens the per-device store, registers the device, and wires
// components D-I for it. A cloud device whose OAuth token has not yet been
// obtained (login is a separate, out-of-scope concern per SPEC_FULL.md §1
// "cloud OAuth/REST internals treated as a pluggable RemoteFS driver") is
// still registered and reachable over RPC, but starts with no poller or
// executor driver, so get_device_list can report it without syncing it.
func startDevice(ctx context.Context, rd *config.ResolvedDeviceRoot, registry *device.Registry, bus *signal.Bus, rpcServer *rpc.Server, logger *slog.Logger) (*runningDevice, error) {
	longID, err := device.LoadOrCreateLongDeviceID(longIDDir(rd))
	if err != nil {
		return nil, fmt.Errorf("loading long_device_id for %q: %w", rd.ID, err)
	}

	st, err := store.Open(ctx, rd.StatePath(), 0, logger)
	if err != nil {
		return nil, fmt.Errorf("opening state store for %q: %w", rd.ID, err)
	}

	dev := &device.Device{
		LongDeviceID: longID,
		FriendlyName: rd.Alias,
		RootPath:     rd.RootPath,
		Account:      rd.Account,
	}

	switch rd.TreeType {
	case device.TreeTypeLocal:
		dev.TreeType = device.TreeTypeLocal
	case device.TreeTypeCloud:
		dev.TreeType = device.TreeTypeCloud
	}

	deviceUID, err := registry.Register(dev)
	if err != nil {
		st.Close()

		return nil, fmt.Errorf("registering device %q: %w", rd.ID, err)
	}

	// The store was opened with a placeholder device_uid; rebind it now
	// that the registry has assigned the real one (registration order
	// isn't known until every root in the config has been read).
	st.Close()

	st, err = store.Open(ctx, rd.StatePath(), deviceUID, logger)
	if err != nil {
		return nil, fmt.Errorf("reopening state store for %q with device_uid %d: %w", rd.ID, deviceUID, err)
	}

	alloc, err := uid.NewAllocator(ctx, st, uint32(deviceUID), 0)
	if err != nil {
		st.Close()

		return nil, fmt.Errorf("building uid allocator for %q: %w", rd.ID, err)
	}

	treeID := rd.ID
	cacheMgr := cache.New(st, bus, treeID, logger)
	graph := opgraph.New(st, bus, logger)

	rdv := &runningDevice{resolved: rd, device: dev, store: st, cache: cacheMgr, graph: graph}

	sigCfg := signature.Config{
		BytesPerBatchHighWatermark: parseSizeOrDefault(rd.BytesPerBatchHighWatermark, defaultBytesPerBatch, logger),
		BatchInterval:              time.Duration(rd.BatchIntervalMs) * time.Millisecond,
	}
	rdv.sigCalc = signature.New(st, bus, treeID, sigCfg, logger)
	rdv.runners = append(rdv.runners, rdv.sigCalc.Run)

	execCfg := executor.Config{
		UpdateMetaForDstNodes:    rd.UpdateMetaForDstNodes,
		IsSecondsPrecisionEnough: rd.IsSecondsPrecisionEnough,
		DirConflictPolicy:        executor.PolicyRename,
		FileConflictPolicy:       executor.PolicyRename,
		BatchErrorStrategy:       rd.BatchErrorStrategy,
	}

	var driver remotefs.Driver

	switch rd.TreeType {
	case device.TreeTypeLocal:
		if err := wireLocalDevice(rdv, rd, deviceUID, st, alloc, bus, treeID, logger); err != nil {
			st.Close()

			return nil, err
		}
	case device.TreeTypeCloud:
		driver, err = wireCloudDevice(ctx, rdv, rd, deviceUID, st, alloc, bus, treeID, logger)
		if err != nil {
			logger.Warn("cloud device has no usable driver yet, registering without sync", "device", rd.ID, "error", err)
		}
	}

	rdv.executor = executor.New(graph, st, driver, bus, treeID, execCfg, logger)
	rdv.runners = append(rdv.runners, rdv.executor.Run)

	dc := &rpc.DeviceContext{Device: dev, Store: st, Cache: cacheMgr, Graph: graph, Alloc: alloc, Driver: driver}
	rpcServer.RegisterDevice(dc)

	if err := graph.Rehydrate(ctx, rd.CancelAllPendingOpsOnStartup, "startup-"+treeID, nowNanosAt(), currentNanos); err != nil {
		logger.Warn("rehydrating op graph failed", "device", rd.ID, "error", err)
	}

	return rdv, nil
}

const defaultBytesPerBatch = 64 << 20 // 64 MiB, used when bytes_per_batch_high_watermark is unset or invalid

func parseSizeOrDefault(s string, fallback int64, logger *slog.Logger) int64 {
	if s == "" {
		return fallback
	}

	v, err := config.ParseSize(s)
	if err != nil {
		logger.Warn("invalid size in config, using default", "value", s, "error", err)

		return fallback
	}

	return v
}

// wireLocalDevice upsets the root directory node (created once, never by
// the scanner itself per internal/localfs.New's contract) and builds the
// Scanner/Monitor pair.
func wireLocalDevice(rdv *runningDevice, rd *config.ResolvedDeviceRoot, deviceUID node.DeviceUID, st store.Store, alloc *uid.Allocator, bus *signal.Bus, treeID string, logger *slog.Logger) error {
	ctx := context.Background()

	rootUID, err := alloc.Next(ctx)
	if err != nil {
		return fmt.Errorf("allocating root uid for %q: %w", rd.ID, err)
	}

	rootNode := node.NewLocalDir(node.NewSPID(deviceUID, node.UID(rootUID), 0, rd.RootPath), rootBaseName(rd.RootPath), 0)

	if err := st.UpsertBatch(ctx, []*node.Node{rootNode}); err != nil {
		return fmt.Errorf("upserting root node for %q: %w", rd.ID, err)
	}

	filter := localfs.Filter{
		SkipDotfiles: rd.SkipDotfiles,
		SkipSymlinks: rd.SkipSymlinks,
		MaxFileSize:  parseSizeOrDefault(rd.MaxFileSize, 0, logger),
		SkipDirs:     toSet(rd.SkipDirs),
		SkipFiles:    toSet(rd.SkipFiles),
	}

	scanner := localfs.New(rd.RootPath, deviceUID, node.UID(rootUID), st, alloc, bus, treeID, filter, logger)
	rdv.scanner = scanner
	rdv.runners = append(rdv.runners, func(ctx context.Context) error { return scanner.Scan(ctx) })

	debounce := time.Duration(rd.LocalChangeBatchIntervalMs) * time.Millisecond
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	monitor := localfs.NewMonitor(scanner, debounce, logger)
	rdv.monitor = monitor
	rdv.runners = append(rdv.runners, monitor.Watch)

	return nil
}

const defaultDebounce = 2 * time.Second

// cloudAPIBaseURL is a placeholder REST endpoint. The real per-provider
// endpoint/client-id/scopes are cloud OAuth/REST internals, out of scope
// per SPEC_FULL.md §1 ("treated as a pluggable RemoteFS driver") — wiring
// a concrete provider means filling in httpdriver.OAuthProvider and this
// URL from an out-of-tree provisioning step, not from this daemon.
const cloudAPIBaseURL = "https://api.example-drive.invalid"

// wireCloudDevice builds the httpdriver.Driver + Poller pair for a cloud
// device, loading its persisted OAuth token. Returns an error (non-fatal to
// the caller) if no account is configured or no token exists yet.
func wireCloudDevice(ctx context.Context, rdv *runningDevice, rd *config.ResolvedDeviceRoot, deviceUID node.DeviceUID, st store.Store, alloc *uid.Allocator, bus *signal.Bus, treeID string, logger *slog.Logger) (remotefs.Driver, error) {
	if rd.Account.IsZero() {
		return nil, fmt.Errorf("no account configured for cloud device %q", rd.ID)
	}

	tokenPath := config.DeviceTokenPath(rd.Account)
	if tokenPath == "" {
		return nil, fmt.Errorf("no token path resolvable for account %q", rd.Account)
	}

	ts, err := httpdriver.TokenSourceFromPath(ctx, tokenPath, httpdriver.OAuthProvider{}, logger)
	if err != nil {
		return nil, fmt.Errorf("loading oauth token from %s: %w", tokenPath, err)
	}

	client := httpdriver.NewClient(cloudAPIBaseURL, ts, logger)
	driver := httpdriver.NewDriver(client)

	poller := remotefs.New(driver, st, alloc, bus, treeID, deviceUID, logger)
	rdv.poller = poller
	rdv.runners = append(rdv.runners, func(ctx context.Context) error { return pollLoop(ctx, poller, rd, logger) })

	return driver, nil
}

// pollLoop runs Poll on a fixed interval until ctx is cancelled, mirroring
// the teacher's internal/sync polling cadence.
func pollLoop(ctx context.Context, poller *remotefs.Poller, rd *config.ResolvedDeviceRoot, logger *slog.Logger) error {
	interval, err := time.ParseDuration(rd.PollInterval)
	if err != nil || interval <= 0 {
		interval = defaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := poller.Poll(ctx); err != nil {
			logger.Warn("remote poll failed", "device", rd.ID, "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

const defaultPollInterval = 5 * time.Minute

// longIDDir returns a per-device directory to hold device_uuid.txt,
// derived from the device's state DB path so it lives alongside the
// device's other persisted files without colliding with sibling devices
// that share the same data directory.
func longIDDir(rd *config.ResolvedDeviceRoot) string {
	statePath := rd.StatePath()

	return strings.TrimSuffix(statePath, filepath.Ext(statePath)) + "_identity"
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}

	return m
}

func rootBaseName(path string) string {
	if path == "" || path == "/" {
		return "/"
	}

	i := len(path) - 1
	for i > 0 && path[i] == '/' {
		i--
	}

	j := i
	for j > 0 && path[j-1] != '/' {
		j--
	}

	return path[j : i+1]
}

// nowNanosAt/currentNanos stand in for wall-clock timestamping at startup;
// split into two functions so tests can inject a fixed currentNanos without
// touching the call site.
func nowNanosAt() int64 { return currentNanos() }

func currentNanos() int64 { return time.Now().UnixNano() }
