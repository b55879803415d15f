// Command duotreed is the headless backend agent of spec.md §1: it loads
// the configured device roots, wires components D-I per device (signature
// calculator, local scanner/monitor, cloud poller, op executor), and serves
// the component J RPC facade over WebSocket so a separate UI client can
// subscribe to change signals and submit UserOp batches.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/duotree/agent/internal/config"
	"github.com/duotree/agent/internal/device"
	"github.com/duotree/agent/internal/rpc"
	"github.com/duotree/agent/internal/signal"
)

// Global persistent flags, matching spec.md §6's "CLI surface": the agent
// binary accepts --config, --port, --no-server-launch.
var (
	flagConfigPath     string
	flagPort           int
	flagNoServerLaunch bool
	flagVerbose        bool
	flagDebug          bool
	flagQuiet          bool
)

// defaultRPCPort is used when neither --port nor a config value selects one.
const defaultRPCPort = 47444

func main() {
	if err := newRootCmd().Execute(); err != nil {
		exitOnError(err)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "duotreed",
		Short:         "Two-pane file-tree reconciliation and sync agent",
		Long:          "duotreed loads configured local/cloud device roots, keeps their node caches coherent, and serves an RPC facade for a UI client to drive diff/drag-drop/sync operations.",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          runServe,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().IntVar(&flagPort, "port", 0, "RPC listen port (default "+fmt.Sprint(defaultRPCPort)+")")
	cmd.PersistentFlags().BoolVar(&flagNoServerLaunch, "no-server-launch", false, "wire devices and the op graph but do not start the RPC listener")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "info-level logging")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "debug-level logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "error-level logging only")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newStatusCmd())

	return cmd
}

func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn

	if cfg != nil {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelInfo
	}

	if flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// runServe is the daemon's main entrypoint: load config, acquire the
// single-instance PID file, wire every configured device root, and serve
// the RPC facade until SIGINT/SIGTERM.
func runServe(cmd *cobra.Command, _ []string) error {
	bootLogger := buildLogger(nil)

	env := config.ReadEnvOverrides(bootLogger)
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	cfgPath := config.ResolveConfigPath(env, cli, bootLogger)

	cfg, err := config.LoadOrDefault(cfgPath, bootLogger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := buildLogger(cfg)
	holder := config.NewHolder(cfg, cfgPath)

	pidPath := pidFilePath()

	cleanupPID, err := writePIDFile(pidPath)
	if err != nil {
		return err
	}

	defer cleanupPID()

	ctx := shutdownContext(cmd.Context(), logger)

	return serve(ctx, holder, logger)
}

func pidFilePath() string {
	dir := config.DefaultDataDir()
	if dir == "" {
		dir = os.TempDir()
	}

	return dir + "/duotreed.pid"
}

// serve wires every configured device root, starts the RPC listener
// (unless --no-server-launch), and blocks until ctx is cancelled, then
// drains every device's runners within the configured shutdown timeout.
func serve(ctx context.Context, holder *config.Holder, logger *slog.Logger) error {
	registry := device.NewRegistry()
	bus := signal.NewBus(logger)

	connTimeout := parseDurationOrDefault(holder.Config().ConnectTimeout, 10*time.Second, logger)

	rpcServer := rpc.NewServer(registry, bus,
		holder.Config,
		func(next *config.Config) error {
			if err := config.Validate(next); err != nil {
				return err
			}

			holder.Update(next)

			return nil
		},
		connTimeout, logger)

	resolved, err := config.ResolveDeviceRoots(holder.Config(), nil, false, logger)
	if err != nil {
		return fmt.Errorf("resolving device roots: %w", err)
	}

	if len(resolved) == 0 {
		statusf("no device roots configured — edit %s and add one, or SIGHUP this process after doing so\n", holder.Path())
	}

	runningDevices := make([]*runningDevice, 0, len(resolved))

	for _, rd := range resolved {
		rdv, err := startDevice(ctx, rd, registry, bus, rpcServer, logger)
		if err != nil {
			logger.Error("failed to start device, skipping", "device", rd.ID, "error", err)

			continue
		}

		runningDevices = append(runningDevices, rdv)
		statusf("started device %q (%s)\n", rd.ID, rd.TreeType)
	}

	runnerErrs := make(chan error, 1)

	go func() { runnerErrs <- runAllDevices(ctx, runningDevices) }()

	go watchReload(ctx, sighupChannel(), holder, logger)

	var srv *http.Server

	if !flagNoServerLaunch {
		srv = startRPCListener(rpcServer, logger)
	}

	<-ctx.Done()
	statusf("shutting down\n")

	shutdownTimeout := parseDurationOrDefault(holder.Config().ShutdownTimeout, 30*time.Second, logger)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)

	defer cancel()

	if srv != nil {
		_ = srv.Shutdown(shutdownCtx)
	}

	select {
	case <-runnerErrs:
	case <-shutdownCtx.Done():
		logger.Warn("device workers did not drain before shutdown timeout")
	}

	for _, rdv := range runningDevices {
		if err := rdv.Close(); err != nil {
			logger.Warn("closing device store failed", "device", rdv.resolved.ID, "error", err)
		}
	}

	return nil
}

// runAllDevices runs every device's runners concurrently and waits for all
// of them to return (normally, via ctx cancellation). The first
// non-context-cancellation error is returned for logging; callers don't
// treat it as fatal to the daemon as a whole (spec.md §9: one executor per
// device, and one device's fatal I/O error shouldn't bring down others).
func runAllDevices(ctx context.Context, devices []*runningDevice) error {
	done := make(chan error, countRunners(devices))

	for _, rdv := range devices {
		for _, run := range rdv.runners {
			go func() { done <- run(ctx) }()
		}
	}

	var firstErr error

	for range cap(done) {
		if err := <-done; err != nil && !errors.Is(err, context.Canceled) && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// watchReload reloads holder's config from disk on every SIGHUP, so an
// operator can add/edit device-root sections without a restart. New device
// roots added this way are not started until restart — only the global
// settings (filters, transfer tuning, log level) reachable via get_config
// are live.
func watchReload(ctx context.Context, hup <-chan os.Signal, holder *config.Holder, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := config.Load(holder.Path(), logger)
			if err != nil {
				logger.Error("config reload failed, keeping previous config", "error", err)

				continue
			}

			holder.Update(cfg)
			logger.Info("config reloaded", "path", holder.Path())
		}
	}
}

func countRunners(devices []*runningDevice) int {
	n := 0
	for _, rdv := range devices {
		n += len(rdv.runners)
	}

	return n
}

// startRPCListener starts the WebSocket RPC facade (component J) on a
// background goroutine and returns the *http.Server so the caller can
// Shutdown it gracefully.
func startRPCListener(rpcServer *rpc.Server, logger *slog.Logger) *http.Server {
	port := flagPort
	if port == 0 {
		port = defaultRPCPort
	}

	mux := http.NewServeMux()
	mux.Handle("/rpc", rpcServer)

	srv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", port),
		Handler: mux,
	}

	go func() {
		statusf("RPC facade listening on %s\n", srv.Addr)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("rpc listener failed", "error", err)
		}
	}()

	return srv
}

func parseDurationOrDefault(s string, fallback time.Duration, logger *slog.Logger) time.Duration {
	if s == "" {
		return fallback
	}

	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		logger.Warn("invalid duration in config, using default", "value", s, "error", err)

		return fallback
	}

	return d
}

func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
