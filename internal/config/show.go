package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w, giving visibility into the effective values
// after all four override layers (defaults -> file -> env -> CLI) have
// been applied. No CLI subcommand calls it.
func RenderEffective(rd *ResolvedDeviceRoot, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration for device %q\n\n", rd.ID)

	renderDeviceSection(ew, rd)
	renderFilterSection(ew, &rd.FilterConfig)
	renderTransfersSection(ew, &rd.TransfersConfig)
	renderSafetySection(ew, &rd.SafetyConfig)
	renderSyncSection(ew, &rd.SyncConfig)
	renderLoggingSection(ew, &rd.LoggingConfig)
	renderNetworkSection(ew, &rd.NetworkConfig)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderDeviceSection(ew *errWriter, rd *ResolvedDeviceRoot) {
	ew.printf("[device]\n")
	ew.printf("  id            = %q\n", rd.ID)
	ew.printf("  tree_type     = %q\n", rd.TreeType)
	ew.printf("  enabled       = %t\n", rd.Enabled)
	ew.printf("  paused        = %t\n", rd.Paused)

	if rd.Alias != "" {
		ew.printf("  alias         = %q\n", rd.Alias)
	}

	if rd.RootPath != "" {
		ew.printf("  root_path     = %q\n", rd.RootPath)
	}

	if rd.RemotePath != "" {
		ew.printf("  remote_path   = %q\n", rd.RemotePath)
	}

	if !rd.Account.IsZero() {
		ew.printf("  account       = %q\n", rd.Account.String())
	}

	if rd.StateDir != "" {
		ew.printf("  state_dir     = %q\n", rd.StateDir)
	}

	ew.printf("\n")
}

func renderFilterSection(ew *errWriter, f *FilterConfig) {
	ew.printf("[filter]\n")
	ew.printf("  skip_dotfiles  = %t\n", f.SkipDotfiles)
	ew.printf("  skip_symlinks  = %t\n", f.SkipSymlinks)
	ew.printf("  max_file_size  = %q\n", f.MaxFileSize)
	ew.printf("  ignore_marker  = %q\n", f.IgnoreMarker)

	if len(f.SkipFiles) > 0 {
		ew.printf("  skip_files     = [%s]\n", joinQuoted(f.SkipFiles))
	}

	if len(f.SkipDirs) > 0 {
		ew.printf("  skip_dirs      = [%s]\n", joinQuoted(f.SkipDirs))
	}

	if len(f.SyncPaths) > 0 {
		ew.printf("  sync_paths     = [%s]\n", joinQuoted(f.SyncPaths))
	}

	ew.printf("\n")
}

func renderTransfersSection(ew *errWriter, t *TransfersConfig) {
	ew.printf("[transfers]\n")
	ew.printf("  transfer_workers = %d\n", t.TransferWorkers)
	ew.printf("  check_workers    = %d\n", t.CheckWorkers)
	ew.printf("  chunk_size       = %q\n", t.ChunkSize)
	ew.printf("  bandwidth_limit  = %q\n", t.BandwidthLimit)
	ew.printf("  transfer_order   = %q\n", t.TransferOrder)
	ew.printf("\n")
}

func renderSafetySection(ew *errWriter, s *SafetyConfig) {
	ew.printf("[safety]\n")
	ew.printf("  big_delete_threshold     = %d\n", s.BigDeleteThreshold)
	ew.printf("  big_delete_percentage    = %d\n", s.BigDeletePercentage)
	ew.printf("  big_delete_min_items     = %d\n", s.BigDeleteMinItems)
	ew.printf("  min_free_space           = %q\n", s.MinFreeSpace)
	ew.printf("  use_recycle_bin          = %t\n", s.UseRecycleBin)
	ew.printf("  use_local_trash          = %t\n", s.UseLocalTrash)
	ew.printf("  sync_dir_permissions     = %q\n", s.SyncDirPermissions)
	ew.printf("  sync_file_permissions    = %q\n", s.SyncFilePermissions)
	ew.printf("  tombstone_retention_days = %d\n", s.TombstoneRetentionDays)
	ew.printf("\n")
}

func renderSyncSection(ew *errWriter, s *SyncConfig) {
	ew.printf("[sync]\n")
	ew.printf("  poll_interval              = %q\n", s.PollInterval)
	ew.printf("  fullscan_frequency         = %d\n", s.FullscanFrequency)
	ew.printf("  conflict_strategy          = %q\n", s.ConflictStrategy)
	ew.printf("  conflict_reminder_interval = %q\n", s.ConflictReminderInterval)
	ew.printf("  dry_run                    = %t\n", s.DryRun)
	ew.printf("  verify_interval            = %q\n", s.VerifyInterval)
	ew.printf("  shutdown_timeout           = %q\n", s.ShutdownTimeout)
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("  log_level          = %q\n", l.LogLevel)

	if l.LogFile != "" {
		ew.printf("  log_file           = %q\n", l.LogFile)
	}

	ew.printf("  log_format         = %q\n", l.LogFormat)
	ew.printf("  log_retention_days = %d\n", l.LogRetentionDays)
	ew.printf("\n")
}

func renderNetworkSection(ew *errWriter, n *NetworkConfig) {
	ew.printf("[network]\n")
	ew.printf("  connect_timeout = %q\n", n.ConnectTimeout)
	ew.printf("  data_timeout    = %q\n", n.DataTimeout)

	if n.UserAgent != "" {
		ew.printf("  user_agent      = %q\n", n.UserAgent)
	}

	ew.printf("  force_http_11   = %t\n", n.ForceHTTP11)
}

func joinQuoted(items []string) string {
	var out string

	for i, s := range items {
		if i > 0 {
			out += ", "
		}

		out += fmt.Sprintf("%q", s)
	}

	return out
}
