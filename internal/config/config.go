// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for the agent daemon.
package config

// Config is the top-level configuration structure: global defaults plus the
// set of configured device roots, keyed by the raw TOML section header
// under which they appeared (see load.go's decodeDeviceSections).
type Config struct {
	FilterConfig
	TransfersConfig
	SafetyConfig
	SyncConfig
	LoggingConfig
	NetworkConfig

	Devices map[string]*DeviceRoot `toml:"-"`
}

// FilterConfig controls which files and directories are included in sync.
type FilterConfig struct {
	SkipFiles    []string `toml:"skip_files"`
	SkipDirs     []string `toml:"skip_dirs"`
	SkipDotfiles bool     `toml:"skip_dotfiles"`
	SkipSymlinks bool     `toml:"skip_symlinks"`
	MaxFileSize  string   `toml:"max_file_size"`
	SyncPaths    []string `toml:"sync_paths"`
	IgnoreMarker string   `toml:"ignore_marker"`
}

// TransfersConfig controls worker pool sizing and bandwidth.
type TransfersConfig struct {
	TransferWorkers   int                      `toml:"transfer_workers"`
	CheckWorkers      int                      `toml:"check_workers"`
	ChunkSize         string                   `toml:"chunk_size"`
	BandwidthLimit    string                   `toml:"bandwidth_limit"`
	BandwidthSchedule []BandwidthScheduleEntry `toml:"bandwidth_schedule"`
	TransferOrder     string                   `toml:"transfer_order"`

	// BytesPerBatchHighWatermark bounds how many bytes of file content the
	// signature calculator (spec.md §4.D) hashes before sleeping.
	BytesPerBatchHighWatermark string `toml:"bytes_per_batch_high_watermark"`
	// BatchIntervalMs is how long the signature calculator sleeps between
	// batches.
	BatchIntervalMs int `toml:"batch_interval_ms"`
	// UpdateMetaForDstNodes requests that local copy/move preserve source
	// file metadata (mtime) on the destination (spec.md §4.I).
	UpdateMetaForDstNodes bool `toml:"update_meta_for_dst_nodes"`
}

// BandwidthScheduleEntry narrows bandwidth to Limit starting at Time
// (local "HH:MM", in effect until the next entry's Time).
type BandwidthScheduleEntry struct {
	Time  string `toml:"time"`
	Limit string `toml:"limit"`
}

// SafetyConfig controls protective defaults and thresholds.
type SafetyConfig struct {
	BigDeleteThreshold        int    `toml:"big_delete_threshold"`
	BigDeletePercentage       int    `toml:"big_delete_percentage"`
	BigDeleteMinItems         int    `toml:"big_delete_min_items"`
	MinFreeSpace              string `toml:"min_free_space"`
	UseRecycleBin             bool   `toml:"use_recycle_bin"`
	UseLocalTrash             bool   `toml:"use_local_trash"`
	DisableDownloadValidation bool   `toml:"disable_download_validation"`
	DisableUploadValidation   bool   `toml:"disable_upload_validation"`
	SyncDirPermissions        string `toml:"sync_dir_permissions"`
	SyncFilePermissions       string `toml:"sync_file_permissions"`
	TombstoneRetentionDays    int    `toml:"tombstone_retention_days"`
}

// SyncConfig controls the reconciliation loop's pacing and conflict policy.
// The RPC transport is always WebSocket-framed (see internal/rpc); unlike
// the generation this package replaces, there is no toggle for it here.
type SyncConfig struct {
	PollInterval             string `toml:"poll_interval"`
	FullscanFrequency        int    `toml:"fullscan_frequency"`
	ConflictStrategy         string `toml:"conflict_strategy"`
	ConflictReminderInterval string `toml:"conflict_reminder_interval"`
	DryRun                   bool   `toml:"dry_run"`
	VerifyInterval           string `toml:"verify_interval"`
	ShutdownTimeout          string `toml:"shutdown_timeout"`

	// LocalChangeBatchIntervalMs debounces bursts of OS file-notification
	// events before the local scanner (spec.md §4.E) re-walks.
	LocalChangeBatchIntervalMs int `toml:"local_change_batch_interval_ms"`
	// CancelAllPendingOpsOnStartup, when true, cancels every PENDING UserOp
	// instead of retrying IN_PROGRESS ones on daemon restart (spec.md §4.H).
	CancelAllPendingOpsOnStartup bool `toml:"cancel_all_pending_ops_on_startup"`
	// BatchErrorStrategy controls how a failed op's batch is handled:
	// "retry", "skip", or "abort" (spec.md §4.H).
	BatchErrorStrategy string `toml:"batch_error_strategy"`
	// IsSecondsPrecisionEnough is copied into the executor's Config; the
	// executor does not read it, and no mtime comparison is relaxed to
	// whole-second granularity.
	IsSecondsPrecisionEnough bool `toml:"is_seconds_precision_enough"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level"`
	LogFile          string `toml:"log_file"`
	LogFormat        string `toml:"log_format"`
	LogRetentionDays int    `toml:"log_retention_days"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
	ForceHTTP11    bool   `toml:"force_http_11"`
}
