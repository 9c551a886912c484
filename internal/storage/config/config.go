// Package config holds the storage subsystem configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	rootconfig "github.com/berrydb/berrydb/config"
)

// Config represents the complete storage configuration.
type Config struct {
	// DataDir is the root directory for all storage files.
	DataDir string `yaml:"data_dir"`

	// StrictStreams, when true, makes queries against never-inserted
	// streams fail with an unknown-stream error instead of returning an
	// empty result at version 0. The default (false) matches the implicit
	// empty-stream semantics of the client contract.
	StrictStreams bool `yaml:"strict_streams"`

	// History configures per-stream version retention.
	History HistoryConfig `yaml:"history"`

	// Commit configures the commit coordinator.
	Commit CommitConfig `yaml:"commit"`

	// WAL configures the Write-Ahead Log.
	WAL WALConfig `yaml:"wal"`

	// Archive configures the Parquet archive tier.
	Archive ArchiveConfig `yaml:"archive"`

	// Query configures the query service.
	Query QueryConfig `yaml:"query"`
}

// HistoryConfig configures per-stream version retention.
type HistoryConfig struct {
	// MaxVersions bounds the number of retained snapshots per stream.
	// 0 means unlimited: every committed version stays readable for the
	// process lifetime. When bounded, reads pinned below the retained
	// floor fail with an invalid-version error.
	MaxVersions int `yaml:"max_versions"`
}

// CommitConfig configures the commit coordinator.
type CommitConfig struct {
	// LockTimeout is how long a commit waits for the per-stream gate.
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// ApplyWorkers is the number of async apply workers.
	ApplyWorkers int `yaml:"apply_workers"`

	// ApplyQueueSize is the async commit queue capacity.
	ApplyQueueSize int `yaml:"apply_queue_size"`
}

// WALConfig configures the Write-Ahead Log.
type WALConfig struct {
	// Dir is the WAL directory. Defaults to {DataDir}/wal.
	Dir string `yaml:"dir"`

	// SyncMode is the sync mode: async, sync, fsync.
	// Synchronous commits flush per this mode before returning; "async"
	// here means buffered writes with periodic flush, which weakens the
	// sync-commit durability point to the OS page cache.
	SyncMode string `yaml:"sync_mode"`

	// SyncInterval is the flush interval for async mode.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// MaxSegmentSize is the maximum segment size before rotation.
	MaxSegmentSize int64 `yaml:"max_segment_size"`
}

// ArchiveConfig configures the Parquet archive tier.
type ArchiveConfig struct {
	// Enabled enables background archiving.
	Enabled bool `yaml:"enabled"`

	// Dir is the archive directory. Defaults to {DataDir}/archive.
	Dir string `yaml:"dir"`

	// Interval is how often sealed stream data is flushed to Parquet.
	Interval time.Duration `yaml:"interval"`

	// Retention is how long archive files are kept. 0 disables pruning.
	Retention time.Duration `yaml:"retention"`

	// Compression selects the Parquet compression codec:
	// snappy, zstd, lz4, gzip, none.
	Compression string `yaml:"compression"`
}

// QueryConfig configures the query service.
type QueryConfig struct {
	// Percentile configures DDSketch percentile calculation for
	// statistical and window queries.
	Percentile PercentileConfig `yaml:"percentile"`

	// MemoryLimit is the DuckDB memory limit for SQL over the archive.
	MemoryLimit string `yaml:"memory_limit"`

	// Timeout is the query timeout.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRows is the maximum number of rows returned by SQL queries.
	MaxRows int `yaml:"max_rows"`
}

// PercentileConfig configures DDSketch percentile calculation.
type PercentileConfig struct {
	// Enabled enables percentile calculation.
	Enabled bool `yaml:"enabled"`

	// Accuracy is the relative accuracy (0.01 = 1% error).
	Accuracy float64 `yaml:"accuracy"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "/var/lib/berrydb",
		History: HistoryConfig{
			MaxVersions: 0, // unlimited
		},
		Commit: CommitConfig{
			LockTimeout:    rootconfig.DefaultCommitLockTimeout,
			ApplyWorkers:   rootconfig.DefaultApplyWorkers,
			ApplyQueueSize: rootconfig.DefaultApplyQueueSize,
		},
		WAL: WALConfig{
			SyncMode:       "fsync",
			SyncInterval:   time.Second,
			MaxSegmentSize: 100 * 1024 * 1024, // 100MB
		},
		Archive: ArchiveConfig{
			Enabled:     true,
			Interval:    10 * time.Minute,
			Retention:   0,
			Compression: "zstd",
		},
		Query: QueryConfig{
			Percentile: PercentileConfig{
				Enabled:  true,
				Accuracy: 0.01,
			},
			MemoryLimit: "2GB",
			Timeout:     30 * time.Second,
			MaxRows:     1000000,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.History.MaxVersions < 0 {
		return fmt.Errorf("history.max_versions must be >= 0")
	}

	if c.Commit.LockTimeout < 0 {
		return fmt.Errorf("commit.lock_timeout must be >= 0")
	}
	if c.Commit.ApplyWorkers <= 0 {
		return fmt.Errorf("commit.apply_workers must be > 0")
	}
	if c.Commit.ApplyQueueSize <= 0 {
		return fmt.Errorf("commit.apply_queue_size must be > 0")
	}

	switch c.WAL.SyncMode {
	case "async", "sync", "fsync":
	default:
		return fmt.Errorf("wal.sync_mode must be one of: async, sync, fsync")
	}
	if c.WAL.MaxSegmentSize <= 0 {
		return fmt.Errorf("wal.max_segment_size must be > 0")
	}

	if c.Archive.Enabled && c.Archive.Interval <= 0 {
		return fmt.Errorf("archive.interval must be > 0 when archiving is enabled")
	}

	if c.Query.Percentile.Enabled {
		if c.Query.Percentile.Accuracy <= 0 || c.Query.Percentile.Accuracy >= 1 {
			return fmt.Errorf("query.percentile.accuracy must be in (0, 1)")
		}
	}

	return nil
}

// WALDir returns the WAL directory.
func (c *Config) WALDir() string {
	if c.WAL.Dir != "" {
		return c.WAL.Dir
	}
	return filepath.Join(c.DataDir, "wal")
}

// ArchiveDir returns the archive directory.
func (c *Config) ArchiveDir() string {
	if c.Archive.Dir != "" {
		return c.Archive.Dir
	}
	return filepath.Join(c.DataDir, "archive")
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.WALDir()}
	if c.Archive.Enabled {
		dirs = append(dirs, c.ArchiveDir())
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
