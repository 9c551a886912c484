package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"empty data dir", func(c *Config) { c.DataDir = "" }, true},
		{"negative max versions", func(c *Config) { c.History.MaxVersions = -1 }, true},
		{"zero apply workers", func(c *Config) { c.Commit.ApplyWorkers = 0 }, true},
		{"bad sync mode", func(c *Config) { c.WAL.SyncMode = "eventually" }, true},
		{"zero segment size", func(c *Config) { c.WAL.MaxSegmentSize = 0 }, true},
		{"archive without interval", func(c *Config) {
			c.Archive.Enabled = true
			c.Archive.Interval = 0
		}, true},
		{"archive disabled without interval", func(c *Config) {
			c.Archive.Enabled = false
			c.Archive.Interval = 0
		}, false},
		{"percentile accuracy too high", func(c *Config) { c.Query.Percentile.Accuracy = 1.5 }, true},
		{"percentile disabled ignores accuracy", func(c *Config) {
			c.Query.Percentile.Enabled = false
			c.Query.Percentile.Accuracy = 0
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.yaml")
	data := `
data_dir: /tmp/berry-test
strict_streams: true
history:
  max_versions: 100
wal:
  sync_mode: async
  sync_interval: 2s
archive:
  enabled: false
query:
  max_rows: 500
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.DataDir != "/tmp/berry-test" || !cfg.StrictStreams {
		t.Errorf("top-level fields not loaded: %+v", cfg)
	}
	if cfg.History.MaxVersions != 100 {
		t.Errorf("max_versions = %d, want 100", cfg.History.MaxVersions)
	}
	if cfg.WAL.SyncMode != "async" || cfg.WAL.SyncInterval != 2*time.Second {
		t.Errorf("wal not loaded: %+v", cfg.WAL)
	}
	if cfg.Archive.Enabled {
		t.Error("archive should be disabled")
	}
	if cfg.Query.MaxRows != 500 {
		t.Errorf("max_rows = %d, want 500", cfg.Query.MaxRows)
	}

	// Unset fields keep their defaults.
	if cfg.Commit.ApplyWorkers != 8 {
		t.Errorf("apply_workers = %d, want default 8", cfg.Commit.ApplyWorkers)
	}
	if cfg.WAL.MaxSegmentSize != 100*1024*1024 {
		t.Errorf("max_segment_size = %d, want default", cfg.WAL.MaxSegmentSize)
	}
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.yaml")
	if err := os.WriteFile(path, []byte("wal:\n  sync_mode: bogus\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load should reject invalid sync mode")
	}
}

func TestDerivedDirs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data/berry"

	if got := cfg.WALDir(); got != "/data/berry/wal" {
		t.Errorf("WALDir() = %q", got)
	}
	if got := cfg.ArchiveDir(); got != "/data/berry/archive" {
		t.Errorf("ArchiveDir() = %q", got)
	}

	cfg.WAL.Dir = "/fast/wal"
	if got := cfg.WALDir(); got != "/fast/wal" {
		t.Errorf("explicit WALDir() = %q", got)
	}
}
