package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/berrydb/berrydb/internal/errors"
	"github.com/berrydb/berrydb/internal/logging"
	"github.com/berrydb/berrydb/internal/storage/archive"
	"github.com/berrydb/berrydb/internal/storage/commit"
	"github.com/berrydb/berrydb/internal/storage/config"
	"github.com/berrydb/berrydb/internal/storage/ledger"
	"github.com/berrydb/berrydb/internal/storage/pointstore"
	"github.com/berrydb/berrydb/internal/storage/query"
	"github.com/berrydb/berrydb/internal/storage/types"
	"github.com/berrydb/berrydb/internal/storage/wal"
)

// Service is the main storage service that orchestrates all components:
// the point store, the version ledger, the commit coordinator, the WAL,
// the query service, and the Parquet archive. On Start it replays the
// WAL so every previously acknowledged commit is readable again.
type Service struct {
	mu sync.RWMutex

	config *config.Config

	// Components
	ledger  *ledger.Ledger
	store   *pointstore.Store
	wal     *wal.Writer
	commit  *commit.Coordinator
	query   *query.Service
	sql     *query.SQL
	archive *archive.Manager

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Statistics
	startTime time.Time
	replayed  int64
}

// New creates a new storage service.
func New(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	led := ledger.New()
	store := pointstore.New(led, pointstore.Options{
		MaxHistory: cfg.History.MaxVersions,
		Strict:     cfg.StrictStreams,
	})

	s := &Service{
		config: cfg,
		ledger: led,
		store:  store,
	}

	// Replay before opening the writer so recovery sees only complete
	// segments and the writer starts a fresh one.
	if err := s.replay(); err != nil {
		return nil, fmt.Errorf("wal replay: %w", err)
	}

	walWriter, err := wal.NewWriter(cfg.WALDir(), wal.Options{
		MaxSegmentSize: cfg.WAL.MaxSegmentSize,
		SyncMode:       cfg.WAL.SyncMode,
		SyncInterval:   cfg.WAL.SyncInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("create wal writer: %w", err)
	}
	s.wal = walWriter

	s.commit = commit.New(store, walWriter, commit.Options{
		LockTimeout: cfg.Commit.LockTimeout,
		Workers:     cfg.Commit.ApplyWorkers,
		QueueSize:   cfg.Commit.ApplyQueueSize,
	})

	s.query = query.New(store, query.Options{
		PercentileEnabled:  cfg.Query.Percentile.Enabled,
		PercentileAccuracy: cfg.Query.Percentile.Accuracy,
		MaxRows:            cfg.Query.MaxRows,
	})

	sqlSvc, err := query.NewSQL(cfg.ArchiveDir(), cfg.Query.MemoryLimit, cfg.Query.MaxRows)
	if err != nil {
		walWriter.Close()
		return nil, fmt.Errorf("create sql service: %w", err)
	}
	s.sql = sqlSvc

	if cfg.Archive.Enabled {
		s.archive = archive.New(store, archive.Options{
			Dir:         cfg.ArchiveDir(),
			Interval:    cfg.Archive.Interval,
			Retention:   cfg.Archive.Retention,
			Compression: cfg.Archive.Compression,
		})
	}

	return s, nil
}

// replay re-applies every logged commit in order. Commit order in the
// WAL matches version order per stream, so replay rebuilds the exact
// pre-crash version chain.
func (s *Service) replay() error {
	log := logging.Component("storage")

	err := wal.Replay(s.config.WALDir(), func(e *wal.Entry) error {
		var v types.Version
		switch e.Op {
		case types.OpInsert:
			v = s.store.Insert(e.Stream, e.Points)
		case types.OpDelete:
			v = s.store.DeleteRange(e.Stream, e.Start, e.End)
		default:
			return fmt.Errorf("unknown op %d", e.Op)
		}

		if v != e.Version {
			log.Warn("replayed version diverges from log",
				"stream", e.Stream,
				"logged", e.Version,
				"applied", v,
			)
		}

		s.replayed++
		return nil
	})
	if err != nil {
		return err
	}

	if s.replayed > 0 {
		log.Info("wal replay completed",
			"entries", s.replayed,
			"streams", s.store.Len(),
		)
	}
	return nil
}

// Start starts all components.
func (s *Service) Start() error {
	if s.running.Load() {
		return errors.ErrAlreadyRunning
	}

	s.running.Store(true)
	s.startTime = time.Now()
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if err := s.commit.Start(); err != nil {
		s.running.Store(false)
		return fmt.Errorf("start commit coordinator: %w", err)
	}

	if s.archive != nil {
		if err := s.archive.Start(); err != nil {
			s.commit.Stop()
			s.running.Store(false)
			return fmt.Errorf("start archive: %w", err)
		}
	}

	if s.config.WAL.SyncMode == "async" {
		s.wg.Add(1)
		go s.syncWorker()
	}

	return nil
}

// Stop stops all components gracefully. Queued async commits drain first.
func (s *Service) Stop() error {
	if !s.running.Load() {
		return nil
	}

	s.running.Store(false)
	s.cancel()
	s.wg.Wait()

	var errs []error

	if err := s.commit.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop commit coordinator: %w", err))
	}

	if s.archive != nil {
		if err := s.archive.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop archive: %w", err))
		}
	}

	if err := s.wal.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("sync wal: %w", err))
	}
	if err := s.wal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close wal: %w", err))
	}

	if err := s.sql.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close sql: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("stop errors: %v", errs)
	}

	return nil
}

// syncWorker periodically flushes the WAL in async mode.
func (s *Service) syncWorker() {
	defer s.wg.Done()

	interval := s.config.WAL.SyncInterval
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.wal.Sync(); err != nil {
				logging.Error("wal sync failed", "error", err)
			}
		}
	}
}

// Insert commits points to a stream. With DurabilitySync it blocks until
// the commit is durable and returns the new version. With DurabilityAsync
// it returns a receipt that resolves when the commit lands.
func (s *Service) Insert(ctx context.Context, id types.StreamID, points []types.Point, durability types.Durability) (types.Version, *commit.Receipt, error) {
	if !s.running.Load() {
		return 0, nil, errors.ErrNotRunning
	}
	return s.commit.Insert(ctx, id, points, durability)
}

// Delete commits a range delete [start, end) to a stream.
func (s *Service) Delete(ctx context.Context, id types.StreamID, start, end int64, durability types.Durability) (types.Version, *commit.Receipt, error) {
	if !s.running.Load() {
		return 0, nil, errors.ErrNotRunning
	}
	return s.commit.Delete(ctx, id, start, end, durability)
}

// Query returns the points of a stream in [start, end) at version.
func (s *Service) Query(ctx context.Context, id types.StreamID, start, end int64, version types.Version) ([]types.Point, types.Version, error) {
	if !s.running.Load() {
		return nil, 0, errors.ErrNotRunning
	}
	return s.query.Range(ctx, id, start, end, version)
}

// QueryNearest returns the point nearest to t in one direction.
func (s *Service) QueryNearest(ctx context.Context, id types.StreamID, t int64, backward bool, version types.Version) (types.Point, types.Version, error) {
	if !s.running.Load() {
		return types.Point{}, 0, errors.ErrNotRunning
	}
	return s.query.Nearest(ctx, id, t, backward, version)
}

// QueryVersion returns the latest committed version of a stream.
func (s *Service) QueryVersion(ctx context.Context, id types.StreamID) (types.Version, error) {
	if !s.running.Load() {
		return 0, errors.ErrNotRunning
	}
	return s.query.Version(ctx, id)
}

// QueryStatistical returns aligned per-bucket statistics for a range.
func (s *Service) QueryStatistical(ctx context.Context, id types.StreamID, start, end int64, pointWidth uint8, version types.Version) ([]types.StatPoint, types.Version, error) {
	if !s.running.Load() {
		return nil, 0, errors.ErrNotRunning
	}
	return s.query.Statistical(ctx, id, start, end, pointWidth, version)
}

// QueryWindow returns fixed-width window statistics for a range.
func (s *Service) QueryWindow(ctx context.Context, id types.StreamID, start, end, width int64, version types.Version) ([]types.StatPoint, types.Version, error) {
	if !s.running.Load() {
		return nil, 0, errors.ErrNotRunning
	}
	return s.query.Window(ctx, id, start, end, width, version)
}

// QueryChangedRanges returns the time regions that differ between two
// versions of a stream.
func (s *Service) QueryChangedRanges(ctx context.Context, id types.StreamID, from, to types.Version, resolution uint8) ([]types.TimeRange, types.Version, error) {
	if !s.running.Load() {
		return nil, 0, errors.ErrNotRunning
	}
	return s.query.ChangedRanges(ctx, id, from, to, resolution)
}

// QueryArchived reads archived points of a stream in [start, end).
// The archive trails the live store by the flush interval and keeps data
// past the in-memory history floor; results carry no version.
func (s *Service) QueryArchived(ctx context.Context, id types.StreamID, start, end int64) ([]types.Point, error) {
	if !s.running.Load() {
		return nil, errors.ErrNotRunning
	}
	return s.sql.ArchivedRange(ctx, id, start, end)
}

// QuerySQL executes a raw SQL query over the Parquet archive.
func (s *Service) QuerySQL(ctx context.Context, sql string) ([]map[string]interface{}, error) {
	if !s.running.Load() {
		return nil, errors.ErrNotRunning
	}
	return s.sql.Execute(ctx, sql)
}

// Streams returns the IDs of all known streams.
func (s *Service) Streams() []types.StreamID {
	return s.store.Streams()
}

// FlushArchive forces an immediate archive flush.
func (s *Service) FlushArchive(ctx context.Context) error {
	if s.archive == nil {
		return nil
	}
	return s.archive.Flush(ctx)
}

// Config returns the current configuration.
func (s *Service) Config() *config.Config {
	return s.config
}

// IsRunning returns whether the service is running.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}

// Stats returns combined statistics.
func (s *Service) Stats() ServiceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var uptime time.Duration
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime)
	}

	stats := ServiceStats{
		Running:  s.running.Load(),
		Uptime:   uptime,
		Streams:  s.store.Len(),
		Replayed: s.replayed,
		Commit:   s.commit.Stats(),
		Query:    s.query.Stats(),
		WAL:      s.wal.Stats(),
	}
	if s.archive != nil {
		stats.Archive = s.archive.Stats()
	}
	return stats
}

// ServiceStats holds combined statistics.
type ServiceStats struct {
	Running  bool
	Uptime   time.Duration
	Streams  int
	Replayed int64
	Commit   commit.StatsSnapshot
	Query    query.StatsSnapshot
	WAL      wal.WriterStats
	Archive  archive.StatsSnapshot
}
