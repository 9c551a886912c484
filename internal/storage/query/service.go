package query

import (
	"context"
	"sync/atomic"

	"github.com/berrydb/berrydb/internal/errors"
	"github.com/berrydb/berrydb/internal/storage/pointstore"
	"github.com/berrydb/berrydb/internal/storage/types"
)

// Service answers read queries against the point store. Every query pins
// one snapshot and computes its whole answer from it, so results are
// consistent even while commits land concurrently. The version the answer
// was computed at is always returned alongside the data.
type Service struct {
	store *pointstore.Store
	opts  Options

	// Statistics
	stats Stats
}

// Options configures the query service.
type Options struct {
	// PercentileEnabled adds p50/p90/p95/p99 to statistical and window
	// query results.
	PercentileEnabled bool

	// PercentileAccuracy is the DDSketch relative accuracy.
	// Default: 0.01
	PercentileAccuracy float64

	// MaxRows caps the number of points a single range query returns.
	// 0 means unlimited.
	MaxRows int
}

// DefaultOptions returns default query options.
func DefaultOptions() Options {
	return Options{
		PercentileEnabled:  false,
		PercentileAccuracy: 0.01,
		MaxRows:            0,
	}
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted atomic.Int64
	PointsReturned  atomic.Int64
	Errors          atomic.Int64
}

// New creates a query service over store.
func New(store *pointstore.Store, opts Options) *Service {
	if opts.PercentileAccuracy <= 0 {
		opts.PercentileAccuracy = DefaultOptions().PercentileAccuracy
	}
	return &Service{
		store: store,
		opts:  opts,
	}
}

// Range returns the points of a stream in [start, end) as of version.
// Version 0 means the latest committed version; the version actually
// queried is returned with the points.
func (s *Service) Range(ctx context.Context, id types.StreamID, start, end int64, version types.Version) ([]types.Point, types.Version, error) {
	if err := checkRange(start, end); err != nil {
		s.stats.Errors.Add(1)
		return nil, 0, err
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	points, observed, err := s.store.ReadRange(id, start, end, version)
	if err != nil {
		s.stats.Errors.Add(1)
		return nil, 0, err
	}

	if s.opts.MaxRows > 0 && len(points) > s.opts.MaxRows {
		points = points[:s.opts.MaxRows]
	}

	s.stats.QueriesExecuted.Add(1)
	s.stats.PointsReturned.Add(int64(len(points)))
	return points, observed, nil
}

// Nearest returns the point closest to t in one direction: the latest
// point at or before t when backward is true, otherwise the earliest
// point at or after t.
func (s *Service) Nearest(ctx context.Context, id types.StreamID, t int64, backward bool, version types.Version) (types.Point, types.Version, error) {
	if err := ctx.Err(); err != nil {
		return types.Point{}, 0, err
	}

	p, ok, observed, err := s.store.Nearest(id, t, backward, version)
	if err != nil {
		s.stats.Errors.Add(1)
		return types.Point{}, 0, err
	}
	if !ok {
		return types.Point{}, observed, errors.ErrNoSuchPoint
	}

	s.stats.QueriesExecuted.Add(1)
	s.stats.PointsReturned.Add(1)
	return p, observed, nil
}

// Version returns the latest committed version of a stream. Streams that
// have never been written report version 0.
func (s *Service) Version(ctx context.Context, id types.StreamID) (types.Version, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.stats.QueriesExecuted.Add(1)
	return s.store.CurrentVersion(id), nil
}

// ChangedRanges returns the time regions that differ between two versions
// of a stream, as ranges whose bounds are aligned to 2^resolution
// nanoseconds. from must precede to; to may be 0 for the latest version.
func (s *Service) ChangedRanges(ctx context.Context, id types.StreamID, from, to types.Version, resolution uint8) ([]types.TimeRange, types.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	ranges, observed, err := s.store.ChangedRanges(id, from, to, resolution)
	if err != nil {
		s.stats.Errors.Add(1)
		return nil, 0, err
	}

	s.stats.QueriesExecuted.Add(1)
	return ranges, observed, nil
}

// checkRange validates a half-open query interval.
func checkRange(start, end int64) error {
	if start >= end {
		return errors.ErrInvalidRange
	}
	if start < types.MinTimestamp || end > types.MaxTimestamp+1 {
		return errors.ErrInvalidRange
	}
	return nil
}

// StatsSnapshot is a point-in-time copy of query statistics.
type StatsSnapshot struct {
	QueriesExecuted int64
	PointsReturned  int64
	Errors          int64
}

// Stats returns a snapshot of query statistics.
func (s *Service) Stats() StatsSnapshot {
	return StatsSnapshot{
		QueriesExecuted: s.stats.QueriesExecuted.Load(),
		PointsReturned:  s.stats.PointsReturned.Load(),
		Errors:          s.stats.Errors.Load(),
	}
}
