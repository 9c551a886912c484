package query

import (
	"context"
	"math"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/berrydb/berrydb/internal/errors"
	"github.com/berrydb/berrydb/internal/storage/types"
)

// Statistical returns per-bucket statistics for [start, end) at version,
// with buckets 2^pointWidth nanoseconds wide and aligned to multiples of
// the bucket width. Empty buckets are omitted.
func (s *Service) Statistical(ctx context.Context, id types.StreamID, start, end int64, pointWidth uint8, version types.Version) ([]types.StatPoint, types.Version, error) {
	if err := checkRange(start, end); err != nil {
		s.stats.Errors.Add(1)
		return nil, 0, err
	}
	if pointWidth > 61 {
		s.stats.Errors.Add(1)
		return nil, 0, errors.NewValidation("pointwidth", "must be at most 61")
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	width := int64(1) << pointWidth
	aligned := start &^ (width - 1)

	snap, err := s.store.SnapshotAt(id, version)
	if err != nil {
		s.stats.Errors.Add(1)
		return nil, 0, err
	}

	results := s.bucketize(snap.Range(aligned, end), aligned, end, func(t int64) int64 {
		return (t &^ (width - 1)) + width
	})

	s.stats.QueriesExecuted.Add(1)
	return results, snap.Version(), nil
}

// Window returns per-bucket statistics for fixed-width windows starting
// at start. Only complete windows are returned: the last window whose end
// would exceed end is dropped. Empty windows are omitted.
func (s *Service) Window(ctx context.Context, id types.StreamID, start, end, width int64, version types.Version) ([]types.StatPoint, types.Version, error) {
	if err := checkRange(start, end); err != nil {
		s.stats.Errors.Add(1)
		return nil, 0, err
	}
	if width <= 0 {
		s.stats.Errors.Add(1)
		return nil, 0, errors.NewValidation("width", "must be positive")
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	// Truncate to the last complete window.
	span := end - start
	limit := start + (span/width)*width
	if limit <= start {
		snap, err := s.store.SnapshotAt(id, version)
		if err != nil {
			s.stats.Errors.Add(1)
			return nil, 0, err
		}
		s.stats.QueriesExecuted.Add(1)
		return nil, snap.Version(), nil
	}

	snap, err := s.store.SnapshotAt(id, version)
	if err != nil {
		s.stats.Errors.Add(1)
		return nil, 0, err
	}

	results := s.bucketize(snap.Range(start, limit), start, limit, func(t int64) int64 {
		return start + ((t-start)/width+1)*width
	})

	s.stats.QueriesExecuted.Add(1)
	return results, snap.Version(), nil
}

// bucketize folds sorted points into StatPoints. nextBoundary maps a
// timestamp to the end of its bucket.
func (s *Service) bucketize(points []types.Point, start, end int64, nextBoundary func(int64) int64) []types.StatPoint {
	var results []types.StatPoint

	i := 0
	for i < len(points) {
		bucketEnd := nextBoundary(points[i].Time)

		agg := newAggregator(s.opts.PercentileEnabled, s.opts.PercentileAccuracy)
		for i < len(points) && points[i].Time < bucketEnd {
			agg.add(points[i].Value)
			i++
		}

		sp := agg.finish()
		sp.Start = boundedStart(bucketEnd, nextBoundary, start)
		sp.End = min64(bucketEnd, end)
		results = append(results, sp)
	}

	return results
}

// boundedStart recovers the bucket start for a bucket ending at bucketEnd.
func boundedStart(bucketEnd int64, nextBoundary func(int64) int64, floor int64) int64 {
	// nextBoundary is strictly increasing and bucket widths are uniform
	// within one query, so the start of the bucket ending at bucketEnd is
	// the boundary preceding it.
	width := nextBoundary(bucketEnd) - bucketEnd
	start := bucketEnd - width
	if start < floor {
		start = floor
	}
	return start
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// aggregator accumulates one bucket's statistics.
type aggregator struct {
	count  int64
	sum    float64
	min    float64
	max    float64
	sketch *ddsketch.DDSketch
}

func newAggregator(percentiles bool, accuracy float64) *aggregator {
	a := &aggregator{
		min: math.MaxFloat64,
		max: -math.MaxFloat64,
	}
	if percentiles {
		sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
		if err == nil {
			a.sketch = sketch
		}
	}
	return a
}

func (a *aggregator) add(value float64) {
	a.count++
	a.sum += value
	if value < a.min {
		a.min = value
	}
	if value > a.max {
		a.max = value
	}
	if a.sketch != nil {
		a.sketch.Add(value)
	}
}

func (a *aggregator) finish() types.StatPoint {
	sp := types.StatPoint{
		Count: a.count,
		Min:   a.min,
		Max:   a.max,
	}
	if a.count > 0 {
		sp.Mean = a.sum / float64(a.count)
	}

	if a.sketch != nil && a.count > 0 {
		quantiles, err := a.sketch.GetValuesAtQuantiles([]float64{0.50, 0.90, 0.95, 0.99})
		if err == nil && len(quantiles) == 4 {
			sp.SetPercentiles(quantiles[0], quantiles[1], quantiles[2], quantiles[3])
		}
	}

	return sp
}
