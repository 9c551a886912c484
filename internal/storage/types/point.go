package types

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// StreamID identifies a stream. It is a 128-bit UUID, formatted per the
// standard textual representation at the boundary and used as a raw 16-byte
// key internally.
type StreamID = uuid.UUID

// Timestamp bounds for valid points, in nanoseconds since the Unix epoch.
// Timestamps outside this range are rejected as malformed. The range covers
// roughly the years 1888 through 2043 and leaves headroom for bucket
// arithmetic in statistical queries.
const (
	MinTimestamp int64 = -(1 << 61)
	MaxTimestamp int64 = (1 << 61) - 1
)

// Point is a single (time, value) sample in a stream.
// Time is in nanoseconds since the Unix epoch.
type Point struct {
	Time  int64
	Value float64
}

// TimestampTime returns the point's timestamp as a time.Time.
func (p Point) TimestampTime() time.Time {
	return time.Unix(0, p.Time)
}

// Valid reports whether the point has a finite value and an in-range
// timestamp.
func (p Point) Valid() bool {
	if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
		return false
	}
	return p.Time >= MinTimestamp && p.Time <= MaxTimestamp
}

// Batch represents a collection of points for batch processing.
type Batch struct {
	Points []Point
}

// NewBatch creates a new batch with the given capacity.
func NewBatch(capacity int) *Batch {
	return &Batch{
		Points: make([]Point, 0, capacity),
	}
}

// Add appends a point to the batch.
func (b *Batch) Add(p Point) {
	b.Points = append(b.Points, p)
}

// Len returns the number of points in the batch.
func (b *Batch) Len() int {
	return len(b.Points)
}

// Clear resets the batch for reuse.
func (b *Batch) Clear() {
	b.Points = b.Points[:0]
}

// TimeRange is a half-open interval [Start, End) in nanoseconds.
type TimeRange struct {
	Start int64
	End   int64
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t int64) bool {
	return t >= r.Start && t < r.End
}

// Overlaps reports whether two ranges intersect.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return r.Start < other.End && other.Start < r.End
}

// Union returns the smallest range covering both r and other.
func (r TimeRange) Union(other TimeRange) TimeRange {
	out := r
	if other.Start < out.Start {
		out.Start = other.Start
	}
	if other.End > out.End {
		out.End = other.End
	}
	return out
}
