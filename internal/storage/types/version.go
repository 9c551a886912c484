package types

// Version marks a consistent snapshot of a stream's data. Versions start at
// 0 for a stream with no data and advance by exactly 1 per committed
// mutation batch, regardless of batch size. They are never reused and never
// decrease.
type Version = uint64

// LatestVersion is the sentinel version used in queries to request the most
// recent committed state. This matches the client convention of passing
// version 0 to mean "latest"; version 0 itself (the empty stream) is only
// ever observed on streams with no commits, where latest and 0 coincide.
const LatestVersion Version = 0

// Durability selects the commit acknowledgment point.
type Durability int

const (
	// DurabilitySync blocks the commit until the batch is logged and
	// flushed per the configured WAL sync mode.
	DurabilitySync Durability = iota
	// DurabilityAsync queues the batch and returns immediately; the
	// receipt resolves once the batch is applied and visible.
	DurabilityAsync
)

// String returns a human-readable representation of the durability mode.
func (d Durability) String() string {
	switch d {
	case DurabilitySync:
		return "sync"
	case DurabilityAsync:
		return "async"
	default:
		return "unknown"
	}
}

// Op indicates the kind of committed mutation.
type Op int

const (
	// OpInsert merges a batch of points into a stream.
	OpInsert Op = iota
	// OpDelete removes all points in a half-open time range.
	OpDelete
)

// String returns a human-readable representation of the op.
func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}
