package wire

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/berrydb/berrydb/internal/storage/types"
)

// Message type identifiers carried in Envelope.Type.
const (
	// Requests
	TypeAuth          = "auth"
	TypeInsert        = "insert"
	TypeDelete        = "delete"
	TypeQueryRange    = "query_range"
	TypeQueryNearest  = "query_nearest"
	TypeQueryVersion  = "query_version"
	TypeQueryStats    = "query_statistical"
	TypeQueryWindow   = "query_window"
	TypeQueryChanged  = "query_changed_ranges"
	TypeQueryArchived = "query_archived"
	TypeSQL           = "sql"
	TypeServerStats   = "server_stats"

	// Responses
	TypeAuthResponse        = "auth_response"
	TypeStatus              = "status"
	TypePoints              = "points"
	TypePoint               = "point"
	TypeVersion             = "version"
	TypeStats               = "stats"
	TypeRanges              = "ranges"
	TypeSQLResult           = "sql_result"
	TypeServerStatsResponse = "server_stats_response"
	TypeError               = "error"
)

// Envelope frames every message. ID echoes the request ID in responses
// so a client can demultiplex concurrent requests over one connection.
type Envelope struct {
	ID   uint64          `cbor:"id"`
	Type string          `cbor:"type"`
	Body cbor.RawMessage `cbor:"body,omitempty"`
}

// Point is the wire form of a sample.
type Point struct {
	Time  int64   `cbor:"t"`
	Value float64 `cbor:"v"`
}

// StatPoint is the wire form of one statistics bucket.
type StatPoint struct {
	Start int64   `cbor:"start"`
	End   int64   `cbor:"end"`
	Count int64   `cbor:"count"`
	Min   float64 `cbor:"min"`
	Mean  float64 `cbor:"mean"`
	Max   float64 `cbor:"max"`

	P50 *float64 `cbor:"p50,omitempty"`
	P90 *float64 `cbor:"p90,omitempty"`
	P95 *float64 `cbor:"p95,omitempty"`
	P99 *float64 `cbor:"p99,omitempty"`
}

// TimeRange is the wire form of a half-open time interval.
type TimeRange struct {
	Start int64 `cbor:"start"`
	End   int64 `cbor:"end"`
}

// Auth is the first message on every connection.
type Auth struct {
	Token string `cbor:"token"`
}

// AuthResponse reports the authentication outcome.
type AuthResponse struct {
	Success bool   `cbor:"success"`
	Message string `cbor:"message,omitempty"`
}

// Insert commits points to a stream. Sync selects the durability mode:
// when true the response is delayed until the commit is durable.
type Insert struct {
	Stream string  `cbor:"stream"`
	Points []Point `cbor:"points"`
	Sync   bool    `cbor:"sync"`
}

// Delete removes points in [Start, End) from a stream as a new version.
type Delete struct {
	Stream string `cbor:"stream"`
	Start  int64  `cbor:"start"`
	End    int64  `cbor:"end"`
	Sync   bool   `cbor:"sync"`
}

// QueryRange reads points in [Start, End) at Version (0 = latest).
type QueryRange struct {
	Stream  string `cbor:"stream"`
	Start   int64  `cbor:"start"`
	End     int64  `cbor:"end"`
	Version uint64 `cbor:"version"`
}

// QueryNearest finds the point nearest to Time in one direction.
type QueryNearest struct {
	Stream   string `cbor:"stream"`
	Time     int64  `cbor:"time"`
	Backward bool   `cbor:"backward"`
	Version  uint64 `cbor:"version"`
}

// QueryVersion asks for the latest committed version of a stream.
type QueryVersion struct {
	Stream string `cbor:"stream"`
}

// QueryStatistical reads aligned bucket statistics. Buckets are
// 2^PointWidth nanoseconds wide.
type QueryStatistical struct {
	Stream     string `cbor:"stream"`
	Start      int64  `cbor:"start"`
	End        int64  `cbor:"end"`
	PointWidth uint8  `cbor:"pointwidth"`
	Version    uint64 `cbor:"version"`
}

// QueryWindow reads fixed-width window statistics. Depth is accepted
// for compatibility with tree-backed stores and ignored: windows here
// are always computed from raw points.
type QueryWindow struct {
	Stream  string `cbor:"stream"`
	Start   int64  `cbor:"start"`
	End     int64  `cbor:"end"`
	Width   int64  `cbor:"width"`
	Depth   uint8  `cbor:"depth,omitempty"`
	Version uint64 `cbor:"version"`
}

// QueryChanged asks which time regions differ between two versions.
type QueryChanged struct {
	Stream      string `cbor:"stream"`
	FromVersion uint64 `cbor:"from_version"`
	ToVersion   uint64 `cbor:"to_version"`
	Resolution  uint8  `cbor:"resolution"`
}

// QueryArchived reads archived points in [Start, End). The archive is
// not versioned: results reflect whatever flushes have landed, which may
// trail the live store and include data pruned from in-memory history.
type QueryArchived struct {
	Stream string `cbor:"stream"`
	Start  int64  `cbor:"start"`
	End    int64  `cbor:"end"`
}

// SQL runs a raw SQL query over the archive.
type SQL struct {
	Query string `cbor:"query"`
}

// ServerStats asks for server statistics.
type ServerStats struct{}

// Status acknowledges a mutation.
type Status struct {
	OK      bool   `cbor:"ok"`
	Version uint64 `cbor:"version,omitempty"`
}

// Points carries a range query result.
type Points struct {
	Points  []Point `cbor:"points"`
	Version uint64  `cbor:"version"`
}

// PointResult carries a nearest query result.
type PointResult struct {
	Point   Point  `cbor:"point"`
	Version uint64 `cbor:"version"`
}

// VersionResult carries a version query result.
type VersionResult struct {
	Version uint64 `cbor:"version"`
}

// StatsResult carries a statistical or window query result.
type StatsResult struct {
	Stats   []StatPoint `cbor:"stats"`
	Version uint64      `cbor:"version"`
}

// RangesResult carries a changed-ranges query result.
type RangesResult struct {
	Ranges  []TimeRange `cbor:"ranges"`
	Version uint64      `cbor:"version"`
}

// SQLResult carries rows from an SQL query, CBOR-encoded by column name.
type SQLResult struct {
	Rows []map[string]interface{} `cbor:"rows"`
}

// ServerStatsResponse carries server statistics.
type ServerStatsResponse struct {
	Uptime          int64 `cbor:"uptime_ns"`
	Streams         int   `cbor:"streams"`
	SyncCommits     int64 `cbor:"sync_commits"`
	AsyncCommits    int64 `cbor:"async_commits"`
	PointsWritten   int64 `cbor:"points_written"`
	QueriesExecuted int64 `cbor:"queries_executed"`
}

// Error carries an error descriptor.
type Error struct {
	Code    int32  `cbor:"code"`
	Message string `cbor:"message"`
}

// PointsToWire converts storage points to wire points.
func PointsToWire(points []types.Point) []Point {
	out := make([]Point, len(points))
	for i, p := range points {
		out[i] = Point{Time: p.Time, Value: p.Value}
	}
	return out
}

// PointsFromWire converts wire points to storage points.
func PointsFromWire(points []Point) []types.Point {
	out := make([]types.Point, len(points))
	for i, p := range points {
		out[i] = types.Point{Time: p.Time, Value: p.Value}
	}
	return out
}

// StatsToWire converts storage stat points to wire stat points.
func StatsToWire(stats []types.StatPoint) []StatPoint {
	out := make([]StatPoint, len(stats))
	for i, sp := range stats {
		out[i] = StatPoint{
			Start: sp.Start,
			End:   sp.End,
			Count: sp.Count,
			Min:   sp.Min,
			Mean:  sp.Mean,
			Max:   sp.Max,
			P50:   sp.P50,
			P90:   sp.P90,
			P95:   sp.P95,
			P99:   sp.P99,
		}
	}
	return out
}

// StatsFromWire converts wire stat points to storage stat points.
func StatsFromWire(stats []StatPoint) []types.StatPoint {
	out := make([]types.StatPoint, len(stats))
	for i, sp := range stats {
		out[i] = types.StatPoint{
			Start: sp.Start,
			End:   sp.End,
			Count: sp.Count,
			Min:   sp.Min,
			Mean:  sp.Mean,
			Max:   sp.Max,
			P50:   sp.P50,
			P90:   sp.P90,
			P95:   sp.P95,
			P99:   sp.P99,
		}
	}
	return out
}

// RangesFromWire converts wire ranges to storage time ranges.
func RangesFromWire(ranges []TimeRange) []types.TimeRange {
	out := make([]types.TimeRange, len(ranges))
	for i, r := range ranges {
		out[i] = types.TimeRange{Start: r.Start, End: r.End}
	}
	return out
}

// RangesToWire converts storage time ranges to wire ranges.
func RangesToWire(ranges []types.TimeRange) []TimeRange {
	out := make([]TimeRange, len(ranges))
	for i, r := range ranges {
		out[i] = TimeRange{Start: r.Start, End: r.End}
	}
	return out
}
