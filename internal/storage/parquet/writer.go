package parquet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/berrydb/berrydb/internal/storage/types"
)

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = errors.New("parquet writer is closed")

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// CompressionLevel for algorithms that support it (zstd: 1-22)
	CompressionLevel int

	// RowGroupSize is the target number of rows per row group
	RowGroupSize int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression:      CompressionZstd,
		CompressionLevel: 3,
		RowGroupSize:     100000,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// PointRow represents one archived point in Parquet format. Stream holds
// the canonical UUID string so DuckDB can filter on it directly.
type PointRow struct {
	Stream  string  `parquet:"stream,zstd"`
	TimeNs  int64   `parquet:"time_ns"`
	Value   float64 `parquet:"value"`
	Version uint64  `parquet:"version"`
}

// PointToRow converts a point to a PointRow.
func PointToRow(id types.StreamID, version types.Version, p types.Point) PointRow {
	return PointRow{
		Stream:  id.String(),
		TimeNs:  p.Time,
		Value:   p.Value,
		Version: version,
	}
}

// RowToPoint converts a PointRow back to a point.
func RowToPoint(r *PointRow) types.Point {
	return types.Point{
		Time:  r.TimeNs,
		Value: r.Value,
	}
}

// PointWriter writes archived points to a Parquet file.
type PointWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[PointRow]
	rowCount int64
	closed   bool
}

// NewPointWriter creates a new point Parquet writer.
func NewPointWriter(path string, opts Options) (*PointWriter, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writerOpts := []parquet.WriterOption{
		parquet.Compression(getCompression(opts.Compression)),
	}

	writer := parquet.NewGenericWriter[PointRow](f, writerOpts...)

	return &PointWriter{
		path:   path,
		file:   f,
		writer: writer,
	}, nil
}

// WritePoints writes one stream's points at a given version.
func (w *PointWriter) WritePoints(id types.StreamID, version types.Version, points []types.Point) error {
	if len(points) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	rows := make([]PointRow, len(points))
	for i := range points {
		rows[i] = PointToRow(id, version, points[i])
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close closes the writer.
func (w *PointWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *PointWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *PointWriter) Path() string {
	return w.path
}
