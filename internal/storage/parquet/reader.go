package parquet

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/berrydb/berrydb/internal/storage/types"
)

// PointReader reads archived points from a Parquet file.
type PointReader struct {
	file   *os.File
	reader *parquet.GenericReader[PointRow]
	path   string
}

// NewPointReader creates a new point Parquet reader.
func NewPointReader(path string) (*PointReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	pf, err := parquet.OpenFile(f, info.Size(), parquet.ReadBufferSize(1024*1024))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open parquet file: %w", err)
	}

	reader := parquet.NewGenericReader[PointRow](pf)

	return &PointReader{
		file:   f,
		reader: reader,
		path:   path,
	}, nil
}

// Read reads up to n rows from the file.
func (r *PointReader) Read(n int) ([]PointRow, error) {
	rows := make([]PointRow, n)
	count, err := r.reader.Read(rows)
	if err != nil {
		return nil, err
	}
	return rows[:count], nil
}

// ReadAll reads all rows from the file.
func (r *PointReader) ReadAll() ([]PointRow, error) {
	numRows := r.reader.NumRows()
	rows := make([]PointRow, numRows)

	n, err := r.reader.Read(rows)
	if err != nil {
		return nil, err
	}
	return rows[:n], nil
}

// ReadStream reads all rows belonging to one stream.
func (r *PointReader) ReadStream(id types.StreamID) ([]types.Point, error) {
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	want := id.String()
	var points []types.Point
	for i := range rows {
		if rows[i].Stream == want {
			points = append(points, RowToPoint(&rows[i]))
		}
	}
	return points, nil
}

// NumRows returns the total number of rows in the file.
func (r *PointReader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *PointReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *PointReader) Path() string {
	return r.path
}
