package query

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/berrydb/berrydb/internal/storage/types"
)

// SQL provides ad-hoc SQL over the Parquet archive using DuckDB. The
// archive holds points flushed out of the in-memory store; SQL queries
// see archived data only, not unflushed commits.
type SQL struct {
	db  *sql.DB
	dir string

	maxRows int
}

// NewSQL opens an in-memory DuckDB instance over the archive directory.
// memoryLimit is passed to DuckDB verbatim when non-empty (e.g. "512MB").
func NewSQL(archiveDir, memoryLimit string, maxRows int) (*SQL, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if memoryLimit != "" {
		if _, err := db.Exec(fmt.Sprintf("SET memory_limit='%s'", memoryLimit)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	return &SQL{
		db:      db,
		dir:     archiveDir,
		maxRows: maxRows,
	}, nil
}

// Close closes the DuckDB instance.
func (s *SQL) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Pattern returns the glob DuckDB should scan for archived points.
func (s *SQL) Pattern() string {
	return filepath.Join(s.dir, "*.parquet")
}

// Execute runs a raw SQL query. The archive is reachable through
// read_parquet on the Pattern glob.
func (s *SQL) Execute(ctx context.Context, query string) ([]map[string]interface{}, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}

	for rows.Next() {
		if s.maxRows > 0 && len(results) >= s.maxRows {
			break
		}

		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{})
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	return results, rows.Err()
}

// ArchivedRange reads archived points of one stream in [start, end),
// ordered by time. Useful for data older than the in-memory history.
// An empty archive yields no points; everything else is a real error.
func (s *SQL) ArchivedRange(ctx context.Context, id types.StreamID, start, end int64) ([]types.Point, error) {
	// read_parquet fails on a glob with no matches, so an empty archive
	// has to be detected before the query.
	matches, err := filepath.Glob(s.Pattern())
	if err != nil {
		return nil, fmt.Errorf("glob archive: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	query := `
		SELECT time_ns, value
		FROM read_parquet($1)
		WHERE stream = $2
		  AND time_ns >= $3
		  AND time_ns < $4
		ORDER BY time_ns
	`

	rows, err := s.db.QueryContext(ctx, query, s.Pattern(), id.String(), start, end)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	var points []types.Point
	for rows.Next() {
		if s.maxRows > 0 && len(points) >= s.maxRows {
			break
		}

		var p types.Point
		if err := rows.Scan(&p.Time, &p.Value); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		points = append(points, p)
	}

	return points, rows.Err()
}
