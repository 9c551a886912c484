package client

import (
	"context"
	"fmt"

	berryerrors "github.com/berrydb/berrydb/internal/errors"
	"github.com/berrydb/berrydb/internal/storage/types"
	"github.com/berrydb/berrydb/internal/wire"
)

// decodeError unpacks a wire error envelope into a sentinel-wrapped error so
// callers can match with errors.Is.
func decodeError(env *wire.Envelope) error {
	var we wire.Error
	if err := env.DecodeBody(&we); err != nil {
		return fmt.Errorf("decode error response: %w", err)
	}
	return fmt.Errorf("%s: %w", we.Message, berryerrors.CodeToError(we.Code))
}

// Insert commits a batch of points to a stream and returns the version the
// commit produced. With sync true the server acknowledges only after the
// batch is durably logged; with sync false the batch is acknowledged as soon
// as it is applied and visible to queries.
func (c *Client) Insert(ctx context.Context, stream types.StreamID, points []types.Point, sync bool) (types.Version, error) {
	ctx, cancel := c.requestTimeoutCtx(ctx)
	defer cancel()

	resp, err := c.request(ctx, wire.TypeInsert, &wire.Insert{
		Stream: stream.String(),
		Points: wire.PointsToWire(points),
		Sync:   sync,
	})
	if err != nil {
		return 0, err
	}

	var status wire.Status
	if err := resp.DecodeBody(&status); err != nil {
		return 0, fmt.Errorf("decode insert response: %w", err)
	}
	return status.Version, nil
}

// Delete removes all points in [start, end) from a stream as a new version.
func (c *Client) Delete(ctx context.Context, stream types.StreamID, start, end int64, sync bool) (types.Version, error) {
	ctx, cancel := c.requestTimeoutCtx(ctx)
	defer cancel()

	resp, err := c.request(ctx, wire.TypeDelete, &wire.Delete{
		Stream: stream.String(),
		Start:  start,
		End:    end,
		Sync:   sync,
	})
	if err != nil {
		return 0, err
	}

	var status wire.Status
	if err := resp.DecodeBody(&status); err != nil {
		return 0, fmt.Errorf("decode delete response: %w", err)
	}
	return status.Version, nil
}

// QueryRange reads all points in [start, end) at the given version
// (LatestVersion for the most recent). It returns the points in time order
// and the version the result was observed at.
func (c *Client) QueryRange(ctx context.Context, stream types.StreamID, start, end int64, version types.Version) ([]types.Point, types.Version, error) {
	ctx, cancel := c.requestTimeoutCtx(ctx)
	defer cancel()

	resp, err := c.request(ctx, wire.TypeQueryRange, &wire.QueryRange{
		Stream:  stream.String(),
		Start:   start,
		End:     end,
		Version: version,
	})
	if err != nil {
		return nil, 0, err
	}

	var pts wire.Points
	if err := resp.DecodeBody(&pts); err != nil {
		return nil, 0, fmt.Errorf("decode range response: %w", err)
	}
	return wire.PointsFromWire(pts.Points), pts.Version, nil
}

// QueryAll reads a stream's complete history at the given version.
func (c *Client) QueryAll(ctx context.Context, stream types.StreamID, version types.Version) ([]types.Point, types.Version, error) {
	return c.QueryRange(ctx, stream, types.MinTimestamp, types.MaxTimestamp+1, version)
}

// QueryNearest finds the point nearest to t. With backward true it searches
// at or before t; otherwise strictly after t.
func (c *Client) QueryNearest(ctx context.Context, stream types.StreamID, t int64, backward bool, version types.Version) (types.Point, types.Version, error) {
	ctx, cancel := c.requestTimeoutCtx(ctx)
	defer cancel()

	resp, err := c.request(ctx, wire.TypeQueryNearest, &wire.QueryNearest{
		Stream:   stream.String(),
		Time:     t,
		Backward: backward,
		Version:  version,
	})
	if err != nil {
		return types.Point{}, 0, err
	}

	var pr wire.PointResult
	if err := resp.DecodeBody(&pr); err != nil {
		return types.Point{}, 0, fmt.Errorf("decode nearest response: %w", err)
	}
	return types.Point{Time: pr.Point.Time, Value: pr.Point.Value}, pr.Version, nil
}

// QueryVersion returns the latest committed version of a stream.
func (c *Client) QueryVersion(ctx context.Context, stream types.StreamID) (types.Version, error) {
	ctx, cancel := c.requestTimeoutCtx(ctx)
	defer cancel()

	resp, err := c.request(ctx, wire.TypeQueryVersion, &wire.QueryVersion{
		Stream: stream.String(),
	})
	if err != nil {
		return 0, err
	}

	var vr wire.VersionResult
	if err := resp.DecodeBody(&vr); err != nil {
		return 0, fmt.Errorf("decode version response: %w", err)
	}
	return vr.Version, nil
}

// QueryStatistical reads per-bucket statistics over [start, end) with
// buckets 2^pointWidth nanoseconds wide, aligned to multiples of the bucket
// width. Empty buckets are omitted.
func (c *Client) QueryStatistical(ctx context.Context, stream types.StreamID, start, end int64, pointWidth uint8, version types.Version) ([]types.StatPoint, types.Version, error) {
	ctx, cancel := c.requestTimeoutCtx(ctx)
	defer cancel()

	resp, err := c.request(ctx, wire.TypeQueryStats, &wire.QueryStatistical{
		Stream:     stream.String(),
		Start:      start,
		End:        end,
		PointWidth: pointWidth,
		Version:    version,
	})
	if err != nil {
		return nil, 0, err
	}

	var sr wire.StatsResult
	if err := resp.DecodeBody(&sr); err != nil {
		return nil, 0, fmt.Errorf("decode statistical response: %w", err)
	}
	return wire.StatsFromWire(sr.Stats), sr.Version, nil
}

// QueryWindow reads statistics over fixed-width windows of width nanoseconds
// starting at start. Only full windows are returned; a trailing partial
// window is dropped.
func (c *Client) QueryWindow(ctx context.Context, stream types.StreamID, start, end, width int64, version types.Version) ([]types.StatPoint, types.Version, error) {
	ctx, cancel := c.requestTimeoutCtx(ctx)
	defer cancel()

	resp, err := c.request(ctx, wire.TypeQueryWindow, &wire.QueryWindow{
		Stream:  stream.String(),
		Start:   start,
		End:     end,
		Width:   width,
		Version: version,
	})
	if err != nil {
		return nil, 0, err
	}

	var sr wire.StatsResult
	if err := resp.DecodeBody(&sr); err != nil {
		return nil, 0, fmt.Errorf("decode window response: %w", err)
	}
	return wire.StatsFromWire(sr.Stats), sr.Version, nil
}

// QueryChangedRanges returns the time regions that differ between two
// versions of a stream, rounded outward to 2^resolution nanosecond
// granularity.
func (c *Client) QueryChangedRanges(ctx context.Context, stream types.StreamID, fromVersion, toVersion types.Version, resolution uint8) ([]types.TimeRange, types.Version, error) {
	ctx, cancel := c.requestTimeoutCtx(ctx)
	defer cancel()

	resp, err := c.request(ctx, wire.TypeQueryChanged, &wire.QueryChanged{
		Stream:      stream.String(),
		FromVersion: fromVersion,
		ToVersion:   toVersion,
		Resolution:  resolution,
	})
	if err != nil {
		return nil, 0, err
	}

	var rr wire.RangesResult
	if err := resp.DecodeBody(&rr); err != nil {
		return nil, 0, fmt.Errorf("decode changed ranges response: %w", err)
	}
	return wire.RangesFromWire(rr.Ranges), rr.Version, nil
}

// QueryArchived reads archived points of a stream in [start, end). The
// archive trails live commits by the server's flush interval but retains
// data pruned from in-memory history; results carry no version.
func (c *Client) QueryArchived(ctx context.Context, stream types.StreamID, start, end int64) ([]types.Point, error) {
	ctx, cancel := c.requestTimeoutCtx(ctx)
	defer cancel()

	resp, err := c.request(ctx, wire.TypeQueryArchived, &wire.QueryArchived{
		Stream: stream.String(),
		Start:  start,
		End:    end,
	})
	if err != nil {
		return nil, err
	}

	var pts wire.Points
	if err := resp.DecodeBody(&pts); err != nil {
		return nil, fmt.Errorf("decode archived response: %w", err)
	}
	return wire.PointsFromWire(pts.Points), nil
}

// QuerySQL runs a raw SQL query against the server's archive and returns
// the result rows keyed by column name.
func (c *Client) QuerySQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	ctx, cancel := c.requestTimeoutCtx(ctx)
	defer cancel()

	resp, err := c.request(ctx, wire.TypeSQL, &wire.SQL{Query: query})
	if err != nil {
		return nil, err
	}

	var sr wire.SQLResult
	if err := resp.DecodeBody(&sr); err != nil {
		return nil, fmt.Errorf("decode sql response: %w", err)
	}
	return sr.Rows, nil
}

// ServerStats returns server-side statistics.
func (c *Client) ServerStats(ctx context.Context) (*wire.ServerStatsResponse, error) {
	ctx, cancel := c.requestTimeoutCtx(ctx)
	defer cancel()

	resp, err := c.request(ctx, wire.TypeServerStats, &wire.ServerStats{})
	if err != nil {
		return nil, err
	}

	var sr wire.ServerStatsResponse
	if err := resp.DecodeBody(&sr); err != nil {
		return nil, fmt.Errorf("decode server stats response: %w", err)
	}
	return &sr, nil
}
