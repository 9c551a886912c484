// Request dispatch: each wire envelope maps to one storage operation and
// produces exactly one response envelope carrying the request's ID.
package handler

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/berrydb/berrydb/internal/errors"
	"github.com/berrydb/berrydb/internal/storage"
	"github.com/berrydb/berrydb/internal/storage/types"
	"github.com/berrydb/berrydb/internal/wire"
)

// Handler dispatches wire requests to the storage service.
type Handler struct {
	svc      *storage.Service
	sessions *SessionManager
}

// NewHandler creates a new handler.
func NewHandler(svc *storage.Service, sm *SessionManager) *Handler {
	return &Handler{
		svc:      svc,
		sessions: sm,
	}
}

// SessionManager returns the session manager.
func (h *Handler) SessionManager() *SessionManager {
	return h.sessions
}

// Handle processes one request and queues the response on the session.
// It never blocks the caller on storage locks beyond the operation itself,
// so the server runs it in a per-request goroutine.
func (h *Handler) Handle(ctx context.Context, session *Session, env *wire.Envelope) {
	resp, err := h.dispatch(ctx, env)
	if err != nil {
		session.SendEnvelope(wire.NewErrorFromErr(env.ID, err))
		return
	}
	session.SendEnvelope(resp)
}

func (h *Handler) dispatch(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	switch env.Type {
	case wire.TypeInsert:
		return h.handleInsert(ctx, env)
	case wire.TypeDelete:
		return h.handleDelete(ctx, env)
	case wire.TypeQueryRange:
		return h.handleQueryRange(ctx, env)
	case wire.TypeQueryNearest:
		return h.handleQueryNearest(ctx, env)
	case wire.TypeQueryVersion:
		return h.handleQueryVersion(ctx, env)
	case wire.TypeQueryStats:
		return h.handleQueryStatistical(ctx, env)
	case wire.TypeQueryWindow:
		return h.handleQueryWindow(ctx, env)
	case wire.TypeQueryChanged:
		return h.handleQueryChanged(ctx, env)
	case wire.TypeQueryArchived:
		return h.handleQueryArchived(ctx, env)
	case wire.TypeSQL:
		return h.handleSQL(ctx, env)
	case wire.TypeServerStats:
		return h.handleServerStats(env)
	case wire.TypeAuth:
		// Re-auth on an established session is a protocol violation.
		return nil, errors.NewValidation("type", "already authenticated")
	default:
		return nil, errors.NewValidation("type", fmt.Sprintf("unknown message type %q", env.Type))
	}
}

// parseStream parses and validates a stream UUID.
func parseStream(s string) (types.StreamID, error) {
	if s == "" {
		return uuid.Nil, errors.NewMissingField("stream")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%q: %w", s, errors.ErrInvalidStreamID)
	}
	return id, nil
}

func durability(sync bool) types.Durability {
	if sync {
		return types.DurabilitySync
	}
	return types.DurabilityAsync
}

func (h *Handler) handleInsert(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	var req wire.Insert
	if err := env.DecodeBody(&req); err != nil {
		return nil, err
	}

	id, err := parseStream(req.Stream)
	if err != nil {
		return nil, err
	}

	v, receipt, err := h.svc.Insert(ctx, id, wire.PointsFromWire(req.Points), durability(req.Sync))
	if err != nil {
		return nil, err
	}

	// An async commit is acknowledged once it has been applied. The
	// durability point differs from a sync commit: the WAL record may
	// not be flushed yet when the acknowledgement leaves the server.
	if receipt != nil {
		if v, err = receipt.Wait(ctx); err != nil {
			return nil, err
		}
	}

	return wire.NewEnvelope(env.ID, wire.TypeStatus, &wire.Status{OK: true, Version: v})
}

func (h *Handler) handleDelete(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	var req wire.Delete
	if err := env.DecodeBody(&req); err != nil {
		return nil, err
	}

	id, err := parseStream(req.Stream)
	if err != nil {
		return nil, err
	}

	v, receipt, err := h.svc.Delete(ctx, id, req.Start, req.End, durability(req.Sync))
	if err != nil {
		return nil, err
	}
	if receipt != nil {
		if v, err = receipt.Wait(ctx); err != nil {
			return nil, err
		}
	}

	return wire.NewEnvelope(env.ID, wire.TypeStatus, &wire.Status{OK: true, Version: v})
}

func (h *Handler) handleQueryRange(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	var req wire.QueryRange
	if err := env.DecodeBody(&req); err != nil {
		return nil, err
	}

	id, err := parseStream(req.Stream)
	if err != nil {
		return nil, err
	}

	points, version, err := h.svc.Query(ctx, id, req.Start, req.End, req.Version)
	if err != nil {
		return nil, err
	}

	return wire.NewEnvelope(env.ID, wire.TypePoints, &wire.Points{
		Points:  wire.PointsToWire(points),
		Version: version,
	})
}

func (h *Handler) handleQueryNearest(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	var req wire.QueryNearest
	if err := env.DecodeBody(&req); err != nil {
		return nil, err
	}

	id, err := parseStream(req.Stream)
	if err != nil {
		return nil, err
	}

	p, version, err := h.svc.QueryNearest(ctx, id, req.Time, req.Backward, req.Version)
	if err != nil {
		return nil, err
	}

	return wire.NewEnvelope(env.ID, wire.TypePoint, &wire.PointResult{
		Point:   wire.Point{Time: p.Time, Value: p.Value},
		Version: version,
	})
}

func (h *Handler) handleQueryVersion(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	var req wire.QueryVersion
	if err := env.DecodeBody(&req); err != nil {
		return nil, err
	}

	id, err := parseStream(req.Stream)
	if err != nil {
		return nil, err
	}

	v, err := h.svc.QueryVersion(ctx, id)
	if err != nil {
		return nil, err
	}

	return wire.NewEnvelope(env.ID, wire.TypeVersion, &wire.VersionResult{Version: v})
}

func (h *Handler) handleQueryStatistical(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	var req wire.QueryStatistical
	if err := env.DecodeBody(&req); err != nil {
		return nil, err
	}

	id, err := parseStream(req.Stream)
	if err != nil {
		return nil, err
	}

	stats, version, err := h.svc.QueryStatistical(ctx, id, req.Start, req.End, req.PointWidth, req.Version)
	if err != nil {
		return nil, err
	}

	return wire.NewEnvelope(env.ID, wire.TypeStats, &wire.StatsResult{
		Stats:   wire.StatsToWire(stats),
		Version: version,
	})
}

func (h *Handler) handleQueryWindow(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	var req wire.QueryWindow
	if err := env.DecodeBody(&req); err != nil {
		return nil, err
	}

	id, err := parseStream(req.Stream)
	if err != nil {
		return nil, err
	}

	stats, version, err := h.svc.QueryWindow(ctx, id, req.Start, req.End, req.Width, req.Version)
	if err != nil {
		return nil, err
	}

	return wire.NewEnvelope(env.ID, wire.TypeStats, &wire.StatsResult{
		Stats:   wire.StatsToWire(stats),
		Version: version,
	})
}

func (h *Handler) handleQueryChanged(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	var req wire.QueryChanged
	if err := env.DecodeBody(&req); err != nil {
		return nil, err
	}

	id, err := parseStream(req.Stream)
	if err != nil {
		return nil, err
	}

	ranges, version, err := h.svc.QueryChangedRanges(ctx, id, req.FromVersion, req.ToVersion, req.Resolution)
	if err != nil {
		return nil, err
	}

	return wire.NewEnvelope(env.ID, wire.TypeRanges, &wire.RangesResult{
		Ranges:  wire.RangesToWire(ranges),
		Version: version,
	})
}

func (h *Handler) handleQueryArchived(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	var req wire.QueryArchived
	if err := env.DecodeBody(&req); err != nil {
		return nil, err
	}

	id, err := parseStream(req.Stream)
	if err != nil {
		return nil, err
	}

	points, err := h.svc.QueryArchived(ctx, id, req.Start, req.End)
	if err != nil {
		return nil, err
	}

	// Archived data carries no version.
	return wire.NewEnvelope(env.ID, wire.TypePoints, &wire.Points{
		Points: wire.PointsToWire(points),
	})
}

func (h *Handler) handleSQL(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	var req wire.SQL
	if err := env.DecodeBody(&req); err != nil {
		return nil, err
	}
	if req.Query == "" {
		return nil, errors.NewMissingField("query")
	}

	rows, err := h.svc.QuerySQL(ctx, req.Query)
	if err != nil {
		return nil, errors.Wrap(err, "sql query")
	}

	return wire.NewEnvelope(env.ID, wire.TypeSQLResult, &wire.SQLResult{Rows: rows})
}

func (h *Handler) handleServerStats(env *wire.Envelope) (*wire.Envelope, error) {
	stats := h.svc.Stats()

	return wire.NewEnvelope(env.ID, wire.TypeServerStatsResponse, &wire.ServerStatsResponse{
		Uptime:          int64(stats.Uptime),
		Streams:         stats.Streams,
		SyncCommits:     stats.Commit.SyncCommits,
		AsyncCommits:    stats.Commit.AsyncCommits,
		PointsWritten:   stats.Commit.PointsWritten,
		QueriesExecuted: stats.Query.QueriesExecuted,
	})
}
