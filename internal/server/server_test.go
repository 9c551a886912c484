package server

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/berrydb/berrydb/internal/client"
	"github.com/berrydb/berrydb/internal/errors"
	"github.com/berrydb/berrydb/internal/handler"
	"github.com/berrydb/berrydb/internal/storage"
	storageconfig "github.com/berrydb/berrydb/internal/storage/config"
	"github.com/berrydb/berrydb/internal/storage/types"
	berrytesting "github.com/berrydb/berrydb/internal/testing"
)

const testToken = "test-token-12345"

// startServer boots a server on a loopback port with a temp storage
// directory and returns its bound address.
func startServer(t *testing.T) string {
	t.Helper()

	cfg := storageconfig.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Archive.Enabled = false
	cfg.WAL.SyncMode = "fsync"

	addr, _ := startServerCfg(t, cfg)
	return addr
}

// startServerCfg is startServer with a caller-built storage config. It
// also returns the storage service for tests that drive it directly.
func startServerCfg(t *testing.T, cfg *storageconfig.Config) (string, *storage.Service) {
	t.Helper()

	svc, err := storage.New(cfg)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}

	srv := New(&Config{
		Storage: svc,
		Listen:  "127.0.0.1:0",
		Tokens:  []handler.TokenConfig{{ID: "test", Token: testToken}},
	})

	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run() }()
	t.Cleanup(func() {
		srv.Shutdown()
		if err := <-runErr; err != nil {
			t.Errorf("Run: %v", err)
		}
	})

	if err := berrytesting.Eventually(5*time.Second, 10*time.Millisecond, func() bool {
		return srv.Addr() != nil
	}); err != nil {
		t.Fatalf("server did not start listening: %v", err)
	}
	return srv.Addr().String(), svc
}

func connect(t *testing.T, addr string) *client.Client {
	t.Helper()

	c := client.New(&client.Config{
		Addr:           addr,
		Token:          testToken,
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 5 * time.Second,
	})
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestInsertAndQueryOverWire(t *testing.T) {
	addr := startServer(t)
	c := connect(t, addr)
	ctx := context.Background()
	id := uuid.New()

	points := []types.Point{{Time: 1, Value: 10}, {Time: 3, Value: 14}, {Time: 9, Value: 13}}
	v, err := c.Insert(ctx, id, points, true)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if v != 1 {
		t.Errorf("sync insert version = %d, want 1", v)
	}

	got, gotV, err := c.QueryRange(ctx, id, 0, 10, types.LatestVersion)
	if err != nil {
		t.Fatalf("QueryRange: %v", err)
	}
	if gotV != 1 || len(got) != 3 {
		t.Fatalf("got %d points at v%d, want 3 at v1", len(got), gotV)
	}
	for i, p := range points {
		if got[i] != p {
			t.Errorf("point %d = %+v, want %+v", i, got[i], p)
		}
	}
}

func TestAsyncInsertOverWire(t *testing.T) {
	addr := startServer(t)
	c := connect(t, addr)
	ctx := context.Background()
	id := uuid.New()

	// Async commits are acknowledged after apply, so the returned
	// version is real and immediately queryable.
	v, err := c.Insert(ctx, id, []types.Point{{Time: 5, Value: 19}}, false)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if v != 1 {
		t.Errorf("async insert version = %d, want 1", v)
	}

	gotV, err := c.QueryVersion(ctx, id)
	if err != nil {
		t.Fatalf("QueryVersion: %v", err)
	}
	if gotV != 1 {
		t.Errorf("QueryVersion = %d, want 1", gotV)
	}
}

func TestDeleteOverWire(t *testing.T) {
	addr := startServer(t)
	c := connect(t, addr)
	ctx := context.Background()
	id := uuid.New()

	if _, err := c.Insert(ctx, id, []types.Point{{Time: 1, Value: 1}, {Time: 5, Value: 5}}, true); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	v, err := c.Delete(ctx, id, 0, 3, true)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if v != 2 {
		t.Errorf("delete version = %d, want 2", v)
	}

	got, _, err := c.QueryAll(ctx, id, types.LatestVersion)
	if err != nil {
		t.Fatalf("QueryAll: %v", err)
	}
	if len(got) != 1 || got[0].Time != 5 {
		t.Errorf("after delete: %+v, want only t=5", got)
	}
}

func TestErrorMapping(t *testing.T) {
	addr := startServer(t)
	c := connect(t, addr)
	ctx := context.Background()
	id := uuid.New()

	// Reading a version no commit has produced yet.
	if _, err := c.Insert(ctx, id, []types.Point{{Time: 1, Value: 1}}, true); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, _, err := c.QueryRange(ctx, id, 0, 10, 9); !errors.Is(err, errors.ErrInvalidVersion) {
		t.Errorf("future version: got %v, want ErrInvalidVersion", err)
	}

	// A NaN sample rejects the whole batch.
	nan := []types.Point{{Time: 2, Value: math.NaN()}}
	if _, err := c.Insert(ctx, id, nan, true); !errors.Is(err, errors.ErrMalformedSample) {
		t.Errorf("NaN insert: got %v, want ErrMalformedSample", err)
	}

	// Inverted range.
	if _, _, err := c.QueryRange(ctx, id, 10, 0, types.LatestVersion); err == nil {
		t.Error("inverted range should fail")
	}
}

func TestBadTokenRejected(t *testing.T) {
	addr := startServer(t)

	c := client.New(&client.Config{
		Addr:           addr,
		Token:          "wrong-token",
		ConnectTimeout: 5 * time.Second,
	})
	err := c.Connect()
	if err == nil {
		c.Close()
		t.Fatal("Connect with bad token should fail")
	}
	if !errors.Is(err, client.ErrAuthFailed) {
		t.Errorf("got %v, want ErrAuthFailed", err)
	}
}

func TestConcurrentRequestsOneConnection(t *testing.T) {
	addr := startServer(t)
	c := connect(t, addr)
	ctx := context.Background()

	h := berrytesting.NewTestHelper(t)
	const streams = 8
	for i := 0; i < streams; i++ {
		h.Add(1)
		go func(i int) {
			defer h.Done()
			id := uuid.New()
			v, err := c.Insert(ctx, id, []types.Point{{Time: int64(i), Value: float64(i)}}, true)
			if err != nil {
				h.Errorf("insert %d: %v", i, err)
				return
			}
			if v != 1 {
				h.Errorf("insert %d: version = %d, want 1", i, v)
			}
			points, _, err := c.QueryAll(ctx, id, types.LatestVersion)
			if err != nil {
				h.Errorf("query %d: %v", i, err)
				return
			}
			if len(points) != 1 {
				h.Errorf("query %d: got %d points", i, len(points))
			}
		}(i)
	}
	h.Wait()
}

func TestArchivedQueryOverWire(t *testing.T) {
	cfg := storageconfig.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.WAL.SyncMode = "fsync"
	cfg.Archive.Enabled = true
	cfg.Archive.Interval = time.Hour
	cfg.Archive.Compression = "snappy"

	addr, svc := startServerCfg(t, cfg)
	c := connect(t, addr)
	ctx := context.Background()
	id := uuid.New()

	if _, err := c.Insert(ctx, id, []types.Point{{Time: 1, Value: 10}, {Time: 3, Value: 14}}, true); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// Not flushed yet: the archive sees nothing.
	points, err := c.QueryArchived(ctx, id, 0, 10)
	if err != nil {
		t.Fatalf("QueryArchived before flush: %v", err)
	}
	if len(points) != 0 {
		t.Fatalf("unflushed archive returned %d points", len(points))
	}

	if err := svc.FlushArchive(ctx); err != nil {
		t.Fatalf("FlushArchive: %v", err)
	}

	points, err = c.QueryArchived(ctx, id, 0, 10)
	if err != nil {
		t.Fatalf("QueryArchived: %v", err)
	}
	if len(points) != 2 || points[0].Time != 1 || points[1].Time != 3 {
		t.Errorf("archived points = %+v, want t=1 and t=3", points)
	}
}

func TestServerStats(t *testing.T) {
	addr := startServer(t)
	c := connect(t, addr)
	ctx := context.Background()

	if _, err := c.Insert(ctx, uuid.New(), []types.Point{{Time: 1, Value: 1}}, true); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	stats, err := c.ServerStats(ctx)
	if err != nil {
		t.Fatalf("ServerStats: %v", err)
	}
	if stats.Streams != 1 || stats.SyncCommits != 1 {
		t.Errorf("stats = %+v, want 1 stream, 1 sync commit", stats)
	}
}
