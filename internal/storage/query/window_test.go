package query

import (
	"context"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/berrydb/berrydb/internal/errors"
	"github.com/berrydb/berrydb/internal/storage/types"
)

func TestStatisticalBuckets(t *testing.T) {
	svc, store := newService(Options{})
	id := uuid.New()
	ctx := context.Background()

	// pointWidth 3 = 8ns buckets: [0,8), [8,16), [16,24).
	store.Insert(id, []types.Point{
		{Time: 1, Value: 2},
		{Time: 3, Value: 4},
		{Time: 9, Value: 10},
		{Time: 20, Value: 6},
	})

	stats, observed, err := svc.Statistical(ctx, id, 0, 24, 3, types.LatestVersion)
	if err != nil {
		t.Fatalf("Statistical: %v", err)
	}
	if observed != 1 {
		t.Errorf("observed = %d, want 1", observed)
	}
	if len(stats) != 3 {
		t.Fatalf("got %d buckets, want 3", len(stats))
	}

	first := stats[0]
	if first.Start != 0 || first.End != 8 {
		t.Errorf("first bucket [%d, %d), want [0, 8)", first.Start, first.End)
	}
	if first.Count != 2 || first.Min != 2 || first.Max != 4 || first.Mean != 3 {
		t.Errorf("first bucket stats = %+v", first)
	}

	second := stats[1]
	if second.Start != 8 || second.Count != 1 || second.Mean != 10 {
		t.Errorf("second bucket stats = %+v", second)
	}
}

func TestStatisticalAlignment(t *testing.T) {
	svc, store := newService(Options{})
	id := uuid.New()
	ctx := context.Background()

	store.Insert(id, []types.Point{{Time: 5, Value: 1}, {Time: 10, Value: 2}})

	// Query starting mid-bucket: buckets stay aligned to multiples of 8,
	// so the point at t=5 lands in the [0,8) bucket even though the query
	// starts at 4.
	stats, _, err := svc.Statistical(ctx, id, 4, 16, 3, types.LatestVersion)
	if err != nil {
		t.Fatalf("Statistical: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("got %d buckets, want 2", len(stats))
	}
	if stats[0].Start != 0 || stats[0].End != 8 {
		t.Errorf("first bucket [%d, %d), want aligned [0, 8)", stats[0].Start, stats[0].End)
	}
	if stats[1].Start != 8 || stats[1].End != 16 {
		t.Errorf("second bucket [%d, %d), want [8, 16)", stats[1].Start, stats[1].End)
	}
}

func TestStatisticalEmptyBucketsOmitted(t *testing.T) {
	svc, store := newService(Options{})
	id := uuid.New()
	ctx := context.Background()

	store.Insert(id, []types.Point{{Time: 0, Value: 1}, {Time: 1000, Value: 2}})

	stats, _, err := svc.Statistical(ctx, id, 0, 1024, 3, types.LatestVersion)
	if err != nil {
		t.Fatalf("Statistical: %v", err)
	}
	if len(stats) != 2 {
		t.Errorf("got %d buckets, want 2 (empty buckets omitted)", len(stats))
	}
}

func TestStatisticalPointWidthTooLarge(t *testing.T) {
	svc, _ := newService(Options{})
	ctx := context.Background()

	_, _, err := svc.Statistical(ctx, uuid.New(), 0, 100, 62, types.LatestVersion)
	if !errors.IsValidation(err) {
		t.Errorf("pointwidth 62: %v, want validation error", err)
	}
}

func TestStatisticalPercentiles(t *testing.T) {
	svc, store := newService(Options{PercentileEnabled: true, PercentileAccuracy: 0.01})
	id := uuid.New()
	ctx := context.Background()

	points := make([]types.Point, 100)
	for i := range points {
		points[i] = types.Point{Time: int64(i), Value: float64(i + 1)}
	}
	store.Insert(id, points)

	stats, _, err := svc.Statistical(ctx, id, 0, 128, 7, types.LatestVersion)
	if err != nil {
		t.Fatalf("Statistical: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("got %d buckets, want 1", len(stats))
	}

	sp := stats[0]
	if !sp.HasPercentiles() {
		t.Fatal("percentiles missing")
	}
	// DDSketch is approximate: accept 5% relative error on p50 of 1..100.
	if math.Abs(*sp.P50-50)/50 > 0.05 {
		t.Errorf("p50 = %g, want ~50", *sp.P50)
	}
	if *sp.P99 < *sp.P50 {
		t.Errorf("p99 %g below p50 %g", *sp.P99, *sp.P50)
	}
}

func TestWindowFullWindowsOnly(t *testing.T) {
	svc, store := newService(Options{})
	id := uuid.New()
	ctx := context.Background()

	store.Insert(id, []types.Point{
		{Time: 0, Value: 1}, {Time: 10, Value: 2}, {Time: 25, Value: 3},
	})

	// [0, 28) with width 10: windows [0,10) and [10,20) are complete;
	// [20, 28) is partial and dropped, so t=25 does not appear.
	stats, _, err := svc.Window(ctx, id, 0, 28, 10, types.LatestVersion)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("got %d windows %v, want 2", len(stats), stats)
	}
	if stats[0].Start != 0 || stats[0].End != 10 || stats[0].Count != 1 {
		t.Errorf("first window = %+v", stats[0])
	}
	if stats[1].Start != 10 || stats[1].End != 20 || stats[1].Count != 1 {
		t.Errorf("second window = %+v", stats[1])
	}
}

func TestWindowStartsAtQueryStart(t *testing.T) {
	svc, store := newService(Options{})
	id := uuid.New()
	ctx := context.Background()

	store.Insert(id, []types.Point{{Time: 7, Value: 1}, {Time: 12, Value: 2}})

	// Windows anchor at the query start, not at aligned boundaries.
	stats, _, err := svc.Window(ctx, id, 5, 25, 10, types.LatestVersion)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("got %d windows, want 2", len(stats))
	}
	if stats[0].Start != 5 || stats[0].End != 15 || stats[0].Count != 2 {
		t.Errorf("first window = %+v, want [5, 15) with 2 points", stats[0])
	}
}

func TestWindowNoCompleteWindow(t *testing.T) {
	svc, store := newService(Options{})
	id := uuid.New()
	ctx := context.Background()

	store.Insert(id, []types.Point{{Time: 1, Value: 1}})

	stats, observed, err := svc.Window(ctx, id, 0, 5, 10, types.LatestVersion)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if len(stats) != 0 {
		t.Errorf("got %d windows from span smaller than width", len(stats))
	}
	if observed != 1 {
		t.Errorf("observed = %d, want 1", observed)
	}
}

func TestWindowInvalidWidth(t *testing.T) {
	svc, _ := newService(Options{})
	ctx := context.Background()

	_, _, err := svc.Window(ctx, uuid.New(), 0, 100, 0, types.LatestVersion)
	if !errors.IsValidation(err) {
		t.Errorf("zero width: %v, want validation error", err)
	}
	_, _, err = svc.Window(ctx, uuid.New(), 0, 100, -5, types.LatestVersion)
	if !errors.IsValidation(err) {
		t.Errorf("negative width: %v, want validation error", err)
	}
}

func TestStatisticalPinnedVersion(t *testing.T) {
	svc, store := newService(Options{})
	id := uuid.New()
	ctx := context.Background()

	store.Insert(id, []types.Point{{Time: 1, Value: 10}})
	store.Insert(id, []types.Point{{Time: 2, Value: 90}})

	stats, observed, err := svc.Statistical(ctx, id, 0, 8, 3, 1)
	if err != nil {
		t.Fatalf("Statistical: %v", err)
	}
	if observed != 1 {
		t.Errorf("observed = %d, want 1", observed)
	}
	if len(stats) != 1 || stats[0].Count != 1 || stats[0].Max != 10 {
		t.Errorf("stats at pinned version = %+v", stats)
	}
}
