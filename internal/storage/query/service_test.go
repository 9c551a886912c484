package query

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/berrydb/berrydb/internal/errors"
	"github.com/berrydb/berrydb/internal/storage/ledger"
	"github.com/berrydb/berrydb/internal/storage/pointstore"
	"github.com/berrydb/berrydb/internal/storage/types"
)

func newService(opts Options) (*Service, *pointstore.Store) {
	store := pointstore.New(ledger.New(), pointstore.Options{})
	return New(store, opts), store
}

func TestRange(t *testing.T) {
	svc, store := newService(Options{})
	id := uuid.New()
	ctx := context.Background()

	store.Insert(id, []types.Point{
		{Time: 1, Value: 10}, {Time: 3, Value: 14}, {Time: 5, Value: 19}, {Time: 9, Value: 13},
	})

	got, observed, err := svc.Range(ctx, id, 0, 7, types.LatestVersion)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if observed != 1 {
		t.Errorf("observed version = %d, want 1", observed)
	}
	if len(got) != 3 || got[2].Time != 5 {
		t.Errorf("got %+v, want points at t=1,3,5", got)
	}
}

func TestRangeInvalid(t *testing.T) {
	svc, _ := newService(Options{})
	id := uuid.New()
	ctx := context.Background()

	tests := []struct {
		name       string
		start, end int64
	}{
		{"empty", 10, 10},
		{"inverted", 10, 5},
		{"start below min", types.MinTimestamp - 1, 0},
		{"end above max", 0, types.MaxTimestamp + 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Range(ctx, id, tt.start, tt.end, types.LatestVersion)
			if !errors.Is(err, errors.ErrInvalidRange) {
				t.Errorf("Range(%d, %d): %v, want ErrInvalidRange", tt.start, tt.end, err)
			}
		})
	}
}

func TestRangeFullHistory(t *testing.T) {
	svc, store := newService(Options{})
	id := uuid.New()
	ctx := context.Background()

	store.Insert(id, []types.Point{
		{Time: types.MinTimestamp, Value: 1},
		{Time: 0, Value: 2},
		{Time: types.MaxTimestamp, Value: 3},
	})

	got, _, err := svc.Range(ctx, id, types.MinTimestamp, types.MaxTimestamp+1, types.LatestVersion)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("full-history range returned %d points, want 3", len(got))
	}
}

func TestRangeMaxRows(t *testing.T) {
	svc, store := newService(Options{MaxRows: 2})
	id := uuid.New()
	ctx := context.Background()

	store.Insert(id, []types.Point{
		{Time: 1, Value: 1}, {Time: 2, Value: 2}, {Time: 3, Value: 3},
	})

	got, _, err := svc.Range(ctx, id, 0, 10, types.LatestVersion)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d points with MaxRows=2", len(got))
	}
}

func TestNearestNoPoint(t *testing.T) {
	svc, store := newService(Options{})
	id := uuid.New()
	ctx := context.Background()

	store.Insert(id, []types.Point{{Time: 100, Value: 1}})

	_, _, err := svc.Nearest(ctx, id, 50, true, types.LatestVersion)
	if !errors.Is(err, errors.ErrNoSuchPoint) {
		t.Errorf("backward nearest before first point: %v, want ErrNoSuchPoint", err)
	}

	p, observed, err := svc.Nearest(ctx, id, 50, false, types.LatestVersion)
	if err != nil {
		t.Fatalf("forward nearest: %v", err)
	}
	if p.Time != 100 || observed != 1 {
		t.Errorf("forward nearest = %+v at version %d", p, observed)
	}
}

func TestVersion(t *testing.T) {
	svc, store := newService(Options{})
	id := uuid.New()
	ctx := context.Background()

	v, err := svc.Version(ctx, id)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != 0 {
		t.Errorf("fresh stream version = %d, want 0", v)
	}

	store.Insert(id, []types.Point{{Time: 1, Value: 1}})
	store.Insert(id, []types.Point{{Time: 2, Value: 2}})

	v, err = svc.Version(ctx, id)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != 2 {
		t.Errorf("version = %d, want 2", v)
	}
}

func TestChangedRanges(t *testing.T) {
	svc, store := newService(Options{})
	id := uuid.New()
	ctx := context.Background()

	store.Insert(id, []types.Point{{Time: 10, Value: 1}})
	store.Insert(id, []types.Point{{Time: 50, Value: 2}})

	ranges, observed, err := svc.ChangedRanges(ctx, id, 1, types.LatestVersion, 0)
	if err != nil {
		t.Fatalf("ChangedRanges: %v", err)
	}
	if observed != 2 {
		t.Errorf("observed = %d, want 2", observed)
	}
	if len(ranges) != 1 || !ranges[0].Contains(50) {
		t.Errorf("ranges = %v, want one range covering t=50", ranges)
	}
}

func TestCancelledContext(t *testing.T) {
	svc, _ := newService(Options{})
	id := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := svc.Range(ctx, id, 0, 10, types.LatestVersion); err != context.Canceled {
		t.Errorf("Range with cancelled ctx: %v", err)
	}
	if _, err := svc.Version(ctx, id); err != context.Canceled {
		t.Errorf("Version with cancelled ctx: %v", err)
	}
}
