package types

import (
	"math"
	"testing"
)

func TestPointValid(t *testing.T) {
	tests := []struct {
		name  string
		point Point
		want  bool
	}{
		{"normal", Point{Time: 1000, Value: 42.5}, true},
		{"zero", Point{}, true},
		{"negative time", Point{Time: -1000, Value: 1}, true},
		{"min timestamp", Point{Time: MinTimestamp, Value: 1}, true},
		{"max timestamp", Point{Time: MaxTimestamp, Value: 1}, true},
		{"below min", Point{Time: MinTimestamp - 1, Value: 1}, false},
		{"above max", Point{Time: MaxTimestamp + 1, Value: 1}, false},
		{"nan", Point{Time: 0, Value: math.NaN()}, false},
		{"positive inf", Point{Time: 0, Value: math.Inf(1)}, false},
		{"negative inf", Point{Time: 0, Value: math.Inf(-1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.point.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTimeRangeContains(t *testing.T) {
	r := TimeRange{Start: 10, End: 20}

	if !r.Contains(10) {
		t.Error("start should be included")
	}
	if r.Contains(20) {
		t.Error("end should be excluded")
	}
	if !r.Contains(15) {
		t.Error("interior point should be included")
	}
	if r.Contains(9) {
		t.Error("point before start should be excluded")
	}
}

func TestTimeRangeOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b TimeRange
		want bool
	}{
		{"identical", TimeRange{0, 10}, TimeRange{0, 10}, true},
		{"partial", TimeRange{0, 10}, TimeRange{5, 15}, true},
		{"contained", TimeRange{0, 10}, TimeRange{2, 8}, true},
		{"adjacent", TimeRange{0, 10}, TimeRange{10, 20}, false},
		{"disjoint", TimeRange{0, 10}, TimeRange{20, 30}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Overlaps(tt.b); got != tt.want {
				t.Errorf("Overlaps() = %v, want %v", got, tt.want)
			}
			if got := tt.b.Overlaps(tt.a); got != tt.want {
				t.Errorf("Overlaps() reversed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTimeRangeUnion(t *testing.T) {
	a := TimeRange{Start: 5, End: 10}
	b := TimeRange{Start: 8, End: 20}

	u := a.Union(b)
	if u.Start != 5 || u.End != 20 {
		t.Errorf("Union = [%d, %d), want [5, 20)", u.Start, u.End)
	}
}

func TestBatch(t *testing.T) {
	b := NewBatch(4)
	if b.Len() != 0 {
		t.Fatalf("new batch len = %d, want 0", b.Len())
	}

	b.Add(Point{Time: 1, Value: 10})
	b.Add(Point{Time: 2, Value: 20})
	if b.Len() != 2 {
		t.Fatalf("len = %d, want 2", b.Len())
	}

	b.Clear()
	if b.Len() != 0 {
		t.Fatalf("len after clear = %d, want 0", b.Len())
	}
}

func TestDurabilityString(t *testing.T) {
	if DurabilitySync.String() != "sync" {
		t.Errorf("sync durability = %q", DurabilitySync.String())
	}
	if DurabilityAsync.String() != "async" {
		t.Errorf("async durability = %q", DurabilityAsync.String())
	}
}

func TestOpString(t *testing.T) {
	if OpInsert.String() != "insert" {
		t.Errorf("insert op = %q", OpInsert.String())
	}
	if OpDelete.String() != "delete" {
		t.Errorf("delete op = %q", OpDelete.String())
	}
}
