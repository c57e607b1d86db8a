package bench

import (
	"math"
	"testing"
)

func TestRecallAt(t *testing.T) {
	truth := []uint32{1, 2, 3, 4}
	tests := []struct {
		name      string
		retrieved []string
		k         int
		want      float64
	}{
		{"identical", []string{"1", "2", "3", "4"}, 4, 1},
		{"disjoint", []string{"7", "8", "9", "10"}, 4, 0},
		{"half", []string{"1", "9", "3", "8"}, 4, 0.5},
		{"order within k ignored", []string{"4", "3", "2", "1"}, 4, 1},
		{"top1 miss", []string{"2", "1"}, 1, 0},
		{"short result list", []string{"1"}, 4, 0.25},
		{"non numeric ids miss", []string{"a", "2", "b", "4"}, 4, 0.5},
		{"k beyond truth", []string{"1", "2", "3", "4", "5"}, 10, 1},
		{"zero k", []string{"1"}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RecallAt(tt.retrieved, truth, tt.k); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RecallAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecallAt_emptyTruth(t *testing.T) {
	if got := RecallAt([]string{"1"}, nil, 1); got != 0 {
		t.Errorf("got %v", got)
	}
}

func TestAccumulator(t *testing.T) {
	acc := NewAccumulator([]int{1, 2})
	acc.Add([]string{"1", "2"}, []uint32{1, 2})
	acc.Add([]string{"9", "2"}, []uint32{1, 2})
	if acc.Count() != 2 {
		t.Fatalf("count: %d", acc.Count())
	}
	r := acc.Recall()
	if r[1] != 0.5 {
		t.Errorf("recall@1 = %v, want 0.5", r[1])
	}
	if r[2] != 0.75 {
		t.Errorf("recall@2 = %v, want 0.75", r[2])
	}

	empty := NewAccumulator([]int{10}).Recall()
	if empty[10] != 0 {
		t.Errorf("empty recall: %v", empty)
	}
}
