package markov

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestNewTableOrder(t *testing.T) {
	for _, order := range []int{-1, 0, 4, 10} {
		if _, err := NewTable[int](order); !errors.Is(err, ErrInvalidConfiguration) {
			t.Errorf("NewTable(%d): expected ErrInvalidConfiguration, got %v", order, err)
		}
	}
	for order := MinOrder; order <= MaxOrder; order++ {
		tbl, err := NewTable[int](order)
		if err != nil {
			t.Fatalf("NewTable(%d) error = %v", order, err)
		}
		if tbl.Order() != order || tbl.Len() != 0 || tbl.TotalObservations() != 0 {
			t.Errorf("NewTable(%d) is not empty: order=%d len=%d total=%d", order, tbl.Order(), tbl.Len(), tbl.TotalObservations())
		}
	}
}

func TestTrainEndToEnd(t *testing.T) {
	tbl := mustTable(t, 2, []int{1, 2, 1, 2, 1, 3})

	if got := tbl.Counts([]int{1, 2}); !reflect.DeepEqual(got, map[int]int{1: 2}) {
		t.Errorf("counts for (1,2) = %v, want map[1:2]", got)
	}
	if got := tbl.Counts([]int{2, 1}); !reflect.DeepEqual(got, map[int]int{2: 1, 3: 1}) {
		t.Errorf("counts for (2,1) = %v, want map[2:1 3:1]", got)
	}
	if p := tbl.Probability([]int{1, 2}, 1); p != 1.0 {
		t.Errorf("P(1 | 1,2) = %v, want 1.0", p)
	}
	if p := tbl.Probability([]int{2, 1}, 2); p != 0.5 {
		t.Errorf("P(2 | 2,1) = %v, want 0.5", p)
	}
	if tbl.TotalObservations() != 4 {
		t.Errorf("expected 4 observations, got %d", tbl.TotalObservations())
	}
}

func TestTrainCountsMatchPositions(t *testing.T) {
	rng := newTestRand(7)
	for order := MinOrder; order <= MaxOrder; order++ {
		t.Run(fmt.Sprintf("Order%d", order), func(t *testing.T) {
			for trial := 0; trial < 20; trial++ {
				seq := randomSequence(rng, order+1+rng.IntN(60))
				tbl := mustTable(t, order, seq)

				// Count by brute force how often each context is followed by anything.
				followed := make(map[string]int)
				for i := 0; i+order < len(seq); i++ {
					followed[fmt.Sprint(seq[i:i+order])]++
				}

				for i := 0; i+order < len(seq); i++ {
					ctx := seq[i : i+order]
					sum := 0
					for _, c := range tbl.Counts(ctx) {
						if c < 1 {
							t.Fatalf("count below 1 for context %v", ctx)
						}
						sum += c
					}
					if want := followed[fmt.Sprint(ctx)]; sum != want {
						t.Fatalf("context %v: counts sum to %d, want %d", ctx, sum, want)
					}
				}
				if tbl.TotalObservations() != len(seq)-order {
					t.Errorf("total = %d, want %d", tbl.TotalObservations(), len(seq)-order)
				}
			}
		})
	}
}

func TestTrainShortSequenceIsNoop(t *testing.T) {
	for order := MinOrder; order <= MaxOrder; order++ {
		tbl := mustTable(t, order, []int{5, 6, 7, 8})
		before := tbl.Stats()
		tbl.Train(make([]int, order)) // exactly order states, no next state
		tbl.Train(nil)
		if after := tbl.Stats(); after != before {
			t.Errorf("order %d: short training changed the table: %+v -> %+v", order, before, after)
		}
	}
}

func TestAddTransition(t *testing.T) {
	tbl := mustTable(t, 2)
	if err := tbl.AddTransition([]int{1, 2}, 3); err != nil {
		t.Fatalf("AddTransition failed: %v", err)
	}
	if err := tbl.AddTransition([]int{1}, 3); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for short context, got %v", err)
	}
	if got := tbl.Counts([]int{1, 2}); got[3] != 1 {
		t.Errorf("expected count 1 for (1,2)->3, got %v", got)
	}
}

func TestProbabilityIsTotal(t *testing.T) {
	tbl := mustTable(t, 2, []int{1, 2, 3, 1, 2, 3})

	testCases := []struct {
		name string
		ctx  []int
		next int
	}{
		{name: "Unseen context", ctx: []int{9, 9}, next: 1},
		{name: "Unseen next state", ctx: []int{1, 2}, next: 9},
		{name: "Short context", ctx: []int{1}, next: 3},
		{name: "Long context", ctx: []int{1, 2, 3}, next: 1},
		{name: "Nil context", ctx: nil, next: 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if p := tbl.Probability(tc.ctx, tc.next); p != 0.0 {
				t.Errorf("expected 0.0, got %v", p)
			}
		})
	}

	if p := tbl.Probability([]int{1, 2}, 3); p != 1.0 {
		t.Errorf("single observed transition should have probability 1.0, got %v", p)
	}
}

func TestDistribution(t *testing.T) {
	tbl := mustTable(t, 1, []int{0, 1, 0, 2, 0, 2, 0, 2})
	dist := tbl.Distribution([]int{0})
	want := map[int]float64{1: 0.25, 2: 0.75}
	if !reflect.DeepEqual(dist, want) {
		t.Errorf("Distribution = %v, want %v", dist, want)
	}
	if tbl.Distribution([]int{42}) != nil {
		t.Error("expected nil distribution for unseen context")
	}
}

func TestMergeAndShards(t *testing.T) {
	rng := newTestRand(11)
	shards := make([][]int, 9)
	for i := range shards {
		shards[i] = randomSequence(rng, 40)
	}

	sequential := mustTable(t, 2, shards...)
	sharded, err := TrainShards(2, shards, 4)
	if err != nil {
		t.Fatalf("TrainShards failed: %v", err)
	}
	if sharded.TotalObservations() != sequential.TotalObservations() {
		t.Fatalf("sharded total %d != sequential total %d", sharded.TotalObservations(), sequential.TotalObservations())
	}
	sequential.Each(func(ctx []int, next int, count int) {
		if got := sharded.Counts(ctx)[next]; got != count {
			t.Errorf("context %v -> %d: sharded count %d, sequential %d", ctx, next, got, count)
		}
	})

	other := mustTable(t, 3)
	if err := sequential.Merge(other); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument merging different orders, got %v", err)
	}
}

func TestPrune(t *testing.T) {
	tbl := mustTable(t, 1, []int{1, 2, 3, 1, 2, 4})
	// 1 -> 2 has count 2; 2 -> 3, 3 -> 1, 2 -> 4 have count 1.
	removed := tbl.Prune(1)
	if removed != 3 {
		t.Errorf("expected 3 transitions removed, got %d", removed)
	}
	if tbl.Len() != 1 {
		t.Errorf("expected 1 context left, got %d", tbl.Len())
	}
	if tbl.TotalObservations() != 2 {
		t.Errorf("expected total 2 after pruning, got %d", tbl.TotalObservations())
	}
	if p := tbl.Probability([]int{1}, 2); p != 1.0 {
		t.Errorf("expected surviving transition to keep probability 1.0, got %v", p)
	}
}

func TestStats(t *testing.T) {
	tbl := mustTable(t, 1, []int{0, 1, 0, 2, 0, 3})
	s := tbl.Stats()
	want := Stats{Order: 1, Contexts: 3, Transitions: 5, TotalObservations: 5, MaxBranching: 3}
	if s != want {
		t.Errorf("Stats() = %+v, want %+v", s, want)
	}
}

func TestClone(t *testing.T) {
	tbl := mustTable(t, 1, []int{1, 2, 1, 3})
	c := tbl.Clone()
	tbl.Train([]int{1, 4, 1, 4})
	if c.Counts([]int{1})[4] != 0 {
		t.Error("training the original leaked into the clone")
	}
	if c.TotalObservations() != 3 {
		t.Errorf("clone total = %d, want 3", c.TotalObservations())
	}
}

func BenchmarkTrain(b *testing.B) {
	rng := newTestRand(3)
	seq := randomSequence(rng, 10000)

	for order := MinOrder; order <= MaxOrder; order++ {
		b.Run(fmt.Sprintf("Order%d", order), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				tbl, _ := NewTable[int](order)
				tbl.Train(seq)
			}
		})
	}
}
