package markov

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"testing"
)

// intCodec is a minimal integer codec used throughout the package tests.
type intCodec struct{}

func (intCodec) Shape() string { return "int" }

func (intCodec) EncodeState(s int) any { return s }

func (intCodec) DecodeState(raw json.RawMessage) (int, error) {
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// pair is a two-field tuple state, used to check that mixed-type tuples
// survive persistence.
type pair struct {
	N     int
	Label string
}

type pairCodec struct{}

func (pairCodec) Shape() string { return "pair" }

func (pairCodec) EncodeState(s pair) any { return []any{s.N, s.Label} }

func (pairCodec) DecodeState(raw json.RawMessage) (pair, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return pair{}, err
	}
	if len(parts) != 2 {
		return pair{}, fmt.Errorf("expected 2 fields, got %d", len(parts))
	}
	var p pair
	if err := json.Unmarshal(parts[0], &p.N); err != nil {
		return pair{}, err
	}
	if err := json.Unmarshal(parts[1], &p.Label); err != nil {
		return pair{}, err
	}
	return p, nil
}

// newTestRand returns a deterministic source so sampling tests are stable.
func newTestRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// mustTable creates a table of the given order, trained on every sequence.
func mustTable(t testing.TB, order int, seqs ...[]int) *Table[int] {
	t.Helper()
	tbl, err := NewTable[int](order)
	if err != nil {
		t.Fatalf("NewTable(%d) error = %v", order, err)
	}
	for _, seq := range seqs {
		tbl.Train(seq)
	}
	return tbl
}

// randomSequence builds a sequence over a small alphabet that includes
// negative values.
func randomSequence(rng *rand.Rand, length int) []int {
	seq := make([]int, length)
	for i := range seq {
		seq[i] = rng.IntN(7) - 3
	}
	return seq
}
