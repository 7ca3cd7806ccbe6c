package melody

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"

	"github.com/CTAG07/Cadenza/pkg/markov"
)

// Interval is a melodic step in semitones, limited to one octave either way.
type Interval int

const (
	MinInterval Interval = -12
	MaxInterval Interval = 12

	// intervalCount is the number of intervals in [MinInterval, MaxInterval].
	intervalCount = int(MaxInterval-MinInterval) + 1
)

// DefaultIntervals is the fallback pool used when the caller passes none:
// a half step down, a half step up, and a whole step up.
var DefaultIntervals = []Interval{-1, 1, 2}

// Valid reports whether i lies within one octave.
func (i Interval) Valid() error {
	if i < MinInterval || i > MaxInterval {
		return fmt.Errorf("interval %d outside [%d, %d]", i, MinInterval, MaxInterval)
	}
	return nil
}

// IntervalCodec persists intervals as plain JSON integers.
type IntervalCodec struct{}

func (IntervalCodec) Shape() string { return string(KindInterval) }

func (IntervalCodec) EncodeState(i Interval) any { return int(i) }

func (IntervalCodec) DecodeState(raw json.RawMessage) (Interval, error) {
	var v int
	if err := decodeStrict(raw, &v); err != nil {
		return 0, err
	}
	i := Interval(v)
	if err := i.Valid(); err != nil {
		return 0, err
	}
	return i, nil
}

// IntervalModel suggests the next melodic interval from the recent ones.
type IntervalModel struct {
	*markov.Model[Interval]
}

// NewIntervalModel creates an untrained interval model.
func NewIntervalModel(order int, composer string, rng *rand.Rand) (*IntervalModel, error) {
	table, err := markov.NewTable[Interval](order)
	if err != nil {
		return nil, err
	}
	return NewIntervalModelFromTable(table, composer, rng), nil
}

// NewIntervalModelFromTable wraps a trained or loaded table.
func NewIntervalModelFromTable(table *markov.Table[Interval], composer string, rng *rand.Rand) *IntervalModel {
	m := markov.NewModelFromTable(table, composer, rng)
	m.SetValidator(Interval.Valid)
	return &IntervalModel{Model: m}
}

// SuggestNext proposes the next interval. A nil fallback uses DefaultIntervals.
func (m *IntervalModel) SuggestNext(weight float64, fallback []Interval) (Interval, error) {
	if fallback == nil {
		fallback = DefaultIntervals
	}
	return m.Model.SuggestNext(weight, fallback)
}

// SuggestInterval is an alias of SuggestNext.
func (m *IntervalModel) SuggestInterval(weight float64, fallback []Interval) (Interval, error) {
	return m.SuggestNext(weight, fallback)
}

// Probability returns the probability of i following the current context,
// or a uniform 1/25 while no context is available.
func (m *IntervalModel) Probability(i Interval) float64 {
	p, ok := m.ContextProbability(i)
	if !ok {
		return 1.0 / float64(intervalCount)
	}
	return p
}

// AllProbabilities returns Probability for every interval in
// [MinInterval, MaxInterval].
func (m *IntervalModel) AllProbabilities() map[Interval]float64 {
	probs := make(map[Interval]float64, intervalCount)
	for i := MinInterval; i <= MaxInterval; i++ {
		probs[i] = m.Probability(i)
	}
	return probs
}

// Update appends an accepted interval to the history.
func (m *IntervalModel) Update(i Interval) {
	m.UpdateHistory(i)
}

// Reset clears the history before a new phrase.
func (m *IntervalModel) Reset() {
	m.ResetHistory()
}
