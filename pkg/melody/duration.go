package melody

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/CTAG07/Cadenza/pkg/markov"
)

// Duration is a note length as a fraction of a whole note, in lowest terms.
// A quarter note is {1, 4} and a dotted quarter is {3, 8}.
type Duration struct {
	Num int
	Den int
}

// Common durations.
var (
	Whole     = Duration{1, 1}
	Half      = Duration{1, 2}
	Quarter   = Duration{1, 4}
	Eighth    = Duration{1, 8}
	Sixteenth = Duration{1, 16}
)

// DefaultDurations is the fallback pool: quarter and eighth notes.
var DefaultDurations = []Duration{Quarter, Eighth}

const (
	// MinQuarterLength and MaxQuarterLength bound the lengths accepted by
	// FromQuarterLength: a sixteenth note up to a whole note.
	MinQuarterLength = 0.0625
	MaxQuarterLength = 4.0

	maxQuarterDenominator = 32
)

// NewDuration returns num/den reduced to lowest terms.
func NewDuration(num, den int) (Duration, error) {
	if num <= 0 || den <= 0 {
		return Duration{}, fmt.Errorf("%w: duration %d/%d must be positive", markov.ErrInvalidArgument, num, den)
	}
	g := gcd(num, den)
	return Duration{Num: num / g, Den: den / g}, nil
}

// FromQuarterLength converts a length counted in quarter notes, such as 1.5
// for a dotted quarter, into a Duration. The length is first approximated by
// the closest fraction whose denominator does not exceed 32.
func FromQuarterLength(ql float64) (Duration, error) {
	if math.IsNaN(ql) || ql < MinQuarterLength || ql > MaxQuarterLength {
		return Duration{}, fmt.Errorf("%w: quarter length %v outside [%v, %v]", markov.ErrInvalidArgument, ql, MinQuarterLength, MaxQuarterLength)
	}
	num, den := limitDenominator(ql, maxQuarterDenominator)
	return NewDuration(num, 4*den)
}

// QuarterLength returns d counted in quarter notes.
func (d Duration) QuarterLength() float64 {
	return 4 * float64(d.Num) / float64(d.Den)
}

// Valid reports whether d is a positive fraction in lowest terms.
func (d Duration) Valid() error {
	if d.Num <= 0 || d.Den <= 0 {
		return fmt.Errorf("duration %d/%d must be positive", d.Num, d.Den)
	}
	if gcd(d.Num, d.Den) != 1 {
		return fmt.Errorf("duration %d/%d is not in lowest terms", d.Num, d.Den)
	}
	return nil
}

func (d Duration) String() string {
	return fmt.Sprintf("%d/%d", d.Num, d.Den)
}

// DurationCodec persists durations as [num, den].
type DurationCodec struct{}

func (DurationCodec) Shape() string { return string(KindDuration) }

func (DurationCodec) EncodeState(d Duration) any { return []int{d.Num, d.Den} }

func (DurationCodec) DecodeState(raw json.RawMessage) (Duration, error) {
	parts, err := decodeTuple(raw, 2)
	if err != nil {
		return Duration{}, err
	}
	var d Duration
	if err := decodeStrict(parts[0], &d.Num); err != nil {
		return Duration{}, fmt.Errorf("numerator: %w", err)
	}
	if err := decodeStrict(parts[1], &d.Den); err != nil {
		return Duration{}, fmt.Errorf("denominator: %w", err)
	}
	if err := d.Valid(); err != nil {
		return Duration{}, err
	}
	return d, nil
}

// RhythmModel suggests the next note duration.
type RhythmModel struct {
	*markov.Model[Duration]
}

// NewRhythmModel creates an untrained rhythm model.
func NewRhythmModel(order int, composer string, rng *rand.Rand) (*RhythmModel, error) {
	table, err := markov.NewTable[Duration](order)
	if err != nil {
		return nil, err
	}
	return NewRhythmModelFromTable(table, composer, rng), nil
}

// NewRhythmModelFromTable wraps a trained or loaded table.
func NewRhythmModelFromTable(table *markov.Table[Duration], composer string, rng *rand.Rand) *RhythmModel {
	m := markov.NewModelFromTable(table, composer, rng)
	m.SetValidator(Duration.Valid)
	return &RhythmModel{Model: m}
}

// SuggestNext proposes the next duration. A nil fallback uses
// DefaultDurations.
func (m *RhythmModel) SuggestNext(weight float64, fallback []Duration) (Duration, error) {
	if fallback == nil {
		fallback = DefaultDurations
	}
	return m.Model.SuggestNext(weight, fallback)
}

// SuggestDuration is an alias of SuggestNext.
func (m *RhythmModel) SuggestDuration(weight float64, fallback []Duration) (Duration, error) {
	return m.SuggestNext(weight, fallback)
}

// Probability returns the probability of d following the current context.
// Durations have no natural uniform prior, so it is 0 without a context.
func (m *RhythmModel) Probability(d Duration) float64 {
	p, _ := m.ContextProbability(d)
	return p
}

// Update appends an accepted duration to the history.
func (m *RhythmModel) Update(d Duration) {
	m.UpdateHistory(d)
}

// Reset clears the history before a new phrase.
func (m *RhythmModel) Reset() {
	m.ResetHistory()
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

// limitDenominator returns the fraction closest to x with a denominator of
// at most maxDen, preferring the smaller denominator on ties.
func limitDenominator(x float64, maxDen int) (num, den int) {
	bestErr := math.Inf(1)
	for d := 1; d <= maxDen; d++ {
		n := int(math.Round(x * float64(d)))
		if e := math.Abs(x - float64(n)/float64(d)); e < bestErr {
			num, den, bestErr = n, d, e
		}
	}
	return num, den
}
