package melody

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"

	"github.com/CTAG07/Cadenza/pkg/markov"
)

// Metric is the metric weight of the beat a note falls on.
type Metric string

const (
	Strong Metric = "strong"
	Weak   Metric = "weak"
)

// Contour directions relative to the previous note.
const (
	Descending = -1
	Repeated   = 0
	Ascending  = 1
)

var directions = []int{Descending, Repeated, Ascending}

// DefaultDegrees is the fallback degree pool: the tonic triad.
var DefaultDegrees = []int{1, 3, 5}

// ParseMetric validates a metric label.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(s); m {
	case Strong, Weak:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown metric %q", markov.ErrInvalidArgument, s)
}

// Feature is an enriched melodic state: the scale degree of a note, the
// metric weight of its beat, and its direction from the previous note.
type Feature struct {
	Degree    int
	Metric    Metric
	Direction int
}

// Valid checks every field of f against its closed range.
func (f Feature) Valid() error {
	if f.Degree < 1 || f.Degree > 7 {
		return fmt.Errorf("degree %d outside [1, 7]", f.Degree)
	}
	if f.Metric != Strong && f.Metric != Weak {
		return fmt.Errorf("unknown metric %q", f.Metric)
	}
	if f.Direction < Descending || f.Direction > Ascending {
		return fmt.Errorf("direction %d outside [-1, 1]", f.Direction)
	}
	return nil
}

// featureCount is the number of distinct features for one metric.
const featureCount = 7 * 3

// FeatureCodec persists features as [degree, "metric", direction].
type FeatureCodec struct{}

func (FeatureCodec) Shape() string { return string(KindFeature) }

func (FeatureCodec) EncodeState(f Feature) any {
	return []any{f.Degree, string(f.Metric), f.Direction}
}

func (FeatureCodec) DecodeState(raw json.RawMessage) (Feature, error) {
	parts, err := decodeTuple(raw, 3)
	if err != nil {
		return Feature{}, err
	}
	var (
		f      Feature
		metric string
	)
	if err := decodeStrict(parts[0], &f.Degree); err != nil {
		return Feature{}, fmt.Errorf("degree: %w", err)
	}
	if err := decodeStrict(parts[1], &metric); err != nil {
		return Feature{}, fmt.Errorf("metric: %w", err)
	}
	if err := decodeStrict(parts[2], &f.Direction); err != nil {
		return Feature{}, fmt.Errorf("direction: %w", err)
	}
	f.Metric = Metric(metric)
	if err := f.Valid(); err != nil {
		return Feature{}, err
	}
	return f, nil
}

// FeatureModel suggests the next enriched melodic feature.
type FeatureModel struct {
	*markov.Model[Feature]
}

// NewFeatureModel creates an untrained feature model.
func NewFeatureModel(order int, composer string, rng *rand.Rand) (*FeatureModel, error) {
	table, err := markov.NewTable[Feature](order)
	if err != nil {
		return nil, err
	}
	return NewFeatureModelFromTable(table, composer, rng), nil
}

// NewFeatureModelFromTable wraps a trained or loaded table.
func NewFeatureModelFromTable(table *markov.Table[Feature], composer string, rng *rand.Rand) *FeatureModel {
	m := markov.NewModelFromTable(table, composer, rng)
	m.SetValidator(Feature.Valid)
	return &FeatureModel{Model: m}
}

// SuggestNext proposes the next feature. A nil fallback uses the
// DefaultDegrees on a weak beat with a repeated contour.
func (m *FeatureModel) SuggestNext(weight float64, fallback []Feature) (Feature, error) {
	if fallback == nil {
		fallback = degreePool(DefaultDegrees, Weak)
	}
	return m.Model.SuggestNext(weight, fallback)
}

// SuggestFeature is an alias of SuggestNext.
func (m *FeatureModel) SuggestFeature(weight float64, fallback []Feature) (Feature, error) {
	return m.SuggestNext(weight, fallback)
}

// SuggestDegree proposes the scale degree of the next note on a beat of the
// given metric weight. A nil fallbackDegrees uses DefaultDegrees.
func (m *FeatureModel) SuggestDegree(metric Metric, weight float64, fallbackDegrees []int) (int, error) {
	if fallbackDegrees == nil {
		fallbackDegrees = DefaultDegrees
	}
	f, err := m.Model.SuggestNext(weight, degreePool(fallbackDegrees, metric))
	if err != nil {
		return 0, err
	}
	return f.Degree, nil
}

// Probability returns the probability of f following the current context,
// or a uniform 1/21 while no context is available.
func (m *FeatureModel) Probability(f Feature) float64 {
	p, ok := m.ContextProbability(f)
	if !ok {
		return 1.0 / featureCount
	}
	return p
}

// DegreeProbabilities returns, for each degree 1..7, the probability of the
// next feature having that degree and metric, summed over every direction.
func (m *FeatureModel) DegreeProbabilities(metric Metric) map[int]float64 {
	probs := make(map[int]float64, 7)
	for degree := 1; degree <= 7; degree++ {
		for _, dir := range directions {
			probs[degree] += m.Probability(Feature{Degree: degree, Metric: metric, Direction: dir})
		}
	}
	return probs
}

// Update appends an accepted feature to the history.
func (m *FeatureModel) Update(f Feature) {
	m.UpdateHistory(f)
}

// Reset clears the history before a new phrase.
func (m *FeatureModel) Reset() {
	m.ResetHistory()
}

func degreePool(degrees []int, metric Metric) []Feature {
	pool := make([]Feature, len(degrees))
	for i, d := range degrees {
		pool[i] = Feature{Degree: d, Metric: metric, Direction: Repeated}
	}
	return pool
}
