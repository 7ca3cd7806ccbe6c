package markov

import (
	"math"
	"math/rand/v2"
	"sort"
)

// predictOptions Is used by the predict functions to configure default options.
type predictOptions struct {
	temperature float64
	topK        int
}

// PredictOption is a function that configures sampling parameters. It's used
// as a variadic argument in PredictNext and Model.SetPredictOptions.
type PredictOption func(*predictOptions)

// WithTemperature adjusts the randomness of the next-state selection.
// A value of 1.0 samples the empirical distribution exactly.
// Values > 1.0 flatten the distribution toward uniform.
// Values < 1.0 sharpen it toward the most frequent state.
// A value of 0 or less always selects the most frequent state.
func WithTemperature(t float64) PredictOption {
	return func(o *predictOptions) { o.temperature = t }
}

// WithTopK restricts the selection pool to the `k` most frequent next states.
// A value of 0 disables Top-K sampling.
func WithTopK(k int) PredictOption {
	return func(o *predictOptions) { o.topK = k }
}

func newPredictOptions(opts []PredictOption) *predictOptions {
	options := &predictOptions{
		temperature: 1.0,
		topK:        0,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// PredictNext samples a next state for ctx. The boolean result is false when
// ctx was never observed, which callers treat as "no data". A context of the
// wrong length returns ErrInvalidArgument. A nil rng uses a randomly seeded
// source.
func (t *Table[S]) PredictNext(ctx []S, rng *rand.Rand, opts ...PredictOption) (S, bool, error) {
	var zero S
	k, err := t.key(ctx)
	if err != nil {
		return zero, false, err
	}
	d, ok := t.contexts[k]
	if !ok || len(d.entries) == 0 {
		return zero, false, nil
	}
	if rng == nil {
		rng = newRand()
	}
	return chooseNext(d.entries, d.total, newPredictOptions(opts), rng), true, nil
}

// chooseNext abstracts the state selection logic from the prediction path.
// choices must be non-empty and total must be the sum of their counts.
func chooseNext[S comparable](choices []transition[S], total int, options *predictOptions, rng *rand.Rand) S {
	// topK filtering
	if options.topK > 0 && options.topK < len(choices) {
		sorted := make([]transition[S], len(choices))
		copy(sorted, choices)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].count > sorted[j].count
		})
		choices = sorted[:options.topK]
		total = 0
		for _, choice := range choices {
			total += choice.count
		}
	}

	if options.temperature <= 0 { // Deterministic mode, ties go to the draw
		maxCount := -1
		var tied []int
		for i, choice := range choices {
			if choice.count > maxCount {
				maxCount = choice.count
				tied = tied[:0]
			}
			if choice.count == maxCount {
				tied = append(tied, i)
			}
		}
		return choices[tied[rng.IntN(len(tied))]].state
	}

	if options.temperature == 1.0 { // Standard weighted random
		randChoice := rng.IntN(total)
		for _, choice := range choices {
			randChoice -= choice.count
			if randChoice < 0 {
				return choice.state
			}
		}
		return choices[len(choices)-1].state
	}

	// p^(1/T) renormalised, computed in log space. The 1/total factor of p
	// cancels out in the normalisation, as does the max shift.
	logWeights := make([]float64, len(choices))
	maxLog := math.Inf(-1)
	for i, choice := range choices {
		lw := math.Log(float64(choice.count)) / options.temperature
		logWeights[i] = lw
		if lw > maxLog {
			maxLog = lw
		}
	}
	var totalWeight float64
	weights := make([]float64, len(choices))
	for i, lw := range logWeights {
		w := math.Exp(lw - maxLog)
		weights[i] = w
		totalWeight += w
	}
	randChoice := rng.Float64() * totalWeight
	for i, choice := range choices {
		randChoice -= weights[i]
		if randChoice < 0 {
			return choice.state
		}
	}
	return choices[len(choices)-1].state
}

// newRand returns a randomly seeded source for callers that did not supply one.
func newRand() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}
