/*
Package melody binds the generic transition tables of package markov to the
three state shapes used when generating a melodic line: semitone intervals,
enriched melodic features, and note durations.

Each model embeds a markov.Model, so training, history management, and the
fallback-blend suggestion protocol are shared. The variants add a default
fallback pool, input validation, and their own probability queries.

Models are trained from sequences that were already extracted from a corpus.
How those sequences are obtained is up to the caller.

# Usage

	m, err := melody.NewIntervalModel(2, "bach", rand.New(rand.NewPCG(1, 2)))
	if err != nil {
		// handle error
	}
	if err := m.Train([]melody.Interval{2, 2, 1, -3, -2}); err != nil {
		// handle error
	}

	m.Reset()
	for i := 0; i < 16; i++ {
		iv, err := m.SuggestInterval(0.7, nil)
		if err != nil {
			// handle error
		}
		m.Update(iv)
	}
*/
package melody
