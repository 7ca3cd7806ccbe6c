package markov

// Probability returns the empirical probability that next follows ctx. It is
// a total function: unknown contexts, unknown next states, and contexts of the
// wrong length all yield 0.0.
func (t *Table[S]) Probability(ctx []S, next S) float64 {
	k, err := t.key(ctx)
	if err != nil {
		return 0.0
	}
	d, ok := t.contexts[k]
	if !ok || d.total == 0 {
		return 0.0
	}
	i, ok := d.index[next]
	if !ok {
		return 0.0
	}
	return float64(d.entries[i].count) / float64(d.total)
}

// Distribution returns the full conditional distribution of next states for
// ctx. It returns nil when ctx was never observed or has the wrong length.
func (t *Table[S]) Distribution(ctx []S) map[S]float64 {
	k, err := t.key(ctx)
	if err != nil {
		return nil
	}
	d, ok := t.contexts[k]
	if !ok || d.total == 0 {
		return nil
	}
	probs := make(map[S]float64, len(d.entries))
	for _, e := range d.entries {
		probs[e.state] = float64(e.count) / float64(d.total)
	}
	return probs
}
