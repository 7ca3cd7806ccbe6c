package markov

// Prune removes every transition whose count is less than or equal to
// minFreq, drops contexts left without transitions, and returns the number of
// transitions removed. This is useful for reducing the size of a model by
// removing rare, and often noisy, transitions. TotalObservations is reduced
// by the removed counts.
func (t *Table[S]) Prune(minFreq int) int {
	removed := 0
	keys := t.keys[:0]
	for _, k := range t.keys {
		d := t.contexts[k]
		kept := newDistribution[S]()
		for _, e := range d.entries {
			if e.count <= minFreq {
				removed++
				t.total -= e.count
				continue
			}
			kept.add(e.state, e.count)
		}
		if len(kept.entries) == 0 {
			delete(t.contexts, k)
			continue
		}
		t.contexts[k] = kept
		keys = append(keys, k)
	}
	clear(t.keys[len(keys):])
	t.keys = keys
	return removed
}
