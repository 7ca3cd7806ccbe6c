package markov

// HistorySlack is how many states a Model keeps beyond its order.
const HistorySlack = 20

// History is a bounded FIFO of previously emitted states. When it is full,
// pushing a new state discards the oldest one.
type History[S any] struct {
	values   []S
	capacity int
}

// NewHistory returns an empty history holding at most capacity states.
func NewHistory[S any](capacity int) *History[S] {
	if capacity < 1 {
		capacity = 1
	}
	return &History[S]{
		values:   make([]S, 0, capacity),
		capacity: capacity,
	}
}

// Push appends v, trimming the oldest entries past capacity.
func (h *History[S]) Push(v S) {
	if len(h.values) == h.capacity {
		copy(h.values, h.values[1:])
		h.values[len(h.values)-1] = v
		return
	}
	h.values = append(h.values, v)
}

// Reset empties the history.
func (h *History[S]) Reset() {
	clear(h.values)
	h.values = h.values[:0]
}

// Len returns the number of stored states.
func (h *History[S]) Len() int {
	return len(h.values)
}

// Cap returns the maximum number of stored states.
func (h *History[S]) Cap() int {
	return h.capacity
}

// Last returns a copy of the n most recent states, oldest first. It reports
// false when fewer than n states are stored.
func (h *History[S]) Last(n int) ([]S, bool) {
	if n < 0 || len(h.values) < n {
		return nil, false
	}
	out := make([]S, n)
	copy(out, h.values[len(h.values)-n:])
	return out, true
}

// Values returns a copy of every stored state, oldest first.
func (h *History[S]) Values() []S {
	out := make([]S, len(h.values))
	copy(out, h.values)
	return out
}
