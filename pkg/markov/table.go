package markov

import (
	"fmt"
)

const (
	// MinOrder is the smallest supported context length.
	MinOrder = 1
	// MaxOrder is the largest supported context length.
	MaxOrder = 3
)

// contextKey is the map key for a context. Slots past the table's order are
// always left at the zero value, so two contexts of the same table compare
// equal exactly when their first order states do.
type contextKey[S comparable] [MaxOrder]S

// transition is a single observed next state and how many times it followed
// a context.
type transition[S comparable] struct {
	state S
	count int
}

// distribution holds the next-state counts of one context. Entries keep the
// order in which states were first observed so that sampling with a seeded
// source is reproducible.
type distribution[S comparable] struct {
	index   map[S]int
	entries []transition[S]
	total   int
}

func newDistribution[S comparable]() *distribution[S] {
	return &distribution[S]{index: make(map[S]int)}
}

func (d *distribution[S]) add(state S, n int) {
	if i, ok := d.index[state]; ok {
		d.entries[i].count += n
	} else {
		d.index[state] = len(d.entries)
		d.entries = append(d.entries, transition[S]{state: state, count: n})
	}
	d.total += n
}

// Table is an order-N transition table. It stores, for every observed context
// of exactly Order states, how often each next state followed it.
//
// A Table is not safe for concurrent mutation. Once training is finished it
// is only read, and concurrent reads are safe.
type Table[S comparable] struct {
	order    int
	contexts map[contextKey[S]]*distribution[S]
	keys     []contextKey[S] // first-seen order, for deterministic walks
	total    int
}

// NewTable creates an empty table of the given order. Orders outside
// [MinOrder, MaxOrder] return ErrInvalidConfiguration.
func NewTable[S comparable](order int) (*Table[S], error) {
	if order < MinOrder || order > MaxOrder {
		return nil, fmt.Errorf("%w: order must be between %d and %d, got %d", ErrInvalidConfiguration, MinOrder, MaxOrder, order)
	}
	return &Table[S]{
		order:    order,
		contexts: make(map[contextKey[S]]*distribution[S]),
	}, nil
}

// Order returns the number of prior states that form a context.
func (t *Table[S]) Order() int {
	return t.order
}

// TotalObservations returns the number of transitions recorded so far.
func (t *Table[S]) TotalObservations() int {
	return t.total
}

// Len returns the number of distinct contexts in the table.
func (t *Table[S]) Len() int {
	return len(t.contexts)
}

// key converts a context slice into a map key, checking its arity.
func (t *Table[S]) key(ctx []S) (contextKey[S], error) {
	var k contextKey[S]
	if len(ctx) != t.order {
		return k, fmt.Errorf("%w: context has length %d, table order is %d", ErrInvalidArgument, len(ctx), t.order)
	}
	copy(k[:], ctx)
	return k, nil
}

// addCount increments a (context, next) pair by n. The key must already be
// arity-checked.
func (t *Table[S]) addCount(k contextKey[S], next S, n int) {
	d, ok := t.contexts[k]
	if !ok {
		d = newDistribution[S]()
		t.contexts[k] = d
		t.keys = append(t.keys, k)
	}
	d.add(next, n)
	t.total += n
}

// Counts returns a copy of the next-state counts observed after ctx. It
// returns nil when the context was never observed or has the wrong arity.
func (t *Table[S]) Counts(ctx []S) map[S]int {
	k, err := t.key(ctx)
	if err != nil {
		return nil
	}
	d, ok := t.contexts[k]
	if !ok {
		return nil
	}
	counts := make(map[S]int, len(d.entries))
	for _, e := range d.entries {
		counts[e.state] = e.count
	}
	return counts
}

// Each calls fn for every recorded transition, walking contexts and their
// next states in the order they were first observed. The ctx slice is only
// valid for the duration of the call.
func (t *Table[S]) Each(fn func(ctx []S, next S, count int)) {
	for _, k := range t.keys {
		d := t.contexts[k]
		for _, e := range d.entries {
			fn(k[:t.order], e.state, e.count)
		}
	}
}

// Clone returns a deep copy of the table. Generation against a table that is
// still being trained elsewhere should read from a clone.
func (t *Table[S]) Clone() *Table[S] {
	c := &Table[S]{
		order:    t.order,
		contexts: make(map[contextKey[S]]*distribution[S], len(t.contexts)),
		keys:     make([]contextKey[S], len(t.keys)),
		total:    t.total,
	}
	copy(c.keys, t.keys)
	for k, d := range t.contexts {
		nd := &distribution[S]{
			index:   make(map[S]int, len(d.index)),
			entries: make([]transition[S], len(d.entries)),
			total:   d.total,
		}
		copy(nd.entries, d.entries)
		for s, i := range d.index {
			nd.index[s] = i
		}
		c.contexts[k] = nd
	}
	return c
}
