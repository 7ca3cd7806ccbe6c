package markov

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
)

// Sequencer is the capability shared by the base Model and every musical
// variant built on it: training from pre-extracted sequences and suggesting
// states one at a time from a rolling history.
type Sequencer[S comparable] interface {
	Train(seq []S) error
	SuggestNext(weight float64, fallback []S) (S, error)
	CurrentContext() ([]S, bool)
	UpdateHistory(s S)
	ResetHistory()
}

// Model turns a Table into a stateful generator. It owns one table and one
// rolling history, and blends table predictions with caller-supplied
// fallback values.
//
// A Model is not safe for concurrent use. Independent generations should use
// independent Models, which may share a trained Table.
type Model[S comparable] struct {
	table       *Table[S]
	history     *History[S]
	composer    string
	rng         *rand.Rand
	predictOpts []PredictOption
	validate    func(S) error
	logger      *slog.Logger
}

// NewModel creates a model with an empty table of the given order. The
// composer label is provenance metadata only. A nil rng uses a randomly
// seeded source.
func NewModel[S comparable](order int, composer string, rng *rand.Rand) (*Model[S], error) {
	table, err := NewTable[S](order)
	if err != nil {
		return nil, err
	}
	return NewModelFromTable(table, composer, rng), nil
}

// NewModelFromTable wraps an existing table, typically one that was loaded
// from disk or shared between several generators.
func NewModelFromTable[S comparable](table *Table[S], composer string, rng *rand.Rand) *Model[S] {
	if rng == nil {
		rng = newRand()
	}
	return &Model[S]{
		table:    table,
		history:  NewHistory[S](table.Order() + HistorySlack),
		composer: composer,
		rng:      rng,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// SetLogger sets the logger for the Model. By default, all logs are discarded.
func (m *Model[S]) SetLogger(logger *slog.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// SetPredictOptions sets the sampling options used whenever the model
// consults its table.
func (m *Model[S]) SetPredictOptions(opts ...PredictOption) {
	m.predictOpts = opts
}

// SetValidator installs a check that Train runs over every state before
// counting anything. Variants use it to reject values outside their shape.
func (m *Model[S]) SetValidator(fn func(S) error) {
	m.validate = fn
}

// Table returns the underlying transition table.
func (m *Model[S]) Table() *Table[S] {
	return m.table
}

// Order returns the context length of the underlying table.
func (m *Model[S]) Order() int {
	return m.table.Order()
}

// Composer returns the provenance label the model was created with.
func (m *Model[S]) Composer() string {
	return m.composer
}

// Rand returns the model's random source.
func (m *Model[S]) Rand() *rand.Rand {
	return m.rng
}

// History returns a copy of the rolling history, oldest first.
func (m *Model[S]) History() []S {
	return m.history.Values()
}

// Train records every transition in seq. When a validator is set, a sequence
// holding an invalid state is rejected as a whole with ErrInvalidArgument.
func (m *Model[S]) Train(seq []S) error {
	if m.validate != nil {
		for i, s := range seq {
			if err := m.validate(s); err != nil {
				return fmt.Errorf("%w: state %d: %v", ErrInvalidArgument, i, err)
			}
		}
	}
	m.table.Train(seq)
	m.logger.Debug("Trained sequence",
		slog.String("composer", m.composer),
		slog.Int("length", len(seq)),
		slog.Int("total_observations", m.table.TotalObservations()),
	)
	return nil
}

// UpdateHistory appends an accepted state to the rolling history.
func (m *Model[S]) UpdateHistory(s S) {
	m.history.Push(s)
}

// ResetHistory clears the rolling history. Call it before generating each
// independent sequence.
func (m *Model[S]) ResetHistory() {
	m.history.Reset()
}

// CurrentContext returns the last Order states of the history. It reports
// false while the history holds fewer than Order states.
func (m *Model[S]) CurrentContext() ([]S, bool) {
	return m.history.Last(m.table.Order())
}

// SuggestNext proposes the next state. With no context available, or when a
// uniform draw is at or above weight, it returns a uniformly chosen fallback
// value; otherwise it samples the table and only falls back when the table
// has no data for the current context. A weight of 1 always consults the
// table when a context exists, a weight of 0 never does.
//
// SuggestNext does not advance the history; callers feed the accepted value
// back with UpdateHistory.
func (m *Model[S]) SuggestNext(weight float64, fallback []S) (S, error) {
	ctx, ok := m.CurrentContext()
	if !ok {
		return m.chooseFallback(fallback, "no context")
	}
	if m.rng.Float64() >= weight {
		return m.chooseFallback(fallback, "weight gate")
	}
	next, found, err := m.table.PredictNext(ctx, m.rng, m.predictOpts...)
	if err != nil {
		var zero S
		return zero, err
	}
	if !found {
		return m.chooseFallback(fallback, "no data")
	}
	return next, nil
}

// ContextProbability returns the table probability of next given the current
// context. It reports false when no context is available yet.
func (m *Model[S]) ContextProbability(next S) (float64, bool) {
	ctx, ok := m.CurrentContext()
	if !ok {
		return 0, false
	}
	return m.table.Probability(ctx, next), true
}

func (m *Model[S]) chooseFallback(pool []S, reason string) (S, error) {
	if len(pool) == 0 {
		var zero S
		return zero, fmt.Errorf("%w: empty fallback pool (%s)", ErrInvalidArgument, reason)
	}
	m.logger.Debug("Using fallback value",
		slog.String("composer", m.composer),
		slog.String("reason", reason),
		slog.Int("pool_size", len(pool)),
	)
	return pool[m.rng.IntN(len(pool))], nil
}

// Generate runs the generation-time caller contract against seq: it resets
// the history, then suggests and accepts length states in turn.
func Generate[S comparable](seq Sequencer[S], length int, weight float64, fallback []S) ([]S, error) {
	if length < 0 {
		return nil, fmt.Errorf("%w: length %d is negative", ErrInvalidArgument, length)
	}
	seq.ResetHistory()
	out := make([]S, 0, length)
	for i := 0; i < length; i++ {
		next, err := seq.SuggestNext(weight, fallback)
		if err != nil {
			return out, fmt.Errorf("failed to suggest state %d: %w", i, err)
		}
		seq.UpdateHistory(next)
		out = append(out, next)
	}
	return out, nil
}
