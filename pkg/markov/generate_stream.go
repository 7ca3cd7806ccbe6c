package markov

import (
	"context"
	"fmt"
)

// Step is one element of a generation stream. Err is set on the final step
// when generation failed; State is meaningless in that case.
type Step[S comparable] struct {
	Index int
	State S
	Err   error
}

// GenerateStream runs the same loop as Generate but delivers each accepted
// state on a channel as soon as it is chosen, which is useful for real-time
// playback. The channel is closed once length states were produced, a
// suggestion failed, or ctx is cancelled.
func GenerateStream[S comparable](ctx context.Context, seq Sequencer[S], length int, weight float64, fallback []S) <-chan Step[S] {
	steps := make(chan Step[S])

	go func() {
		defer close(steps)
		seq.ResetHistory()

		for i := 0; i < length; i++ {
			select {
			case <-ctx.Done():
				return
			default:
				// continue
			}

			next, err := seq.SuggestNext(weight, fallback)
			if err != nil {
				select {
				case <-ctx.Done():
				case steps <- Step[S]{Index: i, Err: fmt.Errorf("failed to suggest state %d: %w", i, err)}:
				}
				return
			}
			seq.UpdateHistory(next)

			select {
			case <-ctx.Done():
				return
			case steps <- Step[S]{Index: i, State: next}:
			}
		}
	}()

	return steps
}
