package markov

import (
	"fmt"
	"sync"
)

// AddTransition records a single observation of next following ctx.
// A context of the wrong length returns ErrInvalidArgument.
func (t *Table[S]) AddTransition(ctx []S, next S) error {
	k, err := t.key(ctx)
	if err != nil {
		return err
	}
	t.addCount(k, next, 1)
	return nil
}

// Train walks seq with a sliding window of Order states and records every
// (context, next) pair it finds. Sequences shorter than Order+1 leave the
// table untouched.
func (t *Table[S]) Train(seq []S) {
	if len(seq) < t.order+1 {
		return
	}
	var k contextKey[S]
	for i := 0; i+t.order < len(seq); i++ {
		copy(k[:t.order], seq[i:i+t.order])
		t.addCount(k, seq[i+t.order], 1)
	}
}

// Merge adds every count of other into t. Transition counting is commutative
// and associative, so the order in which tables are merged does not matter.
// Tables of different orders cannot be merged.
func (t *Table[S]) Merge(other *Table[S]) error {
	if other == nil {
		return nil
	}
	if other.order != t.order {
		return fmt.Errorf("%w: cannot merge order %d table into order %d table", ErrInvalidArgument, other.order, t.order)
	}
	for _, k := range other.keys {
		for _, e := range other.contexts[k].entries {
			t.addCount(k, e.state, e.count)
		}
	}
	return nil
}

// TrainShards trains each shard into a private table on one of workers
// goroutines and merges the results into a single table. It produces the
// same counts as training every shard sequentially into one table.
func TrainShards[S comparable](order int, shards [][]S, workers int) (*Table[S], error) {
	result, err := NewTable[S](order)
	if err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(shards) {
		workers = len(shards)
	}

	jobs := make(chan []S)
	partials := make([]*Table[S], workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		// NewTable cannot fail here, the order was validated above.
		partial, _ := NewTable[S](order)
		partials[w] = partial
		wg.Add(1)
		go func(tbl *Table[S]) {
			defer wg.Done()
			for seq := range jobs {
				tbl.Train(seq)
			}
		}(partial)
	}
	for _, shard := range shards {
		jobs <- shard
	}
	close(jobs)
	wg.Wait()

	for _, partial := range partials {
		if err := result.Merge(partial); err != nil {
			return nil, err
		}
	}
	return result, nil
}
