package main

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/CTAG07/Cadenza/pkg/markov"
	"github.com/CTAG07/Cadenza/pkg/melody"
	"github.com/CTAG07/Cadenza/pkg/store"
)

// maxLineSize bounds a single JSON Lines record.
const maxLineSize = 16 * 1024 * 1024

// readSequences parses JSON Lines input: every non-blank line is a JSON array
// whose elements are states in the codec's encoding.
func readSequences[S comparable](r io.Reader, codec markov.Codec[S]) ([][]S, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var seqs [][]S
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var parts []json.RawMessage
		if err := json.Unmarshal(text, &parts); err != nil {
			return nil, fmt.Errorf("%w: line %d: expected a JSON array of %s states: %v", markov.ErrInvalidArgument, line, codec.Shape(), err)
		}
		seq := make([]S, len(parts))
		for i, part := range parts {
			s, err := codec.DecodeState(part)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d, state %d: %v", markov.ErrInvalidArgument, line, i, err)
			}
			seq[i] = s
		}
		seqs = append(seqs, seq)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sequences: %w", err)
	}
	return seqs, nil
}

// trainTable counts every sequence into a new table of the given order. With
// more than one shard worker the sequences are trained in parallel.
func trainTable[S comparable](order int, composer string, seqs [][]S, shards int, logger *slog.Logger) (*markov.Table[S], error) {
	if shards > 1 {
		table, err := markov.TrainShards(order, seqs, shards)
		if err != nil {
			return nil, err
		}
		logger.Debug("Trained sequences in shards", "workers", shards, "sequences", len(seqs))
		return table, nil
	}

	model, err := markov.NewModel[S](order, composer, nil)
	if err != nil {
		return nil, err
	}
	model.SetLogger(logger)
	for i, seq := range seqs {
		if err = model.Train(seq); err != nil {
			return nil, fmt.Errorf("sequence %d: %w", i, err)
		}
	}
	return model.Table(), nil
}

// ensureModel returns the stored model called info.Name, creating it when it
// does not exist yet. An existing model must match the kind and order.
func ensureModel(ctx context.Context, st *store.Store, info store.ModelInfo) (store.ModelInfo, error) {
	existing, err := st.GetModelInfo(ctx, info.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return st.InsertModel(ctx, info)
	}
	if err != nil {
		return store.ModelInfo{}, err
	}
	if existing.Kind != info.Kind || existing.Order != info.Order {
		return store.ModelInfo{}, fmt.Errorf("%w: model %q is a %s model of order %d, not %s of order %d",
			markov.ErrInvalidArgument, info.Name, existing.Kind, existing.Order, info.Kind, info.Order)
	}
	return existing, nil
}

// loadStored loads the table of the stored model name, which must be of kind.
func loadStored[S comparable](ctx context.Context, st *store.Store, name string, kind melody.Kind, codec markov.Codec[S]) (store.ModelInfo, *markov.Table[S], error) {
	model, err := st.GetModelInfo(ctx, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ModelInfo{}, nil, fmt.Errorf("model %q not found: %w", name, err)
		}
		return store.ModelInfo{}, nil, err
	}
	if model.Kind != kind {
		return store.ModelInfo{}, nil, fmt.Errorf("%w: model %q is a %s model, expected %s", markov.ErrInvalidArgument, name, model.Kind, kind)
	}
	table, err := store.LoadTable(ctx, st, model, codec)
	if err != nil {
		return store.ModelInfo{}, nil, err
	}
	return model, table, nil
}

// mergeFiles loads every JSON model file in paths and adds their counts
// into one table. All files must share the codec's shape and one order.
func mergeFiles[S comparable](codec markov.Codec[S], paths []string) (*markov.Table[S], error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no model files to merge", markov.ErrInvalidArgument)
	}
	combined, err := markov.LoadFile(paths[0], codec)
	if err != nil {
		return nil, err
	}
	for _, path := range paths[1:] {
		table, err := markov.LoadFile(path, codec)
		if err != nil {
			return nil, err
		}
		if err = combined.Merge(table); err != nil {
			return nil, fmt.Errorf("cannot merge %s: %w", path, err)
		}
	}
	return combined, nil
}
