package markov

import (
	"encoding/json"
	"fmt"
)

// Codec converts the states of one closed shape to and from JSON values.
// EncodeState must return a value that encoding/json marshals losslessly,
// and DecodeState must rebuild the exact typed state from that JSON, rejecting
// anything that does not belong to the shape.
type Codec[S comparable] interface {
	// Shape names the state shape. It is recorded in persisted documents
	// and checked when they are loaded.
	Shape() string
	// EncodeState returns the JSON-marshalable form of a state.
	EncodeState(S) any
	// DecodeState parses a state from its JSON form.
	DecodeState(json.RawMessage) (S, error)
}

// EncodeState returns the persisted key of a single state.
func EncodeState[S comparable](codec Codec[S], s S) (string, error) {
	b, err := json.Marshal(codec.EncodeState(s))
	if err != nil {
		return "", fmt.Errorf("could not encode %s state %v: %w", codec.Shape(), s, err)
	}
	return string(b), nil
}

// EncodeContext returns the persisted key of a context: a JSON array holding
// the encoded form of each state.
func EncodeContext[S comparable](codec Codec[S], ctx []S) (string, error) {
	values := make([]any, len(ctx))
	for i, s := range ctx {
		values[i] = codec.EncodeState(s)
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("could not encode %s context %v: %w", codec.Shape(), ctx, err)
	}
	return string(b), nil
}

// DecodeState parses a persisted state key. Failures wrap ErrDeserialization.
func DecodeState[S comparable](codec Codec[S], key string) (S, error) {
	s, err := codec.DecodeState(json.RawMessage(key))
	if err != nil {
		var zero S
		return zero, fmt.Errorf("%w: bad %s state %q: %v", ErrDeserialization, codec.Shape(), key, err)
	}
	return s, nil
}

// DecodeContext parses a persisted context key and checks that it holds
// exactly order states. Failures wrap ErrDeserialization.
func DecodeContext[S comparable](codec Codec[S], order int, key string) ([]S, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(key), &parts); err != nil {
		return nil, fmt.Errorf("%w: context key %q is not an array: %v", ErrDeserialization, key, err)
	}
	if len(parts) != order {
		return nil, fmt.Errorf("%w: context key %q has %d states, expected %d", ErrDeserialization, key, len(parts), order)
	}
	ctx := make([]S, order)
	for i, part := range parts {
		s, err := codec.DecodeState(part)
		if err != nil {
			return nil, fmt.Errorf("%w: bad %s state in context %q: %v", ErrDeserialization, codec.Shape(), key, err)
		}
		ctx[i] = s
	}
	return ctx, nil
}
