package markov

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/natefinch/atomic"
)

// Document is the serializable representation of a trained table, used for
// JSON-based persistence, export, and import.
type Document struct {
	Shape             string                    `json:"shape"`
	Order             int                       `json:"order"`
	TotalObservations int                       `json:"totalObservations"`
	Contexts          map[string]map[string]int `json:"contexts"` // context_key -> state_key -> count
}

// rawDocument mirrors Document with pointer fields so that missing fields can
// be told apart from zero values while decoding.
type rawDocument struct {
	Shape             *string                    `json:"shape"`
	Order             *int                       `json:"order"`
	TotalObservations *int                       `json:"totalObservations"`
	Contexts          *map[string]map[string]int `json:"contexts"`
}

// Document encodes the table with codec.
func (t *Table[S]) Document(codec Codec[S]) (*Document, error) {
	doc := &Document{
		Shape:             codec.Shape(),
		Order:             t.order,
		TotalObservations: t.total,
		Contexts:          make(map[string]map[string]int, len(t.contexts)),
	}
	for _, k := range t.keys {
		ctxKey, err := EncodeContext(codec, k[:t.order])
		if err != nil {
			return nil, err
		}
		d := t.contexts[k]
		next := make(map[string]int, len(d.entries))
		for _, e := range d.entries {
			stateKey, err := EncodeState(codec, e.state)
			if err != nil {
				return nil, err
			}
			next[stateKey] = e.count
		}
		doc.Contexts[ctxKey] = next
	}
	return doc, nil
}

// FromDocument rebuilds a table from doc, decoding every key with codec.
// Anything that does not match the codec's shape, the declared order, or
// the declared total is rejected with ErrDeserialization; no partial table
// is ever returned.
func FromDocument[S comparable](doc *Document, codec Codec[S]) (*Table[S], error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: nil document", ErrDeserialization)
	}
	if doc.Shape != codec.Shape() {
		return nil, fmt.Errorf("%w: document holds %q states, expected %q", ErrDeserialization, doc.Shape, codec.Shape())
	}
	t, err := NewTable[S](doc.Order)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserialization, err)
	}
	if doc.Contexts == nil {
		return nil, fmt.Errorf("%w: missing contexts", ErrDeserialization)
	}

	// Sorted keys give a stable first-seen order, so a loaded table samples
	// identically across runs with the same seed.
	ctxKeys := make([]string, 0, len(doc.Contexts))
	for key := range doc.Contexts {
		ctxKeys = append(ctxKeys, key)
	}
	sort.Strings(ctxKeys)

	for _, ctxKey := range ctxKeys {
		ctx, err := DecodeContext(codec, doc.Order, ctxKey)
		if err != nil {
			return nil, err
		}
		k, _ := t.key(ctx)
		if _, dup := t.contexts[k]; dup {
			return nil, fmt.Errorf("%w: context %q appears more than once", ErrDeserialization, ctxKey)
		}

		next := doc.Contexts[ctxKey]
		if len(next) == 0 {
			return nil, fmt.Errorf("%w: context %q has no transitions", ErrDeserialization, ctxKey)
		}
		stateKeys := make([]string, 0, len(next))
		for key := range next {
			stateKeys = append(stateKeys, key)
		}
		sort.Strings(stateKeys)

		seen := make(map[S]struct{}, len(next))
		for _, stateKey := range stateKeys {
			count := next[stateKey]
			if count < 1 {
				return nil, fmt.Errorf("%w: count %d for %q -> %q must be positive", ErrDeserialization, count, ctxKey, stateKey)
			}
			s, err := DecodeState(codec, stateKey)
			if err != nil {
				return nil, err
			}
			if _, dup := seen[s]; dup {
				return nil, fmt.Errorf("%w: state %q appears more than once after %q", ErrDeserialization, stateKey, ctxKey)
			}
			seen[s] = struct{}{}
			t.addCount(k, s, count)
		}
	}

	if t.total != doc.TotalObservations {
		return nil, fmt.Errorf("%w: totalObservations is %d but counts sum to %d", ErrDeserialization, doc.TotalObservations, t.total)
	}
	return t, nil
}

// DecodeDocument reads a Document from r, requiring every field to be present
// and rejecting unknown ones. It does not decode states; see FromDocument.
func DecodeDocument(r io.Reader) (*Document, error) {
	var raw rawDocument
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: failed to decode json model: %v", ErrDeserialization, err)
	}
	if err := ExpectEOF(dec); err != nil {
		return nil, err
	}
	switch {
	case raw.Shape == nil:
		return nil, fmt.Errorf("%w: missing field %q", ErrDeserialization, "shape")
	case raw.Order == nil:
		return nil, fmt.Errorf("%w: missing field %q", ErrDeserialization, "order")
	case raw.TotalObservations == nil:
		return nil, fmt.Errorf("%w: missing field %q", ErrDeserialization, "totalObservations")
	case raw.Contexts == nil || *raw.Contexts == nil:
		return nil, fmt.Errorf("%w: missing field %q", ErrDeserialization, "contexts")
	}
	return &Document{
		Shape:             *raw.Shape,
		Order:             *raw.Order,
		TotalObservations: *raw.TotalObservations,
		Contexts:          *raw.Contexts,
	}, nil
}

// ExpectEOF reports an ErrDeserialization unless dec has nothing left to
// read but whitespace.
func ExpectEOF(dec *json.Decoder) error {
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unexpected data after json model", ErrDeserialization)
	}
	return nil
}

// Save serializes the table as an indented JSON document and writes it to w.
func (t *Table[S]) Save(w io.Writer, codec Codec[S]) error {
	doc, err := t.Document(codec)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(doc)
}

// Load reads a JSON document from r and rebuilds the table it describes.
func Load[S comparable](r io.Reader, codec Codec[S]) (*Table[S], error) {
	doc, err := DecodeDocument(r)
	if err != nil {
		return nil, err
	}
	return FromDocument(doc, codec)
}

// SaveFile writes the table to path. The file is replaced atomically.
func (t *Table[S]) SaveFile(path string, codec Codec[S]) error {
	var buf bytes.Buffer
	if err := t.Save(&buf, codec); err != nil {
		return err
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("failed to write model file %s: %w", path, err)
	}
	return nil
}

// LoadFile reads a table previously written with SaveFile.
func LoadFile[S comparable](path string, codec Codec[S]) (*Table[S], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open model file %s: %w", path, err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	t, err := Load(f, codec)
	if err != nil {
		return nil, fmt.Errorf("model file %s: %w", path, err)
	}
	return t, nil
}
