package store

import (
	"context"
	"fmt"

	"github.com/CTAG07/Cadenza/pkg/markov"
	"github.com/CTAG07/Cadenza/pkg/melody"
)

// ValidateDocument checks that doc fully decodes as a table of its declared
// kind.
func ValidateDocument(doc *markov.Document) error {
	_, err := canonicalDocument(doc)
	return err
}

// canonicalDocument decodes doc with the codec of its kind and encodes it
// again, so that every key is spelled the way the codec writes it. Equal
// states then always intern to the same row.
func canonicalDocument(doc *markov.Document) (*markov.Document, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: nil document", markov.ErrDeserialization)
	}
	kind, err := melody.ParseKind(doc.Shape)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", markov.ErrDeserialization, err)
	}
	switch kind {
	case melody.KindInterval:
		return recode(doc, melody.IntervalCodec{})
	case melody.KindFeature:
		return recode(doc, melody.FeatureCodec{})
	default:
		return recode(doc, melody.DurationCodec{})
	}
}

func recode[S comparable](doc *markov.Document, codec markov.Codec[S]) (*markov.Document, error) {
	table, err := markov.FromDocument(doc, codec)
	if err != nil {
		return nil, err
	}
	return table.Document(codec)
}

// SaveTable encodes table with codec and merges it into model.
func SaveTable[S comparable](ctx context.Context, s *Store, model ModelInfo, table *markov.Table[S], codec markov.Codec[S]) error {
	doc, err := table.Document(codec)
	if err != nil {
		return err
	}
	return s.SaveDocument(ctx, model, doc)
}

// LoadTable reads model back as a table of states decoded by codec.
func LoadTable[S comparable](ctx context.Context, s *Store, model ModelInfo, codec markov.Codec[S]) (*markov.Table[S], error) {
	doc, err := s.LoadDocument(ctx, model)
	if err != nil {
		return nil, err
	}
	return markov.FromDocument(doc, codec)
}
