package melody

import (
	"fmt"

	"github.com/CTAG07/Cadenza/pkg/markov"
)

// Kind names one of the closed state shapes a model can be trained on.
type Kind string

const (
	KindInterval Kind = "interval"
	KindFeature  Kind = "feature"
	KindDuration Kind = "duration"
)

// Kinds lists every supported kind.
var Kinds = []Kind{KindInterval, KindFeature, KindDuration}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindInterval, KindFeature, KindDuration:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown model kind %q", markov.ErrInvalidArgument, s)
}

func (k Kind) String() string {
	return string(k)
}
