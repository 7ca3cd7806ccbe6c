package markov

import "errors"

var (
	// ErrInvalidConfiguration is returned when a Table or Model is constructed
	// with an order outside [MinOrder, MaxOrder].
	ErrInvalidConfiguration = errors.New("markov: invalid configuration")
	// ErrInvalidArgument is returned when a context or state has the wrong
	// arity or shape for the table it is used with.
	ErrInvalidArgument = errors.New("markov: invalid argument")
	// ErrDeserialization is returned when a persisted document is corrupt,
	// of the wrong shape, or otherwise cannot be trusted.
	ErrDeserialization = errors.New("markov: deserialization error")
)
