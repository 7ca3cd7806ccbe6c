/*
Package markov provides a generic, in-memory toolkit for building, training,
and sampling order-N Markov models over arbitrary comparable state values.

A Table records how often each context (the last N states) was followed by
each next state, and answers sampling and probability queries against those
counts, with temperature and top-K control over the draw. A Model wraps one
Table with a bounded rolling history and a fallback-blending suggestion
protocol, which is what the musical variants in package melody build on.

Tables persist to a self-describing JSON document through a Codec, which
knows how to encode and decode one closed state shape. Decoding never
evaluates text; every state is parsed back into its typed Go value and
validated.

All randomness flows through an explicitly supplied *rand.Rand, so every
sampling path is reproducible with a seeded source.
*/
package markov
