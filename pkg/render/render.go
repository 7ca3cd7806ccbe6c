// Package render turns generated intervals and durations into a playable
// Standard MIDI File.
package render

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/CTAG07/Cadenza/pkg/markov"
	"github.com/CTAG07/Cadenza/pkg/melody"
	"github.com/natefinch/atomic"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// Note is a single pitched event of a phrase.
type Note struct {
	Pitch    uint8
	Duration melody.Duration
}

// Phrase is a monophonic line of notes played back to back.
type Phrase []Note

// Pitches walks intervals from the MIDI note start and returns every pitch
// visited, start included. Pitches are clamped to the MIDI range [0, 127].
func Pitches(start uint8, intervals []melody.Interval) []uint8 {
	out := make([]uint8, 0, len(intervals)+1)
	out = append(out, clampPitch(int(start)))
	current := int(start)
	for _, iv := range intervals {
		current = int(clampPitch(current + int(iv)))
		out = append(out, uint8(current))
	}
	return out
}

// NewPhrase pairs the pitches reached from start by intervals with
// durations. The phrase is as long as the shorter of the two streams.
func NewPhrase(start uint8, intervals []melody.Interval, durations []melody.Duration) Phrase {
	pitches := Pitches(start, intervals)
	n := min(len(pitches), len(durations))
	phrase := make(Phrase, n)
	for i := 0; i < n; i++ {
		phrase[i] = Note{Pitch: pitches[i], Duration: durations[i]}
	}
	return phrase
}

// Length returns the total length of the phrase in quarter notes.
func (p Phrase) Length() float64 {
	total := 0.0
	for _, n := range p {
		total += n.Duration.QuarterLength()
	}
	return total
}

// writeOptions Is used by WriteSMF to configure default options.
type writeOptions struct {
	tempo      float64
	channel    uint8
	velocity   uint8
	resolution uint16
	trackName  string
}

// WriteOption is a function that configures how a phrase is rendered.
type WriteOption func(*writeOptions)

// WithTempo sets the tempo in quarter notes per minute. Default 120.
func WithTempo(bpm float64) WriteOption {
	return func(o *writeOptions) { o.tempo = bpm }
}

// WithChannel sets the MIDI channel, 0 to 15. Default 0.
func WithChannel(ch uint8) WriteOption {
	return func(o *writeOptions) { o.channel = ch }
}

// WithVelocity sets the note-on velocity, 1 to 127. Default 80.
func WithVelocity(v uint8) WriteOption {
	return func(o *writeOptions) { o.velocity = v }
}

// WithResolution sets the number of ticks per quarter note. Default 480.
func WithResolution(ticks uint16) WriteOption {
	return func(o *writeOptions) { o.resolution = ticks }
}

// WithTrackName sets the name stored in the track. Default empty.
func WithTrackName(name string) WriteOption {
	return func(o *writeOptions) { o.trackName = name }
}

func newWriteOptions(opts []WriteOption) (*writeOptions, error) {
	options := &writeOptions{
		tempo:      120,
		channel:    0,
		velocity:   80,
		resolution: 480,
	}
	for _, opt := range opts {
		opt(options)
	}

	switch {
	case !(options.tempo > 0):
		return nil, fmt.Errorf("%w: tempo %v must be positive", markov.ErrInvalidArgument, options.tempo)
	case options.channel > 15:
		return nil, fmt.Errorf("%w: channel %d outside [0, 15]", markov.ErrInvalidArgument, options.channel)
	case options.velocity == 0 || options.velocity > 127:
		return nil, fmt.Errorf("%w: velocity %d outside [1, 127]", markov.ErrInvalidArgument, options.velocity)
	case options.resolution == 0:
		return nil, fmt.Errorf("%w: resolution must be positive", markov.ErrInvalidArgument)
	}
	return options, nil
}

// WriteSMF renders phrase as a single-track Standard MIDI File and writes it
// to w.
func WriteSMF(w io.Writer, phrase Phrase, opts ...WriteOption) error {
	options, err := newWriteOptions(opts)
	if err != nil {
		return err
	}

	ticks := smf.MetricTicks(options.resolution)
	file := smf.New()
	file.TimeFormat = ticks

	var track smf.Track
	if options.trackName != "" {
		track.Add(0, smf.MetaTrackSequenceName(options.trackName))
	}
	track.Add(0, smf.MetaMeter(4, 4))
	track.Add(0, smf.MetaTempo(options.tempo))

	for i, n := range phrase {
		if err := n.Duration.Valid(); err != nil {
			return fmt.Errorf("%w: note %d: %v", markov.ErrInvalidArgument, i, err)
		}
		if n.Pitch > 127 {
			return fmt.Errorf("%w: note %d: pitch %d outside [0, 127]", markov.ErrInvalidArgument, i, n.Pitch)
		}
		length, err := durationTicks(n.Duration, ticks.Ticks4th())
		if err != nil {
			return fmt.Errorf("note %d: %w", i, err)
		}
		track.Add(0, midi.NoteOn(options.channel, n.Pitch, options.velocity))
		track.Add(length, midi.NoteOff(options.channel, n.Pitch))
	}
	track.Close(0)

	if err := file.Add(track); err != nil {
		return fmt.Errorf("could not add track: %w", err)
	}
	if _, err := file.WriteTo(w); err != nil {
		return fmt.Errorf("could not write midi file: %w", err)
	}
	return nil
}

// WriteFile renders phrase to path. The file is replaced atomically.
func WriteFile(path string, phrase Phrase, opts ...WriteOption) error {
	var buf bytes.Buffer
	if err := WriteSMF(&buf, phrase, opts...); err != nil {
		return err
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("failed to write midi file %s: %w", path, err)
	}
	return nil
}

// maxDeltaTicks is the largest delta time a variable-length quantity in a
// Standard MIDI File can hold.
const maxDeltaTicks = 0x0FFFFFFF

// durationTicks converts d to ticks, rounding to the nearest tick but never
// below one.
func durationTicks(d melody.Duration, perQuarter uint32) (uint32, error) {
	t := math.Round(d.QuarterLength() * float64(perQuarter))
	switch {
	case t > maxDeltaTicks:
		return 0, fmt.Errorf("%w: duration %v is too long for a midi delta time", markov.ErrInvalidArgument, d)
	case t < 1:
		return 1, nil
	}
	return uint32(t), nil
}

func clampPitch(p int) uint8 {
	switch {
	case p < 0:
		return 0
	case p > 127:
		return 127
	}
	return uint8(p)
}
