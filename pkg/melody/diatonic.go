package melody

import (
	"fmt"
	"strings"

	"github.com/CTAG07/Cadenza/pkg/markov"
)

// PitchClasses is a set of pitch classes, bit i standing for pitch class i
// (C = 0).
type PitchClasses uint16

const (
	majorScale PitchClasses = 1<<0 | 1<<2 | 1<<4 | 1<<5 | 1<<7 | 1<<9 | 1<<11
	minorScale PitchClasses = 1<<0 | 1<<2 | 1<<3 | 1<<5 | 1<<7 | 1<<8 | 1<<10
)

var tonicPitchClass = map[string]int{
	"C": 0, "C#": 1, "Db": 1, "D": 2, "D#": 3, "Eb": 3,
	"E": 4, "F": 5, "F#": 6, "Gb": 6, "G": 7, "G#": 8,
	"Ab": 8, "A": 9, "A#": 10, "Bb": 10, "B": 11,
}

// Contains reports whether pitch class pc, reduced modulo 12, is in the set.
func (p PitchClasses) Contains(pc int) bool {
	return p&(1<<pitchClass(pc)) != 0
}

// Len returns the number of pitch classes in the set.
func (p PitchClasses) Len() int {
	n := 0
	for pc := 0; pc < 12; pc++ {
		if p.Contains(pc) {
			n++
		}
	}
	return n
}

// DiatonicPitchClasses returns the pitch classes of the scale on tonic.
// Minor, aeolian and natural_minor select the natural minor scale; any other
// mode is treated as major.
func DiatonicPitchClasses(tonic, mode string) (PitchClasses, error) {
	root, ok := tonicPitchClass[tonic]
	if !ok {
		return 0, fmt.Errorf("%w: unknown tonic %q", markov.ErrInvalidArgument, tonic)
	}
	scale := majorScale
	switch strings.ToLower(mode) {
	case "minor", "aeolian", "natural_minor":
		scale = minorScale
	}
	var out PitchClasses
	for pc := 0; pc < 12; pc++ {
		if scale.Contains(pc) {
			out |= 1 << pitchClass(pc+root)
		}
	}
	return out, nil
}

// IsDiatonicInterval reports whether moving by iv from the MIDI note
// fromMIDI lands on a pitch class of the scale.
func IsDiatonicInterval(fromMIDI int, iv Interval, scale PitchClasses) bool {
	return scale.Contains(fromMIDI + int(iv))
}

// FilterDiatonicIntervals keeps the intervals that stay inside the scale.
func FilterDiatonicIntervals(fromMIDI int, ivs []Interval, scale PitchClasses) []Interval {
	out := make([]Interval, 0, len(ivs))
	for _, iv := range ivs {
		if IsDiatonicInterval(fromMIDI, iv, scale) {
			out = append(out, iv)
		}
	}
	return out
}

func pitchClass(n int) int {
	return ((n % 12) + 12) % 12
}
