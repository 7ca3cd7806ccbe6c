package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/CTAG07/Cadenza/pkg/markov"
	"github.com/CTAG07/Cadenza/pkg/melody"
	"github.com/CTAG07/Cadenza/pkg/render"
	"github.com/spf13/cobra"
)

// stepIntervals are the fallback candidates that --key narrows to the scale.
var stepIntervals = []melody.Interval{-2, -1, 1, 2}

type generateOptions struct {
	melody      string
	rhythm      string
	length      int
	weight      float64
	seed        uint64
	seeded      bool
	temperature float64
	topK        int
	start       uint8
	key         string
	mode        string
	midi        string
	tempo       float64
}

// composition is one generated phrase.
type composition struct {
	Intervals []melody.Interval
	Durations []melody.Duration
	Phrase    render.Phrase
}

func newGenerateCmd(a *app) *cobra.Command {
	opts := &generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generates a phrase from stored melody and rhythm models",
		Long: `Generates a phrase of --length notes. Pitches come from the interval model
named by --melody, walked from --start; durations come from the duration model
named by --rhythm, or are all quarter notes. With --key, fallback steps are
limited to the scale of that key and --mode.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			gen := a.cfg.Generation
			if !cmd.Flags().Changed("length") {
				opts.length = gen.Length
			}
			if !cmd.Flags().Changed("weight") {
				opts.weight = gen.Weight
			}
			if !cmd.Flags().Changed("temperature") {
				opts.temperature = gen.Temperature
			}
			if !cmd.Flags().Changed("tempo") {
				opts.tempo = gen.Tempo
			}
			opts.seeded = cmd.Flags().Changed("seed")
			return runGenerate(cmd.Context(), a, opts, cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.melody, "melody", "", "stored interval model (required)")
	flags.StringVar(&opts.rhythm, "rhythm", "", "stored duration model")
	flags.IntVarP(&opts.length, "length", "n", 16, "number of notes")
	flags.Float64VarP(&opts.weight, "weight", "w", 0.3, "probability of consulting the model instead of the fallback pool")
	flags.Uint64Var(&opts.seed, "seed", 0, "random seed for a reproducible phrase")
	flags.Float64Var(&opts.temperature, "temperature", 1.0, "sampling temperature; 0 always picks the most frequent state")
	flags.IntVar(&opts.topK, "top-k", 0, "sample only among the k most frequent states (0 disables)")
	flags.Uint8Var(&opts.start, "start", 60, "MIDI note the melody starts on")
	flags.StringVar(&opts.key, "key", "", "tonic that limits fallback steps to a scale, e.g. C or F#")
	flags.StringVar(&opts.mode, "mode", "major", "scale mode used with --key")
	flags.StringVar(&opts.midi, "midi", "", "write the phrase to this Standard MIDI File")
	flags.Float64Var(&opts.tempo, "tempo", 120, "tempo of the MIDI file in quarter notes per minute")
	_ = cmd.MarkFlagRequired("melody")
	return cmd
}

func runGenerate(ctx context.Context, a *app, opts *generateOptions, out io.Writer) error {
	if opts.length < 1 {
		return fmt.Errorf("%w: length must be at least 1", markov.ErrInvalidArgument)
	}
	if !(opts.weight >= 0 && opts.weight <= 1) {
		return fmt.Errorf("%w: weight %v must be within [0, 1]", markov.ErrInvalidArgument, opts.weight)
	}
	if math.IsNaN(opts.temperature) || math.IsInf(opts.temperature, 0) {
		return fmt.Errorf("%w: temperature %v must be a finite number", markov.ErrInvalidArgument, opts.temperature)
	}
	var scale *melody.PitchClasses
	if opts.key != "" {
		pcs, err := melody.DiatonicPitchClasses(opts.key, opts.mode)
		if err != nil {
			return err
		}
		scale = &pcs
	}

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer a.closeStore()

	predict := []markov.PredictOption{markov.WithTemperature(opts.temperature), markov.WithTopK(opts.topK)}

	melodyInfo, intervals, err := loadStored(ctx, st, opts.melody, melody.KindInterval, melody.IntervalCodec{})
	if err != nil {
		return err
	}
	melodyModel := melody.NewIntervalModelFromTable(intervals, melodyInfo.Composer, opts.newRand(1))
	melodyModel.SetLogger(a.logger)
	melodyModel.SetPredictOptions(predict...)

	var rhythmModel *melody.RhythmModel
	if opts.rhythm != "" {
		rhythmInfo, durations, err := loadStored(ctx, st, opts.rhythm, melody.KindDuration, melody.DurationCodec{})
		if err != nil {
			return err
		}
		rhythmModel = melody.NewRhythmModelFromTable(durations, rhythmInfo.Composer, opts.newRand(2))
		rhythmModel.SetLogger(a.logger)
		rhythmModel.SetPredictOptions(predict...)
	}

	c, err := compose(melodyModel, rhythmModel, opts.length, opts.weight, opts.start, scale)
	if err != nil {
		return err
	}
	a.logger.Info("Generated phrase",
		"melody", opts.melody,
		"rhythm", opts.rhythm,
		"notes", len(c.Phrase),
		"quarter_notes", c.Phrase.Length(),
	)

	if opts.midi != "" {
		err = render.WriteFile(opts.midi, c.Phrase,
			render.WithTempo(opts.tempo),
			render.WithTrackName(fmt.Sprintf("cadenza %s", opts.melody)),
		)
		if err != nil {
			return err
		}
		a.logger.Info("Wrote MIDI file", "path", opts.midi)
	}
	return printComposition(out, c)
}

// newRand returns the random source for the nth model of a generation, seeded
// from --seed when it was given.
func (o *generateOptions) newRand(stream uint64) *rand.Rand {
	if !o.seeded {
		return nil
	}
	return rand.New(rand.NewPCG(o.seed, stream))
}

// compose generates length notes. The melody walks from start; when scale is
// set, the fallback pool at every step holds only the steps that land in it.
func compose(mm *melody.IntervalModel, rm *melody.RhythmModel, length int, weight float64, start uint8, scale *melody.PitchClasses) (*composition, error) {
	mm.Reset()
	intervals := make([]melody.Interval, 0, length-1)
	pitch := int(start)
	for i := 0; i < length-1; i++ {
		var pool []melody.Interval
		if scale != nil {
			pool = melody.FilterDiatonicIntervals(pitch, stepIntervals, *scale)
		}
		if len(pool) == 0 {
			pool = melody.DefaultIntervals
		}
		iv, err := mm.SuggestInterval(weight, pool)
		if err != nil {
			return nil, fmt.Errorf("failed to suggest interval %d: %w", i, err)
		}
		mm.Update(iv)
		intervals = append(intervals, iv)
		pitch = min(max(pitch+int(iv), 0), 127)
	}

	var durations []melody.Duration
	if rm == nil {
		durations = make([]melody.Duration, length)
		for i := range durations {
			durations[i] = melody.Quarter
		}
	} else {
		var err error
		durations, err = markov.Generate[melody.Duration](rm, length, weight, nil)
		if err != nil {
			return nil, err
		}
	}

	return &composition{
		Intervals: intervals,
		Durations: durations,
		Phrase:    render.NewPhrase(start, intervals, durations),
	}, nil
}

func printComposition(w io.Writer, c *composition) error {
	pitches := make([]string, len(c.Phrase))
	durations := make([]string, len(c.Phrase))
	for i, n := range c.Phrase {
		pitches[i] = fmt.Sprint(n.Pitch)
		durations[i] = n.Duration.String()
	}
	intervals := make([]string, len(c.Intervals))
	for i, iv := range c.Intervals {
		intervals[i] = fmt.Sprint(int(iv))
	}
	_, err := fmt.Fprintf(w, "intervals: %s\npitches:   %s\ndurations: %s\n",
		strings.Join(intervals, " "), strings.Join(pitches, " "), strings.Join(durations, " "))
	return err
}
