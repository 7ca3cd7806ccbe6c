package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/CTAG07/Cadenza/pkg/markov"
	"github.com/CTAG07/Cadenza/pkg/melody"
	"github.com/CTAG07/Cadenza/pkg/store"
	"github.com/spf13/cobra"
)

type trainOptions struct {
	kind     string
	name     string
	order    int
	composer string
	input    string
	out      string
	shards   int
}

func newTrainCmd(a *app) *cobra.Command {
	opts := &trainOptions{}
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Trains a model from JSON Lines sequences",
		Long: `Trains a model from JSON Lines input, one JSON array of states per line.
Intervals are integers, features are [degree, "strong"|"weak", direction] and
durations are [numerator, denominator] in whole notes. The counts are merged
into the stored model named by --name and/or written to the file given by --out.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("order") {
				opts.order = a.cfg.Generation.Order
			}
			if !cmd.Flags().Changed("composer") {
				opts.composer = a.cfg.Generation.Composer
			}
			return runTrain(cmd.Context(), a, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.kind, "kind", string(melody.KindInterval), "state kind: interval, feature or duration")
	flags.StringVar(&opts.name, "name", "", "stored model to merge the counts into")
	flags.IntVar(&opts.order, "order", 2, "context length of a new model (1-3)")
	flags.StringVar(&opts.composer, "composer", "", "composer label recorded with a new model")
	flags.StringVarP(&opts.input, "input", "i", "-", "JSON Lines file, or - for stdin")
	flags.StringVarP(&opts.out, "out", "o", "", "write the trained table to this JSON file")
	flags.IntVar(&opts.shards, "shards", 1, "number of parallel training workers")
	return cmd
}

func runTrain(ctx context.Context, a *app, opts *trainOptions, stdin io.Reader, out io.Writer) error {
	if opts.name == "" && opts.out == "" {
		return fmt.Errorf("%w: one of --name or --out is required", markov.ErrInvalidArgument)
	}
	kind, err := melody.ParseKind(opts.kind)
	if err != nil {
		return err
	}

	in := stdin
	if opts.input != "-" {
		f, err := os.Open(opts.input)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer func(f *os.File) {
			_ = f.Close()
		}(f)
		in = f
	}

	switch kind {
	case melody.KindInterval:
		return trainKind(ctx, a, opts, kind, melody.IntervalCodec{}, in, out)
	case melody.KindFeature:
		return trainKind(ctx, a, opts, kind, melody.FeatureCodec{}, in, out)
	default:
		return trainKind(ctx, a, opts, kind, melody.DurationCodec{}, in, out)
	}
}

func trainKind[S comparable](ctx context.Context, a *app, opts *trainOptions, kind melody.Kind, codec markov.Codec[S], in io.Reader, out io.Writer) error {
	seqs, err := readSequences(in, codec)
	if err != nil {
		return err
	}
	table, err := trainTable(opts.order, opts.composer, seqs, opts.shards, a.logger)
	if err != nil {
		return err
	}

	if opts.out != "" {
		if err = table.SaveFile(opts.out, codec); err != nil {
			return err
		}
		a.logger.Info("Wrote model file", "path", opts.out)
	}
	if opts.name != "" {
		st, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		defer a.closeStore()

		model, err := ensureModel(ctx, st, store.ModelInfo{
			Name:     opts.name,
			Kind:     kind,
			Order:    opts.order,
			Composer: opts.composer,
		})
		if err != nil {
			return err
		}
		if err = store.SaveTable(ctx, st, model, table, codec); err != nil {
			return err
		}
	}

	stats := table.Stats()
	_, err = fmt.Fprintf(out, "trained %d %s sequences: %d contexts, %d transitions, %d observations\n",
		len(seqs), kind, stats.Contexts, stats.Transitions, stats.TotalObservations)
	return err
}
