package main

import (
	"fmt"
	"io"

	"github.com/CTAG07/Cadenza/pkg/markov"
	"github.com/CTAG07/Cadenza/pkg/melody"
	"github.com/spf13/cobra"
)

func newMergeCmd(a *app) *cobra.Command {
	var kind, out string
	cmd := &cobra.Command{
		Use:   "merge [flags] FILE...",
		Short: "Adds the counts of several model files into one",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := melody.ParseKind(kind)
			if err != nil {
				return err
			}
			switch k {
			case melody.KindInterval:
				return mergeKind(a, melody.IntervalCodec{}, args, out, cmd.OutOrStdout())
			case melody.KindFeature:
				return mergeKind(a, melody.FeatureCodec{}, args, out, cmd.OutOrStdout())
			default:
				return mergeKind(a, melody.DurationCodec{}, args, out, cmd.OutOrStdout())
			}
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(melody.KindInterval), "state kind of every input file")
	cmd.Flags().StringVarP(&out, "out", "o", "", "combined model file (required)")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func mergeKind[S comparable](a *app, codec markov.Codec[S], paths []string, out string, w io.Writer) error {
	table, err := mergeFiles(codec, paths)
	if err != nil {
		return err
	}
	if err = table.SaveFile(out, codec); err != nil {
		return err
	}
	a.logger.Info("Merged model files", "inputs", len(paths), "path", out)
	_, err = fmt.Fprintf(w, "merged %d files into %s: %d observations\n", len(paths), out, table.TotalObservations())
	return err
}
