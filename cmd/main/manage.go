package main

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/CTAG07/Cadenza/pkg/markov"
	"github.com/CTAG07/Cadenza/pkg/store"
	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
)

func newModelsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "Lists the stored models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer a.closeStore()

			infos, err := st.GetModelInfos(cmd.Context())
			if err != nil {
				return err
			}
			models := make([]store.ModelInfo, 0, len(infos))
			for _, info := range infos {
				models = append(models, info)
			}
			sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tKIND\tORDER\tCOMPOSER")
			for _, m := range models {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", m.Name, m.Kind, m.Order, m.Composer)
			}
			return tw.Flush()
		},
	}
}

func newRemoveCmd(a *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Deletes a stored model and its counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer a.closeStore()

			model, err := st.GetModelInfo(cmd.Context(), name)
			if err != nil {
				return fmt.Errorf("model %q not found: %w", name, err)
			}
			if err = st.RemoveModel(cmd.Context(), model); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed model %s\n", name)
			return err
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "model to remove (required)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newPruneCmd(a *app) *cobra.Command {
	var name string
	var minFreq int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drops rare transitions and unused states",
		Long: `Drops every transition of the model named by --name seen at most --min-freq
times, then deletes states and contexts no model refers to any more. Without
--name only the unused states and contexts are deleted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer a.closeStore()

			out := cmd.OutOrStdout()
			if name != "" {
				if minFreq < 1 {
					return fmt.Errorf("%w: --min-freq must be at least 1", markov.ErrInvalidArgument)
				}
				model, err := st.GetModelInfo(ctx, name)
				if err != nil {
					return fmt.Errorf("model %q not found: %w", name, err)
				}
				removed, err := st.PruneModel(ctx, model, minFreq)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(out, "pruned %d transitions from %s\n", removed, name)
			}

			states, contexts, err := st.PruneOrphans(ctx)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "deleted %d unused states and %d unused contexts\n", states, contexts)
			return err
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "model to prune")
	cmd.Flags().IntVar(&minFreq, "min-freq", 1, "drop transitions seen at most this many times")
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Prints size statistics of the model store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer a.closeStore()

			stats, err := st.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "states: %d\ncontexts: %d\n\n", stats.StateCount, stats.ContextCount)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tKIND\tORDER\tCONTEXTS\tTRANSITIONS\tOBSERVATIONS")
			for _, m := range stats.Models {
				ms := stats.Stats[m.Id]
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n",
					m.Name, m.Kind, m.Order, ms.Contexts, ms.TotalTransitions, ms.TotalFrequency)
			}
			return tw.Flush()
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	var name, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Writes a stored model as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer a.closeStore()

			model, err := st.GetModelInfo(cmd.Context(), name)
			if err != nil {
				return fmt.Errorf("model %q not found: %w", name, err)
			}
			if out == "" || out == "-" {
				return st.ExportModel(cmd.Context(), model, cmd.OutOrStdout())
			}
			var buf bytes.Buffer
			if err = st.ExportModel(cmd.Context(), model, &buf); err != nil {
				return err
			}
			if err = atomic.WriteFile(out, &buf); err != nil {
				return fmt.Errorf("failed to write export file %s: %w", out, err)
			}
			a.logger.Info("Exported model", "model_name", name, "path", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "model to export (required)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file; stdout when empty")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var in string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Merges an exported model into the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer a.closeStore()

			r := cmd.InOrStdin()
			if in != "-" {
				f, err := os.Open(in)
				if err != nil {
					return fmt.Errorf("failed to open import file: %w", err)
				}
				defer func(f *os.File) {
					_ = f.Close()
				}(f)
				r = f
			}
			model, err := st.ImportModel(cmd.Context(), r)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %s model %s (order %d)\n", model.Kind, model.Name, model.Order)
			return err
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "-", "exported model file, or - for stdin")
	return cmd
}
