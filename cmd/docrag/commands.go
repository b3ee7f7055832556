package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/ingest"
	"github.com/fyrsmithlabs/docrag/internal/query"
)

var outputJSON bool

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Index new and changed documents from the data directory",
	Long: `Load every document in the data directory, classify each as NEW, CHANGED or
UNCHANGED against the index, and embed only what changed. Nothing is written
when every document is unchanged.

Examples:
  docrag ingest
  docrag ingest --data ./docs --storage ./index`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := bootstrap(ctx, false)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		docs, err := a.loadDocuments(ctx)
		if err != nil {
			return err
		}
		report, err := a.svc.Ingest(ctx, docs)
		if err != nil {
			return err
		}
		return printReport(cmd.OutOrStdout(), report)
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Answer a question from the indexed documents",
	Long: `Answer a question from the index. With --ingest the data directory is
ingested first, so the answer reflects its current contents.

Examples:
  docrag query "How are apples stored over winter?"
  docrag query --ingest --json "Who keeps the lighthouse?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := bootstrap(ctx, true)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		text := strings.Join(args, " ")
		var res *query.Result
		if ingestFirst {
			docs, err := a.loadDocuments(ctx)
			if err != nil {
				return err
			}
			var report *ingest.Report
			res, report, err = a.svc.IngestAndQuery(ctx, docs, text)
			if err != nil {
				return err
			}
			if report.Committed() {
				a.logger.Info(ctx, "index updated before query", zap.Uint64("generation", report.Generation))
			}
		} else {
			res, err = a.svc.Query(ctx, text)
			if err != nil {
				return err
			}
		}
		return printResult(cmd.OutOrStdout(), res)
	},
}

var ingestFirst bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the committed generation and indexed documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := bootstrap(ctx, false)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		st := a.svc.Stats()
		out := cmd.OutOrStdout()
		if outputJSON {
			return writeJSON(out, st)
		}
		fmt.Fprintf(out, "location:   %s\ngeneration: %d\nsegments:   %d\ndimension:  %d\n\n",
			st.Location, st.Generation, st.Segments, st.Dimension)
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "IDENTITY\tSEGMENTS\tGENERATION\tHASH")
		for _, d := range st.Documents {
			fmt.Fprintf(w, "%s\t%d\t%d\t%.12s\n", d.Identity, d.Segments, d.Generation, d.Hash)
		}
		return w.Flush()
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop the index",
	Long:  `Drop every indexed document. The data directory is left untouched.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := bootstrap(ctx, false)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if err := a.svc.Reset(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "index at %s reset\n", a.svc.Stats().Location)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{ingestCmd, queryCmd, statsCmd} {
		c.Flags().BoolVar(&outputJSON, "json", false, "print JSON")
	}
	queryCmd.Flags().BoolVar(&ingestFirst, "ingest", false, "ingest the data directory before answering")
}

func printReport(w io.Writer, r *ingest.Report) error {
	if outputJSON {
		return writeJSON(w, r)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range r.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%d segments\n", e.Kind, e.Identity, e.Segments)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if !r.Committed() {
		fmt.Fprintln(w, "index up to date")
		return nil
	}
	fmt.Fprintf(w, "committed generation %d: +%d -%d segments in %s\n",
		r.Generation, r.SegmentsAdded, r.SegmentsRemoved, r.Duration.Round(time.Millisecond))
	return nil
}

func printResult(w io.Writer, res *query.Result) error {
	if outputJSON {
		return writeJSON(w, res)
	}
	fmt.Fprintln(w, res.Answer)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Sources:")
	for i, s := range res.Sources {
		fmt.Fprintf(w, "  [%d] %s (%.3f)\n", i+1, s.Identity, s.Score)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
