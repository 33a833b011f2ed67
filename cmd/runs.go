package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/freightwise/logistics-cli/internal/model"
	"github.com/freightwise/logistics-cli/internal/store"
)

var (
	runsState     string
	runsInquiryID string
	runsLimit     int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect enrichment runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.ListRuns(ctx, store.RunFilter{
			State:     model.RunState(runsState),
			InquiryID: runsInquiryID,
			Limit:     runsLimit,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tSTATE\tROUTE\tWEIGHT\tCREATED\tERROR")
		for _, run := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.1fkg\t%s\t%s\n",
				truncateID(run.ID),
				run.State,
				run.Inquiry.Route(),
				run.Inquiry.WeightKg,
				run.CreatedAt.Format("2006-01-02 15:04"),
				truncate(run.Error, 40),
			)
		}
		return w.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print one run with its report as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "run %s", args[0])
		}
		out, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal run")
		}
		fmt.Println(string(out))
		return nil
	},
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize run outcomes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.ListRuns(ctx, store.RunFilter{})
		if err != nil {
			return err
		}

		byState := map[model.RunState]int{}
		degraded := 0
		for _, run := range runs {
			byState[run.State]++
			if run.Report != nil && len(run.Report.Degraded) > 0 {
				degraded++
			}
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "total\t%d\n", len(runs))
		for _, state := range []model.RunState{
			model.RunCreated, model.RunEnriching, model.RunSynthesizing,
			model.RunCompleted, model.RunFailed,
		} {
			if n := byState[state]; n > 0 {
				fmt.Fprintf(w, "%s\t%d\n", state, n)
			}
		}
		fmt.Fprintf(w, "degraded reports\t%d\n", degraded)
		return w.Flush()
	},
}

func init() {
	runsListCmd.Flags().StringVar(&runsState, "state", "", "filter by run state")
	runsListCmd.Flags().StringVar(&runsInquiryID, "inquiry", "", "filter by inquiry ID")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 50, "maximum rows")

	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

func truncateID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-1] + "…"
	}
	return s
}
