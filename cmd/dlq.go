package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/freightwise/logistics-cli/internal/resilience"
)

var (
	dlqListLimit   int
	dlqReplayLimit int
	dlqErrorType   string
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Manage the CRM dead letter queue",
}

var dlqCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of queued entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.CountDLQ(ctx)
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		entries, err := st.DequeueDLQ(ctx, resilience.DLQFilter{
			ErrorType: dlqErrorType,
			Limit:     dlqListLimit,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tRETRIES\tNEXT RETRY\tERROR")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\n",
				truncateID(e.ID),
				e.ErrorType,
				e.RetryCount, e.MaxRetries,
				e.NextRetryAt.Format("2006-01-02 15:04"),
				truncate(e.Error, 50),
			)
		}
		return w.Flush()
	},
}

var dlqReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Retry queued CRM writes that are due",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		replayed, failed, err := env.Pipeline.ReplayDLQ(ctx, dlqReplayLimit)
		if err != nil {
			return err
		}
		zap.L().Info("dlq replay finished",
			zap.Int("replayed", replayed),
			zap.Int("failed", failed))
		fmt.Printf("replayed %d, failed %d\n", replayed, failed)
		return nil
	},
}

func init() {
	dlqListCmd.Flags().StringVar(&dlqErrorType, "type", "", "filter by error type (transient or permanent)")
	dlqListCmd.Flags().IntVar(&dlqListLimit, "limit", 50, "maximum entries")
	dlqReplayCmd.Flags().IntVar(&dlqReplayLimit, "limit", 20, "maximum entries to replay")

	dlqCmd.AddCommand(dlqCountCmd, dlqListCmd, dlqReplayCmd)
	rootCmd.AddCommand(dlqCmd)
}
