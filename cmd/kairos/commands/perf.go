package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/kairos/internal/scheduler"
)

// perfCmd settles the due T+1/3/7 horizons once and prints the weekly
// trigger statistics.
var perfCmd = &cobra.Command{
	Use:   "perf",
	Short: "성과 정산 배치 1회 실행",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		app, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.Tracker.RunBatch(ctx); err != nil {
			return err
		}

		stats, err := app.Tracker.GetWeeklyStats(ctx)
		if err != nil {
			return err
		}
		fmt.Println(scheduler.FormatWeeklyReport(stats))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(perfCmd)
}
