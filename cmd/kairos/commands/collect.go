package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/kairos/internal/collect"
)

// collectCmd runs the 06:00 fan-out once and prints the summary.
var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "데이터 수집 1회 실행",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		app, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		cache, err := app.Fanout.Run(ctx)
		if err != nil {
			return err
		}
		collect.SetCache(cache)

		fmt.Println(collect.FormatSummary(cache))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(collectCmd)
}
