package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/kairos/internal/collect"
	"github.com/wonny/kairos/internal/market"
	"github.com/wonny/kairos/internal/morning"
)

// morningCmd runs the three-stage pick pipeline once, collecting first
// when no fresh cache is in memory.
var morningCmd = &cobra.Command{
	Use:   "morning",
	Short: "아침 3단계 선정 1회 실행",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		app, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		if !collect.IsFresh(market.Now(), 180) {
			app.Logger.Info("No fresh cache, collecting first")
			cache, err := app.Fanout.Run(ctx)
			if err != nil {
				return err
			}
			collect.SetCache(cache)
		}

		result, err := app.Pipeline.Run(ctx, collect.GetCache())
		if err != nil {
			return err
		}

		fmt.Println(morning.FormatReport(result))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(morningCmd)
}
