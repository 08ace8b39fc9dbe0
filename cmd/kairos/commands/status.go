package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/kairos/internal/market"
)

// statusCmd prints a local snapshot: config, DB, today's picks, open
// positions. Reads only.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "로컬 상태 출력",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		app, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		fmt.Printf("모드: %s / 자동매매: %v\n", app.Cfg.TradingMode, app.Cfg.AutoTradeEnabled)
		fmt.Printf("DB: %s\n", app.Cfg.DBPath)
		fmt.Printf("웹소켓: %v / 레디스: %v / API: %v\n",
			app.Cfg.WSEnabled, app.Cfg.Redis.Enabled, app.Cfg.APIEnabled)

		today := market.DateKey(market.Now())
		picks, err := app.PickRepo.LoadPicks(ctx, today)
		if err != nil {
			return err
		}
		fmt.Printf("\n오늘의 픽 (%s): %d종목\n", today, len(picks))
		for _, p := range picks {
			fmt.Printf("  %2d. %s(%s) [%s] %s\n", p.Rank, p.StockName, p.StockCode, p.PickType(), p.TargetReturn)
		}

		positions, err := app.PosRepo.List(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("\n보유 포지션: %d개\n", len(positions))
		for _, pos := range positions {
			fmt.Printf("  %s(%s): %d주 @%d원 (피크 %d원)\n",
				pos.Name, pos.Ticker, pos.Qty, pos.BuyPrice, pos.PeakPrice)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
