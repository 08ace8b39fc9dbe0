package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/kairos/internal/api"
	"github.com/wonny/kairos/internal/scheduler"
)

// startCmd runs the full daily cycle as one long-lived process.
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "스케줄러 기동 (하루 사이클 전체)",
	Long: `06:00 수집 → 07:30 아침 선정 → 09:00 장중 감시 → 14:50/15:20 청산 →
15:45 성과 배치 → 주간 리포트/학습까지 KST 크론으로 돌린다.

텔레그램 명령 루프와 (설정 시) 읽기 전용 API 서버도 함께 뜬다.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		app, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		log := app.Logger.WithComponent("start")

		sched := scheduler.New(app.Logger)
		jobs := scheduler.NewJobs(scheduler.Deps{
			Cfg:        app.Cfg,
			Calendar:   app.Calendar,
			Fanout:     app.Fanout,
			Pipeline:   app.Pipeline,
			PickRepo:   app.PickRepo,
			Watcher:    app.Watcher,
			Stream:     streamOrNil(app),
			Positions:  app.Positions,
			Tracker:    app.Tracker,
			RAG:        app.RAG,
			Principles: app.Principles,
			Compressor: app.Compressor,
			Themes:     app.Themes,
			Sink:       app.Bot,
			Mirror:     app.Mirror,
			Logger:     app.Logger,
		})
		if err := jobs.RegisterAll(sched); err != nil {
			return err
		}

		sched.Start()
		defer sched.Stop()

		go app.Bot.RunCommandLoop(ctx)

		var apiServer *api.Server
		if app.Cfg.APIEnabled {
			apiServer = api.NewServer(app.Cfg, sched, app.PosRepo, app.PickRepo, app.Tracker, app.Logger)
			go func() {
				if err := apiServer.Run(); err != nil {
					log.WithError(err).Error("API server stopped")
				}
			}()
		}

		log.WithFields(map[string]interface{}{
			"mode":       app.Cfg.TradingMode,
			"auto_trade": app.Cfg.AutoTradeEnabled,
			"jobs":       len(sched.Status()),
		}).Info("Kairos started")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.WithField("signal", sig.String()).Info("Shutting down")

		cancel()
		if apiServer != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := apiServer.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("API shutdown failed")
			}
		}
		return nil
	},
}

// streamOrNil keeps the Deps field a clean nil when websocket is off.
// (*kis.Stream)(nil) inside a non-nil interface would defeat the checks.
func streamOrNil(app *App) scheduler.TickStream {
	if app.Stream == nil {
		return nil
	}
	return app.Stream
}

func init() {
	rootCmd.AddCommand(startCmd)
}
