package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wonny/kairos/internal/collect"
	"github.com/wonny/kairos/internal/contracts"
	"github.com/wonny/kairos/internal/external/gemini"
	"github.com/wonny/kairos/internal/external/kis"
	"github.com/wonny/kairos/internal/external/naver"
	"github.com/wonny/kairos/internal/external/telegram"
	"github.com/wonny/kairos/internal/intraday"
	"github.com/wonny/kairos/internal/learning"
	"github.com/wonny/kairos/internal/market"
	"github.com/wonny/kairos/internal/morning"
	"github.com/wonny/kairos/internal/performance"
	"github.com/wonny/kairos/internal/position"
	"github.com/wonny/kairos/internal/ragstore"
	"github.com/wonny/kairos/internal/scheduler"
	"github.com/wonny/kairos/internal/watchlist"
	"github.com/wonny/kairos/pkg/config"
	"github.com/wonny/kairos/pkg/database"
	"github.com/wonny/kairos/pkg/httputil"
	"github.com/wonny/kairos/pkg/logger"
	"github.com/wonny/kairos/pkg/ratelimit"
	"github.com/wonny/kairos/pkg/redis"
)

// App wires every component once; commands pick what they need.
// ⭐ SSOT: 의존성 조립은 여기서만
type App struct {
	Cfg    *config.Config
	Logger *logger.Logger
	DB     *database.DB

	Broker *kis.Client
	Naver  *naver.Client
	LLM    *gemini.Client
	Bot    *telegram.Bot

	Calendar   *market.Calendar
	Fanout     *collect.Fanout
	Pipeline   *morning.Pipeline
	PickRepo   *morning.PickRepo
	RAG        *ragstore.Store
	Tracker    *performance.Tracker
	PosRepo    *position.Repo
	Positions  *position.Manager
	Journal    *learning.Journal
	Principles *learning.Principles
	Compressor *learning.Compressor
	Themes     *learning.Themes
	Watcher    *intraday.Watcher
	Stream     *kis.Stream
	Mirror     scheduler.CacheMirror
}

// buildApp loads configuration and assembles the full dependency graph.
func buildApp(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log := logger.New(cfg)

	db, err := database.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if err := db.InitDB(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema: %w", err)
	}

	limiter := ratelimit.ForMode(cfg.TradingMode)
	broker := kis.NewClient(cfg.KIS, cfg.TradingMode, httputil.New(log), limiter, log)
	nv := naver.NewClient(cfg.Naver, httputil.New(log), log)
	llm := gemini.NewClient(cfg.Gemini, httputil.New(log), log)
	bot := telegram.NewBot(cfg.Telegram, httputil.New(log), log)

	calendar := market.NewCalendar(nv, log)

	rag := ragstore.NewStore(db, log)
	pickRepo := morning.NewPickRepo(db)
	pipeline := morning.NewPipeline(llm, rag, pickRepo, log)
	tracker := performance.NewTracker(db, nv, log)

	posRepo := position.NewRepo(db)
	journal := learning.NewJournal(db, llm, log)
	positions := position.NewManager(broker, posRepo, cfg, bot, journal, log)

	// 알림은 성과 기록과 자동매수 양쪽으로 흘린다
	recorder := intraday.MultiRecorder{tracker, position.Trader{Manager: positions}}
	watcher := intraday.NewWatcher(broker, bot, recorder, cfg, log)

	var stream *kis.Stream
	if cfg.WSEnabled {
		stream = kis.NewStream(broker, func(tick contracts.TickData) {
			watcher.HandleTick(context.Background(), tick)
		}, log)
	}

	app := &App{
		Cfg:        cfg,
		Logger:     log,
		DB:         db,
		Broker:     broker,
		Naver:      nv,
		LLM:        llm,
		Bot:        bot,
		Calendar:   calendar,
		Fanout:     collect.NewFanout(builtinCollectors(nv, broker), bot, log),
		Pipeline:   pipeline,
		PickRepo:   pickRepo,
		RAG:        rag,
		Tracker:    tracker,
		PosRepo:    posRepo,
		Positions:  positions,
		Journal:    journal,
		Principles: learning.NewPrinciples(db, log),
		Compressor: learning.NewCompressor(db, llm, log),
		Themes:     learning.NewThemes(db, log),
		Watcher:    watcher,
		Stream:     stream,
	}

	if cfg.Redis.Enabled {
		client, err := redis.New(cfg)
		if err != nil {
			log.WithError(err).Warn("Redis unavailable, mirror disabled")
		} else {
			app.Mirror = redis.NewCache(client, "kairos")
		}
	}

	app.registerBotCommands()
	return app, nil
}

// builtinCollectors registers the collectors this binary can serve itself:
// the Naver price snapshot plus the broker rank screens. The remaining
// slots stay nil until an external collector is plugged in.
func builtinCollectors(nv *naver.Client, broker *kis.Client) collect.Collectors {
	return collect.Collectors{
		Price: nv.CollectPriceData,
		VolumeSurge: func(ctx context.Context) ([]contracts.ScreenResult, error) {
			ranks, err := broker.GetVolumeRank(ctx, "J")
			if err != nil {
				return nil, err
			}
			return ranksToScreen(ranks, "거래량 급증"), nil
		},
		ClosingStrength: func(ctx context.Context) ([]contracts.ScreenResult, error) {
			ranks, err := broker.GetChangeRank(ctx, "J")
			if err != nil {
				return nil, err
			}
			return ranksToScreen(ranks, "등락률 상위"), nil
		},
	}
}

func ranksToScreen(ranks []contracts.RankEntry, label string) []contracts.ScreenResult {
	out := make([]contracts.ScreenResult, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, contracts.ScreenResult{
			Code:   r.Code,
			Name:   r.Name,
			Score:  r.ChangeRate,
			Detail: fmt.Sprintf("%s %+.2f%% (거래량 %d)", label, r.ChangeRate, r.CumVolume),
		})
	}
	return out
}

// Close releases the app's handles.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
}

// registerBotCommands binds the read-only slash commands. None of them
// may place orders or mutate state.
func (a *App) registerBotCommands() {
	a.Bot.RegisterCommand("/status", a.cmdStatus)
	a.Bot.RegisterCommand("/holdings", a.cmdHoldings)
	a.Bot.RegisterCommand("/principles", a.cmdPrinciples)
	a.Bot.RegisterCommand("/report", a.cmdReport)
	a.Bot.RegisterCommand("/evaluate", a.cmdEvaluate)
}

func (a *App) cmdStatus(ctx context.Context) (string, error) {
	open, err := a.PosRepo.OpenCount(ctx, string(a.Cfg.TradingMode))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "⚙️ <b>상태</b>\n")
	fmt.Fprintf(&b, "모드: %s / 자동매매: %v\n", a.Cfg.TradingMode, a.Cfg.AutoTradeEnabled)
	fmt.Fprintf(&b, "장세: %s / 감시 %d종목\n", orDash(string(watchlist.MarketEnv())), len(watchlist.Get()))
	fmt.Fprintf(&b, "보유 포지션: %d개", open)
	return b.String(), nil
}

func (a *App) cmdHoldings(ctx context.Context) (string, error) {
	bal, err := a.Broker.GetBalance(ctx)
	if err != nil {
		return "", err
	}
	if len(bal.Holdings) == 0 {
		return "보유 종목 없음", nil
	}

	var b strings.Builder
	b.WriteString("💼 <b>보유 종목</b>\n")
	for _, h := range bal.Holdings {
		fmt.Fprintf(&b, "%s(%s): %d주 @%d원 (%+.2f%%)\n", h.Name, h.Code, h.Qty, h.AvgPrice, h.ProfitPct)
	}
	fmt.Fprintf(&b, "예수금 %d원 / 평가 %d원 (%+.2f%%)", bal.AvailableCash, bal.TotalEval, bal.TotalProfitPct)
	return b.String(), nil
}

func (a *App) cmdPrinciples(ctx context.Context) (string, error) {
	principles, err := a.Principles.List(ctx)
	if err != nil {
		return "", err
	}
	if len(principles) == 0 {
		return "추출된 원칙 없음", nil
	}

	var b strings.Builder
	b.WriteString("📚 <b>매매 원칙</b>\n")
	for _, p := range principles {
		fmt.Fprintf(&b, "%s: 승률 %.1f%% (%d/%d, %s)\n",
			p.TriggerSource, p.WinRate, p.Wins, p.TotalTrades, p.Confidence)
		if p.PatternTags != "" {
			fmt.Fprintf(&b, "  태그: %s\n", p.PatternTags)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (a *App) cmdReport(ctx context.Context) (string, error) {
	stats, err := a.Tracker.GetWeeklyStats(ctx)
	if err != nil {
		return "", err
	}
	return scheduler.FormatWeeklyReport(stats), nil
}

// cmdEvaluate reviews today's picks against their realized alerts,
// with an LLM one-liner when available.
func (a *App) cmdEvaluate(ctx context.Context) (string, error) {
	today := market.DateKey(market.Now())
	picks, err := a.PickRepo.LoadPicks(ctx, today)
	if err != nil {
		return "", err
	}
	if len(picks) == 0 {
		return "오늘의 픽이 없습니다", nil
	}

	results, err := a.Tracker.RealizedResults(ctx, today)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🔎 <b>오늘의 픽 평가</b> (%s)\n", today)
	for _, pick := range picks {
		if r, ok := results[pick.StockCode]; ok {
			fmt.Fprintf(&b, "%d. %s: 최고 %+.2f%%\n", pick.Rank, pick.StockName, r.MaxReturn)
		} else {
			fmt.Fprintf(&b, "%d. %s: 알림 없음\n", pick.Rank, pick.StockName)
		}
	}

	if a.LLM.Available() {
		prompt := fmt.Sprintf(`오늘 픽의 결과를 한 문장으로 평가하라. JSON으로만 답하라: {"comment": "..."}

%s`, b.String())
		if answer, err := a.LLM.GenerateJSON(ctx, prompt); err == nil {
			var parsed struct {
				Comment string `json:"comment"`
			}
			if json.Unmarshal([]byte(answer), &parsed) == nil && parsed.Comment != "" {
				fmt.Fprintf(&b, "\n총평: %s", parsed.Comment)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
