package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// TradingMode selects the broker environment.
type TradingMode string

const (
	ModeVTS  TradingMode = "VTS"  // 모의투자
	ModeReal TradingMode = "REAL" // 실전투자
)

// Config holds all configuration for the application
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	Env string // development, staging, production

	// Persistence
	DBPath string

	// Trading
	TradingMode         TradingMode
	AutoTradeEnabled    bool
	RealConfirmEnabled  bool
	RealConfirmDelaySec int
	BuyAmountKRW        int64
	DailyLossLimitPct   float64
	PositionMaxBull     int
	PositionMaxNeutral  int
	PositionMaxBear     int

	// Exit thresholds (percent)
	TakeProfit1 float64
	TakeProfit2 float64
	StopLoss    float64

	// Intraday watcher thresholds
	PollIntervalSec     int
	PriceDeltaMin       float64
	VolumeDeltaMin      float64
	ConfirmCandles      int
	MinChangeRate       float64
	OrderbookBidAskGood float64
	OrderbookBidAskMin  float64
	OrderbookTop3Min    float64
	WSWatchlistMax      int
	WSEnabled           bool

	// External APIs
	KIS      KISConfig
	Telegram TelegramConfig
	Gemini   GeminiConfig
	Naver    NaverConfig

	// Redis (optional intraday price mirror)
	Redis RedisConfig

	// Ops API
	APIEnabled bool
	APIPort    string

	// Logging
	LogLevel  string
	LogFormat string
}

// KISConfig holds KIS (한국투자증권) API configuration.
// Live and paper credentials are independent; each keeps its own token.
type KISConfig struct {
	AppKey    string
	AppSecret string
	AccountNo string
	BaseURL   string

	VTSAppKey    string
	VTSAppSecret string
	VTSAccountNo string
	VTSBaseURL   string
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	Token  string
	ChatID string
}

// GeminiConfig holds Google AI configuration (optional; LLM features
// degrade gracefully when the key is absent)
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Models  []string
}

// NaverConfig holds Naver Finance configuration
type NaverConfig struct {
	BaseURL string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Env:    getEnv("ENV", "development"),
		DBPath: getEnv("DB_PATH", "kairos.db"),

		TradingMode:         TradingMode(getEnv("TRADING_MODE", string(ModeVTS))),
		AutoTradeEnabled:    getEnvAsBool("AUTO_TRADE_ENABLED", false),
		RealConfirmEnabled:  getEnvAsBool("REAL_MODE_CONFIRM_ENABLED", true),
		RealConfirmDelaySec: getEnvAsInt("REAL_MODE_CONFIRM_DELAY_SEC", 300),
		BuyAmountKRW:        getEnvAsInt64("BUY_AMOUNT_KRW", 500_000),
		DailyLossLimitPct:   getEnvAsFloat("DAILY_LOSS_LIMIT", -5.0),
		PositionMaxBull:     getEnvAsInt("POSITION_MAX_BULL", 5),
		PositionMaxNeutral:  getEnvAsInt("POSITION_MAX_NEUTRAL", 3),
		PositionMaxBear:     getEnvAsInt("POSITION_MAX_BEAR", 2),

		TakeProfit1: getEnvAsFloat("TAKE_PROFIT_1", 5.0),
		TakeProfit2: getEnvAsFloat("TAKE_PROFIT_2", 10.0),
		StopLoss:    getEnvAsFloat("STOP_LOSS", -3.0),

		PollIntervalSec:     getEnvAsInt("POLL_INTERVAL_SEC", 20),
		PriceDeltaMin:       getEnvAsFloat("PRICE_DELTA_MIN", 1.0),
		VolumeDeltaMin:      getEnvAsFloat("VOLUME_DELTA_MIN", 30.0),
		ConfirmCandles:      getEnvAsInt("CONFIRM_CANDLES", 2),
		MinChangeRate:       getEnvAsFloat("MIN_CHANGE_RATE", 3.0),
		OrderbookBidAskGood: getEnvAsFloat("ORDERBOOK_BID_ASK_GOOD", 1.5),
		OrderbookBidAskMin:  getEnvAsFloat("ORDERBOOK_BID_ASK_MIN", 1.1),
		OrderbookTop3Min:    getEnvAsFloat("ORDERBOOK_TOP3_RATIO_MIN", 0.5),
		WSWatchlistMax:      getEnvAsInt("WS_WATCHLIST_MAX", 41),
		WSEnabled:           getEnvAsBool("WS_ENABLED", false),

		KIS: KISConfig{
			AppKey:    getEnv("KIS_APP_KEY", ""),
			AppSecret: getEnv("KIS_APP_SECRET", ""),
			AccountNo: getEnv("KIS_ACCOUNT_NO", ""),
			BaseURL:   getEnv("KIS_BASE_URL", "https://openapi.koreainvestment.com:9443"),

			VTSAppKey:    getEnv("KIS_VTS_APP_KEY", ""),
			VTSAppSecret: getEnv("KIS_VTS_APP_SECRET", ""),
			VTSAccountNo: getEnv("KIS_VTS_ACCOUNT_NO", ""),
			VTSBaseURL:   getEnv("KIS_VTS_BASE_URL", "https://openapivts.koreainvestment.com:29443"),
		},

		Telegram: TelegramConfig{
			Token:  getEnv("TELEGRAM_TOKEN", ""),
			ChatID: getEnv("TELEGRAM_CHAT_ID", ""),
		},

		Gemini: GeminiConfig{
			APIKey:  getEnv("GOOGLE_AI_API_KEY", ""),
			BaseURL: getEnv("GOOGLE_AI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
			Models: []string{
				getEnv("GEMINI_MODEL_PRIMARY", "gemini-2.5-flash"),
				getEnv("GEMINI_MODEL_FALLBACK_1", "gemini-2.0-flash"),
				getEnv("GEMINI_MODEL_FALLBACK_2", "gemini-1.5-flash"),
			},
		},

		Naver: NaverConfig{
			BaseURL: getEnv("NAVER_BASE_URL", "https://finance.naver.com"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		APIEnabled: getEnvAsBool("API_ENABLED", false),
		APIPort:    getEnv("API_PORT", "8089"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH is required")
	}

	if c.TradingMode != ModeVTS && c.TradingMode != ModeReal {
		return fmt.Errorf("TRADING_MODE must be one of: VTS, REAL")
	}

	// Live trading needs live credentials; paper mode can run bare for
	// collection-only workloads.
	if c.TradingMode == ModeReal {
		if c.KIS.AppKey == "" || c.KIS.AppSecret == "" || c.KIS.AccountNo == "" {
			return fmt.Errorf("KIS_APP_KEY, KIS_APP_SECRET, KIS_ACCOUNT_NO are required in REAL mode")
		}
		if c.Telegram.Token == "" || c.Telegram.ChatID == "" {
			return fmt.Errorf("TELEGRAM_TOKEN and TELEGRAM_CHAT_ID are required in REAL mode")
		}
	}

	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	return nil
}

// RealConfirmDelay returns the live-mode arming delay as a duration.
func (c *Config) RealConfirmDelay() time.Duration {
	return time.Duration(c.RealConfirmDelaySec) * time.Second
}

// PollInterval returns the intraday poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
