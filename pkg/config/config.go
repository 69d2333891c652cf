package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// BinanceConfig holds exchange credentials and request tuning.
type BinanceConfig struct {
	APIKey         string
	APISecret      string
	Testnet        bool
	MaxRetries     int
	RequestTimeout time.Duration
	RateLimitDelay time.Duration
}

// TradingConfig bounds position sizing and bracket distances.
type TradingConfig struct {
	DefaultSymbol        string
	MaxPositionSize      float64
	RiskAmount           float64 // quote currency per entry
	StopLossPercentage   float64
	TakeProfitPercentage float64
}

// StrategyConfig tunes the moving-average crossover engine.
type StrategyConfig struct {
	ShortPeriod          int
	LongPeriod           int
	KlineInterval        string
	LoopInterval         time.Duration
	MinCrossoverInterval time.Duration
	RequireVolume        bool
	RequireTrend         bool
	RequireMomentum      bool
	TrendPeriod          int
}

// Config is the full environment-driven configuration.
type Config struct {
	Binance  BinanceConfig
	Trading  TradingConfig
	Strategy StrategyConfig

	APIPort   string
	JWTSecret string

	LogLevel  string
	LogFormat string
	LogFile   string
}

// ErrMissingCredentials aborts startup when the key pair is absent.
var ErrMissingCredentials = errors.New("config: BINANCE_API_KEY and BINANCE_API_SECRET are required")

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Binance: BinanceConfig{
			APIKey:         os.Getenv("BINANCE_API_KEY"),
			APISecret:      os.Getenv("BINANCE_API_SECRET"),
			Testnet:        getEnv("BINANCE_TESTNET", "false") == "true",
			MaxRetries:     getEnvInt("BINANCE_MAX_RETRIES", 3),
			RequestTimeout: getEnvDuration("BINANCE_REQUEST_TIMEOUT", 30*time.Second),
			RateLimitDelay: getEnvDuration("BINANCE_RATE_LIMIT_DELAY", 100*time.Millisecond),
		},
		Trading: TradingConfig{
			DefaultSymbol:        getEnv("DEFAULT_SYMBOL", "BTCUSDT"),
			MaxPositionSize:      getEnvFloat("MAX_POSITION_SIZE", 1000.0),
			RiskAmount:           getEnvFloat("RISK_AMOUNT", 100.0),
			StopLossPercentage:   getEnvFloat("STOP_LOSS_PERCENTAGE", 0.02),
			TakeProfitPercentage: getEnvFloat("TAKE_PROFIT_PERCENTAGE", 0.04),
		},
		Strategy: StrategyConfig{
			ShortPeriod:          getEnvInt("SHORT_MA_PERIOD", 10),
			LongPeriod:           getEnvInt("LONG_MA_PERIOD", 20),
			KlineInterval:        getEnv("KLINE_INTERVAL", "1m"),
			LoopInterval:         getEnvDuration("LOOP_INTERVAL", time.Second),
			MinCrossoverInterval: getEnvDuration("MIN_CROSSOVER_INTERVAL", 5*time.Minute),
			RequireVolume:        getEnv("REQUIRE_VOLUME_CONFIRMATION", "false") == "true",
			RequireTrend:         getEnv("REQUIRE_TREND_CONFIRMATION", "false") == "true",
			RequireMomentum:      getEnv("REQUIRE_MOMENTUM_CONFIRMATION", "false") == "true",
			TrendPeriod:          getEnvInt("TREND_CONFIRMATION_PERIOD", 50),
		},
		APIPort:   getEnv("API_PORT", "8080"),
		JWTSecret: getEnv("JWT_SECRET", "dev-secret"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
		LogFile:   getEnv("LOG_FILE", ""),
	}

	if cfg.Binance.APIKey == "" || cfg.Binance.APISecret == "" {
		return nil, ErrMissingCredentials
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
