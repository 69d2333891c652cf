package strategy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"cryptobot/pkg/config"
	"cryptobot/pkg/logger"
)

// FileConfig is one strategy entry in the YAML config.
type FileConfig struct {
	Type                 string `yaml:"type"`
	Symbol               string `yaml:"symbol"`
	Interval             string `yaml:"interval"`
	ShortPeriod          int    `yaml:"short_period"`
	LongPeriod           int    `yaml:"long_period"`
	LoopInterval         string `yaml:"loop_interval"`
	MinCrossoverInterval string `yaml:"min_crossover_interval"`
	RequireVolume        bool   `yaml:"require_volume"`
	RequireTrend         bool   `yaml:"require_trend"`
	RequireMomentum      bool   `yaml:"require_momentum"`
	TrendPeriod          int    `yaml:"trend_period"`
	Enabled              bool   `yaml:"enabled"`
}

type configFile struct {
	Strategies []FileConfig `yaml:"strategies"`
}

// LoadConfigs reads strategy definitions from a YAML file.
func LoadConfigs(path string) ([]FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file configFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return file.Strategies, nil
}

// Merge overlays the file entry onto the environment defaults; zero
// values in the file keep the defaults.
func (fc FileConfig) Merge(base config.StrategyConfig) config.StrategyConfig {
	out := base
	if fc.ShortPeriod > 0 {
		out.ShortPeriod = fc.ShortPeriod
	}
	if fc.LongPeriod > 0 {
		out.LongPeriod = fc.LongPeriod
	}
	if fc.Interval != "" {
		out.KlineInterval = fc.Interval
	}
	if d, err := time.ParseDuration(fc.LoopInterval); err == nil && d > 0 {
		out.LoopInterval = d
	}
	if d, err := time.ParseDuration(fc.MinCrossoverInterval); err == nil && d > 0 {
		out.MinCrossoverInterval = d
	}
	if fc.TrendPeriod > 0 {
		out.TrendPeriod = fc.TrendPeriod
	}
	out.RequireVolume = fc.RequireVolume
	out.RequireTrend = fc.RequireTrend
	out.RequireMomentum = fc.RequireMomentum
	return out
}

// Build constructs the strategy the entry describes.
func (fc FileConfig) Build(market MarketData, trader Trader, base config.StrategyConfig, tradingCfg config.TradingConfig, log *logger.Logger) (Strategy, error) {
	switch fc.Type {
	case "ma_cross", "":
		return NewMACross(fc.Symbol, market, trader, fc.Merge(base), tradingCfg, log), nil
	default:
		return nil, fmt.Errorf("unknown strategy type %q", fc.Type)
	}
}
