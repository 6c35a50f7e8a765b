package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"spreadarb/internal/application/strategy"
	"spreadarb/internal/domain/model"
	"spreadarb/internal/domain/service"
)

const (
	VenueKindBinance = "binance"
	VenueKindPaper   = "paper"

	envPrefix = "SPREADARB_"
)

type Config struct {
	App struct {
		LogLevel              string `toml:"log_level" yaml:"log_level"`
		EvalIntervalMs        int    `toml:"eval_interval_ms" yaml:"eval_interval_ms"`
		ReportEveryMin        int    `toml:"report_every_min" yaml:"report_every_min"`
		MetricsAddr           string `toml:"metrics_addr" yaml:"metrics_addr"` // 为空不启动 /metrics
		DryRun                bool   `toml:"dry_run" yaml:"dry_run"`
		HistoryRetentionHours int    `toml:"history_retention_hours" yaml:"history_retention_hours"`
	} `toml:"app" yaml:"app"`

	Trading struct {
		Leverage       float64 `toml:"leverage" yaml:"leverage"`
		MaxPositions   int     `toml:"max_positions" yaml:"max_positions"`
		FixedOrderSize float64 `toml:"fixed_order_size" yaml:"fixed_order_size"`
		QuantityStep   float64 `toml:"quantity_step" yaml:"quantity_step"`       // 下单数量步长
		MaxPriceAgeMs  int     `toml:"max_price_age_ms" yaml:"max_price_age_ms"` // 0 不检查价格新鲜度
		QuoteAsset     string  `toml:"quote_asset" yaml:"quote_asset"`
	} `toml:"trading" yaml:"trading"`

	Strategies []StrategyConfig `toml:"strategies" yaml:"strategies"`

	Venues map[string]VenueConfig `toml:"venues" yaml:"venues"`

	SQLite struct {
		Enabled bool   `toml:"enabled" yaml:"enabled"`
		Path    string `toml:"path" yaml:"path"`
	} `toml:"sqlite" yaml:"sqlite"`

	Redis struct {
		Enabled      bool   `toml:"enabled" yaml:"enabled"`
		Addr         string `toml:"addr" yaml:"addr"`
		Password     string `toml:"password" yaml:"password"`
		DB           int    `toml:"db" yaml:"db"`
		Prefix       string `toml:"prefix" yaml:"prefix"`
		TTLSeconds   int    `toml:"ttl_seconds" yaml:"ttl_seconds"`
		EventStream  string `toml:"event_stream" yaml:"event_stream"`
		EventChannel string `toml:"event_channel" yaml:"event_channel"`
		StreamMaxLen int64  `toml:"stream_max_len" yaml:"stream_max_len"`
	} `toml:"redis" yaml:"redis"`

	Postgres struct {
		Enabled bool   `toml:"enabled" yaml:"enabled"`
		DSN     string `toml:"dsn" yaml:"dsn"`
	} `toml:"postgres" yaml:"postgres"`
}

type LegConfig struct {
	Venue      string `toml:"venue" yaml:"venue"`
	Instrument string `toml:"instrument" yaml:"instrument"`
}

type StrategyConfig struct {
	Name           string    `toml:"name" yaml:"name"`
	Scenario       string    `toml:"scenario" yaml:"scenario"`
	EntryThreshold float64   `toml:"entry_threshold" yaml:"entry_threshold"`
	ExitThreshold  float64   `toml:"exit_threshold" yaml:"exit_threshold"`
	Quantity       float64   `toml:"quantity" yaml:"quantity"`           // 0 按 fixed_order_size 换算
	QuantityStep   float64   `toml:"quantity_step" yaml:"quantity_step"` // 0 使用 trading.quantity_step
	LegA           LegConfig `toml:"leg_a" yaml:"leg_a"`
	LegB           LegConfig `toml:"leg_b" yaml:"leg_b"`
}

// VenueConfig 单个交易所账户; futures=true 表示 U 本位合约账户，否则为现货账户
// 凭证只从环境变量读取
type VenueConfig struct {
	Kind         string  `toml:"kind" yaml:"kind"`
	Futures      bool    `toml:"futures" yaml:"futures"`
	RestURL      string  `toml:"rest_url" yaml:"rest_url"`
	WsURL        string  `toml:"ws_url" yaml:"ws_url"` // paper 账户可借用公开行情
	RatePerSec   float64 `toml:"rate_per_sec" yaml:"rate_per_sec"`
	Burst        int     `toml:"burst" yaml:"burst"`
	TimeoutMs    int     `toml:"timeout_ms" yaml:"timeout_ms"`
	RecvWindowMs int     `toml:"recv_window_ms" yaml:"recv_window_ms"`
	PaperBalance float64 `toml:"paper_balance" yaml:"paper_balance"`

	APIKey    string `toml:"-" yaml:"-"`
	APISecret string `toml:"-" yaml:"-"`
}

// Override 在默认值之前作用于解析结果，用于命令行覆盖
type Override func(*Config)

// WithDryRun 命令行 -dry-run
func WithDryRun(on bool) Override {
	return func(c *Config) {
		if on {
			c.App.DryRun = true
		}
	}
}

// Load 读取 .toml 或 .yml/.yaml 配置，并从 .env / 环境变量补充交易所凭证
func Load(path string, overrides ...Override) (*Config, error) {
	var cfg Config
	if err := decodeFile(path, &cfg); err != nil {
		return nil, err
	}
	if err := loadDotEnv(path); err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(&cfg)
	}
	applyDefaults(&cfg)
	applyCredentials(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		return nil
	default:
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		return nil
	}
}

// loadDotEnv 依次尝试配置文件同目录和当前目录的 .env，不覆盖已有环境变量
func loadDotEnv(path string) error {
	candidates := []string{filepath.Join(filepath.Dir(path), ".env"), ".env"}
	seen := map[string]struct{}{}
	for _, p := range candidates {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.App.LogLevel) == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.EvalIntervalMs <= 0 {
		cfg.App.EvalIntervalMs = 1000
	}
	if cfg.App.ReportEveryMin <= 0 {
		cfg.App.ReportEveryMin = 5
	}
	if cfg.App.HistoryRetentionHours <= 0 {
		cfg.App.HistoryRetentionHours = 24
	}

	if cfg.Trading.Leverage <= 0 {
		cfg.Trading.Leverage = 1
	}
	if cfg.Trading.MaxPositions <= 0 {
		cfg.Trading.MaxPositions = 1
	}
	if cfg.Trading.FixedOrderSize <= 0 {
		cfg.Trading.FixedOrderSize = 10
	}
	if cfg.Trading.QuantityStep <= 0 {
		cfg.Trading.QuantityStep = 0.001
	}
	cfg.Trading.QuoteAsset = strings.ToUpper(strings.TrimSpace(cfg.Trading.QuoteAsset))
	if cfg.Trading.QuoteAsset == "" {
		cfg.Trading.QuoteAsset = "USDT"
	}

	venues := make(map[string]VenueConfig, len(cfg.Venues))
	for name, v := range cfg.Venues {
		v.Kind = strings.ToLower(strings.TrimSpace(v.Kind))
		if v.Kind == "" {
			v.Kind = VenueKindBinance
		}
		if v.Kind == VenueKindBinance {
			switch {
			case v.Futures:
				v.RestURL = withDefault(v.RestURL, "https://fapi.binance.com")
				v.WsURL = withDefault(v.WsURL, "wss://fstream.binance.com")
			default:
				v.RestURL = withDefault(v.RestURL, "https://api.binance.com")
				v.WsURL = withDefault(v.WsURL, "wss://stream.binance.com:9443")
			}
		}
		if v.RatePerSec <= 0 {
			v.RatePerSec = 10
		}
		if v.Burst <= 0 {
			v.Burst = 5
		}
		if v.TimeoutMs <= 0 {
			v.TimeoutMs = 5000
		}
		if v.RecvWindowMs <= 0 {
			v.RecvWindowMs = 5000
		}
		if v.PaperBalance <= 0 {
			v.PaperBalance = 10000
		}
		venues[normalizeName(name)] = v
	}
	cfg.Venues = venues

	for i := range cfg.Strategies {
		s := &cfg.Strategies[i]
		s.Name = strings.TrimSpace(s.Name)
		s.Scenario = strings.ToUpper(strings.TrimSpace(s.Scenario))
		s.LegA = normalizeLeg(s.LegA)
		s.LegB = normalizeLeg(s.LegB)
	}

	if cfg.SQLite.Enabled && cfg.SQLite.Path == "" {
		cfg.SQLite.Path = "data/spreadarb.db"
	}
	if cfg.Redis.Enabled {
		if cfg.Redis.Addr == "" {
			cfg.Redis.Addr = "127.0.0.1:6379"
		}
		if cfg.Redis.Prefix == "" {
			cfg.Redis.Prefix = "spreadarb"
		}
		if cfg.Redis.TTLSeconds <= 0 {
			cfg.Redis.TTLSeconds = 60
		}
	}
}

// applyCredentials SPREADARB_<VENUE>_API_KEY / SPREADARB_<VENUE>_API_SECRET
func applyCredentials(cfg *Config) {
	for name, v := range cfg.Venues {
		key, secret := CredentialEnv(name)
		v.APIKey = strings.TrimSpace(os.Getenv(key))
		v.APISecret = strings.TrimSpace(os.Getenv(secret))
		cfg.Venues[name] = v
	}
}

// CredentialEnv 交易所凭证对应的环境变量名
func CredentialEnv(venue string) (key, secret string) {
	base := envPrefix + envName(venue)
	return base + "_API_KEY", base + "_API_SECRET"
}

func validate(cfg *Config) error {
	if len(cfg.Strategies) == 0 {
		return errors.New("strategies is empty")
	}
	if len(cfg.Venues) == 0 {
		return errors.New("venues is empty")
	}

	for _, name := range cfg.VenueNames() {
		v := cfg.Venues[name]
		switch v.Kind {
		case VenueKindBinance:
			if cfg.App.DryRun {
				continue
			}
			if v.APIKey == "" || v.APISecret == "" {
				key, secret := CredentialEnv(name)
				return fmt.Errorf("venues.%s: %s / %s not set", strings.ToLower(name), key, secret)
			}
		case VenueKindPaper:
		default:
			return fmt.Errorf("venues.%s: unknown kind %q", strings.ToLower(name), v.Kind)
		}
	}

	names := map[string]struct{}{}
	for i, s := range cfg.Strategies {
		if s.Name == "" {
			return fmt.Errorf("strategies[%d]: name is empty", i)
		}
		if _, ok := names[s.Name]; ok {
			return fmt.Errorf("strategies[%d]: duplicate name %q", i, s.Name)
		}
		names[s.Name] = struct{}{}

		if _, ok := model.ParseScenario(s.Scenario); !ok {
			return fmt.Errorf("strategies.%s: unknown scenario %q", s.Name, s.Scenario)
		}
		for _, leg := range []LegConfig{s.LegA, s.LegB} {
			if leg.Venue == "" || leg.Instrument == "" {
				return fmt.Errorf("strategies.%s: leg venue and instrument are required", s.Name)
			}
			if _, ok := cfg.Venues[leg.Venue]; !ok {
				return fmt.Errorf("strategies.%s: venue %s not configured", s.Name, leg.Venue)
			}
		}
		if s.EntryThreshold < 0 || s.ExitThreshold < 0 {
			return fmt.Errorf("strategies.%s: thresholds must be >= 0", s.Name)
		}
	}

	if cfg.Postgres.Enabled && strings.TrimSpace(cfg.Postgres.DSN) == "" {
		return errors.New("postgres.dsn empty but enabled")
	}
	return nil
}

// StrategyConfigs 转换为策略层配置
func (c *Config) StrategyConfigs() ([]strategy.Config, error) {
	out := make([]strategy.Config, 0, len(c.Strategies))
	for _, s := range c.Strategies {
		sc, ok := model.ParseScenario(s.Scenario)
		if !ok {
			return nil, fmt.Errorf("strategies.%s: unknown scenario %q", s.Name, s.Scenario)
		}
		step := s.QuantityStep
		if step <= 0 {
			step = c.Trading.QuantityStep
		}
		out = append(out, strategy.Config{
			Name:           s.Name,
			Scenario:       sc,
			EntryThreshold: decimal.NewFromFloat(s.EntryThreshold),
			ExitThreshold:  decimal.NewFromFloat(s.ExitThreshold),
			Quantity:       decimal.NewFromFloat(s.Quantity),
			QuantityStep:   decimal.NewFromFloat(step),
			LegA:           strategy.LegConfig{Venue: s.LegA.Venue, Instrument: s.LegA.Instrument},
			LegB:           strategy.LegConfig{Venue: s.LegB.Venue, Instrument: s.LegB.Instrument},
		})
	}
	return out, nil
}

// RiskConfig 转换为风控参数
func (c *Config) RiskConfig() service.RiskConfig {
	return service.RiskConfig{
		Leverage:       decimal.NewFromFloat(c.Trading.Leverage),
		MaxPositions:   c.Trading.MaxPositions,
		FixedOrderSize: decimal.NewFromFloat(c.Trading.FixedOrderSize),
		QuoteAsset:     c.Trading.QuoteAsset,
	}
}

// Instruments 按交易所汇总策略用到的合约，用于行情订阅
func (c *Config) Instruments() map[string][]string {
	set := map[string]map[string]struct{}{}
	add := func(leg LegConfig) {
		if set[leg.Venue] == nil {
			set[leg.Venue] = map[string]struct{}{}
		}
		set[leg.Venue][leg.Instrument] = struct{}{}
	}
	for _, s := range c.Strategies {
		add(s.LegA)
		add(s.LegB)
	}

	out := make(map[string][]string, len(set))
	for venue, insts := range set {
		list := make([]string, 0, len(insts))
		for inst := range insts {
			list = append(list, inst)
		}
		sort.Strings(list)
		out[venue] = list
	}
	return out
}

// VenueNames 已配置的交易所，排序后返回
func (c *Config) VenueNames() []string {
	out := make([]string, 0, len(c.Venues))
	for name := range c.Venues {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (c *Config) EvalInterval() time.Duration {
	return time.Duration(c.App.EvalIntervalMs) * time.Millisecond
}

func (c *Config) ReportEvery() time.Duration {
	return time.Duration(c.App.ReportEveryMin) * time.Minute
}

func (c *Config) MaxPriceAge() time.Duration {
	return time.Duration(c.Trading.MaxPriceAgeMs) * time.Millisecond
}

func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.App.HistoryRetentionHours) * time.Hour
}

func (v VenueConfig) Timeout() time.Duration {
	return time.Duration(v.TimeoutMs) * time.Millisecond
}

func (v VenueConfig) RecvWindow() time.Duration {
	return time.Duration(v.RecvWindowMs) * time.Millisecond
}

func normalizeLeg(l LegConfig) LegConfig {
	return LegConfig{
		Venue:      normalizeName(l.Venue),
		Instrument: strings.ToUpper(strings.TrimSpace(l.Instrument)),
	}
}

func withDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

func normalizeName(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func envName(venue string) string {
	var b strings.Builder
	for _, r := range normalizeName(venue) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
