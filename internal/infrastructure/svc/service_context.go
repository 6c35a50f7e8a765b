package svc

import (
	"context"
	"fmt"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"spreadarb/internal/application/port"
	"spreadarb/internal/application/strategy"
	"spreadarb/internal/application/usecase/engine"
	"spreadarb/internal/domain/service"
	"spreadarb/internal/infrastructure/config"
	"spreadarb/internal/infrastructure/exchange"
	"spreadarb/internal/infrastructure/exchange/binance"
	"spreadarb/internal/infrastructure/exchange/paper"
	"spreadarb/internal/infrastructure/metrics"
	"spreadarb/internal/infrastructure/storage/composite"
	pgrepo "spreadarb/internal/infrastructure/storage/postgres"
	redisrepo "spreadarb/internal/infrastructure/storage/redis"
	sqliterepo "spreadarb/internal/infrastructure/storage/sqlite"
	"spreadarb/internal/interfaces/console"
)

type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config

	// 基础设施
	redisClient *redisclient.Client
	sqliteRepo  *sqliterepo.Repo
	repo        *composite.Repo
	metrics     *metrics.Metrics
	metricsSrv  *metrics.Server

	// 输出端口
	Sink port.Sink

	// 领域组件
	cache      *service.PriceCache
	venues     *service.VenueRegistry
	ledger     *service.PositionLedger
	gate       *service.RiskGate
	orch       *service.Orchestrator
	strategies []strategy.Strategy
	feeds      []engine.FeedBinding

	closerChain []func() error
}

// New 创建并初始化 ServiceContext，按依赖顺序初始化全部组件
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	sc := &ServiceContext{
		Ctx:         ctx,
		Config:      cfg,
		Sink:        console.NewSink(),
		metrics:     metrics.New(),
		closerChain: make([]func() error, 0),
	}
	if err := sc.initializeComponents(); err != nil {
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

func (sc *ServiceContext) initializeComponents() error {
	// 0. 存储
	if err := sc.initializeStorage(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInitFailed, err)
	}

	// 1. 价格缓存与交易所
	sc.cache = service.NewPriceCache(sc.Config.MaxPriceAge())
	if err := sc.initializeVenues(); err != nil {
		return err
	}

	// 2. 账本 / 风控 / 下单编排，审计事件先计数再落库
	audit := sc.metrics.WrapAudit(sc.repo)
	sc.ledger = service.NewPositionLedger()
	sc.gate = service.NewRiskGate(sc.Config.RiskConfig(), sc.venues, audit)
	sc.orch = service.NewOrchestrator(sc.ledger, sc.gate, sc.venues, audit)

	// 3. 策略
	if err := sc.initializeStrategies(); err != nil {
		return err
	}

	// 4. 行情
	sc.feeds = sc.buildFeeds()
	if len(sc.feeds) == 0 {
		return ErrNoFeedsEnabled
	}

	// 5. 指标
	if addr := sc.Config.App.MetricsAddr; addr != "" {
		sc.metricsSrv = metrics.NewServer(addr, sc.metrics)
		sc.metricsSrv.Start()
		sc.closerChain = append(sc.closerChain, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return sc.metricsSrv.Stop(ctx)
		})
	}

	log.Info().
		Int("venues", len(sc.venues.Names())).
		Int("strategies", len(sc.strategies)).
		Int("feeds", len(sc.feeds)).
		Bool("dry_run", sc.Config.App.DryRun).
		Msg("✓ All components initialized")
	return nil
}

// initializeStorage Redis / SQLite / Postgres 按配置启用，统一挂到 composite 下
func (sc *ServiceContext) initializeStorage() error {
	var repos []port.Repository

	if sc.Config.Redis.Enabled {
		r, err := sc.initRedis()
		if err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
		repos = append(repos, r)
	}

	if sc.Config.SQLite.Enabled {
		r, err := sc.initSQLite()
		if err != nil {
			return fmt.Errorf("sqlite initialization failed: %w", err)
		}
		repos = append(repos, r)
	}

	if sc.Config.Postgres.Enabled {
		r, err := pgrepo.New(sc.Config.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("postgres initialization failed: %w", err)
		}
		sc.closerChain = append(sc.closerChain, func() error {
			log.Info().Msg("closing postgres connection")
			return r.Close()
		})
		repos = append(repos, r)
		log.Info().Msg("✓ Postgres initialized")
	}

	sc.repo = composite.New(repos...)
	return nil
}

func (sc *ServiceContext) initRedis() (*redisrepo.Repo, error) {
	c := sc.Config.Redis
	rdb := redisclient.NewClient(&redisclient.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	})

	ctx, cancel := context.WithTimeout(sc.Ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	sc.redisClient = rdb
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})

	log.Info().Str("addr", c.Addr).Int("db", c.DB).Msg("✓ Redis initialized")
	return redisrepo.New(rdb, c.Prefix, time.Duration(c.TTLSeconds)*time.Second, c.EventStream, c.EventChannel, c.StreamMaxLen), nil
}

func (sc *ServiceContext) initSQLite() (*sqliterepo.Repo, error) {
	repo, err := sqliterepo.New(sc.Config.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite repo creation failed: %w", err)
	}
	sc.sqliteRepo = repo
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing sqlite connection")
		return repo.Close()
	})
	log.Info().Str("path", sc.Config.SQLite.Path).Msg("✓ SQLite initialized")
	return repo, nil
}

// initializeVenues dry-run 时所有交易所替换为模拟账户
func (sc *ServiceContext) initializeVenues() error {
	sc.venues = service.NewVenueRegistry()
	quote := sc.Config.Trading.QuoteAsset

	for _, name := range sc.Config.VenueNames() {
		vc := sc.Config.Venues[name]

		var client service.VenueClient
		switch {
		case sc.Config.App.DryRun || vc.Kind == config.VenueKindPaper:
			client = paper.NewVenue(name, sc.cache, decimal.NewFromFloat(vc.PaperBalance), quote)
			log.Info().Str("venue", name).Float64("balance", vc.PaperBalance).Msg("✓ Paper venue initialized")
		default:
			api := binance.NewAPIClient(binance.ClientOptions{
				BaseURL:    vc.RestURL,
				APIKey:     vc.APIKey,
				APISecret:  vc.APISecret,
				Timeout:    vc.Timeout(),
				RecvWindow: vc.RecvWindow(),
				RatePerSec: vc.RatePerSec,
				Burst:      vc.Burst,
			})
			client = binance.NewVenue(name, vc.Futures, api)
			log.Info().Str("venue", name).Bool("futures", vc.Futures).Str("rest", vc.RestURL).Msg("✓ Binance venue initialized")
		}

		if err := sc.venues.Register(name, client); err != nil {
			return err
		}
	}
	return nil
}

func (sc *ServiceContext) initializeStrategies() error {
	cfgs, err := sc.Config.StrategyConfigs()
	if err != nil {
		return err
	}
	deps := strategy.Deps{
		Spreads:      service.NewSpreadEngine(sc.cache),
		Orchestrator: sc.orch,
		Gate:         sc.gate,
		Symbols:      exchange.NewSymbolNormalizer(),
	}
	for _, c := range cfgs {
		st, err := strategy.New(c, deps)
		if err != nil {
			return err
		}
		sc.strategies = append(sc.strategies, st)
		log.Info().
			Str("strategy", c.Name).
			Str("scenario", string(c.Scenario)).
			Str("leg_a", c.LegA.Venue+":"+c.LegA.Instrument).
			Str("leg_b", c.LegB.Venue+":"+c.LegB.Instrument).
			Msg("✓ Strategy loaded")
	}
	return nil
}

// buildFeeds 每个配置了 ws_url 的交易所一条公开行情连接
func (sc *ServiceContext) buildFeeds() []engine.FeedBinding {
	var feeds []engine.FeedBinding
	for venue, instruments := range sc.Config.Instruments() {
		vc, ok := sc.Config.Venues[venue]
		if !ok || vc.WsURL == "" {
			log.Warn().Str("venue", venue).Msg("no ws_url, prices for this venue will never arrive")
			continue
		}
		feeds = append(feeds, engine.FeedBinding{
			Feed:        binance.NewTickerFeed(venue, vc.WsURL, vc.Futures),
			Instruments: instruments,
		})
	}
	return feeds
}

// BuildEngineServiceDeps 组装引擎依赖
func (sc *ServiceContext) BuildEngineServiceDeps() engine.ServiceDeps {
	deps := engine.ServiceDeps{
		Feeds:            sc.feeds,
		Cache:            sc.cache,
		Ledger:           sc.ledger,
		Strategies:       sc.strategies,
		Sink:             sc.Sink,
		Repo:             sc.repo,
		Observer:         sc.metrics,
		EvalInterval:     sc.Config.EvalInterval(),
		ReportEvery:      sc.Config.ReportEvery(),
		HistoryRetention: sc.Config.HistoryRetention(),
		Live:             true,
	}
	if sc.sqliteRepo != nil {
		deps.History = sc.sqliteRepo
	}
	return deps
}

// GetSQLiteRepo 本地交易历史，未启用时为 nil
func (sc *ServiceContext) GetSQLiteRepo() *sqliterepo.Repo {
	return sc.sqliteRepo
}

// Close 按初始化的相反顺序释放资源
func (sc *ServiceContext) Close() error {
	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil {
			log.Error().Err(err).Msg("error closing resource")
		}
	}
	sc.closerChain = nil
	return nil
}
