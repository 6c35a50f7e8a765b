package engine

import (
	"context"
	"time"

	"spreadarb/internal/application/port"
	"spreadarb/internal/application/strategy"
	"spreadarb/internal/domain/model"
	"spreadarb/internal/domain/service"
)

// FeedBinding 一个行情源及其需要订阅的合约
type FeedBinding struct {
	Feed        port.PriceFeed
	Instruments []string
}

// Observer 运行指标
type Observer interface {
	PriceUpdated(venue string, kind model.PriceKind)
	Evaluated(strategy, outcome string)
	SetActivePositions(n int)
}

// PositionStore 持仓历史
type PositionStore interface {
	SavePosition(ctx context.Context, pos model.Position) error
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

type ServiceDeps struct {
	Feeds      []FeedBinding
	Cache      *service.PriceCache
	Ledger     *service.PositionLedger
	Strategies []strategy.Strategy

	Sink     port.Sink
	Repo     port.Repository // 最新价镜像，可为 nil
	History  PositionStore   // 可为 nil
	Observer Observer        // 可为 nil

	EvalInterval     time.Duration
	ReportEvery      time.Duration
	HistoryRetention time.Duration
	Live             bool // 控制台实时价差行
}
