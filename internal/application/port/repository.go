package port

import (
	"context"
	"time"

	"spreadarb/internal/domain/model"
)

// Repository 审计事件与最新价格的持久化
type Repository interface {
	Record(ctx context.Context, ev model.Event) error
	UpsertLatestPrice(ctx context.Context, s model.PriceSample) error
	Close() error
}

// TradeHistory 本地交易历史查询
type TradeHistory interface {
	Repository

	SavePosition(ctx context.Context, pos model.Position) error
	ListPositions(ctx context.Context, limit int) ([]model.Position, error)
	PositionEvents(ctx context.Context, positionID string) ([]model.Event, error)
	RecentEvents(ctx context.Context, limit int) ([]model.Event, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}
