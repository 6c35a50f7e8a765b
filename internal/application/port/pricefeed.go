package port

import (
	"context"

	"github.com/shopspring/decimal"

	"spreadarb/internal/domain/model"
)

type Tick struct {
	Venue      string          // 交易所 "BINANCE" "PAPER"
	Instrument string          // "BTCUSDT_PERP"
	Kind       model.PriceKind // SPOT / MARK
	PriceStr   string          // raw string
	Price      decimal.Decimal
	Ts         int64 // unix ms
}

type PriceFeed interface {
	Name() string
	Subscribe(ctx context.Context, instruments []string) (<-chan Tick, error)
}
