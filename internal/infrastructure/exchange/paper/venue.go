package paper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"spreadarb/internal/domain/model"
	"spreadarb/internal/domain/service"
)

var _ service.VenueClient = (*Venue)(nil)

// PriceSource 成交价来源，通常是价格缓存
type PriceSource interface {
	Get(venue, instrument string, kind model.PriceKind) (model.PriceSample, bool)
}

// Order 模拟成交记录
type Order struct {
	ID         string
	Instrument string
	Side       model.Side
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	At         time.Time
}

// Venue 模拟交易所，按缓存里的最新价立即全部成交，不真正下单
type Venue struct {
	name   string
	prices PriceSource

	mu       sync.Mutex
	balances map[string]decimal.Decimal
	leverage map[string]decimal.Decimal
	orders   []Order
	now      func() time.Time
}

func NewVenue(name string, prices PriceSource, balance decimal.Decimal, quoteAsset string) *Venue {
	v := &Venue{
		name:     strings.ToUpper(strings.TrimSpace(name)),
		prices:   prices,
		balances: map[string]decimal.Decimal{},
		leverage: map[string]decimal.Decimal{},
		now:      time.Now,
	}
	v.balances[strings.ToUpper(quoteAsset)] = balance
	return v
}

func (v *Venue) Name() string { return v.name }

// PlaceMarketOrder 合约优先取 MARK，现货优先取 SPOT，缺失时用另一种
func (v *Venue) PlaceMarketOrder(_ context.Context, instrument string, side model.Side, quantity decimal.Decimal) (model.Fill, error) {
	if quantity.Sign() <= 0 {
		return model.Fill{}, fmt.Errorf("%s: quantity must be positive, got %s", v.name, quantity)
	}
	price, ok := v.price(instrument)
	if !ok {
		return model.Fill{}, fmt.Errorf("%w: no price for %s on %s", model.ErrMissingPriceData, instrument, v.name)
	}

	o := Order{
		ID:         "paper-" + uuid.NewString(),
		Instrument: strings.ToUpper(instrument),
		Side:       side,
		Quantity:   quantity,
		Price:      price,
		At:         v.now(),
	}
	v.mu.Lock()
	v.orders = append(v.orders, o)
	v.mu.Unlock()

	log.Info().
		Str("venue", v.name).
		Str("instrument", o.Instrument).
		Str("side", side.OrderSide()).
		Str("quantity", quantity.String()).
		Str("price", price.String()).
		Str("order_id", o.ID).
		Msg("paper order filled")

	return model.Fill{OrderID: o.ID, Price: price, ExecutedQty: quantity, Status: "FILLED"}, nil
}

func (v *Venue) price(instrument string) (decimal.Decimal, bool) {
	if v.prices == nil {
		return decimal.Zero, false
	}
	kinds := []model.PriceKind{model.PriceSpot, model.PriceMark}
	if service.IsDerivative(instrument) {
		kinds = []model.PriceKind{model.PriceMark, model.PriceSpot}
	}
	for _, k := range kinds {
		if s, ok := v.prices.Get(v.name, instrument, k); ok && s.Price.Sign() > 0 {
			return s.Price, true
		}
	}
	return decimal.Zero, false
}

func (v *Venue) GetBalance(_ context.Context, asset string) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[strings.ToUpper(strings.TrimSpace(asset))], nil
}

// SetBalance 调整模拟余额
func (v *Venue) SetBalance(asset string, amount decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[strings.ToUpper(strings.TrimSpace(asset))] = amount
}

func (v *Venue) SetLeverage(_ context.Context, instrument string, leverage decimal.Decimal) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.leverage[strings.ToUpper(instrument)] = leverage
	return nil
}

// Leverage 最近一次设置的杠杆
func (v *Venue) Leverage(instrument string) (decimal.Decimal, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	l, ok := v.leverage[strings.ToUpper(instrument)]
	return l, ok
}

// Orders 成交记录快照
func (v *Venue) Orders() []Order {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Order, len(v.orders))
	copy(out, v.orders)
	return out
}
