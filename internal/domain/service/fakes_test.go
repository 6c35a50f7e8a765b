package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"spreadarb/internal/domain/model"
)

type placedOrder struct {
	Instrument string
	Side       model.Side
	Qty        decimal.Decimal
}

type fakeVenue struct {
	mu sync.Mutex

	name        string
	prices      map[string]decimal.Decimal
	balance     decimal.Decimal
	balanceErr  error
	leverageErr error
	failOn      map[string]error           // instrument|side
	partialOn   map[string]decimal.Decimal // instrument|side -> 部分成交数量

	orders   []placedOrder
	leverage []string
	balances int
	seq      int
}

func newFakeVenue(name string, balance float64) *fakeVenue {
	return &fakeVenue{
		name:      name,
		prices:    make(map[string]decimal.Decimal),
		balance:   decimal.NewFromFloat(balance),
		failOn:    make(map[string]error),
		partialOn: make(map[string]decimal.Decimal),
	}
}

func (v *fakeVenue) setPrice(instrument string, price float64) {
	v.mu.Lock()
	v.prices[instrument] = decimal.NewFromFloat(price)
	v.mu.Unlock()
}

func (v *fakeVenue) fail(instrument string, side model.Side, err error) {
	v.mu.Lock()
	v.failOn[instrument+"|"+string(side)] = err
	v.mu.Unlock()
}

// partial 该方向的订单只成交 executed，状态 PARTIALLY_FILLED
func (v *fakeVenue) partial(instrument string, side model.Side, executed string) {
	v.mu.Lock()
	v.partialOn[instrument+"|"+string(side)] = decimal.RequireFromString(executed)
	v.mu.Unlock()
}

func (v *fakeVenue) PlaceMarketOrder(_ context.Context, instrument string, side model.Side, qty decimal.Decimal) (model.Fill, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.orders = append(v.orders, placedOrder{Instrument: instrument, Side: side, Qty: qty})
	if err := v.failOn[instrument+"|"+string(side)]; err != nil {
		return model.Fill{}, err
	}
	v.seq++
	status := "FILLED"
	executed := qty
	if part, ok := v.partialOn[instrument+"|"+string(side)]; ok {
		executed, status = part, "PARTIALLY_FILLED"
	}
	return model.Fill{
		OrderID:     fmt.Sprintf("%s-%d", v.name, v.seq),
		Price:       v.prices[instrument],
		ExecutedQty: executed,
		Status:      status,
	}, nil
}

func (v *fakeVenue) GetBalance(context.Context, string) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances++
	if v.balanceErr != nil {
		return decimal.Zero, v.balanceErr
	}
	return v.balance, nil
}

func (v *fakeVenue) SetLeverage(_ context.Context, instrument string, _ decimal.Decimal) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.leverage = append(v.leverage, instrument)
	return v.leverageErr
}

func (v *fakeVenue) balanceCalls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances
}

func (v *fakeVenue) placed() []placedOrder {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]placedOrder(nil), v.orders...)
}

type fakeAudit struct {
	mu     sync.Mutex
	events []model.Event
}

func (a *fakeAudit) Record(_ context.Context, ev model.Event) error {
	a.mu.Lock()
	a.events = append(a.events, ev)
	a.mu.Unlock()
	return nil
}

func (a *fakeAudit) ofType(typ model.EventType) []model.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []model.Event
	for _, ev := range a.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

const (
	futVenue = "BINANCE"
	futInst  = "BTCUSDT_PERP"
	spotVen  = "OKX"
	spotInst = "BTC-USDT"
)

// harness: 合约腿在 BINANCE，现货腿在 OKX
type harness struct {
	cache   *PriceCache
	spreads *SpreadEngine
	ledger  *PositionLedger
	gate    *RiskGate
	orch    *Orchestrator
	audit   *fakeAudit
	fut     *fakeVenue
	spot    *fakeVenue
}

func newHarness(t *testing.T, maxPositions int) *harness {
	t.Helper()

	h := &harness{
		cache:  NewPriceCache(0),
		ledger: NewPositionLedger(),
		audit:  &fakeAudit{},
		fut:    newFakeVenue(futVenue, 10000),
		spot:   newFakeVenue(spotVen, 10000),
	}
	h.spreads = NewSpreadEngine(h.cache)

	venues := NewVenueRegistry()
	require.NoError(t, venues.Register(futVenue, h.fut))
	require.NoError(t, venues.Register(spotVen, h.spot))

	h.gate = NewRiskGate(RiskConfig{
		Leverage:       decimal.NewFromInt(1),
		MaxPositions:   maxPositions,
		FixedOrderSize: decimal.NewFromInt(100),
	}, venues, h.audit)
	h.orch = NewOrchestrator(h.ledger, h.gate, venues, h.audit)
	return h
}

// setPrices 同时更新缓存和模拟成交价
func (h *harness) setPrices(fut, spot float64) {
	h.cache.Update(futVenue, futInst, model.PriceMark, decimal.NewFromFloat(fut), h.cache.now())
	h.cache.Update(spotVen, spotInst, model.PriceSpot, decimal.NewFromFloat(spot), h.cache.now())
	h.fut.setPrice(futInst, fut)
	h.spot.setPrice(spotInst, spot)
}

func (h *harness) readingA(t *testing.T) model.SpreadReading {
	t.Helper()
	r, ok := h.spreads.SpreadA(futVenue, futInst, spotVen, spotInst)
	require.True(t, ok)
	return r
}

func candidateA(qty float64) Candidate {
	return Candidate{
		Strategy: "test-a",
		Scenario: model.ScenarioA,
		LegA:     model.Leg{Venue: futVenue, Instrument: futInst, Side: model.SideLong, Quantity: decimal.NewFromFloat(qty)},
		LegB:     model.Leg{Venue: spotVen, Instrument: spotInst, Side: model.SideShort, Quantity: decimal.NewFromFloat(qty)},
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
