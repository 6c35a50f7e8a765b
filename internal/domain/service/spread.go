package service

import (
	"time"

	"github.com/shopspring/decimal"

	"spreadarb/internal/domain/model"
)

// SpreadEngine 基于价格缓存计算两种场景的价差
type SpreadEngine struct {
	cache *PriceCache
	now   func() time.Time
}

func NewSpreadEngine(cache *PriceCache) *SpreadEngine {
	return &SpreadEngine{cache: cache, now: time.Now}
}

// SpreadA 现货 vs 永续: (mark - spot) / spot
// 任一价格缺失或现货价格 <= 0 时返回 ok=false
func (e *SpreadEngine) SpreadA(futVenue, futInstrument, spotVenue, spotInstrument string) (model.SpreadReading, bool) {
	mark, ok := e.cache.Get(futVenue, futInstrument, model.PriceMark)
	if !ok {
		return model.SpreadReading{}, false
	}
	spot, ok := e.cache.Get(spotVenue, spotInstrument, model.PriceSpot)
	if !ok || spot.Price.Sign() <= 0 {
		return model.SpreadReading{}, false
	}

	return model.SpreadReading{
		Scenario:   model.ScenarioA,
		LegA:       model.LegRef{Venue: mark.Venue, Instrument: mark.Instrument},
		LegB:       model.LegRef{Venue: spot.Venue, Instrument: spot.Instrument},
		PriceA:     mark.Price,
		PriceB:     spot.Price,
		Value:      mark.Price.Sub(spot.Price).Div(spot.Price),
		ComputedAt: e.now(),
	}, true
}

// SpreadB 永续 vs 永续: (expensive - cheap) / cheap，结果恒 >= 0
// LegA 为低价腿，LegB 为高价腿；价格相等时 X 视为低价腿，读数为 0
func (e *SpreadEngine) SpreadB(venueX, instrumentX, venueY, instrumentY string) (model.SpreadReading, bool) {
	x, ok := e.cache.Get(venueX, instrumentX, model.PriceMark)
	if !ok {
		return model.SpreadReading{}, false
	}
	y, ok := e.cache.Get(venueY, instrumentY, model.PriceMark)
	if !ok {
		return model.SpreadReading{}, false
	}

	cheap, expensive := x, y
	if y.Price.LessThan(x.Price) {
		cheap, expensive = y, x
	}
	if cheap.Price.Sign() <= 0 {
		return model.SpreadReading{}, false
	}

	return model.SpreadReading{
		Scenario:   model.ScenarioB,
		LegA:       model.LegRef{Venue: cheap.Venue, Instrument: cheap.Instrument},
		LegB:       model.LegRef{Venue: expensive.Venue, Instrument: expensive.Instrument},
		PriceA:     cheap.Price,
		PriceB:     expensive.Price,
		Value:      expensive.Price.Sub(cheap.Price).Div(cheap.Price),
		ComputedAt: e.now(),
	}, true
}

// EntrySatisfied |value| >= threshold
func EntrySatisfied(r model.SpreadReading, threshold decimal.Decimal) bool {
	return r.Abs().GreaterThanOrEqual(threshold)
}

// ExitSatisfied |value| <= threshold
func ExitSatisfied(r model.SpreadReading, threshold decimal.Decimal) bool {
	return r.Abs().LessThanOrEqual(threshold)
}
