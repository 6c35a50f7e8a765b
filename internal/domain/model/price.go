package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceKind 价格类型
type PriceKind string

const (
	PriceSpot PriceKind = "SPOT" // 现货成交价
	PriceMark PriceKind = "MARK" // 合约标记价
)

// PriceKey 价格缓存键 (venue, instrument, kind)
type PriceKey struct {
	Venue      string
	Instrument string
	Kind       PriceKind
}

// NewPriceKey 规范化大小写后构造缓存键
func NewPriceKey(venue, instrument string, kind PriceKind) PriceKey {
	return PriceKey{
		Venue:      strings.ToUpper(strings.TrimSpace(venue)),
		Instrument: strings.ToUpper(strings.TrimSpace(instrument)),
		Kind:       kind,
	}
}

func (k PriceKey) String() string {
	return k.Venue + ":" + k.Instrument + ":" + string(k.Kind)
}

// PriceSample 某一时刻的价格样本，创建后不可变
type PriceSample struct {
	Venue      string          `json:"venue"`
	Instrument string          `json:"instrument"`
	Kind       PriceKind       `json:"kind"`
	Price      decimal.Decimal `json:"price"`
	ObservedAt time.Time       `json:"observed_at"`
}

// Key 返回样本对应的缓存键
func (s PriceSample) Key() PriceKey {
	return NewPriceKey(s.Venue, s.Instrument, s.Kind)
}

// Scenario 套利场景
type Scenario string

const (
	ScenarioA Scenario = "A" // 现货 vs 永续
	ScenarioB Scenario = "B" // 永续 vs 永续（跨交易所）
)

// ParseScenario 接受 a/A/b/B
func ParseScenario(s string) (Scenario, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return ScenarioA, true
	case "B":
		return ScenarioB, true
	}
	return "", false
}

// LegRef 一条腿所在的交易所与合约
type LegRef struct {
	Venue      string `json:"venue"`
	Instrument string `json:"instrument"`
}

func (l LegRef) String() string {
	return l.Instrument + "@" + l.Venue
}

// SpreadReading 价差读数（派生值，不落库）
// 场景 A: LegA = 合约腿, LegB = 现货腿, Value = (mark - spot) / spot
// 场景 B: LegA = 低价腿(cheap), LegB = 高价腿(expensive), Value = (expensive - cheap) / cheap
type SpreadReading struct {
	Scenario   Scenario        `json:"scenario"`
	LegA       LegRef          `json:"leg_a"`
	LegB       LegRef          `json:"leg_b"`
	PriceA     decimal.Decimal `json:"price_a"`
	PriceB     decimal.Decimal `json:"price_b"`
	Value      decimal.Decimal `json:"value"`
	ComputedAt time.Time       `json:"computed_at"`
}

// Abs 价差绝对值
func (r SpreadReading) Abs() decimal.Decimal {
	return r.Value.Abs()
}
