package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side 持仓方向
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite 反方向，用于平仓与回滚
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Sign LONG = +1, SHORT = -1
func (s Side) Sign() decimal.Decimal {
	if s == SideLong {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(-1)
}

// OrderSide 下单方向 BUY/SELL
func (s Side) OrderSide() string {
	if s == SideLong {
		return "BUY"
	}
	return "SELL"
}

// PositionStatus 持仓生命周期状态
type PositionStatus string

const (
	StatusPending PositionStatus = "PENDING"
	StatusOpened  PositionStatus = "OPENED"
	StatusClosing PositionStatus = "CLOSING"
	StatusClosed  PositionStatus = "CLOSED"
	StatusError   PositionStatus = "ERROR"
)

// IsActive PENDING / OPENED / CLOSING 视为活跃
func (s PositionStatus) IsActive() bool {
	return s == StatusPending || s == StatusOpened || s == StatusClosing
}

// IsTerminal CLOSED 与 ERROR 为终态
func (s PositionStatus) IsTerminal() bool {
	return s == StatusClosed || s == StatusError
}

var transitions = map[PositionStatus][]PositionStatus{
	StatusPending: {StatusOpened, StatusError},
	StatusOpened:  {StatusClosing, StatusError},
	StatusClosing: {StatusClosed, StatusError},
}

// CanTransition 检查状态迁移是否合法
func (s PositionStatus) CanTransition(to PositionStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Fill 交易所返回的成交回报
type Fill struct {
	OrderID     string          `json:"order_id"`
	Price       decimal.Decimal `json:"price"`
	ExecutedQty decimal.Decimal `json:"executed_qty"`
	Status      string          `json:"status"` // FILLED / PARTIALLY_FILLED / NEW ...
}

// Leg 套利持仓的一条腿
type Leg struct {
	Venue       string              `json:"venue"`
	Instrument  string              `json:"instrument"`
	Side        Side                `json:"side"`
	Quantity    decimal.Decimal     `json:"quantity"`
	EntryPrice  decimal.NullDecimal `json:"entry_price"`
	ExitPrice   decimal.NullDecimal `json:"exit_price"`
	OrderID     string              `json:"order_id,omitempty"`
	ExitOrderID string              `json:"exit_order_id,omitempty"`
}

// Ref 腿所在的交易所与合约
func (l Leg) Ref() LegRef {
	return LegRef{Venue: l.Venue, Instrument: l.Instrument}
}

// PnL (exit - entry) * qty * sign(side)，未完成开平仓时返回 false
func (l Leg) PnL() (decimal.Decimal, bool) {
	if !l.EntryPrice.Valid || !l.ExitPrice.Valid {
		return decimal.Zero, false
	}
	return l.ExitPrice.Decimal.Sub(l.EntryPrice.Decimal).Mul(l.Quantity).Mul(l.Side.Sign()), true
}

// Position 一笔两腿套利持仓，只能由 Ledger 修改
type Position struct {
	ID          string              `json:"id"`
	Strategy    string              `json:"strategy"`
	Scenario    Scenario            `json:"scenario"`
	LegA        Leg                 `json:"leg_a"`
	LegB        Leg                 `json:"leg_b"`
	Status      PositionStatus      `json:"status"`
	EntrySpread decimal.NullDecimal `json:"entry_spread"`
	ExitSpread  decimal.NullDecimal `json:"exit_spread"`
	PnL         decimal.NullDecimal `json:"pnl"`
	ErrorReason string              `json:"error_reason,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	OpenedAt    *time.Time          `json:"opened_at,omitempty"`
	ClosedAt    *time.Time          `json:"closed_at,omitempty"`
}

// PairKey 用于去重的 (scenario, 两腿) 键，与腿的顺序无关
func (p *Position) PairKey() string {
	return PairKey(p.Scenario, p.LegA.Ref(), p.LegB.Ref())
}

// PairKey 构造 (scenario, pair) 去重键
func PairKey(scenario Scenario, a, b LegRef) string {
	x := strings.ToUpper(a.String())
	y := strings.ToUpper(b.String())
	if y < x {
		x, y = y, x
	}
	return string(scenario) + "|" + x + "|" + y
}

// Clone 深拷贝，供只读快照使用
func (p *Position) Clone() Position {
	c := *p
	if p.OpenedAt != nil {
		t := *p.OpenedAt
		c.OpenedAt = &t
	}
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		c.ClosedAt = &t
	}
	return c
}

func (p *Position) transition(to PositionStatus) error {
	if !p.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s (position %s)", ErrInvalidTransition, p.Status, to, p.ID)
	}
	p.Status = to
	return nil
}

// MarkOpened PENDING -> OPENED，两条腿的成交价必须同时写入
func (p *Position) MarkOpened(fillA, fillB Fill, entrySpread decimal.Decimal, at time.Time) error {
	if err := p.transition(StatusOpened); err != nil {
		return err
	}
	p.LegA.EntryPrice = decimal.NewNullDecimal(fillA.Price)
	p.LegA.OrderID = fillA.OrderID
	p.LegB.EntryPrice = decimal.NewNullDecimal(fillB.Price)
	p.LegB.OrderID = fillB.OrderID
	p.EntrySpread = decimal.NewNullDecimal(entrySpread)
	p.OpenedAt = &at
	return nil
}

// MarkClosing OPENED -> CLOSING
func (p *Position) MarkClosing() error {
	return p.transition(StatusClosing)
}

// MarkClosed CLOSING -> CLOSED，同时计算 PnL
func (p *Position) MarkClosed(exitA, exitB Fill, exitSpread decimal.Decimal, at time.Time) error {
	if err := p.transition(StatusClosed); err != nil {
		return err
	}
	p.LegA.ExitPrice = decimal.NewNullDecimal(exitA.Price)
	p.LegA.ExitOrderID = exitA.OrderID
	p.LegB.ExitPrice = decimal.NewNullDecimal(exitB.Price)
	p.LegB.ExitOrderID = exitB.OrderID
	p.ExitSpread = decimal.NewNullDecimal(exitSpread)
	p.ClosedAt = &at

	pnlA, _ := p.LegA.PnL()
	pnlB, _ := p.LegB.PnL()
	p.PnL = decimal.NewNullDecimal(pnlA.Add(pnlB))
	return nil
}

// MarkError 任意活跃状态 -> ERROR
func (p *Position) MarkError(reason string) error {
	if err := p.transition(StatusError); err != nil {
		return err
	}
	p.ErrorReason = reason
	return nil
}

// LegName 腿标识 A / B
type LegName string

const (
	LegNameA LegName = "A"
	LegNameB LegName = "B"
)

// Leg 按名称返回腿的指针
func (p *Position) Leg(name LegName) *Leg {
	if name == LegNameA {
		return &p.LegA
	}
	return &p.LegB
}

// RecordExitFill 平仓过程中记录单腿成交，部分平仓时保留已平掉那条腿的价格
func (p *Position) RecordExitFill(name LegName, fill Fill) error {
	if p.Status != StatusClosing {
		return fmt.Errorf("%w: exit fill on %s position %s", ErrInvalidTransition, p.Status, p.ID)
	}
	leg := p.Leg(name)
	leg.ExitPrice = decimal.NewNullDecimal(fill.Price)
	leg.ExitOrderID = fill.OrderID
	return nil
}
