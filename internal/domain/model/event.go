package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType 审计事件类型
type EventType string

const (
	EventPositionCreated     EventType = "position_created"
	EventOrderPlaced         EventType = "order_placed"
	EventOrderFailed         EventType = "order_failed"
	EventPositionOpened      EventType = "position_opened"
	EventPositionClosing     EventType = "position_closing"
	EventPositionClosed      EventType = "position_closed"
	EventPositionError       EventType = "position_error"
	EventInsufficientBalance EventType = "insufficient_balance"
	EventMaxPositions        EventType = "max_positions"
	EventLeverageFailed      EventType = "leverage_failed"
	EventRollbackPerformed   EventType = "rollback_performed"
	EventRollbackFailed      EventType = "rollback_failed"
	EventPartialExit         EventType = "partial_exit"
)

// Severity 事件级别，CRITICAL 需要人工介入
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarn     Severity = "WARN"
	SeverityCritical Severity = "CRITICAL"
)

// Event 审计/告警事件
type Event struct {
	Type       EventType         `json:"event_type"`
	Severity   Severity          `json:"severity"`
	PositionID string            `json:"position_id,omitempty"`
	Scenario   Scenario          `json:"scenario,omitempty"`
	Status     PositionStatus    `json:"status,omitempty"`
	Leg        LegName           `json:"leg,omitempty"`
	Venue      string            `json:"venue,omitempty"`
	Instrument string            `json:"instrument,omitempty"`
	Side       string            `json:"side,omitempty"` // BUY / SELL
	Quantity   decimal.Decimal   `json:"quantity"`
	Price      decimal.Decimal   `json:"price"`
	PnL        decimal.Decimal   `json:"pnl"`
	OrderID    string            `json:"order_id,omitempty"`
	Phase      string            `json:"phase,omitempty"` // entry / exit / rollback / flatten
	Reason     string            `json:"reason,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"ts"`
}

// NewPositionEvent 以持仓快照为基础构造事件
func NewPositionEvent(typ EventType, sev Severity, p *Position, at time.Time) Event {
	ev := Event{
		Type:      typ,
		Severity:  sev,
		Timestamp: at,
	}
	if p != nil {
		ev.PositionID = p.ID
		ev.Scenario = p.Scenario
		ev.Status = p.Status
		if p.PnL.Valid {
			ev.PnL = p.PnL.Decimal
		}
	}
	return ev
}

// WithLeg 填充腿信息
func (e Event) WithLeg(name LegName, leg Leg, side Side) Event {
	e.Leg = name
	e.Venue = leg.Venue
	e.Instrument = leg.Instrument
	e.Side = side.OrderSide()
	e.Quantity = leg.Quantity
	return e
}
