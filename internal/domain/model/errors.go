package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrMissingPriceData 价差无法计算：本轮跳过，不是故障
	ErrMissingPriceData = errors.New("missing price data")

	// ErrMaxPositions 活跃持仓数已达上限
	ErrMaxPositions = errors.New("max positions reached")

	// ErrDuplicatePosition 同一 (scenario, pair) 已有活跃持仓
	ErrDuplicatePosition = errors.New("active position already exists for pair")

	// ErrInvalidTransition 非法状态迁移
	ErrInvalidTransition = errors.New("invalid position transition")

	// ErrFillUnconfirmed 成交回报未确认（状态非 FILLED 或数量偏差过大）
	ErrFillUnconfirmed = errors.New("fill not confirmed")

	// ErrPositionNotFound 持仓不存在
	ErrPositionNotFound = errors.New("position not found")

	// ErrUnknownVenue 未注册的交易所
	ErrUnknownVenue = errors.New("venue not registered")

	// ErrPairHalted 该 pair 上次失败留下了未对冲敞口，人工处理并重启前不再开仓
	ErrPairHalted = errors.New("pair halted pending manual intervention")
)

// InsufficientBalanceError 保证金不足
type InsufficientBalanceError struct {
	Venue      string
	Instrument string
	Required   decimal.Decimal
	Available  decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on %s for %s: required %s, available %s",
		e.Venue, e.Instrument, e.Required.StringFixed(2), e.Available.StringFixed(2))
}

// LegError 单腿下单失败，携带失败的腿
type LegError struct {
	Leg        LegName
	Venue      string
	Instrument string
	Phase      string // leverage / entry / exit / rollback
	Err        error
}

func (e *LegError) Error() string {
	return fmt.Sprintf("leg %s %s on %s (%s) failed: %v", e.Leg, e.Instrument, e.Venue, e.Phase, e.Err)
}

func (e *LegError) Unwrap() error { return e.Err }

// RollbackError 回滚单失败，A 腿敞口未被对冲，需要人工介入
type RollbackError struct {
	PositionID string
	LegB       error // 触发回滚的 B 腿错误
	Err        error // 回滚单本身的错误
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback failed for position %s, leg A exposure unflattened: %v (leg B: %v)",
		e.PositionID, e.Err, e.LegB)
}

func (e *RollbackError) Unwrap() []error { return []error{e.Err, e.LegB} }

// PartialExitError 平仓时一条腿成功、另一条失败，需要人工介入
type PartialExitError struct {
	PositionID string
	Closed     []LegName
	Failed     []*LegError
}

func (e *PartialExitError) Error() string {
	return fmt.Sprintf("partial exit for position %s: closed %v, failed %d leg(s): %v",
		e.PositionID, e.Closed, len(e.Failed), e.Failed)
}

func (e *PartialExitError) Unwrap() []error {
	out := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		out = append(out, f)
	}
	return out
}

// FlattenError 成交未确认的腿已部分成交，反向平掉已成交数量失败
type FlattenError struct {
	PositionID string
	Leg        LegName
	Executed   decimal.Decimal
	Cause      error // 成交未确认的原因
	Err        error // 平仓单本身的错误
}

func (e *FlattenError) Error() string {
	return fmt.Sprintf("flatten failed for position %s leg %s, executed %s left unhedged: %v (cause: %v)",
		e.PositionID, e.Leg, e.Executed, e.Err, e.Cause)
}

func (e *FlattenError) Unwrap() []error { return []error{e.Err, e.Cause} }

// IsCritical 需要人工介入的错误
func IsCritical(err error) bool {
	var rb *RollbackError
	var pe *PartialExitError
	var fe *FlattenError
	return errors.As(err, &rb) || errors.As(err, &pe) || errors.As(err, &fe)
}

// IsExpected 正常运行中会出现的风控拦截，不应导致进程退出
func IsExpected(err error) bool {
	var ib *InsufficientBalanceError
	return errors.Is(err, ErrMaxPositions) ||
		errors.Is(err, ErrMissingPriceData) ||
		errors.Is(err, ErrDuplicatePosition) ||
		errors.As(err, &ib)
}
