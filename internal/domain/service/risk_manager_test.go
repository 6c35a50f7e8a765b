package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spreadarb/internal/domain/model"
)

func TestCheckPositionLimit(t *testing.T) {
	h := newHarness(t, 2)
	assert.NoError(t, h.gate.CheckPositionLimit(0))
	assert.NoError(t, h.gate.CheckPositionLimit(1))
	assert.ErrorIs(t, h.gate.CheckPositionLimit(2), model.ErrMaxPositions)
	assert.ErrorIs(t, h.gate.CheckPositionLimit(3), model.ErrMaxPositions)
}

func TestIsDerivative(t *testing.T) {
	assert.True(t, IsDerivative("BTCUSDT_PERP"))
	assert.True(t, IsDerivative("btc-usdt-swap"))
	assert.False(t, IsDerivative("BTC-USDT"))
	assert.False(t, IsDerivative("BTCUSDT"))
}

func TestSetLeverageIfNeeded(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()

	require.NoError(t, h.gate.SetLeverageIfNeeded(ctx, model.LegNameB, spotVen, spotInst))
	assert.Empty(t, h.spot.leverage, "spot instruments are skipped")

	require.NoError(t, h.gate.SetLeverageIfNeeded(ctx, model.LegNameA, futVenue, futInst))
	assert.Equal(t, []string{futInst}, h.fut.leverage)

	h.fut.leverageErr = errors.New("rejected")
	err := h.gate.SetLeverageIfNeeded(ctx, model.LegNameA, futVenue, futInst)
	var le *model.LegError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, model.LegNameA, le.Leg)
	assert.Equal(t, "leverage", le.Phase)
}

func TestCheckBalanceSufficiency(t *testing.T) {
	h := newHarness(t, 2)
	h.gate.cfg.Leverage = decimal.NewFromInt(5)
	ctx := context.Background()

	// 0.5 * 50000 / 5 = 5000 <= 10000
	require.NoError(t, h.gate.CheckBalanceSufficiency(ctx, futVenue, futInst, model.SideLong, dec("0.5"), dec("50000")))

	// 2 * 50000 / 5 = 20000 > 10000
	err := h.gate.CheckBalanceSufficiency(ctx, futVenue, futInst, model.SideShort, dec("2"), dec("50000"))
	var ib *model.InsufficientBalanceError
	require.ErrorAs(t, err, &ib)
	assert.True(t, ib.Required.Equal(dec("20000")))
	assert.True(t, ib.Available.Equal(dec("10000")))
	assert.True(t, model.IsExpected(err))

	// 无参考价时拒绝，不查余额
	calls := h.fut.balanceCalls()
	err = h.gate.CheckBalanceSufficiency(ctx, futVenue, futInst, model.SideLong, dec("100"), decimal.Zero)
	assert.ErrorIs(t, err, model.ErrMissingPriceData)
	assert.Equal(t, calls, h.fut.balanceCalls())

	h.fut.balanceErr = errors.New("timeout")
	assert.Error(t, h.gate.CheckBalanceSufficiency(ctx, futVenue, futInst, model.SideLong, dec("1"), dec("1")))
}

func TestValidateOrderAndReporting(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()
	pos := h.ledger.Create(candidateA(1))

	// 持仓数超限时不触碰交易所
	err := h.gate.Validate(ctx, &pos, 2, dec("50000"), dec("45000"))
	assert.ErrorIs(t, err, model.ErrMaxPositions)
	assert.Empty(t, h.fut.leverage)
	assert.Len(t, h.audit.ofType(model.EventMaxPositions), 1)

	// 杠杆失败时不查余额
	h.fut.leverageErr = errors.New("rejected")
	h.spot.balanceErr = errors.New("must not be called")
	err = h.gate.Validate(ctx, &pos, 0, dec("50000"), dec("45000"))
	var le *model.LegError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "leverage", le.Phase)
	assert.Len(t, h.audit.ofType(model.EventLeverageFailed), 1)

	// B 腿余额不足: 1 * 45000 > 10000
	h.fut.leverageErr = nil
	h.spot.balanceErr = nil
	err = h.gate.Validate(ctx, &pos, 0, dec("5000"), dec("45000"))
	var ib *model.InsufficientBalanceError
	require.ErrorAs(t, err, &ib)
	require.ErrorAs(t, err, &le)
	assert.Equal(t, model.LegNameB, le.Leg)
	evs := h.audit.ofType(model.EventInsufficientBalance)
	require.Len(t, evs, 1)
	assert.Equal(t, pos.ID, evs[0].PositionID)
	assert.Equal(t, "45000", evs[0].Metadata["required"])
}

func TestOrderQuantity(t *testing.T) {
	h := newHarness(t, 1)
	q, err := h.gate.OrderQuantity(dec("50"))
	require.NoError(t, err)
	assert.True(t, q.Equal(dec("2")))

	_, err = h.gate.OrderQuantity(decimal.Zero)
	assert.ErrorIs(t, err, model.ErrMissingPriceData)
}

func TestConfirmFill(t *testing.T) {
	qty := dec("1")
	assert.NoError(t, ConfirmFill(model.Fill{Status: "FILLED", ExecutedQty: dec("1.005")}, qty))
	assert.NoError(t, ConfirmFill(model.Fill{Status: "closed", ExecutedQty: dec("0.99")}, qty))
	assert.NoError(t, ConfirmFill(model.Fill{Status: "FILLED"}, qty), "venue did not report quantity")

	assert.ErrorIs(t, ConfirmFill(model.Fill{Status: "PARTIALLY_FILLED", ExecutedQty: qty}, qty), model.ErrFillUnconfirmed)
	assert.ErrorIs(t, ConfirmFill(model.Fill{Status: "FILLED", ExecutedQty: dec("0.98")}, qty), model.ErrFillUnconfirmed)
	assert.ErrorIs(t, ConfirmFill(model.Fill{}, qty), model.ErrFillUnconfirmed)
}
