package service

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spreadarb/internal/domain/model"
)

func fill(id string, price float64) model.Fill {
	return model.Fill{OrderID: id, Price: decimal.NewFromFloat(price), Status: "FILLED"}
}

func TestLedgerLifecycle(t *testing.T) {
	l := NewPositionLedger()
	pos := l.Create(candidateA(0.01))

	require.NotEmpty(t, pos.ID)
	assert.Equal(t, model.StatusPending, pos.Status)
	assert.False(t, pos.LegA.EntryPrice.Valid)
	assert.False(t, pos.CreatedAt.IsZero())
	assert.Len(t, l.ListActive(), 1)

	opened, err := l.MarkOpened(pos.ID, fill("a1", 50000), fill("b1", 45000), dec("0.1111"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusOpened, opened.Status)
	assert.True(t, opened.LegA.EntryPrice.Valid)
	assert.True(t, opened.LegB.EntryPrice.Valid)
	require.NotNil(t, opened.OpenedAt)
	assert.False(t, opened.PnL.Valid)

	_, err = l.MarkClosing(pos.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, l.ActiveCount(""))

	closed, err := l.MarkClosed(pos.ID, fill("a2", 45500), fill("b2", 45400), dec("0.0022"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusClosed, closed.Status)
	require.True(t, closed.PnL.Valid)
	// (45500-50000)*0.01 + (45400-45000)*0.01*-1
	assert.True(t, closed.PnL.Decimal.Equal(dec("-49")), "pnl %s", closed.PnL.Decimal)
	require.NotNil(t, closed.ClosedAt)

	assert.Empty(t, l.ListActive())
	assert.Equal(t, 0, l.ActiveCount(""))
	assert.Len(t, l.List(), 1)
}

func TestLedgerTerminalStates(t *testing.T) {
	l := NewPositionLedger()
	pos := l.Create(candidateA(1))

	_, err := l.MarkError(pos.ID, "boom")
	require.NoError(t, err)

	_, err = l.MarkOpened(pos.ID, fill("a", 1), fill("b", 1), decimal.Zero)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	_, err = l.MarkError(pos.ID, "again")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	got, ok := l.Get(pos.ID)
	require.True(t, ok)
	assert.Equal(t, model.StatusError, got.Status)
	assert.Equal(t, "boom", got.ErrorReason)
}

func TestLedgerRejectsSkippedTransitions(t *testing.T) {
	l := NewPositionLedger()
	pos := l.Create(candidateA(1))

	_, err := l.MarkClosing(pos.ID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	_, err = l.MarkClosed(pos.ID, fill("a", 1), fill("b", 1), decimal.Zero)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	_, err = l.RecordExitFill(pos.ID, model.LegNameA, fill("a", 1))
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = l.MarkOpened("missing", fill("a", 1), fill("b", 1), decimal.Zero)
	assert.ErrorIs(t, err, model.ErrPositionNotFound)
}

func TestLedgerSnapshotsAreIsolated(t *testing.T) {
	l := NewPositionLedger()
	pos := l.Create(candidateA(1))

	snap, _ := l.Get(pos.ID)
	snap.Status = model.StatusClosed
	snap.LegA.Quantity = decimal.NewFromInt(99)

	got, _ := l.Get(pos.ID)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.True(t, got.LegA.Quantity.Equal(decimal.NewFromInt(1)))
}

func TestLedgerReserveDuplicate(t *testing.T) {
	l := NewPositionLedger()
	first, err := l.Reserve(candidateA(1), nil)
	require.NoError(t, err)

	_, err = l.Reserve(candidateA(2), nil)
	assert.ErrorIs(t, err, model.ErrDuplicatePosition)

	// 腿顺序颠倒也视为同一 pair
	swapped := candidateA(1)
	swapped.LegA, swapped.LegB = swapped.LegB, swapped.LegA
	_, err = l.Reserve(swapped, nil)
	assert.ErrorIs(t, err, model.ErrDuplicatePosition)

	_, err = l.MarkError(first.ID, "done")
	require.NoError(t, err)

	_, err = l.Reserve(candidateA(1), nil)
	assert.NoError(t, err, "pair is free again once terminal")
}

func TestLedgerHaltBlocksPair(t *testing.T) {
	l := NewPositionLedger()
	pos, err := l.Reserve(candidateA(1), nil)
	require.NoError(t, err)
	_, err = l.MarkOpened(pos.ID, fill("a", 1), fill("b", 1), decimal.Zero)
	require.NoError(t, err)
	_, err = l.MarkClosing(pos.ID)
	require.NoError(t, err)

	halted, err := l.Halt(pos.ID, "exit incomplete")
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, halted.Status)
	assert.True(t, l.Halted(pos.ID))
	assert.Empty(t, l.ListActive())

	// 同一 pair (含腿顺序颠倒) 不再开仓，gate 不会被调用
	swapped := candidateA(1)
	swapped.LegA, swapped.LegB = swapped.LegB, swapped.LegA
	for _, c := range []Candidate{candidateA(1), swapped} {
		_, err = l.Reserve(c, func(int) error {
			t.Fatal("gate called for halted pair")
			return nil
		})
		assert.ErrorIs(t, err, model.ErrPairHalted)
	}
	assert.Len(t, l.List(), 1)

	// 其他 pair 不受影响
	other := candidateA(1)
	other.LegA.Instrument = "ETHUSDT_PERP"
	_, err = l.Reserve(other, nil)
	assert.NoError(t, err)

	_, err = l.Halt("missing", "x")
	assert.ErrorIs(t, err, model.ErrPositionNotFound)
	assert.False(t, l.Halted("missing"))
}

func TestLedgerReserveGate(t *testing.T) {
	l := NewPositionLedger()
	gateErr := errors.New("full")

	_, err := l.Reserve(candidateA(1), func(active int) error {
		assert.Equal(t, 0, active)
		return gateErr
	})
	assert.ErrorIs(t, err, gateErr)
	assert.Empty(t, l.List(), "rejected reservation creates nothing")
}

func TestLedgerConcurrentReserve(t *testing.T) {
	l := NewPositionLedger()

	var (
		wg      sync.WaitGroup
		okCount atomic.Int32
		dup     atomic.Int32
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Reserve(candidateA(1), nil)
			switch {
			case err == nil:
				okCount.Add(1)
			case errors.Is(err, model.ErrDuplicatePosition):
				dup.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, okCount.Load())
	assert.EqualValues(t, 63, dup.Load())
	assert.Len(t, l.ListActive(), 1)
}
