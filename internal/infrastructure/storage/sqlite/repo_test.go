package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spreadarb/internal/domain/model"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	repo, err := New(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLiteRepoUpsertPrice(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	s := model.PriceSample{Venue: "BINANCE", Instrument: "BTCUSDT_PERP", Kind: model.PriceMark,
		Price: decimal.RequireFromString("45000.5"), ObservedAt: time.Now()}
	require.NoError(t, repo.UpsertLatestPrice(ctx, s))

	s.Price = decimal.RequireFromString("45001")
	require.NoError(t, repo.UpsertLatestPrice(ctx, s))

	var n int
	var price string
	require.NoError(t, repo.GetDB().QueryRow(`SELECT COUNT(*), MAX(price) FROM prices`).Scan(&n, &price))
	assert.Equal(t, 1, n)
	assert.Equal(t, "45001", price)
}

func TestSQLiteRepoRecordAndHistory(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	events := []model.Event{
		{Type: model.EventPositionCreated, Severity: model.SeverityInfo, PositionID: "p1", Scenario: model.ScenarioA, Timestamp: now},
		{Type: model.EventOrderPlaced, Severity: model.SeverityInfo, PositionID: "p1", Leg: model.LegNameA,
			Venue: "BINANCE", Instrument: "BTCUSDT_PERP", Side: "BUY",
			Quantity: decimal.RequireFromString("0.01"), Price: decimal.RequireFromString("50000"),
			OrderID: "o-1", Phase: "entry", Timestamp: now.Add(time.Millisecond)},
		{Type: model.EventRollbackFailed, Severity: model.SeverityCritical, PositionID: "p1",
			Reason: "venue down", Metadata: map[string]string{"required": "500"}, Timestamp: now.Add(2 * time.Millisecond)},
		{Type: model.EventMaxPositions, Severity: model.SeverityWarn, Timestamp: now},
	}
	for _, ev := range events {
		require.NoError(t, repo.Record(ctx, ev))
	}

	hist, err := repo.PositionEvents(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, model.EventPositionCreated, hist[0].Type)
	assert.Equal(t, model.LegNameA, hist[1].Leg)
	assert.True(t, hist[1].Price.Equal(decimal.RequireFromString("50000")))
	assert.Equal(t, "o-1", hist[1].OrderID)
	assert.Equal(t, model.SeverityCritical, hist[2].Severity)
	assert.Equal(t, "500", hist[2].Metadata["required"])

	recent, err := repo.RecentEvents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, model.EventMaxPositions, recent[0].Type)
}

func TestSQLiteRepoCleanup(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Record(ctx, model.Event{Type: model.EventOrderFailed, Severity: model.SeverityWarn, Timestamp: now.Add(-25 * time.Hour)}))
	require.NoError(t, repo.Record(ctx, model.Event{Type: model.EventOrderPlaced, Severity: model.SeverityInfo, Timestamp: now}))

	n, err := repo.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	recent, err := repo.RecentEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, model.EventOrderPlaced, recent[0].Type)
}

func TestSQLiteRepoPositions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	created := time.UnixMilli(1_700_000_000_000)
	pos := model.Position{
		ID:       "p1",
		Strategy: "btc-basis",
		Scenario: model.ScenarioA,
		Status:   model.StatusPending,
		LegA: model.Leg{Venue: "BINANCE", Instrument: "BTCUSDT_PERP", Side: model.SideLong,
			Quantity: decimal.RequireFromString("0.01")},
		LegB: model.Leg{Venue: "OKX", Instrument: "BTC-USDT", Side: model.SideShort,
			Quantity: decimal.RequireFromString("0.01")},
		CreatedAt: created,
	}
	require.NoError(t, repo.SavePosition(ctx, pos))

	opened := created.Add(time.Second)
	pos.Status = model.StatusClosed
	pos.LegA.EntryPrice = decimal.NewNullDecimal(decimal.RequireFromString("50000"))
	pos.EntrySpread = decimal.NewNullDecimal(decimal.RequireFromString("0.1111"))
	pos.PnL = decimal.NewNullDecimal(decimal.RequireFromString("-49"))
	pos.OpenedAt = &opened
	require.NoError(t, repo.SavePosition(ctx, pos))

	list, err := repo.ListPositions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	got := list[0]
	assert.Equal(t, model.StatusClosed, got.Status)
	assert.Equal(t, model.SideShort, got.LegB.Side)
	assert.True(t, got.LegA.EntryPrice.Decimal.Equal(decimal.RequireFromString("50000")))
	assert.False(t, got.LegB.EntryPrice.Valid)
	assert.True(t, got.PnL.Decimal.Equal(decimal.RequireFromString("-49")))
	assert.False(t, got.ExitSpread.Valid)
	require.NotNil(t, got.OpenedAt)
	assert.Equal(t, opened.UnixMilli(), got.OpenedAt.UnixMilli())
	assert.Nil(t, got.ClosedAt)
	assert.Equal(t, created.UnixMilli(), got.CreatedAt.UnixMilli())
}
