package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spreadarb/internal/domain/model"
)

type countingSink struct{ n int }

func (c *countingSink) Record(context.Context, model.Event) error {
	c.n++
	return nil
}

func TestAuditCountsAndForwards(t *testing.T) {
	m := New()
	next := &countingSink{}
	a := m.WrapAudit(next)

	ctx := context.Background()
	require.NoError(t, a.Record(ctx, model.Event{Type: model.EventRollbackFailed, Severity: model.SeverityCritical}))
	require.NoError(t, a.Record(ctx, model.Event{Type: model.EventRollbackFailed, Severity: model.SeverityCritical}))
	require.NoError(t, a.Record(ctx, model.Event{Type: model.EventOrderPlaced, Severity: model.SeverityInfo}))

	assert.Equal(t, 3, next.n)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("rollback_failed", "CRITICAL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("order_placed", "INFO")))
}

func TestGaugesAndHandler(t *testing.T) {
	m := New()
	m.SetActivePositions(3)
	m.PriceUpdated("BINANCE", model.PriceMark)
	m.Evaluated("btc-basis", "idle")

	assert.Equal(t, 3.0, testutil.ToFloat64(m.activePositions))

	rec := httptest.NewRecorder()
	NewServer(":0", m).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "spreadarb_active_positions 3"))
	assert.True(t, strings.Contains(body, `spreadarb_price_updates_total{kind="MARK",venue="BINANCE"} 1`))
}
