package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spreadarb/internal/domain/model"
)

type recorded struct {
	method string
	path   string
	query  string
	key    string
}

type fakeServer struct {
	mu       sync.Mutex
	requests []recorded
	replies  map[string]string // path -> body
	status   int
}

func (s *fakeServer) handler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, recorded{
		method: r.Method,
		path:   r.URL.Path,
		query:  r.URL.RawQuery,
		key:    r.Header.Get("X-MBX-APIKEY"),
	})
	body := s.replies[r.URL.Path]
	status := s.status
	s.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (s *fakeServer) last() recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

func newTestVenue(t *testing.T, futures bool, replies map[string]string) (*Venue, *fakeServer) {
	t.Helper()
	fs := &fakeServer{replies: replies}
	srv := httptest.NewServer(http.HandlerFunc(fs.handler))
	t.Cleanup(srv.Close)

	client := NewAPIClient(ClientOptions{
		BaseURL:    srv.URL,
		APIKey:     "key",
		APISecret:  "secret",
		Timeout:    2 * time.Second,
		RatePerSec: 100,
		Burst:      10,
	})
	client.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return NewVenue("binance_fut", futures, client), fs
}

func TestFuturesMarketOrder(t *testing.T) {
	v, fs := newTestVenue(t, true, map[string]string{
		futuresOrderPath: `{"orderId":123,"symbol":"BTCUSDT","status":"FILLED","executedQty":"0.002","avgPrice":"50010.5"}`,
	})

	fill, err := v.PlaceMarketOrder(context.Background(), "BTCUSDT_PERP", model.SideLong, decimal.RequireFromString("0.002"))
	require.NoError(t, err)
	assert.Equal(t, "123", fill.OrderID)
	assert.Equal(t, "FILLED", fill.Status)
	assert.True(t, fill.Price.Equal(decimal.RequireFromString("50010.5")))
	assert.True(t, fill.ExecutedQty.Equal(decimal.RequireFromString("0.002")))

	req := fs.last()
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "key", req.key)
	assert.Contains(t, req.query, "symbol=BTCUSDT&")
	assert.Contains(t, req.query, "side=BUY")
	assert.Contains(t, req.query, "type=MARKET")
	assert.Contains(t, req.query, "timestamp=1700000000000")
	assert.Contains(t, req.query, "recvWindow=5000")

	// 签名覆盖 signature 之前的全部参数
	i := strings.Index(req.query, "&signature=")
	require.Positive(t, i)
	assert.Equal(t, NewCredentials("key", "secret").Sign(req.query[:i]), req.query[i+len("&signature="):])
}

func TestSpotMarketOrderAveragePrice(t *testing.T) {
	v, fs := newTestVenue(t, false, map[string]string{
		spotOrderPath: `{"orderId":7,"status":"FILLED","executedQty":"0.2","cummulativeQuoteQty":"9000",
			"fills":[{"price":"44000","qty":"0.1"},{"price":"46000","qty":"0.1"}]}`,
	})

	fill, err := v.PlaceMarketOrder(context.Background(), "BTC-USDT", model.SideShort, decimal.RequireFromString("0.2"))
	require.NoError(t, err)
	assert.True(t, fill.Price.Equal(decimal.NewFromInt(45000)), fill.Price.String())
	assert.Equal(t, spotOrderPath, fs.last().path)
	assert.Contains(t, fs.last().query, "side=SELL")
	assert.Contains(t, fs.last().query, "newOrderRespType=FULL")
}

func TestAveragePriceFromFills(t *testing.T) {
	r := orderResponse{
		ExecutedQty: "0",
		Fills: []struct {
			Price string `json:"price"`
			Qty   string `json:"qty"`
		}{{Price: "100", Qty: "1"}, {Price: "200", Qty: "3"}},
	}
	assert.True(t, r.averagePrice().Equal(decimal.NewFromInt(175)))
	assert.True(t, orderResponse{}.averagePrice().IsZero())
}

func TestOrderAPIError(t *testing.T) {
	v, fs := newTestVenue(t, true, map[string]string{
		futuresOrderPath: `{"code":-2019,"msg":"Margin is insufficient."}`,
	})
	fs.status = http.StatusBadRequest

	_, err := v.PlaceMarketOrder(context.Background(), "BTCUSDT_PERP", model.SideLong, decimal.NewFromInt(1))
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, -2019, apiErr.Code)
	assert.Contains(t, err.Error(), "Margin is insufficient")
}

func TestGetBalance(t *testing.T) {
	fut, _ := newTestVenue(t, true, map[string]string{
		futuresBalancePath: `[{"asset":"BNB","availableBalance":"1"},{"asset":"USDT","balance":"120","availableBalance":"100.5"}]`,
	})
	bal, err := fut.GetBalance(context.Background(), "usdt")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("100.5")))

	spot, _ := newTestVenue(t, false, map[string]string{
		spotAccountPath: `{"balances":[{"asset":"USDT","free":"42","locked":"1"}]}`,
	})
	bal, err = spot.GetBalance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(42)))

	bal, err = spot.GetBalance(context.Background(), "ETH")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

func TestSetLeverage(t *testing.T) {
	fut, fs := newTestVenue(t, true, map[string]string{futuresLeveragePath: `{"leverage":3}`})
	require.NoError(t, fut.SetLeverage(context.Background(), "BTCUSDT_PERP", decimal.RequireFromString("3.7")))
	assert.Contains(t, fs.last().query, "leverage=3&")

	spot, _ := newTestVenue(t, false, nil)
	assert.Error(t, spot.SetLeverage(context.Background(), "BTCUSDT", decimal.NewFromInt(2)))
}
