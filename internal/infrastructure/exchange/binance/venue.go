package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"spreadarb/internal/domain/model"
	"spreadarb/internal/domain/service"
	"spreadarb/internal/infrastructure/exchange"
)

const (
	futuresOrderPath    = "/fapi/v1/order"
	futuresLeveragePath = "/fapi/v1/leverage"
	futuresBalancePath  = "/fapi/v2/balance"
	spotOrderPath       = "/api/v3/order"
	spotAccountPath     = "/api/v3/account"
)

var _ service.VenueClient = (*Venue)(nil)

// Venue Binance 单个账户（现货或 U 本位合约）
type Venue struct {
	name    string
	futures bool
	client  *APIClient
}

func NewVenue(name string, futures bool, client *APIClient) *Venue {
	return &Venue{
		name:    strings.ToUpper(strings.TrimSpace(name)),
		futures: futures,
		client:  client,
	}
}

func (v *Venue) Name() string { return v.name }

// Futures 是否合约账户
func (v *Venue) Futures() bool { return v.futures }

type orderResponse struct {
	OrderID             int64  `json:"orderId"`
	Symbol              string `json:"symbol"`
	Side                string `json:"side"`
	Status              string `json:"status"`
	ExecutedQty         string `json:"executedQty"`
	AvgPrice            string `json:"avgPrice"`            // 合约
	CumQuote            string `json:"cumQuote"`            // 合约
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"` // 现货
	Fills               []struct {
		Price string `json:"price"`
		Qty   string `json:"qty"`
	} `json:"fills"`
}

// PlaceMarketOrder 市价下单，要求交易所同步返回成交结果
func (v *Venue) PlaceMarketOrder(ctx context.Context, instrument string, side model.Side, quantity decimal.Decimal) (model.Fill, error) {
	symbol := exchange.Normalize(instrument)
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side.OrderSide())
	params.Set("type", "MARKET")
	params.Set("quantity", quantity.String())

	path := spotOrderPath
	if v.futures {
		path = futuresOrderPath
		params.Set("newOrderRespType", "RESULT")
	} else {
		params.Set("newOrderRespType", "FULL")
	}

	body, err := v.client.signedRequest(ctx, http.MethodPost, path, params)
	if err != nil {
		return model.Fill{}, fmt.Errorf("place order failed: %w", err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.Fill{}, fmt.Errorf("parse order response failed: %w", err)
	}
	if resp.OrderID == 0 {
		return model.Fill{}, fmt.Errorf("order failed: %s", string(body))
	}

	fill := model.Fill{
		OrderID:     strconv.FormatInt(resp.OrderID, 10),
		Price:       resp.averagePrice(),
		ExecutedQty: parseDecimal(resp.ExecutedQty),
		Status:      resp.Status,
	}

	log.Info().
		Str("venue", v.name).
		Str("symbol", symbol).
		Str("side", side.OrderSide()).
		Str("quantity", quantity.String()).
		Str("order_id", fill.OrderID).
		Str("status", fill.Status).
		Str("avg_price", fill.Price.String()).
		Msg("order placed")

	return fill, nil
}

// averagePrice avgPrice > 成交额/成交量 > fills 加权
func (r orderResponse) averagePrice() decimal.Decimal {
	if p := parseDecimal(r.AvgPrice); p.Sign() > 0 {
		return p
	}
	qty := parseDecimal(r.ExecutedQty)
	quote := parseDecimal(r.CumQuote)
	if quote.IsZero() {
		quote = parseDecimal(r.CummulativeQuoteQty)
	}
	if qty.Sign() > 0 && quote.Sign() > 0 {
		return quote.Div(qty)
	}

	var notional, total decimal.Decimal
	for _, f := range r.Fills {
		q := parseDecimal(f.Qty)
		notional = notional.Add(parseDecimal(f.Price).Mul(q))
		total = total.Add(q)
	}
	if total.Sign() > 0 {
		return notional.Div(total)
	}
	return decimal.Zero
}

// GetBalance 合约账户取 availableBalance，现货取 free；没有该币种返回 0
func (v *Venue) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if v.futures {
		body, err := v.client.signedRequest(ctx, http.MethodGet, futuresBalancePath, nil)
		if err != nil {
			return decimal.Zero, fmt.Errorf("get futures balance failed: %w", err)
		}
		var balances []struct {
			Asset            string `json:"asset"`
			Balance          string `json:"balance"`
			AvailableBalance string `json:"availableBalance"`
		}
		if err := json.Unmarshal(body, &balances); err != nil {
			return decimal.Zero, fmt.Errorf("parse futures balance failed: %w", err)
		}
		for _, b := range balances {
			if strings.EqualFold(b.Asset, asset) {
				return parseDecimal(b.AvailableBalance), nil
			}
		}
		return decimal.Zero, nil
	}

	body, err := v.client.signedRequest(ctx, http.MethodGet, spotAccountPath, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get spot account failed: %w", err)
	}
	var account struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &account); err != nil {
		return decimal.Zero, fmt.Errorf("parse spot account failed: %w", err)
	}
	for _, b := range account.Balances {
		if strings.EqualFold(b.Asset, asset) {
			return parseDecimal(b.Free), nil
		}
	}
	return decimal.Zero, nil
}

// SetLeverage 合约杠杆取整，最小 1 倍
func (v *Venue) SetLeverage(ctx context.Context, instrument string, leverage decimal.Decimal) error {
	if !v.futures {
		return fmt.Errorf("%s: leverage not supported on spot account", v.name)
	}
	lev := leverage.IntPart()
	if lev < 1 {
		lev = 1
	}
	params := url.Values{}
	params.Set("symbol", exchange.Normalize(instrument))
	params.Set("leverage", strconv.FormatInt(lev, 10))

	if _, err := v.client.signedRequest(ctx, http.MethodPost, futuresLeveragePath, params); err != nil {
		return fmt.Errorf("set leverage failed: %w", err)
	}
	return nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
