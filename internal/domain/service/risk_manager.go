package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"spreadarb/internal/domain/model"
)

// 成交数量允许的相对偏差
var fillQtyTolerance = decimal.NewFromFloat(0.01)

// RiskConfig 风控参数
type RiskConfig struct {
	Leverage       decimal.Decimal
	MaxPositions   int
	FixedOrderSize decimal.Decimal // 名义下单金额（计价币）
	QuoteAsset     string          // 保证金币种，默认 USDT
}

// RiskGate 开仓前的风控检查
// 顺序: 持仓数 -> 杠杆 -> 两条腿的保证金，任一失败立即中止
type RiskGate struct {
	cfg    RiskConfig
	venues *VenueRegistry
	audit  AuditSink
	now    func() time.Time
}

func NewRiskGate(cfg RiskConfig, venues *VenueRegistry, audit AuditSink) *RiskGate {
	if cfg.Leverage.Sign() <= 0 {
		cfg.Leverage = decimal.NewFromInt(1)
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if audit == nil {
		audit = noopAudit{}
	}
	return &RiskGate{cfg: cfg, venues: venues, audit: audit, now: time.Now}
}

// Config 当前风控参数
func (g *RiskGate) Config() RiskConfig { return g.cfg }

// CheckPositionLimit active >= max 时拒绝
func (g *RiskGate) CheckPositionLimit(active int) error {
	if active >= g.cfg.MaxPositions {
		return fmt.Errorf("%w: %d/%d", model.ErrMaxPositions, active, g.cfg.MaxPositions)
	}
	return nil
}

// IsDerivative 合约代码包含 PERP / SWAP 视为衍生品
func IsDerivative(instrument string) bool {
	s := strings.ToUpper(instrument)
	return strings.Contains(s, "PERP") || strings.Contains(s, "SWAP")
}

// SetLeverageIfNeeded 衍生品设置杠杆，现货直接跳过
func (g *RiskGate) SetLeverageIfNeeded(ctx context.Context, leg model.LegName, venue, instrument string) error {
	if !IsDerivative(instrument) {
		return nil
	}
	client, err := g.venues.Get(venue)
	if err != nil {
		return &model.LegError{Leg: leg, Venue: venue, Instrument: instrument, Phase: "leverage", Err: err}
	}
	if err := client.SetLeverage(ctx, instrument, g.cfg.Leverage); err != nil {
		return &model.LegError{Leg: leg, Venue: venue, Instrument: instrument, Phase: "leverage", Err: err}
	}
	log.Info().
		Str("venue", venue).
		Str("instrument", instrument).
		Str("leverage", g.cfg.Leverage.String()).
		Msg("leverage set")
	return nil
}

// RequiredMargin (quantity * price) / leverage
func (g *RiskGate) RequiredMargin(quantity, price decimal.Decimal) decimal.Decimal {
	return quantity.Mul(price).Div(g.cfg.Leverage)
}

// CheckBalanceSufficiency 可用余额 < 所需保证金时返回 InsufficientBalanceError
// price <= 0 时无法估算保证金，拒绝开仓
func (g *RiskGate) CheckBalanceSufficiency(ctx context.Context, venue, instrument string, side model.Side, quantity, price decimal.Decimal) error {
	if price.Sign() <= 0 {
		return fmt.Errorf("%w: no reference price for %s on %s", model.ErrMissingPriceData, instrument, venue)
	}
	client, err := g.venues.Get(venue)
	if err != nil {
		return err
	}
	available, err := client.GetBalance(ctx, g.cfg.QuoteAsset)
	if err != nil {
		return fmt.Errorf("get %s balance on %s: %w", g.cfg.QuoteAsset, venue, err)
	}

	required := g.RequiredMargin(quantity, price)
	if available.LessThan(required) {
		return &model.InsufficientBalanceError{
			Venue:      venue,
			Instrument: instrument,
			Required:   required,
			Available:  available,
		}
	}
	log.Debug().
		Str("venue", venue).
		Str("side", side.OrderSide()).
		Str("required", required.StringFixed(2)).
		Str("available", available.StringFixed(2)).
		Msg("balance check passed")
	return nil
}

// Validate 对已登记的持仓依次执行三项检查，失败时上报审计事件
// priceA / priceB 为触发开仓时的参考价
func (g *RiskGate) Validate(ctx context.Context, pos *model.Position, active int, priceA, priceB decimal.Decimal) error {
	if err := g.CheckPositionLimit(active); err != nil {
		g.ReportMaxPositions(ctx, pos, active)
		return err
	}

	for _, name := range []model.LegName{model.LegNameA, model.LegNameB} {
		leg := pos.Leg(name)
		if err := g.SetLeverageIfNeeded(ctx, name, leg.Venue, leg.Instrument); err != nil {
			ev := model.NewPositionEvent(model.EventLeverageFailed, model.SeverityWarn, pos, g.now()).
				WithLeg(name, *leg, leg.Side)
			ev.Phase = "leverage"
			ev.Reason = err.Error()
			record(ctx, g.audit, ev)
			return err
		}
	}

	prices := map[model.LegName]decimal.Decimal{model.LegNameA: priceA, model.LegNameB: priceB}
	for _, name := range []model.LegName{model.LegNameA, model.LegNameB} {
		leg := pos.Leg(name)
		err := g.CheckBalanceSufficiency(ctx, leg.Venue, leg.Instrument, leg.Side, leg.Quantity, prices[name])
		if err == nil {
			continue
		}
		ev := model.NewPositionEvent(model.EventInsufficientBalance, model.SeverityWarn, pos, g.now()).
			WithLeg(name, *leg, leg.Side)
		ev.Price = prices[name]
		ev.Reason = err.Error()
		if ib, ok := err.(*model.InsufficientBalanceError); ok {
			ev.Metadata = map[string]string{
				"required":  ib.Required.String(),
				"available": ib.Available.String(),
			}
		}
		record(ctx, g.audit, ev)
		return &model.LegError{Leg: name, Venue: leg.Venue, Instrument: leg.Instrument, Phase: "balance", Err: err}
	}
	return nil
}

// ReportMaxPositions 上报持仓数超限，pos 可为 nil
func (g *RiskGate) ReportMaxPositions(ctx context.Context, pos *model.Position, active int) {
	ev := model.NewPositionEvent(model.EventMaxPositions, model.SeverityWarn, pos, g.now())
	ev.Reason = fmt.Sprintf("active positions %d, max %d", active, g.cfg.MaxPositions)
	record(ctx, g.audit, ev)
}

// OrderQuantity 按名义金额换算下单数量
func (g *RiskGate) OrderQuantity(price decimal.Decimal) (decimal.Decimal, error) {
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: no reference price for sizing", model.ErrMissingPriceData)
	}
	if g.cfg.FixedOrderSize.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("fixed order size not configured")
	}
	return g.cfg.FixedOrderSize.Div(price), nil
}

// ConfirmFill 成交状态必须为 FILLED/CLOSED，且成交数量偏差不超过 1%
func ConfirmFill(fill model.Fill, expected decimal.Decimal) error {
	switch strings.ToUpper(fill.Status) {
	case "FILLED", "CLOSED":
	default:
		return fmt.Errorf("%w: order %s status %q", model.ErrFillUnconfirmed, fill.OrderID, fill.Status)
	}
	if expected.Sign() > 0 && !fill.ExecutedQty.IsZero() {
		diff := fill.ExecutedQty.Sub(expected).Abs().Div(expected)
		if diff.GreaterThan(fillQtyTolerance) {
			return fmt.Errorf("%w: order %s executed %s, expected %s",
				model.ErrFillUnconfirmed, fill.OrderID, fill.ExecutedQty, expected)
		}
	}
	return nil
}

func record(ctx context.Context, audit AuditSink, ev model.Event) {
	lg := log.Info()
	switch ev.Severity {
	case model.SeverityWarn:
		lg = log.Warn()
	case model.SeverityCritical:
		lg = log.Error().Bool("critical", true)
	}
	lg.Str("event", string(ev.Type)).
		Str("position_id", ev.PositionID).
		Str("leg", string(ev.Leg)).
		Str("venue", ev.Venue).
		Str("instrument", ev.Instrument).
		Str("reason", ev.Reason).
		Msg("audit event")

	if err := audit.Record(ctx, ev); err != nil {
		log.Warn().Err(err).Str("event", string(ev.Type)).Msg("audit record failed")
	}
}
