package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"spreadarb/internal/domain/model"
)

// Orchestrator 两腿下单协调器
// 开仓: 风控 -> A 腿 -> B 腿，B 腿失败时对 A 腿下反向单回滚
// 成交未确认但已部分成交的腿按已成交数量反向平掉
// 平仓: 两腿并发下反向单，不重试
type Orchestrator struct {
	ledger *PositionLedger
	gate   *RiskGate
	venues *VenueRegistry
	audit  AuditSink
	now    func() time.Time
}

func NewOrchestrator(ledger *PositionLedger, gate *RiskGate, venues *VenueRegistry, audit AuditSink) *Orchestrator {
	if audit == nil {
		audit = noopAudit{}
	}
	return &Orchestrator{
		ledger: ledger,
		gate:   gate,
		venues: venues,
		audit:  audit,
		now:    time.Now,
	}
}

// Ledger 持仓账本
func (o *Orchestrator) Ledger() *PositionLedger { return o.ledger }

// Open 登记持仓并执行开仓流程
// 持仓数超限或同一 pair 已有活跃持仓时不会创建 PENDING 持仓
func (o *Orchestrator) Open(ctx context.Context, c Candidate, reading model.SpreadReading) (model.Position, error) {
	pos, err := o.ledger.Reserve(c, o.gate.CheckPositionLimit)
	if err != nil {
		if errors.Is(err, model.ErrMaxPositions) {
			o.gate.ReportMaxPositions(ctx, nil, o.ledger.ActiveCount(""))
		}
		return model.Position{}, err
	}

	ev := model.NewPositionEvent(model.EventPositionCreated, model.SeverityInfo, &pos, o.now())
	ev.Metadata = map[string]string{"strategy": pos.Strategy, "spread": reading.Value.String()}
	record(ctx, o.audit, ev)

	return o.EntryOrder(ctx, pos.ID, reading)
}

// EntryOrder 对 PENDING 持仓执行开仓
func (o *Orchestrator) EntryOrder(ctx context.Context, id string, reading model.SpreadReading) (model.Position, error) {
	pos, ok := o.ledger.Get(id)
	if !ok {
		return model.Position{}, fmt.Errorf("%w: %s", model.ErrPositionNotFound, id)
	}
	if pos.Status != model.StatusPending {
		return pos, fmt.Errorf("%w: entry on %s position %s", model.ErrInvalidTransition, pos.Status, id)
	}

	priceA := legPrice(reading, pos.LegA)
	priceB := legPrice(reading, pos.LegB)

	// 1. 风控
	if err := o.gate.Validate(ctx, &pos, o.ledger.ActiveCount(id), priceA, priceB); err != nil {
		return o.fail(ctx, id, "risk check failed: "+err.Error(), model.SeverityWarn, err)
	}

	// 2. A 腿
	fillA, err := o.place(ctx, &pos, model.LegNameA, pos.LegA.Side, "entry")
	if err != nil {
		if ferr := o.flatten(ctx, &pos, model.LegNameA, fillA, err); ferr != nil {
			out, _ := o.markError(ctx, id, "leg A flatten failed: "+ferr.Error(), model.SeverityCritical)
			return out, ferr
		}
		return o.fail(ctx, id, "leg A entry failed: "+err.Error(), model.SeverityWarn, err)
	}

	// 3. B 腿
	fillB, errB := o.place(ctx, &pos, model.LegNameB, pos.LegB.Side, "entry")
	if errB != nil {
		return o.rollback(ctx, &pos, fillA, fillB, errB)
	}

	opened, err := o.ledger.MarkOpened(id, fillA, fillB, reading.Value)
	if err != nil {
		return opened, err
	}
	ev := model.NewPositionEvent(model.EventPositionOpened, model.SeverityInfo, &opened, o.now())
	ev.Metadata = map[string]string{
		"entry_spread": reading.Value.String(),
		"entry_a":      fillA.Price.String(),
		"entry_b":      fillB.Price.String(),
	}
	record(ctx, o.audit, ev)
	return opened, nil
}

// rollback B 腿失败后对 A 腿下一次反向单，只尝试一次
// B 腿若有未确认的成交，同时按已成交数量平掉
func (o *Orchestrator) rollback(ctx context.Context, pos *model.Position, fillA, fillB model.Fill, legErr error) (model.Position, error) {
	log.Warn().
		Str("position_id", pos.ID).
		Str("venue", pos.LegA.Venue).
		Str("instrument", pos.LegA.Instrument).
		Str("leg_a_order", fillA.OrderID).
		Err(legErr).
		Msg("leg B failed, rolling back leg A")

	var critical []error
	rb, err := o.place(ctx, pos, model.LegNameA, pos.LegA.Side.Opposite(), "rollback")
	if err != nil {
		rbErr := &model.RollbackError{PositionID: pos.ID, LegB: legErr, Err: err}
		ev := model.NewPositionEvent(model.EventRollbackFailed, model.SeverityCritical, pos, o.now()).
			WithLeg(model.LegNameA, pos.LegA, pos.LegA.Side.Opposite())
		ev.Phase = "rollback"
		ev.Price = fillA.Price
		ev.Reason = rbErr.Error()
		record(ctx, o.audit, ev)
		critical = append(critical, rbErr)
	} else {
		ev := model.NewPositionEvent(model.EventRollbackPerformed, model.SeverityWarn, pos, o.now()).
			WithLeg(model.LegNameA, pos.LegA, pos.LegA.Side.Opposite())
		ev.Phase = "rollback"
		ev.OrderID = rb.OrderID
		ev.Price = rb.Price
		ev.Reason = legErr.Error()
		record(ctx, o.audit, ev)
	}

	if ferr := o.flatten(ctx, pos, model.LegNameB, fillB, legErr); ferr != nil {
		critical = append(critical, ferr)
	}

	if len(critical) > 0 {
		cerr := errors.Join(critical...)
		failed, _ := o.markError(ctx, pos.ID, "rollback failed: "+cerr.Error(), model.SeverityCritical)
		return failed, cerr
	}
	return o.fail(ctx, pos.ID, "entry aborted, leg A rolled back: "+legErr.Error(), model.SeverityWarn, legErr)
}

// flatten 成交未确认的腿按已成交数量下一次反向单，只尝试一次
// 没有成交时什么都不做
func (o *Orchestrator) flatten(ctx context.Context, pos *model.Position, name model.LegName, fill model.Fill, cause error) error {
	if !fill.ExecutedQty.IsPositive() {
		return nil
	}
	leg := *pos.Leg(name)
	side := leg.Side.Opposite()

	log.Warn().
		Str("position_id", pos.ID).
		Str("leg", string(name)).
		Str("order_id", fill.OrderID).
		Str("executed_qty", fill.ExecutedQty.String()).
		Err(cause).
		Msg("unconfirmed fill, flattening executed quantity")

	hedge, err := o.placeQty(ctx, pos, name, side, fill.ExecutedQty, "flatten")
	if err != nil {
		fe := &model.FlattenError{PositionID: pos.ID, Leg: name, Executed: fill.ExecutedQty, Cause: cause, Err: err}
		ev := model.NewPositionEvent(model.EventRollbackFailed, model.SeverityCritical, pos, o.now()).
			WithLeg(name, leg, side)
		ev.Phase = "flatten"
		ev.Quantity = fill.ExecutedQty
		ev.OrderID = fill.OrderID
		ev.Reason = fe.Error()
		record(ctx, o.audit, ev)
		return fe
	}

	ev := model.NewPositionEvent(model.EventRollbackPerformed, model.SeverityWarn, pos, o.now()).
		WithLeg(name, leg, side)
	ev.Phase = "flatten"
	ev.Quantity = fill.ExecutedQty
	ev.OrderID = hedge.OrderID
	ev.Price = hedge.Price
	ev.Reason = cause.Error()
	record(ctx, o.audit, ev)
	return nil
}

type exitResult struct {
	fill model.Fill
	err  error
}

// ExitOrder 对 OPENED 持仓执行平仓
func (o *Orchestrator) ExitOrder(ctx context.Context, id string, reading model.SpreadReading) (model.Position, error) {
	pos, err := o.ledger.MarkClosing(id)
	if err != nil {
		return pos, err
	}
	ev := model.NewPositionEvent(model.EventPositionClosing, model.SeverityInfo, &pos, o.now())
	ev.Metadata = map[string]string{"exit_spread": reading.Value.String()}
	record(ctx, o.audit, ev)

	var (
		wg      sync.WaitGroup
		results [2]exitResult
		names   = [2]model.LegName{model.LegNameA, model.LegNameB}
	)
	for i, name := range names {
		wg.Go(func() {
			leg := pos.Leg(name)
			fill, err := o.place(ctx, &pos, name, leg.Side.Opposite(), "exit")
			results[i] = exitResult{fill: fill, err: err}
		})
	}
	wg.Wait()

	var (
		closed []model.LegName
		failed []*model.LegError
	)
	for i, name := range names {
		if results[i].err != nil {
			var le *model.LegError
			if !errors.As(results[i].err, &le) {
				le = &model.LegError{Leg: name, Phase: "exit", Err: results[i].err}
			}
			failed = append(failed, le)
			continue
		}
		if _, err := o.ledger.RecordExitFill(id, name, results[i].fill); err != nil {
			log.Error().Err(err).Str("position_id", id).Str("leg", string(name)).Msg("record exit fill failed")
		}
		closed = append(closed, name)
	}

	if len(failed) > 0 {
		pe := &model.PartialExitError{PositionID: id, Closed: closed, Failed: failed}
		ev := model.NewPositionEvent(model.EventPartialExit, model.SeverityCritical, &pos, o.now())
		ev.Phase = "exit"
		ev.Reason = pe.Error()
		record(ctx, o.audit, ev)

		out, _ := o.markError(ctx, id, "exit incomplete: "+pe.Error(), model.SeverityCritical)
		return out, pe
	}

	out, err := o.ledger.MarkClosed(id, results[0].fill, results[1].fill, reading.Value)
	if err != nil {
		return out, err
	}
	ev = model.NewPositionEvent(model.EventPositionClosed, model.SeverityInfo, &out, o.now())
	ev.Metadata = map[string]string{
		"exit_spread": reading.Value.String(),
		"exit_a":      results[0].fill.Price.String(),
		"exit_b":      results[1].fill.Price.String(),
	}
	record(ctx, o.audit, ev)

	log.Info().
		Str("position_id", id).
		Str("scenario", string(out.Scenario)).
		Str("pnl", out.PnL.Decimal.StringFixed(4)).
		Msg("position closed")
	return out, nil
}

// place 按腿的数量下市价单并确认成交，成功/失败各上报一次
// 成交未确认时仍返回交易所回报，调用方据此处理已成交部分
func (o *Orchestrator) place(ctx context.Context, pos *model.Position, name model.LegName, side model.Side, phase string) (model.Fill, error) {
	return o.placeQty(ctx, pos, name, side, pos.Leg(name).Quantity, phase)
}

func (o *Orchestrator) placeQty(ctx context.Context, pos *model.Position, name model.LegName, side model.Side, qty decimal.Decimal, phase string) (model.Fill, error) {
	leg := *pos.Leg(name)
	leg.Quantity = qty

	fill, err := o.submit(ctx, leg, side)
	if err != nil {
		legErr := &model.LegError{Leg: name, Venue: leg.Venue, Instrument: leg.Instrument, Phase: phase, Err: err}
		ev := model.NewPositionEvent(model.EventOrderFailed, model.SeverityWarn, pos, o.now()).
			WithLeg(name, leg, side)
		ev.Phase = phase
		ev.Reason = err.Error()
		if fill.ExecutedQty.IsPositive() {
			ev.OrderID = fill.OrderID
			ev.Metadata = map[string]string{"status": fill.Status, "executed_qty": fill.ExecutedQty.String()}
		}
		record(ctx, o.audit, ev)
		return fill, legErr
	}

	ev := model.NewPositionEvent(model.EventOrderPlaced, model.SeverityInfo, pos, o.now()).
		WithLeg(name, leg, side)
	ev.Phase = phase
	ev.OrderID = fill.OrderID
	ev.Price = fill.Price
	record(ctx, o.audit, ev)
	return fill, nil
}

// submit 下单失败时返回零值；下单成功但确认失败时返回回报和错误
func (o *Orchestrator) submit(ctx context.Context, leg model.Leg, side model.Side) (model.Fill, error) {
	client, err := o.venues.Get(leg.Venue)
	if err != nil {
		return model.Fill{}, err
	}
	fill, err := client.PlaceMarketOrder(ctx, leg.Instrument, side, leg.Quantity)
	if err != nil {
		return model.Fill{}, err
	}
	if err := ConfirmFill(fill, leg.Quantity); err != nil {
		return fill, err
	}
	return fill, nil
}

// fail 标记 ERROR 并返回原始错误
func (o *Orchestrator) fail(ctx context.Context, id, reason string, sev model.Severity, cause error) (model.Position, error) {
	pos, err := o.markError(ctx, id, reason, sev)
	if err != nil {
		return pos, errors.Join(cause, err)
	}
	return pos, cause
}

// markError CRITICAL 时还冻结该 pair，敞口需人工处理
func (o *Orchestrator) markError(ctx context.Context, id, reason string, sev model.Severity) (model.Position, error) {
	mark := o.ledger.MarkError
	if sev == model.SeverityCritical {
		mark = o.ledger.Halt
	}
	pos, err := mark(id, reason)
	if err != nil {
		log.Error().Err(err).Str("position_id", id).Msg("mark position error failed")
		return pos, err
	}
	ev := model.NewPositionEvent(model.EventPositionError, sev, &pos, o.now())
	ev.Reason = reason
	record(ctx, o.audit, ev)
	return pos, nil
}

// legPrice 从读数中取该腿的参考价
func legPrice(r model.SpreadReading, leg model.Leg) decimal.Decimal {
	ref := leg.Ref()
	switch {
	case sameRef(r.LegA, ref):
		return r.PriceA
	case sameRef(r.LegB, ref):
		return r.PriceB
	}
	return decimal.Zero
}

func sameRef(a, b model.LegRef) bool {
	return strings.EqualFold(strings.TrimSpace(a.Venue), strings.TrimSpace(b.Venue)) &&
		strings.EqualFold(strings.TrimSpace(a.Instrument), strings.TrimSpace(b.Instrument))
}
