package strategy

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"spreadarb/internal/domain/model"
	"spreadarb/internal/domain/service"
)

// LegConfig 一条腿的交易所与合约
type LegConfig struct {
	Venue      string
	Instrument string
}

// Config 单个策略实例的已解析配置
// 场景 A: LegA 为合约腿, LegB 为现货腿
// 场景 B: LegA / LegB 为两个交易所的合约 (X / Y)
type Config struct {
	Name           string
	Scenario       model.Scenario
	EntryThreshold decimal.Decimal
	ExitThreshold  decimal.Decimal
	Quantity       decimal.Decimal // 为 0 时按 fixed_order_size / 参考价 换算
	QuantityStep   decimal.Decimal // 下单数量步长，向下取整；为 0 时不取整
	LegA           LegConfig
	LegB           LegConfig
}

// Validate 检查必填项
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("strategy name is empty")
	}
	if c.Scenario != model.ScenarioA && c.Scenario != model.ScenarioB {
		return fmt.Errorf("strategy %s: unknown scenario %q", c.Name, c.Scenario)
	}
	if c.LegA.Venue == "" || c.LegA.Instrument == "" || c.LegB.Venue == "" || c.LegB.Instrument == "" {
		return fmt.Errorf("strategy %s: both legs need venue and instrument", c.Name)
	}
	if c.EntryThreshold.IsNegative() || c.ExitThreshold.IsNegative() {
		return fmt.Errorf("strategy %s: thresholds must be >= 0", c.Name)
	}
	if c.Quantity.IsNegative() {
		return fmt.Errorf("strategy %s: quantity must be >= 0", c.Name)
	}
	if c.QuantityStep.IsNegative() {
		return fmt.Errorf("strategy %s: quantity_step must be >= 0", c.Name)
	}
	return nil
}

// Deps 策略依赖
type Deps struct {
	Spreads      *service.SpreadEngine
	Orchestrator *service.Orchestrator
	Gate         *service.RiskGate
	Symbols      service.SymbolChecker
}

// Strategy 把价差读数翻译成开平仓动作
// CheckEntry / CheckExit 返回 (nil, nil) 表示本轮无信号
type Strategy interface {
	Name() string
	Scenario() model.Scenario
	CheckEntry(ctx context.Context) (*model.Position, error)
	CheckExit(ctx context.Context) (*model.Position, error)
	Tracked() (model.Position, bool)
	Reading() (model.SpreadReading, bool)
	Config() Config
}

// New 按场景创建策略
func New(cfg Config, deps Deps) (Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Scenario {
	case model.ScenarioA:
		return NewScenarioA(cfg, deps), nil
	default:
		return NewScenarioB(cfg, deps), nil
	}
}

// base 两种场景共用的持仓跟踪，每个实例最多跟踪一笔持仓
type base struct {
	cfg  Config
	deps Deps

	mu      sync.Mutex
	tracked string // position id
}

func newBase(cfg Config, deps Deps) base {
	return base{cfg: cfg, deps: deps}
}

func (b *base) Name() string             { return b.cfg.Name }
func (b *base) Scenario() model.Scenario { return b.cfg.Scenario }
func (b *base) Config() Config           { return b.cfg }

// Tracked 当前跟踪的持仓快照
// 终态持仓会被遗忘，冻结了 pair 的 ERROR 持仓除外
func (b *base) Tracked() (model.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trackedLocked()
}

func (b *base) trackedLocked() (model.Position, bool) {
	if b.tracked == "" {
		return model.Position{}, false
	}
	ledger := b.deps.Orchestrator.Ledger()
	pos, ok := ledger.Get(b.tracked)
	if !ok || (pos.Status.IsTerminal() && !ledger.Halted(pos.ID)) {
		b.tracked = ""
		return model.Position{}, false
	}
	return pos, true
}

// quantity 配置数量优先，否则按名义金额换算，最后按步长向下取整
func (b *base) quantity(refPrice decimal.Decimal) (decimal.Decimal, error) {
	qty := b.cfg.Quantity
	if qty.Sign() <= 0 {
		var err error
		if qty, err = b.deps.Gate.OrderQuantity(refPrice); err != nil {
			return decimal.Zero, err
		}
	}
	if step := b.cfg.QuantityStep; step.Sign() > 0 {
		qty = qty.Div(step).Floor().Mul(step)
	}
	if qty.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("strategy %s: order quantity rounds to zero at step %s", b.cfg.Name, b.cfg.QuantityStep)
	}
	return qty, nil
}

func (b *base) checkSymbols(a, c string) {
	if b.deps.Symbols == nil {
		return
	}
	if b.deps.Symbols.CheckSymbolMismatch(a, c) {
		log.Warn().
			Str("strategy", b.cfg.Name).
			Str("a", a).
			Str("b", c).
			Msg("symbol format mismatch between legs")
	}
}

// open 在持锁状态下调用
func (b *base) open(ctx context.Context, cand service.Candidate, reading model.SpreadReading) (*model.Position, error) {
	log.Info().
		Str("strategy", b.cfg.Name).
		Str("scenario", string(b.cfg.Scenario)).
		Str("spread", reading.Value.StringFixed(6)).
		Str("leg_a", cand.LegA.Ref().String()+" "+string(cand.LegA.Side)).
		Str("leg_b", cand.LegB.Ref().String()+" "+string(cand.LegB.Side)).
		Msg("entry signal")

	pos, err := b.deps.Orchestrator.Open(ctx, cand, reading)
	if err != nil {
		if pos.ID != "" && b.deps.Orchestrator.Ledger().Halted(pos.ID) {
			b.tracked = pos.ID
		}
		return nil, err
	}
	b.tracked = pos.ID
	return &pos, nil
}

// exit 在持锁状态下调用
func (b *base) exit(ctx context.Context, pos model.Position, reading model.SpreadReading) (*model.Position, error) {
	log.Info().
		Str("strategy", b.cfg.Name).
		Str("position_id", pos.ID).
		Str("spread", reading.Value.StringFixed(6)).
		Msg("exit signal")

	out, err := b.deps.Orchestrator.ExitOrder(ctx, pos.ID, reading)
	if out.Status.IsTerminal() && !b.deps.Orchestrator.Ledger().Halted(out.ID) {
		b.tracked = ""
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func sameLeg(a, b model.LegRef) bool {
	return strings.EqualFold(a.Venue, b.Venue) && strings.EqualFold(a.Instrument, b.Instrument)
}
