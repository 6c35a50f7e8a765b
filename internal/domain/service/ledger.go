package service

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"spreadarb/internal/domain/model"
)

// Candidate 待开仓的两腿意图
type Candidate struct {
	Strategy string
	Scenario model.Scenario
	LegA     model.Leg
	LegB     model.Leg
}

// PairKey 候选持仓的去重键
func (c Candidate) PairKey() string {
	return model.PairKey(c.Scenario, c.LegA.Ref(), c.LegB.Ref())
}

// PositionLedger 内存持仓账本
// 所有状态迁移都在同一把锁内完成，对外只返回快照
type PositionLedger struct {
	mu        sync.RWMutex
	positions map[string]*model.Position // id -> position
	active    map[string]string          // pair key -> id
	halted    map[string]string          // pair key -> 留下未对冲敞口的持仓 id
	order     []string                   // 创建顺序
	now       func() time.Time
}

func NewPositionLedger() *PositionLedger {
	return &PositionLedger{
		positions: make(map[string]*model.Position),
		active:    make(map[string]string),
		halted:    make(map[string]string),
		now:       time.Now,
	}
}

// Create 分配 ID 并以 PENDING 状态登记，返回快照
func (l *PositionLedger) Create(c Candidate) model.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.createLocked(c).Clone()
}

// Reserve 原子地执行 "同一 pair 无活跃持仓 + gate 检查 + 创建"
// gate 收到当前活跃持仓数，返回错误时不创建任何持仓
func (l *PositionLedger) Reserve(c Candidate, gate func(active int) error) (model.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := c.PairKey()
	if id, ok := l.halted[key]; ok {
		return model.Position{}, fmt.Errorf("%w: %s (position %s)", model.ErrPairHalted, key, id)
	}
	if id, ok := l.active[key]; ok {
		return model.Position{}, fmt.Errorf("%w: %s (position %s)", model.ErrDuplicatePosition, key, id)
	}
	if gate != nil {
		if err := gate(len(l.active)); err != nil {
			return model.Position{}, err
		}
	}
	return l.createLocked(c).Clone(), nil
}

func (l *PositionLedger) createLocked(c Candidate) *model.Position {
	pos := &model.Position{
		ID:        uuid.NewString(),
		Strategy:  c.Strategy,
		Scenario:  c.Scenario,
		LegA:      normalizeLeg(c.LegA),
		LegB:      normalizeLeg(c.LegB),
		Status:    model.StatusPending,
		CreatedAt: l.now(),
	}
	l.positions[pos.ID] = pos
	l.order = append(l.order, pos.ID)
	l.active[pos.PairKey()] = pos.ID
	return pos
}

func normalizeLeg(leg model.Leg) model.Leg {
	return model.Leg{
		Venue:      strings.ToUpper(strings.TrimSpace(leg.Venue)),
		Instrument: strings.ToUpper(strings.TrimSpace(leg.Instrument)),
		Side:       leg.Side,
		Quantity:   leg.Quantity,
	}
}

// Get 返回持仓快照
func (l *PositionLedger) Get(id string) (model.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[id]
	if !ok {
		return model.Position{}, false
	}
	return pos.Clone(), true
}

// ListActive 返回 PENDING / OPENED / CLOSING 的持仓快照，按创建顺序
func (l *PositionLedger) ListActive() []model.Position {
	return l.list(func(p *model.Position) bool { return p.Status.IsActive() })
}

// List 返回全部持仓快照
func (l *PositionLedger) List() []model.Position {
	return l.list(func(*model.Position) bool { return true })
}

func (l *PositionLedger) list(keep func(*model.Position) bool) []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Position, 0, len(l.order))
	for _, id := range l.order {
		if p := l.positions[id]; keep(p) {
			out = append(out, p.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ActiveCount 活跃持仓数，exclude 非空时不计入该持仓
func (l *PositionLedger) ActiveCount(exclude string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, id := range l.active {
		if id != exclude {
			n++
		}
	}
	return n
}

// MarkOpened PENDING -> OPENED
func (l *PositionLedger) MarkOpened(id string, fillA, fillB model.Fill, entrySpread decimal.Decimal) (model.Position, error) {
	return l.apply(id, func(p *model.Position) error {
		return p.MarkOpened(fillA, fillB, entrySpread, l.now())
	})
}

// MarkClosing OPENED -> CLOSING
func (l *PositionLedger) MarkClosing(id string) (model.Position, error) {
	return l.apply(id, func(p *model.Position) error { return p.MarkClosing() })
}

// RecordExitFill 平仓中记录单腿成交
func (l *PositionLedger) RecordExitFill(id string, leg model.LegName, fill model.Fill) (model.Position, error) {
	return l.apply(id, func(p *model.Position) error { return p.RecordExitFill(leg, fill) })
}

// MarkClosed CLOSING -> CLOSED，并移出活跃集合
func (l *PositionLedger) MarkClosed(id string, exitA, exitB model.Fill, exitSpread decimal.Decimal) (model.Position, error) {
	return l.apply(id, func(p *model.Position) error {
		return p.MarkClosed(exitA, exitB, exitSpread, l.now())
	})
}

// MarkError 活跃状态 -> ERROR，并移出活跃集合
func (l *PositionLedger) MarkError(id, reason string) (model.Position, error) {
	return l.apply(id, func(p *model.Position) error { return p.MarkError(reason) })
}

// Halt 活跃状态 -> ERROR，并冻结该 pair
// 用于回滚或平仓失败后仍有敞口的持仓，冻结在进程内一直有效
func (l *PositionLedger) Halt(id, reason string) (model.Position, error) {
	return l.applyThen(id, func(p *model.Position) error { return p.MarkError(reason) }, func(p *model.Position) {
		l.halted[p.PairKey()] = p.ID
	})
}

// Halted 持仓是否因未对冲敞口冻结了其 pair
func (l *PositionLedger) Halted(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[id]
	return ok && l.halted[pos.PairKey()] == id
}

func (l *PositionLedger) apply(id string, fn func(p *model.Position) error) (model.Position, error) {
	return l.applyThen(id, fn, nil)
}

// applyThen 在同一把锁内执行迁移和 after
func (l *PositionLedger) applyThen(id string, fn func(p *model.Position) error, after func(p *model.Position)) (model.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[id]
	if !ok {
		return model.Position{}, fmt.Errorf("%w: %s", model.ErrPositionNotFound, id)
	}
	if err := fn(pos); err != nil {
		return pos.Clone(), err
	}
	if pos.Status.IsTerminal() {
		if key := pos.PairKey(); l.active[key] == id {
			delete(l.active, key)
		}
	}
	if after != nil {
		after(pos)
	}
	return pos.Clone(), nil
}
