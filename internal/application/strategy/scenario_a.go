package strategy

import (
	"context"

	"github.com/rs/zerolog/log"

	"spreadarb/internal/domain/model"
	"spreadarb/internal/domain/service"
)

// ScenarioA 现货 vs 永续
// 合约溢价 (spread > 0): 做多合约 + 做空现货；折价时方向相反
type ScenarioA struct {
	base
}

func NewScenarioA(cfg Config, deps Deps) *ScenarioA {
	cfg.Scenario = model.ScenarioA
	return &ScenarioA{base: newBase(cfg, deps)}
}

// Reading 当前价差读数
func (s *ScenarioA) Reading() (model.SpreadReading, bool) {
	return s.deps.Spreads.SpreadA(s.cfg.LegA.Venue, s.cfg.LegA.Instrument, s.cfg.LegB.Venue, s.cfg.LegB.Instrument)
}

func (s *ScenarioA) CheckEntry(ctx context.Context) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trackedLocked(); ok {
		return nil, nil
	}

	r, ok := s.Reading()
	if !ok {
		log.Debug().Str("strategy", s.cfg.Name).Msg("spread A unavailable, skip")
		return nil, nil
	}
	if !service.EntrySatisfied(r, s.cfg.EntryThreshold) {
		return nil, nil
	}

	futSide, spotSide := model.SideLong, model.SideShort
	if r.Value.IsNegative() {
		futSide, spotSide = model.SideShort, model.SideLong
	}

	s.checkSymbols(s.cfg.LegA.Instrument, s.cfg.LegB.Instrument)

	qty, err := s.quantity(r.PriceA)
	if err != nil {
		return nil, err
	}

	return s.open(ctx, service.Candidate{
		Strategy: s.cfg.Name,
		Scenario: model.ScenarioA,
		LegA:     model.Leg{Venue: s.cfg.LegA.Venue, Instrument: s.cfg.LegA.Instrument, Side: futSide, Quantity: qty},
		LegB:     model.Leg{Venue: s.cfg.LegB.Venue, Instrument: s.cfg.LegB.Instrument, Side: spotSide, Quantity: qty},
	}, r)
}

func (s *ScenarioA) CheckExit(ctx context.Context) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.trackedLocked()
	if !ok || pos.Status != model.StatusOpened {
		return nil, nil
	}

	r, ok := s.Reading()
	if !ok {
		return nil, nil
	}
	if !service.ExitSatisfied(r, s.cfg.ExitThreshold) {
		return nil, nil
	}
	return s.exit(ctx, pos, r)
}
