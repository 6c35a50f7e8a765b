package strategy

import (
	"context"

	"github.com/rs/zerolog/log"

	"spreadarb/internal/domain/model"
	"spreadarb/internal/domain/service"
)

// ScenarioB 跨交易所永续 vs 永续
// 低价腿做多、高价腿做空；平仓沿用开仓时记录的方向，不按当前价格重新判定
type ScenarioB struct {
	base
}

func NewScenarioB(cfg Config, deps Deps) *ScenarioB {
	cfg.Scenario = model.ScenarioB
	return &ScenarioB{base: newBase(cfg, deps)}
}

// Reading 当前价差读数，便宜的一腿为 LegA
func (s *ScenarioB) Reading() (model.SpreadReading, bool) {
	return s.deps.Spreads.SpreadB(s.cfg.LegA.Venue, s.cfg.LegA.Instrument, s.cfg.LegB.Venue, s.cfg.LegB.Instrument)
}

func (s *ScenarioB) CheckEntry(ctx context.Context) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trackedLocked(); ok {
		return nil, nil
	}

	r, ok := s.Reading()
	if !ok {
		log.Debug().Str("strategy", s.cfg.Name).Msg("spread B unavailable, skip")
		return nil, nil
	}
	if !service.EntrySatisfied(r, s.cfg.EntryThreshold) {
		return nil, nil
	}

	s.checkSymbols(s.cfg.LegA.Instrument, s.cfg.LegB.Instrument)

	qty, err := s.quantity(r.PriceA)
	if err != nil {
		return nil, err
	}

	return s.open(ctx, service.Candidate{
		Strategy: s.cfg.Name,
		Scenario: model.ScenarioB,
		LegA:     model.Leg{Venue: r.LegA.Venue, Instrument: r.LegA.Instrument, Side: model.SideLong, Quantity: qty},
		LegB:     model.Leg{Venue: r.LegB.Venue, Instrument: r.LegB.Instrument, Side: model.SideShort, Quantity: qty},
	}, r)
}

func (s *ScenarioB) CheckExit(ctx context.Context) (*model.Position, error) {
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
	if !sameLeg(r.LegA, pos.LegA.Ref()) {
		log.Info().
			Str("strategy", s.cfg.Name).
			Str("position_id", pos.ID).
			Msg("cheap/expensive legs swapped since entry, closing with recorded sides")
	}
	return s.exit(ctx, pos, r)
}
