package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"spreadarb/internal/application/port"
	"spreadarb/internal/application/strategy"
	"spreadarb/internal/domain/model"
)

const cleanupEvery = time.Hour

// Service 行情 -> 价格缓存 -> 定时评估策略 -> 下单
type Service struct {
	deps ServiceDeps
	repo port.Repository
	hist PositionStore
	obs  Observer
	now  func() time.Time

	saved map[string]model.PositionStatus // 已写入历史的状态，仅评估协程访问
}

func NewService(deps ServiceDeps) *Service {
	if deps.EvalInterval <= 0 {
		deps.EvalInterval = time.Second
	}
	if deps.ReportEvery <= 0 {
		deps.ReportEvery = 5 * time.Minute
	}
	if deps.HistoryRetention <= 0 {
		deps.HistoryRetention = 24 * time.Hour
	}
	s := &Service{
		deps:  deps,
		repo:  deps.Repo,
		hist:  deps.History,
		obs:   deps.Observer,
		now:   time.Now,
		saved: map[string]model.PositionStatus{},
	}
	if s.repo == nil {
		s.repo = NewNoopRepo()
	}
	if s.hist == nil {
		s.hist = noopStore{}
	}
	if s.obs == nil {
		s.obs = noopObserver{}
	}
	if s.deps.Sink == nil {
		s.deps.Sink = discardSink{}
	}
	return s
}

// Run 阻塞直到 ctx 取消；ctx 取消视为正常退出
func (s *Service) Run(ctx context.Context) error {
	if len(s.deps.Feeds) == 0 {
		return errors.New("no feeds")
	}
	if len(s.deps.Strategies) == 0 {
		return errors.New("no strategies")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	merged := make(chan port.Tick, 1024)
	g, gctx := errgroup.WithContext(ctx)

	// start feeds
	for _, b := range s.deps.Feeds {
		ch, err := b.Feed.Subscribe(gctx, b.Instruments)
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("subscribe %s: %w", b.Feed.Name(), err)
		}
		name := b.Feed.Name()
		g.Go(func() error {
			pump(gctx, ch, merged)
			log.Warn().Str("feed", name).Msg("feed stopped")
			return nil
		})
		log.Info().Str("feed", name).Strs("instruments", b.Instruments).Msg("feed started")
	}

	g.Go(func() error { return s.applyLoop(gctx, merged) })
	g.Go(func() error { return s.evalLoop(gctx) })

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func pump(ctx context.Context, in <-chan port.Tick, out chan<- port.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- t:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Service) applyLoop(ctx context.Context, in <-chan port.Tick) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-in:
			s.Apply(ctx, t)
		}
	}
}

// Apply 写入价格缓存并镜像到存储；以本地接收时间作为观测时间
func (s *Service) Apply(ctx context.Context, t port.Tick) {
	if t.Price.Sign() <= 0 {
		return
	}
	sample := model.PriceSample{
		Venue:      t.Venue,
		Instrument: t.Instrument,
		Kind:       t.Kind,
		Price:      t.Price,
		ObservedAt: s.now(),
	}
	s.deps.Cache.Update(sample.Venue, sample.Instrument, sample.Kind, sample.Price, sample.ObservedAt)
	s.obs.PriceUpdated(sample.Venue, sample.Kind)

	if err := s.repo.UpsertLatestPrice(ctx, sample); err != nil {
		log.Debug().Err(err).Str("venue", t.Venue).Str("instrument", t.Instrument).Msg("mirror price failed")
	}
}

func (s *Service) evalLoop(ctx context.Context) error {
	evalTicker := time.NewTicker(s.deps.EvalInterval)
	defer evalTicker.Stop()
	reportTicker := time.NewTicker(s.deps.ReportEvery)
	defer reportTicker.Stop()
	cleanupTicker := time.NewTicker(cleanupEvery)
	defer cleanupTicker.Stop()

	s.cleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			if s.deps.Live {
				_ = s.deps.Sink.NewLine()
			}
			// 退出前把最新状态落盘
			s.syncHistory(context.WithoutCancel(ctx))
			return ctx.Err()

		case <-evalTicker.C:
			s.Evaluate(ctx)
			if s.deps.Live {
				_ = s.deps.Sink.WriteLive(RenderLive(s.deps.Strategies))
			}

		case now := <-reportTicker.C:
			s.Report(now)

		case <-cleanupTicker.C:
			s.cleanup(ctx)
		}
	}
}

// Evaluate 每个策略: 有跟踪持仓时检查平仓，否则检查开仓
func (s *Service) Evaluate(ctx context.Context) {
	for _, st := range s.deps.Strategies {
		if ctx.Err() != nil {
			return
		}
		s.evaluateOne(ctx, st)
	}
	s.syncHistory(ctx)
	s.obs.SetActivePositions(len(s.deps.Ledger.ListActive()))
}

func (s *Service) evaluateOne(ctx context.Context, st strategy.Strategy) {
	var (
		pos   *model.Position
		err   error
		phase = "entry"
	)
	if _, tracked := st.Tracked(); tracked {
		phase = "exit"
		pos, err = st.CheckExit(ctx)
	} else {
		pos, err = st.CheckEntry(ctx)
	}

	switch {
	case err != nil:
		s.obs.Evaluated(st.Name(), "error")
		logEvalError(st.Name(), phase, err)
	case pos != nil:
		s.obs.Evaluated(st.Name(), "signal")
		log.Info().
			Str("strategy", st.Name()).
			Str("position_id", pos.ID).
			Str("status", string(pos.Status)).
			Msg(phase + " executed")
	default:
		s.obs.Evaluated(st.Name(), "idle")
	}
}

func logEvalError(name, phase string, err error) {
	switch {
	case model.IsExpected(err):
		log.Warn().Err(err).Str("strategy", name).Str("phase", phase).Msg("skipped")
	case model.IsCritical(err):
		log.Error().Err(err).Bool("critical", true).Str("strategy", name).Str("phase", phase).Msg("manual intervention required")
	default:
		log.Error().Err(err).Str("strategy", name).Str("phase", phase).Msg("evaluation failed")
	}
}

// syncHistory 状态变化过的持仓写入历史
func (s *Service) syncHistory(ctx context.Context) {
	for _, p := range s.deps.Ledger.List() {
		if s.saved[p.ID] == p.Status {
			continue
		}
		if err := s.hist.SavePosition(ctx, p); err != nil {
			log.Warn().Err(err).Str("position_id", p.ID).Msg("save position failed")
			continue
		}
		s.saved[p.ID] = p.Status
	}
}

// Report 打印持仓表
func (s *Service) Report(now time.Time) {
	body := RenderPositions(s.deps.Ledger.List(), now)
	_ = s.deps.Sink.WriteReport(now, body)
}

func (s *Service) cleanup(ctx context.Context) {
	n, err := s.hist.Cleanup(ctx, s.deps.HistoryRetention)
	if err != nil {
		log.Warn().Err(err).Msg("history cleanup failed")
		return
	}
	if n > 0 {
		log.Info().Int64("deleted", n).Dur("retention", s.deps.HistoryRetention).Msg("history cleaned")
	}
}
