package engine

import (
	"context"
	"time"

	"spreadarb/internal/application/port"
	"spreadarb/internal/domain/model"
)

type noopRepo struct{}

func NewNoopRepo() port.Repository { return &noopRepo{} }

func (n *noopRepo) Record(context.Context, model.Event) error                  { return nil }
func (n *noopRepo) UpsertLatestPrice(context.Context, model.PriceSample) error { return nil }
func (n *noopRepo) Close() error                                               { return nil }

type noopStore struct{}

func (noopStore) SavePosition(context.Context, model.Position) error    { return nil }
func (noopStore) Cleanup(context.Context, time.Duration) (int64, error) { return 0, nil }

type noopObserver struct{}

func (noopObserver) PriceUpdated(string, model.PriceKind) {}
func (noopObserver) Evaluated(string, string)             {}
func (noopObserver) SetActivePositions(int)               {}

type discardSink struct{}

func (discardSink) WriteLive(string) error              { return nil }
func (discardSink) WriteReport(time.Time, string) error { return nil }
func (discardSink) NewLine() error                      { return nil }
