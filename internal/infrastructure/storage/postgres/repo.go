package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "github.com/jackc/pgx/v5/stdlib"

	"spreadarb/internal/application/port"
	"spreadarb/internal/domain/model"
)

type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS trade_events (
  id BIGSERIAL PRIMARY KEY,
  ts_ms BIGINT NOT NULL,
  event_type TEXT NOT NULL,
  severity TEXT NOT NULL,
  position_id TEXT NOT NULL DEFAULT '',
  scenario TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT '',
  leg TEXT NOT NULL DEFAULT '',
  venue TEXT NOT NULL DEFAULT '',
  instrument TEXT NOT NULL DEFAULT '',
  side TEXT NOT NULL DEFAULT '',
  quantity NUMERIC NOT NULL DEFAULT 0,
  price NUMERIC NOT NULL DEFAULT 0,
  pnl NUMERIC NOT NULL DEFAULT 0,
  order_id TEXT NOT NULL DEFAULT '',
  phase TEXT NOT NULL DEFAULT '',
  reason TEXT NOT NULL DEFAULT '',
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS idx_trade_events_ts ON trade_events(ts_ms);
CREATE INDEX IF NOT EXISTS idx_trade_events_position ON trade_events(position_id);

CREATE TABLE IF NOT EXISTS latest_prices (
  venue TEXT NOT NULL,
  instrument TEXT NOT NULL,
  kind TEXT NOT NULL,
  price NUMERIC NOT NULL,
  ts_ms BIGINT NOT NULL,
  PRIMARY KEY (venue, instrument, kind)
);
`)
	return err
}

func (r *Repo) UpsertLatestPrice(ctx context.Context, s model.PriceSample) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO latest_prices(venue, instrument, kind, price, ts_ms)
		VALUES($1, $2, $3, $4, $5)
		ON CONFLICT(venue, instrument, kind) DO UPDATE SET
		price=EXCLUDED.price, ts_ms=EXCLUDED.ts_ms
	`, s.Venue, s.Instrument, string(s.Kind), s.Price.String(), s.ObservedAt.UnixMilli())
	return err
}

func (r *Repo) Record(ctx context.Context, ev model.Event) error {
	meta := []byte("{}")
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return err
		}
		meta = b
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trade_events(
			ts_ms, event_type, severity, position_id, scenario, status, leg,
			venue, instrument, side, quantity, price, pnl, order_id, phase, reason, metadata
		) VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, ev.Timestamp.UnixMilli(), string(ev.Type), string(ev.Severity), ev.PositionID,
		string(ev.Scenario), string(ev.Status), string(ev.Leg), ev.Venue, ev.Instrument, ev.Side,
		ev.Quantity.String(), ev.Price.String(), ev.PnL.String(), ev.OrderID, ev.Phase, ev.Reason, string(meta))
	return err
}

var _ port.Repository = (*Repo)(nil)
