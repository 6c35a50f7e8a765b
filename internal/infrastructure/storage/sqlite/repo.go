package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"spreadarb/internal/application/port"
	"spreadarb/internal/domain/model"
)

type Repo struct {
	db  *sql.DB
	now func() time.Time
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repo{db: db, now: time.Now}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) GetDB() *sql.DB {
	return r.db
}

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS prices (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  venue TEXT NOT NULL,
  instrument TEXT NOT NULL,
  kind TEXT NOT NULL,
  price TEXT NOT NULL,
  ts_ms INTEGER NOT NULL,
  created_at INTEGER NOT NULL,
  UNIQUE(venue, instrument, kind)
);
CREATE INDEX IF NOT EXISTS idx_prices_ts ON prices(ts_ms);

CREATE TABLE IF NOT EXISTS trade_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts_ms INTEGER NOT NULL,
  event_type TEXT NOT NULL,
  severity TEXT NOT NULL,
  position_id TEXT NOT NULL DEFAULT '',
  scenario TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT '',
  leg TEXT NOT NULL DEFAULT '',
  venue TEXT NOT NULL DEFAULT '',
  instrument TEXT NOT NULL DEFAULT '',
  side TEXT NOT NULL DEFAULT '',
  quantity TEXT NOT NULL DEFAULT '0',
  price TEXT NOT NULL DEFAULT '0',
  pnl TEXT NOT NULL DEFAULT '0',
  order_id TEXT NOT NULL DEFAULT '',
  phase TEXT NOT NULL DEFAULT '',
  reason TEXT NOT NULL DEFAULT '',
  metadata TEXT NOT NULL DEFAULT '{}',
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trade_events_ts ON trade_events(ts_ms);
CREATE INDEX IF NOT EXISTS idx_trade_events_position ON trade_events(position_id);
CREATE INDEX IF NOT EXISTS idx_trade_events_type ON trade_events(event_type);

CREATE TABLE IF NOT EXISTS positions (
  id TEXT PRIMARY KEY,
  strategy TEXT NOT NULL,
  scenario TEXT NOT NULL,
  status TEXT NOT NULL,
  leg_a TEXT NOT NULL,
  leg_b TEXT NOT NULL,
  entry_spread TEXT,
  exit_spread TEXT,
  pnl TEXT,
  error_reason TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  opened_at INTEGER,
  closed_at INTEGER,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
CREATE INDEX IF NOT EXISTS idx_positions_created ON positions(created_at);
`)
	return err
}

func (r *Repo) UpsertLatestPrice(ctx context.Context, s model.PriceSample) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO prices(venue, instrument, kind, price, ts_ms, created_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(venue, instrument, kind) DO UPDATE SET
		price=excluded.price, ts_ms=excluded.ts_ms
	`, s.Venue, s.Instrument, string(s.Kind), s.Price.String(), s.ObservedAt.UnixMilli(), r.now().UnixMilli())
	return err
}

// Record 写入一条审计事件
func (r *Repo) Record(ctx context.Context, ev model.Event) error {
	meta := "{}"
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return err
		}
		meta = string(b)
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = r.now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trade_events(
			ts_ms, event_type, severity, position_id, scenario, status, leg,
			venue, instrument, side, quantity, price, pnl, order_id, phase, reason,
			metadata, created_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ts.UnixMilli(), string(ev.Type), string(ev.Severity), ev.PositionID, string(ev.Scenario),
		string(ev.Status), string(ev.Leg), ev.Venue, ev.Instrument, ev.Side,
		ev.Quantity.String(), ev.Price.String(), ev.PnL.String(), ev.OrderID, ev.Phase, ev.Reason,
		meta, r.now().UnixMilli())
	return err
}

const eventColumns = `ts_ms, event_type, severity, position_id, scenario, status, leg,
	venue, instrument, side, quantity, price, pnl, order_id, phase, reason, metadata`

// PositionEvents 某个持仓的完整事件历史，按时间升序
func (r *Repo) PositionEvents(ctx context.Context, positionID string) ([]model.Event, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+eventColumns+`
		FROM trade_events WHERE position_id=? ORDER BY ts_ms ASC, id ASC`, positionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// RecentEvents 最近的事件，按写入顺序倒序
func (r *Repo) RecentEvents(ctx context.Context, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+eventColumns+`
		FROM trade_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Cleanup 删除早于 olderThan 的事件，返回删除条数
func (r *Repo) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := r.now().Add(-olderThan).UnixMilli()
	res, err := r.db.ExecContext(ctx, `DELETE FROM trade_events WHERE ts_ms < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanEvents(rows *sql.Rows) ([]model.Event, error) {
	var out []model.Event
	for rows.Next() {
		var (
			ev                 model.Event
			ts                 int64
			typ, sev, scen, st string
			leg, meta          string
			qty, price, pnl    string
		)
		if err := rows.Scan(&ts, &typ, &sev, &ev.PositionID, &scen, &st, &leg,
			&ev.Venue, &ev.Instrument, &ev.Side, &qty, &price, &pnl,
			&ev.OrderID, &ev.Phase, &ev.Reason, &meta); err != nil {
			return nil, err
		}
		ev.Timestamp = time.UnixMilli(ts)
		ev.Type = model.EventType(typ)
		ev.Severity = model.Severity(sev)
		ev.Scenario = model.Scenario(scen)
		ev.Status = model.PositionStatus(st)
		ev.Leg = model.LegName(leg)
		ev.Quantity, _ = decimal.NewFromString(qty)
		ev.Price, _ = decimal.NewFromString(price)
		ev.PnL, _ = decimal.NewFromString(pnl)
		if meta != "" && meta != "{}" {
			_ = json.Unmarshal([]byte(meta), &ev.Metadata)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

var _ port.TradeHistory = (*Repo)(nil)
