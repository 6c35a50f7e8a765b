package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"spreadarb/internal/domain/model"
)

// SavePosition 写入或更新持仓快照
func (r *Repo) SavePosition(ctx context.Context, pos model.Position) error {
	legA, err := json.Marshal(pos.LegA)
	if err != nil {
		return err
	}
	legB, err := json.Marshal(pos.LegB)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO positions(
			id, strategy, scenario, status, leg_a, leg_b,
			entry_spread, exit_spread, pnl, error_reason,
			created_at, opened_at, closed_at, updated_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, leg_a=excluded.leg_a, leg_b=excluded.leg_b,
			entry_spread=excluded.entry_spread, exit_spread=excluded.exit_spread,
			pnl=excluded.pnl, error_reason=excluded.error_reason,
			opened_at=excluded.opened_at, closed_at=excluded.closed_at,
			updated_at=excluded.updated_at
	`, pos.ID, pos.Strategy, string(pos.Scenario), string(pos.Status), string(legA), string(legB),
		nullDecimal(pos.EntrySpread), nullDecimal(pos.ExitSpread), nullDecimal(pos.PnL), pos.ErrorReason,
		pos.CreatedAt.UnixMilli(), nullTime(pos.OpenedAt), nullTime(pos.ClosedAt), r.now().UnixMilli())
	return err
}

// ListPositions 按创建时间倒序列出持仓
func (r *Repo) ListPositions(ctx context.Context, limit int) ([]model.Position, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, strategy, scenario, status, leg_a, leg_b,
		       entry_spread, exit_spread, pnl, error_reason,
		       created_at, opened_at, closed_at
		FROM positions
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var (
			pos                model.Position
			scenario, status   string
			legA, legB         string
			entry, exit, pnl   sql.NullString
			created            int64
			openedAt, closedAt sql.NullInt64
		)
		if err := rows.Scan(&pos.ID, &pos.Strategy, &scenario, &status, &legA, &legB,
			&entry, &exit, &pnl, &pos.ErrorReason, &created, &openedAt, &closedAt); err != nil {
			return nil, err
		}
		pos.Scenario = model.Scenario(scenario)
		pos.Status = model.PositionStatus(status)
		if err := json.Unmarshal([]byte(legA), &pos.LegA); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(legB), &pos.LegB); err != nil {
			return nil, err
		}
		pos.EntrySpread = parseNullDecimal(entry)
		pos.ExitSpread = parseNullDecimal(exit)
		pos.PnL = parseNullDecimal(pnl)
		pos.CreatedAt = time.UnixMilli(created)
		if openedAt.Valid {
			t := time.UnixMilli(openedAt.Int64)
			pos.OpenedAt = &t
		}
		if closedAt.Valid {
			t := time.UnixMilli(closedAt.Int64)
			pos.ClosedAt = &t
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

func nullDecimal(d decimal.NullDecimal) sql.NullString {
	if !d.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Decimal.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) decimal.NullDecimal {
	if !s.Valid {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
