package engine

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"spreadarb/internal/application/strategy"
	"spreadarb/internal/domain/model"
	"spreadarb/internal/domain/service"
)

const (
	ansiReset    = "\033[0m"
	ansiRed      = "\033[31m"
	ansiGreen    = "\033[32m"
	ansiYellow   = "\033[33m"
	ansiDim      = "\033[2m"
	ansiClearEOL = "\033[K"
)

func colorize(s, c string) string { return c + s + ansiReset }

// RenderLive 单行价差: 达到开仓阈值绿色，持仓中黄色，其余暗色
func RenderLive(strategies []strategy.Strategy) string {
	var sb strings.Builder
	sb.WriteString("\r")
	sb.WriteString(colorize("[SPREADARB] ", ansiDim))

	for i, st := range strategies {
		if i > 0 {
			sb.WriteString(colorize("  ||  ", ansiDim))
		}
		sb.WriteString(st.Name())
		sb.WriteString(" ")

		r, ok := st.Reading()
		if !ok {
			sb.WriteString(colorize("Δ=--", ansiDim))
			continue
		}
		col := ansiDim
		switch {
		case isTracked(st):
			col = ansiYellow
		case service.EntrySatisfied(r, st.Config().EntryThreshold):
			col = ansiGreen
		}
		sb.WriteString(colorize(fmt.Sprintf("A:%s B:%s Δ=%s", r.PriceA, r.PriceB, r.Value.StringFixed(4)), col))
	}

	sb.WriteString(ansiClearEOL)
	return sb.String()
}

func isTracked(st strategy.Strategy) bool {
	_, ok := st.Tracked()
	return ok
}

// RenderPositions 持仓表与汇总行
func RenderPositions(positions []model.Position, now time.Time) string {
	var buf bytes.Buffer

	var active, closed, failed int
	total := decimal.Zero
	tbl := tablewriter.NewWriter(&buf)
	tbl.Header("ID", "Strategy", "Sc", "Leg A", "Leg B", "Status", "Entry Δ", "Exit Δ", "PnL", "Age", "Note")
	for _, p := range positions {
		switch {
		case p.Status.IsActive():
			active++
		case p.Status == model.StatusClosed:
			closed++
		case p.Status == model.StatusError:
			failed++
		}
		if p.PnL.Valid {
			total = total.Add(p.PnL.Decimal)
		}
		_ = tbl.Append(
			shortID(p.ID),
			p.Strategy,
			string(p.Scenario),
			legLabel(p.LegA),
			legLabel(p.LegB),
			string(p.Status),
			nullFixed(p.EntrySpread, 4),
			nullFixed(p.ExitSpread, 4),
			nullFixed(p.PnL, 4),
			age(p, now),
			truncate(p.ErrorReason, 40),
		)
	}
	_ = tbl.Render()

	fmt.Fprintf(&buf, "active=%d closed=%d error=%d realized_pnl=%s\n", active, closed, failed, total.StringFixed(4))
	return buf.String()
}

func legLabel(l model.Leg) string {
	return fmt.Sprintf("%s %s %s", l.Side, l.Quantity.String(), l.Ref())
}

func nullFixed(d decimal.NullDecimal, places int32) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.StringFixed(places)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func age(p model.Position, now time.Time) string {
	end := now
	if p.ClosedAt != nil {
		end = *p.ClosedAt
	}
	return end.Sub(p.CreatedAt).Truncate(time.Second).String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
