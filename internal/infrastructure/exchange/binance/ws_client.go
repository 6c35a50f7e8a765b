package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"spreadarb/internal/application/port"
	"spreadarb/internal/domain/model"
	"spreadarb/internal/infrastructure/exchange"
)

var _ port.PriceFeed = (*TickerFeed)(nil)

// TickerFeed Binance 公共行情
// 合约账户订阅 markPrice 流 (MARK)，现货账户订阅 miniTicker 流 (SPOT)
type TickerFeed struct {
	venue   string
	wsURL   string // e.g. wss://fstream.binance.com
	futures bool
	now     func() time.Time
}

func NewTickerFeed(venue, wsURL string, futures bool) *TickerFeed {
	return &TickerFeed{
		venue:   strings.ToUpper(strings.TrimSpace(venue)),
		wsURL:   strings.TrimSpace(wsURL),
		futures: futures,
		now:     time.Now,
	}
}

func (f *TickerFeed) Name() string { return f.venue }

func (f *TickerFeed) kind() model.PriceKind {
	if f.futures {
		return model.PriceMark
	}
	return model.PriceSpot
}

type binanceCombined struct {
	Stream string        `json:"stream"`
	Data   binanceStream `json:"data"`
}

type binanceStream struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Mark      string `json:"p"` // markPriceUpdate
	Close     string `json:"c"` // 24hrMiniTicker
}

// Subscribe 订阅配置里的合约；推送的 Instrument 保持配置写法，便于价格缓存按原名查找
func (f *TickerFeed) Subscribe(ctx context.Context, instruments []string) (<-chan port.Tick, error) {
	symbols := symbolIndex(instruments)
	wsURL, err := buildCombinedURL(f.wsURL, symbols, f.futures)
	if err != nil {
		return nil, err
	}

	out := make(chan port.Tick, 1024)
	go f.run(ctx, wsURL, symbols, out)
	return out, nil
}

// symbolIndex 交易所符号 -> 配置里的合约名
func symbolIndex(instruments []string) map[string][]string {
	idx := make(map[string][]string, len(instruments))
	for _, inst := range instruments {
		inst = strings.ToUpper(strings.TrimSpace(inst))
		if inst == "" {
			continue
		}
		sym := exchange.Normalize(inst)
		idx[sym] = append(idx[sym], inst)
	}
	return idx
}

func buildCombinedURL(base string, symbols map[string][]string, futures bool) (string, error) {
	if base == "" {
		return "", errors.New("binance ws_url empty")
	}
	if len(symbols) == 0 {
		return "", errors.New("instruments empty")
	}

	suffix := "@miniTicker"
	if futures {
		suffix = "@markPrice@1s"
	}
	streams := make([]string, 0, len(symbols))
	for s := range symbols {
		streams = append(streams, strings.ToLower(s)+suffix)
	}
	sort.Strings(streams)

	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = "/stream"
	u.RawQuery = "streams=" + strings.Join(streams, "/")
	return u.String(), nil
}

// decode 一条组合流消息可能对应多个配置合约
func (f *TickerFeed) decode(b []byte, symbols map[string][]string) ([]port.Tick, error) {
	var msg binanceCombined
	if err := json.Unmarshal(b, &msg); err != nil {
		return nil, err
	}
	sym := strings.ToUpper(msg.Data.Symbol)
	pxs := strings.TrimSpace(msg.Data.Close)
	if f.futures {
		pxs = strings.TrimSpace(msg.Data.Mark)
	}
	if sym == "" || pxs == "" {
		return nil, nil
	}
	px, err := decimal.NewFromString(pxs)
	if err != nil {
		return nil, fmt.Errorf("bad price %q: %w", pxs, err)
	}
	ts := msg.Data.EventTime
	if ts == 0 {
		ts = f.now().UnixMilli()
	}

	insts := symbols[sym]
	ticks := make([]port.Tick, 0, len(insts))
	for _, inst := range insts {
		ticks = append(ticks, port.Tick{
			Venue:      f.venue,
			Instrument: inst,
			Kind:       f.kind(),
			PriceStr:   pxs,
			Price:      px,
			Ts:         ts,
		})
	}
	return ticks, nil
}

func (f *TickerFeed) run(ctx context.Context, wsURL string, symbols map[string][]string, out chan<- port.Tick) {
	defer close(out)

	backoff := 500 * time.Millisecond
	maxBackoff := 10 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		log.Warn().Str("feed", f.Name()).Str("url", wsURL).Msg("ws connecting")
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		conn, _, err := websocket.DefaultDialer.DialContext(cctx, wsURL, nil)
		cancel()
		if err != nil {
			log.Error().Str("feed", f.Name()).Err(err).Msg("ws dial failed")
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		backoff = 500 * time.Millisecond
		log.Info().Str("feed", f.Name()).Msg("ws connected")

		err = readLoop(ctx, conn, func(b []byte) {
			ticks, e := f.decode(b, symbols)
			if e != nil {
				log.Error().Str("feed", f.Name()).Err(e).Msg("decode message failed")
				return
			}
			for _, t := range ticks {
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
		})

		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}

		log.Warn().Str("feed", f.Name()).Err(err).Msg("ws disconnected, reconnecting")
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// readLoop 返回时读协程已经退出，onMsg 不会再被调用
func readLoop(ctx context.Context, conn *websocket.Conn, onMsg func([]byte)) error {
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(25 * time.Second)
	defer pingTicker.Stop()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			onMsg(b)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			<-errCh
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-pingTicker.C:
			_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
