package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"spreadarb/internal/application/port"
	"spreadarb/internal/domain/model"
)

type Repo struct {
	rdb         *redis.Client
	prefix      string
	ttl         time.Duration
	keyLatest   string // prefix + ":latest"
	eventStream string
	eventChan   string
	maxLen      int64
}

type LatestPrice struct {
	Venue      string `json:"venue"`
	Instrument string `json:"instrument"`
	Kind       string `json:"kind"`
	Price      string `json:"price"`
	Ts         int64  `json:"ts"`
}

func New(rdb *redis.Client, prefix string, ttl time.Duration, eventStream, eventChan string, maxLen int64) *Repo {
	if strings.TrimSpace(prefix) == "" {
		prefix = "spreadarb"
	}
	if strings.TrimSpace(eventStream) == "" {
		eventStream = prefix + ":events"
	}
	if strings.TrimSpace(eventChan) == "" {
		eventChan = prefix + ":events:pub"
	}
	return &Repo{
		rdb:         rdb,
		prefix:      prefix,
		ttl:         ttl,
		keyLatest:   prefix + ":latest",
		eventStream: eventStream,
		eventChan:   eventChan,
		maxLen:      maxLen,
	}
}

// Close 连接由创建方关闭
func (r *Repo) Close() error { return nil }

func (r *Repo) UpsertLatestPrice(ctx context.Context, s model.PriceSample) error {
	if s.Price.Sign() <= 0 {
		return nil
	}
	b, err := json.Marshal(LatestPrice{
		Venue:      s.Venue,
		Instrument: s.Instrument,
		Kind:       string(s.Kind),
		Price:      s.Price.String(),
		Ts:         s.ObservedAt.UnixMilli(),
	})
	if err != nil {
		return err
	}

	// Hash: field = "BINANCE:BTCUSDT_PERP:MARK" -> json
	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, r.keyLatest, s.Key().String(), string(b))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyLatest, r.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Record XADD 到事件流，并 PUBLISH 一份 JSON 给实时订阅者
func (r *Repo) Record(ctx context.Context, ev model.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: r.eventStream,
		Values: streamValues(ev, string(payload)),
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if _, err := r.rdb.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("xadd %s: %w", r.eventStream, err)
	}
	return r.rdb.Publish(ctx, r.eventChan, payload).Err()
}

func streamValues(ev model.Event, payload string) map[string]any {
	return map[string]any{
		"ts_ms":       ev.Timestamp.UnixMilli(),
		"event_type":  string(ev.Type),
		"severity":    string(ev.Severity),
		"position_id": ev.PositionID,
		"payload":     payload,
	}
}

var _ port.Repository = (*Repo)(nil)
