package service

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"spreadarb/internal/domain/model"
)

// PriceCache 保存每个 (venue, instrument, kind) 的最新价格，后写覆盖
type PriceCache struct {
	mu      sync.RWMutex
	samples map[model.PriceKey]model.PriceSample
	maxAge  time.Duration // 0 表示不做过期判断
	now     func() time.Time
}

// NewPriceCache 创建价格缓存，maxAge <= 0 时不拒绝旧价格
func NewPriceCache(maxAge time.Duration) *PriceCache {
	return &PriceCache{
		samples: make(map[model.PriceKey]model.PriceSample),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Update 无条件覆盖该键的样本，不校验价格符号与时间先后
func (c *PriceCache) Update(venue, instrument string, kind model.PriceKind, price decimal.Decimal, ts time.Time) {
	key := model.NewPriceKey(venue, instrument, kind)
	sample := model.PriceSample{
		Venue:      key.Venue,
		Instrument: key.Instrument,
		Kind:       kind,
		Price:      price,
		ObservedAt: ts,
	}

	c.mu.Lock()
	c.samples[key] = sample
	c.mu.Unlock()
}

// Get 返回最新样本，不存在或已过期时 ok=false
func (c *PriceCache) Get(venue, instrument string, kind model.PriceKind) (model.PriceSample, bool) {
	key := model.NewPriceKey(venue, instrument, kind)

	c.mu.RLock()
	sample, ok := c.samples[key]
	c.mu.RUnlock()

	if !ok {
		return model.PriceSample{}, false
	}
	if c.maxAge > 0 && c.now().Sub(sample.ObservedAt) > c.maxAge {
		return model.PriceSample{}, false
	}
	return sample, true
}

// Snapshot 返回按键排序的全部样本副本
func (c *PriceCache) Snapshot() []model.PriceSample {
	c.mu.RLock()
	out := make([]model.PriceSample, 0, len(c.samples))
	for _, s := range c.samples {
		out = append(out, s)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key().String() < out[j].Key().String()
	})
	return out
}

// Len 缓存条目数
func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.samples)
}
