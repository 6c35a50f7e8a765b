package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"spreadarb/internal/domain/model"
)

// VenueClient 交易所能力接口，所有交易所适配器必须实现
// 超时由实现方负责，返回值必须是确定的成功或失败
type VenueClient interface {
	// PlaceMarketOrder 市价下单，返回成交回报
	PlaceMarketOrder(ctx context.Context, instrument string, side model.Side, quantity decimal.Decimal) (model.Fill, error)

	// GetBalance 查询可用余额
	GetBalance(ctx context.Context, asset string) (decimal.Decimal, error)

	// SetLeverage 设置合约杠杆
	SetLeverage(ctx context.Context, instrument string, leverage decimal.Decimal) error
}

// AuditSink 审计/告警输出，负责持久化与通知
type AuditSink interface {
	Record(ctx context.Context, ev model.Event) error
}

// SymbolChecker 交易对格式检查，仅做提示，不阻断开仓
type SymbolChecker interface {
	CheckSymbolMismatch(a, b string) bool
}

// VenueRegistry 交易所名称 -> 客户端
type VenueRegistry struct {
	mu      sync.RWMutex
	clients map[string]VenueClient
}

func NewVenueRegistry() *VenueRegistry {
	return &VenueRegistry{clients: make(map[string]VenueClient)}
}

// Register 注册交易所客户端
func (r *VenueRegistry) Register(venue string, client VenueClient) error {
	venue = strings.ToUpper(strings.TrimSpace(venue))
	if venue == "" || client == nil {
		return fmt.Errorf("invalid venue or client")
	}
	r.mu.Lock()
	r.clients[venue] = client
	r.mu.Unlock()
	return nil
}

// Get 按名称获取客户端
func (r *VenueRegistry) Get(venue string) (VenueClient, error) {
	r.mu.RLock()
	client, ok := r.clients[strings.ToUpper(strings.TrimSpace(venue))]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownVenue, venue)
	}
	return client, nil
}

// Names 已注册的交易所
func (r *VenueRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.clients))
	for name := range r.clients {
		out = append(out, name)
	}
	return out
}

type noopAudit struct{}

func (noopAudit) Record(context.Context, model.Event) error { return nil }

type noopSymbolChecker struct{}

func (noopSymbolChecker) CheckSymbolMismatch(string, string) bool { return false }
