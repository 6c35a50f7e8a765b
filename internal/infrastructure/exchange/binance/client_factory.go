package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"golang.org/x/time/rate"
)

// ===== Credentials 凭证 =====

// Credentials 包含 API 凭证和签名方法
type Credentials struct {
	apiKey    string
	apiSecret string
}

// NewCredentials 创建凭证对象
func NewCredentials(apiKey, apiSecret string) *Credentials {
	return &Credentials{
		apiKey:    apiKey,
		apiSecret: apiSecret,
	}
}

// Sign 生成 HMAC-SHA256 签名
func (c *Credentials) Sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// APIKey 返回 API Key
func (c *Credentials) APIKey() string {
	return c.apiKey
}

// ClientOptions REST 客户端参数
type ClientOptions struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Timeout    time.Duration
	RecvWindow time.Duration
	RatePerSec float64
	Burst      int
}

// APIClient 签名 REST 客户端
// 每个请求先过限速器，再经熔断器执行；下单不做自动重试
type APIClient struct {
	credentials *Credentials
	httpClient  *http.Client
	baseURL     string
	recvWindow  time.Duration
	limiter     *rate.Limiter
	pipeline    failsafe.Executor[*http.Response]
	now         func() time.Time
}

// NewAPIClient 创建 REST 客户端
func NewAPIClient(opts ClientOptions) *APIClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.RecvWindow <= 0 {
		opts.RecvWindow = 5 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	// 5xx 或网络错误计入失败，10 次中 5 次失败即熔断 10s
	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(5, 10).
		WithDelay(10 * time.Second).
		Build()

	return &APIClient{
		credentials: NewCredentials(opts.APIKey, opts.APISecret),
		httpClient:  &http.Client{Timeout: opts.Timeout},
		baseURL:     opts.BaseURL,
		recvWindow:  opts.RecvWindow,
		limiter:     rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		pipeline:    failsafe.With[*http.Response](breaker),
		now:         time.Now,
	}
}
