package exchange

import (
	"strings"
)

// 常见计价币，长的在前，避免 BUSD 被 USD 截断
var quoteAssets = []string{"FDUSD", "USDT", "USDC", "BUSD", "TUSD", "USDD", "DAI", "BTC", "ETH"}

// 衍生品后缀
var derivativeSuffixes = []string{"_PERP", "-PERP", "-SWAP", "_SWAP"}

// SymbolNormalizer 交易对格式统一
// BTCUSDT / BTC-USDT / BTC/USDT / BTCUSDT_PERP / BTC-USDT-SWAP 都视为 BTCUSDT
type SymbolNormalizer struct{}

func NewSymbolNormalizer() *SymbolNormalizer { return &SymbolNormalizer{} }

// Normalize 去掉衍生品后缀和分隔符
func (SymbolNormalizer) Normalize(symbol string) string {
	return Normalize(symbol)
}

// CheckSymbolMismatch 两条腿归一化后不同返回 true
func (SymbolNormalizer) CheckSymbolMismatch(a, b string) bool {
	return Normalize(a) != Normalize(b)
}

// Normalize 例: btc-usdt-swap -> BTCUSDT
func Normalize(symbol string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return ""
	}
	for _, suffix := range derivativeSuffixes {
		sym = strings.TrimSuffix(sym, suffix)
	}
	return strings.NewReplacer("-", "", "/", "", "_", "", " ", "").Replace(sym)
}

// SplitBaseQuote 例: BTC-USDT -> (BTC, USDT), BTCUSDT -> (BTC, USDT), BTC -> (BTC, "")
func SplitBaseQuote(symbol string) (base, quote string) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	for _, suffix := range derivativeSuffixes {
		sym = strings.TrimSuffix(sym, suffix)
	}
	for _, sep := range []string{"-", "/"} {
		if parts := strings.Split(sym, sep); len(parts) == 2 {
			return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		}
	}
	for _, q := range quoteAssets {
		if strings.HasSuffix(sym, q) && len(sym) > len(q) {
			return sym[:len(sym)-len(q)], q
		}
	}
	return sym, ""
}
