package exchange

import "strings"

var knownQuotes = []string{"USDT", "USDC", "FDUSD", "BUSD", "TUSD", "BTC", "ETH", "BNB", "EUR", "TRY"}

// NormalizeSymbol converts "btc/usdt" or "BTC-USDT" into "BTCUSDT".
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)
}

// SplitSymbol returns the base and quote assets of a pair. Explicit
// separators win; otherwise the longest known quote suffix is used.
func SplitSymbol(symbol string) (base, quote string, ok bool) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, sep := range []string{"/", "-", "_"} {
		if parts := strings.SplitN(s, sep, 2); len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			return parts[0], parts[1], true
		}
	}

	best := ""
	for _, q := range knownQuotes {
		if strings.HasSuffix(s, q) && len(s) > len(q) && len(q) > len(best) {
			best = q
		}
	}
	if best == "" {
		return "", "", false
	}
	return strings.TrimSuffix(s, best), best, true
}
