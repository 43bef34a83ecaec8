// Package symbol holds the registry of known trading pairs: their
// base/quote split and the synthetic-data parameters (base price, intra-bar
// volatility) used when seeding a history-free symbol.
package symbol

// Symbol describes one tradable pair.
type Symbol struct {
	Ticker               string
	Base                 string
	Quote                string
	BasePrice            float64
	TickSize             float64
	VolatilityMultiplier float64
}

// AllSymbols returns the registry of known pairs. BasePrice/VolatilityMultiplier
// are rough orders of magnitude for synthetic seeding, not live quotes.
func AllSymbols() []Symbol {
	return []Symbol{
		{"BTCUSDT", "BTC", "USDT", 60000.00, 0.01, 1.0},
		{"ETHUSDT", "ETH", "USDT", 3200.00, 0.01, 1.2},
		{"BNBUSDT", "BNB", "USDT", 560.00, 0.01, 1.1},
		{"SOLUSDT", "SOL", "USDT", 140.00, 0.001, 1.6},
		{"XRPUSDT", "XRP", "USDT", 0.55, 0.0001, 1.3},
		{"ADAUSDT", "ADA", "USDT", 0.45, 0.0001, 1.2},
		{"DOGEUSDT", "DOGE", "USDT", 0.12, 0.00001, 1.8},
		{"MATICUSDT", "MATIC", "USDT", 0.75, 0.0001, 1.4},
		{"DOTUSDT", "DOT", "USDT", 6.50, 0.001, 1.3},
		{"LTCUSDT", "LTC", "USDT", 85.00, 0.01, 1.0},
		{"AVAXUSDT", "AVAX", "USDT", 35.00, 0.001, 1.5},
		{"LINKUSDT", "LINK", "USDT", 14.00, 0.001, 1.3},
		{"ATOMUSDT", "ATOM", "USDT", 9.50, 0.001, 1.1},
		{"UNIUSDT", "UNI", "USDT", 7.00, 0.001, 1.2},
		{"ETCUSDT", "ETC", "USDT", 22.00, 0.001, 1.1},
		{"FILUSDT", "FIL", "USDT", 5.50, 0.001, 1.3},
		{"APTUSDT", "APT", "USDT", 8.00, 0.001, 1.5},
		{"ARBUSDT", "ARB", "USDT", 1.10, 0.0001, 1.4},
		{"OPUSDT", "OP", "USDT", 2.20, 0.0001, 1.4},
		{"NEARUSDT", "NEAR", "USDT", 5.00, 0.001, 1.3},
		{"ETHBTC", "ETH", "BTC", 0.053, 0.000001, 0.8},
		{"BNBBTC", "BNB", "BTC", 0.0093, 0.0000001, 0.8},
		{"BTCBUSD", "BTC", "BUSD", 60000.00, 0.01, 1.0},
		{"ETHBUSD", "ETH", "BUSD", 3200.00, 0.01, 1.2},
		{"BTCUSDC", "BTC", "USDC", 60000.00, 0.01, 1.0},
	}
}

// ByTicker returns a map from ticker to symbol for quick lookups.
func ByTicker() map[string]*Symbol {
	syms := AllSymbols()
	m := make(map[string]*Symbol, len(syms))
	for i := range syms {
		m[syms[i].Ticker] = &syms[i]
	}
	return m
}
