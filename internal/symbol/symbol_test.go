package symbol

import "testing"

func TestTickersUnique(t *testing.T) {
	seen := make(map[string]bool)
	for _, s := range AllSymbols() {
		if seen[s.Ticker] {
			t.Fatalf("duplicate ticker %s", s.Ticker)
		}
		seen[s.Ticker] = true
	}
}

func TestPositivePrices(t *testing.T) {
	for _, s := range AllSymbols() {
		if s.BasePrice <= 0 {
			t.Fatalf("non-positive base price %f for %s", s.BasePrice, s.Ticker)
		}
	}
}

func TestBaseQuoteSplitMatchesTicker(t *testing.T) {
	for _, s := range AllSymbols() {
		if s.Base+s.Quote != s.Ticker {
			t.Fatalf("%s: base %q + quote %q != ticker", s.Ticker, s.Base, s.Quote)
		}
	}
}

func TestByTickerLookup(t *testing.T) {
	m := ByTicker()
	s, ok := m["BTCUSDT"]
	if !ok {
		t.Fatal("BTCUSDT not found in ByTicker")
	}
	if s.Base != "BTC" || s.Quote != "USDT" {
		t.Fatalf("BTCUSDT split = (%s,%s), want (BTC,USDT)", s.Base, s.Quote)
	}
}

func TestByTickerMissing(t *testing.T) {
	m := ByTicker()
	if _, ok := m["ZZZZUSDT"]; ok {
		t.Fatal("expected ZZZZUSDT to be missing")
	}
}
