package accounts

import (
	"context"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/uri157/exchange-simulator/internal/core"
)

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestSplitSymbolCommonQuotes(t *testing.T) {
	cases := []struct {
		symbol, base, quote string
	}{
		{"BTCUSDT", "BTC", "USDT"},
		{"ETHBTC", "ETH", "BTC"},
		{"XRPUSD", "XRP", "USD"},
	}
	for _, c := range cases {
		base, quote := SplitSymbol(c.symbol, "USDT")
		if base != c.base || quote != c.quote {
			t.Errorf("SplitSymbol(%q) = (%q,%q), want (%q,%q)", c.symbol, base, quote, c.base, c.quote)
		}
	}
}

func TestSplitSymbolFallsBackToEvenSplit(t *testing.T) {
	base, quote := SplitSymbol("ABCDEF", "ZZZ")
	if base != "ABC" || quote != "DEF" {
		t.Errorf("got (%q,%q), want (ABC, DEF)", base, quote)
	}
}

func TestEnsureSessionAccountIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewRepo(), "USDT", 10000)
	sid := uuid.New()

	if err := svc.EnsureSessionAccount(ctx, sid); err != nil {
		t.Fatal(err)
	}
	snap, _ := svc.GetAccount(ctx, sid)
	if snap.Balances["USDT"].Free != 10000 {
		t.Fatalf("seed balance = %v, want 10000", snap.Balances["USDT"].Free)
	}

	// mutate then re-ensure: must not reset
	svc.ApplyExecution(ctx, sid, "BTCUSDT", core.SideBuy, 0.01, 600, 0.6, "USDT")
	if err := svc.EnsureSessionAccount(ctx, sid); err != nil {
		t.Fatal(err)
	}
	snap, _ = svc.GetAccount(ctx, sid)
	if snap.Balances["USDT"].Free == 10000 {
		t.Fatal("EnsureSessionAccount clobbered existing balances")
	}
}

func TestApplyExecutionMarketBuyScenario(t *testing.T) {
	// Mirrors spec scenario S1.
	ctx := context.Background()
	svc := NewService(NewRepo(), "USDT", 10000)
	sid := uuid.New()
	svc.EnsureSessionAccount(ctx, sid)

	snap, err := svc.ApplyExecution(ctx, sid, "BTCUSDT", core.SideBuy, 0.01, 600, 0.6, "USDT")
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(snap.Balances["BTC"].Free, 0.01) {
		t.Errorf("BTC free = %v, want 0.01", snap.Balances["BTC"].Free)
	}
	want := 10000 - 600 - 0.6
	if !almostEqual(snap.Balances["USDT"].Free, want) {
		t.Errorf("USDT free = %v, want %v", snap.Balances["USDT"].Free, want)
	}
}

func TestApplyExecutionSellScenario(t *testing.T) {
	// Mirrors spec scenario S3's aggregate effect.
	ctx := context.Background()
	svc := NewService(NewRepo(), "USDT", 10000)
	sid := uuid.New()
	svc.EnsureSessionAccount(ctx, sid)
	svc.GetAccount(ctx, sid)

	// seed BTC balance directly through a buy-side credit first.
	svc.ApplyExecution(ctx, sid, "BTCUSDT", core.SideBuy, 1.0, 0, 0, "USDT")

	snap, err := svc.ApplyExecution(ctx, sid, "BTCUSDT", core.SideSell, 0.4, 0.4*61000, 0.4*61000*0.0008, "USDT")
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(snap.Balances["BTC"].Free, 0.6) {
		t.Errorf("BTC free = %v, want 0.6", snap.Balances["BTC"].Free)
	}
	wantUSDT := 10000 + 0.4*61000 - 0.4*61000*0.0008
	if !almostEqual(snap.Balances["USDT"].Free, wantUSDT) {
		t.Errorf("USDT free = %v, want %v", snap.Balances["USDT"].Free, wantUSDT)
	}
}

func TestApplyExecutionAllowsNegativeBalance(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewRepo(), "USDT", 10)
	sid := uuid.New()
	svc.EnsureSessionAccount(ctx, sid)

	snap, err := svc.ApplyExecution(ctx, sid, "BTCUSDT", core.SideBuy, 1.0, 60000, 48, "USDT")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Balances["USDT"].Free >= 0 {
		t.Fatalf("expected negative USDT balance, got %v", snap.Balances["USDT"].Free)
	}
}
