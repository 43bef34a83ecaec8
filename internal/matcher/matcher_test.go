package matcher

import (
	"context"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/uri157/exchange-simulator/internal/accounts"
	"github.com/uri157/exchange-simulator/internal/core"
	"github.com/uri157/exchange-simulator/internal/orders"
)

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func newHarness(t *testing.T, cfg Config) (*Matcher, core.OrdersRepo, *accounts.Service, uuid.UUID) {
	t.Helper()
	repo := orders.NewRepo()
	acctRepo := accounts.NewRepo()
	acctSvc := accounts.NewService(acctRepo, "USDT", 10000)
	sid := uuid.New()
	ctx := context.Background()
	if err := acctSvc.EnsureSessionAccount(ctx, sid); err != nil {
		t.Fatal(err)
	}
	return New(cfg, repo, acctSvc), repo, acctSvc, sid
}

// S1 — Market buy fills on next trade.
func TestMarketBuyFillsOnNextTrade(t *testing.T) {
	ctx := context.Background()
	cfg := Config{MakerBps: 8, TakerBps: 10, PartialFills: true, DefaultQuote: "USDT"}
	m, repo, acctSvc, sid := newHarness(t, cfg)

	order := core.Order{
		ID: uuid.New(), SessionID: sid, Symbol: "BTCUSDT", Side: core.SideBuy,
		Type: core.OrderMarket, Quantity: 0.01, Status: core.OrderNew, CreatedAt: 0, UpdatedAt: 0,
		MakerTaker: core.Taker,
	}
	if err := repo.Create(ctx, order); err != nil {
		t.Fatal(err)
	}

	trade := core.AggTrade{Symbol: "BTCUSDT", TradeID: 1, Price: 60000, Qty: 0.5, EventTime: 1}
	if err := m.OnTrade(ctx, sid, trade); err != nil {
		t.Fatal(err)
	}

	got, err := repo.Get(ctx, sid, order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != core.OrderFilled {
		t.Fatalf("status = %v, want Filled", got.Status)
	}
	if !almostEqual(got.FilledQuantity, 0.01) {
		t.Errorf("filled_quantity = %v, want 0.01", got.FilledQuantity)
	}

	snap, err := acctSvc.GetAccount(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(snap.Balances["BTC"].Free, 0.01) {
		t.Errorf("BTC free = %v, want 0.01", snap.Balances["BTC"].Free)
	}
	wantUSDT := 10000 - 600 - 0.6
	if !almostEqual(snap.Balances["USDT"].Free, wantUSDT) {
		t.Errorf("USDT free = %v, want %v", snap.Balances["USDT"].Free, wantUSDT)
	}
}

// S2 — Limit buy resting, first non-crossing trade ignored, second fills
// as maker.
func TestLimitBuyMakerFill(t *testing.T) {
	ctx := context.Background()
	cfg := Config{MakerBps: 8, TakerBps: 8, PartialFills: true, DefaultQuote: "USDT"}
	m, repo, acctSvc, sid := newHarness(t, cfg)

	order := core.Order{
		ID: uuid.New(), SessionID: sid, Symbol: "BTCUSDT", Side: core.SideBuy,
		Type: core.OrderLimit, Price: 59000, Quantity: 0.01, Status: core.OrderNew,
	}
	repo.Create(ctx, order)

	// Does not cross (price 60000 > limit 59000): no fill.
	m.OnTrade(ctx, sid, core.AggTrade{Symbol: "BTCUSDT", TradeID: 1, Price: 60000, Qty: 0.5, EventTime: 1})
	got, _ := repo.Get(ctx, sid, order.ID)
	if got.Status != core.OrderNew {
		t.Fatalf("status after non-crossing trade = %v, want New", got.Status)
	}

	// Crosses (price 59000 <= limit 59000): fills as maker.
	m.OnTrade(ctx, sid, core.AggTrade{Symbol: "BTCUSDT", TradeID: 2, Price: 59000, Qty: 0.5, EventTime: 2})
	got, _ = repo.Get(ctx, sid, order.ID)
	if got.Status != core.OrderFilled {
		t.Fatalf("status = %v, want Filled", got.Status)
	}
	if got.MakerTaker != core.Maker {
		t.Fatalf("maker_taker = %v, want Maker", got.MakerTaker)
	}

	snap, _ := acctSvc.GetAccount(ctx, sid)
	wantFee := 0.01 * 59000 * 0.0008
	wantUSDT := 10000 - 590 - wantFee
	if !almostEqual(snap.Balances["USDT"].Free, wantUSDT) {
		t.Errorf("USDT free = %v, want %v", snap.Balances["USDT"].Free, wantUSDT)
	}
}

// S3 — Limit sell partial fills across three trades.
func TestLimitSellPartialFills(t *testing.T) {
	ctx := context.Background()
	cfg := Config{MakerBps: 8, TakerBps: 8, PartialFills: true, DefaultQuote: "USDT"}
	m, repo, acctSvc, sid := newHarness(t, cfg)

	// seed BTC balance via a buy execution first.
	acctSvc.ApplyExecution(ctx, sid, "BTCUSDT", core.SideBuy, 1.0, 0, 0, "USDT")

	order := core.Order{
		ID: uuid.New(), SessionID: sid, Symbol: "BTCUSDT", Side: core.SideSell,
		Type: core.OrderLimit, Price: 61000, Quantity: 1.0, Status: core.OrderNew,
	}
	repo.Create(ctx, order)

	trades := []core.AggTrade{
		{Symbol: "BTCUSDT", TradeID: 1, Price: 61000, Qty: 0.4, EventTime: 1},
		{Symbol: "BTCUSDT", TradeID: 2, Price: 61000, Qty: 0.3, EventTime: 2},
		{Symbol: "BTCUSDT", TradeID: 3, Price: 61000, Qty: 0.3, EventTime: 3},
	}
	for _, tr := range trades {
		if err := m.OnTrade(ctx, sid, tr); err != nil {
			t.Fatal(err)
		}
	}

	got, err := repo.Get(ctx, sid, order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != core.OrderFilled {
		t.Fatalf("status = %v, want Filled", got.Status)
	}
	fills, _ := repo.ListOrderFills(ctx, order.ID)
	if len(fills) != 3 {
		t.Fatalf("expected 3 fills, got %d", len(fills))
	}

	snap, _ := acctSvc.GetAccount(ctx, sid)
	wantFee := 1.0 * 61000 * 0.0008
	wantUSDT := 10000 + 61000 - wantFee
	if !almostEqual(snap.Balances["USDT"].Free, wantUSDT) {
		t.Errorf("USDT free = %v, want %v", snap.Balances["USDT"].Free, wantUSDT)
	}
	if !almostEqual(snap.Balances["BTC"].Free, 0) {
		t.Errorf("BTC free = %v, want ~0", snap.Balances["BTC"].Free)
	}
}

func TestNoPartialFillsModeTakesEntireRemainingFromOneTrade(t *testing.T) {
	ctx := context.Background()
	cfg := Config{MakerBps: 8, TakerBps: 8, PartialFills: false, DefaultQuote: "USDT"}
	m, repo, _, sid := newHarness(t, cfg)

	order := core.Order{
		ID: uuid.New(), SessionID: sid, Symbol: "BTCUSDT", Side: core.SideBuy,
		Type: core.OrderMarket, Quantity: 1.0, Status: core.OrderNew, MakerTaker: core.Taker,
	}
	repo.Create(ctx, order)

	// A trade much smaller than remaining still fills the whole order in
	// no-partial mode.
	m.OnTrade(ctx, sid, core.AggTrade{Symbol: "BTCUSDT", TradeID: 1, Price: 100, Qty: 0.001, EventTime: 1})

	got, _ := repo.Get(ctx, sid, order.ID)
	if got.Status != core.OrderFilled {
		t.Fatalf("status = %v, want Filled", got.Status)
	}
	if !almostEqual(got.FilledQuantity, 1.0) {
		t.Errorf("filled_quantity = %v, want 1.0", got.FilledQuantity)
	}
}

func TestFillIsIdempotentPerTrade(t *testing.T) {
	ctx := context.Background()
	m, repo, _, sid := newHarness(t, DefaultConfig())

	order := core.Order{
		ID: uuid.New(), SessionID: sid, Symbol: "BTCUSDT", Side: core.SideBuy,
		Type: core.OrderMarket, Quantity: 1.0, Status: core.OrderNew, MakerTaker: core.Taker,
	}
	repo.Create(ctx, order)

	trade := core.AggTrade{Symbol: "BTCUSDT", TradeID: 1, Price: 100, Qty: 1.0, EventTime: 1}
	m.OnTrade(ctx, sid, trade)
	m.OnTrade(ctx, sid, trade) // re-delivery of same trade must not double-fill

	fills, _ := repo.ListOrderFills(ctx, order.ID)
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill after re-delivery, got %d", len(fills))
	}
}

func TestOrderCreatedAfterTradeIsSkipped(t *testing.T) {
	ctx := context.Background()
	m, repo, _, sid := newHarness(t, DefaultConfig())

	order := core.Order{
		ID: uuid.New(), SessionID: sid, Symbol: "BTCUSDT", Side: core.SideBuy,
		Type: core.OrderMarket, Quantity: 1.0, Status: core.OrderNew, MakerTaker: core.Taker,
		CreatedAt: 100,
	}
	repo.Create(ctx, order)

	m.OnTrade(ctx, sid, core.AggTrade{Symbol: "BTCUSDT", TradeID: 1, Price: 100, Qty: 1.0, EventTime: 50})

	got, _ := repo.Get(ctx, sid, order.ID)
	if got.Status != core.OrderNew {
		t.Fatalf("status = %v, want New (trade predates order)", got.Status)
	}
}

func TestOnSessionEndExpiresOpenOrders(t *testing.T) {
	ctx := context.Background()
	m, repo, _, sid := newHarness(t, DefaultConfig())

	order := core.Order{
		ID: uuid.New(), SessionID: sid, Symbol: "BTCUSDT", Side: core.SideBuy,
		Type: core.OrderLimit, Price: 100, Quantity: 1.0, Status: core.OrderNew,
	}
	repo.Create(ctx, order)

	if err := m.OnSessionEnd(ctx, sid); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.Get(ctx, sid, order.ID)
	if got.Status != core.OrderExpired {
		t.Fatalf("status = %v, want Expired", got.Status)
	}
}
