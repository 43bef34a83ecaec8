// Package matcher implements the Spot Matcher (C8). No corpus file
// implements trade-driven fills directly; this is grounded on the
// teacher's internal/orderbook/simulator.go doTrade method for the
// general shape (iterate candidate orders, compute shares/price, emit a
// fill, mutate book state), translated to spec.md §4.8's exact
// eligibility, partial-fill, and fee rules.
package matcher

import (
	"context"
	"math"

	"github.com/google/uuid"

	"github.com/uri157/exchange-simulator/internal/accounts"
	"github.com/uri157/exchange-simulator/internal/core"
)

const epsilon = 1e-9

// Config holds the process-wide fee/liquidity parameters spec.md §4.8
// names but does not assign an owning component to; matcher is the only
// consumer so it owns them.
type Config struct {
	MakerBps     float64
	TakerBps     float64
	PartialFills bool
	DefaultQuote string
}

// DefaultConfig mirrors the 8bps maker / 10bps taker rate used
// throughout the worked scenarios (S1/S2/S3).
func DefaultConfig() Config {
	return Config{MakerBps: 8, TakerBps: 10, PartialFills: true, DefaultQuote: "USDT"}
}

// Matcher is the Spot Matcher (C8).
type Matcher struct {
	cfg      Config
	orders   core.OrdersRepo
	accounts *accounts.Service
}

func New(cfg Config, orders core.OrdersRepo, acct *accounts.Service) *Matcher {
	return &Matcher{cfg: cfg, orders: orders, accounts: acct}
}

// OnTrade fills eligible resting orders against one trade print, per
// spec.md §4.8 steps 1-k.
func (m *Matcher) OnTrade(ctx context.Context, sessionID uuid.UUID, trade core.AggTrade) error {
	active, err := m.orders.ListActive(ctx, sessionID)
	if err != nil {
		return err
	}

	for _, o := range active {
		if o.Symbol != trade.Symbol {
			continue
		}
		if err := m.fillOne(ctx, sessionID, o, trade); err != nil {
			return err
		}
	}
	return nil
}

func (m *Matcher) fillOne(ctx context.Context, sessionID uuid.UUID, o core.Order, t core.AggTrade) error {
	has, err := m.orders.HasFill(ctx, o.ID, t.TradeID)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	if t.EventTime < o.CreatedAt {
		return nil
	}
	if !eligible(o, t) {
		return nil
	}

	remaining := o.Remaining()
	if remaining <= epsilon {
		return nil
	}

	fillQty := remaining
	if m.cfg.PartialFills {
		fillQty = math.Min(remaining, t.Qty)
	}
	if fillQty <= epsilon {
		return nil
	}

	maker := classifyMaker(o)
	feeRate := m.cfg.TakerBps / 10000
	if maker {
		feeRate = m.cfg.MakerBps / 10000
	}

	quoteAmount := fillQty * t.Price
	_, quote := accounts.SplitSymbol(o.Symbol, m.cfg.DefaultQuote)
	fee := quoteAmount * feeRate
	feeAsset := quote

	if _, err := m.accounts.ApplyExecution(ctx, sessionID, o.Symbol, o.Side, fillQty, quoteAmount, fee, feeAsset); err != nil {
		return err
	}

	o.FilledQuantity += fillQty
	o.UpdatedAt = t.EventTime
	if maker {
		o.MakerTaker = core.Maker
	} else {
		o.MakerTaker = core.Taker
	}
	if o.FilledQuantity >= o.Quantity-epsilon {
		o.Status = core.OrderFilled
	} else {
		o.Status = core.OrderPartiallyFilled
	}

	fill := core.Fill{
		OrderID:   o.ID,
		SessionID: sessionID,
		Symbol:    o.Symbol,
		TradeID:   t.TradeID,
		Price:     t.Price,
		Qty:       fillQty,
		QuoteQty:  quoteAmount,
		Fee:       fee,
		FeeAsset:  feeAsset,
		Maker:     maker,
		EventTime: t.EventTime,
	}
	if _, err := m.orders.AppendFill(ctx, fill); err != nil {
		return err
	}
	return m.orders.Update(ctx, o)
}

func eligible(o core.Order, t core.AggTrade) bool {
	if o.Type == core.OrderMarket {
		return true
	}
	switch o.Side {
	case core.SideBuy:
		return t.Price <= o.Price
	case core.SideSell:
		return t.Price >= o.Price
	default:
		return false
	}
}

// classifyMaker resolves maker/taker per spec.md §4.8.f: Market orders
// are always taker; Limit orders keep whatever classification they
// already carry (from placement-time crossing check), defaulting to
// Maker on first fill if nothing was set yet.
func classifyMaker(o core.Order) bool {
	if o.Type == core.OrderMarket {
		return false
	}
	if o.MakerTaker == core.Taker {
		return false
	}
	return true
}

// OnSessionEnd expires every still-open order for the session, per
// spec.md §4.8's on_session_end.
func (m *Matcher) OnSessionEnd(ctx context.Context, sessionID uuid.UUID) error {
	_, err := m.orders.MarkExpiredForSession(ctx, sessionID, core.NowMs())
	return err
}

var _ core.Matcher = (*Matcher)(nil)
