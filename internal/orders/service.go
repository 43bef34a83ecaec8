package orders

import (
	"context"

	"github.com/google/uuid"

	"github.com/uri157/exchange-simulator/internal/accounts"
	"github.com/uri157/exchange-simulator/internal/apperr"
	"github.com/uri157/exchange-simulator/internal/core"
)

// Service is the Orders Service (C7).
type Service struct {
	repo     core.OrdersRepo
	sessions core.SessionsRepo
	accounts *accounts.Service
	replay   core.ReplayEngine
	clock    core.Clock
}

func NewService(repo core.OrdersRepo, sessions core.SessionsRepo, acct *accounts.Service, replay core.ReplayEngine, clk core.Clock) *Service {
	return &Service{repo: repo, sessions: sessions, accounts: acct, replay: replay, clock: clk}
}

func (s *Service) validateSession(ctx context.Context, sessionID uuid.UUID, symbol string) (core.SessionConfig, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return core.SessionConfig{}, err
	}
	if session.Status == core.SessionEnded {
		return core.SessionConfig{}, apperr.Validationf("session already ended")
	}
	found := false
	for _, sym := range session.Symbols {
		if sym == symbol {
			found = true
			break
		}
	}
	if !found {
		return core.SessionConfig{}, apperr.Validationf("symbol %s is not part of session", symbol)
	}
	if err := s.accounts.EnsureSessionAccount(ctx, sessionID); err != nil {
		return core.SessionConfig{}, err
	}
	return session, nil
}

func (s *Service) timestampNow(ctx context.Context, sessionID uuid.UUID) core.TimestampMs {
	if now, err := s.clock.Now(ctx, sessionID); err == nil {
		return now
	}
	return core.NowMs()
}

// PlaceOrderParams is the input to PlaceOrder.
type PlaceOrderParams struct {
	SessionID     uuid.UUID
	Symbol        string
	Side          core.OrderSide
	Type          core.OrderType
	Quantity      float64
	Price         float64 // ignored for Market
	ClientOrderID string
}

// PlaceOrder validates, classifies, and persists a new order. Fills are
// produced asynchronously by the matcher as trades arrive, not here.
func (s *Service) PlaceOrder(ctx context.Context, p PlaceOrderParams) (core.Order, error) {
	if _, err := s.validateSession(ctx, p.SessionID, p.Symbol); err != nil {
		return core.Order{}, err
	}
	if p.Quantity <= 0 {
		return core.Order{}, apperr.Validationf("quantity must be positive")
	}
	if p.Type == core.OrderLimit && p.Price <= 0 {
		return core.Order{}, apperr.Validationf("limit order requires price > 0")
	}

	now := s.timestampNow(ctx, p.SessionID)
	order := core.Order{
		ID:            uuid.New(),
		SessionID:     p.SessionID,
		ClientOrderID: p.ClientOrderID,
		Symbol:        p.Symbol,
		Side:          p.Side,
		Type:          p.Type,
		Price:         p.Price,
		Quantity:      p.Quantity,
		Status:        core.OrderNew,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if p.Type == core.OrderMarket {
		order.Price = 0
		order.MakerTaker = core.Taker
	} else {
		order.MakerTaker = s.classifyLimit(p.SessionID, p.Symbol, p.Side, p.Price)
	}

	if err := s.repo.Create(ctx, order); err != nil {
		return core.Order{}, err
	}
	return order, nil
}

// classifyLimit returns Taker if a latest trade exists and the limit
// would cross it, else empty (the matcher defaults it to Maker on first
// fill), per spec.md §4.7.
func (s *Service) classifyLimit(sessionID uuid.UUID, symbol string, side core.OrderSide, price float64) core.MakerTaker {
	last, ok := s.replay.LatestTrade(sessionID, symbol)
	if !ok {
		return ""
	}
	crosses := (side == core.SideBuy && last.Price <= price) || (side == core.SideSell && last.Price >= price)
	if crosses {
		return core.Taker
	}
	return ""
}

func (s *Service) CancelOrder(ctx context.Context, sessionID, orderID uuid.UUID) (core.Order, error) {
	return s.repo.Cancel(ctx, sessionID, orderID, s.timestampNow(ctx, sessionID))
}

func (s *Service) GetOrder(ctx context.Context, sessionID, orderID uuid.UUID) (core.Order, error) {
	return s.repo.Get(ctx, sessionID, orderID)
}

func (s *Service) GetByClientID(ctx context.Context, sessionID uuid.UUID, clientOrderID string) (core.Order, error) {
	return s.repo.GetByClientID(ctx, sessionID, clientOrderID)
}

func (s *Service) ListOpen(ctx context.Context, sessionID uuid.UUID, symbol string) ([]core.Order, error) {
	return s.repo.ListOpen(ctx, sessionID, symbol)
}

// MyTrades is list_fills(sid, symbol) per spec.md §4.7.
func (s *Service) MyTrades(ctx context.Context, sessionID uuid.UUID, symbol string) ([]core.Fill, error) {
	return s.repo.ListFills(ctx, sessionID, symbol)
}

func (s *Service) OrderFills(ctx context.Context, orderID uuid.UUID) ([]core.Fill, error) {
	return s.repo.ListOrderFills(ctx, orderID)
}
