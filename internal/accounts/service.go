package accounts

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/uri157/exchange-simulator/internal/core"
	"github.com/uri157/exchange-simulator/internal/symbol"
)

// commonQuotes is tried in order before falling back to defaultQuote, then
// to an even split, for a ticker the symbol registry doesn't know about.
var commonQuotes = []string{"USDT", "USD", "BUSD", "USDC", "BTC", "ETH"}

// SplitSymbol splits a ticker into (base, quote). It consults the symbol
// registry first, then falls back to a suffix heuristic (each of
// commonQuotes, then defaultQuote), then an even split at len/2, for a
// ticker the registry doesn't carry. Shared by the accounts service and
// the matcher so both agree on which asset is quote for a given symbol.
func SplitSymbol(ticker, defaultQuote string) (base, quote string) {
	if s, ok := symbol.ByTicker()[ticker]; ok {
		return s.Base, s.Quote
	}
	candidates := append(append([]string{}, commonQuotes...), defaultQuote)
	for _, q := range candidates {
		if q == "" {
			continue
		}
		if b, ok := strings.CutSuffix(ticker, q); ok && b != "" {
			return b, q
		}
	}
	mid := len(ticker) / 2
	return ticker[:mid], ticker[mid:]
}

// Service is the Accounts Service (C5).
type Service struct {
	repo                core.AccountsRepo
	defaultQuote        string
	initialQuoteBalance float64
}

func NewService(repo core.AccountsRepo, defaultQuote string, initialQuoteBalance float64) *Service {
	return &Service{repo: repo, defaultQuote: defaultQuote, initialQuoteBalance: initialQuoteBalance}
}

// EnsureSessionAccount creates the seed balance if the session has no
// account yet. Idempotent.
func (s *Service) EnsureSessionAccount(ctx context.Context, sessionID uuid.UUID) error {
	if _, err := s.repo.GetAccount(ctx, sessionID); err == nil {
		return nil
	}
	snapshot := core.AccountSnapshot{
		SessionID: sessionID,
		Balances: map[string]core.Balance{
			s.defaultQuote: {Asset: s.defaultQuote, Free: s.initialQuoteBalance, Locked: 0},
		},
	}
	return s.repo.SaveAccount(ctx, snapshot)
}

func (s *Service) GetAccount(ctx context.Context, sessionID uuid.UUID) (core.AccountSnapshot, error) {
	return s.repo.GetAccount(ctx, sessionID)
}

func (s *Service) balance(snapshot core.AccountSnapshot, asset string) core.Balance {
	if b, ok := snapshot.Balances[asset]; ok {
		return b
	}
	return core.Balance{Asset: asset}
}

// ApplyExecution settles one fill against the session's balances, per
// spec.md §4.5:
//
//	Buy:  quote.free -= quoteAmount + (fee if feeAsset==quote); base.free += qty - (fee if feeAsset==base)
//	Sell: base.free  -= qty + (fee if feeAsset==base);          quote.free += quoteAmount - (fee if feeAsset==quote)
//
// Balances are allowed to go negative (spec.md §9 Open Question #4);
// clamping is deliberately not done here.
func (s *Service) ApplyExecution(ctx context.Context, sessionID uuid.UUID, symbol string, side core.OrderSide, qty, quoteAmount, fee float64, feeAsset string) (core.AccountSnapshot, error) {
	snapshot, err := s.repo.GetAccount(ctx, sessionID)
	if err != nil {
		return core.AccountSnapshot{}, err
	}

	base, quote := SplitSymbol(symbol, s.defaultQuote)
	baseBal := s.balance(snapshot, base)
	quoteBal := s.balance(snapshot, quote)

	switch side {
	case core.SideBuy:
		quoteBal.Free -= quoteAmount
		if feeAsset == quote {
			quoteBal.Free -= fee
		}
		baseBal.Free += qty
		if feeAsset == base {
			baseBal.Free -= fee
		}
	case core.SideSell:
		baseBal.Free -= qty
		quoteBal.Free += quoteAmount
		if feeAsset == quote {
			quoteBal.Free -= fee
		}
		if feeAsset == base {
			baseBal.Free -= fee
		}
	}

	snapshot.Balances[base] = baseBal
	snapshot.Balances[quote] = quoteBal

	if err := s.repo.SaveAccount(ctx, snapshot); err != nil {
		return core.AccountSnapshot{}, err
	}
	return snapshot, nil
}
