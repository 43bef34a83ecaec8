package core

import (
	"context"

	"github.com/google/uuid"
)

// Clock is the per-session simulated clock (C1).
type Clock interface {
	InitSession(ctx context.Context, sessionID uuid.UUID, start TimestampMs) error
	Now(ctx context.Context, sessionID uuid.UUID) (TimestampMs, error)
	SetSpeed(ctx context.Context, sessionID uuid.UUID, speed float64) error
	AdvanceTo(ctx context.Context, sessionID uuid.UUID, to TimestampMs) error
	Pause(ctx context.Context, sessionID uuid.UUID) error
	Resume(ctx context.Context, sessionID uuid.UUID) error
	IsPaused(ctx context.Context, sessionID uuid.UUID) (bool, error)
	CurrentSpeed(ctx context.Context, sessionID uuid.UUID) (float64, error)
}

// KlinePage is one page of paginated kline reads.
type KlinePage struct {
	Symbol   string
	Interval string
	Start    *TimestampMs // inclusive
	End      *TimestampMs // inclusive
	Limit    int
}

// TradePage is one page of paginated aggregated-trade reads.
type TradePage struct {
	Symbol string
	From   *TimestampMs // exclusive
	To     *TimestampMs // inclusive
	Limit  int
}

// MarketStore provides ordered, paged reads of historical candles (C4).
type MarketStore interface {
	GetKlines(ctx context.Context, page KlinePage) ([]Kline, error)
}

// AggTradesStore provides ordered, paged reads of historical aggregated
// trades (C4).
type AggTradesStore interface {
	GetTrades(ctx context.Context, page TradePage) ([]AggTrade, error)
}

// AccountsRepo persists per-session balances.
type AccountsRepo interface {
	GetAccount(ctx context.Context, sessionID uuid.UUID) (AccountSnapshot, error)
	SaveAccount(ctx context.Context, snapshot AccountSnapshot) error
}

// OrdersRepo is the per-session index of orders and fills (C6).
type OrdersRepo interface {
	Create(ctx context.Context, o Order) error
	Update(ctx context.Context, o Order) error
	Get(ctx context.Context, sessionID, orderID uuid.UUID) (Order, error)
	GetByClientID(ctx context.Context, sessionID uuid.UUID, clientOrderID string) (Order, error)
	ListOpen(ctx context.Context, sessionID uuid.UUID, symbol string) ([]Order, error)
	ListActive(ctx context.Context, sessionID uuid.UUID) ([]Order, error)
	Cancel(ctx context.Context, sessionID, orderID uuid.UUID, at TimestampMs) (Order, error)
	MarkExpiredForSession(ctx context.Context, sessionID uuid.UUID, at TimestampMs) ([]Order, error)
	AppendFill(ctx context.Context, f Fill) (bool, error) // false if duplicate
	HasFill(ctx context.Context, orderID uuid.UUID, tradeID int64) (bool, error)
	ListFills(ctx context.Context, sessionID uuid.UUID, symbol string) ([]Fill, error)
	ListOrderFills(ctx context.Context, orderID uuid.UUID) ([]Fill, error)
}

// SessionsRepo persists session configuration and lifecycle state.
type SessionsRepo interface {
	Insert(ctx context.Context, cfg SessionConfig) (SessionConfig, error)
	Get(ctx context.Context, sessionID uuid.UUID) (SessionConfig, error)
	List(ctx context.Context) ([]SessionConfig, error)
	UpdateStatus(ctx context.Context, sessionID uuid.UUID, status SessionStatus) (SessionConfig, error)
	SetEnabled(ctx context.Context, sessionID uuid.UUID, enabled bool) error
	Delete(ctx context.Context, sessionID uuid.UUID) error
}

// DatasetRepo persists dataset metadata rows (external collaborator in
// spec.md §1, implemented concretely here so ingestion has somewhere real
// to write).
type DatasetRepo interface {
	Upsert(ctx context.Context, d DatasetMetadata) error
	Get(ctx context.Context, id uuid.UUID) (DatasetMetadata, error)
	List(ctx context.Context) ([]DatasetMetadata, error)
}

// ReplayEngine drives historical-event emission in simulated time (C9).
type ReplayEngine interface {
	Start(ctx context.Context, session SessionConfig) error
	Pause(ctx context.Context, sessionID uuid.UUID) error
	Resume(ctx context.Context, sessionID uuid.UUID) error
	Seek(ctx context.Context, sessionID uuid.UUID, to TimestampMs) error
	Stop(ctx context.Context, sessionID uuid.UUID) error
	LatestKline(sessionID uuid.UUID, symbol string) (Kline, bool)
	LatestTrade(sessionID uuid.UUID, symbol string) (AggTrade, bool)
}

// Matcher consumes replay trade events and fills resting orders (C8).
type Matcher interface {
	OnTrade(ctx context.Context, sessionID uuid.UUID, trade AggTrade) error
	OnSessionEnd(ctx context.Context, sessionID uuid.UUID) error
}

// ProgressSink is the write-side capability the ingestion pipeline uses to
// report live dataset status (§6).
type ProgressSink interface {
	SetStatus(status DatasetStatus, lastMessage string)
	SetProgress(progress uint8, lastMessage string)
	AppendLog(line string)
	IsCancelled() bool
}
