// Package core holds the domain model and the capability interfaces the
// replay engine, matcher, and session/order services depend on. Every
// concrete store or service implementation lives in its own package and
// satisfies one of the interfaces declared here.
package core

import (
	"time"

	"github.com/google/uuid"
)

// TimestampMs is a simulated-time or wall-clock timestamp in epoch
// milliseconds.
type TimestampMs int64

func NowMs() TimestampMs { return TimestampMs(time.Now().UnixMilli()) }

// OrderSide is one of Buy or Sell.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType is Market or Limit.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// OrderStatus is the order lifecycle state.
type OrderStatus string

const (
	OrderNew             OrderStatus = "NEW"
	OrderPartiallyFilled  OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCanceled        OrderStatus = "CANCELED"
	OrderExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the status never transitions again.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderCanceled, OrderExpired:
		return true
	default:
		return false
	}
}

// MakerTaker classifies the liquidity role an order played on a fill.
type MakerTaker string

const (
	Maker MakerTaker = "MAKER"
	Taker MakerTaker = "TAKER"
)

// SessionStatus is the session lifecycle state.
type SessionStatus string

const (
	SessionCreated SessionStatus = "CREATED"
	SessionRunning SessionStatus = "RUNNING"
	SessionPaused  SessionStatus = "PAUSED"
	SessionEnded   SessionStatus = "ENDED"
)

// MarketMode selects whether a session replays klines or aggregated trades.
type MarketMode string

const (
	ModeKline     MarketMode = "KLINE"
	ModeAggTrades MarketMode = "AGG_TRADES"
)

// DatasetStatus is the lifecycle state of a historical-data ingestion job.
type DatasetStatus string

const (
	DatasetRegistered DatasetStatus = "REGISTERED"
	DatasetIngesting  DatasetStatus = "INGESTING"
	DatasetReady      DatasetStatus = "READY"
	DatasetFailed     DatasetStatus = "FAILED"
	DatasetCanceled   DatasetStatus = "CANCELED"
)

// Symbol is a tradable pair.
type Symbol struct {
	Ticker string
	Base   string
	Quote  string
	Active bool
}

// Kline is one OHLCV candle for a (symbol, interval) stream.
type Kline struct {
	Symbol    string
	Interval  string
	OpenTime  TimestampMs
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime TimestampMs
}

// AggTrade is one aggregated trade print.
type AggTrade struct {
	Symbol       string
	EventTime    TimestampMs
	TradeID      int64
	Price        float64
	Qty          float64
	QuoteQty     float64
	IsBuyerMaker bool
}

// Order is a resting or terminal order against a session's simulated
// account.
type Order struct {
	ID              uuid.UUID
	SessionID       uuid.UUID
	ClientOrderID   string // empty if unset
	Symbol          string
	Side            OrderSide
	Type            OrderType
	Price           float64 // 0 for market orders
	Quantity        float64
	FilledQuantity  float64
	Status          OrderStatus
	CreatedAt       TimestampMs
	UpdatedAt       TimestampMs
	MakerTaker      MakerTaker // Taker from placement for market or crossing limit orders; otherwise empty until the first fill classifies it
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() float64 { return o.Quantity - o.FilledQuantity }

// Fill is a single execution attaching a fraction of an order to a trade
// print. (OrderID, TradeID) is the idempotency key.
type Fill struct {
	OrderID   uuid.UUID
	SessionID uuid.UUID
	Symbol    string
	TradeID   int64
	Price     float64
	Qty       float64
	QuoteQty  float64
	Fee       float64
	FeeAsset  string
	Maker     bool
	EventTime TimestampMs
}

// Balance is the free/locked amount of one asset within a session.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// AccountSnapshot is the full set of balances for one session.
type AccountSnapshot struct {
	SessionID uuid.UUID
	Balances  map[string]Balance
}

// SessionConfig is the configuration and lifecycle state of one simulation
// instance.
type SessionConfig struct {
	SessionID  uuid.UUID
	Symbols    []string
	Interval   string
	StartTime  TimestampMs
	EndTime    TimestampMs
	Speed      float64
	MarketMode MarketMode
	Enabled    bool
	Status     SessionStatus
	Seed       int64
	CreatedAt  TimestampMs
	UpdatedAt  TimestampMs
}

// DatasetMetadata describes one historical-data ingestion job.
type DatasetMetadata struct {
	ID          uuid.UUID
	Symbol      string
	Interval    string
	StartTime   TimestampMs
	EndTime     TimestampMs
	Status      DatasetStatus
	Progress    uint8
	LastMessage string
	CreatedAt   TimestampMs
	UpdatedAt   TimestampMs
}
