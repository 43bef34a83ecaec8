package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/uri157/exchange-simulator/internal/core"
)

const defaultPageLimit = 500

// klineDoc is the on-disk shape of one candle, kept separate from
// core.Kline so storage layout can drift from the domain type.
type klineDoc struct {
	Symbol    string  `bson:"symbol"`
	Interval  string  `bson:"interval"`
	OpenTime  int64   `bson:"open_time"`
	Open      float64 `bson:"open"`
	High      float64 `bson:"high"`
	Low       float64 `bson:"low"`
	Close     float64 `bson:"close"`
	Volume    float64 `bson:"volume"`
	CloseTime int64   `bson:"close_time"`
}

func (d klineDoc) toCore() core.Kline {
	return core.Kline{
		Symbol:    d.Symbol,
		Interval:  d.Interval,
		OpenTime:  core.TimestampMs(d.OpenTime),
		Open:      d.Open,
		High:      d.High,
		Low:       d.Low,
		Close:     d.Close,
		Volume:    d.Volume,
		CloseTime: core.TimestampMs(d.CloseTime),
	}
}

type aggTradeDoc struct {
	Symbol       string  `bson:"symbol"`
	EventTime    int64   `bson:"event_time"`
	TradeID      int64   `bson:"trade_id"`
	Price        float64 `bson:"price"`
	Qty          float64 `bson:"qty"`
	QuoteQty     float64 `bson:"quote_qty"`
	IsBuyerMaker bool    `bson:"is_buyer_maker"`
}

func (d aggTradeDoc) toCore() core.AggTrade {
	return core.AggTrade{
		Symbol:       d.Symbol,
		EventTime:    core.TimestampMs(d.EventTime),
		TradeID:      d.TradeID,
		Price:        d.Price,
		Qty:          d.Qty,
		QuoteQty:     d.QuoteQty,
		IsBuyerMaker: d.IsBuyerMaker,
	}
}

// MarketStore implements core.MarketStore against the klines collection.
type MarketStore struct{ db *mongo.Database }

func NewMarketStore(db *mongo.Database) *MarketStore { return &MarketStore{db: db} }

func (s *MarketStore) GetKlines(ctx context.Context, page core.KlinePage) ([]core.Kline, error) {
	filter := bson.M{"symbol": page.Symbol, "interval": page.Interval}
	rangeFilter := bson.M{}
	if page.Start != nil {
		rangeFilter["$gte"] = int64(*page.Start)
	}
	if page.End != nil {
		rangeFilter["$lte"] = int64(*page.End)
	}
	if len(rangeFilter) > 0 {
		filter["open_time"] = rangeFilter
	}

	limit := page.Limit
	if limit <= 0 || limit > 1500 {
		limit = defaultPageLimit
	}

	opts := options.Find().SetSort(bson.D{{Key: "open_time", Value: 1}}).SetLimit(int64(limit))
	cursor, err := s.db.Collection("klines").Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query klines: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []klineDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	out := make([]core.Kline, len(docs))
	for i, d := range docs {
		out[i] = d.toCore()
	}
	return out, nil
}

// UpsertKline writes one candle, used by the ingestion pipeline.
func (s *MarketStore) UpsertKline(ctx context.Context, k core.Kline) error {
	doc := klineDoc{
		Symbol: k.Symbol, Interval: k.Interval,
		OpenTime: int64(k.OpenTime), Open: k.Open, High: k.High, Low: k.Low,
		Close: k.Close, Volume: k.Volume, CloseTime: int64(k.CloseTime),
	}
	filter := bson.M{"symbol": k.Symbol, "interval": k.Interval, "open_time": int64(k.OpenTime)}
	_, err := s.db.Collection("klines").ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert kline: %w", err)
	}
	return nil
}

// AggTradesStore implements core.AggTradesStore against the agg_trades
// collection.
type AggTradesStore struct{ db *mongo.Database }

func NewAggTradesStore(db *mongo.Database) *AggTradesStore { return &AggTradesStore{db: db} }

func (s *AggTradesStore) GetTrades(ctx context.Context, page core.TradePage) ([]core.AggTrade, error) {
	filter := bson.M{"symbol": page.Symbol}
	rangeFilter := bson.M{}
	if page.From != nil {
		rangeFilter["$gt"] = int64(*page.From)
	}
	if page.To != nil {
		rangeFilter["$lte"] = int64(*page.To)
	}
	if len(rangeFilter) > 0 {
		filter["event_time"] = rangeFilter
	}

	limit := page.Limit
	if limit <= 0 || limit > 1500 {
		limit = defaultPageLimit
	}

	opts := options.Find().SetSort(bson.D{{Key: "event_time", Value: 1}}).SetLimit(int64(limit))
	cursor, err := s.db.Collection("agg_trades").Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query agg trades: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []aggTradeDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode agg trades: %w", err)
	}
	out := make([]core.AggTrade, len(docs))
	for i, d := range docs {
		out[i] = d.toCore()
	}
	return out, nil
}

// InsertTrade writes one aggregated trade print; a duplicate (symbol,
// trade_id) pair hits the unique index and the duplicate key error is
// swallowed here, matching the teacher's idempotent SaveTrade.
func (s *AggTradesStore) InsertTrade(ctx context.Context, t core.AggTrade) error {
	doc := aggTradeDoc{
		Symbol: t.Symbol, EventTime: int64(t.EventTime), TradeID: t.TradeID,
		Price: t.Price, Qty: t.Qty, QuoteQty: t.QuoteQty, IsBuyerMaker: t.IsBuyerMaker,
	}
	_, err := s.db.Collection("agg_trades").InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert agg trade: %w", err)
	}
	return nil
}

var (
	_ core.MarketStore     = (*MarketStore)(nil)
	_ core.AggTradesStore  = (*AggTradesStore)(nil)
)
