// Package ingest implements the thin historical-data ingestion pipeline
// (A3): a REST downloader that paginates an upstream candle/trade source
// into the Mongo-backed store, reporting progress through the Progress
// Registry (C3). Grounded on
// original_source/src/infra/duckdb/ingest_runner.rs for the pagination
// shape (page by cursor, advance past the last row, log every 5%) and on
// the teacher's internal/archive for the batching/rotation idiom.
package ingest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/uri157/exchange-simulator/internal/core"
)

// Client fetches historical klines/agg trades from a configurable REST
// source shaped like Binance's public market-data API (the only shape
// original_source's ingest runner knows how to call).
type Client struct {
	http    *retryablehttp.Client
	baseURL string
}

func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 5
	rc.RetryWaitMin = 250 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = nil
	return &Client{http: rc, baseURL: baseURL}
}

// rawKline mirrors Binance's array-of-arrays kline wire shape:
// [openTime, open, high, low, close, volume, closeTime, ...].
type rawKline []any

func (r rawKline) toCore(symbol, interval string) (core.Kline, error) {
	if len(r) < 7 {
		return core.Kline{}, fmt.Errorf("malformed kline row: %d fields", len(r))
	}
	openTime, err := toInt64(r[0])
	if err != nil {
		return core.Kline{}, fmt.Errorf("open_time: %w", err)
	}
	open, err := toFloat64(r[1])
	if err != nil {
		return core.Kline{}, fmt.Errorf("open: %w", err)
	}
	high, err := toFloat64(r[2])
	if err != nil {
		return core.Kline{}, fmt.Errorf("high: %w", err)
	}
	low, err := toFloat64(r[3])
	if err != nil {
		return core.Kline{}, fmt.Errorf("low: %w", err)
	}
	closePrice, err := toFloat64(r[4])
	if err != nil {
		return core.Kline{}, fmt.Errorf("close: %w", err)
	}
	volume, err := toFloat64(r[5])
	if err != nil {
		return core.Kline{}, fmt.Errorf("volume: %w", err)
	}
	closeTime, err := toInt64(r[6])
	if err != nil {
		return core.Kline{}, fmt.Errorf("close_time: %w", err)
	}
	return core.Kline{
		Symbol: symbol, Interval: interval,
		OpenTime: core.TimestampMs(openTime), CloseTime: core.TimestampMs(closeTime),
		Open: open, High: high, Low: low, Close: closePrice, Volume: volume,
	}, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

// FetchKlines pulls one page of candles starting at (inclusive) from, up
// to 1000 rows, matching the teacher's own page-size ceiling.
func (c *Client) FetchKlines(symbol, interval string, from, end core.TimestampMs) ([]core.Kline, []byte, error) {
	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&startTime=%d&endTime=%d&limit=1000",
		c.baseURL, symbol, interval, from, end)

	req, err := retryablehttp.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch klines: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("upstream status %d for %s", resp.StatusCode, url)
	}

	var raw []rawKline
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&raw); err != nil {
		return nil, nil, fmt.Errorf("decode klines: %w", err)
	}

	out := make([]core.Kline, 0, len(raw))
	for _, r := range raw {
		k, err := r.toCore(symbol, interval)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, k)
	}
	raw2, _ := json.Marshal(raw)
	return out, raw2, nil
}

// rawAggTrade mirrors Binance's aggTrades object shape.
type rawAggTrade struct {
	A int64  `json:"a"`
	P string `json:"p"`
	Q string `json:"q"`
	T int64  `json:"T"`
	M bool   `json:"m"`
}

func (r rawAggTrade) toCore(symbol string) (core.AggTrade, error) {
	price, err := strconv.ParseFloat(r.P, 64)
	if err != nil {
		return core.AggTrade{}, fmt.Errorf("price: %w", err)
	}
	qty, err := strconv.ParseFloat(r.Q, 64)
	if err != nil {
		return core.AggTrade{}, fmt.Errorf("qty: %w", err)
	}
	return core.AggTrade{
		Symbol: symbol, TradeID: r.A, EventTime: core.TimestampMs(r.T),
		Price: price, Qty: qty, QuoteQty: price * qty, IsBuyerMaker: r.M,
	}, nil
}

// FetchAggTrades pulls one page of aggregated trades starting strictly
// after (exclusive) from, matching core.TradePage's own exclusive cursor
// semantics.
func (c *Client) FetchAggTrades(symbol string, from, end core.TimestampMs) ([]core.AggTrade, []byte, error) {
	url := fmt.Sprintf("%s/api/v3/aggTrades?symbol=%s&startTime=%d&endTime=%d&limit=1000",
		c.baseURL, symbol, from+1, end)

	req, err := retryablehttp.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch agg trades: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("upstream status %d for %s", resp.StatusCode, url)
	}

	var raw []rawAggTrade
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&raw); err != nil {
		return nil, nil, fmt.Errorf("decode agg trades: %w", err)
	}

	out := make([]core.AggTrade, 0, len(raw))
	for _, r := range raw {
		t, err := r.toCore(symbol)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, t)
	}
	raw2, _ := json.Marshal(raw)
	return out, raw2, nil
}
