package ingest

import (
	"context"
	"math"

	"github.com/uri157/exchange-simulator/internal/core"
	"github.com/uri157/exchange-simulator/internal/engine"
	"github.com/uri157/exchange-simulator/internal/symbol"
)

// candlesPerBar is how many intra-bar GBM steps feed each kline's
// high/low, so a 1m bar isn't just a straight line between open and
// close.
const candlesPerBar = 4

// SeedSyntheticKlines writes a deterministic GBM-driven candle series for
// tickerSymbol directly into market, without calling any upstream — for
// local development and tests that need plausible-looking history without
// a live market-data source. Adapted from the teacher's internal/engine
// (PCG RNG + Box-Muller Gaussian, previously driving a live per-tick feed)
// and internal/symbol (base price / volatility table for 30 fake
// tickers), generalized from a continuous tick loop to a one-shot
// historical backfill over [start, end).
func SeedSyntheticKlines(ctx context.Context, market marketWriter, tickerSymbol, interval string, start, end core.TimestampMs, seed int64) error {
	stepMs := intervalDurations[interval]
	if stepMs == 0 {
		stepMs = intervalEstimateMs
	}

	basePrice, volMult := 100.0, 1.0
	if sym, ok := symbol.ByTicker()[tickerSymbol]; ok {
		basePrice, volMult = sym.BasePrice, sym.VolatilityMultiplier
	}

	rng := engine.NewRNG(seed)
	price := basePrice
	const baseSigma = 0.002 // per intra-bar step
	sigma := baseSigma * volMult

	for t := start; t < end; t += core.TimestampMs(stepMs) {
		open := price
		high, low := open, open
		for i := 0; i < candlesPerBar; i++ {
			shock := rng.Gaussian() * sigma
			price *= math.Exp(-0.5*sigma*sigma + shock)
			if price > high {
				high = price
			}
			if price < low {
				low = price
			}
		}
		closeTime := t + core.TimestampMs(stepMs) - 1
		if closeTime >= end {
			closeTime = end - 1
		}
		k := core.Kline{
			Symbol: tickerSymbol, Interval: interval,
			OpenTime: t, CloseTime: closeTime,
			Open: open, High: high, Low: low, Close: price,
			Volume: 10 + rng.Float64()*90,
		}
		if err := market.UpsertKline(ctx, k); err != nil {
			return err
		}
	}
	return nil
}
