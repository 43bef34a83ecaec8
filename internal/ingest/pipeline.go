package ingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/uri157/exchange-simulator/internal/apperr"
	"github.com/uri157/exchange-simulator/internal/core"
)

const intervalEstimateMs = 60_000 // fallback estimate when interval is unrecognized, for progress percentage only

var intervalDurations = map[string]int64{
	"1m": 60_000, "3m": 180_000, "5m": 300_000, "15m": 900_000, "30m": 1_800_000,
	"1h": 3_600_000, "2h": 7_200_000, "4h": 14_400_000, "6h": 21_600_000,
	"8h": 28_800_000, "12h": 43_200_000, "1d": 86_400_000,
}

// Pipeline is the Ingestion pipeline (A3): it registers datasets, fetches
// pages from a klineFetcher/tradeFetcher, writes them into the store,
// archives the raw pages, and reports progress through a
// core.ProgressSink.
type Pipeline struct {
	klines   klineFetcher
	agg      tradeFetcher
	market   marketWriter
	trades   tradesWriter
	datasets core.DatasetRepo
	archiver *Archiver
}

// klineFetcher/tradeFetcher narrow *Client down to the one method each
// ingest mode needs, so tests can supply a fake without making real HTTP
// calls.
type klineFetcher interface {
	FetchKlines(symbol, interval string, from, end core.TimestampMs) ([]core.Kline, []byte, error)
}

type tradeFetcher interface {
	FetchAggTrades(symbol string, from, end core.TimestampMs) ([]core.AggTrade, []byte, error)
}

// marketWriter/tradesWriter narrow the store package's concrete types
// down to the one write method the pipeline needs, so tests can supply a
// fake without depending on Mongo.
type marketWriter interface {
	UpsertKline(ctx context.Context, k core.Kline) error
}

type tradesWriter interface {
	InsertTrade(ctx context.Context, t core.AggTrade) error
}

func NewPipeline(client *Client, market marketWriter, trades tradesWriter, datasets core.DatasetRepo, archiver *Archiver) *Pipeline {
	return &Pipeline{klines: client, agg: client, market: market, trades: trades, datasets: datasets, archiver: archiver}
}

// RegisterDataset persists a new dataset row in REGISTERED status,
// mirroring original_source's IngestService.register_dataset.
func (p *Pipeline) RegisterDataset(ctx context.Context, symbol, interval string, start, end core.TimestampMs) (core.DatasetMetadata, error) {
	if symbol == "" {
		return core.DatasetMetadata{}, apperr.Validationf("symbol cannot be empty")
	}
	if end <= start {
		return core.DatasetMetadata{}, apperr.Validationf("end_time must be greater than start_time")
	}
	now := core.NowMs()
	meta := core.DatasetMetadata{
		ID: uuid.New(), Symbol: symbol, Interval: interval,
		StartTime: start, EndTime: end, Status: core.DatasetRegistered,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := p.datasets.Upsert(ctx, meta); err != nil {
		return core.DatasetMetadata{}, err
	}
	return meta, nil
}

// IngestKlines downloads and persists every kline page in [meta.StartTime,
// meta.EndTime), reporting status/progress/log lines through sink as it
// goes, and honoring sink.IsCancelled() between pages. interval is empty
// for an agg-trades dataset (see IngestAggTrades).
func (p *Pipeline) IngestKlines(ctx context.Context, meta core.DatasetMetadata, sink core.ProgressSink) error {
	sink.SetStatus(core.DatasetIngesting, "starting kline ingest")

	stepMs := intervalDurations[meta.Interval]
	if stepMs == 0 {
		stepMs = intervalEstimateMs
	}
	totalEst := int64(meta.EndTime-meta.StartTime) / stepMs
	if totalEst <= 0 {
		totalEst = 1
	}

	from := meta.StartTime
	var accumulated int64
	lastLoggedPct := int64(-1)

	for from < meta.EndTime {
		if sink.IsCancelled() {
			sink.SetStatus(core.DatasetCanceled, "ingest canceled")
			return nil
		}

		klines, raw, err := p.klines.FetchKlines(meta.Symbol, meta.Interval, from, meta.EndTime)
		if err != nil {
			sink.SetStatus(core.DatasetFailed, err.Error())
			return err
		}
		if len(klines) == 0 {
			break
		}

		var lastClose core.TimestampMs
		for _, k := range klines {
			if k.CloseTime > lastClose {
				lastClose = k.CloseTime
			}
		}

		// Writing the page to the store and archiving its raw bytes are
		// independent; run them concurrently instead of back to back.
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			for _, k := range klines {
				if err := p.market.UpsertKline(gctx, k); err != nil {
					return err
				}
			}
			return nil
		})
		g.Go(func() error {
			if err := p.archiver.WritePage(gctx, meta.Symbol, "klines", raw); err != nil {
				sink.AppendLog(fmt.Sprintf("archive write failed: %v", err))
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			sink.SetStatus(core.DatasetFailed, err.Error())
			return err
		}

		accumulated += int64(len(klines))
		pct := clampPct((accumulated * 100) / totalEst)
		if pct >= lastLoggedPct+5 {
			sink.SetProgress(uint8(pct), fmt.Sprintf("%d/%d klines", accumulated, totalEst))
			lastLoggedPct = pct
		}

		if lastClose <= from {
			break
		}
		from = lastClose + 1
	}

	meta.Status = core.DatasetReady
	meta.Progress = 100
	meta.UpdatedAt = core.NowMs()
	if err := p.datasets.Upsert(ctx, meta); err != nil {
		sink.SetStatus(core.DatasetFailed, err.Error())
		return err
	}
	sink.SetStatus(core.DatasetReady, "kline ingest complete")
	return nil
}

// IngestAggTrades downloads and persists every agg-trades page in
// [meta.StartTime, meta.EndTime), identical in shape to IngestKlines but
// over the exclusive-cursor trade pagination.
func (p *Pipeline) IngestAggTrades(ctx context.Context, meta core.DatasetMetadata, sink core.ProgressSink) error {
	sink.SetStatus(core.DatasetIngesting, "starting agg-trades ingest")

	totalEst := int64(meta.EndTime - meta.StartTime)
	if totalEst <= 0 {
		totalEst = 1
	}

	from := meta.StartTime - 1 // first page is inclusive of StartTime
	var accumulated int64
	lastLoggedPct := int64(-1)

	for {
		if sink.IsCancelled() {
			sink.SetStatus(core.DatasetCanceled, "ingest canceled")
			return nil
		}

		trades, raw, err := p.agg.FetchAggTrades(meta.Symbol, from, meta.EndTime)
		if err != nil {
			sink.SetStatus(core.DatasetFailed, err.Error())
			return err
		}
		if len(trades) == 0 {
			break
		}

		var last core.TimestampMs
		for _, t := range trades {
			if t.EventTime > last {
				last = t.EventTime
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			for _, t := range trades {
				if err := p.trades.InsertTrade(gctx, t); err != nil {
					return err
				}
			}
			return nil
		})
		g.Go(func() error {
			if err := p.archiver.WritePage(gctx, meta.Symbol, "aggtrades", raw); err != nil {
				sink.AppendLog(fmt.Sprintf("archive write failed: %v", err))
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			sink.SetStatus(core.DatasetFailed, err.Error())
			return err
		}

		accumulated += int64(len(trades))
		elapsed := int64(last - meta.StartTime)
		pct := clampPct((elapsed * 100) / totalEst)
		if pct >= lastLoggedPct+5 {
			sink.SetProgress(uint8(pct), fmt.Sprintf("%d trades, up to t=%d", accumulated, last))
			lastLoggedPct = pct
		}

		if last <= from {
			break
		}
		from = last
	}

	meta.Status = core.DatasetReady
	meta.Progress = 100
	meta.UpdatedAt = core.NowMs()
	if err := p.datasets.Upsert(ctx, meta); err != nil {
		sink.SetStatus(core.DatasetFailed, err.Error())
		return err
	}
	sink.SetStatus(core.DatasetReady, "agg-trades ingest complete")
	return nil
}

func clampPct(v int64) int64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
