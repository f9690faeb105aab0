package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"renkoflow/config"
	"renkoflow/logger"
	"renkoflow/models"
	"renkoflow/reader"
)

// intervals maps request timeframes to the v5 market kline interval codes.
var intervals = map[string]string{
	"1m":  "1",
	"5m":  "5",
	"15m": "15",
	"30m": "30",
	"1h":  "60",
	"4h":  "240",
	"1d":  "D",
}

// Rate limit exceeded on the v5 API.
const retCodeRateLimited = 10006

// klineResult is the v5 market kline payload. Rows are
// [startTime, open, high, low, close, volume, turnover], newest first.
type klineResult struct {
	Category string     `json:"category"`
	Symbol   string     `json:"symbol"`
	List     [][]string `json:"list"`
}

// Reader pulls linear futures klines through the official v5 client.
type Reader struct {
	config  *config.Config
	client  *bybit.Client
	limiter *rate.Limiter
	log     *logger.Log
}

func NewReader(cfg *config.Config) *Reader {
	log := logger.GetLogger()

	base := cfg.Source.Bybit.BaseURL
	if parsed, err := url.Parse(base); err == nil && parsed.Host != "" {
		base = fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
	}

	client := bybit.NewBybitHttpClient("", "", bybit.WithBaseURL(base))
	client.HTTPClient = &http.Client{Timeout: cfg.Reader.Timeout}

	rl := cfg.Source.RateLimit
	limiter := rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), rl.BurstSize)

	log.WithComponent("bybit_reader").WithFields(logger.Fields{
		"base_url": base,
		"timeout":  cfg.Reader.Timeout,
	}).Info("bybit kline reader initialized")

	return &Reader{config: cfg, client: client, limiter: limiter, log: log}
}

func (r *Reader) Name() string { return "bybit" }

// Fetch pulls up to window.Limit klines for the instrument and timeframe,
// oldest first.
func (r *Reader) Fetch(ctx context.Context, instrument, timeframe string, window reader.Window) (models.CandleSeries, error) {
	interval, ok := intervals[timeframe]
	if !ok {
		return models.CandleSeries{}, models.NewFetchError(models.FetchInvalidResponse,
			fmt.Errorf("unsupported timeframe %q", timeframe))
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return models.CandleSeries{}, models.NewFetchError(models.FetchTimeout, err)
	}

	params := map[string]interface{}{
		"category": "linear",
		"symbol":   instrument,
		"interval": interval,
		"limit":    window.Limit,
	}

	resp, err := r.client.NewUtaBybitServiceWithParams(params).GetMarketKline(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return models.CandleSeries{}, models.NewFetchError(models.FetchTimeout, err)
		}
		return models.CandleSeries{}, models.NewFetchError(models.FetchNetworkError, err)
	}
	if resp.RetCode == retCodeRateLimited {
		return models.CandleSeries{}, models.NewFetchError(models.FetchRateLimited,
			fmt.Errorf("retCode %d: %s", resp.RetCode, resp.RetMsg))
	}
	if resp.RetCode != 0 {
		return models.CandleSeries{}, models.NewFetchError(models.FetchInvalidResponse,
			fmt.Errorf("retCode %d: %s", resp.RetCode, resp.RetMsg))
	}

	payload, err := json.Marshal(resp.Result)
	if err != nil {
		return models.CandleSeries{}, models.NewFetchError(models.FetchInvalidResponse, err)
	}
	var result klineResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return models.CandleSeries{}, models.NewFetchError(models.FetchInvalidResponse, err)
	}

	series, err := buildSeries(instrument, timeframe, result.List)
	if err != nil {
		return models.CandleSeries{}, models.NewFetchError(models.FetchInvalidResponse, err)
	}

	r.log.WithComponent("bybit_reader").WithFields(logger.Fields{
		"instrument": instrument,
		"timeframe":  timeframe,
		"candles":    series.Len(),
	}).Debug("klines fetched")
	return series, nil
}

// buildSeries converts the newest-first kline rows into an oldest-first
// candle series. Close times are derived from consecutive start times; the
// newest candle closes one interval after its start.
func buildSeries(instrument, timeframe string, rows [][]string) (models.CandleSeries, error) {
	series := models.CandleSeries{Instrument: instrument, Timeframe: timeframe}
	series.Candles = make([]models.Candle, 0, len(rows))

	for i := len(rows) - 1; i >= 0; i-- {
		candle, err := parseRow(rows[i])
		if err != nil {
			return models.CandleSeries{}, fmt.Errorf("row %d: %w", i, err)
		}
		series.Candles = append(series.Candles, candle)
	}
	for i := range series.Candles {
		if i+1 < len(series.Candles) {
			series.Candles[i].CloseTime = series.Candles[i+1].OpenTime.Add(-time.Millisecond)
		} else if i > 0 {
			span := series.Candles[i].OpenTime.Sub(series.Candles[i-1].OpenTime)
			series.Candles[i].CloseTime = series.Candles[i].OpenTime.Add(span - time.Millisecond)
		} else {
			series.Candles[i].CloseTime = series.Candles[i].OpenTime
		}
	}
	if err := series.Validate(); err != nil {
		return models.CandleSeries{}, err
	}
	return series, nil
}

func parseRow(row []string) (models.Candle, error) {
	if len(row) < 6 {
		return models.Candle{}, fmt.Errorf("kline row has %d fields, want at least 6", len(row))
	}
	startMs, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("start time %q: %w", row[0], err)
	}
	fields := make([]decimal.Decimal, 5)
	for i := 0; i < 5; i++ {
		v, err := decimal.NewFromString(row[i+1])
		if err != nil {
			return models.Candle{}, fmt.Errorf("field %d %q: %w", i+1, row[i+1], err)
		}
		fields[i] = v
	}
	return models.Candle{
		OpenTime: time.UnixMilli(startMs).UTC(),
		Open:     fields[0],
		High:     fields[1],
		Low:      fields[2],
		Close:    fields[3],
		Volume:   fields[4],
	}, nil
}
