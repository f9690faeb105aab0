package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"renkoflow/config"
	"renkoflow/logger"
	"renkoflow/models"
	"renkoflow/reader"
)

// intervals maps request timeframes to the spot candle type parameter.
var intervals = map[string]string{
	"1m":  "1min",
	"5m":  "5min",
	"15m": "15min",
	"30m": "30min",
	"1h":  "1hour",
	"4h":  "4hour",
	"1d":  "1day",
}

// Reader pulls spot candles over plain HTTP. The public candle endpoint
// needs no SDK or credentials.
type Reader struct {
	config  *config.Config
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Log
	baseURL string
}

func NewReader(cfg *config.Config) *Reader {
	log := logger.GetLogger()

	client := &http.Client{Timeout: cfg.Reader.Timeout}
	rl := cfg.Source.RateLimit
	limiter := rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), rl.BurstSize)

	log.WithComponent("kucoin_reader").WithFields(logger.Fields{
		"base_url": cfg.Source.Kucoin.BaseURL,
	}).Info("kucoin candle reader initialized")

	return &Reader{
		config:  cfg,
		client:  client,
		limiter: limiter,
		log:     log,
		baseURL: strings.TrimRight(cfg.Source.Kucoin.BaseURL, "/"),
	}
}

func (r *Reader) Name() string { return "kucoin" }

// Fetch pulls up to window.Limit candles, oldest first. KuCoin symbols are
// dash separated; plain concatenated symbols are converted against USDT.
func (r *Reader) Fetch(ctx context.Context, instrument, timeframe string, window reader.Window) (models.CandleSeries, error) {
	interval, ok := intervals[timeframe]
	if !ok {
		return models.CandleSeries{}, models.NewFetchError(models.FetchInvalidResponse,
			fmt.Errorf("unsupported timeframe %q", timeframe))
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return models.CandleSeries{}, models.NewFetchError(models.FetchTimeout, err)
	}

	reqURL, err := url.Parse(r.baseURL + "/api/v1/market/candles")
	if err != nil {
		return models.CandleSeries{}, models.NewFetchError(models.FetchInvalidResponse, err)
	}
	q := reqURL.Query()
	q.Set("type", interval)
	q.Set("symbol", kucoinSymbol(instrument))
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return models.CandleSeries{}, models.NewFetchError(models.FetchInvalidResponse, err)
	}
	res, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return models.CandleSeries{}, models.NewFetchError(models.FetchTimeout, err)
		}
		return models.CandleSeries{}, models.NewFetchError(models.FetchNetworkError, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusTooManyRequests {
		fe := models.NewFetchError(models.FetchRateLimited, fmt.Errorf("status %d", res.StatusCode))
		if after, err := strconv.Atoi(res.Header.Get("Retry-After")); err == nil && after > 0 {
			fe.RetryAfter = time.Duration(after) * time.Second
		}
		return models.CandleSeries{}, fe
	}
	if res.StatusCode != http.StatusOK {
		return models.CandleSeries{}, models.NewFetchError(models.FetchNetworkError,
			fmt.Errorf("status %d", res.StatusCode))
	}

	var envelope struct {
		Code string     `json:"code"`
		Data [][]string `json:"data"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return models.CandleSeries{}, models.NewFetchError(models.FetchInvalidResponse, err)
	}
	if envelope.Code != "200000" {
		return models.CandleSeries{}, models.NewFetchError(models.FetchInvalidResponse,
			fmt.Errorf("api code %s", envelope.Code))
	}

	rows := envelope.Data
	if window.Limit > 0 && len(rows) > window.Limit {
		rows = rows[:window.Limit]
	}
	series, err := buildSeries(instrument, timeframe, rows)
	if err != nil {
		return models.CandleSeries{}, models.NewFetchError(models.FetchInvalidResponse, err)
	}

	r.log.WithComponent("kucoin_reader").WithFields(logger.Fields{
		"instrument": instrument,
		"timeframe":  timeframe,
		"candles":    series.Len(),
	}).Debug("candles fetched")
	return series, nil
}

// kucoinSymbol converts a concatenated USDT symbol into the dash separated
// form the API expects. Already dashed symbols pass through.
func kucoinSymbol(instrument string) string {
	if strings.Contains(instrument, "-") {
		return instrument
	}
	if base, ok := strings.CutSuffix(instrument, "USDT"); ok && base != "" {
		return base + "-USDT"
	}
	return instrument
}

// buildSeries converts the newest-first candle rows into an oldest-first
// series. Rows are [time, open, close, high, low, volume, turnover] with
// the time in seconds.
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
			series.Candles[i].CloseTime = series.Candles[i+1].OpenTime.Add(-time.Second)
		} else if i > 0 {
			span := series.Candles[i].OpenTime.Sub(series.Candles[i-1].OpenTime)
			series.Candles[i].CloseTime = series.Candles[i].OpenTime.Add(span - time.Second)
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
		return models.Candle{}, fmt.Errorf("candle row has %d fields, want at least 6", len(row))
	}
	ts, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("time %q: %w", row[0], err)
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
		OpenTime: time.Unix(ts, 0).UTC(),
		Open:     fields[0],
		Close:    fields[1],
		High:     fields[2],
		Low:      fields[3],
		Volume:   fields[4],
	}, nil
}
