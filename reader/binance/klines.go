package binance

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/adshao/go-binance/v2/common"
	futures "github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"renkoflow/config"
	"renkoflow/logger"
	"renkoflow/models"
	"renkoflow/reader"
)

// intervals are the supported request timeframes mapped to the exchange
// kline interval codes.
var intervals = map[string]string{
	"1m":  "1m",
	"5m":  "5m",
	"15m": "15m",
	"30m": "30m",
	"1h":  "1h",
	"4h":  "4h",
	"1d":  "1d",
}

// Reader pulls futures klines through the binance-go client. Requests are
// throttled by a shared limiter under the configured rate limit.
type Reader struct {
	config  *config.Config
	client  *futures.Client
	limiter *rate.Limiter
	log     *logger.Log
}

// NewReader creates a kline reader using the binance-go client over a
// pooled transport.
func NewReader(cfg *config.Config) *Reader {
	log := logger.GetLogger()

	transport := &http.Transport{
		MaxIdleConns:        cfg.Source.Binance.ConnectionPool.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Source.Binance.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:     cfg.Source.Binance.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:     cfg.Source.Binance.ConnectionPool.IdleConnTimeout,
		DisableCompression:  false,
	}
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   cfg.Reader.Timeout,
	}

	client := futures.NewClient("", "")
	client.HTTPClient = httpClient
	if parsed, err := url.Parse(cfg.Source.Binance.BaseURL); err == nil && parsed.Host != "" {
		client.SetApiEndpoint(fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host))
	}

	rl := cfg.Source.RateLimit
	limiter := rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), rl.BurstSize)

	log.WithComponent("binance_reader").WithFields(logger.Fields{
		"max_idle_conns":     cfg.Source.Binance.ConnectionPool.MaxIdleConns,
		"max_conns_per_host": cfg.Source.Binance.ConnectionPool.MaxConnsPerHost,
		"timeout":            cfg.Reader.Timeout,
	}).Info("binance kline reader initialized")

	return &Reader{
		config:  cfg,
		client:  client,
		limiter: limiter,
		log:     log,
	}
}

func (r *Reader) Name() string { return "binance" }

// Fetch pulls up to window.Limit closed klines for the instrument and
// timeframe, oldest first.
func (r *Reader) Fetch(ctx context.Context, instrument, timeframe string, window reader.Window) (models.CandleSeries, error) {
	interval, ok := intervals[timeframe]
	if !ok {
		return models.CandleSeries{}, models.NewFetchError(models.FetchInvalidResponse,
			fmt.Errorf("unsupported timeframe %q", timeframe))
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return models.CandleSeries{}, models.NewFetchError(models.FetchTimeout, err)
	}

	klines, err := r.client.NewKlinesService().
		Symbol(instrument).
		Interval(interval).
		Limit(window.Limit).
		Do(ctx)
	if err != nil {
		return models.CandleSeries{}, classify(err)
	}

	series := models.CandleSeries{Instrument: instrument, Timeframe: timeframe}
	series.Candles = make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		candle, err := parseKline(k)
		if err != nil {
			return models.CandleSeries{}, models.NewFetchError(models.FetchInvalidResponse, err)
		}
		series.Candles = append(series.Candles, candle)
	}
	if err := series.Validate(); err != nil {
		return models.CandleSeries{}, models.NewFetchError(models.FetchInvalidResponse, err)
	}

	r.log.WithComponent("binance_reader").WithFields(logger.Fields{
		"instrument": instrument,
		"timeframe":  timeframe,
		"candles":    len(series.Candles),
	}).Debug("klines fetched")
	return series, nil
}

func parseKline(k *futures.Kline) (models.Candle, error) {
	open, err := decimal.NewFromString(k.Open)
	if err != nil {
		return models.Candle{}, fmt.Errorf("open %q: %w", k.Open, err)
	}
	high, err := decimal.NewFromString(k.High)
	if err != nil {
		return models.Candle{}, fmt.Errorf("high %q: %w", k.High, err)
	}
	low, err := decimal.NewFromString(k.Low)
	if err != nil {
		return models.Candle{}, fmt.Errorf("low %q: %w", k.Low, err)
	}
	closePrice, err := decimal.NewFromString(k.Close)
	if err != nil {
		return models.Candle{}, fmt.Errorf("close %q: %w", k.Close, err)
	}
	volume, err := decimal.NewFromString(k.Volume)
	if err != nil {
		return models.Candle{}, fmt.Errorf("volume %q: %w", k.Volume, err)
	}
	return models.Candle{
		OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
		CloseTime: time.UnixMilli(k.CloseTime).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}, nil
}

// classify maps client errors into the fetch error taxonomy. Binance
// signals throttling with -1003 and IP bans with -1015.
func classify(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1003, -1015:
			fe := models.NewFetchError(models.FetchRateLimited, err)
			fe.RetryAfter = time.Minute
			return fe
		}
		return models.NewFetchError(models.FetchInvalidResponse, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewFetchError(models.FetchTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.NewFetchError(models.FetchTimeout, err)
	}
	return models.NewFetchError(models.FetchNetworkError, err)
}
