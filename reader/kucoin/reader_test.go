package kucoin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"renkoflow/config"
	"renkoflow/models"
	"renkoflow/reader"
)

func testReader(baseURL string) *Reader {
	cfg := &config.Config{}
	cfg.Source.Kucoin.BaseURL = baseURL
	cfg.Source.RateLimit.RequestsPerSecond = 100
	cfg.Source.RateLimit.BurstSize = 10
	cfg.Reader.Timeout = 5 * time.Second
	return NewReader(cfg)
}

func TestFetchParsesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/market/candles" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "BTC-USDT" {
			t.Errorf("symbol = %s", got)
		}
		if got := r.URL.Query().Get("type"); got != "1hour" {
			t.Errorf("type = %s", got)
		}
		fmt.Fprint(w, `{"code":"200000","data":[
			["1709258400","62400","62500","62600","62300","900","56000000"],
			["1709254800","62100","62400","62450","62000","1100","68000000"],
			["1709251200","62000","62100","62200","61900","1300","80000000"]
		]}`)
	}))
	defer srv.Close()

	series, err := testReader(srv.URL).Fetch(context.Background(), "BTCUSDT", "1h", reader.Window{Limit: 100})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if series.Len() != 3 {
		t.Fatalf("len = %d, want 3", series.Len())
	}
	if !series.Candles[0].OpenTime.Before(series.Candles[2].OpenTime) {
		t.Fatal("series not oldest first")
	}
	if series.Candles[0].Close.String() != "62100" {
		t.Fatalf("first close = %s", series.Candles[0].Close)
	}
}

func TestFetchRateLimitedCarriesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testReader(srv.URL).Fetch(context.Background(), "BTCUSDT", "1h", reader.Window{Limit: 100})
	var fe *models.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want FetchError", err)
	}
	if fe.Kind != models.FetchRateLimited || fe.RetryAfter != 7*time.Second {
		t.Fatalf("kind = %s retry_after = %s", fe.Kind, fe.RetryAfter)
	}
}

func TestFetchRejectsAPIErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"400100","data":[]}`)
	}))
	defer srv.Close()

	_, err := testReader(srv.URL).Fetch(context.Background(), "BTCUSDT", "1h", reader.Window{Limit: 100})
	var fe *models.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want FetchError", err)
	}
	if fe.Kind != models.FetchInvalidResponse {
		t.Fatalf("kind = %s", fe.Kind)
	}
	if fe.Retryable() {
		t.Fatal("invalid response must not be retryable")
	}
}

func TestKucoinSymbol(t *testing.T) {
	cases := map[string]string{
		"BTCUSDT":  "BTC-USDT",
		"BTC-USDT": "BTC-USDT",
		"ETHBTC":   "ETHBTC",
	}
	for in, want := range cases {
		if got := kucoinSymbol(in); got != want {
			t.Fatalf("kucoinSymbol(%s) = %s, want %s", in, got, want)
		}
	}
}
