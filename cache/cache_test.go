package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"renkoflow/models"
)

func testSeries(close int64) models.CandleSeries {
	p := decimal.NewFromInt(close)
	return models.CandleSeries{
		Instrument: "BTCUSDT",
		Timeframe:  "1h",
		Candles: []models.Candle{{
			OpenTime:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			CloseTime: time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC),
			Open:      p, High: p, Low: p, Close: p,
			Volume: decimal.NewFromInt(1),
		}},
	}
}

func fixedClock(s *Store) *time.Time {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return &now
}

func TestGetFreshHitSkipsFetch(t *testing.T) {
	store := NewStore(5 * time.Minute)
	fixedClock(store)
	key := Key{Instrument: "BTCUSDT", Timeframe: "1h", Window: 100}

	calls := 0
	fetch := func(context.Context) (models.CandleSeries, error) {
		calls++
		return testSeries(100), nil
	}

	for i := 0; i < 3; i++ {
		res, err := store.Get(context.Background(), key, fetch)
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if res.Stale {
			t.Fatalf("get %d unexpectedly stale", i)
		}
		if !res.Series.Candles[0].Close.Equal(decimal.NewFromInt(100)) {
			t.Fatalf("get %d wrong payload", i)
		}
	}
	if calls != 1 {
		t.Fatalf("fetch calls = %d, want 1", calls)
	}
	if store.Len() != 1 {
		t.Fatalf("entries = %d, want 1", store.Len())
	}
}

func TestGetExpiredRefetches(t *testing.T) {
	store := NewStore(5 * time.Minute)
	now := fixedClock(store)
	key := Key{Instrument: "BTCUSDT", Timeframe: "1h", Window: 100}

	calls := 0
	fetch := func(context.Context) (models.CandleSeries, error) {
		calls++
		return testSeries(int64(100 + calls)), nil
	}

	if _, err := store.Get(context.Background(), key, fetch); err != nil {
		t.Fatalf("first get: %v", err)
	}
	*now = now.Add(5 * time.Minute)

	res, err := store.Get(context.Background(), key, fetch)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if calls != 2 {
		t.Fatalf("fetch calls = %d, want 2", calls)
	}
	if !res.Series.Candles[0].Close.Equal(decimal.NewFromInt(102)) {
		t.Fatal("expired entry was not replaced")
	}
}

func TestGetServesStaleOnRefetchFailure(t *testing.T) {
	store := NewStore(time.Minute)
	now := fixedClock(store)
	key := Key{Instrument: "ETHUSDT", Timeframe: "4h", Window: 500}

	healthy := func(context.Context) (models.CandleSeries, error) {
		return testSeries(2000), nil
	}
	fetchErr := models.NewFetchError(models.FetchNetworkError, errors.New("connection reset"))
	broken := func(context.Context) (models.CandleSeries, error) {
		return models.CandleSeries{}, fetchErr
	}

	if _, err := store.Get(context.Background(), key, healthy); err != nil {
		t.Fatalf("seed get: %v", err)
	}
	*now = now.Add(2 * time.Minute)

	res, err := store.Get(context.Background(), key, broken)
	if err != nil {
		t.Fatalf("stale fallback must not error: %v", err)
	}
	if !res.Stale {
		t.Fatal("result not flagged stale")
	}
	if !errors.Is(res.FetchErr, fetchErr) {
		t.Fatalf("fetch error = %v", res.FetchErr)
	}
	if !res.Series.Candles[0].Close.Equal(decimal.NewFromInt(2000)) {
		t.Fatal("stale payload lost")
	}
}

func TestGetPropagatesErrorWithoutEntry(t *testing.T) {
	store := NewStore(time.Minute)
	fixedClock(store)
	key := Key{Instrument: "XRPUSDT", Timeframe: "1h", Window: 100}

	fetchErr := models.NewFetchError(models.FetchTimeout, context.DeadlineExceeded)
	_, err := store.Get(context.Background(), key, func(context.Context) (models.CandleSeries, error) {
		return models.CandleSeries{}, fetchErr
	})
	if !errors.Is(err, fetchErr) {
		t.Fatalf("err = %v, want the fetch error", err)
	}
	if store.Len() != 0 {
		t.Fatal("failed fetch must not leave an entry")
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	store := NewStore(time.Hour)
	fixedClock(store)
	key := Key{Instrument: "BTCUSDT", Timeframe: "1h", Window: 100}

	calls := 0
	fetch := func(context.Context) (models.CandleSeries, error) {
		calls++
		return testSeries(100), nil
	}

	if _, err := store.Get(context.Background(), key, fetch); err != nil {
		t.Fatalf("get: %v", err)
	}
	store.Invalidate(key)
	if _, err := store.Get(context.Background(), key, fetch); err != nil {
		t.Fatalf("get after invalidate: %v", err)
	}
	if calls != 2 {
		t.Fatalf("fetch calls = %d, want 2", calls)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	store := NewStore(time.Hour)
	fixedClock(store)

	for _, key := range []Key{
		{Instrument: "BTCUSDT", Timeframe: "1h", Window: 100},
		{Instrument: "BTCUSDT", Timeframe: "4h", Window: 100},
		{Instrument: "BTCUSDT", Timeframe: "1h", Window: 500},
	} {
		if _, err := store.Get(context.Background(), key, func(context.Context) (models.CandleSeries, error) {
			return testSeries(1), nil
		}); err != nil {
			t.Fatalf("get %+v: %v", key, err)
		}
	}
	if store.Len() != 3 {
		t.Fatalf("entries = %d, want 3", store.Len())
	}
}
