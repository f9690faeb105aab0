package cache

import (
	"context"
	"sync"
	"time"

	"renkoflow/logger"
	"renkoflow/models"
)

// Key identifies one cached candle window. Two requests share an entry only
// when instrument, timeframe and window size all match.
type Key struct {
	Instrument string
	Timeframe  string
	Window     int
}

type entry struct {
	series    models.CandleSeries
	fetchedAt time.Time
}

// FetchFunc loads a candle series from the upstream source. It is invoked
// without the store lock held, so slow fetches never block readers of other
// keys.
type FetchFunc func(ctx context.Context) (models.CandleSeries, error)

// Store is a TTL cache over fetched candle series. Staleness is evaluated
// lazily on access; there is no background eviction. When a refetch fails
// and a stale entry exists, the stale entry is served and the failure is
// reported through the result's Stale flag rather than as an error.
type Store struct {
	mu      sync.RWMutex
	entries map[Key]entry
	ttl     time.Duration
	log     *logger.Log
	now     func() time.Time
}

// Result is a cache read outcome. Stale is set when the payload was served
// past its TTL because the refetch failed; FetchErr then carries that
// failure for logging.
type Result struct {
	Series   models.CandleSeries
	Stale    bool
	FetchErr error
}

func NewStore(ttl time.Duration) *Store {
	return &Store{
		entries: make(map[Key]entry),
		ttl:     ttl,
		log:     logger.GetLogger(),
		now:     time.Now,
	}
}

// Get returns the series for key, fetching through fn when the cached entry
// is missing or expired. A failed refetch falls back to the stale entry if
// one exists; with no entry at all the fetch error propagates.
func (s *Store) Get(ctx context.Context, key Key, fn FetchFunc) (Result, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if ok && s.now().Sub(e.fetchedAt) < s.ttl {
		logger.IncrementCacheHit()
		return Result{Series: e.series}, nil
	}

	series, err := fn(ctx)
	if err != nil {
		if !ok {
			return Result{}, err
		}
		s.log.WithComponent("cache").WithFields(logger.Fields{
			"instrument": key.Instrument,
			"timeframe":  key.Timeframe,
			"age":        s.now().Sub(e.fetchedAt).String(),
		}).WithError(err).Warn("refetch failed, serving stale entry")
		logger.IncrementCacheStaleServe()
		return Result{Series: e.series, Stale: true, FetchErr: err}, nil
	}

	s.mu.Lock()
	s.entries[key] = entry{series: series, fetchedAt: s.now()}
	s.mu.Unlock()
	return Result{Series: series}, nil
}

// Invalidate drops the entry for key so the next Get refetches. Used by the
// live stream when a closed candle lands.
func (s *Store) Invalidate(key Key) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Len reports the number of resident entries, fresh or stale.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
