package reader

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"renkoflow/config"
	"renkoflow/logger"
	"renkoflow/models"
)

// Window bounds one candle fetch.
type Window struct {
	Limit int
}

// CandleSource fetches historical candles from one exchange. Implementations
// return series ordered oldest first with strictly increasing open times.
type CandleSource interface {
	Fetch(ctx context.Context, instrument, timeframe string, window Window) (models.CandleSeries, error)
	Name() string
}

// hintedBackOff overrides the next computed delay with a server-provided
// retry-after hint when one was captured.
type hintedBackOff struct {
	backoff.BackOff
	hint *time.Duration
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if *b.hint > 0 {
		next = *b.hint
		*b.hint = 0
	}
	return next
}

// FetchWithRetry wraps src.Fetch in exponential backoff per the retry
// config. Non-retryable fetch errors (invalid responses) stop immediately;
// a rate-limit hint from the exchange overrides the computed delay. The
// context bounds the whole attempt sequence.
func FetchWithRetry(ctx context.Context, src CandleSource, instrument, timeframe string, window Window, retry config.RetryConfig) (models.CandleSeries, error) {
	log := logger.GetLogger().WithComponent("reader").WithFields(logger.Fields{
		"source":     src.Name(),
		"instrument": instrument,
		"timeframe":  timeframe,
	})

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = retry.BaseDelay
	exp.MaxInterval = retry.MaxDelay
	exp.Multiplier = float64(retry.BackoffMultiplier)
	exp.MaxElapsedTime = 0

	var hint time.Duration
	var policy backoff.BackOff = &hintedBackOff{BackOff: exp, hint: &hint}
	if retry.MaxAttempts > 0 {
		policy = backoff.WithMaxRetries(policy, uint64(retry.MaxAttempts-1))
	}

	var series models.CandleSeries
	attempt := 0
	op := func() error {
		attempt++
		s, err := src.Fetch(ctx, instrument, timeframe, window)
		if err == nil {
			series = s
			return nil
		}

		var fe *models.FetchError
		if errors.As(err, &fe) {
			if !fe.Retryable() {
				return backoff.Permanent(err)
			}
			if fe.Kind == models.FetchRateLimited && fe.RetryAfter > 0 {
				hint = fe.RetryAfter
			}
		}
		log.WithError(err).WithFields(logger.Fields{"attempt": attempt}).Warn("fetch failed, retrying")
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return models.CandleSeries{}, err
	}

	logger.IncrementCandlesFetched(series.Len())
	return series, nil
}
