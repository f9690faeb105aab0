package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"renkoflow/cache"
	"renkoflow/config"
	"renkoflow/indicator"
	"renkoflow/logger"
	"renkoflow/models"
	"renkoflow/reader"
)

// Request is one indicator computation over a candle window.
type Request struct {
	Instrument string
	Timeframe  string
	Window     int
	Policy     models.BrickSizePolicy
	Stoch      indicator.StochParams
}

// Result is the full output of one pipeline run. Degraded is set when the
// candles came from a stale cache entry after a refetch failure.
type Result struct {
	RequestID  string
	Instrument string
	Timeframe  string
	Candles    models.CandleSeries
	Renko      models.RenkoSeries
	Points     []models.StochRSIPoint
	Degraded   bool
	Elapsed    time.Duration
}

// Pipeline runs fetch, Renko and StochRSI as one unit. It is safe for
// concurrent use; per-run state lives in the request and result.
type Pipeline struct {
	config *config.Config
	source reader.CandleSource
	store  *cache.Store
	log    *logger.Log
}

func New(cfg *config.Config, source reader.CandleSource, store *cache.Store) *Pipeline {
	return &Pipeline{
		config: cfg,
		source: source,
		store:  store,
		log:    logger.GetLogger(),
	}
}

// Run executes one request. Failures carry the stage they happened in; a
// stale cache serve is not a failure, it degrades the result instead.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	res := Result{
		RequestID:  uuid.NewString(),
		Instrument: req.Instrument,
		Timeframe:  req.Timeframe,
	}
	log := p.log.WithComponent("pipeline").WithFields(logger.Fields{
		"request_id": res.RequestID,
		"instrument": req.Instrument,
		"timeframe":  req.Timeframe,
	})

	if err := validateRequest(req); err != nil {
		return res, p.fail(req, "validate", err)
	}

	runCtx := ctx
	if p.config.Pipeline.RequestTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.config.Pipeline.RequestTimeout)
		defer cancel()
	}

	key := cache.Key{Instrument: req.Instrument, Timeframe: req.Timeframe, Window: req.Window}
	cached, err := p.store.Get(runCtx, key, func(fetchCtx context.Context) (models.CandleSeries, error) {
		return reader.FetchWithRetry(fetchCtx, p.source, req.Instrument, req.Timeframe,
			reader.Window{Limit: req.Window}, p.config.Reader.Retry)
	})
	if err != nil {
		return res, p.fail(req, "fetch", err)
	}
	res.Candles = cached.Series
	res.Degraded = cached.Stale
	if cached.Stale {
		log.WithError(cached.FetchErr).Warn("serving indicators from stale candles")
	}

	limits := p.brickLimits(req.Instrument)
	renko, err := indicator.NewRenkoBuilder(limits).Build(cached.Series, req.Policy)
	if err != nil {
		return res, p.fail(req, "renko", err)
	}
	res.Renko = renko

	points, err := indicator.ComputeStochRSI(renko.Closes(), req.Stoch)
	if err != nil {
		if models.IsInsufficientData(err) && len(renko.Bricks) < req.Stoch.MinLen() {
			// Quiet markets legitimately produce too few bricks for the
			// oscillator; the Renko output still stands on its own.
			log.WithFields(logger.Fields{"bricks": len(renko.Bricks)}).
				Debug("too few bricks for stoch rsi, returning renko only")
			res.Elapsed = time.Since(start)
			logger.RecordStageItems("stoch_rsi_skipped", 1)
			return res, nil
		}
		return res, p.fail(req, "stoch_rsi", err)
	}
	res.Points = points
	res.Elapsed = time.Since(start)

	log.WithFields(logger.Fields{
		"candles":  res.Candles.Len(),
		"bricks":   len(renko.Bricks),
		"points":   len(points),
		"degraded": res.Degraded,
		"elapsed":  res.Elapsed.String(),
	}).Info("pipeline run complete")
	logger.RecordStageItems("pipeline_runs", 1)
	log.LogMetric("pipeline", "run_duration_ms", float64(res.Elapsed.Milliseconds()), "gauge", logger.Fields{
		"instrument": req.Instrument,
		"timeframe":  req.Timeframe,
	})
	return res, nil
}

// RunBatch executes requests across a bounded worker pool. Results keep the
// request order; failed slots carry their error in errs.
func (p *Pipeline) RunBatch(ctx context.Context, reqs []Request) ([]Result, []error) {
	workers := p.config.Pipeline.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(reqs) {
		workers = len(reqs)
	}

	results := make([]Result, len(reqs))
	errs := make([]error, len(reqs))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i], errs[i] = p.Run(ctx, reqs[i])
			}
		}()
	}
	for i := range reqs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	p.log.WithComponent("pipeline").WithFields(logger.Fields{
		"requests": len(reqs),
		"workers":  workers,
		"failed":   failed,
	}).Info("batch complete")
	return results, errs
}

func (p *Pipeline) fail(req Request, stage string, err error) error {
	perr := &models.PipelineError{
		Instrument: req.Instrument,
		Timeframe:  req.Timeframe,
		Stage:      stage,
		Err:        err,
	}
	p.log.WithComponent("pipeline").WithFields(logger.Fields{
		"instrument": req.Instrument,
		"timeframe":  req.Timeframe,
		"stage":      stage,
	}).WithError(err).Error("pipeline stage failed")
	return perr
}

// brickLimits resolves per-instrument clamp limits with the default block
// as fallback.
func (p *Pipeline) brickLimits(instrument string) indicator.BrickSizeLimits {
	lim := p.config.BrickLimits(instrument)
	return indicator.BrickSizeLimits{
		Tick: decimal.NewFromFloat(lim.TickSize),
		Min:  decimal.NewFromFloat(lim.MinBrickSize),
		Max:  decimal.NewFromFloat(lim.MaxBrickSize),
	}
}

func validateRequest(req Request) error {
	switch {
	case req.Instrument == "":
		return &models.ConfigError{Param: "instrument", Reason: "must not be empty"}
	case req.Timeframe == "":
		return &models.ConfigError{Param: "timeframe", Reason: "must not be empty"}
	case req.Window <= 0:
		return &models.ConfigError{Param: "window", Reason: "must be positive"}
	case req.Policy == nil:
		return &models.ConfigError{Param: "policy", Reason: "must be set"}
	}
	return nil
}
