package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"renkoflow/cache"
	"renkoflow/config"
	"renkoflow/indicator"
	"renkoflow/logger"
	"renkoflow/models"
	"renkoflow/pipeline"
	"renkoflow/reader"
	"renkoflow/reader/binance"
	"renkoflow/reader/bybit"
	"renkoflow/reader/kucoin"
	"renkoflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	watch := flag.Bool("watch", false, "Keep running and recompute when candles close")
	rolling := flag.Bool("rolling", false, "Re-derive the ATR brick size per candle instead of once per window")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithEnv("APP_ENV").WithFields(logger.Fields{
		"service": cfg.Renkoflow.Name,
		"version": cfg.Renkoflow.Version,
	}).Info("starting renkoflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, "")
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	source, err := newSource(cfg)
	if err != nil {
		log.WithError(err).Error("Failed to create candle source")
		os.Exit(1)
	}

	store := cache.NewStore(cfg.Cache.TTL)
	p := pipeline.New(cfg, source, store)

	var exporter *writer.Exporter
	if cfg.Export.Enabled {
		exporter, err = writer.NewExporter(cfg)
		if err != nil {
			log.WithError(err).Error("Failed to create exporter")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("export disabled")
	}

	recompute := models.RecomputeStatic
	if *rolling {
		recompute = models.RecomputeRolling
	}
	reqs := buildRequests(cfg, recompute)
	if len(reqs) == 0 {
		log.Error("no instruments configured")
		os.Exit(1)
	}

	runBatch(ctx, log, p, exporter, reqs)

	if !*watch {
		log.Info("renkoflow finished")
		return
	}

	// Watch mode: drop the cache entry when a candle closes and rerun
	// that instrument/timeframe.
	events := make(chan binance.KlineEvent, 64)
	streamer := binance.NewStreamer(cfg, func(ev binance.KlineEvent) {
		select {
		case events <- ev:
		default:
			log.WithComponent("main").WithFields(logger.Fields{
				"instrument": ev.Instrument,
				"timeframe":  ev.Timeframe,
			}).Warn("event queue full, dropping closed candle")
		}
	})
	if err := streamer.Start(ctx); err != nil {
		log.WithError(err).Error("Failed to start kline streamer")
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	reqIndex := make(map[cache.Key]pipeline.Request, len(reqs))
	for _, req := range reqs {
		reqIndex[cache.Key{Instrument: req.Instrument, Timeframe: req.Timeframe, Window: req.Window}] = req
	}

	log.Info("watching for closed candles")
	for {
		select {
		case sig := <-sigChan:
			log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
			cancel()
			streamer.Stop()
			log.Info("renkoflow stopped")
			return
		case ev := <-events:
			for key, req := range reqIndex {
				if key.Instrument != ev.Instrument || key.Timeframe != ev.Timeframe {
					continue
				}
				store.Invalidate(key)
				res, err := p.Run(ctx, req)
				if err != nil {
					log.WithError(err).Warn("recompute failed")
					continue
				}
				exportResult(ctx, log, exporter, res)
			}
		}
	}
}

// newSource builds the configured exchange reader.
func newSource(cfg *config.Config) (reader.CandleSource, error) {
	switch strings.ToLower(cfg.Source.Exchange) {
	case "binance":
		return binance.NewReader(cfg), nil
	case "bybit":
		return bybit.NewReader(cfg), nil
	case "kucoin":
		return kucoin.NewReader(cfg), nil
	}
	return nil, &models.ConfigError{Param: "source.exchange", Reason: "unsupported exchange " + cfg.Source.Exchange}
}

// buildRequests expands the instrument list into one request per
// instrument/timeframe pair under the configured indicator parameters.
func buildRequests(cfg *config.Config, recompute models.RecomputeMode) []pipeline.Request {
	stoch := indicator.StochParams{
		RSIPeriod:   cfg.Indicator.StochRSI.RSIPeriod,
		StochPeriod: cfg.Indicator.StochRSI.StochPeriod,
		KSmoothing:  cfg.Indicator.StochRSI.KSmoothing,
		DSmoothing:  cfg.Indicator.StochRSI.DSmoothing,
	}
	policy := models.ATRBrickSize{
		Period:     cfg.Indicator.ATR.Period,
		Multiplier: decimal.NewFromFloat(cfg.Indicator.ATR.Multiplier),
		Recompute:  recompute,
	}

	var reqs []pipeline.Request
	for _, inst := range cfg.Instruments {
		for _, tf := range inst.Timeframes {
			reqs = append(reqs, pipeline.Request{
				Instrument: inst.Symbol,
				Timeframe:  tf,
				Window:     inst.Limit,
				Policy:     policy,
				Stoch:      stoch,
			})
		}
	}
	return reqs
}

func runBatch(ctx context.Context, log *logger.Log, p *pipeline.Pipeline, exporter *writer.Exporter, reqs []pipeline.Request) {
	results, errs := p.RunBatch(ctx, reqs)
	for i, err := range errs {
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"instrument": reqs[i].Instrument,
				"timeframe":  reqs[i].Timeframe,
			}).Error("pipeline request failed")
			continue
		}
		exportResult(ctx, log, exporter, results[i])
	}
}

func exportResult(ctx context.Context, log *logger.Log, exporter *writer.Exporter, res pipeline.Result) {
	if exporter == nil {
		return
	}
	if err := exporter.Export(ctx, res); err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"instrument": res.Instrument,
			"timeframe":  res.Timeframe,
		}).Error("export failed")
	}
}
