package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type stageStat struct {
	events int64
	items  int64
}

var (
	errorsReader   int64
	errorsPipeline int64
	warnsReader    int64
	warnsPipeline  int64
	candlesFetched int64
	cacheHits      int64
	cacheStale     int64
	bricksEmitted  int64
	exportsWritten int64
	stages         sync.Map // map[string]*stageStat
)

func recordWarn(component string) {
	if strings.Contains(component, "reader") || strings.Contains(component, "source") {
		atomic.AddInt64(&warnsReader, 1)
	} else if strings.Contains(component, "pipeline") {
		atomic.AddInt64(&warnsPipeline, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "reader") || strings.Contains(component, "source") {
		atomic.AddInt64(&errorsReader, 1)
	} else if strings.Contains(component, "pipeline") {
		atomic.AddInt64(&errorsPipeline, 1)
	}
}

// IncrementCandlesFetched records candles received from a source.
func IncrementCandlesFetched(count int) {
	atomic.AddInt64(&candlesFetched, int64(count))
	recordStage("candle_fetch", count)
}

// IncrementCacheHit records a fresh cache hit.
func IncrementCacheHit() {
	atomic.AddInt64(&cacheHits, 1)
	recordStage("cache_hit", 1)
}

// IncrementCacheStaleServe records a stale entry served after a fetch failure.
func IncrementCacheStaleServe() {
	atomic.AddInt64(&cacheStale, 1)
	recordStage("cache_stale_serve", 1)
}

// IncrementBricksEmitted records bricks produced by a Renko build.
func IncrementBricksEmitted(count int) {
	atomic.AddInt64(&bricksEmitted, int64(count))
	recordStage("renko_build", count)
}

// IncrementExportsWritten records derived series files written out.
func IncrementExportsWritten(size int64) {
	atomic.AddInt64(&exportsWritten, 1)
	recordStage("export_write", int(size))
}

// RecordStageItems attributes item counts to a named pipeline stage.
func RecordStageItems(name string, count int) {
	recordStage(name, count)
}

func recordStage(name string, count int) {
	v, _ := stages.LoadOrStore(name, &stageStat{})
	st := v.(*stageStat)
	atomic.AddInt64(&st.events, 1)
	atomic.AddInt64(&st.items, int64(count))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of runtime and pipeline statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	stageData := map[string]map[string]int64{}
	stages.Range(func(k, v any) bool {
		name := k.(string)
		st := v.(*stageStat)
		stageData[name] = map[string]int64{
			"events": atomic.LoadInt64(&st.events),
			"items":  atomic.LoadInt64(&st.items),
		}
		return true
	})

	heapMB := float64(mem.HeapAlloc) / 1024 / 1024

	fields := Fields{
		"errors_reader":   atomic.LoadInt64(&errorsReader),
		"errors_pipeline": atomic.LoadInt64(&errorsPipeline),
		"warns_reader":    atomic.LoadInt64(&warnsReader),
		"warns_pipeline":  atomic.LoadInt64(&warnsPipeline),
		"candles_fetched": atomic.LoadInt64(&candlesFetched),
		"cache_hits":      atomic.LoadInt64(&cacheHits),
		"cache_stale":     atomic.LoadInt64(&cacheStale),
		"bricks_emitted":  atomic.LoadInt64(&bricksEmitted),
		"exports_written": atomic.LoadInt64(&exportsWritten),
		"goroutines":      runtime.NumGoroutine(),
		"heap_mb":         heapMB,
		"stages":          stageData,
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("Renkoflow-Goroutines"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(runtime.NumGoroutine()))},
		{MetricName: aws.String("Renkoflow-HeapMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(heapMB)},
		{MetricName: aws.String("Renkoflow-ErrorsReader"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsReader)))},
		{MetricName: aws.String("Renkoflow-ErrorsPipeline"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsPipeline)))},
		{MetricName: aws.String("Renkoflow-CandlesFetched"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&candlesFetched)))},
		{MetricName: aws.String("Renkoflow-CacheHits"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&cacheHits)))},
		{MetricName: aws.String("Renkoflow-CacheStaleServes"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&cacheStale)))},
		{MetricName: aws.String("Renkoflow-BricksEmitted"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&bricksEmitted)))},
		{MetricName: aws.String("Renkoflow-ExportsWritten"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&exportsWritten)))},
	}

	for name, stats := range stageData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("Renkoflow-StageEvents"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Stage"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["events"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("Renkoflow-StageItems"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Stage"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["items"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
