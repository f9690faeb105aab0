package writer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"renkoflow/config"
	"renkoflow/models"
	"renkoflow/pipeline"
)

func testResult() pipeline.Result {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return pipeline.Result{
		RequestID:  "test",
		Instrument: "BTCUSDT",
		Timeframe:  "1h",
		Renko: models.RenkoSeries{
			Instrument: "BTCUSDT",
			Timeframe:  "1h",
			BrickSize:  decimal.NewFromInt(10),
			Bricks: []models.Brick{
				{Index: 0, Open: decimal.NewFromInt(100), Close: decimal.NewFromInt(110),
					Direction: models.DirectionUp, SourceStart: start, SourceEnd: start.Add(time.Hour)},
				{Index: 1, Open: decimal.NewFromInt(110), Close: decimal.NewFromInt(120),
					Direction: models.DirectionUp, SourceStart: start.Add(time.Hour), SourceEnd: start.Add(2 * time.Hour)},
			},
		},
		Points: []models.StochRSIPoint{
			{Index: 1, RSI: decimal.NewFromInt(60), StochRSI: decimal.NewFromInt(70),
				K: decimal.NewFromInt(65), D: decimal.NewFromInt(55), Signal: models.SignalBullishCross},
		},
	}
}

func TestExportWritesLocalParquet(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Export.Directory = dir
	cfg.Export.Partitioning.TimeFormat = "{year}/{month}/{day}"
	cfg.Export.Partitioning.AdditionalKeys = []string{"instrument", "dataset"}

	exporter, err := NewExporter(cfg)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	if err := exporter.Export(context.Background(), testResult()); err != nil {
		t.Fatalf("export: %v", err)
	}

	var files []string
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if len(files) != 2 {
		t.Fatalf("exported files = %d, want 2 (renko + stochrsi): %v", len(files), files)
	}
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			t.Fatalf("stat %s: %v", f, err)
		}
		if info.Size() == 0 {
			t.Fatalf("empty export file %s", f)
		}
	}
}

func TestExportSkipsEmptyResult(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Export.Directory = dir

	exporter, err := NewExporter(cfg)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	res := testResult()
	res.Renko.Bricks = nil
	if err := exporter.Export(context.Background(), res); err != nil {
		t.Fatalf("export: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no files, got %v", entries)
	}
}

func TestGenerateKeyPartitioning(t *testing.T) {
	cfg := &config.Config{}
	cfg.Export.Partitioning.TimeFormat = "{year}/{month}/{day}/{hour}"
	cfg.Export.Partitioning.AdditionalKeys = []string{"instrument", "timeframe", "dataset"}
	exporter := &Exporter{config: cfg}

	ts := time.Date(2024, 3, 7, 9, 30, 0, 0, time.UTC)
	key := exporter.generateKey(testResult(), "renko", ts)
	want := "instrument=BTCUSDT/timeframe=1h/dataset=renko/2024/03/07/09/BTCUSDT_1h_renko_20240307093000.parquet"
	if key != want {
		t.Fatalf("key = %s\nwant %s", key, want)
	}
}

func TestGenerateKeyDefaultTimeFormat(t *testing.T) {
	exporter := &Exporter{config: &config.Config{}}
	ts := time.Date(2024, 3, 7, 9, 30, 0, 0, time.UTC)
	key := exporter.generateKey(testResult(), "stochrsi", ts)
	want := "2024/03/07/BTCUSDT_1h_stochrsi_20240307093000.parquet"
	if key != want {
		t.Fatalf("key = %s, want %s", key, want)
	}
}
