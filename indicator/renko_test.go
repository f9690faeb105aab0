package indicator

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"renkoflow/models"
)

// seriesFromCloses builds a flat-bodied candle per close price.
func seriesFromCloses(closes ...float64) models.CandleSeries {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]models.Candle, len(closes))
	for i, c := range closes {
		p := decimal.NewFromFloat(c)
		candles[i] = models.Candle{
			OpenTime:  start.Add(time.Duration(i) * time.Hour),
			CloseTime: start.Add(time.Duration(i+1) * time.Hour),
			Open:      p, High: p, Low: p, Close: p,
			Volume: decimal.NewFromInt(1),
		}
	}
	return models.CandleSeries{Instrument: "BTCUSDT", Timeframe: "1h", Candles: candles}
}

func fixedPolicy(size int64) models.BrickSizePolicy {
	return models.FixedBrickSize{Size: decimal.NewFromInt(size)}
}

func TestBuildFixedEmitsWholeBricks(t *testing.T) {
	series := seriesFromCloses(100, 125, 95, 100)
	renko, err := NewRenkoBuilder(BrickSizeLimits{}).Build(series, fixedPolicy(10))
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	type want struct {
		open, close float64
		dir         models.Direction
	}
	wants := []want{
		{100, 110, models.DirectionUp},
		{110, 120, models.DirectionUp},
		{120, 110, models.DirectionDown},
		{110, 100, models.DirectionDown},
	}
	if len(renko.Bricks) != len(wants) {
		t.Fatalf("bricks = %d, want %d: %+v", len(renko.Bricks), len(wants), renko.Bricks)
	}
	size := decimal.NewFromInt(10)
	for i, w := range wants {
		b := renko.Bricks[i]
		if !b.Open.Equal(decimal.NewFromFloat(w.open)) || !b.Close.Equal(decimal.NewFromFloat(w.close)) || b.Direction != w.dir {
			t.Errorf("brick %d = %s -> %s %s, want %v -> %v %s", i, b.Open, b.Close, b.Direction, w.open, w.close, w.dir)
		}
		if !b.Close.Sub(b.Open).Abs().Equal(size) {
			t.Errorf("brick %d magnitude = %s, want %s", i, b.Close.Sub(b.Open).Abs(), size)
		}
		if b.Index != i {
			t.Errorf("brick %d index = %d", i, b.Index)
		}
		if i > 0 && !b.Open.Equal(renko.Bricks[i-1].Close) {
			t.Errorf("brick %d open %s does not chain from previous close %s", i, b.Open, renko.Bricks[i-1].Close)
		}
	}
}

func TestBuildReversalRequiresDoubleMove(t *testing.T) {
	// After two up bricks the reference sits at 120. A drop to 101 is a
	// 19-point move, one point short of the 2x threshold: no reversal.
	series := seriesFromCloses(100, 125, 101)
	renko, err := NewRenkoBuilder(BrickSizeLimits{}).Build(series, fixedPolicy(10))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(renko.Bricks) != 2 {
		t.Fatalf("bricks = %d, want 2 (no reversal under 2x threshold)", len(renko.Bricks))
	}

	// Exactly 20 points of adverse movement emits the reversal brick.
	series = seriesFromCloses(100, 125, 100)
	renko, err = NewRenkoBuilder(BrickSizeLimits{}).Build(series, fixedPolicy(10))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(renko.Bricks) != 3 {
		t.Fatalf("bricks = %d, want 3", len(renko.Bricks))
	}
	rev := renko.Bricks[2]
	if rev.Direction != models.DirectionDown || !rev.Open.Equal(decimal.NewFromInt(120)) || !rev.Close.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("reversal brick = %+v", rev)
	}
}

func TestBuildReversalConsumesGatingUnit(t *testing.T) {
	// A 25-point drop from the 120 reference spends 20 points on the
	// reversal brick; the 5-point residual is short of another brick, so
	// the candle yields exactly one down brick.
	series := seriesFromCloses(100, 125, 95)
	renko, err := NewRenkoBuilder(BrickSizeLimits{}).Build(series, fixedPolicy(10))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(renko.Bricks) != 3 {
		t.Fatalf("bricks = %d, want 3 (gating unit must not be re-spent): %+v", len(renko.Bricks), renko.Bricks)
	}
	last := renko.Bricks[2]
	if last.Direction != models.DirectionDown || !last.Open.Equal(decimal.NewFromInt(120)) || !last.Close.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("reversal brick = %+v", last)
	}

	// A 30-point drop covers the 2x gate plus one full unit: two bricks.
	series = seriesFromCloses(100, 125, 90)
	renko, err = NewRenkoBuilder(BrickSizeLimits{}).Build(series, fixedPolicy(10))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(renko.Bricks) != 4 {
		t.Fatalf("bricks = %d, want 4: %+v", len(renko.Bricks), renko.Bricks)
	}
	if !renko.Bricks[3].Close.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("continuation brick = %+v", renko.Bricks[3])
	}
}

func TestBuildExactBoundaryEmits(t *testing.T) {
	series := seriesFromCloses(100, 110)
	renko, err := NewRenkoBuilder(BrickSizeLimits{}).Build(series, fixedPolicy(10))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(renko.Bricks) != 1 {
		t.Fatalf("bricks = %d, want 1 (boundary tie emits)", len(renko.Bricks))
	}

	series = seriesFromCloses(100, 109)
	renko, err = NewRenkoBuilder(BrickSizeLimits{}).Build(series, fixedPolicy(10))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(renko.Bricks) != 0 {
		t.Fatalf("bricks = %d, want 0", len(renko.Bricks))
	}
}

func TestBuildTooShort(t *testing.T) {
	_, err := NewRenkoBuilder(BrickSizeLimits{}).Build(seriesFromCloses(100), fixedPolicy(10))
	if !models.IsInsufficientData(err) {
		t.Fatalf("err = %v, want InsufficientData", err)
	}
}

func TestBuildATRStaticSkipsSeedWindow(t *testing.T) {
	// Seed window candles must not source bricks: append a strong move
	// after the warm-up and check the first brick's source range.
	series := alternatingTRSeries(20)
	jump := series.Candles[19]
	jump.Close = decimal.NewFromInt(200)
	jump.High = decimal.NewFromInt(205)
	series.Candles[19] = jump

	policy := models.ATRBrickSize{Period: 14, Multiplier: decimal.NewFromInt(1), Recompute: models.RecomputeStatic}
	renko, err := NewRenkoBuilder(BrickSizeLimits{}).Build(series, policy)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(renko.Bricks) == 0 {
		t.Fatal("expected bricks after the warm-up jump")
	}
	warmupEnd := series.Candles[13].OpenTime
	for _, b := range renko.Bricks {
		if b.SourceStart.Before(warmupEnd) {
			t.Fatalf("brick %d sources from the seed window: %s", b.Index, b.SourceStart)
		}
	}
}

func TestBuildATRConstantSeriesEmitsNothing(t *testing.T) {
	policy := models.ATRBrickSize{Period: 14, Recompute: models.RecomputeStatic}
	renko, err := NewRenkoBuilder(BrickSizeLimits{}).Build(constantSeries(60, 100), policy)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(renko.Bricks) != 0 {
		t.Fatalf("bricks = %d, want 0 for zero ATR", len(renko.Bricks))
	}

	// A min clamp keeps the size positive but constant prices still move
	// nowhere, so emission stays at zero while the clamp is observable.
	limits := BrickSizeLimits{Min: decimal.NewFromInt(5)}
	renko, err = NewRenkoBuilder(limits).Build(constantSeries(60, 100), policy)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(renko.Bricks) != 0 || !renko.Clamped {
		t.Fatalf("bricks = %d clamped = %v, want 0/true", len(renko.Bricks), renko.Clamped)
	}
}

func TestBuildATRInsufficientData(t *testing.T) {
	policy := models.ATRBrickSize{Period: 14, Recompute: models.RecomputeRolling}
	_, err := NewRenkoBuilder(BrickSizeLimits{}).Build(alternatingTRSeries(14), policy)
	if !models.IsInsufficientData(err) {
		t.Fatalf("err = %v, want InsufficientData", err)
	}
}

func TestBuildATRRollingChains(t *testing.T) {
	series := alternatingTRSeries(40)
	// Trend the closes upward so bricks actually emit.
	for i := range series.Candles {
		shift := decimal.NewFromInt(int64(i * 8))
		series.Candles[i].Open = series.Candles[i].Open.Add(shift)
		series.Candles[i].High = series.Candles[i].High.Add(shift)
		series.Candles[i].Low = series.Candles[i].Low.Add(shift)
		series.Candles[i].Close = series.Candles[i].Close.Add(shift)
	}
	policy := models.ATRBrickSize{Period: 14, Recompute: models.RecomputeRolling}
	renko, err := NewRenkoBuilder(BrickSizeLimits{}).Build(series, policy)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(renko.Bricks) == 0 {
		t.Fatal("expected bricks from trending series")
	}
	for i := 1; i < len(renko.Bricks); i++ {
		if renko.Bricks[i].Direction == renko.Bricks[i-1].Direction &&
			!renko.Bricks[i].Open.Equal(renko.Bricks[i-1].Close) {
			t.Fatalf("brick %d does not chain: %+v after %+v", i, renko.Bricks[i], renko.Bricks[i-1])
		}
	}
	if !renko.BrickSize.IsPositive() {
		t.Fatalf("final brick size = %s", renko.BrickSize)
	}
}

func TestBuildFixedDeterministic(t *testing.T) {
	series := seriesFromCloses(100, 131, 92, 117, 83, 140)
	builder := NewRenkoBuilder(BrickSizeLimits{})
	first, err := builder.Build(series, fixedPolicy(7))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	second, err := builder.Build(series, fixedPolicy(7))
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if len(first.Bricks) != len(second.Bricks) {
		t.Fatalf("brick counts differ: %d vs %d", len(first.Bricks), len(second.Bricks))
	}
	for i := range first.Bricks {
		a, b := first.Bricks[i], second.Bricks[i]
		if !a.Open.Equal(b.Open) || !a.Close.Equal(b.Close) || a.Direction != b.Direction {
			t.Fatalf("brick %d differs between runs", i)
		}
	}
}

func TestBuildATRNonPositivePeriod(t *testing.T) {
	for _, mode := range []models.RecomputeMode{models.RecomputeStatic, models.RecomputeRolling} {
		policy := models.ATRBrickSize{Period: 0, Recompute: mode}
		_, err := NewRenkoBuilder(BrickSizeLimits{}).Build(seriesFromCloses(100, 110, 120), policy)
		var ce *models.ConfigError
		if !errors.As(err, &ce) {
			t.Fatalf("%s: err = %v, want ConfigError", mode, err)
		}
	}
}

func TestBuildUnknownPolicy(t *testing.T) {
	var bad models.BrickSizePolicy
	_, err := NewRenkoBuilder(BrickSizeLimits{}).Build(seriesFromCloses(100, 110), bad)
	var ce *models.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
}
